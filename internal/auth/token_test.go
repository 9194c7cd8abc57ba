package auth

import (
	"context"
	"testing"
	"time"

	"github.com/BradenHooton/carelink/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenManager_RoundTrip(t *testing.T) {
	user := testUser(models.RoleStaff)
	tm := newTestTokenManager(user)

	access, err := tm.GenerateAccessToken(user)
	require.NoError(t, err)

	claims, err := tm.ValidateToken(context.Background(), access)
	require.NoError(t, err)
	assert.Equal(t, models.TokenTypeAccess, claims.Type)
	assert.Equal(t, user.ID, claims.UserID)
	assert.Equal(t, user.Email, claims.Email)
	assert.Equal(t, models.RoleStaff, claims.Role)
	assert.NotEmpty(t, claims.ID)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), claims.ExpiresAt.Time, 5*time.Second)

	refresh, err := tm.GenerateRefreshToken(user)
	require.NoError(t, err)
	claims, err = tm.ValidateToken(context.Background(), refresh)
	require.NoError(t, err)
	assert.Equal(t, models.TokenTypeRefresh, claims.Type)
}

func TestTokenManager_RotatedKeyInvalidatesTokens(t *testing.T) {
	user := testUser(models.RoleCaregiver)
	tm := newTestTokenManager(user)

	token, err := tm.GenerateAccessToken(user)
	require.NoError(t, err)

	user.TokenKey = "rotated"

	_, err = tm.ValidateToken(context.Background(), token)
	assert.Error(t, err)
}

func TestTokenManager_UnknownUser(t *testing.T) {
	user := testUser(models.RoleCaregiver)
	issuer := newTestTokenManager(user)
	token, err := issuer.GenerateAccessToken(user)
	require.NoError(t, err)

	validator := newTestTokenManager()
	_, err = validator.ValidateToken(context.Background(), token)
	assert.Error(t, err)
}

func TestTokenManager_Expired(t *testing.T) {
	user := testUser(models.RoleCaregiver)
	tm := NewTokenManager(testSecret, -time.Minute, time.Hour)
	tm.SetUserRepo(stubUsers{user.ID: user})

	token, err := tm.GenerateAccessToken(user)
	require.NoError(t, err)

	_, err = tm.ValidateToken(context.Background(), token)
	assert.Error(t, err)
}

func TestTokenManager_WrongSecret(t *testing.T) {
	user := testUser(models.RoleAdmin)
	tm := newTestTokenManager(user)
	token, err := tm.GenerateAccessToken(user)
	require.NoError(t, err)

	other := NewTokenManager("a-completely-different-secret-value", time.Minute, time.Hour)
	other.SetUserRepo(stubUsers{user.ID: user})

	_, err = other.ValidateToken(context.Background(), token)
	assert.Error(t, err)
}
