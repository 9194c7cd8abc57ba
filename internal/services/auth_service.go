package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BradenHooton/carelink/internal/auth"
	"github.com/BradenHooton/carelink/internal/metrics"
	"github.com/BradenHooton/carelink/internal/models"
	pkgauth "github.com/BradenHooton/carelink/pkg/auth"
	pkglogger "github.com/BradenHooton/carelink/pkg/logger"
)

// TokenRevocationRepository defines the interface for token revocation operations
type TokenRevocationRepository interface {
	RevokeToken(ctx context.Context, jti, userID, tokenType string, expiresAt time.Time, reason string) error
	IsTokenRevoked(ctx context.Context, jti string) (bool, error)
}

// CodeService is the one-time code surface used by the signup and password
// reset flows.
type CodeService interface {
	Issue(ctx context.Context, email string, purpose models.OTPPurpose) (*models.OTPResult, error)
	Verify(ctx context.Context, email, code string) (*models.OTPResult, error)
}

// AuthService handles signup, password reset and session business logic
type AuthService struct {
	repo        UserRepository
	revokeRepo  TokenRevocationRepository
	codes       CodeService
	tm          *auth.TokenManager
	delay       FailureDelayer
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
}

// NewAuthService creates a new AuthService
func NewAuthService(repo UserRepository, revokeRepo TokenRevocationRepository, codes CodeService, tm *auth.TokenManager, logger *slog.Logger, auditLogger *pkglogger.AuditLogger) *AuthService {
	return &AuthService{
		repo:        repo,
		revokeRepo:  revokeRepo,
		codes:       codes,
		tm:          tm,
		logger:      logger,
		auditLogger: auditLogger,
	}
}

// SetFailureDelay pads failed logins with d.
func (s *AuthService) SetFailureDelay(d FailureDelayer) {
	s.delay = d
}

// UserResponse represents a user in the HTTP response
type UserResponse struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	Name          string `json:"name"`
	EmailVerified bool   `json:"email_verified"`
	Role          string `json:"role"`
	Status        string `json:"status"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

// AuthResponse represents the response from auth operations
type AuthResponse struct {
	AccessToken  string        `json:"access_token"`
	RefreshToken string        `json:"refresh_token"`
	User         *UserResponse `json:"user"`
}

// SignupInput carries the second step of signup.
type SignupInput struct {
	Email    string
	Code     string
	Password string
	Name     string
	Role     string
}

const resetRequestedMessage = "If an account exists for this email, a reset code has been sent."

// RequestSignupCode sends a verification code to an email that has no
// account yet. Existing accounts get the same answer without a send.
func (s *AuthService) RequestSignupCode(ctx context.Context, email string) (*models.OTPResult, error) {
	email = models.NormalizeEmail(email)

	_, err := s.repo.GetByEmail(ctx, email)
	switch {
	case err == nil:
		s.logger.Info("signup code requested for existing account", slog.String("email", pkglogger.SanitizedEmail(email)))
		return &models.OTPResult{Success: true, Message: "Verification code sent to your email."}, nil
	case !errors.Is(err, models.ErrNotFound):
		return nil, fmt.Errorf("failed to look up account: %w", err)
	}

	return s.codes.Issue(ctx, email, models.OTPPurposeVerify)
}

// CompleteSignup verifies the emailed code and creates a caregiver or
// employer account with a verified email.
func (s *AuthService) CompleteSignup(ctx context.Context, in SignupInput) (*AuthResponse, error) {
	email := models.NormalizeEmail(in.Email)
	name := strings.TrimSpace(in.Name)
	role := in.Role
	if role == "" {
		role = models.RoleCaregiver
	}

	resp, err := s.completeSignup(ctx, email, name, role, in)
	result := "success"
	if err != nil {
		result = "failure"
	}
	metrics.AuthSignupsTotal.WithLabelValues(role, result).Inc()
	return resp, err
}

func (s *AuthService) completeSignup(ctx context.Context, email, name, role string, in SignupInput) (*AuthResponse, error) {
	if !models.IsSelfServiceRole(role) {
		return nil, models.ErrInvalidRole
	}
	if name == "" {
		return nil, fmt.Errorf("name is required: %w", models.ErrBadRequest)
	}
	// Check the password before the code so a rejected password does not burn it
	if err := pkgauth.ValidatePassword(in.Password); err != nil {
		return nil, err
	}

	if _, err := s.codes.Verify(ctx, email, in.Code); err != nil {
		return nil, err
	}

	hashedPassword, err := pkgauth.HashPassword(in.Password)
	if err != nil {
		s.logger.Error("failed to hash password", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	now := time.Now()
	user, err := s.repo.Create(ctx, &models.User{
		Email:             email,
		Name:              name,
		PasswordHash:      hashedPassword,
		Role:              role,
		EmailVerified:     true,
		PasswordChangedAt: &now,
	})
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			return nil, models.ErrConflict
		}
		s.logger.Error("failed to create user", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.Info("user registered", slog.String("user_id", user.ID), slog.String("role", role))
	s.auditLogger.LogAccountAction("user_registered", user.ID, "", map[string]string{"role": role})

	return s.issueTokens(user)
}

// RequestPasswordReset sends a reset code when the account exists. Unknown
// emails get the same answer without a send.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string) (*models.OTPResult, error) {
	email = models.NormalizeEmail(email)
	if !isValidEmail(email) {
		return nil, models.NewOTPError(models.ErrOTPInvalidInput, "Please enter a valid email address.")
	}

	if _, err := s.repo.GetByEmail(ctx, email); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.logger.Info("password reset requested for unknown email")
			return &models.OTPResult{Success: true, Message: resetRequestedMessage}, nil
		}
		return nil, fmt.Errorf("failed to look up account: %w", err)
	}

	result, err := s.codes.Issue(ctx, email, models.OTPPurposeReset)
	if err != nil {
		return nil, err
	}

	return &models.OTPResult{Success: true, Message: resetRequestedMessage, DevCode: result.DevCode}, nil
}

// ResetPassword verifies the emailed code and replaces the password. The
// repository rotates the token key, ending every existing session.
func (s *AuthService) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	email = models.NormalizeEmail(email)

	if err := pkgauth.ValidatePassword(newPassword); err != nil {
		return err
	}

	if _, err := s.codes.Verify(ctx, email, code); err != nil {
		return err
	}

	user, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			// A signup code for an email that never completed signup
			return models.NewOTPError(models.ErrOTPInvalidOrExpired, "Invalid or expired code.")
		}
		return fmt.Errorf("failed to look up account: %w", err)
	}

	hashedPassword, err := pkgauth.HashPassword(newPassword)
	if err != nil {
		s.logger.Error("failed to hash password", slog.Any("error", err))
		return models.ErrInternalServer
	}

	if err := s.repo.UpdatePassword(ctx, user.ID, hashedPassword); err != nil {
		s.logger.Error("failed to update password", slog.String("user_id", user.ID), slog.Any("error", err))
		s.auditLogger.LogPasswordChange(user.ID, "", false)
		return models.ErrInternalServer
	}

	s.logger.Info("password reset", slog.String("user_id", user.ID))
	s.auditLogger.LogPasswordChange(user.ID, "", true)
	return nil
}

// Login authenticates a user and returns tokens
func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthResponse, error) {
	start := time.Now()

	resp, err := s.login(ctx, models.NormalizeEmail(email), password)
	if err != nil {
		metrics.AuthLoginsTotal.WithLabelValues("failure").Inc()
		if s.delay != nil {
			s.delay.WaitFrom(ctx, start, false)
		}
		return nil, err
	}

	metrics.AuthLoginsTotal.WithLabelValues("success").Inc()
	return resp, nil
}

func (s *AuthService) login(ctx context.Context, email, password string) (*AuthResponse, error) {
	if email == "" {
		return nil, models.ErrUnauthorized
	}

	user, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.logger.Info("login failed: invalid credentials")
			s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
				EventType:     "login_failed",
				FailureReason: "invalid_credentials",
			})
			return nil, models.ErrUnauthorized
		}
		s.logger.Error("failed to get user by email", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if err := pkgauth.ComparePassword(user.PasswordHash, password); err != nil {
		s.logger.Info("login failed: invalid credentials")
		s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:     "login_failed",
			UserID:        user.ID,
			FailureReason: "invalid_credentials",
		})
		return nil, models.ErrUnauthorized
	}

	// Account state is checked after the password so it is only revealed to the owner
	if err := validateAccountState(user); err != nil {
		s.logger.Info("login blocked due to account state",
			slog.String("user_id", user.ID),
			slog.String("status", user.Status))
		s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:     "login_failed",
			UserID:        user.ID,
			FailureReason: "account_blocked",
		})
		return nil, err
	}

	if !user.EmailVerified {
		return nil, models.ErrEmailNotVerified
	}

	s.logger.Info("user logged in", slog.String("user_id", user.ID))
	s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
		EventType: "login_success",
		UserID:    user.ID,
		Success:   true,
	})

	return s.issueTokens(user)
}

// RefreshToken rotates a refresh token into a new token pair
func (s *AuthService) RefreshToken(ctx context.Context, refreshTokenString string) (*AuthResponse, error) {
	if refreshTokenString = strings.TrimSpace(refreshTokenString); refreshTokenString == "" {
		return nil, models.ErrUnauthorized
	}

	claims, err := s.tm.ValidateToken(ctx, refreshTokenString)
	if err != nil {
		s.logger.Info("refresh token validation failed", slog.Any("error", err))
		return nil, models.ErrUnauthorized
	}

	if claims.Type != models.TokenTypeRefresh {
		s.logger.Warn("refresh attempt with non-refresh token", slog.String("user_id", claims.UserID))
		return nil, models.ErrUnauthorized
	}

	revoked, err := s.revokeRepo.IsTokenRevoked(ctx, claims.ID)
	if err != nil {
		s.logger.Error("failed to check refresh token revocation", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	if revoked {
		s.logger.Warn("revoked refresh token presented", slog.String("user_id", claims.UserID))
		return nil, models.ErrUnauthorized
	}

	user, err := s.repo.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrUnauthorized
		}
		s.logger.Error("failed to get user for token refresh", slog.String("user_id", claims.UserID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if err := validateAccountState(user); err != nil {
		s.logger.Info("token refresh blocked due to account state",
			slog.String("user_id", user.ID),
			slog.String("status", user.Status))
		return nil, models.ErrUnauthorized
	}

	if err := s.revokeRepo.RevokeToken(ctx, claims.ID, claims.UserID, claims.Type, claims.ExpiresAt.Time, "rotated"); err != nil {
		s.logger.Error("failed to revoke rotated refresh token", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.Info("token refreshed", slog.String("user_id", user.ID))
	return s.issueTokens(user)
}

// Logout revokes the access token and, when given, the refresh token
func (s *AuthService) Logout(ctx context.Context, accessToken, refreshToken string) error {
	claims, err := s.tm.ValidateToken(ctx, accessToken)
	if err != nil {
		return models.ErrUnauthorized
	}

	if err := s.revokeRepo.RevokeToken(ctx, claims.ID, claims.UserID, claims.Type, claims.ExpiresAt.Time, "logout"); err != nil {
		s.logger.Error("failed to revoke token", slog.String("jti", claims.ID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	if refreshToken != "" {
		if rc, err := s.tm.ValidateToken(ctx, refreshToken); err == nil && rc.UserID == claims.UserID {
			if err := s.revokeRepo.RevokeToken(ctx, rc.ID, rc.UserID, rc.Type, rc.ExpiresAt.Time, "logout"); err != nil {
				s.logger.Warn("failed to revoke refresh token", slog.String("jti", rc.ID), slog.Any("error", err))
			}
		}
	}

	s.logger.Info("user logged out", slog.String("user_id", claims.UserID))
	return nil
}

// LogoutAll rotates the user's token key, invalidating every issued token
func (s *AuthService) LogoutAll(ctx context.Context, userID string) error {
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrUnauthorized
		}
		s.logger.Error("failed to get user", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	newTokenKey, err := pkgauth.GenerateTokenKey()
	if err != nil {
		s.logger.Error("failed to generate new token key", slog.Any("error", err))
		return models.ErrInternalServer
	}
	user.TokenKey = newTokenKey

	if _, err := s.repo.Update(ctx, userID, user); err != nil {
		s.logger.Error("failed to update token key", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.logger.Info("user logged out from all devices", slog.String("user_id", userID))
	s.auditLogger.LogAccountAction("logout_all", userID, "", nil)
	return nil
}

func (s *AuthService) issueTokens(user *models.User) (*AuthResponse, error) {
	accessToken, err := s.tm.GenerateAccessToken(user)
	if err != nil {
		s.logger.Error("failed to generate access token", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	refreshToken, err := s.tm.GenerateRefreshToken(user)
	if err != nil {
		s.logger.Error("failed to generate refresh token", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	return &AuthResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		User:         NewUserResponse(user),
	}, nil
}

// validateAccountState checks if user account is in valid state for authentication
func validateAccountState(user *models.User) error {
	switch user.Status {
	case models.StatusDisabled:
		return models.ErrAccountDisabled
	case models.StatusSuspended:
		return models.ErrAccountSuspended
	case models.StatusActive:
	default:
		return fmt.Errorf("unknown account status: %s", user.Status)
	}

	return nil
}

// NewUserResponse converts a user model to its response DTO
func NewUserResponse(user *models.User) *UserResponse {
	return &UserResponse{
		ID:            user.ID,
		Email:         user.Email,
		Name:          user.Name,
		EmailVerified: user.EmailVerified,
		Role:          user.Role,
		Status:        user.Status,
		CreatedAt:     user.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     user.UpdatedAt.Format(time.RFC3339),
	}
}
