package handlers_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BradenHooton/carelink/internal/auth"
	"github.com/BradenHooton/carelink/internal/handlers"
	"github.com/BradenHooton/carelink/internal/models"
	"github.com/BradenHooton/carelink/internal/services"
	pkgauth "github.com/BradenHooton/carelink/pkg/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAuthHandler(svc handlers.AuthServiceInterface) *handlers.AuthHandler {
	return handlers.NewAuthHandler(svc, handlers.SessionConfig{
		AccessTTL:  15 * time.Minute,
		RefreshTTL: time.Hour,
	}, handlers.TestLogger())
}

func sessionResponse() *services.AuthResponse {
	return &services.AuthResponse{
		AccessToken:  "access_token_123",
		RefreshToken: "refresh_token_123",
		User:         &services.UserResponse{ID: "u1", Email: "user@example.com", Role: models.RoleCaregiver},
	}
}

func cookieValues(w *httptest.ResponseRecorder) map[string]*http.Cookie {
	out := map[string]*http.Cookie{}
	for _, c := range w.Result().Cookies() {
		out[c.Name] = c
	}
	return out
}

func TestSignIn_Success(t *testing.T) {
	h := newAuthHandler(&handlers.MockAuthService{
		LoginFunc: func(ctx context.Context, email, password string) (*services.AuthResponse, error) {
			return sessionResponse(), nil
		},
	})

	w := httptest.NewRecorder()
	h.SignIn(w, handlers.NewTestRequest(t, "POST", "/auth/signin", handlers.SignInRequest{Email: "user@example.com", Password: "SecureP@ss123"}))

	var resp services.AuthResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Equal(t, "access_token_123", resp.AccessToken)

	cookies := cookieValues(w)
	require.Contains(t, cookies, auth.SessionCookieName)
	require.Contains(t, cookies, auth.RefreshCookieName)
	assert.True(t, cookies[auth.SessionCookieName].HttpOnly)
	assert.Equal(t, "/auth", cookies[auth.RefreshCookieName].Path)
}

func TestSignIn_Failures(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"bad credentials", models.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
		{"suspended looks like bad credentials", models.ErrAccountSuspended, http.StatusUnauthorized, "unauthorized"},
		{"unverified", models.ErrEmailNotVerified, http.StatusForbidden, "forbidden"},
		{"internal", models.ErrInternalServer, http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newAuthHandler(&handlers.MockAuthService{
				LoginFunc: func(ctx context.Context, email, password string) (*services.AuthResponse, error) {
					return nil, tt.err
				},
			})

			w := httptest.NewRecorder()
			h.SignIn(w, handlers.NewTestRequest(t, "POST", "/auth/signin", handlers.SignInRequest{Email: "user@example.com", Password: "x"}))

			handlers.AssertErrorResponse(t, w, tt.status, tt.code)
			assert.Empty(t, w.Result().Cookies())
		})
	}
}

func TestSignIn_Validation(t *testing.T) {
	h := newAuthHandler(&handlers.MockAuthService{})

	w := httptest.NewRecorder()
	h.SignIn(w, handlers.NewTestRequest(t, "POST", "/auth/signin", handlers.SignInRequest{Email: "not-an-email", Password: "x"}))

	handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "bad_request")
	assert.Contains(t, w.Body.String(), "email")
}

func TestRequestSignupCode(t *testing.T) {
	h := newAuthHandler(&handlers.MockAuthService{
		RequestSignupCodeFunc: func(ctx context.Context, email string) (*models.OTPResult, error) {
			return nil, models.NewOTPError(models.ErrOTPRateLimited, "Please wait before requesting another code.")
		},
	})

	w := httptest.NewRecorder()
	h.RequestSignupCode(w, handlers.NewTestRequest(t, "POST", "/auth/signup/request", handlers.EmailRequest{Email: "a@example.com"}))

	handlers.AssertOTPResponse(t, w, http.StatusTooManyRequests, false)
}

func TestCompleteSignup_Success(t *testing.T) {
	var got services.SignupInput
	h := newAuthHandler(&handlers.MockAuthService{
		CompleteSignupFunc: func(ctx context.Context, in services.SignupInput) (*services.AuthResponse, error) {
			got = in
			return sessionResponse(), nil
		},
	})

	w := httptest.NewRecorder()
	h.CompleteSignup(w, handlers.NewTestRequest(t, "POST", "/auth/signup/complete", handlers.CompleteSignupRequest{
		Email: "a@example.com", Code: "123456", Password: "SecureP@ss123", Name: "Ann", Role: "employer",
	}))

	handlers.AssertJSONResponse(t, w, http.StatusCreated, nil)
	assert.Equal(t, "employer", got.Role)
	assert.Contains(t, cookieValues(w), auth.SessionCookieName)
}

func TestCompleteSignup_RejectsPrivilegedRole(t *testing.T) {
	h := newAuthHandler(&handlers.MockAuthService{})

	w := httptest.NewRecorder()
	h.CompleteSignup(w, handlers.NewTestRequest(t, "POST", "/auth/signup/complete", handlers.CompleteSignupRequest{
		Email: "a@example.com", Code: "123456", Password: "SecureP@ss123", Name: "Ann", Role: "admin",
	}))

	handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "bad_request")
}

func TestCompleteSignup_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"bad code", models.NewOTPError(models.ErrOTPInvalidOrExpired, "Invalid or expired code."), http.StatusBadRequest},
		{"weak password", &pkgauth.PasswordValidationError{Errors: []string{"too short"}}, http.StatusBadRequest},
		{"duplicate", models.ErrConflict, http.StatusConflict},
		{"internal", models.ErrInternalServer, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newAuthHandler(&handlers.MockAuthService{
				CompleteSignupFunc: func(ctx context.Context, in services.SignupInput) (*services.AuthResponse, error) {
					return nil, tt.err
				},
			})

			w := httptest.NewRecorder()
			h.CompleteSignup(w, handlers.NewTestRequest(t, "POST", "/auth/signup/complete", handlers.CompleteSignupRequest{
				Email: "a@example.com", Code: "123456", Password: "SecureP@ss123", Name: "Ann",
			}))

			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestForgotPassword_GenericAnswer(t *testing.T) {
	h := newAuthHandler(&handlers.MockAuthService{})

	w := httptest.NewRecorder()
	h.ForgotPassword(w, handlers.NewTestRequest(t, "POST", "/auth/password/forgot", handlers.EmailRequest{Email: "ghost@example.com"}))

	result := handlers.AssertOTPResponse(t, w, http.StatusOK, true)
	assert.Contains(t, result.Message, "If an account exists")
}

func TestResetPassword(t *testing.T) {
	t.Run("success clears cookies", func(t *testing.T) {
		h := newAuthHandler(&handlers.MockAuthService{})

		w := httptest.NewRecorder()
		h.ResetPassword(w, handlers.NewTestRequest(t, "POST", "/auth/password/reset", handlers.ResetPasswordRequest{
			Email: "a@example.com", Code: "123456", NewPassword: "N3w-Passw0rd!",
		}))

		handlers.AssertOTPResponse(t, w, http.StatusOK, true)
		cookies := cookieValues(w)
		require.Contains(t, cookies, auth.SessionCookieName)
		assert.Equal(t, -1, cookies[auth.SessionCookieName].MaxAge)
	})

	t.Run("too many attempts", func(t *testing.T) {
		h := newAuthHandler(&handlers.MockAuthService{
			ResetPasswordFunc: func(ctx context.Context, email, code, newPassword string) error {
				return models.NewOTPError(models.ErrOTPTooManyAttempts, "Too many attempts.")
			},
		})

		w := httptest.NewRecorder()
		h.ResetPassword(w, handlers.NewTestRequest(t, "POST", "/auth/password/reset", handlers.ResetPasswordRequest{
			Email: "a@example.com", Code: "123456", NewPassword: "N3w-Passw0rd!",
		}))

		handlers.AssertOTPResponse(t, w, http.StatusTooManyRequests, false)
	})
}

func TestRefreshToken_FromCookie(t *testing.T) {
	var got string
	h := newAuthHandler(&handlers.MockAuthService{
		RefreshTokenFunc: func(ctx context.Context, refreshToken string) (*services.AuthResponse, error) {
			got = refreshToken
			return sessionResponse(), nil
		},
	})

	req := httptest.NewRequest("POST", "/auth/refresh", nil)
	req.AddCookie(&http.Cookie{Name: auth.RefreshCookieName, Value: "cookie_refresh"})
	w := httptest.NewRecorder()
	h.RefreshToken(w, req)

	handlers.AssertJSONResponse(t, w, http.StatusOK, nil)
	assert.Equal(t, "cookie_refresh", got)
}

func TestRefreshToken_Missing(t *testing.T) {
	h := newAuthHandler(&handlers.MockAuthService{})

	w := httptest.NewRecorder()
	h.RefreshToken(w, httptest.NewRequest("POST", "/auth/refresh", nil))

	handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "bad_request")
}

func TestRefreshToken_Rejected(t *testing.T) {
	h := newAuthHandler(&handlers.MockAuthService{})

	w := httptest.NewRecorder()
	h.RefreshToken(w, handlers.NewTestRequest(t, "POST", "/auth/refresh", handlers.RefreshTokenRequest{RefreshToken: "stale"}))

	handlers.AssertErrorResponse(t, w, http.StatusUnauthorized, "unauthorized")
}

func TestLogout(t *testing.T) {
	var gotAccess, gotRefresh string
	h := newAuthHandler(&handlers.MockAuthService{
		LogoutFunc: func(ctx context.Context, accessToken, refreshToken string) error {
			gotAccess, gotRefresh = accessToken, refreshToken
			return nil
		},
	})

	req := httptest.NewRequest("POST", "/auth/logout", nil)
	req.Header.Set("Authorization", "Bearer access_abc")
	req.AddCookie(&http.Cookie{Name: auth.RefreshCookieName, Value: "refresh_abc"})
	req = handlers.WithAuthContext(req, "u1", models.RoleCaregiver)

	w := httptest.NewRecorder()
	h.Logout(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "access_abc", gotAccess)
	assert.Equal(t, "refresh_abc", gotRefresh)
}

func TestLogout_NoClaims(t *testing.T) {
	h := newAuthHandler(&handlers.MockAuthService{})

	w := httptest.NewRecorder()
	h.Logout(w, httptest.NewRequest("POST", "/auth/logout", nil))

	handlers.AssertErrorResponse(t, w, http.StatusUnauthorized, "unauthorized")
}

func TestLogoutAll(t *testing.T) {
	var got string
	h := newAuthHandler(&handlers.MockAuthService{
		LogoutAllFunc: func(ctx context.Context, userID string) error {
			got = userID
			return nil
		},
	})

	req := handlers.WithAuthContext(httptest.NewRequest("POST", "/auth/logout-all", nil), "u1", models.RoleEmployer)
	w := httptest.NewRecorder()
	h.LogoutAll(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "u1", got)
}
