package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/BradenHooton/carelink/internal/auth"
	"github.com/BradenHooton/carelink/internal/models"
	"github.com/BradenHooton/carelink/internal/services"
	pkgauth "github.com/BradenHooton/carelink/pkg/auth"
	pkghttp "github.com/BradenHooton/carelink/pkg/http"
)

// AuthServiceInterface defines the interface for auth business logic
type AuthServiceInterface interface {
	RequestSignupCode(ctx context.Context, email string) (*models.OTPResult, error)
	CompleteSignup(ctx context.Context, in services.SignupInput) (*services.AuthResponse, error)
	RequestPasswordReset(ctx context.Context, email string) (*models.OTPResult, error)
	ResetPassword(ctx context.Context, email, code, newPassword string) error
	Login(ctx context.Context, email, password string) (*services.AuthResponse, error)
	RefreshToken(ctx context.Context, refreshToken string) (*services.AuthResponse, error)
	Logout(ctx context.Context, accessToken, refreshToken string) error
	LogoutAll(ctx context.Context, userID string) error
}

// SessionConfig controls the cookies set alongside token responses.
type SessionConfig struct {
	Cookies    auth.CookieConfig
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// AuthHandler handles signup, password reset and session requests
type AuthHandler struct {
	service AuthServiceInterface
	session SessionConfig
	logger  *slog.Logger
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(service AuthServiceInterface, session SessionConfig, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		service: service,
		session: session,
		logger:  logger,
	}
}

// Request DTOs

type EmailRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type CompleteSignupRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Code     string `json:"code" validate:"required"`
	Password string `json:"password" validate:"required"`
	Name     string `json:"name" validate:"required,max=100"`
	Role     string `json:"role" validate:"omitempty,oneof=caregiver employer"`
}

type ResetPasswordRequest struct {
	Email       string `json:"email" validate:"required,email"`
	Code        string `json:"code" validate:"required"`
	NewPassword string `json:"new_password" validate:"required"`
}

type SignInRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// RequestSignupCode handles POST /auth/signup/request
func (h *AuthHandler) RequestSignupCode(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if err := pkghttp.DecodeJSON(w, r, &req); err != nil {
		writeOTPFailure(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.service.RequestSignupCode(r.Context(), req.Email)
	if err != nil {
		writeOTPError(w, h.logger, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, result)
}

// CompleteSignup handles POST /auth/signup/complete
func (h *AuthHandler) CompleteSignup(w http.ResponseWriter, r *http.Request) {
	var req CompleteSignupRequest
	if err := pkghttp.DecodeJSON(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	resp, err := h.service.CompleteSignup(r.Context(), services.SignupInput{
		Email:    req.Email,
		Code:     req.Code,
		Password: req.Password,
		Name:     req.Name,
		Role:     req.Role,
	})
	if err != nil {
		h.writeAccountError(w, err)
		return
	}

	h.startSession(w, http.StatusCreated, resp)
}

// ForgotPassword handles POST /auth/password/forgot
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if err := pkghttp.DecodeJSON(w, r, &req); err != nil {
		writeOTPFailure(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.service.RequestPasswordReset(r.Context(), req.Email)
	if err != nil {
		writeOTPError(w, h.logger, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, result)
}

// ResetPassword handles POST /auth/password/reset
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := pkghttp.DecodeJSON(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.service.ResetPassword(r.Context(), req.Email, req.Code, req.NewPassword); err != nil {
		h.writeAccountError(w, err)
		return
	}

	auth.ClearSessionCookies(w, h.session.Cookies)
	pkghttp.WriteJSON(w, http.StatusOK, models.OTPResult{
		Success: true,
		Message: "Your password has been reset. Please sign in.",
	})
}

// SignIn handles POST /auth/signin
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req SignInRequest
	if err := pkghttp.DecodeJSON(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	resp, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrUnauthorized),
			errors.Is(err, models.ErrAccountDisabled),
			errors.Is(err, models.ErrAccountSuspended):
			pkghttp.WriteUnauthorized(w, "Authentication failed")
		case errors.Is(err, models.ErrEmailNotVerified):
			pkghttp.WriteForbidden(w, "Please verify your email address before signing in")
		default:
			h.logger.Error("sign in failed", slog.Any("error", err))
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	h.startSession(w, http.StatusOK, resp)
}

// RefreshToken handles POST /auth/refresh. The token comes from the body or
// the refresh cookie.
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req RefreshTokenRequest
	if r.ContentLength != 0 {
		if err := pkghttp.DecodeJSON(w, r, &req); err != nil {
			pkghttp.WriteBadRequest(w, err.Error())
			return
		}
	}
	if req.RefreshToken == "" {
		req.RefreshToken, _ = auth.GetRefreshTokenCookie(r)
	}
	if req.RefreshToken == "" {
		pkghttp.WriteBadRequest(w, "refresh token is required")
		return
	}

	resp, err := h.service.RefreshToken(r.Context(), req.RefreshToken)
	if err != nil {
		if errors.Is(err, models.ErrUnauthorized) {
			auth.ClearSessionCookies(w, h.session.Cookies)
			pkghttp.WriteUnauthorized(w, "Authentication failed")
			return
		}
		h.logger.Error("token refresh failed", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	h.startSession(w, http.StatusOK, resp)
}

// Logout handles POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil || claims.Type != models.TokenTypeAccess {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	refreshToken, _ := auth.GetRefreshTokenCookie(r)
	if err := h.service.Logout(r.Context(), auth.TokenFromRequest(r), refreshToken); err != nil {
		if errors.Is(err, models.ErrUnauthorized) {
			pkghttp.WriteUnauthorized(w, "Invalid token")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	auth.ClearSessionCookies(w, h.session.Cookies)
	w.WriteHeader(http.StatusNoContent)
}

// LogoutAll handles POST /auth/logout-all
func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	if err := h.service.LogoutAll(r.Context(), claims.UserID); err != nil {
		if errors.Is(err, models.ErrUnauthorized) {
			pkghttp.WriteUnauthorized(w, "unauthorized")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	auth.ClearSessionCookies(w, h.session.Cookies)
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) startSession(w http.ResponseWriter, status int, resp *services.AuthResponse) {
	auth.SetSessionCookies(w, resp.AccessToken, resp.RefreshToken, h.session.AccessTTL, h.session.RefreshTTL, h.session.Cookies)
	pkghttp.WriteJSON(w, status, resp)
}

// writeAccountError maps failures from the code-confirmed account flows.
func (h *AuthHandler) writeAccountError(w http.ResponseWriter, err error) {
	var otpErr *models.OTPError
	var pwErr *pkgauth.PasswordValidationError

	switch {
	case errors.As(err, &otpErr):
		writeOTPError(w, h.logger, err)
	case errors.As(err, &pwErr):
		pkghttp.WriteErrorWithDetails(w, http.StatusBadRequest, "weak_password",
			"Password does not meet requirements",
			"use 8 to 72 characters with upper and lower case letters, a digit and a symbol")
	case errors.Is(err, models.ErrInvalidRole):
		pkghttp.WriteBadRequest(w, "Role must be caregiver or employer")
	case errors.Is(err, models.ErrBadRequest):
		pkghttp.WriteBadRequest(w, "Invalid request")
	case errors.Is(err, models.ErrConflict):
		pkghttp.WriteConflict(w, "An account with this email already exists")
	default:
		h.logger.Error("account request failed", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}
