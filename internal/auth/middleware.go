package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/BradenHooton/carelink/internal/models"
	pkghttp "github.com/BradenHooton/carelink/pkg/http"
)

// contextKey is a custom type for context keys
type contextKey string

const (
	// UserContextKey is the key for storing user claims in context
	UserContextKey contextKey = "user"
)

// TokenRevocationChecker defines the interface for checking if tokens are revoked
type TokenRevocationChecker interface {
	IsTokenRevoked(ctx context.Context, jti string) (bool, error)
}

// RevocationConfig holds configuration for token revocation behavior
type RevocationConfig struct {
	FailClosed bool // If true, deny access if revocation check fails
}

// TokenFromRequest returns the bearer token from the Authorization header,
// falling back to the session cookie.
func TokenFromRequest(r *http.Request) string {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}

	if cookie, err := r.Cookie(SessionCookieName); err == nil {
		return cookie.Value
	}

	return ""
}

// authenticate validates the request's access token and its revocation state.
// It returns the claims, or the HTTP status and message to reject with.
func authenticate(r *http.Request, tm *TokenManager, checker TokenRevocationChecker, cfg RevocationConfig) (*models.TokenClaims, int, string) {
	tokenString := TokenFromRequest(r)
	if tokenString == "" {
		return nil, http.StatusUnauthorized, "missing access token"
	}

	claims, err := tm.ValidateToken(r.Context(), tokenString)
	if err != nil {
		return nil, http.StatusUnauthorized, "invalid or expired token"
	}

	// Refresh tokens are only accepted by the refresh endpoint
	if claims.Type != models.TokenTypeAccess {
		return nil, http.StatusUnauthorized, "refresh tokens cannot be used for API access"
	}

	if checker != nil && claims.ID != "" {
		revoked, err := checker.IsTokenRevoked(r.Context(), claims.ID)
		if err != nil && cfg.FailClosed {
			return nil, http.StatusServiceUnavailable, "unable to verify token status"
		}
		if revoked {
			return nil, http.StatusUnauthorized, "token has been revoked"
		}
	}

	return claims, 0, ""
}

// AuthMiddlewareWithRevocation validates JWT tokens and checks revocation status
func AuthMiddlewareWithRevocation(tm *TokenManager, revocationChecker TokenRevocationChecker, revocationConfig RevocationConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, status, message := authenticate(r, tm, revocationChecker, revocationConfig)
			if claims == nil {
				if status == http.StatusServiceUnavailable {
					pkghttp.WriteError(w, status, "service_unavailable", message)
					return
				}
				pkghttp.WriteUnauthorized(w, message)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// RequireRole rejects requests whose token role is not one of roles. Must run
// after AuthMiddlewareWithRevocation.
func RequireRole(roles ...string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := GetUserFromContext(r)
			if claims == nil {
				pkghttp.WriteUnauthorized(w, "unauthorized")
				return
			}

			for _, role := range roles {
				if claims.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}

			pkghttp.WriteForbidden(w, "insufficient permissions")
		})
	}
}

// WithClaims stores claims in ctx
func WithClaims(ctx context.Context, claims *models.TokenClaims) context.Context {
	return context.WithValue(ctx, UserContextKey, claims)
}

// GetUserFromContext extracts user claims from request context
func GetUserFromContext(r *http.Request) *models.TokenClaims {
	claims, ok := r.Context().Value(UserContextKey).(*models.TokenClaims)
	if !ok {
		return nil
	}
	return claims
}
