package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/BradenHooton/carelink/internal/auth"
	"github.com/BradenHooton/carelink/internal/handlers"
	"github.com/BradenHooton/carelink/internal/middleware"
	pkghttp "github.com/BradenHooton/carelink/pkg/http"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthChecker reports whether a backing store is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Handlers groups the HTTP handlers mounted by RegisterRoutes.
type Handlers struct {
	OTP   *handlers.OTPHandler
	Auth  *handlers.AuthHandler
	Users *handlers.UserHandler
	Admin *handlers.AdminHandler
}

// Deps holds the shared infrastructure the routes need.
type Deps struct {
	TokenManager *auth.TokenManager
	Revocations  auth.TokenRevocationChecker
	Health       HealthChecker
	IP           *pkghttp.IPConfig
	SignInPath   string
	RoleAccess   auth.RoleAccess
}

// RegisterRoutes registers all application routes
func RegisterRoutes(router chi.Router, h Handlers, deps Deps) {
	access := deps.RoleAccess
	if access == nil {
		access = auth.DefaultRoleAccess
	}
	limit := middleware.RateLimitByIP(middleware.DefaultAuthRateLimit(deps.IP))
	requireAuth := auth.AuthMiddlewareWithRevocation(deps.TokenManager, deps.Revocations, auth.RevocationConfig{FailClosed: true})

	router.Get("/health", healthHandler(deps.Health))
	router.Handle("/metrics", promhttp.Handler())

	// Public auth endpoints, limited per client IP
	router.Group(func(r chi.Router) {
		r.Use(limit)

		r.Post("/auth/otp/send", h.OTP.Send)
		r.Post("/auth/otp/verify", h.OTP.Verify)
		r.Post("/auth/signup/request", h.Auth.RequestSignupCode)
		r.Post("/auth/signup/complete", h.Auth.CompleteSignup)
		r.Post("/auth/password/forgot", h.Auth.ForgotPassword)
		r.Post("/auth/password/reset", h.Auth.ResetPassword)
		r.Post("/auth/signin", h.Auth.SignIn)
		r.Post("/auth/refresh", h.Auth.RefreshToken)
	})

	// Any signed-in role
	router.Group(func(r chi.Router) {
		r.Use(requireAuth)

		r.Post("/auth/logout", h.Auth.Logout)
		r.Post("/auth/logout-all", h.Auth.LogoutAll)
		r.Get("/me", h.Users.Me)
	})

	// Role areas redirect to sign-in instead of answering 401/403
	router.Group(func(r chi.Router) {
		r.Use(auth.RoleGate(deps.TokenManager, deps.Revocations, access, deps.SignInPath))

		r.Route("/admin", func(r chi.Router) {
			r.Get("/dashboard/stats", h.Admin.GetDashboardStats)
			r.Get("/users", h.Users.ListUsers)
			r.Post("/users", h.Admin.CreateUser)
			r.Patch("/users/{id}", h.Admin.UpdateUser)
			r.Delete("/users/{id}", h.Admin.DeleteUser)
		})
		r.Get("/staff/users", h.Users.ListUsers)
		r.Get("/employer/profile", h.Users.Profile("employer"))
		r.Get("/caregiver/profile", h.Users.Profile("caregiver"))
	})
}

func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if checker != nil {
			if err := checker.HealthCheck(ctx); err != nil {
				pkghttp.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "database": "down"})
				return
			}
		}
		pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"status": "healthy", "database": "up"})
	}
}
