package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/BradenHooton/carelink/internal/auth"
	"github.com/BradenHooton/carelink/internal/models"
	"github.com/BradenHooton/carelink/internal/services"
	pkgauth "github.com/BradenHooton/carelink/pkg/auth"
	pkghttp "github.com/BradenHooton/carelink/pkg/http"
	"github.com/go-chi/chi/v5"
)

// AdminServiceInterface defines the dashboard service contract.
type AdminServiceInterface interface {
	GetDashboardStats(ctx context.Context) (*services.DashboardStatsResponse, error)
}

// UserAdminService is the user management surface used by administrators.
type UserAdminService interface {
	CreateUser(ctx context.Context, email, name, password, role string) (*models.User, error)
	UpdateUser(ctx context.Context, id string, update services.UserUpdate) (*models.User, error)
	DeleteUser(ctx context.Context, id string) error
}

// AdminHandler handles admin dashboard and user management requests.
type AdminHandler struct {
	stats  AdminServiceInterface
	users  UserAdminService
	logger *slog.Logger
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(stats AdminServiceInterface, users UserAdminService, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{stats: stats, users: users, logger: logger}
}

type CreateUserRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Name     string `json:"name" validate:"required,max=100"`
	Password string `json:"password" validate:"required"`
	Role     string `json:"role" validate:"required,oneof=caregiver employer staff admin"`
}

type UpdateUserRequest struct {
	Name   *string `json:"name" validate:"omitempty,min=1,max=100"`
	Role   *string `json:"role" validate:"omitempty,oneof=caregiver employer staff admin"`
	Status *string `json:"status" validate:"omitempty,oneof=active suspended disabled"`
}

// GetDashboardStats handles GET /admin/dashboard/stats
func (h *AdminHandler) GetDashboardStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.stats.GetDashboardStats(r.Context())
	if err != nil {
		pkghttp.WriteInternalError(w, "Failed to retrieve dashboard stats")
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, stats)
}

// CreateUser handles POST /admin/users. It is the only way to create staff
// and admin accounts.
func (h *AdminHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := pkghttp.DecodeJSON(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	user, err := h.users.CreateUser(r.Context(), req.Email, req.Name, req.Password, req.Role)
	if err != nil {
		var pwErr *pkgauth.PasswordValidationError
		switch {
		case errors.As(err, &pwErr):
			pkghttp.WriteBadRequest(w, "Password does not meet requirements")
		case errors.Is(err, models.ErrConflict):
			pkghttp.WriteConflict(w, "An account with this email already exists")
		case errors.Is(err, models.ErrBadRequest), errors.Is(err, models.ErrInvalidRole):
			pkghttp.WriteBadRequest(w, "Invalid request")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	h.logger.Info("admin created user",
		slog.String("admin_id", adminID(r)),
		slog.String("user_id", user.ID),
		slog.String("role", user.Role))
	pkghttp.WriteJSON(w, http.StatusCreated, services.NewUserResponse(user))
}

// UpdateUser handles PATCH /admin/users/{id}
func (h *AdminHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		pkghttp.WriteBadRequest(w, "User ID is required")
		return
	}

	var req UpdateUserRequest
	if err := pkghttp.DecodeJSON(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	// An admin cannot lock themselves out
	if id == adminID(r) && (req.Role != nil || req.Status != nil) {
		pkghttp.WriteBadRequest(w, "You cannot change your own role or status")
		return
	}

	user, err := h.users.UpdateUser(r.Context(), id, services.UserUpdate{
		Name:   req.Name,
		Role:   req.Role,
		Status: req.Status,
	})
	if err != nil {
		switch {
		case errors.Is(err, models.ErrNotFound):
			pkghttp.WriteNotFound(w, "User not found")
		case errors.Is(err, models.ErrBadRequest), errors.Is(err, models.ErrInvalidRole):
			pkghttp.WriteBadRequest(w, "Invalid request")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	h.logger.Info("admin updated user",
		slog.String("admin_id", adminID(r)),
		slog.String("user_id", user.ID))
	pkghttp.WriteJSON(w, http.StatusOK, services.NewUserResponse(user))
}

// DeleteUser handles DELETE /admin/users/{id}
func (h *AdminHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		pkghttp.WriteBadRequest(w, "User ID is required")
		return
	}
	if id == adminID(r) {
		pkghttp.WriteBadRequest(w, "You cannot delete your own account")
		return
	}

	if err := h.users.DeleteUser(r.Context(), id); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteNotFound(w, "User not found")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	h.logger.Info("admin deleted user",
		slog.String("admin_id", adminID(r)),
		slog.String("user_id", id))
	w.WriteHeader(http.StatusNoContent)
}

func adminID(r *http.Request) string {
	if claims := auth.GetUserFromContext(r); claims != nil {
		return claims.UserID
	}
	return ""
}
