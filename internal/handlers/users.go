package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/BradenHooton/carelink/internal/auth"
	"github.com/BradenHooton/carelink/internal/models"
	"github.com/BradenHooton/carelink/internal/services"
	pkghttp "github.com/BradenHooton/carelink/pkg/http"
)

// UserService defines the interface for user business logic
type UserService interface {
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	ListUsers(ctx context.Context, role string, limit, offset int) ([]*models.User, error)
}

// UserHandler serves the signed-in user's own views
type UserHandler struct {
	service UserService
	logger  *slog.Logger
}

// NewUserHandler creates a new UserHandler
func NewUserHandler(service UserService, logger *slog.Logger) *UserHandler {
	return &UserHandler{
		service: service,
		logger:  logger,
	}
}

// ListUsersResponse represents a page of users
type ListUsersResponse struct {
	Users  []*services.UserResponse `json:"users"`
	Count  int                      `json:"count"`
	Limit  int                      `json:"limit"`
	Offset int                      `json:"offset"`
}

// ProfileResponse is returned by the role area landing endpoints
type ProfileResponse struct {
	Area string                 `json:"area"`
	User *services.UserResponse `json:"user"`
}

// Me handles GET /me
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, services.NewUserResponse(user))
}

// Profile returns a handler for a role area landing page such as
// GET /employer/profile.
func (h *UserHandler) Profile(area string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := h.currentUser(w, r)
		if !ok {
			return
		}
		pkghttp.WriteJSON(w, http.StatusOK, ProfileResponse{
			Area: area,
			User: services.NewUserResponse(user),
		})
	}
}

// ListUsers handles GET /staff/users and GET /admin/users
func (h *UserHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	limit, err := parseIntParam(query.Get("limit"), 20, 1, 100)
	if err != nil {
		pkghttp.WriteBadRequest(w, "Invalid limit parameter: "+err.Error())
		return
	}
	offset, err := parseIntParam(query.Get("offset"), 0, 0, 100000)
	if err != nil {
		pkghttp.WriteBadRequest(w, "Invalid offset parameter: "+err.Error())
		return
	}

	role := query.Get("role")
	users, err := h.service.ListUsers(r.Context(), role, limit, offset)
	if err != nil {
		if errors.Is(err, models.ErrInvalidRole) {
			pkghttp.WriteBadRequest(w, "Unknown role")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	resp := ListUsersResponse{
		Users:  make([]*services.UserResponse, len(users)),
		Count:  len(users),
		Limit:  limit,
		Offset: offset,
	}
	for i, u := range users {
		resp.Users[i] = services.NewUserResponse(u)
	}
	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

func (h *UserHandler) currentUser(w http.ResponseWriter, r *http.Request) (*models.User, bool) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return nil, false
	}

	user, err := h.service.GetUserByID(r.Context(), claims.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteUnauthorized(w, "unauthorized")
			return nil, false
		}
		h.logger.Error("failed to load current user", slog.String("user_id", claims.UserID), slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Internal server error")
		return nil, false
	}
	return user, true
}
