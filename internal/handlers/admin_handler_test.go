package handlers_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BradenHooton/carelink/internal/handlers"
	"github.com/BradenHooton/carelink/internal/models"
	"github.com/BradenHooton/carelink/internal/services"
	pkgauth "github.com/BradenHooton/carelink/pkg/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestGetDashboardStats(t *testing.T) {
	stats := &handlers.MockAdminService{
		GetDashboardStatsFunc: func(ctx context.Context) (*services.DashboardStatsResponse, error) {
			return &services.DashboardStatsResponse{
				TotalUsers:    42,
				NewUsersToday: 3,
				RoleBreakdown: map[string]int64{models.RoleCaregiver: 30, models.RoleEmployer: 12},
				OTPLast24h:    &models.OTPStats{Issued: 10, Consumed: 7, Pending: 2},
			}, nil
		},
	}
	h := handlers.NewAdminHandler(stats, &handlers.MockUserService{}, handlers.TestLogger())

	w := httptest.NewRecorder()
	h.GetDashboardStats(w, httptest.NewRequest("GET", "/admin/dashboard/stats", nil))

	var resp services.DashboardStatsResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Equal(t, int64(42), resp.TotalUsers)
	require.NotNil(t, resp.OTPLast24h)
	assert.Equal(t, int64(7), resp.OTPLast24h.Consumed)
}

func TestGetDashboardStats_Error(t *testing.T) {
	stats := &handlers.MockAdminService{
		GetDashboardStatsFunc: func(ctx context.Context) (*services.DashboardStatsResponse, error) {
			return nil, errors.New("db down")
		},
	}
	h := handlers.NewAdminHandler(stats, &handlers.MockUserService{}, handlers.TestLogger())

	w := httptest.NewRecorder()
	h.GetDashboardStats(w, httptest.NewRequest("GET", "/admin/dashboard/stats", nil))

	handlers.AssertErrorResponse(t, w, http.StatusInternalServerError, "internal_error")
}

func TestAdminCreateUser(t *testing.T) {
	tests := []struct {
		name       string
		body       handlers.CreateUserRequest
		err        error
		wantStatus int
	}{
		{"staff account", handlers.CreateUserRequest{Email: "s@example.com", Name: "Sam", Password: "SecureP@ss123", Role: "staff"}, nil, http.StatusCreated},
		{"unknown role", handlers.CreateUserRequest{Email: "s@example.com", Name: "Sam", Password: "SecureP@ss123", Role: "root"}, nil, http.StatusBadRequest},
		{"weak password", handlers.CreateUserRequest{Email: "s@example.com", Name: "Sam", Password: "weak", Role: "staff"}, &pkgauth.PasswordValidationError{Errors: []string{"too short"}}, http.StatusBadRequest},
		{"duplicate", handlers.CreateUserRequest{Email: "s@example.com", Name: "Sam", Password: "SecureP@ss123", Role: "admin"}, models.ErrConflict, http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			users := &handlers.MockUserService{
				CreateUserFunc: func(ctx context.Context, email, name, password, role string) (*models.User, error) {
					if tt.err != nil {
						return nil, tt.err
					}
					return testUser("new", role), nil
				},
			}
			h := handlers.NewAdminHandler(&handlers.MockAdminService{}, users, handlers.TestLogger())

			req := handlers.WithAuthContext(handlers.NewTestRequest(t, "POST", "/admin/users", tt.body), "admin-1", models.RoleAdmin)
			w := httptest.NewRecorder()
			h.CreateUser(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestAdminUpdateUser(t *testing.T) {
	var got services.UserUpdate
	users := &handlers.MockUserService{
		UpdateUserFunc: func(ctx context.Context, id string, update services.UserUpdate) (*models.User, error) {
			got = update
			u := testUser(id, *update.Role)
			return u, nil
		},
	}
	h := handlers.NewAdminHandler(&handlers.MockAdminService{}, users, handlers.TestLogger())

	req := handlers.NewTestRequest(t, "PATCH", "/admin/users/u2", handlers.UpdateUserRequest{Role: strPtr("staff")})
	req = handlers.WithChiRouteContext(req, map[string]string{"id": "u2"})
	req = handlers.WithAuthContext(req, "admin-1", models.RoleAdmin)
	w := httptest.NewRecorder()
	h.UpdateUser(w, req)

	var resp services.UserResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Equal(t, "staff", resp.Role)
	require.NotNil(t, got.Role)
	assert.Nil(t, got.Status)
	assert.Nil(t, got.Name)
}

func TestAdminUpdateUser_Rejections(t *testing.T) {
	tests := []struct {
		name       string
		target     string
		body       handlers.UpdateUserRequest
		wantStatus int
	}{
		{"own role", "admin-1", handlers.UpdateUserRequest{Role: strPtr("caregiver")}, http.StatusBadRequest},
		{"own status", "admin-1", handlers.UpdateUserRequest{Status: strPtr("disabled")}, http.StatusBadRequest},
		{"unknown status", "u2", handlers.UpdateUserRequest{Status: strPtr("banned")}, http.StatusBadRequest},
		{"missing user", "u404", handlers.UpdateUserRequest{Name: strPtr("New Name")}, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := handlers.NewAdminHandler(&handlers.MockAdminService{}, &handlers.MockUserService{}, handlers.TestLogger())

			req := handlers.NewTestRequest(t, "PATCH", "/admin/users/"+tt.target, tt.body)
			req = handlers.WithChiRouteContext(req, map[string]string{"id": tt.target})
			req = handlers.WithAuthContext(req, "admin-1", models.RoleAdmin)
			w := httptest.NewRecorder()
			h.UpdateUser(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestAdminUpdateUser_OwnNameAllowed(t *testing.T) {
	users := &handlers.MockUserService{
		UpdateUserFunc: func(ctx context.Context, id string, update services.UserUpdate) (*models.User, error) {
			u := testUser(id, models.RoleAdmin)
			u.Name = *update.Name
			return u, nil
		},
	}
	h := handlers.NewAdminHandler(&handlers.MockAdminService{}, users, handlers.TestLogger())

	req := handlers.NewTestRequest(t, "PATCH", "/admin/users/admin-1", handlers.UpdateUserRequest{Name: strPtr("Renamed")})
	req = handlers.WithChiRouteContext(req, map[string]string{"id": "admin-1"})
	req = handlers.WithAuthContext(req, "admin-1", models.RoleAdmin)
	w := httptest.NewRecorder()
	h.UpdateUser(w, req)

	var resp services.UserResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Equal(t, "Renamed", resp.Name)
}

func TestAdminDeleteUser(t *testing.T) {
	tests := []struct {
		name       string
		target     string
		err        error
		wantStatus int
	}{
		{"deleted", "u2", nil, http.StatusNoContent},
		{"self", "admin-1", nil, http.StatusBadRequest},
		{"missing", "u404", models.ErrNotFound, http.StatusNotFound},
		{"failure", "u3", models.ErrInternalServer, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var called bool
			users := &handlers.MockUserService{
				DeleteUserFunc: func(ctx context.Context, id string) error {
					called = true
					return tt.err
				},
			}
			h := handlers.NewAdminHandler(&handlers.MockAdminService{}, users, handlers.TestLogger())

			req := httptest.NewRequest("DELETE", "/admin/users/"+tt.target, nil)
			req = handlers.WithChiRouteContext(req, map[string]string{"id": tt.target})
			req = handlers.WithAuthContext(req, "admin-1", models.RoleAdmin)
			w := httptest.NewRecorder()
			h.DeleteUser(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.target != "admin-1", called)
		})
	}
}
