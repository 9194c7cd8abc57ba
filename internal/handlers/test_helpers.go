package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BradenHooton/carelink/internal/auth"
	"github.com/BradenHooton/carelink/internal/models"
	"github.com/BradenHooton/carelink/internal/services"
	pkghttp "github.com/BradenHooton/carelink/pkg/http"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithAuthContext adds access token claims for userID and role to the request
func WithAuthContext(req *http.Request, userID, role string) *http.Request {
	claims := &models.TokenClaims{
		UserID: userID,
		Role:   role,
		Type:   models.TokenTypeAccess,
	}
	return req.WithContext(auth.WithClaims(req.Context(), claims))
}

// WithChiRouteContext adds chi URL parameters to the request context
func WithChiRouteContext(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// TestLogger discards all output
func TestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target any) {
	t.Helper()
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	if target != nil {
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), target), "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) {
	t.Helper()
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
}

// AssertOTPResponse checks a one-time code result body
func AssertOTPResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, success bool) models.OTPResult {
	t.Helper()
	var result models.OTPResult
	AssertJSONResponse(t, w, expectedStatus, &result)
	assert.Equal(t, success, result.Success)
	assert.NotEmpty(t, result.Message)
	return result
}

// MockCodeService implements CodeService for testing
type MockCodeService struct {
	IssueFunc  func(ctx context.Context, email string, purpose models.OTPPurpose) (*models.OTPResult, error)
	VerifyFunc func(ctx context.Context, email, code string) (*models.OTPResult, error)
}

func (m *MockCodeService) Issue(ctx context.Context, email string, purpose models.OTPPurpose) (*models.OTPResult, error) {
	if m.IssueFunc == nil {
		return &models.OTPResult{Success: true, Message: "Verification code sent to your email."}, nil
	}
	return m.IssueFunc(ctx, email, purpose)
}

func (m *MockCodeService) Verify(ctx context.Context, email, code string) (*models.OTPResult, error) {
	if m.VerifyFunc == nil {
		return &models.OTPResult{Success: true, Message: "Code verified."}, nil
	}
	return m.VerifyFunc(ctx, email, code)
}

// MockAuthService implements AuthServiceInterface for testing
type MockAuthService struct {
	RequestSignupCodeFunc    func(ctx context.Context, email string) (*models.OTPResult, error)
	CompleteSignupFunc       func(ctx context.Context, in services.SignupInput) (*services.AuthResponse, error)
	RequestPasswordResetFunc func(ctx context.Context, email string) (*models.OTPResult, error)
	ResetPasswordFunc        func(ctx context.Context, email, code, newPassword string) error
	LoginFunc                func(ctx context.Context, email, password string) (*services.AuthResponse, error)
	RefreshTokenFunc         func(ctx context.Context, refreshToken string) (*services.AuthResponse, error)
	LogoutFunc               func(ctx context.Context, accessToken, refreshToken string) error
	LogoutAllFunc            func(ctx context.Context, userID string) error
}

func (m *MockAuthService) RequestSignupCode(ctx context.Context, email string) (*models.OTPResult, error) {
	if m.RequestSignupCodeFunc == nil {
		return &models.OTPResult{Success: true, Message: "Verification code sent to your email."}, nil
	}
	return m.RequestSignupCodeFunc(ctx, email)
}

func (m *MockAuthService) CompleteSignup(ctx context.Context, in services.SignupInput) (*services.AuthResponse, error) {
	if m.CompleteSignupFunc == nil {
		return nil, models.ErrInternalServer
	}
	return m.CompleteSignupFunc(ctx, in)
}

func (m *MockAuthService) RequestPasswordReset(ctx context.Context, email string) (*models.OTPResult, error) {
	if m.RequestPasswordResetFunc == nil {
		return &models.OTPResult{Success: true, Message: "If an account exists for this email, a reset code has been sent."}, nil
	}
	return m.RequestPasswordResetFunc(ctx, email)
}

func (m *MockAuthService) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	if m.ResetPasswordFunc == nil {
		return nil
	}
	return m.ResetPasswordFunc(ctx, email, code, newPassword)
}

func (m *MockAuthService) Login(ctx context.Context, email, password string) (*services.AuthResponse, error) {
	if m.LoginFunc == nil {
		return nil, models.ErrUnauthorized
	}
	return m.LoginFunc(ctx, email, password)
}

func (m *MockAuthService) RefreshToken(ctx context.Context, refreshToken string) (*services.AuthResponse, error) {
	if m.RefreshTokenFunc == nil {
		return nil, models.ErrUnauthorized
	}
	return m.RefreshTokenFunc(ctx, refreshToken)
}

func (m *MockAuthService) Logout(ctx context.Context, accessToken, refreshToken string) error {
	if m.LogoutFunc == nil {
		return nil
	}
	return m.LogoutFunc(ctx, accessToken, refreshToken)
}

func (m *MockAuthService) LogoutAll(ctx context.Context, userID string) error {
	if m.LogoutAllFunc == nil {
		return nil
	}
	return m.LogoutAllFunc(ctx, userID)
}

// MockUserService implements UserService and UserAdminService for testing
type MockUserService struct {
	GetUserByIDFunc func(ctx context.Context, id string) (*models.User, error)
	ListUsersFunc   func(ctx context.Context, role string, limit, offset int) ([]*models.User, error)
	CreateUserFunc  func(ctx context.Context, email, name, password, role string) (*models.User, error)
	UpdateUserFunc  func(ctx context.Context, id string, update services.UserUpdate) (*models.User, error)
	DeleteUserFunc  func(ctx context.Context, id string) error
}

func (m *MockUserService) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	if m.GetUserByIDFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.GetUserByIDFunc(ctx, id)
}

func (m *MockUserService) ListUsers(ctx context.Context, role string, limit, offset int) ([]*models.User, error) {
	if m.ListUsersFunc == nil {
		return []*models.User{}, nil
	}
	return m.ListUsersFunc(ctx, role, limit, offset)
}

func (m *MockUserService) CreateUser(ctx context.Context, email, name, password, role string) (*models.User, error) {
	if m.CreateUserFunc == nil {
		return nil, models.ErrInternalServer
	}
	return m.CreateUserFunc(ctx, email, name, password, role)
}

func (m *MockUserService) UpdateUser(ctx context.Context, id string, update services.UserUpdate) (*models.User, error) {
	if m.UpdateUserFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.UpdateUserFunc(ctx, id, update)
}

func (m *MockUserService) DeleteUser(ctx context.Context, id string) error {
	if m.DeleteUserFunc == nil {
		return models.ErrNotFound
	}
	return m.DeleteUserFunc(ctx, id)
}

// MockAdminService implements AdminServiceInterface for testing
type MockAdminService struct {
	GetDashboardStatsFunc func(ctx context.Context) (*services.DashboardStatsResponse, error)
}

func (m *MockAdminService) GetDashboardStats(ctx context.Context) (*services.DashboardStatsResponse, error) {
	if m.GetDashboardStatsFunc == nil {
		return &services.DashboardStatsResponse{}, nil
	}
	return m.GetDashboardStatsFunc(ctx)
}
