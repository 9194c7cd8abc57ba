package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/carelink/internal/models"
)

// AdminUserRepository is the subset of UserRepository methods needed by AdminService.
type AdminUserRepository interface {
	CountTotal(ctx context.Context) (int64, error)
	CountByRole(ctx context.Context) (map[string]int64, error)
	CountByStatus(ctx context.Context) (map[string]int64, error)
	CountNewSince(ctx context.Context, since time.Time) (int64, error)
}

// OTPStatsSource reports one-time code activity.
type OTPStatsSource interface {
	Stats(ctx context.Context, window time.Duration) (*models.OTPStats, error)
}

// DashboardStatsResponse contains aggregate admin metrics.
type DashboardStatsResponse struct {
	TotalUsers      int64            `json:"total_users"`
	NewUsersToday   int64            `json:"new_users_today"`
	RoleBreakdown   map[string]int64 `json:"role_breakdown"`
	StatusBreakdown map[string]int64 `json:"status_breakdown"`
	OTPLast24h      *models.OTPStats `json:"otp_last_24h"`
	GeneratedAt     string           `json:"generated_at"`
}

// AdminService aggregates data for admin dashboard endpoints.
type AdminService struct {
	userRepo AdminUserRepository
	otpStats OTPStatsSource
	logger   *slog.Logger
	now      func() time.Time
}

// NewAdminService creates a new AdminService.
func NewAdminService(userRepo AdminUserRepository, otpStats OTPStatsSource, logger *slog.Logger) *AdminService {
	return &AdminService{
		userRepo: userRepo,
		otpStats: otpStats,
		logger:   logger,
		now:      time.Now,
	}
}

// GetDashboardStats returns user counts by role and status, today's signups
// and code activity for the last 24 hours.
func (s *AdminService) GetDashboardStats(ctx context.Context) (*DashboardStatsResponse, error) {
	total, err := s.userRepo.CountTotal(ctx)
	if err != nil {
		s.logger.Error("dashboard: failed to count total users", slog.Any("error", err))
		return nil, fmt.Errorf("count users: %w", err)
	}

	byRole, err := s.userRepo.CountByRole(ctx)
	if err != nil {
		s.logger.Error("dashboard: failed to count users by role", slog.Any("error", err))
		return nil, fmt.Errorf("count users by role: %w", err)
	}

	byStatus, err := s.userRepo.CountByStatus(ctx)
	if err != nil {
		s.logger.Error("dashboard: failed to count users by status", slog.Any("error", err))
		return nil, fmt.Errorf("count users by status: %w", err)
	}

	now := s.now().UTC()
	today := now.Truncate(24 * time.Hour)

	newToday, err := s.userRepo.CountNewSince(ctx, today)
	if err != nil {
		s.logger.Error("dashboard: failed to count new users", slog.Any("error", err))
		return nil, fmt.Errorf("count new users: %w", err)
	}

	otp, err := s.otpStats.Stats(ctx, 24*time.Hour)
	if err != nil {
		s.logger.Error("dashboard: failed to read otp stats", slog.Any("error", err))
		return nil, fmt.Errorf("otp stats: %w", err)
	}

	// Every known role and status appears, even at zero
	roles := make(map[string]int64, len(models.AllRoles))
	for _, r := range models.AllRoles {
		roles[r] = byRole[r]
	}
	statuses := map[string]int64{
		models.StatusActive:    byStatus[models.StatusActive],
		models.StatusSuspended: byStatus[models.StatusSuspended],
		models.StatusDisabled:  byStatus[models.StatusDisabled],
	}

	return &DashboardStatsResponse{
		TotalUsers:      total,
		NewUsersToday:   newToday,
		RoleBreakdown:   roles,
		StatusBreakdown: statuses,
		OTPLast24h:      otp,
		GeneratedAt:     now.Format(time.RFC3339),
	}, nil
}
