package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BradenHooton/carelink/internal/models"
	"github.com/BradenHooton/carelink/pkg/auth"
)

// UserRepository defines the interface for user data access
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	List(ctx context.Context, role string, limit, offset int) ([]*models.User, error)
	Create(ctx context.Context, user *models.User) (*models.User, error)
	Update(ctx context.Context, id string, user *models.User) (*models.User, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	Delete(ctx context.Context, id string) error
}

// UserUpdate carries the fields an administrator may change. Nil fields are left alone.
type UserUpdate struct {
	Name   *string
	Role   *string
	Status *string
}

// UserService handles user business logic
type UserService struct {
	repo   UserRepository
	logger *slog.Logger
}

// NewUserService creates a new UserService
func NewUserService(repo UserRepository, logger *slog.Logger) *UserService {
	return &UserService{
		repo:   repo,
		logger: logger,
	}
}

// GetUserByID retrieves a user by ID
func (s *UserService) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		s.logger.Error("failed to get user", slog.String("user_id", id), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	return user, nil
}

// ListUsers lists users newest first, optionally filtered by role
func (s *UserService) ListUsers(ctx context.Context, role string, limit, offset int) ([]*models.User, error) {
	if role != "" && !models.IsValidRole(role) {
		return nil, models.ErrInvalidRole
	}

	users, err := s.repo.List(ctx, role, limit, offset)
	if err != nil {
		s.logger.Error("failed to list users",
			slog.String("role", role),
			slog.Int("limit", limit),
			slog.Int("offset", offset),
			slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	return users, nil
}

// CreateUser creates an account of any role with a verified email. Used for
// staff and admin accounts, which cannot sign up themselves.
func (s *UserService) CreateUser(ctx context.Context, email, name, password, role string) (*models.User, error) {
	email = models.NormalizeEmail(email)
	name = strings.TrimSpace(name)

	if !isValidEmail(email) || name == "" {
		return nil, models.ErrBadRequest
	}
	if !models.IsValidRole(role) {
		return nil, models.ErrInvalidRole
	}
	if err := auth.ValidatePassword(password); err != nil {
		return nil, fmt.Errorf("invalid password: %w", err)
	}

	hashedPassword, err := auth.HashPassword(password)
	if err != nil {
		s.logger.Error("failed to hash password", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	now := time.Now()
	created, err := s.repo.Create(ctx, &models.User{
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

	s.logger.Info("user created", slog.String("user_id", created.ID), slog.String("role", role))
	return created, nil
}

// UpdateUser applies an administrator's changes. A role or status change
// rotates the token key so existing sessions carry no stale role.
func (s *UserService) UpdateUser(ctx context.Context, id string, update UserUpdate) (*models.User, error) {
	existing, err := s.GetUserByID(ctx, id)
	if err != nil {
		return nil, err
	}

	rotate := false

	if update.Name != nil {
		name := strings.TrimSpace(*update.Name)
		if name == "" {
			return nil, models.ErrBadRequest
		}
		existing.Name = name
	}
	if update.Role != nil && *update.Role != existing.Role {
		if !models.IsValidRole(*update.Role) {
			return nil, models.ErrInvalidRole
		}
		existing.Role = *update.Role
		rotate = true
	}
	if update.Status != nil && *update.Status != existing.Status {
		if !models.IsValidStatus(*update.Status) {
			return nil, models.ErrBadRequest
		}
		existing.Status = *update.Status
		rotate = true
	}

	if rotate {
		key, err := auth.GenerateTokenKey()
		if err != nil {
			s.logger.Error("failed to generate token key", slog.Any("error", err))
			return nil, models.ErrInternalServer
		}
		existing.TokenKey = key
	}

	updated, err := s.repo.Update(ctx, id, existing)
	if err != nil {
		s.logger.Error("failed to update user", slog.String("user_id", id), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.Info("user updated",
		slog.String("user_id", id),
		slog.Bool("sessions_revoked", rotate))
	return updated, nil
}

// DeleteUser deletes a user
func (s *UserService) DeleteUser(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotFound
		}
		s.logger.Error("failed to delete user", slog.String("user_id", id), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.logger.Info("user deleted", slog.String("user_id", id))
	return nil
}
