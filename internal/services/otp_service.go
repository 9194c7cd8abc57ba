package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"time"

	"github.com/BradenHooton/carelink/internal/config"
	"github.com/BradenHooton/carelink/internal/metrics"
	"github.com/BradenHooton/carelink/internal/models"
	"github.com/BradenHooton/carelink/pkg/logger"
	"github.com/go-playground/validator/v10"
	"github.com/oklog/ulid/v2"
)

const (
	otpCodeLength = 6
	otpCodeMin    = 100000
	otpCodeMax    = 999999
)

var validate = validator.New()

// OTPRepository defines the storage operations for one-time codes
type OTPRepository interface {
	Replace(ctx context.Context, rec *models.OTPRecord) (*models.OTPRecord, error)
	CountCreatedSince(ctx context.Context, email string, since time.Time) (int, error)
	Consume(ctx context.Context, email, code string, now time.Time) (*models.OTPRecord, error)
	DeleteUnused(ctx context.Context, email string) (int64, error)
	DeleteStale(ctx context.Context, now, usedBefore time.Time) (int64, error)
	RecordEvent(ctx context.Context, email string, kind models.OTPEventKind, purpose models.OTPPurpose, at time.Time) error
	CountEventsSince(ctx context.Context, email string, kind models.OTPEventKind, since time.Time) (int, error)
	PruneEvents(ctx context.Context, before time.Time) (int64, error)
	Stats(ctx context.Context, since, now time.Time) (*models.OTPStats, error)
}

// FailureDelayer pads failed checks to a uniform latency.
type FailureDelayer interface {
	WaitFrom(ctx context.Context, startTime time.Time, success bool)
}

// OTPService issues and verifies email one-time codes
type OTPService struct {
	repo    OTPRepository
	mailer  EmailService
	logger  *slog.Logger
	cfg     config.OTPConfig
	appName string
	now     func() time.Time
	delay   FailureDelayer
}

// NewOTPService creates a new OTPService
func NewOTPService(repo OTPRepository, mailer EmailService, logger *slog.Logger, cfg config.OTPConfig, appName string) *OTPService {
	return &OTPService{
		repo:    repo,
		mailer:  mailer,
		logger:  logger,
		cfg:     cfg,
		appName: appName,
		now:     time.Now,
	}
}

// SetClock replaces the time source.
func (s *OTPService) SetClock(now func() time.Time) {
	s.now = now
}

// SetFailureDelay pads verification failures with d.
func (s *OTPService) SetFailureDelay(d FailureDelayer) {
	s.delay = d
}

// Issue generates a code for email, replaces any unused code for it, and
// mails it. The returned result only carries the code when code exposure is
// enabled, which configuration refuses outside development.
func (s *OTPService) Issue(ctx context.Context, email string, purpose models.OTPPurpose) (*models.OTPResult, error) {
	email = models.NormalizeEmail(email)

	parsed, ok := models.ParseOTPPurpose(string(purpose))
	if !ok {
		err := models.NewOTPError(models.ErrOTPInvalidInput, "Unknown code purpose.")
		metrics.OTPIssuedTotal.WithLabelValues("unknown", resultLabel(err)).Inc()
		return nil, err
	}

	result, err := s.issue(ctx, email, parsed)
	metrics.OTPIssuedTotal.WithLabelValues(string(parsed), resultLabel(err)).Inc()
	return result, err
}

func (s *OTPService) issue(ctx context.Context, email string, purpose models.OTPPurpose) (*models.OTPResult, error) {
	if !isValidEmail(email) {
		return nil, models.NewOTPError(models.ErrOTPInvalidInput, "Please enter a valid email address.")
	}

	s.cleanupQuietly(ctx)

	if !s.mailer.Configured() {
		s.logger.Error("otp issuance refused, email transport not configured")
		return nil, models.NewOTPError(models.ErrOTPServiceUnavailable, "Email service is not configured. Please contact support.")
	}

	now := s.now()

	recent, err := s.repo.CountCreatedSince(ctx, email, now.Add(-s.cfg.ResendCooldown))
	if err != nil {
		return nil, fmt.Errorf("failed to check otp rate limit: %w", err)
	}
	if recent > 0 {
		s.logger.Info("otp issuance rate limited", slog.String("email", logger.SanitizedEmail(email)))
		return nil, models.NewOTPError(models.ErrOTPRateLimited, "Please wait a minute before requesting another code.")
	}

	code, err := generateOTPCode()
	if err != nil {
		return nil, fmt.Errorf("failed to generate otp code: %w", err)
	}

	msg, err := renderOTPEmail(s.appName, email, code, purpose, s.cfg.TTL)
	if err != nil {
		return nil, err
	}

	rec := &models.OTPRecord{
		ID:        ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		Email:     email,
		Code:      code,
		Purpose:   purpose,
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.TTL),
	}

	if _, err := s.repo.Replace(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to store otp code: %w", err)
	}

	deliveryID, err := s.mailer.Send(ctx, msg)
	if err != nil {
		category := ClassifySendError(err)
		metrics.EmailSendFailuresTotal.WithLabelValues(category).Inc()
		s.logger.Error("failed to send otp email",
			slog.String("email", logger.SanitizedEmail(email)),
			slog.String("category", category),
			slog.Any("error", err))

		// Use a fresh context so a cancelled request still removes the code.
		rollbackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if _, delErr := s.repo.DeleteUnused(rollbackCtx, email); delErr != nil {
			s.logger.Warn("failed to roll back unsent otp code",
				slog.String("email", logger.SanitizedEmail(email)),
				slog.Any("error", delErr))
		}

		return nil, models.NewOTPError(models.ErrOTPSendFailed, sendFailureMessage(category))
	}

	s.logger.Info("otp code sent",
		slog.String("email", logger.SanitizedEmail(email)),
		slog.String("purpose", string(purpose)),
		slog.String("delivery_id", deliveryID))

	if err := s.repo.RecordEvent(ctx, email, models.OTPEventIssued, purpose, now); err != nil {
		s.logger.Warn("failed to record otp issuance",
			slog.String("email", logger.SanitizedEmail(email)),
			slog.Any("error", err))
	}

	result := &models.OTPResult{Success: true, Message: "Verification code sent to your email."}
	if purpose == models.OTPPurposeReset {
		result.Message = "Password reset code sent to your email."
	}
	if s.cfg.ExposeCodes {
		result.DevCode = code
	}

	return result, nil
}

// Verify consumes the matching unused, unexpired code for email. Wrong,
// expired and already-used codes all fail with ErrOTPInvalidOrExpired.
func (s *OTPService) Verify(ctx context.Context, email, code string) (*models.OTPResult, error) {
	start := time.Now()
	email = models.NormalizeEmail(email)

	result, err := s.verify(ctx, email, code)
	metrics.OTPVerifiedTotal.WithLabelValues(resultLabel(err)).Inc()

	if s.delay != nil && (errors.Is(err, models.ErrOTPInvalidOrExpired) || errors.Is(err, models.ErrOTPTooManyAttempts)) {
		s.delay.WaitFrom(ctx, start, false)
	}

	return result, err
}

func (s *OTPService) verify(ctx context.Context, email, code string) (*models.OTPResult, error) {
	if !isValidEmail(email) || !isValidCode(code) {
		return nil, models.NewOTPError(models.ErrOTPInvalidInput, "Please enter a valid email address and 6-digit code.")
	}

	s.cleanupQuietly(ctx)

	now := s.now()

	// Failed guesses are logged as events, so reissuing a code does not reset
	// the count. The email stays blocked until failures age out of the window.
	failures, err := s.repo.CountEventsSince(ctx, email, models.OTPEventFailed, now.Add(-s.cfg.AttemptWindow))
	if err != nil {
		return nil, fmt.Errorf("failed to count otp attempts: %w", err)
	}
	if failures >= s.cfg.MaxAttempts {
		s.logger.Warn("otp verification blocked, too many failed attempts",
			slog.String("email", logger.SanitizedEmail(email)),
			slog.Int("failures", failures))
		return nil, models.NewOTPError(models.ErrOTPTooManyAttempts, "Too many attempts. Please request a new code later.")
	}

	rec, err := s.repo.Consume(ctx, email, code, now)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			if recErr := s.repo.RecordEvent(ctx, email, models.OTPEventFailed, "", now); recErr != nil {
				return nil, fmt.Errorf("failed to record otp failure: %w", recErr)
			}
			s.logger.Info("otp verification failed", slog.String("email", logger.SanitizedEmail(email)))
			return nil, models.NewOTPError(models.ErrOTPInvalidOrExpired, "Invalid or expired code.")
		}
		return nil, fmt.Errorf("failed to consume otp code: %w", err)
	}

	s.logger.Info("otp code verified",
		slog.String("email", logger.SanitizedEmail(email)),
		slog.String("otp_id", rec.ID))

	return &models.OTPResult{Success: true, Message: "Code verified successfully."}, nil
}

// Cleanup deletes expired codes and used codes past the retention window,
// then prunes activity events past their own retention. It returns the number
// of codes deleted.
func (s *OTPService) Cleanup(ctx context.Context) (int64, error) {
	now := s.now()
	deleted, err := s.repo.DeleteStale(ctx, now, now.Add(-s.cfg.UsedRetention))
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale otp codes: %w", err)
	}

	if s.cfg.EventRetention > 0 {
		pruned, err := s.repo.PruneEvents(ctx, now.Add(-s.cfg.EventRetention))
		if err != nil {
			return deleted, fmt.Errorf("failed to prune otp events: %w", err)
		}
		if pruned > 0 {
			s.logger.Debug("old otp events removed", slog.Int64("count", pruned))
		}
	}

	if deleted > 0 {
		metrics.OTPCleanupDeletedTotal.Add(float64(deleted))
		s.logger.Debug("stale otp codes removed", slog.Int64("count", deleted))
	}

	return deleted, nil
}

func (s *OTPService) cleanupQuietly(ctx context.Context) {
	if _, err := s.Cleanup(ctx); err != nil {
		s.logger.Warn("otp cleanup failed", slog.Any("error", err))
	}
}

// Stats reports code activity over the trailing window.
func (s *OTPService) Stats(ctx context.Context, window time.Duration) (*models.OTPStats, error) {
	now := s.now()
	return s.repo.Stats(ctx, now.Add(-window), now)
}

// generateOTPCode returns a uniformly random code in [100000, 999999].
func generateOTPCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(otpCodeMax-otpCodeMin+1))
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(n.Int64()+otpCodeMin, 10), nil
}

func isValidEmail(email string) bool {
	return validate.Var(email, "required,email") == nil
}

func isValidCode(code string) bool {
	if len(code) != otpCodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}

func sendFailureMessage(category string) string {
	switch category {
	case SendErrorConnection:
		return "Could not reach the email service. Please try again."
	case SendErrorAuth:
		return "Email service is temporarily unavailable. Please try again later."
	default:
		return "Failed to send the code email. Please try again."
	}
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, models.ErrOTPInvalidInput):
		return "invalid_input"
	case errors.Is(err, models.ErrOTPServiceUnavailable):
		return "unavailable"
	case errors.Is(err, models.ErrOTPRateLimited):
		return "rate_limited"
	case errors.Is(err, models.ErrOTPSendFailed):
		return "send_failed"
	case errors.Is(err, models.ErrOTPTooManyAttempts):
		return "too_many_attempts"
	case errors.Is(err, models.ErrOTPInvalidOrExpired):
		return "invalid_or_expired"
	default:
		return "error"
	}
}
