package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/carelink/internal/database"
	"github.com/BradenHooton/carelink/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const otpColumns = `id, email, code, purpose, is_used, created_at, expires_at`

// OTPRepository handles one-time code data access
type OTPRepository struct {
	pool *pgxpool.Pool
}

// NewOTPRepository creates a new OTPRepository
func NewOTPRepository(db *database.DB) *OTPRepository {
	return &OTPRepository{pool: db.Pool}
}

func scanOTPRow(row rowScanner) (*models.OTPRecord, error) {
	var rec models.OTPRecord
	var purpose string

	err := row.Scan(
		&rec.ID, &rec.Email, &rec.Code, &purpose,
		&rec.IsUsed, &rec.CreatedAt, &rec.ExpiresAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	rec.Purpose = models.OTPPurpose(purpose)
	return &rec, nil
}

// Replace deletes every unused code for the record's email and inserts rec in
// the same transaction. A per-email advisory lock serializes concurrent
// issuance so at most one unused code exists per email.
func (r *OTPRepository) Replace(ctx context.Context, rec *models.OTPRecord) (*models.OTPRecord, error) {
	var created *models.OTPRecord

	err := database.WithTransaction(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, rec.Email); err != nil {
			return fmt.Errorf("failed to lock email: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`DELETE FROM otp_codes WHERE email = $1 AND is_used = FALSE`, rec.Email,
		); err != nil {
			return fmt.Errorf("failed to delete unused codes: %w", err)
		}

		query := `
			INSERT INTO otp_codes (id, email, code, purpose, is_used, created_at, expires_at)
			VALUES ($1, $2, $3, $4, FALSE, $5, $6)
			RETURNING ` + otpColumns

		var err error
		created, err = scanOTPRow(tx.QueryRow(ctx, query,
			rec.ID, rec.Email, rec.Code, string(rec.Purpose), rec.CreatedAt, rec.ExpiresAt,
		))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to replace otp code: %w", err)
	}

	return created, nil
}

// CountCreatedSince counts codes issued to email at or after since, used or not.
func (r *OTPRepository) CountCreatedSince(ctx context.Context, email string, since time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM otp_codes WHERE email = $1 AND created_at >= $2`

	var count int
	if err := r.pool.QueryRow(ctx, query, email, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count otp codes: %w", database.MapPostgresError(err))
	}

	return count, nil
}

// Consume marks the newest unused, unexpired code matching email and code as
// used and returns it. The row lock plus the is_used guard in the outer UPDATE
// make this a compare-and-swap: of two concurrent callers with the same code,
// one gets the record and the other gets models.ErrNotFound. A consumed event
// is written by the same statement.
func (r *OTPRepository) Consume(ctx context.Context, email, code string, now time.Time) (*models.OTPRecord, error) {
	query := `
		WITH consumed AS (
			UPDATE otp_codes SET is_used = TRUE
			WHERE id = (
				SELECT id FROM otp_codes
				WHERE email = $1 AND code = $2 AND is_used = FALSE AND expires_at > $3
				ORDER BY created_at DESC
				LIMIT 1
				FOR UPDATE SKIP LOCKED
			) AND is_used = FALSE
			RETURNING ` + otpColumns + `
		), logged AS (
			INSERT INTO otp_events (email, kind, purpose, created_at)
			SELECT email, 'consumed', purpose, $3 FROM consumed
		)
		SELECT ` + otpColumns + ` FROM consumed`

	rec, err := scanOTPRow(r.pool.QueryRow(ctx, query, email, code, now))
	if err != nil {
		return nil, err
	}

	return rec, nil
}

// RecordEvent appends an entry to the code activity log. purpose may be empty.
func (r *OTPRepository) RecordEvent(ctx context.Context, email string, kind models.OTPEventKind, purpose models.OTPPurpose, at time.Time) error {
	query := `INSERT INTO otp_events (email, kind, purpose, created_at) VALUES ($1, $2, NULLIF($3, ''), $4)`

	if _, err := r.pool.Exec(ctx, query, email, string(kind), string(purpose), at); err != nil {
		return fmt.Errorf("failed to record otp event: %w", database.MapPostgresError(err))
	}

	return nil
}

// CountEventsSince counts events of kind for email at or after since.
func (r *OTPRepository) CountEventsSince(ctx context.Context, email string, kind models.OTPEventKind, since time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM otp_events WHERE email = $1 AND kind = $2 AND created_at >= $3`

	var count int
	if err := r.pool.QueryRow(ctx, query, email, string(kind), since).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count otp events: %w", database.MapPostgresError(err))
	}

	return count, nil
}

// PruneEvents deletes activity log entries older than before.
func (r *OTPRepository) PruneEvents(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.pool.Exec(ctx, `DELETE FROM otp_events WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to prune otp events: %w", database.MapPostgresError(err))
	}

	return result.RowsAffected(), nil
}

// DeleteUnused removes all unused codes for email.
func (r *OTPRepository) DeleteUnused(ctx context.Context, email string) (int64, error) {
	result, err := r.pool.Exec(ctx, `DELETE FROM otp_codes WHERE email = $1 AND is_used = FALSE`, email)
	if err != nil {
		return 0, fmt.Errorf("failed to delete unused codes: %w", database.MapPostgresError(err))
	}

	return result.RowsAffected(), nil
}

// DeleteStale removes codes that expired before now and used codes created
// before usedBefore.
func (r *OTPRepository) DeleteStale(ctx context.Context, now, usedBefore time.Time) (int64, error) {
	query := `
		DELETE FROM otp_codes
		WHERE expires_at < $1 OR (is_used = TRUE AND created_at < $2)
	`

	result, err := r.pool.Exec(ctx, query, now, usedBefore)
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale codes: %w", database.MapPostgresError(err))
	}

	return result.RowsAffected(), nil
}

// Stats counts issued, consumed and failed events since the given time, and
// codes still pending at now.
func (r *OTPRepository) Stats(ctx context.Context, since, now time.Time) (*models.OTPStats, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE kind = 'issued'),
			COUNT(*) FILTER (WHERE kind = 'consumed'),
			COUNT(*) FILTER (WHERE kind = 'failed'),
			(SELECT COUNT(*) FROM otp_codes WHERE is_used = FALSE AND expires_at > $2)
		FROM otp_events
		WHERE created_at >= $1
	`

	var stats models.OTPStats
	err := r.pool.QueryRow(ctx, query, since, now).Scan(
		&stats.Issued, &stats.Consumed, &stats.Failed, &stats.Pending,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to read otp stats: %w", database.MapPostgresError(err))
	}

	return &stats, nil
}
