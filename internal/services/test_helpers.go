package services

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/BradenHooton/carelink/internal/config"
	"github.com/BradenHooton/carelink/internal/models"
)

// MockUserRepository implements UserRepository for testing
type MockUserRepository struct {
	GetByIDFunc        func(ctx context.Context, id string) (*models.User, error)
	GetByEmailFunc     func(ctx context.Context, email string) (*models.User, error)
	ListFunc           func(ctx context.Context, role string, limit, offset int) ([]*models.User, error)
	CreateFunc         func(ctx context.Context, user *models.User) (*models.User, error)
	UpdateFunc         func(ctx context.Context, id string, user *models.User) (*models.User, error)
	UpdatePasswordFunc func(ctx context.Context, id, passwordHash string) error
	DeleteFunc         func(ctx context.Context, id string) error
}

func (m *MockUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	if m.GetByEmailFunc != nil {
		return m.GetByEmailFunc(ctx, email)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) List(ctx context.Context, role string, limit, offset int) ([]*models.User, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, role, limit, offset)
	}
	return []*models.User{}, nil
}

func (m *MockUserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, user)
	}
	return nil, models.ErrInternalServer
}

func (m *MockUserRepository) Update(ctx context.Context, id string, user *models.User) (*models.User, error) {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, id, user)
	}
	return nil, models.ErrInternalServer
}

func (m *MockUserRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	if m.UpdatePasswordFunc != nil {
		return m.UpdatePasswordFunc(ctx, id, passwordHash)
	}
	return nil
}

func (m *MockUserRepository) Delete(ctx context.Context, id string) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, id)
	}
	return nil
}

// MockTokenRevocationRepository implements TokenRevocationRepository for testing
type MockTokenRevocationRepository struct {
	RevokeTokenFunc    func(ctx context.Context, jti, userID, tokenType string, expiresAt time.Time, reason string) error
	IsTokenRevokedFunc func(ctx context.Context, jti string) (bool, error)
}

func (m *MockTokenRevocationRepository) RevokeToken(ctx context.Context, jti, userID, tokenType string, expiresAt time.Time, reason string) error {
	if m.RevokeTokenFunc != nil {
		return m.RevokeTokenFunc(ctx, jti, userID, tokenType, expiresAt, reason)
	}
	return nil
}

func (m *MockTokenRevocationRepository) IsTokenRevoked(ctx context.Context, jti string) (bool, error) {
	if m.IsTokenRevokedFunc != nil {
		return m.IsTokenRevokedFunc(ctx, jti)
	}
	return false, nil
}

// MockEmailService implements EmailService for testing
type MockEmailService struct {
	ConfiguredFunc func() bool
	SendFunc       func(ctx context.Context, msg Message) (string, error)

	mu   sync.Mutex
	Sent []Message
}

func (m *MockEmailService) Configured() bool {
	if m.ConfiguredFunc != nil {
		return m.ConfiguredFunc()
	}
	return true
}

func (m *MockEmailService) Send(ctx context.Context, msg Message) (string, error) {
	if m.SendFunc != nil {
		return m.SendFunc(ctx, msg)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, msg)
	return "delivery-id", nil
}

// MockCodeService implements CodeService for testing
type MockCodeService struct {
	IssueFunc  func(ctx context.Context, email string, purpose models.OTPPurpose) (*models.OTPResult, error)
	VerifyFunc func(ctx context.Context, email, code string) (*models.OTPResult, error)
}

func (m *MockCodeService) Issue(ctx context.Context, email string, purpose models.OTPPurpose) (*models.OTPResult, error) {
	if m.IssueFunc != nil {
		return m.IssueFunc(ctx, email, purpose)
	}
	return &models.OTPResult{Success: true, Message: "sent"}, nil
}

func (m *MockCodeService) Verify(ctx context.Context, email, code string) (*models.OTPResult, error) {
	if m.VerifyFunc != nil {
		return m.VerifyFunc(ctx, email, code)
	}
	return &models.OTPResult{Success: true, Message: "verified"}, nil
}

type memoryOTPEvent struct {
	email   string
	kind    models.OTPEventKind
	purpose models.OTPPurpose
	at      time.Time
}

// memoryOTPStore is an in-memory OTPRepository with the same atomicity as the
// Postgres implementation: Replace and Consume run under one lock.
type memoryOTPStore struct {
	mu      sync.Mutex
	records []*models.OTPRecord
	events  []memoryOTPEvent
	calls   int

	failCount  error
	failStale  error
	failRecord error
}

func newMemoryOTPStore() *memoryOTPStore {
	return &memoryOTPStore{}
}

func (m *memoryOTPStore) Replace(ctx context.Context, rec *models.OTPRecord) (*models.OTPRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	kept := m.records[:0]
	for _, r := range m.records {
		if r.Email == rec.Email && !r.IsUsed {
			continue
		}
		kept = append(kept, r)
	}
	cp := *rec
	m.records = append(kept, &cp)
	return &cp, nil
}

func (m *memoryOTPStore) CountCreatedSince(ctx context.Context, email string, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	if m.failCount != nil {
		return 0, m.failCount
	}

	n := 0
	for _, r := range m.records {
		if r.Email == email && !r.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (m *memoryOTPStore) Consume(ctx context.Context, email, code string, now time.Time) (*models.OTPRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	candidates := make([]*models.OTPRecord, 0)
	for _, r := range m.records {
		if r.Email == email && r.Code == code && !r.IsUsed && r.ExpiresAt.After(now) {
			candidates = append(candidates, r)
		}
	}
	if len(candidates) == 0 {
		return nil, models.ErrNotFound
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].CreatedAt.After(candidates[j].CreatedAt) })
	candidates[0].IsUsed = true
	m.events = append(m.events, memoryOTPEvent{email: email, kind: models.OTPEventConsumed, purpose: candidates[0].Purpose, at: now})
	cp := *candidates[0]
	return &cp, nil
}

func (m *memoryOTPStore) RecordEvent(ctx context.Context, email string, kind models.OTPEventKind, purpose models.OTPPurpose, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	if m.failRecord != nil {
		return m.failRecord
	}
	m.events = append(m.events, memoryOTPEvent{email: email, kind: kind, purpose: purpose, at: at})
	return nil
}

func (m *memoryOTPStore) CountEventsSince(ctx context.Context, email string, kind models.OTPEventKind, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	if m.failCount != nil {
		return 0, m.failCount
	}

	n := 0
	for _, e := range m.events {
		if e.email == email && e.kind == kind && !e.at.Before(since) {
			n++
		}
	}
	return n, nil
}

func (m *memoryOTPStore) PruneEvents(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	var pruned int64
	kept := m.events[:0]
	for _, e := range m.events {
		if e.at.Before(before) {
			pruned++
			continue
		}
		kept = append(kept, e)
	}
	m.events = kept
	return pruned, nil
}

func (m *memoryOTPStore) eventCount(kind models.OTPEventKind) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, e := range m.events {
		if e.kind == kind {
			n++
		}
	}
	return n
}

func (m *memoryOTPStore) DeleteUnused(ctx context.Context, email string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	var deleted int64
	kept := m.records[:0]
	for _, r := range m.records {
		if r.Email == email && !r.IsUsed {
			deleted++
			continue
		}
		kept = append(kept, r)
	}
	m.records = kept
	return deleted, nil
}

func (m *memoryOTPStore) DeleteStale(ctx context.Context, now, usedBefore time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	if m.failStale != nil {
		return 0, m.failStale
	}

	var deleted int64
	kept := m.records[:0]
	for _, r := range m.records {
		if r.ExpiresAt.Before(now) || (r.IsUsed && r.CreatedAt.Before(usedBefore)) {
			deleted++
			continue
		}
		kept = append(kept, r)
	}
	m.records = kept
	return deleted, nil
}

func (m *memoryOTPStore) Stats(ctx context.Context, since, now time.Time) (*models.OTPStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	stats := &models.OTPStats{}
	for _, e := range m.events {
		if e.at.Before(since) {
			continue
		}
		switch e.kind {
		case models.OTPEventIssued:
			stats.Issued++
		case models.OTPEventConsumed:
			stats.Consumed++
		case models.OTPEventFailed:
			stats.Failed++
		}
	}
	for _, r := range m.records {
		if !r.IsUsed && r.ExpiresAt.After(now) {
			stats.Pending++
		}
	}
	return stats, nil
}

// snapshot returns copies of the stored records.
func (m *memoryOTPStore) snapshot() []models.OTPRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.OTPRecord, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, *r)
	}
	return out
}

func (m *memoryOTPStore) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// testClock is a settable time source.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testOTPConfig() config.OTPConfig {
	return config.OTPConfig{
		TTL:            time.Minute,
		ResendCooldown: time.Minute,
		AttemptWindow:  15 * time.Minute,
		MaxAttempts:    10,
		UsedRetention:  24 * time.Hour,
		EventRetention: 30 * 24 * time.Hour,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
