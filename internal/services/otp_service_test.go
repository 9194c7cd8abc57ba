package services

import (
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BradenHooton/carelink/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingDelayer struct {
	mu    sync.Mutex
	calls int
}

func (d *recordingDelayer) WaitFrom(ctx context.Context, startTime time.Time, success bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
}

func newTestOTPService(t *testing.T) (*OTPService, *memoryOTPStore, *MockEmailService, *testClock) {
	t.Helper()
	store := newMemoryOTPStore()
	mailer := &MockEmailService{}
	clock := newTestClock()

	svc := NewOTPService(store, mailer, discardLogger(), testOTPConfig(), "CareLink")
	svc.SetClock(clock.Now)
	return svc, store, mailer, clock
}

func sentCode(t *testing.T, mailer *MockEmailService) string {
	t.Helper()
	mailer.mu.Lock()
	defer mailer.mu.Unlock()
	require.NotEmpty(t, mailer.Sent, "no email sent")

	for _, field := range strings.Fields(mailer.Sent[len(mailer.Sent)-1].Text) {
		if len(field) == 6 && isValidCode(field) {
			return field
		}
	}
	t.Fatal("no code found in email")
	return ""
}

func requireOTPError(t *testing.T, err error, kind error) {
	t.Helper()
	require.Error(t, err)
	assert.ErrorIs(t, err, kind)

	var otpErr *models.OTPError
	require.ErrorAs(t, err, &otpErr)
	assert.NotEmpty(t, otpErr.Message)
}

// wrongCode returns a valid-looking code that differs from code.
func wrongCode(t *testing.T, code string) string {
	t.Helper()
	n, err := strconv.Atoi(code)
	require.NoError(t, err)
	return strconv.Itoa(100000 + (n-100000+1)%900000)
}

func TestOTPService_Issue_Success(t *testing.T) {
	svc, store, mailer, clock := newTestOTPService(t)

	result, err := svc.Issue(context.Background(), "  User@Example.com ", models.OTPPurposeVerify)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.NotEmpty(t, result.Message)
	assert.Empty(t, result.DevCode, "code must not be exposed unless enabled")

	records := store.snapshot()
	require.Len(t, records, 1)
	rec := records[0]
	assert.Equal(t, "user@example.com", rec.Email)
	assert.False(t, rec.IsUsed)
	assert.Equal(t, models.OTPPurposeVerify, rec.Purpose)
	assert.Equal(t, clock.Now(), rec.CreatedAt)
	assert.Equal(t, clock.Now().Add(time.Minute), rec.ExpiresAt)
	assert.NotEmpty(t, rec.ID)

	require.Len(t, mailer.Sent, 1)
	msg := mailer.Sent[0]
	assert.Equal(t, "user@example.com", msg.To)
	assert.Contains(t, msg.Subject, "verification code")
	assert.Contains(t, msg.HTML, rec.Code)
	assert.Contains(t, msg.Text, "1 minute")
	assert.Equal(t, rec.Code, sentCode(t, mailer))
}

func TestOTPService_Issue_ResetPurposeWording(t *testing.T) {
	svc, _, mailer, _ := newTestOTPService(t)

	result, err := svc.Issue(context.Background(), "user@example.com", models.OTPPurposeReset)
	require.NoError(t, err)
	assert.Contains(t, result.Message, "reset")

	require.Len(t, mailer.Sent, 1)
	assert.Contains(t, mailer.Sent[0].Subject, "password reset")
	assert.Contains(t, mailer.Sent[0].Text, "Reset your password")
}

func TestOTPService_Issue_DefaultsToVerify(t *testing.T) {
	svc, store, _, _ := newTestOTPService(t)

	_, err := svc.Issue(context.Background(), "user@example.com", "")
	require.NoError(t, err)
	assert.Equal(t, models.OTPPurposeVerify, store.snapshot()[0].Purpose)
}

func TestOTPService_Issue_NormalizesPurpose(t *testing.T) {
	svc, store, mailer, _ := newTestOTPService(t)

	_, err := svc.Issue(context.Background(), "user@example.com", " RESET ")
	require.NoError(t, err)

	assert.Equal(t, models.OTPPurposeReset, store.snapshot()[0].Purpose)
	require.Len(t, mailer.Sent, 1)
	assert.Contains(t, mailer.Sent[0].Subject, "password reset")
	assert.Equal(t, 1, store.eventCount(models.OTPEventIssued))
}

func TestOTPService_Issue_ExposeCodes(t *testing.T) {
	store := newMemoryOTPStore()
	mailer := &MockEmailService{}
	cfg := testOTPConfig()
	cfg.ExposeCodes = true
	svc := NewOTPService(store, mailer, discardLogger(), cfg, "CareLink")

	result, err := svc.Issue(context.Background(), "dev@example.com", models.OTPPurposeVerify)
	require.NoError(t, err)
	assert.Equal(t, store.snapshot()[0].Code, result.DevCode)
}

func TestOTPService_Issue_InvalidInput(t *testing.T) {
	tests := []struct {
		name    string
		email   string
		purpose models.OTPPurpose
	}{
		{"empty email", "", models.OTPPurposeVerify},
		{"no at sign", "not-an-email", models.OTPPurposeVerify},
		{"no domain", "user@", models.OTPPurposeVerify},
		{"unknown purpose", "user@example.com", "login"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store, mailer, _ := newTestOTPService(t)

			_, err := svc.Issue(context.Background(), tt.email, tt.purpose)
			requireOTPError(t, err, models.ErrOTPInvalidInput)
			assert.Empty(t, store.snapshot())
			assert.Empty(t, mailer.Sent)
		})
	}
}

func TestOTPService_Issue_RateLimited(t *testing.T) {
	svc, store, _, clock := newTestOTPService(t)
	ctx := context.Background()

	_, err := svc.Issue(ctx, "user@example.com", models.OTPPurposeVerify)
	require.NoError(t, err)

	clock.Advance(30 * time.Second)
	_, err = svc.Issue(ctx, "USER@example.com", models.OTPPurposeVerify)
	requireOTPError(t, err, models.ErrOTPRateLimited)
	assert.True(t, models.IsOTPClientError(err))

	// A different address is unaffected
	_, err = svc.Issue(ctx, "other@example.com", models.OTPPurposeVerify)
	require.NoError(t, err)

	clock.Advance(31 * time.Second)
	_, err = svc.Issue(ctx, "user@example.com", models.OTPPurposeVerify)
	require.NoError(t, err)

	unused := 0
	for _, r := range store.snapshot() {
		if r.Email == "user@example.com" && !r.IsUsed {
			unused++
		}
	}
	assert.Equal(t, 1, unused, "reissue must replace the previous unused code")
}

func TestOTPService_Issue_MailNotConfigured(t *testing.T) {
	store := newMemoryOTPStore()
	svc := NewOTPService(store, DisabledEmailService{}, discardLogger(), testOTPConfig(), "CareLink")

	_, err := svc.Issue(context.Background(), "user@example.com", models.OTPPurposeVerify)
	requireOTPError(t, err, models.ErrOTPServiceUnavailable)
	assert.False(t, models.IsOTPClientError(err))
	assert.Empty(t, store.snapshot(), "no record may be persisted")
}

func TestOTPService_Issue_SendFailureRollsBack(t *testing.T) {
	tests := []struct {
		name        string
		sendErr     error
		wantMessage string
	}{
		{"connection", &net.OpError{Op: "dial", Err: errors.New("connection refused")}, "Could not reach"},
		{"unknown", errors.New("boom"), "Failed to send"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store, mailer, _ := newTestOTPService(t)
			mailer.SendFunc = func(ctx context.Context, msg Message) (string, error) {
				return "", tt.sendErr
			}

			_, err := svc.Issue(context.Background(), "user@example.com", models.OTPPurposeVerify)
			requireOTPError(t, err, models.ErrOTPSendFailed)
			assert.Contains(t, err.Error(), tt.wantMessage)
			assert.NotContains(t, err.Error(), "refused", "transport detail must not leak")
			assert.Empty(t, store.snapshot(), "unsent code must be rolled back")
			assert.Zero(t, store.eventCount(models.OTPEventIssued))
		})
	}
}

func TestOTPService_Issue_StorageFailureIsHard(t *testing.T) {
	svc, store, _, _ := newTestOTPService(t)
	store.failCount = errors.New("connection reset")

	_, err := svc.Issue(context.Background(), "user@example.com", models.OTPPurposeVerify)
	require.Error(t, err)

	var otpErr *models.OTPError
	assert.False(t, errors.As(err, &otpErr), "storage faults are not categorized")
}

func TestOTPService_Issue_CleanupFailureIgnored(t *testing.T) {
	svc, store, _, _ := newTestOTPService(t)
	store.failStale = errors.New("cleanup failed")

	result, err := svc.Issue(context.Background(), "user@example.com", models.OTPPurposeVerify)
	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestOTPService_Verify_Lifecycle(t *testing.T) {
	svc, store, mailer, _ := newTestOTPService(t)
	ctx := context.Background()

	_, err := svc.Issue(ctx, "user@example.com", models.OTPPurposeVerify)
	require.NoError(t, err)
	code := sentCode(t, mailer)

	result, err := svc.Verify(ctx, "User@Example.com", code)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.True(t, store.snapshot()[0].IsUsed)

	_, err = svc.Verify(ctx, "user@example.com", code)
	requireOTPError(t, err, models.ErrOTPInvalidOrExpired)
}

func TestOTPService_Verify_WrongCode(t *testing.T) {
	svc, _, mailer, _ := newTestOTPService(t)
	ctx := context.Background()

	_, err := svc.Issue(ctx, "user@example.com", models.OTPPurposeVerify)
	require.NoError(t, err)
	code := sentCode(t, mailer)

	_, err = svc.Verify(ctx, "user@example.com", wrongCode(t, code))
	requireOTPError(t, err, models.ErrOTPInvalidOrExpired)

	// The right code still works after a wrong guess
	_, err = svc.Verify(ctx, "user@example.com", code)
	require.NoError(t, err)
}

func TestOTPService_Verify_Expired(t *testing.T) {
	svc, _, mailer, clock := newTestOTPService(t)
	ctx := context.Background()

	_, err := svc.Issue(ctx, "user@example.com", models.OTPPurposeVerify)
	require.NoError(t, err)
	code := sentCode(t, mailer)

	clock.Advance(61 * time.Second)

	_, err = svc.Verify(ctx, "user@example.com", code)
	requireOTPError(t, err, models.ErrOTPInvalidOrExpired)
}

func TestOTPService_Verify_ExactlyAtExpiry(t *testing.T) {
	svc, _, mailer, clock := newTestOTPService(t)
	ctx := context.Background()

	_, err := svc.Issue(ctx, "user@example.com", models.OTPPurposeVerify)
	require.NoError(t, err)
	code := sentCode(t, mailer)

	clock.Advance(time.Minute)

	_, err = svc.Verify(ctx, "user@example.com", code)
	requireOTPError(t, err, models.ErrOTPInvalidOrExpired)
}

func TestOTPService_Verify_MalformedInputSkipsStorage(t *testing.T) {
	tests := []struct {
		name  string
		email string
		code  string
	}{
		{"letters", "user@example.com", "12a456"},
		{"too short", "user@example.com", "12345"},
		{"too long", "user@example.com", "1234567"},
		{"empty", "user@example.com", ""},
		{"spaces", "user@example.com", "123 56"},
		{"unicode digits", "user@example.com", "١٢٣٤٥٦"},
		{"bad email", "nope", "123456"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store, _, _ := newTestOTPService(t)

			_, err := svc.Verify(context.Background(), tt.email, tt.code)
			requireOTPError(t, err, models.ErrOTPInvalidInput)
			assert.Zero(t, store.callCount(), "storage must not be touched")
		})
	}
}

func TestOTPService_Verify_TooManyAttempts(t *testing.T) {
	svc, store, mailer, _ := newTestOTPService(t)
	ctx := context.Background()

	_, err := svc.Issue(ctx, "user@example.com", models.OTPPurposeVerify)
	require.NoError(t, err)
	code := sentCode(t, mailer)
	wrong := wrongCode(t, code)

	for i := 0; i < 10; i++ {
		_, err := svc.Verify(ctx, "user@example.com", wrong)
		requireOTPError(t, err, models.ErrOTPInvalidOrExpired)
	}
	assert.Equal(t, 10, store.eventCount(models.OTPEventFailed))

	// Even the right code is refused once the limit is reached
	_, err = svc.Verify(ctx, "user@example.com", code)
	requireOTPError(t, err, models.ErrOTPTooManyAttempts)
	assert.False(t, store.snapshot()[0].IsUsed)

	// Other addresses are unaffected
	_, err = svc.Issue(ctx, "other@example.com", models.OTPPurposeVerify)
	require.NoError(t, err)
	_, err = svc.Verify(ctx, "other@example.com", sentCode(t, mailer))
	require.NoError(t, err)
}

func TestOTPService_Verify_ReissueDoesNotResetAttempts(t *testing.T) {
	svc, _, mailer, clock := newTestOTPService(t)
	ctx := context.Background()

	_, err := svc.Issue(ctx, "user@example.com", models.OTPPurposeVerify)
	require.NoError(t, err)
	wrong := wrongCode(t, sentCode(t, mailer))

	for i := 0; i < 10; i++ {
		_, err := svc.Verify(ctx, "user@example.com", wrong)
		requireOTPError(t, err, models.ErrOTPInvalidOrExpired)
	}

	clock.Advance(61 * time.Second)
	_, err = svc.Issue(ctx, "user@example.com", models.OTPPurposeVerify)
	require.NoError(t, err)

	_, err = svc.Verify(ctx, "user@example.com", sentCode(t, mailer))
	requireOTPError(t, err, models.ErrOTPTooManyAttempts)

	// Failures age out of the window
	clock.Advance(15 * time.Minute)
	_, err = svc.Issue(ctx, "user@example.com", models.OTPPurposeVerify)
	require.NoError(t, err)

	_, err = svc.Verify(ctx, "user@example.com", sentCode(t, mailer))
	require.NoError(t, err)
}

func TestOTPService_Verify_BelowAttemptLimitStillAllowed(t *testing.T) {
	svc, _, mailer, _ := newTestOTPService(t)
	ctx := context.Background()

	_, err := svc.Issue(ctx, "user@example.com", models.OTPPurposeVerify)
	require.NoError(t, err)
	code := sentCode(t, mailer)
	wrong := wrongCode(t, code)

	for i := 0; i < 9; i++ {
		_, err := svc.Verify(ctx, "user@example.com", wrong)
		requireOTPError(t, err, models.ErrOTPInvalidOrExpired)
	}

	_, err = svc.Verify(ctx, "user@example.com", code)
	require.NoError(t, err)
}

func TestOTPService_Verify_SuccessesDoNotCountAsAttempts(t *testing.T) {
	svc, _, mailer, clock := newTestOTPService(t)
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		_, err := svc.Issue(ctx, "user@example.com", models.OTPPurposeVerify)
		require.NoError(t, err)
		_, err = svc.Verify(ctx, "user@example.com", sentCode(t, mailer))
		require.NoError(t, err, "verification %d", i)
		clock.Advance(61 * time.Second)
	}
}

func TestOTPService_Verify_FailureLogErrorIsHard(t *testing.T) {
	svc, store, mailer, _ := newTestOTPService(t)
	ctx := context.Background()

	_, err := svc.Issue(ctx, "user@example.com", models.OTPPurposeVerify)
	require.NoError(t, err)
	wrong := wrongCode(t, sentCode(t, mailer))

	store.failRecord = errors.New("connection reset")
	_, err = svc.Verify(ctx, "user@example.com", wrong)
	require.Error(t, err)

	var otpErr *models.OTPError
	assert.False(t, errors.As(err, &otpErr), "an unrecorded failure must not look like a normal miss")
}

func TestOTPService_Verify_ConcurrentConsumesOnce(t *testing.T) {
	svc, _, mailer, _ := newTestOTPService(t)
	ctx := context.Background()

	_, err := svc.Issue(ctx, "user@example.com", models.OTPPurposeVerify)
	require.NoError(t, err)
	code := sentCode(t, mailer)

	// Kept below the attempt limit so every loser sees a plain miss
	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	start := make(chan struct{})

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := svc.Verify(ctx, "user@example.com", code)
			errs <- err
		}()
	}
	close(start)
	wg.Wait()
	close(errs)

	successes := 0
	for err := range errs {
		if err == nil {
			successes++
			continue
		}
		assert.ErrorIs(t, err, models.ErrOTPInvalidOrExpired)
	}
	assert.Equal(t, 1, successes)
}

func TestOTPService_Verify_FailuresArePadded(t *testing.T) {
	svc, _, _, _ := newTestOTPService(t)
	delayer := &recordingDelayer{}
	svc.SetFailureDelay(delayer)

	_, err := svc.Verify(context.Background(), "user@example.com", "123456")
	requireOTPError(t, err, models.ErrOTPInvalidOrExpired)
	assert.Equal(t, 1, delayer.calls)

	// Malformed input is answered immediately
	_, err = svc.Verify(context.Background(), "user@example.com", "abc")
	requireOTPError(t, err, models.ErrOTPInvalidInput)
	assert.Equal(t, 1, delayer.calls)
}

func TestOTPService_Cleanup_Idempotent(t *testing.T) {
	svc, store, _, clock := newTestOTPService(t)
	ctx := context.Background()
	now := clock.Now()

	store.records = []*models.OTPRecord{
		{ID: "expired", Email: "a@example.com", Code: "111111", CreatedAt: now.Add(-2 * time.Minute), ExpiresAt: now.Add(-time.Minute)},
		{ID: "old-used", Email: "b@example.com", Code: "222222", IsUsed: true, CreatedAt: now.Add(-25 * time.Hour), ExpiresAt: now.Add(time.Hour)},
		{ID: "recent-used", Email: "c@example.com", Code: "333333", IsUsed: true, CreatedAt: now.Add(-time.Hour), ExpiresAt: now.Add(time.Hour)},
		{ID: "live", Email: "d@example.com", Code: "444444", CreatedAt: now, ExpiresAt: now.Add(time.Minute)},
	}

	deleted, err := svc.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	deleted, err = svc.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), deleted)

	ids := []string{}
	for _, r := range store.snapshot() {
		ids = append(ids, r.ID)
	}
	assert.ElementsMatch(t, []string{"recent-used", "live"}, ids)
}

func TestOTPService_Stats(t *testing.T) {
	svc, _, mailer, _ := newTestOTPService(t)
	ctx := context.Background()

	_, err := svc.Issue(ctx, "a@example.com", models.OTPPurposeVerify)
	require.NoError(t, err)
	_, err = svc.Verify(ctx, "a@example.com", sentCode(t, mailer))
	require.NoError(t, err)
	_, err = svc.Issue(ctx, "b@example.com", models.OTPPurposeReset)
	require.NoError(t, err)

	stats, err := svc.Stats(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Issued)
	assert.Equal(t, int64(1), stats.Consumed)
	assert.Equal(t, int64(0), stats.Failed)
	assert.Equal(t, int64(1), stats.Pending)
}

func TestOTPService_Stats_CountsReplacedCodes(t *testing.T) {
	svc, store, mailer, clock := newTestOTPService(t)
	ctx := context.Background()

	_, err := svc.Issue(ctx, "a@example.com", models.OTPPurposeVerify)
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	_, err = svc.Issue(ctx, "a@example.com", models.OTPPurposeVerify)
	require.NoError(t, err)
	code := sentCode(t, mailer)
	require.Len(t, store.snapshot(), 1, "reissue replaces the first code")

	_, err = svc.Verify(ctx, "a@example.com", wrongCode(t, code))
	requireOTPError(t, err, models.ErrOTPInvalidOrExpired)
	_, err = svc.Verify(ctx, "a@example.com", code)
	require.NoError(t, err)

	stats, err := svc.Stats(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Issued)
	assert.Equal(t, int64(1), stats.Consumed)
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, int64(0), stats.Pending)

	// Events outside the window drop out
	clock.Advance(25 * time.Hour)
	stats, err = svc.Stats(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Zero(t, stats.Issued)
	assert.Zero(t, stats.Consumed)
	assert.Zero(t, stats.Failed)
}

func TestOTPService_Cleanup_PrunesOldEvents(t *testing.T) {
	svc, store, _, clock := newTestOTPService(t)
	now := clock.Now()

	store.events = []memoryOTPEvent{
		{email: "a@example.com", kind: models.OTPEventIssued, at: now.Add(-31 * 24 * time.Hour)},
		{email: "a@example.com", kind: models.OTPEventFailed, at: now.Add(-time.Hour)},
	}

	_, err := svc.Cleanup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, store.eventCount(models.OTPEventIssued))
	assert.Equal(t, 1, store.eventCount(models.OTPEventFailed))
}

func TestGenerateOTPCode_Range(t *testing.T) {
	for i := 0; i < 2000; i++ {
		code, err := generateOTPCode()
		require.NoError(t, err)
		require.Len(t, code, 6)

		n, err := strconv.Atoi(code)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, 100000)
		assert.LessOrEqual(t, n, 999999)
	}
}
