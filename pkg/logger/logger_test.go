package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizedEmail(t *testing.T) {
	assert.Equal(t, "u***@*******.com", SanitizedEmail("user@example.com"))
	assert.Equal(t, "a@****.co", SanitizedEmail("a@care.co"))
	assert.Equal(t, "[invalid-email]", SanitizedEmail("not-an-email"))
	assert.Equal(t, "[invalid-email]", SanitizedEmail("a@b@c.com"))
}

func TestSanitizeQueryString(t *testing.T) {
	assert.True(t, SanitizeQueryString("email=a%40b.com"))
	assert.True(t, SanitizeQueryString("page=1&reset_code=123456"))
	assert.True(t, SanitizeQueryString("callbackUrl=%2Fadmin"))
	assert.False(t, SanitizeQueryString("role=caregiver&limit=20"))
	assert.False(t, SanitizeQueryString(""))
}

func TestRedactedAttr(t *testing.T) {
	assert.Equal(t, "[REDACTED]", RedactedAttr("k", "v", "production").Value.String())
	assert.Equal(t, "v", RedactedAttr("k", "v", "development").Value.String())
}

func TestAuditLogger_LogCodeEvent(t *testing.T) {
	var buf bytes.Buffer
	al := NewAuditLogger(slog.New(slog.NewJSONHandler(&buf, nil)))

	al.LogCodeEvent("otp_verify", "user@example.com", false, "invalid_or_expired")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "audit", record["msg"])
	assert.Equal(t, "WARN", record["level"])
	assert.Equal(t, "otp", record["audit_type"])
	assert.Equal(t, "invalid_or_expired", record["failure_reason"])
	assert.Equal(t, "u***@*******.com", record["email"])
}

func TestAuditLogger_NilIsNoop(t *testing.T) {
	var al *AuditLogger
	assert.NotPanics(t, func() {
		al.LogAccountAction("x", "id", "", nil)
	})
}
