package models

import (
	"strings"
	"time"
)

// OTPPurpose selects the wording of the code email.
type OTPPurpose string

const (
	OTPPurposeVerify OTPPurpose = "verify"
	OTPPurposeReset  OTPPurpose = "reset"
)

// ParseOTPPurpose returns the purpose for s, defaulting to verify when s is empty.
func ParseOTPPurpose(s string) (OTPPurpose, bool) {
	switch OTPPurpose(strings.ToLower(strings.TrimSpace(s))) {
	case "", OTPPurposeVerify:
		return OTPPurposeVerify, true
	case OTPPurposeReset:
		return OTPPurposeReset, true
	default:
		return "", false
	}
}

// OTPRecord is a persisted one-time code. Code and ExpiresAt never change after
// insert; IsUsed flips to true at most once.
type OTPRecord struct {
	ID        string
	Email     string
	Code      string
	Purpose   OTPPurpose
	IsUsed    bool
	CreatedAt time.Time
	ExpiresAt time.Time
}

// IsExpired checks if the code has expired at the given instant
func (r *OTPRecord) IsExpired(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}

// OTPResult is returned to callers of issuance and verification.
type OTPResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	// DevCode is only populated when code exposure is enabled, which config
	// loading refuses outside the development environment.
	DevCode string `json:"dev_code,omitempty"`
}

// OTPEventKind names an entry in the append-only code activity log. Events
// outlive the code rows they describe.
type OTPEventKind string

const (
	OTPEventIssued   OTPEventKind = "issued"
	OTPEventFailed   OTPEventKind = "failed"
	OTPEventConsumed OTPEventKind = "consumed"
)

// OTPStats summarizes code activity over a window for the admin dashboard.
// Issued, Consumed and Failed come from the event log; Pending counts live codes.
type OTPStats struct {
	Issued   int64 `json:"issued"`
	Consumed int64 `json:"consumed"`
	Failed   int64 `json:"failed"`
	Pending  int64 `json:"pending"`
}

// NormalizeEmail lower-cases and trims an address for use as a lookup key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
