package models

import (
	"errors"
	"net/http"
)

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Account state errors
	ErrAccountDisabled  = errors.New("account is disabled")
	ErrAccountSuspended = errors.New("account is suspended")
	ErrEmailNotVerified = errors.New("email address not verified")

	ErrInvalidRole = errors.New("role is not allowed for this operation")
)

// One-time code failure categories. Every *OTPError unwraps to exactly one of these.
var (
	ErrOTPInvalidInput       = errors.New("otp: invalid input")
	ErrOTPServiceUnavailable = errors.New("otp: email service unavailable")
	ErrOTPRateLimited        = errors.New("otp: rate limited")
	ErrOTPSendFailed         = errors.New("otp: send failed")
	ErrOTPTooManyAttempts    = errors.New("otp: too many attempts")
	ErrOTPInvalidOrExpired   = errors.New("otp: invalid or expired")
)

// OTPError is a categorized one-time code failure carrying the message shown to the caller.
type OTPError struct {
	Kind    error
	Message string
}

func (e *OTPError) Error() string {
	return e.Message
}

func (e *OTPError) Unwrap() error {
	return e.Kind
}

// NewOTPError builds an OTPError for one of the ErrOTP* categories.
func NewOTPError(kind error, message string) *OTPError {
	return &OTPError{Kind: kind, Message: message}
}

// IsOTPClientError reports whether err is an OTP failure the caller can fix by
// changing input or waiting. Server-side categories (unavailable, send failed)
// and uncategorized errors return false.
func IsOTPClientError(err error) bool {
	switch {
	case errors.Is(err, ErrOTPInvalidInput),
		errors.Is(err, ErrOTPRateLimited),
		errors.Is(err, ErrOTPTooManyAttempts),
		errors.Is(err, ErrOTPInvalidOrExpired):
		return true
	default:
		return false
	}
}

// OTPStatus returns the HTTP status for a one-time code failure. Uncategorized
// errors map to 500.
func OTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrOTPInvalidInput), errors.Is(err, ErrOTPInvalidOrExpired):
		return http.StatusBadRequest
	case errors.Is(err, ErrOTPRateLimited), errors.Is(err, ErrOTPTooManyAttempts):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrOTPServiceUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
