package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/BradenHooton/carelink/internal/models"
	pkghttp "github.com/BradenHooton/carelink/pkg/http"
)

// CodeService issues and verifies one-time email codes.
type CodeService interface {
	Issue(ctx context.Context, email string, purpose models.OTPPurpose) (*models.OTPResult, error)
	Verify(ctx context.Context, email, code string) (*models.OTPResult, error)
}

// OTPHandler exposes the raw one-time code operations.
type OTPHandler struct {
	codes  CodeService
	logger *slog.Logger
}

func NewOTPHandler(codes CodeService, logger *slog.Logger) *OTPHandler {
	return &OTPHandler{codes: codes, logger: logger}
}

type SendOTPRequest struct {
	Email   string `json:"email"`
	Purpose string `json:"purpose"`
}

type VerifyOTPRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

const genericFailureMessage = "Something went wrong. Please try again."

// Send handles POST /auth/otp/send
func (h *OTPHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req SendOTPRequest
	if err := pkghttp.DecodeJSON(w, r, &req); err != nil {
		writeOTPFailure(w, http.StatusBadRequest, err.Error())
		return
	}

	purpose, ok := models.ParseOTPPurpose(req.Purpose)
	if !ok {
		writeOTPFailure(w, http.StatusBadRequest, "Unknown code purpose.")
		return
	}

	result, err := h.codes.Issue(r.Context(), req.Email, purpose)
	if err != nil {
		h.writeOTPError(w, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, result)
}

// Verify handles POST /auth/otp/verify
func (h *OTPHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req VerifyOTPRequest
	if err := pkghttp.DecodeJSON(w, r, &req); err != nil {
		writeOTPFailure(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.codes.Verify(r.Context(), req.Email, req.Code)
	if err != nil {
		h.writeOTPError(w, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, result)
}

func (h *OTPHandler) writeOTPError(w http.ResponseWriter, err error) {
	writeOTPError(w, h.logger, err)
}

// writeOTPError writes the categorized failure body. Uncategorized errors are
// logged and answered with a generic message.
func writeOTPError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var otpErr *models.OTPError
	if errors.As(err, &otpErr) {
		writeOTPFailure(w, models.OTPStatus(err), otpErr.Message)
		return
	}

	logger.Error("one-time code operation failed", slog.Any("error", err))
	writeOTPFailure(w, http.StatusInternalServerError, genericFailureMessage)
}

func writeOTPFailure(w http.ResponseWriter, status int, message string) {
	pkghttp.WriteJSON(w, status, models.OTPResult{Success: false, Message: message})
}
