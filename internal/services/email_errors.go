package services

import (
	"context"
	"errors"
	"net"
	"net/textproto"

	"github.com/aws/smithy-go"
)

// Send failure categories written to logs and metrics.
const (
	SendErrorAuth       = "auth"
	SendErrorConnection = "connection"
	SendErrorRejected   = "rejected"
	SendErrorUnknown    = "unknown"
)

// ErrSMTPAuth wraps failures returned by the SMTP AUTH exchange, including the
// client-side refusals net/smtp reports without a reply code.
var ErrSMTPAuth = errors.New("smtp authentication failed")

// ClassifySendError maps a transport error to a coarse category so operators
// can tell credential problems from network problems without the caller
// seeing provider details.
func ClassifySendError(err error) string {
	if err == nil {
		return ""
	}

	if errors.Is(err, ErrSMTPAuth) {
		return SendErrorAuth
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "InvalidClientTokenId", "SignatureDoesNotMatch", "AccessDenied",
			"AccessDeniedException", "UnrecognizedClientException", "ExpiredToken":
			return SendErrorAuth
		case "MessageRejected", "MailFromDomainNotVerifiedException",
			"ConfigurationSetDoesNotExistException", "AccountSendingPausedException":
			return SendErrorRejected
		case "Throttling", "ThrottlingException", "ServiceUnavailable":
			return SendErrorConnection
		}
		return SendErrorUnknown
	}

	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		switch {
		case protoErr.Code == 530 || protoErr.Code == 534 || protoErr.Code == 535:
			return SendErrorAuth
		case protoErr.Code >= 500:
			return SendErrorRejected
		case protoErr.Code >= 400:
			return SendErrorConnection
		}
		return SendErrorUnknown
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return SendErrorConnection
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return SendErrorConnection
	}

	return SendErrorUnknown
}
