package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/BradenHooton/carelink/pkg/logger"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// ErrEmailNotConfigured is returned by transports that lack credentials.
var ErrEmailNotConfigured = errors.New("email transport is not configured")

// Message is a single outbound email with HTML and plain text bodies.
type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// EmailService defines the interface for sending emails
type EmailService interface {
	// Configured reports whether the transport has the credentials it needs.
	// Callers check it before first use; a false result is distinct from a
	// send-time failure.
	Configured() bool
	Send(ctx context.Context, msg Message) (deliveryID string, err error)
}

// sesClient is the subset of the SES API used for delivery.
type sesClient interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESEmailService sends emails using AWS SES
type SESEmailService struct {
	client      sesClient
	fromAddress string
	configured  bool
	logger      *slog.Logger
}

// NewSESEmailService loads the default AWS credential chain for region. When
// no credentials resolve the service is returned unconfigured rather than
// failing, so the API can start and report the condition per request.
func NewSESEmailService(ctx context.Context, region, fromAddress string, logger *slog.Logger) (*SESEmailService, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	configured := fromAddress != "" && cfg.Region != ""
	if configured {
		if _, err := cfg.Credentials.Retrieve(ctx); err != nil {
			logger.Warn("AWS credentials unavailable, email disabled", slog.Any("error", err))
			configured = false
		}
	}

	return &SESEmailService{
		client:      ses.NewFromConfig(cfg),
		fromAddress: fromAddress,
		configured:  configured,
		logger:      logger,
	}, nil
}

func (s *SESEmailService) Configured() bool {
	return s.configured
}

// Send delivers msg through SES and returns the SES message id.
func (s *SESEmailService) Send(ctx context.Context, msg Message) (string, error) {
	if !s.configured {
		return "", ErrEmailNotConfigured
	}

	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{msg.To},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(msg.Subject),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{
				Html: &types.Content{
					Data:    aws.String(msg.HTML),
					Charset: aws.String("UTF-8"),
				},
				Text: &types.Content{
					Data:    aws.String(msg.Text),
					Charset: aws.String("UTF-8"),
				},
			},
		},
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return "", fmt.Errorf("ses send failed: %w", err)
	}

	messageID := aws.ToString(result.MessageId)
	s.logger.Debug("email sent via SES",
		slog.String("email", logger.SanitizedEmail(msg.To)),
		slog.String("message_id", messageID))

	return messageID, nil
}

// DisabledEmailService stands in when no provider is configured.
type DisabledEmailService struct{}

func (DisabledEmailService) Configured() bool {
	return false
}

func (DisabledEmailService) Send(context.Context, Message) (string, error) {
	return "", ErrEmailNotConfigured
}
