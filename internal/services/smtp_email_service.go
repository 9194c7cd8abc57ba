package services

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"mime"
	"mime/multipart"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/BradenHooton/carelink/pkg/logger"
	"github.com/oklog/ulid/v2"
)

// SMTPConfig holds the settings for an SMTP relay.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPEmailService sends multipart emails over SMTP. Port 465 uses implicit
// TLS; other ports upgrade with STARTTLS when the server offers it.
type SMTPEmailService struct {
	cfg         SMTPConfig
	dialTimeout time.Duration
	logger      *slog.Logger
}

func NewSMTPEmailService(cfg SMTPConfig, logger *slog.Logger) *SMTPEmailService {
	return &SMTPEmailService{
		cfg:         cfg,
		dialTimeout: 10 * time.Second,
		logger:      logger,
	}
}

func (s *SMTPEmailService) Configured() bool {
	return s.cfg.Host != "" && s.cfg.Username != "" && s.cfg.Password != "" && s.cfg.From != ""
}

// Send delivers msg and returns the generated Message-ID.
func (s *SMTPEmailService) Send(ctx context.Context, msg Message) (string, error) {
	if !s.Configured() {
		return "", ErrEmailNotConfigured
	}

	sender, err := envelopeAddress(s.cfg.From)
	if err != nil {
		return "", err
	}

	messageID := fmt.Sprintf("<%s@%s>", ulid.Make().String(), s.cfg.Host)
	body, err := buildMIMEMessage(s.cfg.From, messageID, msg)
	if err != nil {
		return "", fmt.Errorf("failed to build message: %w", err)
	}

	client, err := s.dial(ctx)
	if err != nil {
		return "", err
	}
	defer client.Close()

	if err := client.Auth(smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)); err != nil {
		return "", fmt.Errorf("%w: %w", ErrSMTPAuth, err)
	}
	if err := client.Mail(sender); err != nil {
		return "", fmt.Errorf("smtp MAIL FROM failed: %w", err)
	}
	if err := client.Rcpt(msg.To); err != nil {
		return "", fmt.Errorf("smtp RCPT TO failed: %w", err)
	}

	writer, err := client.Data()
	if err != nil {
		return "", fmt.Errorf("smtp DATA failed: %w", err)
	}
	if _, err := writer.Write(body); err != nil {
		_ = writer.Close()
		return "", fmt.Errorf("smtp write failed: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("smtp write failed: %w", err)
	}

	_ = client.Quit()

	s.logger.Debug("email sent via SMTP",
		slog.String("email", logger.SanitizedEmail(msg.To)),
		slog.String("message_id", messageID))

	return messageID, nil
}

func (s *SMTPEmailService) dial(ctx context.Context) (*smtp.Client, error) {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	tlsConfig := &tls.Config{ServerName: s.cfg.Host, MinVersion: tls.VersionTLS12}
	dialer := &net.Dialer{Timeout: s.dialTimeout}

	var conn net.Conn
	var err error
	if s.cfg.Port == 465 {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: tlsConfig}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("smtp dial failed: %w", err)
	}

	client, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("smtp handshake failed: %w", err)
	}

	if s.cfg.Port != 465 {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(tlsConfig); err != nil {
				_ = client.Close()
				return nil, fmt.Errorf("smtp starttls failed: %w", err)
			}
		}
	}

	return client, nil
}

// buildMIMEMessage renders a multipart/alternative message with text and
// HTML parts.
func buildMIMEMessage(from, messageID string, msg Message) ([]byte, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	parts := []struct {
		contentType string
		content     string
	}{
		{"text/plain; charset=utf-8", msg.Text},
		{"text/html; charset=utf-8", msg.HTML},
	}
	for _, p := range parts {
		w, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {p.contentType},
			"Content-Transfer-Encoding": {"8bit"},
		})
		if err != nil {
			return nil, err
		}
		if _, err := w.Write([]byte(p.content)); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	headers := []string{
		"From: " + from,
		"To: " + msg.To,
		"Subject: " + mime.QEncoding.Encode("utf-8", msg.Subject),
		"Message-ID: " + messageID,
		"Date: " + time.Now().UTC().Format(time.RFC1123Z),
		"MIME-Version: 1.0",
		"Content-Type: multipart/alternative; boundary=" + mw.Boundary(),
		"",
		"",
	}

	var out bytes.Buffer
	out.WriteString(strings.Join(headers, "\r\n"))
	out.Write(body.Bytes())
	return out.Bytes(), nil
}

// envelopeAddress returns the bare address of an RFC 5322 From value such as
// "CareLink <no-reply@example.com>".
func envelopeAddress(from string) (string, error) {
	addr, err := mail.ParseAddress(from)
	if err != nil {
		return "", fmt.Errorf("invalid sender address %q: %w", from, err)
	}
	return addr.Address, nil
}
