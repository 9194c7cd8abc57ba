package services

import (
	"bytes"
	"embed"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
	"time"

	"github.com/BradenHooton/carelink/internal/models"
)

//go:embed templates/otp_email.html templates/otp_email.txt
var emailTemplates embed.FS

var (
	otpHTMLTemplate = htmltemplate.Must(htmltemplate.ParseFS(emailTemplates, "templates/otp_email.html"))
	otpTextTemplate = texttemplate.Must(texttemplate.ParseFS(emailTemplates, "templates/otp_email.txt"))
)

type otpEmailData struct {
	AppName   string
	Heading   string
	Intro     string
	Ignore    string
	Code      string
	ExpiresIn string
}

// renderOTPEmail builds the purpose-specific code email.
func renderOTPEmail(appName, to, code string, purpose models.OTPPurpose, ttl time.Duration) (Message, error) {
	data := otpEmailData{
		AppName:   appName,
		Code:      code,
		ExpiresIn: humanizeDuration(ttl),
	}

	var subject string
	switch purpose {
	case models.OTPPurposeReset:
		subject = fmt.Sprintf("%s password reset code", appName)
		data.Heading = "Reset your password"
		data.Intro = "Use the code below to reset your password."
		data.Ignore = "If you did not request a password reset, you can ignore this email. Your password will not change."
	default:
		subject = fmt.Sprintf("%s verification code", appName)
		data.Heading = "Verify your email address"
		data.Intro = "Use the code below to finish creating your account."
		data.Ignore = "If you did not sign up, you can ignore this email."
	}

	var html, text bytes.Buffer
	if err := otpHTMLTemplate.Execute(&html, data); err != nil {
		return Message{}, fmt.Errorf("failed to render html email: %w", err)
	}
	if err := otpTextTemplate.Execute(&text, data); err != nil {
		return Message{}, fmt.Errorf("failed to render text email: %w", err)
	}

	return Message{
		To:      to,
		Subject: subject,
		HTML:    html.String(),
		Text:    text.String(),
	}, nil
}

// humanizeDuration renders whole minutes or seconds, e.g. "1 minute", "90 seconds".
func humanizeDuration(d time.Duration) string {
	if d >= time.Minute && d%time.Minute == 0 {
		return plural(int(d/time.Minute), "minute")
	}
	return plural(int(d.Round(time.Second)/time.Second), "second")
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %s", n, strings.TrimSuffix(unit, "s")+"s")
}
