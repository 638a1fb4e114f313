package local

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	shopagent "github.com/goliatone/go-shopagent"
)

// VerificationEmail is the message sent after sign-up and on resend.
type VerificationEmail struct {
	To          string
	DisplayName string
	Link        string
	Token       string
}

// Mailer delivers verification emails.
type Mailer interface {
	SendVerification(ctx context.Context, email VerificationEmail) error
}

// MailerFunc adapts a function to Mailer.
type MailerFunc func(ctx context.Context, email VerificationEmail) error

func (f MailerFunc) SendVerification(ctx context.Context, email VerificationEmail) error {
	return f(ctx, email)
}

// SMTPMailer sends verification emails through an SMTP relay.
type SMTPMailer struct {
	config shopagent.MailConfig
	auth   smtp.Auth
	send   func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPMailer creates a mailer for config.
func NewSMTPMailer(config shopagent.MailConfig) *SMTPMailer {
	var auth smtp.Auth
	if config.Username != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}
	return &SMTPMailer{
		config: config,
		auth:   auth,
		send:   smtp.SendMail,
	}
}

// IsConfigured returns true if the SMTP relay is configured.
func (m *SMTPMailer) IsConfigured() bool {
	return m.config.IsConfigured()
}

func (m *SMTPMailer) SendVerification(ctx context.Context, email VerificationEmail) error {
	if !m.IsConfigured() {
		return fmt.Errorf("email not configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	from := m.config.From
	if m.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", m.config.FromName, m.config.From)
	}

	return m.send(m.config.Addr(), m.auth, m.config.From, []string{email.To}, composeVerification(from, email))
}

func composeVerification(from string, email VerificationEmail) []byte {
	greeting := "Hi,"
	if email.DisplayName != "" {
		greeting = fmt.Sprintf("Hi %s,", email.DisplayName)
	}

	var body strings.Builder
	body.WriteString(greeting + "\r\n\r\n")
	body.WriteString("Confirm your email address to start using Shop Agent:\r\n\r\n")
	body.WriteString(email.Link + "\r\n\r\n")
	body.WriteString("If you did not create an account you can ignore this message.\r\n")

	return []byte(fmt.Sprintf(
		"To: %s\r\n"+
			"From: %s\r\n"+
			"Subject: %s\r\n"+
			"Content-Type: text/plain; charset=UTF-8\r\n"+
			"\r\n"+
			"%s",
		email.To,
		from,
		"Verify your email",
		body.String(),
	))
}

// LogMailer writes verification links to the logger instead of sending them.
type LogMailer struct {
	Logger shopagent.Logger
}

func (m LogMailer) SendVerification(ctx context.Context, email VerificationEmail) error {
	logger := m.Logger
	if logger == nil {
		logger = shopagent.DefaultLogger()
	}
	logger.WithContext(ctx).Info("verification email", "to", email.To, "link", email.Link)
	return nil
}
