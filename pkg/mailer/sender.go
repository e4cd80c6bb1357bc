package mailer

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/platinummonkey/foreman/pkg/config"
	"github.com/platinummonkey/foreman/pkg/observability"
)

// Sender delivers a single message to a set of recipients.
type Sender interface {
	Send(ctx context.Context, to []string, subject, body string) error
}

// SMTPSender sends mail through a plain SMTP relay.
type SMTPSender struct {
	host     string
	port     int
	username string
	password string
	from     string
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewSMTPSender creates a sender from mail configuration.
func NewSMTPSender(cfg config.MailConfig, logger *observability.Logger, metrics *observability.Metrics) *SMTPSender {
	return &SMTPSender{
		host:     cfg.Host,
		port:     cfg.Port,
		username: cfg.Username,
		password: cfg.Password,
		from:     cfg.From,
		logger:   logger,
		metrics:  metrics,
	}
}

// Send delivers one message. Recipients are comma-joined into a single To
// header and the message is sent as plain text.
func (s *SMTPSender) Send(ctx context.Context, to []string, subject, body string) error {
	if err := s.validate(to); err != nil {
		return err
	}

	msg := buildMessage(s.from, to, subject, body)

	var auth smtp.Auth
	if s.username != "" {
		auth = smtp.PlainAuth("", s.username, s.password, s.host)
	}

	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	if err := smtp.SendMail(addr, auth, s.from, to, msg); err != nil {
		if s.metrics != nil {
			s.metrics.MailSendsTotal.WithLabelValues("error").Inc()
		}
		return fmt.Errorf("failed to send email: %w", err)
	}
	if s.metrics != nil {
		s.metrics.MailSendsTotal.WithLabelValues("ok").Inc()
	}
	s.logger.WithFields(map[string]interface{}{
		"to":      strings.Join(to, ","),
		"subject": subject,
	}).Debug("email sent")
	return nil
}

func (s *SMTPSender) validate(to []string) error {
	if s.host == "" {
		return fmt.Errorf("smtp host is required")
	}
	if s.port <= 0 {
		return fmt.Errorf("smtp port is required")
	}
	if s.from == "" {
		return fmt.Errorf("from address is required")
	}
	if len(to) == 0 {
		return fmt.Errorf("at least one recipient is required")
	}
	return nil
}

func buildMessage(from string, to []string, subject, body string) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + strings.Join(to, ",") + "\r\n")
	b.WriteString("Subject: " + subject + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	return []byte(b.String())
}

// NoopSender discards all mail. Used when SMTP is disabled.
type NoopSender struct {
	logger *observability.Logger
}

// NewNoopSender creates a sender that logs and drops every message.
func NewNoopSender(logger *observability.Logger) *NoopSender {
	return &NoopSender{logger: logger}
}

// Send logs the message and returns nil.
func (s *NoopSender) Send(ctx context.Context, to []string, subject, body string) error {
	s.logger.WithFields(map[string]interface{}{
		"to":      strings.Join(to, ","),
		"subject": subject,
	}).Debug("mail disabled, dropping message")
	return nil
}
