package mailer

import (
	"go.uber.org/zap"
	gomail "gopkg.in/gomail.v2"

	"github.com/spec-kit/helpdesk/internal/config"
)

// Mailer delivers outbound notification and reply mail.
type Mailer interface {
	Send(to []string, subject, body string) error
}

// SMTPMailer sends mail through a configured SMTP relay. When no host is
// configured the mailer degrades to logging only, which keeps local
// development working without a relay.
type SMTPMailer struct {
	dialer *gomail.Dialer
	from   string
	logger *zap.Logger
}

// NewSMTPMailer builds a mailer from SMTP settings.
func NewSMTPMailer(cfg config.SMTPConfig, logger *zap.Logger) *SMTPMailer {
	m := &SMTPMailer{from: cfg.From, logger: logger}
	if cfg.Host != "" {
		m.dialer = gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	}
	return m
}

// Send delivers one message to the listed recipients.
func (m *SMTPMailer) Send(to []string, subject, body string) error {
	if len(to) == 0 {
		return nil
	}
	if m.dialer == nil {
		m.logger.Info("smtp disabled; mail not sent",
			zap.Strings("to", to),
			zap.String("subject", subject))
		return nil
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", to...)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", body)

	if err := m.dialer.DialAndSend(msg); err != nil {
		m.logger.Error("failed to send mail", zap.Error(err), zap.Strings("to", to))
		return err
	}
	return nil
}
