package infra

import (
	"fmt"
	"log/slog"

	"gopkg.in/gomail.v2"
)

// Mailer sends plain notification emails over SMTP.
type Mailer struct {
	dialer  *gomail.Dialer
	from    string
	logger  *slog.Logger
	enabled bool
}

// NewMailer creates a mailer. An empty host disables sending; messages are
// logged instead.
func NewMailer(cfg *Config, logger *slog.Logger) *Mailer {
	if cfg.SMTPHost == "" {
		logger.Info("smtp mailer disabled")
		return &Mailer{from: cfg.SMTPFrom, logger: logger}
	}
	return &Mailer{
		dialer:  gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword),
		from:    cfg.SMTPFrom,
		logger:  logger,
		enabled: true,
	}
}

// Send delivers one message.
func (m *Mailer) Send(to, subject, body string) error {
	if !m.enabled {
		m.logger.Debug("mail skipped", "to", to, "subject", subject)
		return nil
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", body)

	if err := m.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("send mail to %s: %w", to, err)
	}
	return nil
}
