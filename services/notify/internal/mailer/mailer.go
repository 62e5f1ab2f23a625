package mailer

import (
	"context"

	"github.com/diagnosis/staybook/pkg/config"
	"github.com/diagnosis/staybook/pkg/logger"
)

// Message is one outgoing email. Text and HTML are alternative bodies.
type Message struct {
	ToEmail string
	ToName  string
	Subject string
	Text    string
	HTML    string
}

type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// New picks the transport: the dev mailer when EMAIL_DEV_MODE is set,
// MailerSend when an API key is configured, SMTP otherwise.
func New(cfg config.EmailConfig) Mailer {
	switch {
	case cfg.DevMode:
		logger.Info("Using dev mailer, emails are logged only")
		return NewDevMailer()
	case cfg.MailerSendKey != "":
		logger.Info("Using MailerSend mailer", "from", cfg.SMTPFrom)
		return NewMailerSend(cfg.MailerSendKey, cfg.FromName, cfg.SMTPFrom)
	default:
		logger.Info("Using SMTP mailer", "host", cfg.SMTPHost, "port", cfg.SMTPPort)
		return NewSMTPMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.FromName, cfg.SMTPFrom, cfg.SMTPUser, cfg.SMTPPass, cfg.SMTPUseTLS)
	}
}
