package clients

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"

	"github.com/go-mail/mail/v2"
	"github.com/sirupsen/logrus"
)

type MailerConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type Attachment struct {
	Name string
	Data []byte
}

// Mailer sends HTML mail over SMTP. When disabled every send is a logged no-op.
type Mailer struct {
	dialer  *mail.Dialer
	from    string
	enabled bool
	log     *logrus.Logger
}

func NewMailer(cfg MailerConfig, log *logrus.Logger) *Mailer {
	d := mail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	d.TLSConfig = &tls.Config{ServerName: cfg.Host}
	return &Mailer{dialer: d, from: cfg.From, enabled: cfg.Enabled, log: log}
}

func (m *Mailer) Send(ctx context.Context, to, subject, htmlBody string, attachments ...Attachment) error {
	if !m.enabled {
		m.log.WithField("to", to).Debug("email sending disabled")
		return nil
	}
	if to == "" {
		return fmt.Errorf("no recipient for %q", subject)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := mail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/html", htmlBody)
	for _, a := range attachments {
		msg.AttachReader(a.Name, bytes.NewReader(a.Data))
	}

	if err := m.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("send email to %s: %w", to, err)
	}
	m.log.WithField("to", to).Info("email sent")
	return nil
}
