package service

import (
	"context"
	"errors"

	"github.com/go-mail/mail/v2"

	"github.com/kevinaaaquil/bookcatalog/logging"
)

// Mailer sends operator notifications to a single admin address over SMTP.
type Mailer struct {
	dialer *mail.Dialer
	from   string
	to     string
}

func NewMailer(host string, port int, username, password, from, to string) *Mailer {
	d := mail.NewDialer(host, port, username, password)
	d.StartTLSPolicy = mail.OpportunisticStartTLS
	return &Mailer{dialer: d, from: from, to: to}
}

// Notify sends a plain-text message. ctx only short-circuits a call made
// after cancellation; the SMTP exchange itself is bounded by the dialer timeout.
func (m *Mailer) Notify(ctx context.Context, subject, body string) error {
	if m == nil {
		return errors.New("mail is not configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := mail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", m.to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", body)
	if err := m.dialer.DialAndSend(msg); err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("to", m.to).Msg("send notification")
		return err
	}
	return nil
}
