// Package mail renders and delivers the account emails and records the
// delivery events the mail provider reports back.
package mail

import (
	"context"
	"errors"
	"fmt"

	"github.com/hugh/go-orgs/pkg/config"
	"gopkg.in/gomail.v2"
)

var ErrNotConfigured = errors.New("mail: no SMTP host configured")

// Message is a rendered email. It is also the payload of the email:send task.
type Message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
}

// Deliverer hands a message off, either straight to SMTP or onto a queue.
type Deliverer interface {
	Deliver(ctx context.Context, msg Message) error
}

type SMTPSender struct {
	dialer *gomail.Dialer
	from   string
}

var _ Deliverer = (*SMTPSender)(nil)

func NewSMTPSender(cfg *config.MailConfig) *SMTPSender {
	return &SMTPSender{
		dialer: gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword),
		from:   cfg.From,
	}
}

func (s *SMTPSender) Deliver(ctx context.Context, msg Message) error {
	if s.dialer.Host == "" {
		return ErrNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/html", msg.HTML)

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}
