package mail

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hugh/go-orgs/internal/auth"
)

// Mailer renders the auth flows' emails and passes them to a Deliverer.
type Mailer struct {
	renderer  *Renderer
	deliverer Deliverer
	logger    *slog.Logger
}

var _ auth.Mailer = (*Mailer)(nil)

func NewMailer(renderer *Renderer, deliverer Deliverer, logger *slog.Logger) *Mailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mailer{renderer: renderer, deliverer: deliverer, logger: logger}
}

type linkData struct {
	Name string
	Link string
}

func (m *Mailer) SendVerificationEmail(ctx context.Context, to, name, link string) error {
	return m.send(ctx, to, TemplateVerifyEmail, linkData{Name: name, Link: link})
}

func (m *Mailer) SendResetPasswordEmail(ctx context.Context, to, name, link string) error {
	return m.send(ctx, to, TemplateResetPassword, linkData{Name: name, Link: link})
}

func (m *Mailer) SendInvitationEmail(ctx context.Context, inv auth.InvitationEmail) error {
	return m.send(ctx, inv.To, TemplateInvitation, inv)
}

type changeEmailData struct {
	Name     string
	NewEmail string
	Link     string
}

func (m *Mailer) SendChangeEmailVerification(ctx context.Context, to, name, newEmail, link string) error {
	return m.send(ctx, to, TemplateChangeEmail, changeEmailData{Name: name, NewEmail: newEmail, Link: link})
}

func (m *Mailer) SendMagicLinkEmail(ctx context.Context, to, link string) error {
	return m.send(ctx, to, TemplateMagicLink, linkData{Link: link})
}

type otpData struct {
	Code    string
	Purpose string
}

func (m *Mailer) SendOTPEmail(ctx context.Context, to, code, purpose string) error {
	return m.send(ctx, to, TemplateOTP, otpData{Code: code, Purpose: purpose})
}

func (m *Mailer) send(ctx context.Context, to, template string, data interface{}) error {
	subject, body, err := m.renderer.Render(template, data)
	if err != nil {
		return err
	}

	if err := m.deliverer.Deliver(ctx, Message{To: to, Subject: subject, HTML: body}); err != nil {
		return fmt.Errorf("delivering %s email: %w", template, err)
	}

	m.logger.Debug("email handed off", "template", template, "to", to)
	return nil
}
