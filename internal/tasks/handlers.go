package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/hugh/go-orgs/internal/mail"
)

// Housekeeper removes rows that have outlived their expiry.
type Housekeeper interface {
	PurgeExpired(ctx context.Context) (sessions, verifications int64, err error)
	ExpireInvitations(ctx context.Context) (int64, error)
}

type Handler struct {
	sender      mail.Deliverer
	housekeeper Housekeeper
	logger      *slog.Logger
}

func NewHandler(sender mail.Deliverer, housekeeper Housekeeper, logger *slog.Logger) *Handler {
	return &Handler{
		sender:      sender,
		housekeeper: housekeeper,
		logger:      logger,
	}
}

func (h *Handler) RegisterHandlers(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeEmailSend, h.HandleEmailSend)
	mux.HandleFunc(TypeHousekeepingTick, h.HandleHousekeepingTick)
}

func (h *Handler) HandleEmailSend(ctx context.Context, t *asynq.Task) error {
	var payload EmailPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w: %w", err, asynq.SkipRetry)
	}
	if payload.To == "" {
		return fmt.Errorf("email task without recipient: %w", asynq.SkipRetry)
	}

	if err := h.sender.Deliver(ctx, payload); err != nil {
		h.logger.Error("email delivery failed", "to", payload.To, "subject", payload.Subject, "error", err)
		return err
	}

	h.logger.Info("email sent", "to", payload.To, "subject", payload.Subject)
	return nil
}

// HandleHousekeepingTick deletes expired sessions and verification tokens and
// marks overdue invitations as expired.
func (h *Handler) HandleHousekeepingTick(ctx context.Context, t *asynq.Task) error {
	sessions, verifications, err := h.housekeeper.PurgeExpired(ctx)
	if err != nil {
		return fmt.Errorf("purging expired rows: %w", err)
	}

	invitations, err := h.housekeeper.ExpireInvitations(ctx)
	if err != nil {
		return fmt.Errorf("expiring invitations: %w", err)
	}

	h.logger.Info("housekeeping completed",
		"sessions_deleted", sessions,
		"verifications_deleted", verifications,
		"invitations_expired", invitations,
	)
	return nil
}
