package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/hugh/go-orgs/internal/api/dto"
	"github.com/hugh/go-orgs/internal/mail"
)

// MailWebhookHandler records delivery events posted by the mail provider.
type MailWebhookHandler struct {
	events *mail.EventRecorder
	logger *slog.Logger
}

func NewMailWebhookHandler(events *mail.EventRecorder, logger *slog.Logger) *MailWebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &MailWebhookHandler{events: events, logger: logger}
}

func (h *MailWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid request body"})
		return
	}

	_, err = h.events.Handle(r.Context(), r.Header, body)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, dto.StatusResponse{Status: true})
	case errors.Is(err, mail.ErrMissingSignature), errors.Is(err, mail.ErrInvalidSignature), errors.Is(err, mail.ErrStaleWebhook):
		writeJSON(w, http.StatusUnauthorized, dto.ErrorResponse{Error: "Invalid signature"})
	case errors.Is(err, mail.ErrInvalidEvent):
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid event"})
	case errors.Is(err, mail.ErrWebhookSecret):
		h.logger.Error("mail webhook secret not configured")
		writeJSON(w, http.StatusInternalServerError, dto.ErrorResponse{Error: "Webhook not configured"})
	default:
		writeError(w, h.logger, r, err)
	}
}
