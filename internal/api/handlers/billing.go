package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hugh/go-orgs/internal/api/dto"
	"github.com/hugh/go-orgs/internal/billing"
)

type BillingHandler struct {
	billing       *billing.Service
	webhookSecret string
	logger        *slog.Logger
}

func NewBillingHandler(billingService *billing.Service, webhookSecret string, logger *slog.Logger) *BillingHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &BillingHandler{billing: billingService, webhookSecret: webhookSecret, logger: logger}
}

func (h *BillingHandler) Products(w http.ResponseWriter, r *http.Request) {
	products, err := h.billing.ListProducts(r.Context())
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, products)
}

func (h *BillingHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req dto.CheckoutRequest
	if !decodeJSON(w, r, &req, false) || !validate(w, req.Validate()) {
		return
	}

	url, err := h.billing.CreateCheckout(r.Context(), principal(r), billing.CheckoutInput{
		ProductID:  req.ProductID,
		SuccessURL: req.SuccessURL,
		Units:      req.Units,
	})
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.URLResponse{URL: url})
}

func (h *BillingHandler) Portal(w http.ResponseWriter, r *http.Request) {
	url, err := h.billing.PortalURL(r.Context(), principal(r))
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.URLResponse{URL: url})
}

func (h *BillingHandler) Subscriptions(w http.ResponseWriter, r *http.Request) {
	subs, err := h.billing.ListSubscriptions(r.Context(), principal(r))
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, subs)
}

// ChangeSubscription serves POST /subscriptions/{id}/{action}.
func (h *BillingHandler) ChangeSubscription(w http.ResponseWriter, r *http.Request) {
	var req dto.ChangeSubscriptionRequest
	if !decodeJSON(w, r, &req, true) {
		return
	}

	action := billing.SubscriptionAction(chi.URLParam(r, "action"))
	sub, err := h.billing.ChangeSubscription(r.Context(), principal(r), chi.URLParam(r, "id"), action, req.ProductID)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (h *BillingHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid request body"})
		return
	}

	_, err = h.billing.HandleWebhook(r.Context(), h.webhookSecret, r.Header.Get(billing.SignatureHeader), body)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, dto.StatusResponse{Status: true})
	case errors.Is(err, billing.ErrInvalidSignature):
		writeJSON(w, http.StatusUnauthorized, dto.ErrorResponse{Error: "Invalid signature"})
	case errors.Is(err, billing.ErrUnknownEntity):
		h.logger.Warn("billing webhook without entity", "error", err)
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Missing billing entity"})
	case errors.Is(err, billing.ErrWebhookSecret):
		h.logger.Error("billing webhook secret not configured")
		writeJSON(w, http.StatusInternalServerError, dto.ErrorResponse{Error: "Webhook not configured"})
	default:
		writeError(w, h.logger, r, err)
	}
}
