package handler

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/tripledger/commission/internal/service"
)

// WebhookHandler handles payment-processor callbacks.
type WebhookHandler struct {
	payoutSvc *service.PayoutService
	logger    *slog.Logger
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(payoutSvc *service.PayoutService, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{payoutSvc: payoutSvc, logger: logger}
}

// HandleStripeWebhook handles POST /webhooks/stripe.
// The raw body is needed for signature verification, so it is read before any decoding.
func (h *WebhookHandler) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.logger.Error("read webhook body", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if sigHeader == "" {
		h.logger.Warn("missing Stripe-Signature header")
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if err := h.payoutSvc.HandleStripeWebhook(r.Context(), body, sigHeader); err != nil {
		h.logger.Error("process stripe webhook", "error", err)
		RespondError(w, err)
		return
	}

	// Stripe only needs a 2xx.
	w.WriteHeader(http.StatusOK)
}
