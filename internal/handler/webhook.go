package handler

import (
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/magnetlab/backend/internal/service"
	"github.com/magnetlab/backend/pkg/payment"
)

// Gateway webhook bodies are small; cap reads well above the largest event.
const maxWebhookBody = 1 << 20

// WebhookHandler receives billing gateway events and feeds them to the
// reconciler. The gateway retries on non-2xx, so a payload we cannot act on
// (unknown kind, anomaly) is still acknowledged with 200; only a bad
// signature or a persistence failure is refused.
type WebhookHandler struct {
	gateway    payment.Gateway
	reconciler *service.Reconciler
	log        zerolog.Logger
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(gateway payment.Gateway, reconciler *service.Reconciler, log zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{gateway: gateway, reconciler: reconciler, log: log}
}

// HandleBilling handles POST /api/webhooks/billing.
func (h *WebhookHandler) HandleBilling(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	event, err := h.gateway.ConstructEvent(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		h.log.Warn().Err(err).Msg("webhook rejected: signature verification failed")
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}
	if event == nil {
		// Verified but not a kind we act on.
		w.WriteHeader(http.StatusOK)
		return
	}

	if err := h.reconciler.HandleEvent(r.Context(), event); err != nil {
		h.log.Error().Err(err).Str("kind", string(event.Kind)).Msg("webhook reconciliation failed")
		http.Error(w, "reconciliation failed", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}
