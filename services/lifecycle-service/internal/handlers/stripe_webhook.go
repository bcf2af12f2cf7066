package handlers

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/gate"
	"github.com/stripe/stripe-go/v79/webhook"
)

// StripeWebhook accepts payment-processor events. Signature verification is
// the auth; the gateway exposes this path publicly.
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.stripeWebhookSecret == "" {
		http.Error(w, "stripe webhook not configured", http.StatusServiceUnavailable)
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if strings.TrimSpace(sigHeader) == "" {
		http.Error(w, "missing Stripe-Signature header", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1 MiB hard cap
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	evt, err := webhook.ConstructEventWithOptions(body, sigHeader, h.stripeWebhookSecret, webhook.ConstructEventOptions{
		Tolerance:                h.stripeWebhookTolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		h.logger.Warn("stripe webhook rejected", "err", err)
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	var object map[string]any
	if evt.Data != nil {
		object = evt.Data.Object
	}
	h.logger.Info("payment provider event received",
		"provider", "stripe",
		"provider_event_id", evt.ID,
		"event_type", string(evt.Type),
		"occurred_at", time.Unix(evt.Created, 0).UTC().Format(time.RFC3339),
	)

	res := h.svc.HandleInboundEvent(r.Context(), gate.Event{
		ID:      evt.ID,
		Type:    string(evt.Type),
		Created: evt.Created,
		Payload: object,
	})
	switch {
	case res.Invalid:
		writeJSON(w, http.StatusBadRequest, map[string]any{"status": "invalid", "error": res.Error})
	case res.Skipped:
		writeJSON(w, http.StatusOK, map[string]any{"status": "duplicate"})
	case res.Success:
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "retryCount": res.RetryCount})
	default:
		// A 5xx makes the provider redeliver; the marker turns that into a
		// duplicate unless it has expired.
		writeJSON(w, http.StatusInternalServerError, map[string]any{"status": "error", "error": res.Error})
	}
}
