package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/bookingflow/libs/httpx"
	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/orchestrator"
)

type Handler struct {
	svc                    *orchestrator.Service
	logger                 *slog.Logger
	stripeWebhookSecret    string
	stripeWebhookTolerance time.Duration
}

type Config struct {
	StripeWebhookSecret           string
	StripeWebhookToleranceSeconds int
}

func New(svc *orchestrator.Service, logger *slog.Logger, cfg Config) *Handler {
	tolSeconds := cfg.StripeWebhookToleranceSeconds
	if tolSeconds <= 0 {
		tolSeconds = 300
	}
	return &Handler{
		svc:                    svc,
		logger:                 logger,
		stripeWebhookSecret:    strings.TrimSpace(cfg.StripeWebhookSecret),
		stripeWebhookTolerance: time.Duration(tolSeconds) * time.Second,
	}
}

// Register mounts the service routes on mux. webhookLimit guards the public
// payment webhook; nil means unlimited.
func (h *Handler) Register(mux *http.ServeMux, webhookLimit httpx.Middleware) {
	webhook := http.Handler(http.HandlerFunc(h.StripeWebhook))
	if webhookLimit != nil {
		webhook = webhookLimit(webhook)
	}
	mux.Handle("/api/v1/webhooks/stripe", webhook)

	staff := httpx.RequireRole("staff", "admin", "owner")
	mux.Handle("/api/v1/bookings/transition", staff(http.HandlerFunc(h.Transition)))
	mux.Handle("/api/v1/bookings/events", staff(http.HandlerFunc(h.LifecycleEvent)))

	internal := httpx.RequireRole("admin", "system")
	mux.Handle("/api/v1/internal/bookings", internal(http.HandlerFunc(h.CreateBooking)))
	mux.Handle("/api/v1/internal/sweeps/auto-progress", internal(http.HandlerFunc(h.AutoProgressSweep)))
	mux.Handle("/api/v1/internal/sweeps/due-notifications", internal(http.HandlerFunc(h.DueNotificationSweep)))
	mux.Handle("/api/v1/internal/rules", internal(http.HandlerFunc(h.Rules)))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func actor(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get("X-User-Id")); id != "" {
		return id
	}
	if role := strings.TrimSpace(r.Header.Get(httpx.RoleHeader)); role != "" {
		return role
	}
	return "unknown"
}
