package handlers

import (
	"net/http"

	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/rules"
)

func (h *Handler) AutoProgressSweep(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	report, err := h.svc.RunAutoProgressSweep(r.Context())
	if err != nil {
		h.logger.Error("auto-progress sweep failed", "err", err)
		http.Error(w, "sweep failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) DueNotificationSweep(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	report, err := h.svc.RunDueNotificationSweep(r.Context())
	if err != nil {
		h.logger.Error("due notification sweep failed", "err", err)
		http.Error(w, "sweep failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Rules returns the active rule set in its YAML file form.
func (h *Handler) Rules(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	out, err := rules.Encode(h.svc.RuleSet())
	if err != nil {
		h.logger.Error("encode rules failed", "err", err)
		http.Error(w, "failed to encode rules", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}
