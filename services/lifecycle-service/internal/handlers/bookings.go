package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/booking"
)

type transitionRequest struct {
	BookingID string `json:"booking_id"`
	Status    string `json:"status"`
	Notes     string `json:"notes"`
}

func (h *Handler) Transition(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req transitionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	req.BookingID = strings.TrimSpace(req.BookingID)
	target, err := booking.ParseStatus(strings.ToUpper(strings.TrimSpace(req.Status)))
	if req.BookingID == "" || err != nil {
		http.Error(w, "booking_id and a valid status are required", http.StatusBadRequest)
		return
	}

	b, err := h.svc.RequestTransition(r.Context(), req.BookingID, target, strings.TrimSpace(req.Notes), actor(r))
	if err != nil {
		h.writeBookingError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingResponse(b))
}

type lifecycleEventRequest struct {
	Event     string         `json:"event"`
	BookingID string         `json:"booking_id"`
	Data      map[string]any `json:"data"`
}

// LifecycleEvent fires a business event for one booking, e.g. document_ready.
func (h *Handler) LifecycleEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req lifecycleEventRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	req.Event = strings.TrimSpace(req.Event)
	req.BookingID = strings.TrimSpace(req.BookingID)
	if req.Event == "" || req.BookingID == "" {
		http.Error(w, "event and booking_id are required", http.StatusBadRequest)
		return
	}

	created, err := h.svc.OnBookingLifecycleEvent(r.Context(), req.Event, req.BookingID, req.Data)
	if err != nil {
		h.logger.Error("lifecycle event failed", "event", req.Event, "booking_id", req.BookingID, "err", err)
	}
	ids := make([]string, 0, len(created))
	for _, n := range created {
		ids = append(ids, n.ID)
	}
	resp := map[string]any{"scheduled": ids}
	if err != nil {
		resp["error"] = err.Error()
	}
	writeJSON(w, http.StatusAccepted, resp)
}

type createBookingRequest struct {
	ServiceType       string     `json:"service_type"`
	CustomerName      string     `json:"customer_name"`
	CustomerEmail     string     `json:"customer_email"`
	CustomerPhone     string     `json:"customer_phone"`
	ScheduledDateTime *time.Time `json:"scheduled_date_time"`
	Notes             string     `json:"notes"`
}

func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req createBookingRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.ServiceType) == "" {
		http.Error(w, "service_type is required", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.CustomerEmail) == "" && strings.TrimSpace(req.CustomerPhone) == "" {
		http.Error(w, "customer_email or customer_phone is required", http.StatusBadRequest)
		return
	}

	b, err := h.svc.CreateBooking(r.Context(), booking.NewBooking{
		ServiceType:       strings.TrimSpace(req.ServiceType),
		CustomerName:      strings.TrimSpace(req.CustomerName),
		CustomerEmail:     strings.TrimSpace(req.CustomerEmail),
		CustomerPhone:     strings.TrimSpace(req.CustomerPhone),
		ScheduledDateTime: req.ScheduledDateTime,
		Notes:             req.Notes,
	})
	if err != nil {
		h.logger.Error("create booking failed", "err", err)
		http.Error(w, "failed to create booking", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, toBookingResponse(b))
}

func (h *Handler) writeBookingError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, booking.ErrNotFound):
		http.Error(w, "booking not found", http.StatusNotFound)
	case errors.Is(err, booking.ErrInvalidTransition):
		writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error()})
	default:
		h.logger.Error("booking request failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

type bookingResponse struct {
	ID                string     `json:"id"`
	Status            string     `json:"status"`
	ServiceType       string     `json:"service_type"`
	CustomerName      string     `json:"customer_name,omitempty"`
	ScheduledDateTime *time.Time `json:"scheduled_date_time,omitempty"`
	ActualEndDateTime *time.Time `json:"actual_end_date_time,omitempty"`
	Notes             string     `json:"notes,omitempty"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

func toBookingResponse(b booking.Booking) bookingResponse {
	return bookingResponse{
		ID:                b.ID,
		Status:            string(b.Status),
		ServiceType:       b.ServiceType,
		CustomerName:      b.CustomerName,
		ScheduledDateTime: b.ScheduledDateTime,
		ActualEndDateTime: b.ActualEndDateTime,
		Notes:             b.Notes,
		UpdatedAt:         b.UpdatedAt,
	}
}
