package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/bookingflow/libs/httpx"
	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/notify"
)

// Sender posts notifications as JSON to a provider gateway (SMS or push).
type Sender struct {
	provider string
	url      string
	token    string
	http     *http.Client
}

func NewSender(provider string, url string, token string) *Sender {
	return &Sender{
		provider: provider,
		url:      strings.TrimSpace(url),
		token:    strings.TrimSpace(token),
		http: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

func (s *Sender) ProviderID() string {
	return s.provider
}

type payload struct {
	ID        string         `json:"id"`
	BookingID string         `json:"booking_id"`
	Kind      string         `json:"kind"`
	Priority  string         `json:"priority,omitempty"`
	To        string         `json:"to"`
	Title     string         `json:"title,omitempty"`
	Body      string         `json:"body"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type response struct {
	ID string `json:"id"`
}

// Deliver implements notify.Channel. The gateway's id is returned when it
// sends one, otherwise the id generated for the request.
func (s *Sender) Deliver(ctx context.Context, msg notify.Message) (string, error) {
	if s.url == "" {
		return "", errors.New(s.provider + " url not configured")
	}
	p := payload{
		ID:        uuid.NewString(),
		BookingID: msg.BookingID,
		Kind:      string(msg.Kind),
		Priority:  string(msg.Priority),
		To:        msg.To,
		Title:     msg.Subject,
		Body:      msg.Body,
		Metadata:  msg.Metadata,
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(raw))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", p.ID)
	if id := httpx.RequestIDFromContext(ctx); id != "" {
		req.Header.Set(httpx.RequestIDHeader, id)
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%s returned %d", s.provider, resp.StatusCode)
	}

	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err == nil && out.ID != "" {
		return out.ID, nil
	}
	return p.ID, nil
}

// NoopSender accepts everything. Used when a transport is not configured.
type NoopSender struct {
	provider string
}

func NewNoopSender(provider string) *NoopSender {
	return &NoopSender{provider: provider}
}

func (s *NoopSender) ProviderID() string {
	return s.provider + "-noop"
}

func (s *NoopSender) Deliver(_ context.Context, _ notify.Message) (string, error) {
	return "noop-" + uuid.NewString(), nil
}
