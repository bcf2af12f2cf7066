package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v79/webhook"
)

func main() {
	var (
		baseURL = flag.String("base-url", getenv("BASE_URL", "http://localhost:8090"), "lifecycle service base url")
		evtType = flag.String("type", getenv("STRIPE_EVENT_TYPE", "payment_intent.succeeded"), "stripe event type")
		booking = flag.String("booking-id", getenv("BOOKING_ID", ""), "booking_id metadata")
		amount  = flag.Int64("amount", 5000, "amount in cents")
		eventID = flag.String("event-id", "", "event id; reuse one to exercise duplicate handling")
		repeat  = flag.Int("repeat", 1, "how many times to deliver the same event")
		secret  = flag.String("secret", getenv("STRIPE_WEBHOOK_SECRET", ""), "stripe webhook signing secret (whsec_...)")
	)
	flag.Parse()

	if strings.TrimSpace(*secret) == "" {
		fatal("STRIPE_WEBHOOK_SECRET is required")
	}
	if strings.TrimSpace(*booking) == "" {
		fatal("BOOKING_ID is required")
	}

	now := time.Now().UTC()
	if *eventID == "" {
		*eventID = fmt.Sprintf("evt_test_%d", now.UnixNano())
	}

	payload, err := buildEventJSON(*eventID, *evtType, now, *booking, *amount)
	if err != nil {
		fatal(err.Error())
	}

	for i := 0; i < *repeat; i++ {
		signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
			Payload:   payload,
			Secret:    *secret,
			Timestamp: time.Now().UTC(),
			Scheme:    "v1",
		})

		req, err := http.NewRequest(http.MethodPost, strings.TrimRight(*baseURL, "/")+"/api/v1/webhooks/stripe", bytes.NewReader(payload))
		if err != nil {
			fatal(err.Error())
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Stripe-Signature", signed.Header)

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			fatal(err.Error())
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		fmt.Printf("event=%s status=%d body=%s\n", *eventID, resp.StatusCode, strings.TrimSpace(string(body)))
	}
}

func buildEventJSON(eventID, eventType string, t time.Time, bookingID string, amount int64) ([]byte, error) {
	metadata := map[string]any{"booking_id": bookingID}
	var object map[string]any
	switch eventType {
	case "payment_intent.succeeded", "payment_intent.payment_failed":
		object = map[string]any{
			"id":       "pi_test_" + eventID,
			"object":   "payment_intent",
			"amount":   amount,
			"currency": "usd",
			"metadata": metadata,
		}
		if eventType == "payment_intent.payment_failed" {
			object["last_payment_error"] = map[string]any{
				"code":    "card_declined",
				"message": "Your card was declined.",
			}
		}
	case "checkout.session.completed":
		object = map[string]any{
			"id":             "cs_test_" + eventID,
			"object":         "checkout.session",
			"payment_intent": "pi_test_" + eventID,
			"amount_total":   amount,
			"currency":       "usd",
			"metadata":       metadata,
		}
	case "charge.refunded":
		object = map[string]any{
			"id":             "ch_test_" + eventID,
			"object":         "charge",
			"payment_intent": "pi_test_" + eventID,
			"amount":         amount,
			"currency":       "usd",
			"metadata":       metadata,
		}
	default:
		return nil, fmt.Errorf("unsupported event type: %s", eventType)
	}

	return json.Marshal(map[string]any{
		"id":          eventID,
		"object":      "event",
		"created":     t.Unix(),
		"type":        eventType,
		"api_version": "2024-06-20",
		"data":        map[string]any{"object": object},
	})
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(2)
}
