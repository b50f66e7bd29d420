package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/gobilling/pkg/billing"
	"github.com/mihaimyh/gobilling/pkg/billing/internal"
)

// EventProcessor consumes verified, classified webhook events.
type EventProcessor interface {
	Process(ctx context.Context, event billing.Event) error
}

// WebhookHandler returns the HTTP handler for the Stripe webhook endpoint,
// wrapped with per-IP rate limiting. A processing failure answers 500 so
// Stripe redelivers the event; redelivery is the retry path for events whose
// prerequisites have not arrived yet.
func (c *Client) WebhookHandler(processor EventProcessor) http.Handler {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.handleWebhook(w, r, processor)
	})
	return c.rateLimiter.Middleware(handler)
}

func (c *Client) handleWebhook(w http.ResponseWriter, r *http.Request, processor EventProcessor) {
	startTime := time.Now()
	setSecurityHeaders(w)

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if len(c.webhookSecret) == 0 {
		http.Error(w, "webhook not configured", http.StatusServiceUnavailable)
		return
	}

	body, err := internal.ReadBodyStrict(w, r, maxWebhookBodyBytes)
	if err != nil {
		if errors.Is(err, internal.ErrPayloadTooLarge) {
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
			c.metrics.RecordWebhookError(providerName, "payload_too_large")
		} else {
			http.Error(w, "invalid payload", http.StatusBadRequest)
			c.metrics.RecordWebhookError(providerName, "invalid_payload")
		}
		return
	}

	sig := r.Header.Get("Stripe-Signature")
	if sig == "" {
		sig = r.Header.Get("stripe-signature")
	}

	stripeEvent, err := stripe.ConstructEvent(body, sig, string(c.webhookSecret))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		c.metrics.RecordWebhookError(providerName, "auth_failed")
		return
	}

	event, err := toDomainEvent(&stripeEvent)
	if err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		c.metrics.RecordWebhookError(providerName, "invalid_payload")
		return
	}

	if err := processor.Process(r.Context(), event); err != nil {
		c.log.Error("webhook processing failed",
			billing.Field{Key: "error", Value: err.Error()},
			billing.Field{Key: "event_id", Value: event.ID},
			billing.Field{Key: "event_type", Value: event.Type})
		http.Error(w, "failed to process webhook", http.StatusInternalServerError)
		c.metrics.RecordWebhookEvent(providerName, event.Type, "error")
		c.metrics.RecordWebhookError(providerName, "processing_error")
		c.metrics.RecordWebhookProcessingDuration(providerName, event.Type, time.Since(startTime))
		return
	}

	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		return
	}

	c.metrics.RecordWebhookEvent(providerName, event.Type, "success")
	c.metrics.RecordWebhookProcessingDuration(providerName, event.Type, time.Since(startTime))
}

// toDomainEvent converts a verified Stripe event into the provider-neutral
// form the processor consumes.
func toDomainEvent(e *stripe.Event) (billing.Event, error) {
	event := billing.Event{
		ID:      e.ID,
		Kind:    billing.KindOf(string(e.Type)),
		Type:    string(e.Type),
		Created: time.Unix(e.Created, 0).UTC(),
	}
	if e.Data != nil {
		event.Object = json.RawMessage(e.Data.Raw)
		if len(e.Data.PreviousAttributes) > 0 {
			prev, err := json.Marshal(e.Data.PreviousAttributes)
			if err != nil {
				return billing.Event{}, err
			}
			event.PreviousAttributes = prev
		}
	}
	return event, nil
}

func setSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
}
