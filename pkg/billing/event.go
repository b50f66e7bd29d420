package billing

import (
	"encoding/json"
	"time"
)

// EventKind is the closed set of provider event types the billing core
// understands. The provider vocabulary is a strict superset; anything outside
// this set maps to EventUnknown and is ignored.
type EventKind string

const (
	// EventCheckoutCompleted fires when a checkout session finishes and a
	// provider customer exists for the paying user.
	EventCheckoutCompleted EventKind = "checkout.session.completed"

	// EventSubscriptionCreated fires when a customer signs up for a plan.
	EventSubscriptionCreated EventKind = "customer.subscription.created"

	// EventSubscriptionUpdated fires when a subscription changes; the event
	// carries a previous_attributes diff.
	EventSubscriptionUpdated EventKind = "customer.subscription.updated"

	// EventInvoicePaid fires when an invoice is successfully paid.
	EventInvoicePaid EventKind = "invoice.paid"

	// EventInvoicePaymentFailed fires when an invoice payment fails.
	EventInvoicePaymentFailed EventKind = "invoice.payment_failed"

	// EventUnknown is the no-op fallthrough for unrecognized event types.
	EventUnknown EventKind = ""
)

var eventKinds = map[string]EventKind{
	string(EventCheckoutCompleted):    EventCheckoutCompleted,
	string(EventSubscriptionCreated):  EventSubscriptionCreated,
	string(EventSubscriptionUpdated):  EventSubscriptionUpdated,
	string(EventInvoicePaid):          EventInvoicePaid,
	string(EventInvoicePaymentFailed): EventInvoicePaymentFailed,
}

// KindOf maps a raw provider event type to an EventKind. Unrecognized types
// map to EventUnknown rather than an error.
func KindOf(eventType string) EventKind {
	if k, ok := eventKinds[eventType]; ok {
		return k
	}
	return EventUnknown
}

// Event is a verified, classified inbound webhook event. Object holds the
// raw data.object payload; PreviousAttributes holds the data.previous_attributes
// diff when the provider sent one (update events only).
type Event struct {
	ID                 string
	Kind               EventKind
	Type               string
	Object             json.RawMessage
	PreviousAttributes json.RawMessage
	Created            time.Time
}
