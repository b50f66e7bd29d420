// Package billing defines the domain model and contracts for the gobilling
// service: a catalog of products and prices mirrored into a remote payment
// provider, an identity mapping between internal users and provider customers,
// and an append-only billing history ledger fed by provider webhook events.
package billing

import (
	"encoding/json"
	"time"
)

// SubscriptionStatus is the provider-reported lifecycle state of a subscription.
type SubscriptionStatus string

const (
	SubscriptionStatusIncomplete        SubscriptionStatus = "incomplete"
	SubscriptionStatusIncompleteExpired SubscriptionStatus = "incomplete_expired"
	SubscriptionStatusTrialing          SubscriptionStatus = "trialing"
	SubscriptionStatusActive            SubscriptionStatus = "active"
	SubscriptionStatusPastDue           SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled          SubscriptionStatus = "canceled"
	SubscriptionStatusUnpaid            SubscriptionStatus = "unpaid"
)

// PriceType distinguishes recurring subscription prices from one-time charges.
type PriceType string

const (
	PriceTypeRecurring PriceType = "recurring"
	PriceTypeOneTime   PriceType = "one_time"
)

// RecurringInterval is the billing cycle unit for recurring prices.
type RecurringInterval string

const (
	IntervalMonth RecurringInterval = "month"
	IntervalYear  RecurringInterval = "year"
)

// UsageType is the recurring usage model.
type UsageType string

const (
	UsageTypeLicensed UsageType = "licensed"
	UsageTypeMetered  UsageType = "metered"
)

// MetadataUserIDKey is the checkout-session metadata key carrying the internal
// user id. It is the only channel through which a webhook can associate a
// freshly created provider customer with an internal user.
const MetadataUserIDKey = "user_id"

// Product is a sellable catalog entry. The local row is authoritative for
// internal references; RemoteID points at the provider mirror. Products are
// never hard-deleted, only deactivated, so history rows keep resolving.
type Product struct {
	ID          string    `json:"id"`
	RemoteID    string    `json:"remote_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Price is a pricing term attached to a Product. Pricing terms are immutable
// once created; the only supported mutation is deactivation. Interval,
// IntervalCount and UsageType are only meaningful when Type is recurring.
type Price struct {
	ID              string            `json:"id"`
	RemoteID        string            `json:"remote_id"`
	ProductID       string            `json:"product_id"`
	RemoteProductID string            `json:"remote_product_id"`
	Name            string            `json:"name"`
	Type            PriceType         `json:"type"`
	UnitAmount      int64             `json:"unit_amount"`
	Currency        string            `json:"currency"`
	Interval        RecurringInterval `json:"interval,omitempty"`
	IntervalCount   int64             `json:"interval_count,omitempty"`
	UsageType       UsageType         `json:"usage_type,omitempty"`
	PermissionID    int               `json:"permission_id"`
	Active          bool              `json:"active"`
	CreatedAt       time.Time         `json:"created_at"`
}

// Recurring reports whether the price bills on a cycle.
func (p *Price) Recurring() bool {
	return p.Type == PriceTypeRecurring
}

// CustomerIdentity binds one internal user id to one provider customer id.
// The binding is created lazily on the first provider event naming the user
// and is immutable afterwards.
type CustomerIdentity struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	RemoteCustomerID string    `json:"remote_customer_id"`
	CreatedAt        time.Time `json:"created_at"`
}

// HistoryEntry is one immutable line of the billing ledger. Entries are only
// ever inserted; duplicates from provider redelivery are accepted. CreatedAt
// reflects processing time, not event time.
type HistoryEntry struct {
	ID             string             `json:"id"`
	CustomerID     string             `json:"customer_id"`
	PriceID        string             `json:"price_id"`
	SubscriptionID string             `json:"subscription_id"`
	Status         SubscriptionStatus `json:"subscription_status"`
	EventType      string             `json:"event_type"`
	AdditionalInfo json.RawMessage    `json:"additional_info,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
}

// HistoryRecord is the joined, human-readable view of a HistoryEntry used by
// the admin API: product and price names resolved, identity mapped back to
// the internal user.
type HistoryRecord struct {
	ID             string             `json:"id"`
	UserID         string             `json:"user_id"`
	Product        string             `json:"product"`
	Price          string             `json:"price"`
	SubscriptionID string             `json:"subscription_id"`
	Status         SubscriptionStatus `json:"subscription_status"`
	EventType      string             `json:"event_type"`
	CreatedAt      time.Time          `json:"created_at"`
}

// Subscription is a read-time projection of the provider's live subscription
// object. It is never persisted locally; the provider remains the source of
// truth for subscription lifecycle.
type Subscription struct {
	ID                 string             `json:"id"`
	CustomerID         string             `json:"customer_id"`
	Status             SubscriptionStatus `json:"status"`
	PriceID            string             `json:"price_id"` // remote price id
	ItemID             string             `json:"item_id"`  // subscription item id
	CurrentPeriodStart time.Time          `json:"current_period_start"`
	CurrentPeriodEnd   time.Time          `json:"current_period_end"`
	EndedAt            *time.Time         `json:"ended_at,omitempty"`
	Created            time.Time          `json:"created"`
}

// Session is an opaque handle to a provider-hosted checkout or self-service
// portal flow. The caller redirects the user to URL.
type Session struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}
