// Package ledger maintains the append-only billing history. Every processed
// provider event lands here as an immutable entry; nothing ever updates or
// deletes one, and redelivered events simply append again.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mihaimyh/gobilling/pkg/billing"
)

// Ledger appends and reads billing history entries.
type Ledger struct {
	store   billing.Store
	log     billing.Logger
	metrics billing.Metrics
}

// New creates a new ledger. logger and metrics may be nil.
func New(store billing.Store, logger billing.Logger, metrics billing.Metrics) *Ledger {
	if logger == nil {
		logger = &billing.NoopLogger{}
	}
	if metrics == nil {
		metrics = &billing.NoopMetrics{}
	}
	return &Ledger{store: store, log: logger, metrics: metrics}
}

// AppendParams describes one ledger entry to record. EventType carries the
// provider's event-type string verbatim so history stays auditable against
// the provider's event log.
type AppendParams struct {
	CustomerID     string
	PriceID        string
	SubscriptionID string
	Status         billing.SubscriptionStatus
	EventType      string
	AdditionalInfo json.RawMessage
}

// Append records one history entry. The entry id and timestamp are assigned
// here; CreatedAt is processing time, not provider event time.
func (l *Ledger) Append(ctx context.Context, params AppendParams) (*billing.HistoryEntry, error) {
	entry := &billing.HistoryEntry{
		ID:             uuid.NewString(),
		CustomerID:     params.CustomerID,
		PriceID:        params.PriceID,
		SubscriptionID: params.SubscriptionID,
		Status:         params.Status,
		EventType:      params.EventType,
		AdditionalInfo: params.AdditionalInfo,
		CreatedAt:      time.Now().UTC(),
	}
	if err := l.store.AppendHistory(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to append history entry: %w", err)
	}

	l.metrics.RecordLedgerAppend(params.EventType)
	l.log.Info("history entry recorded",
		billing.Field{Key: "entry_id", Value: entry.ID},
		billing.Field{Key: "subscription_id", Value: entry.SubscriptionID},
		billing.Field{Key: "event_type", Value: entry.EventType},
		billing.Field{Key: "status", Value: string(entry.Status)})
	return entry, nil
}

// UserHistory returns the joined history records for a user, newest first.
func (l *Ledger) UserHistory(ctx context.Context, userID string) ([]*billing.HistoryRecord, error) {
	return l.store.UserHistory(ctx, userID)
}

// OwnsActiveSubscription reports whether the ledger's newest entry linking
// userID to subscriptionID shows an active subscription. Users with no history
// for the subscription do not own it.
func (l *Ledger) OwnsActiveSubscription(ctx context.Context, userID, subscriptionID string) (bool, error) {
	latest, err := l.store.LatestHistoryForSubscription(ctx, userID, subscriptionID)
	if err != nil {
		return false, fmt.Errorf("failed to read subscription history: %w", err)
	}
	if latest == nil {
		return false, nil
	}
	return latest.Status == billing.SubscriptionStatusActive, nil
}
