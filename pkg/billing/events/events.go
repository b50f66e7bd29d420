// Package events turns verified provider webhook events into billing state:
// customer identities, ledger entries and access notifications. Processing is
// synchronous; a returned error tells the webhook handler to fail the
// delivery so the provider retries it, which doubles as the replay path for
// events that arrived before their prerequisites.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mihaimyh/gobilling/pkg/billing"
	"github.com/mihaimyh/gobilling/pkg/billing/identity"
	"github.com/mihaimyh/gobilling/pkg/billing/ledger"
)

// Processor dispatches classified events to their handlers.
type Processor struct {
	identities *identity.Mapper
	ledger     *ledger.Ledger
	store      billing.Store
	provider   billing.PaymentProvider
	notifier   billing.AccessNotifier
	log        billing.Logger
	metrics    billing.Metrics
}

// NewProcessor creates an event processor. notifier, logger and metrics may
// be nil.
func NewProcessor(identities *identity.Mapper, l *ledger.Ledger, store billing.Store, provider billing.PaymentProvider, notifier billing.AccessNotifier, logger billing.Logger, metrics billing.Metrics) *Processor {
	if notifier == nil {
		notifier = billing.NoopNotifier{}
	}
	if logger == nil {
		logger = &billing.NoopLogger{}
	}
	if metrics == nil {
		metrics = &billing.NoopMetrics{}
	}
	return &Processor{
		identities: identities,
		ledger:     l,
		store:      store,
		provider:   provider,
		notifier:   notifier,
		log:        logger,
		metrics:    metrics,
	}
}

// Process handles one verified event. Events outside the understood
// vocabulary are acknowledged without effect.
func (p *Processor) Process(ctx context.Context, event billing.Event) error {
	switch event.Kind {
	case billing.EventCheckoutCompleted:
		return p.handleCheckoutCompleted(ctx, event)
	case billing.EventSubscriptionCreated, billing.EventSubscriptionUpdated:
		return p.handleSubscriptionChange(ctx, event)
	case billing.EventInvoicePaid, billing.EventInvoicePaymentFailed:
		return p.handleInvoice(ctx, event)
	default:
		p.log.Debug("ignoring event outside vocabulary",
			billing.Field{Key: "event_type", Value: event.Type})
		return nil
	}
}

// checkoutObject is the slice of a checkout session payload the processor
// reads.
type checkoutObject struct {
	Customer string            `json:"customer"`
	Metadata map[string]string `json:"metadata"`
}

func (p *Processor) handleCheckoutCompleted(ctx context.Context, event billing.Event) error {
	var obj checkoutObject
	if err := json.Unmarshal(event.Object, &obj); err != nil {
		return fmt.Errorf("%w: %v", billing.ErrInvalidWebhookPayload, err)
	}
	userID := obj.Metadata[billing.MetadataUserIDKey]
	if obj.Customer == "" || userID == "" {
		return fmt.Errorf("%w: checkout session missing customer or %s metadata",
			billing.ErrInvalidWebhookPayload, billing.MetadataUserIDKey)
	}

	_, err := p.identities.ResolveOrCreate(ctx, obj.Customer, userID)
	return err
}

// subscriptionObject is the slice of a subscription payload the processor
// reads.
type subscriptionObject struct {
	ID       string `json:"id"`
	Customer string `json:"customer"`
	Status   string `json:"status"`
	Plan     struct {
		ID string `json:"id"`
	} `json:"plan"`
	Items struct {
		Data []struct {
			ID    string `json:"id"`
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

// remotePriceID prefers the legacy plan id and falls back to the first item's
// price, which is where current API versions carry it.
func (o subscriptionObject) remotePriceID() string {
	if o.Plan.ID != "" {
		return o.Plan.ID
	}
	if len(o.Items.Data) > 0 {
		return o.Items.Data[0].Price.ID
	}
	return ""
}

func (p *Processor) handleSubscriptionChange(ctx context.Context, event billing.Event) error {
	var obj subscriptionObject
	if err := json.Unmarshal(event.Object, &obj); err != nil {
		return fmt.Errorf("%w: %v", billing.ErrInvalidWebhookPayload, err)
	}
	remotePriceID := obj.remotePriceID()
	if obj.ID == "" || obj.Customer == "" || remotePriceID == "" {
		return fmt.Errorf("%w: subscription missing id, customer or price", billing.ErrInvalidWebhookPayload)
	}

	// The customer must already be bound to a user. A create event that beat
	// its checkout.session.completed sibling fails here and succeeds on retry.
	ident, err := p.identities.ByRemoteID(ctx, obj.Customer)
	if err != nil {
		return fmt.Errorf("no identity for customer %s: %w", obj.Customer, err)
	}

	price, err := p.store.GetPriceByRemoteID(ctx, remotePriceID)
	if err != nil {
		return fmt.Errorf("no local price for %s: %w", remotePriceID, err)
	}

	// The tag follows the payload, not the delivery: only an event carrying a
	// previous_attributes diff records an update.
	eventType := billing.EventSubscriptionCreated
	if len(event.PreviousAttributes) > 0 {
		eventType = billing.EventSubscriptionUpdated
	}

	_, err = p.ledger.Append(ctx, ledger.AppendParams{
		CustomerID:     ident.ID,
		PriceID:        price.ID,
		SubscriptionID: obj.ID,
		Status:         billing.SubscriptionStatus(obj.Status),
		EventType:      string(eventType),
		AdditionalInfo: event.PreviousAttributes,
	})
	return err
}

// invoiceObject is the slice of an invoice payload the processor reads.
type invoiceObject struct {
	Customer     string `json:"customer"`
	Subscription string `json:"subscription"`
	Paid         bool   `json:"paid"`
	Status       string `json:"status"`
	PeriodEnd    int64  `json:"period_end"`
	Lines        struct {
		Data []struct {
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"lines"`
}

func (o invoiceObject) settled() bool {
	return o.Paid && o.Status == "paid"
}

func (p *Processor) handleInvoice(ctx context.Context, event billing.Event) error {
	var obj invoiceObject
	if err := json.Unmarshal(event.Object, &obj); err != nil {
		return fmt.Errorf("%w: %v", billing.ErrInvalidWebhookPayload, err)
	}
	if obj.Customer == "" || obj.Subscription == "" || len(obj.Lines.Data) == 0 {
		return fmt.Errorf("%w: invoice missing customer, subscription or lines", billing.ErrInvalidWebhookPayload)
	}

	ident, err := p.identities.ByRemoteID(ctx, obj.Customer)
	if err != nil {
		return fmt.Errorf("no identity for customer %s: %w", obj.Customer, err)
	}

	price, err := p.store.GetPriceByRemoteID(ctx, obj.Lines.Data[0].Price.ID)
	if err != nil {
		return fmt.Errorf("no local price for %s: %w", obj.Lines.Data[0].Price.ID, err)
	}

	// The invoice alone does not tell us the subscription's state; read it
	// live so the ledger records what the provider believes right now.
	sub, err := p.provider.GetSubscription(ctx, obj.Subscription)
	if err != nil {
		return fmt.Errorf("failed to fetch subscription %s: %w", obj.Subscription, err)
	}

	info, err := json.Marshal(map[string]any{
		"paid":       obj.settled(),
		"period_end": obj.PeriodEnd,
	})
	if err != nil {
		return fmt.Errorf("failed to encode invoice info: %w", err)
	}

	// The tag follows the invoice's settled flag, not the delivery type, so a
	// redelivery whose invoice has since settled records the truth.
	eventType := billing.EventInvoicePaymentFailed
	if obj.settled() {
		eventType = billing.EventInvoicePaid
	}

	if _, err := p.ledger.Append(ctx, ledger.AppendParams{
		CustomerID:     ident.ID,
		PriceID:        price.ID,
		SubscriptionID: obj.Subscription,
		Status:         sub.Status,
		EventType:      string(eventType),
		AdditionalInfo: info,
	}); err != nil {
		return err
	}

	// Grant access only for a settled invoice on a live subscription. The
	// ledger entry above is already committed; a failed notification is
	// reported but never undoes it.
	if obj.settled() && sub.Status == billing.SubscriptionStatusActive {
		grant := billing.AccessGrant{
			UserID:       ident.UserID,
			PermissionID: price.PermissionID,
			PaidToDate:   time.Unix(obj.PeriodEnd, 0).UTC().Format("2006-01-02"),
		}
		if err := p.notifier.NotifyAccess(ctx, grant); err != nil {
			p.metrics.RecordAccessNotification("error")
			p.log.Error("access notification failed",
				billing.Field{Key: "error", Value: err.Error()},
				billing.Field{Key: "user_id", Value: ident.UserID},
				billing.Field{Key: "permission_id", Value: price.PermissionID})
		} else {
			p.metrics.RecordAccessNotification("success")
		}
	}
	return nil
}
