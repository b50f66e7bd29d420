package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/gobilling/pkg/billing"
	"github.com/mihaimyh/gobilling/pkg/billing/identity"
	"github.com/mihaimyh/gobilling/pkg/billing/ledger"
	"github.com/mihaimyh/gobilling/storage/memory"
)

type fakeProvider struct {
	billing.PaymentProvider

	subs map[string]*billing.Subscription
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) GetSubscription(_ context.Context, id string) (*billing.Subscription, error) {
	sub, ok := f.subs[id]
	if !ok {
		return nil, errors.New("no such subscription")
	}
	return sub, nil
}

type fakeNotifier struct {
	grants []billing.AccessGrant
	err    error
}

func (f *fakeNotifier) NotifyAccess(_ context.Context, grant billing.AccessGrant) error {
	if f.err != nil {
		return f.err
	}
	f.grants = append(f.grants, grant)
	return nil
}

type fixture struct {
	processor *Processor
	store     *memory.Store
	provider  *fakeProvider
	notifier  *fakeNotifier
}

func setup(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	provider := &fakeProvider{subs: map[string]*billing.Subscription{}}
	notifier := &fakeNotifier{}
	mapper := identity.NewMapper(store, nil)
	l := ledger.New(store, nil, nil)
	return &fixture{
		processor: NewProcessor(mapper, l, store, provider, notifier, nil, nil),
		store:     store,
		provider:  provider,
		notifier:  notifier,
	}
}

func (f *fixture) seedCatalog(t *testing.T) *billing.Price {
	t.Helper()
	ctx := context.Background()

	product := &billing.Product{ID: "prod-1", RemoteID: "prod_r1", Name: "Premium", Active: true}
	require.NoError(t, f.store.CreateProduct(ctx, product))

	price := &billing.Price{
		ID: "price-1", RemoteID: "price_r1", ProductID: "prod-1", RemoteProductID: "prod_r1",
		Name: "monthly", Type: billing.PriceTypeRecurring, UnitAmount: 999, Currency: "usd",
		Interval: billing.IntervalMonth, IntervalCount: 1, UsageType: billing.UsageTypeLicensed,
		PermissionID: 7, Active: true,
	}
	require.NoError(t, f.store.CreatePrice(ctx, price))
	return price
}

func (f *fixture) seedIdentity(t *testing.T) *billing.CustomerIdentity {
	t.Helper()
	ident := &billing.CustomerIdentity{ID: "ident-1", UserID: "user-1", RemoteCustomerID: "cus_1"}
	require.NoError(t, f.store.CreateIdentity(context.Background(), ident))
	return ident
}

func checkoutEvent(customer, userID string) billing.Event {
	object, _ := json.Marshal(map[string]any{
		"customer": customer,
		"metadata": map[string]string{"user_id": userID},
	})
	return billing.Event{
		ID:     "evt_checkout",
		Kind:   billing.EventCheckoutCompleted,
		Type:   string(billing.EventCheckoutCompleted),
		Object: object,
	}
}

func subscriptionEvent(kind billing.EventKind, subID, customer, status, priceID string, prev json.RawMessage) billing.Event {
	object, _ := json.Marshal(map[string]any{
		"id":       subID,
		"customer": customer,
		"status":   status,
		"items": map[string]any{
			"data": []map[string]any{
				{"id": "si_1", "price": map[string]any{"id": priceID}},
			},
		},
	})
	return billing.Event{
		ID:                 "evt_sub",
		Kind:               kind,
		Type:               string(kind),
		Object:             object,
		PreviousAttributes: prev,
	}
}

func invoiceEvent(kind billing.EventKind, customer, subID, priceID string, paid bool, periodEnd time.Time) billing.Event {
	status := "open"
	if paid {
		status = "paid"
	}
	object, _ := json.Marshal(map[string]any{
		"customer":     customer,
		"subscription": subID,
		"paid":         paid,
		"status":       status,
		"period_end":   periodEnd.Unix(),
		"lines": map[string]any{
			"data": []map[string]any{
				{"price": map[string]any{"id": priceID}},
			},
		},
	})
	return billing.Event{
		ID:     "evt_invoice",
		Kind:   kind,
		Type:   string(kind),
		Object: object,
	}
}

func TestProcessor_CheckoutCompleted_DoubleDelivery(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	require.NoError(t, f.processor.Process(ctx, checkoutEvent("cus_1", "user-1")))
	require.NoError(t, f.processor.Process(ctx, checkoutEvent("cus_1", "user-1")))

	ident, err := f.store.GetIdentityByUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "cus_1", ident.RemoteCustomerID)
}

func TestProcessor_CheckoutCompleted_MissingMetadata(t *testing.T) {
	f := setup(t)

	object, _ := json.Marshal(map[string]any{"customer": "cus_1", "metadata": map[string]string{}})
	err := f.processor.Process(context.Background(), billing.Event{
		Kind:   billing.EventCheckoutCompleted,
		Type:   string(billing.EventCheckoutCompleted),
		Object: object,
	})
	assert.ErrorIs(t, err, billing.ErrInvalidWebhookPayload)
}

func TestProcessor_SubscriptionCreated(t *testing.T) {
	f := setup(t)
	price := f.seedCatalog(t)
	ident := f.seedIdentity(t)
	ctx := context.Background()

	event := subscriptionEvent(billing.EventSubscriptionCreated, "sub_1", "cus_1", "active", price.RemoteID, nil)
	require.NoError(t, f.processor.Process(ctx, event))

	entry, err := f.store.LatestHistoryForSubscription(ctx, ident.UserID, "sub_1")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, billing.SubscriptionStatusActive, entry.Status)
	assert.Equal(t, "customer.subscription.created", entry.EventType)
	assert.Equal(t, price.ID, entry.PriceID)
	assert.Empty(t, entry.AdditionalInfo)
}

func TestProcessor_SubscriptionUpdated_KeepsDiff(t *testing.T) {
	f := setup(t)
	price := f.seedCatalog(t)
	f.seedIdentity(t)
	ctx := context.Background()

	prev := json.RawMessage(`{"status":"trialing"}`)
	event := subscriptionEvent(billing.EventSubscriptionUpdated, "sub_1", "cus_1", "active", price.RemoteID, prev)
	require.NoError(t, f.processor.Process(ctx, event))

	entry, err := f.store.LatestHistoryForSubscription(ctx, "user-1", "sub_1")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "customer.subscription.updated", entry.EventType)
	assert.JSONEq(t, `{"status":"trialing"}`, string(entry.AdditionalInfo))
}

func TestProcessor_SubscriptionUpdated_NoDiffRecordsCreated(t *testing.T) {
	f := setup(t)
	price := f.seedCatalog(t)
	f.seedIdentity(t)
	ctx := context.Background()

	// An update delivery without a previous_attributes diff carries a full
	// snapshot, indistinguishable from a create; the tag follows the payload.
	event := subscriptionEvent(billing.EventSubscriptionUpdated, "sub_1", "cus_1", "active", price.RemoteID, nil)
	require.NoError(t, f.processor.Process(ctx, event))

	entry, err := f.store.LatestHistoryForSubscription(ctx, "user-1", "sub_1")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "customer.subscription.created", entry.EventType)
}

func TestProcessor_SubscriptionCreated_BeforeCheckout(t *testing.T) {
	f := setup(t)
	price := f.seedCatalog(t)
	ctx := context.Background()

	// No identity yet: the delivery fails so the provider will retry it
	// after checkout.session.completed lands.
	event := subscriptionEvent(billing.EventSubscriptionCreated, "sub_1", "cus_1", "active", price.RemoteID, nil)
	err := f.processor.Process(ctx, event)
	assert.ErrorIs(t, err, billing.ErrIdentityNotFound)
	assert.Equal(t, 0, f.store.HistoryLen())

	// After the checkout event, the retry succeeds.
	require.NoError(t, f.processor.Process(ctx, checkoutEvent("cus_1", "user-1")))
	require.NoError(t, f.processor.Process(ctx, event))
	assert.Equal(t, 1, f.store.HistoryLen())
}

func TestProcessor_InvoicePaid(t *testing.T) {
	f := setup(t)
	price := f.seedCatalog(t)
	f.seedIdentity(t)
	ctx := context.Background()

	periodEnd := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	f.provider.subs["sub_1"] = &billing.Subscription{
		ID: "sub_1", CustomerID: "cus_1", Status: billing.SubscriptionStatusActive,
		PriceID: price.RemoteID, CurrentPeriodEnd: periodEnd,
	}

	event := invoiceEvent(billing.EventInvoicePaid, "cus_1", "sub_1", price.RemoteID, true, periodEnd)
	require.NoError(t, f.processor.Process(ctx, event))

	entry, err := f.store.LatestHistoryForSubscription(ctx, "user-1", "sub_1")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "invoice.paid", entry.EventType)
	assert.Equal(t, billing.SubscriptionStatusActive, entry.Status)

	require.Len(t, f.notifier.grants, 1)
	grant := f.notifier.grants[0]
	assert.Equal(t, "user-1", grant.UserID)
	assert.Equal(t, 7, grant.PermissionID)
	assert.Equal(t, "2026-10-01", grant.PaidToDate)
}

func TestProcessor_InvoicePaymentFailed_NoGrant(t *testing.T) {
	f := setup(t)
	price := f.seedCatalog(t)
	f.seedIdentity(t)
	ctx := context.Background()

	f.provider.subs["sub_1"] = &billing.Subscription{
		ID: "sub_1", CustomerID: "cus_1", Status: billing.SubscriptionStatusPastDue,
		PriceID: price.RemoteID,
	}

	event := invoiceEvent(billing.EventInvoicePaymentFailed, "cus_1", "sub_1", price.RemoteID, false, time.Now())
	require.NoError(t, f.processor.Process(ctx, event))

	entry, err := f.store.LatestHistoryForSubscription(ctx, "user-1", "sub_1")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "invoice.payment_failed", entry.EventType)
	assert.Equal(t, billing.SubscriptionStatusPastDue, entry.Status)
	assert.Empty(t, f.notifier.grants)
}

func TestProcessor_InvoiceFailedDelivery_SettledRecordsPaid(t *testing.T) {
	f := setup(t)
	price := f.seedCatalog(t)
	f.seedIdentity(t)
	ctx := context.Background()

	periodEnd := time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)
	f.provider.subs["sub_1"] = &billing.Subscription{
		ID: "sub_1", CustomerID: "cus_1", Status: billing.SubscriptionStatusActive,
		PriceID: price.RemoteID, CurrentPeriodEnd: periodEnd,
	}

	// A payment_failed redelivery whose invoice has since settled is tagged
	// by the settled flag, and still grants access.
	event := invoiceEvent(billing.EventInvoicePaymentFailed, "cus_1", "sub_1", price.RemoteID, true, periodEnd)
	require.NoError(t, f.processor.Process(ctx, event))

	entry, err := f.store.LatestHistoryForSubscription(ctx, "user-1", "sub_1")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "invoice.paid", entry.EventType)
	require.Len(t, f.notifier.grants, 1)
	assert.Equal(t, "2026-11-01", f.notifier.grants[0].PaidToDate)
}

func TestProcessor_InvoicePaid_NotifierFailureKeepsLedger(t *testing.T) {
	f := setup(t)
	price := f.seedCatalog(t)
	f.seedIdentity(t)
	f.notifier.err = errors.New("authorization service down")
	ctx := context.Background()

	f.provider.subs["sub_1"] = &billing.Subscription{
		ID: "sub_1", CustomerID: "cus_1", Status: billing.SubscriptionStatusActive,
		PriceID: price.RemoteID,
	}

	event := invoiceEvent(billing.EventInvoicePaid, "cus_1", "sub_1", price.RemoteID, true, time.Now())
	// The delivery still succeeds: the ledger write happened and the grant
	// failure is only logged.
	require.NoError(t, f.processor.Process(ctx, event))
	assert.Equal(t, 1, f.store.HistoryLen())
}

func TestProcessor_InvoicePaid_UnknownCustomer(t *testing.T) {
	f := setup(t)
	price := f.seedCatalog(t)
	ctx := context.Background()

	event := invoiceEvent(billing.EventInvoicePaid, "cus_ghost", "sub_1", price.RemoteID, true, time.Now())
	err := f.processor.Process(ctx, event)
	assert.ErrorIs(t, err, billing.ErrIdentityNotFound)
	assert.Equal(t, 0, f.store.HistoryLen())
}

func TestProcessor_UnknownEventIsNoop(t *testing.T) {
	f := setup(t)

	err := f.processor.Process(context.Background(), billing.Event{
		Kind:   billing.KindOf("charge.refunded"),
		Type:   "charge.refunded",
		Object: json.RawMessage(`{}`),
	})
	require.NoError(t, err)
	assert.Equal(t, 0, f.store.HistoryLen())
}
