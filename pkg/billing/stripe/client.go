// Package stripe implements the payment provider contract against the Stripe
// API and exposes the webhook endpoint that feeds the event processor.
package stripe

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/gobilling/pkg/billing"
	"github.com/mihaimyh/gobilling/pkg/billing/internal"
)

const (
	providerName             = "stripe"
	defaultRateLimitWindow   = time.Minute
	defaultRateLimitRequests = 100
	maxWebhookBodyBytes      = 256 * 1024

	// always_invoice settles proration immediately instead of deferring it to
	// the next cycle, so a plan change bills the difference right away.
	prorationBehavior = "always_invoice"
)

// Config holds Stripe credentials and optional hooks.
type Config struct {
	// APIKey is the Stripe secret key. Required.
	APIKey string

	// WebhookSecret verifies inbound webhook signatures. Required for the
	// webhook handler; provider API calls work without it.
	WebhookSecret string

	// Logger for structured logging. Optional.
	Logger billing.Logger

	// Metrics for API call tracking. Optional.
	Metrics billing.Metrics
}

// Client implements billing.PaymentProvider against Stripe.
type Client struct {
	sc            *stripe.Client
	webhookSecret []byte
	rateLimiter   *internal.RateLimiter
	log           billing.Logger
	metrics       billing.Metrics
}

var _ billing.PaymentProvider = (*Client)(nil)

// NewClient creates a Stripe-backed payment provider.
func NewClient(config Config) (*Client, error) {
	apiKey := strings.TrimSpace(config.APIKey)
	if apiKey == "" {
		return nil, billing.ErrProviderNotConfigured
	}

	logger := config.Logger
	if logger == nil {
		logger = &billing.NoopLogger{}
	}
	metrics := config.Metrics
	if metrics == nil {
		metrics = &billing.NoopMetrics{}
	}

	return &Client{
		sc:            stripe.NewClient(apiKey),
		webhookSecret: []byte(strings.TrimSpace(config.WebhookSecret)),
		rateLimiter:   internal.NewRateLimiter(defaultRateLimitRequests, defaultRateLimitWindow),
		log:           logger,
		metrics:       metrics,
	}, nil
}

// Name returns the provider name.
func (c *Client) Name() string {
	return providerName
}

func (c *Client) record(endpoint string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	c.metrics.RecordAPICall(providerName, endpoint, status)
	c.metrics.RecordAPICallDuration(providerName, endpoint, time.Since(start))
}

// CreateProduct creates a product on Stripe.
func (c *Client) CreateProduct(ctx context.Context, name string) (*billing.RemoteProduct, error) {
	start := time.Now()
	product, err := c.sc.V1Products.Create(ctx, &stripe.ProductCreateParams{
		Name: stripe.String(name),
	})
	c.record("/products", start, err)
	if err != nil {
		return nil, fmt.Errorf("stripe product create: %w", err)
	}
	return remoteProduct(product), nil
}

// RenameProduct updates a product's name on Stripe.
func (c *Client) RenameProduct(ctx context.Context, remoteID, name string) (*billing.RemoteProduct, error) {
	start := time.Now()
	product, err := c.sc.V1Products.Update(ctx, remoteID, &stripe.ProductUpdateParams{
		Name: stripe.String(name),
	})
	c.record("/products", start, err)
	if err != nil {
		return nil, fmt.Errorf("stripe product update: %w", err)
	}
	return remoteProduct(product), nil
}

// DeactivateProduct archives a product on Stripe. Stripe has no hard delete
// for products with prices attached, which matches the local soft-delete.
func (c *Client) DeactivateProduct(ctx context.Context, remoteID string) error {
	start := time.Now()
	_, err := c.sc.V1Products.Update(ctx, remoteID, &stripe.ProductUpdateParams{
		Active: stripe.Bool(false),
	})
	c.record("/products", start, err)
	if err != nil {
		return fmt.Errorf("stripe product deactivate: %w", err)
	}
	return nil
}

// CreatePrice creates a price on Stripe and returns its id.
func (c *Client) CreatePrice(ctx context.Context, params billing.PriceParams) (string, error) {
	create := &stripe.PriceCreateParams{
		Product:    stripe.String(params.RemoteProductID),
		UnitAmount: stripe.Int64(params.UnitAmount),
		Currency:   stripe.String(params.Currency),
	}
	if params.Recurring {
		create.Recurring = &stripe.PriceCreateRecurringParams{
			Interval:      stripe.String(string(params.Interval)),
			IntervalCount: stripe.Int64(params.IntervalCount),
			UsageType:     stripe.String(string(params.UsageType)),
		}
	}

	start := time.Now()
	price, err := c.sc.V1Prices.Create(ctx, create)
	c.record("/prices", start, err)
	if err != nil {
		return "", fmt.Errorf("stripe price create: %w", err)
	}
	return price.ID, nil
}

// DeactivatePrice archives a price on Stripe.
func (c *Client) DeactivatePrice(ctx context.Context, remoteID string) error {
	start := time.Now()
	_, err := c.sc.V1Prices.Update(ctx, remoteID, &stripe.PriceUpdateParams{
		Active: stripe.Bool(false),
	})
	c.record("/prices", start, err)
	if err != nil {
		return fmt.Errorf("stripe price deactivate: %w", err)
	}
	return nil
}

// CreateCheckoutSession creates a subscription-mode checkout session. The
// internal user id is written into both session and subscription metadata so
// every later webhook can find it.
func (c *Client) CreateCheckoutSession(ctx context.Context, params billing.CheckoutParams) (*billing.Session, error) {
	items := make([]*stripe.CheckoutSessionCreateLineItemParams, 0, len(params.LineItems))
	for _, item := range params.LineItems {
		items = append(items, &stripe.CheckoutSessionCreateLineItemParams{
			Price:    stripe.String(item.RemotePriceID),
			Quantity: stripe.Int64(item.Quantity),
		})
	}

	create := &stripe.CheckoutSessionCreateParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems:  items,
		SuccessURL: stripe.String(params.SuccessURL),
		CancelURL:  stripe.String(params.CancelURL),
	}
	create.Metadata = map[string]string{billing.MetadataUserIDKey: params.UserID}
	create.SubscriptionData = &stripe.CheckoutSessionCreateSubscriptionDataParams{}
	create.SubscriptionData.AddMetadata(billing.MetadataUserIDKey, params.UserID)

	if params.CustomerID != "" {
		create.Customer = stripe.String(params.CustomerID)
	} else {
		create.ClientReferenceID = stripe.String(params.UserID)
		create.CustomerCreation = stripe.String("always")
	}

	start := time.Now()
	session, err := c.sc.V1CheckoutSessions.Create(ctx, create)
	c.record("/checkout/sessions", start, err)
	if err != nil {
		return nil, fmt.Errorf("stripe checkout session create: %w", err)
	}
	return &billing.Session{ID: session.ID, URL: session.URL}, nil
}

// CreatePortalSession creates a customer portal session.
func (c *Client) CreatePortalSession(ctx context.Context, customerID, returnURL string) (*billing.Session, error) {
	start := time.Now()
	session, err := c.sc.V1BillingPortalSessions.Create(ctx, &stripe.BillingPortalSessionCreateParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	})
	c.record("/billing_portal/sessions", start, err)
	if err != nil {
		return nil, fmt.Errorf("stripe portal session create: %w", err)
	}
	return &billing.Session{ID: session.ID, URL: session.URL}, nil
}

// GetSubscription fetches one live subscription.
func (c *Client) GetSubscription(ctx context.Context, id string) (*billing.Subscription, error) {
	start := time.Now()
	sub, err := c.sc.V1Subscriptions.Retrieve(ctx, id, nil)
	c.record("/subscriptions", start, err)
	if err != nil {
		return nil, fmt.Errorf("stripe subscription retrieve: %w", err)
	}
	return projectSubscription(sub), nil
}

// ListSubscriptions returns a customer's subscriptions, optionally filtered
// by status. An empty status lists all of them, canceled included.
func (c *Client) ListSubscriptions(ctx context.Context, customerID string, status billing.SubscriptionStatus) ([]*billing.Subscription, error) {
	params := &stripe.SubscriptionListParams{}
	params.Customer = stripe.String(customerID)
	if status == "" {
		params.Status = stripe.String("all")
	} else {
		params.Status = stripe.String(string(status))
	}

	start := time.Now()
	var subs []*billing.Subscription
	for sub, err := range c.sc.V1Subscriptions.List(ctx, params) {
		if err != nil {
			c.record("/subscriptions/list", start, err)
			return nil, fmt.Errorf("stripe subscription list: %w", err)
		}
		subs = append(subs, projectSubscription(sub))
	}
	c.record("/subscriptions/list", start, nil)
	return subs, nil
}

// ChangeSubscriptionPrice moves a subscription item to a new price. Any
// pending cancellation is cleared and the proration difference is invoiced
// immediately.
func (c *Client) ChangeSubscriptionPrice(ctx context.Context, subscriptionID, itemID, remotePriceID string) (*billing.Subscription, error) {
	params := &stripe.SubscriptionUpdateParams{
		CancelAtPeriodEnd: stripe.Bool(false),
		ProrationBehavior: stripe.String(prorationBehavior),
		Items: []*stripe.SubscriptionUpdateItemParams{
			{
				ID:    stripe.String(itemID),
				Price: stripe.String(remotePriceID),
			},
		},
	}

	start := time.Now()
	sub, err := c.sc.V1Subscriptions.Update(ctx, subscriptionID, params)
	c.record("/subscriptions", start, err)
	if err != nil {
		return nil, fmt.Errorf("stripe subscription update: %w", err)
	}

	c.log.Info("subscription price updated",
		billing.Field{Key: "subscription_id", Value: subscriptionID},
		billing.Field{Key: "price_id", Value: remotePriceID})
	return projectSubscription(sub), nil
}

func remoteProduct(p *stripe.Product) *billing.RemoteProduct {
	return &billing.RemoteProduct{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Active:      p.Active,
		Created:     time.Unix(p.Created, 0).UTC(),
		Updated:     time.Unix(p.Updated, 0).UTC(),
	}
}

// projectSubscription flattens a Stripe subscription into the domain
// projection. Billing period fields live on the subscription item.
func projectSubscription(sub *stripe.Subscription) *billing.Subscription {
	out := &billing.Subscription{
		ID:      sub.ID,
		Status:  billing.SubscriptionStatus(sub.Status),
		Created: time.Unix(sub.Created, 0).UTC(),
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.EndedAt != 0 {
		endedAt := time.Unix(sub.EndedAt, 0).UTC()
		out.EndedAt = &endedAt
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		out.ItemID = item.ID
		if item.Price != nil {
			out.PriceID = item.Price.ID
		}
		out.CurrentPeriodStart = time.Unix(item.CurrentPeriodStart, 0).UTC()
		out.CurrentPeriodEnd = time.Unix(item.CurrentPeriodEnd, 0).UTC()
	}
	return out
}
