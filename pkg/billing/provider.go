package billing

import (
	"context"
	"time"
)

// RemoteProduct is the provider's view of a mirrored product, returned by
// catalog mutations so the local row can copy provider-assigned fields.
type RemoteProduct struct {
	ID          string
	Name        string
	Description string
	Active      bool
	Created     time.Time
	Updated     time.Time
}

// PriceParams describes a price to mirror into the provider. Validation
// happens before the remote call; the provider implementation may assume the
// params are internally consistent.
type PriceParams struct {
	RemoteProductID string
	UnitAmount      int64
	Currency        string
	Recurring       bool
	Interval        RecurringInterval
	IntervalCount   int64
	UsageType       UsageType
}

// LineItem is one price entry on a checkout session.
type LineItem struct {
	RemotePriceID string
	Quantity      int64
}

// CheckoutParams describes a checkout session to create at the provider.
// UserID is embedded in session metadata so the later webhook can bind the
// provider customer back to the internal user. CustomerID, when set, reuses
// an existing provider customer instead of creating a duplicate.
type CheckoutParams struct {
	UserID     string
	CustomerID string
	LineItems  []LineItem
	SuccessURL string
	CancelURL  string
}

// PaymentProvider is the minimal contract the billing core needs from the
// remote payment/subscription service.
type PaymentProvider interface {
	// Name returns the provider name (e.g. "stripe").
	Name() string

	// Catalog mirroring. Remote failures must surface as errors so the caller
	// can skip the local write and avoid local/remote divergence.
	CreateProduct(ctx context.Context, name string) (*RemoteProduct, error)
	RenameProduct(ctx context.Context, remoteID, name string) (*RemoteProduct, error)
	DeactivateProduct(ctx context.Context, remoteID string) error
	CreatePrice(ctx context.Context, params PriceParams) (string, error)
	DeactivatePrice(ctx context.Context, remoteID string) error

	// Sessions
	CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*Session, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (*Session, error)

	// Subscriptions
	GetSubscription(ctx context.Context, id string) (*Subscription, error)
	ListSubscriptions(ctx context.Context, customerID string, status SubscriptionStatus) ([]*Subscription, error)
	ChangeSubscriptionPrice(ctx context.Context, subscriptionID, itemID, remotePriceID string) (*Subscription, error)
}
