// Package subscription builds provider-hosted checkout and portal sessions
// and exposes read-time projections of the provider's live subscriptions.
// Subscriptions are never persisted locally; the provider stays the source of
// truth and the ledger records what the webhooks report.
package subscription

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/mihaimyh/gobilling/pkg/billing"
	"github.com/mihaimyh/gobilling/pkg/billing/ledger"
)

// statuses surfaced by UserSubscriptions. Everything else (incomplete, unpaid)
// is transient noise the frontend has no use for.
var visibleStatuses = map[billing.SubscriptionStatus]bool{
	billing.SubscriptionStatusActive:   true,
	billing.SubscriptionStatusTrialing: true,
	billing.SubscriptionStatusCanceled: true,
}

// Service implements the subscription-facing operations.
type Service struct {
	store    billing.Store
	provider billing.PaymentProvider
	ledger   *ledger.Ledger
	log      billing.Logger
}

// New creates a new subscription service. logger may be nil.
func New(store billing.Store, provider billing.PaymentProvider, l *ledger.Ledger, logger billing.Logger) *Service {
	if logger == nil {
		logger = &billing.NoopLogger{}
	}
	return &Service{store: store, provider: provider, ledger: l, log: logger}
}

// CreateCheckoutSession starts a provider-hosted checkout for the given local
// price ids. The user id rides along in session metadata; when the user
// already has a provider customer, that customer is reused so the provider
// does not mint a duplicate.
func (s *Service) CreateCheckoutSession(ctx context.Context, userID string, priceIDs []string, successURL, cancelURL string) (*billing.Session, error) {
	items := make([]billing.LineItem, 0, len(priceIDs))
	for _, id := range priceIDs {
		price, err := s.store.GetPrice(ctx, id)
		if err != nil {
			return nil, err
		}
		items = append(items, billing.LineItem{RemotePriceID: price.RemoteID, Quantity: 1})
	}

	params := billing.CheckoutParams{
		UserID:     userID,
		LineItems:  items,
		SuccessURL: successURL,
		CancelURL:  cancelURL,
	}
	if ident, err := s.store.GetIdentityByUser(ctx, userID); err == nil {
		params.CustomerID = ident.RemoteCustomerID
	}

	session, err := s.provider.CreateCheckoutSession(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}

	s.log.Info("checkout session created",
		billing.Field{Key: "user_id", Value: userID},
		billing.Field{Key: "session_id", Value: session.ID})
	return session, nil
}

// CreatePortalSession starts a provider-hosted self-service portal session.
// The user must already be known to the provider.
func (s *Service) CreatePortalSession(ctx context.Context, userID, returnURL string) (*billing.Session, error) {
	ident, err := s.store.GetIdentityByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	session, err := s.provider.CreatePortalSession(ctx, ident.RemoteCustomerID, returnURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create portal session: %w", err)
	}
	return session, nil
}

// HasActiveSubscription reports whether the user has at least one live active
// subscription at the provider. Users unknown to the provider have none.
func (s *Service) HasActiveSubscription(ctx context.Context, userID string) (bool, error) {
	ident, err := s.store.GetIdentityByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, billing.ErrIdentityNotFound) {
			return false, nil
		}
		return false, err
	}

	subs, err := s.provider.ListSubscriptions(ctx, ident.RemoteCustomerID, billing.SubscriptionStatusActive)
	if err != nil {
		return false, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	return len(subs) > 0, nil
}

// View pairs a live provider subscription with its local price row. Price is
// nil when the remote price was never mirrored locally.
type View struct {
	Subscription *billing.Subscription `json:"subscription"`
	Price        *billing.Price        `json:"price,omitempty"`
}

// UserSubscriptions returns the user's active, trialing and canceled
// subscriptions as seen by the provider right now, each paired with the local
// price row. Price rows are resolved concurrently.
func (s *Service) UserSubscriptions(ctx context.Context, userID string) ([]*View, error) {
	ident, err := s.store.GetIdentityByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, billing.ErrIdentityNotFound) {
			return []*View{}, nil
		}
		return nil, err
	}

	subs, err := s.provider.ListSubscriptions(ctx, ident.RemoteCustomerID, "")
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}

	views := make([]*View, 0, len(subs))
	for _, sub := range subs {
		if visibleStatuses[sub.Status] {
			views = append(views, &View{Subscription: sub})
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, v := range views {
		g.Go(func() error {
			price, err := s.store.GetPriceByRemoteID(gctx, v.Subscription.PriceID)
			if err != nil {
				if errors.Is(err, billing.ErrPriceNotFound) {
					return nil
				}
				return err
			}
			v.Price = price
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to resolve subscription prices: %w", err)
	}
	return views, nil
}

// ChangeSubscription moves a live subscription to a different local price.
// The caller must own the subscription per the ledger: its newest history
// entry for (userID, subscriptionID) must show an active subscription. The
// ledger itself is not written here; the resulting provider webhook records
// the change.
func (s *Service) ChangeSubscription(ctx context.Context, userID, subscriptionID, priceID string) (*billing.Subscription, error) {
	owns, err := s.ledger.OwnsActiveSubscription(ctx, userID, subscriptionID)
	if err != nil {
		return nil, err
	}
	if !owns {
		return nil, billing.ErrSubscriptionNotOwned
	}

	price, err := s.store.GetPrice(ctx, priceID)
	if err != nil {
		return nil, err
	}

	sub, err := s.provider.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch subscription: %w", err)
	}

	updated, err := s.provider.ChangeSubscriptionPrice(ctx, subscriptionID, sub.ItemID, price.RemoteID)
	if err != nil {
		return nil, fmt.Errorf("failed to change subscription price: %w", err)
	}

	s.log.Info("subscription price changed",
		billing.Field{Key: "user_id", Value: userID},
		billing.Field{Key: "subscription_id", Value: subscriptionID},
		billing.Field{Key: "price_id", Value: priceID})
	return updated, nil
}
