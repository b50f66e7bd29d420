// Package catalog manages Products and Prices: local rows mirrored into the
// payment provider. The remote mutation always happens first so a provider
// failure leaves no local row behind; deletes are soft (active flag) so rows
// referenced by billing history keep resolving.
package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mihaimyh/gobilling/pkg/billing"
)

// Service implements the catalog operations.
type Service struct {
	store    billing.Store
	provider billing.PaymentProvider
	log      billing.Logger
}

// New creates a new catalog service. logger may be nil.
func New(store billing.Store, provider billing.PaymentProvider, logger billing.Logger) *Service {
	if logger == nil {
		logger = &billing.NoopLogger{}
	}
	return &Service{store: store, provider: provider, log: logger}
}

// ListProducts returns catalog products, optionally filtered to active ones.
func (s *Service) ListProducts(ctx context.Context, activeOnly bool) ([]*billing.Product, error) {
	return s.store.ListProducts(ctx, activeOnly)
}

// GetProduct returns one product by id.
func (s *Service) GetProduct(ctx context.Context, id string) (*billing.Product, error) {
	return s.store.GetProduct(ctx, id)
}

// CreateProduct mirrors a new product into the provider and persists the
// local row with the provider-assigned id. Rejects names already used by an
// active product.
func (s *Service) CreateProduct(ctx context.Context, name string) (*billing.Product, error) {
	if _, err := s.store.GetActiveProductByName(ctx, name); err == nil {
		return nil, billing.ErrProductExists
	}

	remote, err := s.provider.CreateProduct(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create remote product: %w", err)
	}

	product := &billing.Product{
		ID:          uuid.NewString(),
		RemoteID:    remote.ID,
		Name:        remote.Name,
		Description: remote.Description,
		Active:      remote.Active,
		CreatedAt:   remote.Created,
		UpdatedAt:   remote.Updated,
	}
	if err := s.store.CreateProduct(ctx, product); err != nil {
		return nil, fmt.Errorf("failed to persist product: %w", err)
	}

	s.log.Info("product created",
		billing.Field{Key: "product_id", Value: product.ID},
		billing.Field{Key: "remote_id", Value: product.RemoteID})
	return product, nil
}

// RenameProduct updates the product name at the provider, then locally.
func (s *Service) RenameProduct(ctx context.Context, id, name string) (*billing.Product, error) {
	product, err := s.store.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}

	if _, err := s.provider.RenameProduct(ctx, product.RemoteID, name); err != nil {
		return nil, fmt.Errorf("failed to rename remote product: %w", err)
	}
	if err := s.store.RenameProduct(ctx, id, name); err != nil {
		return nil, err
	}
	return s.store.GetProduct(ctx, id)
}

// DeactivateProduct mirrors deactivation to the provider and flips the local
// active flag. The row is never deleted.
func (s *Service) DeactivateProduct(ctx context.Context, id string) error {
	product, err := s.store.GetProduct(ctx, id)
	if err != nil {
		return err
	}

	if err := s.provider.DeactivateProduct(ctx, product.RemoteID); err != nil {
		return fmt.Errorf("failed to deactivate remote product: %w", err)
	}
	return s.store.SetProductActive(ctx, id, false)
}

// CreatePriceParams describes a price to create. Interval, IntervalCount and
// UsageType are required when Type is recurring and ignored otherwise.
type CreatePriceParams struct {
	Name          string
	ProductID     string
	PermissionID  int
	UnitAmount    int64
	Currency      string
	Type          billing.PriceType
	Interval      billing.RecurringInterval
	IntervalCount int64
	UsageType     billing.UsageType
}

func (p CreatePriceParams) validate() error {
	if p.Type != billing.PriceTypeRecurring {
		return nil
	}
	if p.Interval == "" || p.IntervalCount == 0 || p.UsageType == "" {
		return billing.ErrRecurringFieldsRequired
	}
	if p.IntervalCount < 1 || p.IntervalCount > 12 {
		return billing.ErrInvalidIntervalCount
	}
	return nil
}

// CreatePrice validates params, mirrors the price into the provider and
// persists the local row. Validation failures happen before any remote
// mutation so no orphaned remote object can exist. Pricing terms are
// immutable after this call; there is deliberately no edit operation.
func (s *Service) CreatePrice(ctx context.Context, params CreatePriceParams) (*billing.Price, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}

	product, err := s.store.GetProduct(ctx, params.ProductID)
	if err != nil {
		return nil, err
	}

	remoteID, err := s.provider.CreatePrice(ctx, billing.PriceParams{
		RemoteProductID: product.RemoteID,
		UnitAmount:      params.UnitAmount,
		Currency:        params.Currency,
		Recurring:       params.Type == billing.PriceTypeRecurring,
		Interval:        params.Interval,
		IntervalCount:   params.IntervalCount,
		UsageType:       params.UsageType,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create remote price: %w", err)
	}

	price := &billing.Price{
		ID:              uuid.NewString(),
		RemoteID:        remoteID,
		ProductID:       product.ID,
		RemoteProductID: product.RemoteID,
		Name:            params.Name,
		Type:            params.Type,
		UnitAmount:      params.UnitAmount,
		Currency:        params.Currency,
		PermissionID:    params.PermissionID,
		Active:          true,
		CreatedAt:       time.Now().UTC(),
	}
	if price.Recurring() {
		price.Interval = params.Interval
		price.IntervalCount = params.IntervalCount
		price.UsageType = params.UsageType
	}
	if err := s.store.CreatePrice(ctx, price); err != nil {
		return nil, fmt.Errorf("failed to persist price: %w", err)
	}

	s.log.Info("price created",
		billing.Field{Key: "price_id", Value: price.ID},
		billing.Field{Key: "remote_id", Value: price.RemoteID},
		billing.Field{Key: "product_id", Value: product.ID})
	return price, nil
}

// GetPrice returns one price by id.
func (s *Service) GetPrice(ctx context.Context, id string) (*billing.Price, error) {
	return s.store.GetPrice(ctx, id)
}

// PricesForProduct returns the active prices attached to a product.
func (s *Service) PricesForProduct(ctx context.Context, productID string) ([]*billing.Price, error) {
	return s.store.ListPricesByProduct(ctx, productID, true)
}

// DeactivatePrice mirrors deactivation to the provider and flips the local
// active flag; no other field changes.
func (s *Service) DeactivatePrice(ctx context.Context, id string) error {
	price, err := s.store.GetPrice(ctx, id)
	if err != nil {
		return err
	}

	if err := s.provider.DeactivatePrice(ctx, price.RemoteID); err != nil {
		return fmt.Errorf("failed to deactivate remote price: %w", err)
	}
	return s.store.SetPriceActive(ctx, id, false)
}
