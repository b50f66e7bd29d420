// Package memory provides an in-memory implementation of the billing.Store
// interface. It is safe for concurrent use and intended for tests and local
// development; nothing survives a process restart.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mihaimyh/gobilling/pkg/billing"
)

// Store implements billing.Store with mutex-guarded maps.
type Store struct {
	mu         sync.RWMutex
	products   map[string]*billing.Product
	prices     map[string]*billing.Price
	identities map[string]*billing.CustomerIdentity // keyed by identity id
	history    []*billing.HistoryEntry
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		products:   make(map[string]*billing.Product),
		prices:     make(map[string]*billing.Price),
		identities: make(map[string]*billing.CustomerIdentity),
	}
}

// Products

func (s *Store) CreateProduct(_ context.Context, p *billing.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.products[p.ID] = &cp
	return nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*billing.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[id]
	if !ok {
		return nil, billing.ErrProductNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *Store) GetActiveProductByName(_ context.Context, name string) (*billing.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.products {
		if p.Name == name && p.Active {
			cp := *p
			return &cp, nil
		}
	}
	return nil, billing.ErrProductNotFound
}

func (s *Store) ListProducts(_ context.Context, activeOnly bool) ([]*billing.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*billing.Product, 0, len(s.products))
	for _, p := range s.products {
		if activeOnly && !p.Active {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) RenameProduct(_ context.Context, id, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return billing.ErrProductNotFound
	}
	p.Name = name
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) SetProductActive(_ context.Context, id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return billing.ErrProductNotFound
	}
	p.Active = active
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// Prices

func (s *Store) CreatePrice(_ context.Context, p *billing.Price) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.prices[p.ID] = &cp
	return nil
}

func (s *Store) GetPrice(_ context.Context, id string) (*billing.Price, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prices[id]
	if !ok {
		return nil, billing.ErrPriceNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *Store) GetPriceByRemoteID(_ context.Context, remoteID string) (*billing.Price, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.prices {
		if p.RemoteID == remoteID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, billing.ErrPriceNotFound
}

func (s *Store) ListPricesByProduct(_ context.Context, productID string, activeOnly bool) ([]*billing.Price, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*billing.Price
	for _, p := range s.prices {
		if p.ProductID != productID {
			continue
		}
		if activeOnly && !p.Active {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) SetPriceActive(_ context.Context, id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.prices[id]
	if !ok {
		return billing.ErrPriceNotFound
	}
	p.Active = active
	return nil
}

// Customer identities

func (s *Store) CreateIdentity(_ context.Context, ident *billing.CustomerIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.identities {
		if existing.RemoteCustomerID == ident.RemoteCustomerID {
			return billing.ErrIdentityExists
		}
	}
	cp := *ident
	s.identities[ident.ID] = &cp
	return nil
}

func (s *Store) GetIdentityByUser(_ context.Context, userID string) (*billing.CustomerIdentity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ident := range s.identities {
		if ident.UserID == userID {
			cp := *ident
			return &cp, nil
		}
	}
	return nil, billing.ErrIdentityNotFound
}

func (s *Store) GetIdentityByRemoteID(_ context.Context, remoteCustomerID string) (*billing.CustomerIdentity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ident := range s.identities {
		if ident.RemoteCustomerID == remoteCustomerID {
			cp := *ident
			return &cp, nil
		}
	}
	return nil, billing.ErrIdentityNotFound
}

// Ledger

func (s *Store) AppendHistory(_ context.Context, e *billing.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	s.history = append(s.history, &cp)
	return nil
}

func (s *Store) UserHistory(_ context.Context, userID string) ([]*billing.HistoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*billing.HistoryRecord
	for i := len(s.history) - 1; i >= 0; i-- {
		e := s.history[i]
		ident, ok := s.identities[e.CustomerID]
		if !ok || ident.UserID != userID {
			continue
		}
		rec := &billing.HistoryRecord{
			ID:             e.ID,
			UserID:         ident.UserID,
			SubscriptionID: e.SubscriptionID,
			Status:         e.Status,
			EventType:      e.EventType,
			CreatedAt:      e.CreatedAt,
		}
		if price, ok := s.prices[e.PriceID]; ok {
			rec.Price = price.Name
			if product, ok := s.products[price.ProductID]; ok {
				rec.Product = product.Name
			}
		}
		out = append(out, rec)
	}
	// Newest first, matching the admin view. Stable so same-timestamp
	// entries keep reverse arrival order.
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) LatestHistoryForSubscription(_ context.Context, userID, subscriptionID string) (*billing.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *billing.HistoryEntry
	for _, e := range s.history {
		ident, ok := s.identities[e.CustomerID]
		if !ok || ident.UserID != userID || e.SubscriptionID != subscriptionID {
			continue
		}
		// Ties go to the later append; slice order is arrival order.
		if latest == nil || !e.CreatedAt.Before(latest.CreatedAt) {
			latest = e
		}
	}
	if latest == nil {
		return nil, nil // no matching entry is not an error
	}
	cp := *latest
	return &cp, nil
}

// HistoryLen reports the number of ledger entries. Test helper.
func (s *Store) HistoryLen() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.history)
}

var _ billing.Store = (*Store)(nil)
