// Package identity maps internal user ids to remote provider customer ids.
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mihaimyh/gobilling/pkg/billing"
)

// Mapper resolves and lazily creates customer identities. A binding is
// created on first sight of a remote customer id and never updated.
type Mapper struct {
	store billing.Store
	log   billing.Logger
}

// NewMapper creates a new identity mapper. logger may be nil.
func NewMapper(store billing.Store, logger billing.Logger) *Mapper {
	if logger == nil {
		logger = &billing.NoopLogger{}
	}
	return &Mapper{store: store, log: logger}
}

// ResolveOrCreate returns the identity bound to remoteCustomerID, creating it
// with userID on first sight. Idempotent under webhook redelivery: concurrent
// calls with identical inputs net exactly one row.
func (m *Mapper) ResolveOrCreate(ctx context.Context, remoteCustomerID, userID string) (*billing.CustomerIdentity, error) {
	existing, err := m.store.GetIdentityByRemoteID(ctx, remoteCustomerID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, billing.ErrIdentityNotFound) {
		return nil, fmt.Errorf("failed to resolve identity: %w", err)
	}

	ident := &billing.CustomerIdentity{
		ID:               uuid.NewString(),
		UserID:           userID,
		RemoteCustomerID: remoteCustomerID,
		CreatedAt:        time.Now().UTC(),
	}
	err = m.store.CreateIdentity(ctx, ident)
	if errors.Is(err, billing.ErrIdentityExists) {
		// Lost the race against a concurrent delivery of the same event.
		return m.store.GetIdentityByRemoteID(ctx, remoteCustomerID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create identity: %w", err)
	}

	m.log.Info("customer identity created",
		billing.Field{Key: "user_id", Value: userID},
		billing.Field{Key: "remote_customer_id", Value: remoteCustomerID})
	return ident, nil
}

// ByRemoteID returns the identity for a remote customer id.
func (m *Mapper) ByRemoteID(ctx context.Context, remoteCustomerID string) (*billing.CustomerIdentity, error) {
	return m.store.GetIdentityByRemoteID(ctx, remoteCustomerID)
}

// ByUser returns the identity for an internal user id.
func (m *Mapper) ByUser(ctx context.Context, userID string) (*billing.CustomerIdentity, error) {
	return m.store.GetIdentityByUser(ctx, userID)
}
