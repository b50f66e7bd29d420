package billing

import "context"

// Store is the persistence contract for the billing domain. Implementations
// must support transactional single-row insert/update/select; no engine
// beyond that is assumed.
//
// History is append-only: there is deliberately no update or delete operation
// for history entries.
type Store interface {
	// Products
	CreateProduct(ctx context.Context, p *Product) error
	GetProduct(ctx context.Context, id string) (*Product, error)
	GetActiveProductByName(ctx context.Context, name string) (*Product, error)
	ListProducts(ctx context.Context, activeOnly bool) ([]*Product, error)
	RenameProduct(ctx context.Context, id, name string) error
	SetProductActive(ctx context.Context, id string, active bool) error

	// Prices
	CreatePrice(ctx context.Context, p *Price) error
	GetPrice(ctx context.Context, id string) (*Price, error)
	GetPriceByRemoteID(ctx context.Context, remoteID string) (*Price, error)
	ListPricesByProduct(ctx context.Context, productID string, activeOnly bool) ([]*Price, error)
	SetPriceActive(ctx context.Context, id string, active bool) error

	// Customer identities
	CreateIdentity(ctx context.Context, ident *CustomerIdentity) error
	GetIdentityByUser(ctx context.Context, userID string) (*CustomerIdentity, error)
	GetIdentityByRemoteID(ctx context.Context, remoteCustomerID string) (*CustomerIdentity, error)

	// Ledger
	AppendHistory(ctx context.Context, e *HistoryEntry) error
	UserHistory(ctx context.Context, userID string) ([]*HistoryRecord, error)
	// LatestHistoryForSubscription returns the newest ledger entry linking the
	// user to the given remote subscription id, or (nil, nil) when none exists.
	LatestHistoryForSubscription(ctx context.Context, userID, subscriptionID string) (*HistoryEntry, error)
}
