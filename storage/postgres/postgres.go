// Package postgres provides a PostgreSQL implementation of the billing.Store
// interface using pgx. History rows are insert-only; products and prices use
// soft-delete flags so rows referenced by history are never removed.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mihaimyh/gobilling/pkg/billing"
)

// Store implements billing.Store using PostgreSQL.
type Store struct {
	pool   *pgxpool.Pool
	config Config
}

// Config holds PostgreSQL storage configuration.
type Config struct {
	// ConnectionString is the PostgreSQL connection string.
	ConnectionString string

	// Pool configuration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

// New creates a new PostgreSQL store.
func New(ctx context.Context, config Config) (*Store, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{pool: pool, config: config}, nil
}

// Close closes the connection pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Migrate applies the schema. Idempotent; safe to run at startup.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Products

func (s *Store) CreateProduct(ctx context.Context, p *billing.Product) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO product (id, remote_id, name, description, active, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.ID, p.RemoteID, p.Name, p.Description, p.Active, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create product: %w", err)
	}
	return nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*billing.Product, error) {
	return s.scanProduct(s.pool.QueryRow(ctx,
		`SELECT id, remote_id, name, description, active, created_at, updated_at
			FROM product WHERE id = $1`, id))
}

func (s *Store) GetActiveProductByName(ctx context.Context, name string) (*billing.Product, error) {
	return s.scanProduct(s.pool.QueryRow(ctx,
		`SELECT id, remote_id, name, description, active, created_at, updated_at
			FROM product WHERE name = $1 AND active`, name))
}

func (s *Store) scanProduct(row pgx.Row) (*billing.Product, error) {
	var p billing.Product
	err := row.Scan(&p.ID, &p.RemoteID, &p.Name, &p.Description, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, billing.ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return &p, nil
}

func (s *Store) ListProducts(ctx context.Context, activeOnly bool) ([]*billing.Product, error) {
	query := `SELECT id, remote_id, name, description, active, created_at, updated_at
		FROM product ORDER BY created_at`
	if activeOnly {
		query = `SELECT id, remote_id, name, description, active, created_at, updated_at
			FROM product WHERE active ORDER BY created_at`
	}

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	defer rows.Close()

	var out []*billing.Product
	for rows.Next() {
		var p billing.Product
		if err := rows.Scan(&p.ID, &p.RemoteID, &p.Name, &p.Description, &p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (s *Store) RenameProduct(ctx context.Context, id, name string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE product SET name = $2, updated_at = $3 WHERE id = $1`,
		id, name, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to rename product: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return billing.ErrProductNotFound
	}
	return nil
}

func (s *Store) SetProductActive(ctx context.Context, id string, active bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE product SET active = $2, updated_at = $3 WHERE id = $1`,
		id, active, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to update product: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return billing.ErrProductNotFound
	}
	return nil
}

// Prices

func (s *Store) CreatePrice(ctx context.Context, p *billing.Price) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO price (id, remote_id, product_id, remote_product_id, name, type,
				unit_amount, currency, recurring_interval, interval_count, usage_type,
				permission_id, active, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		p.ID, p.RemoteID, p.ProductID, p.RemoteProductID, p.Name, string(p.Type),
		p.UnitAmount, p.Currency, nullIfEmpty(string(p.Interval)), p.IntervalCount,
		nullIfEmpty(string(p.UsageType)), p.PermissionID, p.Active, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create price: %w", err)
	}
	return nil
}

func (s *Store) GetPrice(ctx context.Context, id string) (*billing.Price, error) {
	return s.scanPrice(s.pool.QueryRow(ctx, priceSelect+` WHERE id = $1`, id))
}

func (s *Store) GetPriceByRemoteID(ctx context.Context, remoteID string) (*billing.Price, error) {
	return s.scanPrice(s.pool.QueryRow(ctx, priceSelect+` WHERE remote_id = $1`, remoteID))
}

const priceSelect = `SELECT id, remote_id, product_id, remote_product_id, name, type,
	unit_amount, currency, recurring_interval, interval_count, usage_type,
	permission_id, active, created_at FROM price`

func (s *Store) scanPrice(row pgx.Row) (*billing.Price, error) {
	var p billing.Price
	var interval, usageType *string
	err := row.Scan(&p.ID, &p.RemoteID, &p.ProductID, &p.RemoteProductID, &p.Name, &p.Type,
		&p.UnitAmount, &p.Currency, &interval, &p.IntervalCount, &usageType,
		&p.PermissionID, &p.Active, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, billing.ErrPriceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get price: %w", err)
	}
	if interval != nil {
		p.Interval = billing.RecurringInterval(*interval)
	}
	if usageType != nil {
		p.UsageType = billing.UsageType(*usageType)
	}
	return &p, nil
}

func (s *Store) ListPricesByProduct(ctx context.Context, productID string, activeOnly bool) ([]*billing.Price, error) {
	query := priceSelect + ` WHERE product_id = $1 ORDER BY created_at`
	if activeOnly {
		query = priceSelect + ` WHERE product_id = $1 AND active ORDER BY created_at`
	}

	rows, err := s.pool.Query(ctx, query, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to list prices: %w", err)
	}
	defer rows.Close()

	var out []*billing.Price
	for rows.Next() {
		var p billing.Price
		var interval, usageType *string
		if err := rows.Scan(&p.ID, &p.RemoteID, &p.ProductID, &p.RemoteProductID, &p.Name, &p.Type,
			&p.UnitAmount, &p.Currency, &interval, &p.IntervalCount, &usageType,
			&p.PermissionID, &p.Active, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan price: %w", err)
		}
		if interval != nil {
			p.Interval = billing.RecurringInterval(*interval)
		}
		if usageType != nil {
			p.UsageType = billing.UsageType(*usageType)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (s *Store) SetPriceActive(ctx context.Context, id string, active bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE price SET active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("failed to update price: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return billing.ErrPriceNotFound
	}
	return nil
}

// Customer identities

func (s *Store) CreateIdentity(ctx context.Context, ident *billing.CustomerIdentity) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO stripe_customer (id, user_id, remote_customer_id, created_at)
			VALUES ($1, $2, $3, $4)`,
		ident.ID, ident.UserID, ident.RemoteCustomerID, ident.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		// 23505: unique_violation on remote_customer_id or user_id
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return billing.ErrIdentityExists
		}
		return fmt.Errorf("failed to create identity: %w", err)
	}
	return nil
}

func (s *Store) GetIdentityByUser(ctx context.Context, userID string) (*billing.CustomerIdentity, error) {
	return s.scanIdentity(s.pool.QueryRow(ctx,
		`SELECT id, user_id, remote_customer_id, created_at
			FROM stripe_customer WHERE user_id = $1`, userID))
}

func (s *Store) GetIdentityByRemoteID(ctx context.Context, remoteCustomerID string) (*billing.CustomerIdentity, error) {
	return s.scanIdentity(s.pool.QueryRow(ctx,
		`SELECT id, user_id, remote_customer_id, created_at
			FROM stripe_customer WHERE remote_customer_id = $1`, remoteCustomerID))
}

func (s *Store) scanIdentity(row pgx.Row) (*billing.CustomerIdentity, error) {
	var ident billing.CustomerIdentity
	err := row.Scan(&ident.ID, &ident.UserID, &ident.RemoteCustomerID, &ident.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, billing.ErrIdentityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get identity: %w", err)
	}
	return &ident, nil
}

// Ledger

func (s *Store) AppendHistory(ctx context.Context, e *billing.HistoryEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO billing_history (id, customer_id, price_id, subscription_id,
				subscription_status, event_type, additional_info, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.CustomerID, e.PriceID, e.SubscriptionID,
		string(e.Status), e.EventType, e.AdditionalInfo, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}
	return nil
}

func (s *Store) UserHistory(ctx context.Context, userID string) ([]*billing.HistoryRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT h.id, c.user_id, COALESCE(pr.name, ''), COALESCE(p.name, ''),
				h.subscription_id, h.subscription_status, h.event_type, h.created_at
			FROM billing_history h
			JOIN stripe_customer c ON c.id = h.customer_id
			LEFT JOIN price p ON p.id = h.price_id
			LEFT JOIN product pr ON pr.id = p.product_id
			WHERE c.user_id = $1
			ORDER BY h.created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var out []*billing.HistoryRecord
	for rows.Next() {
		var rec billing.HistoryRecord
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Product, &rec.Price,
			&rec.SubscriptionID, &rec.Status, &rec.EventType, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history record: %w", err)
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

func (s *Store) LatestHistoryForSubscription(ctx context.Context, userID, subscriptionID string) (*billing.HistoryEntry, error) {
	var e billing.HistoryEntry
	err := s.pool.QueryRow(ctx,
		`SELECT h.id, h.customer_id, h.price_id, h.subscription_id,
				h.subscription_status, h.event_type, h.additional_info, h.created_at
			FROM billing_history h
			JOIN stripe_customer c ON c.id = h.customer_id
			WHERE c.user_id = $1 AND h.subscription_id = $2
			ORDER BY h.created_at DESC
			LIMIT 1`,
		userID, subscriptionID,
	).Scan(&e.ID, &e.CustomerID, &e.PriceID, &e.SubscriptionID,
		&e.Status, &e.EventType, &e.AdditionalInfo, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	return &e, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

var _ billing.Store = (*Store)(nil)
