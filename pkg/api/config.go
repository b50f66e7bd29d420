// Package api exposes the billing service over HTTP: catalog management,
// checkout and portal sessions, subscription views and the admin surface.
// The webhook endpoint is mounted here but implemented by the provider.
package api

import (
	"fmt"
	"net/http"

	"github.com/mihaimyh/gobilling/pkg/billing"
	"github.com/mihaimyh/gobilling/pkg/billing/catalog"
	"github.com/mihaimyh/gobilling/pkg/billing/ledger"
	"github.com/mihaimyh/gobilling/pkg/billing/subscription"
)

// Config holds the handler's dependencies and request hooks.
type Config struct {
	// Catalog manages products and prices (required).
	Catalog *catalog.Service

	// Subscriptions builds sessions and subscription views (required).
	Subscriptions *subscription.Service

	// Ledger reads billing history (required).
	Ledger *ledger.Ledger

	// WebhookHandler is the provider's webhook endpoint. Optional; when nil
	// the webhook route is not mounted.
	WebhookHandler http.Handler

	// GetUserID extracts the authenticated user id from a request (required).
	// An empty return means unauthenticated.
	GetUserID func(*http.Request) string

	// IsSuperuser reports whether the request comes from an administrator.
	// Required; catalog mutations and the admin surface depend on it.
	IsSuperuser func(*http.Request) bool

	// Logger for structured logging. Optional.
	Logger billing.Logger
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Catalog == nil {
		return fmt.Errorf("catalog service is required")
	}
	if c.Subscriptions == nil {
		return fmt.Errorf("subscription service is required")
	}
	if c.Ledger == nil {
		return fmt.Errorf("ledger is required")
	}
	if c.GetUserID == nil {
		return fmt.Errorf("getUserID is required")
	}
	if c.IsSuperuser == nil {
		return fmt.Errorf("isSuperuser is required")
	}
	return nil
}

// NewHandler creates the HTTP handler.
func NewHandler(config Config) (*Handler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if config.Logger == nil {
		config.Logger = &billing.NoopLogger{}
	}
	return &Handler{config: config}, nil
}

// FromHeader returns a GetUserID function that reads a header.
func FromHeader(headerName string) func(*http.Request) string {
	return func(r *http.Request) string {
		return r.Header.Get(headerName)
	}
}

// FromContext returns a GetUserID function that reads the request context.
func FromContext(key interface{}) func(*http.Request) string {
	return func(r *http.Request) string {
		if userID, ok := r.Context().Value(key).(string); ok {
			return userID
		}
		return ""
	}
}

// SuperuserFromHeader reports superuser status when the given header matches
// the expected value. Intended for deployments where an upstream gateway
// already authenticated the administrator.
func SuperuserFromHeader(headerName, expected string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		return expected != "" && r.Header.Get(headerName) == expected
	}
}
