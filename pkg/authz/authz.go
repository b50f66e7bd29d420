// Package authz delivers access grants to the internal authorization service
// over HTTP.
package authz

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mihaimyh/gobilling/pkg/billing"
)

const defaultHTTPTimeout = 10 * time.Second

// apiKeyHeader carries the shared secret expected by the authorization
// service.
const apiKeyHeader = "APIKEY"

// Config holds the notifier's endpoint and credentials.
type Config struct {
	// URL is the permission endpoint, e.g. "https://auth.internal/api/permission".
	URL string

	// APIKey authenticates this service to the authorization service.
	APIKey string

	// HTTPClient overrides the default client. Optional.
	HTTPClient *http.Client

	// Logger for structured logging. Optional.
	Logger billing.Logger
}

// Notifier implements billing.AccessNotifier against the authorization
// service's HTTP API.
type Notifier struct {
	url        string
	apiKey     string
	httpClient *http.Client
	log        billing.Logger
}

var _ billing.AccessNotifier = (*Notifier)(nil)

// NewNotifier creates an HTTP access notifier.
func NewNotifier(config Config) (*Notifier, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("authz: endpoint URL is required")
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	logger := config.Logger
	if logger == nil {
		logger = &billing.NoopLogger{}
	}

	return &Notifier{
		url:        config.URL,
		apiKey:     config.APIKey,
		httpClient: httpClient,
		log:        logger,
	}, nil
}

// NotifyAccess posts the grant to the authorization service. Non-2xx answers
// are errors; the caller decides whether the failure is fatal.
func (n *Notifier) NotifyAccess(ctx context.Context, grant billing.AccessGrant) error {
	body, err := json.Marshal(grant)
	if err != nil {
		return fmt.Errorf("authz: encode grant: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("authz: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(apiKeyHeader, n.apiKey)

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("authz: deliver grant: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4*1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("authz: unexpected status %d", resp.StatusCode)
	}

	n.log.Debug("access grant delivered",
		billing.Field{Key: "user_id", Value: grant.UserID},
		billing.Field{Key: "permission_id", Value: grant.PermissionID},
		billing.Field{Key: "paid_to_date", Value: grant.PaidToDate})
	return nil
}
