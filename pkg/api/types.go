package api

import (
	"github.com/mihaimyh/gobilling/pkg/billing"
)

// createProductRequest is the body for POST /products.
type createProductRequest struct {
	Name string `json:"name"`
}

// renameProductRequest is the body for PUT /products/{id}.
type renameProductRequest struct {
	Name string `json:"name"`
}

// createPriceRequest is the body for POST /prices. Interval, IntervalCount
// and UsageType are required for recurring prices.
type createPriceRequest struct {
	Name          string `json:"name"`
	ProductID     string `json:"product_id"`
	PermissionID  int    `json:"permission_id"`
	UnitAmount    int64  `json:"unit_amount"`
	Currency      string `json:"currency"`
	Type          string `json:"type"`
	Interval      string `json:"interval,omitempty"`
	IntervalCount int64  `json:"interval_count,omitempty"`
	UsageType     string `json:"usage_type,omitempty"`
}

// checkoutRequest is the body for POST /checkout.
type checkoutRequest struct {
	PriceIDs   []string `json:"price_ids"`
	SuccessURL string   `json:"success_url"`
	CancelURL  string   `json:"cancel_url"`
}

// portalRequest is the body for POST /portal.
type portalRequest struct {
	ReturnURL string `json:"return_url"`
}

// changeSubscriptionRequest is the body for PUT /subscriptions/{id}.
type changeSubscriptionRequest struct {
	PriceID string `json:"price_id"`
}

// sessionResponse wraps a provider-hosted session.
type sessionResponse struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

// activeSubscriptionResponse is the body for GET /subscriptions/active.
type activeSubscriptionResponse struct {
	Active bool `json:"active"`
}

func toSessionResponse(s *billing.Session) sessionResponse {
	return sessionResponse{SessionID: s.ID, URL: s.URL}
}
