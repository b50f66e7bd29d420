package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/gobilling/pkg/billing"
	"github.com/mihaimyh/gobilling/pkg/billing/catalog"
	"github.com/mihaimyh/gobilling/pkg/billing/ledger"
	"github.com/mihaimyh/gobilling/pkg/billing/subscription"
	"github.com/mihaimyh/gobilling/storage/memory"
)

// fakeProvider stubs the remote payment provider for handler tests.
type fakeProvider struct {
	billing.PaymentProvider

	productSeq    int
	priceSeq      int
	subscriptions map[string][]*billing.Subscription
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) CreateProduct(_ context.Context, name string) (*billing.RemoteProduct, error) {
	f.productSeq++
	now := time.Now().UTC()
	return &billing.RemoteProduct{ID: "prod_r" + string(rune('0'+f.productSeq)), Name: name, Active: true, Created: now, Updated: now}, nil
}

func (f *fakeProvider) RenameProduct(_ context.Context, remoteID, name string) (*billing.RemoteProduct, error) {
	return &billing.RemoteProduct{ID: remoteID, Name: name, Active: true}, nil
}

func (f *fakeProvider) DeactivateProduct(_ context.Context, _ string) error { return nil }

func (f *fakeProvider) CreatePrice(_ context.Context, _ billing.PriceParams) (string, error) {
	f.priceSeq++
	return "price_r" + string(rune('0'+f.priceSeq)), nil
}

func (f *fakeProvider) DeactivatePrice(_ context.Context, _ string) error { return nil }

func (f *fakeProvider) CreateCheckoutSession(_ context.Context, params billing.CheckoutParams) (*billing.Session, error) {
	return &billing.Session{ID: "cs_1", URL: "https://pay.example/cs_1"}, nil
}

func (f *fakeProvider) CreatePortalSession(_ context.Context, customerID, returnURL string) (*billing.Session, error) {
	return &billing.Session{ID: "ps_1", URL: returnURL}, nil
}

func (f *fakeProvider) ListSubscriptions(_ context.Context, customerID string, status billing.SubscriptionStatus) ([]*billing.Subscription, error) {
	var out []*billing.Subscription
	for _, sub := range f.subscriptions[customerID] {
		if status == "" || sub.Status == status {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (f *fakeProvider) GetSubscription(_ context.Context, id string) (*billing.Subscription, error) {
	for _, subs := range f.subscriptions {
		for _, sub := range subs {
			if sub.ID == id {
				return sub, nil
			}
		}
	}
	return nil, billing.ErrProviderNotConfigured
}

func (f *fakeProvider) ChangeSubscriptionPrice(ctx context.Context, subscriptionID, itemID, remotePriceID string) (*billing.Subscription, error) {
	sub, err := f.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	changed := *sub
	changed.PriceID = remotePriceID
	return &changed, nil
}

type fixture struct {
	router   http.Handler
	store    *memory.Store
	provider *fakeProvider
	ledger   *ledger.Ledger
}

func setup(t *testing.T) *fixture {
	t.Helper()

	store := memory.New()
	provider := &fakeProvider{subscriptions: map[string][]*billing.Subscription{}}
	l := ledger.New(store, nil, nil)

	handler, err := NewHandler(Config{
		Catalog:       catalog.New(store, provider, nil),
		Subscriptions: subscription.New(store, provider, l, nil),
		Ledger:        l,
		GetUserID:     FromHeader("X-User-ID"),
		IsSuperuser:   SuperuserFromHeader("X-Admin-Token", "admin-secret"),
	})
	require.NoError(t, err)

	return &fixture{router: handler.Router(), store: store, provider: provider, ledger: l}
}

func (f *fixture) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

var adminHeaders = map[string]string{"X-Admin-Token": "admin-secret"}

func userHeaders(userID string) map[string]string {
	return map[string]string{"X-User-ID": userID}
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v))
	return v
}

func TestHandler_Health(t *testing.T) {
	f := setup(t)
	w := f.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandler_ProductLifecycle(t *testing.T) {
	f := setup(t)

	// Mutations need the admin token.
	w := f.do(t, http.MethodPost, "/products", createProductRequest{Name: "Premium"}, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(t, http.MethodPost, "/products", createProductRequest{Name: "Premium"}, adminHeaders)
	require.Equal(t, http.StatusCreated, w.Code)
	product := decodeBody[billing.Product](t, w)
	assert.NotEmpty(t, product.ID)

	// Duplicate name conflicts.
	w = f.do(t, http.MethodPost, "/products", createProductRequest{Name: "Premium"}, adminHeaders)
	assert.Equal(t, http.StatusConflict, w.Code)

	// Reads are public.
	w = f.do(t, http.MethodGet, "/products", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	products := decodeBody[[]billing.Product](t, w)
	require.Len(t, products, 1)

	w = f.do(t, http.MethodPut, "/products/"+product.ID, renameProductRequest{Name: "Premium Plus"}, adminHeaders)
	require.Equal(t, http.StatusOK, w.Code)
	renamed := decodeBody[billing.Product](t, w)
	assert.Equal(t, "Premium Plus", renamed.Name)

	w = f.do(t, http.MethodDelete, "/products/"+product.ID, nil, adminHeaders)
	assert.Equal(t, http.StatusNoContent, w.Code)

	// Deactivated products drop out of the default listing but stay readable.
	w = f.do(t, http.MethodGet, "/products", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decodeBody[[]billing.Product](t, w))

	w = f.do(t, http.MethodGet, "/products?all=true", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeBody[[]billing.Product](t, w), 1)

	w = f.do(t, http.MethodGet, "/products/"+product.ID, nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandler_PriceValidation(t *testing.T) {
	f := setup(t)

	w := f.do(t, http.MethodPost, "/products", createProductRequest{Name: "Premium"}, adminHeaders)
	require.Equal(t, http.StatusCreated, w.Code)
	product := decodeBody[billing.Product](t, w)

	// Recurring price without interval fields is rejected.
	w = f.do(t, http.MethodPost, "/prices", createPriceRequest{
		Name: "monthly", ProductID: product.ID, PermissionID: 1,
		UnitAmount: 999, Currency: "usd", Type: "recurring",
	}, adminHeaders)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = f.do(t, http.MethodPost, "/prices", createPriceRequest{
		Name: "monthly", ProductID: product.ID, PermissionID: 1,
		UnitAmount: 999, Currency: "usd", Type: "recurring",
		Interval: "month", IntervalCount: 24, UsageType: "licensed",
	}, adminHeaders)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = f.do(t, http.MethodPost, "/prices", createPriceRequest{
		Name: "monthly", ProductID: product.ID, PermissionID: 1,
		UnitAmount: 999, Currency: "usd", Type: "recurring",
		Interval: "month", IntervalCount: 1, UsageType: "licensed",
	}, adminHeaders)
	require.Equal(t, http.StatusCreated, w.Code)
	price := decodeBody[billing.Price](t, w)

	w = f.do(t, http.MethodGet, "/products/"+product.ID+"/prices", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	prices := decodeBody[[]billing.Price](t, w)
	require.Len(t, prices, 1)
	assert.Equal(t, price.ID, prices[0].ID)
}

func TestHandler_CheckoutRequiresAuth(t *testing.T) {
	f := setup(t)

	w := f.do(t, http.MethodPost, "/checkout", checkoutRequest{PriceIDs: []string{"p"}}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHandler_Checkout(t *testing.T) {
	f := setup(t)

	w := f.do(t, http.MethodPost, "/products", createProductRequest{Name: "Premium"}, adminHeaders)
	require.Equal(t, http.StatusCreated, w.Code)
	product := decodeBody[billing.Product](t, w)

	w = f.do(t, http.MethodPost, "/prices", createPriceRequest{
		Name: "monthly", ProductID: product.ID, PermissionID: 1,
		UnitAmount: 999, Currency: "usd", Type: "recurring",
		Interval: "month", IntervalCount: 1, UsageType: "licensed",
	}, adminHeaders)
	require.Equal(t, http.StatusCreated, w.Code)
	price := decodeBody[billing.Price](t, w)

	w = f.do(t, http.MethodPost, "/checkout", checkoutRequest{
		PriceIDs:   []string{price.ID},
		SuccessURL: "https://app.example/ok",
		CancelURL:  "https://app.example/no",
	}, userHeaders("user-1"))
	require.Equal(t, http.StatusCreated, w.Code)
	session := decodeBody[sessionResponse](t, w)
	assert.NotEmpty(t, session.URL)

	// Unknown price is a 404, not a provider call.
	w = f.do(t, http.MethodPost, "/checkout", checkoutRequest{PriceIDs: []string{"missing"}}, userHeaders("user-1"))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandler_PortalWithoutIdentity(t *testing.T) {
	f := setup(t)

	w := f.do(t, http.MethodPost, "/portal", portalRequest{ReturnURL: "https://app.example"}, userHeaders("user-1"))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandler_SubscriptionViews(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	require.NoError(t, f.store.CreateIdentity(ctx, &billing.CustomerIdentity{
		ID: "ident-1", UserID: "user-1", RemoteCustomerID: "cus_1",
	}))
	f.provider.subscriptions["cus_1"] = []*billing.Subscription{
		{ID: "sub_1", CustomerID: "cus_1", Status: billing.SubscriptionStatusActive, PriceID: "price_r1", ItemID: "si_1"},
	}

	w := f.do(t, http.MethodGet, "/subscriptions", nil, userHeaders("user-1"))
	require.Equal(t, http.StatusOK, w.Code)
	views := decodeBody[[]subscription.View](t, w)
	require.Len(t, views, 1)
	assert.Equal(t, "sub_1", views[0].Subscription.ID)

	w = f.do(t, http.MethodGet, "/subscriptions/active", nil, userHeaders("user-1"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decodeBody[activeSubscriptionResponse](t, w).Active)

	w = f.do(t, http.MethodGet, "/subscriptions/active", nil, userHeaders("user-2"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decodeBody[activeSubscriptionResponse](t, w).Active)
}

func TestHandler_ChangeSubscription(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	w := f.do(t, http.MethodPost, "/products", createProductRequest{Name: "Premium"}, adminHeaders)
	require.Equal(t, http.StatusCreated, w.Code)
	product := decodeBody[billing.Product](t, w)

	w = f.do(t, http.MethodPost, "/prices", createPriceRequest{
		Name: "yearly", ProductID: product.ID, PermissionID: 1,
		UnitAmount: 9990, Currency: "usd", Type: "recurring",
		Interval: "year", IntervalCount: 1, UsageType: "licensed",
	}, adminHeaders)
	require.Equal(t, http.StatusCreated, w.Code)
	yearly := decodeBody[billing.Price](t, w)

	require.NoError(t, f.store.CreateIdentity(ctx, &billing.CustomerIdentity{
		ID: "ident-1", UserID: "user-1", RemoteCustomerID: "cus_1",
	}))
	f.provider.subscriptions["cus_1"] = []*billing.Subscription{
		{ID: "sub_1", CustomerID: "cus_1", Status: billing.SubscriptionStatusActive, PriceID: "price_old", ItemID: "si_1"},
	}

	// Not owned per ledger yet.
	w = f.do(t, http.MethodPut, "/subscriptions/sub_1", changeSubscriptionRequest{PriceID: yearly.ID}, userHeaders("user-1"))
	assert.Equal(t, http.StatusForbidden, w.Code)

	_, err := f.ledger.Append(ctx, ledger.AppendParams{
		CustomerID: "ident-1", PriceID: yearly.ID, SubscriptionID: "sub_1",
		Status: billing.SubscriptionStatusActive, EventType: "customer.subscription.created",
	})
	require.NoError(t, err)

	w = f.do(t, http.MethodPut, "/subscriptions/sub_1", changeSubscriptionRequest{PriceID: yearly.ID}, userHeaders("user-1"))
	require.Equal(t, http.StatusOK, w.Code)
	sub := decodeBody[billing.Subscription](t, w)
	assert.Equal(t, yearly.RemoteID, sub.PriceID)
}

func TestHandler_AdminSurface(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	require.NoError(t, f.store.CreateIdentity(ctx, &billing.CustomerIdentity{
		ID: "ident-1", UserID: "user-1", RemoteCustomerID: "cus_1",
	}))
	_, err := f.ledger.Append(ctx, ledger.AppendParams{
		CustomerID: "ident-1", SubscriptionID: "sub_1",
		Status: billing.SubscriptionStatusActive, EventType: "invoice.paid",
	})
	require.NoError(t, err)

	// No token: forbidden.
	w := f.do(t, http.MethodGet, "/admin/billing-history/user-1", nil, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(t, http.MethodGet, "/admin/billing-history/user-1", nil, adminHeaders)
	require.Equal(t, http.StatusOK, w.Code)
	records := decodeBody[[]billing.HistoryRecord](t, w)
	require.Len(t, records, 1)
	assert.Equal(t, "invoice.paid", records[0].EventType)

	w = f.do(t, http.MethodGet, "/admin/subscriptions/user-1", nil, adminHeaders)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandler_OwnHistory(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	require.NoError(t, f.store.CreateIdentity(ctx, &billing.CustomerIdentity{
		ID: "ident-1", UserID: "user-1", RemoteCustomerID: "cus_1",
	}))
	_, err := f.ledger.Append(ctx, ledger.AppendParams{
		CustomerID: "ident-1", SubscriptionID: "sub_1",
		Status: billing.SubscriptionStatusActive, EventType: "invoice.paid",
	})
	require.NoError(t, err)

	w := f.do(t, http.MethodGet, "/billing-history", nil, userHeaders("user-1"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeBody[[]billing.HistoryRecord](t, w), 1)

	// Other users see their own, empty, history.
	w = f.do(t, http.MethodGet, "/billing-history", nil, userHeaders("user-2"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decodeBody[[]billing.HistoryRecord](t, w))
}

func TestHandler_BadJSONBody(t *testing.T) {
	f := setup(t)

	req := httptest.NewRequest(http.MethodPost, "/products", bytes.NewReader([]byte("{not json")))
	req.Header.Set("X-Admin-Token", "admin-secret")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
