package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/mihaimyh/gobilling/pkg/billing"
	"github.com/mihaimyh/gobilling/pkg/billing/catalog"
)

const maxRequestBodyBytes = 64 * 1024

// Handler serves the billing HTTP API.
type Handler struct {
	config Config
}

// Router builds the route tree.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if h.config.WebhookHandler != nil {
		r.Mount("/webhook/stripe", h.config.WebhookHandler)
	}

	r.Route("/products", func(r chi.Router) {
		r.Get("/", h.listProducts)
		r.Get("/{productID}", h.getProduct)
		r.Get("/{productID}/prices", h.listProductPrices)
		r.Post("/", h.createProduct)
		r.Put("/{productID}", h.renameProduct)
		r.Delete("/{productID}", h.deactivateProduct)
	})

	r.Route("/prices", func(r chi.Router) {
		r.Get("/{priceID}", h.getPrice)
		r.Post("/", h.createPrice)
		r.Delete("/{priceID}", h.deactivatePrice)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.requireUser)
		r.Post("/checkout", h.createCheckout)
		r.Post("/portal", h.createPortal)
		r.Get("/subscriptions", h.listSubscriptions)
		r.Get("/subscriptions/active", h.hasActiveSubscription)
		r.Put("/subscriptions/{subscriptionID}", h.changeSubscription)
		r.Get("/billing-history", h.ownHistory)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Get("/billing-history/{userID}", h.userHistory)
		r.Get("/subscriptions/{userID}", h.userSubscriptions)
	})

	return r
}

type contextKey string

const userIDKey contextKey = "billing.user_id"

func contextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

func userIDFrom(r *http.Request) string {
	userID, _ := r.Context().Value(userIDKey).(string)
	return userID
}

// requireUser rejects unauthenticated requests and stashes the user id.
func (h *Handler) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := h.config.GetUserID(r)
		if userID == "" {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		ctx := contextWithUserID(r.Context(), userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// authorizeSuperuser guards catalog mutations and the admin surface. Each
// guarded handler calls it first, an explicit check rather than a wrapper.
func (h *Handler) authorizeSuperuser(w http.ResponseWriter, r *http.Request) bool {
	if !h.config.IsSuperuser(r) {
		writeError(w, http.StatusForbidden, billing.ErrPermissionDenied.Error())
		return false
	}
	return true
}

// Products

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("all") != "true"
	products, err := h.config.Catalog.ListProducts(r.Context(), activeOnly)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, products)
}

func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	product, err := h.config.Catalog.GetProduct(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (h *Handler) createProduct(w http.ResponseWriter, r *http.Request) {
	if !h.authorizeSuperuser(w, r) {
		return
	}
	var req createProductRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusUnprocessableEntity, "name is required")
		return
	}
	product, err := h.config.Catalog.CreateProduct(r.Context(), req.Name)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, product)
}

func (h *Handler) renameProduct(w http.ResponseWriter, r *http.Request) {
	if !h.authorizeSuperuser(w, r) {
		return
	}
	var req renameProductRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusUnprocessableEntity, "name is required")
		return
	}
	product, err := h.config.Catalog.RenameProduct(r.Context(), chi.URLParam(r, "productID"), req.Name)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (h *Handler) deactivateProduct(w http.ResponseWriter, r *http.Request) {
	if !h.authorizeSuperuser(w, r) {
		return
	}
	if err := h.config.Catalog.DeactivateProduct(r.Context(), chi.URLParam(r, "productID")); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Prices

func (h *Handler) getPrice(w http.ResponseWriter, r *http.Request) {
	price, err := h.config.Catalog.GetPrice(r.Context(), chi.URLParam(r, "priceID"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, price)
}

func (h *Handler) listProductPrices(w http.ResponseWriter, r *http.Request) {
	prices, err := h.config.Catalog.PricesForProduct(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, prices)
}

func (h *Handler) createPrice(w http.ResponseWriter, r *http.Request) {
	if !h.authorizeSuperuser(w, r) {
		return
	}
	var req createPriceRequest
	if !h.decode(w, r, &req) {
		return
	}
	price, err := h.config.Catalog.CreatePrice(r.Context(), catalog.CreatePriceParams{
		Name:          req.Name,
		ProductID:     req.ProductID,
		PermissionID:  req.PermissionID,
		UnitAmount:    req.UnitAmount,
		Currency:      req.Currency,
		Type:          billing.PriceType(req.Type),
		Interval:      billing.RecurringInterval(req.Interval),
		IntervalCount: req.IntervalCount,
		UsageType:     billing.UsageType(req.UsageType),
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, price)
}

func (h *Handler) deactivatePrice(w http.ResponseWriter, r *http.Request) {
	if !h.authorizeSuperuser(w, r) {
		return
	}
	if err := h.config.Catalog.DeactivatePrice(r.Context(), chi.URLParam(r, "priceID")); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Sessions and subscriptions

func (h *Handler) createCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if !h.decode(w, r, &req) {
		return
	}
	if len(req.PriceIDs) == 0 {
		writeError(w, http.StatusUnprocessableEntity, "price_ids is required")
		return
	}
	session, err := h.config.Subscriptions.CreateCheckoutSession(r.Context(), userIDFrom(r), req.PriceIDs, req.SuccessURL, req.CancelURL)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSessionResponse(session))
}

func (h *Handler) createPortal(w http.ResponseWriter, r *http.Request) {
	var req portalRequest
	if !h.decode(w, r, &req) {
		return
	}
	session, err := h.config.Subscriptions.CreatePortalSession(r.Context(), userIDFrom(r), req.ReturnURL)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSessionResponse(session))
}

func (h *Handler) listSubscriptions(w http.ResponseWriter, r *http.Request) {
	views, err := h.config.Subscriptions.UserSubscriptions(r.Context(), userIDFrom(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *Handler) hasActiveSubscription(w http.ResponseWriter, r *http.Request) {
	active, err := h.config.Subscriptions.HasActiveSubscription(r.Context(), userIDFrom(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, activeSubscriptionResponse{Active: active})
}

func (h *Handler) changeSubscription(w http.ResponseWriter, r *http.Request) {
	var req changeSubscriptionRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.PriceID == "" {
		writeError(w, http.StatusUnprocessableEntity, "price_id is required")
		return
	}
	sub, err := h.config.Subscriptions.ChangeSubscription(r.Context(), userIDFrom(r), chi.URLParam(r, "subscriptionID"), req.PriceID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// History

func (h *Handler) ownHistory(w http.ResponseWriter, r *http.Request) {
	records, err := h.config.Ledger.UserHistory(r.Context(), userIDFrom(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *Handler) userHistory(w http.ResponseWriter, r *http.Request) {
	if !h.authorizeSuperuser(w, r) {
		return
	}
	records, err := h.config.Ledger.UserHistory(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *Handler) userSubscriptions(w http.ResponseWriter, r *http.Request) {
	if !h.authorizeSuperuser(w, r) {
		return
	}
	views, err := h.config.Subscriptions.UserSubscriptions(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

// Helpers

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

// writeServiceError maps domain sentinels to HTTP status codes.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, billing.ErrProductNotFound),
		errors.Is(err, billing.ErrPriceNotFound),
		errors.Is(err, billing.ErrIdentityNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, billing.ErrProductExists):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, billing.ErrRecurringFieldsRequired),
		errors.Is(err, billing.ErrInvalidIntervalCount):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, billing.ErrSubscriptionNotOwned),
		errors.Is(err, billing.ErrPermissionDenied):
		writeError(w, http.StatusForbidden, err.Error())
	default:
		h.config.Logger.Error("request failed",
			billing.Field{Key: "error", Value: err.Error()},
			billing.Field{Key: "path", Value: r.URL.Path})
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		return
	}
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
