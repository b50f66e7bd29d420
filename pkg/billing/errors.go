package billing

import "errors"

var (
	// ErrProductNotFound is returned when a product id resolves to no row.
	ErrProductNotFound = errors.New("product not found")

	// ErrProductExists is returned when creating a product whose active name is taken.
	ErrProductExists = errors.New("product already exists")

	// ErrPriceNotFound is returned when a price id resolves to no row.
	ErrPriceNotFound = errors.New("price not found")

	// ErrIdentityNotFound is returned when no customer identity exists for the
	// given user or remote customer id.
	ErrIdentityNotFound = errors.New("customer identity not found")

	// ErrIdentityExists is returned by stores when an identity row for the same
	// remote customer id was inserted concurrently.
	ErrIdentityExists = errors.New("customer identity already exists")

	// ErrRecurringFieldsRequired is returned when a recurring price is created
	// without interval, interval count or usage type.
	ErrRecurringFieldsRequired = errors.New("recurring price requires interval, interval_count and usage_type")

	// ErrInvalidIntervalCount is returned when interval_count is outside 1..12.
	ErrInvalidIntervalCount = errors.New("interval_count must be between 1 and 12")

	// ErrSubscriptionNotOwned is returned when a subscription change is requested
	// for a subscription the user does not demonstrably own.
	ErrSubscriptionNotOwned = errors.New("user has no matching active subscription")

	// ErrInvalidWebhookSignature is returned when webhook signature verification fails.
	ErrInvalidWebhookSignature = errors.New("invalid webhook signature")

	// ErrInvalidWebhookPayload is returned when a webhook payload cannot be parsed.
	ErrInvalidWebhookPayload = errors.New("invalid webhook payload")

	// ErrProviderNotConfigured is returned when a payment provider is missing
	// required configuration.
	ErrProviderNotConfigured = errors.New("payment provider not configured")

	// ErrPermissionDenied is returned by the admin guard when the caller lacks
	// the superuser permission.
	ErrPermissionDenied = errors.New("permission denied")
)
