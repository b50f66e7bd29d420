package billing

import "context"

// AccessGrant tells the authorization system that a user has paid for a
// permission tier through PaidToDate (formatted YYYY-MM-DD).
type AccessGrant struct {
	UserID       string `json:"user_id"`
	PermissionID int    `json:"permission_id"`
	PaidToDate   string `json:"paid_to_date"`
}

// AccessNotifier delivers access grants to the external authorization system.
// The call is best-effort from the caller's perspective: a failed notification
// never rolls back the ledger write that preceded it.
type AccessNotifier interface {
	NotifyAccess(ctx context.Context, grant AccessGrant) error
}

// NoopNotifier discards grants. Useful in tests and when no authorization
// system is wired.
type NoopNotifier struct{}

func (NoopNotifier) NotifyAccess(_ context.Context, _ AccessGrant) error { return nil }
