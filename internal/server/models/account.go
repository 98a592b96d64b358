package models

import "time"

// Account carries the quota-relevant fields of a registered account. The
// full account entity (billing, profile) lives outside this service; only
// plan data and admin overrides are read here. Usage is derived by querying
// live transfer rows, not stored on the account.
type Account struct {
	ID   string
	Plan string

	// Admin-granted overrides; nil means "use the plan default".
	OverrideStorageBytes  *int64
	OverrideMaxTransfers  *int64
	OverrideRetentionDays *int

	// WebhookURL, when set, receives download notifications for the
	// account's transfers.
	WebhookURL string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// AnonUsage tracks usage for an anonymous pseudo-identity. Unlike accounts,
// these counters are maintained in place because anonymous transfers are not
// cheaply summable by identity. Counters are clamped at zero on decrement.
type AnonUsage struct {
	AnonID        string
	StorageBytes  int64
	TransferCount int64

	// WindowStart anchors the rolling transfer-count window; when it is
	// older than the window length the count is reset before incrementing.
	WindowStart time.Time
	UpdatedAt   time.Time
}
