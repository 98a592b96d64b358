package transfers

import (
	"context"
	"time"

	"driftsend/internal/server/models"
)

// Usage is the derived consumption of a registered account: the sum of live
// transfer bytes and the count of transfers created since the month start.
type Usage struct {
	StorageBytes   int64
	MonthTransfers int64
}

type Repository interface {
	// Create inserts a pending transfer and fills in its store-assigned id.
	Create(ctx context.Context, t *models.Transfer) error

	// Activate flips a pending transfer to active.
	Activate(ctx context.Context, id int64) error

	GetByPublicID(ctx context.Context, publicID string) (*models.Transfer, error)

	// IncrementDownloadCount adds one to the counter atomically in the
	// store; callers never read-modify-write it.
	IncrementDownloadCount(ctx context.Context, id int64) error

	// UpdatePasswordHash persists a replacement credential (hash upgrades).
	UpdatePasswordHash(ctx context.Context, id int64, hash string) error

	Delete(ctx context.Context, id int64) error

	// AccountUsage derives current usage from live rows: storage from
	// unexpired transfers, monthly count from rows created at or after
	// monthStart.
	AccountUsage(ctx context.Context, accountID string, now, monthStart time.Time) (Usage, error)

	// SelectPendingBefore lists transfers stuck in pending since before
	// cutoff, for the reconciliation sweep.
	SelectPendingBefore(ctx context.Context, cutoff time.Time) ([]*models.Transfer, error)
}
