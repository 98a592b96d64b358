package anonusage

import (
	"context"
	"time"

	"driftsend/internal/server/models"
)

// Repository maintains usage counters for anonymous pseudo-identities.
// These counters are updated in place (unlike registered accounts, whose
// usage is derived by query) because anonymous transfers are not cheaply
// summable by identity. Decrements clamp at zero.
type Repository interface {
	Get(ctx context.Context, anonID string) (*models.AnonUsage, error)

	// AddUsage records one created transfer of the given size. When the
	// stored window started before windowStartCutoff, the transfer count
	// resets to 1 and a fresh window begins.
	AddUsage(ctx context.Context, anonID string, bytes int64, windowStartCutoff time.Time) error

	// ReleaseStorage subtracts deleted bytes, clamped at zero.
	ReleaseStorage(ctx context.Context, anonID string, bytes int64) error
}
