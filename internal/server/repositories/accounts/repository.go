package accounts

import (
	"context"

	"driftsend/internal/server/models"
)

type Repository interface {
	// GetByID returns the quota-relevant account fields. The id must come
	// from a verified identity, never from client input.
	GetByID(ctx context.Context, id string) (*models.Account, error)

	// Upsert creates or refreshes the plan record, used when the billing
	// system pushes plan changes.
	Upsert(ctx context.Context, a *models.Account) error
}
