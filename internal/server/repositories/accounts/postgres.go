package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"driftsend/internal/common"
	"driftsend/internal/dbx"
	"driftsend/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	query := `
		SELECT id, plan, override_storage_bytes, override_max_transfers, override_retention_days,
			webhook_url, created_at, updated_at
		FROM accounts WHERE id=$1
	`
	a := &models.Account{}
	var overrideStorage, overrideTransfers sql.NullInt64
	var overrideRetention sql.NullInt32

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&a.ID, &a.Plan, &overrideStorage, &overrideTransfers, &overrideRetention,
		&a.WebhookURL, &a.CreatedAt, &a.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select account: %w", err)
	}

	if overrideStorage.Valid {
		a.OverrideStorageBytes = &overrideStorage.Int64
	}
	if overrideTransfers.Valid {
		a.OverrideMaxTransfers = &overrideTransfers.Int64
	}
	if overrideRetention.Valid {
		days := int(overrideRetention.Int32)
		a.OverrideRetentionDays = &days
	}
	return a, nil
}

func (r *PostgresRepository) Upsert(ctx context.Context, a *models.Account) error {
	query := `
		INSERT INTO accounts (id, plan, override_storage_bytes, override_max_transfers, override_retention_days, webhook_url)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id)
		DO UPDATE SET
			plan = EXCLUDED.plan,
			override_storage_bytes = EXCLUDED.override_storage_bytes,
			override_max_transfers = EXCLUDED.override_max_transfers,
			override_retention_days = EXCLUDED.override_retention_days,
			webhook_url = EXCLUDED.webhook_url,
			updated_at = now();
	`
	if _, err := r.db.ExecContext(ctx, query,
		a.ID, a.Plan, a.OverrideStorageBytes, a.OverrideMaxTransfers, a.OverrideRetentionDays, a.WebhookURL,
	); err != nil {
		return fmt.Errorf("failed to upsert account: %w", err)
	}
	return nil
}
