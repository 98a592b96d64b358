package anonusage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

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

func (r *PostgresRepository) Get(ctx context.Context, anonID string) (*models.AnonUsage, error) {
	query := `SELECT anon_id, storage_bytes, transfer_count, window_start, updated_at FROM anon_usage WHERE anon_id=$1`
	u := &models.AnonUsage{}
	err := r.db.QueryRowContext(ctx, query, anonID).Scan(
		&u.AnonID, &u.StorageBytes, &u.TransferCount, &u.WindowStart, &u.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select anon usage: %w", err)
	}
	return u, nil
}

func (r *PostgresRepository) AddUsage(ctx context.Context, anonID string, bytes int64, windowStartCutoff time.Time) error {
	// Single atomic upsert: concurrent creations from the same pseudo-id
	// never lose increments, and a stale window resets in the same statement.
	query := `
		INSERT INTO anon_usage (anon_id, storage_bytes, transfer_count, window_start, updated_at)
		VALUES ($1, $2, 1, now(), now())
		ON CONFLICT (anon_id)
		DO UPDATE SET
			storage_bytes = anon_usage.storage_bytes + EXCLUDED.storage_bytes,
			transfer_count = CASE WHEN anon_usage.window_start < $3 THEN 1 ELSE anon_usage.transfer_count + 1 END,
			window_start = CASE WHEN anon_usage.window_start < $3 THEN now() ELSE anon_usage.window_start END,
			updated_at = now();
	`
	if _, err := r.db.ExecContext(ctx, query, anonID, bytes, windowStartCutoff); err != nil {
		return fmt.Errorf("failed to add anon usage: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ReleaseStorage(ctx context.Context, anonID string, bytes int64) error {
	// Clamped at zero: bytes may have been counted under an older retention
	// policy, so a decrement can exceed what is currently recorded.
	query := `
		UPDATE anon_usage
		SET storage_bytes = GREATEST(storage_bytes - $2, 0), updated_at = now()
		WHERE anon_id = $1
	`
	if _, err := r.db.ExecContext(ctx, query, anonID, bytes); err != nil {
		return fmt.Errorf("failed to release anon storage: %w", err)
	}
	return nil
}
