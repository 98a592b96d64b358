package ratelimit

import (
	"context"
	"fmt"
	"time"

	"driftsend/internal/dbx"
)

// PostgresStore keeps windowed counters in the rate_limits table, shared by
// all server instances. The increment is a single atomic upsert so concurrent
// requests never lose counts.
type PostgresStore struct {
	db dbx.DBTX
}

func NewPostgresStore(db dbx.DBTX) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Incr(ctx context.Context, key string, windowStart time.Time) (int64, error) {
	query := `
		INSERT INTO rate_limits (key, count, window_start)
		VALUES ($1, 1, $2)
		ON CONFLICT (key)
		DO UPDATE SET count = rate_limits.count + 1
		RETURNING count;
	`
	var count int64
	if err := s.db.QueryRowContext(ctx, query, key, windowStart).Scan(&count); err != nil {
		return 0, fmt.Errorf("rate limit incr: %w", err)
	}
	return count, nil
}

// Prune deletes counters for windows that started before cutoff. Losing
// these rows has no correctness impact beyond temporarily looser limiting.
func (s *PostgresStore) Prune(ctx context.Context, cutoff time.Time) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM rate_limits WHERE window_start < $1`, cutoff); err != nil {
		return fmt.Errorf("rate limit prune: %w", err)
	}
	return nil
}
