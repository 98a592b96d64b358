package transfers

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

// PostgresRepository implements transfer storage over a dbx.DBTX
// (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (r *PostgresRepository) Create(ctx context.Context, t *models.Transfer) error {
	query := `
		INSERT INTO transfers
			(public_id, account_id, anon_id, title, message, recipient_email, sender_email,
			 password_hash, owner_only, total_bytes, file_count, max_downloads,
			 status, encrypted, encryption_algo, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING id, created_at, updated_at;
	`
	err := r.db.QueryRowContext(ctx, query,
		t.PublicID, nullable(t.AccountID), nullable(t.AnonID), t.Title, t.Message,
		t.RecipientEmail, t.SenderEmail, t.PasswordHash, t.OwnerOnly,
		t.TotalBytes, t.FileCount, t.MaxDownloads, t.Status,
		t.Encrypted, t.EncryptionAlgo, t.ExpiresAt,
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert transfer: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Activate(ctx context.Context, id int64) error {
	query := `UPDATE transfers SET status=$1, updated_at=now() WHERE id=$2 AND status=$3`
	res, err := r.db.ExecContext(ctx, query, models.TransferStatusActive, id, models.TransferStatusPending)
	if err != nil {
		return fmt.Errorf("failed to activate transfer: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n != 1 {
		return common.ErrNotFound
	}
	return nil
}

const transferColumns = `id, public_id, COALESCE(account_id, ''), COALESCE(anon_id, ''),
	title, message, recipient_email, sender_email, password_hash, owner_only,
	total_bytes, file_count, download_count, max_downloads, status,
	encrypted, encryption_algo, expires_at, created_at, updated_at`

func scanTransfer(row interface{ Scan(...any) error }) (*models.Transfer, error) {
	t := &models.Transfer{}
	err := row.Scan(
		&t.ID, &t.PublicID, &t.AccountID, &t.AnonID,
		&t.Title, &t.Message, &t.RecipientEmail, &t.SenderEmail, &t.PasswordHash, &t.OwnerOnly,
		&t.TotalBytes, &t.FileCount, &t.DownloadCount, &t.MaxDownloads, &t.Status,
		&t.Encrypted, &t.EncryptionAlgo, &t.ExpiresAt, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (r *PostgresRepository) GetByPublicID(ctx context.Context, publicID string) (*models.Transfer, error) {
	query := `SELECT ` + transferColumns + ` FROM transfers WHERE public_id=$1`
	t, err := scanTransfer(r.db.QueryRowContext(ctx, query, publicID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select transfer: %w", err)
	}
	return t, nil
}

func (r *PostgresRepository) IncrementDownloadCount(ctx context.Context, id int64) error {
	query := `UPDATE transfers SET download_count = download_count + 1, updated_at=now() WHERE id=$1`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to increment download count: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n != 1 {
		return common.ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) UpdatePasswordHash(ctx context.Context, id int64, hash string) error {
	query := `UPDATE transfers SET password_hash=$1, updated_at=now() WHERE id=$2`
	res, err := r.db.ExecContext(ctx, query, hash, id)
	if err != nil {
		return fmt.Errorf("failed to update password hash: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n != 1 {
		return common.ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id int64) error {
	// transfer_files rows go with the transfer via ON DELETE CASCADE.
	res, err := r.db.ExecContext(ctx, `DELETE FROM transfers WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete transfer: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n != 1 {
		return common.ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) AccountUsage(ctx context.Context, accountID string, now, monthStart time.Time) (Usage, error) {
	query := `
		SELECT
			COALESCE(SUM(total_bytes) FILTER (WHERE expires_at > $2), 0),
			COUNT(*) FILTER (WHERE created_at >= $3)
		FROM transfers
		WHERE account_id = $1 AND status = 'active'
	`
	var u Usage
	if err := r.db.QueryRowContext(ctx, query, accountID, now, monthStart).Scan(&u.StorageBytes, &u.MonthTransfers); err != nil {
		return Usage{}, fmt.Errorf("failed to derive account usage: %w", err)
	}
	return u, nil
}

func (r *PostgresRepository) SelectPendingBefore(ctx context.Context, cutoff time.Time) ([]*models.Transfer, error) {
	query := `SELECT ` + transferColumns + ` FROM transfers WHERE status=$1 AND created_at < $2 ORDER BY created_at`
	rows, err := r.db.QueryContext(ctx, query, models.TransferStatusPending, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to select pending transfers: %w", err)
	}
	defer rows.Close()

	var result []*models.Transfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
