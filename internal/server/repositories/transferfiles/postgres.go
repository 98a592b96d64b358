package transferfiles

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

func (r *PostgresRepository) Create(ctx context.Context, f *models.TransferFile) error {
	query := `
		INSERT INTO transfer_files
			(transfer_id, file_name, storage_key, byte_size, mime_type, ordinal, enc_key, enc_iv)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at;
	`
	err := r.db.QueryRowContext(ctx, query,
		f.TransferID, f.FileName, f.StorageKey, f.ByteSize, f.MimeType, f.Ordinal, f.EncKey, f.EncIV,
	).Scan(&f.ID, &f.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert transfer file: %w", err)
	}
	return nil
}

const fileColumns = `id, transfer_id, file_name, storage_key, byte_size, mime_type,
	download_count, ordinal, uploaded, enc_key, enc_iv, created_at`

func scanFile(row interface{ Scan(...any) error }) (*models.TransferFile, error) {
	f := &models.TransferFile{}
	err := row.Scan(
		&f.ID, &f.TransferID, &f.FileName, &f.StorageKey, &f.ByteSize, &f.MimeType,
		&f.DownloadCount, &f.Ordinal, &f.Uploaded, &f.EncKey, &f.EncIV, &f.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (r *PostgresRepository) SelectByTransfer(ctx context.Context, transferID int64) ([]*models.TransferFile, error) {
	query := `SELECT ` + fileColumns + ` FROM transfer_files WHERE transfer_id=$1 ORDER BY ordinal`
	rows, err := r.db.QueryContext(ctx, query, transferID)
	if err != nil {
		return nil, fmt.Errorf("failed to select transfer files: %w", err)
	}
	defer rows.Close()

	var result []*models.TransferFile
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id int64) (*models.TransferFile, error) {
	query := `SELECT ` + fileColumns + ` FROM transfer_files WHERE id=$1`
	f, err := scanFile(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select transfer file: %w", err)
	}
	return f, nil
}

func (r *PostgresRepository) IncrementDownloadCount(ctx context.Context, id int64) error {
	query := `UPDATE transfer_files SET download_count = download_count + 1 WHERE id=$1`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to increment file download count: %w", err)
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

func (r *PostgresRepository) MarkUploaded(ctx context.Context, transferID, id int64) error {
	query := `UPDATE transfer_files SET uploaded=true WHERE id=$1 AND transfer_id=$2`
	res, err := r.db.ExecContext(ctx, query, id, transferID)
	if err != nil {
		return fmt.Errorf("failed to mark uploaded: %w", err)
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
	res, err := r.db.ExecContext(ctx, `DELETE FROM transfer_files WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete transfer file: %w", err)
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
