package transferfiles

import (
	"context"

	"driftsend/internal/server/models"
)

type Repository interface {
	// Create inserts one file row and fills in its store-assigned id.
	Create(ctx context.Context, f *models.TransferFile) error

	// SelectByTransfer returns the transfer's files in manifest order.
	SelectByTransfer(ctx context.Context, transferID int64) ([]*models.TransferFile, error)

	GetByID(ctx context.Context, id int64) (*models.TransferFile, error)

	IncrementDownloadCount(ctx context.Context, id int64) error

	// MarkUploaded records that the client consumed the file's upload slot.
	MarkUploaded(ctx context.Context, transferID, id int64) error

	Delete(ctx context.Context, id int64) error
}
