package models

import "time"

// TransferFile is one constituent file of a transfer. Rows are owned
// exclusively by their transfer and deleted with it.
type TransferFile struct {
	ID         int64
	TransferID int64

	// FileName is the sanitized original name; it is the only name ever
	// used for Content-Disposition on download.
	FileName   string
	StorageKey string
	ByteSize   int64
	MimeType   string

	DownloadCount int64
	Ordinal       int
	Uploaded      bool

	// Client-side encryption material, opaque to the server.
	EncKey []byte
	EncIV  []byte

	CreatedAt time.Time
}
