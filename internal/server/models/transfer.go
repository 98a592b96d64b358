// Package models defines the persistent row types shared by repositories and
// services.
package models

import "time"

// TransferStatus is the stored creation state. Only two values exist:
// a transfer is written as pending, then flipped to active once its file
// rows are committed. Expiry is derived at read time from ExpiresAt and is
// never stored as a third state.
type TransferStatus string

const (
	TransferStatusPending TransferStatus = "pending"
	TransferStatusActive  TransferStatus = "active"
)

// Transfer is one shareable bundle of files.
//
// TotalBytes and FileCount are denormalized from the live file rows; the
// creation orchestrator sets them and the deletion path decrements them.
// Nothing recomputes them lazily.
type Transfer struct {
	ID       int64
	PublicID string

	// Exactly one of AccountID / AnonID is set. AccountID empty means the
	// sender was anonymous and AnonID carries the pseudo-identifier.
	AccountID string
	AnonID    string

	Title          string
	Message        string
	RecipientEmail string
	SenderEmail    string

	// PasswordHash is the stored tagged credential string, empty when the
	// transfer is not password protected.
	PasswordHash string

	// OwnerOnly hides the transfer from the public link; only the verified
	// owner may resolve it.
	OwnerOnly bool

	TotalBytes    int64
	FileCount     int
	DownloadCount int64
	MaxDownloads  int64 // 0 = uncapped

	Status TransferStatus

	// Encryption metadata is an opaque pass-through; the server never
	// touches key material.
	Encrypted      bool
	EncryptionAlgo string

	ExpiresAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Expired reports whether the transfer is past its expiry at the given
// instant. The boundary is inclusive: a transfer expiring exactly now is
// already expired.
func (t *Transfer) Expired(now time.Time) bool {
	return !t.ExpiresAt.After(now)
}

// DownloadsExhausted reports whether the download cap, if any, is reached.
func (t *Transfer) DownloadsExhausted() bool {
	return t.MaxDownloads > 0 && t.DownloadCount >= t.MaxDownloads
}
