package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"driftsend/internal/common"
	"driftsend/internal/logging"
	"driftsend/internal/passhash"
	"driftsend/internal/server/config"
	"driftsend/internal/server/models"
	"driftsend/internal/server/objectstore"
	"driftsend/internal/server/repositories/repomanager"
)

// FileView is the per-file metadata exposed to recipients.
type FileView struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	ByteSize int64  `json:"byte_size"`
	MimeType string `json:"mime_type"`
}

// TransferView is the share-page payload.
type TransferView struct {
	PublicID          string     `json:"public_id"`
	Title             string     `json:"title"`
	Message           string     `json:"message,omitempty"`
	FileCount         int        `json:"file_count"`
	TotalBytes        int64      `json:"total_bytes"`
	DownloadCount     int64      `json:"download_count"`
	MaxDownloads      int64      `json:"max_downloads,omitempty"`
	PasswordProtected bool       `json:"password_protected"`
	Encrypted         bool       `json:"encrypted"`
	EncryptionAlgo    string     `json:"encryption_algo,omitempty"`
	ExpiresAt         time.Time  `json:"expires_at"`
	Files             []FileView `json:"files"`
}

// DownloadService is the read path: it gates access to a transfer and hands
// out presigned download URLs.
type DownloadService struct {
	db    *sql.DB
	repos repomanager.RepositoryManager
	store objectstore.Store
	log   logging.Logger
	cfg   *config.Config

	now func() time.Time
}

func NewDownloadService(db *sql.DB, repos repomanager.RepositoryManager, store objectstore.Store,
	log logging.Logger, cfg *config.Config) *DownloadService {
	return &DownloadService{
		db:    db,
		repos: repos,
		store: store,
		log:   log,
		cfg:   cfg,
		now:   time.Now,
	}
}

// gate runs the access checks in their fixed short-circuit order: not-found,
// expired, owner-only visibility, password, download cap. The download
// counter is untouched here so rejected attempts are never counted.
func (s *DownloadService) gate(ctx context.Context, viewer Identity, publicID, password string) (*models.Transfer, error) {
	t, err := s.repos.Transfers(s.db).GetByPublicID(ctx, publicID)
	if err != nil {
		return nil, err
	}
	// A transfer still in pending never resolves publicly.
	if t.Status != models.TransferStatusActive {
		return nil, common.ErrNotFound
	}
	if t.Expired(s.now()) {
		return nil, common.ErrExpired
	}
	if t.OwnerOnly && !owns(t, viewer) {
		return nil, common.ErrForbidden
	}
	if t.PasswordHash != "" && !owns(t, viewer) {
		if password == "" {
			return nil, common.ErrPasswordRequired
		}
		cred, err := passhash.Parse(t.PasswordHash)
		if err != nil || !passhash.Verify(password, cred) {
			return nil, common.ErrInvalidPassword
		}
		if passhash.NeedsUpgrade(cred) {
			s.upgradeCredential(t, password)
		}
	}
	if t.DownloadsExhausted() {
		return nil, common.ErrDownloadLimitReached
	}
	return t, nil
}

// upgradeCredential re-hashes a verified plaintext under the current scheme
// and persists it in the background. Best-effort: on failure the stale but
// valid legacy credential stays put and the next verification retries.
func (s *DownloadService) upgradeCredential(t *models.Transfer, password string) {
	id := t.ID
	publicID := t.PublicID
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		cred, err := passhash.Hash(password)
		if err != nil {
			s.log.Warn(ctx, "credential upgrade hash failed", "public_id", publicID, "error", err)
			return
		}
		if err := s.repos.Transfers(s.db).UpdatePasswordHash(ctx, id, cred.String()); err != nil {
			s.log.Warn(ctx, "credential upgrade write failed", "public_id", publicID, "error", err)
			return
		}
		s.log.Info(ctx, "legacy password credential upgraded", "public_id", publicID)
	}()
}

func (s *DownloadService) view(ctx context.Context, t *models.Transfer) (*TransferView, error) {
	files, err := s.repos.TransferFiles(s.db).SelectByTransfer(ctx, t.ID)
	if err != nil {
		return nil, fmt.Errorf("listing files: %w", err)
	}

	v := &TransferView{
		PublicID:          t.PublicID,
		Title:             t.Title,
		Message:           t.Message,
		FileCount:         t.FileCount,
		TotalBytes:        t.TotalBytes,
		DownloadCount:     t.DownloadCount,
		MaxDownloads:      t.MaxDownloads,
		PasswordProtected: t.PasswordHash != "",
		Encrypted:         t.Encrypted,
		EncryptionAlgo:    t.EncryptionAlgo,
		ExpiresAt:         t.ExpiresAt,
		Files:             make([]FileView, 0, len(files)),
	}
	for _, f := range files {
		v.Files = append(v.Files, FileView{ID: f.ID, Name: f.FileName, ByteSize: f.ByteSize, MimeType: f.MimeType})
	}
	return v, nil
}

// Get resolves the transfer metadata for the share page. It runs the full
// gate except the counter increment; looking at a transfer is not a
// download.
func (s *DownloadService) Get(ctx context.Context, viewer Identity, publicID, password string) (*TransferView, error) {
	t, err := s.gate(ctx, viewer, publicID, password)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, t)
}

// VerifyPassword checks a supplied password against the gate without
// producing a URL, so the UI can unlock the share page in one round trip.
func (s *DownloadService) VerifyPassword(ctx context.Context, viewer Identity, publicID, password string) error {
	_, err := s.gate(ctx, viewer, publicID, password)
	return err
}

// FileURL gates access and returns a presigned URL for a single file,
// incrementing both the transfer and per-file counters atomically. The
// Content-Disposition filename always comes from the stored sanitized name,
// never from client input.
func (s *DownloadService) FileURL(ctx context.Context, viewer Identity, publicID string, fileID int64, password string) (string, error) {
	t, err := s.gate(ctx, viewer, publicID, password)
	if err != nil {
		return "", err
	}

	f, err := s.repos.TransferFiles(s.db).GetByID(ctx, fileID)
	if err != nil {
		return "", err
	}
	if f.TransferID != t.ID {
		return "", common.ErrNotFound
	}

	url, err := s.store.PresignDownload(ctx, f.StorageKey, s.cfg.DownloadURLTTL, f.FileName)
	if err != nil {
		return "", fmt.Errorf("presigning download: %w", err)
	}

	if err := s.repos.Transfers(s.db).IncrementDownloadCount(ctx, t.ID); err != nil {
		return "", fmt.Errorf("counting download: %w", err)
	}
	if err := s.repos.TransferFiles(s.db).IncrementDownloadCount(ctx, f.ID); err != nil {
		s.log.Warn(ctx, "per-file download count failed", "file_id", f.ID, "error", err)
	}
	return url, nil
}
