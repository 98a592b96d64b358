package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"driftsend/internal/common"
	"driftsend/internal/dbx"
	"driftsend/internal/logging"
	"driftsend/internal/passhash"
	"driftsend/internal/quota"
	"driftsend/internal/sanitize"
	"driftsend/internal/server/config"
	"driftsend/internal/server/models"
	"driftsend/internal/server/notify"
	"driftsend/internal/server/objectstore"
	"driftsend/internal/server/repositories/repomanager"
)

// ManifestEntry describes one file the client intends to upload. The server
// never receives file bytes; it only validates the declaration and mints an
// upload slot.
type ManifestEntry struct {
	Name     string
	MimeType string
	ByteSize int64
	EncKey   []byte
	EncIV    []byte
}

// CreateInput is the creation request after transport decoding.
type CreateInput struct {
	Title          string
	Message        string
	RecipientEmail string
	SenderEmail    string
	Password       string
	ExpiryDays     int // 0 = plan default
	OwnerOnly      bool
	MaxDownloads   int64
	Encrypted      bool
	EncryptionAlgo string
	Files          []ManifestEntry
}

// UploadSlot pairs a manifest entry with its presigned upload URL.
type UploadSlot struct {
	FileID     int64  `json:"file_id"`
	FileName   string `json:"file_name"`
	StorageKey string `json:"storage_key"`
	UploadURL  string `json:"upload_url"`
}

// CreateResult is returned to the sender. AnonID is set only for anonymous
// creations so the client can echo it on subsequent requests.
type CreateResult struct {
	PublicID  string       `json:"public_id"`
	AnonID    string       `json:"anon_id,omitempty"`
	ExpiresAt time.Time    `json:"expires_at"`
	Slots     []UploadSlot `json:"slots"`
}

// TransferService orchestrates transfer creation and deletion.
type TransferService struct {
	db       *sql.DB
	repos    repomanager.RepositoryManager
	store    objectstore.Store
	notifier *notify.Dispatcher
	log      logging.Logger
	cfg      *config.Config

	now func() time.Time
}

func NewTransferService(db *sql.DB, repos repomanager.RepositoryManager, store objectstore.Store,
	notifier *notify.Dispatcher, log logging.Logger, cfg *config.Config) *TransferService {
	return &TransferService{
		db:       db,
		repos:    repos,
		store:    store,
		notifier: notifier,
		log:      log,
		cfg:      cfg,
		now:      time.Now,
	}
}

// resolvePlan loads the caller's plan and overrides. Anonymous callers get
// the fixed anonymous limit set. A verified account id whose quota record
// has not been provisioned yet gets a free-plan row created on the spot;
// the transfer row references accounts(id), so the record must exist before
// the insert.
func (s *TransferService) resolvePlan(ctx context.Context, viewer Identity) (quota.Plan, *quota.Overrides, error) {
	if viewer.Anonymous() {
		return quota.PlanAnonymous, nil, nil
	}

	acc, err := s.repos.Accounts(s.db).GetByID(ctx, viewer.AccountID)
	if errors.Is(err, common.ErrNotFound) {
		if err := s.repos.Accounts(s.db).Upsert(ctx, &models.Account{
			ID:   viewer.AccountID,
			Plan: string(quota.PlanFree),
		}); err != nil {
			return "", nil, fmt.Errorf("provisioning account: %w", err)
		}
		s.log.Info(ctx, "provisioned free-plan account on first use", "account_id", viewer.AccountID)
		return quota.PlanFree, nil, nil
	}
	if err != nil {
		return "", nil, err
	}

	return quota.Plan(acc.Plan), &quota.Overrides{
		StorageLimitBytes:   acc.OverrideStorageBytes,
		MaxMonthlyTransfers: acc.OverrideMaxTransfers,
		RetentionDays:       acc.OverrideRetentionDays,
	}, nil
}

// currentUsage fetches usage for the identity. Registered accounts derive it
// from live transfer rows; anonymous identities read their maintained
// counter row, with a stale window treated as zero transfers.
func (s *TransferService) currentUsage(ctx context.Context, viewer Identity, now time.Time) (storage, transfers int64, err error) {
	if !viewer.Anonymous() {
		monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		u, err := s.repos.Transfers(s.db).AccountUsage(ctx, viewer.AccountID, now, monthStart)
		if err != nil {
			return 0, 0, err
		}
		return u.StorageBytes, u.MonthTransfers, nil
	}

	if viewer.AnonID == "" {
		return 0, 0, nil
	}
	u, err := s.repos.AnonUsage(s.db).Get(ctx, viewer.AnonID)
	if errors.Is(err, common.ErrNotFound) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, err
	}
	transfers = u.TransferCount
	if u.WindowStart.Before(now.Add(-s.cfg.AnonUsageWindow)) {
		transfers = 0
	}
	return u.StorageBytes, transfers, nil
}

// validateManifest sanitizes names in place and checks every per-file and
// aggregate limit. Each violation maps to its own sentinel so the caller can
// render plan-specific messaging.
func validateManifest(files []ManifestEntry, limits quota.Limits, usedBytes int64) ([]ManifestEntry, int64, error) {
	if len(files) == 0 {
		return nil, 0, fmt.Errorf("%w: empty file manifest", common.ErrValidation)
	}
	if !limits.FileCountAllows(len(files)) {
		return nil, 0, common.ErrTooManyFiles
	}

	out := make([]ManifestEntry, len(files))
	var total int64
	for i, f := range files {
		name := sanitize.Filename(f.Name)
		if sanitize.ExtensionBlocked(name) {
			return nil, 0, fmt.Errorf("%w: %s", common.ErrBlockedExtension, name)
		}
		if f.ByteSize <= 0 {
			return nil, 0, fmt.Errorf("%w: %s", common.ErrEmptyFile, name)
		}
		if limits.MaxFileBytes > 0 && f.ByteSize > limits.MaxFileBytes {
			return nil, 0, fmt.Errorf("%w: %s", common.ErrFileTooLarge, name)
		}
		f.Name = name
		if f.MimeType == "" {
			f.MimeType = "application/octet-stream"
		}
		out[i] = f
		total += f.ByteSize
	}

	if !limits.StorageAllows(usedBytes, total) {
		return nil, 0, common.ErrStorageQuotaExceeded
	}
	return out, total, nil
}

// computeExpiry applies the plan's retention policy. Plans with custom
// expiry use the requested value as-is, floored at one day; everyone else is
// capped at the plan's retention days.
func computeExpiry(now time.Time, requestedDays int, limits quota.Limits) time.Time {
	days := requestedDays
	if days <= 0 {
		days = limits.RetentionDays
	}
	if limits.CustomExpiry {
		if days < 1 {
			days = 1
		}
	} else if days > limits.RetentionDays {
		days = limits.RetentionDays
	}
	return now.Add(time.Duration(days) * 24 * time.Hour)
}

// Create runs the full creation pipeline: quota checks, manifest validation,
// optional password hashing, two-phase persistence, and one presigned upload
// URL per file. Quota counters for registered accounts are not incremented
// here; they are derived from the rows this call writes. Anonymous usage is
// the exception and is maintained in the same transaction as the file rows.
func (s *TransferService) Create(ctx context.Context, viewer Identity, in CreateInput) (*CreateResult, error) {
	now := s.now()

	anonMinted := false
	if viewer.Anonymous() && viewer.AnonID == "" {
		viewer.AnonID = NewAnonID()
		anonMinted = true
	}

	plan, overrides, err := s.resolvePlan(ctx, viewer)
	if err != nil {
		return nil, fmt.Errorf("resolving plan: %w", err)
	}
	limits := quota.Resolve(plan, overrides)

	usedBytes, usedTransfers, err := s.currentUsage(ctx, viewer, now)
	if err != nil {
		return nil, fmt.Errorf("fetching usage: %w", err)
	}
	if !limits.TransferAllows(usedTransfers) {
		return nil, common.ErrTransferQuotaExceeded
	}

	files, totalBytes, err := validateManifest(in.Files, limits, usedBytes)
	if err != nil {
		return nil, err
	}

	var credential string
	if in.Password != "" {
		if !limits.PasswordProtection {
			return nil, common.ErrFeatureNotAvailable
		}
		if err := passhash.ValidateStrength(in.Password); err != nil {
			return nil, fmt.Errorf("%w: %v", common.ErrWeakPassword, err)
		}
		c, err := passhash.Hash(in.Password)
		if err != nil {
			return nil, fmt.Errorf("hashing password: %w", err)
		}
		credential = c.String()
	}

	transfer := &models.Transfer{
		PublicID:       uuid.NewString(),
		AccountID:      viewer.AccountID,
		AnonID:         viewer.AnonID,
		Title:          in.Title,
		Message:        in.Message,
		RecipientEmail: in.RecipientEmail,
		SenderEmail:    in.SenderEmail,
		PasswordHash:   credential,
		OwnerOnly:      in.OwnerOnly,
		TotalBytes:     totalBytes,
		FileCount:      len(files),
		MaxDownloads:   in.MaxDownloads,
		Status:         models.TransferStatusPending,
		Encrypted:      in.Encrypted,
		EncryptionAlgo: in.EncryptionAlgo,
		ExpiresAt:      computeExpiry(now, in.ExpiryDays, limits),
	}

	// Phase one: the pending marker row. A crash after this point leaves a
	// pending transfer for the reconciliation sweep, never a half-visible one.
	if err := s.repos.Transfers(s.db).Create(ctx, transfer); err != nil {
		return nil, fmt.Errorf("creating transfer: %w", err)
	}

	owner := transfer.AccountID
	if owner == "" {
		owner = transfer.AnonID
	}

	fileRows := make([]*models.TransferFile, len(files))
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		fileRepo := s.repos.TransferFiles(tx)
		for i, f := range files {
			suffix, err := common.MakeRandHexString(16)
			if err != nil {
				return fmt.Errorf("generating storage key: %w", err)
			}
			row := &models.TransferFile{
				TransferID: transfer.ID,
				FileName:   f.Name,
				StorageKey: fmt.Sprintf("transfers/%s/%s/%d-%s", owner, transfer.PublicID, i, suffix),
				ByteSize:   f.ByteSize,
				MimeType:   f.MimeType,
				Ordinal:    i,
				EncKey:     f.EncKey,
				EncIV:      f.EncIV,
			}
			if err := fileRepo.Create(ctx, row); err != nil {
				return err
			}
			fileRows[i] = row
		}

		if viewer.Anonymous() {
			cutoff := now.Add(-s.cfg.AnonUsageWindow)
			if err := s.repos.AnonUsage(tx).AddUsage(ctx, viewer.AnonID, totalBytes, cutoff); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("persisting transfer files: %w", err)
	}

	slots := make([]UploadSlot, len(fileRows))
	for i, row := range fileRows {
		url, err := s.store.PresignUpload(ctx, row.StorageKey, row.MimeType, s.cfg.UploadURLTTL)
		if err != nil {
			// The pending row stays behind for the sweep to collect.
			return nil, fmt.Errorf("presigning upload for %s: %w", row.FileName, err)
		}
		slots[i] = UploadSlot{
			FileID:     row.ID,
			FileName:   row.FileName,
			StorageKey: row.StorageKey,
			UploadURL:  url,
		}
	}

	// Phase two: flip to active so the share link resolves.
	if err := s.repos.Transfers(s.db).Activate(ctx, transfer.ID); err != nil {
		return nil, fmt.Errorf("activating transfer: %w", err)
	}

	s.notifier.Dispatch(notify.Event{
		Type:       notify.EventTransferCreated,
		PublicID:   transfer.PublicID,
		Title:      transfer.Title,
		FileCount:  transfer.FileCount,
		TotalBytes: transfer.TotalBytes,
		OccurredAt: now,
	})

	res := &CreateResult{
		PublicID:  transfer.PublicID,
		ExpiresAt: transfer.ExpiresAt,
		Slots:     slots,
	}
	if anonMinted {
		res.AnonID = viewer.AnonID
	}
	return res, nil
}

// owns reports whether the viewer may administer the transfer. Account
// owners must present a verified account id; anonymous owners must echo the
// exact pseudo-id the transfer was created under.
func owns(t *models.Transfer, viewer Identity) bool {
	if t.AccountID != "" {
		return viewer.AccountID == t.AccountID
	}
	return t.AnonID != "" && viewer.AnonID == t.AnonID
}

// Delete removes the transfer and its files, releases anonymous storage
// accounting, and best-effort deletes the stored objects. Object-store
// failures are logged, not surfaced: the rows are gone and a later sweep or
// bucket lifecycle rule can finish the job.
func (s *TransferService) Delete(ctx context.Context, viewer Identity, publicID string) error {
	transfer, err := s.repos.Transfers(s.db).GetByPublicID(ctx, publicID)
	if err != nil {
		return err
	}
	if !owns(transfer, viewer) {
		return common.ErrForbidden
	}

	files, err := s.repos.TransferFiles(s.db).SelectByTransfer(ctx, transfer.ID)
	if err != nil {
		return fmt.Errorf("listing files: %w", err)
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repos.Transfers(tx).Delete(ctx, transfer.ID); err != nil {
			return err
		}
		if transfer.AccountID == "" && transfer.AnonID != "" {
			return s.repos.AnonUsage(tx).ReleaseStorage(ctx, transfer.AnonID, transfer.TotalBytes)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("deleting transfer: %w", err)
	}

	for _, f := range files {
		if err := s.store.Delete(ctx, f.StorageKey); err != nil {
			s.log.Warn(ctx, "object delete failed", "storage_key", f.StorageKey, "error", err)
		}
	}

	s.notifier.Dispatch(notify.Event{
		Type:       notify.EventTransferDeleted,
		PublicID:   transfer.PublicID,
		Title:      transfer.Title,
		FileCount:  transfer.FileCount,
		TotalBytes: transfer.TotalBytes,
		OccurredAt: s.now(),
	})
	return nil
}

// MarkUploaded records that the client finished uploading one slot.
func (s *TransferService) MarkUploaded(ctx context.Context, viewer Identity, publicID string, fileID int64) error {
	transfer, err := s.repos.Transfers(s.db).GetByPublicID(ctx, publicID)
	if err != nil {
		return err
	}
	if !owns(transfer, viewer) {
		return common.ErrForbidden
	}
	return s.repos.TransferFiles(s.db).MarkUploaded(ctx, transfer.ID, fileID)
}
