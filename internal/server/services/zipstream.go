package services

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"driftsend/internal/logging"
	"driftsend/internal/server/models"
	"driftsend/internal/server/notify"
	"driftsend/internal/server/objectstore"
)

// ZipService streams all files of a transfer as one archive. Objects are
// fetched one at a time and copied straight into the zip encoder, so memory
// stays bounded by a single copy buffer regardless of transfer size.
type ZipService struct {
	gatekeeper *DownloadService
	store      objectstore.Store
	fetch      *http.Client
	notifier   *notify.Dispatcher
	log        logging.Logger
}

func NewZipService(gatekeeper *DownloadService, store objectstore.Store, notifier *notify.Dispatcher, log logging.Logger) *ZipService {
	return &ZipService{
		gatekeeper: gatekeeper,
		store:      store,
		fetch:      &http.Client{},
		notifier:   notifier,
		log:        log,
	}
}

// storeMethod picks the zip entry method: already-compressed formats are
// stored as-is, everything else deflates.
func storeMethod(mimeType string) uint16 {
	switch {
	case strings.HasPrefix(mimeType, "video/"),
		strings.HasPrefix(mimeType, "audio/"),
		strings.HasPrefix(mimeType, "image/"),
		strings.Contains(mimeType, "zip"),
		strings.Contains(mimeType, "gzip"),
		strings.Contains(mimeType, "compressed"):
		return zip.Store
	default:
		return zip.Deflate
	}
}

// StreamZip gates access, then writes the archive to w in stored file
// order. A file that fails to fetch is logged and omitted rather than
// aborting the stream; partial delivery beats total failure for a bundle.
// After the archive is flushed the transfer counter is incremented once and
// the post-download side effects fire asynchronously.
func (s *ZipService) StreamZip(ctx context.Context, viewer Identity, publicID, password string, w io.Writer) error {
	t, err := s.gatekeeper.gate(ctx, viewer, publicID, password)
	if err != nil {
		return err
	}

	files, err := s.gatekeeper.repos.TransferFiles(s.gatekeeper.db).SelectByTransfer(ctx, t.ID)
	if err != nil {
		return fmt.Errorf("listing files: %w", err)
	}

	zw := zip.NewWriter(w)
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			// Client went away mid-stream; stop fetching.
			return err
		}
		if err := s.appendFile(ctx, zw, f); err != nil {
			s.log.Warn(ctx, "zip entry skipped",
				"public_id", t.PublicID, "file", f.FileName, "error", err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("flushing archive: %w", err)
	}

	s.afterStream(t)
	return nil
}

// appendFile fetches one object through a short-lived presigned URL and
// copies its bytes into the archive as they arrive.
func (s *ZipService) appendFile(ctx context.Context, zw *zip.Writer, f *models.TransferFile) error {
	url, err := s.store.PresignDownload(ctx, f.StorageKey, 5*time.Minute, "")
	if err != nil {
		return fmt.Errorf("presign: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build fetch request: %w", err)
	}
	resp, err := s.fetch.Do(req)
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch responded %d", resp.StatusCode)
	}

	entry, err := zw.CreateHeader(&zip.FileHeader{
		Name:     f.FileName,
		Method:   storeMethod(f.MimeType),
		Modified: f.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("create entry: %w", err)
	}
	if _, err := io.Copy(entry, resp.Body); err != nil {
		return fmt.Errorf("copy entry: %w", err)
	}
	return nil
}

// afterStream performs the post-delivery bookkeeping: one counter increment
// for the whole bundle plus fire-and-forget notifications. The response is
// already flushed, so failures here are logged and swallowed.
func (s *ZipService) afterStream(t *models.Transfer) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.gatekeeper.repos.Transfers(s.gatekeeper.db).IncrementDownloadCount(ctx, t.ID); err != nil {
		s.log.Warn(ctx, "post-stream download count failed", "public_id", t.PublicID, "error", err)
	}

	var webhookURL string
	if t.AccountID != "" {
		acc, err := s.gatekeeper.repos.Accounts(s.gatekeeper.db).GetByID(ctx, t.AccountID)
		if err != nil {
			s.log.Warn(ctx, "owner lookup for webhook failed", "account_id", t.AccountID, "error", err)
		} else {
			webhookURL = acc.WebhookURL
		}
	}

	s.notifier.Dispatch(notify.Event{
		Type:        notify.EventTransferDownloaded,
		PublicID:    t.PublicID,
		Title:       t.Title,
		FileCount:   t.FileCount,
		TotalBytes:  t.TotalBytes,
		SenderEmail: t.SenderEmail,
		WebhookURL:  webhookURL,
		OccurredAt:  time.Now(),
	})
}
