package services

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"driftsend/internal/common"
	"driftsend/internal/dbx"
	"driftsend/internal/logging"
	"driftsend/internal/server/config"
	"driftsend/internal/server/models"
	"driftsend/internal/server/notify"
	"driftsend/internal/server/repositories/accounts"
	"driftsend/internal/server/repositories/anonusage"
	"driftsend/internal/server/repositories/transferfiles"
	"driftsend/internal/server/repositories/transfers"
)

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.LoadDefaults()
	return cfg
}

// newTestDB returns a sqlmock-backed *sql.DB accepting any number of
// transactions. Repository work in these tests goes through fakes, so the
// DB only has to satisfy Begin/Commit.
func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	mock.MatchExpectationsInOrder(false)
	for i := 0; i < 16; i++ {
		mock.ExpectBegin()
		mock.ExpectCommit()
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// --- fake transfers repository ---

type fakeTransfers struct {
	mu       sync.Mutex
	nextID   int64
	byID     map[int64]*models.Transfer
	usage    transfers.Usage
	usageErr error
}

func newFakeTransfers() *fakeTransfers {
	return &fakeTransfers{byID: map[int64]*models.Transfer{}}
}

func (f *fakeTransfers) Create(ctx context.Context, t *models.Transfer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	t.ID = f.nextID
	t.CreatedAt = time.Now()
	t.UpdatedAt = t.CreatedAt
	cp := *t
	f.byID[t.ID] = &cp
	return nil
}

func (f *fakeTransfers) Activate(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.byID[id]
	if !ok || t.Status != models.TransferStatusPending {
		return common.ErrNotFound
	}
	t.Status = models.TransferStatusActive
	return nil
}

func (f *fakeTransfers) GetByPublicID(ctx context.Context, publicID string) (*models.Transfer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.byID {
		if t.PublicID == publicID {
			cp := *t
			return &cp, nil
		}
	}
	return nil, common.ErrNotFound
}

func (f *fakeTransfers) IncrementDownloadCount(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.byID[id]
	if !ok {
		return common.ErrNotFound
	}
	t.DownloadCount++
	return nil
}

func (f *fakeTransfers) UpdatePasswordHash(ctx context.Context, id int64, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.byID[id]
	if !ok {
		return common.ErrNotFound
	}
	t.PasswordHash = hash
	return nil
}

func (f *fakeTransfers) Delete(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byID[id]; !ok {
		return common.ErrNotFound
	}
	delete(f.byID, id)
	return nil
}

func (f *fakeTransfers) AccountUsage(ctx context.Context, accountID string, now, monthStart time.Time) (transfers.Usage, error) {
	if f.usageErr != nil {
		return transfers.Usage{}, f.usageErr
	}
	return f.usage, nil
}

func (f *fakeTransfers) SelectPendingBefore(ctx context.Context, cutoff time.Time) ([]*models.Transfer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Transfer
	for _, t := range f.byID {
		if t.Status == models.TransferStatusPending && t.CreatedAt.Before(cutoff) {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeTransfers) get(id int64) *models.Transfer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byID[id]
}

// --- fake transfer files repository ---

type fakeFiles struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]*models.TransferFile
}

func newFakeFiles() *fakeFiles {
	return &fakeFiles{byID: map[int64]*models.TransferFile{}}
}

func (f *fakeFiles) Create(ctx context.Context, file *models.TransferFile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	file.ID = f.nextID
	file.CreatedAt = time.Now()
	cp := *file
	f.byID[file.ID] = &cp
	return nil
}

func (f *fakeFiles) SelectByTransfer(ctx context.Context, transferID int64) ([]*models.TransferFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.TransferFile
	for id := int64(1); id <= f.nextID; id++ {
		if file, ok := f.byID[id]; ok && file.TransferID == transferID {
			cp := *file
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeFiles) GetByID(ctx context.Context, id int64) (*models.TransferFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	file, ok := f.byID[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	cp := *file
	return &cp, nil
}

func (f *fakeFiles) IncrementDownloadCount(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	file, ok := f.byID[id]
	if !ok {
		return common.ErrNotFound
	}
	file.DownloadCount++
	return nil
}

func (f *fakeFiles) MarkUploaded(ctx context.Context, transferID, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	file, ok := f.byID[id]
	if !ok || file.TransferID != transferID {
		return common.ErrNotFound
	}
	file.Uploaded = true
	return nil
}

func (f *fakeFiles) Delete(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byID[id]; !ok {
		return common.ErrNotFound
	}
	delete(f.byID, id)
	return nil
}

// --- fake accounts repository ---

type fakeAccounts struct {
	mu   sync.Mutex
	byID map[string]*models.Account
}

func newFakeAccounts() *fakeAccounts {
	return &fakeAccounts{byID: map[string]*models.Account{}}
}

func (f *fakeAccounts) GetByID(ctx context.Context, id string) (*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.byID[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (f *fakeAccounts) Upsert(ctx context.Context, a *models.Account) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *a
	f.byID[a.ID] = &cp
	return nil
}

// --- fake anon usage repository ---

type fakeAnonUsage struct {
	mu   sync.Mutex
	byID map[string]*models.AnonUsage
}

func newFakeAnonUsage() *fakeAnonUsage {
	return &fakeAnonUsage{byID: map[string]*models.AnonUsage{}}
}

func (f *fakeAnonUsage) Get(ctx context.Context, anonID string) (*models.AnonUsage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[anonID]
	if !ok {
		return nil, common.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeAnonUsage) AddUsage(ctx context.Context, anonID string, bytes int64, windowStartCutoff time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[anonID]
	if !ok {
		f.byID[anonID] = &models.AnonUsage{
			AnonID:        anonID,
			StorageBytes:  bytes,
			TransferCount: 1,
			WindowStart:   time.Now(),
		}
		return nil
	}
	u.StorageBytes += bytes
	if u.WindowStart.Before(windowStartCutoff) {
		u.TransferCount = 1
		u.WindowStart = time.Now()
	} else {
		u.TransferCount++
	}
	return nil
}

func (f *fakeAnonUsage) ReleaseStorage(ctx context.Context, anonID string, bytes int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[anonID]
	if !ok {
		return nil
	}
	u.StorageBytes -= bytes
	if u.StorageBytes < 0 {
		u.StorageBytes = 0
	}
	return nil
}

// --- fake repository manager ---

type fakeRepoManager struct {
	transfers *fakeTransfers
	files     *fakeFiles
	accounts  *fakeAccounts
	anon      *fakeAnonUsage
}

func newFakeRepoManager() *fakeRepoManager {
	return &fakeRepoManager{
		transfers: newFakeTransfers(),
		files:     newFakeFiles(),
		accounts:  newFakeAccounts(),
		anon:      newFakeAnonUsage(),
	}
}

func (m *fakeRepoManager) RunMigrations(ctx context.Context, db *sql.DB) error { return nil }
func (m *fakeRepoManager) Transfers(db dbx.DBTX) transfers.Repository          { return m.transfers }
func (m *fakeRepoManager) TransferFiles(db dbx.DBTX) transferfiles.Repository  { return m.files }
func (m *fakeRepoManager) Accounts(db dbx.DBTX) accounts.Repository            { return m.accounts }
func (m *fakeRepoManager) AnonUsage(db dbx.DBTX) anonusage.Repository          { return m.anon }

// --- fake object store ---

type fakeObjectStore struct {
	mu          sync.Mutex
	uploads     []string
	downloads   []string
	deletes     []string
	presignErr  error
	downloadFmt string // fmt with %s key, defaults to a fake URL
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{}
}

func (f *fakeObjectStore) PresignUpload(ctx context.Context, key, contentType string, ttl time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.presignErr != nil {
		return "", f.presignErr
	}
	f.uploads = append(f.uploads, key)
	return "https://store.test/upload/" + key, nil
}

func (f *fakeObjectStore) PresignDownload(ctx context.Context, key string, ttl time.Duration, filenameHint string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.presignErr != nil {
		return "", f.presignErr
	}
	f.downloads = append(f.downloads, key)
	if f.downloadFmt != "" {
		return fmt.Sprintf(f.downloadFmt, key), nil
	}
	return "https://store.test/download/" + key, nil
}

func (f *fakeObjectStore) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, key)
	return nil
}

func testNotifier() *notify.Dispatcher {
	return notify.NewDispatcher(testLogger(), time.Second)
}
