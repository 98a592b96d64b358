package services

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"driftsend/internal/common"
	"driftsend/internal/passhash"
	"driftsend/internal/quota"
	"driftsend/internal/server/models"
	"driftsend/internal/server/repositories/transfers"
)

const mb int64 = 1 << 20

func newTransferService(t *testing.T) (*TransferService, *fakeRepoManager, *fakeObjectStore) {
	t.Helper()
	repos := newFakeRepoManager()
	store := newFakeObjectStore()
	svc := NewTransferService(newTestDB(t), repos, store, testNotifier(), testLogger(), testConfig())
	return svc, repos, store
}

func manifest(sizes ...int64) []ManifestEntry {
	out := make([]ManifestEntry, len(sizes))
	for i, sz := range sizes {
		out[i] = ManifestEntry{Name: "file" + string(rune('a'+i)) + ".bin", ByteSize: sz}
	}
	return out
}

func TestCreate_AnonymousHappyPath(t *testing.T) {
	svc, repos, store := newTransferService(t)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	res, err := svc.Create(context.Background(), Identity{}, CreateInput{
		Title: "holiday photos",
		Files: manifest(4*mb, 3*mb, 3*mb),
	})
	require.NoError(t, err)

	assert.NotEmpty(t, res.PublicID)
	require.True(t, ValidAnonID(res.AnonID), "a first-time anonymous sender gets a minted pseudo-id")
	require.Len(t, res.Slots, 3)
	keyShape := regexp.MustCompile(`^transfers/` + regexp.QuoteMeta(res.AnonID) + `/` + regexp.QuoteMeta(res.PublicID) + `/\d+-[0-9a-f]{32}$`)
	for i, slot := range res.Slots {
		assert.NotZero(t, slot.FileID)
		assert.Contains(t, slot.UploadURL, slot.StorageKey)
		assert.Regexp(t, keyShape, slot.StorageKey)
		assert.Equal(t, store.uploads[i], slot.StorageKey)
	}

	// Anonymous retention is 3 days.
	assert.Equal(t, now.Add(3*24*time.Hour), res.ExpiresAt)

	stored, err := repos.transfers.GetByPublicID(context.Background(), res.PublicID)
	require.NoError(t, err)
	assert.Equal(t, models.TransferStatusActive, stored.Status)
	assert.Equal(t, 10*mb, stored.TotalBytes)
	assert.Equal(t, 3, stored.FileCount)
	assert.Equal(t, res.AnonID, stored.AnonID)

	usage, err := repos.anon.Get(context.Background(), res.AnonID)
	require.NoError(t, err)
	assert.Equal(t, 10*mb, usage.StorageBytes)
	assert.Equal(t, int64(1), usage.TransferCount)
}

func TestCreate_ReturnedAnonIDOnlyWhenMinted(t *testing.T) {
	svc, _, _ := newTransferService(t)
	anonID := NewAnonID()

	res, err := svc.Create(context.Background(), Identity{AnonID: anonID}, CreateInput{Files: manifest(mb)})
	require.NoError(t, err)
	assert.Empty(t, res.AnonID, "an echoed pseudo-id is not returned again")
}

func TestCreate_StorageQuotaExceeded(t *testing.T) {
	svc, repos, _ := newTransferService(t)
	repos.accounts.byID["acc-1"] = &models.Account{ID: "acc-1", Plan: "free"}
	repos.transfers.usage = transfers.Usage{StorageBytes: 499 * mb}

	_, err := svc.Create(context.Background(), Identity{AccountID: "acc-1"}, CreateInput{Files: manifest(2 * mb)})
	assert.ErrorIs(t, err, common.ErrStorageQuotaExceeded)
}

func TestCreate_StorageQuotaBoundary(t *testing.T) {
	// Landing exactly on the cap is allowed.
	svc, repos, _ := newTransferService(t)
	repos.accounts.byID["acc-1"] = &models.Account{ID: "acc-1", Plan: "free"}
	repos.transfers.usage = transfers.Usage{StorageBytes: 498 * mb}

	_, err := svc.Create(context.Background(), Identity{AccountID: "acc-1"}, CreateInput{Files: manifest(2 * mb)})
	assert.NoError(t, err)
}

func TestCreate_MonthlyTransferQuotaExceeded(t *testing.T) {
	svc, repos, _ := newTransferService(t)
	repos.accounts.byID["acc-1"] = &models.Account{ID: "acc-1", Plan: "free"}
	repos.transfers.usage = transfers.Usage{MonthTransfers: 20}

	_, err := svc.Create(context.Background(), Identity{AccountID: "acc-1"}, CreateInput{Files: manifest(mb)})
	assert.ErrorIs(t, err, common.ErrTransferQuotaExceeded)
}

func TestCreate_UnlimitedSentinelNeverExhausts(t *testing.T) {
	svc, repos, _ := newTransferService(t)
	repos.accounts.byID["acc-1"] = &models.Account{ID: "acc-1", Plan: "business"}
	repos.transfers.usage = transfers.Usage{StorageBytes: 1 << 50, MonthTransfers: 1 << 30}

	_, err := svc.Create(context.Background(), Identity{AccountID: "acc-1"}, CreateInput{Files: manifest(mb)})
	assert.NoError(t, err)
}

func TestCreate_OverridesReplaceTierDefaults(t *testing.T) {
	svc, repos, _ := newTransferService(t)
	limit := int64(10 * mb)
	repos.accounts.byID["acc-1"] = &models.Account{ID: "acc-1", Plan: "pro", OverrideStorageBytes: &limit}

	_, err := svc.Create(context.Background(), Identity{AccountID: "acc-1"}, CreateInput{Files: manifest(11 * mb)})
	assert.ErrorIs(t, err, common.ErrStorageQuotaExceeded)
}

func TestCreate_UnknownAccountFallsBackToFree(t *testing.T) {
	svc, _, _ := newTransferService(t)

	// No account row exists: free limits apply instead of an error.
	_, err := svc.Create(context.Background(), Identity{AccountID: "acc-missing"}, CreateInput{Files: manifest(501 * mb)})
	assert.ErrorIs(t, err, common.ErrFileTooLarge)
}

func TestCreate_ProvisionsAccountOnFirstUse(t *testing.T) {
	svc, repos, _ := newTransferService(t)

	res, err := svc.Create(context.Background(), Identity{AccountID: "acc-new"}, CreateInput{Files: manifest(mb)})
	require.NoError(t, err)
	assert.NotEmpty(t, res.PublicID)

	// The row the transfer references must exist after creation.
	acc, err := repos.accounts.GetByID(context.Background(), "acc-new")
	require.NoError(t, err)
	assert.Equal(t, "free", acc.Plan)
}

func TestCreate_ManifestValidation(t *testing.T) {
	tests := []struct {
		name    string
		files   []ManifestEntry
		wantErr error
	}{
		{"empty manifest", nil, common.ErrValidation},
		{"zero-byte file", []ManifestEntry{{Name: "empty.txt", ByteSize: 0}}, common.ErrEmptyFile},
		{"blocked extension", []ManifestEntry{{Name: "setup.exe", ByteSize: mb}}, common.ErrBlockedExtension},
		{"too many files", manifest(make([]int64, 11)...), common.ErrTooManyFiles},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, _ := newTransferService(t)
			_, err := svc.Create(context.Background(), Identity{}, CreateInput{Files: tt.files})
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestCreate_SanitizesFileNames(t *testing.T) {
	svc, repos, _ := newTransferService(t)

	res, err := svc.Create(context.Background(), Identity{}, CreateInput{
		Files: []ManifestEntry{{Name: "../../etc/passwd.txt", ByteSize: mb}},
	})
	require.NoError(t, err)

	stored, err := repos.transfers.GetByPublicID(context.Background(), res.PublicID)
	require.NoError(t, err)
	files, err := repos.files.SelectByTransfer(context.Background(), stored.ID)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.False(t, strings.ContainsAny(files[0].FileName, `/\`))
	assert.False(t, strings.HasPrefix(files[0].FileName, "."))
}

func TestCreate_PasswordGatedByPlan(t *testing.T) {
	svc, _, _ := newTransferService(t)
	_, err := svc.Create(context.Background(), Identity{}, CreateInput{
		Password: "correct-horse",
		Files:    manifest(mb),
	})
	assert.ErrorIs(t, err, common.ErrFeatureNotAvailable)
}

func TestCreate_WeakPasswordRejected(t *testing.T) {
	svc, repos, _ := newTransferService(t)
	repos.accounts.byID["acc-1"] = &models.Account{ID: "acc-1", Plan: "pro"}

	_, err := svc.Create(context.Background(), Identity{AccountID: "acc-1"}, CreateInput{
		Password: "abc",
		Files:    manifest(mb),
	})
	assert.ErrorIs(t, err, common.ErrWeakPassword)
}

func TestCreate_PasswordStoredAsTaggedCredential(t *testing.T) {
	svc, repos, _ := newTransferService(t)
	repos.accounts.byID["acc-1"] = &models.Account{ID: "acc-1", Plan: "pro"}

	res, err := svc.Create(context.Background(), Identity{AccountID: "acc-1"}, CreateInput{
		Password: "correct-horse",
		Files:    manifest(mb),
	})
	require.NoError(t, err)

	stored, err := repos.transfers.GetByPublicID(context.Background(), res.PublicID)
	require.NoError(t, err)
	cred, err := passhash.Parse(stored.PasswordHash)
	require.NoError(t, err)
	assert.Equal(t, passhash.SchemeBcrypt, cred.Scheme)
	assert.True(t, passhash.Verify("correct-horse", cred))
	assert.False(t, passhash.Verify("wrong", cred))
}

func TestCreate_ExpiryCappedAtPlanRetention(t *testing.T) {
	svc, _, _ := newTransferService(t)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	res, err := svc.Create(context.Background(), Identity{}, CreateInput{
		ExpiryDays: 30,
		Files:      manifest(mb),
	})
	require.NoError(t, err)
	assert.Equal(t, now.Add(3*24*time.Hour), res.ExpiresAt, "anonymous plans cap requested expiry at retention")
}

func TestComputeExpiry(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	free := quota.Resolve(quota.PlanFree, nil)
	pro := quota.Resolve(quota.PlanPro, nil)

	tests := []struct {
		name      string
		requested int
		limits    quota.Limits
		wantDays  int
	}{
		{"default to plan retention", 0, free, 7},
		{"cap without custom expiry", 30, free, 7},
		{"custom expiry used as-is", 5, pro, 5},
		{"non-positive request falls back to retention", -3, pro, 90},
		{"custom expiry beyond retention allowed", 120, pro, 120},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := computeExpiry(now, tt.requested, tt.limits)
			assert.Equal(t, now.Add(time.Duration(tt.wantDays)*24*time.Hour), got)
		})
	}
}

func TestCreate_PresignFailureLeavesPending(t *testing.T) {
	svc, repos, store := newTransferService(t)
	store.presignErr = errors.New("endpoint unreachable")

	_, err := svc.Create(context.Background(), Identity{}, CreateInput{Files: manifest(mb)})
	require.Error(t, err)

	pending, err := repos.transfers.SelectPendingBefore(context.Background(), time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, pending, 1, "the pending marker row stays behind for the sweep")
	assert.Equal(t, models.TransferStatusPending, pending[0].Status)
}

func TestDelete_OwnerCascades(t *testing.T) {
	svc, repos, store := newTransferService(t)
	anonID := NewAnonID()

	res, err := svc.Create(context.Background(), Identity{AnonID: anonID}, CreateInput{Files: manifest(2*mb, 3*mb)})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(context.Background(), Identity{AnonID: anonID}, res.PublicID))

	_, err = repos.transfers.GetByPublicID(context.Background(), res.PublicID)
	assert.ErrorIs(t, err, common.ErrNotFound)

	usage, err := repos.anon.Get(context.Background(), anonID)
	require.NoError(t, err)
	assert.Zero(t, usage.StorageBytes, "released bytes clamp at zero")

	assert.Len(t, store.deletes, 2)
}

func TestDelete_NonOwnerForbidden(t *testing.T) {
	svc, _, _ := newTransferService(t)
	anonID := NewAnonID()

	res, err := svc.Create(context.Background(), Identity{AnonID: anonID}, CreateInput{Files: manifest(mb)})
	require.NoError(t, err)

	err = svc.Delete(context.Background(), Identity{AnonID: NewAnonID()}, res.PublicID)
	assert.ErrorIs(t, err, common.ErrForbidden)

	err = svc.Delete(context.Background(), Identity{}, res.PublicID)
	assert.ErrorIs(t, err, common.ErrForbidden)
}

func TestOwns_AnonNeverMatchesAccountTransfer(t *testing.T) {
	tr := &models.Transfer{AccountID: "acc-1", AnonID: ""}
	assert.False(t, owns(tr, Identity{AnonID: "acc-1"}))
	assert.True(t, owns(tr, Identity{AccountID: "acc-1"}))
}

func TestMarkUploaded(t *testing.T) {
	svc, repos, _ := newTransferService(t)
	anonID := NewAnonID()

	res, err := svc.Create(context.Background(), Identity{AnonID: anonID}, CreateInput{Files: manifest(mb)})
	require.NoError(t, err)
	fileID := res.Slots[0].FileID

	require.NoError(t, svc.MarkUploaded(context.Background(), Identity{AnonID: anonID}, res.PublicID, fileID))
	f, err := repos.files.GetByID(context.Background(), fileID)
	require.NoError(t, err)
	assert.True(t, f.Uploaded)

	err = svc.MarkUploaded(context.Background(), Identity{AnonID: NewAnonID()}, res.PublicID, fileID)
	assert.ErrorIs(t, err, common.ErrForbidden)
}
