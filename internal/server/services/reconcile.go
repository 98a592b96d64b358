package services

import (
	"context"
	"database/sql"
	"time"

	"driftsend/internal/dbx"
	"driftsend/internal/logging"
	"driftsend/internal/ratelimit"
	"driftsend/internal/server/config"
	"driftsend/internal/server/objectstore"
	"driftsend/internal/server/repositories/repomanager"
)

// Reconciler garbage-collects transfers stranded in pending by a crash
// between the two creation phases, and prunes expired rate-limit windows.
// Creation has no multi-document transaction across the transfer row and
// the object store, so this sweep is what keeps the halves consistent.
type Reconciler struct {
	db        *sql.DB
	repos     repomanager.RepositoryManager
	store     objectstore.Store
	rateStore *ratelimit.PostgresStore
	log       logging.Logger
	cfg       *config.Config

	now func() time.Time
}

func NewReconciler(db *sql.DB, repos repomanager.RepositoryManager, store objectstore.Store,
	rateStore *ratelimit.PostgresStore, log logging.Logger, cfg *config.Config) *Reconciler {
	return &Reconciler{
		db:        db,
		repos:     repos,
		store:     store,
		rateStore: rateStore,
		log:       log,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Run sweeps on the configured interval until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.SweepOnce(ctx)
		}
	}
}

// SweepOnce collects stale pending transfers and prunes rate-limit rows.
// Each transfer is handled independently so one failure does not block the
// rest of the sweep.
func (r *Reconciler) SweepOnce(ctx context.Context) {
	now := r.now()

	stale, err := r.repos.Transfers(r.db).SelectPendingBefore(ctx, now.Add(-r.cfg.PendingTransferTTL))
	if err != nil {
		r.log.Error(ctx, "pending sweep query failed", "error", err)
	} else {
		for _, t := range stale {
			r.collect(ctx, t.ID, t.PublicID, t.AccountID, t.AnonID, t.TotalBytes)
		}
	}

	if err := r.rateStore.Prune(ctx, now.Add(-24*time.Hour)); err != nil {
		r.log.Warn(ctx, "rate limit prune failed", "error", err)
	}
}

func (r *Reconciler) collect(ctx context.Context, id int64, publicID, accountID, anonID string, totalBytes int64) {
	files, err := r.repos.TransferFiles(r.db).SelectByTransfer(ctx, id)
	if err != nil {
		r.log.Error(ctx, "pending sweep file listing failed", "public_id", publicID, "error", err)
		return
	}

	// Objects first: a slot may have been consumed before the crash.
	for _, f := range files {
		if err := r.store.Delete(ctx, f.StorageKey); err != nil {
			r.log.Warn(ctx, "pending sweep object delete failed", "storage_key", f.StorageKey, "error", err)
		}
	}

	err = dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := r.repos.Transfers(tx).Delete(ctx, id); err != nil {
			return err
		}
		if accountID == "" && anonID != "" {
			return r.repos.AnonUsage(tx).ReleaseStorage(ctx, anonID, totalBytes)
		}
		return nil
	})
	if err != nil {
		r.log.Error(ctx, "pending sweep delete failed", "public_id", publicID, "error", err)
		return
	}
	r.log.Info(ctx, "stranded pending transfer collected", "public_id", publicID, "files", len(files))
}
