// Package server initializes and runs the transfer service: configuration,
// database and object store wiring, background reconciliation, and the HTTP
// server with graceful shutdown.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"driftsend/internal/logging"
	"driftsend/internal/ratelimit"
	"driftsend/internal/server/api"
	"driftsend/internal/server/config"
	"driftsend/internal/server/notify"
	"driftsend/internal/server/objectstore"
	"driftsend/internal/server/repositories/repomanager"
	"driftsend/internal/server/services"
)

type App struct {
	config *config.Config
	logger logging.Logger

	db         *sql.DB
	notifier   *notify.Dispatcher
	reconciler *services.Reconciler
	router     http.Handler
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	db, err := sql.Open("pgx", cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	repos := repomanager.NewPostgresRepositoryManager()
	if err := repos.RunMigrations(ctx, db); err != nil {
		return nil, fmt.Errorf("migration error: %w", err)
	}

	store, err := objectstore.NewS3Store(ctx, objectstore.Config{
		AccessKey:    cfg.S3AccessKey,
		SecretKey:    cfg.S3SecretKey,
		Bucket:       cfg.S3Bucket,
		Region:       cfg.S3Region,
		BaseEndpoint: cfg.S3BaseEndpoint,
	})
	if err != nil {
		return nil, fmt.Errorf("object store init error: %w", err)
	}

	notifier := notify.NewDispatcher(logger, cfg.NotifyTimeout,
		&notify.WebhookSink{Client: http.DefaultClient},
		&notify.EmailSink{Addr: cfg.SMTPAddr, From: cfg.SMTPFrom},
		&notify.AnalyticsSink{Log: logger},
	)

	rateStore := ratelimit.NewPostgresStore(db)
	limiter := ratelimit.New(rateStore, logger, cfg.RateLimitWindow, map[ratelimit.Class]int64{
		ratelimit.ClassCreate:   cfg.RateLimitCreate,
		ratelimit.ClassDownload: cfg.RateLimitDownload,
		ratelimit.ClassDelete:   cfg.RateLimitDelete,
	})

	transferSvc := services.NewTransferService(db, repos, store, notifier, logger, cfg)
	downloadSvc := services.NewDownloadService(db, repos, store, logger, cfg)
	zipSvc := services.NewZipService(downloadSvc, store, notifier, logger)
	reconciler := services.NewReconciler(db, repos, store, rateStore, logger, cfg)

	handler := api.NewHandler(transferSvc, downloadSvc, zipSvc, db)
	router := api.SetupRouter(handler, limiter, logger, cfg)

	return &App{
		config:     cfg,
		logger:     logger,
		db:         db,
		notifier:   notifier,
		reconciler: reconciler,
		router:     router,
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "starting app", "addr", app.config.EndpointAddr)

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.reconciler.Run(ctx)
	}()

	srv := &http.Server{Addr: app.config.EndpointAddr, Handler: app.router}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.logger.Error(ctx, "server stopped", "error", err)
			cancelFunc()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		app.logger.Error(shutdownCtx, "shutdown error", "error", err)
	}

	wg.Wait()
	app.notifier.Wait()

	if err := app.db.Close(); err != nil {
		app.logger.Error(context.Background(), "db close error", "error", err)
	}
	app.logger.Info(context.Background(), "app stopped")
}
