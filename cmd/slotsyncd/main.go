package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"

	"slot-sync-backend/config"
	"slot-sync-backend/internal/api"
	"slot-sync-backend/internal/db"
	"slot-sync-backend/internal/logging"
	"slot-sync-backend/internal/mw"
	"slot-sync-backend/internal/notification"
	"slot-sync-backend/internal/store"
	"slot-sync-backend/internal/syncer"
	"slot-sync-backend/internal/upstream"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml" // Default path for local development
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logging.Fatal().Err(err).Str("path", configPath).Msg("failed to load configuration")
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	logging.Info().Str("path", configPath).Msg("configuration loaded")

	// Runs record configuration errors themselves; the API keeps serving
	// stored data meanwhile.
	if err := cfg.Validate(); err != nil {
		logging.Error().Err(err).Msg("invalid configuration; sync runs will fail")
	}

	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to initialize database")
	}
	logging.Info().Msg("database initialized")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	appStore := store.NewGormStore(gormDB, cfg.Sync.UpsertBatchSize)

	var webpushOptions *webpush.Options
	var alerts syncer.Alerter
	if cfg.Push.Enabled() {
		webpushOptions = &webpush.Options{
			VAPIDPublicKey:  cfg.Push.PublicKey,
			VAPIDPrivateKey: cfg.Push.PrivateKey,
			Subscriber:      cfg.Push.Subject,
			TTL:             cfg.Push.TTL,
		}
		pool := notification.NewWorkerPool(cfg.WorkerPool.Size, gormDB, webpushOptions)
		pool.Start(ctx)
		alerts = pool
	} else {
		logging.Warn().Msg("VAPID keys are not configured; sync alerts are disabled")
	}

	svc := syncer.NewService(cfg, upstream.NewClient(&cfg.Upstream), appStore, alerts)

	responses := mw.NewResponseCache(time.Duration(cfg.Server.CacheTTLSeconds) * time.Second)
	svc.OnComplete(func(syncer.Summary) { responses.Flush() })

	handler := api.NewHandler(ctx, appStore, svc, webpushOptions, cfg.Sync.Location)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           api.NewRouter(handler, cfg.Server, responses),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logging.Info().Int("port", cfg.Server.Port).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Fatal().Err(err).Msg("HTTP server stopped")
		}
	}()

	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		if err := svc.Run(ctx); err != nil {
			logging.Error().Err(err).Msg("sync scheduler failed to start")
		}
	}()

	<-ctx.Done()
	logging.Info().Msg("shutdown signal received, stopping services")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("HTTP server shutdown")
	}

	// Passes in flight stop scheduling work and persist what they fetched.
	<-schedulerDone
	logging.Info().Msg("server gracefully stopped")
}
