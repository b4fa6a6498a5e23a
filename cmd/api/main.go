package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"syncstudio/services/studio/internal/api"
	"syncstudio/services/studio/internal/artifacts"
	"syncstudio/services/studio/internal/config"
	"syncstudio/services/studio/internal/exec"
	"syncstudio/services/studio/internal/feed"
	"syncstudio/services/studio/internal/store"
	"syncstudio/services/studio/internal/studio"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v", err)
	}
	cfg := config.Load()

	ctx := context.Background()
	db, err := store.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	var events feed.Producer
	redisProducer, err := feed.NewRedisProducer(cfg.RedisAddr, cfg.ProgressStreamName, cfg.ArtifactStreamName)
	if err != nil {
		log.Printf("event feed unavailable (%v), continuing with noop producer", err)
		events = feed.NewNoopProducer()
	} else {
		events = redisProducer
	}
	defer events.Close()

	var objects artifacts.Store = artifacts.NewNoopStore()
	if cfg.S3Bucket != "" && cfg.S3AccessKey != "" && cfg.S3SecretKey != "" {
		s3Store, err := artifacts.NewS3Store(ctx, cfg.S3Region, cfg.S3Endpoint, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3Bucket)
		if err != nil {
			log.Printf("artifact store unavailable (%v), continuing with noop store", err)
		} else {
			objects = s3Store
			ensureLifecycle(ctx, s3Store, cfg.ResultRetentionDays)
		}
	}
	defer objects.Close()

	invoker := exec.NewClient(cfg.ExecBaseURL, cfg.ExecAPIKey, time.Duration(cfg.ExecTimeoutSeconds)*time.Second)
	notifier := studio.NewWebhookNotifier(cfg.WebhookURL, cfg.WebhookAuthHeader)

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	handler := api.NewHandler(api.Deps{
		Records:             db,
		Invoker:             invoker,
		Events:              events,
		Objects:             objects,
		Notifier:            notifier,
		CORSAllowedOrigins:  cfg.CORSAllowedOrigins,
		AdminAPIKey:         cfg.AdminAPIKey,
		StudioAPIKey:        cfg.StudioAPIKey,
		MediaTokenSecret:    cfg.MediaTokenSecret,
		MediaTokenTTL:       time.Duration(cfg.MediaTokenTTLSeconds) * time.Second,
		PlanContinueDelay:   time.Duration(cfg.PlanContinueDelayMs) * time.Millisecond,
		ExecPollInterval:    time.Duration(cfg.ExecPollIntervalMs) * time.Millisecond,
		UnitPollDelay:       time.Duration(cfg.UnitPollDelayMs) * time.Millisecond,
		UnitPollMaxAttempts: cfg.UnitPollMaxAttempts,
		RateLimitPerSec:     cfg.RateLimitRequestsPerSec,
		RateLimitBurst:      cfg.RateLimitBurst,
		ResultRetentionDays: cfg.ResultRetentionDays,
		BaseContext:         shutdownCtx,
	})
	router := handler.Router()

	startMaintenanceLoops(
		shutdownCtx,
		db,
		objects,
		time.Duration(cfg.AutoCleanupIntervalMinutes)*time.Minute,
		cfg.ResultRetentionDays,
	)

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("studio listening on %s", cfg.ListenAddr)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server failed: %v", err)
		}
	}()

	<-shutdownCtx.Done()
	ctxTimeout, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctxTimeout); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}

func ensureLifecycle(ctx context.Context, s3Store *artifacts.S3Store, retentionDays int) {
	if retentionDays < 1 {
		return
	}

	lifecycleCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	prefixes := []string{"result-manifests/", "result-media/"}
	if err := s3Store.EnsureLifecyclePolicy(lifecycleCtx, retentionDays, prefixes); err != nil {
		log.Printf("lifecycle policy setup failed: %v", err)
	}
}
