package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/notifyhub/creator-relay/internal/api"
	"github.com/notifyhub/creator-relay/internal/archive"
	"github.com/notifyhub/creator-relay/internal/config"
	"github.com/notifyhub/creator-relay/internal/db"
	"github.com/notifyhub/creator-relay/internal/delivery"
	"github.com/notifyhub/creator-relay/internal/downloader"
	"github.com/notifyhub/creator-relay/internal/engine"
	"github.com/notifyhub/creator-relay/internal/forwarder"
	"github.com/notifyhub/creator-relay/internal/metrics"
	"github.com/notifyhub/creator-relay/internal/platform/discord"
	"github.com/notifyhub/creator-relay/internal/platform/telegram"
	"github.com/notifyhub/creator-relay/internal/processor"
	"github.com/notifyhub/creator-relay/internal/ratelimiter"
	"github.com/notifyhub/creator-relay/internal/repository"
	"github.com/notifyhub/creator-relay/internal/service"
)

func main() {
	// ---- configuration ----
	cfg, err := config.Load()
	if err != nil {
		boot, _ := zap.NewProduction()
		boot.Fatal("failed to load config", zap.Error(err))
	}

	logger := newLogger(cfg.LogLevel)
	defer logger.Sync() //nolint:errcheck

	if cfg.DiscordToken == "" {
		logger.Fatal("DISCORD_TOKEN is required")
	}

	ctx := context.Background()
	// Context for all background goroutines; cancelled on shutdown signal.
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	// ---- runtime settings (hot reload) ----
	settings := config.NewRuntimeStore(cfg.SettingsPath, logger)
	if _, err := settings.Load(); err != nil {
		logger.Fatal("failed to load settings", zap.String("path", cfg.SettingsPath), zap.Error(err))
	}
	settings.OnChange(func(old, cur *config.Settings) {
		if old == nil || old.DownloadEngine != cur.DownloadEngine || old.AutoDownloadEnabled() != cur.AutoDownloadEnabled() {
			logger.Info("download settings changed",
				zap.String("engine", cur.DownloadEngine),
				zap.Bool("auto_download", cur.AutoDownloadEnabled()),
			)
		}
	})

	var bg sync.WaitGroup
	bg.Add(1)
	go func() {
		defer bg.Done()
		if err := settings.Watch(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("settings watcher stopped", zap.Error(err))
		}
	}()

	// ---- database ----
	pool, err := db.Connect(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	if err := db.Migrate(cfg.MigrationsPath, cfg.DatabaseURL); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}
	logger.Info("database migrations applied")

	// ---- core dependencies ----
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	jobs := repository.NewPgQueueRepository(pool)
	mappings := repository.NewPgMappingRepository(pool)
	limiter := ratelimiter.New(cfg.PrimaryRateLimit, cfg.SecondaryRateLimit)

	// ---- engines ----
	registry := engine.NewRegistry()
	engines := []engine.Engine{
		engine.NewDirectEngine(cfg.EngineHTTPTimeout, cfg.EngineMinBytes),
		engine.NewYtDlpEngine(cfg.YtDlpBinary, cfg.EngineMinBytes, logger),
	}
	if cfg.CobaltAPIURL != "" {
		engines = append(engines, engine.NewCobaltEngine(cfg.CobaltAPIURL, cfg.CobaltAPIKey, cfg.EngineHTTPTimeout, cfg.EngineMinBytes))
	}
	if err := registry.Register(engines...); err != nil {
		logger.Fatal("failed to register engines", zap.Error(err))
	}
	logger.Info("download engines registered", zap.Strings("engines", registry.Names()))
	dl := downloader.NewService(registry, settings, logger, m.RetrievalHook())

	var store processor.Archive
	if cfg.MinIOEndpoint != "" {
		a, err := archive.New(archive.Config{
			Endpoint:  cfg.MinIOEndpoint,
			AccessKey: cfg.MinIOAccessKey,
			SecretKey: cfg.MinIOSecretKey,
			Bucket:    cfg.MinIOBucket,
			UseSSL:    cfg.MinIOUseSSL,
		})
		if err != nil {
			logger.Fatal("failed to create media archive", zap.Error(err))
		}
		if err := a.EnsureBucket(ctx); err != nil {
			logger.Fatal("failed to prepare media archive", zap.Error(err))
		}
		store = a
		logger.Info("media archive enabled", zap.String("bucket", cfg.MinIOBucket))
	}

	// ---- platforms ----
	dc, err := discord.New(cfg.DiscordToken, logger)
	if err != nil {
		logger.Fatal("failed to create discord client", zap.Error(err))
	}
	tg, err := telegram.New(cfg.TelegramToken, cfg.TelegramChatID, cfg.TelegramPollTimeout,
		repository.NewPgTopicRepository(pool), logger)
	if err != nil {
		logger.Fatal("failed to create telegram client", zap.Error(err))
	}
	if err := tg.Load(ctx); err != nil {
		logger.Warn("telegram topic directory not restored", zap.Error(err))
	}

	adapters := []delivery.Adapter{
		delivery.NewPrimaryAdapter(dc.Session(), settings, limiter, logger),
		delivery.NewSecondaryAdapter(tg, mappings, limiter, logger),
	}

	// ---- processor ----
	proc := processor.New(jobs, dl, adapters, settings, store, processor.Options{
		Interval:    cfg.QueueTickInterval,
		BatchSize:   cfg.QueueBatchSize,
		MaxAttempts: cfg.QueueMaxAttempts,
	}, m.ProcessorHooks(), logger)

	bg.Add(1)
	go func() {
		defer bg.Done()
		proc.Run(runCtx)
	}()

	// ---- ingestion ----
	fwd := forwarder.New(jobs, mappings, dc, dc, settings, logger, m.EnqueueHook())
	dc.Handle(runCtx, fwd.ProcessMessage)
	if err := dc.Open(); err != nil {
		logger.Fatal("failed to connect to discord", zap.Error(err))
	}
	tg.Start(runCtx)

	// ---- HTTP server ----
	svc := service.NewRelayService(jobs, mappings, proc, logger)
	router := api.NewRouter(svc, proc, reg, logger)
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	// Start server in a goroutine so it does not block the shutdown listener.
	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// ---- graceful shutdown ----
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer shutdownCancel()

	// 1. Stop accepting new HTTP requests and inbound messages.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}
	if err := dc.Close(); err != nil {
		logger.Warn("discord close error", zap.Error(err))
	}

	// 2. Stop the ticker and watchers; an in-flight drain finishes its job.
	cancelRun()
	if err := tg.Stop(shutdownCtx); err != nil {
		logger.Warn("telegram stop error", zap.Error(err))
	}
	bg.Wait()

	logger.Info("relay stopped cleanly")
}

func newLogger(level string) *zap.Logger {
	zcfg := zap.NewProductionConfig()
	if lvl, err := zapcore.ParseLevel(level); err == nil {
		zcfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	logger, err := zcfg.Build()
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}
