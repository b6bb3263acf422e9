// Package main is the entry point of the tuition chat service: a headless
// bot answering guardians about school payments over a transport sidecar.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/velasquezhn3/chatbotwhatsapp/config"
	"github.com/velasquezhn3/chatbotwhatsapp/internal/application/conversation"
	"github.com/velasquezhn3/chatbotwhatsapp/internal/infrastructure/blobcache"
	"github.com/velasquezhn3/chatbotwhatsapp/internal/infrastructure/external/drive"
	"github.com/velasquezhn3/chatbotwhatsapp/internal/infrastructure/external/sheets"
	"github.com/velasquezhn3/chatbotwhatsapp/internal/infrastructure/ledger"
	"github.com/velasquezhn3/chatbotwhatsapp/internal/infrastructure/persistence/postgres"
	"github.com/velasquezhn3/chatbotwhatsapp/internal/infrastructure/persistence/redis"
	"github.com/velasquezhn3/chatbotwhatsapp/internal/interface/chat"
	"github.com/velasquezhn3/chatbotwhatsapp/internal/interface/gateway"
	"github.com/velasquezhn3/chatbotwhatsapp/internal/observability"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION
	// ─────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────
	// 2. LOGGING
	// ─────────────────────────────────────────────────────────────────────
	log := setupLogger(cfg)
	slog.SetDefault(log)
	log.Info("starting tuition chat service",
		"env", cfg.App.Environment,
		"version", cfg.App.Version,
	)

	// ─────────────────────────────────────────────────────────────────────
	// 3. DATABASE (PostgreSQL)
	// ─────────────────────────────────────────────────────────────────────
	log.Info("connecting to database...")
	dbConn, err := postgres.NewConnectionFromURL(ctx, cfg.Database.URL, postgres.PoolSettings{
		MaxConns:        int32(cfg.Database.MaxOpenConns),
		MinConns:        int32(cfg.Database.MinIdleConns),
		MaxConnLifetime: cfg.Database.ConnMaxLifetime,
		MaxConnIdleTime: cfg.Database.ConnMaxIdleTime,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		log.Info("closing database connection...")
		dbConn.Close()
	}()

	log.Info("running database migrations...")
	migrator := postgres.NewMigrator(dbConn)
	if err := migrator.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────
	// 4. REDIS (conversation state)
	// ─────────────────────────────────────────────────────────────────────
	log.Info("connecting to Redis...")
	redisCfg := redis.DefaultConfig()
	redisCfg.Host = cfg.Redis.Host
	redisCfg.Port = cfg.Redis.Port
	redisCfg.Password = cfg.Redis.Password
	redisCfg.DB = cfg.Redis.DB
	redisCfg.DialTimeout = cfg.Redis.DialTimeout
	redisCfg.ReadTimeout = cfg.Redis.ReadTimeout
	redisCfg.WriteTimeout = cfg.Redis.WriteTimeout

	redisStore, err := redis.NewStore(redisCfg)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer redisStore.Close()
	stateStore := redis.NewStateStore(redisStore)

	// ─────────────────────────────────────────────────────────────────────
	// 5. METRICS
	// ─────────────────────────────────────────────────────────────────────
	metrics := observability.NewMetrics(cfg.Observability.MetricsNamespace)

	// ─────────────────────────────────────────────────────────────────────
	// 6. LEDGER (spreadsheet fetcher + workbook cache)
	// ─────────────────────────────────────────────────────────────────────
	fetcherCfg := sheets.DefaultConfig(cfg.Ledger.ExportURL, cfg.Ledger.MetadataURL)
	fetcherCfg.Timeout = cfg.Ledger.FetchTimeout
	fetcherCfg.MaxAttempts = cfg.Ledger.FetchAttempts
	fetcherCfg.RetryDelay = cfg.Ledger.FetchDelay
	fetcherCfg.Logger = log
	fetcher := sheets.NewFetcher(fetcherCfg)

	if cfg.Ledger.MetadataURL != "" {
		if rev, err := fetcher.Revision(ctx); err != nil {
			log.Warn("ledger metadata endpoint unreachable", "error", err)
		} else {
			log.Info("ledger export reachable", "revision", rev)
		}
	}

	ledgerCache := ledger.NewCache(fetcher, ledger.Config{
		SheetName:  cfg.Ledger.SheetName,
		HeaderRows: cfg.Ledger.HeaderRows,
		Columns: ledger.Columns{
			ID:          cfg.Ledger.ColID,
			Name:        cfg.Ledger.ColName,
			Grade:       cfg.Ledger.ColGrade,
			Plan:        cfg.Ledger.ColPlan,
			Amount:      cfg.Ledger.ColAmount,
			PIN:         cfg.Ledger.ColPIN,
			FirstPeriod: cfg.Ledger.ColFirstPeriod,
		},
	}, cfg.Ledger.TTL, metrics, log)

	// ─────────────────────────────────────────────────────────────────────
	// 7. DOCUMENT STORE (drive client + content cache)
	// ─────────────────────────────────────────────────────────────────────
	var media conversation.MediaStore
	if cfg.Drive.BaseURL != "" {
		driveCfg := drive.DefaultConfig(cfg.Drive.BaseURL, cfg.Drive.TokenURL)
		driveCfg.ClientID = cfg.Drive.ClientID
		driveCfg.ClientSecret = cfg.Drive.ClientSecret
		driveCfg.RefreshToken = cfg.Drive.RefreshToken
		driveCfg.TokenMaxAge = cfg.Drive.TokenMaxAge
		driveCfg.Logger = log
		driveClient := drive.NewClient(driveCfg)

		contentCache, err := blobcache.Open(cfg.Drive.CachePath, driveClient, log)
		if err != nil {
			return fmt.Errorf("failed to open content cache: %w", err)
		}
		defer contentCache.Close()
		media = contentCache
	} else {
		log.Info("document store not configured, media panels disabled")
	}

	// ─────────────────────────────────────────────────────────────────────
	// 8. CONVERSATION SERVICE
	// ─────────────────────────────────────────────────────────────────────
	linkRepo := postgres.NewGuardianLinkRepository(dbConn)
	bridge := gateway.NewBridge(log)
	broadcaster := chat.NewBroadcaster(bridge, chat.BroadcasterConfig{
		MinDelay: cfg.Chat.BroadcastMinDelay,
		MaxDelay: cfg.Chat.BroadcastMaxDelay,
	}, metrics, log)

	svc := conversation.NewService(conversation.ServiceConfig{
		AdminIDs:     cfg.Chat.AdminIDs,
		MenuDelay:    cfg.Chat.MenuDelay,
		SchedulePath: cfg.Drive.SchedulePath,
	}, stateStore, linkRepo, ledgerCache, media, bridge, broadcaster, metrics, log)
	defer svc.Close()

	// ─────────────────────────────────────────────────────────────────────
	// 9. GATEWAY (health, metrics, sidecar websocket)
	// ─────────────────────────────────────────────────────────────────────
	gwServer := gateway.NewServer(gateway.Config{
		Addr:      cfg.Gateway.Addr,
		AuthToken: cfg.Gateway.AuthToken,
	}, svc, bridge, log)

	httpServer := &http.Server{
		Addr:              cfg.Gateway.Addr,
		Handler:           gwServer.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting gateway", "address", cfg.Gateway.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("gateway error: %w", err)
		}
	}()

	// ─────────────────────────────────────────────────────────────────────
	// 10. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────
	log.Info("tuition chat service is running", "address", cfg.Gateway.Addr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		log.Error("service error", "error", err)
		return err
	case <-ctx.Done():
	}

	log.Info("starting graceful shutdown...", "timeout", cfg.App.ShutdownTimeout.String())
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("failed to stop gateway gracefully", "error", err)
		return err
	}

	log.Info("shutdown completed successfully")
	return nil
}

// setupLogger configures structured logging: JSON in production for log
// aggregators, text elsewhere.
func setupLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: logLevel(cfg.Observability.LogLevel)}
	if cfg.App.Debug {
		opts.Level = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.IsProduction() {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
