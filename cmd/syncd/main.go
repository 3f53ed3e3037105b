package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rickgao/vehicle-sync/internal/api"
	"github.com/rickgao/vehicle-sync/internal/auth"
	"github.com/rickgao/vehicle-sync/internal/cache"
	"github.com/rickgao/vehicle-sync/internal/config"
	"github.com/rickgao/vehicle-sync/internal/connection"
	"github.com/rickgao/vehicle-sync/internal/database"
	"github.com/rickgao/vehicle-sync/internal/facade"
	"github.com/rickgao/vehicle-sync/internal/model"
	"github.com/rickgao/vehicle-sync/internal/poller"
	"github.com/rickgao/vehicle-sync/internal/router"
	"github.com/rickgao/vehicle-sync/internal/version"
	"github.com/rickgao/vehicle-sync/internal/writer"
)

func main() {
	configPath := flag.String("config", "configs/syncd.local.yaml", "path to config file")
	flag.Parse()

	// Bootstrap logger until the configured one is known
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "config", *configPath, "error", err)
		os.Exit(1)
	}

	logger = newLogger(cfg.Log)
	slog.SetDefault(logger)

	logger.Info("starting syncd",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
		"instance_id", cfg.Instance.ID,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	creds, err := auth.NewProvider(cfg.Auth)
	if err != nil {
		logger.Error("failed to load credentials", "error", err)
		os.Exit(1)
	}
	session := auth.NewSession(logger)

	entities := cache.New[model.Entity](
		cache.WithName("entities"),
		cache.WithDefaultTTL(cfg.Cache.TTL),
		cache.WithLogger(logger),
	)

	connMgr := connection.NewManager(connection.ManagerConfig{
		URL:               cfg.Connection.URL,
		TokenParam:        cfg.Connection.TokenParam,
		BaseDelay:         cfg.Connection.BaseDelay,
		MaxAttempts:       cfg.Connection.MaxAttempts,
		MaxDelay:          cfg.Connection.MaxDelay,
		HeartbeatInterval: cfg.Connection.HeartbeatInterval,
		QueueSize:         cfg.Connection.QueueSize,
		MessageBufferSize: cfg.Connection.MessageBufferSize,
		HandshakeTimeout:  cfg.Connection.HandshakeTimeout,
		WriteTimeout:      cfg.Connection.WriteTimeout,
	}, session, logger)

	connMgr.OnStateChange(func(from, to connection.State) {
		logger.Info("push channel state", "from", from, "to", to)
		if to == connection.StateDisconnected && connMgr.Unavailable() {
			logger.Warn("push channel unavailable, serving from polling only")
		}
	})

	rtr := router.NewRouter(router.RouterConfig{
		EntityTTL:          cfg.Cache.TTL,
		PriceBufferSize:    cfg.Router.PriceBufferSize,
		PriceBufferMaxSize: cfg.Router.PriceBufferMaxSize,
	}, entities, logger,
		router.WithSender(connMgr),
		router.WithInput(connMgr.Messages()),
	)

	coordinator := poller.New(poller.Config{
		DefaultInterval: cfg.Poller.DefaultInterval,
		MinInterval:     cfg.Poller.MinInterval,
		Timeout:         cfg.Poller.Timeout,
		Concurrency:     cfg.Poller.Concurrency,
		PauseWhenHidden: cfg.Poller.PauseWhenHidden,
	}, logger)

	apiClient := api.NewClient(
		cfg.API.BaseURL,
		session,
		api.WithLogger(logger),
		api.WithTimeout(cfg.API.Timeout),
		api.WithRetries(cfg.API.MaxRetries, cfg.API.RetryBackoff),
		api.WithRateLimit(cfg.API.RateLimit, cfg.API.RateBurst),
		api.WithCircuitBreaker(cfg.API.BreakerFailures, cfg.API.BreakerTimeout),
	)

	svc, err := facade.New(facade.Config{
		EntityTTL:        cfg.Cache.TTL,
		TimelineInterval: cfg.Poller.TimelineInterval,
		RefreshTimeout:   cfg.Poller.Timeout,
	}, facade.Deps{
		Cache:   entities,
		Conn:    connMgr,
		Router:  rtr,
		Poller:  coordinator,
		Fetcher: apiClient,
		Session: session,
	}, logger)
	if err != nil {
		logger.Error("failed to create sync facade", "error", err)
		os.Exit(1)
	}

	// Optional price history store
	var db pinger
	var priceWriter *writer.PriceHistoryWriter
	if cfg.Database.Enabled() {
		logger.Info("connecting to database",
			"host", cfg.Database.Host,
			"port", cfg.Database.Port,
			"database", cfg.Database.Name,
		)

		pool, err := database.Connect(ctx, cfg.Database)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		if err := database.Migrate(ctx, pool); err != nil {
			logger.Error("failed to migrate database", "error", err)
			os.Exit(1)
		}
		db = pool

		priceWriter = writer.NewPriceHistoryWriter(writer.WriterConfig{
			BatchSize:     cfg.Database.Writer.BatchSize,
			FlushInterval: cfg.Database.Writer.FlushInterval,
		}, rtr.Prices(), pool, logger)

		logger.Info("database connected")
	}

	// Start health server early so push channel progress is observable
	healthServer := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler: createHandler(handlerDeps{
			sync:        svc,
			db:          db,
			metricsPath: cfg.Metrics.Path,
			login: func(ctx context.Context) {
				session.Login(ctx, cfg.Auth.UserID, creds)
			},
			logout: session.Logout,
		}, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("starting health server", "port", cfg.Metrics.Port)
		if err := healthServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("health server error", "error", err)
		}
	}()

	if err := svc.Start(ctx); err != nil {
		logger.Error("failed to start sync facade", "error", err)
		os.Exit(1)
	}

	if priceWriter != nil {
		if err := priceWriter.Start(ctx); err != nil {
			logger.Error("failed to start price writer", "error", err)
			os.Exit(1)
		}
	}

	// Logging in opens the push channel.
	session.Login(ctx, cfg.Auth.UserID, creds)

	logger.Info("syncd running",
		"instance_id", cfg.Instance.ID,
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Metrics.Port),
	)

	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := svc.Stop(shutdownCtx); err != nil {
		logger.Error("sync facade shutdown error", "error", err)
	}
	// The router is stopped, so the writer drains what is left.
	if priceWriter != nil {
		if err := priceWriter.Stop(shutdownCtx); err != nil {
			logger.Error("price writer shutdown error", "error", err)
		}
	}
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("health server shutdown error", "error", err)
	}

	logger.Info("syncd stopped")
}

// newLogger builds the process logger from validated settings.
func newLogger(cfg config.LogConfig) *slog.Logger {
	level, _ := config.ParseLevel(cfg.Level)
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
