// streamtest connects to the push channel and prints reconciled events to the console.
// Usage: go run ./cmd/streamtest --config configs/syncd.local.yaml
//
// The credential comes from the auth section of the config; use
// ${VAR} references there to keep tokens out of the file.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goccy/go-json"

	"github.com/rickgao/vehicle-sync/internal/auth"
	"github.com/rickgao/vehicle-sync/internal/cache"
	"github.com/rickgao/vehicle-sync/internal/config"
	"github.com/rickgao/vehicle-sync/internal/connection"
	"github.com/rickgao/vehicle-sync/internal/model"
	"github.com/rickgao/vehicle-sync/internal/router"
)

var printedEvents = []string{
	model.EventEntityUpdate,
	model.EventEntityDelete,
	model.EventVehicleUpdate,
	model.EventVehicleDelete,
	model.EventBidNew,
	model.EventInspectionUpdate,
	model.EventTranslationUpdate,
	model.EventNotification,
}

func main() {
	configPath := flag.String("config", "configs/syncd.example.yaml", "path to config file")
	verbose := flag.Bool("verbose", false, "print full payload JSON")
	flag.Parse()

	// Setup logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	// Load config
	cfg, err := config.LoadWithDefaults(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	creds, err := auth.NewProvider(cfg.Auth)
	if err != nil {
		logger.Error("failed to load credentials", "error", err)
		os.Exit(1)
	}
	if !creds.IsAuthenticated() {
		logger.Error("a credential is required for the push channel",
			"token_set", cfg.Auth.Token != "",
			"private_key_path_set", cfg.Auth.PrivateKeyPath != "",
		)
		os.Exit(1)
	}

	entities := cache.New[model.Entity](cache.WithName("streamtest"), cache.WithDefaultTTL(cfg.Cache.TTL))

	connCfg := connection.DefaultManagerConfig()
	connCfg.URL = cfg.Connection.URL
	connCfg.TokenParam = cfg.Connection.TokenParam
	connCfg.MaxAttempts = cfg.Connection.MaxAttempts
	connCfg.MessageBufferSize = 10000

	connMgr := connection.NewManager(connCfg, creds, logger)
	connMgr.OnStateChange(func(from, to connection.State) {
		fmt.Printf("[STATE] %s -> %s\n", from, to)
	})

	rtr := router.NewRouter(router.RouterConfig{
		EntityTTL:          cfg.Cache.TTL,
		PriceBufferSize:    1000,
		PriceBufferMaxSize: 100000,
	}, entities, logger,
		router.WithSender(connMgr),
		router.WithInput(connMgr.Messages()),
	)

	for _, eventType := range printedEvents {
		rtr.Subscribe(eventType, printEvent(*verbose))
	}

	logger.Info("starting router")
	if err := rtr.Start(ctx); err != nil {
		logger.Error("failed to start router", "error", err)
		os.Exit(1)
	}

	logger.Info("connecting push channel", "url", cfg.Connection.URL)
	connMgr.Connect(ctx)

	go printPrices(ctx, rtr.Prices(), *verbose)

	// Stats printer
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				routerStats := rtr.Stats()
				connStats := connMgr.Stats()
				logger.Info("stats",
					"conn_state", connStats.State,
					"conn_attempts", connStats.Attempts,
					"conn_received", connStats.Received,
					"router_received", routerStats.MessagesReceived,
					"reconciled", routerStats.Reconciled,
					"delivered", routerStats.Delivered,
					"parse_errors", routerStats.ParseErrors,
					"cached", entities.Len(),
					"price_buf", routerStats.PriceBuffer.Count,
				)
			}
		}
	}()

	logger.Info("streaming started - press Ctrl+C to stop")

	// Wait for shutdown
	<-ctx.Done()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	logger.Info("shutting down...")
	connMgr.Disconnect()
	rtr.Stop(shutdownCtx)

	logger.Info("shutdown complete")
}

func printEvent(verbose bool) router.Handler {
	return func(ev router.Event) error {
		if verbose {
			var pretty any
			if err := json.Unmarshal(ev.Payload, &pretty); err == nil {
				data, _ := json.MarshalIndent(pretty, "", "  ")
				fmt.Printf("[%s] %s\n", ev.Type, data)
				return nil
			}
		}
		fmt.Printf("[%s] bytes=%d sent=%s\n", ev.Type, len(ev.Payload), ev.Timestamp.Format(time.RFC3339))
		return nil
	}
}

func printPrices(ctx context.Context, buf *router.GrowableBuffer[router.PriceMsg], verbose bool) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			msg, ok := buf.TryReceive()
			if !ok {
				time.Sleep(10 * time.Millisecond)
				continue
			}

			if verbose {
				data, _ := json.MarshalIndent(msg, "", "  ")
				fmt.Printf("[PRICE] %s\n", data)
			} else {
				fmt.Printf("[PRICE] vehicle=%s price=%.2f %s at=%s\n",
					msg.VehicleID, msg.Price, msg.Currency, msg.Timestamp.Format(time.RFC3339))
			}
		}
	}
}
