/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the POS ledger server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (defaults, .env, file, POSLEDGER_* env, flags)
  2. Open the store (sqlite, postgres or memory)
  3. Start the event dispatcher (RabbitMQ or log publisher)
  4. Build the ledger engine and HTTP router
  5. Run the server until SIGINT/SIGTERM

COMMAND-LINE FLAGS:
  -config  Config file path (default: posledger.yaml in . or ./config)
  -port    HTTP server port, overrides server.port
  -db      SQLite database path, overrides database.path
           Use ":memory:" for an in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests (server.shutdown_timeout)
  3. Drain the event buffer
  4. Close the store

EXAMPLES:
  ./server -db="./data/pos.db"
  POSLEDGER_DATABASE_DRIVER=postgres POSLEDGER_DATABASE_DSN=postgres://... ./server

SEE ALSO:
  - config/config.go: Configuration keys
  - api/server.go: Router configuration
*/
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

	"golang.org/x/sync/errgroup"

	"github.com/warp/pos-ledger/api"
	"github.com/warp/pos-ledger/config"
	"github.com/warp/pos-ledger/ledger"
	memstore "github.com/warp/pos-ledger/ledger/store"
	"github.com/warp/pos-ledger/notify"
	"github.com/warp/pos-ledger/store/postgres"
	"github.com/warp/pos-ledger/store/sqlite"
)

func main() {
	configPath := flag.String("config", "", "config file path")
	port := flag.Int("port", 0, "HTTP server port (overrides server.port)")
	dbPath := flag.String("db", "", "SQLite database path (overrides database.path)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	logger := cfg.Log.NewLogger(os.Stdout)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

type backend struct {
	store  ledger.TxStore
	health func(context.Context) error
	close  func() error
}

func openStore(ctx context.Context, cfg config.DatabaseConfig) (backend, error) {
	switch cfg.Driver {
	case "postgres":
		s, err := postgres.New(ctx, cfg.DSN)
		if err != nil {
			return backend{}, err
		}
		return backend{store: s, health: s.Ping, close: s.Close}, nil
	case "memory":
		return backend{store: memstore.NewMemory(), close: func() error { return nil }}, nil
	default:
		s, err := sqlite.New(cfg.Path)
		if err != nil {
			return backend{}, err
		}
		return backend{store: s, health: s.Ping, close: s.Close}, nil
	}
}

func openPublisher(cfg config.EventsConfig, logger *slog.Logger) (notify.Publisher, func() error, error) {
	if cfg.AMQPURL == "" {
		return notify.LogPublisher{Logger: logger}, func() error { return nil }, nil
	}
	p, err := notify.DialRabbit(cfg.AMQPURL, cfg.Exchange)
	if err != nil {
		return nil, nil, err
	}
	return p, p.Close, nil
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	db, err := openStore(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Database.Driver, err)
	}
	defer db.close()
	logger.Info("store ready", "driver", cfg.Database.Driver)

	metrics := api.NewMetrics()
	opts := []ledger.Option{
		ledger.WithLogger(logger.With("component", "ledger")),
		ledger.WithRetryPolicy(ledger.RetryPolicy{
			Attempts:  cfg.Ledger.RetryAttempts,
			BaseDelay: cfg.Ledger.RetryBaseDelay,
			MaxDelay:  ledger.DefaultRetryPolicy.MaxDelay,
		}),
	}

	if cfg.Events.Enabled {
		pub, closePub, err := openPublisher(cfg.Events, logger)
		if err != nil {
			return fmt.Errorf("open event publisher: %w", err)
		}
		defer closePub()

		dispatcher := notify.NewDispatcher(pub, notify.Options{
			BufferSize:     cfg.Events.BufferSize,
			PublishTimeout: cfg.Events.PublishTimeout,
			Logger:         logger,
		})
		dispatcher.Start()
		defer dispatcher.Stop()
		metrics.WatchDispatcher(dispatcher)
		opts = append(opts, ledger.WithEventSink(dispatcher))
	}

	engine := ledger.New(db.store, opts...)
	handler := api.NewHandler(engine, metrics, logger.With("component", "api"))
	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Auth:           api.NewActorResolver(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer),
		Health:         db.health,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}
