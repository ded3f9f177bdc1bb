/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the production ledger server. Handles
  configuration, store selection, dependency injection, and graceful
  shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, then flags)
  2. Build the logger
  3. Open the store selected by STORE_DRIVER
  4. Connect Redis for the batch lock, if REDIS_ADDR is set
  5. Create engine, handler and router
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS (override the environment):
  -port    HTTP server port
  -db      SQLite database path; ":memory:" for an in-memory database
  -driver  Store driver: sqlite, postgres or memory

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close store and Redis connections
  4. Exit

EXAMPLES:
  ./server -db="./data/production.db"
  STORE_DRIVER=postgres DATABASE_URL=postgres://... ./server
  REDIS_ADDR=localhost:6379 ./server -port=3000

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/warp/production-ledger/api"
	"github.com/warp/production-ledger/config"
	"github.com/warp/production-ledger/lock"
	"github.com/warp/production-ledger/production"
	"github.com/warp/production-ledger/production/store"
	"github.com/warp/production-ledger/store/postgres"
	"github.com/warp/production-ledger/store/sqlite"
)

// backend is what every store driver provides.
type backend interface {
	production.TxStore
	production.CatalogStore
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Flags
	port := flag.String("port", cfg.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.SQLitePath, "SQLite database path")
	driver := flag.String("driver", cfg.StoreDriver, "Store driver (sqlite, postgres, memory)")
	flag.Parse()
	cfg.Port, cfg.SQLitePath, cfg.StoreDriver = *port, *dbPath, *driver

	logger := config.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}

	ctx := context.Background()

	// Initialize store
	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		config.LogError(logger, "main", "openStore", "store initialisation", cfg.StoreDriver, err)
		os.Exit(1)
	}
	defer closeStore()

	opts := []production.Option{production.WithLogger(logger)}

	// Batch lock: Redis across instances, in-process otherwise
	if cfg.RedisAddr == "" {
		opts = append(opts, production.WithLocker(production.NewLocalLocker()))
	} else {
		rdb, err := lock.Connect(ctx, cfg.RedisAddr)
		if err != nil {
			config.LogError(logger, "main", "lock.Connect", "redis connection", cfg.RedisAddr, err)
			os.Exit(1)
		}
		defer rdb.Close()
		opts = append(opts, production.WithLocker(lock.NewRedis(rdb, cfg.LockTTL, logger)))
		logger.WithField("addr", cfg.RedisAddr).Info("Redis batch lock enabled")
	}

	engine := production.NewEngine(st, st, opts...)
	handler := api.NewHandler(engine, st, st, logger)
	router := api.NewRouter(handler, cfg.AllowedOrigins)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.WithFields(logrus.Fields{
			"port":   cfg.Port,
			"driver": cfg.StoreDriver,
		}).Info("Server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	logger.Info("Server stopped")
}

func openStore(ctx context.Context, cfg *config.Config) (backend, func(), error) {
	switch cfg.StoreDriver {
	case config.DriverMemory:
		return store.NewMemory(), func() {}, nil
	case config.DriverPostgres:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		s, err := postgres.New(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		return s, pool.Close, nil
	default:
		s, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		return s, func() { s.Close() }, nil
	}
}
