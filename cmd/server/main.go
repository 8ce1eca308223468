/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the materials engine server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags and environment
  2. Open the primary store (sqlite or postgres)
  3. Open the snapshot backend (file, s3 or none)
  4. Wire the service, action broker, handler and router
  5. Start the broker's expiry sweeper
  6. Start the server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (default: 8080)
  -db      SQLite database path (default: materials.db)
           Use ":memory:" for an in-memory database
  -seed    Load the demo catalog at startup

ENVIRONMENT:
  MATERIALS_STORAGE_DRIVER   sqlite|postgres (default sqlite)
  MATERIALS_POSTGRES_DSN     connection string when driver=postgres
  MATERIALS_SNAPSHOT_DRIVER  file|s3|none (default file)
  MATERIALS_SNAPSHOT_FILE    export path when driver=file
  MATERIALS_SNAPSHOT_S3_*    bucket/key/region/endpoint for s3
  MATERIALS_LOG_LEVEL        trace|debug|info|warn|error (default info)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the expiry sweeper
  4. Close database connections
  5. Exit

EXAMPLES:
  # Run with file database and a seeded demo catalog
  ./server -db="./data/materials.db" -seed

  # Run against postgres with an S3 snapshot mirror
  MATERIALS_STORAGE_DRIVER=postgres \
  MATERIALS_POSTGRES_DSN="postgres://warp@localhost/materials" \
  MATERIALS_SNAPSHOT_DRIVER=s3 \
  MATERIALS_SNAPSHOT_S3_BUCKET=warp-materials ./server

SEE ALSO:
  - api/server.go: Router configuration
  - materials/service.go: The mutation engine wired here
  - snapshot/snapshot.go: Snapshot backend selection
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

	"github.com/rs/zerolog"

	"github.com/warp/materials-engine/agent"
	"github.com/warp/materials-engine/api"
	"github.com/warp/materials-engine/catalog"
	"github.com/warp/materials-engine/materials"
	"github.com/warp/materials-engine/snapshot"
	"github.com/warp/materials-engine/store/postgres"
	"github.com/warp/materials-engine/store/sqlite"
)

const sweepInterval = time.Minute

func main() {
	// Flags
	port := flag.Int("port", 8080, "HTTP server port")
	dbPath := flag.String("db", "materials.db", "SQLite database path")
	seed := flag.Bool("seed", false, "load the demo catalog at startup")
	flag.Parse()

	logger := newLogger()
	ctx := context.Background()

	// Primary store
	store, err := openStore(ctx, *dbPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open store")
	}
	defer store.Close()

	// Snapshot backend for the denormalized export
	snapshots, err := snapshot.Open(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open snapshot backend")
	}

	service := &materials.Service{
		Store:     store,
		Snapshots: snapshots,
		Log:       logger,
	}
	broker := &agent.Broker{Service: service, Log: logger}

	if *seed {
		if err := service.Import(ctx, api.DemoDocument()); err != nil {
			logger.Fatal().Err(err).Msg("failed to seed demo catalog")
		}
		logger.Info().Msg("demo catalog loaded")
	}

	broker.StartSweeper(sweepInterval)
	defer broker.StopSweeper()

	router := api.NewRouter(api.NewHandler(service, broker))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().Int("port", *port).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("server stopped")
}

// newLogger builds the process logger, honoring MATERIALS_LOG_LEVEL.
func newLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if raw := os.Getenv("MATERIALS_LOG_LEVEL"); raw != "" {
		if parsed, err := zerolog.ParseLevel(raw); err == nil {
			level = parsed
		}
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).
		With().
		Timestamp().
		Logger()
}

// openStore selects the primary store from MATERIALS_STORAGE_DRIVER.
func openStore(ctx context.Context, sqlitePath string) (catalog.Store, error) {
	driver := os.Getenv("MATERIALS_STORAGE_DRIVER")
	if driver == "" {
		driver = "sqlite"
	}
	switch driver {
	case "sqlite":
		return sqlite.New(sqlitePath)
	case "postgres":
		dsn := os.Getenv("MATERIALS_POSTGRES_DSN")
		if dsn == "" {
			return nil, fmt.Errorf("MATERIALS_POSTGRES_DSN required for postgres driver")
		}
		return postgres.New(ctx, dsn)
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}
