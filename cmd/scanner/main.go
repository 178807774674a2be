// Command scanner walks the platform's global match sequence and feeds every
// sighted match into the ingest pipeline. Runs as the primary cursor-owning
// instance by default; set SCANNER_SECONDARY=true for a gap-filling replica.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/matchforge-io/matchforge/internal/cache"
	"github.com/matchforge-io/matchforge/internal/colstore"
	"github.com/matchforge-io/matchforge/internal/config"
	"github.com/matchforge-io/matchforge/internal/ingest"
	"github.com/matchforge-io/matchforge/internal/platform"
	"github.com/matchforge-io/matchforge/internal/queue"
	"github.com/matchforge-io/matchforge/internal/scanner"
	"github.com/matchforge-io/matchforge/internal/storage"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
	}))

	if err := run(logger); err != nil {
		logger.Error("scanner exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cacheStore, err := cache.NewRedisStore(cache.LoadConfig())
	if err != nil {
		return err
	}

	defer func() {
		_ = cacheStore.Close()
	}()

	columns, err := colstore.NewCassandraStore(colstore.LoadConfig(), logger)
	if err != nil {
		return err
	}

	defer func() {
		_ = columns.Close()
	}()

	storageCfg := storage.LoadConfig()
	logger.Info("connecting relational store", slog.String("database_url", storageCfg.MaskDatabaseURL()))

	conn, err := storage.NewConnection(storageCfg)
	if err != nil {
		return err
	}

	defer func() {
		_ = conn.Close()
	}()

	store, err := storage.NewMatchStore(conn, logger)
	if err != nil {
		return err
	}

	client, err := platform.NewClient(platform.LoadClientConfig())
	if err != nil {
		return err
	}

	producer := queue.NewKafkaProducer(queue.LoadConfig(), logger)

	defer func() {
		_ = producer.Close()
	}()

	counter := cache.NewCounter(cacheStore, logger)
	engine := ingest.NewEngine(ingest.LoadConfig(), store, columns, cacheStore, counter, producer, logger)

	s := scanner.New(scanner.LoadConfig(), client, cacheStore, counter, engine, logger)

	err = s.Run(ctx)

	logger.Info("scanner stopped")

	return err
}
