// Command worker runs the queue consumer pools: supplemental-data retrieval,
// benchmark sampling, profile refresh, and rating sampling. Worker counts are
// configured per pool to match the concurrency budget of the dependency each
// pool drives.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/matchforge-io/matchforge/internal/assembler"
	"github.com/matchforge-io/matchforge/internal/benchmark"
	"github.com/matchforge-io/matchforge/internal/cache"
	"github.com/matchforge-io/matchforge/internal/colstore"
	"github.com/matchforge-io/matchforge/internal/config"
	"github.com/matchforge-io/matchforge/internal/gcdata"
	"github.com/matchforge-io/matchforge/internal/ingest"
	"github.com/matchforge-io/matchforge/internal/platform"
	"github.com/matchforge-io/matchforge/internal/queue"
	"github.com/matchforge-io/matchforge/internal/storage"
)

// pool pairs one queue kind with its handler and worker count.
type pool struct {
	kind    queue.Kind
	handler queue.HandlerFunc
	workers int
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
	}))

	if err := run(logger); err != nil {
		logger.Error("worker exited", slog.String("error", err.Error()))
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

	queueCfg := queue.LoadConfig()
	producer := queue.NewKafkaProducer(queueCfg, logger)

	defer func() {
		_ = producer.Close()
	}()

	counter := cache.NewCounter(cacheStore, logger)
	engine := ingest.NewEngine(ingest.LoadConfig(), store, columns, cacheStore, counter, producer, logger)
	bench := benchmark.NewEngine(cacheStore, counter, logger)

	retrieverCfg := gcdata.LoadConfig()

	proxies, err := gcdata.LoadPool(retrieverCfg.PoolPath)
	if err != nil {
		return err
	}

	proxyPool, err := gcdata.NewPool(proxies)
	if err != nil {
		return err
	}

	retriever := gcdata.NewRetriever(retrieverCfg, proxyPool, cacheStore, counter, store, engine, logger)

	asm := assembler.New(assembler.LoadConfig(), columns, store, cacheStore, counter, bench, client, engine, logger)

	h := &handlers{
		assembler: asm,
		benchmark: bench,
		store:     store,
		cache:     cacheStore,
		logger:    logger,
	}

	pools := []pool{
		{queue.KindGcData, retriever.HandleJob, config.GetEnvInt("WORKER_GCDATA_WORKERS", proxyPool.Size())},
		{queue.KindBenchmarkSample, h.benchmarkSample, config.GetEnvInt("WORKER_BENCHMARK_WORKERS", 4)},
		{queue.KindProfileRefresh, h.profileRefresh, config.GetEnvInt("WORKER_PROFILE_WORKERS", 2)},
		{queue.KindRatingSample, h.ratingSample, config.GetEnvInt("WORKER_RATING_WORKERS", 2)},
	}

	group, ctx := errgroup.WithContext(ctx)

	for _, p := range pools {
		p := p
		consumer := queue.NewConsumer(queueCfg, p.kind, p.handler, producer, logger)

		defer func() {
			_ = consumer.Close()
		}()

		logger.Info("consumer pool starting",
			slog.String("kind", string(p.kind)),
			slog.Int("workers", p.workers))

		group.Go(func() error {
			return consumer.Run(ctx, p.workers)
		})
	}

	err = group.Wait()

	logger.Info("worker stopped")

	return err
}
