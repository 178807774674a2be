package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"

	"github.com/matchforge-io/matchforge/internal/config"
)

const (
	defaultTopicPrefix  = "matchforge."
	defaultBatchTimeout = 20 * time.Millisecond
	defaultMaxAttempts  = 3
	maxFetchBytes       = 10 << 20
)

// Config holds broker connection settings shared by producers and consumers.
type Config struct {
	Brokers      []string
	TopicPrefix  string
	GroupID      string
	BatchTimeout time.Duration
	MaxAttempts  int
}

// LoadConfig loads queue configuration from environment variables with
// fallback to defaults.
func LoadConfig() *Config {
	return &Config{
		Brokers:      config.ParseCommaSeparatedList(config.GetEnvStr("KAFKA_BROKERS", "localhost:9092")),
		TopicPrefix:  config.GetEnvStr("KAFKA_TOPIC_PREFIX", defaultTopicPrefix),
		GroupID:      config.GetEnvStr("KAFKA_GROUP_ID", "matchforge-worker"),
		BatchTimeout: config.GetEnvDuration("KAFKA_BATCH_TIMEOUT", defaultBatchTimeout),
		MaxAttempts:  config.GetEnvInt("KAFKA_MAX_ATTEMPTS", defaultMaxAttempts),
	}
}

// Topic returns the topic name for a job kind.
func (c *Config) Topic(kind Kind) string {
	return c.TopicPrefix + string(kind)
}

// KafkaProducer publishes jobs to per-kind topics through shared writers.
type KafkaProducer struct {
	cfg     *Config
	logger  *slog.Logger
	now     func() time.Time
	mu      sync.Mutex
	writers map[Kind]*kafka.Writer
	closed  bool
}

// Compile-time interface compliance check.
var _ Producer = (*KafkaProducer)(nil)

// NewKafkaProducer creates a producer for the configured brokers. Writers are
// created lazily per kind.
func NewKafkaProducer(cfg *Config, logger *slog.Logger) *KafkaProducer {
	return &KafkaProducer{
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "queue")),
		now:     time.Now,
		writers: make(map[Kind]*kafka.Writer),
	}
}

// Enqueue publishes one job on the kind's topic.
func (p *KafkaProducer) Enqueue(ctx context.Context, kind Kind, payload any, opts ...EnqueueOption) error {
	writer, err := p.writer(kind)
	if err != nil {
		return err
	}

	env, err := seal(kind, payload, p.now(), opts...)
	if err != nil {
		return err
	}

	value, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode %s envelope: %w", kind, err)
	}

	msg := kafka.Message{Value: value}
	if k, ok := payload.(keyer); ok {
		msg.Key = []byte(k.PartitionKey())
	}

	if err := writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("enqueue %s job: %w", kind, err)
	}

	return nil
}

func (p *KafkaProducer) writer(kind Kind) (*kafka.Writer, error) {
	if !validKind(kind) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrProducerClosed
	}

	w, ok := p.writers[kind]
	if !ok {
		w = &kafka.Writer{
			Addr:         kafka.TCP(p.cfg.Brokers...),
			Topic:        p.cfg.Topic(kind),
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: p.cfg.BatchTimeout,
		}
		p.writers[kind] = w
	}

	return w, nil
}

// Close flushes and closes every writer. Safe to call multiple times.
func (p *KafkaProducer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}

	p.closed = true

	var errs []error

	for kind, w := range p.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s writer: %w", kind, err))
		}
	}

	return errors.Join(errs...)
}

func validKind(kind Kind) bool {
	for _, k := range Kinds {
		if k == kind {
			return true
		}
	}

	return false
}

// HandlerFunc processes one delivered envelope. A returned error triggers a
// re-enqueue until the attempt budget is spent.
type HandlerFunc func(ctx context.Context, env *Envelope) error

// Consumer reads one kind's topic with a worker pool and dispatches each job
// to a handler.
type Consumer struct {
	kind    Kind
	cfg     *Config
	reader  *kafka.Reader
	retry   Producer
	handler HandlerFunc
	logger  *slog.Logger
}

// NewConsumer creates a consumer for one job kind. The retry producer may be
// nil, in which case failed jobs are dropped after logging.
func NewConsumer(cfg *Config, kind Kind, handler HandlerFunc, retry Producer, logger *slog.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic(kind),
		MaxBytes: maxFetchBytes,
	})

	return &Consumer{
		kind:    kind,
		cfg:     cfg,
		reader:  reader,
		retry:   retry,
		handler: handler,
		logger:  logger.With(slog.String("component", "queue"), slog.String("kind", string(kind))),
	}
}

// Run processes jobs with the given number of workers until the context is
// cancelled.
func (c *Consumer) Run(ctx context.Context, workers int) error {
	if workers < 1 {
		workers = 1
	}

	group, ctx := errgroup.WithContext(ctx)

	for i := 0; i < workers; i++ {
		group.Go(func() error {
			return c.work(ctx)
		})
	}

	err := group.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}

func (c *Consumer) work(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			return err
		}

		c.dispatch(ctx, msg.Value)

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			return fmt.Errorf("commit %s offset: %w", c.kind, err)
		}
	}
}

func (c *Consumer) dispatch(ctx context.Context, value []byte) {
	var env Envelope
	if err := json.Unmarshal(value, &env); err != nil {
		c.logger.Error("dropping undecodable job", slog.String("error", err.Error()))

		return
	}

	if err := c.handler(ctx, &env); err != nil {
		c.requeue(ctx, &env, err)
	}
}

func (c *Consumer) requeue(ctx context.Context, env *Envelope, cause error) {
	attempts := env.Attempts + 1

	if c.retry == nil || attempts >= c.cfg.MaxAttempts {
		c.logger.Error("job failed permanently",
			slog.Int("attempts", attempts),
			slog.String("error", cause.Error()))

		return
	}

	c.logger.Warn("job failed, re-enqueueing",
		slog.Int("attempts", attempts),
		slog.String("error", cause.Error()))

	err := c.retry.Enqueue(ctx, env.Kind, json.RawMessage(env.Payload),
		WithAttempts(attempts), WithPriority(env.Priority))
	if err != nil {
		c.logger.Error("re-enqueue failed", slog.String("error", err.Error()))
	}
}

// Close closes the underlying reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
