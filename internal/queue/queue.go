// Package queue provides the job transport between pipeline stages. Each job
// kind has its own topic and its own typed payload; the envelope carries the
// delivery metadata shared by all kinds.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Kind identifies a job stream. Each kind maps to one topic.
type Kind string

// Job kinds.
const (
	// KindParse requests replay parsing for a match.
	KindParse Kind = "parse"

	// KindGcData requests supplemental data retrieval for a match.
	KindGcData Kind = "gcdata"

	// KindRatingSample requests a rating recalculation for one player.
	KindRatingSample Kind = "rating"

	// KindProfileRefresh requests a profile refresh for one player.
	KindProfileRefresh Kind = "profile"

	// KindBenchmarkSample requests benchmark sampling for a match.
	KindBenchmarkSample Kind = "benchmark"

	// KindTeamScenario requests scenario aggregation for a parsed pro match.
	KindTeamScenario Kind = "scenario"
)

// Kinds lists every job kind, in consumer startup order.
var Kinds = []Kind{
	KindParse,
	KindGcData,
	KindRatingSample,
	KindProfileRefresh,
	KindBenchmarkSample,
	KindTeamScenario,
}

// Sentinel errors for queue operations.
var (
	// ErrUnknownKind is returned when a job kind has no registered topic.
	ErrUnknownKind = errors.New("unknown job kind")

	// ErrProducerClosed is returned when enqueueing after Close.
	ErrProducerClosed = errors.New("producer is closed")
)

// Envelope wraps every queued payload with delivery metadata.
type Envelope struct {
	Kind       Kind            `json:"kind"`
	Attempts   int             `json:"attempts"`
	Priority   int             `json:"priority"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	Payload    json.RawMessage `json:"payload"`
}

// Decode unmarshals the envelope payload into its typed job.
func Decode[T any](env *Envelope) (*T, error) {
	var job T
	if err := json.Unmarshal(env.Payload, &job); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", env.Kind, err)
	}

	return &job, nil
}

// EnqueueOption customizes one enqueued job.
type EnqueueOption func(*Envelope)

// WithPriority sets the job priority. Higher runs sooner where a consumer
// honors it.
func WithPriority(priority int) EnqueueOption {
	return func(env *Envelope) {
		env.Priority = priority
	}
}

// WithAttempts sets the delivery attempt counter, used when re-enqueueing a
// failed job.
func WithAttempts(attempts int) EnqueueOption {
	return func(env *Envelope) {
		env.Attempts = attempts
	}
}

// Producer enqueues typed jobs.
type Producer interface {
	// Enqueue publishes one job on the kind's topic.
	Enqueue(ctx context.Context, kind Kind, payload any, opts ...EnqueueOption) error

	// Close flushes and releases the underlying writers.
	Close() error
}

// keyer lets payloads choose their partition key. Jobs for the same entity
// stay ordered relative to each other.
type keyer interface {
	PartitionKey() string
}

// seal builds the envelope for one payload.
func seal(kind Kind, payload any, now time.Time, opts ...EnqueueOption) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", kind, err)
	}

	env := &Envelope{
		Kind:       kind,
		EnqueuedAt: now,
		Payload:    raw,
	}

	for _, opt := range opts {
		opt(env)
	}

	return env, nil
}
