package queue

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryProducer is an in-memory Producer for tests. It records every sealed
// envelope per kind.
type MemoryProducer struct {
	mu     sync.Mutex
	now    func() time.Time
	jobs   map[Kind][]Envelope
	closed bool
}

// Compile-time interface compliance check.
var _ Producer = (*MemoryProducer)(nil)

// NewMemoryProducer creates an empty in-memory producer.
func NewMemoryProducer() *MemoryProducer {
	return &MemoryProducer{
		now:  time.Now,
		jobs: make(map[Kind][]Envelope),
	}
}

// Enqueue records one job.
func (p *MemoryProducer) Enqueue(_ context.Context, kind Kind, payload any, opts ...EnqueueOption) error {
	if !validKind(kind) {
		return fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}

	env, err := seal(kind, payload, p.now(), opts...)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrProducerClosed
	}

	p.jobs[kind] = append(p.jobs[kind], *env)

	return nil
}

// Jobs returns the recorded envelopes for one kind, in enqueue order.
func (p *MemoryProducer) Jobs(kind Kind) []Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]Envelope(nil), p.jobs[kind]...)
}

// Reset clears all recorded jobs.
func (p *MemoryProducer) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.jobs = make(map[Kind][]Envelope)
}

// Close marks the producer closed. Safe to call multiple times.
func (p *MemoryProducer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true

	return nil
}
