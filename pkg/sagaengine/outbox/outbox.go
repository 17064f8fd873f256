// Package outbox implements the transactional-outbox-to-queue bridge (C5):
// a fallback polling loop that re-enqueues rows a DB trigger failed to
// deliver, plus the acknowledgement path that marks a row delivered.
package outbox

import (
	"context"
	"sync"
	"time"

	"github.com/randalmurphal/sagaengine/pkg/sagaengine/queue"
)

// RowStatus tracks delivery of one outbox row.
type RowStatus string

const (
	StatusPending   RowStatus = "pending"
	StatusDelivered RowStatus = "delivered"
)

// Row is one outbox entry: a business transaction committed it in the same
// DB transaction as its domain change, and it now needs to reach the queue.
type Row struct {
	OutboxID    string
	ExecutionID string
	EventType   string
	Payload     []byte
	Status      RowStatus
	CreatedAt   time.Time
}

// Store is the outbox table contract. A real deployment backs this with
// the same transactional database the business write used, so relay and
// business-write commit atomically; tests use MemoryStore.
type Store interface {
	ListPending(ctx context.Context, limit int) ([]Row, error)
	MarkDelivered(ctx context.Context, outboxID string) error
}

// Config controls where pending rows get published and how often the
// fallback poller runs.
type Config struct {
	QueueURL     string
	PollInterval time.Duration // default 5s (spec §4.5: "≥ every 5s in development")
	BatchSize    int           // default 10
}

// DefaultConfig matches spec §4.5's stated development cadence.
var DefaultConfig = Config{
	PollInterval: 5 * time.Second,
	BatchSize:    10,
}

// Relay bridges outbox rows to the queue driver, both via the fallback
// poller and an on-demand Drain call the outbox-relay HTTP endpoint uses
// to flush immediately after a trigger-driven publish attempt.
type Relay struct {
	store  Store
	driver queue.Driver
	cfg    Config

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

// New builds a Relay. cfg's zero-valued fields fall back to DefaultConfig.
func New(store Store, driver queue.Driver, cfg Config) *Relay {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig.PollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig.BatchSize
	}
	return &Relay{store: store, driver: driver, cfg: cfg, stopCh: make(chan struct{})}
}

// Start launches the fallback poll loop in the background. Calling Start
// twice without an intervening Stop is a no-op.
func (r *Relay) Start(ctx context.Context) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.stopCh = make(chan struct{})
	r.mu.Unlock()

	go r.run(ctx)
}

// Stop halts the poll loop.
func (r *Relay) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return
	}
	close(r.stopCh)
	r.running = false
}

func (r *Relay) run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.Drain(ctx)
		}
	}
}

// Drain publishes up to BatchSize pending rows and marks each delivered on
// success; rows beyond the batch wait for the next pass.
// Publish failures are left pending for the next poll; the relay never
// retries synchronously within one pass.
func (r *Relay) Drain(ctx context.Context) int {
	rows, err := r.store.ListPending(ctx, r.cfg.BatchSize)
	if err != nil {
		return 0
	}

	delivered := 0
	for _, row := range rows {
		_, err := r.driver.Publish(ctx, queue.Message{URL: r.cfg.QueueURL, Body: row.Payload})
		if err != nil {
			continue
		}
		if err := r.store.MarkDelivered(ctx, row.OutboxID); err == nil {
			delivered++
		}
	}
	return delivered
}

// Ack marks outboxID delivered directly; the outbox-relay HTTP endpoint
// calls this when the queue acknowledges a trigger-driven publish without
// waiting for the next poll.
func (r *Relay) Ack(ctx context.Context, outboxID string) error {
	return r.store.MarkDelivered(ctx, outboxID)
}
