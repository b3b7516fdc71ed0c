// Package storagecoord implements the Storage Coordinator: a priority-
// ordered, batched fan-out of persisted messages across the Durable Log
// (critical), the Archive, and the Memory Manager, per spec.md §4.2.
//
// Grounded on internal/sefii/engine.go's execWithRetry (N attempts,
// growing backoff around a single DB write) for the bounded-retry shape,
// generalised here via cenkalti/backoff/v5 and applied only to the
// priority-1 layer per spec.md §4.2's "only priority-1 failures propagate"
// rule. The 3-tier fan-out itself is original composition: no single
// teacher file fans one write out to three heterogeneous stores.
package storagecoord

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/ubix08/orix/internal/config"
	"github.com/ubix08/orix/internal/observability"
)

// Message is one persisted unit of conversation, as handed to the
// coordinator by the Session Executor.
type Message struct {
	SessionID string
	Role      string
	Content   string
	Timestamp time.Time
	Tokens    *int

	// Priority puts the coordinator into priority-write mode for this
	// enqueue: the batch flushes immediately regardless of batchSize,
	// per spec.md §4.2.
	Priority bool
}

// Layer is a single storage tier's write contract, per spec.md §4.2.
type Layer interface {
	Write(ctx context.Context, msgs []Message) error
}

// PersistenceError is returned when the critical (priority-1) layer fails
// after exhausting its retries; the caller's batch has been requeued.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string { return fmt.Sprintf("storagecoord: persistence: %v", e.Err) }
func (e *PersistenceError) Unwrap() error { return e.Err }

// Coordinator fans messages out to its layers in priority order, batching
// by size or time, per spec.md §4.2.
type Coordinator struct {
	critical Layer // priority 1: Durable Log
	archive  Layer // priority 2: Archive
	memory   Layer // priority 3: Memory Manager

	batchSize     int
	flushInterval time.Duration
	maxRetries    int

	mu      sync.Mutex
	queue   []Message
	timer   *time.Timer
	flushMu sync.Mutex // serialises actual flush execution
}

// New constructs a Coordinator over the three priority layers.
func New(cfg config.StorageCoordinatorConfig, critical, archive, memory Layer) *Coordinator {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 10
	}
	flushInterval := time.Duration(cfg.FlushIntervalS) * time.Second
	if flushInterval <= 0 {
		flushInterval = 2 * time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Coordinator{
		critical:      critical,
		archive:       archive,
		memory:        memory,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		maxRetries:    maxRetries,
	}
}

// SaveMessage enqueues msg, triggering an immediate flush once the queue
// reaches batchSize or msg puts the coordinator into priority-write mode,
// or arming a single flush timer otherwise.
func (c *Coordinator) SaveMessage(ctx context.Context, msg Message) error {
	c.mu.Lock()
	c.queue = append(c.queue, msg)
	full := len(c.queue) >= c.batchSize || msg.Priority
	if full {
		if c.timer != nil {
			c.timer.Stop()
			c.timer = nil
		}
	} else if c.timer == nil {
		c.timer = time.AfterFunc(c.flushInterval, func() { c.flush(context.Background()) })
	}
	c.mu.Unlock()

	if full {
		return c.flush(ctx)
	}
	return nil
}

// flush drains the queue and writes the batch to each layer in priority
// order. Only a priority-1 failure is returned to the caller; the batch is
// pushed back to the head of the queue so a subsequent flush retries it in
// order. flushMu ensures only one flush runs at a time; a caller arriving
// while a flush runs has already taken effect in the queue for the next
// flush, per spec.md §4.2.
func (c *Coordinator) flush(ctx context.Context) error {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	c.mu.Lock()
	batch := c.queue
	c.queue = nil
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	log := observability.LoggerWithTrace(ctx)

	if err := c.writeWithRetry(ctx, c.critical, batch); err != nil {
		c.mu.Lock()
		c.queue = append(batch, c.queue...)
		c.mu.Unlock()
		log.Error().Err(err).Int("batch_size", len(batch)).Msg("storagecoord_critical_write_failed")
		return &PersistenceError{Err: err}
	}

	if err := c.archive.Write(ctx, batch); err != nil {
		log.Error().Err(err).Msg("storagecoord_archive_write_failed")
	}
	if err := c.memory.Write(ctx, batch); err != nil {
		log.Error().Err(err).Msg("storagecoord_memory_write_failed")
	}
	return nil
}

// writeWithRetry wraps the critical layer's write in bounded exponential
// backoff, per spec.md §4.2's "priority 1 uses bounded retry" rule.
func (c *Coordinator) writeWithRetry(ctx context.Context, layer Layer, batch []Message) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Second

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, layer.Write(ctx, batch)
	}, backoff.WithBackOff(policy), backoff.WithMaxTries(uint(c.maxRetries)))
	return err
}

// Flush forces an out-of-band flush, used by the /api/sync admin endpoint
// so queued messages don't wait out the idle timer.
func (c *Coordinator) Flush(ctx context.Context) error {
	return c.flush(ctx)
}

// QueueDepth reports the number of messages currently buffered awaiting a
// flush, for the /api/status admin endpoint.
func (c *Coordinator) QueueDepth() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}
