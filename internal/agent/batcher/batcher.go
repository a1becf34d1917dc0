// Package batcher accumulates log records and flushes them to the
// transmitter by size or time threshold, whichever is reached first.
package batcher

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pterm/pterm"

	"logship/internal/database/models"
)

// Transmitter sends one batch. An error (including a refusal while the
// circuit is open) means the batch was not delivered and must be retained.
type Transmitter interface {
	Send(ctx context.Context, batch []models.LogRecord) error
}

const (
	DefaultMaxBatchSize  = 10
	DefaultFlushInterval = 10 * time.Second
)

// Batcher buffers records under a mutex and flushes a swapped copy on a
// worker goroutine, so producers never block on network I/O. Undelivered
// batches are re-queued at the front of the buffer and retried on the next
// flush tick; records are never dropped because the circuit is open.
type Batcher struct {
	maxSize  int
	interval time.Duration
	tx       Transmitter
	clock    clockwork.Clock
	logger   *pterm.Logger

	mu      sync.Mutex
	buf     []models.LogRecord
	sending sync.WaitGroup
}

// New creates a batcher. Zero maxSize or interval fall back to defaults.
func New(tx Transmitter, maxSize int, interval time.Duration, clock clockwork.Clock, logger *pterm.Logger) *Batcher {
	if maxSize <= 0 {
		maxSize = DefaultMaxBatchSize
	}
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	return &Batcher{
		maxSize:  maxSize,
		interval: interval,
		tx:       tx,
		clock:    clock,
		logger:   logger,
	}
}

// Add appends a record and flushes when the size threshold is reached.
func (b *Batcher) Add(record models.LogRecord) {
	b.mu.Lock()
	b.buf = append(b.buf, record)
	if len(b.buf) >= b.maxSize {
		b.flushLocked()
	}
	b.mu.Unlock()
}

// Flush sends any buffered records immediately.
func (b *Batcher) Flush() {
	b.mu.Lock()
	if len(b.buf) > 0 {
		b.flushLocked()
	}
	b.mu.Unlock()
}

// Pending returns the number of buffered (not yet handed off) records.
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf)
}

// flushLocked swaps the buffer and hands the copy to a sender goroutine.
// Caller must hold b.mu.
func (b *Batcher) flushLocked() {
	batch := b.buf
	b.buf = nil
	b.sending.Add(1)
	go b.send(batch)
}

func (b *Batcher) send(batch []models.LogRecord) {
	defer b.sending.Done()

	if err := b.tx.Send(context.Background(), batch); err != nil {
		b.logger.Warn("Batch not delivered, retaining for retry",
			b.logger.Args("count", len(batch), "error", err))
		b.mu.Lock()
		b.buf = append(batch, b.buf...)
		b.mu.Unlock()
		return
	}

	b.logger.Debug("Batch transmitted", b.logger.Args("count", len(batch)))
}

// Run drives the periodic flush until the context is cancelled, then
// performs a final flush and waits for in-flight sends.
func (b *Batcher) Run(ctx context.Context) {
	ticker := b.clock.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.Flush()
			b.sending.Wait()
			return
		case <-ticker.Chan():
			b.Flush()
		}
	}
}
