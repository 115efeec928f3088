// Package activity batches activity-log writes and prunes old entries.
package activity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/runnerr0/filterx/internal/storage"
)

// DefaultFlushDelay is the batching window after the first pending record.
const DefaultFlushDelay = 1500 * time.Millisecond

// ErrPersistence wraps a failed batch write. The batch is dropped.
var ErrPersistence = errors.New("activity persistence failed")

// Sink persists one flushed batch.
type Sink interface {
	AppendActivity(ctx context.Context, batch storage.Batch) error
}

// BatcherOption configures a Batcher.
type BatcherOption func(*Batcher)

// WithFlushDelay sets the batching window.
func WithFlushDelay(d time.Duration) BatcherOption {
	return func(b *Batcher) {
		if d > 0 {
			b.delay = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) BatcherOption {
	return func(b *Batcher) { b.logger = l }
}

// WithErrorReporter receives every persistence failure.
func WithErrorReporter(fn func(error)) BatcherOption {
	return func(b *Batcher) { b.report = fn }
}

// WithWriteTimeout bounds timer-triggered writes.
func WithWriteTimeout(d time.Duration) BatcherOption {
	return func(b *Batcher) { b.writeTimeout = d }
}

// WithClock overrides time.Now for entry timestamps.
func WithClock(now func() time.Time) BatcherOption {
	return func(b *Batcher) { b.now = now }
}

// Batcher buffers activity-log lines and writes them in one batch a short
// while after the first one arrives. Delivery is at most once: a batch that
// fails to persist is reported and dropped.
type Batcher struct {
	sink         Sink
	delay        time.Duration
	writeTimeout time.Duration
	logger       *slog.Logger
	report       func(error)
	now          func() time.Time

	mu      sync.Mutex
	pending []storage.LogEntry
	timer   *time.Timer
	closed  bool

	// serializes writes so batches reach the sink in order
	flushMu sync.Mutex
}

// NewBatcher creates a batcher writing to sink.
func NewBatcher(sink Sink, opts ...BatcherOption) *Batcher {
	b := &Batcher{
		sink:         sink,
		delay:        DefaultFlushDelay,
		writeTimeout: 10 * time.Second,
		logger:       slog.Default(),
		report:       func(error) {},
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Record appends an action line and schedules a flush if none is pending.
// Records after Close are dropped.
func (b *Batcher) Record(action string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		b.logger.Debug("activity record after close dropped", "action", action)
		return
	}
	b.pending = append(b.pending, storage.LogEntry{Action: action, Timestamp: b.now()})
	if b.timer == nil {
		b.timer = time.AfterFunc(b.delay, b.flushFromTimer)
	}
}

// Pending returns the number of buffered entries.
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

func (b *Batcher) flushFromTimer() {
	ctx, cancel := context.WithTimeout(context.Background(), b.writeTimeout)
	defer cancel()
	_ = b.Flush(ctx)
}

// Flush writes everything buffered so far as one batch. It cancels any
// scheduled flush. An empty buffer performs no write.
func (b *Batcher) Flush(ctx context.Context) error {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.mu.Lock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	entries := b.pending
	b.pending = nil
	b.mu.Unlock()

	if len(entries) == 0 {
		return nil
	}

	batch := storage.Batch{
		ID:      uuid.NewString(),
		Entries: entries,
		Delta:   TallyAll(entries),
	}
	if err := b.sink.AppendActivity(ctx, batch); err != nil {
		err = fmt.Errorf("%w: batch %s (%d entries): %w", ErrPersistence, batch.ID, len(entries), err)
		b.logger.Error("activity flush failed, entries dropped", "batch", batch.ID, "entries", len(entries), "error", err)
		b.report(err)
		return err
	}
	b.logger.Debug("activity flushed", "batch", batch.ID, "entries", len(entries),
		"blocked", batch.Delta.Blocked, "blurred", batch.Delta.Blurred)
	return nil
}

// Close flushes what is buffered and drops later records.
func (b *Batcher) Close(ctx context.Context) error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return b.Flush(ctx)
}

// Tally classifies one action line. "blocked" wins over "blurred".
func Tally(action string) (blocked, blurred bool) {
	if strings.Contains(action, "blocked") {
		return true, false
	}
	return false, strings.Contains(action, "blurred")
}

// TallyAll computes the stats delta for a set of entries.
func TallyAll(entries []storage.LogEntry) storage.StatsDelta {
	var d storage.StatsDelta
	for _, e := range entries {
		d.Total++
		blocked, blurred := Tally(e.Action)
		if blocked {
			d.Blocked++
		} else if blurred {
			d.Blurred++
		}
	}
	return d
}
