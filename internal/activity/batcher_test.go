package activity

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/filterx/internal/logging"
	"github.com/runnerr0/filterx/internal/storage"
)

type fakeSink struct {
	mu      sync.Mutex
	batches []storage.Batch
	err     error
}

func (f *fakeSink) AppendActivity(ctx context.Context, b storage.Batch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.batches = append(f.batches, b)
	return nil
}

func (f *fakeSink) snapshot() []storage.Batch {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]storage.Batch, len(f.batches))
	copy(out, f.batches)
	return out
}

func newTestBatcher(sink Sink, opts ...BatcherOption) *Batcher {
	base := []BatcherOption{WithFlushDelay(30 * time.Millisecond), WithLogger(logging.Discard())}
	return NewBatcher(sink, append(base, opts...)...)
}

func TestTally(t *testing.T) {
	tests := []struct {
		action  string
		blocked bool
		blurred bool
	}{
		{"Image blocked", true, false},
		{"URL blocked", true, false},
		{"Text blurred", false, true},
		{"Image allowed", false, false},
		{"blocked and blurred", true, false},
	}
	for _, tt := range tests {
		t.Run(tt.action, func(t *testing.T) {
			blocked, blurred := Tally(tt.action)
			assert.Equal(t, tt.blocked, blocked)
			assert.Equal(t, tt.blurred, blurred)
		})
	}
}

func TestBatcher_RecordsInOneWindowFlushOnce(t *testing.T) {
	sink := &fakeSink{}
	b := newTestBatcher(sink)

	actions := []string{"Image blocked", "Text blurred", "URL allowed", "Image allowed", "Image blocked"}
	for _, a := range actions {
		b.Record(a)
	}

	require.Eventually(t, func() bool { return len(sink.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	// No second flush for the same window.
	time.Sleep(60 * time.Millisecond)
	batches := sink.snapshot()
	require.Len(t, batches, 1)

	got := batches[0]
	assert.NotEmpty(t, got.ID)
	require.Len(t, got.Entries, len(actions))
	for i, a := range actions {
		assert.Equal(t, a, got.Entries[i].Action, "insertion order kept")
	}
	assert.Equal(t, storage.StatsDelta{Blocked: 2, Blurred: 1, Total: 5}, got.Delta)
	assert.Zero(t, b.Pending())
}

func TestBatcher_EmptyFlushDoesNotWrite(t *testing.T) {
	sink := &fakeSink{}
	b := newTestBatcher(sink)

	require.NoError(t, b.Flush(context.Background()))
	assert.Empty(t, sink.snapshot())
}

func TestBatcher_ManualFlushCancelsTimer(t *testing.T) {
	sink := &fakeSink{}
	b := newTestBatcher(sink)

	b.Record("Image blocked")
	require.NoError(t, b.Flush(context.Background()))
	time.Sleep(80 * time.Millisecond)

	assert.Len(t, sink.snapshot(), 1)
}

func TestBatcher_NewWindowAfterFlush(t *testing.T) {
	sink := &fakeSink{}
	b := newTestBatcher(sink)

	b.Record("Image blocked")
	require.Eventually(t, func() bool { return len(sink.snapshot()) == 1 }, time.Second, 5*time.Millisecond)

	b.Record("Text allowed")
	require.Eventually(t, func() bool { return len(sink.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "Text allowed", sink.snapshot()[1].Entries[0].Action)
}

func TestBatcher_PersistenceFailureReportedAndDropped(t *testing.T) {
	sink := &fakeSink{err: errors.New("disk full")}
	var reported []error
	var mu sync.Mutex
	b := newTestBatcher(sink, WithErrorReporter(func(err error) {
		mu.Lock()
		reported = append(reported, err)
		mu.Unlock()
	}))

	b.Record("Image blocked")
	err := b.Flush(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPersistence)
	assert.Contains(t, err.Error(), "disk full")

	mu.Lock()
	assert.Len(t, reported, 1)
	mu.Unlock()

	// At-most-once: the failed entries are gone.
	sink.mu.Lock()
	sink.err = nil
	sink.mu.Unlock()
	require.NoError(t, b.Flush(context.Background()))
	assert.Empty(t, sink.snapshot())
}

func TestBatcher_CloseFlushesAndDropsLaterRecords(t *testing.T) {
	sink := &fakeSink{}
	b := newTestBatcher(sink, WithFlushDelay(time.Hour))

	b.Record("URL blocked")
	require.NoError(t, b.Close(context.Background()))
	b.Record("URL allowed")

	batches := sink.snapshot()
	require.Len(t, batches, 1)
	assert.Len(t, batches[0].Entries, 1)
	assert.Zero(t, b.Pending())
}

func TestBatcher_UsesClock(t *testing.T) {
	sink := &fakeSink{}
	fixed := time.UnixMilli(1_700_000_000_000)
	b := newTestBatcher(sink, WithClock(func() time.Time { return fixed }))

	b.Record("Image allowed")
	require.NoError(t, b.Flush(context.Background()))
	assert.Equal(t, fixed, sink.snapshot()[0].Entries[0].Timestamp)
}

func TestBatcher_FlushIntoSQLite(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:?_foreign_keys=on")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, storage.NewMigrationRunner(db).Run())
	store, err := storage.NewSQLiteStore(db)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	b := newTestBatcher(store)
	for i := 0; i < 7; i++ {
		b.Record("Image blocked")
	}
	b.Record("Text blurred")
	b.Record("URL allowed")
	require.NoError(t, b.Flush(context.Background()))

	stats, err := store.GetStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(9), stats.Total)
	assert.Equal(t, int64(7), stats.Blocked)
	assert.Equal(t, int64(1), stats.Blurred)
	assert.Equal(t, int64(9), stats.LogEntries)
}
