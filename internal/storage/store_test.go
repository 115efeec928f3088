package storage

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openTestStore creates a migrated in-memory Store for testing.
func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	db := openTestDB(t)
	require.NoError(t, NewMigrationRunner(db).Run())

	store, err := NewSQLiteStore(db)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return store
}

func batchOf(id string, base time.Time, actions ...string) Batch {
	b := Batch{ID: id}
	for i, a := range actions {
		b.Entries = append(b.Entries, LogEntry{Action: a, Timestamp: base.Add(time.Duration(i) * time.Millisecond)})
		b.Delta.Total++
		switch a {
		case "Image blocked", "URL blocked":
			b.Delta.Blocked++
		case "Text blurred":
			b.Delta.Blurred++
		}
	}
	return b
}

// --- Settings ---

func TestSettings_SetGetRoundtrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, ok, err := store.GetSetting(ctx, KeyAggressiveness)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.SetSetting(ctx, KeyAggressiveness, "light"))
	require.NoError(t, store.SetSetting(ctx, KeyAggressiveness, "aggressive"))

	v, ok, err := store.GetSetting(ctx, KeyAggressiveness)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "aggressive", v)

	all, err := store.Settings(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, KeyAggressiveness, all[0].Key)
	assert.False(t, all[0].UpdatedAt.IsZero())
}

func TestSettings_ChangesAreAudited(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetSetting(ctx, KeyBackendURL, "http://10.0.0.5:8000"))
	audit, err := store.RecentAudit(ctx, 5)
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.Equal(t, "settings.set", audit[0].Action)
	assert.Equal(t, "backendUrl=http://10.0.0.5:8000", audit[0].Detail)
}

// --- Activity ---

func TestAppendActivity_WritesEntriesAndStats(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	base := time.UnixMilli(1_700_000_000_000)

	err := store.AppendActivity(ctx, batchOf("b1", base, "Image blocked", "Text blurred", "URL allowed"))
	require.NoError(t, err)

	stats, err := store.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Blocked)
	assert.Equal(t, int64(1), stats.Blurred)
	assert.Equal(t, int64(3), stats.Total)
	assert.Equal(t, int64(3), stats.LogEntries)
	assert.Equal(t, int64(1), stats.Batches)
	assert.Equal(t, base, stats.OldestEntry)
	assert.Equal(t, base.Add(2*time.Millisecond), stats.NewestEntry)
	assert.Greater(t, stats.DatabaseSizeBytes, int64(0))
	assert.Len(t, stats.TopActions, 3)

	entries, err := store.ListActivity(ctx, ActivityQuery{})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "URL allowed", entries[0].Action, "newest first")
	assert.Equal(t, "b1", entries[0].BatchID)
}

func TestAppendActivity_SameBatchIDAppliedOnce(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	b := batchOf("retry-me", time.Now(), "Image blocked", "Image allowed")

	require.NoError(t, store.AppendActivity(ctx, b))
	require.NoError(t, store.AppendActivity(ctx, b))

	stats, err := store.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Total)
	assert.Equal(t, int64(1), stats.Blocked)
	assert.Equal(t, int64(2), stats.LogEntries)
}

func TestAppendActivity_EmptyBatchIsNoop(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.AppendActivity(ctx, Batch{ID: "empty"}))
	stats, err := store.GetStats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Batches)
	assert.Zero(t, stats.Total)
}

func TestAppendActivity_RequiresBatchID(t *testing.T) {
	store := openTestStore(t)
	err := store.AppendActivity(context.Background(), batchOf("", time.Now(), "Image blocked"))
	assert.ErrorIs(t, err, ErrEmptyBatchID)
}

func TestAppendActivity_ConcurrentBatchesSumExactly(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := string(rune('a' + i))
			assert.NoError(t, store.AppendActivity(ctx, batchOf(id, time.Now(), "Image blocked", "Text blurred")))
		}(i)
	}
	wg.Wait()

	stats, err := store.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(20), stats.Total)
	assert.Equal(t, int64(10), stats.Blocked)
	assert.Equal(t, int64(10), stats.Blurred)
	assert.LessOrEqual(t, stats.Blocked+stats.Blurred, stats.Total)
}

func TestListActivity_Filters(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	old := time.Now().Add(-48 * time.Hour)
	recent := time.Now().Add(-time.Hour)

	require.NoError(t, store.AppendActivity(ctx, batchOf("old", old, "Image blocked", "Text allowed")))
	require.NoError(t, store.AppendActivity(ctx, batchOf("new", recent, "Image blocked", "URL allowed")))

	blocked, err := store.ListActivity(ctx, ActivityQuery{Action: "BLOCKED"})
	require.NoError(t, err)
	assert.Len(t, blocked, 2)

	since, err := store.ListActivity(ctx, ActivityQuery{Since: time.Now().Add(-24 * time.Hour)})
	require.NoError(t, err)
	assert.Len(t, since, 2)
	for _, e := range since {
		assert.Equal(t, "new", e.BatchID)
	}

	page, err := store.ListActivity(ctx, ActivityQuery{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "Image blocked", page[0].Action)
}

func TestPruneActivity(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.AppendActivity(ctx, batchOf("old", time.Now().Add(-40*24*time.Hour), "Image blocked", "Image allowed")))
	require.NoError(t, store.AppendActivity(ctx, batchOf("new", time.Now(), "Text blurred")))

	cutoff := time.Now().Add(-30 * 24 * time.Hour)
	n, err := store.CountActivityBefore(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	deleted, err := store.PruneActivity(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	stats, err := store.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.LogEntries)
	assert.Equal(t, int64(3), stats.Total, "counters are lifetime totals")
}

func TestPurgeAll(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetSetting(ctx, KeyEnabled, "true"))
	require.NoError(t, store.AppendActivity(ctx, batchOf("b", time.Now(), "Image blocked")))
	require.NoError(t, store.PurgeAll(ctx))

	stats, err := store.GetStats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Total)
	assert.Zero(t, stats.Blocked)
	assert.Zero(t, stats.LogEntries)
	assert.Zero(t, stats.Batches)

	v, ok, err := store.GetSetting(ctx, KeyEnabled)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "true", v)

	audit, err := store.RecentAudit(ctx, 1)
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.Equal(t, "purge", audit[0].Action)
}

func TestOpen_CreatesFileDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "filterx.db")

	store, err := Open(path, "wal")
	require.NoError(t, err)
	require.NoError(t, store.SetSetting(context.Background(), KeyAggressiveness, "light"))
	require.NoError(t, store.Close())

	store, err = Open(path, "wal")
	require.NoError(t, err)
	defer store.Close()
	v, ok, err := store.GetSetting(context.Background(), KeyAggressiveness)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "light", v)
}
