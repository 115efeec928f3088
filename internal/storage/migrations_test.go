package storage

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:?_foreign_keys=on")
	require.NoError(t, err)
	// Each pooled connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMigrationRunner_FreshDB(t *testing.T) {
	db := openTestDB(t)
	runner := NewMigrationRunner(db)

	err := runner.Run()
	require.NoError(t, err)

	expectedTables := []string{
		"settings",
		"flush_batches",
		"activity_log",
		"stats",
		"audit_log",
		"schema_migrations",
	}
	for _, table := range expectedTables {
		var name string
		err := db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		require.NoError(t, err, "table %s should exist", table)
		assert.Equal(t, table, name)
	}
}

func TestMigrationRunner_IndexesCreated(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, NewMigrationRunner(db).Run())

	expectedIndexes := []string{
		"idx_activity_log_ts",
		"idx_activity_log_action",
		"idx_activity_log_batch",
		"idx_audit_log_ts",
	}
	for _, idx := range expectedIndexes {
		var name string
		err := db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='index' AND name=?", idx,
		).Scan(&name)
		require.NoError(t, err, "index %s should exist", idx)
		assert.Equal(t, idx, name)
	}
}

func TestMigrationRunner_SeedsStatsRow(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, NewMigrationRunner(db).Run())

	var blocked, blurred, total int64
	err := db.QueryRow("SELECT blocked, blurred, total FROM stats WHERE id = 1").Scan(&blocked, &blurred, &total)
	require.NoError(t, err)
	assert.Zero(t, blocked)
	assert.Zero(t, blurred)
	assert.Zero(t, total)

	_, err = db.Exec("INSERT INTO stats (id) VALUES (2)")
	assert.Error(t, err, "stats is a single-row table")
}

func TestMigrationRunner_Idempotent(t *testing.T) {
	db := openTestDB(t)
	runner := NewMigrationRunner(db)
	require.NoError(t, runner.Run())
	require.NoError(t, runner.Run())

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Equal(t, 1, count)

	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM stats").Scan(&count))
	assert.Equal(t, 1, count)

	v, err := runner.Version()
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestMigrationRunner_RejectsUnknownJournalMode(t *testing.T) {
	db := openTestDB(t)
	err := NewMigrationRunner(db).WithJournalMode("wal; DROP TABLE x").Run()
	assert.Error(t, err)
}

func TestMigrationRunner_ActivityRequiresBatch(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, NewMigrationRunner(db).Run())

	_, err := db.Exec("INSERT INTO activity_log (action, ts, batch_id) VALUES ('Image blocked', 1, 'missing')")
	assert.Error(t, err, "foreign key should reject unknown batch")
}
