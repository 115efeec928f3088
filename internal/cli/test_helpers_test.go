package cli

import (
	"bytes"
	"database/sql"
	"io"
	"os"
	"testing"

	goflags "github.com/jessevdk/go-flags"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/filterx/internal/config"
	"github.com/runnerr0/filterx/internal/storage"
)

// captureOutput captures stdout during fn execution and returns it as a string.
func captureOutput(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w

	done := make(chan string)
	go func() {
		var buf bytes.Buffer
		_, _ = io.Copy(&buf, r)
		done <- buf.String()
	}()

	fn()

	w.Close()
	os.Stdout = old
	return <-done
}

// openTestStore creates a migrated in-memory store.
func openTestStore(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:?_foreign_keys=on")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, storage.NewMigrationRunner(db).Run())
	store, err := storage.NewSQLiteStore(db)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// localConfig returns a config that classifies locally and points the
// daemon at a closed port.
func localConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Classifier.Mode = config.ModeLocal
	cfg.Backend.URL = ""
	cfg.Daemon.Port = 1
	return cfg
}

// parseOnly parses args without executing the matched command.
func parseOnly(t *testing.T, args ...string) (*GlobalFlags, *commands, error) {
	t.Helper()
	p, globals, cmds := buildParser("test")
	p.Options &^= goflags.PrintErrors
	p.CommandHandler = func(goflags.Commander, []string) error { return nil }
	_, err := p.ParseArgs(args)
	return globals, cmds, err
}
