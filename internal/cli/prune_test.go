package cli

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/filterx/internal/storage"
)

func TestPrune_UsesRetentionDays(t *testing.T) {
	store := openTestStore(t)
	now := time.Now()
	seedActivity(t, store, now, map[string]time.Duration{
		"Image blocked": 40 * 24 * time.Hour,
		"Text blurred":  31 * 24 * time.Hour,
		"URL allowed":   2 * 24 * time.Hour,
	})

	cmd := &PruneCommand{globals: &GlobalFlags{}}
	var err error
	output := captureOutput(t, func() {
		err = cmd.executeWithStore(context.Background(), localConfig(), store, now)
	})
	require.NoError(t, err)
	assert.Contains(t, output, "Pruned 2 activity entries older than 30 days")

	entries, err := store.ListActivity(context.Background(), storage.ActivityQuery{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "URL allowed", entries[0].Action)

	stats, err := store.GetStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Total, "lifetime counters survive pruning")
}

func TestPrune_DryRunDeletesNothing(t *testing.T) {
	store := openTestStore(t)
	now := time.Now()
	seedActivity(t, store, now, map[string]time.Duration{
		"Image blocked": 10 * 24 * time.Hour,
		"URL allowed":   time.Hour,
	})

	cmd := &PruneCommand{OlderThan: "7d", DryRun: true, globals: &GlobalFlags{JSON: true}}
	var err error
	output := captureOutput(t, func() {
		err = cmd.executeWithStore(context.Background(), localConfig(), store, now)
	})
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(output), &out))
	assert.Equal(t, true, out["dry_run"])
	assert.EqualValues(t, 1, out["entries"])
	assert.Equal(t, "7 days", out["retention"])

	entries, err := store.ListActivity(context.Background(), storage.ActivityQuery{})
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestPrune_InvalidOlderThan(t *testing.T) {
	cmd := &PruneCommand{OlderThan: "soon", globals: &GlobalFlags{}}
	err := cmd.executeWithStore(context.Background(), localConfig(), openTestStore(t), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid --older-than")
}

func TestPrune_ZeroRetentionRejected(t *testing.T) {
	cfg := localConfig()
	cfg.Activity.RetentionDays = 0
	cmd := &PruneCommand{globals: &GlobalFlags{}}
	err := cmd.executeWithStore(context.Background(), cfg, openTestStore(t), time.Now())
	assert.Error(t, err)
}
