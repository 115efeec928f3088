package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/runnerr0/filterx/internal/config"
	"github.com/runnerr0/filterx/internal/storage"
)

// Execute implements the go-flags Commander interface for PruneCommand.
func (c *PruneCommand) Execute(args []string) error {
	cfg, store, _, err := setup(c.globals)
	if err != nil {
		return err
	}
	defer store.Close()

	return c.executeWithStore(context.Background(), cfg, store, time.Now())
}

// executeWithStore prunes against a provided store (for testing).
func (c *PruneCommand) executeWithStore(ctx context.Context, cfg *config.Config, store storage.Store, now time.Time) error {
	retention := time.Duration(cfg.Activity.RetentionDays) * 24 * time.Hour
	if c.OlderThan != "" {
		d, err := parseDuration(c.OlderThan)
		if err != nil {
			return fmt.Errorf("invalid --older-than value %q: %w", c.OlderThan, err)
		}
		retention = d
	}
	if retention <= 0 {
		return fmt.Errorf("retention period must be positive")
	}
	cutoff := now.Add(-retention)

	var (
		n   int64
		err error
	)
	if c.DryRun {
		n, err = store.CountActivityBefore(ctx, cutoff)
	} else {
		n, err = store.PruneActivity(ctx, cutoff)
	}
	if err != nil {
		return fmt.Errorf("prune failed: %w", err)
	}

	if jsonOutput(c.globals) {
		return writeJSON(os.Stdout, map[string]interface{}{
			"dry_run":   c.DryRun,
			"cutoff":    cutoff.UTC().Format(time.RFC3339),
			"retention": formatDurationHuman(retention),
			"entries":   n,
		})
	}

	verb := "Pruned"
	if c.DryRun {
		verb = "Would prune"
	}
	fmt.Printf("%s %s activity entries older than %s (before %s)\n",
		verb, formatNumber(n), formatDurationHuman(retention), cutoff.Local().Format("2006-01-02 15:04"))
	return nil
}

