package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/runnerr0/filterx/internal/storage"
)

// Execute implements the go-flags Commander interface for ActivityCommand.
func (c *ActivityCommand) Execute(args []string) error {
	_, store, _, err := setup(c.globals)
	if err != nil {
		return err
	}
	defer store.Close()

	return c.executeWithStore(store)
}

// executeWithStore lists activity from a provided store (for testing).
func (c *ActivityCommand) executeWithStore(store storage.Store) error {
	var since time.Time
	if c.Since != "" {
		dur, err := parseDuration(c.Since)
		if err != nil {
			return fmt.Errorf("invalid --since value %q: %w", c.Since, err)
		}
		since = time.Now().Add(-dur)
	}
	if c.Limit < 0 || c.Offset < 0 {
		return fmt.Errorf("--limit and --offset must not be negative")
	}

	entries, err := store.ListActivity(context.Background(), storage.ActivityQuery{
		Action: c.Action,
		Since:  since,
		Limit:  c.Limit,
		Offset: c.Offset,
	})
	if err != nil {
		return fmt.Errorf("list activity: %w", err)
	}

	if jsonOutput(c.globals) {
		return c.printJSON(entries)
	}
	return c.printHuman(entries)
}

func (c *ActivityCommand) printHuman(entries []storage.LogEntry) error {
	if len(entries) == 0 {
		fmt.Printf("No activity found (since %s)\n", c.Since)
		return nil
	}

	word := "entries"
	if len(entries) == 1 {
		word = "entry"
	}
	fmt.Printf("%d %s (since %s)\n\n", len(entries), word, c.Since)
	for _, e := range entries {
		fmt.Printf("%s  %s\n", e.Timestamp.Local().Format("2006-01-02 15:04:05"), e.Action)
	}
	return nil
}

type jsonActivityEntry struct {
	ID        int64  `json:"id"`
	Action    string `json:"action"`
	Timestamp string `json:"timestamp"`
}

type jsonActivityOutput struct {
	Count   int                 `json:"count"`
	Since   string              `json:"since,omitempty"`
	Entries []jsonActivityEntry `json:"entries"`
}

func (c *ActivityCommand) printJSON(entries []storage.LogEntry) error {
	out := jsonActivityOutput{
		Count:   len(entries),
		Since:   c.Since,
		Entries: make([]jsonActivityEntry, len(entries)),
	}
	for i, e := range entries {
		out.Entries[i] = jsonActivityEntry{
			ID:        e.ID,
			Action:    e.Action,
			Timestamp: e.Timestamp.UTC().Format(time.RFC3339),
		}
	}
	return writeJSON(os.Stdout, out)
}
