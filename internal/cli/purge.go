package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/runnerr0/filterx/internal/storage"
)

// Execute implements the go-flags Commander interface for PurgeCommand.
func (c *PurgeCommand) Execute(args []string) error {
	if !c.All {
		return fmt.Errorf("purge requires --all flag for safety")
	}

	_, store, _, err := setup(c.globals)
	if err != nil {
		return err
	}
	defer store.Close()

	return c.executeWithStore(context.Background(), store)
}

// executeWithStore confirms and purges against a provided store (for testing).
func (c *PurgeCommand) executeWithStore(ctx context.Context, store storage.Store) error {
	if !c.All {
		return fmt.Errorf("purge requires --all flag for safety")
	}

	// Confirmation prompt unless --force
	if !c.Force {
		fmt.Println("⚠ WARNING: This will permanently delete ALL FilterX activity data.")
		fmt.Println("  - The activity log")
		fmt.Println("  - Blocked, blurred and total counters")
		fmt.Println()
		fmt.Println("Settings are kept. This action cannot be undone.")
		fmt.Println()
		fmt.Print(`Type "PURGE" to confirm: `)

		var in io.Reader = os.Stdin
		if c.stdin != nil {
			in = c.stdin
		}
		scanner := bufio.NewScanner(in)
		if !scanner.Scan() {
			return fmt.Errorf("aborted: no input received")
		}
		input := strings.TrimSpace(scanner.Text())
		if input != "PURGE" {
			return fmt.Errorf("aborted: confirmation text did not match")
		}
	}

	if err := store.PurgeAll(ctx); err != nil {
		return fmt.Errorf("purge failed: %w", err)
	}

	if jsonOutput(c.globals) {
		return writeJSON(os.Stdout, map[string]interface{}{
			"purged":  true,
			"message": "activity log and counters deleted",
		})
	}

	fmt.Println("Purged all activity data. Counters are reset.")
	return nil
}
