package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/runnerr0/filterx/internal/app"
	"github.com/runnerr0/filterx/internal/config"
	"github.com/runnerr0/filterx/internal/scan"
	"github.com/runnerr0/filterx/internal/storage"
)

// Execute implements the go-flags Commander interface for ScanCommand.
func (c *ScanCommand) Execute(args []string) error {
	cfg, store, _, err := setup(c.globals)
	if err != nil {
		return err
	}
	defer store.Close()

	return c.executeWithStore(context.Background(), cfg, store)
}

func (c *ScanCommand) executeWithStore(ctx context.Context, cfg *config.Config, store storage.Store) error {
	logger := commandLogger(c.globals)
	a, err := app.New(ctx, cfg, store, logger)
	if err != nil {
		return err
	}

	scanner := scan.FromConfig(a.Dispatcher, cfg.Scan, a.Queue.Limit()+1, logger)
	report, scanErr := scanner.Scan(ctx, c.Args.URL)

	if err := a.Close(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "warning: activity not recorded: %v\n", err)
	}
	if scanErr != nil {
		return fmt.Errorf("scan failed: %w", scanErr)
	}

	if jsonOutput(c.globals) {
		return writeJSON(os.Stdout, report)
	}
	printReport(report)
	return nil
}

func printReport(r *scan.Report) {
	fmt.Printf("Scan of %s\n", r.URL)
	if r.Title != "" {
		fmt.Printf("Title:   %s\n", r.Title)
	}
	fmt.Printf("Page:    %s\n", itemSummary(r.Page))
	if r.Skipped {
		fmt.Println()
		fmt.Println("Page URL is blocked; content was not fetched.")
		return
	}

	if r.Text != nil {
		fmt.Printf("Text:    %s\n", itemSummary(*r.Text))
	} else {
		fmt.Println("Text:    (too short, skipped)")
	}

	fmt.Printf("Images:  %d\n", len(r.Images))
	for _, it := range r.Images {
		fmt.Printf("  %-8s %s\n", decisionLabel(it), it.Source)
	}

	fmt.Println()
	fmt.Printf("Blocked: %d  Blurred: %d  Failed: %d\n", r.Blocked, r.Blurred, r.Failed)
}

func itemSummary(it scan.Item) string {
	if it.Outcome.Failed() {
		return "error: " + it.Outcome.Err
	}
	return fmt.Sprintf("%s (%s, %.2f)", it.Outcome.Decision(), it.Outcome.Result.Label, it.Outcome.Result.Confidence)
}

func decisionLabel(it scan.Item) string {
	if it.Outcome.Failed() {
		return "error"
	}
	return it.Outcome.Decision()
}
