package cli

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"

	"github.com/runnerr0/filterx/internal/app"
	"github.com/runnerr0/filterx/internal/config"
	"github.com/runnerr0/filterx/internal/dispatcher"
	"github.com/runnerr0/filterx/internal/storage"
)

// Execute implements the go-flags Commander interface for ClassifyCommand.
func (c *ClassifyCommand) Execute(args []string) error {
	if err := c.validate(); err != nil {
		return err
	}
	cfg, store, _, err := setup(c.globals)
	if err != nil {
		return err
	}
	defer store.Close()

	return c.executeWithStore(context.Background(), cfg, store)
}

// executeWithStore classifies through a fresh pipeline backed by store and
// flushes the activity line before returning (used by tests).
func (c *ClassifyCommand) executeWithStore(ctx context.Context, cfg *config.Config, store storage.Store) error {
	if err := c.validate(); err != nil {
		return err
	}

	var imageData string
	if c.ImageFile != "" {
		data, err := os.ReadFile(c.ImageFile)
		if err != nil {
			return fmt.Errorf("reading image file: %w", err)
		}
		imageData = base64.StdEncoding.EncodeToString(data)
	}

	a, err := app.New(ctx, cfg, store, commandLogger(c.globals))
	if err != nil {
		return err
	}

	var (
		kind string
		out  dispatcher.Outcome
	)
	switch {
	case c.Text != "":
		kind = "text"
		out = a.Dispatcher.ClassifyText(ctx, c.Text)
	case c.URL != "":
		kind = "url"
		out = a.Dispatcher.ClassifyURL(ctx, c.URL)
	default:
		kind = "image"
		out = a.Dispatcher.ClassifyImage(ctx, imageData)
	}

	if err := a.Close(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "warning: activity not recorded: %v\n", err)
	}

	if jsonOutput(c.globals) {
		return writeJSON(os.Stdout, out)
	}
	printOutcome(kind, out)
	return nil
}

func printOutcome(kind string, out dispatcher.Outcome) {
	if out.Failed() {
		fmt.Printf("%-6s error: %s (allowed)\n", kind, out.Err)
		return
	}
	r := out.Result
	fmt.Printf("%-6s %s\n", kind, out.Decision())
	fmt.Printf("  Label:      %s\n", r.Label)
	fmt.Printf("  Confidence: %.2f\n", r.Confidence)
	fmt.Printf("  Source:     %s\n", r.Source)
	if r.Reason != "" {
		fmt.Printf("  Reason:     %s\n", r.Reason)
	}
}

func (c *ClassifyCommand) validate() error {
	set := 0
	for _, v := range []string{c.Text, c.URL, c.ImageFile} {
		if v != "" {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("exactly one of --text, --url or --image-file is required")
	}
	return nil
}
