package cli

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/runnerr0/filterx/internal/backend"
	"github.com/runnerr0/filterx/internal/config"
	"github.com/runnerr0/filterx/internal/daemon"
	"github.com/runnerr0/filterx/internal/storage"
)

const healthTimeout = 2 * time.Second

// statusJSON is the JSON output structure for the status command.
type statusJSON struct {
	Version           string                `json:"version"`
	DatabasePath      string                `json:"database_path"`
	DatabaseSizeBytes int64                 `json:"database_size_bytes"`
	Blocked           int64                 `json:"blocked"`
	Blurred           int64                 `json:"blurred"`
	Total             int64                 `json:"total"`
	LogEntries        int64                 `json:"log_entries"`
	OldestEntry       string                `json:"oldest_entry,omitempty"`
	NewestEntry       string                `json:"newest_entry,omitempty"`
	RetentionDays     int                   `json:"retention_days"`
	TopActions        []storage.ActionCount `json:"top_actions"`
	ClassifierMode    string                `json:"classifier_mode"`
	Aggressiveness    string                `json:"aggressiveness"`
	Enabled           bool                  `json:"enabled"`
	BackendURL        string                `json:"backend_url,omitempty"`
	BackendHealthy    bool                  `json:"backend_healthy"`
	BackendError      string                `json:"backend_error,omitempty"`
	DaemonRunning     bool                  `json:"daemon_running"`
	RecentChanges     []storage.AuditEntry  `json:"recent_changes"`
}

// Execute implements the go-flags Commander interface for StatusCommand.
func (c *StatusCommand) Execute(args []string) error {
	cfg, store, dbPath, err := setup(c.globals)
	if err != nil {
		return err
	}
	defer store.Close()

	return c.executeWithStore(context.Background(), cfg, store, dbPath)
}

// executeWithStore runs status against a provided store (for testing).
func (c *StatusCommand) executeWithStore(ctx context.Context, cfg *config.Config, store storage.Store, dbPath string) error {
	stats, err := store.GetStats(ctx)
	if err != nil {
		return fmt.Errorf("get stats: %w", err)
	}
	audit, err := store.RecentAudit(ctx, 5)
	if err != nil {
		return fmt.Errorf("get audit log: %w", err)
	}

	out := statusJSON{
		Version:           c.version,
		DatabasePath:      dbPath,
		DatabaseSizeBytes: stats.DatabaseSizeBytes,
		Blocked:           stats.Blocked,
		Blurred:           stats.Blurred,
		Total:             stats.Total,
		LogEntries:        stats.LogEntries,
		RetentionDays:     cfg.Activity.RetentionDays,
		TopActions:        stats.TopActions,
		ClassifierMode:    cfg.Classifier.Mode,
		RecentChanges:     audit,
	}
	if stats.LogEntries > 0 {
		out.OldestEntry = stats.OldestEntry.UTC().Format(time.RFC3339)
		out.NewestEntry = stats.NewestEntry.UTC().Format(time.RFC3339)
	}
	if err := effectiveSettings(ctx, cfg, store, &out); err != nil {
		return err
	}

	hctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()
	out.BackendHealthy, out.BackendError = checkBackend(hctx, cfg, out.BackendURL)
	_, derr := daemon.NewClient(cfg.Daemon.Addr(), cfg.Daemon.AuthToken).Status(hctx)
	out.DaemonRunning = derr == nil

	if jsonOutput(c.globals) {
		return writeJSON(os.Stdout, out)
	}
	return c.printHuman(out)
}

// effectiveSettings fills the settings section: stored values win over the
// config file.
func effectiveSettings(ctx context.Context, cfg *config.Config, store storage.Store, out *statusJSON) error {
	out.Aggressiveness = string(cfg.Queue.Aggressiveness)
	out.Enabled = cfg.Filter.Enabled
	out.BackendURL = cfg.Backend.URL

	stored, err := store.Settings(ctx)
	if err != nil {
		return fmt.Errorf("get settings: %w", err)
	}
	for _, s := range stored {
		switch s.Key {
		case storage.KeyAggressiveness:
			out.Aggressiveness = string(config.ParseAggressiveness(s.Value))
		case storage.KeyEnabled:
			if on, err := strconv.ParseBool(s.Value); err == nil {
				out.Enabled = on
			}
		case storage.KeyBackendURL:
			out.BackendURL = s.Value
		}
	}
	return nil
}

func checkBackend(ctx context.Context, cfg *config.Config, url string) (bool, string) {
	if url == "" {
		return false, "no backend configured"
	}
	bc := cfg.Backend
	bc.URL = url
	client, err := backend.FromConfig(bc, nil)
	if err != nil {
		return false, err.Error()
	}
	if err := client.Health(ctx); err != nil {
		return false, err.Error()
	}
	return true, ""
}

func (c *StatusCommand) printHuman(s statusJSON) error {
	fmt.Println("FilterX Status")
	fmt.Println("==============")
	fmt.Printf("Version:        %s\n", s.Version)
	fmt.Printf("Database:       %s (%s)\n", s.DatabasePath, formatBytes(s.DatabaseSizeBytes))
	fmt.Printf("Classified:     %s\n", formatNumber(s.Total))

	if s.Total > 0 {
		fmt.Printf("Blocked:        %s (%.1f%%)\n", formatNumber(s.Blocked), float64(s.Blocked)/float64(s.Total)*100)
		fmt.Printf("Blurred:        %s (%.1f%%)\n", formatNumber(s.Blurred), float64(s.Blurred)/float64(s.Total)*100)
	} else {
		fmt.Printf("Blocked:        %s\n", formatNumber(s.Blocked))
		fmt.Printf("Blurred:        %s\n", formatNumber(s.Blurred))
	}

	fmt.Printf("Log entries:    %s\n", formatNumber(s.LogEntries))
	if s.LogEntries > 0 {
		oldest, _ := time.Parse(time.RFC3339, s.OldestEntry)
		newest, _ := time.Parse(time.RFC3339, s.NewestEntry)
		fmt.Printf("Oldest:         %s\n", oldest.Local().Format("2006-01-02"))
		fmt.Printf("Newest:         %s\n", newest.Local().Format("2006-01-02"))
	}
	fmt.Printf("Retention:      %d days\n", s.RetentionDays)

	if len(s.TopActions) > 0 {
		fmt.Println()
		fmt.Println("Top Actions:")
		for _, a := range s.TopActions {
			fmt.Printf("  %-20s %s\n", a.Action, formatNumber(a.Count))
		}
	}

	fmt.Println()
	enabled := "on"
	if !s.Enabled {
		enabled = "off"
	}
	fmt.Printf("Filtering:      %s\n", enabled)
	fmt.Printf("Aggressiveness: %s\n", s.Aggressiveness)
	fmt.Printf("Classifier:     %s\n", s.ClassifierMode)
	switch {
	case s.BackendHealthy:
		fmt.Printf("Backend:        %s (healthy)\n", s.BackendURL)
	case s.BackendURL != "":
		fmt.Printf("Backend:        %s (unreachable)\n", s.BackendURL)
	default:
		fmt.Println("Backend:        none")
	}
	if s.DaemonRunning {
		fmt.Println("Daemon:         running")
	} else {
		fmt.Println("Daemon:         not running")
	}

	if len(s.RecentChanges) > 0 {
		fmt.Println()
		fmt.Println("Recent Changes:")
		for _, a := range s.RecentChanges {
			fmt.Printf("  %s  %-14s %s\n", a.Timestamp.Local().Format("2006-01-02 15:04"), a.Action, a.Detail)
		}
	}
	return nil
}
