package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/runnerr0/filterx/internal/config"
	"github.com/runnerr0/filterx/internal/logging"
	"github.com/runnerr0/filterx/internal/storage"
)

// configPath returns the --config path, or the default path expanded.
func configPath(globals *GlobalFlags) (string, error) {
	if globals != nil && globals.Config != "" {
		return config.ExpandPath(globals.Config)
	}
	return config.ExpandPath(config.DefaultConfigPath)
}

// loadConfig loads the config file, creating it with defaults if missing.
func loadConfig(globals *GlobalFlags) (*config.Config, string, error) {
	path, err := configPath(globals)
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.LoadOrCreateAt(path)
	if err != nil {
		return nil, "", fmt.Errorf("load config: %w", err)
	}
	return cfg, path, nil
}

// openStore opens the configured SQLite database with migrations applied.
func openStore(cfg *config.Config) (*storage.SQLiteStore, string, error) {
	dbPath, err := cfg.DBPath()
	if err != nil {
		return nil, "", err
	}
	store, err := storage.Open(dbPath, cfg.Storage.SQLiteJournalMode)
	if err != nil {
		return nil, "", err
	}
	return store, dbPath, nil
}

// setup loads the config and opens the store in one step.
func setup(globals *GlobalFlags) (*config.Config, *storage.SQLiteStore, string, error) {
	cfg, _, err := loadConfig(globals)
	if err != nil {
		return nil, nil, "", err
	}
	store, dbPath, err := openStore(cfg)
	if err != nil {
		return nil, nil, "", err
	}
	return cfg, store, dbPath, nil
}

// commandLogger returns a stderr logger for one-shot commands: quiet
// unless --verbose.
func commandLogger(globals *GlobalFlags) *slog.Logger {
	if globals == nil || !globals.Verbose {
		return logging.Discard()
	}
	logger, _, _ := logging.New(logging.Options{Level: "debug", Stderr: os.Stderr})
	return logger
}

// parseDuration parses a human-friendly duration string like "30d", "7d", "24h", "2w".
func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("invalid duration: empty string")
	}

	if len(s) < 2 {
		return 0, fmt.Errorf("invalid duration: %q", s)
	}

	suffix := s[len(s)-1]
	numStr := s[:len(s)-1]

	n, err := strconv.Atoi(numStr)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid duration: %q", s)
	}

	switch suffix {
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'w':
		return time.Duration(n) * 7 * 24 * time.Hour, nil
	case 'm':
		return time.Duration(n) * time.Minute, nil
	default:
		return 0, fmt.Errorf("invalid duration: %q (use d, h, w, or m suffix)", s)
	}
}

// formatDurationHuman formats a duration into a human-readable string like "30 days".
func formatDurationHuman(d time.Duration) string {
	days := int(d.Hours() / 24)
	if days > 0 {
		if days == 1 {
			return "1 day"
		}
		return fmt.Sprintf("%d days", days)
	}
	hours := int(d.Hours())
	if hours > 0 {
		if hours == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", hours)
	}
	return d.String()
}

// formatBytes formats a byte count into a human-readable string.
func formatBytes(b int64) string {
	switch {
	case b >= 1<<30:
		return fmt.Sprintf("%.1f GB", float64(b)/float64(1<<30))
	case b >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(1<<20))
	case b >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(b)/float64(1<<10))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

// formatNumber formats an int64 with comma separators.
func formatNumber(n int64) string {
	s := strconv.FormatInt(n, 10)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	if len(s) <= 3 {
		if neg {
			return "-" + s
		}
		return s
	}

	var result strings.Builder
	if neg {
		result.WriteString("-")
	}
	remainder := len(s) % 3
	if remainder > 0 {
		result.WriteString(s[:remainder])
	}
	for i := remainder; i < len(s); i += 3 {
		if i > 0 {
			result.WriteString(",")
		}
		result.WriteString(s[i : i+3])
	}
	return result.String()
}

// writeJSON prints v as indented JSON.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func jsonOutput(globals *GlobalFlags) bool {
	return globals != nil && globals.JSON
}
