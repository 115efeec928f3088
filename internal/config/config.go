package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default config file path.
const DefaultConfigPath = "~/.config/filterx/config.yaml"

// Backend wire protocols.
const (
	ProtocolJSON            = "json"
	ProtocolLegacyMultipart = "legacy-multipart"
)

// Classifier modes.
const (
	ModeRemote = "remote"
	ModeLocal  = "local"
)

// Config holds all FilterX configuration.
type Config struct {
	Backend    BackendConfig    `yaml:"backend"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Queue      QueueConfig      `yaml:"queue"`
	Cache      CacheConfig      `yaml:"cache"`
	Activity   ActivityConfig   `yaml:"activity"`
	Filter     FilterConfig     `yaml:"filter"`
	Scan       ScanConfig       `yaml:"scan"`
	Storage    StorageConfig    `yaml:"storage"`
	Daemon     DaemonConfig     `yaml:"daemon"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type BackendConfig struct {
	URL            string  `yaml:"url"`
	Protocol       string  `yaml:"protocol"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	MaxRPS         float64 `yaml:"max_rps"`
	Burst          int     `yaml:"burst"`
}

// Timeout returns the per-request timeout as a duration.
func (b BackendConfig) Timeout() time.Duration {
	return time.Duration(b.TimeoutSeconds) * time.Second
}

type ClassifierConfig struct {
	Mode string `yaml:"mode"`
}

type QueueConfig struct {
	Aggressiveness Aggressiveness `yaml:"aggressiveness"`
}

type CacheConfig struct {
	Size int `yaml:"size"`
}

type ActivityConfig struct {
	FlushDelayMillis int    `yaml:"flush_delay_ms"`
	RetentionDays    int    `yaml:"retention_days"`
	PruneSchedule    string `yaml:"prune_schedule"`
}

// FlushDelay returns the batching window as a duration.
func (a ActivityConfig) FlushDelay() time.Duration {
	return time.Duration(a.FlushDelayMillis) * time.Millisecond
}

type FilterConfig struct {
	Enabled          bool     `yaml:"enabled"`
	AllowlistDomains []string `yaml:"allowlist_domains"`
	URLBlocklist     []string `yaml:"url_blocklist"`
	TextKeywords     []string `yaml:"text_keywords"`
}

type ScanConfig struct {
	MinTextLength  int    `yaml:"min_text_length"`
	MaxTextLength  int    `yaml:"max_text_length"`
	MaxImages      int    `yaml:"max_images"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	UserAgent      string `yaml:"user_agent"`
}

type StorageConfig struct {
	Path              string `yaml:"path"`
	SQLiteFile        string `yaml:"sqlite_file"`
	SQLiteJournalMode string `yaml:"sqlite_journal_mode"`
}

type DaemonConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	AuthToken      string `yaml:"auth_token"`
	MaxRequestSize int    `yaml:"max_request_size"`
}

// Addr returns host:port for the daemon listener.
func (d DaemonConfig) Addr() string {
	return fmt.Sprintf("%s:%d", d.Host, d.Port)
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	File   string `yaml:"file"`
	Format string `yaml:"format"`
}

// Load reads a YAML config file at path and merges it with defaults.
// Returns an error if the file cannot be read or contains invalid YAML.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate normalizes enum-like fields and rejects values that cannot work.
func (c *Config) Validate() error {
	c.Backend.Protocol = strings.ToLower(strings.TrimSpace(c.Backend.Protocol))
	switch c.Backend.Protocol {
	case "":
		c.Backend.Protocol = ProtocolJSON
	case ProtocolJSON, ProtocolLegacyMultipart:
	default:
		return fmt.Errorf("invalid backend.protocol %q", c.Backend.Protocol)
	}

	c.Classifier.Mode = strings.ToLower(strings.TrimSpace(c.Classifier.Mode))
	switch c.Classifier.Mode {
	case "":
		c.Classifier.Mode = ModeRemote
	case ModeRemote, ModeLocal:
	default:
		return fmt.Errorf("invalid classifier.mode %q", c.Classifier.Mode)
	}

	if c.Classifier.Mode == ModeRemote && c.Backend.URL == "" {
		return fmt.Errorf("backend.url is required in remote mode")
	}

	c.Queue.Aggressiveness = ParseAggressiveness(string(c.Queue.Aggressiveness))

	if c.Backend.TimeoutSeconds <= 0 {
		c.Backend.TimeoutSeconds = defaultBackendTimeoutSeconds
	}
	if c.Activity.FlushDelayMillis <= 0 {
		c.Activity.FlushDelayMillis = defaultFlushDelayMillis
	}
	if c.Cache.Size <= 0 {
		c.Cache.Size = defaultCacheSize
	}
	return nil
}

// DBPath returns the expanded path of the SQLite database.
func (c *Config) DBPath() (string, error) {
	dir, err := expandPath(c.Storage.Path)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, c.Storage.SQLiteFile), nil
}

// LogPath returns the expanded log file path, or "" when logging to stderr.
// Relative names are placed under the storage directory.
func (c *Config) LogPath() (string, error) {
	if c.Logging.File == "" {
		return "", nil
	}
	p, err := expandPath(c.Logging.File)
	if err != nil {
		return "", err
	}
	if filepath.IsAbs(p) {
		return p, nil
	}
	dir, err := expandPath(c.Storage.Path)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, p), nil
}

// expandPath replaces a leading ~ with the user's home directory.
func expandPath(path string) (string, error) {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolving home directory: %w", err)
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// ExpandPath is the exported form of expandPath for command-line arguments.
func ExpandPath(path string) (string, error) {
	return expandPath(path)
}

// LoadOrCreate loads the config from the default path. If the file does
// not exist, it creates the directory structure and writes defaults.
func LoadOrCreate() (*Config, error) {
	path, err := expandPath(DefaultConfigPath)
	if err != nil {
		return nil, err
	}
	return LoadOrCreateAt(path)
}

// LoadOrCreateAt loads the config from the given path. If the file does
// not exist, it creates the directory structure and writes defaults.
func LoadOrCreateAt(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()

		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating config directory: %w", err)
		}

		data, err := yaml.Marshal(cfg)
		if err != nil {
			return nil, fmt.Errorf("marshaling default config: %w", err)
		}

		if err := os.WriteFile(path, data, 0644); err != nil {
			return nil, fmt.Errorf("writing default config: %w", err)
		}

		return cfg, nil
	}

	return Load(path)
}
