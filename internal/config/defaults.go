package config

const (
	defaultBackendTimeoutSeconds = 10
	defaultFlushDelayMillis      = 1500
	defaultCacheSize             = 1024
)

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		Backend: BackendConfig{
			URL:            "http://localhost:8000",
			Protocol:       ProtocolJSON,
			TimeoutSeconds: defaultBackendTimeoutSeconds,
			MaxRPS:         0,
			Burst:          1,
		},
		Classifier: ClassifierConfig{
			Mode: ModeRemote,
		},
		Queue: QueueConfig{
			Aggressiveness: Normal,
		},
		Cache: CacheConfig{
			Size: defaultCacheSize,
		},
		Activity: ActivityConfig{
			FlushDelayMillis: defaultFlushDelayMillis,
			RetentionDays:    30,
			PruneSchedule:    "@every 1h",
		},
		Filter: FilterConfig{
			Enabled:          true,
			AllowlistDomains: []string{},
			URLBlocklist:     DefaultURLBlocklist(),
			TextKeywords:     DefaultTextKeywords(),
		},
		Scan: ScanConfig{
			MinTextLength:  50,
			MaxTextLength:  5000,
			MaxImages:      50,
			TimeoutSeconds: 20,
			UserAgent:      "filterx/1.0",
		},
		Storage: StorageConfig{
			Path:              "~/.config/filterx",
			SQLiteFile:        "filterx.db",
			SQLiteJournalMode: "wal",
		},
		Daemon: DaemonConfig{
			Host:           "127.0.0.1",
			Port:           8731,
			AuthToken:      "",
			MaxRequestSize: 10485760,
		},
		Logging: LoggingConfig{
			Level:  "info",
			File:   "",
			Format: "text",
		},
	}
}
