package storage

import "time"

// Persisted setting keys shared with the extension.
const (
	KeyAggressiveness = "aggressiveness"
	KeyBackendURL     = "backendUrl"
	KeyEnabled        = "enabled"
)

// LogEntry is one activity-log line, e.g. "Image blocked".
type LogEntry struct {
	ID        int64     `json:"id"`
	Action    string    `json:"action"`
	Timestamp time.Time `json:"timestamp"`
	BatchID   string    `json:"batch_id,omitempty"`
}

// StatsDelta is the counter increment carried by one flush.
type StatsDelta struct {
	Blocked int64
	Blurred int64
	Total   int64
}

// Batch is a group of log entries written together with their stats delta.
// ID makes the write idempotent: a batch whose ID was already applied is
// skipped.
type Batch struct {
	ID      string
	Entries []LogEntry
	Delta   StatsDelta
}

// ActivityQuery filters the activity log.
type ActivityQuery struct {
	Action string // substring match, case-insensitive
	Since  time.Time
	Until  time.Time
	Limit  int
	Offset int
}

// Setting is one persisted key/value pair.
type Setting struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Stats holds the running counters and log summary.
type Stats struct {
	Blocked           int64         `json:"blocked"`
	Blurred           int64         `json:"blurred"`
	Total             int64         `json:"total"`
	LogEntries        int64         `json:"log_entries"`
	Batches           int64         `json:"batches"`
	OldestEntry       time.Time     `json:"oldest_entry,omitempty"`
	NewestEntry       time.Time     `json:"newest_entry,omitempty"`
	DatabaseSizeBytes int64         `json:"database_size_bytes"`
	TopActions        []ActionCount `json:"top_actions"`
}

// ActionCount pairs an activity action with how often it was logged.
type ActionCount struct {
	Action string `json:"action"`
	Count  int64  `json:"count"`
}

// AuditEntry records a settings change or destructive operation.
type AuditEntry struct {
	ID        int64     `json:"id"`
	Action    string    `json:"action"`
	Detail    string    `json:"detail"`
	Timestamp time.Time `json:"timestamp"`
}
