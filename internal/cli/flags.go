package cli

import "io"

// GlobalFlags holds flags available to all subcommands.
type GlobalFlags struct {
	Config  string `long:"config" description:"Path to config file" default:""`
	JSON    bool   `long:"json" description:"Output in JSON format"`
	Verbose bool   `long:"verbose" description:"Enable verbose output"`
	Version bool   `long:"version" description:"Show version and exit"`
}

// ServeCommand runs the local daemon the extension talks to.
type ServeCommand struct {
	Host     string `long:"host" description:"Override daemon listen host"`
	Port     int    `long:"port" description:"Override daemon port"`
	LogLevel string `long:"log-level" description:"Override log level"`
	NoWatch  bool   `long:"no-watch" description:"Do not reload the config file on change"`

	globals *GlobalFlags
	version string
}

// ClassifyCommand classifies one item through the pipeline.
type ClassifyCommand struct {
	Text      string `long:"text" description:"Text to classify"`
	URL       string `long:"url" description:"URL to classify"`
	ImageFile string `long:"image-file" description:"Path to an image file to classify"`

	globals *GlobalFlags
	version string
}

// ScanCommand fetches a page and classifies its URL, text and images.
type ScanCommand struct {
	Args struct {
		URL string `positional-arg-name:"url" description:"Page URL"`
	} `positional-args:"yes" required:"yes"`

	globals *GlobalFlags
	version string
}

// ActivityCommand lists the activity log.
type ActivityCommand struct {
	Since  string `long:"since" description:"Only entries newer than duration (e.g., 7d, 24h, 2w)" default:"7d"`
	Action string `long:"action" description:"Filter by action text (e.g., blocked, Image)"`
	Limit  int    `long:"limit" description:"Maximum results" default:"20"`
	Offset int    `long:"offset" description:"Skip first N results" default:"0"`

	globals *GlobalFlags
	version string
}

// StatusCommand shows counters and pipeline settings along with service health.
type StatusCommand struct {
	globals *GlobalFlags
	version string
}

// SettingsCommand shows settings, or sets one given a key and value.
type SettingsCommand struct {
	Args struct {
		Key   string `positional-arg-name:"key" description:"aggressiveness, backendUrl or enabled"`
		Value string `positional-arg-name:"value" description:"New value"`
	} `positional-args:"yes"`

	globals *GlobalFlags
	version string
}

// PruneCommand deletes activity older than the retention window.
type PruneCommand struct {
	OlderThan string `long:"older-than" description:"Override retention period (e.g., 30d)"`
	DryRun    bool   `long:"dry-run" description:"Show what would be pruned without deleting"`

	globals *GlobalFlags
	version string
}

// PurgeCommand deletes the activity log and counters after confirmation.
type PurgeCommand struct {
	All   bool `long:"all" description:"Required flag to confirm purge intent"`
	Force bool `long:"force" description:"Skip safety confirmation prompt"`

	globals *GlobalFlags
	version string
	stdin   io.Reader // injectable for testing; nil means os.Stdin
}
