package cli

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionFlag(t *testing.T) {
	var err error
	output := captureOutput(t, func() {
		err = RunWithArgs("0.1.0-test", []string{"--version"})
	})

	assert.NoError(t, err)
	assert.Contains(t, output, "filterx 0.1.0-test")
}

func TestVersionOutputFormat(t *testing.T) {
	output := captureOutput(t, func() {
		_ = RunWithArgs("1.2.3", []string{"--version"})
	})
	assert.Equal(t, "filterx 1.2.3", strings.TrimSpace(output))
}

func TestAllSubcommandsExist(t *testing.T) {
	expected := []string{"serve", "classify", "scan", "activity", "status", "settings", "prune", "purge"}
	parser, _, _ := buildParser("test")

	for _, name := range expected {
		cmd := parser.Find(name)
		assert.NotNil(t, cmd, "subcommand %q should exist", name)
	}
}

func TestSubcommandsRecognized(t *testing.T) {
	tests := [][]string{
		{"serve"},
		{"classify", "--text", "hello"},
		{"scan", "https://example.com"},
		{"activity"},
		{"status"},
		{"settings"},
		{"settings", "aggressiveness", "light"},
		{"prune"},
		{"purge", "--all"},
	}
	for _, args := range tests {
		t.Run(args[0], func(t *testing.T) {
			_, _, err := parseOnly(t, args...)
			assert.NoError(t, err)
		})
	}
}

func TestUnknownSubcommandFails(t *testing.T) {
	_, _, err := parseOnly(t, "nonexistent")
	require.Error(t, err)
}

func TestScanRequiresURL(t *testing.T) {
	_, _, err := parseOnly(t, "scan")
	require.Error(t, err)
}

func TestHelpFlagDoesNotError(t *testing.T) {
	captureOutput(t, func() {
		err := RunWithArgs("test", []string{"--help"})
		assert.NoError(t, err)
	})
}

func TestPurgeRequiresAll(t *testing.T) {
	err := RunWithArgs("test", []string{"purge"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "purge requires --all flag for safety")
}

func TestClassifyRequiresExactlyOneInput(t *testing.T) {
	err := RunWithArgs("test", []string{"classify"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exactly one of")

	err = RunWithArgs("test", []string{"classify", "--text", "a", "--url", "https://b.example"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exactly one of")
}

func TestGlobalFlags(t *testing.T) {
	globals, _, err := parseOnly(t, "--json", "--verbose", "--config", "/tmp/test.yaml", "status")
	require.NoError(t, err)
	assert.True(t, globals.JSON)
	assert.True(t, globals.Verbose)
	assert.Equal(t, "/tmp/test.yaml", globals.Config)
}

func TestActivityFlagsDefaults(t *testing.T) {
	_, c, err := parseOnly(t, "activity")
	require.NoError(t, err)
	assert.Equal(t, "7d", c.Activity.Since)
	assert.Equal(t, 20, c.Activity.Limit)
	assert.Equal(t, 0, c.Activity.Offset)
}

func TestServeFlags(t *testing.T) {
	_, c, err := parseOnly(t, "serve", "--port", "9999", "--host", "0.0.0.0", "--log-level", "debug", "--no-watch")
	require.NoError(t, err)
	assert.Equal(t, 9999, c.Serve.Port)
	assert.Equal(t, "0.0.0.0", c.Serve.Host)
	assert.Equal(t, "debug", c.Serve.LogLevel)
	assert.True(t, c.Serve.NoWatch)
}

func TestSettingsPositionalArgs(t *testing.T) {
	_, c, err := parseOnly(t, "settings", "enabled", "false")
	require.NoError(t, err)
	assert.Equal(t, "enabled", c.Settings.Args.Key)
	assert.Equal(t, "false", c.Settings.Args.Value)
}

func TestPruneAndPurgeFlags(t *testing.T) {
	_, c, err := parseOnly(t, "prune", "--older-than", "7d", "--dry-run")
	require.NoError(t, err)
	assert.Equal(t, "7d", c.Prune.OlderThan)
	assert.True(t, c.Prune.DryRun)

	_, c, err = parseOnly(t, "purge", "--all", "--force")
	require.NoError(t, err)
	assert.True(t, c.Purge.All)
	assert.True(t, c.Purge.Force)
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
		ok   bool
	}{
		{"30d", 30 * 24 * time.Hour, true},
		{"24h", 24 * time.Hour, true},
		{"2w", 14 * 24 * time.Hour, true},
		{"15m", 15 * time.Minute, true},
		{"", 0, false},
		{"d", 0, false},
		{"10x", 0, false},
		{"-1d", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseDuration(tt.in)
			if !tt.ok {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatHelpers(t *testing.T) {
	assert.Equal(t, "0", formatNumber(0))
	assert.Equal(t, "999", formatNumber(999))
	assert.Equal(t, "1,000", formatNumber(1000))
	assert.Equal(t, "1,234,567", formatNumber(1234567))
	assert.Equal(t, "-12,345", formatNumber(-12345))

	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "1.5 KB", formatBytes(1536))
	assert.Equal(t, "2.0 MB", formatBytes(2<<20))

	assert.Equal(t, "30 days", formatDurationHuman(30*24*time.Hour))
	assert.Equal(t, "1 day", formatDurationHuman(24*time.Hour))
	assert.Equal(t, "5 hours", formatDurationHuman(5*time.Hour))
}
