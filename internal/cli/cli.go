package cli

import (
	"fmt"
	"os"

	goflags "github.com/jessevdk/go-flags"
)

// commands holds references to all subcommand structs for inspection/testing.
type commands struct {
	Serve    *ServeCommand
	Classify *ClassifyCommand
	Scan     *ScanCommand
	Activity *ActivityCommand
	Status   *StatusCommand
	Settings *SettingsCommand
	Prune    *PruneCommand
	Purge    *PurgeCommand
}

// buildParser constructs the go-flags parser with all subcommands registered.
func buildParser(version string) (*goflags.Parser, *GlobalFlags, *commands) {
	var globals GlobalFlags

	parser := goflags.NewParser(&globals, goflags.Default)
	parser.Name = "filterx"
	parser.LongDescription = "Local companion daemon for the FilterX content-filtering extension."

	cmds := &commands{
		Serve:    &ServeCommand{globals: &globals, version: version},
		Classify: &ClassifyCommand{globals: &globals, version: version},
		Scan:     &ScanCommand{globals: &globals, version: version},
		Activity: &ActivityCommand{globals: &globals, version: version},
		Status:   &StatusCommand{globals: &globals, version: version},
		Settings: &SettingsCommand{globals: &globals, version: version},
		Prune:    &PruneCommand{globals: &globals, version: version},
		Purge:    &PurgeCommand{globals: &globals, version: version},
	}

	parser.AddCommand("serve", "Start the FilterX daemon", "Start the FilterX daemon (local HTTP service for the extension).", cmds.Serve)
	parser.AddCommand("classify", "Classify a text, URL or image", "Classify one text, URL or image file and print the verdict.", cmds.Classify)
	parser.AddCommand("scan", "Scan a web page", "Fetch a page and classify its URL, main text and images.", cmds.Scan)
	parser.AddCommand("activity", "Show the activity log", "List activity log entries, newest first, with optional filters.", cmds.Activity)
	parser.AddCommand("status", "Show counters and service health", "Show filter counters, settings, backend health and daemon state.", cmds.Status)
	parser.AddCommand("settings", "Show or change settings", "Show settings, or set one: settings <key> <value>.", cmds.Settings)
	parser.AddCommand("prune", "Apply retention pruning", "Delete activity log entries older than the retention period.", cmds.Prune)
	parser.AddCommand("purge", "Delete ALL activity data", "Delete the activity log and counters. Destructive operation with safety prompt.", cmds.Purge)

	return parser, &globals, cmds
}

// Run is the main entry point for the FilterX CLI using os.Args.
func Run(version string) error {
	return RunWithArgs(version, nil)
}

// RunWithArgs parses the given args (or os.Args if nil) and executes the matched subcommand.
func RunWithArgs(version string, args []string) error {
	// Handle --version before parser (go-flags requires a subcommand, but
	// --version is valid without one).
	checkArgs := args
	if checkArgs == nil {
		checkArgs = os.Args[1:]
	}
	for _, arg := range checkArgs {
		if arg == "--version" {
			fmt.Printf("filterx %s\n", version)
			return nil
		}
		if arg == "--" {
			break
		}
	}

	parser, _, _ := buildParser(version)

	var err error
	if args != nil {
		_, err = parser.ParseArgs(args)
	} else {
		_, err = parser.Parse()
	}

	if err != nil {
		if flagsErr, ok := err.(*goflags.Error); ok {
			if flagsErr.Type == goflags.ErrHelp {
				return nil
			}
		}
		return err
	}

	return nil
}
