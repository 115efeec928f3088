package cli

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/runnerr0/filterx/internal/app"
	"github.com/runnerr0/filterx/internal/config"
	"github.com/runnerr0/filterx/internal/daemon"
	"github.com/runnerr0/filterx/internal/storage"
)

// settingsJSON is the JSON output of the settings command.
type settingsJSON struct {
	Aggressiveness string `json:"aggressiveness"`
	BackendURL     string `json:"backendUrl"`
	Enabled        bool   `json:"enabled"`
	Live           bool   `json:"live"`
}

// Execute implements the go-flags Commander interface for SettingsCommand.
func (c *SettingsCommand) Execute(args []string) error {
	cfg, store, _, err := setup(c.globals)
	if err != nil {
		return err
	}
	defer store.Close()

	client := daemon.NewClient(cfg.Daemon.Addr(), cfg.Daemon.AuthToken)
	return c.executeWithStore(context.Background(), cfg, store, client)
}

// executeWithStore shows or changes settings. When the daemon is reachable
// changes go through it so they apply at once; otherwise they are written
// to the store and picked up on the next start.
func (c *SettingsCommand) executeWithStore(ctx context.Context, cfg *config.Config, store storage.Store, client *daemon.Client) error {
	key, value := c.Args.Key, c.Args.Value
	if key != "" && value == "" {
		return fmt.Errorf("settings %s: value is required", key)
	}

	live := false
	if client != nil {
		pctx, cancel := context.WithTimeout(ctx, time.Second)
		_, err := client.Status(pctx)
		cancel()
		live = err == nil
	}

	if key != "" {
		if err := app.ValidateSetting(key, value); err != nil {
			return err
		}
		if live {
			if _, err := client.UpdateSettings(ctx, patchFor(key, value)); err != nil {
				return fmt.Errorf("update daemon settings: %w", err)
			}
		} else if err := store.SetSetting(ctx, key, value); err != nil {
			return fmt.Errorf("save setting: %w", err)
		}
	}

	out, err := c.current(ctx, cfg, store, client, live)
	if err != nil {
		return err
	}

	if jsonOutput(c.globals) {
		return writeJSON(os.Stdout, out)
	}
	if key != "" {
		fmt.Printf("Set %s = %s\n", key, value)
		if !live {
			fmt.Println("Daemon not running; the change applies on next start.")
		}
		return nil
	}
	enabled := "on"
	if !out.Enabled {
		enabled = "off"
	}
	fmt.Printf("aggressiveness  %s\n", out.Aggressiveness)
	fmt.Printf("backendUrl      %s\n", out.BackendURL)
	fmt.Printf("enabled         %s\n", enabled)
	return nil
}

func (c *SettingsCommand) current(ctx context.Context, cfg *config.Config, store storage.Store, client *daemon.Client, live bool) (settingsJSON, error) {
	if live {
		s, err := client.Settings(ctx)
		if err == nil {
			return settingsJSON{
				Aggressiveness: string(s.Aggressiveness),
				BackendURL:     s.BackendURL,
				Enabled:        s.Enabled,
				Live:           true,
			}, nil
		}
	}
	var st statusJSON
	if err := effectiveSettings(ctx, cfg, store, &st); err != nil {
		return settingsJSON{}, err
	}
	return settingsJSON{
		Aggressiveness: st.Aggressiveness,
		BackendURL:     st.BackendURL,
		Enabled:        st.Enabled,
	}, nil
}

func patchFor(key, value string) daemon.SettingsPatch {
	var p daemon.SettingsPatch
	switch key {
	case storage.KeyAggressiveness:
		p.Aggressiveness = &value
	case storage.KeyBackendURL:
		p.BackendURL = &value
	case storage.KeyEnabled:
		on, _ := strconv.ParseBool(value)
		p.Enabled = &on
	}
	return p
}
