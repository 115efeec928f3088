package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/runnerr0/filterx/internal/activity"
	"github.com/runnerr0/filterx/internal/app"
	"github.com/runnerr0/filterx/internal/config"
	"github.com/runnerr0/filterx/internal/daemon"
	"github.com/runnerr0/filterx/internal/logging"
	"github.com/runnerr0/filterx/internal/storage"
)

const shutdownGrace = 10 * time.Second

// Execute implements the go-flags Commander interface for ServeCommand.
func (c *ServeCommand) Execute(args []string) error {
	cfg, path, err := loadConfig(c.globals)
	if err != nil {
		return err
	}
	c.applyOverrides(cfg)

	logPath, err := cfg.LogPath()
	if err != nil {
		return err
	}
	logger, closer, err := logging.New(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   logPath,
		Stderr: os.Stderr,
	})
	if err != nil {
		return err
	}
	defer closer.Close()

	store, dbPath, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	logger.Info("database opened", "path", dbPath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return c.run(ctx, cfg, path, store, logger, nil)
}

func (c *ServeCommand) applyOverrides(cfg *config.Config) {
	if c.Host != "" {
		cfg.Daemon.Host = c.Host
	}
	if c.Port > 0 {
		cfg.Daemon.Port = c.Port
	}
	if c.LogLevel != "" {
		cfg.Logging.Level = c.LogLevel
	}
	if c.globals != nil && c.globals.Verbose {
		cfg.Logging.Level = "debug"
	}
}

// run serves until ctx is done. A nil ln listens on the configured address.
func (c *ServeCommand) run(ctx context.Context, cfg *config.Config, path string, store storage.Store, logger *slog.Logger, ln net.Listener) error {
	a, err := app.New(ctx, cfg, store, logger)
	if err != nil {
		return fmt.Errorf("start pipeline: %w", err)
	}

	if cfg.Activity.RetentionDays > 0 {
		retention, err := activity.NewRetention(store, cfg.Activity.PruneSchedule, cfg.Activity.RetentionDays,
			logger.With("component", "retention"))
		if err != nil {
			a.Close(ctx) //nolint:errcheck
			return err
		}
		if n, err := retention.PruneNow(ctx); err != nil {
			logger.Warn("startup prune failed", "error", err)
		} else if n > 0 {
			logger.Info("pruned activity log", "deleted", n)
		}
		retention.Start()
		defer retention.Stop()
	}

	if !c.NoWatch && path != "" {
		w, err := config.NewWatcher(path, cfg, logger.With("component", "config"))
		if err != nil {
			logger.Warn("config reload disabled", "error", err)
		} else {
			w.OnChange(func(next *config.Config) { a.ApplyConfig(ctx, next) })
			go w.Run(ctx) //nolint:errcheck
		}
	}

	logger.Info("filterx starting",
		"version", c.version,
		"mode", cfg.Classifier.Mode,
		"backend", a.Settings().BackendURL,
		"aggressiveness", a.Settings().Aggressiveness)

	srv := daemon.New(a, cfg.Daemon, c.version, logger.With("component", "daemon"))
	var serveErr error
	if ln != nil {
		serveErr = srv.Serve(ctx, ln)
	} else {
		serveErr = srv.ListenAndServe(ctx)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	closeErr := a.Close(shutdownCtx)
	if closeErr != nil {
		logger.Error("shutdown incomplete", "error", closeErr)
	}
	return errors.Join(serveErr, closeErr)
}
