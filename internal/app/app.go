// Package app assembles the classification pipeline from configuration and
// applies settings changes to it while running.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/runnerr0/filterx/internal/activity"
	"github.com/runnerr0/filterx/internal/backend"
	"github.com/runnerr0/filterx/internal/cache"
	"github.com/runnerr0/filterx/internal/classify"
	"github.com/runnerr0/filterx/internal/config"
	"github.com/runnerr0/filterx/internal/dispatcher"
	"github.com/runnerr0/filterx/internal/local"
	"github.com/runnerr0/filterx/internal/queue"
	"github.com/runnerr0/filterx/internal/storage"
)

// Settings is the live, user-editable state shared with the extension.
type Settings struct {
	Aggressiveness config.Aggressiveness `json:"aggressiveness"`
	BackendURL     string                `json:"backendUrl"`
	Enabled        bool                  `json:"enabled"`
}

// App owns every long-lived component of a running FilterX instance.
type App struct {
	Store      storage.Store
	Logger     *slog.Logger
	Backend    *backend.Client // nil in local mode without a backend url
	Cache      *cache.Cache
	Queue      *queue.Queue[classify.Result]
	Batcher    *activity.Batcher
	Dispatcher *dispatcher.Dispatcher

	mu  sync.Mutex
	cfg *config.Config

	persistErrors atomic.Uint64
}

// New builds the pipeline and applies persisted settings over the config
// defaults.
func New(ctx context.Context, cfg *config.Config, store storage.Store, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Store: store, Logger: logger, cfg: cfg}

	if cfg.Backend.URL != "" {
		client, err := backend.FromConfig(cfg.Backend, logger.With("component", "backend"))
		if err != nil {
			return nil, err
		}
		a.Backend = client
	}

	var classifier classify.Classifier
	switch cfg.Classifier.Mode {
	case config.ModeLocal:
		classifier = local.New(cfg.Filter.TextKeywords, cfg.Filter.URLBlocklist)
	default:
		if a.Backend == nil {
			return nil, errors.New("remote classifier mode needs backend.url")
		}
		classifier = a.Backend
	}

	c, err := cache.New(cfg.Cache.Size)
	if err != nil {
		return nil, err
	}
	a.Cache = c

	a.Queue = queue.New[classify.Result](
		cfg.Queue.Aggressiveness.Concurrency(),
		queue.WithTaskTimeout(cfg.Backend.Timeout()),
		queue.WithLogger(logger.With("component", "queue")),
	)

	a.Batcher = activity.NewBatcher(store,
		activity.WithFlushDelay(cfg.Activity.FlushDelay()),
		activity.WithLogger(logger.With("component", "activity")),
		activity.WithErrorReporter(func(error) { a.persistErrors.Add(1) }),
	)

	a.Dispatcher, err = dispatcher.New(dispatcher.Options{
		Classifier:     classifier,
		Cache:          a.Cache,
		Queue:          a.Queue,
		Recorder:       a.Batcher,
		Allowlist:      local.NewAllowlist(cfg.Filter.AllowlistDomains),
		Aggressiveness: cfg.Queue.Aggressiveness,
		Logger:         logger.With("component", "dispatcher"),
	})
	if err != nil {
		return nil, err
	}
	a.Dispatcher.SetEnabled(cfg.Filter.Enabled)

	if err := a.loadPersisted(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

// loadPersisted applies stored settings. Invalid stored values are logged
// and ignored.
func (a *App) loadPersisted(ctx context.Context) error {
	for _, key := range []string{storage.KeyAggressiveness, storage.KeyBackendURL, storage.KeyEnabled} {
		v, ok, err := a.Store.GetSetting(ctx, key)
		if err != nil {
			return fmt.Errorf("loading setting %s: %w", key, err)
		}
		if !ok {
			continue
		}
		if err := a.apply(key, v); err != nil {
			a.Logger.Warn("ignoring stored setting", "key", key, "value", v, "error", err)
		}
	}
	return nil
}

// UpdateSetting validates, persists and applies one setting.
func (a *App) UpdateSetting(ctx context.Context, key, value string) error {
	if err := ValidateSetting(key, value); err != nil {
		return err
	}
	if err := a.Store.SetSetting(ctx, key, value); err != nil {
		return err
	}
	return a.apply(key, value)
}

// ValidateSetting checks a value for one of the persisted setting keys.
func ValidateSetting(key, value string) error {
	switch key {
	case storage.KeyAggressiveness:
		if !config.Aggressiveness(value).Valid() {
			return fmt.Errorf("invalid aggressiveness %q (light, normal or aggressive)", value)
		}
	case storage.KeyBackendURL:
		if _, err := backend.New(backend.Options{BaseURL: value}); err != nil {
			return err
		}
	case storage.KeyEnabled:
		if _, err := strconv.ParseBool(value); err != nil {
			return fmt.Errorf("invalid enabled value %q", value)
		}
	default:
		return fmt.Errorf("unknown setting %q", key)
	}
	return nil
}

func (a *App) apply(key, value string) error {
	if err := ValidateSetting(key, value); err != nil {
		return err
	}
	switch key {
	case storage.KeyAggressiveness:
		a.Dispatcher.SetAggressiveness(config.Aggressiveness(value))
	case storage.KeyBackendURL:
		if a.Backend == nil {
			a.Logger.Debug("backend url stored, classifier is local", "url", value)
			return nil
		}
		if value == a.Backend.BaseURL() {
			return nil
		}
		if err := a.Backend.SetBaseURL(value); err != nil {
			return err
		}
		// Verdicts from the old service no longer apply.
		a.Dispatcher.PurgeCache()
		a.Logger.Info("backend changed", "url", a.Backend.BaseURL())
	case storage.KeyEnabled:
		on, _ := strconv.ParseBool(value)
		a.Dispatcher.SetEnabled(on)
	}
	return nil
}

// Settings returns the live settings.
func (a *App) Settings() Settings {
	s := Settings{
		Aggressiveness: a.Dispatcher.Aggressiveness(),
		Enabled:        a.Dispatcher.Enabled(),
	}
	if a.Backend != nil {
		s.BackendURL = a.Backend.BaseURL()
	}
	return s
}

// ApplyConfig takes a reloaded config file into account. Persisted
// settings keep precedence over the file.
func (a *App) ApplyConfig(ctx context.Context, cfg *config.Config) {
	a.mu.Lock()
	prev := a.cfg
	a.cfg = cfg
	a.mu.Unlock()

	if fields := restartOnly(prev, cfg, a.Backend != nil); len(fields) > 0 {
		a.Logger.Warn("config changes need a restart to take effect", "fields", fields)
	}

	a.Dispatcher.SetAllowlist(local.NewAllowlist(cfg.Filter.AllowlistDomains))

	if _, ok, err := a.Store.GetSetting(ctx, storage.KeyAggressiveness); err == nil && !ok {
		a.Dispatcher.SetAggressiveness(cfg.Queue.Aggressiveness)
	}
	if _, ok, err := a.Store.GetSetting(ctx, storage.KeyEnabled); err == nil && !ok {
		a.Dispatcher.SetEnabled(cfg.Filter.Enabled)
	}
	if _, ok, err := a.Store.GetSetting(ctx, storage.KeyBackendURL); err == nil && !ok && cfg.Backend.URL != "" && a.Backend != nil {
		if err := a.apply(storage.KeyBackendURL, cfg.Backend.URL); err != nil {
			a.Logger.Warn("ignoring reloaded backend url", "error", err)
		}
	}
}

// restartOnly lists reloaded fields the running pipeline cannot pick up.
func restartOnly(prev, next *config.Config, hasBackend bool) []string {
	if prev == nil {
		return nil
	}
	var fields []string
	if prev.Classifier.Mode != next.Classifier.Mode {
		fields = append(fields, "classifier.mode")
	}
	if !hasBackend && next.Backend.URL != "" {
		fields = append(fields, "backend.url")
	}
	if prev.Backend.Protocol != next.Backend.Protocol {
		fields = append(fields, "backend.protocol")
	}
	if prev.Backend.TimeoutSeconds != next.Backend.TimeoutSeconds {
		fields = append(fields, "backend.timeout_seconds")
	}
	if prev.Backend.MaxRPS != next.Backend.MaxRPS || prev.Backend.Burst != next.Backend.Burst {
		fields = append(fields, "backend.max_rps")
	}
	if prev.Cache.Size != next.Cache.Size {
		fields = append(fields, "cache.size")
	}
	if prev.Activity.FlushDelayMillis != next.Activity.FlushDelayMillis {
		fields = append(fields, "activity.flush_delay_ms")
	}
	if prev.Daemon.Addr() != next.Daemon.Addr() {
		fields = append(fields, "daemon.addr")
	}
	return fields
}

// Config returns the config currently in effect.
func (a *App) Config() *config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// PersistenceErrors counts activity batches that failed to write.
func (a *App) PersistenceErrors() uint64 {
	return a.persistErrors.Load()
}

// Close drains the queue, waits for delivered verdicts to be recorded and
// flushes pending activity.
func (a *App) Close(ctx context.Context) error {
	qerr := a.Queue.Close(ctx)
	a.Dispatcher.Wait()
	berr := a.Batcher.Close(ctx)
	return errors.Join(qerr, berr)
}
