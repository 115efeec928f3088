// Package dispatcher is the single classify entry point: cache lookup,
// admission through the queue, and activity logging of fresh verdicts.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/runnerr0/filterx/internal/cache"
	"github.com/runnerr0/filterx/internal/classify"
	"github.com/runnerr0/filterx/internal/config"
	"github.com/runnerr0/filterx/internal/local"
	"github.com/runnerr0/filterx/internal/queue"
)

var errLeaderGone = errors.New("request abandoned by its caller")

// Recorder receives one activity line per fresh verdict.
type Recorder interface {
	Record(action string)
}

// Outcome is what a caller gets back: a verdict or a tagged error.
type Outcome struct {
	Result *classify.Result
	Err    string
	Cached bool
}

// Failed reports whether the outcome carries an error.
func (o Outcome) Failed() bool {
	return o.Err != ""
}

// Decision is the render decision. Errors fail open.
func (o Outcome) Decision() string {
	if o.Result == nil {
		return classify.Allow
	}
	return o.Result.Decision()
}

// MarshalJSON encodes either the verdict fields or {"error": "..."}.
func (o Outcome) MarshalJSON() ([]byte, error) {
	if o.Result == nil {
		return json.Marshal(struct {
			Error string `json:"error"`
		}{o.Err})
	}
	return json.Marshal(struct {
		classify.Result
		Cached bool `json:"cached,omitempty"`
	}{*o.Result, o.Cached})
}

// Stats is a snapshot for status reporting.
type Stats struct {
	Queue          queue.Stats           `json:"queue"`
	Aggressiveness config.Aggressiveness `json:"aggressiveness"`
	Enabled        bool                  `json:"enabled"`
	CacheEntries   int                   `json:"cache_entries"`
	CacheHits      uint64                `json:"cache_hits"`
	CacheMisses    uint64                `json:"cache_misses"`
	Errors         uint64                `json:"errors"`
}

// Options wires the dispatcher's collaborators. Classifier, Cache, Queue
// and Recorder are required.
type Options struct {
	Classifier     classify.Classifier
	Cache          *cache.Cache
	Queue          *queue.Queue[classify.Result]
	Recorder       Recorder
	Allowlist      *local.Allowlist
	Aggressiveness config.Aggressiveness
	Logger         *slog.Logger
}

// Dispatcher routes classification requests. It is safe for concurrent use.
type Dispatcher struct {
	classifier classify.Classifier
	cache      *cache.Cache
	queue      *queue.Queue[classify.Result]
	recorder   Recorder
	logger     *slog.Logger
	group      singleflight.Group

	mu        sync.RWMutex
	allowlist *local.Allowlist
	level     config.Aggressiveness

	flightMu sync.Mutex
	flights  sync.WaitGroup
	draining bool

	enabled atomic.Bool
	hits    atomic.Uint64
	misses  atomic.Uint64
	errs    atomic.Uint64
}

// New validates opts, applies the initial aggressiveness and returns a
// ready dispatcher. Filtering starts enabled.
func New(opts Options) (*Dispatcher, error) {
	if opts.Classifier == nil || opts.Cache == nil || opts.Queue == nil || opts.Recorder == nil {
		return nil, errors.New("dispatcher: classifier, cache, queue and recorder are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		classifier: opts.Classifier,
		cache:      opts.Cache,
		queue:      opts.Queue,
		recorder:   opts.Recorder,
		logger:     logger,
		allowlist:  opts.Allowlist,
	}
	d.enabled.Store(true)
	d.SetAggressiveness(config.ParseAggressiveness(string(opts.Aggressiveness)))
	return d, nil
}

// ClassifyImage classifies base64 image data.
func (d *Dispatcher) ClassifyImage(ctx context.Context, data string) Outcome {
	return d.Classify(ctx, classify.NewRequest(classify.Image, data))
}

// ClassifyText classifies a block of page text.
func (d *Dispatcher) ClassifyText(ctx context.Context, text string) Outcome {
	return d.Classify(ctx, classify.NewRequest(classify.Text, text))
}

// ClassifyURL classifies a URL.
func (d *Dispatcher) ClassifyURL(ctx context.Context, rawURL string) Outcome {
	return d.Classify(ctx, classify.NewRequest(classify.URL, rawURL))
}

// Classify returns a cached verdict when one exists; otherwise it waits for
// a queue slot, calls the classifier, caches the verdict and records one
// activity line. Failures come back as a tagged Outcome and leave both the
// cache and the activity log untouched. Backend failures are not retried.
func (d *Dispatcher) Classify(ctx context.Context, req classify.Request) Outcome {
	if !d.enabled.Load() {
		r := classify.AllowResult("filtering disabled")
		return Outcome{Result: &r}
	}
	if req.Kind == classify.URL && d.allowed(req.Payload) {
		r := classify.AllowResult("allowlisted site")
		return Outcome{Result: &r}
	}

	if r, ok := d.cache.Get(req.Fingerprint); ok {
		d.hits.Add(1)
		return Outcome{Result: &r, Cached: true}
	}
	d.misses.Add(1)

	for attempt := 0; ; attempt++ {
		res, err := d.shared(ctx, req)
		if err == nil {
			return Outcome{Result: &res}
		}
		// The caller that started the shared call went away; a joiner
		// that is still waiting gets one fresh attempt of its own.
		if errors.Is(err, errLeaderGone) && ctx.Err() == nil && attempt == 0 {
			d.logger.Debug("shared classification abandoned, retrying",
				"kind", req.Kind.String())
			continue
		}
		return d.fail(req, err)
	}
}

// shared runs the backend call for req, coalescing concurrent identical
// requests. A joining caller inherits the leader's outcome.
func (d *Dispatcher) shared(ctx context.Context, req classify.Request) (classify.Result, error) {
	ch := d.group.DoChan(req.Fingerprint, func() (interface{}, error) {
		defer d.track()()
		res, err := d.queue.Do(ctx, func(tctx context.Context) (classify.Result, error) {
			return d.classifier.Classify(tctx, req)
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %w", errLeaderGone, err)
			}
			return nil, err
		}
		d.cache.Put(req.Fingerprint, res)
		d.recorder.Record(classify.LogAction(req.Kind, res))
		return res, nil
	})

	select {
	case r := <-ch:
		if r.Err != nil {
			return classify.Result{}, r.Err
		}
		return r.Val.(classify.Result), nil
	case <-ctx.Done():
		return classify.Result{}, ctx.Err()
	}
}

// track registers a running shared call with Wait. Once Wait has started
// nothing new is tracked.
func (d *Dispatcher) track() (done func()) {
	d.flightMu.Lock()
	defer d.flightMu.Unlock()
	if d.draining {
		return func() {}
	}
	d.flights.Add(1)
	return d.flights.Done
}

// Wait blocks until every running shared call has cached and recorded its
// verdict. Close the queue first so no new calls start.
func (d *Dispatcher) Wait() {
	d.flightMu.Lock()
	d.draining = true
	d.flightMu.Unlock()
	d.flights.Wait()
}

func (d *Dispatcher) fail(req classify.Request, err error) Outcome {
	d.errs.Add(1)
	id := uuid.NewString()
	d.logger.Warn("classification failed, allowing",
		"request_id", id, "kind", req.Kind.String(), "error", err)
	return Outcome{Err: fmt.Sprintf("classify %s: %v", req.Kind, err)}
}

func (d *Dispatcher) allowed(rawURL string) bool {
	d.mu.RLock()
	a := d.allowlist
	d.mu.RUnlock()
	return a.Allows(rawURL)
}

// SetAggressiveness maps the level to a concurrency ceiling and applies it
// to the queue at once.
func (d *Dispatcher) SetAggressiveness(a config.Aggressiveness) {
	a = config.ParseAggressiveness(string(a))
	d.mu.Lock()
	changed := d.level != a
	d.level = a
	d.mu.Unlock()

	d.queue.SetLimit(a.Concurrency())
	if changed {
		d.logger.Info("aggressiveness set", "level", a.String(), "concurrency", a.Concurrency())
	}
}

// Aggressiveness returns the current level.
func (d *Dispatcher) Aggressiveness() config.Aggressiveness {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.level
}

// SetEnabled turns filtering on or off. While off every request is allowed
// without classification or logging.
func (d *Dispatcher) SetEnabled(on bool) {
	if d.enabled.Swap(on) != on {
		d.logger.Info("filtering toggled", "enabled", on)
	}
}

// Enabled reports whether filtering is on.
func (d *Dispatcher) Enabled() bool {
	return d.enabled.Load()
}

// SetAllowlist replaces the trusted-site list.
func (d *Dispatcher) SetAllowlist(a *local.Allowlist) {
	d.mu.Lock()
	d.allowlist = a
	d.mu.Unlock()
}

// PurgeCache drops every cached verdict.
func (d *Dispatcher) PurgeCache() {
	d.cache.Purge()
}

// Stats returns a snapshot of queue, cache and error counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Queue:          d.queue.Stats(),
		Aggressiveness: d.Aggressiveness(),
		Enabled:        d.Enabled(),
		CacheEntries:   d.cache.Len(),
		CacheHits:      d.hits.Load(),
		CacheMisses:    d.misses.Load(),
		Errors:         d.errs.Load(),
	}
}
