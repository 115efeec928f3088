// Package queue implements a FIFO admission queue with a ceiling on the
// number of tasks running at once. The ceiling can be changed while jobs
// are pending and takes effect immediately.
package queue

import (
	"container/list"
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

var (
	// ErrQueueClosed is delivered to jobs still pending when the queue closes
	// and returned by Submit afterwards.
	ErrQueueClosed = errors.New("queue closed")
)

// Task is the unit of work. The context carries the submitter's
// cancellation and the queue's task timeout.
type Task[T any] func(ctx context.Context) (T, error)

// Outcome is what a task settled with.
type Outcome[T any] struct {
	Value T
	Err   error
}

// Stats is a point-in-time view of the queue.
type Stats struct {
	InFlight int `json:"in_flight"`
	Pending  int `json:"pending"`
	Limit    int `json:"limit"`
}

type job[T any] struct {
	ctx  context.Context
	task Task[T]
	done chan Outcome[T]
	elem *list.Element
}

// Option configures a Queue.
type Option func(*options)

type options struct {
	taskTimeout time.Duration
	logger      *slog.Logger
}

// WithTaskTimeout bounds each task. Zero disables the bound.
func WithTaskTimeout(d time.Duration) Option {
	return func(o *options) { o.taskTimeout = d }
}

// WithLogger sets the logger used for admission events.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Queue admits tasks in submission order while keeping at most Limit of
// them running.
type Queue[T any] struct {
	mu       sync.Mutex
	pending  *list.List
	inFlight int
	limit    int
	closed   bool

	opts options
	wg   sync.WaitGroup
}

// New creates a queue with the given ceiling. Values below 1 become 1.
func New[T any](limit int, opts ...Option) *Queue[T] {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Queue[T]{
		pending: list.New(),
		limit:   clampLimit(limit),
		opts:    o,
	}
}

func clampLimit(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

// Submit enqueues task and returns a channel that receives exactly one
// Outcome. It never blocks.
func (q *Queue[T]) Submit(ctx context.Context, task Task[T]) <-chan Outcome[T] {
	j := &job[T]{ctx: ctx, task: task, done: make(chan Outcome[T], 1)}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		j.done <- Outcome[T]{Err: ErrQueueClosed}
		return j.done
	}
	j.elem = q.pending.PushBack(j)
	q.mu.Unlock()

	q.drain()
	return j.done
}

// Do submits task and waits for its outcome. If ctx ends while the job is
// still pending it is withdrawn and ctx.Err() is returned; a job that has
// already started observes the same cancellation through its context.
func (q *Queue[T]) Do(ctx context.Context, task Task[T]) (T, error) {
	j := &job[T]{ctx: ctx, task: task, done: make(chan Outcome[T], 1)}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		var zero T
		return zero, ErrQueueClosed
	}
	j.elem = q.pending.PushBack(j)
	q.mu.Unlock()

	q.drain()

	select {
	case out := <-j.done:
		return out.Value, out.Err
	case <-ctx.Done():
		if q.withdraw(j) {
			var zero T
			return zero, ctx.Err()
		}
		out := <-j.done
		return out.Value, out.Err
	}
}

// withdraw removes a job that has not started yet.
func (q *Queue[T]) withdraw(j *job[T]) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if j.elem == nil {
		return false
	}
	q.pending.Remove(j.elem)
	j.elem = nil
	return true
}

// SetLimit changes the ceiling and immediately starts as many pending jobs
// as the new ceiling allows. Lowering it never interrupts running tasks.
func (q *Queue[T]) SetLimit(n int) {
	n = clampLimit(n)
	q.mu.Lock()
	old := q.limit
	q.limit = n
	q.mu.Unlock()

	if old != n {
		q.opts.logger.Info("queue concurrency changed", "from", old, "to", n)
	}
	q.drain()
}

// Limit returns the current ceiling.
func (q *Queue[T]) Limit() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.limit
}

// Stats returns counters for status reporting.
func (q *Queue[T]) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{InFlight: q.inFlight, Pending: q.pending.Len(), Limit: q.limit}
}

// drain starts pending jobs while below the ceiling.
func (q *Queue[T]) drain() {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.inFlight < q.limit && q.pending.Len() > 0 {
		j := q.pending.Remove(q.pending.Front()).(*job[T])
		j.elem = nil
		if err := j.ctx.Err(); err != nil {
			j.done <- Outcome[T]{Err: err}
			continue
		}
		q.inFlight++
		q.wg.Add(1)
		go q.run(j)
	}
}

func (q *Queue[T]) run(j *job[T]) {
	defer q.wg.Done()

	ctx := j.ctx
	cancel := func() {}
	if q.opts.taskTimeout > 0 {
		ctx, cancel = context.WithTimeout(j.ctx, q.opts.taskTimeout)
	}
	v, err := j.task(ctx)
	cancel()

	q.mu.Lock()
	q.inFlight--
	q.mu.Unlock()

	j.done <- Outcome[T]{Value: v, Err: err}

	// Runs on the finished task's goroutine, never the submitter's.
	q.drain()
}

// Close rejects pending jobs with ErrQueueClosed and waits for running
// tasks to finish or ctx to end.
func (q *Queue[T]) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	for e := q.pending.Front(); e != nil; e = q.pending.Front() {
		j := q.pending.Remove(e).(*job[T])
		j.elem = nil
		j.done <- Outcome[T]{Err: ErrQueueClosed}
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
