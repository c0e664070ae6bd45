package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aristath/composite/internal/events"
	"github.com/aristath/composite/internal/task"
)

var (
	// ErrAlreadySubmitted is returned when a task still in flight is submitted again.
	ErrAlreadySubmitted = errors.New("task already submitted")
	// ErrNilTask is returned by Submit(nil).
	ErrNilTask = errors.New("nil task")
)

// Option configures a Queue.
type Option func(*Queue)

// WithMaxConcurrency bounds the number of tasks running at once. n <= 0 means
// unlimited; 1 makes the queue strictly serial.
func WithMaxConcurrency(n int) Option {
	return func(q *Queue) {
		q.maxConcurrency = n
	}
}

// WithName labels the queue in logs and events.
func WithName(name string) Option {
	return func(q *Queue) {
		q.name = name
	}
}

// WithLogger sets the logger used for queue diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) {
		if logger != nil {
			q.logger = logger
		}
	}
}

// WithEventBus publishes task lifecycle events on bus.
func WithEventBus(bus *events.Bus) Option {
	return func(q *Queue) {
		q.bus = bus
	}
}

// Queue runs submitted tasks once their dependencies have finished. Among
// ready tasks, submission order decides who starts first when the
// concurrency limit is reached.
type Queue struct {
	name           string
	maxConcurrency int
	logger         *slog.Logger
	bus            *events.Bus
	locks          *resourceLocks

	mu        sync.Mutex
	pending   []task.Task             // Submitted, not started, in submission order
	running   map[task.Task]time.Time // Started tasks -> start time
	submitted map[task.Task]struct{}  // Every task in flight
	idle      chan struct{}           // Closed while nothing is in flight
}

// New creates a queue. Without options it is concurrent and unbounded.
func New(opts ...Option) *Queue {
	idle := make(chan struct{})
	close(idle)

	q := &Queue{
		name:      "queue",
		logger:    slog.New(slog.DiscardHandler),
		locks:     newResourceLocks(),
		running:   make(map[task.Task]time.Time),
		submitted: make(map[task.Task]struct{}),
		idle:      idle,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// NewSerial creates a queue that runs one task at a time.
func NewSerial(opts ...Option) *Queue {
	return New(append(opts, WithMaxConcurrency(1))...)
}

var (
	defaultOnce  sync.Once
	defaultQueue *Queue
)

// Default returns the process-wide concurrent queue.
func Default() *Queue {
	defaultOnce.Do(func() {
		defaultQueue = New(WithName("default"))
	})
	return defaultQueue
}

// Name returns the queue label.
func (q *Queue) Name() string {
	return q.name
}

// MaxConcurrency returns the configured limit (<= 0 means unlimited).
func (q *Queue) MaxConcurrency() int {
	return q.maxConcurrency
}

// Submit accepts t for execution. The task starts once every task it depends
// on has finished. Tasks that already finished are accepted and ignored.
func (q *Queue) Submit(t task.Task) error {
	if t == nil {
		return ErrNilTask
	}

	if _, err := dependencyOrder(t); err != nil {
		return fmt.Errorf("submitting task %q: %w", t.ID(), err)
	}

	q.mu.Lock()
	if _, ok := q.submitted[t]; ok {
		q.mu.Unlock()
		return fmt.Errorf("submitting task %q: %w", t.ID(), ErrAlreadySubmitted)
	}
	if t.IsFinished() {
		q.mu.Unlock()
		return nil
	}
	q.submitted[t] = struct{}{}
	if len(q.submitted) == 1 {
		q.idle = make(chan struct{})
	}
	q.pending = append(q.pending, t)
	q.mu.Unlock()

	deps := t.Dependencies()
	q.logger.Debug("task queued", "queue", q.name, "task", t.ID(), "dependencies", len(deps))
	q.bus.Publish(events.TaskQueuedEvent{
		ID:           t.ID(),
		Queue:        q.name,
		Dependencies: len(deps),
		Timestamp:    time.Now(),
	})

	go q.watch(t, deps)
	q.dispatch()
	return nil
}

// Len returns the number of submitted tasks that have not finished.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.submitted)
}

// Running returns the number of tasks currently started and unfinished.
func (q *Queue) Running() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.running)
}

// Wait blocks until every submitted task has finished or ctx is done.
func (q *Queue) Wait(ctx context.Context) error {
	for {
		q.mu.Lock()
		if len(q.submitted) == 0 {
			q.mu.Unlock()
			return nil
		}
		idle := q.idle
		q.mu.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// watch re-evaluates the queue when t's dependencies finish and does the
// bookkeeping once t itself finishes.
func (q *Queue) watch(t task.Task, deps []task.Task) {
	for _, dep := range deps {
		select {
		case <-dep.Done():
		case <-t.Done():
		}
	}
	q.dispatch()

	<-t.Done()
	q.finished(t)
}

// dispatch starts every ready pending task the concurrency limit allows.
func (q *Queue) dispatch() {
	q.mu.Lock()
	var ready []task.Task
	remaining := q.pending[:0]
	for _, t := range q.pending {
		switch {
		case t.IsFinished():
			// Cancelled while waiting; finished() does the bookkeeping.
		case q.hasCapacityLocked(len(ready)) && dependenciesFinished(t):
			ready = append(ready, t)
		default:
			remaining = append(remaining, t)
		}
	}
	clear(q.pending[len(remaining):])
	q.pending = remaining

	now := time.Now()
	for _, t := range ready {
		q.running[t] = now
	}
	q.mu.Unlock()

	for _, t := range ready {
		go q.execute(t)
	}
}

func (q *Queue) hasCapacityLocked(starting int) bool {
	return q.maxConcurrency <= 0 || len(q.running)+starting < q.maxConcurrency
}

// execute starts t while holding its resource claims until it finishes.
func (q *Queue) execute(t task.Task) {
	var claims []string
	if rc, ok := t.(task.ResourceClaimer); ok {
		claims = q.locks.lockAll(rc.Resources())
	}
	defer q.locks.unlockAll(claims)

	q.logger.Debug("task started", "queue", q.name, "task", t.ID())
	q.bus.Publish(events.TaskStartedEvent{
		ID:        t.ID(),
		Queue:     q.name,
		Timestamp: time.Now(),
	})

	t.Start()
	<-t.Done()
}

func (q *Queue) finished(t task.Task) {
	q.mu.Lock()
	startedAt, wasRunning := q.running[t]
	delete(q.running, t)
	delete(q.submitted, t)
	if len(q.submitted) == 0 {
		close(q.idle)
	}
	q.mu.Unlock()

	var duration time.Duration
	if wasRunning {
		duration = time.Since(startedAt)
	}
	status := t.Status()
	var err error
	if f, ok := t.(interface{ Outcome() (any, error) }); ok {
		_, err = f.Outcome()
	}

	q.logger.Debug("task finished", "queue", q.name, "task", t.ID(), "status", status.String(), "duration", duration)
	q.bus.Publish(events.TaskFinishedEvent{
		ID:        t.ID(),
		Queue:     q.name,
		Status:    status.String(),
		Err:       err,
		Duration:  duration,
		Timestamp: time.Now(),
	})

	q.dispatch()
}
