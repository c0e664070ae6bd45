package composite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aristath/composite/internal/events"
	"github.com/aristath/composite/internal/queue"
	"github.com/aristath/composite/internal/task"
)

// Mode selects how sub-tasks are ordered.
type Mode int

const (
	Parallel   Mode = iota // No ordering between sub-tasks
	Sequential             // Each sub-task waits for the previous one
)

func (m Mode) String() string {
	switch m {
	case Parallel:
		return "parallel"
	case Sequential:
		return "sequential"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Submitter accepts tasks for execution while honouring their dependencies.
// *queue.Queue is the standard implementation.
type Submitter interface {
	Submit(t task.Task) error
}

// CompletionFunc receives the aggregated outcome of a composite. Both slices
// have one entry per sub-task, in the order the sub-tasks were given.
type CompletionFunc func(results []any, errs []error)

// Option configures a Composite.
type Option func(*Composite)

// WithQueue runs the sub-tasks on q instead of queue.Default().
func WithQueue(q Submitter) Option {
	return func(c *Composite) {
		if q != nil {
			c.queue = q
		}
	}
}

// WithID sets the composite identifier.
func WithID(id string) Option {
	return func(c *Composite) {
		c.id = id
	}
}

// WithLogger sets the logger used for lifecycle diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Composite) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithEventBus publishes progress and completion events on bus.
func WithEventBus(bus *events.Bus) Option {
	return func(c *Composite) {
		c.bus = bus
	}
}

// Composite runs a fixed set of sub-tasks as one logical task and delivers
// their results and errors, in submission order, to a single completion
// callback.
//
// A Composite is itself a task.Task, so it can be nested inside another
// composite or submitted to a queue. A nested composite must not share a
// serial queue with the composite or queue that runs it.
type Composite struct {
	*task.Base

	id     string
	mode   Mode
	tasks  []task.Task // Fixed at construction
	queue  Submitter
	logger *slog.Logger
	bus    *events.Bus

	mu                    sync.Mutex
	registrationStarted   bool
	registrationCompleted bool
	attached              int    // Sub-tasks wired so far, a prefix of tasks
	recorded              []bool // Completion observed, per slot
	cancelSent            []bool // Cancel forwarded, per slot
	cancelled             bool
	observed              int
	results               []any
	errs                  []error
	ready                 bool // Internal readiness reached
	final                 []any
	finalErrs             []error
	completion            CompletionFunc
	completionSet         bool
	delivered             bool // finish() has claimed the callback
}

// New creates a parallel composite over tasks, kept in the given order.
func New(tasks []task.Task, opts ...Option) *Composite {
	for i, t := range tasks {
		if t == nil {
			panic(fmt.Sprintf("composite: nil sub-task at index %d", i))
		}
	}
	return newComposite(Parallel, append([]task.Task(nil), tasks...), opts)
}

// NewSequence creates a sequential composite. fn runs once, before
// NewSequence returns, and appends the sub-tasks in execution order.
func NewSequence(fn SequenceFunc, opts ...Option) *Composite {
	seq := &Sequence{}
	if fn != nil {
		fn(seq)
	}
	return newComposite(Sequential, seq.freeze(), opts)
}

func newComposite(mode Mode, tasks []task.Task, opts []Option) *Composite {
	c := &Composite{
		mode:       mode,
		tasks:      tasks,
		queue:      queue.Default(),
		logger:     slog.New(slog.DiscardHandler),
		recorded:   make([]bool, len(tasks)),
		cancelSent: make([]bool, len(tasks)),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.Base = task.NewBase(c.id)
	c.logger = c.logger.With("composite", c.ID(), "mode", mode.String())
	return c
}

// Mode reports whether the composite is parallel or sequential.
func (c *Composite) Mode() Mode {
	return c.mode
}

// Len returns the number of sub-tasks.
func (c *Composite) Len() int {
	return len(c.tasks)
}

// Tasks returns the sub-tasks in submission order.
func (c *Composite) Tasks() []task.Task {
	return append([]task.Task(nil), c.tasks...)
}

// SetCompletion installs the completion callback. It may be called at most
// once; a second call panics. When the composite already finished, fn is
// invoked immediately.
func (c *Composite) SetCompletion(fn CompletionFunc) {
	if fn == nil {
		panic("composite: nil completion")
	}

	c.mu.Lock()
	if c.completionSet {
		c.mu.Unlock()
		panic(fmt.Sprintf("composite %s: completion already set", c.ID()))
	}
	c.completion = fn
	c.completionSet = true
	late := c.delivered
	results, errs := c.final, c.finalErrs
	c.mu.Unlock()

	if late {
		fn(cloneResults(results), cloneErrs(errs))
	}
}

// Results returns the per-sub-task results once the composite finished, nil before.
func (c *Composite) Results() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneResults(c.final)
}

// Errors returns the per-sub-task errors once the composite finished, nil before.
func (c *Composite) Errors() []error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneErrs(c.finalErrs)
}

// Start registers the composite on every sub-task and submits them to the
// queue. Only the first call has an effect.
func (c *Composite) Start() {
	if !c.MarkRunning() {
		return
	}
	c.logger.Debug("composite starting", "tasks", len(c.tasks))
	c.register()
	c.submit()
}

// Cancel stops the composite. Every sub-task already wired receives one
// Cancel; sub-tasks wired later are cancelled instead of submitted. Calls
// after the first are no-ops. Cancelling before Start still completes the
// composite, with every slot reporting its sub-task's cancellation.
func (c *Composite) Cancel() {
	c.mu.Lock()
	if c.cancelled {
		c.mu.Unlock()
		return
	}
	c.cancelled = true
	var targets []task.Task
	for i := 0; i < c.attached; i++ {
		if !c.recorded[i] && c.claimCancelLocked(i) {
			targets = append(targets, c.tasks[i])
		}
	}
	registering := c.registrationStarted
	c.mu.Unlock()

	c.MarkCancelled()
	c.logger.Debug("composite cancelled", "forwarded", len(targets))

	// Later slots first, so a dependent is cancelled before its dependency
	// can finish and release it.
	for i := len(targets) - 1; i >= 0; i-- {
		targets[i].Cancel()
	}
	if !registering {
		c.register()
	}
}

// Run starts the composite and waits for it to finish. When ctx is done
// first, the composite is cancelled and Run still waits for its completion,
// then returns ctx.Err() alongside the aggregated slots.
func (c *Composite) Run(ctx context.Context) ([]any, []error, error) {
	c.Start()

	var err error
	select {
	case <-c.Done():
	case <-ctx.Done():
		err = ctx.Err()
		c.Cancel()
		<-c.Done()
	}
	return c.Results(), c.Errors(), err
}

// Wait blocks until the composite finished or ctx is done.
func (c *Composite) Wait(ctx context.Context) error {
	select {
	case <-c.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// register wires a completion observer and the cancellation link onto every
// sub-task, then closes the registration phase. Readiness cannot be reached
// before the phase is closed, even when sub-tasks finish while it is open.
func (c *Composite) register() {
	c.mu.Lock()
	if c.registrationStarted {
		c.mu.Unlock()
		return
	}
	c.registrationStarted = true
	c.results = make([]any, len(c.tasks))
	c.errs = make([]error, len(c.tasks))
	c.mu.Unlock()

	for i, t := range c.tasks {
		t.OnCompletion(c.observer(i))

		c.mu.Lock()
		c.attached = i + 1
		cancel := c.cancelled && !c.recorded[i] && c.claimCancelLocked(i)
		c.mu.Unlock()

		if cancel {
			t.Cancel()
		}
	}

	c.mu.Lock()
	c.registrationCompleted = true
	fire := c.checkReadyLocked()
	c.mu.Unlock()

	if fire {
		c.finish()
	}
}

// submit hands every live sub-task to the queue in submission order.
func (c *Composite) submit() {
	for i, t := range c.tasks {
		c.mu.Lock()
		skip := c.cancelled || c.recorded[i]
		c.mu.Unlock()
		if skip {
			continue
		}

		err := c.queue.Submit(t)
		switch {
		case err == nil:
		case errors.Is(err, queue.ErrAlreadySubmitted):
			c.logger.Debug("sub-task already queued", "index", i, "task", t.ID())
		default:
			c.logger.Warn("sub-task rejected by queue, cancelling it", "index", i, "task", t.ID(), "error", err)
			c.mu.Lock()
			cancel := c.claimCancelLocked(i)
			c.mu.Unlock()
			if cancel {
				t.Cancel()
			}
		}
	}
}

// observer returns the completion handler for slot i.
func (c *Composite) observer(i int) task.CompletionHandler {
	return func(result any, err error) {
		c.mu.Lock()
		if c.recorded[i] {
			c.mu.Unlock()
			return
		}
		c.recorded[i] = true
		c.results[i] = result
		c.errs[i] = err
		c.observed++
		observed := c.observed
		fire := c.checkReadyLocked()
		c.mu.Unlock()

		c.bus.Publish(events.CompositeProgressEvent{
			ID:        c.ID(),
			Index:     i,
			Observed:  observed,
			Total:     len(c.tasks),
			Failed:    err != nil,
			Timestamp: time.Now(),
		})

		if fire {
			c.finish()
		}
	}
}

// checkReadyLocked reports, exactly once, that registration is closed and
// every slot has been recorded. On that call it snapshots the public slots.
func (c *Composite) checkReadyLocked() bool {
	if c.ready || !c.registrationCompleted || c.observed < len(c.tasks) {
		return false
	}
	c.ready = true
	c.final = cloneResults(c.results)
	c.finalErrs = cloneErrs(c.errs)
	return true
}

func (c *Composite) claimCancelLocked(i int) bool {
	if c.cancelSent[i] {
		return false
	}
	c.cancelSent[i] = true
	return true
}

// finish delivers the aggregated slots to the callback and completes the
// composite's own task state.
func (c *Composite) finish() {
	c.mu.Lock()
	c.delivered = true
	completion := c.completion
	results, errs := c.final, c.finalErrs
	cancelled := c.cancelled
	c.mu.Unlock()

	failed := 0
	for _, err := range errs {
		if err != nil {
			failed++
		}
	}
	c.logger.Debug("composite finished", "tasks", len(results), "failed", failed, "cancelled", cancelled)
	c.bus.Publish(events.CompositeCompletedEvent{
		ID:        c.ID(),
		Mode:      c.mode.String(),
		Total:     len(results),
		Failed:    failed,
		Cancelled: cancelled,
		Timestamp: time.Now(),
	})

	if completion != nil {
		completion(cloneResults(results), cloneErrs(errs))
	}

	var err error
	if se := newSlotErrors(cloneErrs(errs)); se != nil {
		err = se
	}
	c.Complete(cloneResults(results), err)
}

func cloneResults(results []any) []any {
	if results == nil {
		return nil
	}
	return append(make([]any, 0, len(results)), results...)
}

func cloneErrs(errs []error) []error {
	if errs == nil {
		return nil
	}
	return append(make([]error, 0, len(errs)), errs...)
}
