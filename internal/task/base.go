package task

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Base carries the lifecycle bookkeeping shared by every task kind: identity,
// status, dependency edges, completion handlers and the done channel.
// Concrete tasks embed *Base and supply Start and Cancel.
type Base struct {
	id string

	mu        sync.Mutex
	status    Status
	cancelled bool
	deps      []Task
	handlers  []CompletionHandler
	result    any
	err       error
	done      chan struct{}
}

// NewBase creates pending task state. An empty id is replaced with a random UUID.
func NewBase(id string) *Base {
	if id == "" {
		id = uuid.NewString()
	}
	return &Base{
		id:   id,
		done: make(chan struct{}),
	}
}

// ID returns the task identifier.
func (b *Base) ID() string {
	return b.id
}

// AddDependency declares that the task may not start before dep finishes.
// Adding a dependency once the task left the pending state is a programming
// error and panics.
func (b *Base) AddDependency(dep Task) {
	if dep == nil {
		panic(fmt.Sprintf("task %s: nil dependency", b.id))
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.status != StatusPending {
		panic(fmt.Sprintf("task %s: dependency %s added after start", b.id, dep.ID()))
	}
	b.deps = append(b.deps, dep)
}

// Dependencies returns a copy of the declared dependencies.
func (b *Base) Dependencies() []Task {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Task(nil), b.deps...)
}

// OnCompletion registers h to receive the task outcome. If the task already
// finished, h runs immediately on the caller's goroutine.
func (b *Base) OnCompletion(h CompletionHandler) {
	if h == nil {
		return
	}

	b.mu.Lock()
	if b.status.Terminal() {
		result, err := b.result, b.err
		b.mu.Unlock()
		h(result, err)
		return
	}
	b.handlers = append(b.handlers, h)
	b.mu.Unlock()
}

// Done is closed once the task has finished.
func (b *Base) Done() <-chan struct{} {
	return b.done
}

// Status returns the current status.
func (b *Base) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

// IsFinished reports whether a completion has been recorded.
func (b *Base) IsFinished() bool {
	return b.Status().Terminal()
}

// IsCancelled reports whether cancellation was requested.
func (b *Base) IsCancelled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cancelled
}

// Outcome returns the recorded result and error. Both are zero until the task finishes.
func (b *Base) Outcome() (any, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.result, b.err
}

// MarkRunning moves the task from pending to running. It returns false when
// the task already left the pending state.
func (b *Base) MarkRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.status != StatusPending {
		return false
	}
	b.status = StatusRunning
	return true
}

// MarkCancelled records a cancellation request. first is true only for the
// call that set the flag; pending reports whether the task had not started.
func (b *Base) MarkCancelled() (first, pending bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cancelled {
		return false, b.status == StatusPending
	}
	b.cancelled = true
	return true, b.status == StatusPending
}

// Complete records the outcome, closes Done and runs the registered handlers.
// Only the first call has any effect; it returns false afterwards.
func (b *Base) Complete(result any, err error) bool {
	b.mu.Lock()
	if b.status.Terminal() {
		b.mu.Unlock()
		return false
	}

	switch {
	case err == nil:
		b.status = StatusSucceeded
	case errors.Is(err, ErrCancelled):
		b.status = StatusCancelled
	default:
		b.status = StatusFailed
	}
	b.result = result
	b.err = err
	handlers := b.handlers
	b.handlers = nil
	close(b.done)
	b.mu.Unlock()

	for _, h := range handlers {
		h(result, err)
	}
	return true
}
