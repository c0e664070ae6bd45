package task

import (
	"errors"
	"fmt"
)

// ErrCancelled is carried (possibly wrapped) by every task that finished
// because it was cancelled.
var ErrCancelled = errors.New("task cancelled")

// Status represents the current state of a task.
type Status int

const (
	StatusPending   Status = iota // Not started yet
	StatusRunning                 // Start was called, completion not reported
	StatusSucceeded               // Finished without error
	StatusFailed                  // Finished with error
	StatusCancelled               // Finished with an error wrapping ErrCancelled
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCancelled
}

// CompletionHandler receives the outcome of a task. Each registered handler
// is invoked exactly once.
type CompletionHandler func(result any, err error)

// Task is a cancellable unit of work that a queue can run once all of its
// dependencies have finished.
//
// Implementations must guarantee that Cancel eventually leads to a completion
// report, whether or not Start was ever called.
type Task interface {
	ID() string
	Start()
	Cancel()
	OnCompletion(h CompletionHandler)
	AddDependency(dep Task)
	Dependencies() []Task
	Done() <-chan struct{}
	Status() Status
	IsFinished() bool
	IsCancelled() bool
}

// ResourceClaimer is implemented by tasks that need exclusive access to named
// resources while they run. Queues never run two tasks holding the same key
// at the same time.
type ResourceClaimer interface {
	Resources() []string
}

// PanicError wraps a panic recovered from a task's function.
type PanicError struct {
	TaskID string
	Value  any
}

func (e PanicError) Error() string {
	return fmt.Sprintf("panic in task %s: %v", e.TaskID, e.Value)
}
