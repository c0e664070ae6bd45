package task

import (
	"context"
	"errors"
	"fmt"

	"github.com/sony/gobreaker"
)

// Func is the body of a synchronous operation. The context is cancelled when
// the operation is cancelled.
type Func func(ctx context.Context) (any, error)

// AsyncFunc starts the body of an asynchronous operation. It may return
// before the work is done; the work must eventually call op.Finish or
// op.Reject.
type AsyncFunc func(ctx context.Context, op *Operation)

// Option configures an Operation.
type Option func(*Operation)

// WithID sets the operation identifier.
func WithID(id string) Option {
	return func(o *Operation) {
		o.id = id
	}
}

// WithResources declares resource keys the operation must hold exclusively
// while it runs.
func WithResources(keys ...string) Option {
	return func(o *Operation) {
		o.resources = append(o.resources, keys...)
	}
}

// WithRetry retries a failing synchronous body with exponential backoff.
func WithRetry(cfg RetryConfig) Option {
	return func(o *Operation) {
		o.retry = &cfg
	}
}

// WithBreaker routes every attempt of a synchronous body through cb.
func WithBreaker(cb *gobreaker.CircuitBreaker) Option {
	return func(o *Operation) {
		o.breaker = cb
	}
}

// Operation is the general-purpose leaf task. It runs a function once when
// started and reports its result or error to completion handlers.
type Operation struct {
	*Base

	id        string
	fn        Func
	async     AsyncFunc
	resources []string
	retry     *RetryConfig
	breaker   *gobreaker.CircuitBreaker

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates an operation that runs fn synchronously on Start.
func New(fn Func, opts ...Option) *Operation {
	if fn == nil {
		panic("task: nil operation func")
	}
	return newOperation(fn, nil, opts)
}

// NewAsync creates an operation whose body completes later through Finish or Reject.
func NewAsync(fn AsyncFunc, opts ...Option) *Operation {
	if fn == nil {
		panic("task: nil async operation func")
	}
	return newOperation(nil, fn, opts)
}

func newOperation(fn Func, async AsyncFunc, opts []Option) *Operation {
	o := &Operation{fn: fn, async: async}
	for _, opt := range opts {
		opt(o)
	}
	o.Base = NewBase(o.id)
	o.ctx, o.cancel = context.WithCancel(context.Background())
	return o
}

// Resources returns the exclusive resource keys of the operation.
func (o *Operation) Resources() []string {
	return append([]string(nil), o.resources...)
}

// Start runs the operation. Calling Start on an operation that already left
// the pending state does nothing. A cancelled operation finishes with
// ErrCancelled without running its body.
func (o *Operation) Start() {
	if !o.MarkRunning() {
		return
	}
	if o.IsCancelled() {
		o.finish(nil, ErrCancelled)
		return
	}

	if o.async != nil {
		o.startAsync()
		return
	}

	result, err := o.run()
	if err != nil && o.IsCancelled() && !errors.Is(err, ErrCancelled) {
		err = fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	o.finish(result, err)
}

// Cancel requests cancellation. A pending operation finishes immediately with
// ErrCancelled; a running one sees its context cancelled and decides itself
// how to finish. Calls after the first are no-ops.
func (o *Operation) Cancel() {
	first, pending := o.MarkCancelled()
	if !first {
		return
	}
	o.cancel()
	if pending {
		o.finish(nil, ErrCancelled)
	}
}

// Finish completes an asynchronous operation successfully.
func (o *Operation) Finish(result any) {
	o.finish(result, nil)
}

// Reject completes an asynchronous operation with err. A nil err is replaced
// with ErrCancelled when the operation was cancelled.
func (o *Operation) Reject(err error) {
	if err == nil {
		if !o.IsCancelled() {
			panic(fmt.Sprintf("task %s: reject with nil error", o.ID()))
		}
		err = ErrCancelled
	}
	o.finish(nil, err)
}

func (o *Operation) finish(result any, err error) {
	if o.Complete(result, err) {
		o.cancel()
	}
}

// run calls the synchronous body, converting panics into PanicError.
func (o *Operation) run() (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, PanicError{TaskID: o.ID(), Value: r}
		}
	}()

	if o.retry == nil && o.breaker == nil {
		return o.fn(o.ctx)
	}
	return runResilient(o.ctx, o.fn, o.breaker, o.retry)
}

func (o *Operation) startAsync() {
	defer func() {
		if r := recover(); r != nil {
			o.finish(nil, PanicError{TaskID: o.ID(), Value: r})
		}
	}()
	o.async(o.ctx, o)
}
