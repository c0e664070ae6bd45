package task

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func waitDone(t *testing.T, tk Task) {
	t.Helper()
	select {
	case <-tk.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("task %s did not finish", tk.ID())
	}
}

func TestOperationSuccess(t *testing.T) {
	op := New(func(ctx context.Context) (any, error) {
		return "value", nil
	}, WithID("op-1"))

	var calls atomic.Int32
	var gotResult any
	var gotErr error
	op.OnCompletion(func(result any, err error) {
		calls.Add(1)
		gotResult, gotErr = result, err
	})

	if op.Status() != StatusPending {
		t.Fatalf("expected pending before start, got %s", op.Status())
	}

	op.Start()
	waitDone(t, op)

	if op.ID() != "op-1" {
		t.Errorf("expected ID 'op-1', got %q", op.ID())
	}
	if op.Status() != StatusSucceeded {
		t.Errorf("expected succeeded, got %s", op.Status())
	}
	if calls.Load() != 1 {
		t.Errorf("expected handler called once, got %d", calls.Load())
	}
	if gotResult != "value" || gotErr != nil {
		t.Errorf("unexpected outcome: %v, %v", gotResult, gotErr)
	}

	// Starting again must not rerun or renotify.
	op.Start()
	if calls.Load() != 1 {
		t.Errorf("expected handler still called once after second Start, got %d", calls.Load())
	}
}

func TestOperationFailure(t *testing.T) {
	boom := errors.New("boom")
	op := New(func(ctx context.Context) (any, error) {
		return nil, boom
	})

	op.Start()
	waitDone(t, op)

	if op.Status() != StatusFailed {
		t.Errorf("expected failed, got %s", op.Status())
	}
	if _, err := op.Outcome(); !errors.Is(err, boom) {
		t.Errorf("expected boom, got %v", err)
	}
}

func TestOperationDefaultIDIsUnique(t *testing.T) {
	fn := func(ctx context.Context) (any, error) { return nil, nil }
	a, b := New(fn), New(fn)
	if a.ID() == "" || a.ID() == b.ID() {
		t.Errorf("expected distinct generated IDs, got %q and %q", a.ID(), b.ID())
	}
}

func TestOperationCancelBeforeStart(t *testing.T) {
	var ran atomic.Bool
	op := New(func(ctx context.Context) (any, error) {
		ran.Store(true)
		return nil, nil
	})

	var calls atomic.Int32
	op.OnCompletion(func(result any, err error) {
		calls.Add(1)
		if !errors.Is(err, ErrCancelled) {
			t.Errorf("expected ErrCancelled, got %v", err)
		}
	})

	op.Cancel()
	op.Cancel()
	waitDone(t, op)
	op.Start()

	if ran.Load() {
		t.Error("cancelled operation must not run its body")
	}
	if op.Status() != StatusCancelled {
		t.Errorf("expected cancelled, got %s", op.Status())
	}
	if !op.IsCancelled() {
		t.Error("expected IsCancelled")
	}
	if calls.Load() != 1 {
		t.Errorf("expected one completion, got %d", calls.Load())
	}
}

func TestOperationCancelWhileRunning(t *testing.T) {
	started := make(chan struct{})
	op := New(func(ctx context.Context) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})

	go op.Start()
	<-started
	op.Cancel()
	waitDone(t, op)

	_, err := op.Outcome()
	if !errors.Is(err, ErrCancelled) {
		t.Errorf("expected ErrCancelled, got %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected wrapped context.Canceled, got %v", err)
	}
	if op.Status() != StatusCancelled {
		t.Errorf("expected cancelled, got %s", op.Status())
	}
}

func TestOperationCancelIgnoredByBody(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	op := New(func(ctx context.Context) (any, error) {
		close(started)
		<-release
		return "partial", nil
	})

	go op.Start()
	<-started
	op.Cancel()
	close(release)
	waitDone(t, op)

	result, err := op.Outcome()
	if result != "partial" || err != nil {
		t.Errorf("cooperative cancel should keep body outcome, got %v, %v", result, err)
	}
}

func TestOperationPanicBecomesError(t *testing.T) {
	op := New(func(ctx context.Context) (any, error) {
		panic("kaboom")
	}, WithID("panicky"))

	op.Start()
	waitDone(t, op)

	_, err := op.Outcome()
	var pe PanicError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PanicError, got %v", err)
	}
	if pe.TaskID != "panicky" || pe.Value != "kaboom" {
		t.Errorf("unexpected panic error: %+v", pe)
	}
}

func TestAsyncOperationFinishLater(t *testing.T) {
	var ref *Operation
	op := NewAsync(func(ctx context.Context, op *Operation) {
		ref = op
	})

	op.Start()
	if op.Status() != StatusRunning {
		t.Fatalf("expected running after async start, got %s", op.Status())
	}

	ref.Finish(42)
	ref.Finish(43)
	ref.Reject(errors.New("late"))
	waitDone(t, op)

	result, err := op.Outcome()
	if result != 42 || err != nil {
		t.Errorf("expected first Finish to win, got %v, %v", result, err)
	}
}

func TestAsyncOperationRejectAfterCancel(t *testing.T) {
	op := NewAsync(func(ctx context.Context, op *Operation) {
		go func() {
			<-ctx.Done()
			op.Reject(nil)
		}()
	})

	op.Start()
	op.Cancel()
	waitDone(t, op)

	if _, err := op.Outcome(); !errors.Is(err, ErrCancelled) {
		t.Errorf("expected ErrCancelled, got %v", err)
	}
}

func TestOnCompletionAfterFinishRunsImmediately(t *testing.T) {
	op := New(func(ctx context.Context) (any, error) { return "done", nil })
	op.Start()
	waitDone(t, op)

	var got any
	op.OnCompletion(func(result any, err error) { got = result })
	if got != "done" {
		t.Errorf("expected late handler to see 'done', got %v", got)
	}
}

func TestConcurrentHandlersEachCalledOnce(t *testing.T) {
	release := make(chan struct{})
	op := New(func(ctx context.Context) (any, error) {
		<-release
		return nil, nil
	})
	go op.Start()

	const handlers = 50
	var calls atomic.Int32
	notified := make(chan struct{}, handlers*2)
	var wg sync.WaitGroup
	for i := 0; i < handlers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			op.OnCompletion(func(any, error) {
				calls.Add(1)
				notified <- struct{}{}
			})
		}()
	}
	close(release)
	wg.Wait()

	for i := 0; i < handlers; i++ {
		select {
		case <-notified:
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d of %d handlers called", i, handlers)
		}
	}

	// Give a duplicate notification a chance to show up.
	time.Sleep(10 * time.Millisecond)
	if got := calls.Load(); got != handlers {
		t.Errorf("expected %d handler calls, got %d", handlers, got)
	}
}

func TestAddDependency(t *testing.T) {
	a := New(func(ctx context.Context) (any, error) { return nil, nil })
	b := New(func(ctx context.Context) (any, error) { return nil, nil })
	b.AddDependency(a)

	deps := b.Dependencies()
	if len(deps) != 1 || deps[0] != Task(a) {
		t.Fatalf("expected dependency on a, got %v", deps)
	}

	b.Start()
	defer func() {
		if recover() == nil {
			t.Error("expected panic adding a dependency after start")
		}
	}()
	b.AddDependency(a)
}

func TestResources(t *testing.T) {
	op := New(func(ctx context.Context) (any, error) { return nil, nil }, WithResources("db", "cache"), WithResources("db"))
	got := op.Resources()
	if len(got) != 3 || got[0] != "db" || got[1] != "cache" {
		t.Errorf("unexpected resources: %v", got)
	}
}

func TestStatusString(t *testing.T) {
	tests := map[Status]string{
		StatusPending:   "pending",
		StatusRunning:   "running",
		StatusSucceeded: "succeeded",
		StatusFailed:    "failed",
		StatusCancelled: "cancelled",
		Status(42):      "status(42)",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("Status(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}
