package proc

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/aristath/composite/internal/task"
)

func TestExecuteCommand_BasicExecution(t *testing.T) {
	cmd := newCommand(context.Background(), "echo", "hello")

	stdout, stderr, err := executeCommand(cmd, nil)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !strings.Contains(string(stdout), "hello") {
		t.Errorf("Expected stdout to contain 'hello', got: %s", stdout)
	}
	if len(stderr) > 0 {
		t.Errorf("Expected empty stderr, got: %s", stderr)
	}
}

// Output far above the pipe buffer must not deadlock.
func TestExecuteCommand_LargeOutput(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cmd := newCommand(ctx, "sh", "-c", "i=0; while [ $i -lt 20000 ]; do echo line-$i; i=$((i+1)); done")
	stdout, _, err := executeCommand(cmd, nil)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(stdout)), "\n")
	if len(lines) != 20000 {
		t.Errorf("Expected 20000 lines of output, got %d", len(lines))
	}
}

func TestExecuteCommand_StderrCapture(t *testing.T) {
	cmd := newCommand(context.Background(), "sh", "-c", "echo error >&2; echo ok")

	stdout, stderr, err := executeCommand(cmd, nil)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !strings.Contains(string(stdout), "ok") {
		t.Errorf("Expected stdout to contain 'ok', got: %s", stdout)
	}
	if !strings.Contains(string(stderr), "error") {
		t.Errorf("Expected stderr to contain 'error', got: %s", stderr)
	}
}

func TestExecuteCommand_NonZeroExitCode(t *testing.T) {
	cmd := newCommand(context.Background(), "sh", "-c", "echo test-output; exit 3")

	stdout, _, err := executeCommand(cmd, nil)
	if err == nil {
		t.Fatal("Expected error due to non-zero exit code, got nil")
	}
	if !strings.Contains(string(stdout), "test-output") {
		t.Errorf("Expected stdout to be captured despite error, got: %s", stdout)
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("Expected error to wrap *exec.ExitError, got %T: %v", err, err)
	}
	if exitErr.ExitCode() != 3 {
		t.Errorf("Expected exit code 3, got %d", exitErr.ExitCode())
	}
}

func TestExecuteCommand_TracksWhileRunning(t *testing.T) {
	pm := NewManager()
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, _, err := executeCommand(newCommand(ctx, "sleep", "30"), pm)
		done <- err
	}()

	deadline := time.After(2 * time.Second)
	for pm.Count() == 0 {
		select {
		case <-deadline:
			t.Fatal("subprocess was never tracked")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}

	select {
	case err := <-done:
		if err == nil {
			t.Error("Expected error after context deadline, got nil")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("subprocess not killed on context deadline")
	}
	if pm.Count() != 0 {
		t.Errorf("Expected 0 tracked processes after exit, got %d", pm.Count())
	}
}

func TestManager_KillAll(t *testing.T) {
	pm := NewManager()
	cmd := newCommand(context.Background(), "sleep", "300")
	if err := cmd.Start(); err != nil {
		t.Fatalf("Failed to start process: %v", err)
	}
	pm.Track(cmd)

	if pm.Count() != 1 {
		t.Errorf("Expected 1 tracked process, got %d", pm.Count())
	}
	if err := pm.KillAll(); err != nil {
		t.Errorf("KillAll() failed: %v", err)
	}

	err := cmd.Wait()
	if err == nil {
		t.Fatal("Expected process to be killed (non-nil error), got nil")
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && !status.Signaled() {
			t.Errorf("Expected process to be signaled, got exit status: %v", status)
		}
	}

	pm.Untrack(cmd)
	if pm.Count() != 0 {
		t.Errorf("Expected 0 tracked processes after Untrack, got %d", pm.Count())
	}
}

func TestShell(t *testing.T) {
	tests := []struct {
		name    string
		script  string
		want    any
		wantErr bool
	}{
		{name: "stdout is the result", script: "echo '  hi  '", want: "hi"},
		{name: "exit status fails", script: "exit 1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := Shell(NewManager(), tt.script)
			op.Start()
			<-op.Done()

			result, err := op.Outcome()
			if (err != nil) != tt.wantErr {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.wantErr && result != tt.want {
				t.Errorf("expected %v, got %v", tt.want, result)
			}
		})
	}
}

func TestShell_CancelKillsProcess(t *testing.T) {
	pm := NewManager()
	op := Shell(pm, "sleep 30", task.WithID("sleeper"))
	go op.Start()

	deadline := time.After(2 * time.Second)
	for pm.Count() == 0 {
		select {
		case <-deadline:
			t.Fatal("subprocess never started")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}

	op.Cancel()
	select {
	case <-op.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled shell operation did not finish")
	}

	if _, err := op.Outcome(); !errors.Is(err, task.ErrCancelled) {
		t.Errorf("expected ErrCancelled, got %v", err)
	}
	if op.Status() != task.StatusCancelled {
		t.Errorf("expected cancelled, got %s", op.Status())
	}
}

func TestShell_ManyInvocations(t *testing.T) {
	pm := NewManager()
	for i := 1; i <= 15; i++ {
		op := Shell(pm, fmt.Sprintf("echo test-%d", i))
		op.Start()
		<-op.Done()
		if result, err := op.Outcome(); err != nil || result != fmt.Sprintf("test-%d", i) {
			t.Fatalf("invocation %d: got (%v, %v)", i, result, err)
		}
	}
	if pm.Count() != 0 {
		t.Errorf("expected nothing tracked after all invocations, got %d", pm.Count())
	}
}
