// Package proc runs shell commands as composite sub-tasks. Each command gets
// its own process group so cancelling the task takes down the whole tree.
package proc

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"syscall"

	"github.com/aristath/composite/internal/task"
)

// newCommand creates an exec.Cmd in a new process group. Context
// cancellation kills the group instead of only the direct child.
func newCommand(ctx context.Context, name string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
	cmd.Cancel = func() error {
		return killProcessGroup(cmd)
	}
	return cmd
}

// executeCommand runs cmd and returns its stdout and stderr. Both pipes are
// drained concurrently before cmd.Wait, otherwise output larger than the
// pipe buffer blocks the child forever. pm may be nil.
func executeCommand(cmd *exec.Cmd, pm *Manager) (stdout []byte, stderr []byte, err error) {
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("failed to start command: %w", err)
	}
	if pm != nil {
		pm.Track(cmd)
		defer pm.Untrack(cmd)
	}

	var wg sync.WaitGroup
	var stdoutBuf, stderrBuf bytes.Buffer
	wg.Add(2)
	go func() {
		defer wg.Done()
		io.Copy(&stdoutBuf, stdoutPipe)
	}()
	go func() {
		defer wg.Done()
		io.Copy(&stderrBuf, stderrPipe)
	}()
	wg.Wait()

	waitErr := cmd.Wait()
	stdout = stdoutBuf.Bytes()
	stderr = stderrBuf.Bytes()

	if waitErr != nil {
		if len(stderr) > 0 {
			return stdout, stderr, fmt.Errorf("command failed: %w (stderr: %s)", waitErr, strings.TrimSpace(string(stderr)))
		}
		return stdout, stderr, fmt.Errorf("command failed: %w", waitErr)
	}
	return stdout, stderr, nil
}

// killProcessGroup sends SIGKILL to every process in cmd's group.
func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return fmt.Errorf("process not started")
	}
	// Negative PID addresses the group.
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
		return fmt.Errorf("failed to kill process group: %w", err)
	}
	return nil
}

// Manager tracks running subprocesses so they can all be killed on shutdown.
type Manager struct {
	mu    sync.Mutex
	procs map[int]*exec.Cmd
}

// NewManager creates an empty Manager.
func NewManager() *Manager {
	return &Manager{
		procs: make(map[int]*exec.Cmd),
	}
}

// Track registers a started subprocess.
func (m *Manager) Track(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.procs[cmd.Process.Pid] = cmd
}

// Untrack removes a subprocess once it has been waited for.
func (m *Manager) Untrack(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.procs, cmd.Process.Pid)
}

// KillAll kills the process group of every tracked subprocess.
func (m *Manager) KillAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for pid, cmd := range m.procs {
		if err := killProcessGroup(cmd); err != nil {
			errs = append(errs, fmt.Errorf("failed to kill process %d: %w", pid, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors killing processes: %v", errs)
	}
	return nil
}

// Count returns the number of tracked subprocesses.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.procs)
}

// Shell returns an operation that runs script with `sh -c`. Its result is
// the trimmed stdout. Cancelling the operation kills the process group.
func Shell(pm *Manager, script string, opts ...task.Option) *task.Operation {
	return task.New(func(ctx context.Context) (any, error) {
		stdout, _, err := executeCommand(newCommand(ctx, "sh", "-c", script), pm)
		out := strings.TrimSpace(string(stdout))
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%q: %w", script, err)
		}
		return out, nil
	}, opts...)
}
