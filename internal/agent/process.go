package agent

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// newCommand creates an exec.Cmd in its own process group. Cancelling ctx
// kills the whole group, not just the immediate child.
func newCommand(ctx context.Context, name string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	setProcessGroup(cmd)
	cmd.Cancel = func() error { return killProcessGroup(cmd) }
	cmd.WaitDelay = 5 * time.Second
	return cmd
}

// executeCommand runs cmd and returns its stdout, stderr, and any error.
// It follows the concurrent pipe reading pattern:
// 1. Attach stdin (the prompt) if there is one
// 2. Create stdout and stderr pipes
// 3. Start the command and register it with pm
// 4. Read both pipes concurrently in separate goroutines
// 5. Wait for both readers to complete (wg.Wait)
// 6. Wait for the command to finish (cmd.Wait) and untrack it
//
// The pipes are fully drained before cmd.Wait(), so an agent that writes
// more than a pipe buffer of output cannot deadlock the call.
func executeCommand(cmd *exec.Cmd, pm *ProcessManager, stdin string) (stdout []byte, stderr []byte, err error) {
	// Prompts go over stdin to stay clear of argv length limits
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}

	// Create pipes for stdout and stderr
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	// Start the command
	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("failed to start command: %w", err)
	}

	// Tracked until waited on, so KillAll can reach it during shutdown
	if pm != nil {
		pm.Track(cmd)
		defer pm.Untrack(cmd)
	}

	// Read both pipes concurrently
	var wg sync.WaitGroup
	var stdoutBuf, stderrBuf bytes.Buffer

	wg.Add(2)

	// Read stdout in a goroutine
	go func() {
		defer wg.Done()
		io.Copy(&stdoutBuf, stdoutPipe)
	}()

	// Read stderr in a goroutine
	go func() {
		defer wg.Done()
		io.Copy(&stderrBuf, stderrPipe)
	}()

	// Wait for both pipe readers to complete
	wg.Wait()

	// Now it's safe to call cmd.Wait()
	waitErr := cmd.Wait()

	stdout = stdoutBuf.Bytes()
	stderr = stderrBuf.Bytes()

	// Combine wait error with stderr context if available
	if waitErr != nil {
		if len(stderr) > 0 {
			return stdout, stderr, fmt.Errorf("command failed: %w (stderr: %s)", waitErr, strings.TrimSpace(string(stderr)))
		}
		return stdout, stderr, fmt.Errorf("command failed: %w", waitErr)
	}
	return stdout, stderr, nil
}

// ProcessManager tracks running agent subprocesses and can terminate them
// all on shutdown, so an interrupted wave leaves no orphaned agents behind.
//
// Usage pattern (as in the CLI runtime):
//
//	pm := NewProcessManager()
//	invoker, _ := New(cfg, pm)
//	defer pm.KillAll()
//
// Every invocation registers its process group between Start and Wait.
type ProcessManager struct {
	mu    sync.Mutex
	procs map[int]*exec.Cmd
}

// NewProcessManager creates a new ProcessManager.
func NewProcessManager() *ProcessManager {
	return &ProcessManager{
		procs: make(map[int]*exec.Cmd),
	}
}

// Track registers a subprocess for tracking.
// Should be called after cmd.Start() when cmd.Process is available.
func (pm *ProcessManager) Track(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.procs[cmd.Process.Pid] = cmd
}

// Untrack removes a subprocess from tracking.
// Should be called after cmd.Wait() completes.
func (pm *ProcessManager) Untrack(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	pm.mu.Lock()
	defer pm.mu.Unlock()
	delete(pm.procs, cmd.Process.Pid)
}

// KillAll terminates every tracked process group.
// Called during shutdown; processes that already exited are reported as errors.
func (pm *ProcessManager) KillAll() error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	var errs []error
	for pid, cmd := range pm.procs {
		if err := killProcessGroup(cmd); err != nil {
			errs = append(errs, fmt.Errorf("failed to kill process %d: %w", pid, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors killing processes: %v", errs)
	}
	return nil
}

// Count returns the number of currently tracked processes.
// Useful for tests and monitoring.
func (pm *ProcessManager) Count() int {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return len(pm.procs)
}
