//go:build !windows

package agent

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"syscall"
	"testing"
	"time"
)

// TestExecuteCommand_StderrCapture verifies both stdout and stderr are captured
func TestExecuteCommand_StderrCapture(t *testing.T) {
	cmd := newCommand(context.Background(), "sh", "-c", "echo error >&2; echo ok")

	stdout, stderr, err := executeCommand(cmd, nil, "")
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

// TestExecuteCommand_LargeOutput verifies no deadlock when output exceeds the pipe buffer.
func TestExecuteCommand_LargeOutput(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cmd := newCommand(ctx, "sh", "-c", "i=0; while [ $i -lt 20000 ]; do echo line-$i; i=$((i+1)); done")
	stdout, _, err := executeCommand(cmd, nil, "")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if lines := strings.Count(string(stdout), "\n"); lines != 20000 {
		t.Errorf("Expected 20000 lines, got %d", lines)
	}
}

// TestExecuteCommand_NonZeroExitCode verifies the exit error is wrapped and output kept.
func TestExecuteCommand_NonZeroExitCode(t *testing.T) {
	cmd := newCommand(context.Background(), "sh", "-c", "echo partial; exit 3")

	stdout, _, err := executeCommand(cmd, nil, "")
	if err == nil {
		t.Fatal("Expected error due to non-zero exit code, got nil")
	}
	if !strings.Contains(string(stdout), "partial") {
		t.Errorf("Expected stdout to be captured despite error, got: %s", stdout)
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) || exitErr.ExitCode() != 3 {
		t.Errorf("Expected wrapped *exec.ExitError with code 3, got %T: %v", err, err)
	}
}

// TestExecuteCommand_ContextCancellation verifies subprocess termination on context cancel
func TestExecuteCommand_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, _, err := executeCommand(newCommand(ctx, "sleep", "30"), nil, "")
	if err == nil {
		t.Fatal("Expected error due to context cancellation, got nil")
	}
	if time.Since(start) > 5*time.Second {
		t.Error("subprocess was not killed on cancellation")
	}
}

// TestExecuteCommand_TracksUntilWaited verifies stdin is delivered and the
// process is tracked only while it runs
func TestExecuteCommand_TracksUntilWaited(t *testing.T) {
	pm := NewProcessManager()
	cmd := newCommand(context.Background(), "sh", "-c", "sleep 0.3; cat")

	type output struct {
		stdout []byte
		err    error
	}
	done := make(chan output, 1)
	go func() {
		stdout, _, err := executeCommand(cmd, pm, "the prompt")
		done <- output{stdout, err}
	}()

	deadline := time.Now().Add(2 * time.Second)
	for pm.Count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if pm.Count() != 1 {
		t.Fatalf("Expected 1 tracked process while running, got %d", pm.Count())
	}

	out := <-done
	if out.err != nil {
		t.Fatalf("Expected no error, got: %v", out.err)
	}
	if string(out.stdout) != "the prompt" {
		t.Errorf("Expected stdin echoed back, got: %q", out.stdout)
	}
	if pm.Count() != 0 {
		t.Errorf("Expected 0 tracked processes after return, got %d", pm.Count())
	}
}

// TestProcessManager_TrackAndKillAll verifies ProcessManager tracks and terminates processes
func TestProcessManager_TrackAndKillAll(t *testing.T) {
	pm := NewProcessManager()
	cmd := newCommand(context.Background(), "sleep", "300")
	if err := cmd.Start(); err != nil {
		t.Fatalf("Failed to start process: %v", err)
	}

	pm.Track(cmd)
	if pm.Count() != 1 {
		t.Errorf("Expected 1 tracked process, got %d", pm.Count())
	}

	if err := pm.KillAll(); err != nil {
		t.Fatalf("KillAll: %v", err)
	}

	err := cmd.Wait()
	if err == nil {
		t.Error("Expected process to be killed (non-nil error), got nil")
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && !status.Signaled() {
			t.Errorf("Expected process to be signaled, got exit status: %v", status)
		}
	}

	pm.Untrack(cmd)
	if pm.Count() != 0 {
		t.Errorf("Expected 0 tracked processes after Untrack, got %d", pm.Count())
	}
}

func TestCLIInvoker_TextFormat(t *testing.T) {
	pm := NewProcessManager()
	inv, err := New(Config{Command: "cat", Format: FormatText, WorkDir: t.TempDir()}, pm)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	out, err := inv.Invoke(context.Background(), `{"status":"done"}`)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if out != `{"status":"done"}` {
		t.Errorf("output = %q", out)
	}
	if pm.Count() != 0 {
		t.Errorf("process still tracked after Invoke: %d", pm.Count())
	}
}

func TestCLIInvoker_Failure(t *testing.T) {
	inv, err := NewCLIInvoker(Config{Command: "false", Format: FormatText}, nil)
	if err != nil {
		t.Fatalf("NewCLIInvoker: %v", err)
	}
	if _, err := inv.Invoke(context.Background(), "x"); err == nil {
		t.Fatal("expected error from failing command")
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := New(Config{Format: "xml"}, nil); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

// TestBuildClaudeArgs verifies session, model and system prompt flags.
func TestBuildClaudeArgs(t *testing.T) {
	inv, err := NewCLIInvoker(Config{
		Model:        "sonnet",
		SystemPrompt: "be brief",
		Args:         []string{"--verbose"},
	}, nil)
	if err != nil {
		t.Fatalf("NewCLIInvoker: %v", err)
	}

	args := strings.Join(inv.buildClaudeArgs("do it", "sess-1"), " ")
	for _, want := range []string{
		"-p do it",
		"--output-format json",
		"--session-id sess-1",
		"--model sonnet",
		"--system-prompt be brief",
		"--verbose",
	} {
		if !strings.Contains(args, want) {
			t.Errorf("args %q missing %q", args, want)
		}
	}
}

func TestParseClaudeOutput(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    string
		wantErr bool
	}{
		{
			name: "string result",
			data: `{"type":"result","result":"hello","session_id":"s"}`,
			want: "hello",
		},
		{
			name: "content blocks",
			data: `{"session_id":"s","result":{"content":[{"type":"text","text":"a"},{"type":"tool_use"},{"type":"text","text":"b"}]}}`,
			want: "ab",
		},
		{
			name:    "error flag",
			data:    `{"result":"rate limited","is_error":true}`,
			wantErr: true,
		},
		{
			name:    "not json",
			data:    `oops`,
			wantErr: true,
		},
		{
			name:    "no result",
			data:    `{"session_id":"s"}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseClaudeOutput([]byte(tt.data))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestInvokerFunc(t *testing.T) {
	var inv Invoker = InvokerFunc(func(ctx context.Context, prompt string) (string, error) {
		return strings.ToUpper(prompt), nil
	})
	out, _ := inv.Invoke(context.Background(), "hi")
	if out != "HI" {
		t.Errorf("out = %q", out)
	}
}
