package agent

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// CLIInvoker runs the agent CLI once per prompt. Each invocation gets a
// fresh session so tasks never share conversation history.
type CLIInvoker struct {
	cfg     Config
	procMgr *ProcessManager
}

// NewCLIInvoker creates a CLI-backed invoker.
// The ProcessManager is optional; if nil, subprocesses aren't tracked.
func NewCLIInvoker(cfg Config, procMgr *ProcessManager) (*CLIInvoker, error) {
	if cfg.WorkDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		cfg.WorkDir = wd
	}
	if cfg.Command == "" {
		cfg.Command = "claude"
	}
	if cfg.Format == "" {
		cfg.Format = FormatClaude
	}
	return &CLIInvoker{cfg: cfg, procMgr: procMgr}, nil
}

// Invoke runs the CLI with prompt and returns the agent's text output.
func (c *CLIInvoker) Invoke(ctx context.Context, prompt string) (string, error) {
	var (
		args  []string
		stdin string
	)
	switch c.cfg.Format {
	case FormatText:
		args = append([]string(nil), c.cfg.Args...)
		stdin = prompt
	default:
		args = c.buildClaudeArgs(prompt, uuid.NewString())
	}

	cmd := newCommand(ctx, c.cfg.Command, args...)
	cmd.Dir = c.cfg.WorkDir

	stdout, stderr, err := executeCommand(cmd, c.procMgr, stdin)
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("%s: %w", c.cfg.Command, ctx.Err())
		}
		return "", fmt.Errorf("%s: %w", c.cfg.Command, err)
	}

	if c.cfg.Format == FormatText {
		return string(stdout), nil
	}

	out, err := parseClaudeOutput(stdout)
	if err != nil {
		return "", fmt.Errorf("failed to parse claude output: %w (stderr: %s)", err, strings.TrimSpace(string(stderr)))
	}
	return out, nil
}

// buildClaudeArgs constructs the command-line arguments for the claude CLI.
func (c *CLIInvoker) buildClaudeArgs(prompt, sessionID string) []string {
	args := []string{"-p", prompt, "--output-format", "json", "--session-id", sessionID}
	if c.cfg.Model != "" {
		args = append(args, "--model", c.cfg.Model)
	}
	if c.cfg.SystemPrompt != "" {
		args = append(args, "--system-prompt", c.cfg.SystemPrompt)
	}
	return append(args, c.cfg.Args...)
}

// parseClaudeOutput extracts the response text from claude's JSON envelope.
// Both {"result": "text"} and {"result": {"content": [{"type":"text","text":...}]}}
// shapes are accepted. An envelope flagged is_error is returned as an error.
func parseClaudeOutput(data []byte) (string, error) {
	if !gjson.ValidBytes(data) {
		return "", fmt.Errorf("output is not JSON")
	}
	doc := gjson.ParseBytes(data)

	result := doc.Get("result")
	var text string
	switch {
	case result.Type == gjson.String:
		text = result.String()
	case result.IsObject():
		var b strings.Builder
		result.Get("content").ForEach(func(_, item gjson.Result) bool {
			if item.Get("type").String() == "text" {
				b.WriteString(item.Get("text").String())
			}
			return true
		})
		text = b.String()
	default:
		return "", fmt.Errorf("output has no result field")
	}

	if doc.Get("is_error").Bool() {
		return "", fmt.Errorf("agent returned error: %s", text)
	}
	return text, nil
}
