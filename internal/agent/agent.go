// Package agent is the boundary to the external agent that turns a prompt
// into work and a textual response.
package agent

import (
	"context"
	"fmt"
)

// Invoker sends one prompt to the agent and returns its raw output.
// Implementations must honour ctx cancellation and be safe for concurrent use.
type Invoker interface {
	Invoke(ctx context.Context, prompt string) (string, error)
}

// InvokerFunc adapts a function to Invoker.
type InvokerFunc func(ctx context.Context, prompt string) (string, error)

func (f InvokerFunc) Invoke(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// Output formats understood by CLIInvoker.
const (
	FormatClaude = "claude" // claude -p ... --output-format json
	FormatText   = "text"   // prompt on stdin, stdout is the response
)

// Config defines how the agent CLI is launched.
type Config struct {
	Command      string   `mapstructure:"command" yaml:"command"` // Default "claude"
	Args         []string `mapstructure:"args" yaml:"args,omitempty"`
	Format       string   `mapstructure:"format" yaml:"format"` // "claude" or "text"
	Model        string   `mapstructure:"model" yaml:"model,omitempty"`
	SystemPrompt string   `mapstructure:"system_prompt" yaml:"system_prompt,omitempty"`
	WorkDir      string   `mapstructure:"work_dir" yaml:"work_dir,omitempty"`
}

// New creates an invoker from cfg. The ProcessManager is optional.
func New(cfg Config, pm *ProcessManager) (Invoker, error) {
	if cfg.Command == "" {
		cfg.Command = "claude"
	}
	if cfg.Format == "" {
		cfg.Format = FormatClaude
	}
	switch cfg.Format {
	case FormatClaude, FormatText:
		return NewCLIInvoker(cfg, pm)
	default:
		return nil, fmt.Errorf("unknown agent output format: %s", cfg.Format)
	}
}
