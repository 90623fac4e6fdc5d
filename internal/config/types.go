package config

import (
	"time"

	"github.com/usorama/rad-engineer/internal/agent"
	"github.com/usorama/rad-engineer/internal/recovery"
	"github.com/usorama/rad-engineer/internal/resource"
	"github.com/usorama/rad-engineer/internal/telemetry"
)

// WaveConfig holds the per-wave scheduling defaults.
type WaveConfig struct {
	Concurrency           int           `mapstructure:"concurrency" yaml:"concurrency"`
	TaskTimeout           time.Duration `mapstructure:"task_timeout" yaml:"task_timeout"`
	AgentCallTimeout      time.Duration `mapstructure:"agent_call_timeout" yaml:"agent_call_timeout"`
	AdmissionTimeout      time.Duration `mapstructure:"admission_timeout" yaml:"admission_timeout"`
	AdmissionPollInterval time.Duration `mapstructure:"admission_poll_interval" yaml:"admission_poll_interval"`
	ResourceGracePeriod   time.Duration `mapstructure:"resource_grace_period" yaml:"resource_grace_period"`
	FailFast              bool          `mapstructure:"fail_fast" yaml:"fail_fast"`
	RestartOnIncompatible bool          `mapstructure:"restart_on_incompatible" yaml:"restart_on_incompatible"`
}

// RetryConfig mirrors wave.RetryOptions with error kinds as strings.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	BaseBackoff time.Duration `mapstructure:"base_backoff" yaml:"base_backoff"`
	Multiplier  float64       `mapstructure:"multiplier" yaml:"multiplier"`
	Jitter      float64       `mapstructure:"jitter" yaml:"jitter"`
	MaxBackoff  time.Duration `mapstructure:"max_backoff" yaml:"max_backoff"`
	Retryable   []string      `mapstructure:"retryable" yaml:"retryable"`
}

// PromptConfig configures prompt validation and response parsing.
type PromptConfig struct {
	MinBytes          int      `mapstructure:"min_bytes" yaml:"min_bytes"`
	MaxBytes          int      `mapstructure:"max_bytes" yaml:"max_bytes"`
	InjectionPatterns []string `mapstructure:"injection_patterns" yaml:"injection_patterns"`
	RequiredFields    []string `mapstructure:"required_fields" yaml:"required_fields"`
}

// StateConfig selects the checkpoint substrate.
type StateConfig struct {
	Backend  string `mapstructure:"backend" yaml:"backend"` // file, sqlite or redis
	Path     string `mapstructure:"path" yaml:"path"`       // Directory (file) or database file (sqlite)
	RedisURL string `mapstructure:"redis_url" yaml:"redis_url,omitempty"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"` // Empty disables the endpoint
}

// Config is the top-level configuration.
type Config struct {
	Wave      WaveConfig               `mapstructure:"wave" yaml:"wave"`
	Retry     RetryConfig              `mapstructure:"retry" yaml:"retry"`
	Breaker   recovery.BreakerOptions  `mapstructure:"breaker" yaml:"breaker"`
	Resources resource.Thresholds      `mapstructure:"resources" yaml:"resources"`
	Prompt    PromptConfig             `mapstructure:"prompt" yaml:"prompt"`
	State     StateConfig              `mapstructure:"state" yaml:"state"`
	Agent     agent.Config             `mapstructure:"agent" yaml:"agent"`
	Metrics   MetricsConfig            `mapstructure:"metrics" yaml:"metrics"`
	Tracing   telemetry.TracingOptions `mapstructure:"tracing" yaml:"tracing"`
}
