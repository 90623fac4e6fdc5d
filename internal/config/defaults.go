package config

import (
	"time"

	"github.com/spf13/viper"

	"github.com/usorama/rad-engineer/internal/agent"
	"github.com/usorama/rad-engineer/internal/prompt"
	"github.com/usorama/rad-engineer/internal/state"
	"github.com/usorama/rad-engineer/internal/telemetry"
	"github.com/usorama/rad-engineer/internal/wave"
)

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	w := wave.DefaultWaveOptions()
	retryable := make([]string, 0, len(w.Retry.Retryable))
	for _, k := range w.Retry.Retryable {
		retryable = append(retryable, string(k))
	}

	cfg := &Config{
		Wave: WaveConfig{
			Concurrency:           w.Concurrency,
			AgentCallTimeout:      w.AgentCallTimeout,
			AdmissionTimeout:      w.AdmissionTimeout,
			AdmissionPollInterval: w.AdmissionPollInterval,
		},
		Retry: RetryConfig{
			MaxAttempts: w.Retry.MaxAttempts,
			BaseBackoff: w.Retry.BaseBackoff,
			Multiplier:  w.Retry.Multiplier,
			Jitter:      w.Retry.Jitter,
			MaxBackoff:  w.Retry.MaxBackoff,
			Retryable:   retryable,
		},
		Prompt: PromptConfig{
			MaxBytes:          100_000,
			InjectionPatterns: append([]string(nil), prompt.DefaultInjectionPatterns...),
			RequiredFields:    []string{"status"},
		},
		State: StateConfig{
			Backend: state.BackendSQLite,
			Path:    ".waverunner/state.db",
		},
		Agent: agent.Config{
			Command: "claude",
			Format:  agent.FormatClaude,
		},
		Tracing: telemetry.TracingOptions{Exporter: telemetry.ExporterNone},
	}
	cfg.Breaker.Threshold = 5
	cfg.Breaker.Cooldown = 30 * time.Second
	cfg.Resources.MaxCPUPercent = 90
	cfg.Resources.MaxMemoryPercent = 90
	return cfg
}

// setDefaults registers every key with viper so environment overrides apply.
func setDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("wave.concurrency", d.Wave.Concurrency)
	v.SetDefault("wave.task_timeout", d.Wave.TaskTimeout)
	v.SetDefault("wave.agent_call_timeout", d.Wave.AgentCallTimeout)
	v.SetDefault("wave.admission_timeout", d.Wave.AdmissionTimeout)
	v.SetDefault("wave.admission_poll_interval", d.Wave.AdmissionPollInterval)
	v.SetDefault("wave.resource_grace_period", d.Wave.ResourceGracePeriod)
	v.SetDefault("wave.fail_fast", d.Wave.FailFast)
	v.SetDefault("wave.restart_on_incompatible", d.Wave.RestartOnIncompatible)

	v.SetDefault("retry.max_attempts", d.Retry.MaxAttempts)
	v.SetDefault("retry.base_backoff", d.Retry.BaseBackoff)
	v.SetDefault("retry.multiplier", d.Retry.Multiplier)
	v.SetDefault("retry.jitter", d.Retry.Jitter)
	v.SetDefault("retry.max_backoff", d.Retry.MaxBackoff)
	v.SetDefault("retry.retryable", d.Retry.Retryable)

	v.SetDefault("breaker.threshold", d.Breaker.Threshold)
	v.SetDefault("breaker.cooldown", d.Breaker.Cooldown)

	v.SetDefault("resources.max_cpu_percent", d.Resources.MaxCPUPercent)
	v.SetDefault("resources.max_memory_percent", d.Resources.MaxMemoryPercent)
	v.SetDefault("resources.max_processes", d.Resources.MaxProcesses)

	v.SetDefault("prompt.min_bytes", d.Prompt.MinBytes)
	v.SetDefault("prompt.max_bytes", d.Prompt.MaxBytes)
	v.SetDefault("prompt.injection_patterns", d.Prompt.InjectionPatterns)
	v.SetDefault("prompt.required_fields", d.Prompt.RequiredFields)

	v.SetDefault("state.backend", d.State.Backend)
	v.SetDefault("state.path", d.State.Path)
	v.SetDefault("state.redis_url", d.State.RedisURL)

	v.SetDefault("agent.command", d.Agent.Command)
	v.SetDefault("agent.args", d.Agent.Args)
	v.SetDefault("agent.format", d.Agent.Format)
	v.SetDefault("agent.model", d.Agent.Model)
	v.SetDefault("agent.system_prompt", d.Agent.SystemPrompt)
	v.SetDefault("agent.work_dir", d.Agent.WorkDir)

	v.SetDefault("metrics.addr", d.Metrics.Addr)

	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.file", d.Tracing.File)
}
