package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/usorama/rad-engineer/internal/agent"
	"github.com/usorama/rad-engineer/internal/prompt"
	"github.com/usorama/rad-engineer/internal/recovery"
	"github.com/usorama/rad-engineer/internal/state"
	"github.com/usorama/rad-engineer/internal/telemetry"
	"github.com/usorama/rad-engineer/internal/wave"
)

// EnvPrefix is the prefix for environment overrides, e.g. WAVERUNNER_WAVE_CONCURRENCY.
const EnvPrefix = "WAVERUNNER"

// Load reads and merges configuration from global and project paths.
// Order of precedence (highest to lowest): environment, project config,
// global config, defaults. Missing files are not errors; malformed files are.
func Load(globalPath, projectPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if err := mergeConfigFile(v, globalPath); err != nil {
		return nil, fmt.Errorf("loading global config: %w", err)
	}
	if err := mergeConfigFile(v, projectPath); err != nil {
		return nil, fmt.Errorf("loading project config: %w", err)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDefault loads configuration from conventional paths.
// Global: ~/.waverunner/config.yaml
// Project: .waverunner/config.yaml (relative to cwd)
func LoadDefault() (*Config, error) {
	global, err := GlobalPath()
	if err != nil {
		return nil, err
	}
	return Load(global, ProjectPath())
}

// GlobalPath returns the user-level config file path.
func GlobalPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, ".waverunner", "config.yaml"), nil
}

// ProjectPath returns the project-level config file path.
func ProjectPath() string {
	return filepath.Join(".waverunner", "config.yaml")
}

// mergeConfigFile merges a YAML or JSON file into v.
// Missing files are silently skipped.
func mergeConfigFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}

	v.SetConfigFile(path)
	if err := v.MergeInConfig(); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// Validate rejects settings the runtime cannot honour.
func (c *Config) Validate() error {
	var errs []error
	if c.Wave.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("wave.concurrency must be at least 1, got %d", c.Wave.Concurrency))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("retry.max_attempts must be at least 1, got %d", c.Retry.MaxAttempts))
	}
	if c.Retry.Multiplier < 1 {
		errs = append(errs, fmt.Errorf("retry.multiplier must be at least 1, got %g", c.Retry.Multiplier))
	}
	if c.Retry.Jitter < 0 || c.Retry.Jitter >= 1 {
		errs = append(errs, fmt.Errorf("retry.jitter must be in [0,1), got %g", c.Retry.Jitter))
	}
	if c.Prompt.MaxBytes > 0 && c.Prompt.MinBytes > c.Prompt.MaxBytes {
		errs = append(errs, fmt.Errorf("prompt.min_bytes %d exceeds prompt.max_bytes %d", c.Prompt.MinBytes, c.Prompt.MaxBytes))
	}
	switch c.State.Backend {
	case "", state.BackendFile, state.BackendSQLite:
	case state.BackendRedis:
		if c.State.RedisURL == "" {
			errs = append(errs, errors.New("state.redis_url is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown state.backend %q", c.State.Backend))
	}
	switch c.Agent.Format {
	case "", agent.FormatClaude, agent.FormatText:
	default:
		errs = append(errs, fmt.Errorf("unknown agent.format %q", c.Agent.Format))
	}
	switch c.Tracing.Exporter {
	case "", telemetry.ExporterNone, telemetry.ExporterStdout:
	default:
		errs = append(errs, fmt.Errorf("unknown tracing.exporter %q", c.Tracing.Exporter))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// WaveOptions converts the wave and retry sections.
func (c *Config) WaveOptions() wave.WaveOptions {
	retryable := make([]wave.ErrorKind, 0, len(c.Retry.Retryable))
	for _, k := range c.Retry.Retryable {
		retryable = append(retryable, wave.ErrorKind(k))
	}
	return wave.WaveOptions{
		Concurrency:           c.Wave.Concurrency,
		TaskTimeout:           c.Wave.TaskTimeout,
		AgentCallTimeout:      c.Wave.AgentCallTimeout,
		AdmissionTimeout:      c.Wave.AdmissionTimeout,
		AdmissionPollInterval: c.Wave.AdmissionPollInterval,
		ResourceGracePeriod:   c.Wave.ResourceGracePeriod,
		FailFast:              c.Wave.FailFast,
		RestartOnIncompatible: c.Wave.RestartOnIncompatible,
		Retry: wave.RetryOptions{
			MaxAttempts: c.Retry.MaxAttempts,
			BaseBackoff: c.Retry.BaseBackoff,
			Multiplier:  c.Retry.Multiplier,
			Jitter:      c.Retry.Jitter,
			MaxBackoff:  c.Retry.MaxBackoff,
			Retryable:   retryable,
		},
	}
}

// BreakerOptions returns the circuit breaker section.
func (c *Config) BreakerOptions() recovery.BreakerOptions { return c.Breaker }

// ValidatorConfig returns the prompt validator settings.
func (c *Config) ValidatorConfig() prompt.ValidatorConfig {
	return prompt.ValidatorConfig{
		MinBytes:          c.Prompt.MinBytes,
		MaxBytes:          c.Prompt.MaxBytes,
		InjectionPatterns: c.Prompt.InjectionPatterns,
	}
}

// ParserConfig returns the response parser settings.
func (c *Config) ParserConfig() prompt.ParserConfig {
	return prompt.ParserConfig{RequiredFields: c.Prompt.RequiredFields}
}
