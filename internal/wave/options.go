package wave

import "time"

// RetryOptions configures per-task retries.
type RetryOptions struct {
	MaxAttempts int           // Total attempts including the first (default 3)
	BaseBackoff time.Duration // Delay before the second attempt (default 500ms)
	Multiplier  float64       // Growth factor between attempts (default 2.0)
	Jitter      float64       // Randomization fraction in [0,1) applied to each delay (default 0.2)
	MaxBackoff  time.Duration // Upper bound for a single delay (default 30s)
	Retryable   []ErrorKind   // Kinds worth another attempt
}

// DefaultRetryOptions returns the default retry policy.
func DefaultRetryOptions() RetryOptions {
	return RetryOptions{
		MaxAttempts: 3,
		BaseBackoff: 500 * time.Millisecond,
		Multiplier:  2.0,
		Jitter:      0.2,
		MaxBackoff:  30 * time.Second,
		Retryable:   []ErrorKind{KindExecution, KindParse, KindResourceDenied},
	}
}

// IsRetryable reports whether kind is in the retryable set.
func (o RetryOptions) IsRetryable(kind ErrorKind) bool {
	for _, k := range o.Retryable {
		if k == kind {
			return true
		}
	}
	return false
}

// WaveOptions configures one execution of a wave.
// Cancellation is carried by the context passed to Execute.
type WaveOptions struct {
	Concurrency           int           // Max tasks in flight (default 4)
	TaskTimeout           time.Duration // Bound on one task across all attempts (0 = none)
	AgentCallTimeout      time.Duration // Bound on a single agent invocation (0 = none)
	Retry                 RetryOptions
	AdmissionTimeout      time.Duration // Max wait for the resource gate per attempt (default 30s)
	AdmissionPollInterval time.Duration // Gate re-check interval (default 1s)
	ResourceGracePeriod   time.Duration // Continuous denial that aborts the wave (0 = never)
	FailFast              bool          // Stop dispatching after the first failure
	RestartOnIncompatible bool          // Discard an unreadable-version checkpoint instead of failing
}

// DefaultWaveOptions returns the default wave options.
func DefaultWaveOptions() WaveOptions {
	return WaveOptions{
		Concurrency:           4,
		Retry:                 DefaultRetryOptions(),
		AdmissionTimeout:      30 * time.Second,
		AdmissionPollInterval: time.Second,
	}
}

// WithDefaults fills zero-valued fields from DefaultWaveOptions.
func (o WaveOptions) WithDefaults() WaveOptions {
	d := DefaultWaveOptions()
	if o.Concurrency <= 0 {
		o.Concurrency = d.Concurrency
	}
	if o.Retry.MaxAttempts <= 0 {
		o.Retry.MaxAttempts = d.Retry.MaxAttempts
	}
	if o.Retry.Multiplier <= 0 {
		o.Retry.Multiplier = d.Retry.Multiplier
	}
	if o.Retry.MaxBackoff <= 0 {
		o.Retry.MaxBackoff = d.Retry.MaxBackoff
	}
	if o.Retry.Retryable == nil {
		o.Retry.Retryable = d.Retry.Retryable
	}
	if o.AdmissionTimeout <= 0 {
		o.AdmissionTimeout = d.AdmissionTimeout
	}
	if o.AdmissionPollInterval <= 0 {
		o.AdmissionPollInterval = d.AdmissionPollInterval
	}
	return o
}
