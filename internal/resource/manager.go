package resource

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/usorama/rad-engineer/internal/events"
	"github.com/usorama/rad-engineer/internal/wave"
)

// Thresholds caps host load for admitting new work. A zero value disables that cap.
type Thresholds struct {
	MaxCPUPercent    float64 `mapstructure:"max_cpu_percent" yaml:"max_cpu_percent"`
	MaxMemoryPercent float64 `mapstructure:"max_memory_percent" yaml:"max_memory_percent"`
	MaxProcesses     int     `mapstructure:"max_processes" yaml:"max_processes"`
}

// CheckResult is the outcome of one admission check.
type CheckResult struct {
	Allowed       bool      `json:"allowed"`
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryPercent float64   `json:"memory_percent"`
	ProcessCount  int       `json:"process_count"`
	Platform      string    `json:"platform"`
	Reason        string    `json:"reason,omitempty"`
	CheckedAt     time.Time `json:"checked_at"`
}

// Manager gates agent calls on host load.
type Manager struct {
	telemetry  Telemetry
	thresholds Thresholds
	logger     *zap.Logger
	pub        events.Publisher
	now        func() time.Time

	mu          sync.Mutex
	deniedSince time.Time // Zero while the gate is open
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithPublisher publishes denials to the event bus.
func WithPublisher(p events.Publisher) Option {
	return func(m *Manager) { m.pub = p }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a resource manager over the given telemetry.
func NewManager(t Telemetry, th Thresholds, opts ...Option) *Manager {
	m := &Manager{
		telemetry:  t,
		thresholds: th,
		logger:     zap.NewNop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Check samples telemetry and compares it with the thresholds.
// A metric that cannot be read is logged and does not cause a denial.
func (m *Manager) Check(ctx context.Context) CheckResult {
	res := CheckResult{
		Platform:  m.telemetry.Platform(),
		CheckedAt: m.now(),
	}
	var reasons []string

	if m.thresholds.MaxCPUPercent > 0 {
		cpu, err := m.telemetry.CPUPercent(ctx)
		if err != nil {
			m.logger.Warn("cpu telemetry unavailable", zap.Error(err))
		} else {
			res.CPUPercent = cpu
			if cpu > m.thresholds.MaxCPUPercent {
				reasons = append(reasons, fmt.Sprintf("cpu %.1f%% above %.1f%%", cpu, m.thresholds.MaxCPUPercent))
			}
		}
	}

	if m.thresholds.MaxMemoryPercent > 0 {
		memPct, err := m.telemetry.MemoryPercent(ctx)
		if err != nil {
			m.logger.Warn("memory telemetry unavailable", zap.Error(err))
		} else {
			res.MemoryPercent = memPct
			if memPct > m.thresholds.MaxMemoryPercent {
				reasons = append(reasons, fmt.Sprintf("memory %.1f%% above %.1f%%", memPct, m.thresholds.MaxMemoryPercent))
			}
		}
	}

	if m.thresholds.MaxProcesses > 0 {
		n, err := m.telemetry.ProcessCount(ctx)
		if err != nil {
			m.logger.Warn("process telemetry unavailable", zap.Error(err))
		} else {
			res.ProcessCount = n
			if n > m.thresholds.MaxProcesses {
				reasons = append(reasons, fmt.Sprintf("%d processes above %d", n, m.thresholds.MaxProcesses))
			}
		}
	}

	res.Allowed = len(reasons) == 0
	res.Reason = strings.Join(reasons, "; ")

	m.mu.Lock()
	switch {
	case res.Allowed:
		m.deniedSince = time.Time{}
	case m.deniedSince.IsZero():
		m.deniedSince = res.CheckedAt
	}
	m.mu.Unlock()

	if !res.Allowed {
		m.logger.Warn("resource gate denied",
			zap.String("reason", res.Reason),
			zap.String("platform", res.Platform))
		if m.pub != nil {
			m.pub.Publish(events.TopicResource, events.ResourceDeniedEvent{
				CPUPercent:    res.CPUPercent,
				MemoryPercent: res.MemoryPercent,
				ProcessCount:  res.ProcessCount,
				Reason:        res.Reason,
				Timestamp:     res.CheckedAt,
			})
		}
	}
	return res
}

// Admit blocks until a check passes, polling every poll interval.
// Returns a ResourceDenied error once timeout elapses, or the context error.
func (m *Manager) Admit(ctx context.Context, timeout, poll time.Duration) error {
	if poll <= 0 {
		poll = time.Second
	}
	deadline := m.now().Add(timeout)

	for {
		res := m.Check(ctx)
		if res.Allowed {
			return nil
		}
		if !m.now().Before(deadline) {
			return wave.Errorf(wave.KindResourceDenied, "", "admission timed out after %s: %s", timeout, res.Reason)
		}

		timer := time.NewTimer(poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// DeniedSince returns when the current run of denials began, as of the most
// recent check. It is zero once a check admits work. Nothing advances it
// between checks, so a caller that finds it old should Check again before
// acting on it.
func (m *Manager) DeniedSince() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deniedSince
}
