// Package recovery retries failed task attempts with exponential backoff and
// trips a circuit breaker per task classification.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/usorama/rad-engineer/internal/events"
	"github.com/usorama/rad-engineer/internal/wave"
)

// BreakerOptions configures every per-class circuit breaker.
type BreakerOptions struct {
	Threshold int           `mapstructure:"threshold" yaml:"threshold"` // Consecutive failures that open the circuit (default 5)
	Cooldown  time.Duration `mapstructure:"cooldown" yaml:"cooldown"`   // Time open before a trial call (default 30s)
}

// DefaultBreakerOptions returns the default breaker configuration.
func DefaultBreakerOptions() BreakerOptions {
	return BreakerOptions{
		Threshold: 5,
		Cooldown:  30 * time.Second,
	}
}

// Op is one attempt of a task. attempt starts at 1.
type Op func(ctx context.Context, attempt int) error

// Step is what Execute retries. Admit runs ahead of the breaker, so a refused
// admission never counts for or against the circuit; only Call outcomes do.
type Step struct {
	Admit func(ctx context.Context) error // Optional
	Call  Op
}

type breaker struct {
	cb *gobreaker.CircuitBreaker

	mu             sync.Mutex
	lastTransition time.Time
}

// Engine owns the live breaker state for every classification.
type Engine struct {
	opts   BreakerOptions
	logger *zap.Logger
	pub    events.Publisher

	mu       sync.Mutex
	breakers map[string]*breaker
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithPublisher publishes retries and breaker transitions.
func WithPublisher(p events.Publisher) Option {
	return func(e *Engine) { e.pub = p }
}

// NewEngine creates a recovery engine. Zero options fall back to defaults.
func NewEngine(opts BreakerOptions, options ...Option) *Engine {
	d := DefaultBreakerOptions()
	if opts.Threshold <= 0 {
		opts.Threshold = d.Threshold
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = d.Cooldown
	}
	e := &Engine{
		opts:     opts,
		logger:   zap.NewNop(),
		breakers: make(map[string]*breaker),
	}
	for _, o := range options {
		o(e)
	}
	return e
}

// breaker returns the breaker for class, creating it on first use.
func (e *Engine) breaker(class string) *breaker {
	e.mu.Lock()
	defer e.mu.Unlock()

	if b, ok := e.breakers[class]; ok {
		return b
	}

	b := &breaker{lastTransition: time.Now()}
	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        class,
		MaxRequests: 1, // Single trial call in half-open
		Interval:    0, // Counts only reset on state change
		Timeout:     e.opts.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(e.opts.Threshold)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			now := time.Now()
			b.mu.Lock()
			b.lastTransition = now
			b.mu.Unlock()

			e.logger.Warn("circuit breaker transition",
				zap.String("class", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			if e.pub != nil {
				e.pub.Publish(events.TopicCircuit, events.CircuitChangedEvent{
					Class:     name,
					From:      phase(from),
					To:        phase(to),
					Timestamp: now,
				})
			}
		},
	})

	e.breakers[class] = b
	return b
}

// Execute runs step until it succeeds, a non-retryable error occurs, attempts
// run out or ctx is done. It returns the number of attempts made; a refused
// admission is an attempt, an open circuit is not.
//
// ctx only decides whether another attempt starts. Call receives ctx too, so
// a caller that wants in-flight calls to survive cancellation hands Call a
// context of its own.
func (e *Engine) Execute(ctx context.Context, class string, retry wave.RetryOptions, step Step) (int, error) {
	b := e.breaker(class)
	attempts := 0
	var lastErr error

	operation := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		if b.cb.State() == gobreaker.StateOpen {
			return backoff.Permanent(circuitOpen(class, gobreaker.ErrOpenState))
		}

		if step.Admit != nil {
			if err := step.Admit(ctx); err != nil {
				if ctx.Err() != nil {
					return backoff.Permanent(ctx.Err())
				}
				attempts++
				lastErr = err
				return classify(retry, err)
			}
		}

		attempts++
		attempt := attempts
		_, err := b.cb.Execute(func() (interface{}, error) {
			return nil, step.Call(ctx, attempt)
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			attempts--
			return backoff.Permanent(circuitOpen(class, err))
		}
		if err == nil {
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return classify(retry, err)
	}

	maxRetries := retry.MaxAttempts - 1
	if maxRetries < 0 {
		maxRetries = 0
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = retry.BaseBackoff
	policy.Multiplier = retry.Multiplier
	policy.RandomizationFactor = retry.Jitter
	policy.MaxInterval = retry.MaxBackoff
	policy.MaxElapsedTime = 0 // Bounded by attempts and ctx instead

	bo := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(maxRetries)), ctx)

	notify := func(err error, delay time.Duration) {
		kind := wave.KindOf(err)
		e.logger.Warn("retrying task attempt",
			zap.String("class", class),
			zap.Int("attempt", attempts),
			zap.String("kind", string(kind)),
			zap.Duration("delay", delay),
			zap.Error(err))
		if e.pub != nil {
			e.pub.Publish(events.TopicTask, events.TaskRetryEvent{
				Class:     class,
				Attempt:   attempts,
				Kind:      kind,
				Delay:     delay,
				Timestamp: time.Now(),
			})
		}
	}

	err := backoff.RetryNotify(operation, bo, notify)
	// Retries stopped by ctx report the last attempt's failure, not ctx's error.
	if err != nil && lastErr != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		err = lastErr
	}
	return attempts, err
}

func classify(retry wave.RetryOptions, err error) error {
	if !retry.IsRetryable(wave.KindOf(err)) {
		return backoff.Permanent(err)
	}
	return err
}

func circuitOpen(class string, err error) error {
	return wave.NewError(wave.KindCircuitOpen, "", fmt.Errorf("class %q: %w", class, err))
}

// State returns a snapshot of the breaker for class.
func (e *Engine) State(class string) wave.CircuitState {
	b := e.breaker(class)
	st := b.cb.State()
	counts := b.cb.Counts()

	b.mu.Lock()
	last := b.lastTransition
	b.mu.Unlock()

	return wave.CircuitState{
		Class:               class,
		State:               phase(st),
		ConsecutiveFailures: int(counts.ConsecutiveFailures),
		LastTransition:      last,
		Cooldown:            e.opts.Cooldown,
	}
}

// States returns snapshots for every class seen so far.
func (e *Engine) States() []wave.CircuitState {
	e.mu.Lock()
	classes := make([]string, 0, len(e.breakers))
	for class := range e.breakers {
		classes = append(classes, class)
	}
	e.mu.Unlock()

	states := make([]wave.CircuitState, 0, len(classes))
	for _, class := range classes {
		states = append(states, e.State(class))
	}
	return states
}

func phase(s gobreaker.State) wave.CircuitPhase {
	switch s {
	case gobreaker.StateOpen:
		return wave.CircuitOpen
	case gobreaker.StateHalfOpen:
		return wave.CircuitHalfOpen
	default:
		return wave.CircuitClosed
	}
}
