package recovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/usorama/rad-engineer/internal/events"
	"github.com/usorama/rad-engineer/internal/wave"
)

func fastRetry(attempts int) wave.RetryOptions {
	r := wave.DefaultRetryOptions()
	r.MaxAttempts = attempts
	r.BaseBackoff = time.Millisecond
	r.MaxBackoff = 5 * time.Millisecond
	return r
}

// scripted returns an op that yields errs in order, then succeeds.
func scripted(errs ...error) (Op, *int) {
	calls := 0
	return func(ctx context.Context, attempt int) error {
		calls++
		if calls <= len(errs) {
			return errs[calls-1]
		}
		return nil
	}, &calls
}

func execErr(msg string) error {
	return wave.Errorf(wave.KindExecution, "", "%s", msg)
}

// TestExecute_TransientThenSuccess verifies transient failures are retried.
func TestExecute_TransientThenSuccess(t *testing.T) {
	e := NewEngine(BreakerOptions{}, WithLogger(zaptest.NewLogger(t)))
	op, calls := scripted(execErr("flaky 1"), execErr("flaky 2"))

	attempts, err := e.Execute(context.Background(), "default", fastRetry(3), Step{Call: op})
	if err != nil {
		t.Fatalf("expected success after retries, got error: %v", err)
	}
	if attempts != 3 || *calls != 3 {
		t.Errorf("attempts = %d, calls = %d, want 3 and 3", attempts, *calls)
	}
}

func TestExecute_RetriesExhausted(t *testing.T) {
	e := NewEngine(BreakerOptions{Threshold: 10})
	op, calls := scripted(execErr("1"), execErr("2"), execErr("3"), execErr("4"))

	attempts, err := e.Execute(context.Background(), "default", fastRetry(3), Step{Call: op})
	if wave.KindOf(err) != wave.KindExecution {
		t.Fatalf("err = %v, want ExecutionFailure", err)
	}
	if attempts != 3 || *calls != 3 {
		t.Errorf("attempts = %d, calls = %d, want 3", attempts, *calls)
	}
}

func TestExecute_NonRetryableStopsImmediately(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"validation", wave.Errorf(wave.KindValidation, "t", "bad prompt")},
		{"state write", wave.Errorf(wave.KindStateWrite, "t", "disk full")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEngine(BreakerOptions{})
			op, calls := scripted(tt.err, tt.err)

			attempts, err := e.Execute(context.Background(), "default", fastRetry(5), Step{Call: op})
			if !errors.Is(err, tt.err) {
				t.Fatalf("err = %v, want %v", err, tt.err)
			}
			if attempts != 1 || *calls != 1 {
				t.Errorf("attempts = %d, want 1", attempts)
			}
		})
	}
}

func TestExecute_BackoffGrows(t *testing.T) {
	e := NewEngine(BreakerOptions{Threshold: 10})
	op, _ := scripted(execErr("1"), execErr("2"))

	retry := wave.RetryOptions{
		MaxAttempts: 3,
		BaseBackoff: 20 * time.Millisecond,
		Multiplier:  2,
		MaxBackoff:  time.Second,
		Retryable:   []wave.ErrorKind{wave.KindExecution},
	}

	start := time.Now()
	if _, err := e.Execute(context.Background(), "default", retry, Step{Call: op}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	// 20ms then 40ms with no jitter.
	if elapsed := time.Since(start); elapsed < 60*time.Millisecond {
		t.Errorf("elapsed %v, want at least 60ms of backoff", elapsed)
	}
}

func TestExecute_CancelledContext(t *testing.T) {
	e := NewEngine(BreakerOptions{Threshold: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	op, calls := scripted()
	attempts, err := e.Execute(ctx, "default", fastRetry(3), Step{Call: op})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if attempts != 0 || *calls != 0 {
		t.Errorf("op invoked %d times after cancellation", *calls)
	}
	if st := e.State("default"); st.State != wave.CircuitClosed {
		t.Errorf("cancellation tripped the breaker: %s", st.State)
	}
}

// TestCircuitBreaker_Lifecycle walks closed -> open -> half-open -> closed
// with a threshold of 3.
func TestCircuitBreaker_Lifecycle(t *testing.T) {
	bus := events.NewEventBus()
	defer bus.Close()
	circuitCh := bus.Subscribe(events.TopicCircuit, 10)

	cooldown := 50 * time.Millisecond
	e := NewEngine(BreakerOptions{Threshold: 3, Cooldown: cooldown},
		WithLogger(zaptest.NewLogger(t)), WithPublisher(bus))
	ctx := context.Background()

	failing := func(ctx context.Context, attempt int) error { return execErr("down") }
	for i := 0; i < 3; i++ {
		if _, err := e.Execute(ctx, "codegen", fastRetry(1), Step{Call: failing}); wave.KindOf(err) != wave.KindExecution {
			t.Fatalf("call %d: err = %v, want ExecutionFailure", i+1, err)
		}
	}

	if st := e.State("codegen"); st.State != wave.CircuitOpen {
		t.Fatalf("state after 3 failures = %s, want open", st.State)
	}

	invoked := false
	attempts, err := e.Execute(ctx, "codegen", fastRetry(3), Step{Call: func(ctx context.Context, attempt int) error {
		invoked = true
		return nil
	}})
	if wave.KindOf(err) != wave.KindCircuitOpen {
		t.Fatalf("err = %v, want CircuitOpen", err)
	}
	if invoked || attempts != 0 {
		t.Error("step invoked while circuit open")
	}

	// Other classes are unaffected.
	if _, err := e.Execute(ctx, "docs", fastRetry(1), Step{Call: succeed}); err != nil {
		t.Errorf("independent class failed: %v", err)
	}

	time.Sleep(cooldown + 20*time.Millisecond)
	if st := e.State("codegen"); st.State != wave.CircuitHalfOpen {
		t.Fatalf("state after cooldown = %s, want half-open", st.State)
	}

	if _, err := e.Execute(ctx, "codegen", fastRetry(1), Step{Call: succeed}); err != nil {
		t.Fatalf("trial call: %v", err)
	}
	if st := e.State("codegen"); st.State != wave.CircuitClosed {
		t.Fatalf("state after successful trial = %s, want closed", st.State)
	}

	var transitions []wave.CircuitPhase
	for len(circuitCh) > 0 {
		transitions = append(transitions, (<-circuitCh).(events.CircuitChangedEvent).To)
	}
	want := []wave.CircuitPhase{wave.CircuitOpen, wave.CircuitHalfOpen, wave.CircuitClosed}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d = %s, want %s", i, transitions[i], want[i])
		}
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cooldown := 30 * time.Millisecond
	e := NewEngine(BreakerOptions{Threshold: 1, Cooldown: cooldown})
	ctx := context.Background()
	failing := func(context.Context, int) error { return execErr("down") }

	_, _ = e.Execute(ctx, "default", fastRetry(1), Step{Call: failing})
	if st := e.State("default"); st.State != wave.CircuitOpen {
		t.Fatalf("state = %s, want open", st.State)
	}

	time.Sleep(cooldown + 10*time.Millisecond)
	_, _ = e.Execute(ctx, "default", fastRetry(1), Step{Call: failing})

	st := e.State("default")
	if st.State != wave.CircuitOpen {
		t.Fatalf("state after failed trial = %s, want open", st.State)
	}
	if st.Cooldown != cooldown {
		t.Errorf("cooldown = %v, want %v", st.Cooldown, cooldown)
	}
}

func succeed(context.Context, int) error { return nil }

func deny(context.Context) error {
	return wave.Errorf(wave.KindResourceDenied, "", "cpu busy")
}

func TestCircuitBreaker_ResourceDenialNotCounted(t *testing.T) {
	e := NewEngine(BreakerOptions{Threshold: 2})
	invoked := 0
	step := Step{Admit: deny, Call: func(context.Context, int) error {
		invoked++
		return nil
	}}

	for i := 0; i < 3; i++ {
		attempts, err := e.Execute(context.Background(), "default", fastRetry(2), step)
		if wave.KindOf(err) != wave.KindResourceDenied {
			t.Fatalf("err = %v, want resource_denied", err)
		}
		if attempts != 2 {
			t.Errorf("attempts = %d, want 2 (denials are retried)", attempts)
		}
	}
	if invoked != 0 {
		t.Errorf("call ran %d times while admission was refused", invoked)
	}
	if st := e.State("default"); st.State != wave.CircuitClosed || st.ConsecutiveFailures != 0 {
		t.Errorf("state = %s with %d failures, want closed with 0", st.State, st.ConsecutiveFailures)
	}
}

func TestCircuitBreaker_DenialKeepsFailureStreak(t *testing.T) {
	e := NewEngine(BreakerOptions{Threshold: 3})
	ctx := context.Background()
	failing := Step{Call: func(context.Context, int) error { return execErr("down") }}

	_, _ = e.Execute(ctx, "default", fastRetry(1), failing)
	_, _ = e.Execute(ctx, "default", fastRetry(1), failing)
	_, _ = e.Execute(ctx, "default", fastRetry(1), Step{Admit: deny, Call: succeed})
	if st := e.State("default"); st.ConsecutiveFailures != 2 {
		t.Fatalf("consecutive failures after denial = %d, want 2", st.ConsecutiveFailures)
	}

	_, _ = e.Execute(ctx, "default", fastRetry(1), failing)
	if st := e.State("default"); st.State != wave.CircuitOpen {
		t.Errorf("state after third failure = %s, want open", st.State)
	}
}

func TestCircuitBreaker_DeniedTrialStaysHalfOpen(t *testing.T) {
	cooldown := 30 * time.Millisecond
	e := NewEngine(BreakerOptions{Threshold: 1, Cooldown: cooldown})
	ctx := context.Background()

	_, _ = e.Execute(ctx, "default", fastRetry(1), Step{Call: func(context.Context, int) error { return execErr("down") }})
	time.Sleep(cooldown + 10*time.Millisecond)

	invoked := false
	_, err := e.Execute(ctx, "default", fastRetry(1), Step{Admit: deny, Call: func(context.Context, int) error {
		invoked = true
		return nil
	}})
	if wave.KindOf(err) != wave.KindResourceDenied || invoked {
		t.Fatalf("err = %v, invoked = %v, want denial without a call", err, invoked)
	}
	if st := e.State("default"); st.State != wave.CircuitHalfOpen {
		t.Fatalf("state after denied trial = %s, want half-open", st.State)
	}

	if _, err := e.Execute(ctx, "default", fastRetry(1), Step{Call: succeed}); err != nil {
		t.Fatalf("trial call: %v", err)
	}
	if st := e.State("default"); st.State != wave.CircuitClosed {
		t.Errorf("state after successful trial = %s, want closed", st.State)
	}
}

func TestExecute_CancelStopsFurtherAttempts(t *testing.T) {
	e := NewEngine(BreakerOptions{Threshold: 10})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	step := Step{Call: func(context.Context, int) error {
		calls++
		cancel()
		return execErr("still failing")
	}}

	attempts, err := e.Execute(ctx, "default", fastRetry(3), step)
	if calls != 1 || attempts != 1 {
		t.Errorf("calls = %d, attempts = %d, want 1 and 1", calls, attempts)
	}
	if wave.KindOf(err) != wave.KindExecution {
		t.Errorf("err = %v, want the attempt's execution failure", err)
	}
}

func TestExecute_PublishesRetries(t *testing.T) {
	bus := events.NewEventBus()
	defer bus.Close()
	ch := bus.Subscribe(events.TopicTask, 10)

	e := NewEngine(BreakerOptions{}, WithPublisher(bus))
	op, _ := scripted(wave.Errorf(wave.KindParse, "", "no json"))
	if _, err := e.Execute(context.Background(), "default", fastRetry(2), Step{Call: op}); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	select {
	case ev := <-ch:
		retry := ev.(events.TaskRetryEvent)
		if retry.Attempt != 1 || retry.Kind != wave.KindParse {
			t.Errorf("retry event = %+v", retry)
		}
	default:
		t.Fatal("no retry event published")
	}

	if n := len(e.States()); n != 1 {
		t.Errorf("States() returned %d classes, want 1", n)
	}
}
