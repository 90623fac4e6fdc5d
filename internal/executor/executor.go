// Package executor runs a single task: validate the prompt, wait for
// resources, call the agent and parse its answer, retrying through the
// recovery engine.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/usorama/rad-engineer/internal/agent"
	"github.com/usorama/rad-engineer/internal/prompt"
	"github.com/usorama/rad-engineer/internal/recovery"
	"github.com/usorama/rad-engineer/internal/wave"
)

// Gate admits an attempt once the host has headroom.
// *resource.Manager is the production implementation.
type Gate interface {
	Admit(ctx context.Context, timeout, poll time.Duration) error
}

// Retrier runs an operation with retries and circuit breaking.
// *recovery.Engine is the production implementation.
type Retrier interface {
	Execute(ctx context.Context, class string, retry wave.RetryOptions, step recovery.Step) (int, error)
}

// StepExecutor turns one task into one terminal TaskResult.
type StepExecutor struct {
	validator *prompt.Validator
	parser    *prompt.Parser
	invoker   agent.Invoker
	gate      Gate
	retrier   Retrier
	opts      wave.WaveOptions
	logger    *zap.Logger
	now       func() time.Time
}

// Config collects the collaborators of a StepExecutor.
// Gate may be nil to disable admission control.
type Config struct {
	Validator *prompt.Validator
	Parser    *prompt.Parser
	Invoker   agent.Invoker
	Gate      Gate
	Retrier   Retrier
	Options   wave.WaveOptions
	Logger    *zap.Logger
}

// New creates a step executor.
func New(cfg Config) (*StepExecutor, error) {
	if cfg.Invoker == nil {
		return nil, errors.New("executor: invoker is required")
	}
	if cfg.Retrier == nil {
		return nil, errors.New("executor: retrier is required")
	}
	if cfg.Validator == nil {
		v, err := prompt.NewValidator(prompt.ValidatorConfig{})
		if err != nil {
			return nil, err
		}
		cfg.Validator = v
	}
	if cfg.Parser == nil {
		cfg.Parser = prompt.NewParser(prompt.ParserConfig{})
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &StepExecutor{
		validator: cfg.Validator,
		parser:    cfg.Parser,
		invoker:   cfg.Invoker,
		gate:      cfg.Gate,
		retrier:   cfg.Retrier,
		opts:      cfg.Options.WithDefaults(),
		logger:    cfg.Logger,
		now:       time.Now,
	}, nil
}

// WithOptions returns a copy of the executor that uses opts.
// Collaborators, including breaker state, are shared with the original.
func (s *StepExecutor) WithOptions(opts wave.WaveOptions) *StepExecutor {
	cp := *s
	cp.opts = opts.WithDefaults()
	return &cp
}

// Replay returns a stored successful result without calling the agent.
// It returns wave.ErrDrift when the task definition no longer matches.
func (s *StepExecutor) Replay(task wave.Task, stored wave.TaskResult) (wave.TaskResult, error) {
	if stored.ContentHash != task.ContentHash() {
		return wave.TaskResult{}, wave.NewError(wave.KindDrift, task.ID, wave.ErrDrift)
	}
	if !stored.Succeeded() {
		return wave.TaskResult{}, fmt.Errorf("task %s: stored result is %s, not replayable", task.ID, stored.Status)
	}
	r := stored
	r.Replayed = true
	return r, nil
}

// Run executes task. A non-nil stored result is replayed when it is still
// valid; otherwise the task is executed afresh. Run always returns a
// terminal result and never panics on agent errors.
func (s *StepExecutor) Run(ctx context.Context, task wave.Task, stored *wave.TaskResult) wave.TaskResult {
	if stored != nil {
		r, err := s.Replay(task, *stored)
		if err == nil {
			s.logger.Debug("task replayed", zap.String("task_id", task.ID))
			return r
		}
		s.logger.Warn("stored result not replayable, executing",
			zap.String("task_id", task.ID), zap.Error(err))
	}

	started := s.now()

	if res := s.validator.Validate(task.Prompt); !res.Valid {
		err := wave.Errorf(wave.KindValidation, task.ID, "%s", res.Error())
		s.logger.Warn("prompt rejected", zap.String("task_id", task.ID), zap.String("reason", res.Error()))
		return wave.FailedResult(task, 0, err, started)
	}

	// ctx stops further attempts; an attempt already running keeps going
	// until it returns or the task deadline passes.
	if s.opts.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.TaskTimeout)
		defer cancel()
	}
	callCtx := context.WithoutCancel(ctx)
	if deadline, ok := ctx.Deadline(); ok {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithDeadline(callCtx, deadline)
		defer cancel()
	}

	var (
		raw    string
		parsed prompt.ParseResult
	)
	step := recovery.Step{
		Call: func(_ context.Context, attempt int) error {
			out, res, err := s.attempt(callCtx, task, attempt)
			raw = out
			parsed = res
			return err
		},
	}
	if s.gate != nil {
		step.Admit = func(ctx context.Context) error {
			return s.gate.Admit(ctx, s.opts.AdmissionTimeout, s.opts.AdmissionPollInterval)
		}
	}
	attempts, err := s.retrier.Execute(ctx, task.Classification(), s.opts.Retry, step)

	if err != nil {
		var we *wave.Error
		if !errors.As(err, &we) {
			err = wave.NewError(wave.KindOf(err), task.ID, err)
		} else if we.TaskID == "" {
			err = wave.NewError(we.Kind, task.ID, we.Err)
		}
		s.logger.Warn("task failed",
			zap.String("task_id", task.ID),
			zap.Int("attempts", attempts),
			zap.String("kind", string(wave.KindOf(err))),
			zap.Error(err))
		r := wave.FailedResult(task, attempts, err, started)
		r.Output = raw
		return r
	}

	s.logger.Info("task succeeded", zap.String("task_id", task.ID), zap.Int("attempts", attempts))
	return wave.TaskResult{
		TaskID:      task.ID,
		Status:      wave.StatusSucceeded,
		Attempts:    attempts,
		Output:      raw,
		Fields:      parsed.Fields,
		ContentHash: task.ContentHash(),
		StartedAt:   started,
		FinishedAt:  s.now(),
	}
}

// attempt is one agent call and parse, run after admission.
func (s *StepExecutor) attempt(ctx context.Context, task wave.Task, attempt int) (string, prompt.ParseResult, error) {
	callCtx := ctx
	if s.opts.AgentCallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.opts.AgentCallTimeout)
		defer cancel()
	}

	s.logger.Debug("invoking agent", zap.String("task_id", task.ID), zap.Int("attempt", attempt))
	out, err := s.invoker.Invoke(callCtx, task.Prompt)
	if err != nil {
		// A call timeout is an execution failure worth retrying;
		// only the caller's own cancellation is treated as cancellation.
		if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return out, prompt.ParseResult{}, wave.Errorf(wave.KindExecution, task.ID, "agent call timed out after %s", s.opts.AgentCallTimeout)
		}
		if errors.Is(err, context.Canceled) {
			return out, prompt.ParseResult{}, err
		}
		return out, prompt.ParseResult{}, wave.NewError(wave.KindExecution, task.ID, err)
	}

	res, err := s.parser.Parse(out)
	return out, res, err
}
