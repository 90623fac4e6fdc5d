// Package orchestrator executes a wave: it schedules tasks in dependency
// order on a bounded pool, checkpoints every completion and resumes
// interrupted waves from their last checkpoint.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/usorama/rad-engineer/internal/executor"
	"github.com/usorama/rad-engineer/internal/resource"
	"github.com/usorama/rad-engineer/internal/resume"
	"github.com/usorama/rad-engineer/internal/scheduler"
	"github.com/usorama/rad-engineer/internal/state"
	"github.com/usorama/rad-engineer/internal/wave"
)

// Checkpointer persists wave state. *state.Manager is the production implementation.
type Checkpointer interface {
	Save(ctx context.Context, waveID string, st *wave.WaveState) error
	Load(ctx context.Context, waveID string) (*wave.WaveState, error)
}

// Pressure reports sustained denial by admission control.
// *resource.Manager is the production implementation.
type Pressure interface {
	DeniedSince() time.Time
	Check(ctx context.Context) resource.CheckResult
}

// Config collects the collaborators of an Orchestrator.
type Config struct {
	Executor  *executor.StepExecutor
	State     Checkpointer
	Resume    *resume.Engine // Optional
	Resources Pressure       // Optional; enables ResourceGracePeriod
	Observer  wave.Observer  // Optional
	Logger    *zap.Logger    // Optional
}

// Orchestrator runs waves. A single Orchestrator may run several waves
// concurrently as long as their IDs differ.
type Orchestrator struct {
	exec      *executor.StepExecutor
	state     Checkpointer
	resume    *resume.Engine
	resources Pressure
	observer  wave.Observer
	logger    *zap.Logger
}

// New creates an orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Executor == nil {
		return nil, errors.New("orchestrator: executor is required")
	}
	if cfg.State == nil {
		return nil, errors.New("orchestrator: state manager is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Resume == nil {
		cfg.Resume = resume.NewEngine(cfg.Logger)
	}
	if cfg.Observer == nil {
		cfg.Observer = wave.NopObserver{}
	}
	return &Orchestrator{
		exec:      cfg.Executor,
		state:     cfg.State,
		resume:    cfg.Resume,
		resources: cfg.Resources,
		observer:  cfg.Observer,
		logger:    cfg.Logger,
	}, nil
}

// Plan returns the resume plan Execute would follow, without running anything.
// An incompatible checkpoint yields a full-restart plan.
func (o *Orchestrator) Plan(ctx context.Context, waveID string, tasks []wave.Task) (resume.Plan, error) {
	if _, err := scheduler.NewDAG(tasks); err != nil {
		return resume.Plan{}, fmt.Errorf("invalid wave: %w", err)
	}
	p, _, err := o.plan(ctx, waveID, tasks, true)
	return p, err
}

// plan loads the checkpoint and decides what to run. The loaded state is
// returned as well; it is nil when there was none or it was discarded.
func (o *Orchestrator) plan(ctx context.Context, waveID string, tasks []wave.Task, restartOnIncompatible bool) (resume.Plan, *wave.WaveState, error) {
	saved, err := o.state.Load(ctx, waveID)
	switch {
	case err == nil:
		return o.resume.Plan(tasks, saved), saved, nil
	case errors.Is(err, state.ErrNotFound):
		return o.resume.Plan(tasks, nil), nil, nil
	case errors.Is(err, state.ErrStateIncompatible):
		if restartOnIncompatible {
			o.logger.Warn("discarding incompatible checkpoint", zap.String("wave_id", waveID), zap.Error(err))
			return o.resume.FullRestart(tasks, err.Error()), nil, nil
		}
		return resume.Plan{}, nil, wave.NewError(wave.KindStateIncompatible, "", err)
	case errors.Is(err, state.ErrStateCorrupt):
		return resume.Plan{}, nil, wave.NewError(wave.KindStateCorrupt, "", err)
	default:
		return resume.Plan{}, nil, fmt.Errorf("loading checkpoint for wave %s: %w", waveID, err)
	}
}

// seedState starts the wave's checkpoint from what the saved one already
// knows: successes about to be replayed and tasks it last saw in flight.
func seedState(waveID string, tasks []wave.Task, plan resume.Plan, saved *wave.WaveState) *wave.WaveState {
	st := wave.NewWaveState(waveID, tasks)
	for _, d := range plan.Decisions {
		switch {
		case d.Category == resume.CategoryReplay:
			st.Record(*d.Stored)
		case plan.Mode == wave.ModePartialResume && saved.IsInFlight(d.TaskID):
			st.MarkInFlight(d.TaskID)
		}
	}
	return st
}

// Execute runs every task of the wave to a terminal result.
//
// Cancelling ctx stops dispatch and further retries; attempts already running
// finish (bounded by TaskTimeout), the rest are reported as skipped, and the
// partial result is returned with Cancelled set and a nil error. Wave-fatal
// conditions return the partial result together with the error. Tasks that
// never ran leave the checkpoint as it was, so stored successes survive.
func (o *Orchestrator) Execute(ctx context.Context, waveID string, tasks []wave.Task, opts wave.WaveOptions) (*wave.WaveResult, error) {
	if waveID == "" {
		return nil, errors.New("wave ID is required")
	}
	opts = opts.WithDefaults()

	dag, err := scheduler.NewDAG(tasks)
	if err != nil {
		return nil, fmt.Errorf("invalid wave: %w", err)
	}

	plan, saved, err := o.plan(ctx, waveID, tasks, opts.RestartOnIncompatible)
	if err != nil {
		return nil, err
	}

	r := &run{
		o:       o,
		waveID:  waveID,
		tasks:   tasks,
		opts:    opts,
		exec:    o.exec.WithOptions(opts),
		dag:     dag,
		plan:    plan,
		st:      seedState(waveID, tasks, plan, saved),
		results: make(map[string]wave.TaskResult, len(tasks)),
		started: time.Now(),
		logger:  o.logger.With(zap.String("wave_id", waveID)),
	}

	r.logger.Info("wave starting",
		zap.Int("tasks", len(tasks)),
		zap.String("mode", string(plan.Mode)),
		zap.Int("concurrency", opts.Concurrency),
		zap.Strings("drifted", plan.Drifted),
		zap.Strings("orphaned", plan.Orphaned))

	replayed := r.replay()
	if err := r.checkpoint(ctx); err != nil {
		return nil, err
	}
	for _, res := range replayed {
		r.notifyTask(res)
	}

	r.loop(ctx)
	return r.finish()
}
