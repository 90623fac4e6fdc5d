package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/usorama/rad-engineer/internal/executor"
	"github.com/usorama/rad-engineer/internal/resume"
	"github.com/usorama/rad-engineer/internal/scheduler"
	"github.com/usorama/rad-engineer/internal/wave"
)

const (
	checkpointAttempts = 3
	checkpointBackoff  = 50 * time.Millisecond
)

type completion struct {
	task   wave.Task
	result wave.TaskResult
}

// run is the state of one Execute call. Only the coordinator goroutine
// touches it; workers communicate through the done channel.
type run struct {
	o      *Orchestrator
	waveID string
	tasks  []wave.Task
	opts   wave.WaveOptions
	exec   *executor.StepExecutor
	dag    *scheduler.DAG
	plan   resume.Plan
	logger *zap.Logger

	st      *wave.WaveState
	results map[string]wave.TaskResult
	started time.Time

	running   int
	stopped   bool   // No further dispatch
	stopCause string // Reason recorded on tasks never dispatched
	stopKind  wave.ErrorKind
	cancelled bool
	fatal     error
}

// loop dispatches eligible tasks and applies completions until nothing is
// running and nothing more can be dispatched.
func (r *run) loop(ctx context.Context) {
	done := make(chan completion, len(r.tasks))
	// Dispatch only happens while running < Concurrency, so g.Go does not block.
	var g errgroup.Group
	g.SetLimit(r.opts.Concurrency)

	var tick <-chan time.Time
	if r.o.resources != nil && r.opts.ResourceGracePeriod > 0 {
		ticker := time.NewTicker(r.opts.AdmissionPollInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		r.skipBlocked(ctx)

		if !r.stopped {
			switch {
			case ctx.Err() != nil:
				r.cancel()
			case r.exhausted(ctx):
				r.abort(wave.Errorf(wave.KindResourceExhausted, "",
					"admission denied for longer than %s", r.opts.ResourceGracePeriod))
			}
		}

		if !r.stopped {
			for _, task := range r.dag.Eligible() {
				if r.running >= r.opts.Concurrency {
					break
				}
				r.dispatch(ctx, &g, done, task)
			}
		}

		if r.running == 0 {
			break
		}

		var ctxDone <-chan struct{}
		if !r.stopped {
			ctxDone = ctx.Done()
		}

		select {
		case c := <-done:
			r.running--
			r.complete(ctx, c.task, c.result)
		case <-ctxDone:
			r.cancel()
		case <-tick:
		}
	}

	_ = g.Wait()

	// Whatever was never dispatched is reported as skipped but stays out of
	// the checkpoint, which keeps its stored result or in-flight mark.
	for _, task := range r.dag.Pending() {
		kind, reason := r.stopKind, r.stopCause
		if kind == wave.KindNone {
			kind, reason = wave.KindCancelled, "not dispatched"
		}
		res := wave.SkippedResult(task, kind, reason)
		if err := r.dag.MarkDone(task.ID, res.Status); err != nil {
			r.logger.Error("recording task result", zap.String("task_id", task.ID), zap.Error(err))
			continue
		}
		r.results[task.ID] = res
		r.notifyTask(res)
	}
}

// replay settles every replay decision whose dependencies were replayed too.
// Replays need no worker or admission, so they are recorded before dispatch;
// the rest wait for their dependencies and replay from a worker.
func (r *run) replay() []wave.TaskResult {
	var replayed []wave.TaskResult
	for progress := true; progress; {
		progress = false
		for _, task := range r.dag.Eligible() {
			d, ok := r.plan.Decision(task.ID)
			if !ok || d.Category != resume.CategoryReplay {
				continue
			}
			res, err := r.exec.Replay(task, *d.Stored)
			if err != nil {
				r.logger.Warn("stored result not replayable", zap.String("task_id", task.ID), zap.Error(err))
				continue
			}
			if err := r.dag.MarkDone(task.ID, res.Status); err != nil {
				r.logger.Error("recording task result", zap.String("task_id", task.ID), zap.Error(err))
				continue
			}
			r.results[task.ID] = res
			r.st.Record(res)
			replayed = append(replayed, res)
			progress = true
		}
	}
	if len(replayed) > 0 {
		r.logger.Info("replayed stored results", zap.Int("tasks", len(replayed)))
	}
	return replayed
}

func (r *run) dispatch(ctx context.Context, g *errgroup.Group, done chan<- completion, task wave.Task) {
	if err := r.dag.MarkRunning(task.ID); err != nil {
		r.logger.Error("dispatching task", zap.String("task_id", task.ID), zap.Error(err))
		return
	}
	r.st.MarkInFlight(task.ID)
	r.running++

	var stored *wave.TaskResult
	if d, ok := r.plan.Decision(task.ID); ok && d.Category == resume.CategoryReplay {
		stored = d.Stored
	}

	r.logger.Debug("task dispatched", zap.String("task_id", task.ID), zap.Bool("replay", stored != nil))
	g.Go(func() error {
		done <- completion{task: task, result: r.runTask(ctx, task, stored)}
		return nil
	})
}

// runTask never lets a panic escape the worker.
func (r *run) runTask(ctx context.Context, task wave.Task, stored *wave.TaskResult) (res wave.TaskResult) {
	started := time.Now()
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("task panicked", zap.String("task_id", task.ID), zap.Any("panic", p))
			res = wave.FailedResult(task, 0, wave.Errorf(wave.KindExecution, task.ID, "panic: %v", p), started)
		}
	}()
	return r.exec.Run(ctx, task, stored)
}

// complete records a terminal result: DAG, checkpoint, observer.
func (r *run) complete(ctx context.Context, task wave.Task, res wave.TaskResult) {
	if err := r.dag.MarkDone(task.ID, res.Status); err != nil {
		r.logger.Error("recording task result", zap.String("task_id", task.ID), zap.Error(err))
		return
	}
	r.results[task.ID] = res
	r.st.Record(res)

	if res.Status == wave.StatusFailed {
		r.logger.Warn("task failed",
			zap.String("task_id", task.ID),
			zap.String("kind", string(res.ErrorKind)),
			zap.String("error", res.Error))
		if r.opts.FailFast && !r.stopped {
			r.stop(wave.KindCancelled, fmt.Sprintf("fail-fast after task %s failed", task.ID))
		}
	}

	if r.fatal == nil || wave.KindOf(r.fatal) != wave.KindStateWrite {
		if err := r.checkpoint(ctx); err != nil {
			r.abort(err)
		}
	}

	r.notifyTask(res)
}

// skipBlocked marks tasks behind a failed or skipped dependency as skipped,
// repeating until no new task becomes blocked.
func (r *run) skipBlocked(ctx context.Context) {
	for {
		blocked := r.dag.Blocked()
		if len(blocked) == 0 {
			return
		}
		for _, task := range r.dag.Pending() {
			dep, ok := blocked[task.ID]
			if !ok {
				continue
			}
			r.complete(ctx, task, wave.SkippedResult(task, wave.KindDependencyFailed,
				fmt.Sprintf("dependency %s did not succeed", dep)))
		}
	}
}

// checkpoint saves the current state, retrying with backoff. The save runs
// even after ctx is cancelled so the final state is durable.
func (r *run) checkpoint(ctx context.Context) error {
	r.st.UpdatedAt = time.Now()
	snapshot := r.st.Clone()
	saveCtx := context.WithoutCancel(ctx)

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = checkpointBackoff
	policy.MaxElapsedTime = 0
	bo := backoff.WithMaxRetries(policy, checkpointAttempts-1)

	err := backoff.RetryNotify(func() error {
		return r.o.state.Save(saveCtx, r.waveID, snapshot)
	}, bo, func(err error, d time.Duration) {
		r.logger.Warn("checkpoint write failed, retrying", zap.Duration("delay", d), zap.Error(err))
	})
	if err != nil {
		r.logger.Error("checkpoint write failed", zap.Error(err))
		return wave.NewError(wave.KindStateWrite, "", err)
	}
	return nil
}

// exhausted reports whether admission has been denied for longer than the
// grace period within this wave, confirmed by a fresh check.
func (r *run) exhausted(ctx context.Context) bool {
	if r.o.resources == nil || r.opts.ResourceGracePeriod <= 0 {
		return false
	}
	since := r.o.resources.DeniedSince()
	if since.IsZero() {
		return false
	}
	if since.Before(r.started) {
		since = r.started
	}
	if time.Since(since) <= r.opts.ResourceGracePeriod {
		return false
	}
	return !r.o.resources.Check(ctx).Allowed
}

func (r *run) stop(kind wave.ErrorKind, cause string) {
	r.stopped = true
	r.stopKind = kind
	r.stopCause = cause
}

func (r *run) cancel() {
	if r.stopped {
		return
	}
	r.cancelled = true
	r.stop(wave.KindCancelled, "wave cancelled")
	r.logger.Info("wave cancelled, draining in-flight tasks", zap.Int("in_flight", r.running))
}

func (r *run) abort(err error) {
	if r.fatal == nil {
		r.fatal = err
	}
	if !r.stopped || r.stopKind != wave.KindOf(err) {
		r.stop(wave.KindOf(err), "wave aborted: "+err.Error())
	}
	r.logger.Error("wave aborted", zap.Error(err), zap.Int("in_flight", r.running))
}

func (r *run) finish() (*wave.WaveResult, error) {
	ordered := make([]wave.TaskResult, 0, len(r.tasks))
	for _, t := range r.tasks {
		ordered = append(ordered, r.results[t.ID])
	}
	if !r.dag.Done() {
		r.logger.Error("wave finished with unresolved tasks")
	}
	counts, success := wave.Summarize(ordered, r.cancelled)
	if r.fatal != nil {
		success = false
	}

	res := &wave.WaveResult{
		WaveID:     r.waveID,
		Mode:       r.plan.Mode,
		Results:    ordered,
		Counts:     counts,
		Success:    success,
		Cancelled:  r.cancelled,
		Orphaned:   r.plan.Orphaned,
		Drifted:    r.plan.Drifted,
		StartedAt:  r.started,
		FinishedAt: time.Now(),
	}

	r.logger.Info("wave finished",
		zap.Bool("success", res.Success),
		zap.Bool("cancelled", res.Cancelled),
		zap.Int("succeeded", counts.Succeeded),
		zap.Int("failed", counts.Failed),
		zap.Int("skipped", counts.Skipped),
		zap.Int("replayed", counts.Replayed),
		zap.Duration("duration", res.FinishedAt.Sub(res.StartedAt)))

	r.notifyWave(res)
	return res, r.fatal
}

// Observers must not be able to break the wave.
func (r *run) notifyTask(res wave.TaskResult) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("observer panicked", zap.String("task_id", res.TaskID), zap.Any("panic", p))
		}
	}()
	r.o.observer.TaskCompleted(r.waveID, res)
}

func (r *run) notifyWave(res *wave.WaveResult) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("observer panicked", zap.Any("panic", p))
		}
	}()
	r.o.observer.WaveCompleted(res)
}
