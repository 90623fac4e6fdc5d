package wave

import "time"

// TaskStatus is the terminal state of a task within a wave.
type TaskStatus string

const (
	StatusSucceeded TaskStatus = "succeeded"
	StatusFailed    TaskStatus = "failed"
	StatusSkipped   TaskStatus = "skipped"
)

// TaskResult is the outcome of one task.
type TaskResult struct {
	TaskID      string            `json:"task_id"`
	Status      TaskStatus        `json:"status"`
	Attempts    int               `json:"attempts"`
	Output      string            `json:"output,omitempty"`
	Fields      map[string]string `json:"fields,omitempty"`
	ErrorKind   ErrorKind         `json:"error_kind,omitempty"`
	Error       string            `json:"error,omitempty"`
	ContentHash string            `json:"content_hash"`
	Replayed    bool              `json:"replayed,omitempty"`
	StartedAt   time.Time         `json:"started_at"`
	FinishedAt  time.Time         `json:"finished_at"`
}

// Succeeded reports whether the task finished successfully.
func (r TaskResult) Succeeded() bool { return r.Status == StatusSucceeded }

// Duration returns the wall time spent on the task.
func (r TaskResult) Duration() time.Duration {
	if r.FinishedAt.IsZero() || r.StartedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// FailedResult builds a failed TaskResult from a taxonomy error.
func FailedResult(task Task, attempts int, err error, started time.Time) TaskResult {
	return TaskResult{
		TaskID:      task.ID,
		Status:      StatusFailed,
		Attempts:    attempts,
		ErrorKind:   KindOf(err),
		Error:       err.Error(),
		ContentHash: task.ContentHash(),
		StartedAt:   started,
		FinishedAt:  time.Now(),
	}
}

// SkippedResult builds a skipped TaskResult. No attempt was made.
func SkippedResult(task Task, kind ErrorKind, reason string) TaskResult {
	now := time.Now()
	return TaskResult{
		TaskID:      task.ID,
		Status:      StatusSkipped,
		ErrorKind:   kind,
		Error:       reason,
		ContentHash: task.ContentHash(),
		StartedAt:   now,
		FinishedAt:  now,
	}
}

// Counts tallies task results by status.
type Counts struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	Replayed  int `json:"replayed"`
}

// ResumeMode describes how a wave related to its prior checkpoint.
type ResumeMode string

const (
	ModeFresh         ResumeMode = "fresh"
	ModePartialResume ResumeMode = "partial-resume"
	ModeFullRestart   ResumeMode = "full-restart"
)

// WaveResult is the aggregate view of a finished wave. It is built once and
// never mutated after Execute returns.
type WaveResult struct {
	WaveID     string       `json:"wave_id"`
	Mode       ResumeMode   `json:"mode"`
	Results    []TaskResult `json:"results"` // Same order as the input tasks
	Counts     Counts       `json:"counts"`
	Success    bool         `json:"success"`
	Cancelled  bool         `json:"cancelled"`
	Orphaned   []string     `json:"orphaned,omitempty"`
	Drifted    []string     `json:"drifted,omitempty"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
}

// WaveSummary is the name used by reporting collaborators for WaveResult.
type WaveSummary = WaveResult

// Result returns the result for a task ID.
func (w *WaveResult) Result(taskID string) (TaskResult, bool) {
	for _, r := range w.Results {
		if r.TaskID == taskID {
			return r, true
		}
	}
	return TaskResult{}, false
}

// Summarize tallies results. Success requires every task to have succeeded
// and the wave not to have been cancelled.
func Summarize(results []TaskResult, cancelled bool) (Counts, bool) {
	var c Counts
	for _, r := range results {
		switch r.Status {
		case StatusSucceeded:
			c.Succeeded++
		case StatusFailed:
			c.Failed++
		case StatusSkipped:
			c.Skipped++
		}
		if r.Replayed {
			c.Replayed++
		}
	}
	return c, !cancelled && c.Failed == 0 && c.Skipped == 0
}

// CircuitPhase is the state of a per-classification breaker.
type CircuitPhase string

const (
	CircuitClosed   CircuitPhase = "closed"
	CircuitOpen     CircuitPhase = "open"
	CircuitHalfOpen CircuitPhase = "half-open"
)

// CircuitState is a point-in-time snapshot of one breaker.
type CircuitState struct {
	Class               string        `json:"class"`
	State               CircuitPhase  `json:"state"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	LastTransition      time.Time     `json:"last_transition"`
	Cooldown            time.Duration `json:"cooldown"`
}
