// Package resume decides what an interrupted wave has to run again.
package resume

import (
	"sort"

	"go.uber.org/zap"

	"github.com/usorama/rad-engineer/internal/wave"
)

// Category is the resume decision for one task.
type Category string

const (
	CategoryReplay  Category = "replay"  // Stored success, same definition: no agent call
	CategoryRerun   Category = "rerun"   // In flight at interruption or previously unsuccessful
	CategoryNew     Category = "new"     // No stored result
	CategoryDrifted Category = "drifted" // Stored result for a changed definition
)

// Decision is the plan for one task.
type Decision struct {
	TaskID   string           `json:"task_id"`
	Category Category         `json:"category"`
	Reason   string           `json:"reason,omitempty"`
	Stored   *wave.TaskResult `json:"stored,omitempty"` // Set for replay decisions
}

// Plan is the resume plan for a whole wave.
type Plan struct {
	Mode      wave.ResumeMode `json:"mode"`
	Reason    string          `json:"reason,omitempty"`
	Decisions []Decision      `json:"decisions"` // Same order as the task list
	Orphaned  []string        `json:"orphaned,omitempty"`
	Drifted   []string        `json:"drifted,omitempty"`

	byID map[string]int // Index into Decisions
}

// IDs returns the task IDs in category, in task order.
func (p Plan) IDs(c Category) []string {
	var ids []string
	for _, d := range p.Decisions {
		if d.Category == c {
			ids = append(ids, d.TaskID)
		}
	}
	return ids
}

// Decision returns the decision for taskID.
func (p Plan) Decision(taskID string) (Decision, bool) {
	if p.byID == nil {
		for _, d := range p.Decisions {
			if d.TaskID == taskID {
				return d, true
			}
		}
		return Decision{}, false
	}
	i, ok := p.byID[taskID]
	if !ok {
		return Decision{}, false
	}
	return p.Decisions[i], true
}

func (p Plan) indexed() Plan {
	p.byID = make(map[string]int, len(p.Decisions))
	for i, d := range p.Decisions {
		p.byID[d.TaskID] = i
	}
	return p
}

// Engine produces resume plans. It holds no state between calls.
type Engine struct {
	logger *zap.Logger
}

// NewEngine creates a resume engine. A nil logger discards output.
func NewEngine(logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{logger: logger}
}

// Plan compares the current task list with a saved checkpoint.
// A nil checkpoint yields a fresh plan.
func (e *Engine) Plan(current []wave.Task, saved *wave.WaveState) Plan {
	if saved == nil {
		return allNew(current, wave.ModeFresh, "no checkpoint").indexed()
	}
	if saved.SchemaVersion != wave.SchemaVersion {
		p := allNew(current, wave.ModeFullRestart, "checkpoint schema version is incompatible")
		e.log(saved.WaveID, p)
		return p.indexed()
	}

	orphaned := orphans(current, saved)

	if !overlaps(current, saved) {
		p := allNew(current, wave.ModeFullRestart, "checkpoint shares no tasks with the current wave")
		p.Orphaned = orphaned
		e.log(saved.WaveID, p)
		return p.indexed()
	}

	p := Plan{
		Mode:      wave.ModePartialResume,
		Decisions: make([]Decision, 0, len(current)),
		Orphaned:  orphaned,
	}
	for _, task := range current {
		d := decide(task, saved)
		if d.Category == CategoryDrifted {
			p.Drifted = append(p.Drifted, task.ID)
		}
		p.Decisions = append(p.Decisions, d)
	}

	e.log(saved.WaveID, p)
	return p.indexed()
}

// FullRestart returns a plan that discards a checkpoint that could not be read.
func (e *Engine) FullRestart(current []wave.Task, reason string) Plan {
	return allNew(current, wave.ModeFullRestart, reason).indexed()
}

func decide(task wave.Task, saved *wave.WaveState) Decision {
	d := Decision{TaskID: task.ID}

	stored, ok := saved.Completed[task.ID]
	switch {
	case ok && stored.ContentHash != task.ContentHash():
		d.Category = CategoryDrifted
		d.Reason = "task definition changed since checkpoint"
	case ok && stored.Succeeded():
		d.Category = CategoryReplay
		r := stored
		d.Stored = &r
	case ok:
		d.Category = CategoryRerun
		d.Reason = "previous result was " + string(stored.Status)
	case saved.IsInFlight(task.ID):
		d.Category = CategoryRerun
		d.Reason = "in flight when the wave was interrupted"
	default:
		d.Category = CategoryNew
	}
	return d
}

func allNew(current []wave.Task, mode wave.ResumeMode, reason string) Plan {
	p := Plan{Mode: mode, Reason: reason, Decisions: make([]Decision, 0, len(current))}
	for _, t := range current {
		p.Decisions = append(p.Decisions, Decision{TaskID: t.ID, Category: CategoryNew})
	}
	return p
}

func overlaps(current []wave.Task, saved *wave.WaveState) bool {
	for _, t := range current {
		if _, ok := saved.Completed[t.ID]; ok {
			return true
		}
		if saved.IsInFlight(t.ID) {
			return true
		}
	}
	return false
}

// orphans returns stored task IDs that the current wave no longer contains.
func orphans(current []wave.Task, saved *wave.WaveState) []string {
	known := make(map[string]bool, len(current))
	for _, t := range current {
		known[t.ID] = true
	}

	seen := make(map[string]bool)
	var out []string
	add := func(id string) {
		if !known[id] && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for id := range saved.Completed {
		add(id)
	}
	for _, id := range saved.InFlight {
		add(id)
	}
	sort.Strings(out)
	return out
}

func (e *Engine) log(waveID string, p Plan) {
	e.logger.Info("resume plan",
		zap.String("wave_id", waveID),
		zap.String("mode", string(p.Mode)),
		zap.Int("replay", len(p.IDs(CategoryReplay))),
		zap.Int("rerun", len(p.IDs(CategoryRerun))),
		zap.Int("new", len(p.IDs(CategoryNew))),
		zap.Strings("drifted", p.Drifted),
		zap.Strings("orphaned", p.Orphaned))
}
