package wave

import (
	"sort"
	"time"
)

// SchemaVersion is the checkpoint document version this build reads and writes.
const SchemaVersion = 1

// WaveState is the durable checkpoint of a wave.
type WaveState struct {
	WaveID        string                `json:"wave_id"`
	SchemaVersion int                   `json:"schema_version"`
	Completed     map[string]TaskResult `json:"completed"`
	Pending       []string              `json:"pending"`
	InFlight      []string              `json:"in_flight"` // Dispatched but unconfirmed at checkpoint time
	UpdatedAt     time.Time             `json:"updated_at"`
}

// NewWaveState returns an empty checkpoint for the wave with every task pending.
func NewWaveState(waveID string, tasks []Task) *WaveState {
	pending := make([]string, 0, len(tasks))
	for _, t := range tasks {
		pending = append(pending, t.ID)
	}
	sort.Strings(pending)
	return &WaveState{
		WaveID:        waveID,
		SchemaVersion: SchemaVersion,
		Completed:     make(map[string]TaskResult),
		Pending:       pending,
		InFlight:      []string{},
	}
}

// Clone returns a deep copy safe to hand to another goroutine.
func (s *WaveState) Clone() *WaveState {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Completed = make(map[string]TaskResult, len(s.Completed))
	for id, r := range s.Completed {
		cp.Completed[id] = r
	}
	cp.Pending = append([]string(nil), s.Pending...)
	cp.InFlight = append([]string(nil), s.InFlight...)
	return &cp
}

// Record stores a terminal result and removes the task from pending/in-flight.
func (s *WaveState) Record(r TaskResult) {
	if s.Completed == nil {
		s.Completed = make(map[string]TaskResult)
	}
	s.Completed[r.TaskID] = r
	s.Pending = without(s.Pending, r.TaskID)
	s.InFlight = without(s.InFlight, r.TaskID)
}

// MarkInFlight moves a task from pending to in-flight.
func (s *WaveState) MarkInFlight(taskID string) {
	s.Pending = without(s.Pending, taskID)
	for _, id := range s.InFlight {
		if id == taskID {
			return
		}
	}
	s.InFlight = append(s.InFlight, taskID)
	sort.Strings(s.InFlight)
}

// IsInFlight reports whether the checkpoint saw the task dispatched but unfinished.
func (s *WaveState) IsInFlight(taskID string) bool {
	if s == nil {
		return false
	}
	for _, id := range s.InFlight {
		if id == taskID {
			return true
		}
	}
	return false
}

func without(ids []string, id string) []string {
	out := ids[:0:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
