package events

import (
	"time"

	"github.com/usorama/rad-engineer/internal/wave"
)

// Event is the base interface for all events.
type Event interface {
	EventType() string
	TaskID() string
}

// Publisher accepts events. *EventBus is the production implementation.
type Publisher interface {
	Publish(topic string, event Event)
}

// Topic constants
const (
	TopicTask     = "task"
	TopicWave     = "wave"
	TopicCircuit  = "circuit"
	TopicResource = "resource"
)

// Event type constants
const (
	EventTypeTaskCompleted  = "task.completed"
	EventTypeTaskRetry      = "task.retry"
	EventTypeWaveCompleted  = "wave.completed"
	EventTypeCircuitChanged = "circuit.changed"
	EventTypeResourceDenied = "resource.denied"
)

// TaskCompletedEvent is published once per terminal task result,
// whatever its status.
type TaskCompletedEvent struct {
	WaveID    string
	Result    wave.TaskResult
	Timestamp time.Time
}

func (e TaskCompletedEvent) EventType() string { return EventTypeTaskCompleted }
func (e TaskCompletedEvent) TaskID() string    { return e.Result.TaskID }

// TaskRetryEvent is published before a failed attempt is retried.
type TaskRetryEvent struct {
	Class     string
	Attempt   int // The attempt that failed
	Kind      wave.ErrorKind
	Delay     time.Duration
	Timestamp time.Time
}

func (e TaskRetryEvent) EventType() string { return EventTypeTaskRetry }
func (e TaskRetryEvent) TaskID() string    { return "" }

// WaveCompletedEvent carries the final summary of a wave.
type WaveCompletedEvent struct {
	Result    *wave.WaveResult
	Timestamp time.Time
}

func (e WaveCompletedEvent) EventType() string { return EventTypeWaveCompleted }
func (e WaveCompletedEvent) TaskID() string    { return "" }

// CircuitChangedEvent is published on every breaker transition.
type CircuitChangedEvent struct {
	Class     string
	From      wave.CircuitPhase
	To        wave.CircuitPhase
	Timestamp time.Time
}

func (e CircuitChangedEvent) EventType() string { return EventTypeCircuitChanged }
func (e CircuitChangedEvent) TaskID() string    { return "" }

// ResourceDeniedEvent is published when the admission gate turns a request away.
type ResourceDeniedEvent struct {
	CPUPercent    float64
	MemoryPercent float64
	ProcessCount  int
	Reason        string
	Timestamp     time.Time
}

func (e ResourceDeniedEvent) EventType() string { return EventTypeResourceDenied }
func (e ResourceDeniedEvent) TaskID() string    { return "" }
