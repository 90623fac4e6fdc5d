package events

import (
	"time"

	"github.com/usorama/rad-engineer/internal/wave"
)

// BusObserver adapts a Publisher to wave.Observer.
type BusObserver struct {
	pub Publisher
}

// NewBusObserver returns an observer that forwards completions to pub.
func NewBusObserver(pub Publisher) *BusObserver {
	return &BusObserver{pub: pub}
}

func (o *BusObserver) TaskCompleted(waveID string, result wave.TaskResult) {
	o.pub.Publish(TopicTask, TaskCompletedEvent{
		WaveID:    waveID,
		Result:    result,
		Timestamp: time.Now(),
	})
}

func (o *BusObserver) WaveCompleted(result *wave.WaveResult) {
	o.pub.Publish(TopicWave, WaveCompletedEvent{
		Result:    result,
		Timestamp: time.Now(),
	})
}
