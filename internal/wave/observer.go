package wave

// Observer receives completion notifications. Implementations must return
// quickly; the orchestrator never waits on them and ignores their panics.
type Observer interface {
	TaskCompleted(waveID string, result TaskResult)
	WaveCompleted(result *WaveResult)
}

// NopObserver discards notifications.
type NopObserver struct{}

func (NopObserver) TaskCompleted(string, TaskResult) {}
func (NopObserver) WaveCompleted(*WaveResult)        {}
