package events

import (
	"testing"
	"time"

	"github.com/usorama/rad-engineer/internal/wave"
)

func completed(id string) TaskCompletedEvent {
	return TaskCompletedEvent{
		WaveID:    "wave-1",
		Result:    wave.TaskResult{TaskID: id, Status: wave.StatusSucceeded, Attempts: 1},
		Timestamp: time.Now(),
	}
}

// TestPublishSubscribe verifies basic publish/subscribe functionality.
func TestPublishSubscribe(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	ch := bus.Subscribe(TopicTask, 10)
	bus.Publish(TopicTask, completed("task-1"))

	select {
	case received := <-ch:
		if received.TaskID() != "task-1" {
			t.Errorf("expected task ID 'task-1', got '%s'", received.TaskID())
		}
		if received.EventType() != EventTypeTaskCompleted {
			t.Errorf("expected event type '%s', got '%s'", EventTypeTaskCompleted, received.EventType())
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}
}

// TestMultipleSubscribers verifies multiple subscribers receive the same event.
func TestMultipleSubscribers(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	ch1 := bus.Subscribe(TopicTask, 10)
	ch2 := bus.Subscribe(TopicTask, 10)

	bus.Publish(TopicTask, completed("task-2"))

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case received := <-ch:
			if received.TaskID() != "task-2" {
				t.Errorf("subscriber %d: expected task ID 'task-2', got '%s'", i+1, received.TaskID())
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("subscriber %d: timeout waiting for event", i+1)
		}
	}
}

// TestNonBlockingSend verifies that publishing doesn't block when channels are full.
func TestNonBlockingSend(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	ch := bus.Subscribe(TopicTask, 1)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(TopicTask, completed("task"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("publisher blocked (expected non-blocking behavior)")
	}

	select {
	case received := <-ch:
		if received == nil {
			t.Error("received nil event")
		}
	default:
		t.Error("expected at least one event in buffer")
	}

	if got := bus.Dropped(); got != 9 {
		t.Errorf("Dropped() = %d, want 9", got)
	}
}

// TestCloseSignalsSubscribers verifies that closing the bus closes subscriber channels.
func TestCloseSignalsSubscribers(t *testing.T) {
	bus := NewEventBus()
	ch := bus.Subscribe(TopicTask, 10)

	bus.Close()
	bus.Close()

	received := 0
	for range ch {
		received++
	}
	if received != 0 {
		t.Errorf("expected 0 events after close, got %d", received)
	}

	if _, ok := <-bus.Subscribe(TopicWave, 1); ok {
		t.Error("subscription after close should return a closed channel")
	}
}

// TestPublishAfterClose verifies publishing after close doesn't panic.
func TestPublishAfterClose(t *testing.T) {
	bus := NewEventBus()
	ch := bus.Subscribe(TopicTask, 10)
	bus.Close()

	defer func() {
		if r := recover(); r != nil {
			t.Errorf("publishing after close caused panic: %v", r)
		}
	}()

	bus.Publish(TopicTask, completed("task-1"))

	if _, ok := <-ch; ok {
		t.Error("received event after bus was closed")
	}
}

// TestTopicIsolation verifies subscribers only see their topic while
// SubscribeAll sees everything.
func TestTopicIsolation(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	taskCh := bus.Subscribe(TopicTask, 10)
	circuitCh := bus.Subscribe(TopicCircuit, 10)
	allCh := bus.SubscribeAll(10)

	bus.Publish(TopicTask, completed("task-1"))
	bus.Publish(TopicCircuit, CircuitChangedEvent{
		Class: "default",
		From:  wave.CircuitClosed,
		To:    wave.CircuitOpen,
	})

	if ev := <-taskCh; ev.EventType() != EventTypeTaskCompleted {
		t.Errorf("task channel got %s", ev.EventType())
	}
	if ev := <-circuitCh; ev.EventType() != EventTypeCircuitChanged {
		t.Errorf("circuit channel got %s", ev.EventType())
	}

	select {
	case ev := <-taskCh:
		t.Errorf("task channel received unexpected %s", ev.EventType())
	case <-time.After(10 * time.Millisecond):
	}

	seen := make(map[string]bool)
	for i := 0; i < 2; i++ {
		select {
		case ev := <-allCh:
			seen[ev.EventType()] = true
		case <-time.After(100 * time.Millisecond):
			t.Fatal("timeout waiting for event")
		}
	}
	if !seen[EventTypeTaskCompleted] || !seen[EventTypeCircuitChanged] {
		t.Errorf("SubscribeAll saw %v, want both event types", seen)
	}
}

func TestBusObserver(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	taskCh := bus.Subscribe(TopicTask, 1)
	waveCh := bus.Subscribe(TopicWave, 1)

	var obs wave.Observer = NewBusObserver(bus)
	obs.TaskCompleted("wave-1", wave.TaskResult{TaskID: "A", Status: wave.StatusFailed})
	obs.WaveCompleted(&wave.WaveResult{WaveID: "wave-1"})

	ev := (<-taskCh).(TaskCompletedEvent)
	if ev.WaveID != "wave-1" || ev.Result.Status != wave.StatusFailed {
		t.Errorf("task event = %+v", ev)
	}
	wev := (<-waveCh).(WaveCompletedEvent)
	if wev.Result.WaveID != "wave-1" {
		t.Errorf("wave event = %+v", wev)
	}
}
