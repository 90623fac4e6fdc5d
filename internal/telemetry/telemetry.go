// Package telemetry turns orchestration events into Prometheus metrics and
// OpenTelemetry spans.
package telemetry

import (
	"context"

	"github.com/usorama/rad-engineer/internal/events"
)

// Recorder handles one event. Recorders are called from a single goroutine.
type Recorder interface {
	Record(events.Event)
}

// Consume feeds every event from ch to the recorders until ch is closed or
// ctx is done.
func Consume(ctx context.Context, ch <-chan events.Event, recorders ...Recorder) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			for _, r := range recorders {
				r.Record(e)
			}
		}
	}
}
