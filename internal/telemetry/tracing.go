package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/usorama/rad-engineer/internal/events"
	"github.com/usorama/rad-engineer/internal/wave"
)

// Span exporters understood by NewTracerProvider.
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
)

// TracingOptions selects where finished spans are written.
type TracingOptions struct {
	Exporter string `mapstructure:"exporter" yaml:"exporter"`       // none or stdout
	File     string `mapstructure:"file" yaml:"file,omitempty"` // stdout exporter target, empty for standard output
}

// TracerProvider is an SDK provider that also owns the exporter's output file.
type TracerProvider struct {
	*sdktrace.TracerProvider
	out io.Closer
}

// NewTracerProvider builds a provider for opts. With no exporter the provider
// still hands out working tracers, but their spans go nowhere.
func NewTracerProvider(opts TracingOptions) (*TracerProvider, error) {
	switch opts.Exporter {
	case "", ExporterNone:
		return &TracerProvider{TracerProvider: sdktrace.NewTracerProvider()}, nil
	case ExporterStdout:
	default:
		return nil, fmt.Errorf("unknown trace exporter %q", opts.Exporter)
	}

	var (
		w   io.Writer = os.Stdout
		out io.Closer
	)
	if opts.File != "" {
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("opening trace file: %w", err)
		}
		w, out = f, f
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		if out != nil {
			_ = out.Close()
		}
		return nil, fmt.Errorf("creating trace exporter: %w", err)
	}
	return &TracerProvider{
		TracerProvider: sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter)),
		out:            out,
	}, nil
}

// Shutdown flushes pending spans and closes the output file.
func (p *TracerProvider) Shutdown(ctx context.Context) error {
	err := p.TracerProvider.Shutdown(ctx)
	if p.out != nil {
		err = errors.Join(err, p.out.Close())
	}
	return err
}

// Tracer records a span per finished task and wave. Spans carry the
// result's own start and finish times, so they are created after the fact.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a tracer recorder.
func NewTracer(tracer trace.Tracer) *Tracer {
	return &Tracer{tracer: tracer}
}

// Record creates spans for task and wave completions and span events for
// breaker transitions. Other events are ignored.
func (t *Tracer) Record(e events.Event) {
	switch ev := e.(type) {
	case events.TaskCompletedEvent:
		t.task(ev.WaveID, ev.Result)
	case events.WaveCompletedEvent:
		if ev.Result != nil {
			t.wave(ev.Result)
		}
	case events.CircuitChangedEvent:
		_, span := t.tracer.Start(context.Background(), "circuit.transition",
			trace.WithTimestamp(ev.Timestamp),
			trace.WithAttributes(
				attribute.String("waverunner.class", ev.Class),
				attribute.String("waverunner.circuit.from", string(ev.From)),
				attribute.String("waverunner.circuit.to", string(ev.To)),
			))
		span.End(trace.WithTimestamp(ev.Timestamp))
	}
}

func (t *Tracer) task(waveID string, r wave.TaskResult) {
	_, span := t.tracer.Start(context.Background(), "task",
		trace.WithTimestamp(r.StartedAt),
		trace.WithAttributes(
			attribute.String("waverunner.wave_id", waveID),
			attribute.String("waverunner.task_id", r.TaskID),
			attribute.String("waverunner.status", string(r.Status)),
			attribute.Int("waverunner.attempts", r.Attempts),
			attribute.Bool("waverunner.replayed", r.Replayed),
		))
	if r.Status != wave.StatusSucceeded {
		span.SetAttributes(attribute.String("waverunner.error_kind", string(r.ErrorKind)))
	}
	if r.Status == wave.StatusFailed {
		span.SetStatus(codes.Error, r.Error)
		span.RecordError(errors.New(r.Error))
	}
	span.End(trace.WithTimestamp(r.FinishedAt))
}

func (t *Tracer) wave(r *wave.WaveResult) {
	_, span := t.tracer.Start(context.Background(), "wave",
		trace.WithTimestamp(r.StartedAt),
		trace.WithAttributes(
			attribute.String("waverunner.wave_id", r.WaveID),
			attribute.String("waverunner.mode", string(r.Mode)),
			attribute.Bool("waverunner.success", r.Success),
			attribute.Bool("waverunner.cancelled", r.Cancelled),
			attribute.Int("waverunner.succeeded", r.Counts.Succeeded),
			attribute.Int("waverunner.failed", r.Counts.Failed),
			attribute.Int("waverunner.skipped", r.Counts.Skipped),
			attribute.Int("waverunner.replayed", r.Counts.Replayed),
		))
	if !r.Success && !r.Cancelled {
		span.SetStatus(codes.Error, "wave did not succeed")
	}
	span.End(trace.WithTimestamp(r.FinishedAt))
}
