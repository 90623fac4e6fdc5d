package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/usorama/rad-engineer/internal/events"
	"github.com/usorama/rad-engineer/internal/wave"
)

const namespace = "waverunner"

// Metrics exposes wave execution as Prometheus metrics.
//
// Exposed (all namespaced with "waverunner_"):
//
//	tasks_total{status,kind}             terminal task results
//	task_attempts                        attempts per executed task
//	task_duration_seconds{status}        wall time per task
//	replays_total                        results replayed from a checkpoint
//	retries_total{class,kind}            retried attempts
//	circuit_transitions_total{class,to}  breaker state changes
//	circuit_state{class}                 0 closed, 1 half-open, 2 open
//	admission_denials_total              resource gate rejections
//	waves_total{outcome}                 finished waves
//	wave_duration_seconds                wall time per wave
type Metrics struct {
	tasks        *prometheus.CounterVec
	attempts     prometheus.Histogram
	taskDuration *prometheus.HistogramVec
	replays      prometheus.Counter
	retries      *prometheus.CounterVec
	transitions  *prometheus.CounterVec
	circuitState *prometheus.GaugeVec
	denials      prometheus.Counter
	waves        *prometheus.CounterVec
	waveDuration prometheus.Histogram
}

// NewMetrics registers the wave metrics with registry.
// A nil registry uses prometheus.DefaultRegisterer.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		tasks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_total",
			Help:      "Terminal task results by status and error kind",
		}, []string{"status", "kind"}),
		attempts: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_attempts",
			Help:      "Agent attempts made per executed task",
			Buckets:   []float64{1, 2, 3, 5, 8},
		}),
		taskDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Task wall time from first attempt to terminal result",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"status"}),
		replays: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replays_total",
			Help:      "Task results replayed from a checkpoint without an agent call",
		}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Failed attempts that were retried",
		}, []string{"class", "kind"}),
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_transitions_total",
			Help:      "Circuit breaker state changes",
		}, []string{"class", "to"}),
		circuitState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_state",
			Help:      "Current breaker state per classification (0 closed, 1 half-open, 2 open)",
		}, []string{"class"}),
		denials: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admission_denials_total",
			Help:      "Attempts turned away by resource admission control",
		}),
		waves: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "waves_total",
			Help:      "Finished waves by outcome",
		}, []string{"outcome"}),
		waveDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "wave_duration_seconds",
			Help:      "Wave wall time",
			Buckets:   prometheus.ExponentialBuckets(10, 2, 10),
		}),
	}
}

// Record updates the metrics for one event. Unknown events are ignored.
func (m *Metrics) Record(e events.Event) {
	switch ev := e.(type) {
	case events.TaskCompletedEvent:
		r := ev.Result
		m.tasks.WithLabelValues(string(r.Status), string(r.ErrorKind)).Inc()
		if r.Replayed {
			m.replays.Inc()
			return
		}
		if r.Attempts > 0 {
			m.attempts.Observe(float64(r.Attempts))
			m.taskDuration.WithLabelValues(string(r.Status)).Observe(r.Duration().Seconds())
		}
	case events.TaskRetryEvent:
		m.retries.WithLabelValues(ev.Class, string(ev.Kind)).Inc()
	case events.CircuitChangedEvent:
		m.transitions.WithLabelValues(ev.Class, string(ev.To)).Inc()
		m.circuitState.WithLabelValues(ev.Class).Set(phaseValue(ev.To))
	case events.ResourceDeniedEvent:
		m.denials.Inc()
	case events.WaveCompletedEvent:
		if ev.Result == nil {
			return
		}
		m.waves.WithLabelValues(outcome(ev.Result)).Inc()
		m.waveDuration.Observe(ev.Result.FinishedAt.Sub(ev.Result.StartedAt).Seconds())
	}
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func phaseValue(p wave.CircuitPhase) float64 {
	switch p {
	case wave.CircuitHalfOpen:
		return 1
	case wave.CircuitOpen:
		return 2
	}
	return 0
}

func outcome(r *wave.WaveResult) string {
	switch {
	case r.Cancelled:
		return "cancelled"
	case r.Success:
		return "success"
	}
	return "failure"
}
