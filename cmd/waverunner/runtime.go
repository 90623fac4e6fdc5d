package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/usorama/rad-engineer/internal/agent"
	"github.com/usorama/rad-engineer/internal/config"
	"github.com/usorama/rad-engineer/internal/events"
	"github.com/usorama/rad-engineer/internal/executor"
	"github.com/usorama/rad-engineer/internal/orchestrator"
	"github.com/usorama/rad-engineer/internal/prompt"
	"github.com/usorama/rad-engineer/internal/recovery"
	"github.com/usorama/rad-engineer/internal/resource"
	"github.com/usorama/rad-engineer/internal/state"
	"github.com/usorama/rad-engineer/internal/telemetry"
)

// runtime is the fully wired engine behind the run and plan commands.
type runtime struct {
	orch    *orchestrator.Orchestrator
	state   *state.Manager
	bus     *events.EventBus
	procs   *agent.ProcessManager
	metrics *prometheus.Registry
	tracing *telemetry.TracerProvider
	logger  *zap.Logger

	consumed chan struct{}
}

func openState(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*state.Manager, error) {
	store, err := state.OpenStore(ctx, cfg.State.Backend, cfg.State.Path, cfg.State.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("opening %s state store: %w", cfg.State.Backend, err)
	}
	return state.NewManager(store, state.WithLogger(logger)), nil
}

func newRuntime(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*runtime, error) {
	sm, err := openState(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	rt := &runtime{
		state:    sm,
		bus:      events.NewEventBus(),
		procs:    agent.NewProcessManager(),
		metrics:  prometheus.NewRegistry(),
		logger:   logger,
		consumed: make(chan struct{}),
	}
	rt.metrics.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	fail := func(err error) (*runtime, error) {
		rt.Close()
		return nil, err
	}

	rt.tracing, err = telemetry.NewTracerProvider(cfg.Tracing)
	if err != nil {
		return fail(err)
	}
	otel.SetTracerProvider(rt.tracing)

	validator, err := prompt.NewValidator(cfg.ValidatorConfig())
	if err != nil {
		return fail(err)
	}
	invoker, err := agent.New(cfg.Agent, rt.procs)
	if err != nil {
		return fail(err)
	}

	resources := resource.NewManager(resource.Detect(), cfg.Resources,
		resource.WithLogger(logger), resource.WithPublisher(rt.bus))
	retrier := recovery.NewEngine(cfg.BreakerOptions(),
		recovery.WithLogger(logger), recovery.WithPublisher(rt.bus))

	exec, err := executor.New(executor.Config{
		Validator: validator,
		Parser:    prompt.NewParser(cfg.ParserConfig()),
		Invoker:   invoker,
		Gate:      resources,
		Retrier:   retrier,
		Options:   cfg.WaveOptions(),
		Logger:    logger,
	})
	if err != nil {
		return fail(err)
	}

	rt.orch, err = orchestrator.New(orchestrator.Config{
		Executor:  exec,
		State:     sm,
		Resources: resources,
		Observer:  events.NewBusObserver(rt.bus),
		Logger:    logger,
	})
	if err != nil {
		return fail(err)
	}

	go func() {
		defer close(rt.consumed)
		telemetry.Consume(context.Background(), rt.bus.SubscribeAll(1024),
			telemetry.NewMetrics(rt.metrics),
			telemetry.NewTracer(rt.tracing.Tracer("waverunner")))
	}()
	return rt, nil
}

// serveMetrics exposes /metrics on addr until ctx is done.
func (rt *runtime) serveMetrics(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics listener: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", telemetry.Handler(rt.metrics))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rt.logger.Error("metrics server stopped", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	rt.logger.Info("serving metrics", zap.String("addr", ln.Addr().String()))
	return nil
}

// Close kills leftover agent processes, drains the event bus, flushes spans
// and closes the state store.
func (rt *runtime) Close() {
	if err := rt.procs.KillAll(); err != nil {
		rt.logger.Warn("killing agent processes", zap.Error(err))
	}
	rt.bus.Close()
	if rt.orch != nil {
		<-rt.consumed
	}
	if rt.tracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := rt.tracing.Shutdown(ctx); err != nil {
			rt.logger.Warn("flushing traces", zap.Error(err))
		}
		cancel()
	}
	if err := rt.state.Close(); err != nil {
		rt.logger.Warn("closing state store", zap.Error(err))
	}
}
