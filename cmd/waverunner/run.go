package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/usorama/rad-engineer/internal/wave"
)

var errWaveFailed = errors.New("wave did not succeed")

func newRunCmd(a *app) *cobra.Command {
	var (
		waveID      string
		concurrency int
		failFast    bool
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "run <tasks.yaml>",
		Short: "Execute a wave, resuming from its checkpoint if one exists",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, tasks, err := loadTasks(args[0])
			if err != nil {
				return err
			}
			if waveID != "" {
				id = waveID
			}

			opts := a.cfg.WaveOptions()
			if cmd.Flags().Changed("concurrency") {
				opts.Concurrency = concurrency
			}
			if cmd.Flags().Changed("fail-fast") {
				opts.FailFast = failFast
			}
			if !cmd.Flags().Changed("metrics-addr") {
				metricsAddr = a.cfg.Metrics.Addr
			}

			// First signal cancels the wave and lets in-flight tasks drain.
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := newRuntime(ctx, a.cfg, a.logger)
			if err != nil {
				return err
			}
			defer rt.Close()

			if metricsAddr != "" {
				srvCtx, cancel := context.WithCancel(context.Background())
				defer cancel()
				if err := rt.serveMetrics(srvCtx, metricsAddr); err != nil {
					return err
				}
			}

			go func() {
				<-ctx.Done()
				// Restore default handling so a second Ctrl+C exits immediately.
				stop()
			}()

			res, err := rt.orch.Execute(ctx, id, tasks, opts)
			if res != nil {
				renderResult(cmd.OutOrStdout(), res)
			}
			if err != nil {
				if wave.KindOf(err).WaveFatal() {
					a.logger.Error("wave aborted", zap.String("wave_id", id), zap.Error(err))
					return fmt.Errorf("wave %s aborted: %w", id, err)
				}
				return fmt.Errorf("wave %s could not start: %w", id, err)
			}
			if !res.Success && !res.Cancelled {
				return errWaveFailed
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&waveID, "wave-id", "", "Wave ID (defaults to the task file name)")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "Maximum tasks in flight")
	cmd.Flags().BoolVar(&failFast, "fail-fast", false, "Stop dispatching after the first failure")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	return cmd
}
