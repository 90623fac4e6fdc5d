package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/usorama/rad-engineer/internal/config"
)

// app carries what every subcommand needs once flags are parsed.
type app struct {
	configPath string
	verbose    bool

	cfg    *config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "waverunner",
		Short: "Run waves of agent tasks with retries, checkpoints and resume",
		Long: `waverunner executes a wave of prompt-driven agent tasks in dependency
order on a bounded worker pool. Every completed task is checkpointed, so an
interrupted wave resumes where it stopped: finished tasks are replayed from
the checkpoint, everything else runs again.

Configuration is read from ~/.waverunner/config.yaml, then
.waverunner/config.yaml, then WAVERUNNER_* environment variables.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", config.ProjectPath(), "Project config file")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Debug logging")

	root.AddCommand(newRunCmd(a))
	root.AddCommand(newPlanCmd(a))
	root.AddCommand(newStatusCmd(a))
	return root
}

func (a *app) init() error {
	global, err := config.GlobalPath()
	if err != nil {
		return err
	}
	cfg, err := config.Load(global, a.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	a.cfg = cfg

	level := zapcore.InfoLevel
	if a.verbose {
		level = zapcore.DebugLevel
	}
	zc := zap.NewDevelopmentConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.DisableStacktrace = !a.verbose
	logger, err := zc.Build()
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	a.logger = logger
	return nil
}
