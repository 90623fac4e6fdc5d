package main

import (
	"github.com/spf13/cobra"
)

func newPlanCmd(a *app) *cobra.Command {
	var waveID string

	cmd := &cobra.Command{
		Use:   "plan <tasks.yaml>",
		Short: "Show what run would replay, rerun or start fresh",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, tasks, err := loadTasks(args[0])
			if err != nil {
				return err
			}
			if waveID != "" {
				id = waveID
			}

			rt, err := newRuntime(cmd.Context(), a.cfg, a.logger)
			if err != nil {
				return err
			}
			defer rt.Close()

			plan, err := rt.orch.Plan(cmd.Context(), id, tasks)
			if err != nil {
				return err
			}
			renderPlan(cmd.OutOrStdout(), id, plan)
			return nil
		},
	}

	cmd.Flags().StringVar(&waveID, "wave-id", "", "Wave ID (defaults to the task file name)")
	return cmd
}
