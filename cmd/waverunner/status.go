package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status [wave-id]",
		Short: "Show a wave's checkpoint, or list checkpointed waves",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sm, err := openState(cmd.Context(), a.cfg, a.logger)
			if err != nil {
				return err
			}
			defer sm.Close()

			out := cmd.OutOrStdout()
			if len(args) == 0 {
				ids, err := sm.List(cmd.Context())
				if err != nil {
					return err
				}
				if len(ids) == 0 {
					fmt.Fprintln(out, "No checkpointed waves.")
					return nil
				}
				for _, id := range ids {
					fmt.Fprintln(out, id)
				}
				return nil
			}

			st, err := sm.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			renderState(out, st)
			return nil
		},
	}
}
