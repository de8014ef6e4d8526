package main

import (
	"github.com/spf13/cobra"

	"github.com/solus-project/eopkg-core/internal/planner"
)

func newUpgradeCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "upgrade [package]...",
		Short: "Upgrade named packages, or every package with no names given",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, p, err := openPlanner()
			if err != nil {
				return err
			}
			cleanup, err := lockAndDefer(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			res, err := p.Upgrade(cmd.Context(), args, planner.Options{DryRun: dryRun, Confirm: confirmPlan})
			if err != nil {
				return err
			}
			printResult(res)
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "compute and print the plan without applying it")
	return cmd
}
