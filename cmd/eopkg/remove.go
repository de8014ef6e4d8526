package main

import (
	"github.com/spf13/cobra"

	"github.com/solus-project/eopkg-core/internal/planner"
)

func newRemoveCmd() *cobra.Command {
	var ignoreSafety, purge bool
	cmd := &cobra.Command{
		Use:   "remove <package>...",
		Short: "Remove installed packages",
		Args:  cobra.MinimumNArgs(1),
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

			res, err := p.Remove(cmd.Context(), args, planner.Options{
				IgnoreSafety: ignoreSafety,
				Purge:        purge,
				Confirm:      confirmPlan,
			})
			if err != nil {
				return err
			}
			printResult(res)
			return nil
		},
	}
	cmd.Flags().BoolVar(&ignoreSafety, "ignore-safety", false, "allow removing system.base members")
	cmd.Flags().BoolVar(&purge, "purge", false, "also remove modified config files")
	return cmd
}

func newRemoveOrphansCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove-orphans",
		Short: "Remove every automatically-installed package with no remaining dependent",
		Args:  cobra.NoArgs,
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

			res, err := p.RemoveOrphans(cmd.Context(), planner.Options{Confirm: confirmPlan})
			if err != nil {
				return err
			}
			printResult(res)
			return nil
		},
	}
	return cmd
}
