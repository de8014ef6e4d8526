package main

import (
	"github.com/spf13/cobra"

	"github.com/solus-project/eopkg-core/internal/planner"
)

var (
	installReinstall bool
	installDryRun    bool
	installFetchOnly bool
)

func newInstallCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "install <package>...",
		Short: "Install one or more packages, and their dependencies",
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

			res, err := p.Install(cmd.Context(), args, installReinstall, planner.Options{
				DryRun:    installDryRun,
				FetchOnly: installFetchOnly,
				Confirm:   confirmPlan,
			})
			if err != nil {
				return err
			}
			printResult(res)
			return nil
		},
	}
	cmd.Flags().BoolVar(&installReinstall, "reinstall", false, "reinstall even if already at the current revision")
	cmd.Flags().BoolVar(&installDryRun, "dry-run", false, "compute and print the plan without applying it")
	cmd.Flags().BoolVar(&installFetchOnly, "fetch-only", false, "download archives into the cache without applying them")
	return cmd
}

func newInstallFilesCmd() *cobra.Command {
	var reinstall bool
	cmd := &cobra.Command{
		Use:   "install-files <path.eopkg>...",
		Short: "Install local .eopkg archives directly",
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

			res, err := p.InstallFiles(cmd.Context(), args, reinstall, planner.Options{Confirm: confirmPlan})
			if err != nil {
				return err
			}
			printResult(res)
			return nil
		},
	}
	cmd.Flags().BoolVar(&reinstall, "reinstall", false, "reinstall even if already at the current revision")
	return cmd
}
