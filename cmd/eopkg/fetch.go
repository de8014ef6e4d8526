package main

import (
	"github.com/spf13/cobra"
)

func newFetchCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "fetch <package>...",
		Short: "Download package archives without installing them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, p, err := openPlanner()
			if err != nil {
				return err
			}
			defer ctx.Close()
			return p.Fetch(cmd.Context(), args, dir)
		},
	}
	cmd.Flags().StringVar(&dir, "dir", ".", "directory to download archives into")
	return cmd
}

func newRebuildDBCmd() *cobra.Command {
	var files bool
	cmd := &cobra.Command{
		Use:   "rebuild-db",
		Short: "Rebuild the files database from the installed package set",
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
			return p.RebuildDB(files)
		},
	}
	cmd.Flags().BoolVar(&files, "files", true, "rebuild the files database content")
	return cmd
}

func newConfigurePendingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "configure-pending [package]...",
		Short: "Clear the needs-reconfigure flag on packages, or every flagged package",
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
			return p.ConfigurePending(args)
		},
	}
}
