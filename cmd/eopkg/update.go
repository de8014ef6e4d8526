package main

import (
	"github.com/spf13/cobra"
)

func newUpdateRepoCmd() *cobra.Command {
	var all, force bool
	cmd := &cobra.Command{
		Use:   "update-repo [name]",
		Short: "Refetch a repository's index, or every repository with --all",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			if name == "" && !all {
				return cmd.Usage()
			}
			ctx, p, err := openPlanner()
			if err != nil {
				return err
			}
			defer ctx.Close()
			return p.UpdateRepo(cmd.Context(), name, all, force)
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "update every configured repository")
	cmd.Flags().BoolVar(&force, "force", false, "refetch even if a cached index is already present")
	return cmd
}
