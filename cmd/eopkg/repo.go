package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/solus-project/eopkg-core/internal/model"
)

// newRepoCmd groups the repository-management surface under one
// "eopkg repo" parent, mirroring eopkg's add-repo/remove-repo/etc.
// flat commands as cobra subcommands of a single verb.
func newRepoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repo",
		Short: "Manage configured repositories",
	}
	cmd.AddCommand(newRepoAddCmd())
	cmd.AddCommand(newRepoRemoveCmd())
	cmd.AddCommand(newRepoEnableCmd())
	cmd.AddCommand(newRepoDisableCmd())
	cmd.AddCommand(newRepoPriorityCmd())
	cmd.AddCommand(newRepoListCmd())
	return cmd
}

func newRepoAddCmd() *cobra.Command {
	var media string
	cmd := &cobra.Command{
		Use:   "add <name> <uri>",
		Short: "Register a new repository",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, p, err := openPlanner()
			if err != nil {
				return err
			}
			defer ctx.Close()
			return p.AddRepo(args[0], args[1], model.RepoMedia(media))
		},
	}
	cmd.Flags().StringVar(&media, "media", string(model.MediaRemote), "repository media class (remote, local, cd, usb)")
	return cmd
}

func newRepoRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name>",
		Short: "Unregister a repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, p, err := openPlanner()
			if err != nil {
				return err
			}
			defer ctx.Close()
			return p.RemoveRepo(args[0])
		},
	}
}

func newRepoEnableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enable <name>",
		Short: "Reactivate a disabled repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, p, err := openPlanner()
			if err != nil {
				return err
			}
			defer ctx.Close()
			return p.EnableRepo(args[0])
		},
	}
}

func newRepoDisableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disable <name>",
		Short: "Deactivate a repository without removing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, p, err := openPlanner()
			if err != nil {
				return err
			}
			defer ctx.Close()
			return p.DisableRepo(args[0])
		},
	}
}

func newRepoPriorityCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-priority <name> <position>",
		Short: "Move a repository to a new priority position",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pos, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid position %q: %w", args[1], err)
			}
			ctx, p, err := openPlanner()
			if err != nil {
				return err
			}
			defer ctx.Close()
			return p.SetRepoPriority(args[0], pos)
		},
	}
}

func newRepoListCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List configured repositories in priority order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, _, err := openPlanner()
			if err != nil {
				return err
			}
			defer ctx.Close()
			for _, name := range ctx.Repos.List(!all) {
				fmt.Println(name)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include disabled repositories")
	return cmd
}
