package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/solus-project/eopkg-core/internal/planner"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect and revert recorded transactions",
	}
	cmd.AddCommand(newHistoryListCmd())
	cmd.AddCommand(newHistoryInfoCmd())
	cmd.AddCommand(newHistoryTakebackCmd())
	return cmd
}

func newHistoryListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List recorded transactions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, _, err := openPlanner()
			if err != nil {
				return err
			}
			defer ctx.Close()
			entries, err := ctx.History.List()
			if err != nil {
				return err
			}
			for i := len(entries) - 1; i >= 0; i-- {
				e := entries[i]
				fmt.Printf("%d %s %s %s\n", e.No, e.Date, e.Time, e.Type)
			}
			return nil
		},
	}
}

func newHistoryInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <no>",
		Short: "Show the package changes recorded by one transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			no, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid transaction number %q: %w", args[0], err)
			}
			ctx, _, err := openPlanner()
			if err != nil {
				return err
			}
			defer ctx.Close()
			entry, err := ctx.History.Get(no)
			if err != nil {
				return err
			}
			for _, pkg := range entry.Packages {
				fmt.Println(pkg.String())
			}
			return nil
		},
	}
}

func newHistoryTakebackCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "takeback <no>",
		Short: "Restore the installed set to its state after transaction no",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			no, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid transaction number %q: %w", args[0], err)
			}
			ctx, p, err := openPlanner()
			if err != nil {
				return err
			}
			cleanup, err := lockAndDefer(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			res, err := p.Takeback(cmd.Context(), no, planner.Options{Confirm: confirmPlan})
			if err != nil {
				return err
			}
			printResult(res)
			return nil
		},
	}
	return cmd
}
