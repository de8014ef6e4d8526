package main

import (
	"bufio"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/solus-project/eopkg-core/internal/config"
	"github.com/solus-project/eopkg-core/internal/eopkgctx"
	"github.com/solus-project/eopkg-core/internal/planner"
)

var (
	configPath string
	destDir    string
	assumeYes  bool
)

// rootCmd is the base command; it carries no logic of its own beyond
// dispatching to the subcommands registered in init().
var rootCmd = &cobra.Command{
	Use:   "eopkg",
	Short: "Manage packages on a Solus system",
	Long: `eopkg installs, removes and upgrades packages from configured
repositories, tracking installed state in /var/lib/eopkg.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "/etc/eopkg/eopkg.conf", "path to eopkg.conf")
	rootCmd.PersistentFlags().StringVar(&destDir, "destdir", "", "override the configured install root (for chroot-style installs)")
	rootCmd.PersistentFlags().BoolVarP(&assumeYes, "yes", "y", false, "answer yes to any confirmation prompt")

	rootCmd.AddCommand(newInstallCmd())
	rootCmd.AddCommand(newInstallFilesCmd())
	rootCmd.AddCommand(newUpgradeCmd())
	rootCmd.AddCommand(newRemoveCmd())
	rootCmd.AddCommand(newRemoveOrphansCmd())
	rootCmd.AddCommand(newConfigurePendingCmd())
	rootCmd.AddCommand(newUpdateRepoCmd())
	rootCmd.AddCommand(newRepoCmd())
	rootCmd.AddCommand(newFetchCmd())
	rootCmd.AddCommand(newRebuildDBCmd())
	rootCmd.AddCommand(newHistoryCmd())
	rootCmd.AddCommand(newVersionCmd())
}

// Execute runs the root command and translates a returned error into a
// nonzero process exit.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "eopkg: %v\n", err)
		os.Exit(1)
	}
}

// openPlanner loads configuration, builds the ambient Context and wraps
// it in a Planner, applying any --destdir override. Callers that mutate
// state must also call lockAndDefer.
func openPlanner() (*eopkgctx.Context, *planner.Planner, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	if destDir != "" {
		cfg.Directories.DestDir = destDir
	}

	ctx, err := eopkgctx.Open(cfg, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	if err := ctx.EnsureDirs(); err != nil {
		ctx.Close()
		return nil, nil, err
	}

	return ctx, planner.New(ctx, nil), nil
}

// lockAndDefer acquires the global advisory lock for a mutating
// operation and returns a cleanup closure releasing the lock and
// closing ctx, to be deferred by the caller.
func lockAndDefer(ctx *eopkgctx.Context) (func(), error) {
	if err := ctx.Lock(); err != nil {
		ctx.Close()
		return nil, fmt.Errorf("acquiring lock: %w", err)
	}
	return func() {
		ctx.Unlock()
		ctx.Close()
	}, nil
}

// confirmPlan prints a transaction plan and asks for confirmation
// unless --yes was given, satisfying planner.Options.Confirm.
func confirmPlan(plan planner.Plan) bool {
	if assumeYes {
		return true
	}
	fmt.Println("The following packages will be processed:")
	for _, name := range plan.Order {
		fmt.Printf("  %s\n", name)
	}
	if plan.TotalDownloadBytes > 0 {
		fmt.Printf("Total download size: %d bytes\n", plan.TotalDownloadBytes)
	}
	fmt.Print("Do you want to continue? (y/N) ")
	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	return line == "y\n" || line == "Y\n" || line == "yes\n"
}

func printResult(res planner.Result) {
	for _, ir := range res.Applied {
		fmt.Printf("%s complete\n", ir.Operation)
	}
	for _, name := range res.Removed {
		fmt.Printf("remove: %s\n", name)
	}
}
