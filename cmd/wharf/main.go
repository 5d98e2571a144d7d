package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wharfd/wharf/pkg/config"
	"github.com/wharfd/wharf/pkg/lock"
	"github.com/wharfd/wharf/pkg/log"
	"github.com/wharfd/wharf/pkg/orchestrator"
	"github.com/wharfd/wharf/pkg/runtime"
	"github.com/wharfd/wharf/pkg/store"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	flagConfig    string
	flagDataDir   string
	flagLockPath  string
	flagLockStale time.Duration
	flagLogLevel  string
	flagLogJSON   bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "wharf",
	Short: "Wharf - Container fleet lifecycle manager for a single host",
	Long: `Wharf manages a fleet of interdependent container services on one
host: it rebuilds images when their sources change, replaces running
instances with health-verified new ones, and rolls back automatically
when a replacement fails its checks.

The fleet is described in a YAML file; all commands operate on it.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		log.Init(log.Config{
			Level:      log.Level(flagLogLevel),
			JSONOutput: flagLogJSON,
		})
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Wharf version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "wharf.yaml", "Fleet configuration file")
	rootCmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "/var/lib/wharf", "Directory for instance bookkeeping state")
	rootCmd.PersistentFlags().StringVar(&flagLockPath, "lock-file", "", "Lock file path (default: <data-dir>/wharf.lock)")
	rootCmd.PersistentFlags().DurationVar(&flagLockStale, "lock-stale-after", lock.DefaultStaleAfter, "Reclaim the lock from a holder older than this")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&flagLogJSON, "log-json", false, "Emit logs as JSON instead of console format")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(rebuildCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(restartCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(checkUpdatesCmd)
}

// signalContext returns a context cancelled by SIGINT or SIGTERM. The
// first signal triggers graceful cancellation; a second one kills the
// process through signal.NotifyContext's reset.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func lockPath() string {
	if flagLockPath != "" {
		return flagLockPath
	}
	return filepath.Join(flagDataDir, "wharf.lock")
}

// setup loads the fleet file and opens the runtime and store. Callers own
// closing the returned store.
func setup() (*config.Fleet, runtime.Runtime, store.Store, error) {
	fleet, err := config.Load(flagConfig)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loading %s: %w", flagConfig, err)
	}
	st, err := store.NewBoltStore(flagDataDir)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("opening state store: %w", err)
	}
	rt := runtime.NewDockerRuntime()
	return fleet, rt, st, nil
}

// withOrchestrator runs fn with a fully wired orchestrator under the
// fleet lock. Every mutating command goes through here so concurrent
// invocations serialize instead of interleaving docker operations.
func withOrchestrator(operation string, fn func(ctx context.Context, o *orchestrator.Orchestrator) error) error {
	ctx, cancel := signalContext()
	defer cancel()

	release, err := lock.NewManager(lockPath(), flagLockStale).Acquire(operation)
	if err != nil {
		var held *lock.HeldError
		if errors.As(err, &held) && held.Record != nil {
			return fmt.Errorf("another wharf operation is in progress: %s (pid %d) since %s",
				held.Record.Operation, held.Record.PID,
				held.Record.AcquiredAt.Format("15:04:05"))
		}
		return err
	}
	defer release()

	fleet, rt, st, err := setup()
	if err != nil {
		return err
	}
	defer st.Close()

	o, err := orchestrator.New(fleet, rt, st)
	if err != nil {
		return err
	}
	return fn(ctx, o)
}
