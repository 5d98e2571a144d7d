package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/wharfd/wharf/pkg/cleanup"
	"github.com/wharfd/wharf/pkg/lock"
	"github.com/wharfd/wharf/pkg/orchestrator"
	"github.com/wharfd/wharf/pkg/updates"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove old stopped instances and unused images",
	Long: `Cleanup removes stopped instances and images that no service spec
or rollback record references anymore. Recently stopped instances and
recently built images are kept for --min-age (31 days by default), and
the last known instance of each service is never removed, so a rollback
is always possible.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		minAgeDays, _ := cmd.Flags().GetInt("min-age")

		ctx, cancel := signalContext()
		defer cancel()

		release, err := lock.NewManager(lockPath(), flagLockStale).Acquire("cleanup")
		if err != nil {
			return err
		}
		defer release()

		fleet, rt, st, err := setup()
		if err != nil {
			return err
		}
		defer st.Close()

		m := cleanup.NewManager(fleet, rt, st)
		m.DryRun = dryRun
		m.MinAge = time.Duration(minAgeDays) * 24 * time.Hour

		result, err := m.Run(ctx)
		if err != nil {
			return err
		}
		verb := "removed"
		if dryRun {
			verb = "would remove"
		}
		fmt.Printf("%s %d instances and %d images\n",
			verb, len(result.Instances), len(result.Images))
		return nil
	},
}

var checkUpdatesCmd = &cobra.Command{
	Use:   "check-for-updates [SERVICE...]",
	Short: "Check images for pending package updates",
	Long: `Check-for-updates runs each service's update check command inside a
one-shot container of its image. Any command output means updates are
pending and the exit code is nonzero, which makes the command usable
from cron.

With --auto-upgrade, services with pending updates are rebuilt from
scratch and their instances replaced through the usual health-verified
path.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		autoUpgrade, _ := cmd.Flags().GetBool("auto-upgrade")

		if autoUpgrade {
			return withOrchestrator("check-for-updates", func(ctx context.Context, o *orchestrator.Orchestrator) error {
				checker := updates.NewChecker(o.Fleet(), o.Runtime())
				summary, err := checker.CheckAndUpgrade(ctx, o, args)
				if err != nil {
					return err
				}
				printUpdateSummary(summary)
				if summary.Rebuilt != nil {
					printReport(summary.Rebuilt)
					if !summary.Rebuilt.OK() {
						return fmt.Errorf("%d of %d upgrades failed",
							countFailed(summary.Rebuilt), len(summary.Rebuilt.Results))
					}
				}
				return nil
			})
		}

		ctx, cancel := signalContext()
		defer cancel()

		fleet, rt, st, err := setup()
		if err != nil {
			return err
		}
		defer st.Close()

		summary, err := updates.NewChecker(fleet, rt).Check(ctx, args)
		if err != nil {
			return err
		}
		printUpdateSummary(summary)
		if pending := summary.Pending(); len(pending) > 0 {
			return fmt.Errorf("%d services have pending updates", len(pending))
		}
		return nil
	},
}

func init() {
	cleanupCmd.Flags().Bool("dry-run", false, "Report what would be removed without removing anything")
	cleanupCmd.Flags().Int("min-age", 31, "Keep instances and images younger than this many days")

	checkUpdatesCmd.Flags().Bool("auto-upgrade", false, "Rebuild and replace services that have pending updates")
}

func printUpdateSummary(summary *updates.Summary) {
	for _, svc := range summary.Services {
		switch {
		case svc.Err != nil:
			fmt.Printf("%s: check failed: %v\n", svc.Service, svc.Err)
		case svc.Pending:
			fmt.Printf("%s: updates pending\n", svc.Service)
			if svc.Detail != "" {
				fmt.Printf("  %s\n", svc.Detail)
			}
		default:
			fmt.Printf("%s: up to date\n", svc.Service)
		}
	}
}
