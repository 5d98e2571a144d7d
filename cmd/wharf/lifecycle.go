package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/wharfd/wharf/pkg/orchestrator"
	"github.com/wharfd/wharf/pkg/types"
)

var statusCmd = &cobra.Command{
	Use:   "status [SERVICE...]",
	Short: "Show the health of every service instance",
	Long: `Status inspects each service's current instance and probes its
health check. It is read-only and does not take the fleet lock, so it
works while a rebuild is in progress.

The exit code is zero only when every selected service is healthy.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		fleet, rt, st, err := setup()
		if err != nil {
			return err
		}
		defer st.Close()

		o, err := orchestrator.New(fleet, rt, st)
		if err != nil {
			return err
		}
		report, err := o.Status(ctx, args)
		if err != nil {
			return err
		}
		printReport(report)

		if n := countUnhealthy(report); n > 0 {
			return fmt.Errorf("%d of %d services are not healthy", n, len(report.Results))
		}
		return nil
	},
}

var rebuildCmd = &cobra.Command{
	Use:   "rebuild [SERVICE...]",
	Short: "Rebuild changed images and replace their instances",
	Long: `Rebuild brings the fleet up to date with its configuration: each
selected service whose build context or spec changed gets a fresh image
and a new instance, verified healthy before the old one is discarded.
When the new instance fails its health check, the previous one is
restarted and the service is reported as rolled back.

Services are processed in dependency order. Unchanged healthy services
are left untouched unless --no-cache forces a rebuild.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("no-cache")
		parallel, _ := cmd.Flags().GetInt("parallel")

		return withOrchestrator("rebuild", func(ctx context.Context, o *orchestrator.Orchestrator) error {
			o.Parallel = parallel
			report, err := o.Rebuild(ctx, orchestrator.RebuildOptions{
				Force:    force,
				Services: args,
			})
			if err != nil {
				return err
			}
			printReport(report)
			if !report.OK() {
				return fmt.Errorf("%d of %d services failed",
					countFailed(report), len(report.Results))
			}
			return nil
		})
	},
}

var startCmd = &cobra.Command{
	Use:   "start [SERVICE...]",
	Short: "Start stopped services and their dependencies",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withOrchestrator("start", func(ctx context.Context, o *orchestrator.Orchestrator) error {
			report, err := o.Start(ctx, args)
			if err != nil {
				return err
			}
			printReport(report)
			if !report.OK() {
				return fmt.Errorf("%d of %d services failed to start",
					countFailed(report), len(report.Results))
			}
			return nil
		})
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop [SERVICE...]",
	Short: "Stop services and everything that depends on them",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withOrchestrator("stop", func(ctx context.Context, o *orchestrator.Orchestrator) error {
			report, err := o.Stop(ctx, args)
			if err != nil {
				return err
			}
			printReport(report)
			if !report.OK() {
				return fmt.Errorf("%d of %d services failed to stop",
					countFailed(report), len(report.Results))
			}
			return nil
		})
	},
}

var restartCmd = &cobra.Command{
	Use:   "restart [SERVICE...]",
	Short: "Stop and start services without rebuilding their images",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withOrchestrator("restart", func(ctx context.Context, o *orchestrator.Orchestrator) error {
			report, err := o.Restart(ctx, args)
			if err != nil {
				return err
			}
			printReport(report)
			if !report.OK() {
				return fmt.Errorf("%d of %d services failed to restart",
					countFailed(report), len(report.Results))
			}
			return nil
		})
	},
}

func init() {
	rebuildCmd.Flags().Bool("no-cache", false, "Rebuild every image from scratch, ignoring unchanged content")
	rebuildCmd.Flags().Int("parallel", 1, "Maximum services replaced concurrently within a dependency wave")
}

func printReport(report *types.Report) {
	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SERVICE\tOUTCOME\tSTATE\tINSTANCE\tDETAIL")
	for _, res := range report.Results {
		detail := ""
		if res.Err != nil {
			detail = res.Err.Error()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			res.Service, res.Outcome, res.State, res.Instance, detail)
	}
	w.Flush()
}

func countFailed(report *types.Report) int {
	n := 0
	for _, res := range report.Results {
		if res.Failed() {
			n++
		}
	}
	return n
}

func countUnhealthy(report *types.Report) int {
	n := 0
	for _, res := range report.Results {
		if res.Outcome != types.OutcomeHealthy && res.Outcome != types.OutcomeUnchanged {
			n++
		}
	}
	return n
}
