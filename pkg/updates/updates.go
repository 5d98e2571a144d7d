package updates

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/wharfd/wharf/pkg/config"
	"github.com/wharfd/wharf/pkg/log"
	"github.com/wharfd/wharf/pkg/orchestrator"
	"github.com/wharfd/wharf/pkg/runtime"
	"github.com/wharfd/wharf/pkg/types"
)

// ServiceStatus is one service's update-check outcome.
type ServiceStatus struct {
	Service string
	// Pending is true when the check command produced output, meaning the
	// image's upstream packages have newer versions available.
	Pending bool
	// Detail is the trimmed command output, usually the package list.
	Detail string
	// Err is set when the check itself could not run.
	Err error
}

// Summary aggregates a check-for-updates pass.
type Summary struct {
	Services []ServiceStatus
	// Rebuilt is non-nil when auto-upgrade ran a forced rebuild of the
	// services with pending updates.
	Rebuilt *types.Report
}

// Pending returns the names of services with updates available.
func (s *Summary) Pending() []string {
	var names []string
	for _, svc := range s.Services {
		if svc.Pending {
			names = append(names, svc.Service)
		}
	}
	return names
}

// Checker runs each service's update check command inside a one-shot
// container of its current image. A service without a check command is
// skipped: wharf has no way to know what "updatable" means for it.
type Checker struct {
	fleet  *config.Fleet
	rt     runtime.Runtime
	logger zerolog.Logger
}

func NewChecker(fleet *config.Fleet, rt runtime.Runtime) *Checker {
	return &Checker{
		fleet:  fleet,
		rt:     rt,
		logger: log.WithComponent("updates"),
	}
}

// Check probes the given services (all configured services when names is
// empty) for pending image updates.
func (c *Checker) Check(ctx context.Context, names []string) (*Summary, error) {
	specs := c.fleet.Services
	if len(names) > 0 {
		var err error
		specs, err = c.fleet.Select(names)
		if err != nil {
			return nil, err
		}
	}

	summary := &Summary{}
	for _, spec := range specs {
		if len(spec.UpdateCheckCommand) == 0 {
			continue
		}
		logger := log.WithService(c.logger, spec.Name)
		logger.Info().Msg("checking image for pending updates")

		st := ServiceStatus{Service: spec.Name}
		out, err := c.rt.RunOneShot(ctx, spec.ImageName(), spec.UpdateCheckCommand)
		if err != nil {
			logger.Warn().Err(err).Msg("update check command failed")
			st.Err = err
		} else {
			st.Detail = strings.TrimSpace(out)
			st.Pending = st.Detail != ""
			if st.Pending {
				logger.Info().Msg("updates pending")
			} else {
				logger.Debug().Msg("image is up to date")
			}
		}
		summary.Services = append(summary.Services, st)
	}
	return summary, nil
}

// CheckAndUpgrade runs Check and then force-rebuilds exactly the services
// that reported pending updates, replacing their instances through the
// usual health-verified path.
func (c *Checker) CheckAndUpgrade(ctx context.Context, o *orchestrator.Orchestrator, names []string) (*Summary, error) {
	summary, err := c.Check(ctx, names)
	if err != nil {
		return nil, err
	}
	pending := summary.Pending()
	if len(pending) == 0 {
		c.logger.Info().Msg("all images up to date, nothing to upgrade")
		return summary, nil
	}

	c.logger.Info().Strs("services", pending).Msg("rebuilding services with pending updates")
	report, err := o.Rebuild(ctx, orchestrator.RebuildOptions{
		Force:    true,
		Services: pending,
	})
	if err != nil {
		return summary, err
	}
	summary.Rebuilt = report
	return summary, nil
}
