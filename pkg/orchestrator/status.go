package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wharfd/wharf/pkg/log"
	"github.com/wharfd/wharf/pkg/runtime"
	"github.com/wharfd/wharf/pkg/types"
)

// Status performs a read-only reconciliation pass: query the runtime and
// probe each service, no state transitions. It runs without the fleet lock,
// so a reading pass concurrent with a rebuild may observe a mid-transition
// instance; that is reported as the state seen, never upgraded to Healthy
// or downgraded to Failed on speculation.
func (o *Orchestrator) Status(ctx context.Context, services []string) (*types.Report, error) {
	selected, err := o.fleet.Select(services)
	if err != nil {
		return nil, err
	}
	instances, err := o.fleetInstances(ctx)
	if err != nil {
		return nil, err
	}

	report := &types.Report{Operation: "status", StartedAt: time.Now()}
	names := make([]string, len(selected))
	for i, spec := range selected {
		names[i] = spec.Name
	}
	for _, name := range o.graph.OrderOf(names) {
		spec := o.graph.Spec(name)
		report.Results = append(report.Results, o.statusOf(ctx, spec, instances))
	}
	return report, nil
}

func (o *Orchestrator) statusOf(ctx context.Context, spec *types.ServiceSpec, instances map[string][]*types.Instance) *types.ServiceResult {
	logger := log.WithService(o.logger, spec.Name)

	if spec.BuildOnly {
		identity, err := o.rt.ImageIdentity(ctx, spec)
		switch {
		case errors.Is(err, runtime.ErrNotBuilt):
			return &types.ServiceResult{Service: spec.Name, Outcome: types.OutcomeFailed, State: types.StateNotBuilt,
				Err: fmt.Errorf("image has never been built")}
		case err != nil:
			return &types.ServiceResult{Service: spec.Name, Outcome: types.OutcomeFailed, State: types.StateFailed, Err: err}
		case identity != spec.Identity:
			logger.Warn().Msg("image is stale, rebuild needed")
			return &types.ServiceResult{Service: spec.Name, Outcome: types.OutcomeFailed, State: types.StateBuilt,
				Err: fmt.Errorf("image is stale (identity mismatch)")}
		}
		return &types.ServiceResult{Service: spec.Name, Outcome: types.OutcomeHealthy, State: types.StateBuilt}
	}

	st, err := o.reconcile(ctx, spec.Name, instances)
	if err != nil {
		return &types.ServiceResult{Service: spec.Name, Outcome: types.OutcomeFailed, State: types.StateFailed, Err: err}
	}
	if st.current == nil {
		if st.record != nil && st.record.Previous != "" {
			// The record already names a replacement the runtime has not
			// created yet: a rebuild is in flight. Report the window as
			// seen instead of declaring the service dead.
			return &types.ServiceResult{Service: spec.Name, Outcome: types.OutcomeInProgress, State: types.StateStarting,
				Instance: st.record.Current}
		}
		return &types.ServiceResult{Service: spec.Name, Outcome: types.OutcomeFailed, State: types.StateNotBuilt,
			Err: fmt.Errorf("no instance exists")}
	}

	ok, verdict := o.verifyInstance(ctx, spec, st.current.Name)
	switch {
	case st.current.State == types.StateRunning && ok:
		return &types.ServiceResult{Service: spec.Name, Outcome: types.OutcomeHealthy, State: types.StateHealthy, Instance: st.current.Name}
	case st.current.State == types.StateRunning:
		return &types.ServiceResult{Service: spec.Name, Outcome: types.OutcomeFailed, State: types.StateUnhealthy, Instance: st.current.Name,
			Err: fmt.Errorf("instance is running but probes fail: %s", verdict)}
	case ok:
		// Probes pass but the recorded instance is stopped: something else
		// is answering on the service's ports. Worth an operator's look.
		logger.Warn().Msg("instance is stopped but probes pass; another process may hold the ports")
		return &types.ServiceResult{Service: spec.Name, Outcome: types.OutcomeFailed, State: st.current.State, Instance: st.current.Name,
			Err: fmt.Errorf("instance is stopped, yet probes pass")}
	default:
		return &types.ServiceResult{Service: spec.Name, Outcome: types.OutcomeFailed, State: st.current.State, Instance: st.current.Name,
			Err: fmt.Errorf("instance is not running")}
	}
}
