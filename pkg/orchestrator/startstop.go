package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wharfd/wharf/pkg/log"
	"github.com/wharfd/wharf/pkg/store"
	"github.com/wharfd/wharf/pkg/types"
)

// Stop stops the given services plus everything that transitively depends
// on them, dependents first, so no instance ever loses a dependency it is
// linked against while still running.
func (o *Orchestrator) Stop(ctx context.Context, services []string) (*types.Report, error) {
	selected, err := o.fleet.Select(services)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(selected))
	for i, spec := range selected {
		names[i] = spec.Name
	}
	closure := o.graph.ExpandReverse(names)
	if extra := diff(closure, names); len(extra) > 0 {
		o.logger.Info().Strs("services", extra).Msg("also stopping dependent services affected by this action")
	}

	instances, err := o.fleetInstances(ctx)
	if err != nil {
		return nil, err
	}

	report := &types.Report{Operation: "stop", StartedAt: time.Now()}
	// Reverse topological order: dependents before dependencies.
	for i := len(closure) - 1; i >= 0; i-- {
		name := closure[i]
		spec := o.graph.Spec(name)
		if spec.BuildOnly {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		report.Results = append(report.Results, o.stopService(context.WithoutCancel(ctx), spec, instances))
	}
	return report, nil
}

func (o *Orchestrator) stopService(ctx context.Context, spec *types.ServiceSpec, instances map[string][]*types.Instance) *types.ServiceResult {
	logger := log.WithService(o.logger, spec.Name)
	st, err := o.reconcile(ctx, spec.Name, instances)
	if err != nil {
		return &types.ServiceResult{Service: spec.Name, Outcome: types.OutcomeFailed, State: types.StateFailed, Err: err}
	}
	if !st.currentRunning() {
		logger.Info().Msg("no running instance")
		return &types.ServiceResult{Service: spec.Name, Outcome: types.OutcomeStopped, State: types.StateStopped}
	}
	logger.Info().Str("instance", st.current.Name).Msg("stopping instance")
	if err := o.rt.Stop(ctx, st.current.Name, o.StopTimeout); err != nil {
		return &types.ServiceResult{Service: spec.Name, Outcome: types.OutcomeFailed, State: types.StateFailed, Instance: st.current.Name, Err: err}
	}
	return &types.ServiceResult{Service: spec.Name, Outcome: types.OutcomeStopped, State: types.StateStopped, Instance: st.current.Name}
}

// Start brings the given services up, pulling in any dependencies that are
// not yet running, in dependency order. Instances that are already running
// are left untouched; stopped instances are restarted; services with no
// instance get a fresh one from their last built image.
func (o *Orchestrator) Start(ctx context.Context, services []string) (*types.Report, error) {
	selected, err := o.fleet.Select(services)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(selected))
	for i, spec := range selected {
		names[i] = spec.Name
	}
	closure := o.graph.Expand(names)
	if extra := diff(closure, names); len(extra) > 0 {
		o.logger.Info().Strs("services", extra).Msg("also starting necessary dependencies, if not yet running")
	}

	instances, err := o.fleetInstances(ctx)
	if err != nil {
		return nil, err
	}

	report := &types.Report{Operation: "start", StartedAt: time.Now()}
	for _, name := range closure {
		spec := o.graph.Spec(name)
		if spec.BuildOnly {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		res := o.startService(context.WithoutCancel(ctx), spec, instances)
		report.Results = append(report.Results, res)
		if res.Outcome == types.OutcomeHealthy && res.Instance != "" {
			instances[spec.Name] = []*types.Instance{{
				Name: res.Instance, Service: spec.Name, Identity: spec.Identity, State: types.StateRunning,
			}}
		}
	}
	return report, nil
}

func (o *Orchestrator) startService(ctx context.Context, spec *types.ServiceSpec, instances map[string][]*types.Instance) *types.ServiceResult {
	logger := log.WithService(o.logger, spec.Name)
	st, err := o.reconcile(ctx, spec.Name, instances)
	if err != nil {
		return &types.ServiceResult{Service: spec.Name, Outcome: types.OutcomeFailed, State: types.StateFailed, Err: err}
	}
	if st.currentRunning() {
		return &types.ServiceResult{Service: spec.Name, Outcome: types.OutcomeUnchanged, State: types.StateRunning, Instance: st.current.Name}
	}

	name := ""
	if st.current != nil {
		// A stopped instance exists: restart it rather than replacing it,
		// preserving whatever state it holds.
		name = st.current.Name
		logger.Info().Str("instance", name).Msg("restarting stopped instance")
		if err := o.rt.StartExisting(ctx, name); err != nil {
			return &types.ServiceResult{Service: spec.Name, Outcome: types.OutcomeFailed, State: types.StateFailed, Instance: name, Err: err}
		}
	} else {
		if _, err := o.rt.ImageIdentity(ctx, spec); err != nil {
			return &types.ServiceResult{Service: spec.Name, Outcome: types.OutcomeFailed, State: types.StateNotBuilt,
				Err: fmt.Errorf("no instance and no built image; run rebuild first")}
		}
		name = spec.Name + "-" + uuid.NewString()[:8]
		links, missing := o.links(ctx, spec, instances)
		for _, dep := range missing {
			logger.Warn().Str("dependency", dep).Msg("linked dependency is not running; link omitted until next restart")
		}
		logger.Info().Str("instance", name).Msg("starting new instance")
		if err := o.store.PutRecord(&store.InstanceRecord{
			Service: spec.Name, Current: name, Identity: spec.Identity, UpdatedAt: time.Now(),
		}); err != nil {
			return &types.ServiceResult{Service: spec.Name, Outcome: types.OutcomeFailed, State: types.StateFailed, Err: err}
		}
		if err := o.rt.Start(ctx, spec, name, links); err != nil {
			_ = o.store.DeleteRecord(spec.Name)
			return &types.ServiceResult{Service: spec.Name, Outcome: types.OutcomeFailed, State: types.StateFailed, Instance: name, Err: err}
		}
	}

	if spec.StartupGrace > 0 {
		time.Sleep(spec.StartupGrace)
	}
	if ok, verdict := o.verifyInstance(ctx, spec, name); !ok {
		return &types.ServiceResult{Service: spec.Name, Outcome: types.OutcomeFailed, State: types.StateUnhealthy, Instance: name,
			Err: fmt.Errorf("health probing failed: %s", verdict)}
	}
	return &types.ServiceResult{Service: spec.Name, Outcome: types.OutcomeHealthy, State: types.StateHealthy, Instance: name}
}

// Restart stops the given services (and their dependents) and starts them
// again in dependency order.
func (o *Orchestrator) Restart(ctx context.Context, services []string) (*types.Report, error) {
	stopReport, err := o.Stop(ctx, services)
	if err != nil {
		return nil, err
	}
	stopped := make([]string, 0, len(stopReport.Results))
	for _, res := range stopReport.Results {
		stopped = append(stopped, res.Service)
	}
	report, err := o.Start(ctx, stopped)
	if err != nil {
		return nil, err
	}
	report.Operation = "restart"
	return report, nil
}

func diff(all, subset []string) []string {
	in := make(map[string]bool, len(subset))
	for _, name := range subset {
		in[name] = true
	}
	var out []string
	for _, name := range all {
		if !in[name] {
			out = append(out, name)
		}
	}
	return out
}
