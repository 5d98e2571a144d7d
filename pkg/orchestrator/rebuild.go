package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wharfd/wharf/pkg/health"
	"github.com/wharfd/wharf/pkg/log"
	"github.com/wharfd/wharf/pkg/runtime"
	"github.com/wharfd/wharf/pkg/store"
	"github.com/wharfd/wharf/pkg/types"
)

// RebuildOptions control a rebuild pass.
type RebuildOptions struct {
	// Force rebuilds even when content identities match, passing the
	// runtime's no-cache flag to builds.
	Force bool

	// Services filters the pass to the named services; empty means the
	// whole fleet.
	Services []string
}

// Rebuild replaces stale or unhealthy instances fleet-wide, in dependency
// order. Failures are isolated: a failed service aborts only its dependent
// subtree (reported Skipped), never unrelated services. Cancellation is
// honored between services; an in-flight build/start/probe step always runs
// to completion or its own timeout.
func (o *Orchestrator) Rebuild(ctx context.Context, opts RebuildOptions) (*types.Report, error) {
	selected, err := o.fleet.Select(opts.Services)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(selected))
	for i, spec := range selected {
		names[i] = spec.Name
	}
	order := o.graph.OrderOf(names)

	instances, err := o.fleetInstances(ctx)
	if err != nil {
		return nil, err
	}

	run := &rebuildRun{
		o:         o,
		force:     opts.Force,
		instances: instances,
		results:   make(map[string]*types.ServiceResult),
		targets:   make(map[string]bool, len(order)),
	}
	for _, name := range order {
		run.targets[name] = true
	}

	parallel := o.Parallel
	if parallel < 1 {
		parallel = 1
	}

	// Wave scheduling: each wave runs every service whose dependencies
	// have completed, bounded by the worker limit. Services within a wave
	// have no dependency relation between them, so their build/start/probe
	// steps are independent.
	remaining := order
	for len(remaining) > 0 {
		if ctx.Err() != nil {
			for _, name := range remaining {
				run.skipCancelled(name, ctx.Err())
			}
			break
		}

		var wave, next []string
		for _, name := range remaining {
			switch run.depState(name) {
			case depFailed:
				run.setResult(&types.ServiceResult{
					Service: name,
					Outcome: types.OutcomeSkipped,
					State:   types.StateNotBuilt,
					Err:     fmt.Errorf("dependency %q did not become healthy", run.failedDep(name)),
				})
			case depPending:
				next = append(next, name)
			default:
				wave = append(wave, name)
			}
		}
		if len(wave) == 0 {
			remaining = next
			continue
		}

		// Cancellation is re-checked per service, not just per wave: once
		// the operator interrupts, services not yet dispatched are skipped
		// even when their wave is already underway.
		var wg sync.WaitGroup
		sem := make(chan struct{}, parallel)
		for _, name := range wave {
			if ctx.Err() != nil {
				run.skipCancelled(name, ctx.Err())
				continue
			}
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				run.skipCancelled(name, ctx.Err())
				continue
			}
			if ctx.Err() != nil {
				<-sem
				run.skipCancelled(name, ctx.Err())
				continue
			}
			spec := o.graph.Spec(name)
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() { <-sem }()
				run.setResult(run.rebuildService(ctx, spec))
			}()
		}
		wg.Wait()
		remaining = next
	}

	report := &types.Report{Operation: "rebuild", StartedAt: time.Now()}
	for _, name := range order {
		if res := run.result(name); res != nil {
			report.Results = append(report.Results, res)
		}
	}
	return report, nil
}

// rebuildRun is the shared bookkeeping of one rebuild pass. All access to
// the maps goes through the mutex; services in a wave run concurrently.
type rebuildRun struct {
	o     *Orchestrator
	force bool

	mu        sync.Mutex
	targets   map[string]bool
	instances map[string][]*types.Instance
	results   map[string]*types.ServiceResult
}

type depReadiness int

const (
	depReady depReadiness = iota
	depPending
	depFailed
)

// depState reports whether a service's dependencies within this pass have
// completed. Dependencies outside the pass are taken as-is.
func (r *rebuildRun) depState(name string) depReadiness {
	r.mu.Lock()
	defer r.mu.Unlock()
	state := depReady
	for _, dep := range r.o.graph.Dependencies(name) {
		res, ok := r.results[dep]
		if !ok {
			if r.inPass(dep) {
				state = depPending
			}
			continue
		}
		if res.Failed() {
			return depFailed
		}
	}
	return state
}

func (r *rebuildRun) failedDep(name string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, dep := range r.o.graph.Dependencies(name) {
		if res, ok := r.results[dep]; ok && res.Failed() {
			return dep
		}
	}
	return ""
}

// inPass reports whether the named service is a target of this pass. Only
// targets can be pending; callers hold the mutex.
func (r *rebuildRun) inPass(name string) bool {
	_, done := r.results[name]
	if done {
		return true
	}
	// A dependency that is not a target never gets a result; distinguish
	// by membership in the selected set, tracked implicitly: targets are
	// exactly the services that will eventually receive results, so the
	// scheduler marks them up front.
	return r.targets[name]
}

// skipCancelled records a service as skipped because the pass was cancelled
// before it could be dispatched.
func (r *rebuildRun) skipCancelled(name string, cause error) {
	r.setResult(&types.ServiceResult{
		Service: name,
		Outcome: types.OutcomeSkipped,
		State:   types.StateNotBuilt,
		Err:     fmt.Errorf("operation cancelled before service was started: %w", cause),
	})
}

func (r *rebuildRun) setResult(res *types.ServiceResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[res.Service] = res
}

func (r *rebuildRun) result(name string) *types.ServiceResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.results[name]
}

func (r *rebuildRun) snapshot() map[string][]*types.Instance {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := make(map[string][]*types.Instance, len(r.instances))
	for k, v := range r.instances {
		copied[k] = v
	}
	return copied
}

func (r *rebuildRun) setInstances(service string, insts []*types.Instance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instances[service] = insts
}

// rebuildService runs the per-service state machine. Runtime steps use a
// context detached from the pass cancellation so that an in-flight step is
// never abandoned halfway; cancellation takes effect at the next service
// boundary.
func (r *rebuildRun) rebuildService(ctx context.Context, spec *types.ServiceSpec) *types.ServiceResult {
	opCtx := context.WithoutCancel(ctx)
	o := r.o
	logger := log.WithService(o.logger, spec.Name)

	st, err := o.reconcile(opCtx, spec.Name, r.snapshot())
	if err != nil {
		return &types.ServiceResult{Service: spec.Name, Outcome: types.OutcomeFailed, State: types.StateFailed, Err: err}
	}

	if spec.BuildOnly {
		return r.rebuildImage(opCtx, spec)
	}

	// Unchanged and healthy is an idempotent no-op, also across repeated
	// invocations.
	if !r.force && st.currentRunning() && st.current.Identity == spec.Identity {
		if ok, _ := o.verifyInstance(opCtx, spec, st.current.Name); ok {
			logger.Info().Msg("unchanged and healthy, leaving untouched")
			return &types.ServiceResult{
				Service:  spec.Name,
				Outcome:  types.OutcomeUnchanged,
				State:    types.StateHealthy,
				Instance: st.current.Name,
			}
		}
		logger.Warn().Msg("content identity unchanged but instance is unhealthy, rebuilding")
	}

	logger.Info().Str("state", string(types.StateBuilding)).Msg("building image")
	if _, err := o.rt.Build(opCtx, spec, runtime.BuildOptions{NoCache: r.force}); err != nil {
		logger.Error().Err(err).Msg("build failed")
		return &types.ServiceResult{Service: spec.Name, Outcome: types.OutcomeFailed, State: types.StateFailed, Err: err}
	}

	// A leftover rollback candidate from an interrupted earlier transition
	// has been superseded; drop it before creating a new one.
	if st.previous != nil {
		logger.Warn().Str("instance", st.previous.Name).Msg("discarding stale rollback candidate")
		if st.previous.State == types.StateRunning {
			_ = o.rt.Stop(opCtx, st.previous.Name, o.StopTimeout)
		}
		_ = o.rt.Remove(opCtx, st.previous.Name)
	}

	// Retain the prior instance as the rollback candidate only if it was
	// actually serving; a stopped leftover is not worth restoring.
	var rollback *types.Instance
	oldName, oldIdentity := "", ""
	if st.current != nil {
		oldName = st.current.Name
		oldIdentity = st.current.Identity
	}
	if st.currentRunning() {
		rollback = st.current
		logger.Info().Str("state", string(types.StateStopping)).Str("instance", oldName).Msg("stopping prior instance")
		if err := o.rt.Stop(opCtx, oldName, o.StopTimeout); err != nil {
			logger.Error().Err(err).Msg("failed to stop prior instance")
			return &types.ServiceResult{Service: spec.Name, Outcome: types.OutcomeFailed, State: types.StateFailed, Instance: oldName, Err: err}
		}
	}

	newName := spec.Name + "-" + uuid.NewString()[:8]
	links, missing := o.links(opCtx, spec, r.snapshot())
	for _, dep := range missing {
		logger.Warn().Str("dependency", dep).Msg("linked dependency is not running; link omitted until next restart")
	}

	// Record the transition before starting so a crash mid-transition
	// leaves no instance the bookkeeping does not know about.
	if err := o.store.PutRecord(&store.InstanceRecord{
		Service:   spec.Name,
		Current:   newName,
		Previous:  oldName,
		Identity:  spec.Identity,
		UpdatedAt: time.Now(),
	}); err != nil {
		return &types.ServiceResult{Service: spec.Name, Outcome: types.OutcomeFailed, State: types.StateFailed, Err: err}
	}

	ilog := log.WithInstance(logger, newName)
	ilog.Info().Str("state", string(types.StateStarting)).Msg("starting replacement instance")
	if err := o.rt.Start(opCtx, spec, newName, links); err != nil {
		ilog.Error().Err(err).Msg("start failed")
		_ = o.rt.Remove(opCtx, newName)
		return r.restorePrior(opCtx, spec, rollback, oldName, oldIdentity, types.OutcomeFailed, err)
	}

	if spec.StartupGrace > 0 {
		time.Sleep(spec.StartupGrace)
	}

	ilog.Info().Str("state", string(types.StateProbing)).Msg("probing replacement instance")
	ok, verdict := o.verifyInstance(opCtx, spec, newName)
	if ok {
		// Replacement confirmed serving: the rollback candidate is
		// discarded and any stale stopped leftover goes with it.
		if oldName != "" {
			_ = o.rt.Remove(opCtx, oldName)
		}
		if err := o.store.PutRecord(&store.InstanceRecord{
			Service:   spec.Name,
			Current:   newName,
			Identity:  spec.Identity,
			UpdatedAt: time.Now(),
		}); err != nil {
			return &types.ServiceResult{Service: spec.Name, Outcome: types.OutcomeFailed, State: types.StateFailed, Instance: newName, Err: err}
		}
		r.setInstances(spec.Name, []*types.Instance{{
			Name:     newName,
			Service:  spec.Name,
			Identity: spec.Identity,
			State:    types.StateRunning,
		}})
		ilog.Info().Msg("replacement is healthy")
		return &types.ServiceResult{Service: spec.Name, Outcome: types.OutcomeHealthy, State: types.StateHealthy, Instance: newName}
	}

	ilog.Error().Str("verdict", verdict).Msg("replacement failed health probing")
	_ = o.rt.Stop(opCtx, newName, o.StopTimeout)
	_ = o.rt.Remove(opCtx, newName)
	outcome := types.OutcomeFailed
	if rollback != nil {
		outcome = types.OutcomeRolledBack
	}
	return r.restorePrior(opCtx, spec, rollback, oldName, oldIdentity, outcome, fmt.Errorf("health probing failed: %s", verdict))
}

// restorePrior puts the previous instance back in service (best effort) and
// restores the bookkeeping after a failed transition. oldIdentity is the
// prior instance's recorded identity; it is kept even when the prior was
// stopped and will not be restarted, so a later rebuild can still match it.
func (r *rebuildRun) restorePrior(ctx context.Context, spec *types.ServiceSpec, rollback *types.Instance, oldName, oldIdentity string, outcome types.Outcome, cause error) *types.ServiceResult {
	o := r.o
	logger := log.WithService(o.logger, spec.Name)

	if oldName == "" {
		if err := o.store.DeleteRecord(spec.Name); err != nil {
			logger.Warn().Err(err).Msg("failed to clear record after failed transition")
		}
		r.setInstances(spec.Name, nil)
		return &types.ServiceResult{Service: spec.Name, Outcome: outcome, State: types.StateFailed, Err: cause}
	}

	state := types.StateStopped
	if rollback != nil {
		logger.Warn().Str("instance", oldName).Msg("restarting prior instance")
		if err := o.rt.StartExisting(ctx, oldName); err != nil {
			logger.Error().Err(err).Msg("failed to restart prior instance")
			cause = fmt.Errorf("%w (and restoring prior instance failed: %v)", cause, err)
			state = types.StateFailed
		} else {
			state = types.StateRunning
		}
	}
	if err := o.store.PutRecord(&store.InstanceRecord{
		Service:   spec.Name,
		Current:   oldName,
		Identity:  oldIdentity,
		UpdatedAt: time.Now(),
	}); err != nil {
		logger.Warn().Err(err).Msg("failed to restore record after failed transition")
	}
	r.setInstances(spec.Name, []*types.Instance{{
		Name:     oldName,
		Service:  spec.Name,
		Identity: oldIdentity,
		State:    state,
	}})
	return &types.ServiceResult{Service: spec.Name, Outcome: outcome, State: state, Instance: oldName, Err: cause}
}

// rebuildImage handles build-only specs: there is no instance lifecycle,
// just the image and its identity.
func (r *rebuildRun) rebuildImage(ctx context.Context, spec *types.ServiceSpec) *types.ServiceResult {
	o := r.o
	if !r.force {
		identity, err := o.rt.ImageIdentity(ctx, spec)
		if err == nil && identity == spec.Identity {
			return &types.ServiceResult{Service: spec.Name, Outcome: types.OutcomeUnchanged, State: types.StateBuilt}
		}
	}
	if _, err := o.rt.Build(ctx, spec, runtime.BuildOptions{NoCache: r.force}); err != nil {
		return &types.ServiceResult{Service: spec.Name, Outcome: types.OutcomeFailed, State: types.StateFailed, Err: err}
	}
	return &types.ServiceResult{Service: spec.Name, Outcome: types.OutcomeHealthy, State: types.StateBuilt}
}

// verifyInstance checks that a started instance is actually serving. With a
// health check descriptor it probes until healthy or deadline; without one
// it can only verify that the process still runs.
func (o *Orchestrator) verifyInstance(ctx context.Context, spec *types.ServiceSpec, name string) (bool, string) {
	if spec.HealthCheck == nil {
		o.logger.Warn().Str("service", spec.Name).Msg("no health check defined; a broken service may go unnoticed")
		inst, err := o.rt.InspectInstance(ctx, name)
		if err != nil {
			return false, fmt.Sprintf("inspect failed: %v", err)
		}
		if inst == nil || inst.State != types.StateRunning {
			return false, "instance is not running"
		}
		return true, "running (no health check defined)"
	}
	prober := health.NewProber(spec.HealthCheck)
	result := prober.Probe(ctx, health.ForDescriptor(spec.HealthCheck))
	return result.Healthy(), result.Message
}
