package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/wharfd/wharf/pkg/config"
	"github.com/wharfd/wharf/pkg/graph"
	"github.com/wharfd/wharf/pkg/log"
	"github.com/wharfd/wharf/pkg/runtime"
	"github.com/wharfd/wharf/pkg/store"
	"github.com/wharfd/wharf/pkg/types"
)

// DefaultStopTimeout is how long an instance gets to exit gracefully before
// the runtime escalates.
const DefaultStopTimeout = 10 * time.Second

// Orchestrator drives the per-service lifecycle state machine, sequenced by
// the dependency graph, using the runtime adapter to act and the health
// prober to verify.
type Orchestrator struct {
	fleet *config.Fleet
	graph *graph.Graph
	rt    runtime.Runtime
	store store.Store

	// StopTimeout is the graceful stop allowance per instance.
	StopTimeout time.Duration

	// Parallel bounds how many mutually independent services may be in
	// flight at once during a rebuild. 1 means strictly sequential.
	Parallel int

	logger zerolog.Logger
}

// New creates an orchestrator over the fleet. A cyclic dependency set is a
// configuration error and fails here, before any operation can mutate
// anything.
func New(fleet *config.Fleet, rt runtime.Runtime, st store.Store) (*Orchestrator, error) {
	g, err := graph.New(fleet.Services)
	if err != nil {
		return nil, err
	}
	return &Orchestrator{
		fleet:       fleet,
		graph:       g,
		rt:          rt,
		store:       st,
		StopTimeout: DefaultStopTimeout,
		Parallel:    1,
		logger:      log.WithComponent("orchestrator"),
	}, nil
}

// Graph exposes the dependency graph for callers that report on ordering.
func (o *Orchestrator) Graph() *graph.Graph {
	return o.graph
}

// Fleet returns the configuration this orchestrator operates on.
func (o *Orchestrator) Fleet() *config.Fleet {
	return o.fleet
}

// Runtime returns the runtime adapter, shared with maintenance tasks that
// run under the same lock.
func (o *Orchestrator) Runtime() runtime.Runtime {
	return o.rt
}

// reconcile queries the runtime for the service's instances and squares
// them with the stored record. In-memory and stored records are advisory;
// the runtime is the source of truth, so this runs before every action.
//
// An instance carrying the service's label but unknown to the record was
// started behind wharf's back; acting on the service would fight with
// whoever started it, so reconcile refuses.
func (o *Orchestrator) reconcile(ctx context.Context, service string, fleetInstances map[string][]*types.Instance) (*serviceState, error) {
	record, err := o.store.GetRecord(service)
	if err != nil {
		return nil, fmt.Errorf("reading record for %q: %w", service, err)
	}
	st := &serviceState{record: record}

	for _, inst := range fleetInstances[service] {
		switch {
		case record != nil && inst.Name == record.Current:
			st.current = inst
		case record != nil && inst.Name == record.Previous:
			st.previous = inst
		default:
			return nil, fmt.Errorf("unmanaged instance %q is running for service %q; stop it manually before retrying", inst.Name, service)
		}
	}
	return st, nil
}

// fleetInstances lists all managed instances grouped by service.
func (o *Orchestrator) fleetInstances(ctx context.Context) (map[string][]*types.Instance, error) {
	instances, err := o.rt.ListInstances(ctx)
	if err != nil {
		return nil, fmt.Errorf("querying runtime instances: %w", err)
	}
	byService := make(map[string][]*types.Instance)
	for _, inst := range instances {
		byService[inst.Service] = append(byService[inst.Service], inst)
	}
	return byService, nil
}

// serviceState is the reconciled view of one service at operation start.
type serviceState struct {
	record   *store.InstanceRecord
	current  *types.Instance // nil when the recorded instance is gone
	previous *types.Instance // leftover rollback candidate, if any
}

func (s *serviceState) currentRunning() bool {
	return s.current != nil && s.current.State == types.StateRunning
}

// links resolves the running instance names of a spec's dependencies so a
// new instance can be linked to them under their declared service names.
// A dependency without a running instance is reported for the caller to
// warn about; the link is omitted and the dependent will need a restart once
// the dependency is up.
func (o *Orchestrator) links(ctx context.Context, spec *types.ServiceSpec, fleetInstances map[string][]*types.Instance) (map[string]string, []string) {
	links := make(map[string]string)
	var missing []string
	for _, dep := range spec.DependsOn {
		depSpec := o.graph.Spec(dep)
		if depSpec == nil || depSpec.BuildOnly {
			continue
		}
		st, err := o.reconcile(ctx, dep, fleetInstances)
		if err != nil || !st.currentRunning() {
			missing = append(missing, dep)
			continue
		}
		links[dep] = st.current.Name
	}
	return links, missing
}
