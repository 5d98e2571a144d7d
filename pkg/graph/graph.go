package graph

import (
	"fmt"
	"strings"

	"github.com/wharfd/wharf/pkg/types"
)

// CycleError reports a dependency cycle in the fleet configuration. A cycle
// is a configuration error, not a runtime condition: no operation may start
// while one exists.
type CycleError struct {
	Members []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle between services: %s", strings.Join(e.Members, " -> "))
}

// Graph is the directed dependency graph over a set of service specs,
// derived from their DependsOn declarations. Edges point from dependent to
// dependency.
type Graph struct {
	specs []*types.ServiceSpec
	index map[string]*types.ServiceSpec

	// dependents[name] lists services that declare a dependency on name,
	// in declaration order.
	dependents map[string][]string

	order []string // topological order, dependencies first
}

// New builds the graph and computes a deterministic topological order.
// Ties between mutually independent services are broken by declaration
// order so repeated runs produce identical sequencing. A cycle yields a
// CycleError naming its members; an unknown dependency name is an error.
func New(specs []*types.ServiceSpec) (*Graph, error) {
	g := &Graph{
		specs:      specs,
		index:      make(map[string]*types.ServiceSpec, len(specs)),
		dependents: make(map[string][]string),
	}
	for _, spec := range specs {
		if _, dup := g.index[spec.Name]; dup {
			return nil, fmt.Errorf("duplicate service name %q", spec.Name)
		}
		g.index[spec.Name] = spec
	}
	for _, spec := range specs {
		for _, dep := range spec.DependsOn {
			if _, ok := g.index[dep]; !ok {
				return nil, fmt.Errorf("service %q depends on unknown service %q", spec.Name, dep)
			}
			g.dependents[dep] = append(g.dependents[dep], spec.Name)
		}
	}

	// DFS with three-color marking. Visiting specs in declaration order
	// keeps the output stable.
	const (
		white = 0 // unvisited
		grey  = 1 // on the current path
		black = 2 // done
	)
	color := make(map[string]int, len(specs))
	var order []string

	var visit func(name string, path []string) error
	visit = func(name string, path []string) error {
		switch color[name] {
		case black:
			return nil
		case grey:
			// Back edge: trim the path down to the cycle itself.
			start := 0
			for i, p := range path {
				if p == name {
					start = i
					break
				}
			}
			return &CycleError{Members: append(path[start:], name)}
		}
		color[name] = grey
		for _, dep := range g.index[name].DependsOn {
			if err := visit(dep, append(path, name)); err != nil {
				return err
			}
		}
		color[name] = black
		order = append(order, name)
		return nil
	}

	for _, spec := range specs {
		if err := visit(spec.Name, nil); err != nil {
			return nil, err
		}
	}
	g.order = order
	return g, nil
}

// Spec returns the spec for the named service, or nil.
func (g *Graph) Spec(name string) *types.ServiceSpec {
	return g.index[name]
}

// Order returns all service names in start order: every dependency strictly
// precedes its dependents.
func (g *Graph) Order() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// ReverseOrder returns the stop order: dependents before their dependencies.
func (g *Graph) ReverseOrder() []string {
	out := make([]string, len(g.order))
	for i, name := range g.order {
		out[len(g.order)-1-i] = name
	}
	return out
}

// OrderOf filters the start order down to the given set of names.
func (g *Graph) OrderOf(names []string) []string {
	want := toSet(names)
	var out []string
	for _, name := range g.order {
		if want[name] {
			out = append(out, name)
		}
	}
	return out
}

// Dependencies returns the direct dependencies of the named service.
func (g *Graph) Dependencies(name string) []string {
	spec := g.index[name]
	if spec == nil {
		return nil
	}
	out := make([]string, len(spec.DependsOn))
	copy(out, spec.DependsOn)
	return out
}

// Dependents returns the direct dependents of the named service.
func (g *Graph) Dependents(name string) []string {
	out := make([]string, len(g.dependents[name]))
	copy(out, g.dependents[name])
	return out
}

// Expand returns the given names plus everything they transitively depend
// on, in start order. Used when starting a subset: dependencies must come
// up too.
func (g *Graph) Expand(names []string) []string {
	seen := make(map[string]bool)
	var grow func(name string)
	grow = func(name string) {
		if seen[name] {
			return
		}
		seen[name] = true
		for _, dep := range g.Dependencies(name) {
			grow(dep)
		}
	}
	for _, name := range names {
		grow(name)
	}
	return g.OrderOf(keys(seen))
}

// ExpandReverse returns the given names plus everything that transitively
// depends on them, in start order. Used when stopping a subset: dependents
// would be broken and must be stopped too.
func (g *Graph) ExpandReverse(names []string) []string {
	seen := make(map[string]bool)
	var grow func(name string)
	grow = func(name string) {
		if seen[name] {
			return
		}
		seen[name] = true
		for _, dep := range g.dependents[name] {
			grow(dep)
		}
	}
	for _, name := range names {
		grow(name)
	}
	return g.OrderOf(keys(seen))
}

// Subtree returns all transitive dependents of the named service, excluding
// the service itself. These are the services that must be skipped when the
// named one fails.
func (g *Graph) Subtree(name string) []string {
	seen := make(map[string]bool)
	var grow func(name string)
	grow = func(name string) {
		for _, dep := range g.dependents[name] {
			if !seen[dep] {
				seen[dep] = true
				grow(dep)
			}
		}
	}
	grow(name)
	return g.OrderOf(keys(seen))
}

func toSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, name := range names {
		set[name] = true
	}
	return set
}

func keys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	return out
}
