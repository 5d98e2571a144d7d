package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wharfd/wharf/pkg/types"
)

func specs(entries map[string][]string, order ...string) []*types.ServiceSpec {
	out := make([]*types.ServiceSpec, 0, len(order))
	for _, name := range order {
		out = append(out, &types.ServiceSpec{Name: name, DependsOn: entries[name]})
	}
	return out
}

// index of a name in a slice, -1 when absent
func indexOf(names []string, want string) int {
	for i, n := range names {
		if n == want {
			return i
		}
	}
	return -1
}

func TestOrderPutsDependenciesFirst(t *testing.T) {
	g, err := New(specs(map[string][]string{
		"web":    {"api", "cache"},
		"api":    {"db"},
		"cache":  nil,
		"db":     nil,
		"worker": {"db"},
	}, "web", "api", "cache", "db", "worker"))
	require.NoError(t, err)

	order := g.Order()
	assert.Len(t, order, 5)
	for _, name := range []string{"web", "api", "worker"} {
		for _, dep := range g.Dependencies(name) {
			assert.Less(t, indexOf(order, dep), indexOf(order, name),
				"%s must come after its dependency %s", name, dep)
		}
	}
}

func TestOrderIsDeterministic(t *testing.T) {
	build := func() []string {
		g, err := New(specs(map[string][]string{
			"a": nil, "b": nil, "c": nil, "d": {"a", "c"},
		}, "a", "b", "c", "d"))
		require.NoError(t, err)
		return g.Order()
	}
	first := build()
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, build())
	}
}

func TestCycleDetection(t *testing.T) {
	_, err := New(specs(map[string][]string{
		"a": {"b"},
		"b": {"c"},
		"c": {"a"},
	}, "a", "b", "c"))
	require.Error(t, err)

	var cyc *CycleError
	require.ErrorAs(t, err, &cyc)
	assert.ElementsMatch(t, []string{"a", "b", "c", "a"}, cyc.Members)
}

func TestSelfDependencyIsACycle(t *testing.T) {
	_, err := New(specs(map[string][]string{"a": {"a"}}, "a"))
	var cyc *CycleError
	require.ErrorAs(t, err, &cyc)
}

func TestUnknownDependency(t *testing.T) {
	_, err := New(specs(map[string][]string{"a": {"ghost"}}, "a"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")
}

func TestDuplicateName(t *testing.T) {
	_, err := New([]*types.ServiceSpec{{Name: "a"}, {Name: "a"}})
	require.Error(t, err)
}

func newDiamond(t *testing.T) *Graph {
	// web -> api -> db, web -> cache -> db
	g, err := New(specs(map[string][]string{
		"web":   {"api", "cache"},
		"api":   {"db"},
		"cache": {"db"},
		"db":    nil,
	}, "web", "api", "cache", "db"))
	require.NoError(t, err)
	return g
}

func TestExpandAddsTransitiveDependencies(t *testing.T) {
	g := newDiamond(t)

	got := g.Expand([]string{"api"})
	assert.Equal(t, []string{"db", "api"}, got)

	got = g.Expand([]string{"web"})
	assert.Len(t, got, 4)
	assert.Equal(t, "db", got[0])
	assert.Equal(t, "web", got[3])
}

func TestExpandReverseAddsTransitiveDependents(t *testing.T) {
	g := newDiamond(t)

	got := g.ExpandReverse([]string{"db"})
	assert.Len(t, got, 4, "everything depends on db")

	got = g.ExpandReverse([]string{"cache"})
	assert.ElementsMatch(t, []string{"cache", "web"}, got)
}

func TestSubtreeExcludesSelf(t *testing.T) {
	g := newDiamond(t)

	assert.ElementsMatch(t, []string{"api", "cache", "web"}, g.Subtree("db"))
	assert.Equal(t, []string{"web"}, g.Subtree("api"))
	assert.Empty(t, g.Subtree("web"))
}

func TestReverseOrderMirrorsOrder(t *testing.T) {
	g := newDiamond(t)

	order := g.Order()
	rev := g.ReverseOrder()
	require.Len(t, rev, len(order))
	for i := range order {
		assert.Equal(t, order[i], rev[len(rev)-1-i])
	}
}

func TestOrderOfFiltersAndSorts(t *testing.T) {
	g := newDiamond(t)

	got := g.OrderOf([]string{"web", "db"})
	assert.Equal(t, []string{"db", "web"}, got)
}
