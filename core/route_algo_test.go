package core

import (
	"testing"

	"github.com/encodeous/weft/state"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

type recordedIO struct {
	discoveries map[state.NodeTableKey]state.NodeId
	events      []RouterEvent
}

func newRecordedIO() *recordedIO {
	return &recordedIO{discoveries: make(map[state.NodeTableKey]state.NodeId)}
}

func (r *recordedIO) QueueDiscovery(key state.NodeTableKey, askedVia state.NodeId) {
	r.discoveries[key] = askedVia
}

func (r *recordedIO) Log(event RouterEvent, args ...any) {
	r.events = append(r.events, event)
}

// graphTable builds a node table of subnet "main" from an adjacency list. Nodes missing from graph have no link state.
func graphTable(graph map[state.NodeId][]state.NodeId) *state.NodeTable {
	table := state.NewNodeTable()
	for node, neighbours := range graph {
		e := table.Ensure("main", node, state.NodePublicKey{})
		table.SetLinkState(e, &state.LinkState{Sequence: 1, Neighbours: neighbours})
	}
	return table
}

func TestComputeRoutesLine(t *testing.T) {
	table := graphTable(map[state.NodeId][]state.NodeId{
		"a": {"b"},
		"b": {"a", "c"},
		"c": {"b", "d"},
		"d": {"c"},
	})
	routes := ComputeRoutes(table, "main.a", newRecordedIO())
	want := map[state.NodeId]ComputedRoute{
		"b": {Distance: 1, FirstHopOptions: []state.NodeId{"b"}},
		"c": {Distance: 2, FirstHopOptions: []state.NodeId{"b"}},
		"d": {Distance: 3, FirstHopOptions: []state.NodeId{"b"}},
	}
	if diff := cmp.Diff(want, routes); diff != "" {
		t.Errorf("routes mismatch (-want +got):\n%s", diff)
	}
}

func TestComputeRoutesKeepsTies(t *testing.T) {
	// a has two equally short paths to e, through b and through c
	table := graphTable(map[state.NodeId][]state.NodeId{
		"a": {"b", "c"},
		"b": {"a", "d"},
		"c": {"a", "d"},
		"d": {"b", "c", "e"},
		"e": {"d"},
	})
	io := newRecordedIO()
	routes := ComputeRoutes(table, "main.a", io)
	assert.Equal(t, ComputedRoute{Distance: 2, FirstHopOptions: []state.NodeId{"b", "c"}}, routes["d"])
	assert.Equal(t, ComputedRoute{Distance: 3, FirstHopOptions: []state.NodeId{"b", "c"}}, routes["e"])
	assert.Contains(t, io.events, AlternatePathFound)
	assert.NotContains(t, routes, state.NodeId("a"))
}

func TestComputeRoutesUsesOneSidedLinks(t *testing.T) {
	// routes follow the neighbours each node reports, even when the other side has not confirmed the link yet
	table := graphTable(map[state.NodeId][]state.NodeId{
		"a": {"b"},
		"b": {"c"},
		"c": {},
	})
	routes := ComputeRoutes(table, "main.a", newRecordedIO())
	assert.Equal(t, 2, routes["c"].Distance)
}

func TestComputeRoutesQueuesUnknownNodes(t *testing.T) {
	table := graphTable(map[state.NodeId][]state.NodeId{
		"a": {"b"},
		"b": {"a", "x"},
	})
	// y is known, but without a link state
	table.Ensure("main", "y", state.NodePublicKey{})
	table.Get("main.b").LinkState.Neighbours = []state.NodeId{"a", "x", "y"}

	io := newRecordedIO()
	routes := ComputeRoutes(table, "main.a", io)
	assert.Equal(t, map[state.NodeTableKey]state.NodeId{
		"main.x": "b",
		"main.y": "b",
	}, io.discoveries)
	assert.Len(t, routes, 1)
	assert.Contains(t, io.events, UnknownNeighbour)
}

func TestComputeRoutesWithoutOwnLinkState(t *testing.T) {
	table := graphTable(map[state.NodeId][]state.NodeId{
		"b": {"a"},
	})
	io := newRecordedIO()
	assert.Empty(t, ComputeRoutes(table, "main.a", io))
	assert.Equal(t, []RouterEvent{SelfMissingLinkState}, io.events)
}

func TestComputeRoutesStaysInSubnet(t *testing.T) {
	table := graphTable(map[state.NodeId][]state.NodeId{
		"a": {"b"},
	})
	other := table.Ensure("other", "b", state.NodePublicKey{})
	table.SetLinkState(other, &state.LinkState{Sequence: 1, Neighbours: []state.NodeId{"a"}})

	io := newRecordedIO()
	assert.Empty(t, ComputeRoutes(table, "main.a", io))
	assert.Equal(t, map[state.NodeTableKey]state.NodeId{"main.b": "a"}, io.discoveries)
}
