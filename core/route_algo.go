package core

import (
	"slices"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/encodeous/weft/state"
)

type RouterEvent int

// trace events

const (
	NodeReached RouterEvent = iota
	ShorterPathFound
	AlternatePathFound
)

// warn events

const (
	UnknownNeighbour RouterEvent = iota + 1000
	SelfMissingLinkState
)

func (e RouterEvent) String() string {
	switch e {
	case NodeReached:
		return "NodeReached"
	case ShorterPathFound:
		return "ShorterPathFound"
	case AlternatePathFound:
		return "AlternatePathFound"
	case UnknownNeighbour:
		return "UnknownNeighbour"
	case SelfMissingLinkState:
		return "SelfMissingLinkState"
	}
	return "RouterEvent(?)"
}

// RouteIO is the side effect surface of route computation
type RouteIO interface {
	// QueueDiscovery asks for the link state of a node we only know by name, askedVia is a node that lists it
	QueueDiscovery(key state.NodeTableKey, askedVia state.NodeId)
	Log(event RouterEvent, args ...any)
}

type ComputedRoute struct {
	Distance int
	// FirstHopOptions are our peers that begin a shortest path to the node, sorted
	FirstHopOptions []state.NodeId
}

type visit struct {
	level   int
	parents mapset.Set[state.NodeId]
}

// ComputeRoutes builds a breadth first shortest path tree over the link states of self's subnet. Every parent on an
// equally short path is kept, so a node may be reachable through several of our peers.
//
// Nodes whose link state we do not have are queued for discovery and get no route.
func ComputeRoutes(table *state.NodeTable, self state.NodeTableKey, io RouteIO) map[state.NodeId]ComputedRoute {
	subnet, selfId := self.Split()
	routes := make(map[state.NodeId]ComputedRoute)

	if e := table.Get(self); e == nil || e.LinkState == nil {
		io.Log(SelfMissingLinkState, "node", self)
		return routes
	}

	visited := map[state.NodeId]*visit{
		selfId: {level: 0, parents: mapset.NewThreadUnsafeSet[state.NodeId]()},
	}
	queue := []state.NodeId{selfId}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		curVisit := visited[cur]
		entry := table.Get(state.MakeNodeTableKey(subnet, cur))
		if entry == nil || entry.LinkState == nil {
			continue
		}
		for _, neigh := range entry.LinkState.Neighbours {
			if neigh == cur {
				continue
			}
			level := curVisit.level + 1
			v, seen := visited[neigh]
			switch {
			case !seen:
				visited[neigh] = &visit{level: level, parents: mapset.NewThreadUnsafeSet(cur)}
				key := state.MakeNodeTableKey(subnet, neigh)
				if ne := table.Get(key); ne != nil && ne.LinkState != nil {
					io.Log(NodeReached, "node", neigh, "via", cur, "level", level)
					queue = append(queue, neigh)
				} else {
					io.Log(UnknownNeighbour, "node", neigh, "via", cur)
					io.QueueDiscovery(key, cur)
				}
			case v.level > level:
				io.Log(ShorterPathFound, "node", neigh, "via", cur, "level", level)
				v.level = level
				v.parents = mapset.NewThreadUnsafeSet(cur)
			case v.level == level:
				if v.parents.Add(cur) {
					io.Log(AlternatePathFound, "node", neigh, "via", cur, "level", level)
				}
			}
		}
	}

	for node, v := range visited {
		if v.level == 0 {
			continue
		}
		if e := table.Get(state.MakeNodeTableKey(subnet, node)); e == nil || e.LinkState == nil {
			continue
		}
		var hops mapset.Set[state.NodeId]
		if v.level == 1 {
			hops = mapset.NewThreadUnsafeSet(node)
		} else {
			hops = v.parents.Clone()
			for level := v.level - 1; level > 1; level-- {
				next := mapset.NewThreadUnsafeSet[state.NodeId]()
				for _, hop := range hops.ToSlice() {
					next = next.Union(visited[hop].parents)
				}
				hops = next
			}
		}
		options := hops.ToSlice()
		slices.Sort(options)
		routes[node] = ComputedRoute{
			Distance:        v.level,
			FirstHopOptions: options,
		}
	}
	return routes
}
