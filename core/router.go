package core

import (
	"log/slog"
	"time"

	"github.com/encodeous/weft/perf"
	"github.com/encodeous/weft/state"
)

// Router keeps a peer route in the routing table for every node reachable over the link state graph of our subnets.
type Router struct {
	log         *slog.Logger
	installed   map[state.SubnetId][]string
	unsubscribe func()
}

// routerIO connects route computation to the discovery queue
type routerIO struct {
	s   *state.State
	log *slog.Logger
}

func (r *routerIO) QueueDiscovery(key state.NodeTableKey, askedVia state.NodeId) {
	if r.s.DiscoveryQueue.Add(key, askedVia) {
		r.log.Debug("queued node for discovery", "node", key, "via", askedVia)
	}
}

func (r *routerIO) Log(event RouterEvent, args ...any) {
	if event >= UnknownNeighbour {
		r.log.Debug(event.String(), args...)
	}
}

func (r *Router) Init(s *state.State) error {
	r.log = s.Log.With("module", "router")
	r.installed = make(map[state.SubnetId][]string)
	r.unsubscribe = s.NodeTable.OnChange(func(key state.NodeTableKey, change state.NodeTableChange) {
		subnet, _ := key.Split()
		r.UpdateRoutes(s, subnet)
	})
	return nil
}

func (r *Router) Cleanup(s *state.State) error {
	if r.unsubscribe != nil {
		r.unsubscribe()
	}
	for _, keys := range r.installed {
		for _, key := range keys {
			s.RoutingTable.Delete(key)
		}
	}
	r.installed = nil
	return nil
}

// UpdateRoutes recomputes the peer routes of a subnet and replaces the ones installed before.
func (r *Router) UpdateRoutes(s *state.State, subnet state.SubnetId) {
	inst, ok := Get[*Subnets](s).Get(subnet)
	if !ok {
		return
	}
	start := time.Now()
	routes := ComputeRoutes(s.NodeTable, state.MakeNodeTableKey(subnet, s.Id), &routerIO{s: s, log: r.log})

	for _, key := range r.installed[subnet] {
		s.RoutingTable.Delete(key)
	}
	keys := make([]string, 0, len(routes))
	for node, route := range routes {
		addr := state.NodeAddress(s.AllocationScheme, subnet, node)
		s.RoutingTable.Set(addr, &state.RoutingInfo{
			Type:   state.RoutePeer,
			Subnet: subnet,
			Destination: &peerRoute{
				subnet:          subnet,
				ledger:          inst.LedgerId(),
				firstHopOptions: route.FirstHopOptions,
			},
			Node:            node,
			Distance:        route.Distance,
			FirstHopOptions: route.FirstHopOptions,
		})
		keys = append(keys, addr)
	}
	r.installed[subnet] = keys
	perf.RouteComputeLatency.Add(float64(time.Since(start).Microseconds()))
	r.log.Debug("updated routes", "subnet", subnet, "routes", len(keys))
	if state.DBG_log_route_table {
		r.logRouteTable(s, subnet)
	}
}

func (r *Router) logRouteTable(s *state.State, subnet state.SubnetId) {
	prefix := state.NodeAddress(s.AllocationScheme, subnet, "")
	for _, route := range s.RoutingTable.FilterPrefix(prefix) {
		if route.V2.Type == state.RouteFixed {
			r.log.Info("route", "address", route.V1, "type", route.V2.Type)
			continue
		}
		r.log.Info("route", "address", route.V1, "type", route.V2.Type, "distance", route.V2.Distance, "via", route.V2.FirstHopOptions)
	}
}
