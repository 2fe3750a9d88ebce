package state

import (
	"fmt"

	"github.com/encodeous/weft/protocol"
)

type RouteType int

const (
	// RouteFixed terminates at a local endpoint
	RouteFixed RouteType = iota
	// RoutePeer leads to another node through one of our peers
	RoutePeer
)

func (t RouteType) String() string {
	switch t {
	case RouteFixed:
		return "fixed"
	case RoutePeer:
		return "peer"
	}
	return fmt.Sprintf("RouteType(%d)", int(t))
}

// PacketEndpoint is something packets can be exchanged with, either a peer or a local endpoint.
type PacketEndpoint interface {
	Subnet() SubnetId
	// Account is the ledger account reservations against this endpoint are made on
	Account() AccountPath
	SendPrepare(s *State, requestId uint64, p *protocol.Prepare) error
	SendResult(s *State, requestId uint64, result protocol.Packet) error
}

// PacketDestination picks the endpoint a packet is forwarded to at the time it is sent.
type PacketDestination interface {
	Endpoint(s *State) (PacketEndpoint, error)
}

type RoutingInfo struct {
	Type        RouteType
	Subnet      SubnetId
	Destination PacketDestination

	// only set for peer routes
	Node            NodeId
	Distance        int
	FirstHopOptions []NodeId
}

// RoutingTable maps address prefixes to routes. Packets are routed by longest prefix.
type RoutingTable = PrefixMap[*RoutingInfo]

func NewRoutingTable() *RoutingTable {
	return NewPrefixMap[*RoutingInfo]()
}
