package core

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/encodeous/weft/protocol"
	"github.com/encodeous/weft/state"
)

var ErrNoPeeredFirstHop = errors.New("none of the first hops is peered")

// peerEndpoint exchanges packets with a directly peered node
type peerEndpoint struct {
	subnet state.SubnetId
	node   state.NodeId
	ledger state.LedgerId
}

func (p *peerEndpoint) Subnet() state.SubnetId {
	return p.subnet
}

func (p *peerEndpoint) Account() state.AccountPath {
	return state.PeerInterledgerAccount(p.ledger, state.MakeNodeTableKey(p.subnet, p.node))
}

func (p *peerEndpoint) String() string {
	return string(state.MakeNodeTableKey(p.subnet, p.node))
}

func (p *peerEndpoint) peer(s *state.State) (*state.NodeTableEntry, error) {
	e := s.NodeTable.Get(state.MakeNodeTableKey(p.subnet, p.node))
	if e == nil || !e.IsPeer() {
		return nil, fmt.Errorf("%s is not a peer", p)
	}
	return e, nil
}

func (p *peerEndpoint) send(s *state.State, requestId uint64, packet protocol.Packet, onFail func(s *state.State, err error) error) error {
	e, err := p.peer(s)
	if err != nil {
		return err
	}
	data, err := protocol.SerializePacket(packet)
	if err != nil {
		return err
	}
	Get[*PeerProtocol](s).SendAsync(s, e, &protocol.InterledgerPacket{
		RequestId: requestId,
		Packet:    data,
	}, onFail)
	return nil
}

func (p *peerEndpoint) SendPrepare(s *state.State, requestId uint64, prepare *protocol.Prepare) error {
	return p.send(s, requestId, prepare, func(s *state.State, err error) error {
		return Get[*Connector](s).HandleSendFailure(s, requestId, err)
	})
}

func (p *peerEndpoint) SendResult(s *state.State, requestId uint64, result protocol.Packet) error {
	return p.send(s, requestId, result, nil)
}

// peerRoute forwards to the first of its first hop options that is currently peered
type peerRoute struct {
	subnet          state.SubnetId
	ledger          state.LedgerId
	firstHopOptions []state.NodeId
}

func (r *peerRoute) Endpoint(s *state.State) (state.PacketEndpoint, error) {
	for _, hop := range r.firstHopOptions {
		if e := s.NodeTable.Get(state.MakeNodeTableKey(r.subnet, hop)); e != nil && e.IsPeer() {
			return &peerEndpoint{subnet: r.subnet, node: hop, ledger: r.ledger}, nil
		}
	}
	return nil, ErrNoPeeredFirstHop
}

// LocalEndpoint terminates packets at this node and can originate packets of its own. Its reservations are made on the
// owner account of the subnet's ledger.
type LocalEndpoint struct {
	subnet state.SubnetId
	ledger state.LedgerId
	name   string
	nextId uint64

	// OnPrepare answers packets addressed to this endpoint, returning a fulfill or reject. nil rejects everything.
	OnPrepare func(p *protocol.Prepare) protocol.Packet
	// OnResult receives the results of packets sent from this endpoint
	OnResult func(requestId uint64, result protocol.Packet)
}

func NewLocalEndpoint(subnet state.SubnetId, ledger state.LedgerId, name string) *LocalEndpoint {
	return &LocalEndpoint{subnet: subnet, ledger: ledger, name: name}
}

func (l *LocalEndpoint) Name() string {
	return l.name
}

func (l *LocalEndpoint) Subnet() state.SubnetId {
	return l.subnet
}

func (l *LocalEndpoint) Account() state.AccountPath {
	return state.OwnerAccount(l.ledger)
}

func (l *LocalEndpoint) Endpoint(*state.State) (state.PacketEndpoint, error) {
	return l, nil
}

func (l *LocalEndpoint) SendPrepare(s *state.State, requestId uint64, p *protocol.Prepare) error {
	var result protocol.Packet
	if l.OnPrepare != nil {
		result = l.OnPrepare(p)
	}
	if result == nil {
		result = &protocol.Reject{
			Code:        protocol.CodeUnreachable,
			TriggeredBy: p.Destination,
			Message:     "endpoint does not accept packets",
		}
	}
	return Get[*Connector](s).HandleResult(s, l, requestId, result)
}

func (l *LocalEndpoint) SendResult(_ *state.State, requestId uint64, result protocol.Packet) error {
	if l.OnResult != nil {
		l.OnResult(requestId, result)
	}
	return nil
}

// Send originates a packet from this endpoint. The result is delivered to OnResult.
func (l *LocalEndpoint) Send(s *state.State, p *protocol.Prepare) (uint64, error) {
	l.nextId++
	id := l.nextId
	return id, Get[*Connector](s).HandlePrepare(s, l, id, p)
}

// fulfillWithData accepts packets that carry the preimage of their execution condition as data
func fulfillWithData(p *protocol.Prepare) protocol.Packet {
	if len(p.Data) == 32 && sha256.Sum256(p.Data) == p.ExecutionCondition {
		f := &protocol.Fulfill{}
		copy(f.Fulfillment[:], p.Data)
		return f
	}
	return &protocol.Reject{
		Code:        protocol.CodeWrongCondition,
		TriggeredBy: p.Destination,
		Message:     "packet data is not the fulfillment",
	}
}
