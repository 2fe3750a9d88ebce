package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/encodeous/weft/perf"
	"github.com/encodeous/weft/protocol"
	"github.com/encodeous/weft/state"
	"golang.org/x/crypto/blake2b"
)

var (
	ErrUnexpectedResponse = errors.New("unexpected response")
	ErrStaleEnvelope      = errors.New("envelope timestamp is too far from our clock")
)

// PeerProtocol exchanges signed messages with other nodes. It owns our link state, peering, link state forwarding and
// node discovery.
type PeerProtocol struct {
	env      *state.Env
	log      *slog.Logger
	sequence uint64
	// peering holds the peers we are currently trying to connect to
	peering map[state.NodeTableKey]bool
	polling atomic.Bool
}

// peerTarget is everything needed to reach a node from another goroutine
type peerTarget struct {
	node state.NodeId
	url  string
	key  state.NodePublicKey
}

func targetOf(e *state.NodeTableEntry) peerTarget {
	return peerTarget{node: e.Node, url: e.Url, key: e.PublicKey}
}

func (p *PeerProtocol) Init(s *state.State) error {
	p.env = s.Env
	p.log = s.Log.With("module", "peer")
	p.sequence = uint64(time.Now().UnixNano())
	p.peering = make(map[state.NodeTableKey]bool)

	for _, subnet := range s.Subnets {
		for _, peer := range subnet.Peers {
			e := s.NodeTable.Ensure(subnet.Id, peer.Id, peer.PubKey)
			e.Url = peer.Url
		}
		p.UpdateOwnLinkState(s, subnet.Id)
	}

	if s.Transport != nil {
		if err := s.Transport.Listen(p.receive); err != nil {
			return fmt.Errorf("failed to listen for peer messages: %w", err)
		}
	}

	s.Env.RepeatTask(p.forwardLinkStates, state.MaxRetransmitCheckInterval)
	s.Env.RepeatTask(p.refreshLinkStates, state.LinkStateRefreshInterval)
	s.Env.RepeatTask(p.drainDiscovery, state.NodeDiscoveryInterval)
	s.Env.RepeatTask(p.connectPeers, state.PeeringRetryInterval)
	if len(s.BootstrapNodes) != 0 {
		s.Env.RepeatTask(p.pollNodeLists, state.NodeListHashPollingInterval)
	}
	return nil
}

func (p *PeerProtocol) Cleanup(s *state.State) error {
	if s.Transport != nil {
		return s.Transport.Close()
	}
	return nil
}

// dispatchResult runs fn on the main loop. Only fatal errors stop the node, the rest are returned to the caller.
func dispatchResult[T any](env *state.Env, fn func(s *state.State) (T, error)) (T, error) {
	res, err := env.DispatchWait(func(s *state.State) (any, error) {
		v, err := fn(s)
		if err != nil && isFatal(err) {
			return nil, err
		}
		return state.Pair[T, error]{V1: v, V2: err}, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	r := res.(state.Pair[T, error])
	return r.V1, r.V2
}

// seal signs msg and wraps it in an envelope
func (p *PeerProtocol) seal(subnet state.SubnetId, msg protocol.Message) []byte {
	env := &protocol.Envelope{
		Version:      state.MessageVersion,
		Sender:       string(p.env.Id),
		Subnet:       string(subnet),
		Timestamp:    time.Now().UnixNano(),
		ContentBytes: protocol.MarshalMessage(msg),
	}
	env.Signature = p.env.Key.Sign(env.SignedBytes())
	return protocol.MarshalEnvelope(env)
}

// receive is called by the transport for every incoming envelope
func (p *PeerProtocol) receive(ctx context.Context, data []byte) ([]byte, error) {
	perf.PeerMessagesPerSecond.Add(1)
	env, err := protocol.UnmarshalEnvelope(data)
	if err != nil {
		return nil, err
	}
	if env.Version != state.MessageVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", protocol.ErrMalformed, env.Version)
	}
	resp, err := dispatchResult(p.env, func(s *state.State) (protocol.Message, error) {
		return p.HandleEnvelope(s, env)
	})
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, nil
	}
	return p.seal(state.SubnetId(env.Subnet), resp), nil
}

// Send delivers msg to target and returns its response, which is nil if the target did not respond with a message.
// Responses are verified against the target's key when we know it.
func (p *PeerProtocol) Send(ctx context.Context, target peerTarget, subnet state.SubnetId, msg protocol.Message) (protocol.Message, error) {
	if target.url == "" {
		return nil, fmt.Errorf("no url known for %s", target.node)
	}
	ctx, cancel := context.WithTimeout(ctx, state.PeerRequestTimeout)
	defer cancel()
	raw, err := p.env.Transport.Send(ctx, target.url, p.seal(subnet, msg))
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}
	resp, err := protocol.UnmarshalEnvelope(raw)
	if err != nil {
		return nil, err
	}
	if !target.key.IsZero() {
		if resp.Sender != string(target.node) || !target.key.Verify(resp.SignedBytes(), resp.Signature) {
			return nil, fmt.Errorf("%w: response is not signed by %s", state.ErrUnauthorized, target.node)
		}
	}
	return resp.Content, nil
}

// SendAsync sends msg to a node without waiting for the main loop. onFail is dispatched if sending fails.
func (p *PeerProtocol) SendAsync(s *state.State, to *state.NodeTableEntry, msg protocol.Message, onFail func(s *state.State, err error) error) {
	target := targetOf(to)
	subnet := to.Subnet
	go func() {
		_, err := p.Send(p.env.Context, target, subnet, msg)
		if err == nil {
			return
		}
		p.log.Debug("failed to send message", "to", target.node, "type", msg.Type(), "error", err)
		if onFail != nil {
			p.env.Dispatch(func(s *state.State) error {
				return onFail(s, err)
			})
		}
	}()
}

// Authenticate checks that an envelope was signed by a node we are peered with. The signature binds the sender,
// subnet and timestamp, so an envelope cannot be replayed into another subnet.
func Authenticate(s *state.State, env *protocol.Envelope) bool {
	e := s.NodeTable.Get(state.MakeNodeTableKey(state.SubnetId(env.Subnet), state.NodeId(env.Sender)))
	return e != nil && e.IsPeer() && e.PublicKey.Verify(env.SignedBytes(), env.Signature)
}

// fresh reports whether an envelope was sealed within EnvelopeMaxAge of now
func fresh(env *protocol.Envelope, now time.Time) bool {
	age := now.Sub(time.Unix(0, env.Timestamp))
	return age <= state.EnvelopeMaxAge && age >= -state.EnvelopeMaxAge
}

// HandleEnvelope processes a decoded envelope and returns the response to send back, if any.
func (p *PeerProtocol) HandleEnvelope(s *state.State, env *protocol.Envelope) (protocol.Message, error) {
	if !fresh(env, time.Now()) {
		p.log.Debug("rejected stale message", "sender", env.Sender, "type", env.Content.Type())
		return nil, ErrStaleEnvelope
	}
	authenticated := Authenticate(s, env)
	if !authenticated && !protocol.IsAnonymousAllowed(env.Content.Type()) {
		p.log.Debug("rejected unauthenticated message", "sender", env.Sender, "type", env.Content.Type())
		return nil, state.ErrUnauthorized
	}
	subnet := state.SubnetId(env.Subnet)
	inst, ok := Get[*Subnets](s).Get(subnet)
	if !ok {
		return nil, fmt.Errorf("unknown subnet %s", subnet)
	}
	sender := state.NodeId(env.Sender)

	switch m := env.Content.(type) {
	case *protocol.PeeringInfoRequest:
		return &protocol.PeeringInfoResponse{Data: inst.Scheme.GetPeeringInfo()}, nil
	case *protocol.PeeringRequest:
		return p.handlePeeringRequest(s, inst, env, m)
	case *protocol.LinkStateUpdate:
		p.ingestLinkState(s, m.Bytes)
		return nil, nil
	case *protocol.LinkStateRequest:
		e := s.NodeTable.Get(state.MakeNodeTableKey(subnet, state.NodeId(m.Node)))
		if e == nil || e.LinkState == nil {
			return &protocol.LinkStateResponse{}, nil
		}
		return &protocol.LinkStateResponse{Bytes: e.LinkState.Update}, nil
	case *protocol.NodeListHashRequest:
		return &protocol.NodeListHashResponse{Hash: NodeListHash(s.NodeTable, subnet)}, nil
	case *protocol.NodeListRequest:
		return &protocol.NodeListResponse{LinkStates: NodeList(s.NodeTable, subnet)}, nil
	case *protocol.InterledgerPacket:
		return nil, p.handleInterledgerPacket(s, inst, sender, m)
	case *protocol.SettlementMessage:
		entry := s.NodeTable.Get(state.MakeNodeTableKey(subnet, sender))
		return nil, Get[*Settlement](s).HandleSettlementMessage(s, inst, entry, m)
	}
	return nil, fmt.Errorf("%w: %s is not a request", protocol.ErrMalformed, env.Content.Type())
}

func (p *PeerProtocol) handleInterledgerPacket(s *state.State, inst *SubnetInstance, sender state.NodeId, m *protocol.InterledgerPacket) error {
	packet, err := protocol.ParsePacket(m.Packet)
	if err != nil {
		return err
	}
	source := &peerEndpoint{subnet: inst.Cfg.Id, node: sender, ledger: inst.LedgerId()}
	c := Get[*Connector](s)
	if prepare, ok := packet.(*protocol.Prepare); ok {
		return c.HandlePrepare(s, source, m.RequestId, prepare)
	}
	return c.HandleResult(s, source, m.RequestId, packet)
}

// NodeListHash digests the nodes of a subnet we have link state for
func NodeListHash(table *state.NodeTable, subnet state.SubnetId) []byte {
	h, err := blake2b.New256(nil)
	if err != nil {
		panic(err)
	}
	for _, e := range table.Entries(subnet) {
		if e.LinkState == nil {
			continue
		}
		h.Write([]byte(e.Node))
		h.Write([]byte{0})
	}
	return h.Sum(nil)
}

// NodeList returns the signed link state of every node of a subnet we know
func NodeList(table *state.NodeTable, subnet state.SubnetId) [][]byte {
	out := make([][]byte, 0)
	for _, e := range table.Entries(subnet) {
		if e.LinkState != nil {
			out = append(out, e.LinkState.Update)
		}
	}
	return out
}
