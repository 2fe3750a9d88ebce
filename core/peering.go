package core

import (
	"fmt"
	"time"

	"github.com/encodeous/weft/protocol"
	"github.com/encodeous/weft/settlement"
	"github.com/encodeous/weft/state"
)

// UpdateOwnLinkState signs a new link state listing our current peers and sends it to them.
func (p *PeerProtocol) UpdateOwnLinkState(s *state.State, subnet state.SubnetId) {
	pub := s.Key.Pubkey()
	self := s.NodeTable.Ensure(subnet, s.Id, pub)
	self.Url = s.Url

	peers := s.NodeTable.Peers(subnet)
	neighbours := make([]state.NodeId, 0, len(peers))
	names := make([]string, 0, len(peers))
	for _, peer := range peers {
		neighbours = append(neighbours, peer.Node)
		names = append(names, string(peer.Node))
	}

	p.sequence++
	update := SignLinkState(s.Key, &protocol.LinkStateRecord{
		Subnet:     string(subnet),
		Node:       string(s.Id),
		Sequence:   p.sequence,
		PublicKey:  pub[:],
		Neighbours: names,
		Url:        s.Url,
	})
	s.NodeTable.SetLinkState(self, &state.LinkState{
		Sequence:   p.sequence,
		Neighbours: neighbours,
		Update:     update,
		Received:   time.Now(),
	})
	self.ScheduledRetransmitTime = state.Never

	for _, peer := range peers {
		p.SendAsync(s, peer, &protocol.LinkStateUpdate{Bytes: update}, nil)
	}
	p.log.Debug("updated own link state", "subnet", subnet, "sequence", p.sequence, "neighbours", len(neighbours))
}

func (p *PeerProtocol) refreshLinkStates(s *state.State) error {
	for _, id := range s.SubnetIds() {
		p.UpdateOwnLinkState(s, id)
	}
	return nil
}

// connectPeers starts peering with every configured peer we are not peered with yet
func (p *PeerProtocol) connectPeers(s *state.State) error {
	for _, subnet := range s.Subnets {
		for _, peer := range subnet.Peers {
			key := state.MakeNodeTableKey(subnet.Id, peer.Id)
			if e := s.NodeTable.Get(key); e != nil && e.IsPeer() {
				continue
			}
			if p.peering[key] {
				continue
			}
			p.peering[key] = true
			go p.initiatePeering(subnet.Id, peer)
		}
	}
	return nil
}

func (p *PeerProtocol) initiatePeering(subnet state.SubnetId, peer state.PeerCfg) {
	err := p.peerWith(subnet, peer)
	if err != nil {
		p.log.Debug("peering failed", "subnet", subnet, "peer", peer.Id, "error", err)
	}
	p.env.Dispatch(func(s *state.State) error {
		delete(p.peering, state.MakeNodeTableKey(subnet, peer.Id))
		return nil
	})
}

// peerWith runs the initiating side of the peering handshake
func (p *PeerProtocol) peerWith(subnet state.SubnetId, peer state.PeerCfg) error {
	target := peerTarget{node: peer.Id, url: peer.Url, key: peer.PubKey}
	resp, err := p.Send(p.env.Context, target, subnet, &protocol.PeeringInfoRequest{})
	if err != nil {
		return err
	}
	info, ok := resp.(*protocol.PeeringInfoResponse)
	if !ok {
		return fmt.Errorf("%w to peering info request", ErrUnexpectedResponse)
	}

	req, err := dispatchResult(p.env, func(s *state.State) (*protocol.PeeringRequest, error) {
		inst, ok := Get[*Subnets](s).Get(subnet)
		if !ok {
			return nil, fmt.Errorf("unknown subnet %s", subnet)
		}
		data, err := inst.Scheme.CreatePeeringRequest(settlement.Peer{Subnet: subnet, Node: peer.Id, PublicKey: peer.PubKey}, info.Data)
		if err != nil {
			return nil, err
		}
		self := s.NodeTable.Get(state.MakeNodeTableKey(subnet, s.Id))
		return &protocol.PeeringRequest{LinkState: self.LinkState.Update, Data: data}, nil
	})
	if err != nil {
		return err
	}

	resp, err = p.Send(p.env.Context, target, subnet, req)
	if err != nil {
		return err
	}
	pr, ok := resp.(*protocol.PeeringResponse)
	if !ok {
		return fmt.Errorf("%w to peering request", ErrUnexpectedResponse)
	}
	if !pr.Accepted {
		return settlement.ErrPeeringRejected
	}
	_, err = dispatchResult(p.env, func(s *state.State) (struct{}, error) {
		return struct{}{}, p.finalizePeering(s, subnet, peer, pr)
	})
	return err
}

func (p *PeerProtocol) finalizePeering(s *state.State, subnet state.SubnetId, peer state.PeerCfg, pr *protocol.PeeringResponse) error {
	rec, pub, err := VerifyLinkState(pr.LinkState)
	if err != nil {
		return err
	}
	if state.SubnetId(rec.Subnet) != subnet || state.NodeId(rec.Node) != peer.Id || pub != peer.PubKey {
		return fmt.Errorf("%w: link state does not belong to %s", ErrLinkStateKeyMismatch, peer.Id)
	}
	if _, _, err := HandleLinkStateUpdate(s.NodeTable, s.Id, pr.LinkState, time.Now()); err != nil {
		return err
	}
	inst, ok := Get[*Subnets](s).Get(subnet)
	if !ok {
		return fmt.Errorf("unknown subnet %s", subnet)
	}
	peerState, err := inst.Scheme.FinalizePeeringRequest(settlement.Peer{Subnet: subnet, Node: peer.Id, PublicKey: pub}, pr.Data)
	if err != nil {
		return err
	}
	entry := s.NodeTable.Get(state.MakeNodeTableKey(subnet, peer.Id))
	return p.addPeer(s, inst, entry, peerState)
}

func (p *PeerProtocol) handlePeeringRequest(s *state.State, inst *SubnetInstance, env *protocol.Envelope, m *protocol.PeeringRequest) (protocol.Message, error) {
	rec, pub, err := VerifyLinkState(m.LinkState)
	if err != nil {
		return nil, err
	}
	if rec.Node != env.Sender || rec.Subnet != env.Subnet {
		return nil, fmt.Errorf("%w: link state does not belong to %s", ErrLinkStateKeyMismatch, env.Sender)
	}
	if !pub.Verify(env.SignedBytes(), env.Signature) {
		return nil, state.ErrUnauthorized
	}
	if _, _, err := HandleLinkStateUpdate(s.NodeTable, s.Id, m.LinkState, time.Now()); err != nil {
		return nil, err
	}
	node := state.NodeId(env.Sender)
	peerState, data, err := inst.Scheme.AcceptPeeringRequest(settlement.Peer{Subnet: inst.Cfg.Id, Node: node, PublicKey: pub}, m.Data)
	if err != nil {
		p.log.Info("rejected peering request", "subnet", inst.Cfg.Id, "node", node, "error", err)
		return &protocol.PeeringResponse{Accepted: false}, nil
	}
	entry := s.NodeTable.Get(state.MakeNodeTableKey(inst.Cfg.Id, node))
	if err := p.addPeer(s, inst, entry, peerState); err != nil {
		return nil, err
	}
	self := s.NodeTable.Get(state.MakeNodeTableKey(inst.Cfg.Id, s.Id))
	return &protocol.PeeringResponse{
		Accepted:  true,
		Data:      data,
		LinkState: self.LinkState.Update,
	}, nil
}

// addPeer records a completed handshake and announces the new neighbour
func (p *PeerProtocol) addPeer(s *state.State, inst *SubnetInstance, entry *state.NodeTableEntry, data []byte) error {
	if err := Get[*Subnets](s).CreatePeerAccounts(s, inst, entry.Key); err != nil {
		return err
	}
	wasPeer := entry.IsPeer()
	s.NodeTable.SetPeerState(entry, &state.PeerState{
		Data:  data,
		Since: time.Now(),
	})
	if !wasPeer {
		p.log.Info("peered", "subnet", entry.Subnet, "node", entry.Node)
		p.UpdateOwnLinkState(s, entry.Subnet)
	}
	return nil
}
