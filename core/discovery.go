package core

import (
	"bytes"
	"time"

	"github.com/encodeous/weft/perf"
	"github.com/encodeous/weft/protocol"
	"github.com/encodeous/weft/state"
	"golang.org/x/sync/errgroup"
)

// linkStateSender forwards link state updates through the peer protocol
type linkStateSender struct {
	p *PeerProtocol
	s *state.State
}

func (l *linkStateSender) SendLinkStateUpdate(to *state.NodeTableEntry, update []byte) {
	l.p.SendAsync(l.s, to, &protocol.LinkStateUpdate{Bytes: update}, nil)
}

func (p *PeerProtocol) forwardLinkStates(s *state.State) error {
	n := ForwardLinkStateUpdates(s.NodeTable, time.Now(), &linkStateSender{p, s})
	if n != 0 {
		perf.LinkStateRetransmits.Add(float64(n))
	}
	return nil
}

// ingestLinkState applies a signed link state update received from anywhere
func (p *PeerProtocol) ingestLinkState(s *state.State, raw []byte) {
	verdict, entry, err := HandleLinkStateUpdate(s.NodeTable, s.Id, raw, time.Now())
	if err != nil {
		p.log.Debug("dropped link state update", "error", err)
		return
	}
	perf.LinkStateUpdates.Add(1)
	if verdict == LinkStateFresh && state.DBG_log_link_state {
		p.log.Info("link state", "node", entry.Key, "sequence", entry.LinkState.Sequence, "neighbours", entry.LinkState.Neighbours)
	} else if verdict == LinkStateFresh {
		p.log.Debug("link state updated", "node", entry.Key, "sequence", entry.LinkState.Sequence)
	}
}

// drainDiscovery asks about every queued node through the node that mentioned it
func (p *PeerProtocol) drainDiscovery(s *state.State) error {
	for _, item := range s.DiscoveryQueue.Drain() {
		subnet, node := item.V1.Split()
		via := s.NodeTable.Get(state.MakeNodeTableKey(subnet, item.V2))
		if via == nil || via.Url == "" {
			p.log.Debug("cannot discover node, no url for the node that mentioned it", "node", item.V1, "via", item.V2)
			continue
		}
		go p.discover(subnet, node, targetOf(via))
	}
	return nil
}

func (p *PeerProtocol) discover(subnet state.SubnetId, node state.NodeId, via peerTarget) {
	resp, err := p.Send(p.env.Context, via, subnet, &protocol.LinkStateRequest{Node: string(node)})
	if err != nil {
		p.log.Debug("link state request failed", "node", node, "via", via.node, "error", err)
		return
	}
	lsr, ok := resp.(*protocol.LinkStateResponse)
	if !ok || len(lsr.Bytes) == 0 {
		return
	}
	p.env.Dispatch(func(s *state.State) error {
		p.ingestLinkState(s, lsr.Bytes)
		return nil
	})
}

type nodeListPoll struct {
	subnet state.SubnetId
	target peerTarget
	local  []byte
	remote []byte
}

// pollNodeLists compares our node list of each subnet against the bootstrap nodes and downloads theirs on mismatch
func (p *PeerProtocol) pollNodeLists(s *state.State) error {
	if p.polling.Swap(true) {
		return nil
	}
	polls := make([]*nodeListPoll, 0)
	for _, id := range s.SubnetIds() {
		local := NodeListHash(s.NodeTable, id)
		for _, b := range s.BootstrapNodes {
			if b.Id == s.Id {
				continue
			}
			polls = append(polls, &nodeListPoll{
				subnet: id,
				target: peerTarget{node: b.Id, url: b.Url, key: b.PubKey},
				local:  local,
			})
		}
	}
	go func() {
		defer p.polling.Store(false)
		p.runNodeListPolls(polls)
	}()
	return nil
}

func (p *PeerProtocol) runNodeListPolls(polls []*nodeListPoll) {
	ctx := p.env.Context
	g := new(errgroup.Group)
	g.SetLimit(state.NodeListPollingConcurrency)
	for _, poll := range polls {
		g.Go(func() error {
			resp, err := p.Send(ctx, poll.target, poll.subnet, &protocol.NodeListHashRequest{})
			if err != nil {
				p.log.Debug("node list hash request failed", "node", poll.target.node, "error", err)
				return nil
			}
			if h, ok := resp.(*protocol.NodeListHashResponse); ok {
				poll.remote = h.Hash
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, poll := range polls {
		if poll.remote == nil || bytes.Equal(poll.remote, poll.local) {
			continue
		}
		resp, err := p.Send(ctx, poll.target, poll.subnet, &protocol.NodeListRequest{})
		if err != nil {
			p.log.Debug("node list request failed", "node", poll.target.node, "error", err)
			continue
		}
		list, ok := resp.(*protocol.NodeListResponse)
		if !ok {
			continue
		}
		p.env.Dispatch(func(s *state.State) error {
			for _, ls := range list.LinkStates {
				p.ingestLinkState(s, ls)
			}
			return nil
		})
	}
}
