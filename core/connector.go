package core

import (
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/encodeous/weft/perf"
	"github.com/encodeous/weft/protocol"
	"github.com/encodeous/weft/state"
)

// ReceiverEndpoint is the name of the local endpoint that fulfills packets carrying their own fulfillment
const ReceiverEndpoint = "receiver"

type outstandingPacket struct {
	source      state.PacketEndpoint
	sourceId    uint64
	destination state.PacketEndpoint
	prepare     *protocol.Prepare
}

// Connector forwards interledger packets between endpoints, reserving the amount on both sides until the result
// comes back.
type Connector struct {
	log           *slog.Logger
	nextRequestId uint64
	outstanding   map[uint64]*outstandingPacket
	endpoints     []string
}

func (c *Connector) Init(s *state.State) error {
	c.log = s.Log.With("module", "connector")
	c.outstanding = make(map[uint64]*outstandingPacket)

	subnets := Get[*Subnets](s)
	for _, id := range s.SubnetIds() {
		inst, _ := subnets.Get(id)
		receiver := NewLocalEndpoint(id, inst.Scheme.LedgerId(), ReceiverEndpoint)
		receiver.OnPrepare = fulfillWithData
		c.RegisterEndpoint(s, receiver)
	}

	s.Env.RepeatTask(c.expirePackets, state.PacketExpiryCheckDelay)
	return nil
}

func (c *Connector) Cleanup(s *state.State) error {
	for _, addr := range c.endpoints {
		s.RoutingTable.Delete(addr)
	}
	c.endpoints = nil
	return nil
}

// EndpointAddress is the address a local endpoint is reachable at
func EndpointAddress(s *state.State, e *LocalEndpoint) string {
	return state.NodeAddress(s.AllocationScheme, e.Subnet(), s.Id) + "." + e.Name()
}

// RegisterEndpoint installs a fixed route to a local endpoint
func (c *Connector) RegisterEndpoint(s *state.State, e *LocalEndpoint) string {
	addr := EndpointAddress(s, e)
	s.RoutingTable.Set(addr, &state.RoutingInfo{
		Type:        state.RouteFixed,
		Subnet:      e.Subnet(),
		Destination: e,
	})
	c.endpoints = append(c.endpoints, addr)
	c.log.Debug("registered endpoint", "address", addr)
	return addr
}

// UnregisterEndpoint removes the route to a local endpoint. Packets already sent to it are still answered.
func (c *Connector) UnregisterEndpoint(s *state.State, e *LocalEndpoint) {
	addr := EndpointAddress(s, e)
	s.RoutingTable.Delete(addr)
	c.endpoints = slices.DeleteFunc(c.endpoints, func(a string) bool {
		return a == addr
	})
}

func (c *Connector) address(s *state.State, subnet state.SubnetId) string {
	return state.NodeAddress(s.AllocationScheme, subnet, s.Id)
}

func (c *Connector) reject(s *state.State, subnet state.SubnetId, code string, message string) *protocol.Reject {
	perf.PacketsRejected.Add(1)
	return &protocol.Reject{
		Code:        code,
		TriggeredBy: c.address(s, subnet),
		Message:     message,
	}
}

// HandlePrepare forwards a prepare received from source. Only errors that leave the ledger inconsistent are returned,
// everything else is answered with a reject.
func (c *Connector) HandlePrepare(s *state.State, source state.PacketEndpoint, requestId uint64, p *protocol.Prepare) error {
	c.log.Debug("prepare", "from", source.Account(), "id", requestId, "destination", p.Destination, "amount", p.Amount.Dec())
	if !p.ExpiresAt.After(time.Now()) {
		c.sendResult(s, source, requestId, c.reject(s, source.Subnet(), protocol.CodeTransferTimedOut, "packet expired"))
		return nil
	}

	incoming, err := ProcessPacketPrepare(s.Ledger, source.Account(), p, Incoming)
	if err != nil {
		if isFatal(err) {
			return err
		}
		c.log.Debug("incoming reservation failed", "from", source.Account(), "error", err)
		c.sendResult(s, source, requestId, c.reject(s, source.Subnet(), rejectCode(err), err.Error()))
		return nil
	}
	rejectIncoming := func(code, message string) error {
		if incoming != nil {
			if err := s.Ledger.VoidPendingTransfer(incoming); err != nil {
				return err
			}
		}
		c.sendResult(s, source, requestId, c.reject(s, source.Subnet(), code, message))
		return nil
	}

	_, route, ok := s.RoutingTable.Lookup(p.Destination)
	if !ok {
		return rejectIncoming(protocol.CodeUnreachable, "no route to destination")
	}
	dest, err := route.Destination.Endpoint(s)
	if err != nil {
		return rejectIncoming(protocol.CodeUnreachable, err.Error())
	}
	if dest.Account() == source.Account() {
		return rejectIncoming(protocol.CodeUnreachable, "route leads back to the source")
	}

	if _, err := ProcessPacketPrepare(s.Ledger, dest.Account(), p, Outgoing); err != nil {
		if isFatal(err) {
			return err
		}
		c.log.Debug("outgoing reservation failed", "to", dest.Account(), "error", err)
		return rejectIncoming(rejectCode(err), err.Error())
	}

	c.nextRequestId++
	id := c.nextRequestId
	c.outstanding[id] = &outstandingPacket{
		source:      source,
		sourceId:    requestId,
		destination: dest,
		prepare:     p,
	}
	perf.PacketsForwarded.Add(1)
	samplePending(s)
	if err := dest.SendPrepare(s, id, p); err != nil {
		if isFatal(err) {
			return err
		}
		return c.HandleSendFailure(s, id, err)
	}
	return nil
}

func (c *Connector) sendResult(s *state.State, to state.PacketEndpoint, requestId uint64, result protocol.Packet) {
	if err := to.SendResult(s, requestId, result); err != nil {
		c.log.Debug("failed to send result", "to", to.Account(), "id", requestId, "error", err)
	}
}

// HandleResult resolves the outstanding packet requestId with a result returned by from
func (c *Connector) HandleResult(s *state.State, from state.PacketEndpoint, requestId uint64, result protocol.Packet) error {
	op, ok := c.outstanding[requestId]
	if !ok {
		c.log.Debug("result for unknown packet", "from", from.Account(), "id", requestId)
		return nil
	}
	if op.destination.Account() != from.Account() {
		c.log.Warn("result from wrong endpoint", "from", from.Account(), "expected", op.destination.Account(), "id", requestId)
		return nil
	}
	return c.resolve(s, requestId, result)
}

// HandleSendFailure rejects a packet that could not be delivered to its destination
func (c *Connector) HandleSendFailure(s *state.State, requestId uint64, err error) error {
	op, ok := c.outstanding[requestId]
	if !ok {
		return nil
	}
	c.log.Debug("failed to send prepare", "to", op.destination.Account(), "error", err)
	return c.resolve(s, requestId, c.reject(s, op.source.Subnet(), protocol.CodeUnreachable, "next hop is unreachable"))
}

func (c *Connector) resolve(s *state.State, requestId uint64, result protocol.Packet) error {
	op := c.outstanding[requestId]
	delete(c.outstanding, requestId)

	if f, ok := result.(*protocol.Fulfill); ok && !f.Matches(op.prepare.ExecutionCondition) {
		c.log.Warn("fulfillment does not match condition", "from", op.destination.Account(), "id", requestId)
		result = c.reject(s, op.source.Subnet(), protocol.CodeWrongCondition, "fulfillment does not match condition")
	}

	for _, side := range []state.PacketEndpoint{op.destination, op.source} {
		err := ProcessPacketResult(s.Ledger, side.Account(), op.prepare, result)
		var notFound *state.PendingTransferNotFoundError
		if errors.As(err, &notFound) {
			c.log.Warn("pending transfer not found", "key", notFound.Key)
		} else if err != nil {
			return err
		}
	}
	samplePending(s)
	c.sendResult(s, op.source, op.sourceId, result)
	return nil
}

func samplePending(s *state.State) {
	perf.PendingTransfers.Add(float64(len(s.Ledger.PendingTransfers())))
}

// expirePackets rejects outstanding packets whose destination did not answer in time
func (c *Connector) expirePackets(s *state.State) error {
	now := time.Now()
	expired := make([]uint64, 0)
	for id, op := range c.outstanding {
		if !op.prepare.ExpiresAt.After(now) {
			expired = append(expired, id)
		}
	}
	slices.Sort(expired)
	for _, id := range expired {
		op := c.outstanding[id]
		if err := c.resolve(s, id, c.reject(s, op.source.Subnet(), protocol.CodeTransferTimedOut, "packet expired")); err != nil {
			return err
		}
	}
	return nil
}

// Outstanding returns the number of packets waiting for a result
func (c *Connector) Outstanding() int {
	return len(c.outstanding)
}
