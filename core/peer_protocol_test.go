package core

import (
	"testing"
	"time"

	"github.com/encodeous/weft/protocol"
	"github.com/encodeous/weft/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthenticate(t *testing.T) {
	n := newTestNode(t, "a")
	bKey := state.GenerateKey()
	msg := &protocol.LinkStateRequest{Node: "c"}

	// known but not peered
	n.addRemote(t, "b", bKey, "a")
	assert.False(t, Authenticate(n.State, envelope(bKey, "b", "main", msg)))

	n.addRemotePeer(t, "b", bKey, "a")
	assert.True(t, Authenticate(n.State, envelope(bKey, "b", "main", msg)))
	assert.False(t, Authenticate(n.State, envelope(state.GenerateKey(), "b", "main", msg)))
	assert.False(t, Authenticate(n.State, envelope(bKey, "b", "other", msg)))
}

func TestAuthenticateBindsEnvelopeFields(t *testing.T) {
	n := newTestNode(t, "a", defaultSubnet(), state.SubnetCfg{Id: "alt", Module: state.StubModule})
	bKey := state.GenerateKey()
	n.addRemotePeer(t, "b", bKey, "a")
	alt := n.NodeTable.Ensure("alt", "b", bKey.Pubkey())
	n.NodeTable.SetPeerState(alt, &state.PeerState{Since: time.Now()})

	msg := &protocol.InterledgerPacket{RequestId: 7, Packet: []byte{1}}
	env := envelope(bKey, "b", "main", msg)
	require.True(t, Authenticate(n.State, env))

	// b is a peer in both subnets, but the signature only covers main
	moved := *env
	moved.Subnet = "alt"
	assert.False(t, Authenticate(n.State, &moved))

	delayed := *env
	delayed.Timestamp += int64(time.Second)
	assert.False(t, Authenticate(n.State, &delayed))

	assert.True(t, Authenticate(n.State, envelope(bKey, "b", "alt", msg)))
}

func TestHandleEnvelopeRejectsStale(t *testing.T) {
	n := newTestNode(t, "a")
	p := Get[*PeerProtocol](n.State)
	key := state.GenerateKey()

	for _, offset := range []time.Duration{-2 * state.EnvelopeMaxAge, 2 * state.EnvelopeMaxAge} {
		env := envelope(key, "x", "main", &protocol.PeeringInfoRequest{})
		env.Timestamp = time.Now().Add(offset).UnixNano()
		env.Signature = key.Sign(env.SignedBytes())
		_, err := p.HandleEnvelope(n.State, env)
		assert.ErrorIs(t, err, ErrStaleEnvelope, "offset %s", offset)
	}
}

func TestHandleEnvelopeRejectsUnauthenticated(t *testing.T) {
	n := newTestNode(t, "a")
	p := Get[*PeerProtocol](n.State)
	key := state.GenerateKey()

	for _, msg := range []protocol.Message{
		&protocol.InterledgerPacket{RequestId: 1},
		&protocol.LinkStateUpdate{Bytes: signedLinkState(key, "x", 1)},
		&protocol.SettlementMessage{},
	} {
		_, err := p.HandleEnvelope(n.State, envelope(key, "x", "main", msg))
		assert.ErrorIs(t, err, state.ErrUnauthorized, "%s", msg.Type())
	}
	assert.Nil(t, n.NodeTable.Get("main.x"))

	resp, err := p.HandleEnvelope(n.State, envelope(key, "x", "main", &protocol.PeeringInfoRequest{}))
	require.NoError(t, err)
	pub := n.Key.Pubkey()
	assert.Equal(t, &protocol.PeeringInfoResponse{Data: pub[:]}, resp)

	_, err = p.HandleEnvelope(n.State, envelope(key, "x", "elsewhere", &protocol.PeeringInfoRequest{}))
	assert.Error(t, err)

	_, err = p.HandleEnvelope(n.State, envelope(key, "x", "main", &protocol.PeeringResponse{}))
	assert.Error(t, err)
}

func TestHandleLinkStateMessages(t *testing.T) {
	n := newTestNode(t, "a")
	p := Get[*PeerProtocol](n.State)
	bKey, cKey := state.GenerateKey(), state.GenerateKey()
	n.addRemotePeer(t, "b", bKey, "a", "c")

	update := signedLinkState(cKey, "c", 1, "b")
	resp, err := p.HandleEnvelope(n.State, envelope(bKey, "b", "main", &protocol.LinkStateUpdate{Bytes: update}))
	require.NoError(t, err)
	assert.Nil(t, resp)
	require.NotNil(t, n.NodeTable.Get("main.c"))

	resp, err = p.HandleEnvelope(n.State, envelope(state.GenerateKey(), "x", "main", &protocol.LinkStateRequest{Node: "c"}))
	require.NoError(t, err)
	assert.Equal(t, &protocol.LinkStateResponse{Bytes: update}, resp)

	resp, err = p.HandleEnvelope(n.State, envelope(state.GenerateKey(), "x", "main", &protocol.LinkStateRequest{Node: "nobody"}))
	require.NoError(t, err)
	assert.Equal(t, &protocol.LinkStateResponse{}, resp)

	_, ok := n.RoutingTable.Get(state.NodeAddress("test", "main", "c"))
	assert.True(t, ok)
}

func TestNodeListHash(t *testing.T) {
	keys := map[state.NodeId]state.NodePrivateKey{"b": state.GenerateKey(), "c": state.GenerateKey()}
	build := func(nodes ...state.NodeId) *state.NodeTable {
		table := state.NewNodeTable()
		for _, node := range nodes {
			_, _, err := HandleLinkStateUpdate(table, "a", signedLinkState(keys[node], string(node), 1), time.Now())
			require.NoError(t, err)
		}
		return table
	}
	one, two := build("b", "c"), build("c", "b")
	assert.Equal(t, NodeListHash(one, "main"), NodeListHash(two, "main"))
	assert.NotEqual(t, NodeListHash(build("b"), "main"), NodeListHash(one, "main"))
	assert.Len(t, NodeListHash(one, "main"), 32)

	// nodes without a link state are not listed
	one.Ensure("main", "d", state.NodePublicKey{})
	assert.Equal(t, NodeListHash(two, "main"), NodeListHash(one, "main"))
	assert.Len(t, NodeList(one, "main"), 2)
	assert.Empty(t, NodeList(one, "other"))
}

func TestNodeListMessages(t *testing.T) {
	n := newTestNode(t, "a")
	p := Get[*PeerProtocol](n.State)
	n.addRemote(t, "c", state.GenerateKey(), "a")

	resp, err := p.HandleEnvelope(n.State, envelope(state.GenerateKey(), "x", "main", &protocol.NodeListHashRequest{}))
	require.NoError(t, err)
	assert.Equal(t, &protocol.NodeListHashResponse{Hash: NodeListHash(n.NodeTable, "main")}, resp)

	resp, err = p.HandleEnvelope(n.State, envelope(state.GenerateKey(), "x", "main", &protocol.NodeListRequest{}))
	require.NoError(t, err)
	list, ok := resp.(*protocol.NodeListResponse)
	require.True(t, ok)
	assert.Len(t, list.LinkStates, 2, "our own link state and c's")
}

func TestHandlePeeringRequest(t *testing.T) {
	n := newTestNode(t, "a")
	p := Get[*PeerProtocol](n.State)
	xKey := state.GenerateKey()
	xPub := xKey.Pubkey()

	req := &protocol.PeeringRequest{LinkState: signedLinkState(xKey, "x", 1), Data: xPub[:]}
	resp, err := p.HandleEnvelope(n.State, envelope(xKey, "x", "main", req))
	require.NoError(t, err)
	pr, ok := resp.(*protocol.PeeringResponse)
	require.True(t, ok)
	assert.True(t, pr.Accepted)
	aPub := n.Key.Pubkey()
	assert.Equal(t, aPub[:], pr.Data)

	rec, _, err := VerifyLinkState(pr.LinkState)
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, rec.Neighbours)

	e := n.NodeTable.Get("main.x")
	require.True(t, e.IsPeer())
	assert.Equal(t, xPub[:], e.PeerState.Data)
	_, ok = n.Ledger.GetAccount(state.PeerInterledgerAccount("stub", "main.x"))
	assert.True(t, ok)
	_, ok = n.Ledger.GetAccount(state.PeerSettlementAccount("stub", "main.x"))
	assert.True(t, ok)

	// the new neighbour is announced to every peer
	require.Eventually(t, func() bool {
		return len(n.tr.messages(protocol.TypeLinkStateUpdate)) != 0
	}, time.Second, 10*time.Millisecond)
}

func TestHandlePeeringRequestRejects(t *testing.T) {
	n := newTestNode(t, "a")
	p := Get[*PeerProtocol](n.State)
	xKey := state.GenerateKey()
	xPub := xKey.Pubkey()

	// the stub scheme wants the requester's key as data
	resp, err := p.HandleEnvelope(n.State, envelope(xKey, "x", "main", &protocol.PeeringRequest{
		LinkState: signedLinkState(xKey, "x", 1),
		Data:      []byte("hello"),
	}))
	require.NoError(t, err)
	assert.Equal(t, &protocol.PeeringResponse{Accepted: false}, resp)
	assert.False(t, n.NodeTable.Get("main.x").IsPeer())

	// link state of another node
	_, err = p.HandleEnvelope(n.State, envelope(xKey, "x", "main", &protocol.PeeringRequest{
		LinkState: signedLinkState(xKey, "y", 1),
		Data:      xPub[:],
	}))
	assert.ErrorIs(t, err, ErrLinkStateKeyMismatch)

	// envelope not signed by the link state's key
	_, err = p.HandleEnvelope(n.State, envelope(state.GenerateKey(), "x", "main", &protocol.PeeringRequest{
		LinkState: signedLinkState(xKey, "x", 2),
		Data:      xPub[:],
	}))
	assert.ErrorIs(t, err, state.ErrUnauthorized)
}

func TestOwnLinkStateSequenceIncreases(t *testing.T) {
	n := newTestNode(t, "a")
	self := n.NodeTable.Get("main.a")
	require.NotNil(t, self.LinkState)
	before := self.LinkState.Sequence

	Get[*PeerProtocol](n.State).UpdateOwnLinkState(n.State, "main")
	assert.Greater(t, self.LinkState.Sequence, before)
	assert.Equal(t, "mem://a", self.Url)
	assert.Equal(t, state.Never, self.ScheduledRetransmitTime)
}
