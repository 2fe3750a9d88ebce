package core

import (
	"testing"
	"time"

	"github.com/encodeous/weft/protocol"
	"github.com/encodeous/weft/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentUpdate struct {
	to     state.NodeId
	update []byte
}

type recordedSender struct {
	sent []sentUpdate
}

func (r *recordedSender) SendLinkStateUpdate(to *state.NodeTableEntry, update []byte) {
	r.sent = append(r.sent, sentUpdate{to.Node, update})
}

func signedLinkState(key state.NodePrivateKey, node string, seq uint64, neighbours ...string) []byte {
	pub := key.Pubkey()
	return SignLinkState(key, &protocol.LinkStateRecord{
		Subnet:     "main",
		Node:       node,
		Sequence:   seq,
		PublicKey:  pub[:],
		Neighbours: neighbours,
		Url:        "mem://" + node,
	})
}

func TestHandleLinkStateUpdateVerdicts(t *testing.T) {
	table := state.NewNodeTable()
	key := state.GenerateKey()
	now := time.Now()

	verdict, e, err := HandleLinkStateUpdate(table, "a", signedLinkState(key, "b", 5, "c", "a", "c"), now)
	require.NoError(t, err)
	assert.Equal(t, LinkStateFresh, verdict)
	assert.Equal(t, key.Pubkey(), e.PublicKey)
	assert.Equal(t, "mem://b", e.Url)
	assert.Equal(t, []state.NodeId{"a", "c"}, e.LinkState.Neighbours)
	assert.False(t, e.ScheduledRetransmitTime.After(now.Add(state.LinkStateRetransmitJitter)))

	verdict, _, err = HandleLinkStateUpdate(table, "a", signedLinkState(key, "b", 5, "c"), now)
	require.NoError(t, err)
	assert.Equal(t, LinkStateDuplicate, verdict)
	assert.Equal(t, 1, e.UpdateReceivedCounter)

	verdict, _, err = HandleLinkStateUpdate(table, "a", signedLinkState(key, "b", 4), now)
	require.NoError(t, err)
	assert.Equal(t, LinkStateStale, verdict)
	assert.Equal(t, uint64(5), e.LinkState.Sequence)

	verdict, _, err = HandleLinkStateUpdate(table, "a", signedLinkState(key, "b", 6), now)
	require.NoError(t, err)
	assert.Equal(t, LinkStateFresh, verdict)
	assert.Equal(t, 0, e.UpdateReceivedCounter)
	assert.Empty(t, e.LinkState.Neighbours)
}

func TestHandleLinkStateUpdateRejects(t *testing.T) {
	table := state.NewNodeTable()
	key := state.GenerateKey()
	table.Ensure("main", "b", key.Pubkey())

	_, _, err := HandleLinkStateUpdate(table, "a", signedLinkState(state.GenerateKey(), "b", 1), time.Now())
	assert.ErrorIs(t, err, ErrLinkStateKeyMismatch)

	raw := signedLinkState(key, "b", 1)
	signed, err := protocol.UnmarshalSignedLinkState(raw)
	require.NoError(t, err)
	signed.Signature[0] ^= 0xff
	_, _, err = HandleLinkStateUpdate(table, "a", protocol.MarshalSignedLinkState(signed), time.Now())
	assert.ErrorIs(t, err, ErrBadLinkStateSignature)

	_, _, err = HandleLinkStateUpdate(table, "a", []byte{0xff, 0xff}, time.Now())
	assert.Error(t, err)
	assert.Nil(t, table.Get("main.b").LinkState)
}

func TestHandleLinkStateUpdateIgnoresSelf(t *testing.T) {
	table := state.NewNodeTable()
	key := state.GenerateKey()
	verdict, e, err := HandleLinkStateUpdate(table, "a", signedLinkState(key, "a", 100, "b"), time.Now())
	require.NoError(t, err)
	assert.Equal(t, LinkStateStale, verdict)
	assert.Nil(t, e.LinkState)
}

func TestForwardLinkStateUpdates(t *testing.T) {
	table := state.NewNodeTable()
	now := time.Now()
	for _, n := range []state.NodeId{"b", "c", "d"} {
		table.SetPeerState(table.Ensure("main", n, state.NodePublicKey{}), &state.PeerState{Since: now})
	}
	update := signedLinkState(state.GenerateKey(), "b", 1, "a")
	_, e, err := HandleLinkStateUpdate(table, "a", update, now)
	require.NoError(t, err)

	sender := &recordedSender{}
	assert.Equal(t, 0, ForwardLinkStateUpdates(table, now.Add(-time.Second), sender))
	assert.Empty(t, sender.sent)

	later := now.Add(state.LinkStateRetransmitJitter + time.Millisecond)
	assert.Equal(t, 1, ForwardLinkStateUpdates(table, later, sender))
	assert.Equal(t, []sentUpdate{{"c", update}, {"d", update}}, sender.sent, "updates are not sent back to their origin")
	assert.Equal(t, state.Never, e.ScheduledRetransmitTime)

	// forwarded only once
	assert.Equal(t, 0, ForwardLinkStateUpdates(table, later, sender))
	assert.Len(t, sender.sent, 2)
}

func TestForwardSkipsWidelySeenUpdates(t *testing.T) {
	table := state.NewNodeTable()
	now := time.Now()
	table.SetPeerState(table.Ensure("main", "c", state.NodePublicKey{}), &state.PeerState{Since: now})
	update := signedLinkState(state.GenerateKey(), "b", 1)
	_, e, err := HandleLinkStateUpdate(table, "a", update, now)
	require.NoError(t, err)
	for i := 0; i < state.RetransmitThreshold; i++ {
		verdict, _, err := HandleLinkStateUpdate(table, "a", update, now)
		require.NoError(t, err)
		assert.Equal(t, LinkStateDuplicate, verdict)
	}
	assert.Equal(t, state.RetransmitThreshold, e.UpdateReceivedCounter)

	sender := &recordedSender{}
	assert.Equal(t, 0, ForwardLinkStateUpdates(table, now.Add(time.Hour), sender))
	assert.Empty(t, sender.sent)
}
