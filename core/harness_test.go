package core

import (
	"context"
	"crypto/sha256"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/encodeous/weft/mock"
	"github.com/encodeous/weft/protocol"
	"github.com/encodeous/weft/state"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

type sentMessage struct {
	url string
	env *protocol.Envelope
}

// fakeTransport records every envelope a node sends and answers with an empty response, or fails if fail is set
type fakeTransport struct {
	mu   sync.Mutex
	sent []sentMessage
	fail error
}

func (f *fakeTransport) Send(ctx context.Context, url string, data []byte) ([]byte, error) {
	env, err := protocol.UnmarshalEnvelope(data)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{url, env})
	return nil, f.fail
}

func (f *fakeTransport) Listen(func(ctx context.Context, data []byte) ([]byte, error)) error {
	return nil
}

func (f *fakeTransport) Close() error {
	return nil
}

func (f *fakeTransport) setFail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = err
}

// packets returns the interledger packets sent to url, keyed by request id
func (f *fakeTransport) packets(url string) map[uint64]protocol.Packet {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[uint64]protocol.Packet)
	for _, m := range f.sent {
		ilp, ok := m.env.Content.(*protocol.InterledgerPacket)
		if !ok || m.url != url {
			continue
		}
		p, err := protocol.ParsePacket(ilp.Packet)
		if err == nil {
			out[ilp.RequestId] = p
		}
	}
	return out
}

func (f *fakeTransport) messages(t protocol.MessageType) []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.DeleteFunc(slices.Clone(f.sent), func(m sentMessage) bool {
		return m.env.Content.Type() != t
	})
}

// testNode is a node whose main loop is driven by the test goroutine
type testNode struct {
	*state.State
	dispatch chan func(*state.State) error
	tr       *fakeTransport
}

func defaultSubnet() state.SubnetCfg {
	return state.SubnetCfg{Id: "main", Module: state.StubModule}
}

func newTestNode(t *testing.T, id state.NodeId, subnets ...state.SubnetCfg) *testNode {
	t.Helper()
	if len(subnets) == 0 {
		subnets = []state.SubnetCfg{defaultSubnet()}
	}
	ctx, cancel := context.WithCancelCause(context.Background())
	dispatch := make(chan func(*state.State) error, 1024)
	tr := &fakeTransport{}
	env := &state.Env{
		Context:         ctx,
		Cancel:          cancel,
		DispatchChannel: dispatch,
		NodeCfg: state.NodeCfg{
			Id:               id,
			Key:              state.GenerateKey(),
			Realm:            state.RealmTest,
			AllocationScheme: "test",
			Url:              mock.Url(id),
			Subnets:          subnets,
		},
		Log:       slog.New(slog.DiscardHandler),
		Transport: tr,
	}
	s := state.NewState(env)
	require.NoError(t, initModules(s))
	t.Cleanup(func() {
		Stop(s)
	})
	return &testNode{State: s, dispatch: dispatch, tr: tr}
}

// pump runs dispatched functions until done returns true
func (n *testNode) pump(t *testing.T, done func() bool) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for !done() {
		select {
		case fn := <-n.dispatch:
			require.NoError(t, fn(n.State))
		case <-deadline:
			t.Fatal("timed out waiting for dispatched work")
		}
	}
}

func (n *testNode) subnet(t *testing.T, id state.SubnetId) *SubnetInstance {
	t.Helper()
	inst, ok := Get[*Subnets](n.State).Get(id)
	require.True(t, ok)
	return inst
}

// addRemote stores the link state of a node that only exists as a key
func (n *testNode) addRemote(t *testing.T, node state.NodeId, key state.NodePrivateKey, neighbours ...string) *state.NodeTableEntry {
	t.Helper()
	_, e, err := HandleLinkStateUpdate(n.NodeTable, n.Id, signedLinkState(key, string(node), 1, neighbours...), time.Now())
	require.NoError(t, err)
	return e
}

// addRemotePeer makes node a peer as if the stub handshake with it had completed
func (n *testNode) addRemotePeer(t *testing.T, node state.NodeId, key state.NodePrivateKey, neighbours ...string) *state.NodeTableEntry {
	t.Helper()
	e := n.addRemote(t, node, key, neighbours...)
	pub := key.Pubkey()
	require.NoError(t, Get[*PeerProtocol](n.State).addPeer(n.State, n.subnet(t, "main"), e, pub[:]))
	return e
}

func (n *testNode) peerSource(node state.NodeId) *peerEndpoint {
	return &peerEndpoint{subnet: "main", node: node, ledger: "stub"}
}

func (n *testNode) account(t *testing.T, path state.AccountPath) *state.LedgerAccount {
	t.Helper()
	acc, ok := n.Ledger.GetAccount(path)
	require.True(t, ok, "account %s does not exist", path)
	return &acc
}

// envelope builds an envelope as sent by node with key
func envelope(key state.NodePrivateKey, node state.NodeId, subnet state.SubnetId, msg protocol.Message) *protocol.Envelope {
	env := &protocol.Envelope{
		Version:      state.MessageVersion,
		Sender:       string(node),
		Subnet:       string(subnet),
		Timestamp:    time.Now().UnixNano(),
		Content:      msg,
		ContentBytes: protocol.MarshalMessage(msg),
	}
	env.Signature = key.Sign(env.SignedBytes())
	return env
}

func testPrepare(destination string, amount uint64, preimage byte) *protocol.Prepare {
	data := make([]byte, 32)
	data[0] = preimage
	return &protocol.Prepare{
		Amount:             *uint256.NewInt(amount),
		ExpiresAt:          time.Now().Add(time.Minute),
		ExecutionCondition: sha256.Sum256(data),
		Destination:        destination,
		Data:               data,
	}
}

func testFulfill(preimage byte) *protocol.Fulfill {
	f := &protocol.Fulfill{}
	f.Fulfillment[0] = preimage
	return f
}
