package protocol

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeCarriesMessage(t *testing.T) {
	msg := &InterledgerPacket{RequestId: 42, Packet: []byte{12, 1, 2}}
	e := &Envelope{
		Version:   0,
		Sender:    "a",
		Subnet:    "stub",
		Signature: []byte("sig"),
		Content:   msg,
	}
	out, err := UnmarshalEnvelope(MarshalEnvelope(e))
	require.NoError(t, err)
	assert.Equal(t, "a", out.Sender)
	assert.Equal(t, "stub", out.Subnet)
	assert.Equal(t, []byte("sig"), out.Signature)
	assert.Equal(t, MarshalMessage(msg), out.ContentBytes)
	if diff := cmp.Diff(Message(msg), out.Content); diff != "" {
		t.Errorf("content mismatch (-want +got):\n%s", diff)
	}
}

func TestEnvelopeSignedBytesCoverHeader(t *testing.T) {
	base := Envelope{Sender: "a", Subnet: "main", Timestamp: 1000, Content: &NodeListRequest{}}
	out, err := UnmarshalEnvelope(MarshalEnvelope(&base))
	require.NoError(t, err)
	assert.Equal(t, int64(1000), out.Timestamp)
	assert.Equal(t, base.SignedBytes(), out.SignedBytes())

	for name, change := range map[string]func(e *Envelope){
		"version":   func(e *Envelope) { e.Version = 1 },
		"sender":    func(e *Envelope) { e.Sender = "b" },
		"subnet":    func(e *Envelope) { e.Subnet = "alt" },
		"timestamp": func(e *Envelope) { e.Timestamp = 1001 },
		"content":   func(e *Envelope) { e.Content = &NodeListHashRequest{} },
	} {
		e := base
		change(&e)
		assert.NotEqual(t, base.SignedBytes(), e.SignedBytes(), name)
	}
}

func TestEnvelopeKeepsSignedBytes(t *testing.T) {
	content := MarshalMessage(&LinkStateRequest{Node: "c"})
	e := &Envelope{Sender: "a", Subnet: "stub", ContentBytes: content, Content: &NodeListRequest{}}
	out, err := UnmarshalEnvelope(MarshalEnvelope(e))
	require.NoError(t, err)
	// ContentBytes wins over Content, so the signature always covers what is sent
	assert.Equal(t, content, out.ContentBytes)
	assert.Equal(t, &LinkStateRequest{Node: "c"}, out.Content)
}

func TestEnvelopeRequiresSender(t *testing.T) {
	_, err := UnmarshalEnvelope(MarshalEnvelope(&Envelope{Subnet: "stub", Content: &NodeListRequest{}}))
	assert.ErrorIs(t, err, ErrMalformed)
	_, err = UnmarshalEnvelope(MarshalEnvelope(&Envelope{Sender: "a", Content: &NodeListRequest{}}))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestMessages(t *testing.T) {
	settlement := &SettlementMessage{Proof: []byte("proof")}
	settlement.Amount.SetUint64(1234)

	msgs := []Message{
		&PeeringRequest{LinkState: []byte("ls"), Data: []byte("data")},
		&PeeringResponse{Accepted: true, Data: []byte("d"), LinkState: []byte("ls")},
		&LinkStateUpdate{Bytes: []byte("update")},
		&LinkStateRequest{Node: "node"},
		&NodeListHashResponse{Hash: []byte{1, 2, 3}},
		&NodeListResponse{LinkStates: [][]byte{[]byte("a"), []byte("b")}},
		settlement,
	}
	for _, m := range msgs {
		out, err := UnmarshalMessage(MarshalMessage(m))
		require.NoError(t, err, m.Type().String())
		if diff := cmp.Diff(m, out, cmp.Comparer(func(a, b uint256.Int) bool { return a.Eq(&b) })); diff != "" {
			t.Errorf("%s mismatch (-want +got):\n%s", m.Type(), diff)
		}
	}
}

func TestUnknownMessageType(t *testing.T) {
	_, err := UnmarshalMessage([]byte{200})
	assert.ErrorIs(t, err, ErrMalformed)
	_, err = UnmarshalMessage(nil)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestUnknownFieldsAreSkipped(t *testing.T) {
	b := MarshalMessage(&LinkStateRequest{Node: "node"})
	b = appendVarint(b, 15, 7)
	b = appendString(b, 16, "future")
	out, err := UnmarshalMessage(b)
	require.NoError(t, err)
	assert.Equal(t, &LinkStateRequest{Node: "node"}, out)
}

func TestAnonymousAllowList(t *testing.T) {
	assert.True(t, IsAnonymousAllowed(TypePeeringRequest))
	assert.True(t, IsAnonymousAllowed(TypeNodeListHashRequest))
	assert.False(t, IsAnonymousAllowed(TypeInterledgerPacket))
	assert.False(t, IsAnonymousAllowed(TypeLinkStateUpdate))
	assert.False(t, IsAnonymousAllowed(TypeSettlementMessage))
}

func TestLinkStateRecord(t *testing.T) {
	rec := &LinkStateRecord{
		Subnet:     "stub",
		Node:       "a",
		Sequence:   1 << 40,
		PublicKey:  []byte("0123456789abcdef0123456789abcdef"),
		Neighbours: []string{"b", "c"},
		Url:        "http://a:8443",
	}
	signed := MarshalSignedLinkState(&SignedLinkState{Record: MarshalLinkStateRecord(rec), Signature: []byte("sig")})
	s, err := UnmarshalSignedLinkState(signed)
	require.NoError(t, err)
	out, err := UnmarshalLinkStateRecord(s.Record)
	require.NoError(t, err)
	assert.Equal(t, rec, out)

	_, err = UnmarshalLinkStateRecord(MarshalLinkStateRecord(&LinkStateRecord{Node: "a"}))
	assert.ErrorIs(t, err, ErrMalformed)
}
