package protocol

import (
	"crypto/sha256"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreparePreservesAmountAndExpiry(t *testing.T) {
	p := &Prepare{
		ExpiresAt:   time.UnixMilli(1_700_000_000_123),
		Destination: "test.weft.stub.b.receiver",
		Data:        []byte("hello"),
	}
	// larger than any uint64
	p.Amount.Lsh(uint256.NewInt(1), 200)
	p.ExecutionCondition = sha256.Sum256([]byte("secret"))

	b, err := SerializePacket(p)
	require.NoError(t, err)
	assert.Equal(t, byte(TypePrepare), b[0])

	out, err := ParsePacket(b)
	require.NoError(t, err)
	got, ok := out.(*Prepare)
	require.True(t, ok)
	assert.True(t, got.Amount.Eq(&p.Amount))
	assert.True(t, got.ExpiresAt.Equal(p.ExpiresAt))
	assert.Equal(t, p.ExecutionCondition, got.ExecutionCondition)
	assert.Equal(t, p.Destination, got.Destination)
	assert.Equal(t, p.Data, got.Data)
}

func TestResultPackets(t *testing.T) {
	preimage := sha256.Sum256([]byte("x"))
	packets := []Packet{
		&Fulfill{Fulfillment: preimage, Data: []byte{1, 2}},
		&Reject{Code: CodeUnreachable, TriggeredBy: "test.weft.stub.a", Message: "no route to destination"},
	}
	for _, p := range packets {
		b, err := SerializePacket(p)
		require.NoError(t, err)
		out, err := ParsePacket(b)
		require.NoError(t, err)
		if diff := cmp.Diff(p, out); diff != "" {
			t.Errorf("%s mismatch (-want +got):\n%s", p.Type(), diff)
		}
	}
}

func TestFulfillMatches(t *testing.T) {
	f := &Fulfill{}
	copy(f.Fulfillment[:], "0123456789abcdef0123456789abcdef")
	assert.True(t, f.Matches(sha256.Sum256(f.Fulfillment[:])))
	assert.False(t, f.Matches([32]byte{}))
}

func TestParseMalformedPackets(t *testing.T) {
	noDest, err := SerializePacket(&Prepare{ExpiresAt: time.UnixMilli(1)})
	require.NoError(t, err)
	shortCondition := append([]byte{byte(TypePrepare)}, appendBytes(nil, 3, []byte{1, 2, 3})...)

	cases := map[string][]byte{
		"empty":           nil,
		"unknown type":    {99},
		"no destination":  noDest,
		"short condition": shortCondition,
		"truncated field": {byte(TypeReject), 0x0a, 0x05, 'F'},
		"short fulfill":   append([]byte{byte(TypeFulfill)}, appendBytes(nil, 1, []byte{1})...),
	}
	for name, b := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParsePacket(b)
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}
