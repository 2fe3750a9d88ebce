package core

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/encodeous/weft/protocol"
	"github.com/encodeous/weft/state"
)

var (
	ErrBadLinkStateSignature = errors.New("link state signature is invalid")
	ErrLinkStateKeyMismatch  = errors.New("link state key does not match the known key of the node")
)

type LinkStateVerdict int

const (
	LinkStateFresh LinkStateVerdict = iota
	LinkStateDuplicate
	LinkStateStale
)

func (v LinkStateVerdict) String() string {
	switch v {
	case LinkStateFresh:
		return "fresh"
	case LinkStateDuplicate:
		return "duplicate"
	case LinkStateStale:
		return "stale"
	}
	return fmt.Sprintf("LinkStateVerdict(%d)", int(v))
}

// LinkStateIO is the side effect surface of link state forwarding
type LinkStateIO interface {
	SendLinkStateUpdate(to *state.NodeTableEntry, update []byte)
}

// VerifyLinkState decodes a signed link state and checks that it was signed by the key it carries.
func VerifyLinkState(raw []byte) (*protocol.LinkStateRecord, state.NodePublicKey, error) {
	signed, err := protocol.UnmarshalSignedLinkState(raw)
	if err != nil {
		return nil, state.NodePublicKey{}, err
	}
	rec, err := protocol.UnmarshalLinkStateRecord(signed.Record)
	if err != nil {
		return nil, state.NodePublicKey{}, err
	}
	pub, err := state.PublicKeyFromBytes(rec.PublicKey)
	if err != nil {
		return nil, state.NodePublicKey{}, fmt.Errorf("%w: %w", protocol.ErrMalformed, err)
	}
	if !pub.Verify(signed.Record, signed.Signature) {
		return nil, state.NodePublicKey{}, ErrBadLinkStateSignature
	}
	return rec, pub, nil
}

// SignLinkState encodes and signs a link state record
func SignLinkState(key state.NodePrivateKey, rec *protocol.LinkStateRecord) []byte {
	record := protocol.MarshalLinkStateRecord(rec)
	return protocol.MarshalSignedLinkState(&protocol.SignedLinkState{
		Record:    record,
		Signature: key.Sign(record),
	})
}

// HandleLinkStateUpdate stores a received link state if it is newer than what we have. Updates about self are ignored,
// since only we may change our own link state.
func HandleLinkStateUpdate(table *state.NodeTable, self state.NodeId, raw []byte, now time.Time) (LinkStateVerdict, *state.NodeTableEntry, error) {
	rec, pub, err := VerifyLinkState(raw)
	if err != nil {
		return LinkStateStale, nil, err
	}
	subnet, node := state.SubnetId(rec.Subnet), state.NodeId(rec.Node)
	key := state.MakeNodeTableKey(subnet, node)
	if e := table.Get(key); e != nil && !e.PublicKey.IsZero() && e.PublicKey != pub {
		return LinkStateStale, e, fmt.Errorf("%w: %s", ErrLinkStateKeyMismatch, key)
	}
	entry := table.Ensure(subnet, node, pub)
	if entry.PublicKey.IsZero() {
		entry.PublicKey = pub
	}
	if node == self {
		return LinkStateStale, entry, nil
	}

	if entry.LinkState != nil {
		if rec.Sequence < entry.LinkState.Sequence {
			return LinkStateStale, entry, nil
		}
		if rec.Sequence == entry.LinkState.Sequence {
			entry.UpdateReceivedCounter++
			return LinkStateDuplicate, entry, nil
		}
	}

	neighbours := make([]state.NodeId, 0, len(rec.Neighbours))
	for _, n := range rec.Neighbours {
		neighbours = append(neighbours, state.NodeId(n))
	}
	slices.Sort(neighbours)
	neighbours = slices.Compact(neighbours)

	if rec.Url != "" {
		entry.Url = rec.Url
	}
	entry.UpdateReceivedCounter = 0
	entry.ScheduledRetransmitTime = now.Add(retransmitJitter())
	table.SetLinkState(entry, &state.LinkState{
		Sequence:   rec.Sequence,
		Neighbours: neighbours,
		Update:     slices.Clone(raw),
		Received:   now,
	})
	return LinkStateFresh, entry, nil
}

func retransmitJitter() time.Duration {
	if state.LinkStateRetransmitJitter <= 0 {
		return 0
	}
	return rand.N(state.LinkStateRetransmitJitter)
}

// ForwardLinkStateUpdates sends every update whose retransmission is due to all of our peers except its originator.
// An update is forwarded at most once, and not at all if it has already been seen RetransmitThreshold times.
func ForwardLinkStateUpdates(table *state.NodeTable, now time.Time, io LinkStateIO) int {
	forwarded := 0
	for _, e := range table.All() {
		if e.LinkState == nil || e.UpdateReceivedCounter >= state.RetransmitThreshold {
			continue
		}
		if e.ScheduledRetransmitTime.After(now) {
			continue
		}
		e.ScheduledRetransmitTime = state.Never
		for _, peer := range table.Peers(e.Subnet) {
			if peer.Node == e.Node {
				continue
			}
			io.SendLinkStateUpdate(peer, e.LinkState.Update)
		}
		forwarded++
	}
	return forwarded
}
