package settlement

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/encodeous/weft/state"
	"github.com/holiman/uint256"
)

const stubProofDomain = "weft-stub-settlement"

// stub settles without an external rail. Every settlement is a signed statement of the amount, numbered so it cannot
// be replayed. Numbering starts at the creation time, so a restarted node stays ahead of what its peers have seen.
type stub struct {
	key   state.NodePrivateKey
	nonce uint64
	// seen is the highest nonce accepted from each peer
	seen map[state.NodeTableKey]uint64
}

func newStub(key state.NodePrivateKey) *stub {
	return &stub{
		key:   key,
		nonce: uint64(time.Now().UnixNano()),
		seen:  make(map[state.NodeTableKey]uint64),
	}
}

func (s *stub) Module() state.SubnetModule {
	return state.StubModule
}

func (s *stub) LedgerId() state.LedgerId {
	return "stub"
}

func (s *stub) GetPeeringInfo() []byte {
	pub := s.key.Pubkey()
	return pub[:]
}

func (s *stub) CreatePeeringRequest(peer Peer, peeringInfo []byte) ([]byte, error) {
	if !bytes.Equal(peeringInfo, peer.PublicKey[:]) {
		return nil, fmt.Errorf("%w: peering info of %s does not match its key", ErrPeeringRejected, peer.Node)
	}
	return s.GetPeeringInfo(), nil
}

func (s *stub) AcceptPeeringRequest(peer Peer, data []byte) ([]byte, []byte, error) {
	if !bytes.Equal(data, peer.PublicKey[:]) {
		return nil, nil, fmt.Errorf("%w: peering request of %s does not match its key", ErrPeeringRejected, peer.Node)
	}
	return bytes.Clone(data), s.GetPeeringInfo(), nil
}

func (s *stub) FinalizePeeringRequest(peer Peer, response []byte) ([]byte, error) {
	if !bytes.Equal(response, peer.PublicKey[:]) {
		return nil, fmt.Errorf("%w: peering response of %s does not match its key", ErrPeeringRejected, peer.Node)
	}
	return bytes.Clone(response), nil
}

func stubStatement(from, to state.NodePublicKey, subnet state.SubnetId, amount *uint256.Int, nonce uint64) []byte {
	msg := []byte(stubProofDomain)
	msg = append(msg, from[:]...)
	msg = append(msg, to[:]...)
	msg = append(msg, subnet...)
	b := amount.Bytes32()
	msg = append(msg, b[:]...)
	return binary.BigEndian.AppendUint64(msg, nonce)
}

func (s *stub) Settle(peer Peer, amount *uint256.Int, peerState []byte) ([]byte, error) {
	to, err := state.PublicKeyFromBytes(peerState)
	if err != nil {
		return nil, fmt.Errorf("invalid peer state for %s: %w", peer.Node, err)
	}
	s.nonce++
	sig := s.key.Sign(stubStatement(s.key.Pubkey(), to, peer.Subnet, amount, s.nonce))
	return append(binary.BigEndian.AppendUint64(nil, s.nonce), sig...), nil
}

func (s *stub) HandleSettlement(peer Peer, amount *uint256.Int, proof []byte, peerState []byte) error {
	from, err := state.PublicKeyFromBytes(peerState)
	if err != nil {
		return fmt.Errorf("invalid peer state for %s: %w", peer.Node, err)
	}
	if len(proof) < 8 {
		return fmt.Errorf("%w: proof is too short", ErrSettlementRejected)
	}
	nonce := binary.BigEndian.Uint64(proof[:8])
	key := state.MakeNodeTableKey(peer.Subnet, peer.Node)
	if nonce <= s.seen[key] {
		return fmt.Errorf("%w: proof %d from %s was already used", ErrSettlementRejected, nonce, peer.Node)
	}
	if !from.Verify(stubStatement(from, s.key.Pubkey(), peer.Subnet, amount, nonce), proof[8:]) {
		return fmt.Errorf("%w: bad signature from %s", ErrSettlementRejected, peer.Node)
	}
	s.seen[key] = nonce
	return nil
}
