// Package settlement contains the settlement schemes a subnet can run on. A scheme discharges the balance that builds
// up between two peers by moving value over an external rail.
package settlement

import (
	"errors"

	"github.com/encodeous/weft/state"
	"github.com/holiman/uint256"
)

var (
	ErrPeeringRejected    = errors.New("peering request rejected")
	ErrSettlementRejected = errors.New("settlement rejected")
)

// Peer identifies the node on the other side of a scheme operation
type Peer struct {
	Subnet    state.SubnetId
	Node      state.NodeId
	PublicKey state.NodePublicKey
}

type Scheme interface {
	Module() state.SubnetModule
	// LedgerId is the ledger all accounts of this scheme live in
	LedgerId() state.LedgerId

	// GetPeeringInfo is the data a prospective peer needs before it can create a peering request
	GetPeeringInfo() []byte
	CreatePeeringRequest(peer Peer, peeringInfo []byte) ([]byte, error)
	// AcceptPeeringRequest returns the peer state to keep and the data to send back
	AcceptPeeringRequest(peer Peer, data []byte) (peerState []byte, response []byte, err error)
	FinalizePeeringRequest(peer Peer, response []byte) (peerState []byte, err error)

	// Settle sends amount to the peer and returns a proof the peer can verify
	Settle(peer Peer, amount *uint256.Int, peerState []byte) (proof []byte, err error)
	HandleSettlement(peer Peer, amount *uint256.Int, proof []byte, peerState []byte) error
}

// New creates the scheme for a subnet module
func New(subnet state.SubnetId, module state.SubnetModule, key state.NodePrivateKey) (Scheme, error) {
	switch module {
	case state.StubModule:
		return newStub(key), nil
	}
	return nil, &state.UnknownSubnetModuleError{Subnet: subnet, Module: string(module)}
}
