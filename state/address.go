package state

import (
	"fmt"
	"strings"
)

type NodeId string

type SubnetId string

// NodeTableKey identifies a node within a subnet, formatted as "<subnet>.<node>"
type NodeTableKey string

func MakeNodeTableKey(subnet SubnetId, node NodeId) NodeTableKey {
	return NodeTableKey(fmt.Sprintf("%s.%s", subnet, node))
}

func (k NodeTableKey) Split() (SubnetId, NodeId) {
	subnet, node, _ := strings.Cut(string(k), ".")
	return SubnetId(subnet), NodeId(node)
}

func (k NodeTableKey) Node() NodeId {
	_, node := k.Split()
	return node
}

// LedgerId names a currency domain. Transfers never cross ledgers.
type LedgerId string

// AccountPath is formatted as "<ledger>:<path>", e.g. "stub:peer/main.alice/interledger"
type AccountPath string

func (p AccountPath) LedgerId() LedgerId {
	id, _, _ := strings.Cut(string(p), ":")
	return LedgerId(id)
}

func ConnectorAccount(ledger LedgerId) AccountPath {
	return AccountPath(fmt.Sprintf("%s:internal/connector", ledger))
}

func OwnerAccount(ledger LedgerId) AccountPath {
	return AccountPath(fmt.Sprintf("%s:equity/owner", ledger))
}

func PeerInterledgerAccount(ledger LedgerId, peer NodeTableKey) AccountPath {
	return AccountPath(fmt.Sprintf("%s:peer/%s/interledger", ledger, peer))
}

func PeerSettlementAccount(ledger LedgerId, peer NodeTableKey) AccountPath {
	return AccountPath(fmt.Sprintf("%s:peer/%s/settlement", ledger, peer))
}

// NodeAddress derives the routable address of a node: "<scheme>.weft.<subnet>.<node>"
func NodeAddress(scheme string, subnet SubnetId, node NodeId) string {
	return fmt.Sprintf("%s.%s.%s.%s", scheme, NetworkSegment, subnet, node)
}
