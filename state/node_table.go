package state

import (
	"slices"
	"time"
)

// Never is used as the scheduled retransmit time once a link state update has been retransmitted
var Never = time.Unix(1<<63-62135596801, 999999999)

// LinkState is the verified content of a node's most recent link state update.
type LinkState struct {
	Sequence   uint64
	Neighbours []NodeId
	// Update holds the signed update exactly as received, so it can be retransmitted verbatim
	Update []byte
	// Received is when this update was accepted locally
	Received time.Time
}

// PeerState is only present for nodes we are directly peered with
type PeerState struct {
	// Data is opaque settlement scheme state
	Data  []byte
	Since time.Time
}

type NodeTableEntry struct {
	Key       NodeTableKey
	Subnet    SubnetId
	Node      NodeId
	PublicKey NodePublicKey
	// Url is where the node accepts peer messages, learned from config or its link state
	Url string

	LinkState *LinkState

	UpdateReceivedCounter   int
	ScheduledRetransmitTime time.Time

	PeerState *PeerState
}

func (e *NodeTableEntry) IsPeer() bool {
	return e.PeerState != nil
}

type NodeTableChange int

const (
	// NodeLinkStateChanged is raised when a node's neighbour list changes
	NodeLinkStateChanged NodeTableChange = iota
	NodePeerStateChanged
)

type nodeTableObserver struct {
	id int
	fn func(key NodeTableKey, change NodeTableChange)
}

// NodeTable holds every node we know about. Entries are created on first mention.
type NodeTable struct {
	entries   map[NodeTableKey]*NodeTableEntry
	observers []nodeTableObserver
	nextObs   int
}

func NewNodeTable() *NodeTable {
	return &NodeTable{
		entries: make(map[NodeTableKey]*NodeTableEntry),
	}
}

func (t *NodeTable) Get(key NodeTableKey) *NodeTableEntry {
	return t.entries[key]
}

// Ensure returns the entry for key, creating it if it does not exist yet.
func (t *NodeTable) Ensure(subnet SubnetId, node NodeId, pubKey NodePublicKey) *NodeTableEntry {
	key := MakeNodeTableKey(subnet, node)
	e, ok := t.entries[key]
	if !ok {
		e = &NodeTableEntry{
			Key:                     key,
			Subnet:                  subnet,
			Node:                    node,
			PublicKey:               pubKey,
			ScheduledRetransmitTime: Never,
		}
		t.entries[key] = e
	}
	return e
}

func (t *NodeTable) Len() int {
	return len(t.entries)
}

// Entries returns the entries of a subnet sorted by key.
func (t *NodeTable) Entries(subnet SubnetId) []*NodeTableEntry {
	out := make([]*NodeTableEntry, 0)
	for _, e := range t.entries {
		if e.Subnet == subnet {
			out = append(out, e)
		}
	}
	slices.SortFunc(out, func(a, b *NodeTableEntry) int {
		return compareKeys(a.Key, b.Key)
	})
	return out
}

func (t *NodeTable) All() []*NodeTableEntry {
	out := make([]*NodeTableEntry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b *NodeTableEntry) int {
		return compareKeys(a.Key, b.Key)
	})
	return out
}

// Peers returns the directly peered nodes of a subnet.
func (t *NodeTable) Peers(subnet SubnetId) []*NodeTableEntry {
	return slices.DeleteFunc(t.Entries(subnet), func(e *NodeTableEntry) bool {
		return !e.IsPeer()
	})
}

// SetLinkState stores a verified update. Observers are notified only if the neighbour list changed.
func (t *NodeTable) SetLinkState(e *NodeTableEntry, ls *LinkState) {
	changed := e.LinkState == nil || !slices.Equal(e.LinkState.Neighbours, ls.Neighbours)
	e.LinkState = ls
	if changed {
		t.notify(e.Key, NodeLinkStateChanged)
	}
}

func (t *NodeTable) SetPeerState(e *NodeTableEntry, ps *PeerState) {
	e.PeerState = ps
	t.notify(e.Key, NodePeerStateChanged)
}

func (t *NodeTable) OnChange(fn func(key NodeTableKey, change NodeTableChange)) (unsubscribe func()) {
	id := t.nextObs
	t.nextObs++
	t.observers = append(t.observers, nodeTableObserver{id, fn})
	return func() {
		t.observers = slices.DeleteFunc(t.observers, func(o nodeTableObserver) bool {
			return o.id == id
		})
	}
}

func (t *NodeTable) notify(key NodeTableKey, change NodeTableChange) {
	for _, o := range slices.Clone(t.observers) {
		o.fn(key, change)
	}
}

func compareKeys(a, b NodeTableKey) int {
	if a < b {
		return -1
	} else if a > b {
		return 1
	}
	return 0
}
