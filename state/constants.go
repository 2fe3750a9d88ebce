package state

import "time"

const (
	// RetransmitThreshold is the number of times a link state update may be seen before we stop retransmitting it
	RetransmitThreshold = 3

	// NetworkSegment is the address segment between the allocation scheme and the subnet
	NetworkSegment = "weft"

	// NodeListPollingConcurrency caps the number of bootstrap nodes polled at once
	NodeListPollingConcurrency = 5

	// MessageVersion is the only envelope version we speak
	MessageVersion = 0
)

var (
	MaxRetransmitCheckInterval = time.Millisecond * 200
	LinkStateRetransmitJitter  = time.Millisecond * 500
	LinkStateRefreshInterval   = time.Minute * 10

	NodeDiscoveryInterval       = time.Millisecond * 500
	NodeListHashPollingInterval = time.Second * 30
	DiscoveryQueueTTL           = time.Second * 30
	DiscoveryRequestDedupTTL    = time.Second * 10

	// EnvelopeMaxAge is how far an envelope's timestamp may be from our clock before it is refused
	EnvelopeMaxAge = time.Second * 30

	// PeerRequestTimeout bounds a single request/response exchange with another node
	PeerRequestTimeout = time.Second * 5
	// PeeringRetryInterval is how often we retry configured peers we are not peered with
	PeeringRetryInterval = time.Second * 2

	// packet handling
	PacketExpiryCheckDelay = time.Millisecond * 250
	DefaultPacketTimeout   = time.Second * 30

	SettlementCheckDelay = time.Second * 5
)

// debug flags, set from the command line
var (
	DBG_trace           = false
	DBG_debug           = false
	DBG_log_route_table = false
	DBG_log_link_state  = false

	// DebugAddr serves expvar, metrics and the state dump when DBG_debug is set
	DebugAddr = "127.0.0.1:6060"
)
