package state

import (
	"context"
	"log/slog"
	"sync/atomic"
)

type NyModule interface {
	Init(s *State) error
	Cleanup(s *State) error
}

// State access must be done only on a single Goroutine
type State struct {
	*Env
	Modules map[string]NyModule

	NodeTable      *NodeTable
	Ledger         *Ledger
	RoutingTable   *RoutingTable
	DiscoveryQueue *DiscoveryQueue
}

// NewState creates the shared node structures. The ledger mirrors accounts to the env's store, if any.
func NewState(env *Env) *State {
	if env.Log == nil {
		env.Log = slog.Default()
	}
	var accounts AccountStore
	if env.Store != nil {
		accounts = env.Store
	}
	return &State{
		Env:            env,
		Modules:        make(map[string]NyModule),
		NodeTable:      NewNodeTable(),
		Ledger:         NewLedger(accounts, env.Log.With("module", "ledger")),
		RoutingTable:   NewRoutingTable(),
		DiscoveryQueue: NewDiscoveryQueue(),
	}
}

// Transport moves encoded envelopes between nodes. Send returns the encoded response envelope, which may be empty.
type Transport interface {
	Send(ctx context.Context, url string, data []byte) ([]byte, error)
	// Listen starts delivering incoming envelopes to handler until Close is called
	Listen(handler func(ctx context.Context, data []byte) ([]byte, error)) error
	Close() error
}

// Store durably records accounts and the settlement scheme of each subnet
type Store interface {
	AccountStore
	Accounts() ([]Pair[AccountPath, LimitMode], error)
	PutSettlementScheme(subnet SubnetId, module SubnetModule) error
	SettlementSchemes() ([]Pair[SubnetId, SubnetModule], error)
	Close() error
}

// Env can be read from any Goroutine
type Env struct {
	DispatchChannel chan<- func(s *State) error
	NodeCfg
	Context   context.Context
	Cancel    context.CancelCauseFunc
	Log       *slog.Logger
	Transport Transport
	Store     Store
	Started   atomic.Bool
	Stopping  atomic.Bool
}
