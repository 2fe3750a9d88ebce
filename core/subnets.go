package core

import (
	"fmt"
	"log/slog"

	"github.com/encodeous/weft/settlement"
	"github.com/encodeous/weft/state"
)

type SubnetInstance struct {
	Cfg    state.SubnetCfg
	Scheme settlement.Scheme
}

func (i *SubnetInstance) LedgerId() state.LedgerId {
	return i.Scheme.LedgerId()
}

// Subnets creates the settlement scheme of every configured subnet along with the ledger accounts it needs
type Subnets struct {
	log       *slog.Logger
	instances map[state.SubnetId]*SubnetInstance
}

func (n *Subnets) Init(s *state.State) error {
	n.log = s.Log.With("module", "subnets")
	n.instances = make(map[state.SubnetId]*SubnetInstance)

	recorded := make(map[state.SubnetId]state.SubnetModule)
	if s.Store != nil {
		accounts, err := s.Store.Accounts()
		if err != nil {
			return fmt.Errorf("failed to load accounts: %w", err)
		}
		for _, acc := range accounts {
			if err := s.Ledger.CreateAccount(acc.V1, acc.V2); err != nil {
				return err
			}
		}
		schemes, err := s.Store.SettlementSchemes()
		if err != nil {
			return fmt.Errorf("failed to load settlement schemes: %w", err)
		}
		for _, scheme := range schemes {
			recorded[scheme.V1] = scheme.V2
		}
	}

	for _, cfg := range s.Subnets {
		scheme, err := settlement.New(cfg.Id, cfg.Module, s.Key)
		if err != nil {
			return err
		}
		if prev, ok := recorded[cfg.Id]; ok && prev != cfg.Module {
			return fmt.Errorf("subnet %s was created with module %s, but is configured with %s", cfg.Id, prev, cfg.Module)
		}
		if s.Store != nil {
			if err := s.Store.PutSettlementScheme(cfg.Id, cfg.Module); err != nil {
				return err
			}
		}
		ledger := scheme.LedgerId()
		if err := s.Ledger.CreateAccount(state.ConnectorAccount(ledger), state.NoLimit); err != nil {
			return err
		}
		if err := s.Ledger.CreateAccount(state.OwnerAccount(ledger), state.NoLimit); err != nil {
			return err
		}
		n.instances[cfg.Id] = &SubnetInstance{Cfg: cfg, Scheme: scheme}
		n.log.Info("subnet ready", "subnet", cfg.Id, "module", cfg.Module, "address", state.NodeAddress(s.AllocationScheme, cfg.Id, s.Id))
	}
	return nil
}

func (n *Subnets) Cleanup(s *state.State) error {
	return nil
}

func (n *Subnets) Get(id state.SubnetId) (*SubnetInstance, bool) {
	inst, ok := n.instances[id]
	return inst, ok
}

// CreatePeerAccounts opens the ledger accounts used with a new peer
func (n *Subnets) CreatePeerAccounts(s *state.State, inst *SubnetInstance, peer state.NodeTableKey) error {
	ledger := inst.LedgerId()
	if err := s.Ledger.CreateAccount(state.PeerInterledgerAccount(ledger, peer), inst.Cfg.PeerLimit); err != nil {
		return err
	}
	return s.Ledger.CreateAccount(state.PeerSettlementAccount(ledger, peer), state.NoLimit)
}
