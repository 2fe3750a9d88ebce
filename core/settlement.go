package core

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/encodeous/weft/perf"
	"github.com/encodeous/weft/protocol"
	"github.com/encodeous/weft/settlement"
	"github.com/encodeous/weft/state"
	"github.com/holiman/uint256"
)

var ErrZeroSettlement = errors.New("settlement amount must not be zero")

// Settlement periodically pays peers we owe more than the subnet's threshold, and books settlements received from
// peers.
//
// Outgoing packets credit a peer's interledger account, so its posted credits minus posted debits is what we owe it.
// Paying moves that amount from the interledger account to the peer's settlement account.
type Settlement struct {
	log *slog.Logger
}

func (m *Settlement) Init(s *state.State) error {
	m.log = s.Log.With("module", "settlement")
	s.Env.RepeatTask(m.settleAll, state.SettlementCheckDelay)
	return nil
}

func (m *Settlement) Cleanup(s *state.State) error {
	return nil
}

func schemePeer(e *state.NodeTableEntry) settlement.Peer {
	return settlement.Peer{Subnet: e.Subnet, Node: e.Node, PublicKey: e.PublicKey}
}

// Owed returns how much we owe a peer, or nil if we owe it nothing
func Owed(s *state.State, inst *SubnetInstance, peer state.NodeTableKey) *uint256.Int {
	acc, ok := s.Ledger.GetAccount(state.PeerInterledgerAccount(inst.LedgerId(), peer))
	if !ok || !acc.CreditsPosted.Gt(&acc.DebitsPosted) {
		return nil
	}
	return new(uint256.Int).Sub(&acc.CreditsPosted, &acc.DebitsPosted)
}

func (m *Settlement) settleAll(s *state.State) error {
	subnets := Get[*Subnets](s)
	for _, id := range s.SubnetIds() {
		inst, ok := subnets.Get(id)
		if !ok || inst.Cfg.SettlementThreshold == 0 {
			continue
		}
		threshold := uint256.NewInt(inst.Cfg.SettlementThreshold)
		for _, peer := range s.NodeTable.Peers(id) {
			owed := Owed(s, inst, peer.Key)
			if owed == nil || !owed.Gt(threshold) {
				continue
			}
			if err := m.Settle(s, inst, peer, owed); err != nil {
				return err
			}
		}
	}
	return nil
}

// Settle pays amount to a peer. The transfer is reversed if the peer cannot be told about it.
func (m *Settlement) Settle(s *state.State, inst *SubnetInstance, peer *state.NodeTableEntry, amount *uint256.Int) error {
	if !peer.IsPeer() {
		return fmt.Errorf("%s is not a peer", peer.Key)
	}
	ledger := inst.LedgerId()
	interledger := state.PeerInterledgerAccount(ledger, peer.Key)
	settled := state.PeerSettlementAccount(ledger, peer.Key)

	proof, err := inst.Scheme.Settle(schemePeer(peer), amount, peer.PeerState.Data)
	if err != nil {
		m.log.Warn("settlement failed", "peer", peer.Key, "amount", amount.Dec(), "error", err)
		return nil
	}
	if _, err := s.Ledger.CreateTransfer(state.CreateTransferParams{
		DebitAccount:  interledger,
		CreditAccount: settled,
		Amount:        amount,
	}); err != nil {
		if isFatal(err) {
			return err
		}
		m.log.Warn("failed to book settlement", "peer", peer.Key, "amount", amount.Dec(), "error", err)
		return nil
	}
	perf.Settlements.Add(1)
	m.log.Info("settled with peer", "peer", peer.Key, "amount", amount.Dec())

	amt := *amount
	Get[*PeerProtocol](s).SendAsync(s, peer, &protocol.SettlementMessage{Amount: amt, Proof: proof}, func(s *state.State, err error) error {
		m.log.Warn("peer did not receive settlement, reversing", "peer", peer.Key, "amount", amt.Dec(), "error", err)
		_, err = s.Ledger.CreateTransfer(state.CreateTransferParams{
			DebitAccount:  settled,
			CreditAccount: interledger,
			Amount:        &amt,
		})
		if err != nil && !isFatal(err) {
			m.log.Warn("failed to reverse settlement", "peer", peer.Key, "error", err)
			return nil
		}
		return err
	})
	return nil
}

// HandleSettlementMessage books a settlement a peer sent us once its scheme accepted the proof.
func (m *Settlement) HandleSettlementMessage(s *state.State, inst *SubnetInstance, peer *state.NodeTableEntry, msg *protocol.SettlementMessage) error {
	if peer == nil || !peer.IsPeer() {
		return state.ErrUnauthorized
	}
	if msg.Amount.IsZero() {
		return ErrZeroSettlement
	}
	if err := inst.Scheme.HandleSettlement(schemePeer(peer), &msg.Amount, msg.Proof, peer.PeerState.Data); err != nil {
		m.log.Warn("rejected settlement", "peer", peer.Key, "amount", msg.Amount.Dec(), "error", err)
		return err
	}
	ledger := inst.LedgerId()
	if _, err := s.Ledger.CreateTransfer(state.CreateTransferParams{
		DebitAccount:  state.PeerSettlementAccount(ledger, peer.Key),
		CreditAccount: state.PeerInterledgerAccount(ledger, peer.Key),
		Amount:        &msg.Amount,
	}); err != nil {
		return err
	}
	perf.Settlements.Add(1)
	m.log.Info("received settlement", "peer", peer.Key, "amount", msg.Amount.Dec())
	return nil
}
