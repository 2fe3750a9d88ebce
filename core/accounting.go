package core

import (
	"errors"
	"fmt"

	"github.com/encodeous/weft/protocol"
	"github.com/encodeous/weft/state"
)

type PacketDirection int

const (
	// Incoming packets were received from the account's owner
	Incoming PacketDirection = iota
	// Outgoing packets are sent to the account's owner
	Outgoing
)

func (d PacketDirection) String() string {
	if d == Incoming {
		return "incoming"
	}
	return "outgoing"
}

// ProcessPacketPrepare reserves the packet amount between account and the connector account of its ledger. Incoming
// packets debit the account, outgoing packets credit it. Zero amount packets are not recorded and return a nil transfer.
func ProcessPacketPrepare(ledger *state.Ledger, account state.AccountPath, p *protocol.Prepare, dir PacketDirection) (*state.Transfer, error) {
	if p.Amount.IsZero() {
		return nil, nil
	}
	connector := state.ConnectorAccount(account.LedgerId())
	params := state.CreateTransferParams{
		Key:     state.MakeTransferKey(account, p.ExecutionCondition[:]),
		Amount:  &p.Amount,
		Pending: true,
	}
	switch dir {
	case Incoming:
		params.DebitAccount, params.CreditAccount = account, connector
	case Outgoing:
		params.DebitAccount, params.CreditAccount = connector, account
	}
	return ledger.CreateTransfer(params)
}

// ProcessPacketResult resolves the reservation made by ProcessPacketPrepare. It is posted if the packet was fulfilled and
// voided otherwise.
func ProcessPacketResult(ledger *state.Ledger, account state.AccountPath, p *protocol.Prepare, result protocol.Packet) error {
	if p.Amount.IsZero() {
		return nil
	}
	key := state.MakeTransferKey(account, p.ExecutionCondition[:])
	t, ok := ledger.GetPendingTransfer(key)
	if !ok {
		return &state.PendingTransferNotFoundError{Key: key}
	}
	switch result.(type) {
	case *protocol.Fulfill:
		return ledger.PostPendingTransfer(t)
	case *protocol.Reject:
		return ledger.VoidPendingTransfer(t)
	}
	return fmt.Errorf("%w: %T is not a packet result", state.ErrLedgerInvariant, result)
}

// rejectCode maps a recoverable ledger error to the reject sent back to the packet's source
func rejectCode(err error) string {
	switch {
	case errors.Is(err, state.ErrExceedsDebits), errors.Is(err, state.ErrExceedsCredits), errors.Is(err, state.ErrAmountOverflow):
		return protocol.CodeInsufficientLiquidity
	}
	return protocol.CodeInternalError
}

// isFatal reports errors that mean our own state is inconsistent. They stop the node.
func isFatal(err error) bool {
	return errors.Is(err, state.ErrLedgerInvariant)
}
