package state

import (
	"errors"
	"fmt"
)

var (
	ErrExceedsDebits  = errors.New("transfer would make debits exceed credits")
	ErrExceedsCredits = errors.New("transfer would make credits exceed debits")
	ErrAmountOverflow = errors.New("transfer amount overflows account counters")

	// ErrUnauthorized is returned for peer messages that fail authentication and are not allowed anonymously
	ErrUnauthorized = errors.New("peer message is not authenticated")

	// ErrLedgerInvariant marks programming errors inside the ledger. It is fatal to the node.
	ErrLedgerInvariant = errors.New("ledger invariant violated")
)

type AccountSide string

const (
	DebitSide  AccountSide = "debit"
	CreditSide AccountSide = "credit"
)

type InvalidAccountError struct {
	Side AccountSide
	Path AccountPath
}

func (e *InvalidAccountError) Error() string {
	return fmt.Sprintf("invalid %s account %s", e.Side, e.Path)
}

// DifferentLedgersError is a programming error, callers must treat it as fatal.
type DifferentLedgersError struct {
	Debit  AccountPath
	Credit AccountPath
}

func (e *DifferentLedgersError) Error() string {
	return fmt.Sprintf("transfer accounts %s and %s are in different ledgers", e.Debit, e.Credit)
}

func (e *DifferentLedgersError) Unwrap() error {
	return ErrLedgerInvariant
}

type PendingTransferNotFoundError struct {
	Key TransferKey
}

func (e *PendingTransferNotFoundError) Error() string {
	return fmt.Sprintf("no pending transfer for key %s", e.Key)
}

type DuplicatePendingTransferError struct {
	Key TransferKey
}

func (e *DuplicatePendingTransferError) Error() string {
	return fmt.Sprintf("a pending transfer for key %s already exists", e.Key)
}

type UnknownSubnetModuleError struct {
	Subnet SubnetId
	Module string
}

func (e *UnknownSubnetModuleError) Error() string {
	return fmt.Sprintf("unknown subnet module '%s' for subnet %s", e.Module, e.Subnet)
}
