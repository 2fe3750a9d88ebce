package state

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"math/big"
	"slices"

	"github.com/holiman/uint256"
)

type LimitMode int

const (
	NoLimit LimitMode = iota
	DebitsMustNotExceedCredits
	CreditsMustNotExceedDebits
)

func (m LimitMode) String() string {
	switch m {
	case NoLimit:
		return "no_limit"
	case DebitsMustNotExceedCredits:
		return "debits_must_not_exceed_credits"
	case CreditsMustNotExceedDebits:
		return "credits_must_not_exceed_debits"
	}
	return fmt.Sprintf("LimitMode(%d)", int(m))
}

func (m LimitMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *LimitMode) UnmarshalText(text []byte) error {
	for _, mode := range []LimitMode{NoLimit, DebitsMustNotExceedCredits, CreditsMustNotExceedDebits} {
		if mode.String() == string(text) {
			*m = mode
			return nil
		}
	}
	return fmt.Errorf("unknown limit mode %q", text)
}

type LedgerAccount struct {
	Path           AccountPath
	DebitsPending  uint256.Int
	DebitsPosted   uint256.Int
	CreditsPending uint256.Int
	CreditsPosted  uint256.Int
	Limit          LimitMode
}

// Balance is the spendable balance: creditsPosted - debitsPosted - debitsPending
func (a *LedgerAccount) Balance() *big.Int {
	b := a.CreditsPosted.ToBig()
	b.Sub(b, a.DebitsPosted.ToBig())
	return b.Sub(b, a.DebitsPending.ToBig())
}

type TransferState int

const (
	TransferPending TransferState = iota
	TransferPosted
	TransferVoided
)

func (s TransferState) String() string {
	switch s {
	case TransferPending:
		return "pending"
	case TransferPosted:
		return "posted"
	case TransferVoided:
		return "voided"
	}
	return fmt.Sprintf("TransferState(%d)", int(s))
}

// TransferKey indexes pending transfers for resolution: "<account path>;<base64 condition>"
type TransferKey string

func MakeTransferKey(path AccountPath, condition []byte) TransferKey {
	return TransferKey(fmt.Sprintf("%s;%s", path, base64.StdEncoding.EncodeToString(condition)))
}

// Transfer is immutable except for State, which only the Ledger changes.
type Transfer struct {
	Key           TransferKey
	DebitAccount  AccountPath
	CreditAccount AccountPath
	Amount        uint256.Int
	State         TransferState
}

type CreateTransferParams struct {
	// Key is required for pending transfers
	Key           TransferKey
	DebitAccount  AccountPath
	CreditAccount AccountPath
	Amount        *uint256.Int
	Pending       bool
}

// AccountStore durably records accounts. CreateAccount only commits after the store accepted the account.
type AccountStore interface {
	PutAccount(path AccountPath, limit LimitMode) error
}

type ledgerObserver struct {
	id int
	fn func(Transfer)
}

// Ledger is a double-entry ledger. Like the rest of State it must only be accessed from the dispatch goroutine.
type Ledger struct {
	accounts  *PrefixMap[*LedgerAccount]
	pending   map[TransferKey]*Transfer
	observers []ledgerObserver
	nextObs   int
	store     AccountStore
	log       *slog.Logger
}

func NewLedger(store AccountStore, log *slog.Logger) *Ledger {
	if log == nil {
		log = slog.Default()
	}
	return &Ledger{
		accounts: NewPrefixMap[*LedgerAccount](),
		pending:  make(map[TransferKey]*Transfer),
		store:    store,
		log:      log,
	}
}

// CreateAccount is idempotent by path, an existing account keeps its counters and limit.
func (l *Ledger) CreateAccount(path AccountPath, limit LimitMode) error {
	if l.accounts.Has(string(path)) {
		return nil
	}
	if l.store != nil {
		if err := l.store.PutAccount(path, limit); err != nil {
			return fmt.Errorf("failed to persist account %s: %w", path, err)
		}
	}
	l.log.Debug("create account", "path", path, "limit", limit)
	l.accounts.Set(string(path), &LedgerAccount{
		Path:  path,
		Limit: limit,
	})
	return nil
}

func (l *Ledger) GetAccount(path AccountPath) (LedgerAccount, bool) {
	acc, ok := l.accounts.Get(string(path))
	if !ok {
		return LedgerAccount{}, false
	}
	return *acc, true
}

// GetAccounts returns copies of every account whose path starts with prefix
func (l *Ledger) GetAccounts(prefix string) []LedgerAccount {
	entries := l.accounts.FilterPrefix(prefix)
	out := make([]LedgerAccount, 0, len(entries))
	for _, e := range entries {
		out = append(out, *e.V2)
	}
	return out
}

func (l *Ledger) GetLedgerIds() []LedgerId {
	ids := make([]LedgerId, 0)
	for _, key := range l.accounts.Keys() {
		id := AccountPath(key).LedgerId()
		if !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	return ids
}

func (l *Ledger) GetPendingTransfer(key TransferKey) (*Transfer, bool) {
	t, ok := l.pending[key]
	return t, ok
}

func (l *Ledger) PendingTransfers() []*Transfer {
	out := make([]*Transfer, 0, len(l.pending))
	for _, t := range l.pending {
		out = append(out, t)
	}
	slices.SortFunc(out, func(a, b *Transfer) int {
		if a.Key < b.Key {
			return -1
		} else if a.Key > b.Key {
			return 1
		}
		return 0
	})
	return out
}

// OnPostedTransfer registers fn to be called for every transfer that reaches the posted state.
func (l *Ledger) OnPostedTransfer(fn func(Transfer)) (unsubscribe func()) {
	id := l.nextObs
	l.nextObs++
	l.observers = append(l.observers, ledgerObserver{id, fn})
	return func() {
		l.observers = slices.DeleteFunc(l.observers, func(o ledgerObserver) bool {
			return o.id == id
		})
	}
}

func (l *Ledger) announce(t *Transfer) {
	for _, o := range slices.Clone(l.observers) {
		o.fn(*t)
	}
}

// fits reports whether amount can be added to every counter without overflowing
func fits(amount *uint256.Int, counters ...*uint256.Int) bool {
	for _, c := range counters {
		if _, overflow := new(uint256.Int).AddOverflow(c, amount); overflow {
			return false
		}
	}
	return true
}

func (l *Ledger) CreateTransfer(p CreateTransferParams) (*Transfer, error) {
	if p.DebitAccount == p.CreditAccount {
		return nil, fmt.Errorf("%w: transfer credit and debit accounts must be different (%s)", ErrLedgerInvariant, p.DebitAccount)
	}
	if p.DebitAccount.LedgerId() != p.CreditAccount.LedgerId() {
		return nil, &DifferentLedgersError{Debit: p.DebitAccount, Credit: p.CreditAccount}
	}
	if p.Pending && p.Key == "" {
		return nil, fmt.Errorf("%w: pending transfers require a key", ErrLedgerInvariant)
	}
	amount := p.Amount
	if amount == nil {
		amount = new(uint256.Int)
	}

	debit, ok := l.accounts.Get(string(p.DebitAccount))
	if !ok {
		return nil, &InvalidAccountError{Side: DebitSide, Path: p.DebitAccount}
	}
	credit, ok := l.accounts.Get(string(p.CreditAccount))
	if !ok {
		return nil, &InvalidAccountError{Side: CreditSide, Path: p.CreditAccount}
	}

	if debit.Limit == DebitsMustNotExceedCredits {
		total, overflow := new(uint256.Int).AddOverflow(&debit.DebitsPosted, &debit.DebitsPending)
		total, overflow2 := total.AddOverflow(total, amount)
		if overflow || overflow2 || total.Gt(&debit.CreditsPosted) {
			return nil, ErrExceedsDebits
		}
	}
	if credit.Limit == CreditsMustNotExceedDebits {
		total, overflow := new(uint256.Int).AddOverflow(&credit.CreditsPosted, &credit.CreditsPending)
		total, overflow2 := total.AddOverflow(total, amount)
		if overflow || overflow2 || total.Gt(&credit.DebitsPosted) {
			return nil, ErrExceedsCredits
		}
	}

	if p.Pending {
		if _, exists := l.pending[p.Key]; exists {
			return nil, &DuplicatePendingTransferError{Key: p.Key}
		}
		if !fits(amount, &debit.DebitsPending, &credit.CreditsPending, &debit.DebitsPosted, &credit.CreditsPosted) {
			return nil, ErrAmountOverflow
		}
	} else if !fits(amount, &debit.DebitsPosted, &credit.CreditsPosted) {
		return nil, ErrAmountOverflow
	}

	t := &Transfer{
		Key:           p.Key,
		DebitAccount:  p.DebitAccount,
		CreditAccount: p.CreditAccount,
		Amount:        *amount,
	}
	if p.Pending {
		t.State = TransferPending
		debit.DebitsPending.Add(&debit.DebitsPending, amount)
		credit.CreditsPending.Add(&credit.CreditsPending, amount)
		l.pending[p.Key] = t
	} else {
		t.State = TransferPosted
		debit.DebitsPosted.Add(&debit.DebitsPosted, amount)
		credit.CreditsPosted.Add(&credit.CreditsPosted, amount)
		l.announce(t)
	}
	return t, nil
}

func (l *Ledger) resolveAccounts(t *Transfer) (*LedgerAccount, *LedgerAccount, error) {
	if t.State != TransferPending {
		return nil, nil, fmt.Errorf("%w: transfer %s must be pending, is %s", ErrLedgerInvariant, t.Key, t.State)
	}
	if indexed, ok := l.pending[t.Key]; !ok || indexed != t {
		return nil, nil, fmt.Errorf("%w: transfer %s is not in the pending index", ErrLedgerInvariant, t.Key)
	}
	debit, ok := l.accounts.Get(string(t.DebitAccount))
	if !ok {
		return nil, nil, fmt.Errorf("%w: debit account %s must exist", ErrLedgerInvariant, t.DebitAccount)
	}
	credit, ok := l.accounts.Get(string(t.CreditAccount))
	if !ok {
		return nil, nil, fmt.Errorf("%w: credit account %s must exist", ErrLedgerInvariant, t.CreditAccount)
	}
	return debit, credit, nil
}

// PostPendingTransfer settles a reservation. Errors are ErrLedgerInvariant and fatal.
func (l *Ledger) PostPendingTransfer(t *Transfer) error {
	debit, credit, err := l.resolveAccounts(t)
	if err != nil {
		return err
	}
	t.State = TransferPosted

	debit.DebitsPending.Sub(&debit.DebitsPending, &t.Amount)
	debit.DebitsPosted.Add(&debit.DebitsPosted, &t.Amount)

	credit.CreditsPending.Sub(&credit.CreditsPending, &t.Amount)
	credit.CreditsPosted.Add(&credit.CreditsPosted, &t.Amount)

	delete(l.pending, t.Key)
	l.announce(t)
	return nil
}

// VoidPendingTransfer releases a reservation. Errors are ErrLedgerInvariant and fatal.
func (l *Ledger) VoidPendingTransfer(t *Transfer) error {
	debit, credit, err := l.resolveAccounts(t)
	if err != nil {
		return err
	}
	t.State = TransferVoided

	debit.DebitsPending.Sub(&debit.DebitsPending, &t.Amount)
	credit.CreditsPending.Sub(&credit.CreditsPending, &t.Amount)

	delete(l.pending, t.Key)
	return nil
}

// PostedTotals sums the posted counters of every account in a ledger. Credits and debits are always equal.
func (l *Ledger) PostedTotals(ledger LedgerId) (credits *big.Int, debits *big.Int) {
	credits, debits = new(big.Int), new(big.Int)
	for _, e := range l.accounts.FilterPrefix(string(ledger) + ":") {
		credits.Add(credits, e.V2.CreditsPosted.ToBig())
		debits.Add(debits, e.V2.DebitsPosted.ToBig())
	}
	return credits, debits
}
