// Package reputation holds validator accounts and their non-transferable
// reputation balances.
package reputation

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mathieu-neron/DeFacto/defacto-go/internal/ledger"
	"github.com/mathieu-neron/DeFacto/defacto-go/internal/model"
)

// DefaultInitialGrant is the balance credited on opt-in.
const DefaultInitialGrant int64 = 100

type account struct {
	mu sync.Mutex
	model.Account
}

// Ledger tracks balances and stakes. Each account serializes its own
// mutations; the account map lock only guards insert and lookup.
type Ledger struct {
	mu       sync.RWMutex
	accounts map[string]*account

	// createMu serializes account creation so the journal write happens
	// outside the map lock.
	createMu sync.Mutex

	supply       atomic.Int64
	initialGrant int64
	journal      ledger.Submitter
	now          func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithInitialGrant overrides the opt-in grant.
func WithInitialGrant(amount int64) Option {
	return func(l *Ledger) { l.initialGrant = amount }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// NewLedger creates an empty ledger recording opt-ins and mints to journal.
func NewLedger(journal ledger.Submitter, opts ...Option) *Ledger {
	l := &Ledger{
		accounts:     make(map[string]*account),
		initialGrant: DefaultInitialGrant,
		journal:      journal,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Journal payloads.
type OptInPayload struct {
	Grant int64 `json:"grant"`
}

type MintPayload struct {
	Amount int64 `json:"amount"`
}

func (l *Ledger) lookup(address string) (*account, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	a, ok := l.accounts[address]
	return a, ok
}

func (l *Ledger) mustGet(address string) (*account, error) {
	a, ok := l.lookup(address)
	if !ok {
		return nil, model.ErrNotOptedIn.With("account %s has not opted in", address)
	}
	return a, nil
}

// OptIn creates the account with the initial grant. Calling it again returns
// the current balance without granting twice.
func (l *Ledger) OptIn(ctx context.Context, address string) (int64, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return 0, model.ErrInvalidAddress
	}
	if a, ok := l.lookup(address); ok {
		return a.balance(), nil
	}

	l.createMu.Lock()
	defer l.createMu.Unlock()
	if a, ok := l.lookup(address); ok {
		return a.balance(), nil
	}

	now := l.now()
	op, err := ledger.NewOperation(ledger.KindOptIn, now, OptInPayload{Grant: l.initialGrant})
	if err != nil {
		return 0, err
	}
	op.Actor = address
	if _, err := ledger.Submit(ctx, l.journal, op); err != nil {
		return 0, err
	}

	a := &account{Account: model.Account{
		Address:           address,
		ReputationBalance: l.initialGrant,
		CreatedAt:         now,
	}}
	l.mu.Lock()
	l.accounts[address] = a
	l.mu.Unlock()
	l.supply.Add(l.initialGrant)
	return l.initialGrant, nil
}

func (a *account) balance() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ReputationBalance
}

// Stake locks amount of the available balance for claimID.
func (l *Ledger) Stake(address string, amount int64, claimID uint64) error {
	if amount <= 0 {
		return model.ErrInvalidAmount.With("stake must be positive")
	}
	a, err := l.mustGet(address)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if amount > a.Available() {
		return model.ErrInsufficientAvailableBalance.With(
			"stake %d on claim %d exceeds available balance %d", amount, claimID, a.Available())
	}
	a.StakedAmount += amount
	return nil
}

// ReleaseStake unlocks amount previously staked.
func (l *Ledger) ReleaseStake(address string, amount int64) error {
	if amount < 0 {
		return model.ErrInvalidAmount.With("release must not be negative")
	}
	a, err := l.mustGet(address)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if amount > a.StakedAmount {
		return model.ErrOverRelease.With("release %d exceeds staked %d", amount, a.StakedAmount)
	}
	a.StakedAmount -= amount
	return nil
}

// Reward credits amount and counts a correct validation.
func (l *Ledger) Reward(address string, amount int64) error {
	if amount < 0 {
		return model.ErrInvalidAmount.With("reward must not be negative")
	}
	a, err := l.mustGet(address)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.ReputationBalance += amount
	a.CorrectValidations++
	a.mu.Unlock()
	l.supply.Add(amount)
	return nil
}

// Slash removes min(amount, balance) and returns what was taken. The staked
// amount is capped at the new balance.
func (l *Ledger) Slash(address string, amount int64) (int64, error) {
	if amount < 0 {
		return 0, model.ErrInvalidAmount.With("slash must not be negative")
	}
	a, err := l.mustGet(address)
	if err != nil {
		return 0, err
	}
	a.mu.Lock()
	taken := min(amount, a.ReputationBalance)
	a.ReputationBalance -= taken
	if a.StakedAmount > a.ReputationBalance {
		a.StakedAmount = a.ReputationBalance
	}
	a.mu.Unlock()
	l.supply.Add(-taken)
	return taken, nil
}

// RecordValidation counts one participation in a decided round.
func (l *Ledger) RecordValidation(address string) error {
	a, err := l.mustGet(address)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.TotalValidations++
	a.mu.Unlock()
	return nil
}

// Mint credits amount to an existing account outside the reward flow.
func (l *Ledger) Mint(ctx context.Context, address string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, model.ErrInvalidAmount.With("mint must be positive")
	}
	a, err := l.mustGet(address)
	if err != nil {
		return 0, err
	}

	op, err := ledger.NewOperation(ledger.KindMint, l.now(), MintPayload{Amount: amount})
	if err != nil {
		return 0, err
	}
	op.Actor = address

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, err := ledger.Submit(ctx, l.journal, op); err != nil {
		return 0, err
	}
	a.ReputationBalance += amount
	l.supply.Add(amount)
	return a.ReputationBalance, nil
}

// AccuracyRate returns the account's floored accuracy percentage.
func (l *Ledger) AccuracyRate(address string) (int64, error) {
	acct, err := l.Get(address)
	if err != nil {
		return 0, err
	}
	return acct.AccuracyRate(), nil
}

// Get returns a snapshot of the account.
func (l *Ledger) Get(address string) (model.Account, error) {
	a, err := l.mustGet(address)
	if err != nil {
		return model.Account{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Account, nil
}

// Accounts returns snapshots of every account ordered by address.
func (l *Ledger) Accounts() []model.Account {
	l.mu.RLock()
	all := make([]*account, 0, len(l.accounts))
	for _, a := range l.accounts {
		all = append(all, a)
	}
	l.mu.RUnlock()

	out := make([]model.Account, 0, len(all))
	for _, a := range all {
		a.mu.Lock()
		out = append(out, a.Account)
		a.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// TotalSupply is the sum of all balances.
func (l *Ledger) TotalSupply() int64 {
	return l.supply.Load()
}

// Count returns the number of opted-in accounts.
func (l *Ledger) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.accounts)
}
