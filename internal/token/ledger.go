package token

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/google/uuid"
)

var (
	ErrUnauthorized        = errors.New("token: caller lacks the required role")
	ErrNotOwner            = errors.New("token: caller is not the owner")
	ErrInsufficientBalance = errors.New("token: insufficient balance")
	ErrZeroAmount          = errors.New("token: amount must be positive")
)

// Ledger is the fungible receipt-token balance book. Supply mutation is
// role-gated: minters may Mint/Burn, yield distributors may
// IncreaseBalance. Plain transfers between holders stay open so users can
// escrow tokens into the engine for queued redemption.
//
// IncreaseBalance is the rebase-style yield credit: it raises totalSupply
// and the holder's balance with no corresponding transfer. This is how
// yield compounds without per-user claim transactions.
type Ledger struct {
	mu sync.RWMutex

	owner             uuid.UUID
	minters           map[uuid.UUID]bool
	yieldDistributors map[uuid.UUID]bool

	balances    map[uuid.UUID]*big.Int
	totalSupply *big.Int
}

func NewLedger(owner uuid.UUID) *Ledger {
	return &Ledger{
		owner:             owner,
		minters:           make(map[uuid.UUID]bool),
		yieldDistributors: make(map[uuid.UUID]bool),
		balances:          make(map[uuid.UUID]*big.Int),
		totalSupply:       new(big.Int),
	}
}

// GrantMinter flags an identity as an authorized minter. Owner-only.
func (l *Ledger) GrantMinter(caller, minter uuid.UUID) error {
	if caller != l.owner {
		return ErrNotOwner
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.minters[minter] = true
	return nil
}

// GrantYieldDistributor flags an identity as an authorized yield
// distributor. Owner-only.
func (l *Ledger) GrantYieldDistributor(caller, distributor uuid.UUID) error {
	if caller != l.owner {
		return ErrNotOwner
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.yieldDistributors[distributor] = true
	return nil
}

// Mint creates amount units for to. Minter-only.
func (l *Ledger) Mint(caller, to uuid.UUID, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.minters[caller] {
		return ErrUnauthorized
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}

	l.creditLocked(to, amount)
	l.totalSupply.Add(l.totalSupply, amount)
	return nil
}

// Burn destroys amount units held by from. Minter-only.
func (l *Ledger) Burn(caller, from uuid.UUID, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.minters[caller] {
		return ErrUnauthorized
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	if l.balanceLocked(from).Cmp(amount) < 0 {
		return fmt.Errorf("%w: burn %s > %s", ErrInsufficientBalance, amount, l.balanceLocked(from))
	}

	l.balances[from].Sub(l.balances[from], amount)
	l.totalSupply.Sub(l.totalSupply, amount)
	return nil
}

// IncreaseBalance credits amount to holder and raises totalSupply without
// any transfer semantics. Yield-distributor-only.
func (l *Ledger) IncreaseBalance(caller, holder uuid.UUID, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.yieldDistributors[caller] {
		return ErrUnauthorized
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}

	l.creditLocked(holder, amount)
	l.totalSupply.Add(l.totalSupply, amount)
	return nil
}

// Transfer moves amount between arbitrary holders. Ungated beyond the
// balance check.
func (l *Ledger) Transfer(from, to uuid.UUID, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	if l.balanceLocked(from).Cmp(amount) < 0 {
		return fmt.Errorf("%w: transfer %s > %s", ErrInsufficientBalance, amount, l.balanceLocked(from))
	}

	l.balances[from].Sub(l.balances[from], amount)
	l.creditLocked(to, amount)
	return nil
}

// BalanceOf returns holder's current balance.
func (l *Ledger) BalanceOf(holder uuid.UUID) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return new(big.Int).Set(l.balanceLocked(holder))
}

// TotalSupply returns the current total supply.
func (l *Ledger) TotalSupply() *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return new(big.Int).Set(l.totalSupply)
}

// Balances returns a copy of all nonzero balances (for snapshots).
func (l *Ledger) Balances() map[uuid.UUID]*big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[uuid.UUID]*big.Int, len(l.balances))
	for holder, bal := range l.balances {
		if bal.Sign() != 0 {
			out[holder] = new(big.Int).Set(bal)
		}
	}
	return out
}

// RestoreBalance directly sets a holder balance and adjusts supply
// (snapshot restore only).
func (l *Ledger) RestoreBalance(holder uuid.UUID, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	prev := l.balanceLocked(holder)
	l.totalSupply.Sub(l.totalSupply, prev)
	l.balances[holder] = new(big.Int).Set(amount)
	l.totalSupply.Add(l.totalSupply, amount)
}

func (l *Ledger) balanceLocked(holder uuid.UUID) *big.Int {
	if b, ok := l.balances[holder]; ok {
		return b
	}
	return new(big.Int)
}

func (l *Ledger) creditLocked(holder uuid.UUID, amount *big.Int) {
	b, ok := l.balances[holder]
	if !ok {
		b = new(big.Int)
		l.balances[holder] = b
	}
	b.Add(b, amount)
}
