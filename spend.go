package proofflow

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/raulk/clock"
)

// DepositTracker tracks per-client confirmed deposits with daily reset.
type DepositTracker struct {
	mu       sync.Mutex
	clock    clock.Clock
	limit    *big.Int
	accounts map[common.Address]*big.Int
	resetDay int // day of year for last reset
}

// NewDepositTracker creates a DepositTracker. A nil or zero limit means
// unlimited.
func NewDepositTracker(limit *big.Int, clk clock.Clock) *DepositTracker {
	if clk == nil {
		clk = clock.New()
	}
	l := new(big.Int)
	if limit != nil {
		l.Set(limit)
	}
	return &DepositTracker{
		clock:    clk,
		limit:    l,
		accounts: make(map[common.Address]*big.Int),
		resetDay: clk.Now().UTC().YearDay(),
	}
}

// Allow returns ErrDepositCapExceeded if depositing amount would take the
// client past the daily limit.
func (t *DepositTracker) Allow(client common.Address, amount *big.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.checkReset()

	if t.limit.Sign() == 0 {
		return nil
	}
	total := new(big.Int).Add(t.spent(client), amount)
	if total.Cmp(t.limit) > 0 {
		return ErrDepositCapExceeded
	}
	return nil
}

// RecordDeposit records a confirmed deposit for a client.
func (t *DepositTracker) RecordDeposit(client common.Address, amount *big.Int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.checkReset()

	t.accounts[client] = new(big.Int).Add(t.spent(client), amount)
}

// Deposited returns the current daily deposit total for a client.
func (t *DepositTracker) Deposited(client common.Address) *big.Int {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.checkReset()

	return new(big.Int).Set(t.spent(client))
}

func (t *DepositTracker) spent(client common.Address) *big.Int {
	if v, ok := t.accounts[client]; ok {
		return v
	}
	return new(big.Int)
}

// checkReset resets all totals if the day has changed. Must be called with
// lock held.
func (t *DepositTracker) checkReset() {
	today := t.clock.Now().UTC().YearDay()
	if today != t.resetDay {
		t.accounts = make(map[common.Address]*big.Int)
		t.resetDay = today
	}
}
