package proofflow

import (
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Observer receives human-readable status lines and progress percentages
// from a preflight or upload run.
type Observer interface {
	OnStatus(message string)
	OnProgress(percent int)
}

// ObserverFuncs adapts plain functions to an Observer. Nil fields are skipped.
type ObserverFuncs struct {
	Status   func(string)
	Progress func(int)
}

func (o ObserverFuncs) OnStatus(message string) {
	if o.Status != nil {
		o.Status(message)
	}
}

func (o ObserverFuncs) OnProgress(percent int) {
	if o.Progress != nil {
		o.Progress(percent)
	}
}

// progressGuard forwards status unchanged and progress only when it does not
// go backwards. Percentages are clamped to 0..100.
type progressGuard struct {
	inner Observer

	mu   sync.Mutex
	last int
}

func guardProgress(obs Observer) *progressGuard {
	if g, ok := obs.(*progressGuard); ok {
		return g
	}
	if obs == nil {
		obs = ObserverFuncs{}
	}
	return &progressGuard{inner: obs, last: -1}
}

func (g *progressGuard) OnStatus(message string) { g.inner.OnStatus(message) }

func (g *progressGuard) OnProgress(percent int) {
	percent = max(0, min(100, percent))

	g.mu.Lock()
	if percent < g.last {
		g.mu.Unlock()
		return
	}
	g.last = percent
	g.mu.Unlock()

	g.inner.OnProgress(percent)
}

// Meter observes preflight, transaction and watchdog events for
// monitoring/logging.
type Meter interface {
	// OnPreflight is called when a preflight run finishes.
	OnPreflight(event PreflightEvent)

	// OnTransaction is called when a transaction is confirmed or fails.
	OnTransaction(event TransactionEvent)

	// OnWatch is called when a confirmation watch finishes.
	OnWatch(event WatchEvent)
}

// PreflightEvent describes a finished preflight run.
type PreflightEvent struct {
	RunID      string
	Client     common.Address
	SizeBytes  int64
	Sufficient bool // allowances were sufficient before any transaction
	Deposited  *big.Int
	Approved   bool
	Duration   time.Duration
	Error      error
}

// TransactionEvent describes a deposit or approval transaction.
type TransactionEvent struct {
	RunID    string
	Client   common.Address
	Kind     string // "deposit" or "approve"
	Hash     common.Hash
	Amount   *big.Int
	Duration time.Duration
	Error    error
}

// WatchEvent describes a finished confirmation watch.
type WatchEvent struct {
	Owner    common.Address
	PieceCID string
	Outcome  WatchOutcome
	Polls    int
	Errors   int
	Elapsed  time.Duration
}

// noopMeter is a meter that does nothing.
type noopMeter struct{}

func (noopMeter) OnPreflight(PreflightEvent)     {}
func (noopMeter) OnTransaction(TransactionEvent) {}
func (noopMeter) OnWatch(WatchEvent)             {}
