package proofflow

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ipfs/go-cid"
	"github.com/raulk/clock"
)

const (
	DefaultWatchTimeout = 90 * time.Second
	DefaultPollInterval = 4 * time.Second
)

// WatchOutcome is the result of waiting for a piece to show up on chain.
type WatchOutcome int

const (
	WatchPending WatchOutcome = iota
	WatchConfirmed
	WatchTimedOut
)

func (o WatchOutcome) String() string {
	switch o {
	case WatchPending:
		return "pending"
	case WatchConfirmed:
		return "confirmed"
	case WatchTimedOut:
		return "timed-out"
	default:
		return "unknown"
	}
}

// Watchdog polls a client's data sets until a newly added piece appears.
type Watchdog struct {
	lister   DataSetLister
	timeout  time.Duration
	interval time.Duration
	clock    clock.Clock
	meter    Meter
}

// WatchdogOption configures a Watchdog.
type WatchdogOption func(*Watchdog)

// WithWatchTimeout sets how long to wait before giving up (default 90s).
func WithWatchTimeout(d time.Duration) WatchdogOption {
	return func(w *Watchdog) { w.timeout = d }
}

// WithPollInterval sets the delay between lookups (default 4s).
func WithPollInterval(d time.Duration) WatchdogOption {
	return func(w *Watchdog) { w.interval = d }
}

// WithWatchClock sets the clock.
func WithWatchClock(c clock.Clock) WatchdogOption {
	return func(w *Watchdog) { w.clock = c }
}

// WithWatchMeter sets the meter.
func WithWatchMeter(m Meter) WatchdogOption {
	return func(w *Watchdog) { w.meter = m }
}

// NewWatchdog creates a Watchdog that looks pieces up through lister.
func NewWatchdog(lister DataSetLister, opts ...WatchdogOption) *Watchdog {
	w := &Watchdog{
		lister:   lister,
		timeout:  DefaultWatchTimeout,
		interval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.clock == nil {
		w.clock = clock.New()
	}
	if w.meter == nil {
		w.meter = noopMeter{}
	}
	return w
}

// Wait polls until piece is found in one of owner's data sets.
//
// It returns WatchConfirmed when the piece is found and WatchTimedOut when
// the deadline passes; a timeout is not an error. If ctx is cancelled first,
// it returns WatchPending with the context error. Lookup errors do not stop
// the watch.
func (w *Watchdog) Wait(ctx context.Context, owner common.Address, piece cid.Cid) (WatchOutcome, error) {
	if !piece.Defined() {
		return WatchPending, nil
	}

	start := w.clock.Now()
	deadline := start.Add(w.timeout)
	ev := WatchEvent{Owner: owner, PieceCID: piece.String()}

	finish := func(o WatchOutcome, err error) (WatchOutcome, error) {
		ev.Outcome = o
		ev.Elapsed = w.clock.Now().Sub(start)
		w.meter.OnWatch(ev)
		return o, err
	}

	for w.clock.Now().Before(deadline) {
		ev.Polls++
		found, err := w.lookup(ctx, owner, piece)
		if err != nil {
			ev.Errors++
		}
		if found {
			return finish(WatchConfirmed, nil)
		}

		t := w.clock.Timer(w.interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return finish(WatchPending, ctx.Err())
		case <-t.C:
		}
	}

	return finish(WatchTimedOut, nil)
}

func (w *Watchdog) lookup(ctx context.Context, owner common.Address, piece cid.Cid) (bool, error) {
	sets, err := w.lister.DataSets(ctx, owner)
	if err != nil {
		return false, err
	}
	for _, ds := range sets {
		if ds.HasPiece(piece) {
			return true, nil
		}
	}
	return false, nil
}
