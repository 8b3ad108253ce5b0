package proofflow

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/google/uuid"
	"github.com/raulk/clock"
)

// Progress reported by a preflight run. The upload workflow reserves 0..50
// for preflight and data set setup.
const (
	ProgressDeposited = 10
	ProgressApproved  = 20
)

// Preflighter checks a client's allowances before a storage operation and
// tops them up when they fall short.
type Preflighter struct {
	cfg        StorageConfig
	calculator Calculator
	deposits   *DepositTracker
	guard      *inflightGuard
	meter      Meter
	clock      clock.Clock
}

// Option configures a Preflighter.
type Option func(*Preflighter)

// WithMeter sets the meter.
func WithMeter(m Meter) Option {
	return func(p *Preflighter) { p.meter = m }
}

// WithClock sets the clock used for timings and the daily deposit reset.
func WithClock(c clock.Clock) Option {
	return func(p *Preflighter) { p.clock = c }
}

// WithDepositTracker sets the deposit tracker. It replaces the tracker built
// from StorageConfig.MaxDailyDeposit.
func WithDepositTracker(t *DepositTracker) Option {
	return func(p *Preflighter) { p.deposits = t }
}

// WithDataSetCreationFee overrides the fee charged for a client's first data
// set.
func WithDataSetCreationFee(fee *big.Int) Option {
	return func(p *Preflighter) { p.calculator.DataSetCreationFee = fee }
}

// NewPreflighter creates a Preflighter for the given storage policy.
func NewPreflighter(cfg StorageConfig, opts ...Option) (*Preflighter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Preflighter{
		cfg:        cfg,
		calculator: Calculator{MinDaysThreshold: cfg.MinDaysThreshold},
		guard:      newInflightGuard(),
	}

	for _, opt := range opts {
		opt(p)
	}

	// Apply defaults after options.
	if p.clock == nil {
		p.clock = clock.New()
	}
	if p.meter == nil {
		p.meter = noopMeter{}
	}
	if p.deposits == nil {
		limit, _ := cfg.DailyDepositCap()
		p.deposits = NewDepositTracker(limit, p.clock)
	}

	return p, nil
}

// Config returns the storage policy.
func (p *Preflighter) Config() StorageConfig {
	return p.cfg
}

// MaxLockupPeriod returns the lockup period granted in service approvals.
func (p *Preflighter) MaxLockupPeriod() abi.ChainEpoch {
	return abi.ChainEpoch(p.cfg.MaxLockupPeriodDays * EpochsPerDay)
}

// PreflightRequest describes the storage operation to prepare for.
type PreflightRequest struct {
	SizeBytes int64

	// IncludeDataSetCreationFee is set when the client has no data set yet.
	IncludeDataSetCreationFee bool
}

// PreflightResult describes what a preflight run did.
type PreflightResult struct {
	RunID       string
	Sufficiency Sufficiency
	Deposited   *big.Int
	DepositTx   common.Hash
	ApprovalTx  common.Hash
}

// Check reads the client's allowances and evaluates them without issuing
// any transaction.
func (p *Preflighter) Check(ctx context.Context, c Client, req PreflightRequest) (Sufficiency, error) {
	if c == nil {
		return Sufficiency{}, ErrNotConnected
	}
	state, err := c.CheckAllowance(ctx, p.query(req))
	if err != nil {
		return Sufficiency{}, &PreflightError{Err: err, Phase: PhaseCheck, Client: c.Address()}
	}
	return p.calculator.Evaluate(state, req.IncludeDataSetCreationFee), nil
}

// Preflight makes sure the client's deposit and service approval cover the
// requested storage operation. When allowances are already sufficient it
// returns without issuing transactions. Otherwise it deposits the shortfall,
// waits for confirmation, then approves the service and waits again.
//
// Runs for the same client are serialized. Failures are returned as
// *PreflightError and nothing is rolled back: a confirmed deposit stays in
// place and a retry re-reads state, so it will not deposit again.
func (p *Preflighter) Preflight(ctx context.Context, c Client, req PreflightRequest, obs Observer) (PreflightResult, error) {
	if c == nil {
		return PreflightResult{}, ErrNotConnected
	}

	client := c.Address()
	release, err := p.guard.acquire(ctx, client)
	if err != nil {
		return PreflightResult{}, &PreflightError{Err: err, Phase: PhaseCheck, Client: client}
	}
	defer release()

	run := &preflightRun{
		p:      p,
		c:      c,
		client: client,
		obs:    guardProgress(obs),
		result: PreflightResult{
			RunID:     uuid.New().String(),
			Deposited: new(big.Int),
		},
	}

	start := p.clock.Now()
	err = run.execute(ctx, req)

	p.meter.OnPreflight(PreflightEvent{
		RunID:      run.result.RunID,
		Client:     client,
		SizeBytes:  req.SizeBytes,
		Sufficient: run.result.Sufficiency.IsSufficient,
		Deposited:  run.result.Deposited,
		Approved:   run.result.ApprovalTx != (common.Hash{}),
		Duration:   p.clock.Now().Sub(start),
		Error:      err,
	})

	return run.result, err
}

func (p *Preflighter) query(req PreflightRequest) AllowanceQuery {
	return AllowanceQuery{
		SizeBytes:       req.SizeBytes,
		WithCDN:         p.cfg.WithCDN,
		PersistenceDays: p.cfg.PersistencePeriodDays,
	}
}

// preflightRun holds the state of a single Preflight call.
type preflightRun struct {
	p      *Preflighter
	c      Client
	client common.Address
	obs    Observer
	result PreflightResult
}

func (r *preflightRun) execute(ctx context.Context, req PreflightRequest) error {
	state, err := r.c.CheckAllowance(ctx, r.p.query(req))
	if err != nil {
		return r.fail(PhaseCheck, common.Hash{}, err)
	}

	s := r.p.calculator.Evaluate(state, req.IncludeDataSetCreationFee)
	r.result.Sufficiency = s
	if s.IsSufficient {
		return nil
	}

	r.obs.OnStatus("Insufficient USDFC allowance")

	if s.DepositAmountNeeded.Sign() > 0 {
		if err := r.deposit(ctx, s.DepositAmountNeeded); err != nil {
			return err
		}
	}

	if err := r.approve(ctx, s); err != nil {
		return err
	}

	r.obs.OnStatus("Storage allowances ready")
	return nil
}

func (r *preflightRun) deposit(ctx context.Context, amount *big.Int) error {
	if err := r.p.deposits.Allow(r.client, amount); err != nil {
		return r.fail(PhaseDeposit, common.Hash{}, err)
	}

	r.obs.OnStatus("Depositing USDFC to cover storage costs")

	hooks := DepositHooks{
		OnDepositStarting: func() { r.obs.OnStatus("Depositing USDFC") },
		OnAllowanceCheck: func(current, required *big.Int) {
			verdict := "insufficient"
			if current.Cmp(required) >= 0 {
				verdict = "sufficient"
			}
			r.obs.OnStatus("USDFC token allowance " + verdict)
		},
		OnApprovalTransaction: func(h common.Hash) { r.obs.OnStatus("Approving USDFC " + h.Hex()) },
		OnApprovalConfirmed:   func(h common.Hash) { r.obs.OnStatus("USDFC approved " + h.Hex()) },
	}

	start := r.p.clock.Now()
	tx, err := r.c.Deposit(ctx, amount, hooks)
	if err != nil {
		r.recordTx("deposit", common.Hash{}, amount, start, err)
		return r.fail(PhaseDeposit, common.Hash{}, err)
	}
	r.result.DepositTx = tx.Hash()

	if err := tx.Wait(ctx); err != nil {
		r.recordTx("deposit", tx.Hash(), amount, start, err)
		return r.fail(PhaseDeposit, tx.Hash(), err)
	}
	r.recordTx("deposit", tx.Hash(), amount, start, nil)

	r.p.deposits.RecordDeposit(r.client, amount)
	r.result.Deposited.Set(amount)

	r.obs.OnStatus("USDFC deposited successfully")
	r.obs.OnProgress(ProgressDeposited)
	return nil
}

func (r *preflightRun) approve(ctx context.Context, s Sufficiency) error {
	r.obs.OnStatus("Approving Filecoin Warm Storage service USDFC spending rates")

	approval := ServiceApproval{
		Service:         r.c.ServiceAddress(),
		RateAllowance:   s.RateAllowanceNeeded,
		LockupAllowance: s.LockupAllowanceNeeded,
		MaxLockupPeriod: r.p.MaxLockupPeriod(),
	}

	start := r.p.clock.Now()
	tx, err := r.c.ApproveService(ctx, approval)
	if err != nil {
		r.recordTx("approve", common.Hash{}, s.LockupAllowanceNeeded, start, err)
		return r.fail(PhaseApprove, common.Hash{}, err)
	}
	r.result.ApprovalTx = tx.Hash()

	if err := tx.Wait(ctx); err != nil {
		r.recordTx("approve", tx.Hash(), s.LockupAllowanceNeeded, start, err)
		return r.fail(PhaseApprove, tx.Hash(), err)
	}
	r.recordTx("approve", tx.Hash(), s.LockupAllowanceNeeded, start, nil)

	r.obs.OnStatus("Filecoin Warm Storage service approved to spend USDFC")
	r.obs.OnProgress(ProgressApproved)
	return nil
}

func (r *preflightRun) recordTx(kind string, hash common.Hash, amount *big.Int, start time.Time, err error) {
	r.p.meter.OnTransaction(TransactionEvent{
		RunID:    r.result.RunID,
		Client:   r.client,
		Kind:     kind,
		Hash:     hash,
		Amount:   amount,
		Duration: r.p.clock.Now().Sub(start),
		Error:    err,
	})
}

func (r *preflightRun) fail(phase Phase, hash common.Hash, err error) error {
	return &PreflightError{
		Err:    err,
		Phase:  phase,
		Client: r.client,
		TxHash: hash,
	}
}
