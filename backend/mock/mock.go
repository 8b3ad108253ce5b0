// Package mock provides a scriptable storage client for tests.
package mock

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/proofflow/proofflow"
)

// Default addresses used by New.
var (
	DefaultAddress        = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	DefaultServiceAddress = common.HexToAddress("0x00000000000000000000000000000000000000e5")
)

// Client is a mock storage client. It records every call and answers from
// scripted state.
type Client struct {
	mu sync.Mutex

	address common.Address
	service common.Address
	latency time.Duration

	states    []proofflow.AllowanceState
	stateFunc func(proofflow.AllowanceQuery) (proofflow.AllowanceState, error)
	checkErr  error

	depositErr     error
	depositWaitErr error
	approveErr     error
	approveWaitErr error
	approveWaits   []error
	tokenAllowance *big.Int

	dataSets    [][]proofflow.DataSet
	dataSetsErr error

	storage   *Storage
	createErr error

	txSeq     int64
	queries   []proofflow.AllowanceQuery
	deposits  []*big.Int
	approvals []proofflow.ServiceApproval
	calls     []string
	lookups   int
}

var (
	_ proofflow.Client       = (*Client)(nil)
	_ proofflow.UploadClient = (*Client)(nil)
)

// Option configures a mock Client.
type Option func(*Client)

// New creates a mock client with the given options.
func New(opts ...Option) *Client {
	c := &Client{
		address: DefaultAddress,
		service: DefaultServiceAddress,
		storage: NewStorage(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithAddress sets the client account.
func WithAddress(a common.Address) Option {
	return func(c *Client) { c.address = a }
}

// WithServiceAddress sets the storage service operator.
func WithServiceAddress(a common.Address) Option {
	return func(c *Client) { c.service = a }
}

// WithLatency adds simulated latency to each chain call.
func WithLatency(d time.Duration) Option {
	return func(c *Client) { c.latency = d }
}

// WithStates scripts the states returned by CheckAllowance, one per call.
// The last state repeats.
func WithStates(states ...proofflow.AllowanceState) Option {
	return func(c *Client) { c.states = states }
}

// WithStateFunc computes CheckAllowance answers. It takes precedence over
// WithStates.
func WithStateFunc(fn func(proofflow.AllowanceQuery) (proofflow.AllowanceState, error)) Option {
	return func(c *Client) { c.stateFunc = fn }
}

// WithCheckError makes CheckAllowance fail.
func WithCheckError(err error) Option {
	return func(c *Client) { c.checkErr = err }
}

// WithDepositError makes Deposit fail before submitting.
func WithDepositError(err error) Option {
	return func(c *Client) { c.depositErr = err }
}

// WithDepositWaitError makes deposit confirmation fail.
func WithDepositWaitError(err error) Option {
	return func(c *Client) { c.depositWaitErr = err }
}

// WithApproveError makes ApproveService fail before submitting.
func WithApproveError(err error) Option {
	return func(c *Client) { c.approveErr = err }
}

// WithApproveWaitError makes approval confirmation fail.
func WithApproveWaitError(err error) Option {
	return func(c *Client) { c.approveWaitErr = err }
}

// WithApproveWaitErrors makes the i-th approval confirmation fail with
// errs[i]. Later approvals confirm.
func WithApproveWaitErrors(errs ...error) Option {
	return func(c *Client) { c.approveWaits = errs }
}

// WithTokenAllowance sets the ERC20 allowance the payments contract holds.
// Deposits above it fire the approval hooks.
func WithTokenAllowance(v *big.Int) Option {
	return func(c *Client) { c.tokenAllowance = v }
}

// WithDataSets scripts the data sets returned by DataSets, one slice per
// call. The last slice repeats.
func WithDataSets(sets ...[]proofflow.DataSet) Option {
	return func(c *Client) { c.dataSets = sets }
}

// WithDataSetsError makes DataSets fail.
func WithDataSetsError(err error) Option {
	return func(c *Client) { c.dataSetsErr = err }
}

// WithStorage sets the storage service returned by CreateStorage.
func WithStorage(s *Storage) Option {
	return func(c *Client) { c.storage = s }
}

// WithCreateStorageError makes CreateStorage fail.
func WithCreateStorageError(err error) Option {
	return func(c *Client) { c.createErr = err }
}

func (c *Client) Address() common.Address        { return c.address }
func (c *Client) ServiceAddress() common.Address { return c.service }

func (c *Client) CheckAllowance(ctx context.Context, q proofflow.AllowanceQuery) (proofflow.AllowanceState, error) {
	if err := c.sleep(ctx); err != nil {
		return proofflow.AllowanceState{}, err
	}

	c.mu.Lock()
	c.calls = append(c.calls, "check")
	c.queries = append(c.queries, q)
	n := len(c.queries)
	fn := c.stateFunc
	c.mu.Unlock()

	if c.checkErr != nil {
		return proofflow.AllowanceState{}, c.checkErr
	}
	if fn != nil {
		return fn(q)
	}
	if len(c.states) == 0 {
		return proofflow.AllowanceState{}, nil
	}
	return c.states[min(n, len(c.states))-1], nil
}

func (c *Client) Deposit(ctx context.Context, amount *big.Int, hooks proofflow.DepositHooks) (proofflow.Transaction, error) {
	if err := c.sleep(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.calls = append(c.calls, "deposit")
	if c.depositErr != nil {
		c.mu.Unlock()
		return nil, c.depositErr
	}
	c.deposits = append(c.deposits, new(big.Int).Set(amount))
	current := c.tokenAllowance
	approval := c.nextHash()
	tx := &Tx{hash: c.nextHash(), err: c.depositWaitErr}
	c.mu.Unlock()

	if hooks.OnDepositStarting != nil {
		hooks.OnDepositStarting()
	}
	if current != nil {
		if hooks.OnAllowanceCheck != nil {
			hooks.OnAllowanceCheck(current, amount)
		}
		if current.Cmp(amount) < 0 {
			if hooks.OnApprovalTransaction != nil {
				hooks.OnApprovalTransaction(approval)
			}
			if hooks.OnApprovalConfirmed != nil {
				hooks.OnApprovalConfirmed(approval)
			}
		}
	}
	return tx, nil
}

func (c *Client) ApproveService(ctx context.Context, a proofflow.ServiceApproval) (proofflow.Transaction, error) {
	if err := c.sleep(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls = append(c.calls, "approve")
	if c.approveErr != nil {
		return nil, c.approveErr
	}
	c.approvals = append(c.approvals, a)
	waitErr := c.approveWaitErr
	if n := len(c.approvals); n <= len(c.approveWaits) {
		waitErr = c.approveWaits[n-1]
	}
	return &Tx{hash: c.nextHash(), err: waitErr}, nil
}

func (c *Client) DataSets(ctx context.Context, _ common.Address) ([]proofflow.DataSet, error) {
	if err := c.sleep(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.lookups++
	if c.dataSetsErr != nil {
		return nil, c.dataSetsErr
	}
	if len(c.dataSets) == 0 {
		return nil, nil
	}
	return c.dataSets[min(c.lookups, len(c.dataSets))-1], nil
}

func (c *Client) CreateStorage(ctx context.Context, hooks proofflow.StorageHooks) (proofflow.StorageService, error) {
	if err := c.sleep(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.calls = append(c.calls, "create_storage")
	err := c.createErr
	s := c.storage
	c.mu.Unlock()

	if err != nil {
		return nil, err
	}
	s.resolve(hooks)
	return s, nil
}

// Queries returns the allowance queries received so far.
func (c *Client) Queries() []proofflow.AllowanceQuery {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]proofflow.AllowanceQuery(nil), c.queries...)
}

// Deposits returns the submitted deposit amounts.
func (c *Client) Deposits() []*big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*big.Int(nil), c.deposits...)
}

// Approvals returns the submitted service approvals.
func (c *Client) Approvals() []proofflow.ServiceApproval {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]proofflow.ServiceApproval(nil), c.approvals...)
}

// Calls returns the chain calls in order: "check", "deposit", "approve" and
// "create_storage".
func (c *Client) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

// Lookups returns how many times DataSets was called.
func (c *Client) Lookups() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lookups
}

// nextHash must be called with c.mu held.
func (c *Client) nextHash() common.Hash {
	c.txSeq++
	return common.BigToHash(big.NewInt(c.txSeq))
}

func (c *Client) sleep(ctx context.Context) error {
	if c.latency <= 0 {
		return ctx.Err()
	}
	select {
	case <-time.After(c.latency):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Tx is a mock transaction.
type Tx struct {
	hash common.Hash
	err  error
}

var _ proofflow.Transaction = (*Tx)(nil)

// NewTx creates a transaction whose Wait returns err.
func NewTx(hash common.Hash, err error) *Tx {
	return &Tx{hash: hash, err: err}
}

func (t *Tx) Hash() common.Hash { return t.hash }

func (t *Tx) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return t.err
}
