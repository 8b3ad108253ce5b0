// Package fevm implements proofflow.Client against the Filecoin EVM payments,
// warm storage and PDP verifier contracts.
package fevm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"sort"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/filecoin-project/go-address"
	fabi "github.com/filecoin-project/go-state-types/abi"
	"github.com/ipfs/go-cid"
	"golang.org/x/sync/errgroup"

	"github.com/proofflow/proofflow"
)

// piecesPageSize is the page size for getActivePieces.
const piecesPageSize = 100

// tebibyte is the size unit service prices are quoted in.
var tebibyte = new(big.Int).Lsh(big.NewInt(1), 40)

// Backend is the chain access a Client needs. *ethclient.Client satisfies it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// Client is a storage client bound to a single account.
type Client struct {
	backend Backend
	signer  *signer
	log     *slog.Logger
	closer  func()

	usdfcAddr   common.Address
	paymentsAdr common.Address
	serviceAddr common.Address

	payments    *bind.BoundContract
	usdfc       *bind.BoundContract
	warmStorage *bind.BoundContract
	view        *bind.BoundContract
	pdp         *bind.BoundContract
}

var (
	_ proofflow.Client        = (*Client)(nil)
	_ proofflow.DataSetLister = (*Client)(nil)
)

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger. Transactions are logged at Debug.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// Dial connects to the RPC endpoint in cfg and returns a Client for the
// configured private key.
func Dial(ctx context.Context, cfg proofflow.Config, opts ...Option) (*Client, error) {
	if cfg.PrivateKey == "" {
		return nil, proofflow.ErrNotConnected
	}

	httpClient := &http.Client{Transport: newBearerTransport(nil, cfg.RPCToken)}
	rc, err := rpc.DialOptions(ctx, cfg.RPCURL, rpc.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("fevm: dial %s: %w", cfg.RPCURL, err)
	}
	eth := ethclient.NewClient(rc)

	c, err := New(eth, cfg.PrivateKey, big.NewInt(cfg.ChainID()), cfg.Contracts, opts...)
	if err != nil {
		eth.Close()
		return nil, err
	}
	c.closer = eth.Close
	return c, nil
}

// New creates a Client on top of backend.
func New(backend Backend, privateKey string, chainID *big.Int, contracts proofflow.ContractsConfig, opts ...Option) (*Client, error) {
	s, err := newSigner(privateKey, chainID)
	if err != nil {
		return nil, err
	}

	c := &Client{
		backend:     backend,
		signer:      s,
		usdfcAddr:   common.HexToAddress(contracts.USDFC),
		paymentsAdr: common.HexToAddress(contracts.Payments),
		serviceAddr: common.HexToAddress(contracts.WarmStorage),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = slog.New(slog.DiscardHandler)
	}

	c.payments = bind.NewBoundContract(c.paymentsAdr, *paymentsABI, backend, backend, backend)
	c.usdfc = bind.NewBoundContract(c.usdfcAddr, *erc20ABI, backend, backend, backend)
	c.warmStorage = bind.NewBoundContract(c.serviceAddr, *warmStorageABI, backend, backend, backend)
	c.view = bind.NewBoundContract(common.HexToAddress(contracts.WarmStorageView), *warmStorageViewABI, backend, backend, backend)
	c.pdp = bind.NewBoundContract(common.HexToAddress(contracts.PDPVerifier), *pdpVerifierABI, backend, backend, backend)
	return c, nil
}

// Close releases the RPC connection opened by Dial.
func (c *Client) Close() {
	if c.closer != nil {
		c.closer()
	}
}

func (c *Client) Address() common.Address        { return c.signer.address }
func (c *Client) ServiceAddress() common.Address { return c.serviceAddr }

// FilecoinAddress returns the f410 address of the client account.
func (c *Client) FilecoinAddress() (address.Address, error) {
	return DelegatedAddress(c.signer.address)
}

// servicePricing mirrors the getServicePrice return tuple.
type servicePricing struct {
	PricePerTiBPerMonthNoCDN   *big.Int
	PricePerTiBPerMonthWithCDN *big.Int
	TokenAddress               common.Address
	EpochsPerMonth             *big.Int
}

// operatorApproval mirrors the operatorApprovals return values.
type operatorApproval struct {
	IsApproved      bool
	RateAllowance   *big.Int
	LockupAllowance *big.Int
	RateUsage       *big.Int
	LockupUsage     *big.Int
	MaxLockupPeriod *big.Int
}

// CheckAllowance reads pricing, the service approval and the payments
// account, and computes what the queried storage needs.
func (c *Client) CheckAllowance(ctx context.Context, q proofflow.AllowanceQuery) (proofflow.AllowanceState, error) {
	var (
		pricing  servicePricing
		approval operatorApproval
		account  proofflow.AccountInfo
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		pricing, err = c.servicePrice(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		approval, err = c.operatorApproval(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		account, err = c.AccountInfo(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return proofflow.AllowanceState{}, err
	}

	return allowanceState(pricing, approval, account, q), nil
}

// allowanceState computes the needs of q at the given pricing. The rate is
// rounded up so that any non-empty file has a non-zero cost.
func allowanceState(p servicePricing, ap operatorApproval, acct proofflow.AccountInfo, q proofflow.AllowanceQuery) proofflow.AllowanceState {
	price := p.PricePerTiBPerMonthNoCDN
	if q.WithCDN {
		price = p.PricePerTiBPerMonthWithCDN
	}

	rate := new(big.Int)
	denom := new(big.Int).Mul(tebibyte, orOne(p.EpochsPerMonth))
	if price != nil && q.SizeBytes > 0 {
		num := new(big.Int).Mul(price, big.NewInt(q.SizeBytes))
		num.Add(num, new(big.Int).Sub(denom, big.NewInt(1)))
		rate.Quo(num, denom)
	}

	lockup := new(big.Int).Mul(rate, big.NewInt(q.PersistenceDays*proofflow.EpochsPerDay))

	rateNeeded := new(big.Int).Add(orZero(ap.RateUsage), rate)
	lockupNeeded := new(big.Int).Add(orZero(ap.LockupUsage), lockup)

	deposit := new(big.Int).Sub(lockup, acct.Available())
	if deposit.Sign() < 0 {
		deposit.SetInt64(0)
	}

	return proofflow.AllowanceState{
		CurrentRateAllowance:   orZero(ap.RateAllowance),
		CurrentRateUsed:        orZero(ap.RateUsage),
		CurrentLockupAllowance: orZero(ap.LockupAllowance),
		CurrentLockupUsed:      orZero(ap.LockupUsage),
		RateAllowanceNeeded:    rateNeeded,
		LockupAllowanceNeeded:  lockupNeeded,
		DepositAmountNeeded:    deposit,
		PerEpochCost:           rate,
	}
}

// Deposit deposits amount into the payments contract, approving the token
// transfer first when the ERC20 allowance falls short.
func (c *Client) Deposit(ctx context.Context, amount *big.Int, hooks proofflow.DepositHooks) (proofflow.Transaction, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: deposit must be positive", proofflow.ErrInvalidAmount)
	}
	if hooks.OnDepositStarting != nil {
		hooks.OnDepositStarting()
	}

	out, err := c.call(ctx, c.usdfc, "allowance", c.signer.address, c.paymentsAdr)
	if err != nil {
		return nil, err
	}
	current := toBig(out[0])
	if hooks.OnAllowanceCheck != nil {
		hooks.OnAllowanceCheck(current, amount)
	}

	if current.Cmp(amount) < 0 {
		approve, err := c.transact(ctx, c.usdfc, "approve", "token_approve", c.paymentsAdr, amount)
		if err != nil {
			return nil, err
		}
		if hooks.OnApprovalTransaction != nil {
			hooks.OnApprovalTransaction(approve.Hash())
		}
		if err := approve.Wait(ctx); err != nil {
			return nil, err
		}
		if hooks.OnApprovalConfirmed != nil {
			hooks.OnApprovalConfirmed(approve.Hash())
		}
	}

	return c.transact(ctx, c.payments, "deposit", "deposit", c.usdfcAddr, c.signer.address, amount)
}

// Withdraw withdraws amount of available funds from the payments contract.
func (c *Client) Withdraw(ctx context.Context, amount *big.Int) (proofflow.Transaction, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: withdrawal must be positive", proofflow.ErrInvalidAmount)
	}
	return c.transact(ctx, c.payments, "withdraw", "withdraw", c.usdfcAddr, amount)
}

// ApproveService approves an operator for the given allowances.
func (c *Client) ApproveService(ctx context.Context, a proofflow.ServiceApproval) (proofflow.Transaction, error) {
	return c.transact(ctx, c.payments, "setOperatorApproval", "approve",
		c.usdfcAddr,
		a.Service,
		true,
		orZero(a.RateAllowance),
		orZero(a.LockupAllowance),
		big.NewInt(int64(a.MaxLockupPeriod)),
	)
}

// AccountInfo returns the client's payments account.
func (c *Client) AccountInfo(ctx context.Context) (proofflow.AccountInfo, error) {
	out, err := c.call(ctx, c.payments, "accounts", c.usdfcAddr, c.signer.address)
	if err != nil {
		return proofflow.AccountInfo{}, err
	}
	return proofflow.AccountInfo{
		Funds:               toBig(out[0]),
		LockupCurrent:       toBig(out[1]),
		LockupRate:          toBig(out[2]),
		LockupLastSettledAt: fabi.ChainEpoch(toBig(out[3]).Int64()),
	}, nil
}

// Balances fetches the FIL wallet balance, the USDFC wallet balance and the
// USDFC deposited in the payments contract.
func (c *Client) Balances(ctx context.Context) (proofflow.Balances, error) {
	var b proofflow.Balances

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		v, err := c.backend.BalanceAt(gctx, c.signer.address, nil)
		if err != nil {
			return fmt.Errorf("fevm: FIL balance: %w", err)
		}
		b.FIL = v
		return nil
	})
	g.Go(func() error {
		out, err := c.call(gctx, c.usdfc, "balanceOf", c.signer.address)
		if err != nil {
			return err
		}
		b.USDFCWallet = toBig(out[0])
		return nil
	})
	g.Go(func() error {
		out, err := c.call(gctx, c.usdfc, "decimals")
		if err != nil {
			return err
		}
		b.USDFCDecimals = *abi.ConvertType(out[0], new(uint8)).(*uint8)
		return nil
	})
	g.Go(func() error {
		acct, err := c.AccountInfo(gctx)
		if err != nil {
			return err
		}
		b.USDFCDeposited = acct.Funds
		return nil
	})
	if err := g.Wait(); err != nil {
		return proofflow.Balances{}, err
	}
	return b, nil
}

// DataSets returns owner's data sets with their active pieces, newest first.
func (c *Client) DataSets(ctx context.Context, owner common.Address) ([]proofflow.DataSet, error) {
	out, err := c.call(ctx, c.view, "clientDataSets", owner)
	if err != nil {
		return nil, err
	}
	ids := *abi.ConvertType(out[0], new([]*big.Int)).(*[]*big.Int)

	sets := make([]proofflow.DataSet, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, id := range ids {
		g.Go(func() error {
			ds, err := c.dataSet(gctx, id)
			if err != nil {
				return err
			}
			sets[i] = ds
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(sets, func(i, j int) bool { return sets[i].ID > sets[j].ID })
	return sets, nil
}

// dataSetInfo mirrors the getDataSet return tuple.
type dataSetInfo struct {
	PdpRailId       *big.Int
	CacheMissRailId *big.Int
	CdnRailId       *big.Int
	Payer           common.Address
	Payee           common.Address
	ServiceProvider common.Address
	CommissionBps   *big.Int
	ClientDataSetId *big.Int
	PdpEndEpoch     *big.Int
	ProviderId      *big.Int
}

// pieceData mirrors the PDP Cids struct.
type pieceData struct {
	Data []byte
}

func (c *Client) dataSet(ctx context.Context, id *big.Int) (proofflow.DataSet, error) {
	out, err := c.call(ctx, c.view, "getDataSet", id)
	if err != nil {
		return proofflow.DataSet{}, err
	}
	info := *abi.ConvertType(out[0], new(dataSetInfo)).(*dataSetInfo)

	out, err = c.call(ctx, c.pdp, "dataSetLive", id)
	if err != nil {
		return proofflow.DataSet{}, err
	}
	live := *abi.ConvertType(out[0], new(bool)).(*bool)

	ds := proofflow.DataSet{
		ID:         id.Uint64(),
		ProviderID: orZero(info.ProviderId).Uint64(),
		IsLive:     live,
		WithCDN:    orZero(info.CdnRailId).Sign() > 0,
	}
	if !live {
		return ds, nil
	}

	out, err = c.call(ctx, c.pdp, "getNextPieceId", id)
	if err != nil {
		return proofflow.DataSet{}, err
	}
	ds.NextPieceID = toBig(out[0]).Uint64()

	ds.Pieces, err = c.activePieces(ctx, id)
	if err != nil {
		return proofflow.DataSet{}, err
	}
	return ds, nil
}

func (c *Client) activePieces(ctx context.Context, id *big.Int) ([]proofflow.Piece, error) {
	var pieces []proofflow.Piece
	for offset := int64(0); ; offset += piecesPageSize {
		out, err := c.call(ctx, c.pdp, "getActivePieces", id, big.NewInt(offset), big.NewInt(piecesPageSize))
		if err != nil {
			return nil, err
		}
		data := *abi.ConvertType(out[0], new([]pieceData)).(*[]pieceData)
		pieceIDs := *abi.ConvertType(out[1], new([]*big.Int)).(*[]*big.Int)
		hasMore := *abi.ConvertType(out[2], new(bool)).(*bool)

		if len(data) != len(pieceIDs) {
			return nil, fmt.Errorf("fevm: data set %s: %d pieces with %d ids", id, len(data), len(pieceIDs))
		}
		for i, d := range data {
			pc, err := cid.Cast(d.Data)
			if err != nil {
				return nil, fmt.Errorf("fevm: data set %s piece %s: %w", id, pieceIDs[i], err)
			}
			pieces = append(pieces, proofflow.Piece{ID: pieceIDs[i].Uint64(), CID: pc})
		}
		if !hasMore || len(data) == 0 {
			return pieces, nil
		}
	}
}

func (c *Client) servicePrice(ctx context.Context) (servicePricing, error) {
	out, err := c.call(ctx, c.warmStorage, "getServicePrice")
	if err != nil {
		return servicePricing{}, err
	}
	return *abi.ConvertType(out[0], new(servicePricing)).(*servicePricing), nil
}

func (c *Client) operatorApproval(ctx context.Context) (operatorApproval, error) {
	out, err := c.call(ctx, c.payments, "operatorApprovals", c.usdfcAddr, c.signer.address, c.serviceAddr)
	if err != nil {
		return operatorApproval{}, err
	}
	return operatorApproval{
		IsApproved:      *abi.ConvertType(out[0], new(bool)).(*bool),
		RateAllowance:   toBig(out[1]),
		LockupAllowance: toBig(out[2]),
		RateUsage:       toBig(out[3]),
		LockupUsage:     toBig(out[4]),
		MaxLockupPeriod: toBig(out[5]),
	}, nil
}

func (c *Client) call(ctx context.Context, contract *bind.BoundContract, method string, args ...any) ([]any, error) {
	var out []any
	if err := contract.Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
		return nil, fmt.Errorf("fevm: call %s: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("fevm: call %s: %w", method, errEmptyResult)
	}
	return out, nil
}

func (c *Client) transact(ctx context.Context, contract *bind.BoundContract, method, kind string, args ...any) (*transaction, error) {
	tx, err := contract.Transact(c.signer.transactOpts(ctx), method, args...)
	if err != nil {
		return nil, fmt.Errorf("fevm: send %s: %w", method, err)
	}
	c.log.Debug("transaction submitted",
		"kind", kind,
		"method", method,
		"hash", tx.Hash().Hex(),
		"from", c.signer.address.Hex(),
		"nonce", tx.Nonce(),
	)
	return &transaction{kind: kind, tx: tx, backend: c.backend, log: c.log}, nil
}

var errEmptyResult = errors.New("empty result")

func toBig(v any) *big.Int {
	return abi.ConvertType(v, new(big.Int)).(*big.Int)
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

func orOne(v *big.Int) *big.Int {
	if v == nil || v.Sign() <= 0 {
		return big.NewInt(1)
	}
	return v
}
