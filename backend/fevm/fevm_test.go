package fevm

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/filecoin-project/go-address"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proofflow/proofflow"
)

// Use a known valid 32-byte hex key for all tests.
const validKeyHex = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

// --- key tests ---

func TestParsePrivateKey_Valid(t *testing.T) {
	key, err := parsePrivateKey(validKeyHex)
	require.NoError(t, err)
	assert.NotNil(t, key)
}

func TestParsePrivateKey_With0xPrefix(t *testing.T) {
	key, err := parsePrivateKey("0x" + validKeyHex)
	require.NoError(t, err)
	assert.NotNil(t, key)
}

func TestParsePrivateKey_InvalidHex(t *testing.T) {
	_, err := parsePrivateKey("not-hex-at-all")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid private key hex")
}

func TestParsePrivateKey_WrongLength(t *testing.T) {
	_, err := parsePrivateKey("0123456789abcdef")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "must be 32 bytes")
}

func TestParsePrivateKey_Zero(t *testing.T) {
	_, err := parsePrivateKey("0000000000000000000000000000000000000000000000000000000000000000")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "zero")
}

func TestNewSigner_AddressMatchesGoEthereum(t *testing.T) {
	s, err := newSigner("0x"+validKeyHex, big.NewInt(314159))
	require.NoError(t, err)

	want, err := crypto.HexToECDSA(validKeyHex)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(want.PublicKey), s.address)
	assert.Equal(t, s.address, s.opts.From)
}

func TestTransactOpts_BindsContext(t *testing.T) {
	s, err := newSigner(validKeyHex, big.NewInt(314))
	require.NoError(t, err)

	type key struct{}
	ctx := context.WithValue(context.Background(), key{}, "x")
	opts := s.transactOpts(ctx)
	assert.Equal(t, ctx, opts.Context)
	assert.Nil(t, s.opts.Context, "shared options must not be mutated")
}

func TestDelegatedAddress(t *testing.T) {
	eth := common.HexToAddress("0x52908400098527886E0F7030069857D2E4169EE7")
	a, err := DelegatedAddress(eth)
	require.NoError(t, err)
	assert.Equal(t, address.Delegated, a.Protocol())
	assert.Contains(t, a.String(), "410f")
}

// --- transport tests ---

func TestBearerTransport_SetsHeader(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := &http.Client{Transport: newBearerTransport(nil, "secret")}
	req, err := http.NewRequest(http.MethodPost, srv.URL, nil)
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "Bearer secret", got)
	assert.Empty(t, req.Header.Get("Authorization"), "original request must not be mutated")
}

func TestBearerTransport_NoToken(t *testing.T) {
	base := http.DefaultTransport
	assert.Equal(t, base, newBearerTransport(base, ""))
}

// --- allowance math ---

func TestAllowanceState_ComputesNeeds(t *testing.T) {
	pricing := servicePricing{
		PricePerTiBPerMonthNoCDN:   big.NewInt(2_000_000),
		PricePerTiBPerMonthWithCDN: big.NewInt(3_000_000),
		EpochsPerMonth:             big.NewInt(86400),
	}
	ap := operatorApproval{
		RateAllowance:   big.NewInt(10),
		LockupAllowance: big.NewInt(1000),
		RateUsage:       big.NewInt(4),
		LockupUsage:     big.NewInt(100),
	}
	acct := proofflow.AccountInfo{Funds: big.NewInt(500), LockupCurrent: big.NewInt(100)}

	// 1 TiB with CDN: rate = 3_000_000 / 86400 rounded up = 35.
	q := proofflow.AllowanceQuery{SizeBytes: 1 << 40, WithCDN: true, PersistenceDays: 2}
	st := allowanceState(pricing, ap, acct, q)

	assert.Equal(t, "35", st.PerEpochCost.String())
	assert.Equal(t, "39", st.RateAllowanceNeeded.String())
	lockup := 35 * 2 * 2880
	assert.Equal(t, big.NewInt(int64(100+lockup)).String(), st.LockupAllowanceNeeded.String())
	assert.Equal(t, big.NewInt(int64(lockup-400)).String(), st.DepositAmountNeeded.String())
	assert.Equal(t, "10", st.CurrentRateAllowance.String())
	assert.Equal(t, "100", st.CurrentLockupUsed.String())
}

func TestAllowanceState_SmallFileHasNonZeroRate(t *testing.T) {
	pricing := servicePricing{
		PricePerTiBPerMonthNoCDN: big.NewInt(2_000_000),
		EpochsPerMonth:           big.NewInt(86400),
	}
	st := allowanceState(pricing, operatorApproval{}, proofflow.AccountInfo{}, proofflow.AllowanceQuery{SizeBytes: 1, PersistenceDays: 1})
	assert.Equal(t, "1", st.PerEpochCost.String())
}

func TestAllowanceState_FundedAccountNeedsNoDeposit(t *testing.T) {
	pricing := servicePricing{
		PricePerTiBPerMonthNoCDN: big.NewInt(2_000_000),
		EpochsPerMonth:           big.NewInt(86400),
	}
	acct := proofflow.AccountInfo{Funds: big.NewInt(1_000_000_000)}
	st := allowanceState(pricing, operatorApproval{}, acct, proofflow.AllowanceQuery{SizeBytes: 1024, PersistenceDays: 7})
	assert.Equal(t, 0, st.DepositAmountNeeded.Sign())
}

// --- transaction tests ---

type fakeDeployBackend struct {
	receipt *types.Receipt
	err     error
}

func (f *fakeDeployBackend) TransactionReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	return f.receipt, f.err
}

func (f *fakeDeployBackend) CodeAt(context.Context, common.Address, *big.Int) ([]byte, error) {
	return nil, nil
}

func newTestTx() *types.Transaction {
	return types.NewTx(&types.LegacyTx{Nonce: 1, Gas: 21000, GasPrice: big.NewInt(1)})
}

func TestTransactionWait_Success(t *testing.T) {
	tx := &transaction{
		kind:    "deposit",
		tx:      newTestTx(),
		backend: &fakeDeployBackend{receipt: &types.Receipt{Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(7)}},
		log:     discardLogger(),
	}
	assert.NoError(t, tx.Wait(context.Background()))
}

func TestTransactionWait_Reverted(t *testing.T) {
	tx := &transaction{
		kind:    "approve",
		tx:      newTestTx(),
		backend: &fakeDeployBackend{receipt: &types.Receipt{Status: types.ReceiptStatusFailed, BlockNumber: big.NewInt(7)}},
		log:     discardLogger(),
	}
	err := tx.Wait(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, proofflow.ErrTxReverted)

	var te *proofflow.TxError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "approve", te.Kind)
	assert.Equal(t, tx.Hash(), te.Hash)
}

func TestTransactionWait_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tx := &transaction{
		kind:    "deposit",
		tx:      newTestTx(),
		backend: &fakeDeployBackend{err: ethereum.NotFound},
		log:     discardLogger(),
	}
	err := tx.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
