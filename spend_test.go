package proofflow_test

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/raulk/clock"
	"github.com/stretchr/testify/assert"

	pf "github.com/proofflow/proofflow"
)

func TestDepositTracker_Limit(t *testing.T) {
	mc := clock.NewMock()
	mc.Set(time.Date(2025, 3, 10, 23, 0, 0, 0, time.UTC))
	tr := pf.NewDepositTracker(big.NewInt(100), mc)
	a := common.HexToAddress("0xa")
	b := common.HexToAddress("0xb")

	assert.NoError(t, tr.Allow(a, big.NewInt(100)))
	tr.RecordDeposit(a, big.NewInt(60))
	assert.NoError(t, tr.Allow(a, big.NewInt(40)))
	assert.ErrorIs(t, tr.Allow(a, big.NewInt(41)), pf.ErrDepositCapExceeded)

	// Other clients have their own budget.
	assert.NoError(t, tr.Allow(b, big.NewInt(100)))
	assert.Equal(t, "60", tr.Deposited(a).String())

	mc.Add(2 * time.Hour)
	assert.Equal(t, 0, tr.Deposited(a).Sign())
	assert.NoError(t, tr.Allow(a, big.NewInt(100)))
}

func TestDepositTracker_ZeroLimitIsUnlimited(t *testing.T) {
	tr := pf.NewDepositTracker(nil, nil)
	a := common.HexToAddress("0xa")

	tr.RecordDeposit(a, big.NewInt(1_000_000))
	assert.NoError(t, tr.Allow(a, big.NewInt(1_000_000_000)))
	assert.Equal(t, "1000000", tr.Deposited(a).String())
}

func TestDepositTracker_DepositedIsACopy(t *testing.T) {
	tr := pf.NewDepositTracker(big.NewInt(10), nil)
	a := common.HexToAddress("0xa")
	tr.RecordDeposit(a, big.NewInt(5))

	tr.Deposited(a).SetInt64(0)
	assert.Equal(t, "5", tr.Deposited(a).String())
}
