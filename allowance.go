package proofflow

import (
	"math"
	"math/big"

	"github.com/filecoin-project/go-state-types/builtin"
)

// EpochsPerDay is the number of chain epochs in a day.
const EpochsPerDay = builtin.EpochsInDay

// DefaultDataSetCreationFee is charged when a client creates its first data
// set. It is currently zero.
var DefaultDataSetCreationFee = big.NewInt(0)

// Sufficiency is the outcome of evaluating an AllowanceState.
type Sufficiency struct {
	IsSufficient       bool
	IsRateSufficient   bool
	IsLockupSufficient bool

	// RateAllowanceNeeded never shrinks the current rate allowance.
	RateAllowanceNeeded *big.Int
	// LockupAllowanceNeeded and DepositAmountNeeded include the data set
	// creation fee when it applies.
	LockupAllowanceNeeded *big.Int
	DepositAmountNeeded   *big.Int

	CurrentLockupRemaining *big.Int
	LockupPerDay           *big.Int

	// PersistenceDaysLeft is +Inf when LockupPerDay is zero.
	PersistenceDaysLeft float64
}

// Calculator decides whether allowances cover a storage operation.
type Calculator struct {
	// MinDaysThreshold is the minimum number of days the remaining lockup
	// must cover at the prospective rate. Negative values count as zero.
	MinDaysThreshold int64

	// DataSetCreationFee is added to the lockup and deposit needs when the
	// client has no data set yet. Nil means DefaultDataSetCreationFee.
	DataSetCreationFee *big.Int
}

// Evaluate evaluates state with the default data set creation fee.
func Evaluate(state AllowanceState, minDaysThreshold int64, includeDataSetCreationFee bool) Sufficiency {
	return Calculator{MinDaysThreshold: minDaysThreshold}.Evaluate(state, includeDataSetCreationFee)
}

// Evaluate computes sufficiency and top-up amounts for state. It has no side
// effects and never mutates state.
func (c Calculator) Evaluate(state AllowanceState, includeDataSetCreationFee bool) Sufficiency {
	fee := new(big.Int)
	if includeDataSetCreationFee {
		if c.DataSetCreationFee != nil {
			fee.Set(c.DataSetCreationFee)
		} else {
			fee.Set(DefaultDataSetCreationFee)
		}
	}

	minDays := c.MinDaysThreshold
	if minDays < 0 {
		minDays = 0
	}

	currentRate := orZero(state.CurrentRateAllowance)
	rateNeeded := new(big.Int).Set(orZero(state.RateAllowanceNeeded))
	if currentRate.Cmp(rateNeeded) > 0 {
		rateNeeded.Set(currentRate)
	}

	lockupPerDay := new(big.Int).Mul(orZero(state.PerEpochCost), big.NewInt(EpochsPerDay))
	remaining := new(big.Int).Sub(orZero(state.CurrentLockupAllowance), orZero(state.CurrentLockupUsed))

	lockupNeeded := new(big.Int).Add(orZero(state.LockupAllowanceNeeded), fee)
	depositNeeded := new(big.Int).Add(orZero(state.DepositAmountNeeded), fee)

	// Compare the time buffer in integers: remaining >= minDays * lockupPerDay.
	buffer := new(big.Int).Mul(lockupPerDay, big.NewInt(minDays))
	hasTimeBuffer := remaining.Cmp(buffer) >= 0
	if lockupPerDay.Sign() == 0 {
		hasTimeBuffer = true
	}

	isRateSufficient := currentRate.Cmp(rateNeeded) >= 0
	isLockupSufficient := hasTimeBuffer && remaining.Cmp(lockupNeeded) >= 0

	return Sufficiency{
		IsSufficient:           isRateSufficient && isLockupSufficient,
		IsRateSufficient:       isRateSufficient,
		IsLockupSufficient:     isLockupSufficient,
		RateAllowanceNeeded:    rateNeeded,
		LockupAllowanceNeeded:  lockupNeeded,
		DepositAmountNeeded:    depositNeeded,
		CurrentLockupRemaining: remaining,
		LockupPerDay:           lockupPerDay,
		PersistenceDaysLeft:    daysCovered(remaining, lockupPerDay),
	}
}

// daysCovered returns amount/perDay, or +Inf when perDay is zero.
func daysCovered(amount, perDay *big.Int) float64 {
	if perDay.Sign() == 0 {
		return math.Inf(1)
	}
	days, _ := new(big.Rat).SetFrac(amount, perDay).Float64()
	return days
}
