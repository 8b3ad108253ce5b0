package proofflow

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/ipfs/go-cid"
)

// AllowanceState is a snapshot of a client's on-chain payment authorization
// for the warm storage service, together with the minimums the storage
// service computed for a prospective operation. Amounts are in the smallest
// token unit. Nil fields read as zero.
type AllowanceState struct {
	CurrentRateAllowance   *big.Int
	CurrentRateUsed        *big.Int
	CurrentLockupAllowance *big.Int
	CurrentLockupUsed      *big.Int

	RateAllowanceNeeded   *big.Int
	LockupAllowanceNeeded *big.Int
	DepositAmountNeeded   *big.Int

	// PerEpochCost is the rate cost of the prospective storage.
	PerEpochCost *big.Int
}

// AllowanceQuery describes the storage operation an AllowanceState is
// computed for.
type AllowanceQuery struct {
	SizeBytes       int64
	WithCDN         bool
	PersistenceDays int64
}

// Transaction is a submitted chain write.
type Transaction interface {
	// Hash returns the transaction hash.
	Hash() common.Hash

	// Wait blocks until the transaction is confirmed. A reverted transaction
	// returns an error wrapping ErrTxReverted.
	Wait(ctx context.Context) error
}

// DepositHooks observes the token-approval sub-steps of a deposit.
// Any hook may be nil.
type DepositHooks struct {
	OnDepositStarting     func()
	OnAllowanceCheck      func(current, required *big.Int)
	OnApprovalTransaction func(hash common.Hash)
	OnApprovalConfirmed   func(hash common.Hash)
}

// ServiceApproval authorizes an operator to draw from the client's deposit.
type ServiceApproval struct {
	Service         common.Address
	RateAllowance   *big.Int
	LockupAllowance *big.Int
	MaxLockupPeriod abi.ChainEpoch
}

// DataSet is a client's storage data set with its active pieces.
type DataSet struct {
	ID          uint64
	ProviderID  uint64
	IsLive      bool
	WithCDN     bool
	NextPieceID uint64
	Pieces      []Piece
}

// Piece is a piece stored in a data set.
type Piece struct {
	ID  uint64
	CID cid.Cid
}

// HasPiece reports whether the data set holds the given piece.
func (d DataSet) HasPiece(c cid.Cid) bool {
	for _, p := range d.Pieces {
		if p.CID.Equals(c) {
			return true
		}
	}
	return false
}

// AccountInfo is the client's account in the payments contract.
type AccountInfo struct {
	Funds               *big.Int
	LockupCurrent       *big.Int
	LockupRate          *big.Int
	LockupLastSettledAt abi.ChainEpoch
}

// Available returns the funds not reserved by lockups.
func (a AccountInfo) Available() *big.Int {
	v := new(big.Int).Sub(orZero(a.Funds), orZero(a.LockupCurrent))
	if v.Sign() < 0 {
		return new(big.Int)
	}
	return v
}

// DaysRemaining returns how many days the available funds cover at the
// current lockup rate. With no active rate it returns +Inf.
func (a AccountInfo) DaysRemaining() float64 {
	perDay := new(big.Int).Mul(orZero(a.LockupRate), big.NewInt(EpochsPerDay))
	return daysCovered(a.Available(), perDay)
}

// Balances holds the wallet and deposited balances of a client.
type Balances struct {
	FIL            *big.Int
	USDFCWallet    *big.Int
	USDFCDeposited *big.Int
	USDFCDecimals  uint8
}

// FILFormatted returns the FIL wallet balance in whole FIL.
func (b Balances) FILFormatted() string { return FormatTokenAmount(b.FIL, 18) }

// USDFCWalletFormatted returns the USDFC wallet balance in whole tokens.
func (b Balances) USDFCWalletFormatted() string {
	return FormatTokenAmount(b.USDFCWallet, b.USDFCDecimals)
}

// USDFCDepositedFormatted returns the deposited USDFC balance in whole tokens.
func (b Balances) USDFCDepositedFormatted() string {
	return FormatTokenAmount(b.USDFCDeposited, b.USDFCDecimals)
}

// PieceRecord is the local record of an uploaded piece.
type PieceRecord struct {
	PieceCID  string
	Owner     string
	FileName  string
	FileSize  int64
	TxHash    string
	UploadID  string
	CreatedAt time.Time
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
