package proofflow

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Sentinel errors.
var (
	ErrNotConnected       = errors.New("proofflow: client not initialized or wallet not connected")
	ErrTxReverted         = errors.New("proofflow: transaction reverted")
	ErrDepositCapExceeded = errors.New("proofflow: daily deposit cap exceeded")
	ErrPieceNotFound      = errors.New("proofflow: piece not found")
	ErrEmptyFile          = errors.New("proofflow: file is empty")
	ErrInvalidAmount      = errors.New("proofflow: invalid amount")
)

// Phase names a step of a preflight run.
type Phase string

const (
	PhaseCheck   Phase = "check"
	PhaseDeposit Phase = "deposit"
	PhaseApprove Phase = "approve"
)

// PreflightError wraps a preflight failure with the phase it happened in.
type PreflightError struct {
	Err    error
	Phase  Phase
	Client common.Address
	TxHash common.Hash
}

func (e *PreflightError) Error() string {
	if e.TxHash != (common.Hash{}) {
		return fmt.Sprintf("proofflow: preflight phase=%s client=%s tx=%s: %v",
			e.Phase, e.Client.Hex(), e.TxHash.Hex(), e.Err)
	}
	return fmt.Sprintf("proofflow: preflight phase=%s client=%s: %v", e.Phase, e.Client.Hex(), e.Err)
}

func (e *PreflightError) Unwrap() error {
	return e.Err
}

// TxError wraps a failed transaction confirmation.
type TxError struct {
	Err  error
	Kind string
	Hash common.Hash
}

func (e *TxError) Error() string {
	return fmt.Sprintf("proofflow: %s tx %s: %v", e.Kind, e.Hash.Hex(), e.Err)
}

func (e *TxError) Unwrap() error {
	return e.Err
}

// IsTransactionFailure returns true if err came from submitting or confirming
// a deposit or approval transaction.
func IsTransactionFailure(err error) bool {
	var pe *PreflightError
	if errors.As(err, &pe) {
		return pe.Phase == PhaseDeposit || pe.Phase == PhaseApprove
	}
	var te *TxError
	return errors.As(err, &te)
}

// IsPrecondition returns true if err was raised before any chain call.
func IsPrecondition(err error) bool {
	return errors.Is(err, ErrNotConnected) || errors.Is(err, ErrEmptyFile)
}
