package fevm

import (
	"context"
	"log/slog"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/proofflow/proofflow"
)

// transaction is a submitted chain write awaiting its receipt.
type transaction struct {
	kind    string
	tx      *types.Transaction
	backend bind.DeployBackend
	log     *slog.Logger
}

var _ proofflow.Transaction = (*transaction)(nil)

func (t *transaction) Hash() common.Hash { return t.tx.Hash() }

// Wait polls for the receipt. A receipt with a failed status is reported as
// ErrTxReverted.
func (t *transaction) Wait(ctx context.Context) error {
	receipt, err := bind.WaitMined(ctx, t.backend, t.tx)
	if err != nil {
		return &proofflow.TxError{Err: err, Kind: t.kind, Hash: t.tx.Hash()}
	}
	t.log.Debug("transaction mined",
		"kind", t.kind,
		"hash", t.tx.Hash().Hex(),
		"block", receipt.BlockNumber,
		"status", receipt.Status,
		"gas_used", receipt.GasUsed,
	)
	if receipt.Status != types.ReceiptStatusSuccessful {
		return &proofflow.TxError{Err: proofflow.ErrTxReverted, Kind: t.kind, Hash: t.tx.Hash()}
	}
	return nil
}
