package proofflow

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ipfs/go-cid"
)

// Client is the payments surface a preflight run needs from the storage SDK.
// Implementations are bound to a single client account.
type Client interface {
	// Address returns the client account.
	Address() common.Address

	// ServiceAddress returns the warm storage service operator address.
	ServiceAddress() common.Address

	// CheckAllowance reads the client's current allowances and the minimums
	// needed for the queried storage operation.
	CheckAllowance(ctx context.Context, q AllowanceQuery) (AllowanceState, error)

	// Deposit submits a deposit of amount into the payments contract.
	Deposit(ctx context.Context, amount *big.Int, hooks DepositHooks) (Transaction, error)

	// ApproveService submits an operator approval for the storage service.
	ApproveService(ctx context.Context, approval ServiceApproval) (Transaction, error)
}

// DataSetLister lists a client's data sets with their active pieces.
type DataSetLister interface {
	DataSets(ctx context.Context, owner common.Address) ([]DataSet, error)
}

// StorageProvisioner resolves or creates the data set an upload goes into.
type StorageProvisioner interface {
	CreateStorage(ctx context.Context, hooks StorageHooks) (StorageService, error)
}

// StorageService uploads data to the selected storage provider and adds the
// resulting piece to the data set.
type StorageService interface {
	Upload(ctx context.Context, data []byte, hooks UploadHooks) (cid.Cid, error)
}

// StorageHooks observes data set resolution. Any hook may be nil.
type StorageHooks struct {
	OnProviderSelected        func()
	OnDataSetResolved         func()
	OnDataSetCreationStarted  func()
	OnDataSetCreationProgress func(DataSetCreationStatus)
}

// DataSetCreationStatus reports progress of a new data set.
type DataSetCreationStatus struct {
	TransactionSuccess bool
	ServerConfirmed    bool
	ElapsedMs          int64
}

// UploadHooks observes an upload. Any hook may be nil.
type UploadHooks struct {
	OnUploadComplete func(piece cid.Cid)
	// OnPieceAdded receives the add-pieces transaction hash, or nil when the
	// addition was relayed.
	OnPieceAdded     func(tx *common.Hash)
	OnPieceConfirmed func()
}

// UploadClient is everything an upload run needs.
type UploadClient interface {
	Client
	DataSetLister
	StorageProvisioner
}
