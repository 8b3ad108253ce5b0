package mock

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ipfs/go-cid"

	"github.com/proofflow/proofflow"
)

// Storage is a mock storage service.
type Storage struct {
	mu sync.Mutex

	newDataSet bool
	uploadErr  error
	txHash     *common.Hash
	added      bool
	confirmed  bool

	uploads [][]byte
}

var _ proofflow.StorageService = (*Storage)(nil)

// StorageOption configures a mock Storage.
type StorageOption func(*Storage)

// NewStorage creates a mock storage service. By default it resolves an
// existing data set, adds the piece with a transaction and confirms it.
func NewStorage(opts ...StorageOption) *Storage {
	h := common.HexToHash("0xadd")
	s := &Storage{txHash: &h, added: true, confirmed: true}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithNewDataSet makes CreateStorage report creating a data set.
func WithNewDataSet() StorageOption {
	return func(s *Storage) { s.newDataSet = true }
}

// WithUploadError makes Upload fail.
func WithUploadError(err error) StorageOption {
	return func(s *Storage) { s.uploadErr = err }
}

// WithPieceTx sets the add-pieces transaction hash. Nil means relayed.
func WithPieceTx(h *common.Hash) StorageOption {
	return func(s *Storage) { s.txHash = h }
}

// WithoutConfirmation makes Upload report the piece as added but never
// confirmed, leaving confirmation to the watchdog.
func WithoutConfirmation() StorageOption {
	return func(s *Storage) { s.confirmed = false }
}

// WithoutPieceAdded makes Upload skip both piece hooks.
func WithoutPieceAdded() StorageOption {
	return func(s *Storage) { s.added, s.confirmed = false, false }
}

func (s *Storage) resolve(hooks proofflow.StorageHooks) {
	if hooks.OnProviderSelected != nil {
		hooks.OnProviderSelected()
	}
	if !s.newDataSet {
		if hooks.OnDataSetResolved != nil {
			hooks.OnDataSetResolved()
		}
		return
	}
	if hooks.OnDataSetCreationStarted != nil {
		hooks.OnDataSetCreationStarted()
	}
	if hooks.OnDataSetCreationProgress != nil {
		hooks.OnDataSetCreationProgress(proofflow.DataSetCreationStatus{TransactionSuccess: true, ElapsedMs: 2000})
		hooks.OnDataSetCreationProgress(proofflow.DataSetCreationStatus{TransactionSuccess: true, ServerConfirmed: true, ElapsedMs: 6000})
	}
}

func (s *Storage) Upload(ctx context.Context, data []byte, hooks proofflow.UploadHooks) (cid.Cid, error) {
	if err := ctx.Err(); err != nil {
		return cid.Undef, err
	}

	s.mu.Lock()
	s.uploads = append(s.uploads, append([]byte(nil), data...))
	s.mu.Unlock()

	if s.uploadErr != nil {
		return cid.Undef, s.uploadErr
	}

	piece, err := PieceCID(data)
	if err != nil {
		return cid.Undef, err
	}
	if hooks.OnUploadComplete != nil {
		hooks.OnUploadComplete(piece)
	}
	if s.added && hooks.OnPieceAdded != nil {
		hooks.OnPieceAdded(s.txHash)
	}
	if s.confirmed && hooks.OnPieceConfirmed != nil {
		hooks.OnPieceConfirmed()
	}
	return piece, nil
}

// Uploads returns the uploaded payloads.
func (s *Storage) Uploads() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.uploads...)
}

// PieceCID returns the deterministic CID the mock assigns to data.
func PieceCID(data []byte) (cid.Cid, error) {
	// raw codec, sha2-256
	return cid.Prefix{Version: 1, Codec: cid.Raw, MhType: 0x12, MhLength: -1}.Sum(data)
}

// DataSetWith returns a live data set holding the given pieces.
func DataSetWith(id uint64, pieces ...cid.Cid) proofflow.DataSet {
	ds := proofflow.DataSet{ID: id, IsLive: true, NextPieceID: uint64(len(pieces))}
	for i, p := range pieces {
		ds.Pieces = append(ds.Pieces, proofflow.Piece{ID: uint64(i), CID: p})
	}
	return ds
}
