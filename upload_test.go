package proofflow_test

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/raulk/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pf "github.com/proofflow/proofflow"
	"github.com/proofflow/proofflow/backend/mock"
	"github.com/proofflow/proofflow/pieces"
)

func newTestUploader(t *testing.T, store pf.PieceStore, opts ...pf.Option) *pf.Uploader {
	t.Helper()
	mc := clock.NewMock()
	mc.Set(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	return pf.NewUploader(newTestPreflighter(t, opts...),
		pf.WithPieceStore(store),
		pf.WithUploadClock(mc),
		pf.WithWatchdogOptions(pf.WithWatchTimeout(200*time.Millisecond), pf.WithPollInterval(time.Millisecond)),
	)
}

func TestUpload_ExistingDataSetConfirmed(t *testing.T) {
	store := pieces.NewMemoryStore()
	c := mock.New(
		mock.WithStates(sufficientState()),
		mock.WithDataSets([]pf.DataSet{mock.DataSetWith(1)}),
	)
	obs := &recorder{}

	res, err := newTestUploader(t, store).Upload(context.Background(), c, pf.File{Name: "a.txt", Data: []byte("hello")}, obs)
	require.NoError(t, err)

	want, err := mock.PieceCID([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, want, res.PieceCID)
	assert.Equal(t, pf.WatchConfirmed, res.Confirmation)
	require.NotNil(t, res.TxHash)
	assert.Equal(t, common.HexToHash("0xadd"), *res.TxHash)
	assert.NotEmpty(t, res.UploadID)

	assert.Equal(t, []int{0, 5, 25, 30, 55, 80, 90, 100}, obs.Progress())
	assert.Equal(t, "Initializing file upload to Filecoin", obs.Statuses()[0])
	assert.Equal(t, []string{"check", "create_storage"}, c.Calls())

	rec, err := store.Get(context.Background(), want.String())
	require.NoError(t, err)
	assert.Equal(t, "a.txt", rec.FileName)
	assert.Equal(t, int64(5), rec.FileSize)
	assert.Equal(t, mock.DefaultAddress.Hex(), rec.Owner)
	assert.Equal(t, res.TxHash.Hex(), rec.TxHash)
	assert.Equal(t, res.UploadID, rec.UploadID)
	assert.Equal(t, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC), rec.CreatedAt)
}

func TestUpload_FirstDataSetIncludesCreationFee(t *testing.T) {
	c := mock.New(
		mock.WithStates(sufficientState()),
		mock.WithStorage(mock.NewStorage(mock.WithNewDataSet())),
	)
	obs := &recorder{}

	u := newTestUploader(t, pieces.NewMemoryStore(), pf.WithDataSetCreationFee(big.NewInt(2_000_000)))
	res, err := u.Upload(context.Background(), c, pf.File{Name: "b", Data: []byte("first")}, obs)
	require.NoError(t, err)

	assert.Equal(t, []string{"check", "deposit", "approve", "create_storage"}, c.Calls())
	assert.Equal(t, "2000000", res.Preflight.Deposited.String())
	assert.Equal(t, []int{0, 5, 10, 20, 25, 35, 45, 45, 50, 55, 80, 90, 100}, obs.Progress())
	assert.Contains(t, obs.Statuses(), "Data set ready (6s)")
}

func TestUpload_WatchdogConfirmsPiece(t *testing.T) {
	piece, err := mock.PieceCID([]byte("slow"))
	require.NoError(t, err)

	c := mock.New(
		mock.WithStates(sufficientState()),
		mock.WithStorage(mock.NewStorage(mock.WithoutConfirmation())),
		mock.WithDataSets(
			[]pf.DataSet{mock.DataSetWith(1)},
			[]pf.DataSet{mock.DataSetWith(1)},
			[]pf.DataSet{mock.DataSetWith(1, piece)},
		),
	)
	obs := &recorder{}

	res, err := newTestUploader(t, pieces.NewMemoryStore()).Upload(context.Background(), c, pf.File{Name: "s", Data: []byte("slow")}, obs)
	require.NoError(t, err)

	assert.Equal(t, pf.WatchConfirmed, res.Confirmation)
	assert.Equal(t, 3, c.Lookups())
	assert.Equal(t, []int{0, 5, 25, 30, 55, 80, 85, 95, 100}, obs.Progress())
}

func TestUpload_WatchdogTimeoutIsNotAnError(t *testing.T) {
	c := mock.New(
		mock.WithStates(sufficientState()),
		mock.WithStorage(mock.NewStorage(mock.WithoutConfirmation())),
	)

	res, err := newTestUploader(t, pieces.NewMemoryStore()).Upload(context.Background(), c, pf.File{Name: "t", Data: []byte("late")}, nil)
	require.NoError(t, err)
	assert.Equal(t, pf.WatchTimedOut, res.Confirmation)
}

func TestUpload_RelayedPieceHasNoTxHash(t *testing.T) {
	store := pieces.NewMemoryStore()
	c := mock.New(
		mock.WithStates(sufficientState()),
		mock.WithStorage(mock.NewStorage(mock.WithPieceTx(nil))),
	)
	obs := &recorder{}

	res, err := newTestUploader(t, store).Upload(context.Background(), c, pf.File{Name: "r", Data: []byte("relay")}, obs)
	require.NoError(t, err)
	assert.Nil(t, res.TxHash)
	assert.Contains(t, obs.Statuses(), "Waiting for on-chain confirmation (relayed)")

	rec, err := store.Get(context.Background(), res.PieceCID.String())
	require.NoError(t, err)
	assert.Empty(t, rec.TxHash)
}

func TestUpload_PieceNotAddedSkipsWatchdog(t *testing.T) {
	c := mock.New(
		mock.WithStates(sufficientState()),
		mock.WithStorage(mock.NewStorage(mock.WithoutPieceAdded())),
	)

	res, err := newTestUploader(t, pieces.NewMemoryStore()).Upload(context.Background(), c, pf.File{Name: "n", Data: []byte("x")}, nil)
	require.NoError(t, err)
	assert.Equal(t, pf.WatchPending, res.Confirmation)
	assert.Equal(t, 1, c.Lookups())
}

func TestUpload_Preconditions(t *testing.T) {
	u := newTestUploader(t, pieces.NewMemoryStore())

	_, err := u.Upload(context.Background(), nil, pf.File{Data: []byte("x")}, nil)
	assert.ErrorIs(t, err, pf.ErrNotConnected)

	c := mock.New()
	_, err = u.Upload(context.Background(), c, pf.File{Name: "empty"}, nil)
	assert.ErrorIs(t, err, pf.ErrEmptyFile)
	assert.True(t, pf.IsPrecondition(err))
	assert.Empty(t, c.Calls())
}

func TestUpload_PreflightFailureStopsUpload(t *testing.T) {
	boom := errors.New("rpc down")
	c := mock.New(mock.WithCheckError(boom))

	_, err := newTestUploader(t, pieces.NewMemoryStore()).Upload(context.Background(), c, pf.File{Name: "f", Data: []byte("x")}, nil)
	assert.ErrorIs(t, err, boom)

	var pe *pf.PreflightError
	assert.True(t, errors.As(err, &pe))
	assert.NotContains(t, c.Calls(), "create_storage")
}

func TestUpload_StorageFailures(t *testing.T) {
	boom := errors.New("no providers")
	c := mock.New(mock.WithStates(sufficientState()), mock.WithCreateStorageError(boom))
	_, err := newTestUploader(t, pieces.NewMemoryStore()).Upload(context.Background(), c, pf.File{Name: "f", Data: []byte("x")}, nil)
	assert.ErrorIs(t, err, boom)

	rejected := errors.New("provider rejected piece")
	c = mock.New(mock.WithStates(sufficientState()), mock.WithStorage(mock.NewStorage(mock.WithUploadError(rejected))))
	_, err = newTestUploader(t, pieces.NewMemoryStore()).Upload(context.Background(), c, pf.File{Name: "f", Data: []byte("x")}, nil)
	assert.ErrorIs(t, err, rejected)
}

type failingStore struct{ pf.PieceStore }

func (failingStore) Save(context.Context, pf.PieceRecord) error { return errors.New("disk full") }

func TestUpload_StoreSaveErrorIsReturned(t *testing.T) {
	c := mock.New(mock.WithStates(sufficientState()))
	res, err := newTestUploader(t, failingStore{}).Upload(context.Background(), c, pf.File{Name: "f", Data: []byte("x")}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "save piece record")
	assert.True(t, res.PieceCID.Defined())
}
