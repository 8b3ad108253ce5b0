package proofflow

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/ipfs/go-cid"
	"github.com/raulk/clock"
)

// File is a file to upload.
type File struct {
	Name string
	Data []byte
}

// UploadResult describes a finished upload.
type UploadResult struct {
	UploadID     string
	Preflight    PreflightResult
	PieceCID     cid.Cid
	TxHash       *common.Hash // nil when the piece addition was relayed
	Confirmation WatchOutcome
}

// Uploader runs the full upload workflow: preflight, data set setup, upload,
// and on-chain confirmation.
type Uploader struct {
	pf        *Preflighter
	store     PieceStore
	watchOpts []WatchdogOption
	clock     clock.Clock
}

// UploaderOption configures an Uploader.
type UploaderOption func(*Uploader)

// WithPieceStore sets where piece records are saved.
func WithPieceStore(s PieceStore) UploaderOption {
	return func(u *Uploader) { u.store = s }
}

// WithWatchdogOptions configures the confirmation watchdog.
func WithWatchdogOptions(opts ...WatchdogOption) UploaderOption {
	return func(u *Uploader) { u.watchOpts = append(u.watchOpts, opts...) }
}

// WithUploadClock sets the clock used for record timestamps.
func WithUploadClock(c clock.Clock) UploaderOption {
	return func(u *Uploader) { u.clock = c }
}

// NewUploader creates an Uploader that runs preflight through pf.
func NewUploader(pf *Preflighter, opts ...UploaderOption) *Uploader {
	u := &Uploader{pf: pf}
	for _, opt := range opts {
		opt(u)
	}
	if u.store == nil {
		u.store = noopPieceStore{}
	}
	if u.clock == nil {
		u.clock = clock.New()
	}
	return u
}

// Upload uploads f for the client. Progress runs from 0 to 100: 0..20 for
// preflight, 25..50 for data set setup, 55..80 for the upload itself and
// 85..100 for on-chain confirmation.
func (u *Uploader) Upload(ctx context.Context, c UploadClient, f File, obs Observer) (UploadResult, error) {
	if c == nil {
		return UploadResult{}, ErrNotConnected
	}
	if len(f.Data) == 0 {
		return UploadResult{}, ErrEmptyFile
	}

	g := guardProgress(obs)
	res := UploadResult{UploadID: uuid.New().String()}
	owner := c.Address()

	g.OnProgress(0)
	g.OnStatus("Initializing file upload to Filecoin")

	sets, err := c.DataSets(ctx, owner)
	if err != nil {
		return res, fmt.Errorf("proofflow: find data sets: %w", err)
	}

	g.OnStatus("Checking USDFC balance and storage allowances")
	g.OnProgress(5)

	res.Preflight, err = u.pf.Preflight(ctx, c, PreflightRequest{
		SizeBytes:                 int64(len(f.Data)),
		IncludeDataSetCreationFee: len(sets) == 0,
	}, g)
	if err != nil {
		return res, err
	}

	g.OnStatus("Setting up storage service and data set")
	g.OnProgress(25)

	svc, err := c.CreateStorage(ctx, StorageHooks{
		OnProviderSelected: func() { g.OnStatus("Storage provider selected") },
		OnDataSetResolved: func() {
			g.OnStatus("Existing data set found and resolved")
			g.OnProgress(30)
		},
		OnDataSetCreationStarted: func() {
			g.OnStatus("Creating new data set on blockchain")
			g.OnProgress(35)
		},
		OnDataSetCreationProgress: func(s DataSetCreationStatus) {
			if s.TransactionSuccess {
				g.OnStatus("Data set transaction confirmed on chain")
				g.OnProgress(45)
			}
			if s.ServerConfirmed {
				g.OnStatus(fmt.Sprintf("Data set ready (%ds)", s.ElapsedMs/1000))
				g.OnProgress(50)
			}
		},
	})
	if err != nil {
		return res, fmt.Errorf("proofflow: create storage: %w", err)
	}

	g.OnStatus("Uploading file to storage provider")
	g.OnProgress(55)

	var (
		mu        sync.Mutex
		added     bool
		confirmed bool
	)
	piece, err := svc.Upload(ctx, f.Data, UploadHooks{
		OnUploadComplete: func(cid.Cid) {
			g.OnStatus("File uploaded, adding piece to the data set")
			g.OnProgress(80)
		},
		OnPieceAdded: func(tx *common.Hash) {
			mu.Lock()
			added = true
			if tx != nil {
				h := *tx
				res.TxHash = &h
			}
			mu.Unlock()

			if tx != nil {
				g.OnStatus("Waiting for on-chain confirmation (tx: " + tx.Hex() + ")")
			} else {
				g.OnStatus("Waiting for on-chain confirmation (relayed)")
			}
		},
		OnPieceConfirmed: func() {
			mu.Lock()
			confirmed = true
			mu.Unlock()

			g.OnStatus("Data pieces added to data set successfully")
			g.OnProgress(90)
		},
	})
	if err != nil {
		return res, fmt.Errorf("proofflow: upload: %w", err)
	}
	res.PieceCID = piece

	mu.Lock()
	wasAdded, wasConfirmed := added, confirmed
	mu.Unlock()

	if err := u.saveRecord(ctx, owner, f, res); err != nil {
		return res, err
	}

	switch {
	case wasConfirmed:
		res.Confirmation = WatchConfirmed
	case wasAdded:
		g.OnProgress(85)
		wd := NewWatchdog(c, u.watchOpts...)
		res.Confirmation, err = wd.Wait(ctx, owner, piece)
		if err != nil {
			return res, err
		}
		if res.Confirmation == WatchConfirmed {
			g.OnStatus("Data pieces added to data set")
			g.OnProgress(95)
		}
	}

	g.OnProgress(100)
	return res, nil
}

func (u *Uploader) saveRecord(ctx context.Context, owner common.Address, f File, res UploadResult) error {
	rec := PieceRecord{
		PieceCID:  res.PieceCID.String(),
		Owner:     owner.Hex(),
		FileName:  f.Name,
		FileSize:  int64(len(f.Data)),
		UploadID:  res.UploadID,
		CreatedAt: u.clock.Now().UTC(),
	}
	if res.TxHash != nil {
		rec.TxHash = res.TxHash.Hex()
	}
	if err := u.store.Save(ctx, rec); err != nil {
		return fmt.Errorf("proofflow: save piece record: %w", err)
	}
	return nil
}
