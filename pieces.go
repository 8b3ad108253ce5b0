package proofflow

import "context"

// PieceStore keeps local records of uploaded pieces.
type PieceStore interface {
	// Save stores a record, replacing any record with the same PieceCID.
	Save(ctx context.Context, rec PieceRecord) error

	// Get returns the record for a piece. Returns ErrPieceNotFound if absent.
	Get(ctx context.Context, pieceCID string) (PieceRecord, error)

	// List returns an owner's records, newest first.
	List(ctx context.Context, owner string) ([]PieceRecord, error)
}

// noopPieceStore drops every record.
type noopPieceStore struct{}

func (noopPieceStore) Save(context.Context, PieceRecord) error { return nil }
func (noopPieceStore) Get(context.Context, string) (PieceRecord, error) {
	return PieceRecord{}, ErrPieceNotFound
}
func (noopPieceStore) List(context.Context, string) ([]PieceRecord, error) { return nil, nil }
