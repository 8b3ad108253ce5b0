// Package postgres provides a PostgreSQL-backed PieceStore for proofflow.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/proofflow/proofflow"
)

// Store is a PostgreSQL-backed PieceStore.
type Store struct {
	pool        *pgxpool.Pool
	tablePrefix string
}

var _ proofflow.PieceStore = (*Store)(nil)

// Option configures Store.
type Option func(*Store)

// WithTablePrefix sets the table name prefix (default "proofflow_").
func WithTablePrefix(prefix string) Option {
	return func(s *Store) { s.tablePrefix = prefix }
}

// New creates a new PostgreSQL-backed PieceStore.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{
		pool:        pool,
		tablePrefix: "proofflow_",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) piecesTable() string { return s.tablePrefix + "pieces" }

// EnsureSchema creates the pieces table if it doesn't exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	q := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			piece_cid TEXT PRIMARY KEY,
			owner TEXT NOT NULL,
			file_name TEXT NOT NULL DEFAULT '',
			file_size BIGINT NOT NULL DEFAULT 0,
			tx_hash TEXT NOT NULL DEFAULT '',
			upload_id TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS %[1]s_owner_idx ON %[1]s (lower(owner), created_at DESC);
	`, s.piecesTable())
	if _, err := s.pool.Exec(ctx, q); err != nil {
		return fmt.Errorf("proofflow/postgres: ensure schema: %w", err)
	}
	return nil
}

// Save stores rec, replacing any record for the same piece.
func (s *Store) Save(ctx context.Context, rec proofflow.PieceRecord) error {
	_, err := s.pool.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (piece_cid, owner, file_name, file_size, tx_hash, upload_id, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (piece_cid) DO UPDATE SET
				owner = EXCLUDED.owner,
				file_name = EXCLUDED.file_name,
				file_size = EXCLUDED.file_size,
				tx_hash = EXCLUDED.tx_hash,
				upload_id = EXCLUDED.upload_id,
				created_at = EXCLUDED.created_at`, s.piecesTable()),
		rec.PieceCID, rec.Owner, rec.FileName, rec.FileSize, rec.TxHash, rec.UploadID, rec.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("proofflow/postgres: save: %w", err)
	}
	return nil
}

// Get returns the record for pieceCID.
func (s *Store) Get(ctx context.Context, pieceCID string) (proofflow.PieceRecord, error) {
	row := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT piece_cid, owner, file_name, file_size, tx_hash, upload_id, created_at
			FROM %s WHERE piece_cid = $1`, s.piecesTable()),
		pieceCID,
	)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return proofflow.PieceRecord{}, proofflow.ErrPieceNotFound
	}
	if err != nil {
		return proofflow.PieceRecord{}, fmt.Errorf("proofflow/postgres: get: %w", err)
	}
	return rec, nil
}

// List returns owner's records, newest first.
func (s *Store) List(ctx context.Context, owner string) ([]proofflow.PieceRecord, error) {
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT piece_cid, owner, file_name, file_size, tx_hash, upload_id, created_at
			FROM %s WHERE lower(owner) = lower($1)
			ORDER BY created_at DESC, piece_cid`, s.piecesTable()),
		owner,
	)
	if err != nil {
		return nil, fmt.Errorf("proofflow/postgres: list: %w", err)
	}
	defer rows.Close()

	var out []proofflow.PieceRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("proofflow/postgres: list: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("proofflow/postgres: list: %w", err)
	}
	return out, nil
}

func scanRecord(row pgx.Row) (proofflow.PieceRecord, error) {
	var rec proofflow.PieceRecord
	err := row.Scan(&rec.PieceCID, &rec.Owner, &rec.FileName, &rec.FileSize, &rec.TxHash, &rec.UploadID, &rec.CreatedAt)
	rec.CreatedAt = rec.CreatedAt.UTC()
	return rec, err
}
