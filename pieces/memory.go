// Package pieces provides PieceStore implementations for proofflow.
package pieces

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/proofflow/proofflow"
)

// MemoryStore is an in-memory PieceStore. Records are lost on restart.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]proofflow.PieceRecord
}

var _ proofflow.PieceStore = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory piece store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]proofflow.PieceRecord)}
}

// Save stores rec, replacing any record for the same piece.
func (s *MemoryStore) Save(_ context.Context, rec proofflow.PieceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[rec.PieceCID] = rec
	return nil
}

// Get returns the record for pieceCID.
func (s *MemoryStore) Get(_ context.Context, pieceCID string) (proofflow.PieceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[pieceCID]
	if !ok {
		return proofflow.PieceRecord{}, proofflow.ErrPieceNotFound
	}
	return rec, nil
}

// List returns owner's records, newest first. Owners compare case-insensitively.
func (s *MemoryStore) List(_ context.Context, owner string) ([]proofflow.PieceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []proofflow.PieceRecord
	for _, rec := range s.records {
		if strings.EqualFold(rec.Owner, owner) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].PieceCID < out[j].PieceCID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}
