//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/proofflow/proofflow"
	piecespg "github.com/proofflow/proofflow/pieces/postgres"
)

func newTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		dsn = "postgres://localhost:5432/proofflow_test?sslmode=disable"
	}
	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		t.Fatalf("pgxpool: %v", err)
	}
	if err := pool.Ping(context.Background()); err != nil {
		t.Fatalf("postgres not available: %v", err)
	}
	t.Cleanup(func() { pool.Close() })
	return pool
}

func newTestStore(t *testing.T, pool *pgxpool.Pool) *piecespg.Store {
	t.Helper()
	prefix := fmt.Sprintf("test_%s_", strings.ToLower(t.Name()))
	s := piecespg.New(pool, piecespg.WithTablePrefix(prefix))

	ctx := context.Background()
	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	t.Cleanup(func() {
		pool.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %spieces", prefix))
	})
	return s
}

func TestSaveAndGet(t *testing.T) {
	store := newTestStore(t, newTestPool(t))
	ctx := context.Background()

	rec := proofflow.PieceRecord{
		PieceCID:  "bafkpiece1",
		Owner:     "0xAbC0000000000000000000000000000000000001",
		FileName:  "report.pdf",
		FileSize:  2048,
		TxHash:    "0xdeadbeef",
		UploadID:  "u-1",
		CreatedAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	if err := store.Save(ctx, rec); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := store.Get(ctx, "bafkpiece1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.FileName != rec.FileName || got.FileSize != rec.FileSize || !got.CreatedAt.Equal(rec.CreatedAt) {
		t.Fatalf("expected %+v, got %+v", rec, got)
	}
}

func TestGetMissing(t *testing.T) {
	store := newTestStore(t, newTestPool(t))

	_, err := store.Get(context.Background(), "bafkmissing")
	if !errors.Is(err, proofflow.ErrPieceNotFound) {
		t.Fatalf("expected ErrPieceNotFound, got %v", err)
	}
}

func TestSaveUpserts(t *testing.T) {
	store := newTestStore(t, newTestPool(t))
	ctx := context.Background()
	owner := "0x0000000000000000000000000000000000000001"

	for _, name := range []string{"old.txt", "new.txt"} {
		err := store.Save(ctx, proofflow.PieceRecord{PieceCID: "p1", Owner: owner, FileName: name, CreatedAt: time.Now()})
		if err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	got, err := store.Get(ctx, "p1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.FileName != "new.txt" {
		t.Fatalf("expected upserted name, got %q", got.FileName)
	}
}

func TestListNewestFirst(t *testing.T) {
	store := newTestStore(t, newTestPool(t))
	ctx := context.Background()
	owner := "0xAbC0000000000000000000000000000000000001"
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"p1", "p2", "p3"} {
		err := store.Save(ctx, proofflow.PieceRecord{
			PieceCID:  id,
			Owner:     owner,
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		})
		if err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}

	recs, err := store.List(ctx, strings.ToLower(owner))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 3 || recs[0].PieceCID != "p3" || recs[2].PieceCID != "p1" {
		t.Fatalf("unexpected order: %+v", recs)
	}
}
