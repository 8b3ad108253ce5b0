//go:build integration

package redis_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/proofflow/proofflow"
	piecesredis "github.com/proofflow/proofflow/pieces/redis"
)

func newTestClient(t *testing.T) *goredis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := goredis.NewClient(&goredis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("redis not available at %s: %v", addr, err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func newTestStore(t *testing.T, client *goredis.Client) *piecesredis.Store {
	t.Helper()
	prefix := "test:" + t.Name() + ":"
	s := piecesredis.New(client, piecesredis.WithKeyPrefix(prefix))
	t.Cleanup(func() {
		ctx := context.Background()
		iter := client.Scan(ctx, 0, prefix+"*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
	})
	return s
}

func TestSaveAndGet(t *testing.T) {
	store := newTestStore(t, newTestClient(t))
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
	if got != rec {
		t.Fatalf("expected %+v, got %+v", rec, got)
	}
}

func TestGetMissing(t *testing.T) {
	store := newTestStore(t, newTestClient(t))

	_, err := store.Get(context.Background(), "bafkmissing")
	if !errors.Is(err, proofflow.ErrPieceNotFound) {
		t.Fatalf("expected ErrPieceNotFound, got %v", err)
	}
}

func TestListNewestFirst(t *testing.T) {
	store := newTestStore(t, newTestClient(t))
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

	recs, err := store.List(ctx, "0xabc0000000000000000000000000000000000001")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 3 || recs[0].PieceCID != "p3" || recs[2].PieceCID != "p1" {
		t.Fatalf("unexpected order: %+v", recs)
	}
}

func TestSaveMovesOwner(t *testing.T) {
	store := newTestStore(t, newTestClient(t))
	ctx := context.Background()

	first := "0x0000000000000000000000000000000000000001"
	second := "0x0000000000000000000000000000000000000002"
	if err := store.Save(ctx, proofflow.PieceRecord{PieceCID: "p1", Owner: first, CreatedAt: time.Now()}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Save(ctx, proofflow.PieceRecord{PieceCID: "p1", Owner: second, CreatedAt: time.Now()}); err != nil {
		t.Fatalf("save: %v", err)
	}

	recs, err := store.List(ctx, first)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("expected no records for first owner, got %d", len(recs))
	}
	recs, err = store.List(ctx, second)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected one record for second owner, got %d", len(recs))
	}
}
