package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"

	"github.com/proofflow/proofflow"
	"github.com/proofflow/proofflow/pieces"
	piecespg "github.com/proofflow/proofflow/pieces/postgres"
	piecesredis "github.com/proofflow/proofflow/pieces/redis"
)

// openPieceStore opens the configured piece store. The returned func closes
// its connections.
func openPieceStore(ctx context.Context, cfg proofflow.PiecesConfig) (proofflow.PieceStore, func(), error) {
	switch cfg.Backend {
	case "", "memory":
		return pieces.NewMemoryStore(), func() {}, nil

	case "redis":
		client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("proofflow: redis %s: %w", cfg.RedisAddr, err)
		}
		var opts []piecesredis.Option
		if cfg.Prefix != "" {
			opts = append(opts, piecesredis.WithKeyPrefix(cfg.Prefix))
		}
		return piecesredis.New(client, opts...), func() { client.Close() }, nil

	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("proofflow: postgres: %w", err)
		}
		var opts []piecespg.Option
		if cfg.Prefix != "" {
			opts = append(opts, piecespg.WithTablePrefix(cfg.Prefix))
		}
		store := piecespg.New(pool, opts...)
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return store, pool.Close, nil

	default:
		return nil, nil, fmt.Errorf("proofflow: unknown pieces backend %q", cfg.Backend)
	}
}
