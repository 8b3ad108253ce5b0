// Package redis provides a Redis-backed PieceStore for proofflow.
//
// Each record is a hash keyed by piece CID. Every owner has a sorted set of
// piece CIDs scored by creation time, which serves List.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/proofflow/proofflow"
)

// Store is a Redis-backed PieceStore.
type Store struct {
	client    goredis.Cmdable
	keyPrefix string
}

var _ proofflow.PieceStore = (*Store)(nil)

// Option configures Store.
type Option func(*Store)

// WithKeyPrefix sets the Redis key prefix (default "proofflow:pieces:").
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) { s.keyPrefix = prefix }
}

// New creates a new Redis-backed PieceStore.
// The client must be a connected *goredis.Client or *goredis.ClusterClient.
func New(client goredis.Cmdable, opts ...Option) *Store {
	s := &Store{
		client:    client,
		keyPrefix: "proofflow:pieces:",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) pieceKey(pieceCID string) string {
	return s.keyPrefix + "piece:" + pieceCID
}

func (s *Store) ownerPrefix() string {
	return s.keyPrefix + "owner:"
}

func (s *Store) ownerKey(owner string) string {
	return s.ownerPrefix() + strings.ToLower(owner)
}

// saveScript replaces a record and moves it between owner indexes.
// KEYS[1] = piece hash key
// KEYS[2] = owner sorted set key
// ARGV[1] = owner key prefix
// ARGV[2] = piece CID
// ARGV[3] = score (unix millis)
// ARGV[4..] = field/value pairs
var saveScript = goredis.NewScript(`
local piece_key = KEYS[1]
local owner_key = KEYS[2]
local prefix = ARGV[1]
local piece = ARGV[2]
local score = tonumber(ARGV[3])

local old_owner = redis.call("HGET", piece_key, "owner")
if old_owner then
    redis.call("ZREM", prefix .. string.lower(old_owner), piece)
end

redis.call("DEL", piece_key)
for i = 4, #ARGV, 2 do
    redis.call("HSET", piece_key, ARGV[i], ARGV[i + 1])
end
redis.call("ZADD", owner_key, score, piece)
return 1
`)

// Save stores rec, replacing any record for the same piece.
func (s *Store) Save(ctx context.Context, rec proofflow.PieceRecord) error {
	args := []any{
		s.ownerPrefix(),
		rec.PieceCID,
		rec.CreatedAt.UnixMilli(),
		"owner", rec.Owner,
		"file_name", rec.FileName,
		"file_size", rec.FileSize,
		"tx_hash", rec.TxHash,
		"upload_id", rec.UploadID,
		"created_at", rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	err := saveScript.Run(ctx, s.client,
		[]string{s.pieceKey(rec.PieceCID), s.ownerKey(rec.Owner)},
		args...,
	).Err()
	if err != nil {
		return fmt.Errorf("proofflow/redis: save: %w", err)
	}
	return nil
}

// Get returns the record for pieceCID.
func (s *Store) Get(ctx context.Context, pieceCID string) (proofflow.PieceRecord, error) {
	vals, err := s.client.HGetAll(ctx, s.pieceKey(pieceCID)).Result()
	if err != nil {
		return proofflow.PieceRecord{}, fmt.Errorf("proofflow/redis: get: %w", err)
	}
	if len(vals) == 0 {
		return proofflow.PieceRecord{}, proofflow.ErrPieceNotFound
	}
	return decodeRecord(pieceCID, vals)
}

// List returns owner's records, newest first.
func (s *Store) List(ctx context.Context, owner string) ([]proofflow.PieceRecord, error) {
	ids, err := s.client.ZRevRange(ctx, s.ownerKey(owner), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("proofflow/redis: list: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	cmds := make([]*goredis.MapStringStringCmd, len(ids))
	_, err = s.client.Pipelined(ctx, func(p goredis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = p.HGetAll(ctx, s.pieceKey(id))
		}
		return nil
	})
	if err != nil && !errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("proofflow/redis: list: %w", err)
	}

	out := make([]proofflow.PieceRecord, 0, len(ids))
	for i, cmd := range cmds {
		vals := cmd.Val()
		if len(vals) == 0 {
			continue
		}
		rec, err := decodeRecord(ids[i], vals)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func decodeRecord(pieceCID string, vals map[string]string) (proofflow.PieceRecord, error) {
	size, err := strconv.ParseInt(vals["file_size"], 10, 64)
	if err != nil {
		return proofflow.PieceRecord{}, fmt.Errorf("proofflow/redis: decode %s: file_size: %w", pieceCID, err)
	}
	created, err := time.Parse(time.RFC3339Nano, vals["created_at"])
	if err != nil {
		return proofflow.PieceRecord{}, fmt.Errorf("proofflow/redis: decode %s: created_at: %w", pieceCID, err)
	}
	return proofflow.PieceRecord{
		PieceCID:  pieceCID,
		Owner:     vals["owner"],
		FileName:  vals["file_name"],
		FileSize:  size,
		TxHash:    vals["tx_hash"],
		UploadID:  vals["upload_id"],
		CreatedAt: created,
	}, nil
}
