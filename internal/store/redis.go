package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/seantiz/voxhub/internal/model"
)

// DefaultRedisPrefix namespaces history keys in a shared Redis.
const DefaultRedisPrefix = "voxhub:history"

// Compile-time interface satisfaction check.
var _ HistoryStore = (*RedisStore)(nil)

// RedisStore implements HistoryStore on Redis so a worker's history can be
// inspected from outside the process. Results live in a hash keyed by job
// id; a sorted set ordered by insertion drives eviction.
type RedisStore struct {
	rdb   *redis.Client
	limit int

	resultsKey string
	orderKey   string
	seqKey     string
}

// NewRedisStore creates a store using rdb. prefix separates workers sharing
// one Redis; empty means DefaultRedisPrefix.
func NewRedisStore(ctx context.Context, rdb *redis.Client, prefix string, limit int) (*RedisStore, error) {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisStore{
		rdb:        rdb,
		limit:      limit,
		resultsKey: prefix + ":results",
		orderKey:   prefix + ":order",
		seqKey:     prefix + ":seq",
	}, nil
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

// Put records r with HSETNX so an existing result is never overwritten.
func (s *RedisStore) Put(ctx context.Context, r model.Result) (bool, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return false, fmt.Errorf("marshal result: %w", err)
	}

	inserted, err := s.rdb.HSetNX(ctx, s.resultsKey, r.JobID, data).Result()
	if err != nil {
		return false, fmt.Errorf("store result: %w", err)
	}
	if !inserted {
		return false, nil
	}

	seq, err := s.rdb.Incr(ctx, s.seqKey).Result()
	if err != nil {
		return true, fmt.Errorf("next sequence: %w", err)
	}
	if err := s.rdb.ZAdd(ctx, s.orderKey, redis.Z{Score: float64(seq), Member: r.JobID}).Err(); err != nil {
		return true, fmt.Errorf("index result: %w", err)
	}

	return true, s.evict(ctx)
}

func (s *RedisStore) evict(ctx context.Context) error {
	n, err := s.rdb.ZCard(ctx, s.orderKey).Result()
	if err != nil {
		return fmt.Errorf("count history: %w", err)
	}
	excess := n - int64(s.limit)
	if excess <= 0 {
		return nil
	}

	oldest, err := s.rdb.ZPopMin(ctx, s.orderKey, excess).Result()
	if err != nil {
		return fmt.Errorf("pop oldest: %w", err)
	}
	ids := make([]string, 0, len(oldest))
	for _, z := range oldest {
		if id, ok := z.Member.(string); ok {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	if err := s.rdb.HDel(ctx, s.resultsKey, ids...).Err(); err != nil {
		return fmt.Errorf("evict results: %w", err)
	}
	return nil
}

// Get retrieves the result recorded for jobID.
func (s *RedisStore) Get(ctx context.Context, jobID string) (model.Result, error) {
	data, err := s.rdb.HGet(ctx, s.resultsKey, jobID).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.Result{}, ErrNotFound
	}
	if err != nil {
		return model.Result{}, fmt.Errorf("get result: %w", err)
	}

	var r model.Result
	if err := json.Unmarshal(data, &r); err != nil {
		return model.Result{}, fmt.Errorf("decode result: %w", err)
	}
	return r, nil
}

// All returns every retained result keyed by job id.
func (s *RedisStore) All(ctx context.Context) (map[string]model.Result, error) {
	raw, err := s.rdb.HGetAll(ctx, s.resultsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}

	out := make(map[string]model.Result, len(raw))
	for id, data := range raw {
		var r model.Result
		if err := json.Unmarshal([]byte(data), &r); err != nil {
			return nil, fmt.Errorf("decode result %s: %w", id, err)
		}
		out[id] = r
	}
	return out, nil
}
