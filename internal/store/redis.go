package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rendis/bookforge/pkg/schema"
)

const (
	redisCheckpointPrefix = "bookforge:checkpoint:"
	redisCheckpointIndex  = "bookforge:checkpoints"
	redisCancelPrefix     = "bookforge:cancel:"
)

// NewRedisClient connects to addr, which is either host:port or a redis:// URL.
func NewRedisClient(ctx context.Context, addr string) (*redis.Client, error) {
	opts, err := redis.ParseURL(addr)
	if err != nil {
		opts = &redis.Options{Addr: addr}
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}
	return client, nil
}

// RedisCheckpointStore keeps checkpoints as string values plus a sorted-set
// index scored by update time.
type RedisCheckpointStore struct {
	client *redis.Client
	ttl    time.Duration
	codec  codec
}

var _ CheckpointStore = (*RedisCheckpointStore)(nil)

// NewRedisCheckpointStore uses client for storage. A positive ttl expires
// checkpoints that are not saved again within it.
func NewRedisCheckpointStore(client *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisCheckpointStore {
	return &RedisCheckpointStore{client: client, ttl: ttl, codec: newCodec(logger)}
}

func (s *RedisCheckpointStore) Load(ctx context.Context, key string) (*schema.PipelineState, error) {
	raw, err := s.client.Get(ctx, redisCheckpointPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, storeError("load", key, err)
	}
	return s.codec.decode(ctx, key, raw), nil
}

func (s *RedisCheckpointStore) Save(ctx context.Context, key string, st *schema.PipelineState) error {
	raw, err := s.codec.encode(st)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, redisCheckpointPrefix+key, raw, s.ttl)
		p.ZAdd(ctx, redisCheckpointIndex, redis.Z{Score: float64(st.UpdatedAt.Unix()), Member: key})
		return nil
	})
	if err != nil {
		return storeError("save", key, err)
	}
	return nil
}

func (s *RedisCheckpointStore) Clear(ctx context.Context, key string) error {
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, redisCheckpointPrefix+key)
		p.ZRem(ctx, redisCheckpointIndex, key)
		return nil
	})
	if err != nil {
		return storeError("clear", key, err)
	}
	return nil
}

func (s *RedisCheckpointStore) List(ctx context.Context) ([]CheckpointInfo, error) {
	zs, err := s.client.ZRangeWithScores(ctx, redisCheckpointIndex, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	out := make([]CheckpointInfo, 0, len(zs))
	for _, z := range zs {
		key, ok := z.Member.(string)
		if !ok {
			continue
		}
		out = append(out, CheckpointInfo{Key: key, UpdatedAt: time.Unix(int64(z.Score), 0).UTC()})
	}
	return out, nil
}

// RedisCancelRegistry stores cancellation flags as keys so that another
// process can cancel a running job.
type RedisCancelRegistry struct {
	client *redis.Client
	ttl    time.Duration
}

var _ CancelRegistry = (*RedisCancelRegistry)(nil)

// NewRedisCancelRegistry expires flags after ttl when it is positive.
func NewRedisCancelRegistry(client *redis.Client, ttl time.Duration) *RedisCancelRegistry {
	return &RedisCancelRegistry{client: client, ttl: ttl}
}

func (r *RedisCancelRegistry) Cancel(ctx context.Context, sessionID string) error {
	if err := r.client.Set(ctx, redisCancelPrefix+sessionID, "1", r.ttl).Err(); err != nil {
		return fmt.Errorf("set cancel flag: %w", err)
	}
	return nil
}

func (r *RedisCancelRegistry) Reset(ctx context.Context, sessionID string) error {
	if err := r.client.Del(ctx, redisCancelPrefix+sessionID).Err(); err != nil {
		return fmt.Errorf("reset cancel flag: %w", err)
	}
	return nil
}

func (r *RedisCancelRegistry) IsCancelled(ctx context.Context, sessionID string) (bool, error) {
	n, err := r.client.Exists(ctx, redisCancelPrefix+sessionID).Result()
	if err != nil {
		return false, fmt.Errorf("read cancel flag: %w", err)
	}
	return n > 0, nil
}
