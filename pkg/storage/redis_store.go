package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/alt-text-gen/pkg/config"
	"github.com/Sriram-PR/alt-text-gen/pkg/models"
	"github.com/Sriram-PR/alt-text-gen/pkg/utils"
)

// KV is the slice of the redis API the state store needs
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value []byte) error
	Del(ctx context.Context, keys ...string) error
	Close() error
}

type redisKV struct {
	cli *redis.Client
}

// NewRedisKV connects to redis and pings it once
func NewRedisKV(ctx context.Context, cfg config.RedisConfig) (KV, error) {
	c := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("%w: redis ping %s: %w", utils.ErrDatabase, cfg.Addr, err)
	}
	return &redisKV{cli: c}, nil
}

func (c *redisKV) Get(ctx context.Context, key string) (string, error) {
	return c.cli.Get(ctx, key).Result()
}

func (c *redisKV) Set(ctx context.Context, key string, value []byte) error {
	return c.cli.Set(ctx, key, value, 0).Err()
}

func (c *redisKV) Del(ctx context.Context, keys ...string) error {
	return c.cli.Del(ctx, keys...).Err()
}

func (c *redisKV) Close() error { return c.cli.Close() }

// RedisStateStore keeps QueueState and UsageLedger in redis so several processes can share them.
// Assets stay in the AssetStore.
type RedisStateStore struct {
	kv     KV
	prefix string
	log    *logrus.Entry
}

var _ StateStore = (*RedisStateStore)(nil)

// NewRedisStateStore creates a RedisStateStore. Keys are prefix+"queue" and prefix+"usage".
func NewRedisStateStore(kv KV, prefix string, logger *logrus.Entry) *RedisStateStore {
	return &RedisStateStore{kv: kv, prefix: prefix, log: logger.WithField("component", "redis_state")}
}

func (r *RedisStateStore) load(ctx context.Context, name string, dst any) (bool, error) {
	val, err := r.kv.Get(ctx, r.prefix+name)
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: redis get %s: %w", utils.ErrDatabase, r.prefix+name, err)
	}
	if err := json.Unmarshal([]byte(val), dst); err != nil {
		r.log.Warnf("Discarding undecodable %s state: %v", name, err)
		return false, nil
	}
	return true, nil
}

func (r *RedisStateStore) save(ctx context.Context, name string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s state: %w", name, err)
	}
	if err := r.kv.Set(ctx, r.prefix+name, b); err != nil {
		return fmt.Errorf("%w: redis set %s: %w", utils.ErrDatabase, r.prefix+name, err)
	}
	return nil
}

// LoadQueueState implements StateStore
func (r *RedisStateStore) LoadQueueState(ctx context.Context) (*models.QueueState, error) {
	var state models.QueueState
	found, err := r.load(ctx, "queue", &state)
	if err != nil || !found {
		return nil, err
	}
	return &state, nil
}

// SaveQueueState implements StateStore
func (r *RedisStateStore) SaveQueueState(ctx context.Context, state *models.QueueState) error {
	return r.save(ctx, "queue", state)
}

// ClearQueueState implements StateStore
func (r *RedisStateStore) ClearQueueState(ctx context.Context) error {
	if err := r.kv.Del(ctx, r.prefix+"queue"); err != nil {
		return fmt.Errorf("%w: redis del: %w", utils.ErrDatabase, err)
	}
	return nil
}

// LoadUsageLedger implements StateStore
func (r *RedisStateStore) LoadUsageLedger(ctx context.Context) (*models.UsageLedger, error) {
	var ledger models.UsageLedger
	found, err := r.load(ctx, "usage", &ledger)
	if err != nil || !found {
		return nil, err
	}
	return &ledger, nil
}

// SaveUsageLedger implements StateStore
func (r *RedisStateStore) SaveUsageLedger(ctx context.Context, ledger *models.UsageLedger) error {
	return r.save(ctx, "usage", ledger)
}

// Close closes the redis connection
func (r *RedisStateStore) Close() error {
	return r.kv.Close()
}
