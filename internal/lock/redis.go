package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisKeyPrefix = "merchant-ledger:lock:"

// Redis is a Locker backed by redislock, for running several API replicas
// against one database.
type Redis struct {
	locker *redislock.Client
	ttl    time.Duration
	retry  time.Duration
	logger *zap.Logger
}

// NewRedis creates a Redis-backed locker. Locks expire after ttl if the holder dies.
func NewRedis(client redis.UniversalClient, ttl time.Duration, logger *zap.Logger) *Redis {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Redis{
		locker: redislock.New(client),
		ttl:    ttl,
		retry:  50 * time.Millisecond,
		logger: logger,
	}
}

func (r *Redis) Acquire(ctx context.Context, keys ...string) (func(), error) {
	keys = NormalizeKeys(keys)
	held := make([]*redislock.Lock, 0, len(keys))

	release := func() {
		// Release must outlive a cancelled request context
		relCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for i := len(held) - 1; i >= 0; i-- {
			if err := held[i].Release(relCtx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				r.logger.Warn("failed to release redis lock",
					zap.String("key", held[i].Key()),
					zap.Error(err),
				)
			}
		}
		held = held[:0]
	}

	opts := &redislock.Options{RetryStrategy: redislock.LinearBackoff(r.retry)}
	for _, key := range keys {
		lk, err := r.locker.Obtain(ctx, redisKeyPrefix+key, r.ttl, opts)
		if err != nil {
			release()
			if errors.Is(err, redislock.ErrNotObtained) || ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %s", ErrNotObtained, key)
			}
			return nil, fmt.Errorf("obtaining lock %s: %w", key, err)
		}
		held = append(held, lk)
	}

	var once sync.Once
	return func() { once.Do(release) }, nil
}

// NewRedisClient connects to Redis and verifies the connection
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return client, nil
}
