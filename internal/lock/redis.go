package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var ErrLockTimeout = errors.New("timed out waiting for item lock")

// releaseScript deletes the key only if it still holds our token.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`

type redisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// Redis is a lease-based lock shared by every instance using the same Redis.
type Redis struct {
	rdb    redisClient
	ttl    time.Duration
	wait   time.Duration
	retry  time.Duration
	logger *zap.Logger
}

func NewRedis(rdb redisClient, ttl, wait time.Duration, logger *zap.Logger) *Redis {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	if wait <= 0 {
		wait = 3 * time.Second
	}
	return &Redis{
		rdb:    rdb,
		ttl:    ttl,
		wait:   wait,
		retry:  25 * time.Millisecond,
		logger: logger,
	}
}

func lockKey(key string) string {
	return fmt.Sprintf("stageflow:lock:item:%s", key)
}

func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := lockKey(key)
	token := uuid.NewString()

	waitCtx, cancel := context.WithTimeout(ctx, r.wait)
	defer cancel()

	backoff := r.retry
	for {
		ok, err := r.rdb.SetNX(waitCtx, redisKey, token, r.ttl).Result()
		if err != nil && !errors.Is(err, context.DeadlineExceeded) {
			r.logger.Error("Redis lock acquire failed", zap.String("key", redisKey), zap.Error(err))
			return nil, fmt.Errorf("acquire lock %s: %w", redisKey, err)
		}
		if ok {
			r.logger.Debug("Item lock acquired", zap.String("key", redisKey))
			return func() { r.unlock(redisKey, token) }, nil
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			r.logger.Warn("Item lock wait timed out", zap.String("key", redisKey), zap.Duration("wait", r.wait))
			return nil, ErrLockTimeout
		case <-time.After(backoff):
		}
		if backoff < 200*time.Millisecond {
			backoff *= 2
		}
	}
}

func (r *Redis) unlock(redisKey, token string) {
	// the caller's context may already be cancelled; release regardless
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := r.rdb.Eval(ctx, releaseScript, []string{redisKey}, token).Err(); err != nil {
		r.logger.Warn("Redis lock release failed, lease will expire",
			zap.String("key", redisKey),
			zap.Duration("ttl", r.ttl),
			zap.Error(err),
		)
	}
}
