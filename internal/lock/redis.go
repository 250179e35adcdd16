package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"stakeplay-backend/internal/apperr"
	"stakeplay-backend/internal/logger"
)

const (
	KeyLock        = "lock:%s"
	DefaultLockTTL = 10 * time.Second
)

var releaseScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	end
	return 0
`)

// Redis is a SET NX PX lock shared by every API replica. A held key fails
// fast with ErrConcurrencyConflict; callers retry through package retry.
type Redis struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedis(client redis.UniversalClient, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &Redis{client: client, ttl: ttl}
}

func (r *Redis) Lock(ctx context.Context, key string) (Unlock, error) {
	redisKey := fmt.Sprintf(KeyLock, key)
	token := uuid.NewString()

	ok, err := r.client.SetNX(ctx, redisKey, token, r.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, apperr.Wrap(apperr.CodeConcurrencyConflict, apperr.ErrConcurrencyConflict, "lock %s is held", key)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := releaseScript.Run(ctx, r.client, []string{redisKey}, token).Err(); err != nil {
				logger.Warn("Failed to release lock", "key", key, "error", err)
			}
		})
	}, nil
}
