package locking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/loyalty/fraud-service/internal/pkg/logger"
)

// releaseScript deletes the lock only if this holder still owns it
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisConfig configures the distributed locker
type RedisConfig struct {
	KeyPrefix  string
	TTL        time.Duration
	RetryDelay time.Duration
}

// Redis is a distributed account locker for multi-instance deployments.
// A lock expires after TTL so a crashed holder cannot block the account forever.
type Redis struct {
	client redis.UniversalClient
	cfg    RedisConfig
	log    *logger.Logger
}

// NewRedis creates a locker on an existing client
func NewRedis(client redis.UniversalClient, cfg RedisConfig, log *logger.Logger) *Redis {
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 25 * time.Millisecond
	}
	return &Redis{
		client: client,
		cfg:    cfg,
		log:    log.Named("redis_locker"),
	}
}

// Lock polls SET NX until the lock is acquired or ctx is done
func (r *Redis) Lock(ctx context.Context, accountID string) (func(), error) {
	key := r.cfg.KeyPrefix + accountID
	token := uuid.NewString()

	ticker := time.NewTicker(r.cfg.RetryDelay)
	defer ticker.Stop()

	for {
		ok, err := r.client.SetNX(ctx, key, token, r.cfg.TTL).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			return func() { r.release(key, token) }, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (r *Redis) release(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := releaseScript.Run(ctx, r.client, []string{key}, token).Err(); err != nil {
		r.log.Warn("failed to release account lock",
			logger.StringField("key", key),
			logger.ErrorField(err),
		)
	}
}
