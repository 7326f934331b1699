package locking

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loyalty/fraud-service/internal/pkg/logger"
)

func TestLocal_MutualExclusion(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		counter int
	)
	const n = 100

	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(ctx, "ACC-1")
			if !assert.NoError(t, err) {
				return
			}
			defer unlock()
			counter++
		}()
	}
	wg.Wait()

	assert.Equal(t, n, counter)
}

func TestLocal_ContextCancelled(t *testing.T) {
	l := NewLocal()
	unlock, err := l.Lock(context.Background(), "ACC-1")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err = l.Lock(ctx, "ACC-1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLocal_UnlockIsIdempotent(t *testing.T) {
	l := NewLocal()
	unlock, err := l.Lock(context.Background(), "ACC-1")
	require.NoError(t, err)
	unlock()
	unlock()

	// a double unlock must not leave the shard acquirable twice
	first, err := l.Lock(context.Background(), "ACC-1")
	require.NoError(t, err)
	defer first()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "ACC-1")
	assert.Error(t, err)
}

// Runs against a real server when FRAUD_SERVICE_TEST_REDIS_ADDR is set.
func TestRedis_LockRelease(t *testing.T) {
	addr := os.Getenv("FRAUD_SERVICE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("FRAUD_SERVICE_TEST_REDIS_ADDR not set")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	r := NewRedis(client, RedisConfig{KeyPrefix: "fraud:test:lock:", TTL: 5 * time.Second, RetryDelay: 5 * time.Millisecond}, logger.NewNop())
	ctx := context.Background()

	unlock, err := r.Lock(ctx, "ACC-1")
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = r.Lock(waitCtx, "ACC-1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	again, err := r.Lock(ctx, "ACC-1")
	require.NoError(t, err)
	again()
}
