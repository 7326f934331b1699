// Package locking serializes evaluation passes per account.
package locking

import (
	"context"
	"hash/fnv"
	"sync"
)

const shardCount = 256

// Local is an in-process account locker backed by a fixed pool of channel
// mutexes. Waiters give up when their context is cancelled.
type Local struct {
	shards [shardCount]chan struct{}
	once   sync.Once
}

// NewLocal creates a new in-process locker
func NewLocal() *Local {
	l := &Local{}
	l.init()
	return l
}

func (l *Local) init() {
	l.once.Do(func() {
		for i := range l.shards {
			l.shards[i] = make(chan struct{}, 1)
			l.shards[i] <- struct{}{}
		}
	})
}

// Lock acquires the shard of the account. The caller must call unlock.
// Two accounts may share a shard; that only costs concurrency.
func (l *Local) Lock(ctx context.Context, accountID string) (func(), error) {
	l.init()
	shard := l.shards[shardIdx(accountID)]

	select {
	case <-shard:
		var once sync.Once
		return func() { once.Do(func() { shard <- struct{}{} }) }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func shardIdx(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % shardCount
}
