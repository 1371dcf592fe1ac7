package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DistributedLock guards a folder's sync run across multiple scheduler
// processes via Redis SET NX PX, with a background lease renewal so a long
// Apply phase doesn't lose the lock mid-run. Additive to the in-process
// singleflight guard, for deployments where more than one scheduler
// instance watches the same sources.
type DistributedLock struct {
	client *redis.Client
	ttl    time.Duration
}

// NewDistributedLock builds a lock bound to client. client may be nil, in
// which case Acquire always succeeds immediately (single-process mode).
func NewDistributedLock(client *redis.Client, ttl time.Duration) *DistributedLock {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &DistributedLock{client: client, ttl: ttl}
}

// Acquire attempts to take the lock for key. The returned release function
// stops lease renewal and deletes the key; it must be called exactly once
// regardless of whether acquired is true.
func (l *DistributedLock) Acquire(ctx context.Context, key string) (release func(), acquired bool, err error) {
	if l.client == nil {
		return func() {}, true, nil
	}
	token := uuid.NewString()
	lockKey := "kb:sync:lock:" + key
	ok, err := l.client.SetNX(ctx, lockKey, token, l.ttl).Result()
	if err != nil {
		return func() {}, false, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return func() {}, false, nil
	}

	renewCtx, cancel := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(l.ttl / 2)
		defer ticker.Stop()
		for {
			select {
			case <-renewCtx.Done():
				return
			case <-ticker.C:
				l.client.Expire(renewCtx, lockKey, l.ttl)
			}
		}
	}()

	release = func() {
		cancel()
		l.client.Del(context.Background(), lockKey)
	}
	return release, true, nil
}
