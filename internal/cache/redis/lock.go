package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/djinnmarket/internal/domain"
)

// unlockLua deletes a lock key only if its value matches the caller's token,
// so a holder whose TTL expired cannot release the next holder's lock.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

const (
	minLockBackoff = 5 * time.Millisecond
	maxLockBackoff = 100 * time.Millisecond
)

// LockManager implements domain.LockManager using Redis SET NX with a TTL and
// a Lua-based conditional unlock. A busy key is retried with exponential
// backoff for up to the configured wait.
type LockManager struct {
	c        *Client
	unlockSc *redis.Script
	wait     time.Duration
}

var _ domain.LockManager = (*LockManager)(nil)

// NewLockManager creates a LockManager backed by the given Client. wait is
// how long Acquire keeps retrying a held lock; zero means a single attempt.
func NewLockManager(c *Client, wait time.Duration) *LockManager {
	return &LockManager{
		c:        c,
		unlockSc: redis.NewScript(unlockLua),
		wait:     wait,
	}
}

// Acquire obtains the lock for key with the given TTL. On success it returns
// an unlock function that is safe to call more than once.
//
// It returns domain.ErrLockHeld if the lock is still held when the wait
// expires, or the context error if ctx ends first.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	lk := lm.c.key("lock", key)
	deadline := time.Now().Add(lm.wait)
	backoff := minLockBackoff

	for {
		ok, err := lm.c.rdb.SetNX(ctx, lk, token, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}
		if !time.Now().Add(backoff).Before(deadline) {
			return nil, fmt.Errorf("redis: lock %s: %w", key, domain.ErrLockHeld)
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("redis: wait for lock %s: %w", key, ctx.Err())
		case <-timer.C:
		}
		backoff = min(backoff*2, maxLockBackoff)
	}

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			// The caller's context may already be cancelled.
			unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = lm.unlockSc.Run(unlockCtx, lm.c.rdb, []string{lk}, token).Err()
		})
	}
	return unlock, nil
}
