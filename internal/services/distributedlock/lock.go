// Package distributedlock provides a Redis lock so recurring work like the
// position sweep runs on exactly one instance at a time.
package distributedlock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired means another holder owns the lock.
var ErrNotAcquired = errors.New("distributedlock: lock already held")

// releaseScript deletes the key only when the caller still owns it.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// extendScript refreshes the TTL only when the caller still owns the key.
const extendScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`

// Locker acquires locks in Redis via SETNX with a per-acquisition token.
type Locker struct {
	client *redis.Client
}

func NewLocker(client *redis.Client) *Locker {
	return &Locker{client: client}
}

// Lock is one acquired lock. Release and Extend are no-ops for other
// holders because the token is checked server-side.
type Lock struct {
	client *redis.Client
	key    string
	token  string
}

// TryAcquire attempts the lock once. Returns ErrNotAcquired when held
// elsewhere.
func (l *Locker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (*Lock, error) {
	token := uuid.NewString()
	acquired, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !acquired {
		return nil, ErrNotAcquired
	}
	return &Lock{client: l.client, key: key, token: token}, nil
}

// Acquire retries until the lock is obtained or the wait window closes.
func (l *Locker) Acquire(ctx context.Context, key string, ttl, wait, retryEvery time.Duration) (*Lock, error) {
	if wait <= 0 {
		return l.TryAcquire(ctx, key, ttl)
	}

	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	ticker := time.NewTicker(retryEvery)
	defer ticker.Stop()

	for {
		lock, err := l.TryAcquire(ctx, key, ttl)
		if err == nil {
			return lock, nil
		}
		if !errors.Is(err, ErrNotAcquired) {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("timeout waiting for lock %s: %w", key, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Release frees the lock if this holder still owns it.
func (lk *Lock) Release(ctx context.Context) error {
	return lk.client.Eval(ctx, releaseScript, []string{lk.key}, lk.token).Err()
}

// Extend pushes the expiry out by ttl if this holder still owns the lock.
// Reports whether the extension applied.
func (lk *Lock) Extend(ctx context.Context, ttl time.Duration) (bool, error) {
	res, err := lk.client.Eval(ctx, extendScript, []string{lk.key}, lk.token, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}
