package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// releaseScript deletes a lock only when the caller still owns it, so a
// release after TTL expiry cannot drop a lock re-acquired by someone else.
var releaseScript = goredis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// LockStore implements ports.LockStore using Redis SET NX.
type LockStore struct {
	client *goredis.Client
	prefix string
}

// NewLockStore creates a Redis-backed named lock store.
func NewLockStore(client *goredis.Client) *LockStore {
	return &LockStore{
		client: client,
		prefix: "wallet-lock:",
	}
}

// TryAcquire attempts to take the named lock. Returns true when the lock was
// taken, false when someone else holds it.
func (s *LockStore) TryAcquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.prefix+key, token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis lock acquire: %w", err)
	}
	return ok, nil
}

// Release drops the named lock when token matches the current owner. Returns
// true when a lock was actually released.
func (s *LockStore) Release(ctx context.Context, key, token string) (bool, error) {
	res, err := releaseScript.Run(ctx, s.client, []string{s.prefix + key}, token).Int()
	if err != nil {
		return false, fmt.Errorf("redis lock release: %w", err)
	}
	return res == 1, nil
}
