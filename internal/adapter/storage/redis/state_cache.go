package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"wallet-ledger-engine/internal/core/domain"
	"wallet-ledger-engine/pkg/apperror"

	goredis "github.com/redis/go-redis/v9"
)

// StateCache implements ports.StateCache on Redis. Entries are JSON-encoded
// WalletStateData snapshots, replaced wholesale on every sync.
type StateCache struct {
	client *goredis.Client
	prefix string
	ttl    time.Duration
}

// NewStateCache creates a Redis-backed wallet state cache. A zero ttl keeps
// entries until they are forgotten explicitly.
func NewStateCache(client *goredis.Client, ttl time.Duration) *StateCache {
	return &StateCache{
		client: client,
		prefix: "wallet-state:",
		ttl:    ttl,
	}
}

// MultiGet fetches state snapshots for keys. Absent keys produce a
// RecordNotFoundError listing exactly the missing keys; the entries that were
// found are still returned so callers can recover just the missing ones.
func (c *StateCache) MultiGet(ctx context.Context, keys []string) (map[string]domain.WalletStateData, error) {
	if len(keys) == 0 {
		return map[string]domain.WalletStateData{}, nil
	}

	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = c.prefix + k
	}

	values, err := c.client.MGet(ctx, prefixed...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis state mget: %w", err)
	}

	result := make(map[string]domain.WalletStateData, len(keys))
	var missing []string
	for i, raw := range values {
		if raw == nil {
			missing = append(missing, keys[i])
			continue
		}
		s, ok := raw.(string)
		if !ok {
			missing = append(missing, keys[i])
			continue
		}
		var data domain.WalletStateData
		if err := json.Unmarshal([]byte(s), &data); err != nil {
			return nil, fmt.Errorf("decode state for %s: %w", keys[i], err)
		}
		result[keys[i]] = data
	}

	if len(missing) > 0 {
		return result, apperror.ErrRecordNotFound(missing)
	}
	return result, nil
}

// MultiSync replaces the entries for all items in one pipelined write.
func (c *StateCache) MultiSync(ctx context.Context, items map[string]domain.WalletStateData) error {
	if len(items) == 0 {
		return nil
	}

	pipe := c.client.Pipeline()
	for key, data := range items {
		encoded, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("encode state for %s: %w", key, err)
		}
		pipe.Set(ctx, c.prefix+key, encoded, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis state sync: %w", err)
	}
	return nil
}

// Forget evicts a single entry.
func (c *StateCache) Forget(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis state forget: %w", err)
	}
	return nil
}
