package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/foker/tgflats-sub000/internal/domain/entity"
	"github.com/foker/tgflats-sub000/internal/repository"
)

const extractionCacheKeyPrefix = "extraction:"

type extractionCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewExtractionCache(client *redis.Client, ttl time.Duration) repository.ExtractionCache {
	return &extractionCache{client: client, ttl: ttl}
}

func (c *extractionCache) key(hash string) string {
	return extractionCacheKeyPrefix + hash
}

// Get returns the cached result and refreshes its expiry, so frequently seen
// texts stay warm. The cached content itself is never rewritten on a hit.
func (c *extractionCache) Get(ctx context.Context, hash string) (*entity.ExtractionResult, error) {
	key := c.key(hash)
	val, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get extraction cache entry %s: %w", hash, err)
	}

	var res entity.ExtractionResult
	if err := json.Unmarshal(val, &res); err != nil {
		_ = c.client.Del(ctx, key).Err()
		return nil, fmt.Errorf("failed to unmarshal extraction cache entry %s: %w", hash, err)
	}

	_ = c.client.Expire(ctx, key, c.ttl).Err()
	return &res, nil
}

func (c *extractionCache) Set(ctx context.Context, hash string, res *entity.ExtractionResult, ttl time.Duration) error {
	if res == nil || hash == "" {
		return errors.New("cannot cache nil extraction result or empty key")
	}
	if ttl <= 0 {
		ttl = c.ttl
	}

	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to marshal extraction result for %s: %w", hash, err)
	}
	if err := c.client.Set(ctx, c.key(hash), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set extraction cache entry %s: %w", hash, err)
	}
	return nil
}
