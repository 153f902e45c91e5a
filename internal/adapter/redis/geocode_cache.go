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

const geocodeCacheKeyPrefix = "geocode:"

// Geocode entries carry no redis TTL of their own; an external maintenance
// job sweeps them by LastUsedAt age.
type geocodeCache struct {
	client *redis.Client
}

func NewGeocodeCache(client *redis.Client) repository.GeocodeCache {
	return &geocodeCache{client: client}
}

func (c *geocodeCache) key(normalized string) string {
	return geocodeCacheKeyPrefix + normalized
}

func (c *geocodeCache) Get(ctx context.Context, normalized string) (*entity.GeocodeCacheEntry, error) {
	val, err := c.client.Get(ctx, c.key(normalized)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get geocode cache entry %q: %w", normalized, err)
	}

	var e entity.GeocodeCacheEntry
	if err := json.Unmarshal(val, &e); err != nil {
		_ = c.client.Del(ctx, c.key(normalized)).Err()
		return nil, fmt.Errorf("failed to unmarshal geocode cache entry %q: %w", normalized, err)
	}
	return &e, nil
}

func (c *geocodeCache) Set(ctx context.Context, normalized string, e *entity.GeocodeCacheEntry) error {
	if e == nil || normalized == "" {
		return errors.New("cannot cache nil geocode entry or empty key")
	}
	if e.LastUsedAt.IsZero() {
		e.LastUsedAt = time.Now().UTC()
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal geocode entry %q: %w", normalized, err)
	}
	if err := c.client.Set(ctx, c.key(normalized), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to set geocode cache entry %q: %w", normalized, err)
	}
	return nil
}

// Touch bumps LastUsedAt so the external age sweep keeps hot entries.
func (c *geocodeCache) Touch(ctx context.Context, normalized string) error {
	e, err := c.Get(ctx, normalized)
	if err != nil {
		return err
	}
	e.LastUsedAt = time.Now().UTC()
	return c.Set(ctx, normalized, e)
}
