package repository

import (
	"context"
	"time"

	"github.com/foker/tgflats-sub000/internal/domain/entity"
)

// ExtractionCache memoizes extraction results by a hash of the normalized
// post text. Get must refresh the entry's last-used time on a hit.
type ExtractionCache interface {
	Get(ctx context.Context, key string) (*entity.ExtractionResult, error)
	Set(ctx context.Context, key string, res *entity.ExtractionResult, ttl time.Duration) error
}

// GeocodeCache memoizes successful address resolutions by normalized address.
type GeocodeCache interface {
	Get(ctx context.Context, key string) (*entity.GeocodeCacheEntry, error)
	Set(ctx context.Context, key string, e *entity.GeocodeCacheEntry) error
	Touch(ctx context.Context, key string) error
}
