package geocode

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foker/tgflats-sub000/internal/domain/entity"
	"github.com/foker/tgflats-sub000/internal/platform/logger"
	"github.com/foker/tgflats-sub000/internal/repository"
)

var tbilisiBounds = CityBounds{MinLat: 41.60, MinLng: 44.65, MaxLat: 41.85, MaxLng: 45.05}

type fakeGeocodeCache struct {
	entries map[string]*entity.GeocodeCacheEntry
	touches int
	sets    int
}

func newFakeGeocodeCache() *fakeGeocodeCache {
	return &fakeGeocodeCache{entries: make(map[string]*entity.GeocodeCacheEntry)}
}

func (c *fakeGeocodeCache) Get(_ context.Context, key string) (*entity.GeocodeCacheEntry, error) {
	if e, ok := c.entries[key]; ok {
		copied := *e
		return &copied, nil
	}
	return nil, repository.ErrNotFound
}

func (c *fakeGeocodeCache) Set(_ context.Context, key string, e *entity.GeocodeCacheEntry) error {
	c.sets++
	copied := *e
	c.entries[key] = &copied
	return nil
}

func (c *fakeGeocodeCache) Touch(_ context.Context, key string) error {
	c.touches++
	if e, ok := c.entries[key]; ok {
		e.LastUsedAt = time.Now().UTC()
	}
	return nil
}

type fakeGeoProvider struct {
	name  string
	resp  *ProviderResponse
	err   error
	calls int
}

func (p *fakeGeoProvider) Name() string { return p.name }

func (p *fakeGeoProvider) Geocode(_ context.Context, _ string) (*ProviderResponse, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return p.resp, nil
}

func TestResolver_EmptyAddress(t *testing.T) {
	resolver := NewResolver(newFakeGeocodeCache(), nil, tbilisiBounds, logger.NewNop())

	res, err := resolver.Resolve(context.Background(), "   ")

	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestResolver_MockVakeInBounds(t *testing.T) {
	resolver := NewResolver(newFakeGeocodeCache(), nil, tbilisiBounds, logger.NewNop())

	res, err := resolver.Resolve(context.Background(), "Vake, Chavchavadze Ave 10")

	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "Vake", res.District)
	assert.True(t, res.InBounds)
	assert.Equal(t, "mock", res.Provider)
	assert.InDelta(t, 0.3, res.Confidence, 1e-9)

	center, ok := DistrictCenter("Vake")
	require.True(t, ok)
	assert.InDelta(t, center.Lat, res.Lat, 0.005)
	assert.InDelta(t, center.Lng, res.Lng, 0.005)
}

func TestResolver_MockIsDeterministic(t *testing.T) {
	resolver := NewResolver(newFakeGeocodeCache(), nil, tbilisiBounds, logger.NewNop())

	a, err := resolver.Resolve(context.Background(), "Сабуртало, ул. Важа-Пшавела 5")
	require.NoError(t, err)
	b, err := resolver.Resolve(context.Background(), "Сабуртало,  ул. Важа-Пшавела 5")
	require.NoError(t, err)

	assert.Equal(t, a.Lat, b.Lat)
	assert.Equal(t, a.Lng, b.Lng)
	assert.Equal(t, "Saburtalo", a.District)
}

func TestResolver_MockUnknownDistrictUsesCityCenter(t *testing.T) {
	resolver := NewResolver(newFakeGeocodeCache(), nil, tbilisiBounds, logger.NewNop())

	res, err := resolver.Resolve(context.Background(), "Some Unknown Street 42")

	require.NoError(t, err)
	assert.Equal(t, DistrictOther, res.District)
	assert.True(t, res.InBounds)
	assert.InDelta(t, (tbilisiBounds.MinLat+tbilisiBounds.MaxLat)/2, res.Lat, 0.005)
}

func TestResolver_ProviderResultCachedAndReused(t *testing.T) {
	cache := newFakeGeocodeCache()
	provider := &fakeGeoProvider{
		name: "google",
		resp: &ProviderResponse{
			Lat:              41.7069,
			Lng:              44.7525,
			FormattedAddress: "Chavchavadze Ave 10, Tbilisi",
			Confidence:       0.7,
			Rooftop:          true,
			Components:       []string{"Vake"},
		},
	}
	resolver := NewResolver(cache, []GeoProvider{provider}, tbilisiBounds, logger.NewNop())

	first, err := resolver.Resolve(context.Background(), "Chavchavadze Ave 10")
	require.NoError(t, err)
	assert.Equal(t, "google", first.Provider)
	assert.Equal(t, "Vake", first.District)
	assert.True(t, first.InBounds)
	// 0.7 provider + 0.1 street number + 0.1 rooftop + 0.05 city name
	assert.InDelta(t, 0.95, first.Confidence, 1e-9)

	second, err := resolver.Resolve(context.Background(), "Chavchavadze  Ave 10")
	require.NoError(t, err)
	assert.Equal(t, "cache", second.Provider)
	assert.Equal(t, first.Lat, second.Lat)
	assert.Equal(t, 1, provider.calls)
	assert.Equal(t, 1, cache.touches)
}

func TestResolver_ProviderFailureFallsThroughToMock(t *testing.T) {
	primary := &fakeGeoProvider{name: "google", err: errors.New("quota exceeded")}
	secondary := &fakeGeoProvider{name: "opencage", err: errors.New("timeout")}
	resolver := NewResolver(newFakeGeocodeCache(), []GeoProvider{primary, secondary}, tbilisiBounds, logger.NewNop())

	res, err := resolver.Resolve(context.Background(), "Vake, Abashidze St 25")

	require.NoError(t, err)
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 1, secondary.calls)
	assert.Equal(t, "mock", res.Provider)
	assert.Equal(t, "Vake", res.District)
}

func TestResolver_CachedCoordsOutsideBounds(t *testing.T) {
	cache := newFakeGeocodeCache()
	cache.entries["batumi address"] = &entity.GeocodeCacheEntry{
		Lat: 41.6168, Lng: 41.6367, // Batumi
		FormattedAddress: "Batumi",
		Confidence:       0.8,
	}
	resolver := NewResolver(cache, nil, tbilisiBounds, logger.NewNop())

	res, err := resolver.Resolve(context.Background(), "Batumi Address")

	require.NoError(t, err)
	assert.False(t, res.InBounds)
	assert.Equal(t, DistrictOther, res.District)
}

func TestBlendConfidence_Clamped(t *testing.T) {
	resp := &ProviderResponse{
		Confidence:       0.9,
		Rooftop:          true,
		FormattedAddress: "Rustaveli Ave 1, Tbilisi",
	}
	assert.Equal(t, 1.0, blendConfidence("Rustaveli 1", resp))
}
