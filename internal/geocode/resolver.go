package geocode

import (
	"context"
	"errors"
	"hash/fnv"
	"regexp"
	"strings"
	"time"

	"github.com/foker/tgflats-sub000/internal/domain/entity"
	"github.com/foker/tgflats-sub000/internal/platform/logger"
	"github.com/foker/tgflats-sub000/internal/repository"
)

const mockProviderName = "mock"

var streetNumberRegexp = regexp.MustCompile(`\d+`)

var cityNames = []string{"tbilisi", "тбилиси", "თბილისი"}

// ResolveObserver lets the caller count resolutions per provider (metrics).
type ResolveObserver func(provider string)

// Resolver turns free-text addresses into coordinates and a district, with
// caching, an ordered provider fallback chain and a deterministic mock tail.
type Resolver struct {
	cache     repository.GeocodeCache
	providers []GeoProvider
	bounds    CityBounds
	log       logger.Logger
	observe   ResolveObserver
}

func NewResolver(cache repository.GeocodeCache, providers []GeoProvider, bounds CityBounds, log logger.Logger) *Resolver {
	chain := make([]GeoProvider, 0, len(providers))
	for _, p := range providers {
		if p != nil {
			chain = append(chain, p)
		}
	}
	return &Resolver{
		cache:     cache,
		providers: chain,
		bounds:    bounds,
		log:       log,
	}
}

// SetObserver installs an optional per-resolution callback.
func (r *Resolver) SetObserver(fn ResolveObserver) { r.observe = fn }

// Resolve maps an address to coordinates. Empty input resolves to nil with
// no side effects. The result is never an error in the usual sense: when all
// providers fail the deterministic mock keeps the system functional.
func (r *Resolver) Resolve(ctx context.Context, address string) (*entity.GeocodeResult, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, nil
	}

	key := normalizeAddress(address)

	if entry, err := r.cache.Get(ctx, key); err == nil {
		if touchErr := r.cache.Touch(ctx, key); touchErr != nil {
			r.log.Warnf("geocode cache touch failed for %q: %v", key, touchErr)
		}
		return r.fromCache(entry), nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		r.log.Warnf("geocode cache read failed for %q: %v", key, err)
	}

	for _, p := range r.providers {
		resp, err := p.Geocode(ctx, address)
		if err != nil {
			r.log.Warnf("geocode provider %s failed for %q, falling through: %v", p.Name(), address, err)
			continue
		}
		result := r.fromProvider(p.Name(), address, resp)

		if err := r.cache.Set(ctx, key, &entity.GeocodeCacheEntry{
			Lat:              result.Lat,
			Lng:              result.Lng,
			FormattedAddress: result.FormattedAddress,
			District:         result.District,
			Confidence:       result.Confidence,
			LastUsedAt:       time.Now().UTC(),
		}); err != nil {
			r.log.Warnf("geocode cache write failed for %q: %v", key, err)
		}
		r.emit(p.Name())
		return result, nil
	}

	r.emit(mockProviderName)
	return r.mockResolve(address), nil
}

// fromCache rebuilds a result from a cached entry. In-bounds and district are
// derived from the coordinates, not trusted from the stored copy.
func (r *Resolver) fromCache(entry *entity.GeocodeCacheEntry) *entity.GeocodeResult {
	district := DistrictFromPoint(entry.Lat, entry.Lng)
	if district == DistrictOther && entry.District != "" {
		district = entry.District
	}
	return &entity.GeocodeResult{
		Lat:              entry.Lat,
		Lng:              entry.Lng,
		FormattedAddress: entry.FormattedAddress,
		District:         district,
		Confidence:       clamp01(entry.Confidence),
		InBounds:         r.bounds.Contains(entry.Lat, entry.Lng),
		Provider:         "cache",
	}
}

func (r *Resolver) fromProvider(providerName, query string, resp *ProviderResponse) *entity.GeocodeResult {
	district := ""
	for _, comp := range resp.Components {
		if canonical := CanonicalDistrict(comp); canonical != "" {
			district = canonical
			break
		}
	}
	if district == "" {
		district = DistrictFromPoint(resp.Lat, resp.Lng)
	}

	return &entity.GeocodeResult{
		Lat:              resp.Lat,
		Lng:              resp.Lng,
		FormattedAddress: resp.FormattedAddress,
		District:         district,
		Confidence:       blendConfidence(query, resp),
		InBounds:         r.bounds.Contains(resp.Lat, resp.Lng),
		Provider:         providerName,
	}
}

// mockResolve keeps geocoding deterministic without provider credentials:
// a known district name in the address maps to that district's center with a
// small stable jitter derived from the address itself.
func (r *Resolver) mockResolve(address string) *entity.GeocodeResult {
	district := MatchDistrictName(address)
	center, ok := DistrictCenter(district)
	if !ok {
		district = DistrictOther
		// Geometric center of the city box.
		center = entity.GeoPoint{
			Lat: (r.bounds.MinLat + r.bounds.MaxLat) / 2,
			Lng: (r.bounds.MinLng + r.bounds.MaxLng) / 2,
		}
	}

	jitterLat, jitterLng := addressJitter(address)
	lat, lng := center.Lat+jitterLat, center.Lng+jitterLng
	return &entity.GeocodeResult{
		Lat:              lat,
		Lng:              lng,
		FormattedAddress: address,
		District:         district,
		Confidence:       0.3,
		InBounds:         r.bounds.Contains(lat, lng),
		Provider:         mockProviderName,
	}
}

// addressJitter spreads mock results around the district center by up to
// ~±0.004 degrees, stable per address.
func addressJitter(address string) (float64, float64) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(normalizeAddress(address)))
	sum := h.Sum64()
	latOff := float64(int64(sum&0xFFFF)-0x8000) / 0x8000 * 0.004
	lngOff := float64(int64((sum>>16)&0xFFFF)-0x8000) / 0x8000 * 0.004
	return latOff, lngOff
}

// blendConfidence mixes the provider's own score with address heuristics.
func blendConfidence(query string, resp *ProviderResponse) float64 {
	confidence := resp.Confidence
	if confidence <= 0 {
		confidence = 0.5
	}
	if streetNumberRegexp.MatchString(query) {
		confidence += 0.1
	}
	if resp.Rooftop {
		confidence += 0.1
	}
	lowerFormatted := strings.ToLower(resp.FormattedAddress)
	for _, city := range cityNames {
		if strings.Contains(lowerFormatted, city) {
			confidence += 0.05
			break
		}
	}
	return clamp01(confidence)
}

func (r *Resolver) emit(provider string) {
	if r.observe != nil {
		r.observe(provider)
	}
}

func normalizeAddress(address string) string {
	return strings.ToLower(strings.Join(strings.Fields(address), " "))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
