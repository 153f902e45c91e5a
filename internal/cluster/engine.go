// Package cluster aggregates geo-tagged listings into zoom-dependent map
// clusters for the browse surface.
package cluster

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/foker/tgflats-sub000/internal/app/config"
	"github.com/foker/tgflats-sub000/internal/domain/entity"
)

// pointZoomThreshold is the zoom level at and above which every listing is
// rendered individually.
const pointZoomThreshold = 15

// mergeZoomThreshold is the zoom level below which adjacent clusters are
// merged into coarser ones.
const mergeZoomThreshold = 10

const maxDistrictsPerCluster = 5

type memoEntry struct {
	results   []entity.ClusterResult
	expiresAt time.Time
}

type Engine struct {
	baseGridSize    float64
	mergeMultiplier float64
	cacheTTL        time.Duration
	cacheSize       int

	mu    sync.Mutex
	memo  map[string]memoEntry
	order []string
	now   func() time.Time
}

func NewEngine(cfg config.ClusteringConfig) *Engine {
	baseGridSize := cfg.BaseGridSize
	if baseGridSize <= 0 {
		baseGridSize = 160
	}
	mergeMultiplier := cfg.MergeMultiplier
	if mergeMultiplier <= 0 {
		mergeMultiplier = 1.5
	}
	cacheTTL := cfg.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = time.Minute
	}
	cacheSize := cfg.CacheSize
	if cacheSize <= 0 {
		cacheSize = 128
	}
	return &Engine{
		baseGridSize:    baseGridSize,
		mergeMultiplier: mergeMultiplier,
		cacheTTL:        cacheTTL,
		cacheSize:       cacheSize,
		memo:            make(map[string]memoEntry),
		now:             time.Now,
	}
}

// Cluster buckets the listings that fall inside bounds into grid cells sized
// by zoom, returning a mix of individual points and aggregated clusters.
func (e *Engine) Cluster(listings []entity.Listing, zoom int, bounds entity.Bounds) []entity.ClusterResult {
	visible := make([]*entity.Listing, 0, len(listings))
	for i := range listings {
		l := &listings[i]
		if l.Location != nil && bounds.Contains(*l.Location) {
			visible = append(visible, l)
		}
	}

	key := memoKey(len(visible), zoom, bounds)
	if cached, ok := e.lookup(key); ok {
		return cached
	}

	results := e.compute(visible, zoom)
	e.store(key, results)
	return results
}

func (e *Engine) compute(visible []*entity.Listing, zoom int) []entity.ClusterResult {
	if zoom >= pointZoomThreshold {
		results := make([]entity.ClusterResult, 0, len(visible))
		for _, l := range visible {
			results = append(results, pointResult(l))
		}
		return results
	}

	gridSize := e.baseGridSize / math.Pow(2, float64(zoom))
	threshold := occupancyThreshold(zoom)

	type cellKey struct{ x, y int }
	cells := make(map[cellKey][]*entity.Listing)
	cellOrder := make([]cellKey, 0)
	for _, l := range visible {
		k := cellKey{
			x: int(math.Floor(l.Location.Lng / gridSize)),
			y: int(math.Floor(l.Location.Lat / gridSize)),
		}
		if _, seen := cells[k]; !seen {
			cellOrder = append(cellOrder, k)
		}
		cells[k] = append(cells[k], l)
	}

	var results []entity.ClusterResult
	var clusters []*protoCluster
	for _, k := range cellOrder {
		members := cells[k]
		if len(members) >= threshold {
			clusters = append(clusters, &protoCluster{
				id:      fmt.Sprintf("c%d_%d_%d", zoom, k.x, k.y),
				members: members,
			})
			continue
		}
		for _, l := range members {
			results = append(results, pointResult(l))
		}
	}

	if zoom < mergeZoomThreshold {
		clusters = mergeAdjacent(clusters, gridSize*e.mergeMultiplier)
	}

	for _, c := range clusters {
		results = append(results, entity.ClusterResult{Type: "cluster", Cluster: c.finalize()})
	}
	return results
}

// occupancyThreshold is the minimum cell population that turns a cell into a
// cluster instead of loose points. It tightens as the map zooms in.
func occupancyThreshold(zoom int) int {
	switch {
	case zoom < 8:
		return 2
	case zoom < 12:
		return 2
	default:
		return 4
	}
}

type protoCluster struct {
	id      string
	members []*entity.Listing
}

// mergeAdjacent runs one sweep over the clusters, folding any neighbor
// within maxDist of an earlier cluster's centroid into it. An absorbed
// cluster is not re-examined in the same call.
func mergeAdjacent(clusters []*protoCluster, maxDist float64) []*protoCluster {
	absorbed := make([]bool, len(clusters))
	for i := 0; i < len(clusters); i++ {
		if absorbed[i] {
			continue
		}
		ci := clusters[i].centroid()
		for j := i + 1; j < len(clusters); j++ {
			if absorbed[j] {
				continue
			}
			cj := clusters[j].centroid()
			dx := ci.Lng - cj.Lng
			dy := ci.Lat - cj.Lat
			if math.Sqrt(dx*dx+dy*dy) <= maxDist {
				clusters[i].members = append(clusters[i].members, clusters[j].members...)
				absorbed[j] = true
			}
		}
	}

	out := clusters[:0]
	for i, c := range clusters {
		if !absorbed[i] {
			out = append(out, c)
		}
	}
	return out
}

func (c *protoCluster) centroid() entity.GeoPoint {
	var lat, lng float64
	for _, l := range c.members {
		lat += l.Location.Lat
		lng += l.Location.Lng
	}
	n := float64(len(c.members))
	return entity.GeoPoint{Lat: lat / n, Lng: lng / n}
}

func (c *protoCluster) finalize() *entity.MapCluster {
	out := &entity.MapCluster{
		ID:            c.id,
		Centroid:      c.centroid(),
		Count:         len(c.members),
		RoomHistogram: make(map[int]int),
	}

	out.Bounds = entity.Bounds{
		MinLat: math.MaxFloat64, MinLng: math.MaxFloat64,
		MaxLat: -math.MaxFloat64, MaxLng: -math.MaxFloat64,
	}

	var priceSum float64
	var priced int
	priceMin, priceMax := math.MaxFloat64, -math.MaxFloat64
	districts := make(map[string]struct{})

	for _, l := range c.members {
		out.Bounds.MinLat = math.Min(out.Bounds.MinLat, l.Location.Lat)
		out.Bounds.MinLng = math.Min(out.Bounds.MinLng, l.Location.Lng)
		out.Bounds.MaxLat = math.Max(out.Bounds.MaxLat, l.Location.Lat)
		out.Bounds.MaxLng = math.Max(out.Bounds.MaxLng, l.Location.Lng)

		if v, ok := l.Price.Resolve(); ok {
			priceSum += v
			priced++
			priceMin = math.Min(priceMin, v)
			priceMax = math.Max(priceMax, v)
		}
		if l.District != "" {
			districts[l.District] = struct{}{}
		}
		if l.Rooms > 0 {
			out.RoomHistogram[l.Rooms]++
		}
	}

	if priced > 0 {
		out.PriceStats = &entity.PriceStats{
			Avg: priceSum / float64(priced),
			Min: priceMin,
			Max: priceMax,
		}
	}

	names := make([]string, 0, len(districts))
	for d := range districts {
		names = append(names, d)
	}
	sort.Strings(names)
	if len(names) > maxDistrictsPerCluster {
		names = names[:maxDistrictsPerCluster]
	}
	out.Districts = names

	return out
}

func pointResult(l *entity.Listing) entity.ClusterResult {
	return entity.ClusterResult{
		Type: "point",
		Point: &entity.MapPoint{
			ListingID: l.ID,
			Location:  *l.Location,
			Price:     l.Price,
			Rooms:     l.Rooms,
			District:  l.District,
		},
	}
}

func memoKey(count, zoom int, b entity.Bounds) string {
	return fmt.Sprintf("%d:%d:%.5f:%.5f:%.5f:%.5f", count, zoom, b.MinLat, b.MinLng, b.MaxLat, b.MaxLng)
}

func (e *Engine) lookup(key string) ([]entity.ClusterResult, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, ok := e.memo[key]
	if !ok || e.now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.results, true
}

// store memoizes a result set, evicting the oldest entries in insertion
// order once the cache is full.
func (e *Engine) store(key string, results []entity.ClusterResult) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.memo[key]; !exists {
		for len(e.order) >= e.cacheSize {
			oldest := e.order[0]
			e.order = e.order[1:]
			delete(e.memo, oldest)
		}
		e.order = append(e.order, key)
	}
	e.memo[key] = memoEntry{results: results, expiresAt: e.now().Add(e.cacheTTL)}
}
