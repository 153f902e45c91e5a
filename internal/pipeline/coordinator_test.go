package pipeline

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foker/tgflats-sub000/internal/ai"
	"github.com/foker/tgflats-sub000/internal/app/config"
	"github.com/foker/tgflats-sub000/internal/costguard"
	"github.com/foker/tgflats-sub000/internal/domain/entity"
	"github.com/foker/tgflats-sub000/internal/geocode"
	"github.com/foker/tgflats-sub000/internal/platform/logger"
	"github.com/foker/tgflats-sub000/internal/repository"
	"github.com/foker/tgflats-sub000/internal/subscription"
)

type memRawPosts struct {
	mu    sync.Mutex
	byID  map[string]*entity.RawPost
	byKey map[string]string
	seq   int
}

func newMemRawPosts() *memRawPosts {
	return &memRawPosts{byID: make(map[string]*entity.RawPost), byKey: make(map[string]string)}
}

func (m *memRawPosts) Upsert(_ context.Context, post *entity.RawPost) (*entity.RawPost, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := post.Channel + "/" + post.ExternalID
	if id, ok := m.byKey[key]; ok {
		copied := *m.byID[id]
		return &copied, nil
	}
	m.seq++
	copied := *post
	copied.ID = fmt.Sprintf("post-%d", m.seq)
	m.byID[copied.ID] = &copied
	m.byKey[key] = copied.ID
	out := copied
	return &out, nil
}

func (m *memRawPosts) GetByID(_ context.Context, id string) (*entity.RawPost, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.byID[id]; ok {
		copied := *p
		return &copied, nil
	}
	return nil, repository.ErrNotFound
}

func (m *memRawPosts) MarkProcessed(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	p.Processed = true
	return nil
}

func (m *memRawPosts) ListUnprocessed(_ context.Context, limit int) ([]entity.RawPost, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []entity.RawPost
	for _, p := range m.byID {
		if !p.Processed {
			out = append(out, *p)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *memRawPosts) processed(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byID[id]
	return ok && p.Processed
}

type memListings struct {
	mu        sync.Mutex
	byRawPost map[string]*entity.Listing
	seq       int
	creates   int
}

func newMemListings() *memListings {
	return &memListings{byRawPost: make(map[string]*entity.Listing)}
}

func (m *memListings) UpsertByRawPost(_ context.Context, l *entity.Listing) (*entity.Listing, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.byRawPost[l.RawPostID]; ok {
		merged := *existing
		merged.MergeExtraction(&entity.ExtractionResult{
			District:    l.District,
			Address:     l.Address,
			Price:       l.Price,
			Rooms:       l.Rooms,
			AreaSqm:     l.AreaSqm,
			Amenities:   l.Amenities,
			PetsAllowed: l.PetsAllowed,
			Furnished:   l.Furnished,
			Contact:     l.Contact,
			Confidence:  l.Confidence,
		})
		m.byRawPost[l.RawPostID] = &merged
		copied := merged
		return &copied, false, nil
	}
	m.seq++
	m.creates++
	copied := *l
	copied.ID = fmt.Sprintf("listing-%d", m.seq)
	m.byRawPost[l.RawPostID] = &copied
	out := copied
	return &out, true, nil
}

func (m *memListings) GetByRawPostID(_ context.Context, rawPostID string) (*entity.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.byRawPost[rawPostID]; ok {
		copied := *l
		return &copied, nil
	}
	return nil, repository.ErrNotFound
}

func (m *memListings) PatchLocation(_ context.Context, rawPostID string, loc entity.GeoPoint, address, district string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.byRawPost[rawPostID]
	if !ok {
		return repository.ErrNotFound
	}
	l.Location = &loc
	if address != "" {
		l.Address = address
	}
	if district != "" {
		l.District = district
	}
	return nil
}

func (m *memListings) Find(_ context.Context, _ repository.ListingQuery) ([]entity.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []entity.Listing
	for _, l := range m.byRawPost {
		out = append(out, *l)
	}
	return out, nil
}

func (m *memListings) UpdateStatus(_ context.Context, _ string, _ entity.ListingStatus) error {
	return nil
}

func (m *memListings) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byRawPost)
}

type memExtractionCache struct {
	mu      sync.Mutex
	entries map[string]*entity.ExtractionResult
}

func newMemExtractionCache() *memExtractionCache {
	return &memExtractionCache{entries: make(map[string]*entity.ExtractionResult)}
}

func (c *memExtractionCache) Get(_ context.Context, key string) (*entity.ExtractionResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if res, ok := c.entries[key]; ok {
		copied := *res
		return &copied, nil
	}
	return nil, repository.ErrNotFound
}

func (c *memExtractionCache) Set(_ context.Context, key string, res *entity.ExtractionResult, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	copied := *res
	c.entries[key] = &copied
	return nil
}

type memGeocodeCache struct {
	mu      sync.Mutex
	entries map[string]*entity.GeocodeCacheEntry
}

func newMemGeocodeCache() *memGeocodeCache {
	return &memGeocodeCache{entries: make(map[string]*entity.GeocodeCacheEntry)}
}

func (c *memGeocodeCache) Get(_ context.Context, key string) (*entity.GeocodeCacheEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		copied := *e
		return &copied, nil
	}
	return nil, repository.ErrNotFound
}

func (c *memGeocodeCache) Set(_ context.Context, key string, e *entity.GeocodeCacheEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	copied := *e
	c.entries[key] = &copied
	return nil
}

func (c *memGeocodeCache) Touch(_ context.Context, _ string) error { return nil }

type freeGuard struct{}

func (freeGuard) CheckSpendingLimits(_ context.Context) costguard.SpendingStatus {
	return costguard.SpendingStatus{}
}

func (freeGuard) Record(_ context.Context, _, _ string, _, _ int, _ string) (float64, error) {
	return 0, nil
}

type countingPusher struct {
	mu     sync.Mutex
	pushed int
}

func (p *countingPusher) Push(_ context.Context, _ *entity.Listing) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pushed++
	return nil
}

func (p *countingPusher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pushed
}

type coordinatorFixture struct {
	coordinator *Coordinator
	rawPosts    *memRawPosts
	listings    *memListings
	broadcaster *subscription.Broadcaster
}

func newCoordinatorFixture(t *testing.T) *coordinatorFixture {
	t.Helper()

	rawPosts := newMemRawPosts()
	listings := newMemListings()

	analyzer := ai.NewAnalyzer(newMemExtractionCache(), nil, freeGuard{}, time.Hour, logger.NewNop())
	resolver := geocode.NewResolver(newMemGeocodeCache(), nil, geocode.CityBounds{
		MinLat: 41.60, MinLng: 44.65, MaxLat: 41.85, MaxLng: 45.05,
	}, logger.NewNop())
	broadcaster := subscription.NewBroadcaster(10, logger.NewNop())

	cfg := config.PipelineConfig{
		Workers:          2,
		QueueSize:        64,
		MinTextLength:    30,
		PublishThreshold: 0.6,
		ScrapeRetry:      config.StageRetryConfig{Attempts: 1},
		ExtractRetry:     config.StageRetryConfig{Attempts: 1},
		GeocodeRetry:     config.StageRetryConfig{Attempts: 1},
		PersistRetry:     config.StageRetryConfig{Attempts: 1},
	}

	c := NewCoordinator(cfg, rawPosts, listings, analyzer, resolver, broadcaster, nil, nil, logger.NewNop())
	c.Start(context.Background())
	t.Cleanup(c.Stop)

	return &coordinatorFixture{
		coordinator: c,
		rawPosts:    rawPosts,
		listings:    listings,
		broadcaster: broadcaster,
	}
}

const rentalText = "Сдается 2-комнатная квартира в Сабуртало, 800 лари в месяц"

func TestSubmitBatch_Validation(t *testing.T) {
	f := newCoordinatorFixture(t)

	results := f.coordinator.SubmitBatch(context.Background(), []RawPostInput{
		{Channel: "", ExternalID: "1", Text: rentalText},
		{Channel: "flats", ExternalID: "", Text: rentalText},
		{Channel: "flats", ExternalID: "3", Text: rentalText},
	})

	require.Len(t, results, 3)
	assert.NotEmpty(t, results[0].Error)
	assert.NotEmpty(t, results[1].Error)
	assert.Empty(t, results[2].Error)
}

func TestPipeline_PublishableRentalBecomesListing(t *testing.T) {
	f := newCoordinatorFixture(t)

	pusher := &countingPusher{}
	f.broadcaster.Connect("conn-1", pusher)
	require.NotEmpty(t, f.broadcaster.Subscribe("conn-1", entity.ListingFilter{PriceMax: 900}))

	f.coordinator.SubmitBatch(context.Background(), []RawPostInput{
		{Channel: "flats", ExternalID: "msg-1", Text: rentalText, CapturedAt: time.Now()},
	})

	require.Eventually(t, func() bool {
		return f.listings.count() == 1 && f.rawPosts.processed("post-1")
	}, 2*time.Second, 10*time.Millisecond)

	listing, err := f.listings.GetByRawPostID(context.Background(), "post-1")
	require.NoError(t, err)
	assert.Equal(t, entity.ListingStatusActive, listing.Status)
	assert.Equal(t, 800.0, listing.Price.Amount)
	assert.Equal(t, 2, listing.Rooms)
	assert.Greater(t, listing.Confidence, 0.6)

	require.Eventually(t, func() bool { return pusher.count() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestPipeline_ShortTextFilteredNotFailed(t *testing.T) {
	f := newCoordinatorFixture(t)

	f.coordinator.SubmitBatch(context.Background(), []RawPostInput{
		{Channel: "flats", ExternalID: "msg-1", Text: "+"},
	})

	require.Eventually(t, func() bool {
		return f.rawPosts.processed("post-1")
	}, 2*time.Second, 10*time.Millisecond)

	assert.Zero(t, f.listings.count())
}

func TestPipeline_NonRentalNotPublished(t *testing.T) {
	f := newCoordinatorFixture(t)

	f.coordinator.SubmitBatch(context.Background(), []RawPostInput{
		{Channel: "flats", ExternalID: "msg-1", Text: "Обсуждаем вчерашний футбольный матч и планы на следующие выходные"},
	})

	require.Eventually(t, func() bool {
		return f.rawPosts.processed("post-1")
	}, 2*time.Second, 10*time.Millisecond)

	assert.Zero(t, f.listings.count())
}

func TestPipeline_ResubmissionIsIdempotent(t *testing.T) {
	f := newCoordinatorFixture(t)

	batch := []RawPostInput{{Channel: "flats", ExternalID: "msg-1", Text: rentalText}}

	f.coordinator.SubmitBatch(context.Background(), batch)
	require.Eventually(t, func() bool {
		return f.listings.count() == 1 && f.rawPosts.processed("post-1")
	}, 2*time.Second, 10*time.Millisecond)

	f.coordinator.SubmitBatch(context.Background(), batch)
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, 1, f.listings.count())
	assert.Equal(t, 1, f.listings.creates)
}

func TestHandleGeocode_MissingListingIsNoOp(t *testing.T) {
	f := newCoordinatorFixture(t)

	// Geocoding finished before the persist stage created the listing: the
	// enrichment is silently skipped, not retried as a failure.
	err := f.coordinator.handleGeocode(context.Background(), NewGeocodeJob("post-9", "Vake, Chavchavadze 10"))
	require.NoError(t, err)

	// Once the listing exists the same job patches coordinates onto it.
	res := &entity.ExtractionResult{IsRental: true, Confidence: 0.8}
	listing, err := entity.NewListing("post-9", res)
	require.NoError(t, err)
	_, created, err := f.listings.UpsertByRawPost(context.Background(), listing)
	require.NoError(t, err)
	require.True(t, created)

	err = f.coordinator.handleGeocode(context.Background(), NewGeocodeJob("post-9", "Vake, Chavchavadze 10"))
	require.NoError(t, err)

	stored, err := f.listings.GetByRawPostID(context.Background(), "post-9")
	require.NoError(t, err)
	require.NotNil(t, stored.Location)
	assert.Equal(t, "Vake", stored.District)
}

func TestHandleExtract_DecisionTable(t *testing.T) {
	f := newCoordinatorFixture(t)

	// Below the publish threshold nothing is persisted and the post is done.
	post, err := f.rawPosts.Upsert(context.Background(), &entity.RawPost{
		Channel: "flats", ExternalID: "weak", Text: "сдам жилье недорого звоните в любое время суток",
	})
	require.NoError(t, err)

	err = f.coordinator.handleExtract(context.Background(), NewExtractJob(post.ID, post.Text))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return f.rawPosts.processed(post.ID)
	}, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, f.listings.count())
}
