package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/foker/tgflats-sub000/internal/adapter/nats"
	"github.com/foker/tgflats-sub000/internal/adapter/s3"
	"github.com/foker/tgflats-sub000/internal/ai"
	"github.com/foker/tgflats-sub000/internal/app/config"
	"github.com/foker/tgflats-sub000/internal/domain/entity"
	"github.com/foker/tgflats-sub000/internal/geocode"
	"github.com/foker/tgflats-sub000/internal/platform/logger"
	"github.com/foker/tgflats-sub000/internal/repository"
	"github.com/foker/tgflats-sub000/internal/subscription"
)

// UnitResult reports the outcome of one submitted post in a batch, for the
// admin re-parse surface. A batch never aborts as a whole.
type UnitResult struct {
	Channel    string `json:"channel"`
	ExternalID string `json:"externalId"`
	Error      string `json:"error,omitempty"`
}

// transition is one row of the post-extraction decision table.
type transition struct {
	name string
	when func(res *entity.ExtractionResult) bool
	then func(c *Coordinator, postID string, res *entity.ExtractionResult)
}

// Coordinator drives raw posts through the fixed stage graph:
// scrape -> extract -> {geocode, persist}. The geocode and persist stages
// for the same post race deliberately; geocoding is best-effort enrichment
// and persisting never waits for it.
type Coordinator struct {
	cfg         config.PipelineConfig
	rawPosts    repository.RawPostRepository
	listings    repository.ListingRepository
	analyzer    *ai.Analyzer
	resolver    *geocode.Resolver
	broadcaster *subscription.Broadcaster
	publisher   nats.EventPublisher
	media       *s3.MediaStore
	log         logger.Logger

	queues      map[Stage]*Queue
	transitions []transition
}

func NewCoordinator(
	cfg config.PipelineConfig,
	rawPosts repository.RawPostRepository,
	listings repository.ListingRepository,
	analyzer *ai.Analyzer,
	resolver *geocode.Resolver,
	broadcaster *subscription.Broadcaster,
	publisher nats.EventPublisher,
	media *s3.MediaStore,
	log logger.Logger,
) *Coordinator {
	c := &Coordinator{
		cfg:         cfg,
		rawPosts:    rawPosts,
		listings:    listings,
		analyzer:    analyzer,
		resolver:    resolver,
		broadcaster: broadcaster,
		publisher:   publisher,
		media:       media,
		log:         log,
	}

	threshold := cfg.PublishThreshold
	if threshold <= 0 {
		threshold = 0.6
	}

	// The decision table after extraction. Rows are independent: a result
	// can fire both the persist and the geocode row.
	c.transitions = []transition{
		{
			name: "publishable -> persist",
			when: func(res *entity.ExtractionResult) bool {
				return res.IsRental && res.Confidence > threshold
			},
			then: func(c *Coordinator, postID string, res *entity.ExtractionResult) {
				c.queues[StagePersist].Enqueue(NewPersistJob(postID, res))
			},
		},
		{
			name: "publishable with address -> geocode",
			when: func(res *entity.ExtractionResult) bool {
				return res.IsRental && res.Confidence > threshold && res.Address != ""
			},
			then: func(c *Coordinator, postID string, res *entity.ExtractionResult) {
				c.queues[StageGeocode].Enqueue(NewGeocodeJob(postID, res.Address))
			},
		},
	}

	c.queues = map[Stage]*Queue{
		StageScrape: NewQueue(StageScrape, cfg.Workers, cfg.QueueSize,
			RetryPolicy(cfg.ScrapeRetry), c.handleScrape, log),
		StageExtract: NewQueue(StageExtract, cfg.Workers, cfg.QueueSize,
			RetryPolicy(cfg.ExtractRetry), c.handleExtract, log),
		StageGeocode: NewQueue(StageGeocode, cfg.Workers, cfg.QueueSize,
			RetryPolicy(cfg.GeocodeRetry), c.handleGeocode, log),
		StagePersist: NewQueue(StagePersist, cfg.Workers, cfg.QueueSize,
			RetryPolicy(cfg.PersistRetry), c.handlePersist, log),
	}

	return c
}

// SetQueueObserver installs a completion callback on every stage queue.
func (c *Coordinator) SetQueueObserver(fn QueueObserver) {
	for _, q := range c.queues {
		q.SetObserver(fn)
	}
}

func (c *Coordinator) Start(ctx context.Context) {
	for _, q := range c.queues {
		q.Start(ctx)
	}
	c.log.Info("pipeline queues started")
}

// Stop drains the stages in flow order so downstream queues still accept the
// jobs that upstream workers enqueue while finishing.
func (c *Coordinator) Stop() {
	for _, stage := range []Stage{StageScrape, StageExtract, StageGeocode, StagePersist} {
		c.queues[stage].Stop()
	}
	c.log.Info("pipeline queues stopped")
}

// SubmitBatch validates the batch and enqueues one scrape job for the valid
// units. Invalid units come back as per-unit errors without failing the rest.
func (c *Coordinator) SubmitBatch(ctx context.Context, posts []RawPostInput) []UnitResult {
	results := make([]UnitResult, 0, len(posts))
	valid := make([]RawPostInput, 0, len(posts))

	for _, p := range posts {
		unit := UnitResult{Channel: p.Channel, ExternalID: p.ExternalID}
		switch {
		case p.Channel == "":
			unit.Error = "missing channel"
		case p.ExternalID == "":
			unit.Error = "missing external id"
		default:
			valid = append(valid, p)
		}
		results = append(results, unit)
	}

	if len(valid) > 0 {
		c.queues[StageScrape].Enqueue(NewScrapeJob(valid))
	}
	return results
}

// handleScrape stores each capture and dispatches extraction for posts long
// enough to matter. Short posts are filtered, not failed, and flagged
// processed right away.
func (c *Coordinator) handleScrape(ctx context.Context, job *Job) error {
	if job.Scrape == nil {
		return errors.New("scrape job missing payload")
	}

	total := len(job.Scrape.Posts)
	for i, input := range job.Scrape.Posts {
		post, err := entity.NewRawPost(input.Channel, input.ExternalID, input.Text, input.MediaURLs, input.CapturedAt)
		if err != nil {
			c.log.Warnf("skipping invalid post %s/%s: %v", input.Channel, input.ExternalID, err)
			continue
		}

		stored, err := c.rawPosts.Upsert(ctx, post)
		if err != nil {
			return fmt.Errorf("failed to store post %s/%s: %w", input.Channel, input.ExternalID, err)
		}

		if stored.Processed {
			// Duplicate capture of an already-finished message.
			job.SetProgress((i + 1) * 100 / total)
			continue
		}

		if !stored.WorthExtracting(c.cfg.MinTextLength) {
			if err := c.rawPosts.MarkProcessed(ctx, stored.ID); err != nil {
				c.log.Warnf("failed to mark short post %s processed: %v", stored.ID, err)
			}
			job.SetProgress((i + 1) * 100 / total)
			continue
		}

		c.queues[StageExtract].Enqueue(NewExtractJob(stored.ID, stored.Text))
		job.SetProgress((i + 1) * 100 / total)
	}
	return nil
}

func (c *Coordinator) handleExtract(ctx context.Context, job *Job) error {
	if job.Extract == nil {
		return errors.New("extract job missing payload")
	}
	job.SetProgress(10)

	res, err := c.analyzer.Analyze(ctx, job.Extract.Text)
	if err != nil {
		return fmt.Errorf("extraction failed for post %s: %w", job.Extract.PostID, err)
	}
	job.SetProgress(80)

	fired := false
	for _, t := range c.transitions {
		if t.when(res) {
			t.then(c, job.Extract.PostID, res)
			fired = true
		}
	}

	if !fired {
		// Not publishable: the post's trip through the pipeline ends here.
		if err := c.rawPosts.MarkProcessed(ctx, job.Extract.PostID); err != nil && !errors.Is(err, repository.ErrNotFound) {
			c.log.Warnf("failed to mark post %s processed: %v", job.Extract.PostID, err)
		}
	}
	return nil
}

// handleGeocode patches coordinates onto the listing if it exists. The
// persist stage is authoritative for creation, so a missing listing is a
// silent no-op: the enrichment is lost by design when persist hasn't run yet.
func (c *Coordinator) handleGeocode(ctx context.Context, job *Job) error {
	if job.Geocode == nil {
		return errors.New("geocode job missing payload")
	}
	job.SetProgress(10)

	result, err := c.resolver.Resolve(ctx, job.Geocode.Address)
	if err != nil {
		return fmt.Errorf("geocoding failed for post %s: %w", job.Geocode.PostID, err)
	}
	if result == nil || !result.InBounds {
		return nil
	}
	job.SetProgress(70)

	err = c.listings.PatchLocation(ctx, job.Geocode.PostID,
		entity.GeoPoint{Lat: result.Lat, Lng: result.Lng},
		result.FormattedAddress, result.District)
	if errors.Is(err, repository.ErrNotFound) {
		c.log.Debugf("no listing yet for post %s, geocode enrichment skipped", job.Geocode.PostID)
		return nil
	}
	return err
}

func (c *Coordinator) handlePersist(ctx context.Context, job *Job) error {
	if job.Persist == nil || job.Persist.Result == nil {
		return errors.New("persist job missing payload")
	}
	job.SetProgress(10)

	listing, err := entity.NewListing(job.Persist.PostID, job.Persist.Result)
	if err != nil {
		return fmt.Errorf("failed to build listing for post %s: %w", job.Persist.PostID, err)
	}

	stored, created, err := c.listings.UpsertByRawPost(ctx, listing)
	if err != nil {
		return fmt.Errorf("failed to persist listing for post %s: %w", job.Persist.PostID, err)
	}
	job.SetProgress(60)

	if err := c.rawPosts.MarkProcessed(ctx, job.Persist.PostID); err != nil && !errors.Is(err, repository.ErrNotFound) {
		c.log.Warnf("failed to mark post %s processed: %v", job.Persist.PostID, err)
	}

	connIDs, subIDs := c.broadcaster.Broadcast(ctx, stored)
	job.SetProgress(80)

	if c.publisher != nil {
		event := nats.ListingEvent{
			Listing:        stored,
			Created:        created,
			MatchedSubIDs:  subIDs,
			MatchedConnIDs: connIDs,
		}
		if err := c.publisher.PublishListing(ctx, event); err != nil {
			c.log.Warnf("listing event publish failed for post %s: %v", job.Persist.PostID, err)
		}
	}

	if c.media != nil && created {
		if post, err := c.rawPosts.GetByID(ctx, job.Persist.PostID); err == nil && len(post.MediaURLs) > 0 {
			c.media.Archive(ctx, post.ID, post.MediaURLs)
		}
	}
	return nil
}
