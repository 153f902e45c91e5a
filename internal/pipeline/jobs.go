package pipeline

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/foker/tgflats-sub000/internal/domain/entity"
)

type Stage string

const (
	StageScrape  Stage = "scrape"
	StageExtract Stage = "extract"
	StageGeocode Stage = "geocode"
	StagePersist Stage = "persist"
)

// RawPostInput is what the scrape collaborator delivers for one message.
type RawPostInput struct {
	Channel    string    `json:"channel"`
	ExternalID string    `json:"externalId"`
	Text       string    `json:"text"`
	MediaURLs  []string  `json:"mediaUrls,omitempty"`
	CapturedAt time.Time `json:"capturedAt"`
}

type ScrapePayload struct {
	Posts []RawPostInput
}

type ExtractPayload struct {
	PostID string
	Text   string
}

type GeocodePayload struct {
	PostID  string
	Address string
}

type PersistPayload struct {
	PostID string
	Result *entity.ExtractionResult
}

// Job is one unit of work on a stage queue. Exactly one payload field is set,
// matching the stage. Progress is written by the handler and read by
// observers, hence the atomic.
type Job struct {
	ID        string
	Stage     Stage
	CreatedAt time.Time

	Scrape  *ScrapePayload
	Extract *ExtractPayload
	Geocode *GeocodePayload
	Persist *PersistPayload

	progress atomic.Int32
}

func newJob(stage Stage) *Job {
	return &Job{
		ID:        uuid.NewString(),
		Stage:     stage,
		CreatedAt: time.Now().UTC(),
	}
}

func NewScrapeJob(posts []RawPostInput) *Job {
	j := newJob(StageScrape)
	j.Scrape = &ScrapePayload{Posts: posts}
	return j
}

func NewExtractJob(postID, text string) *Job {
	j := newJob(StageExtract)
	j.Extract = &ExtractPayload{PostID: postID, Text: text}
	return j
}

func NewGeocodeJob(postID, address string) *Job {
	j := newJob(StageGeocode)
	j.Geocode = &GeocodePayload{PostID: postID, Address: address}
	return j
}

func NewPersistJob(postID string, res *entity.ExtractionResult) *Job {
	j := newJob(StagePersist)
	j.Persist = &PersistPayload{PostID: postID, Result: res}
	return j
}

// SetProgress clamps into 0..100.
func (j *Job) SetProgress(pct int) {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	j.progress.Store(int32(pct))
}

func (j *Job) Progress() int {
	return int(j.progress.Load())
}
