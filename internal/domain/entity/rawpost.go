package entity

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

type RawPost struct {
	ID         string    `bson:"_id,omitempty"`
	Channel    string    `bson:"channel"`
	ExternalID string    `bson:"external_id"`
	Text       string    `bson:"text"`
	MediaURLs  []string  `bson:"media_urls,omitempty"`
	CapturedAt time.Time `bson:"captured_at"`
	Processed  bool      `bson:"processed"`
	CreatedAt  time.Time `bson:"created_at"`
	UpdatedAt  time.Time `bson:"updated_at"`
}

func NewRawPost(channel, externalID, text string, mediaURLs []string, capturedAt time.Time) (*RawPost, error) {
	if channel == "" {
		return nil, errors.New("channel cannot be empty")
	}
	if externalID == "" {
		return nil, errors.New("external ID cannot be empty")
	}
	if capturedAt.IsZero() {
		capturedAt = time.Now().UTC()
	}
	now := time.Now().UTC()
	return &RawPost{
		Channel:    channel,
		ExternalID: externalID,
		Text:       text,
		MediaURLs:  mediaURLs,
		CapturedAt: capturedAt,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// WorthExtracting reports whether the post text is long enough to carry a
// real announcement. Trivially short posts (stickers, "+", emoji reactions)
// are filtered out before extraction, not treated as failures.
func (p *RawPost) WorthExtracting(minTextLength int) bool {
	return utf8.RuneCountInString(strings.TrimSpace(p.Text)) >= minTextLength
}
