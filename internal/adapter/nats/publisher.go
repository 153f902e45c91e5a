package nats

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/foker/tgflats-sub000/internal/domain/entity"
)

// ListingEvent is emitted on every newly persisted or updated listing,
// together with the subscriptions it matched at broadcast time.
type ListingEvent struct {
	Listing        *entity.Listing `json:"listing"`
	Created        bool            `json:"created"`
	MatchedSubIDs  []string        `json:"matchedSubscriptionIds,omitempty"`
	MatchedConnIDs []string        `json:"matchedConnectionIds,omitempty"`
}

type EventPublisher interface {
	PublishListing(ctx context.Context, event ListingEvent) error
}

type natsPublisher struct {
	conn    *nats.Conn
	subject string
}

func NewPublisher(conn *nats.Conn, subject string) (EventPublisher, error) {
	if conn == nil {
		return nil, fmt.Errorf("NATS connection cannot be nil")
	}
	return &natsPublisher{conn: conn, subject: subject}, nil
}

func (p *natsPublisher) PublishListing(ctx context.Context, event ListingEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal listing event: %w", err)
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("failed to publish listing event to %s: %w", p.subject, err)
	}
	return nil
}
