// Package subscription routes newly persisted listings to the live client
// connections whose filters they match.
package subscription

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/foker/tgflats-sub000/internal/domain/entity"
	"github.com/foker/tgflats-sub000/internal/platform/logger"
)

// Pusher is the per-connection outbound channel. Implementations must be
// safe to call from the broadcast goroutine.
type Pusher interface {
	Push(ctx context.Context, listing *entity.Listing) error
}

type connection struct {
	pusher Pusher
	subs   map[string]*entity.Subscription
}

// Broadcaster owns the predicate map. Mutations come from connection
// handling goroutines; reads happen on every broadcast. A coarse RWMutex
// guards the map, and pushes happen outside the lock on a snapshot.
type Broadcaster struct {
	mu          sync.RWMutex
	connections map[string]*connection
	maxPerConn  int
	log         logger.Logger
	onMatch     func(matches int)
}

func NewBroadcaster(maxPerConn int, log logger.Logger) *Broadcaster {
	if maxPerConn <= 0 {
		maxPerConn = 10
	}
	return &Broadcaster{
		connections: make(map[string]*connection),
		maxPerConn:  maxPerConn,
		log:         log,
	}
}

// SetMatchObserver installs an optional callback fired with the match count
// of each broadcast.
func (b *Broadcaster) SetMatchObserver(fn func(matches int)) { b.onMatch = fn }

// Connect registers a connection's pusher. Reconnecting with the same id
// replaces the pusher but keeps existing subscriptions.
func (b *Broadcaster) Connect(connID string, pusher Pusher) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if conn, ok := b.connections[connID]; ok {
		conn.pusher = pusher
		return
	}
	b.connections[connID] = &connection{
		pusher: pusher,
		subs:   make(map[string]*entity.Subscription),
	}
}

// Disconnect synchronously drops the connection and all its subscriptions.
func (b *Broadcaster) Disconnect(connID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.connections, connID)
}

// Subscribe registers a filter for the connection. Returns "" when the
// connection is unknown or already at its subscription cap.
func (b *Broadcaster) Subscribe(connID string, filter entity.ListingFilter) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	conn, ok := b.connections[connID]
	if !ok || len(conn.subs) >= b.maxPerConn {
		return ""
	}

	sub := &entity.Subscription{
		ID:           uuid.NewString(),
		ConnectionID: connID,
		Filter:       filter,
		CreatedAt:    time.Now().UTC(),
	}
	conn.subs[sub.ID] = sub
	return sub.ID
}

// Unsubscribe removes one subscription. Unknown ids are a no-op.
func (b *Broadcaster) Unsubscribe(connID, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if conn, ok := b.connections[connID]; ok {
		delete(conn.subs, subID)
	}
}

// UnsubscribeAll clears every subscription of the connection.
func (b *Broadcaster) UnsubscribeAll(connID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if conn, ok := b.connections[connID]; ok {
		conn.subs = make(map[string]*entity.Subscription)
	}
}

// Match evaluates every live predicate against the listing and returns the
// ids of connections with at least one matching subscription, plus the
// matched subscription ids.
func (b *Broadcaster) Match(listing *entity.Listing) (connIDs []string, subIDs []string) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for connID, conn := range b.connections {
		matched := false
		for subID, sub := range conn.subs {
			if Matches(listing, &sub.Filter) {
				matched = true
				subIDs = append(subIDs, subID)
			}
		}
		if matched {
			connIDs = append(connIDs, connID)
		}
	}
	sort.Strings(connIDs)
	sort.Strings(subIDs)
	return connIDs, subIDs
}

// Broadcast pushes the listing to every matched connection. Pushes run on a
// snapshot taken under the read lock, so a slow client never blocks the
// predicate map.
func (b *Broadcaster) Broadcast(ctx context.Context, listing *entity.Listing) (connIDs []string, subIDs []string) {
	connIDs, subIDs = b.Match(listing)
	if len(connIDs) == 0 {
		return connIDs, subIDs
	}

	b.mu.RLock()
	pushers := make(map[string]Pusher, len(connIDs))
	for _, id := range connIDs {
		if conn, ok := b.connections[id]; ok && conn.pusher != nil {
			pushers[id] = conn.pusher
		}
	}
	b.mu.RUnlock()

	for id, p := range pushers {
		if err := p.Push(ctx, listing); err != nil {
			b.log.Warnf("push to connection %s failed: %v", id, err)
		}
	}

	if b.onMatch != nil {
		b.onMatch(len(subIDs))
	}
	return connIDs, subIDs
}

// Matches is a pure predicate: the same (listing, filter) pair always yields
// the same verdict. Every specified clause must pass; a clause whose
// required listing field is absent fails.
func Matches(l *entity.Listing, f *entity.ListingFilter) bool {
	if f.District != "" && l.District != f.District {
		return false
	}

	if f.PriceMin > 0 || f.PriceMax > 0 {
		price, ok := l.Price.Resolve()
		if !ok {
			return false
		}
		if f.PriceMin > 0 && price < f.PriceMin {
			return false
		}
		if f.PriceMax > 0 && price > f.PriceMax {
			return false
		}
	}
	if f.Currency != "" && l.Price.Currency != f.Currency {
		return false
	}

	if f.RoomsMin > 0 || f.RoomsMax > 0 {
		if l.Rooms == 0 {
			return false
		}
		if f.RoomsMin > 0 && l.Rooms < f.RoomsMin {
			return false
		}
		if f.RoomsMax > 0 && l.Rooms > f.RoomsMax {
			return false
		}
	}

	if f.Center != nil && f.RadiusKm > 0 {
		if l.Location == nil {
			return false
		}
		if haversineKm(f.Center.Lat, f.Center.Lng, l.Location.Lat, l.Location.Lng) > f.RadiusKm {
			return false
		}
	}

	if f.PetsAllowed != nil {
		if l.PetsAllowed == nil || *l.PetsAllowed != *f.PetsAllowed {
			return false
		}
	}
	if f.Furnished != nil {
		if l.Furnished == nil || *l.Furnished != *f.Furnished {
			return false
		}
	}

	if len(f.Amenities) > 0 {
		have := make(map[string]struct{}, len(l.Amenities))
		for _, a := range l.Amenities {
			have[a] = struct{}{}
		}
		for _, required := range f.Amenities {
			if _, ok := have[required]; !ok {
				return false
			}
		}
	}

	return true
}

func haversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	const earthRadiusKm = 6371.0
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }

	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
