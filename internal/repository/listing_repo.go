package repository

import (
	"context"

	"github.com/foker/tgflats-sub000/internal/domain/entity"
)

// ListingQuery narrows listing reads for the map and admin surfaces.
type ListingQuery struct {
	Status   entity.ListingStatus
	District string
	PriceMin float64
	PriceMax float64
	RoomsMin int
	RoomsMax int
	Bounds   *entity.Bounds
	Limit    int
}

// ListingRepository is the durable listing store. At most one listing exists
// per raw post; UpsertByRawPost enforces that invariant.
type ListingRepository interface {
	// UpsertByRawPost creates the listing for a raw post, or merges the
	// non-empty extracted fields into the existing one. The returned bool is
	// true when a new listing was created.
	UpsertByRawPost(ctx context.Context, listing *entity.Listing) (*entity.Listing, bool, error)
	GetByRawPostID(ctx context.Context, rawPostID string) (*entity.Listing, error)
	// PatchLocation sets coordinates, formatted address and district on an
	// existing listing. Returns ErrNotFound when the listing does not exist
	// yet; callers treat that as a best-effort miss.
	PatchLocation(ctx context.Context, rawPostID string, loc entity.GeoPoint, address, district string) error
	Find(ctx context.Context, q ListingQuery) ([]entity.Listing, error)
	UpdateStatus(ctx context.Context, id string, status entity.ListingStatus) error
}
