package entity

import (
	"errors"
	"time"
)

type ListingStatus string

const (
	ListingStatusActive  ListingStatus = "ACTIVE"
	ListingStatusExpired ListingStatus = "EXPIRED"
)

// GeoPoint is a WGS84 coordinate pair.
type GeoPoint struct {
	Lat float64 `bson:"lat" json:"lat"`
	Lng float64 `bson:"lng" json:"lng"`
}

// Price carries either an exact amount or a range, never both.
type Price struct {
	Amount   float64 `bson:"amount,omitempty" json:"amount,omitempty"`
	Min      float64 `bson:"min,omitempty" json:"min,omitempty"`
	Max      float64 `bson:"max,omitempty" json:"max,omitempty"`
	Currency string  `bson:"currency,omitempty" json:"currency,omitempty"`
}

func (p Price) IsZero() bool {
	return p.Amount == 0 && p.Min == 0 && p.Max == 0
}

// Resolve returns a single comparable value for the price: the exact amount
// when set, otherwise the midpoint of the range.
func (p Price) Resolve() (float64, bool) {
	if p.Amount > 0 {
		return p.Amount, true
	}
	if p.Min > 0 || p.Max > 0 {
		if p.Min > 0 && p.Max > 0 {
			return (p.Min + p.Max) / 2, true
		}
		if p.Min > 0 {
			return p.Min, true
		}
		return p.Max, true
	}
	return 0, false
}

type Listing struct {
	ID          string        `bson:"_id,omitempty" json:"id"`
	RawPostID   string        `bson:"raw_post_id" json:"rawPostId"`
	Channel     string        `bson:"channel,omitempty" json:"channel,omitempty"`
	District    string        `bson:"district,omitempty" json:"district,omitempty"`
	Address     string        `bson:"address,omitempty" json:"address,omitempty"`
	Location    *GeoPoint     `bson:"location,omitempty" json:"location,omitempty"`
	Price       Price         `bson:"price,omitempty" json:"price"`
	Rooms       int           `bson:"rooms,omitempty" json:"rooms,omitempty"`
	AreaSqm     float64       `bson:"area_sqm,omitempty" json:"areaSqm,omitempty"`
	Amenities   []string      `bson:"amenities,omitempty" json:"amenities,omitempty"`
	PetsAllowed *bool         `bson:"pets_allowed,omitempty" json:"petsAllowed,omitempty"`
	Furnished   *bool         `bson:"furnished,omitempty" json:"furnished,omitempty"`
	Contact     string        `bson:"contact,omitempty" json:"contact,omitempty"`
	Status      ListingStatus `bson:"status" json:"status"`
	Confidence  float64       `bson:"confidence" json:"confidence"`
	CreatedAt   time.Time     `bson:"created_at" json:"createdAt"`
	UpdatedAt   time.Time     `bson:"updated_at" json:"updatedAt"`
}

func NewListing(rawPostID string, res *ExtractionResult) (*Listing, error) {
	if rawPostID == "" {
		return nil, errors.New("raw post ID cannot be empty")
	}
	if res == nil {
		return nil, errors.New("extraction result cannot be nil")
	}
	now := time.Now().UTC()
	return &Listing{
		RawPostID:   rawPostID,
		District:    res.District,
		Address:     res.Address,
		Price:       res.Price,
		Rooms:       res.Rooms,
		AreaSqm:     res.AreaSqm,
		Amenities:   res.Amenities,
		PetsAllowed: res.PetsAllowed,
		Furnished:   res.Furnished,
		Contact:     res.Contact,
		Status:      ListingStatusActive,
		Confidence:  res.Confidence,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// MergeExtraction overlays only the non-empty fields of a re-extraction onto
// the listing. Existing values survive when the new result says nothing.
func (l *Listing) MergeExtraction(res *ExtractionResult) {
	if res == nil {
		return
	}
	if res.District != "" {
		l.District = res.District
	}
	if res.Address != "" {
		l.Address = res.Address
	}
	if !res.Price.IsZero() {
		l.Price = res.Price
	}
	if res.Rooms > 0 {
		l.Rooms = res.Rooms
	}
	if res.AreaSqm > 0 {
		l.AreaSqm = res.AreaSqm
	}
	if len(res.Amenities) > 0 {
		l.Amenities = res.Amenities
	}
	if res.PetsAllowed != nil {
		l.PetsAllowed = res.PetsAllowed
	}
	if res.Furnished != nil {
		l.Furnished = res.Furnished
	}
	if res.Contact != "" {
		l.Contact = res.Contact
	}
	if res.Confidence > 0 {
		l.Confidence = res.Confidence
	}
	l.UpdatedAt = time.Now().UTC()
}
