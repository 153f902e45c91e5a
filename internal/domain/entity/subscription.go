package entity

import "time"

// ListingFilter is a client-defined predicate over listing attributes.
// Zero values mean "clause not specified"; pointer fields distinguish an
// explicit false from an unset clause.
type ListingFilter struct {
	District     string    `json:"district,omitempty"`
	PriceMin     float64   `json:"priceMin,omitempty"`
	PriceMax     float64   `json:"priceMax,omitempty"`
	Currency     string    `json:"currency,omitempty"`
	RoomsMin     int       `json:"roomsMin,omitempty"`
	RoomsMax     int       `json:"roomsMax,omitempty"`
	Center       *GeoPoint `json:"center,omitempty"`
	RadiusKm     float64   `json:"radiusKm,omitempty"`
	PetsAllowed  *bool     `json:"petsAllowed,omitempty"`
	Furnished    *bool     `json:"furnished,omitempty"`
	Amenities    []string  `json:"amenities,omitempty"`
}

type Subscription struct {
	ID           string        `json:"id"`
	ConnectionID string        `json:"connectionId"`
	Filter       ListingFilter `json:"filter"`
	CreatedAt    time.Time     `json:"createdAt"`
}
