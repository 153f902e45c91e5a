package entity

import "time"

// GeocodeResult is the outcome of resolving a free-text address.
// InBounds and District are derived from the coordinates, not stored.
type GeocodeResult struct {
	Lat              float64 `json:"lat"`
	Lng              float64 `json:"lng"`
	FormattedAddress string  `json:"formattedAddress,omitempty"`
	District         string  `json:"district,omitempty"`
	Confidence       float64 `json:"confidence"`
	InBounds         bool    `json:"inBounds"`
	Provider         string  `json:"provider,omitempty"`
}

// GeocodeCacheEntry is the persisted form of a successful resolution,
// keyed by the normalized address.
type GeocodeCacheEntry struct {
	Lat              float64   `json:"lat"`
	Lng              float64   `json:"lng"`
	FormattedAddress string    `json:"formattedAddress,omitempty"`
	District         string    `json:"district,omitempty"`
	Confidence       float64   `json:"confidence"`
	LastUsedAt       time.Time `json:"lastUsedAt"`
}
