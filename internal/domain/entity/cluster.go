package entity

// Bounds is a rectangular viewport in degree space.
type Bounds struct {
	MinLat float64 `json:"minLat"`
	MinLng float64 `json:"minLng"`
	MaxLat float64 `json:"maxLat"`
	MaxLng float64 `json:"maxLng"`
}

func (b Bounds) Contains(p GeoPoint) bool {
	return p.Lat >= b.MinLat && p.Lat <= b.MaxLat &&
		p.Lng >= b.MinLng && p.Lng <= b.MaxLng
}

// PriceStats summarizes the resolvable prices of a cluster's members.
type PriceStats struct {
	Avg float64 `json:"avg"`
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// MapPoint is a single listing rendered at high zoom.
type MapPoint struct {
	ListingID string   `json:"listingId"`
	Location  GeoPoint `json:"location"`
	Price     Price    `json:"price"`
	Rooms     int      `json:"rooms,omitempty"`
	District  string   `json:"district,omitempty"`
}

// MapCluster is a spatial aggregate of listings at a given zoom.
type MapCluster struct {
	ID            string      `json:"id"`
	Centroid      GeoPoint    `json:"centroid"`
	Bounds        Bounds      `json:"bounds"`
	Count         int         `json:"count"`
	PriceStats    *PriceStats `json:"priceStats,omitempty"`
	Districts     []string    `json:"districts,omitempty"`
	RoomHistogram map[int]int `json:"roomHistogram,omitempty"`
}

// ClusterResult is either a point or a cluster, never both.
type ClusterResult struct {
	Type    string      `json:"type"` // "point" | "cluster"
	Point   *MapPoint   `json:"point,omitempty"`
	Cluster *MapCluster `json:"cluster,omitempty"`
}
