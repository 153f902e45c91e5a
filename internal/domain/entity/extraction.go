package entity

import "time"

// ExtractionSource records which path produced an ExtractionResult.
type ExtractionSource string

const (
	ExtractionSourceProvider  ExtractionSource = "provider"
	ExtractionSourceHeuristic ExtractionSource = "heuristic"
	ExtractionSourceCache     ExtractionSource = "cache"
)

// ExtractionResult is the structured output of analyzing one post text.
// It is a value object: cached by content hash, never persisted on its own.
type ExtractionResult struct {
	IsRental    bool             `json:"isRental"`
	Confidence  float64          `json:"confidence"`
	Price       Price            `json:"price"`
	Rooms       int              `json:"rooms,omitempty"`
	AreaSqm     float64          `json:"areaSqm,omitempty"`
	District    string           `json:"district,omitempty"`
	Address     string           `json:"address,omitempty"`
	Contact     string           `json:"contact,omitempty"`
	Amenities   []string         `json:"amenities,omitempty"`
	PetsAllowed *bool            `json:"petsAllowed,omitempty"`
	Furnished   *bool            `json:"furnished,omitempty"`
	Language    string           `json:"language,omitempty"`
	Reasoning   string           `json:"reasoning,omitempty"`
	CostUSD     float64          `json:"costUsd,omitempty"`
	Source      ExtractionSource `json:"source,omitempty"`
}

// AIUsage is one recorded paid inference call, aggregated later by
// provider/model/day and summed per calendar month for spend control.
type AIUsage struct {
	ID           string    `bson:"_id,omitempty"`
	Provider     string    `bson:"provider"`
	Model        string    `bson:"model"`
	InputTokens  int       `bson:"input_tokens"`
	OutputTokens int       `bson:"output_tokens"`
	CostUSD      float64   `bson:"cost_usd"`
	RequestID    string    `bson:"request_id,omitempty"`
	CreatedAt    time.Time `bson:"created_at"`
}
