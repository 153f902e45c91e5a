package entity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriceResolve(t *testing.T) {
	amount, ok := Price{Amount: 800}.Resolve()
	require.True(t, ok)
	assert.Equal(t, 800.0, amount)

	mid, ok := Price{Min: 600, Max: 800}.Resolve()
	require.True(t, ok)
	assert.Equal(t, 700.0, mid)

	min, ok := Price{Min: 600}.Resolve()
	require.True(t, ok)
	assert.Equal(t, 600.0, min)

	_, ok = Price{Currency: "GEL"}.Resolve()
	assert.False(t, ok)
}

func TestNewListing(t *testing.T) {
	res := &ExtractionResult{
		IsRental:   true,
		Confidence: 0.8,
		District:   "Vake",
		Price:      Price{Amount: 900, Currency: "USD"},
		Rooms:      3,
	}

	l, err := NewListing("post-1", res)
	require.NoError(t, err)
	assert.Equal(t, "post-1", l.RawPostID)
	assert.Equal(t, ListingStatusActive, l.Status)
	assert.Equal(t, "Vake", l.District)
	assert.Equal(t, 0.8, l.Confidence)

	_, err = NewListing("", res)
	assert.Error(t, err)

	_, err = NewListing("post-1", nil)
	assert.Error(t, err)
}

func TestMergeExtraction_KeepsExistingOnEmpty(t *testing.T) {
	furnished := true
	l := &Listing{
		RawPostID: "post-1",
		District:  "Vake",
		Price:     Price{Amount: 800, Currency: "GEL"},
		Rooms:     2,
		Furnished: &furnished,
		Contact:   "555 11 22 33",
	}

	l.MergeExtraction(&ExtractionResult{
		Address:    "Chavchavadze Ave 10",
		Confidence: 0.9,
	})

	// New fields land, everything the re-extraction left empty survives.
	assert.Equal(t, "Chavchavadze Ave 10", l.Address)
	assert.Equal(t, 0.9, l.Confidence)
	assert.Equal(t, "Vake", l.District)
	assert.Equal(t, 800.0, l.Price.Amount)
	assert.Equal(t, 2, l.Rooms)
	require.NotNil(t, l.Furnished)
	assert.True(t, *l.Furnished)
	assert.Equal(t, "555 11 22 33", l.Contact)
}

func TestMergeExtraction_OverwritesWithNewValues(t *testing.T) {
	l := &Listing{RawPostID: "post-1", Rooms: 2, Price: Price{Amount: 800, Currency: "GEL"}}

	l.MergeExtraction(&ExtractionResult{
		Rooms: 3,
		Price: Price{Min: 900, Max: 1100, Currency: "USD"},
	})

	assert.Equal(t, 3, l.Rooms)
	assert.Equal(t, 900.0, l.Price.Min)
	assert.Equal(t, "USD", l.Price.Currency)
}

func TestRawPostWorthExtracting(t *testing.T) {
	short, err := NewRawPost("flats", "1", "+", nil, time.Time{})
	require.NoError(t, err)
	assert.False(t, short.WorthExtracting(30))

	// Rune count, not byte count: Cyrillic text is measured by characters.
	long, err := NewRawPost("flats", "2", "Сдается двухкомнатная квартира в центре", nil, time.Time{})
	require.NoError(t, err)
	assert.True(t, long.WorthExtracting(30))
}
