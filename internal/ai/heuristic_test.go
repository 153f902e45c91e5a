package ai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foker/tgflats-sub000/internal/domain/entity"
)

func TestDetectLanguage(t *testing.T) {
	testCases := []struct {
		name     string
		text     string
		expected string
	}{
		{"georgian", "ქირავდება ბინა ვაკეში", "ka"},
		{"russian", "Сдается квартира в Ваке", "ru"},
		{"english", "Apartment for rent in Vake", "en"},
		{"mixed georgian wins", "ქირავდება квартира", "ka"},
		{"empty defaults to english", "", "en"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, DetectLanguage(tc.text))
		})
	}
}

func TestHeuristicExtract_RussianListing(t *testing.T) {
	res := HeuristicExtract("Сдается 2-комнатная квартира в Сабуртало, 800 лари")

	require.True(t, res.IsRental)
	assert.Equal(t, "ru", res.Language)
	assert.Equal(t, 2, res.Rooms)
	assert.Equal(t, 800.0, res.Price.Amount)
	assert.Equal(t, "GEL", res.Price.Currency)
	assert.Greater(t, res.Confidence, 0.6)
	assert.Equal(t, entity.ExtractionSourceHeuristic, res.Source)
}

func TestHeuristicExtract_NoRentalIntent(t *testing.T) {
	res := HeuristicExtract("Продается квартира в центре города")

	assert.False(t, res.IsRental)
	assert.Zero(t, res.Confidence)
	assert.NotEmpty(t, res.Reasoning)
}

func TestHeuristicExtract_PriceRange(t *testing.T) {
	res := HeuristicExtract("Сдаю квартиру, 600 - 700 долларов в месяц")

	require.True(t, res.IsRental)
	assert.Zero(t, res.Price.Amount)
	assert.Equal(t, 600.0, res.Price.Min)
	assert.Equal(t, 700.0, res.Price.Max)
	assert.Equal(t, "USD", res.Price.Currency)
}

func TestHeuristicExtract_EnglishWithDetails(t *testing.T) {
	res := HeuristicExtract("For rent: 3 bedroom apartment, 95 sqm, furnished, pets allowed. Call 555 12 34 56")

	require.True(t, res.IsRental)
	assert.Equal(t, "en", res.Language)
	assert.Equal(t, 3, res.Rooms)
	assert.Equal(t, 95.0, res.AreaSqm)
	assert.NotEmpty(t, res.Contact)
	require.NotNil(t, res.Furnished)
	assert.True(t, *res.Furnished)
	require.NotNil(t, res.PetsAllowed)
	assert.True(t, *res.PetsAllowed)
	assert.Contains(t, res.Amenities, "furnished")
	assert.Contains(t, res.Amenities, "pets_allowed")
}

func TestHeuristicExtract_Studio(t *testing.T) {
	res := HeuristicExtract("Сдается студия в Ваке, 500 долларов")

	require.True(t, res.IsRental)
	assert.Equal(t, 1, res.Rooms)
	assert.Equal(t, "USD", res.Price.Currency)
}

func TestHeuristicExtract_ConfidenceClamped(t *testing.T) {
	res := HeuristicExtract("Сдается 2-комнатная квартира, 45 кв.м, мебель, 800 лари, тел 555 11 22 33")

	require.True(t, res.IsRental)
	assert.LessOrEqual(t, res.Confidence, 1.0)
	assert.GreaterOrEqual(t, res.Confidence, 0.0)
}

func TestNormalizeCurrency(t *testing.T) {
	assert.Equal(t, "GEL", normalizeCurrency("лари"))
	assert.Equal(t, "GEL", normalizeCurrency("₾"))
	assert.Equal(t, "USD", normalizeCurrency("$"))
	assert.Equal(t, "USD", normalizeCurrency("долларов"))
	assert.Equal(t, "USD", normalizeCurrency("доллара"))
	assert.Equal(t, "USD", normalizeCurrency("დოლარი"))
	assert.Equal(t, "EUR", normalizeCurrency("евро"))
	assert.Equal(t, "GEL", normalizeCurrency("unknown"))
}
