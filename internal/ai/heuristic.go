package ai

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/foker/tgflats-sub000/internal/domain/entity"
)

// Deterministic fallback extractor. Keeps the pipeline functional when no
// inference provider is configured, reachable, or affordable.

var (
	priceRegexp = regexp.MustCompile(`(\d[\d\s]*\d|\d+)\s*(?:-|—|до)?\s*(\d[\d\s]*\d|\d+)?\s*(лари|лар|gel|₾|ლარი|\$|usd|долл?\.?|доллар\w*|დოლარი|€|eur|евро|ევრო)`)
	roomsRegexp = regexp.MustCompile(`(\d+)\s*[-\s]?\s*(?:комн\w*|ком\.|bed(?:room)?s?|br\b|rooms?|ოთახ\w*)`)
	areaRegexp  = regexp.MustCompile(`(\d+(?:[.,]\d+)?)\s*(?:кв\.?\s*м\w*|м2|m2|sq\.?\s*m\w*|sqm|კვ\.?\s*მ\w*)`)
	phoneRegexp = regexp.MustCompile(`(?:\+?995[\s-]?)?5\d{2}[\s-]?\d{2}[\s-]?\d{2}[\s-]?\d{2}|\+?\d{3}[\s-]?\d{3}[\s-]?\d{3,4}`)
)

var rentalKeywords = []string{
	// ru
	"сдается", "сдаётся", "сдам", "сдаю", "аренда", "арендовать", "в аренду", "снять",
	// ka
	"ქირავდება", "გასაქირავებლად", "ქირით", "გაქირავება",
	// en
	"for rent", "rent", "rental", "lease", "to let", "monthly",
}

var furnishedKeywords = []string{"мебел", "меблирован", "furnished", "furniture", "ავეჯ"}

var petsKeywords = []string{"живот", "с животными", "pets", "pet friendly", "pet-friendly", "ცხოველ"}

// DetectLanguage classifies by dominant character set: Georgian script wins,
// then Cyrillic, then English by default.
func DetectLanguage(text string) string {
	var georgian, cyrillic int
	for _, r := range text {
		switch {
		case r >= 0x10A0 && r <= 0x10FF:
			georgian++
		case r >= 0x0400 && r <= 0x04FF:
			cyrillic++
		}
	}
	switch {
	case georgian > 0 && georgian >= cyrillic:
		return "ka"
	case cyrillic > 0:
		return "ru"
	default:
		return "en"
	}
}

// HeuristicExtract runs the deterministic keyword/regex extractor.
func HeuristicExtract(text string) *entity.ExtractionResult {
	lower := strings.ToLower(text)

	res := &entity.ExtractionResult{
		Language: DetectLanguage(text),
		Source:   entity.ExtractionSourceHeuristic,
	}

	for _, kw := range rentalKeywords {
		if strings.Contains(lower, kw) {
			res.IsRental = true
			break
		}
	}
	if !res.IsRental {
		res.Reasoning = "no rental intent keywords found"
		return res
	}

	confidence := 0.4

	if price, ok := parsePrice(lower); ok {
		res.Price = price
		confidence += 0.2
	}
	if m := roomsRegexp.FindStringSubmatch(lower); len(m) >= 2 {
		if rooms, err := strconv.Atoi(m[1]); err == nil && rooms > 0 && rooms < 20 {
			res.Rooms = rooms
			confidence += 0.1
		}
	} else if strings.Contains(lower, "студия") || strings.Contains(lower, "studio") || strings.Contains(lower, "სტუდიო") {
		res.Rooms = 1
		confidence += 0.1
	}
	if m := areaRegexp.FindStringSubmatch(lower); len(m) >= 2 {
		if area, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", "."), 64); err == nil && area > 0 {
			res.AreaSqm = area
			confidence += 0.05
		}
	}
	if contact := phoneRegexp.FindString(text); contact != "" {
		res.Contact = strings.TrimSpace(contact)
		confidence += 0.05
	}

	if containsAny(lower, furnishedKeywords) {
		v := true
		res.Furnished = &v
		res.Amenities = append(res.Amenities, "furnished")
	}
	if containsAny(lower, petsKeywords) {
		v := true
		res.PetsAllowed = &v
		res.Amenities = append(res.Amenities, "pets_allowed")
	}

	res.Confidence = clampConfidence(confidence)
	res.Reasoning = "keyword/regex extraction"
	return res
}

func parsePrice(lower string) (entity.Price, bool) {
	m := priceRegexp.FindStringSubmatch(lower)
	if len(m) < 4 {
		return entity.Price{}, false
	}

	first, err := strconv.ParseFloat(stripDigitSpaces(m[1]), 64)
	if err != nil || first <= 0 {
		return entity.Price{}, false
	}

	price := entity.Price{Currency: normalizeCurrency(m[3])}
	if m[2] != "" {
		second, err := strconv.ParseFloat(stripDigitSpaces(m[2]), 64)
		if err == nil && second > first {
			price.Min = first
			price.Max = second
			return price, true
		}
	}
	price.Amount = first
	return price, true
}

func normalizeCurrency(raw string) string {
	// Dollar and euro word forms first: "долларов"/"доллара" contain the
	// substring "лар", so the GEL match must not see them.
	switch {
	case raw == "$", raw == "usd", strings.HasPrefix(raw, "долл"), strings.Contains(raw, "დოლარ"):
		return "USD"
	case raw == "€", raw == "eur", strings.HasPrefix(raw, "евро"), strings.Contains(raw, "ევრო"):
		return "EUR"
	case strings.Contains(raw, "лар"), raw == "gel", raw == "₾", strings.Contains(raw, "ლარ"):
		return "GEL"
	default:
		return "GEL"
	}
}

func stripDigitSpaces(s string) string {
	return strings.Map(func(r rune) rune {
		if r == ' ' || r == '\u00a0' {
			return -1
		}
		return r
	}, s)
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

func clampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
