package ai

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/foker/tgflats-sub000/internal/costguard"
	"github.com/foker/tgflats-sub000/internal/domain/entity"
	"github.com/foker/tgflats-sub000/internal/platform/logger"
	"github.com/foker/tgflats-sub000/internal/repository"
)

const systemPrompt = `You analyze real-estate messages from Tbilisi rental channels.
Respond with a single JSON object and nothing else:
{"is_rental": bool, "confidence": number 0..1, "price": {"amount": number, "min": number, "max": number, "currency": "GEL"|"USD"|"EUR"},
"rooms": int, "area_sqm": number, "district": string, "address": string, "contact": string,
"amenities": [string], "pets_allowed": bool|null, "furnished": bool|null, "language": "ka"|"ru"|"en", "reasoning": string}
Use null for unknown booleans and omit fields you cannot extract.`

// SpendGuard is the slice of the cost governor the analyzer needs.
type SpendGuard interface {
	CheckSpendingLimits(ctx context.Context) costguard.SpendingStatus
	Record(ctx context.Context, provider, model string, inputTokens, outputTokens int, requestID string) (float64, error)
}

// ResultObserver lets the caller count which path produced each result.
type ResultObserver func(source entity.ExtractionSource)

// Analyzer is the extraction stage: cache, then the paid provider chain under
// budget control, then the deterministic heuristic.
type Analyzer struct {
	cache     repository.ExtractionCache
	providers []Provider
	guard     SpendGuard
	cacheTTL  time.Duration
	log       logger.Logger
	observe   ResultObserver
}

func NewAnalyzer(cache repository.ExtractionCache, providers []Provider, guard SpendGuard, cacheTTL time.Duration, log logger.Logger) *Analyzer {
	// Unconfigured providers arrive as nils; drop them here so the chain
	// iteration stays branch-free.
	chain := make([]Provider, 0, len(providers))
	for _, p := range providers {
		if p != nil {
			chain = append(chain, p)
		}
	}
	if cacheTTL <= 0 {
		cacheTTL = 30 * 24 * time.Hour
	}
	return &Analyzer{
		cache:     cache,
		providers: chain,
		guard:     guard,
		cacheTTL:  cacheTTL,
		log:       log,
	}
}

// SetObserver installs an optional per-result callback (metrics).
func (a *Analyzer) SetObserver(fn ResultObserver) { a.observe = fn }

// Analyze converts one post text into a structured extraction result.
// Blank input short-circuits with a zero-confidence non-rental result and
// touches neither the cache nor any provider.
func (a *Analyzer) Analyze(ctx context.Context, text string) (*entity.ExtractionResult, error) {
	if strings.TrimSpace(text) == "" {
		return &entity.ExtractionResult{IsRental: false, Confidence: 0}, nil
	}

	key := contentHash(text)
	if cached, err := a.cache.Get(ctx, key); err == nil {
		cached.Source = entity.ExtractionSourceCache
		a.emit(entity.ExtractionSourceCache)
		return cached, nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		a.log.Warnf("extraction cache read failed: %v", err)
	}

	res := a.analyzeUncached(ctx, text)

	if err := a.cache.Set(ctx, key, res, a.cacheTTL); err != nil {
		a.log.Warnf("extraction cache write failed: %v", err)
	}
	a.emit(res.Source)
	return res, nil
}

func (a *Analyzer) analyzeUncached(ctx context.Context, text string) *entity.ExtractionResult {
	for _, p := range a.providers {
		status := a.guard.CheckSpendingLimits(ctx)
		if status.IsOverLimit {
			a.log.Warnf("AI budget exhausted, using heuristic extractor: %s", status.Message)
			break
		}
		if status.IsNearLimit {
			a.log.Warn(status.Message)
		}

		res, err := a.callProvider(ctx, p, text)
		if err != nil {
			a.log.Warnf("provider %s failed, falling through: %v", p.Name(), err)
			continue
		}
		return res
	}
	return HeuristicExtract(text)
}

func (a *Analyzer) callProvider(ctx context.Context, p Provider, text string) (*entity.ExtractionResult, error) {
	raw, err := p.Complete(ctx, systemPrompt, text)
	if err != nil {
		return nil, err
	}

	inputTokens := costguard.CountTokens(systemPrompt) + costguard.CountTokens(text)
	outputTokens := costguard.CountTokens(raw)
	cost, err := a.guard.Record(ctx, p.Name(), p.Model(), inputTokens, outputTokens, uuid.NewString())
	if err != nil {
		a.log.Errorf("usage record failed for provider %s: %v", p.Name(), err)
	}

	res, err := parseProviderOutput(raw)
	if err != nil {
		// Malformed output is recovered locally, and the call is already
		// paid for, so keep the cost on the heuristic result.
		a.log.Warnf("provider %s output unparseable, using heuristic: %v", p.Name(), err)
		res = HeuristicExtract(text)
		res.CostUSD = cost
		return res, nil
	}

	res.CostUSD = cost
	res.Source = entity.ExtractionSourceProvider
	if res.Language == "" {
		res.Language = DetectLanguage(text)
	}
	return res, nil
}

func (a *Analyzer) emit(source entity.ExtractionSource) {
	if a.observe != nil {
		a.observe(source)
	}
}

type providerPayload struct {
	IsRental    bool          `json:"is_rental"`
	Confidence  float64       `json:"confidence"`
	Price       *entity.Price `json:"price"`
	Rooms       int           `json:"rooms"`
	AreaSqm     float64       `json:"area_sqm"`
	District    string        `json:"district"`
	Address     string        `json:"address"`
	Contact     string        `json:"contact"`
	Amenities   []string      `json:"amenities"`
	PetsAllowed *bool         `json:"pets_allowed"`
	Furnished   *bool         `json:"furnished"`
	Language    string        `json:"language"`
	Reasoning   string        `json:"reasoning"`
}

// parseProviderOutput tolerates prose around the JSON payload: it extracts
// the first balanced {...} block and clamps confidence into [0,1].
func parseProviderOutput(raw string) (*entity.ExtractionResult, error) {
	block, err := firstJSONBlock(raw)
	if err != nil {
		return nil, err
	}

	var payload providerPayload
	if err := json.Unmarshal([]byte(block), &payload); err != nil {
		return nil, fmt.Errorf("invalid JSON payload: %w", err)
	}

	res := &entity.ExtractionResult{
		IsRental:    payload.IsRental,
		Confidence:  clampConfidence(payload.Confidence),
		Rooms:       payload.Rooms,
		AreaSqm:     payload.AreaSqm,
		District:    payload.District,
		Address:     payload.Address,
		Contact:     payload.Contact,
		Amenities:   payload.Amenities,
		PetsAllowed: payload.PetsAllowed,
		Furnished:   payload.Furnished,
		Language:    payload.Language,
		Reasoning:   payload.Reasoning,
	}
	if payload.Price != nil {
		res.Price = *payload.Price
	}
	return res, nil
}

// firstJSONBlock returns the first balanced top-level {...} substring,
// ignoring braces inside JSON strings.
func firstJSONBlock(raw string) (string, error) {
	start := strings.IndexByte(raw, '{')
	if start < 0 {
		return "", errors.New("no JSON object in provider output")
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(raw); i++ {
		c := raw[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return raw[start : i+1], nil
			}
		}
	}
	return "", errors.New("unbalanced JSON object in provider output")
}

// contentHash keys the extraction cache: whitespace-collapsed, lowercased
// text hashed with sha256.
func contentHash(text string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(text), " "))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
