package ai

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foker/tgflats-sub000/internal/costguard"
	"github.com/foker/tgflats-sub000/internal/domain/entity"
	"github.com/foker/tgflats-sub000/internal/platform/logger"
	"github.com/foker/tgflats-sub000/internal/repository"
)

type fakeExtractionCache struct {
	entries map[string]*entity.ExtractionResult
	gets    int
	sets    int
}

func newFakeExtractionCache() *fakeExtractionCache {
	return &fakeExtractionCache{entries: make(map[string]*entity.ExtractionResult)}
}

func (c *fakeExtractionCache) Get(_ context.Context, key string) (*entity.ExtractionResult, error) {
	c.gets++
	if res, ok := c.entries[key]; ok {
		copied := *res
		return &copied, nil
	}
	return nil, repository.ErrNotFound
}

func (c *fakeExtractionCache) Set(_ context.Context, key string, res *entity.ExtractionResult, _ time.Duration) error {
	c.sets++
	copied := *res
	c.entries[key] = &copied
	return nil
}

type fakeProvider struct {
	name   string
	output string
	err    error
	calls  int
}

func (p *fakeProvider) Name() string  { return p.name }
func (p *fakeProvider) Model() string { return "test-model" }

func (p *fakeProvider) Complete(_ context.Context, _, _ string) (string, error) {
	p.calls++
	if p.err != nil {
		return "", p.err
	}
	return p.output, nil
}

type fakeGuard struct {
	status   costguard.SpendingStatus
	checks   int
	recorded int
}

func (g *fakeGuard) CheckSpendingLimits(_ context.Context) costguard.SpendingStatus {
	g.checks++
	return g.status
}

func (g *fakeGuard) Record(_ context.Context, provider, model string, in, out int, _ string) (float64, error) {
	g.recorded++
	return costguard.CalculateCost(provider, model, in, out), nil
}

func TestAnalyzer_BlankInputNoInteractions(t *testing.T) {
	cache := newFakeExtractionCache()
	provider := &fakeProvider{name: "test"}
	guard := &fakeGuard{}
	analyzer := NewAnalyzer(cache, []Provider{provider}, guard, time.Hour, logger.NewNop())

	res, err := analyzer.Analyze(context.Background(), "   \n\t  ")

	require.NoError(t, err)
	assert.False(t, res.IsRental)
	assert.Zero(t, res.Confidence)
	assert.Zero(t, cache.gets)
	assert.Zero(t, cache.sets)
	assert.Zero(t, provider.calls)
	assert.Zero(t, guard.checks)
}

func TestAnalyzer_CacheHitSkipsProviders(t *testing.T) {
	cache := newFakeExtractionCache()
	provider := &fakeProvider{name: "test"}
	guard := &fakeGuard{}
	analyzer := NewAnalyzer(cache, []Provider{provider}, guard, time.Hour, logger.NewNop())

	text := "Сдается квартира в Ваке, 900 лари"
	first, err := analyzer.Analyze(context.Background(), text)
	require.NoError(t, err)

	// Same content with different whitespace and case hits the same entry.
	second, err := analyzer.Analyze(context.Background(), "  сдается  квартира в ваке,   900 лари ")
	require.NoError(t, err)

	assert.Equal(t, entity.ExtractionSourceCache, second.Source)
	assert.Equal(t, first.Confidence, second.Confidence)
	assert.Equal(t, 1, cache.sets)
}

func TestAnalyzer_OverLimitFallsBackToHeuristic(t *testing.T) {
	cache := newFakeExtractionCache()
	provider := &fakeProvider{name: "openai", output: `{"is_rental": true, "confidence": 0.9}`}
	guard := &fakeGuard{status: costguard.SpendingStatus{IsOverLimit: true}}
	analyzer := NewAnalyzer(cache, []Provider{provider}, guard, time.Hour, logger.NewNop())

	res, err := analyzer.Analyze(context.Background(), "Сдается квартира, 700 лари")

	require.NoError(t, err)
	assert.Zero(t, provider.calls)
	assert.Equal(t, entity.ExtractionSourceHeuristic, res.Source)
	assert.True(t, res.IsRental)
	// The heuristic result is still cached.
	assert.Equal(t, 1, cache.sets)
}

func TestAnalyzer_ProviderChainFallthrough(t *testing.T) {
	cache := newFakeExtractionCache()
	primary := &fakeProvider{name: "primary", err: errors.New("timeout")}
	secondary := &fakeProvider{
		name: "secondary",
		output: `Here is the analysis:
{"is_rental": true, "confidence": 0.85, "rooms": 2, "district": "Vake", "price": {"amount": 900, "currency": "USD"}}`,
	}
	guard := &fakeGuard{}
	analyzer := NewAnalyzer(cache, []Provider{primary, secondary}, guard, time.Hour, logger.NewNop())

	res, err := analyzer.Analyze(context.Background(), "For rent in Vake, 2 rooms, 900 usd")

	require.NoError(t, err)
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 1, secondary.calls)
	assert.Equal(t, entity.ExtractionSourceProvider, res.Source)
	assert.Equal(t, "Vake", res.District)
	assert.Equal(t, 900.0, res.Price.Amount)
	assert.Equal(t, 1, guard.recorded)
	assert.Greater(t, res.CostUSD, 0.0)
}

func TestAnalyzer_UnparseableOutputUsesHeuristicKeepsCost(t *testing.T) {
	cache := newFakeExtractionCache()
	provider := &fakeProvider{name: "openai", output: "I cannot analyze this message."}
	guard := &fakeGuard{}
	analyzer := NewAnalyzer(cache, []Provider{provider}, guard, time.Hour, logger.NewNop())

	res, err := analyzer.Analyze(context.Background(), "Сдается 2-комнатная квартира, 800 лари")

	require.NoError(t, err)
	assert.Equal(t, entity.ExtractionSourceHeuristic, res.Source)
	assert.True(t, res.IsRental)
	// The failed call was still paid for.
	assert.Equal(t, 1, guard.recorded)
	assert.Greater(t, res.CostUSD, 0.0)
}

func TestAnalyzer_NilProvidersFiltered(t *testing.T) {
	analyzer := NewAnalyzer(newFakeExtractionCache(), []Provider{nil, nil}, &fakeGuard{}, time.Hour, logger.NewNop())

	res, err := analyzer.Analyze(context.Background(), "Сдается квартира, 700 лари")

	require.NoError(t, err)
	assert.Equal(t, entity.ExtractionSourceHeuristic, res.Source)
}

func TestParseProviderOutput(t *testing.T) {
	t.Run("confidence clamped", func(t *testing.T) {
		res, err := parseProviderOutput(`{"is_rental": true, "confidence": 1.7}`)
		require.NoError(t, err)
		assert.Equal(t, 1.0, res.Confidence)
	})

	t.Run("braces inside strings ignored", func(t *testing.T) {
		res, err := parseProviderOutput(`{"is_rental": true, "confidence": 0.5, "reasoning": "text with } brace"}`)
		require.NoError(t, err)
		assert.Equal(t, "text with } brace", res.Reasoning)
	})

	t.Run("no JSON object", func(t *testing.T) {
		_, err := parseProviderOutput("plain text answer")
		assert.Error(t, err)
	})

	t.Run("unbalanced object", func(t *testing.T) {
		_, err := parseProviderOutput(`{"is_rental": true`)
		assert.Error(t, err)
	})
}

func TestContentHash(t *testing.T) {
	a := contentHash("Сдается  Квартира\n в Ваке")
	b := contentHash("сдается квартира в ваке")
	c := contentHash("другой текст")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
