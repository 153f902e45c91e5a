// Package costguard prices paid inference calls and enforces the monthly
// spending ceiling before the extraction stage is allowed to call a provider.
package costguard

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/foker/tgflats-sub000/internal/domain/entity"
	"github.com/foker/tgflats-sub000/internal/platform/logger"
	"github.com/foker/tgflats-sub000/internal/repository"
)

// SpendingStatus is the budget verdict for the current calendar month.
type SpendingStatus struct {
	IsNearLimit bool    `json:"isNearLimit"`
	IsOverLimit bool    `json:"isOverLimit"`
	MonthlyUSD  float64 `json:"monthlyUsd"`
	LimitUSD    float64 `json:"limitUsd"`
	Message     string  `json:"message,omitempty"`
}

// modelRate is the per-1000-token price of one provider/model pair.
type modelRate struct {
	inputUSD  float64
	outputUSD float64
}

// Known pairs; anything else falls back to defaultRate rather than erroring.
var rateTable = map[string]modelRate{
	"openai/gpt-4o-mini":          {inputUSD: 0.00015, outputUSD: 0.0006},
	"openai/gpt-4o":               {inputUSD: 0.0025, outputUSD: 0.01},
	"deepseek/deepseek-chat":      {inputUSD: 0.00027, outputUSD: 0.0011},
	"anthropic/claude-3-5-haiku":  {inputUSD: 0.0008, outputUSD: 0.004},
	"anthropic/claude-3-5-sonnet": {inputUSD: 0.003, outputUSD: 0.015},
}

var defaultRate = modelRate{inputUSD: 0.001, outputUSD: 0.002}

type Guard struct {
	usage     repository.AIUsageRepository
	limitUSD  float64
	warnRatio float64
	log       logger.Logger
	now       func() time.Time
	onSpend   func(costUSD float64)
}

func NewGuard(usage repository.AIUsageRepository, limitUSD, warnRatio float64, log logger.Logger) *Guard {
	if limitUSD <= 0 {
		limitUSD = 100
	}
	if warnRatio <= 0 || warnRatio >= 1 {
		warnRatio = 0.8
	}
	return &Guard{
		usage:     usage,
		limitUSD:  limitUSD,
		warnRatio: warnRatio,
		log:       log,
		now:       time.Now,
	}
}

// SetSpendObserver installs an optional callback fired with the cost of each
// recorded call.
func (g *Guard) SetSpendObserver(fn func(costUSD float64)) { g.onSpend = fn }

// CheckSpendingLimits compares this month's spend against the ceiling.
// A storage failure is reported as over-limit: with the spend unknown, the
// extraction stage should stay on the free heuristic path.
func (g *Guard) CheckSpendingLimits(ctx context.Context) SpendingStatus {
	monthly, err := g.usage.MonthlyCost(ctx, g.now())
	if err != nil {
		g.log.Errorf("spending check failed, blocking paid calls: %v", err)
		return SpendingStatus{
			IsOverLimit: true,
			LimitUSD:    g.limitUSD,
			Message:     "monthly spend unavailable, paid providers disabled",
		}
	}

	status := SpendingStatus{
		MonthlyUSD: monthly,
		LimitUSD:   g.limitUSD,
	}
	switch {
	case monthly >= g.limitUSD:
		status.IsOverLimit = true
		status.IsNearLimit = true
		status.Message = fmt.Sprintf("monthly AI budget exhausted: %.2f of %.2f USD", monthly, g.limitUSD)
	case monthly >= g.limitUSD*g.warnRatio:
		status.IsNearLimit = true
		status.Message = fmt.Sprintf("monthly AI spend at %.0f%% of %.2f USD", monthly/g.limitUSD*100, g.limitUSD)
	}
	return status
}

// CountTokens estimates the token count of a text. There is no precise
// tokenizer dependency here, so this uses the common chars/4 approximation
// with a per-word floor. It never fails.
func CountTokens(text string) int {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0
	}
	byChars := utf8.RuneCountInString(text) / 4
	byWords := len(strings.Fields(text))
	if byWords > byChars {
		return byWords
	}
	if byChars == 0 {
		return 1
	}
	return byChars
}

// CalculateCost prices a completed call from the per-1000-token rate table.
// Unknown provider/model pairs use the default rate.
func CalculateCost(provider, model string, inputTokens, outputTokens int) float64 {
	rate, ok := rateTable[strings.ToLower(provider)+"/"+strings.ToLower(model)]
	if !ok {
		rate = defaultRate
	}
	return float64(inputTokens)/1000*rate.inputUSD + float64(outputTokens)/1000*rate.outputUSD
}

// Record persists one completed paid call for later aggregation.
func (g *Guard) Record(ctx context.Context, provider, model string, inputTokens, outputTokens int, requestID string) (float64, error) {
	cost := CalculateCost(provider, model, inputTokens, outputTokens)
	err := g.usage.Record(ctx, &entity.AIUsage{
		Provider:     provider,
		Model:        model,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		CostUSD:      cost,
		RequestID:    requestID,
		CreatedAt:    g.now().UTC(),
	})
	if err != nil {
		return cost, fmt.Errorf("failed to record AI usage: %w", err)
	}
	if g.onSpend != nil {
		g.onSpend(cost)
	}
	return cost, nil
}
