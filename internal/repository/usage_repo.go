package repository

import (
	"context"
	"time"

	"github.com/foker/tgflats-sub000/internal/domain/entity"
)

// UsageBreakdown is one aggregated row of paid-call spend.
type UsageBreakdown struct {
	Provider string  `bson:"provider"`
	Model    string  `bson:"model"`
	Day      string  `bson:"day"`
	Calls    int     `bson:"calls"`
	CostUSD  float64 `bson:"cost_usd"`
}

// AIUsageRepository records paid inference calls and answers spend queries.
type AIUsageRepository interface {
	Record(ctx context.Context, usage *entity.AIUsage) error
	// MonthlyCost sums the cost of all calls within the calendar month of ref.
	MonthlyCost(ctx context.Context, ref time.Time) (float64, error)
	Breakdown(ctx context.Context, from, to time.Time) ([]UsageBreakdown, error)
}
