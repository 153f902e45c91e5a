package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/foker/tgflats-sub000/internal/app/config"
	"github.com/foker/tgflats-sub000/internal/domain/entity"
	"github.com/foker/tgflats-sub000/internal/repository"
)

const usageCollectionName = "ai_usage"

type aiUsageRepository struct {
	collection *mongo.Collection
}

func NewAIUsageRepository(ctx context.Context, client *mongo.Client, cfg config.MongoDBConfig) (repository.AIUsageRepository, error) {
	collection := client.Database(cfg.Database).Collection(usageCollectionName)

	_, err := collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "created_at", Value: 1}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to ensure ai_usage index: %w", err)
	}

	return &aiUsageRepository{collection: collection}, nil
}

func (r *aiUsageRepository) Record(ctx context.Context, usage *entity.AIUsage) error {
	if usage.CreatedAt.IsZero() {
		usage.CreatedAt = time.Now().UTC()
	}
	if _, err := r.collection.InsertOne(ctx, usage); err != nil {
		return fmt.Errorf("failed to record AI usage: %w", err)
	}
	return nil
}

func (r *aiUsageRepository) MonthlyCost(ctx context.Context, ref time.Time) (float64, error) {
	ref = ref.UTC()
	monthStart := time.Date(ref.Year(), ref.Month(), 1, 0, 0, 0, 0, time.UTC)
	monthEnd := monthStart.AddDate(0, 1, 0)

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{
			"created_at": bson.M{"$gte": monthStart, "$lt": monthEnd},
		}}},
		{{Key: "$group", Value: bson.M{
			"_id":   nil,
			"total": bson.M{"$sum": "$cost_usd"},
		}}},
	}

	cursor, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return 0, fmt.Errorf("failed to aggregate monthly AI cost: %w", err)
	}
	defer cursor.Close(ctx)

	var results []struct {
		Total float64 `bson:"total"`
	}
	if err := cursor.All(ctx, &results); err != nil {
		return 0, fmt.Errorf("failed to decode monthly AI cost: %w", err)
	}
	if len(results) == 0 {
		return 0, nil
	}
	return results[0].Total, nil
}

func (r *aiUsageRepository) Breakdown(ctx context.Context, from, to time.Time) ([]repository.UsageBreakdown, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{
			"created_at": bson.M{"$gte": from.UTC(), "$lt": to.UTC()},
		}}},
		{{Key: "$group", Value: bson.M{
			"_id": bson.M{
				"provider": "$provider",
				"model":    "$model",
				"day":      bson.M{"$dateToString": bson.M{"format": "%Y-%m-%d", "date": "$created_at"}},
			},
			"calls":    bson.M{"$sum": 1},
			"cost_usd": bson.M{"$sum": "$cost_usd"},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "_id.day", Value: 1}}}},
	}

	cursor, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate AI usage breakdown: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []struct {
		ID struct {
			Provider string `bson:"provider"`
			Model    string `bson:"model"`
			Day      string `bson:"day"`
		} `bson:"_id"`
		Calls   int     `bson:"calls"`
		CostUSD float64 `bson:"cost_usd"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode AI usage breakdown: %w", err)
	}

	out := make([]repository.UsageBreakdown, 0, len(rows))
	for _, row := range rows {
		out = append(out, repository.UsageBreakdown{
			Provider: row.ID.Provider,
			Model:    row.ID.Model,
			Day:      row.ID.Day,
			Calls:    row.Calls,
			CostUSD:  row.CostUSD,
		})
	}
	return out, nil
}
