package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/foker/tgflats-sub000/internal/app/config"
	"github.com/foker/tgflats-sub000/internal/domain/entity"
	"github.com/foker/tgflats-sub000/internal/repository"
)

const rawPostCollectionName = "rawposts"

type rawPostDocument struct {
	ID         primitive.ObjectID `bson:"_id,omitempty"`
	Channel    string             `bson:"channel"`
	ExternalID string             `bson:"external_id"`
	Text       string             `bson:"text"`
	MediaURLs  []string           `bson:"media_urls,omitempty"`
	CapturedAt time.Time          `bson:"captured_at"`
	Processed  bool               `bson:"processed"`
	CreatedAt  time.Time          `bson:"created_at"`
	UpdatedAt  time.Time          `bson:"updated_at"`
}

func (d *rawPostDocument) toEntity() *entity.RawPost {
	return &entity.RawPost{
		ID:         d.ID.Hex(),
		Channel:    d.Channel,
		ExternalID: d.ExternalID,
		Text:       d.Text,
		MediaURLs:  d.MediaURLs,
		CapturedAt: d.CapturedAt,
		Processed:  d.Processed,
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
	}
}

type rawPostRepository struct {
	collection *mongo.Collection
}

func NewRawPostRepository(ctx context.Context, client *mongo.Client, cfg config.MongoDBConfig) (repository.RawPostRepository, error) {
	collection := client.Database(cfg.Database).Collection(rawPostCollectionName)

	// One capture per message: duplicate scrapes of the same (channel,
	// external_id) must collapse into a single document.
	_, err := collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "channel", Value: 1}, {Key: "external_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to ensure rawposts unique index: %w", err)
	}

	return &rawPostRepository{collection: collection}, nil
}

// Upsert inserts the post or returns the already-stored document for the
// same (channel, external_id). The duplicate-key conflict is an idempotent
// success by contract, never surfaced as an error.
func (r *rawPostRepository) Upsert(ctx context.Context, post *entity.RawPost) (*entity.RawPost, error) {
	now := time.Now().UTC()
	filter := bson.M{"channel": post.Channel, "external_id": post.ExternalID}
	update := bson.M{
		"$setOnInsert": bson.M{
			"channel":     post.Channel,
			"external_id": post.ExternalID,
			"text":        post.Text,
			"media_urls":  post.MediaURLs,
			"captured_at": post.CapturedAt,
			"processed":   false,
			"created_at":  now,
			"updated_at":  now,
		},
	}

	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var doc rawPostDocument
	err := r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			// Lost a race with a concurrent upsert of the same message;
			// the winner's document is the one we want.
			if findErr := r.collection.FindOne(ctx, filter).Decode(&doc); findErr == nil {
				return doc.toEntity(), nil
			}
		}
		return nil, fmt.Errorf("failed to upsert raw post %s/%s: %w", post.Channel, post.ExternalID, err)
	}

	return doc.toEntity(), nil
}

func (r *rawPostRepository) GetByID(ctx context.Context, id string) (*entity.RawPost, error) {
	objID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("invalid raw post ID format: %w", repository.ErrNotFound)
	}

	var doc rawPostDocument
	err = r.collection.FindOne(ctx, bson.M{"_id": objID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get raw post %s: %w", id, err)
	}
	return doc.toEntity(), nil
}

func (r *rawPostRepository) MarkProcessed(ctx context.Context, id string) error {
	objID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return fmt.Errorf("invalid raw post ID format: %w", repository.ErrNotFound)
	}

	result, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": objID},
		bson.M{"$set": bson.M{"processed": true, "updated_at": time.Now().UTC()}},
	)
	if err != nil {
		return fmt.Errorf("failed to mark raw post %s processed: %w", id, err)
	}
	if result.MatchedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *rawPostRepository) ListUnprocessed(ctx context.Context, limit int) ([]entity.RawPost, error) {
	findOptions := options.Find().SetSort(bson.D{{Key: "captured_at", Value: 1}})
	if limit > 0 {
		findOptions.SetLimit(int64(limit))
	}

	cursor, err := r.collection.Find(ctx, bson.M{"processed": false}, findOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to list unprocessed raw posts: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []rawPostDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode unprocessed raw posts: %w", err)
	}

	posts := make([]entity.RawPost, 0, len(docs))
	for i := range docs {
		posts = append(posts, *docs[i].toEntity())
	}
	return posts, nil
}
