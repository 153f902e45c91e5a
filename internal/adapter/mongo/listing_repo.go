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

const listingCollectionName = "listings"

type listingDocument struct {
	ID          primitive.ObjectID   `bson:"_id,omitempty"`
	RawPostID   string               `bson:"raw_post_id"`
	Channel     string               `bson:"channel,omitempty"`
	District    string               `bson:"district,omitempty"`
	Address     string               `bson:"address,omitempty"`
	Location    *entity.GeoPoint     `bson:"location,omitempty"`
	Price       entity.Price         `bson:"price,omitempty"`
	Rooms       int                  `bson:"rooms,omitempty"`
	AreaSqm     float64              `bson:"area_sqm,omitempty"`
	Amenities   []string             `bson:"amenities,omitempty"`
	PetsAllowed *bool                `bson:"pets_allowed,omitempty"`
	Furnished   *bool                `bson:"furnished,omitempty"`
	Contact     string               `bson:"contact,omitempty"`
	Status      entity.ListingStatus `bson:"status"`
	Confidence  float64              `bson:"confidence"`
	CreatedAt   time.Time            `bson:"created_at"`
	UpdatedAt   time.Time            `bson:"updated_at"`
}

func (d *listingDocument) toEntity() *entity.Listing {
	return &entity.Listing{
		ID:          d.ID.Hex(),
		RawPostID:   d.RawPostID,
		Channel:     d.Channel,
		District:    d.District,
		Address:     d.Address,
		Location:    d.Location,
		Price:       d.Price,
		Rooms:       d.Rooms,
		AreaSqm:     d.AreaSqm,
		Amenities:   d.Amenities,
		PetsAllowed: d.PetsAllowed,
		Furnished:   d.Furnished,
		Contact:     d.Contact,
		Status:      d.Status,
		Confidence:  d.Confidence,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

type listingRepository struct {
	collection *mongo.Collection
}

func NewListingRepository(ctx context.Context, client *mongo.Client, cfg config.MongoDBConfig) (repository.ListingRepository, error) {
	collection := client.Database(cfg.Database).Collection(listingCollectionName)

	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "raw_post_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "status", Value: 1}, {Key: "district", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "location.lat", Value: 1}, {Key: "location.lng", Value: 1}},
		},
	}
	if _, err := collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return nil, fmt.Errorf("failed to ensure listing indexes: %w", err)
	}

	return &listingRepository{collection: collection}, nil
}

// UpsertByRawPost enforces the one-listing-per-post invariant. A first write
// creates the listing; any later write for the same raw post merges only the
// non-empty extracted fields into the stored document.
func (r *listingRepository) UpsertByRawPost(ctx context.Context, listing *entity.Listing) (*entity.Listing, bool, error) {
	existing, err := r.GetByRawPostID(ctx, listing.RawPostID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, false, err
	}

	if existing != nil {
		merged := *existing
		merged.MergeExtraction(&entity.ExtractionResult{
			District:    listing.District,
			Address:     listing.Address,
			Price:       listing.Price,
			Rooms:       listing.Rooms,
			AreaSqm:     listing.AreaSqm,
			Amenities:   listing.Amenities,
			PetsAllowed: listing.PetsAllowed,
			Furnished:   listing.Furnished,
			Contact:     listing.Contact,
			Confidence:  listing.Confidence,
		})
		if err := r.replaceFields(ctx, existing.ID, &merged); err != nil {
			return nil, false, err
		}
		return &merged, false, nil
	}

	now := time.Now().UTC()
	doc := listingDocument{
		RawPostID:   listing.RawPostID,
		Channel:     listing.Channel,
		District:    listing.District,
		Address:     listing.Address,
		Location:    listing.Location,
		Price:       listing.Price,
		Rooms:       listing.Rooms,
		AreaSqm:     listing.AreaSqm,
		Amenities:   listing.Amenities,
		PetsAllowed: listing.PetsAllowed,
		Furnished:   listing.Furnished,
		Contact:     listing.Contact,
		Status:      entity.ListingStatusActive,
		Confidence:  listing.Confidence,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	res, err := r.collection.InsertOne(ctx, doc)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			// Concurrent persist of the same post won the insert; retry as
			// a merge against the winner.
			return r.UpsertByRawPost(ctx, listing)
		}
		return nil, false, fmt.Errorf("failed to insert listing for raw post %s: %w", listing.RawPostID, err)
	}

	objectID, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return nil, false, fmt.Errorf("failed to convert inserted ID to ObjectID")
	}
	doc.ID = objectID
	return doc.toEntity(), true, nil
}

func (r *listingRepository) replaceFields(ctx context.Context, id string, l *entity.Listing) error {
	objID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return fmt.Errorf("invalid listing ID format: %w", repository.ErrUpdateFailed)
	}

	update := bson.M{"$set": bson.M{
		"district":     l.District,
		"address":      l.Address,
		"price":        l.Price,
		"rooms":        l.Rooms,
		"area_sqm":     l.AreaSqm,
		"amenities":    l.Amenities,
		"pets_allowed": l.PetsAllowed,
		"furnished":    l.Furnished,
		"contact":      l.Contact,
		"confidence":   l.Confidence,
		"updated_at":   l.UpdatedAt,
	}}

	if _, err := r.collection.UpdateOne(ctx, bson.M{"_id": objID}, update); err != nil {
		return fmt.Errorf("failed to update listing %s: %w", id, err)
	}
	return nil
}

func (r *listingRepository) GetByRawPostID(ctx context.Context, rawPostID string) (*entity.Listing, error) {
	var doc listingDocument
	err := r.collection.FindOne(ctx, bson.M{"raw_post_id": rawPostID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get listing by raw post %s: %w", rawPostID, err)
	}
	return doc.toEntity(), nil
}

func (r *listingRepository) PatchLocation(ctx context.Context, rawPostID string, loc entity.GeoPoint, address, district string) error {
	set := bson.M{
		"location":   loc,
		"updated_at": time.Now().UTC(),
	}
	if address != "" {
		set["address"] = address
	}
	if district != "" {
		set["district"] = district
	}

	result, err := r.collection.UpdateOne(ctx, bson.M{"raw_post_id": rawPostID}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("failed to patch listing location for raw post %s: %w", rawPostID, err)
	}
	if result.MatchedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *listingRepository) Find(ctx context.Context, q repository.ListingQuery) ([]entity.Listing, error) {
	filter := bson.M{}
	if q.Status != "" {
		filter["status"] = q.Status
	}
	if q.District != "" {
		filter["district"] = q.District
	}
	if q.PriceMin > 0 || q.PriceMax > 0 {
		amount := bson.M{}
		if q.PriceMin > 0 {
			amount["$gte"] = q.PriceMin
		}
		if q.PriceMax > 0 {
			amount["$lte"] = q.PriceMax
		}
		filter["price.amount"] = amount
	}
	if q.RoomsMin > 0 || q.RoomsMax > 0 {
		rooms := bson.M{}
		if q.RoomsMin > 0 {
			rooms["$gte"] = q.RoomsMin
		}
		if q.RoomsMax > 0 {
			rooms["$lte"] = q.RoomsMax
		}
		filter["rooms"] = rooms
	}
	if q.Bounds != nil {
		filter["location.lat"] = bson.M{"$gte": q.Bounds.MinLat, "$lte": q.Bounds.MaxLat}
		filter["location.lng"] = bson.M{"$gte": q.Bounds.MinLng, "$lte": q.Bounds.MaxLng}
	}

	findOptions := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if q.Limit > 0 {
		findOptions.SetLimit(int64(q.Limit))
	}

	cursor, err := r.collection.Find(ctx, filter, findOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to find listings: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []listingDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode listings: %w", err)
	}

	listings := make([]entity.Listing, 0, len(docs))
	for i := range docs {
		listings = append(listings, *docs[i].toEntity())
	}
	return listings, nil
}

func (r *listingRepository) UpdateStatus(ctx context.Context, id string, status entity.ListingStatus) error {
	objID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return fmt.Errorf("invalid listing ID format: %w", repository.ErrNotFound)
	}

	result, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": objID},
		bson.M{"$set": bson.M{"status": status, "updated_at": time.Now().UTC()}},
	)
	if err != nil {
		return fmt.Errorf("failed to update listing %s status: %w", id, err)
	}
	if result.MatchedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}
