package repository

import (
	"context"
	"fmt"
	"time"

	"medbook/pkg/config"
	"medbook/pkg/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	HistoryCollectionName = "Booking_status_history"
)

// HistoryRepository is append-only. The transition trail is never edited.
type HistoryRepository interface {
	Insert(ctx context.Context, entry *model.BookingStatusHistory) error
	FindByBooking(ctx context.Context, bookingID string) ([]*model.BookingStatusHistory, error)
}

type mongoHistoryRepository struct {
	cfg        *config.Config
	collection *mongo.Collection
}

func NewMongoHistoryRepository(cfg *config.Config) HistoryRepository {
	db := cfg.Client.Mongo.Database(cfg.MongoDatabaseName)
	return &mongoHistoryRepository{
		cfg:        cfg,
		collection: db.Collection(HistoryCollectionName),
	}
}

func (r *mongoHistoryRepository) Insert(ctx context.Context, entry *model.BookingStatusHistory) error {
	entry.Timestamp = time.Now().UTC().Truncate(time.Millisecond)

	result, err := r.collection.InsertOne(ctx, entry)
	if err != nil {
		return fmt.Errorf("failed to insert status history: %w", err)
	}

	if oid, ok := result.InsertedID.(primitive.ObjectID); ok {
		entry.ID = oid.Hex()
	}
	return nil
}

func (r *mongoHistoryRepository) FindByBooking(ctx context.Context, bookingID string) ([]*model.BookingStatusHistory, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}})

	cursor, err := r.collection.Find(ctx, bson.M{"booking_id": bookingID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find status history: %w", err)
	}
	defer cursor.Close(ctx)

	var entries []*model.BookingStatusHistory
	if err = cursor.All(ctx, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode status history: %w", err)
	}

	return entries, nil
}
