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
	AuditCollectionName = "Resource_audit_log"
)

// AuditRepository is append-only. Entries are never updated or deleted.
type AuditRepository interface {
	Insert(ctx context.Context, entry *model.ResourceAuditEntry) error
	FindByPool(ctx context.Context, hospitalID, resourceType string, limit int, offset int64) ([]*model.ResourceAuditEntry, error)
	CountByPool(ctx context.Context, hospitalID, resourceType string) (int64, error)
}

type mongoAuditRepository struct {
	cfg        *config.Config
	collection *mongo.Collection
}

func NewMongoAuditRepository(cfg *config.Config) AuditRepository {
	db := cfg.Client.Mongo.Database(cfg.MongoDatabaseName)
	return &mongoAuditRepository{
		cfg:        cfg,
		collection: db.Collection(AuditCollectionName),
	}
}

func (r *mongoAuditRepository) Insert(ctx context.Context, entry *model.ResourceAuditEntry) error {
	entry.Timestamp = time.Now().UTC().Truncate(time.Millisecond)

	result, err := r.collection.InsertOne(ctx, entry)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}

	if oid, ok := result.InsertedID.(primitive.ObjectID); ok {
		entry.ID = oid.Hex()
	}
	return nil
}

func (r *mongoAuditRepository) FindByPool(ctx context.Context, hospitalID, resourceType string, limit int, offset int64) ([]*model.ResourceAuditEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	filter := bson.M{
		"hospital_id":   hospitalID,
		"resource_type": resourceType,
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}}).
		SetLimit(int64(limit)).
		SetSkip(offset)

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find audit entries: %w", err)
	}
	defer cursor.Close(ctx)

	var entries []*model.ResourceAuditEntry
	if err = cursor.All(ctx, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode audit entries: %w", err)
	}

	return entries, nil
}

func (r *mongoAuditRepository) CountByPool(ctx context.Context, hospitalID, resourceType string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	count, err := r.collection.CountDocuments(ctx, bson.M{
		"hospital_id":   hospitalID,
		"resource_type": resourceType,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count audit entries: %w", err)
	}
	return count, nil
}
