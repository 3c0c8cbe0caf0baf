package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	resourceerrors "medbook/internal/resources/errors"
	"medbook/pkg/config"
	mongotx "medbook/pkg/db/mongo"
	"medbook/pkg/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	PoolCollectionName = "Resource_pools"
)

// Counter field names accepted by MoveCounters.
const (
	CounterAvailable   = "available"
	CounterOccupied    = "occupied"
	CounterReserved    = "reserved"
	CounterMaintenance = "maintenance"
)

type PoolRepository interface {
	Create(ctx context.Context, pool *model.ResourcePool) error
	FindByHospitalAndType(ctx context.Context, hospitalID, resourceType string) (*model.ResourcePool, error)
	FindByHospital(ctx context.Context, hospitalID string) ([]*model.ResourcePool, error)
	MoveCounters(ctx context.Context, hospitalID, resourceType, fromField, toField string, quantity int) (*model.ResourcePool, error)
	ReplaceCountersWithVersion(ctx context.Context, hospitalID, resourceType string, expectedVersion int64, counters model.PoolCounters) (*model.ResourcePool, error)
	ExecuteTransaction(ctx context.Context, fn mongotx.TransactionFunc) error
}

type mongoPoolRepository struct {
	cfg        *config.Config
	db         *mongo.Database
	collection *mongo.Collection
	txManager  mongotx.TransactionManager
}

func NewMongoPoolRepository(cfg *config.Config) PoolRepository {
	db := cfg.Client.Mongo.Database(cfg.MongoDatabaseName)
	return &mongoPoolRepository{
		cfg:        cfg,
		db:         db,
		collection: db.Collection(PoolCollectionName),
		txManager:  mongotx.NewTransactionManager(cfg.Client.Mongo),
	}
}

// withTimeout wraps the context with a timeout unless already inside a
// transaction, since a SessionContext cannot be wrapped without breaking
// transaction semantics.
func (r *mongoPoolRepository) withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.(mongo.SessionContext); ok {
		return ctx, func() {}
	}

	deadline, hasDeadline := ctx.Deadline()
	if !hasDeadline {
		return context.WithTimeout(ctx, timeout)
	}

	remaining := time.Until(deadline)
	if remaining < timeout {
		return context.WithTimeout(ctx, remaining)
	}

	return context.WithTimeout(ctx, timeout)
}

func (r *mongoPoolRepository) Create(ctx context.Context, pool *model.ResourcePool) error {
	ctx, cancel := r.withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	now := time.Now().UTC().Truncate(time.Millisecond)
	pool.CreatedAt = now
	pool.UpdatedAt = now
	pool.Version = 1

	result, err := r.collection.InsertOne(ctx, pool)
	if err != nil {
		return fmt.Errorf("failed to create resource pool: %w", err)
	}

	if oid, ok := result.InsertedID.(primitive.ObjectID); ok {
		pool.ID = oid.Hex()
	}
	return nil
}

func (r *mongoPoolRepository) FindByHospitalAndType(ctx context.Context, hospitalID, resourceType string) (*model.ResourcePool, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	filter := bson.M{
		"hospital_id":   hospitalID,
		"resource_type": resourceType,
	}

	var pool model.ResourcePool
	err := r.collection.FindOne(ctx, filter).Decode(&pool)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, resourceerrors.ErrPoolNotFound
		}
		return nil, fmt.Errorf("failed to find resource pool: %w", err)
	}

	return &pool, nil
}

func (r *mongoPoolRepository) FindByHospital(ctx context.Context, hospitalID string) ([]*model.ResourcePool, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "resource_type", Value: 1}})

	cursor, err := r.collection.Find(ctx, bson.M{"hospital_id": hospitalID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find resource pools: %w", err)
	}
	defer cursor.Close(ctx)

	var pools []*model.ResourcePool
	if err = cursor.All(ctx, &pools); err != nil {
		return nil, fmt.Errorf("failed to decode resource pools: %w", err)
	}

	return pools, nil
}

// MoveCounters shifts quantity from one counter to another in a single
// conditional update. The filter requires the source counter to hold at
// least quantity, so concurrent movers cannot drive it negative. Returns
// the post-update pool.
func (r *mongoPoolRepository) MoveCounters(ctx context.Context, hospitalID, resourceType, fromField, toField string, quantity int) (*model.ResourcePool, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	if quantity <= 0 {
		return nil, fmt.Errorf("quantity must be positive, got %d", quantity)
	}
	if !isCounterField(fromField) || !isCounterField(toField) {
		return nil, fmt.Errorf("unknown counter field: %s -> %s", fromField, toField)
	}

	filter := bson.M{
		"hospital_id":   hospitalID,
		"resource_type": resourceType,
		fromField:       bson.M{"$gte": quantity},
	}
	update := bson.M{
		"$inc": bson.M{
			fromField: -quantity,
			toField:   quantity,
			"version": 1,
		},
		"$set": bson.M{"updated_at": time.Now().UTC().Truncate(time.Millisecond)},
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var pool model.ResourcePool
	err := r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&pool)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, resourceerrors.ErrNoCountersMoved
		}
		return nil, fmt.Errorf("failed to move pool counters: %w", err)
	}

	return &pool, nil
}

// ReplaceCountersWithVersion swaps the full counter set guarded by a
// version compare-and-swap. A version mismatch means another writer won.
func (r *mongoPoolRepository) ReplaceCountersWithVersion(ctx context.Context, hospitalID, resourceType string, expectedVersion int64, counters model.PoolCounters) (*model.ResourcePool, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	filter := bson.M{
		"hospital_id":   hospitalID,
		"resource_type": resourceType,
		"version":       expectedVersion,
	}
	update := bson.M{
		"$set": bson.M{
			"total":       counters.Total,
			"available":   counters.Available,
			"occupied":    counters.Occupied,
			"reserved":    counters.Reserved,
			"maintenance": counters.Maintenance,
			"updated_at":  time.Now().UTC().Truncate(time.Millisecond),
		},
		"$inc": bson.M{"version": 1},
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var pool model.ResourcePool
	err := r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&pool)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, resourceerrors.ErrVersionMismatch
		}
		return nil, fmt.Errorf("failed to replace pool counters: %w", err)
	}

	return &pool, nil
}

func (r *mongoPoolRepository) ExecuteTransaction(ctx context.Context, fn mongotx.TransactionFunc) error {
	return r.txManager.ExecuteTransaction(ctx, fn)
}

func isCounterField(field string) bool {
	switch field {
	case CounterAvailable, CounterOccupied, CounterReserved, CounterMaintenance:
		return true
	}
	return false
}
