package repository

import (
	"context"
	"time"

	"medbook/pkg/config"
	"medbook/pkg/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

const (
	LockCollectionName = "Booking_locks"
)

// TransitionLockRepository provides advisory locks. A TTL index on
// expires_at reaps locks left behind by crashed processes.
type TransitionLockRepository interface {
	Create(ctx context.Context, lock *model.TransitionLock) (*model.TransitionLock, error)
	Delete(ctx context.Context, lockID string) error
}

type mongoTransitionLockRepository struct {
	collection *mongo.Collection
}

func NewTransitionLockRepository(cfg *config.Config) TransitionLockRepository {
	db := cfg.Client.Mongo.Database(cfg.MongoDatabaseName)
	return &mongoTransitionLockRepository{
		collection: db.Collection(LockCollectionName),
	}
}

// Create returns a duplicate key error when the lock is already held.
func (r *mongoTransitionLockRepository) Create(ctx context.Context, lock *model.TransitionLock) (*model.TransitionLock, error) {
	lock.CreatedAt = time.Now()

	_, err := r.collection.InsertOne(ctx, lock)
	if err != nil {
		return nil, err
	}

	return lock, nil
}

func (r *mongoTransitionLockRepository) Delete(ctx context.Context, lockID string) error {
	_, err := r.collection.DeleteOne(ctx, bson.M{"_id": lockID})
	return err
}
