package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	paymentserrors "medbook/internal/payments/errors"
	"medbook/pkg/config"
	"medbook/pkg/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	BalanceCollectionName = "User_balances"
)

// BalanceRepository owns the UserBalance accounts. All balance mutation
// goes through the version CAS; direct sets are reserved for audited
// corrections.
type BalanceRepository interface {
	FindByID(ctx context.Context, id string) (*model.UserBalance, error)
	FindByUserAndHospital(ctx context.Context, userID, hospitalID string) (*model.UserBalance, error)
	FindOrCreate(ctx context.Context, userID, hospitalID string) (*model.UserBalance, error)
	FindAll(ctx context.Context) ([]*model.UserBalance, error)
	IncrementWithVersion(ctx context.Context, id string, expectedVersion int64, amount, earningsDelta, withdrawalsDelta float64) (*model.UserBalance, error)
	SetBalanceWithVersion(ctx context.Context, id string, expectedVersion int64, newBalance float64) (*model.UserBalance, error)
}

type mongoBalanceRepository struct {
	cfg        *config.Config
	collection *mongo.Collection
}

func NewMongoBalanceRepository(cfg *config.Config) BalanceRepository {
	db := cfg.Client.Mongo.Database(cfg.MongoDatabaseName)
	return &mongoBalanceRepository{
		cfg:        cfg,
		collection: db.Collection(BalanceCollectionName),
	}
}

func (r *mongoBalanceRepository) withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.(mongo.SessionContext); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}

func (r *mongoBalanceRepository) FindByID(ctx context.Context, id string) (*model.UserBalance, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("invalid balance ID %q: %w", id, paymentserrors.ErrBalanceNotFound)
	}

	var balance model.UserBalance
	err = r.collection.FindOne(ctx, bson.M{"_id": objectID}).Decode(&balance)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, paymentserrors.ErrBalanceNotFound
		}
		return nil, fmt.Errorf("failed to find balance: %w", err)
	}

	return &balance, nil
}

func (r *mongoBalanceRepository) FindByUserAndHospital(ctx context.Context, userID, hospitalID string) (*model.UserBalance, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	var balance model.UserBalance
	err := r.collection.FindOne(ctx, bson.M{"user_id": userID, "hospital_id": hospitalID}).Decode(&balance)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, paymentserrors.ErrBalanceNotFound
		}
		return nil, fmt.Errorf("failed to find balance: %w", err)
	}

	return &balance, nil
}

// FindOrCreate upserts the zero-balance account for (user, hospital).
// The unique index on (user_id, hospital_id) makes concurrent upserts
// converge on one document.
func (r *mongoBalanceRepository) FindOrCreate(ctx context.Context, userID, hospitalID string) (*model.UserBalance, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	now := time.Now().UTC().Truncate(time.Millisecond)
	update := bson.M{
		"$setOnInsert": bson.M{
			"user_id":           userID,
			"hospital_id":       hospitalID,
			"current_balance":   0.0,
			"total_earnings":    0.0,
			"total_withdrawals": 0.0,
			"pending_amount":    0.0,
			"version":           int64(1),
			"created_at":        now,
			"updated_at":        now,
		},
	}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var balance model.UserBalance
	err := r.collection.FindOneAndUpdate(ctx, bson.M{"user_id": userID, "hospital_id": hospitalID}, update, opts).Decode(&balance)
	if err != nil {
		return nil, fmt.Errorf("failed to find or create balance: %w", err)
	}

	return &balance, nil
}

func (r *mongoBalanceRepository) FindAll(ctx context.Context) ([]*model.UserBalance, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})

	cursor, err := r.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find balances: %w", err)
	}
	defer cursor.Close(ctx)

	var balances []*model.UserBalance
	if err = cursor.All(ctx, &balances); err != nil {
		return nil, fmt.Errorf("failed to decode balances: %w", err)
	}

	return balances, nil
}

// IncrementWithVersion applies a signed delta under a version CAS. A miss
// means a concurrent writer moved the balance first.
func (r *mongoBalanceRepository) IncrementWithVersion(ctx context.Context, id string, expectedVersion int64, amount, earningsDelta, withdrawalsDelta float64) (*model.UserBalance, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("invalid balance ID %q: %w", id, paymentserrors.ErrBalanceNotFound)
	}

	filter := bson.M{"_id": objectID, "version": expectedVersion}
	update := bson.M{
		"$inc": bson.M{
			"current_balance":   amount,
			"total_earnings":    earningsDelta,
			"total_withdrawals": withdrawalsDelta,
			"version":           int64(1),
		},
		"$set": bson.M{
			"updated_at": time.Now().UTC().Truncate(time.Millisecond),
		},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var balance model.UserBalance
	err = r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&balance)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, paymentserrors.ErrStaleBalance
		}
		return nil, fmt.Errorf("failed to increment balance: %w", err)
	}

	return &balance, nil
}

// SetBalanceWithVersion overwrites the balance directly. Reserved for the
// audited correction path.
func (r *mongoBalanceRepository) SetBalanceWithVersion(ctx context.Context, id string, expectedVersion int64, newBalance float64) (*model.UserBalance, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("invalid balance ID %q: %w", id, paymentserrors.ErrBalanceNotFound)
	}

	filter := bson.M{"_id": objectID, "version": expectedVersion}
	update := bson.M{
		"$set": bson.M{
			"current_balance": newBalance,
			"updated_at":      time.Now().UTC().Truncate(time.Millisecond),
		},
		"$inc": bson.M{"version": int64(1)},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var balance model.UserBalance
	err = r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&balance)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, paymentserrors.ErrStaleBalance
		}
		return nil, fmt.Errorf("failed to set balance: %w", err)
	}

	return &balance, nil
}
