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
	LedgerCollectionName = "Balance_transactions"
)

// LedgerRepository is the append-only balance ledger. The unique index on
// (reference_transaction_id, transaction_type, balance_id) turns a
// replayed distribution side into ErrDuplicateLedgerEntry.
type LedgerRepository interface {
	Insert(ctx context.Context, entry *model.BalanceTransaction) error
	ExistsForReference(ctx context.Context, referenceTransactionID, transactionType, balanceID string) (bool, error)
	FindByBalance(ctx context.Context, balanceID string, limit int, offset int64) ([]*model.BalanceTransaction, error)
	CountByBalance(ctx context.Context, balanceID string) (int64, error)
	FindByBalanceInWindow(ctx context.Context, balanceID string, start, end time.Time) ([]*model.BalanceTransaction, error)
	FindLatestBefore(ctx context.Context, balanceID string, before time.Time) (*model.BalanceTransaction, error)
}

type mongoLedgerRepository struct {
	cfg        *config.Config
	collection *mongo.Collection
}

func NewMongoLedgerRepository(cfg *config.Config) LedgerRepository {
	db := cfg.Client.Mongo.Database(cfg.MongoDatabaseName)
	return &mongoLedgerRepository{
		cfg:        cfg,
		collection: db.Collection(LedgerCollectionName),
	}
}

func (r *mongoLedgerRepository) withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.(mongo.SessionContext); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}

func (r *mongoLedgerRepository) Insert(ctx context.Context, entry *model.BalanceTransaction) error {
	ctx, cancel := r.withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	entry.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)

	result, err := r.collection.InsertOne(ctx, entry)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return paymentserrors.ErrDuplicateLedgerEntry
		}
		return fmt.Errorf("failed to insert ledger entry: %w", err)
	}

	if oid, ok := result.InsertedID.(primitive.ObjectID); ok {
		entry.ID = oid.Hex()
	}
	return nil
}

func (r *mongoLedgerRepository) ExistsForReference(ctx context.Context, referenceTransactionID, transactionType, balanceID string) (bool, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	filter := bson.M{
		"reference_transaction_id": referenceTransactionID,
		"transaction_type":         transactionType,
		"balance_id":               balanceID,
	}

	count, err := r.collection.CountDocuments(ctx, filter, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("failed to check ledger entry: %w", err)
	}
	return count > 0, nil
}

func (r *mongoLedgerRepository) FindByBalance(ctx context.Context, balanceID string, limit int, offset int64) ([]*model.BalanceTransaction, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit)).
		SetSkip(offset)

	cursor, err := r.collection.Find(ctx, bson.M{"balance_id": balanceID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find ledger entries: %w", err)
	}
	defer cursor.Close(ctx)

	var entries []*model.BalanceTransaction
	if err = cursor.All(ctx, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode ledger entries: %w", err)
	}

	return entries, nil
}

func (r *mongoLedgerRepository) CountByBalance(ctx context.Context, balanceID string) (int64, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	count, err := r.collection.CountDocuments(ctx, bson.M{"balance_id": balanceID})
	if err != nil {
		return 0, fmt.Errorf("failed to count ledger entries: %w", err)
	}
	return count, nil
}

func (r *mongoLedgerRepository) FindByBalanceInWindow(ctx context.Context, balanceID string, start, end time.Time) ([]*model.BalanceTransaction, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	filter := bson.M{
		"balance_id": balanceID,
		"created_at": bson.M{"$gte": start, "$lt": end},
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find ledger entries in window: %w", err)
	}
	defer cursor.Close(ctx)

	var entries []*model.BalanceTransaction
	if err = cursor.All(ctx, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode ledger entries: %w", err)
	}

	return entries, nil
}

// FindLatestBefore returns the newest ledger entry at or before the given
// instant, or nil when the account has no history yet.
func (r *mongoLedgerRepository) FindLatestBefore(ctx context.Context, balanceID string, before time.Time) (*model.BalanceTransaction, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	filter := bson.M{
		"balance_id": balanceID,
		"created_at": bson.M{"$lte": before},
	}
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}})

	var entry model.BalanceTransaction
	err := r.collection.FindOne(ctx, filter, opts).Decode(&entry)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find latest ledger entry: %w", err)
	}

	return &entry, nil
}
