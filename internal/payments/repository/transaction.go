package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	paymentserrors "medbook/internal/payments/errors"
	"medbook/pkg/config"
	mongotx "medbook/pkg/db/mongo"
	"medbook/pkg/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	TransactionCollectionName = "Transactions"
)

// TransactionFilter narrows list queries. Zero values mean no constraint.
type TransactionFilter struct {
	BookingID  string
	HospitalID string
	UserID     string
	Status     string
}

type TransactionRepository interface {
	Create(ctx context.Context, tx *model.Transaction) error
	FindByID(ctx context.Context, id string) (*model.Transaction, error)
	FindAll(ctx context.Context, filter TransactionFilter, limit int, offset int64) ([]*model.Transaction, error)
	Count(ctx context.Context, filter TransactionFilter) (int64, error)
	FindCompletedInWindow(ctx context.Context, start, end time.Time) ([]*model.Transaction, error)
	UpdateWithStatusPrecondition(ctx context.Context, id, fromStatus string, set bson.M) (*model.Transaction, error)
	ExecuteTransaction(ctx context.Context, fn mongotx.TransactionFunc) error
}

type mongoTransactionRepository struct {
	cfg        *config.Config
	collection *mongo.Collection
	txManager  mongotx.TransactionManager
}

func NewMongoTransactionRepository(cfg *config.Config) TransactionRepository {
	db := cfg.Client.Mongo.Database(cfg.MongoDatabaseName)
	return &mongoTransactionRepository{
		cfg:        cfg,
		collection: db.Collection(TransactionCollectionName),
		txManager:  mongotx.NewTransactionManager(cfg.Client.Mongo),
	}
}

func (r *mongoTransactionRepository) withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.(mongo.SessionContext); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}

func (r *mongoTransactionRepository) Create(ctx context.Context, tx *model.Transaction) error {
	ctx, cancel := r.withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	tx.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)

	result, err := r.collection.InsertOne(ctx, tx)
	if err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}

	if oid, ok := result.InsertedID.(primitive.ObjectID); ok {
		tx.ID = oid.Hex()
	}
	return nil
}

func (r *mongoTransactionRepository) FindByID(ctx context.Context, id string) (*model.Transaction, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", paymentserrors.ErrInvalidID, id)
	}

	var tx model.Transaction
	err = r.collection.FindOne(ctx, bson.M{"_id": objectID}).Decode(&tx)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, paymentserrors.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to find transaction: %w", err)
	}

	return &tx, nil
}

func (r *mongoTransactionRepository) FindAll(ctx context.Context, filter TransactionFilter, limit int, offset int64) ([]*model.Transaction, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit)).
		SetSkip(offset)

	cursor, err := r.collection.Find(ctx, buildTransactionFilter(filter), opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find transactions: %w", err)
	}
	defer cursor.Close(ctx)

	var txs []*model.Transaction
	if err = cursor.All(ctx, &txs); err != nil {
		return nil, fmt.Errorf("failed to decode transactions: %w", err)
	}

	return txs, nil
}

func (r *mongoTransactionRepository) Count(ctx context.Context, filter TransactionFilter) (int64, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	count, err := r.collection.CountDocuments(ctx, buildTransactionFilter(filter))
	if err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	return count, nil
}

// FindCompletedInWindow returns completed or refunded transactions created
// in [start, end). Refunded transactions were completed during the window
// too; reconciliation accounts for both legs.
func (r *mongoTransactionRepository) FindCompletedInWindow(ctx context.Context, start, end time.Time) ([]*model.Transaction, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	filter := bson.M{
		"status":     bson.M{"$in": []string{model.TxCompleted, model.TxRefunded}},
		"created_at": bson.M{"$gte": start, "$lt": end},
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find completed transactions: %w", err)
	}
	defer cursor.Close(ctx)

	var txs []*model.Transaction
	if err = cursor.All(ctx, &txs); err != nil {
		return nil, fmt.Errorf("failed to decode completed transactions: %w", err)
	}

	return txs, nil
}

// UpdateWithStatusPrecondition applies the update only while the
// transaction still holds fromStatus. The caller puts the target status
// into set.
func (r *mongoTransactionRepository) UpdateWithStatusPrecondition(ctx context.Context, id, fromStatus string, set bson.M) (*model.Transaction, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", paymentserrors.ErrInvalidID, id)
	}

	filter := bson.M{"_id": objectID, "status": fromStatus}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var tx model.Transaction
	err = r.collection.FindOneAndUpdate(ctx, filter, bson.M{"$set": set}, opts).Decode(&tx)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, paymentserrors.ErrStaleTransaction
		}
		return nil, fmt.Errorf("failed to update transaction: %w", err)
	}

	return &tx, nil
}

func (r *mongoTransactionRepository) ExecuteTransaction(ctx context.Context, fn mongotx.TransactionFunc) error {
	return r.txManager.ExecuteTransaction(ctx, fn)
}

func buildTransactionFilter(f TransactionFilter) bson.M {
	filter := bson.M{}
	if f.BookingID != "" {
		filter["booking_id"] = f.BookingID
	}
	if f.HospitalID != "" {
		filter["hospital_id"] = f.HospitalID
	}
	if f.UserID != "" {
		filter["user_id"] = f.UserID
	}
	if f.Status != "" {
		filter["status"] = f.Status
	}
	return filter
}
