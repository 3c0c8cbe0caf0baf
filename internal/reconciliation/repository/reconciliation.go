package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	reconciliationerrors "medbook/internal/reconciliation/errors"
	"medbook/pkg/config"
	mongotx "medbook/pkg/db/mongo"
	"medbook/pkg/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	RecordCollectionName     = "Reconciliation_records"
	AlertCollectionName      = "Discrepancy_alerts"
	CorrectionCollectionName = "Balance_corrections"
)

// ReconciliationRepository stores reconciliation runs, the alerts they
// raise and the audited balance corrections. Alerts are resolved in
// place, never deleted.
type ReconciliationRepository interface {
	InsertRecord(ctx context.Context, record *model.ReconciliationRecord) error
	FindRecords(ctx context.Context, limit int, offset int64) ([]*model.ReconciliationRecord, error)
	CountRecords(ctx context.Context) (int64, error)
	InsertAlert(ctx context.Context, alert *model.DiscrepancyAlert) error
	FindAlertByID(ctx context.Context, id string) (*model.DiscrepancyAlert, error)
	FindAlertsByStatus(ctx context.Context, status string, limit int, offset int64) ([]*model.DiscrepancyAlert, error)
	ResolveAlert(ctx context.Context, id, resolvedBy, notes string) (*model.DiscrepancyAlert, error)
	InsertCorrection(ctx context.Context, correction *model.BalanceCorrection) error
	ExecuteTransaction(ctx context.Context, fn mongotx.TransactionFunc) error
}

type mongoReconciliationRepository struct {
	cfg         *config.Config
	records     *mongo.Collection
	alerts      *mongo.Collection
	corrections *mongo.Collection
	txManager   mongotx.TransactionManager
}

func NewMongoReconciliationRepository(cfg *config.Config) ReconciliationRepository {
	db := cfg.Client.Mongo.Database(cfg.MongoDatabaseName)
	return &mongoReconciliationRepository{
		cfg:         cfg,
		records:     db.Collection(RecordCollectionName),
		alerts:      db.Collection(AlertCollectionName),
		corrections: db.Collection(CorrectionCollectionName),
		txManager:   mongotx.NewTransactionManager(cfg.Client.Mongo),
	}
}

func (r *mongoReconciliationRepository) withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.(mongo.SessionContext); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}

func (r *mongoReconciliationRepository) InsertRecord(ctx context.Context, record *model.ReconciliationRecord) error {
	ctx, cancel := r.withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	record.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)

	result, err := r.records.InsertOne(ctx, record)
	if err != nil {
		return fmt.Errorf("failed to insert reconciliation record: %w", err)
	}

	if oid, ok := result.InsertedID.(primitive.ObjectID); ok {
		record.ID = oid.Hex()
	}
	return nil
}

func (r *mongoReconciliationRepository) FindRecords(ctx context.Context, limit int, offset int64) ([]*model.ReconciliationRecord, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	opts := options.Find().
		SetSort(bson.D{{Key: "period_start", Value: -1}}).
		SetLimit(int64(limit)).
		SetSkip(offset)

	cursor, err := r.records.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find reconciliation records: %w", err)
	}
	defer cursor.Close(ctx)

	var records []*model.ReconciliationRecord
	if err = cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("failed to decode reconciliation records: %w", err)
	}

	return records, nil
}

func (r *mongoReconciliationRepository) CountRecords(ctx context.Context) (int64, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	count, err := r.records.CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("failed to count reconciliation records: %w", err)
	}
	return count, nil
}

func (r *mongoReconciliationRepository) InsertAlert(ctx context.Context, alert *model.DiscrepancyAlert) error {
	ctx, cancel := r.withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	alert.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)

	result, err := r.alerts.InsertOne(ctx, alert)
	if err != nil {
		return fmt.Errorf("failed to insert discrepancy alert: %w", err)
	}

	if oid, ok := result.InsertedID.(primitive.ObjectID); ok {
		alert.ID = oid.Hex()
	}
	return nil
}

func (r *mongoReconciliationRepository) FindAlertByID(ctx context.Context, id string) (*model.DiscrepancyAlert, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", reconciliationerrors.ErrInvalidID, id)
	}

	var alert model.DiscrepancyAlert
	err = r.alerts.FindOne(ctx, bson.M{"_id": objectID}).Decode(&alert)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, reconciliationerrors.ErrAlertNotFound
		}
		return nil, fmt.Errorf("failed to find alert: %w", err)
	}

	return &alert, nil
}

func (r *mongoReconciliationRepository) FindAlertsByStatus(ctx context.Context, status string, limit int, offset int64) ([]*model.DiscrepancyAlert, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	filter := bson.M{}
	if status != "" {
		filter["status"] = status
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit)).
		SetSkip(offset)

	cursor, err := r.alerts.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find alerts: %w", err)
	}
	defer cursor.Close(ctx)

	var alerts []*model.DiscrepancyAlert
	if err = cursor.All(ctx, &alerts); err != nil {
		return nil, fmt.Errorf("failed to decode alerts: %w", err)
	}

	return alerts, nil
}

// ResolveAlert flips an open alert to resolved. The status guard makes a
// second resolve fail instead of overwriting the first operator's notes.
func (r *mongoReconciliationRepository) ResolveAlert(ctx context.Context, id, resolvedBy, notes string) (*model.DiscrepancyAlert, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", reconciliationerrors.ErrInvalidID, id)
	}

	filter := bson.M{"_id": objectID, "status": model.AlertOpen}
	update := bson.M{
		"$set": bson.M{
			"status":           model.AlertResolved,
			"resolved_by":      resolvedBy,
			"resolved_at":      time.Now().UTC().Truncate(time.Millisecond),
			"resolution_notes": notes,
		},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var alert model.DiscrepancyAlert
	err = r.alerts.FindOneAndUpdate(ctx, filter, update, opts).Decode(&alert)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, reconciliationerrors.ErrAlertNotOpen
		}
		return nil, fmt.Errorf("failed to resolve alert: %w", err)
	}

	return &alert, nil
}

func (r *mongoReconciliationRepository) InsertCorrection(ctx context.Context, correction *model.BalanceCorrection) error {
	ctx, cancel := r.withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	correction.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)

	result, err := r.corrections.InsertOne(ctx, correction)
	if err != nil {
		return fmt.Errorf("failed to insert balance correction: %w", err)
	}

	if oid, ok := result.InsertedID.(primitive.ObjectID); ok {
		correction.ID = oid.Hex()
	}
	return nil
}

func (r *mongoReconciliationRepository) ExecuteTransaction(ctx context.Context, fn mongotx.TransactionFunc) error {
	return r.txManager.ExecuteTransaction(ctx, fn)
}
