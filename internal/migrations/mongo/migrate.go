package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"medbook/internal/migrations/mongo/validators"
)

var (
	ResourcePoolIndexes = []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "hospital_id", Value: 1},
				{Key: "resource_type", Value: 1},
			},
			Options: options.Index().SetUnique(true),
		},
	}

	ResourceAuditIndexes = []mongo.IndexModel{
		{Keys: bson.D{
			{Key: "hospital_id", Value: 1},
			{Key: "resource_type", Value: 1},
			{Key: "timestamp", Value: -1},
		}},
		{Keys: bson.D{{Key: "booking_id", Value: 1}}},
	}

	BookingIndexes = []mongo.IndexModel{
		// Supports the active-duplicate count inside the create transaction.
		{
			Keys: bson.D{
				{Key: "user_id", Value: 1},
				{Key: "hospital_id", Value: 1},
				{Key: "resource_type", Value: 1},
				{Key: "scheduled_date", Value: 1},
			},
			Options: options.Index().SetPartialFilterExpression(bson.M{
				"status": bson.M{"$in": []string{"pending", "approved"}},
			}),
		},
		{Keys: bson.D{
			{Key: "hospital_id", Value: 1},
			{Key: "status", Value: 1},
			{Key: "scheduled_date", Value: 1},
		}},
		// Supports the expiry sweep over approved bookings.
		{Keys: bson.D{
			{Key: "status", Value: 1},
			{Key: "expires_at", Value: 1},
		}},
	}

	BookingHistoryIndexes = []mongo.IndexModel{
		{Keys: bson.D{
			{Key: "booking_id", Value: 1},
			{Key: "timestamp", Value: 1},
		}},
	}

	BookingLockIndexes = []mongo.IndexModel{
		// TTL reaps locks abandoned by crashed processes.
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0),
		},
	}

	TransactionIndexes = []mongo.IndexModel{
		{Keys: bson.D{{Key: "booking_id", Value: 1}}},
		{Keys: bson.D{
			{Key: "status", Value: 1},
			{Key: "created_at", Value: 1},
		}},
		{Keys: bson.D{
			{Key: "hospital_id", Value: 1},
			{Key: "created_at", Value: -1},
		}},
	}

	UserBalanceIndexes = []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "user_id", Value: 1},
				{Key: "hospital_id", Value: 1},
			},
			Options: options.Index().SetUnique(true),
		},
	}

	BalanceTransactionIndexes = []mongo.IndexModel{
		// Makes revenue distribution idempotent per side-effect. Partial
		// because adjustment entries carry no reference transaction.
		{
			Keys: bson.D{
				{Key: "reference_transaction_id", Value: 1},
				{Key: "transaction_type", Value: 1},
				{Key: "balance_id", Value: 1},
			},
			Options: options.Index().
				SetUnique(true).
				SetPartialFilterExpression(bson.M{
					"reference_transaction_id": bson.M{"$exists": true},
				}),
		},
		{Keys: bson.D{
			{Key: "balance_id", Value: 1},
			{Key: "created_at", Value: -1},
		}},
	}

	ReconciliationRecordIndexes = []mongo.IndexModel{
		{Keys: bson.D{{Key: "period_start", Value: -1}}},
	}

	DiscrepancyAlertIndexes = []mongo.IndexModel{
		{Keys: bson.D{
			{Key: "status", Value: 1},
			{Key: "created_at", Value: -1},
		}},
		{Keys: bson.D{{Key: "balance_id", Value: 1}}},
	}

	BalanceCorrectionIndexes = []mongo.IndexModel{
		{Keys: bson.D{
			{Key: "balance_id", Value: 1},
			{Key: "created_at", Value: -1},
		}},
	}

	UserIndexes = []mongo.IndexModel{
		{Keys: bson.D{
			{Key: "hospital_id", Value: 1},
			{Key: "role", Value: 1},
		}},
	}
)

func RunMigration(ctx context.Context, client *mongo.Client, dbName string) error {
	db := client.Database(dbName)
	fmt.Printf("🚀 Running MedBook Mongo migrations on database: %s\n", dbName)

	collections := map[string]struct {
		Indexes   []mongo.IndexModel
		Validator bson.M
	}{
		"Resource_pools": {
			Indexes:   ResourcePoolIndexes,
			Validator: validators.ResourcePoolValidator,
		},
		"Resource_audit_log": {
			Indexes: ResourceAuditIndexes,
		},
		"Bookings": {
			Indexes:   BookingIndexes,
			Validator: validators.BookingValidator,
		},
		"Booking_status_history": {
			Indexes: BookingHistoryIndexes,
		},
		"Booking_locks": {
			Indexes: BookingLockIndexes,
		},
		"Transactions": {
			Indexes:   TransactionIndexes,
			Validator: validators.TransactionValidator,
		},
		"User_balances": {
			Indexes:   UserBalanceIndexes,
			Validator: validators.UserBalanceValidator,
		},
		"Balance_transactions": {
			Indexes:   BalanceTransactionIndexes,
			Validator: validators.BalanceTransactionValidator,
		},
		"Reconciliation_records": {
			Indexes: ReconciliationRecordIndexes,
		},
		"Discrepancy_alerts": {
			Indexes: DiscrepancyAlertIndexes,
		},
		"Balance_corrections": {
			Indexes: BalanceCorrectionIndexes,
		},
		"Hospitals": {},
		"Users": {
			Indexes: UserIndexes,
		},
	}

	for name, def := range collections {
		if err := ensureCollection(ctx, db, name, def.Validator); err != nil {
			return fmt.Errorf("failed to ensure collection %s: %w", name, err)
		}
		if err := ensureIndexes(ctx, db, name, def.Indexes); err != nil {
			return fmt.Errorf("failed to ensure indexes for %s: %w", name, err)
		}
	}

	fmt.Println("✅ All migrations applied successfully.")
	return nil
}

func ensureCollection(ctx context.Context, db *mongo.Database, name string, validator bson.M) error {
	existing, err := db.ListCollectionNames(ctx, bson.D{{Key: "name", Value: name}})
	if err != nil {
		return err
	}

	if len(existing) == 0 {
		fmt.Printf("🆕 Creating collection: %s\n", name)
		opts := options.CreateCollection()
		if validator != nil {
			opts = opts.SetValidator(validator)
		}
		if err := db.CreateCollection(ctx, name, opts); err != nil {
			return fmt.Errorf("failed creating %s: %w", name, err)
		}
	} else if validator != nil {
		fmt.Printf("ℹ️ Collection %s already exists — updating validator if needed\n", name)
		command := bson.D{
			{Key: "collMod", Value: name},
			{Key: "validator", Value: validator},
		}
		if err := db.RunCommand(ctx, command).Err(); err != nil {
			fmt.Printf("⚠️ Warning: failed updating validator for %s: %v\n", name, err)
		}
	}

	return nil
}

func ensureIndexes(ctx context.Context, db *mongo.Database, name string, models []mongo.IndexModel) error {
	if len(models) == 0 {
		return nil
	}
	coll := db.Collection(name)
	if _, err := coll.Indexes().CreateMany(ctx, models); err != nil {
		return err
	}
	fmt.Printf("📚 Ensured indexes for %s\n", name)
	return nil
}
