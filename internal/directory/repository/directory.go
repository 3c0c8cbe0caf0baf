package repository

import (
	"context"
	"errors"
	"fmt"

	directoryerrors "medbook/internal/directory/errors"
	"medbook/pkg/config"
	"medbook/pkg/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	HospitalCollectionName = "Hospitals"
	UserCollectionName     = "Users"
)

// DirectoryRepository is the read-only view of hospitals and users.
// Profile CRUD is owned by an external collaborator; nothing here writes.
type DirectoryRepository interface {
	FindHospitalByID(ctx context.Context, id string) (*model.Hospital, error)
	FindUserByID(ctx context.Context, id string) (*model.User, error)
	FindUsersByHospitalAndRole(ctx context.Context, hospitalID, role string) ([]*model.User, error)
}

type mongoDirectoryRepository struct {
	cfg       *config.Config
	hospitals *mongo.Collection
	users     *mongo.Collection
}

func NewMongoDirectoryRepository(cfg *config.Config) DirectoryRepository {
	db := cfg.Client.Mongo.Database(cfg.MongoDatabaseName)
	return &mongoDirectoryRepository{
		cfg:       cfg,
		hospitals: db.Collection(HospitalCollectionName),
		users:     db.Collection(UserCollectionName),
	}
}

func (r *mongoDirectoryRepository) FindHospitalByID(ctx context.Context, id string) (*model.Hospital, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	var hospital model.Hospital
	err := r.hospitals.FindOne(ctx, bson.M{"_id": id}).Decode(&hospital)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, directoryerrors.ErrHospitalNotFound
		}
		return nil, fmt.Errorf("failed to find hospital: %w", err)
	}

	return &hospital, nil
}

func (r *mongoDirectoryRepository) FindUserByID(ctx context.Context, id string) (*model.User, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	var user model.User
	err := r.users.FindOne(ctx, bson.M{"_id": id}).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, directoryerrors.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	return &user, nil
}

func (r *mongoDirectoryRepository) FindUsersByHospitalAndRole(ctx context.Context, hospitalID, role string) ([]*model.User, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})

	cursor, err := r.users.Find(ctx, bson.M{"hospital_id": hospitalID, "role": role}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find users: %w", err)
	}
	defer cursor.Close(ctx)

	var users []*model.User
	if err = cursor.All(ctx, &users); err != nil {
		return nil, fmt.Errorf("failed to decode users: %w", err)
	}

	return users, nil
}
