package service

import (
	"context"
	"errors"

	directoryerrors "medbook/internal/directory/errors"
	"medbook/internal/directory/repository"
	"medbook/pkg/config"
	apperrors "medbook/pkg/errors"
	"medbook/pkg/model"
)

// DirectoryService resolves hospitals and users for authorization checks
// and settlement configuration.
type DirectoryService interface {
	GetHospital(ctx context.Context, id string) (*model.Hospital, error)
	GetUser(ctx context.Context, id string) (*model.User, error)
	GetHospitalAuthorities(ctx context.Context, hospitalID string) ([]*model.User, error)
	ServiceChargeRate(ctx context.Context, hospitalID string) (float64, error)
}

type directoryService struct {
	repo repository.DirectoryRepository
	cfg  *config.Config
}

func NewDirectoryService(repo repository.DirectoryRepository, cfg *config.Config) DirectoryService {
	return &directoryService{
		repo: repo,
		cfg:  cfg,
	}
}

func (s *directoryService) GetHospital(ctx context.Context, id string) (*model.Hospital, error) {
	if id == "" {
		return nil, apperrors.InvalidInput("Hospital ID cannot be empty")
	}

	hospital, err := s.repo.FindHospitalByID(ctx, id)
	if err != nil {
		if errors.Is(err, directoryerrors.ErrHospitalNotFound) {
			return nil, apperrors.NotFoundWithID("Hospital", id)
		}
		return nil, apperrors.Internal("Failed to retrieve hospital", err)
	}
	return hospital, nil
}

func (s *directoryService) GetUser(ctx context.Context, id string) (*model.User, error) {
	if id == "" {
		return nil, apperrors.InvalidInput("User ID cannot be empty")
	}

	user, err := s.repo.FindUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, directoryerrors.ErrUserNotFound) {
			return nil, apperrors.NotFoundWithID("User", id)
		}
		return nil, apperrors.Internal("Failed to retrieve user", err)
	}
	return user, nil
}

func (s *directoryService) GetHospitalAuthorities(ctx context.Context, hospitalID string) ([]*model.User, error) {
	if hospitalID == "" {
		return nil, apperrors.InvalidInput("Hospital ID cannot be empty")
	}

	users, err := s.repo.FindUsersByHospitalAndRole(ctx, hospitalID, model.RoleHospitalAuthority)
	if err != nil {
		return nil, apperrors.Internal("Failed to retrieve hospital authorities", err)
	}
	return users, nil
}

// ServiceChargeRate returns the hospital-specific rate, falling back to
// the platform default. Rates outside the allowed bounds are
// configuration faults.
func (s *directoryService) ServiceChargeRate(ctx context.Context, hospitalID string) (float64, error) {
	hospital, err := s.GetHospital(ctx, hospitalID)
	if err != nil {
		return 0, err
	}

	rate := s.cfg.ServiceChargeRate
	if hospital.ServiceChargeRate != nil {
		rate = *hospital.ServiceChargeRate
	}
	if rate < config.MinServiceChargeRate || rate > config.MaxServiceChargeRate {
		return 0, apperrors.IntegrityViolation("Service charge rate out of range", map[string]any{
			"hospital_id": hospitalID,
			"rate":        rate,
		})
	}

	return rate, nil
}
