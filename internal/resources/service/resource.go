package service

import (
	"context"
	"errors"
	"time"

	resourceerrors "medbook/internal/resources/errors"
	"medbook/internal/resources/repository"
	"medbook/pkg/config"
	mongotx "medbook/pkg/db/mongo"
	apperrors "medbook/pkg/errors"
	"medbook/pkg/model"

	"go.mongodb.org/mongo-driver/mongo"
)

// Availability is the result of a non-binding capacity probe. It can be
// stale by the time the caller acts on it; Allocate re-checks.
type Availability struct {
	Available bool                `json:"available"`
	Requested int                 `json:"requested"`
	Pool      *model.ResourcePool `json:"pool"`
}

// AdminPoolUpdate carries an authority's requested counter changes.
// Occupied is never settable directly; it only moves through bookings.
type AdminPoolUpdate struct {
	Total       int `json:"total" validate:"min=0"`
	Reserved    int `json:"reserved" validate:"min=0"`
	Maintenance int `json:"maintenance" validate:"min=0"`
}

// BookingDemand reports the units claimed by pending and approved
// bookings so admin capacity changes cannot strand committed demand.
type BookingDemand interface {
	CountCommittedUnits(ctx context.Context, hospitalID, resourceType string) (int, error)
}

type ResourceService interface {
	CreatePool(ctx context.Context, pool *model.ResourcePool, actor string) error
	GetPool(ctx context.Context, hospitalID, resourceType string) (*model.ResourcePool, error)
	GetPools(ctx context.Context, hospitalID string) ([]*model.ResourcePool, error)
	CheckAvailability(ctx context.Context, hospitalID, resourceType string, quantity int) (*Availability, error)
	Allocate(ctx context.Context, hospitalID, resourceType string, quantity int, bookingID, actor string) error
	Release(ctx context.Context, hospitalID, resourceType string, quantity int, bookingID, actor, changeType string) error
	AdminSetQuantities(ctx context.Context, hospitalID, resourceType string, update *AdminPoolUpdate, expectedVersion int64, actor string) (*model.ResourcePool, error)
	GetAuditLog(ctx context.Context, hospitalID, resourceType string, limit int, offset int64) ([]*model.ResourceAuditEntry, int64, error)
}

type resourceService struct {
	poolRepo  repository.PoolRepository
	auditRepo repository.AuditRepository
	demand    BookingDemand
	cfg       *config.Config
}

func NewResourceService(poolRepo repository.PoolRepository, auditRepo repository.AuditRepository, demand BookingDemand, cfg *config.Config) ResourceService {
	return &resourceService{
		poolRepo:  poolRepo,
		auditRepo: auditRepo,
		demand:    demand,
		cfg:       cfg,
	}
}

func (s *resourceService) CreatePool(ctx context.Context, pool *model.ResourcePool, actor string) error {
	if !model.IsValidResourceType(pool.ResourceType) {
		return apperrors.InvalidInput("Unknown resource type: " + pool.ResourceType)
	}
	if pool.HospitalID == "" {
		return apperrors.InvalidInput("Hospital ID cannot be empty")
	}
	if pool.Counters.Total < 0 {
		return apperrors.InvalidInput("Total cannot be negative")
	}

	// New pools start fully available.
	pool.Counters.Available = pool.Counters.Total
	pool.Counters.Occupied = 0
	pool.Counters.Reserved = 0
	pool.Counters.Maintenance = 0

	if existing, err := s.poolRepo.FindByHospitalAndType(ctx, pool.HospitalID, pool.ResourceType); err == nil && existing != nil {
		return apperrors.Conflict("Resource pool already exists for this hospital and type")
	}

	err := s.poolRepo.ExecuteTransaction(ctx, func(sessCtx mongo.SessionContext) error {
		if err := s.poolRepo.Create(sessCtx, pool); err != nil {
			return apperrors.Internal("Failed to create resource pool", err)
		}
		return s.insertAudit(sessCtx, pool, model.ChangeAdminUpdate, pool.Counters.Total, "", actor, model.PoolCounters{}, pool.Counters)
	})
	if err != nil {
		s.cfg.Log.Error("Failed to create resource pool",
			"hospital_id", pool.HospitalID,
			"resource_type", pool.ResourceType,
			"error", err,
		)
		return err
	}

	s.cfg.Log.Info("Resource pool created",
		"hospital_id", pool.HospitalID,
		"resource_type", pool.ResourceType,
		"total", pool.Counters.Total,
	)
	return nil
}

func (s *resourceService) GetPool(ctx context.Context, hospitalID, resourceType string) (*model.ResourcePool, error) {
	if hospitalID == "" {
		return nil, apperrors.InvalidInput("Hospital ID cannot be empty")
	}
	if !model.IsValidResourceType(resourceType) {
		return nil, apperrors.InvalidInput("Unknown resource type: " + resourceType)
	}

	pool, err := s.poolRepo.FindByHospitalAndType(ctx, hospitalID, resourceType)
	if err != nil {
		if errors.Is(err, resourceerrors.ErrPoolNotFound) {
			return nil, apperrors.NotFoundWithID("Resource pool", hospitalID+"/"+resourceType)
		}
		return nil, apperrors.Internal("Failed to retrieve resource pool", err)
	}
	return pool, nil
}

func (s *resourceService) GetPools(ctx context.Context, hospitalID string) ([]*model.ResourcePool, error) {
	if hospitalID == "" {
		return nil, apperrors.InvalidInput("Hospital ID cannot be empty")
	}

	pools, err := s.poolRepo.FindByHospital(ctx, hospitalID)
	if err != nil {
		return nil, apperrors.Internal("Failed to retrieve resource pools", err)
	}
	return pools, nil
}

func (s *resourceService) CheckAvailability(ctx context.Context, hospitalID, resourceType string, quantity int) (*Availability, error) {
	if quantity < 1 {
		return nil, apperrors.InvalidInput("Quantity must be at least 1")
	}

	pool, err := s.GetPool(ctx, hospitalID, resourceType)
	if err != nil {
		return nil, err
	}

	return &Availability{
		Available: pool.Counters.Available >= quantity,
		Requested: quantity,
		Pool:      pool,
	}, nil
}

// Allocate moves quantity from available to occupied and writes the audit
// row in one transaction. The conditional update is the race arbiter:
// losing it on capacity is final, losing it on a transient transaction
// error is retried up to the configured budget.
func (s *resourceService) Allocate(ctx context.Context, hospitalID, resourceType string, quantity int, bookingID, actor string) error {
	return s.move(ctx, hospitalID, resourceType,
		repository.CounterAvailable, repository.CounterOccupied,
		quantity, bookingID, actor, model.ChangeAllocated)
}

// Release moves quantity back from occupied to available when a booking
// completes or an approved booking is cancelled.
func (s *resourceService) Release(ctx context.Context, hospitalID, resourceType string, quantity int, bookingID, actor, changeType string) error {
	if changeType != model.ChangeCompleted && changeType != model.ChangeCancelled {
		return apperrors.InvalidInput("Unknown release change type: " + changeType)
	}
	return s.move(ctx, hospitalID, resourceType,
		repository.CounterOccupied, repository.CounterAvailable,
		quantity, bookingID, actor, changeType)
}

func (s *resourceService) move(ctx context.Context, hospitalID, resourceType, fromField, toField string, quantity int, bookingID, actor, changeType string) error {
	if quantity < 1 {
		return apperrors.InvalidInput("Quantity must be at least 1")
	}
	if !model.IsValidResourceType(resourceType) {
		return apperrors.InvalidInput("Unknown resource type: " + resourceType)
	}

	var lastErr error
	for attempt := 1; attempt <= s.cfg.AllocationAttempts; attempt++ {
		err := s.poolRepo.ExecuteTransaction(ctx, func(sessCtx mongo.SessionContext) error {
			pool, err := s.poolRepo.MoveCounters(sessCtx, hospitalID, resourceType, fromField, toField, quantity)
			if err != nil {
				return err
			}

			oldCounters := reverseMove(pool.Counters, fromField, toField, quantity)
			return s.insertAudit(sessCtx, pool, changeType, quantity, bookingID, actor, oldCounters, pool.Counters)
		})
		if err == nil {
			s.cfg.Log.Info("Pool counters moved",
				"hospital_id", hospitalID,
				"resource_type", resourceType,
				"change_type", changeType,
				"quantity", quantity,
				"booking_id", bookingID,
			)
			return nil
		}

		if errors.Is(err, resourceerrors.ErrNoCountersMoved) {
			return s.noCountersMovedError(ctx, hospitalID, resourceType, fromField, quantity)
		}
		if apperrors.IsAppError(err) {
			return err
		}
		if !mongotx.IsTransient(err) {
			return apperrors.Internal("Failed to update resource pool", err)
		}

		lastErr = err
		s.cfg.Log.Warn("Transient pool update failure, retrying",
			"hospital_id", hospitalID,
			"resource_type", resourceType,
			"attempt", attempt,
			"error", err,
		)
		time.Sleep(s.cfg.AllocationBackoff * time.Duration(attempt))
	}

	s.cfg.Log.Error("Pool update retry budget exhausted",
		"hospital_id", hospitalID,
		"resource_type", resourceType,
		"attempts", s.cfg.AllocationAttempts,
		"error", lastErr,
	)
	return apperrors.ResourceContention("Resource pool is under contention, try again", lastErr)
}

// noCountersMovedError distinguishes a missing pool from insufficient
// capacity so callers get the right error code.
func (s *resourceService) noCountersMovedError(ctx context.Context, hospitalID, resourceType, fromField string, quantity int) error {
	pool, err := s.poolRepo.FindByHospitalAndType(ctx, hospitalID, resourceType)
	if err != nil {
		if errors.Is(err, resourceerrors.ErrPoolNotFound) {
			return apperrors.NotFoundWithID("Resource pool", hospitalID+"/"+resourceType)
		}
		return apperrors.Internal("Failed to inspect resource pool", err)
	}

	if fromField == repository.CounterOccupied {
		// Releasing more than is occupied means bookkeeping went wrong.
		return apperrors.IntegrityViolation("Release exceeds occupied count", map[string]any{
			"hospital_id":   hospitalID,
			"resource_type": resourceType,
			"occupied":      pool.Counters.Occupied,
			"requested":     quantity,
		})
	}

	return apperrors.InsufficientResources("Not enough resources available", map[string]any{
		"hospital_id":   hospitalID,
		"resource_type": resourceType,
		"available":     pool.Counters.Available,
		"requested":     quantity,
	})
}

// AdminSetQuantities rewrites total, reserved and maintenance while
// preserving occupied. Available is derived. The counter sum can never
// exceed the new total, and usable capacity (available plus occupied)
// can never drop below the units pending and approved bookings claim.
func (s *resourceService) AdminSetQuantities(ctx context.Context, hospitalID, resourceType string, update *AdminPoolUpdate, expectedVersion int64, actor string) (*model.ResourcePool, error) {
	if update.Total < 0 || update.Reserved < 0 || update.Maintenance < 0 {
		return nil, apperrors.InvalidInput("Counters cannot be negative")
	}

	current, err := s.GetPool(ctx, hospitalID, resourceType)
	if err != nil {
		return nil, err
	}

	claimed := current.Counters.Occupied + update.Reserved + update.Maintenance
	if claimed > update.Total {
		return nil, apperrors.CapacityExceeded("Counter sum exceeds total", map[string]any{
			"total":       update.Total,
			"occupied":    current.Counters.Occupied,
			"reserved":    update.Reserved,
			"maintenance": update.Maintenance,
		})
	}

	newAvailable := update.Total - claimed

	committedUnits, err := s.demand.CountCommittedUnits(ctx, hospitalID, resourceType)
	if err != nil {
		return nil, apperrors.Internal("Failed to count committed booking demand", err)
	}
	if newAvailable+current.Counters.Occupied < committedUnits {
		return nil, apperrors.BelowCommittedDemand("Capacity cannot go below outstanding booking demand", map[string]any{
			"total":            update.Total,
			"available":        newAvailable,
			"occupied":         current.Counters.Occupied,
			"committed_demand": committedUnits,
		})
	}

	newCounters := model.PoolCounters{
		Total:       update.Total,
		Available:   newAvailable,
		Occupied:    current.Counters.Occupied,
		Reserved:    update.Reserved,
		Maintenance: update.Maintenance,
	}

	var updated *model.ResourcePool
	err = s.poolRepo.ExecuteTransaction(ctx, func(sessCtx mongo.SessionContext) error {
		pool, err := s.poolRepo.ReplaceCountersWithVersion(sessCtx, hospitalID, resourceType, expectedVersion, newCounters)
		if err != nil {
			if errors.Is(err, resourceerrors.ErrVersionMismatch) {
				return apperrors.StaleState("Resource pool was modified by another request")
			}
			return apperrors.Internal("Failed to update resource pool", err)
		}
		updated = pool
		return s.insertAudit(sessCtx, pool, model.ChangeAdminUpdate, 0, "", actor, current.Counters, pool.Counters)
	})
	if err != nil {
		s.cfg.Log.Error("Admin pool update failed",
			"hospital_id", hospitalID,
			"resource_type", resourceType,
			"error", err,
		)
		return nil, err
	}

	s.cfg.Log.Info("Admin pool update applied",
		"hospital_id", hospitalID,
		"resource_type", resourceType,
		"total", newCounters.Total,
		"actor", actor,
	)
	return updated, nil
}

func (s *resourceService) GetAuditLog(ctx context.Context, hospitalID, resourceType string, limit int, offset int64) ([]*model.ResourceAuditEntry, int64, error) {
	if hospitalID == "" {
		return nil, 0, apperrors.InvalidInput("Hospital ID cannot be empty")
	}
	if !model.IsValidResourceType(resourceType) {
		return nil, 0, apperrors.InvalidInput("Unknown resource type: " + resourceType)
	}

	entries, err := s.auditRepo.FindByPool(ctx, hospitalID, resourceType, limit, offset)
	if err != nil {
		return nil, 0, apperrors.Internal("Failed to retrieve audit log", err)
	}
	count, err := s.auditRepo.CountByPool(ctx, hospitalID, resourceType)
	if err != nil {
		return nil, 0, apperrors.Internal("Failed to count audit log", err)
	}

	return entries, count, nil
}

func (s *resourceService) insertAudit(ctx context.Context, pool *model.ResourcePool, changeType string, quantity int, bookingID, actor string, oldCounters, newCounters model.PoolCounters) error {
	entry := &model.ResourceAuditEntry{
		HospitalID:   pool.HospitalID,
		ResourceType: pool.ResourceType,
		ChangeType:   changeType,
		Quantity:     quantity,
		BookingID:    bookingID,
		ChangedBy:    actor,
		OldValue:     oldCounters,
		NewValue:     newCounters,
	}
	if err := s.auditRepo.Insert(ctx, entry); err != nil {
		return apperrors.Internal("Failed to write audit entry", err)
	}
	return nil
}

// reverseMove reconstructs the pre-update counters from the post-update
// ones for the audit snapshot.
func reverseMove(after model.PoolCounters, fromField, toField string, quantity int) model.PoolCounters {
	before := after
	switch fromField {
	case repository.CounterAvailable:
		before.Available += quantity
	case repository.CounterOccupied:
		before.Occupied += quantity
	case repository.CounterReserved:
		before.Reserved += quantity
	case repository.CounterMaintenance:
		before.Maintenance += quantity
	}
	switch toField {
	case repository.CounterAvailable:
		before.Available -= quantity
	case repository.CounterOccupied:
		before.Occupied -= quantity
	case repository.CounterReserved:
		before.Reserved -= quantity
	case repository.CounterMaintenance:
		before.Maintenance -= quantity
	}
	return before
}
