package service

import (
	"context"
	"testing"
	"time"

	resourceerrors "medbook/internal/resources/errors"
	"medbook/internal/resources/repository"
	"medbook/pkg/config"
	mongotx "medbook/pkg/db/mongo"
	apperrors "medbook/pkg/errors"
	"medbook/pkg/logger"
	"medbook/pkg/model"
)

type mockPoolRepository struct {
	createFunc          func(ctx context.Context, pool *model.ResourcePool) error
	findByHospTypeFunc  func(ctx context.Context, hospitalID, resourceType string) (*model.ResourcePool, error)
	findByHospitalFunc  func(ctx context.Context, hospitalID string) ([]*model.ResourcePool, error)
	moveCountersFunc    func(ctx context.Context, hospitalID, resourceType, fromField, toField string, quantity int) (*model.ResourcePool, error)
	replaceCountersFunc func(ctx context.Context, hospitalID, resourceType string, expectedVersion int64, counters model.PoolCounters) (*model.ResourcePool, error)
}

func (m *mockPoolRepository) Create(ctx context.Context, pool *model.ResourcePool) error {
	if m.createFunc != nil {
		return m.createFunc(ctx, pool)
	}
	return nil
}

func (m *mockPoolRepository) FindByHospitalAndType(ctx context.Context, hospitalID, resourceType string) (*model.ResourcePool, error) {
	if m.findByHospTypeFunc != nil {
		return m.findByHospTypeFunc(ctx, hospitalID, resourceType)
	}
	return nil, resourceerrors.ErrPoolNotFound
}

func (m *mockPoolRepository) FindByHospital(ctx context.Context, hospitalID string) ([]*model.ResourcePool, error) {
	if m.findByHospitalFunc != nil {
		return m.findByHospitalFunc(ctx, hospitalID)
	}
	return []*model.ResourcePool{}, nil
}

func (m *mockPoolRepository) MoveCounters(ctx context.Context, hospitalID, resourceType, fromField, toField string, quantity int) (*model.ResourcePool, error) {
	if m.moveCountersFunc != nil {
		return m.moveCountersFunc(ctx, hospitalID, resourceType, fromField, toField, quantity)
	}
	return nil, resourceerrors.ErrNoCountersMoved
}

func (m *mockPoolRepository) ReplaceCountersWithVersion(ctx context.Context, hospitalID, resourceType string, expectedVersion int64, counters model.PoolCounters) (*model.ResourcePool, error) {
	if m.replaceCountersFunc != nil {
		return m.replaceCountersFunc(ctx, hospitalID, resourceType, expectedVersion, counters)
	}
	return nil, resourceerrors.ErrVersionMismatch
}

func (m *mockPoolRepository) ExecuteTransaction(ctx context.Context, fn mongotx.TransactionFunc) error {
	return fn(nil)
}

type mockBookingDemand struct {
	unitsFunc func(ctx context.Context, hospitalID, resourceType string) (int, error)
}

func (m *mockBookingDemand) CountCommittedUnits(ctx context.Context, hospitalID, resourceType string) (int, error) {
	if m.unitsFunc != nil {
		return m.unitsFunc(ctx, hospitalID, resourceType)
	}
	return 0, nil
}

type mockAuditRepository struct {
	insertFunc func(ctx context.Context, entry *model.ResourceAuditEntry) error
	entries    []*model.ResourceAuditEntry
}

func (m *mockAuditRepository) Insert(ctx context.Context, entry *model.ResourceAuditEntry) error {
	if m.insertFunc != nil {
		return m.insertFunc(ctx, entry)
	}
	m.entries = append(m.entries, entry)
	return nil
}

func (m *mockAuditRepository) FindByPool(ctx context.Context, hospitalID, resourceType string, limit int, offset int64) ([]*model.ResourceAuditEntry, error) {
	return m.entries, nil
}

func (m *mockAuditRepository) CountByPool(ctx context.Context, hospitalID, resourceType string) (int64, error) {
	return int64(len(m.entries)), nil
}

func testConfig() *config.Config {
	return &config.Config{
		Log: logger.New(logger.Config{
			Level:   "error",
			Format:  logger.JSON,
			Service: "test",
		}),
		ReadTimeout:        time.Second,
		WriteTimeout:       time.Second,
		AllocationAttempts: 3,
		AllocationBackoff:  time.Millisecond,
	}
}

func TestAllocate_Success(t *testing.T) {
	auditRepo := &mockAuditRepository{}
	poolRepo := &mockPoolRepository{
		moveCountersFunc: func(ctx context.Context, hospitalID, resourceType, fromField, toField string, quantity int) (*model.ResourcePool, error) {
			if fromField != repository.CounterAvailable || toField != repository.CounterOccupied {
				t.Fatalf("unexpected move %s -> %s", fromField, toField)
			}
			return &model.ResourcePool{
				HospitalID:   hospitalID,
				ResourceType: resourceType,
				Counters:     model.PoolCounters{Total: 10, Available: 7, Occupied: 3},
			}, nil
		},
	}

	svc := NewResourceService(poolRepo, auditRepo, &mockBookingDemand{}, testConfig())

	err := svc.Allocate(context.Background(), "hosp-1", model.ResourceBeds, 2, "booking-1", "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(auditRepo.entries) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(auditRepo.entries))
	}
	entry := auditRepo.entries[0]
	if entry.ChangeType != model.ChangeAllocated {
		t.Errorf("expected change type %q, got %q", model.ChangeAllocated, entry.ChangeType)
	}
	if entry.BookingID != "booking-1" {
		t.Errorf("expected booking ID recorded, got %q", entry.BookingID)
	}
	// Pre-image must reverse the move exactly.
	if entry.OldValue.Available != 9 || entry.OldValue.Occupied != 1 {
		t.Errorf("unexpected old counters: %+v", entry.OldValue)
	}
	if entry.NewValue.Available != 7 || entry.NewValue.Occupied != 3 {
		t.Errorf("unexpected new counters: %+v", entry.NewValue)
	}
}

func TestAllocate_Insufficient(t *testing.T) {
	poolRepo := &mockPoolRepository{
		moveCountersFunc: func(ctx context.Context, hospitalID, resourceType, fromField, toField string, quantity int) (*model.ResourcePool, error) {
			return nil, resourceerrors.ErrNoCountersMoved
		},
		findByHospTypeFunc: func(ctx context.Context, hospitalID, resourceType string) (*model.ResourcePool, error) {
			return &model.ResourcePool{
				Counters: model.PoolCounters{Total: 5, Available: 1, Occupied: 4},
			}, nil
		},
	}

	svc := NewResourceService(poolRepo, &mockAuditRepository{}, &mockBookingDemand{}, testConfig())

	err := svc.Allocate(context.Background(), "hosp-1", model.ResourceICU, 3, "booking-1", "user-1")
	if !apperrors.HasCode(err, apperrors.CodeInsufficientResources) {
		t.Fatalf("expected INSUFFICIENT_RESOURCES, got %v", err)
	}
}

func TestAllocate_PoolMissing(t *testing.T) {
	poolRepo := &mockPoolRepository{
		moveCountersFunc: func(ctx context.Context, hospitalID, resourceType, fromField, toField string, quantity int) (*model.ResourcePool, error) {
			return nil, resourceerrors.ErrNoCountersMoved
		},
		findByHospTypeFunc: func(ctx context.Context, hospitalID, resourceType string) (*model.ResourcePool, error) {
			return nil, resourceerrors.ErrPoolNotFound
		},
	}

	svc := NewResourceService(poolRepo, &mockAuditRepository{}, &mockBookingDemand{}, testConfig())

	err := svc.Allocate(context.Background(), "hosp-1", model.ResourceBeds, 1, "booking-1", "user-1")
	if !apperrors.HasCode(err, apperrors.CodeNotFound) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestRelease_OverReleaseIsIntegrityViolation(t *testing.T) {
	poolRepo := &mockPoolRepository{
		moveCountersFunc: func(ctx context.Context, hospitalID, resourceType, fromField, toField string, quantity int) (*model.ResourcePool, error) {
			return nil, resourceerrors.ErrNoCountersMoved
		},
		findByHospTypeFunc: func(ctx context.Context, hospitalID, resourceType string) (*model.ResourcePool, error) {
			return &model.ResourcePool{
				Counters: model.PoolCounters{Total: 5, Available: 5, Occupied: 0},
			}, nil
		},
	}

	svc := NewResourceService(poolRepo, &mockAuditRepository{}, &mockBookingDemand{}, testConfig())

	err := svc.Release(context.Background(), "hosp-1", model.ResourceBeds, 2, "booking-1", "user-1", model.ChangeCompleted)
	if !apperrors.HasCode(err, apperrors.CodeIntegrityViolation) {
		t.Fatalf("expected INTEGRITY_VIOLATION, got %v", err)
	}
}

func TestAdminSetQuantities_CounterSumExceedingTotal(t *testing.T) {
	poolRepo := &mockPoolRepository{
		findByHospTypeFunc: func(ctx context.Context, hospitalID, resourceType string) (*model.ResourcePool, error) {
			return &model.ResourcePool{
				Counters: model.PoolCounters{Total: 10, Available: 2, Occupied: 8},
				Version:  4,
			}, nil
		},
	}

	svc := NewResourceService(poolRepo, &mockAuditRepository{}, &mockBookingDemand{}, testConfig())

	_, err := svc.AdminSetQuantities(context.Background(), "hosp-1", model.ResourceBeds,
		&AdminPoolUpdate{Total: 5}, 4, "admin-1")
	if !apperrors.HasCode(err, apperrors.CodeCapacityExceeded) {
		t.Fatalf("expected CAPACITY_EXCEEDED, got %v", err)
	}
}

func TestAdminSetQuantities_BelowCommittedDemand(t *testing.T) {
	replaceCalled := false
	poolRepo := &mockPoolRepository{
		findByHospTypeFunc: func(ctx context.Context, hospitalID, resourceType string) (*model.ResourcePool, error) {
			return &model.ResourcePool{
				Counters: model.PoolCounters{Total: 5, Available: 5, Occupied: 0},
				Version:  1,
			}, nil
		},
		replaceCountersFunc: func(ctx context.Context, hospitalID, resourceType string, expectedVersion int64, counters model.PoolCounters) (*model.ResourcePool, error) {
			replaceCalled = true
			return &model.ResourcePool{Counters: counters, Version: expectedVersion + 1}, nil
		},
	}
	demand := &mockBookingDemand{
		unitsFunc: func(ctx context.Context, hospitalID, resourceType string) (int, error) {
			return 5, nil
		},
	}

	svc := NewResourceService(poolRepo, &mockAuditRepository{}, demand, testConfig())

	// Five pending bookings claim the whole pool; shrinking to zero would
	// strand them.
	_, err := svc.AdminSetQuantities(context.Background(), "hosp-1", model.ResourceBeds,
		&AdminPoolUpdate{Total: 0}, 1, "admin-1")
	if !apperrors.HasCode(err, apperrors.CodeBelowCommittedDemand) {
		t.Fatalf("expected BELOW_COMMITTED_DEMAND, got %v", err)
	}
	if replaceCalled {
		t.Error("counters must not change when outstanding demand would be stranded")
	}
}

func TestAdminSetQuantities_ShrinkWithinDemandSucceeds(t *testing.T) {
	poolRepo := &mockPoolRepository{
		findByHospTypeFunc: func(ctx context.Context, hospitalID, resourceType string) (*model.ResourcePool, error) {
			return &model.ResourcePool{
				Counters: model.PoolCounters{Total: 10, Available: 8, Occupied: 2},
				Version:  1,
			}, nil
		},
		replaceCountersFunc: func(ctx context.Context, hospitalID, resourceType string, expectedVersion int64, counters model.PoolCounters) (*model.ResourcePool, error) {
			return &model.ResourcePool{Counters: counters, Version: expectedVersion + 1}, nil
		},
	}
	demand := &mockBookingDemand{
		unitsFunc: func(ctx context.Context, hospitalID, resourceType string) (int, error) {
			return 5, nil
		},
	}

	svc := NewResourceService(poolRepo, &mockAuditRepository{}, demand, testConfig())

	// available 3 + occupied 2 still covers the 5 committed units.
	pool, err := svc.AdminSetQuantities(context.Background(), "hosp-1", model.ResourceBeds,
		&AdminPoolUpdate{Total: 5}, 1, "admin-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pool.Counters.Available != 3 {
		t.Errorf("expected derived available 3, got %d", pool.Counters.Available)
	}
}

func TestAdminSetQuantities_VersionMismatch(t *testing.T) {
	poolRepo := &mockPoolRepository{
		findByHospTypeFunc: func(ctx context.Context, hospitalID, resourceType string) (*model.ResourcePool, error) {
			return &model.ResourcePool{
				Counters: model.PoolCounters{Total: 10, Available: 10},
				Version:  4,
			}, nil
		},
		replaceCountersFunc: func(ctx context.Context, hospitalID, resourceType string, expectedVersion int64, counters model.PoolCounters) (*model.ResourcePool, error) {
			return nil, resourceerrors.ErrVersionMismatch
		},
	}

	svc := NewResourceService(poolRepo, &mockAuditRepository{}, &mockBookingDemand{}, testConfig())

	_, err := svc.AdminSetQuantities(context.Background(), "hosp-1", model.ResourceBeds,
		&AdminPoolUpdate{Total: 12}, 3, "admin-1")
	if !apperrors.HasCode(err, apperrors.CodeStaleState) {
		t.Fatalf("expected STALE_STATE, got %v", err)
	}
}

func TestAdminSetQuantities_DerivesAvailable(t *testing.T) {
	var replaced model.PoolCounters
	poolRepo := &mockPoolRepository{
		findByHospTypeFunc: func(ctx context.Context, hospitalID, resourceType string) (*model.ResourcePool, error) {
			return &model.ResourcePool{
				Counters: model.PoolCounters{Total: 10, Available: 6, Occupied: 4},
				Version:  1,
			}, nil
		},
		replaceCountersFunc: func(ctx context.Context, hospitalID, resourceType string, expectedVersion int64, counters model.PoolCounters) (*model.ResourcePool, error) {
			replaced = counters
			return &model.ResourcePool{Counters: counters, Version: expectedVersion + 1}, nil
		},
	}
	auditRepo := &mockAuditRepository{}

	svc := NewResourceService(poolRepo, auditRepo, &mockBookingDemand{}, testConfig())

	pool, err := svc.AdminSetQuantities(context.Background(), "hosp-1", model.ResourceBeds,
		&AdminPoolUpdate{Total: 20, Reserved: 3, Maintenance: 2}, 1, "admin-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// available = total - occupied - reserved - maintenance
	if replaced.Available != 11 {
		t.Errorf("expected derived available 11, got %d", replaced.Available)
	}
	if !pool.Counters.Consistent() {
		t.Errorf("updated counters violate pool invariant: %+v", pool.Counters)
	}
	if len(auditRepo.entries) != 1 || auditRepo.entries[0].ChangeType != model.ChangeAdminUpdate {
		t.Errorf("expected one admin_update audit entry")
	}
}

func TestCheckAvailability(t *testing.T) {
	poolRepo := &mockPoolRepository{
		findByHospTypeFunc: func(ctx context.Context, hospitalID, resourceType string) (*model.ResourcePool, error) {
			return &model.ResourcePool{
				Counters: model.PoolCounters{Total: 10, Available: 3, Occupied: 7},
			}, nil
		},
	}

	svc := NewResourceService(poolRepo, &mockAuditRepository{}, &mockBookingDemand{}, testConfig())

	got, err := svc.CheckAvailability(context.Background(), "hosp-1", model.ResourceBeds, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Available {
		t.Error("expected availability for quantity equal to available")
	}

	got, err = svc.CheckAvailability(context.Background(), "hosp-1", model.ResourceBeds, 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Available {
		t.Error("expected no availability for quantity above available")
	}
}
