package service

import (
	"context"
	"testing"
	"time"

	bookingserrors "medbook/internal/bookings/errors"
	"medbook/internal/bookings/repository"
	"medbook/internal/bookings/validator"
	"medbook/internal/notifications"
	resourceservice "medbook/internal/resources/service"
	"medbook/pkg/config"
	mongotx "medbook/pkg/db/mongo"
	apperrors "medbook/pkg/errors"
	"medbook/pkg/logger"
	"medbook/pkg/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

type mockBookingRepository struct {
	createFunc       func(ctx context.Context, booking *model.Booking) error
	findByIDFunc     func(ctx context.Context, id string) (*model.Booking, error)
	updateStatusFunc func(ctx context.Context, id, fromStatus, toStatus string, set bson.M) (*model.Booking, error)
	countActiveFunc  func(ctx context.Context, userID, hospitalID, resourceType string, dayStart, dayEnd time.Time) (int64, error)
	findExpiredFunc  func(ctx context.Context, now time.Time, limit int) ([]*model.Booking, error)
}

func (m *mockBookingRepository) Create(ctx context.Context, booking *model.Booking) error {
	if m.createFunc != nil {
		return m.createFunc(ctx, booking)
	}
	booking.ID = "65f000000000000000000001"
	return nil
}

func (m *mockBookingRepository) FindByID(ctx context.Context, id string) (*model.Booking, error) {
	if m.findByIDFunc != nil {
		return m.findByIDFunc(ctx, id)
	}
	return nil, bookingserrors.ErrNotFound
}

func (m *mockBookingRepository) FindAll(ctx context.Context, filter repository.BookingFilter, limit int, offset int64) ([]*model.Booking, error) {
	return []*model.Booking{}, nil
}

func (m *mockBookingRepository) Count(ctx context.Context, filter repository.BookingFilter) (int64, error) {
	return 0, nil
}

func (m *mockBookingRepository) UpdateStatusWithPrecondition(ctx context.Context, id, fromStatus, toStatus string, set bson.M) (*model.Booking, error) {
	if m.updateStatusFunc != nil {
		return m.updateStatusFunc(ctx, id, fromStatus, toStatus, set)
	}
	return nil, bookingserrors.ErrStalePrecondition
}

func (m *mockBookingRepository) SetPaymentStatus(ctx context.Context, id, paymentStatus string, amount float64) error {
	return nil
}

func (m *mockBookingRepository) CountActiveForSlot(ctx context.Context, userID, hospitalID, resourceType string, dayStart, dayEnd time.Time) (int64, error) {
	if m.countActiveFunc != nil {
		return m.countActiveFunc(ctx, userID, hospitalID, resourceType, dayStart, dayEnd)
	}
	return 0, nil
}

func (m *mockBookingRepository) CountCommittedUnits(ctx context.Context, hospitalID, resourceType string) (int, error) {
	return 0, nil
}

func (m *mockBookingRepository) FindExpiredApproved(ctx context.Context, now time.Time, limit int) ([]*model.Booking, error) {
	if m.findExpiredFunc != nil {
		return m.findExpiredFunc(ctx, now, limit)
	}
	return []*model.Booking{}, nil
}

func (m *mockBookingRepository) ExecuteTransaction(ctx context.Context, fn mongotx.TransactionFunc) error {
	return fn(nil)
}

type mockHistoryRepository struct {
	entries []*model.BookingStatusHistory
}

func (m *mockHistoryRepository) Insert(ctx context.Context, entry *model.BookingStatusHistory) error {
	m.entries = append(m.entries, entry)
	return nil
}

func (m *mockHistoryRepository) FindByBooking(ctx context.Context, bookingID string) ([]*model.BookingStatusHistory, error) {
	return m.entries, nil
}

// mockLockRepository tracks held locks and reproduces the duplicate key
// error the real collection raises for a contended lock.
type mockLockRepository struct {
	held     map[string]bool
	acquired []string
	released []string
}

func newMockLockRepository() *mockLockRepository {
	return &mockLockRepository{held: map[string]bool{}}
}

func (m *mockLockRepository) Create(ctx context.Context, lock *model.TransitionLock) (*model.TransitionLock, error) {
	if m.held[lock.ID] {
		return nil, mongo.WriteException{WriteErrors: []mongo.WriteError{{Code: 11000}}}
	}
	m.held[lock.ID] = true
	m.acquired = append(m.acquired, lock.ID)
	return lock, nil
}

func (m *mockLockRepository) Delete(ctx context.Context, lockID string) error {
	delete(m.held, lockID)
	m.released = append(m.released, lockID)
	return nil
}

type mockAllocator struct {
	checkFunc    func(ctx context.Context, hospitalID, resourceType string, quantity int) (*resourceservice.Availability, error)
	allocateFunc func(ctx context.Context, hospitalID, resourceType string, quantity int, bookingID, actor string) error
	releaseFunc  func(ctx context.Context, hospitalID, resourceType string, quantity int, bookingID, actor, changeType string) error

	allocations int
	releases    []string
}

func (m *mockAllocator) CheckAvailability(ctx context.Context, hospitalID, resourceType string, quantity int) (*resourceservice.Availability, error) {
	if m.checkFunc != nil {
		return m.checkFunc(ctx, hospitalID, resourceType, quantity)
	}
	return &resourceservice.Availability{
		Available: true,
		Requested: quantity,
		Pool: &model.ResourcePool{
			Counters: model.PoolCounters{Total: 10, Available: 10},
		},
	}, nil
}

func (m *mockAllocator) Allocate(ctx context.Context, hospitalID, resourceType string, quantity int, bookingID, actor string) error {
	if m.allocateFunc != nil {
		return m.allocateFunc(ctx, hospitalID, resourceType, quantity, bookingID, actor)
	}
	m.allocations++
	return nil
}

func (m *mockAllocator) Release(ctx context.Context, hospitalID, resourceType string, quantity int, bookingID, actor, changeType string) error {
	if m.releaseFunc != nil {
		return m.releaseFunc(ctx, hospitalID, resourceType, quantity, bookingID, actor, changeType)
	}
	m.releases = append(m.releases, changeType)
	return nil
}

type mockDirectory struct {
	users map[string]*model.User
}

func (m *mockDirectory) GetUser(ctx context.Context, id string) (*model.User, error) {
	if user, ok := m.users[id]; ok {
		return user, nil
	}
	return nil, apperrors.NotFoundWithID("User", id)
}

type recordingPublisher struct {
	bookingEvents []string
}

func (p *recordingPublisher) PublishBookingEvent(ctx context.Context, eventType string, event notifications.BookingEvent) {
	p.bookingEvents = append(p.bookingEvents, eventType)
}

func (p *recordingPublisher) PublishPaymentEvent(ctx context.Context, eventType string, event notifications.PaymentEvent) {
}

func (p *recordingPublisher) PublishDiscrepancyEvent(ctx context.Context, event notifications.DiscrepancyEvent) {
}

func testConfig() *config.Config {
	return &config.Config{
		Log: logger.New(logger.Config{
			Level:   "error",
			Format:  logger.JSON,
			Service: "test",
		}),
		TransitionLockTTL:  10 * time.Second,
		AllocationAttempts: 3,
		MaxBookingQuantity: 50,
	}
}

type fixture struct {
	repo        *mockBookingRepository
	historyRepo *mockHistoryRepository
	lockRepo    *mockLockRepository
	allocator   *mockAllocator
	directory   *mockDirectory
	publisher   *recordingPublisher
	service     BookingService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg := testConfig()
	f := &fixture{
		repo:        &mockBookingRepository{},
		historyRepo: &mockHistoryRepository{},
		lockRepo:    newMockLockRepository(),
		allocator:   &mockAllocator{},
		directory:   &mockDirectory{users: map[string]*model.User{}},
		publisher:   &recordingPublisher{},
	}
	f.service = NewBookingService(
		f.repo,
		f.historyRepo,
		f.lockRepo,
		f.allocator,
		f.directory,
		validator.NewBookingValidator(cfg.Log, cfg.MaxBookingQuantity),
		f.publisher,
		cfg,
	)
	return f
}

func validBooking() *model.Booking {
	return &model.Booking{
		HospitalID:             "65f0000000000000000000aa",
		UserID:                 "user-1",
		ResourceType:           model.ResourceBeds,
		Urgency:                model.UrgencyHigh,
		PatientName:            "Jane Roe",
		PatientGender:          model.GenderFemale,
		ScheduledDate:          time.Now().Add(48 * time.Hour),
		EstimatedDurationHours: 24,
		PaymentAmount:          500,
		ResourcesAllocated:     2,
	}
}

func pendingBooking(id string) *model.Booking {
	b := validBooking()
	b.ID = id
	b.Status = model.StatusPending
	b.PaymentStatus = model.PaymentUnpaid
	return b
}

func TestCreate_Success(t *testing.T) {
	f := newFixture(t)

	created, err := f.service.Create(context.Background(), validBooking())
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}

	if created.Status != model.StatusPending {
		t.Errorf("expected status pending, got %s", created.Status)
	}
	if created.PaymentStatus != model.PaymentUnpaid {
		t.Errorf("expected payment status unpaid, got %s", created.PaymentStatus)
	}
	if len(f.historyRepo.entries) != 1 {
		t.Fatalf("expected 1 history entry, got %d", len(f.historyRepo.entries))
	}
	if f.historyRepo.entries[0].OldStatus != "" || f.historyRepo.entries[0].NewStatus != model.StatusPending {
		t.Errorf("expected initial history row to pending, got %q -> %q",
			f.historyRepo.entries[0].OldStatus, f.historyRepo.entries[0].NewStatus)
	}
	if len(f.lockRepo.held) != 0 {
		t.Errorf("expected slot lock released, still held: %v", f.lockRepo.held)
	}
	if len(f.publisher.bookingEvents) != 1 || f.publisher.bookingEvents[0] != notifications.EventBookingCreated {
		t.Errorf("expected booking.created event, got %v", f.publisher.bookingEvents)
	}
}

func TestCreate_InsufficientAvailabilityFailsBeforeCreate(t *testing.T) {
	f := newFixture(t)
	f.allocator.checkFunc = func(ctx context.Context, hospitalID, resourceType string, quantity int) (*resourceservice.Availability, error) {
		return &resourceservice.Availability{
			Available: false,
			Requested: quantity,
			Pool:      &model.ResourcePool{Counters: model.PoolCounters{Total: 10, Available: 1}},
		}, nil
	}
	createCalled := false
	f.repo.createFunc = func(ctx context.Context, booking *model.Booking) error {
		createCalled = true
		return nil
	}

	_, err := f.service.Create(context.Background(), validBooking())
	if !apperrors.HasCode(err, apperrors.CodeInsufficientResources) {
		t.Fatalf("expected INSUFFICIENT_RESOURCES, got %v", err)
	}
	if createCalled {
		t.Error("booking must not be persisted when availability fails")
	}
	if len(f.historyRepo.entries) != 0 {
		t.Errorf("expected no history entries, got %d", len(f.historyRepo.entries))
	}
}

func TestCreate_DuplicateSlotConflict(t *testing.T) {
	f := newFixture(t)
	f.repo.countActiveFunc = func(ctx context.Context, userID, hospitalID, resourceType string, dayStart, dayEnd time.Time) (int64, error) {
		return 1, nil
	}

	_, err := f.service.Create(context.Background(), validBooking())
	if !apperrors.HasCode(err, apperrors.CodeConflict) {
		t.Fatalf("expected CONFLICT for duplicate slot, got %v", err)
	}
}

func TestCreate_ValidationRejectsPastDate(t *testing.T) {
	f := newFixture(t)

	booking := validBooking()
	booking.ScheduledDate = time.Now().Add(-time.Hour)

	_, err := f.service.Create(context.Background(), booking)
	if !apperrors.HasCode(err, apperrors.CodeValidation) {
		t.Fatalf("expected VALIDATION_ERROR, got %v", err)
	}
}

func TestApprove_Success(t *testing.T) {
	f := newFixture(t)

	booking := pendingBooking("65f000000000000000000001")
	f.repo.findByIDFunc = func(ctx context.Context, id string) (*model.Booking, error) {
		return booking, nil
	}

	var capturedSet bson.M
	f.repo.updateStatusFunc = func(ctx context.Context, id, fromStatus, toStatus string, set bson.M) (*model.Booking, error) {
		capturedSet = set
		updated := *booking
		updated.Status = toStatus
		return &updated, nil
	}

	updated, err := f.service.Approve(context.Background(), booking.ID, "authority-1", ApproveOptions{AutoAllocate: true})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}

	if updated.Status != model.StatusApproved {
		t.Errorf("expected status approved, got %s", updated.Status)
	}
	if f.allocator.allocations != 1 {
		t.Errorf("expected 1 allocation, got %d", f.allocator.allocations)
	}
	if capturedSet["approved_by"] != "authority-1" {
		t.Errorf("expected approved_by set, got %v", capturedSet["approved_by"])
	}

	expiresAt, ok := capturedSet["expires_at"].(time.Time)
	if !ok {
		t.Fatal("expected expires_at in the update")
	}
	wantExpiry := time.Now().Add(time.Duration(booking.EstimatedDurationHours) * time.Hour)
	if diff := expiresAt.Sub(wantExpiry); diff < -time.Minute || diff > time.Minute {
		t.Errorf("expected expiry near now+%dh, got %s", booking.EstimatedDurationHours, expiresAt)
	}

	if len(f.historyRepo.entries) != 1 || f.historyRepo.entries[0].NewStatus != model.StatusApproved {
		t.Errorf("expected pending->approved history row, got %+v", f.historyRepo.entries)
	}
	if len(f.publisher.bookingEvents) != 1 || f.publisher.bookingEvents[0] != notifications.EventBookingApproved {
		t.Errorf("expected booking.approved event, got %v", f.publisher.bookingEvents)
	}
}

func TestApprove_WrongStatusIsConflict(t *testing.T) {
	f := newFixture(t)

	booking := pendingBooking("65f000000000000000000001")
	booking.Status = model.StatusCompleted
	f.repo.findByIDFunc = func(ctx context.Context, id string) (*model.Booking, error) {
		return booking, nil
	}

	_, err := f.service.Approve(context.Background(), booking.ID, "authority-1", ApproveOptions{AutoAllocate: true})
	if !apperrors.HasCode(err, apperrors.CodeConflict) {
		t.Fatalf("expected CONFLICT, got %v", err)
	}
	if f.allocator.allocations != 0 {
		t.Error("no allocation may happen for an invalid transition")
	}
}

func TestApprove_AllocationFailureLeavesBookingPending(t *testing.T) {
	f := newFixture(t)

	booking := pendingBooking("65f000000000000000000001")
	f.repo.findByIDFunc = func(ctx context.Context, id string) (*model.Booking, error) {
		return booking, nil
	}
	f.allocator.allocateFunc = func(ctx context.Context, hospitalID, resourceType string, quantity int, bookingID, actor string) error {
		return apperrors.InsufficientResources("Insufficient beds available", nil)
	}
	updateCalled := false
	f.repo.updateStatusFunc = func(ctx context.Context, id, fromStatus, toStatus string, set bson.M) (*model.Booking, error) {
		updateCalled = true
		return booking, nil
	}

	_, err := f.service.Approve(context.Background(), booking.ID, "authority-1", ApproveOptions{AutoAllocate: true})
	if !apperrors.HasCode(err, apperrors.CodeInsufficientResources) {
		t.Fatalf("expected INSUFFICIENT_RESOURCES, got %v", err)
	}
	if updateCalled {
		t.Error("status must not change when allocation fails")
	}
	if len(f.historyRepo.entries) != 0 {
		t.Errorf("expected no history rows, got %d", len(f.historyRepo.entries))
	}
}

func TestApprove_StalePreconditionReleasesAllocation(t *testing.T) {
	f := newFixture(t)

	booking := pendingBooking("65f000000000000000000001")
	f.repo.findByIDFunc = func(ctx context.Context, id string) (*model.Booking, error) {
		return booking, nil
	}
	f.repo.updateStatusFunc = func(ctx context.Context, id, fromStatus, toStatus string, set bson.M) (*model.Booking, error) {
		return nil, bookingserrors.ErrStalePrecondition
	}

	_, err := f.service.Approve(context.Background(), booking.ID, "authority-1", ApproveOptions{AutoAllocate: true})
	if !apperrors.HasCode(err, apperrors.CodeStaleState) {
		t.Fatalf("expected STALE_STATE, got %v", err)
	}
	if f.allocator.allocations != 1 {
		t.Errorf("expected the allocation to have happened, got %d", f.allocator.allocations)
	}
	if len(f.allocator.releases) != 1 {
		t.Fatalf("expected a compensating release, got %v", f.allocator.releases)
	}
}

func TestDecline_RequiresReason(t *testing.T) {
	f := newFixture(t)

	findCalled := false
	f.repo.findByIDFunc = func(ctx context.Context, id string) (*model.Booking, error) {
		findCalled = true
		return pendingBooking(id), nil
	}

	_, err := f.service.Decline(context.Background(), "65f000000000000000000001", "authority-1", "   ", "", nil)
	if !apperrors.HasCode(err, apperrors.CodeValidation) {
		t.Fatalf("expected VALIDATION_ERROR, got %v", err)
	}
	if findCalled {
		t.Error("decline must be rejected before touching the booking")
	}
}

func TestDecline_Success(t *testing.T) {
	f := newFixture(t)

	booking := pendingBooking("65f000000000000000000001")
	f.repo.findByIDFunc = func(ctx context.Context, id string) (*model.Booking, error) {
		return booking, nil
	}
	f.repo.updateStatusFunc = func(ctx context.Context, id, fromStatus, toStatus string, set bson.M) (*model.Booking, error) {
		updated := *booking
		updated.Status = toStatus
		return &updated, nil
	}

	updated, err := f.service.Decline(context.Background(), booking.ID, "authority-1", "no capacity", "", []string{"City General"})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if updated.Status != model.StatusDeclined {
		t.Errorf("expected status declined, got %s", updated.Status)
	}
	if f.allocator.allocations != 0 || len(f.allocator.releases) != 0 {
		t.Error("decline must not touch the resource pool")
	}
	if f.historyRepo.entries[0].Reason != "no capacity" {
		t.Errorf("expected reason recorded, got %q", f.historyRepo.entries[0].Reason)
	}
}

func TestCancel_ApprovedReleasesResources(t *testing.T) {
	f := newFixture(t)

	booking := pendingBooking("65f000000000000000000001")
	booking.Status = model.StatusApproved
	booking.ResourcesHeld = true
	f.repo.findByIDFunc = func(ctx context.Context, id string) (*model.Booking, error) {
		return booking, nil
	}
	f.repo.updateStatusFunc = func(ctx context.Context, id, fromStatus, toStatus string, set bson.M) (*model.Booking, error) {
		if fromStatus != model.StatusApproved {
			t.Errorf("expected precondition approved, got %s", fromStatus)
		}
		updated := *booking
		updated.Status = toStatus
		return &updated, nil
	}

	updated, err := f.service.Cancel(context.Background(), booking.ID, booking.UserID, "changed plans", "")
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if updated.Status != model.StatusCancelled {
		t.Errorf("expected status cancelled, got %s", updated.Status)
	}
	if len(f.allocator.releases) != 1 || f.allocator.releases[0] != model.ChangeCancelled {
		t.Errorf("expected a cancelled-type release, got %v", f.allocator.releases)
	}
}

func TestCancel_PendingSkipsRelease(t *testing.T) {
	f := newFixture(t)

	booking := pendingBooking("65f000000000000000000001")
	f.repo.findByIDFunc = func(ctx context.Context, id string) (*model.Booking, error) {
		return booking, nil
	}
	f.repo.updateStatusFunc = func(ctx context.Context, id, fromStatus, toStatus string, set bson.M) (*model.Booking, error) {
		updated := *booking
		updated.Status = toStatus
		return &updated, nil
	}

	_, err := f.service.Cancel(context.Background(), booking.ID, booking.UserID, "changed plans", "")
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if len(f.allocator.releases) != 0 {
		t.Errorf("pending cancel must not release resources, got %v", f.allocator.releases)
	}
}

func TestCancel_UnauthorizedActorIsForbidden(t *testing.T) {
	f := newFixture(t)

	booking := pendingBooking("65f000000000000000000001")
	f.repo.findByIDFunc = func(ctx context.Context, id string) (*model.Booking, error) {
		return booking, nil
	}
	f.directory.users["other-user"] = &model.User{ID: "other-user", Role: model.RolePatient}

	_, err := f.service.Cancel(context.Background(), booking.ID, "other-user", "nope", "")
	if !apperrors.HasCode(err, apperrors.CodeForbidden) {
		t.Fatalf("expected FORBIDDEN, got %v", err)
	}
}

func TestCancel_HospitalAuthorityOfOtherHospitalIsForbidden(t *testing.T) {
	f := newFixture(t)

	booking := pendingBooking("65f000000000000000000001")
	f.repo.findByIDFunc = func(ctx context.Context, id string) (*model.Booking, error) {
		return booking, nil
	}
	f.directory.users["authority-2"] = &model.User{
		ID:         "authority-2",
		Role:       model.RoleHospitalAuthority,
		HospitalID: "some-other-hospital",
	}

	_, err := f.service.Cancel(context.Background(), booking.ID, "authority-2", "nope", "")
	if !apperrors.HasCode(err, apperrors.CodeForbidden) {
		t.Fatalf("expected FORBIDDEN, got %v", err)
	}
}

func TestCancel_AdminIsAuthorized(t *testing.T) {
	f := newFixture(t)

	booking := pendingBooking("65f000000000000000000001")
	f.repo.findByIDFunc = func(ctx context.Context, id string) (*model.Booking, error) {
		return booking, nil
	}
	f.repo.updateStatusFunc = func(ctx context.Context, id, fromStatus, toStatus string, set bson.M) (*model.Booking, error) {
		updated := *booking
		updated.Status = toStatus
		return &updated, nil
	}
	f.directory.users["admin-1"] = &model.User{ID: "admin-1", Role: model.RoleAdmin}

	if _, err := f.service.Cancel(context.Background(), booking.ID, "admin-1", "policy", ""); err != nil {
		t.Fatalf("expected admin cancel to succeed, got %v", err)
	}
}

func TestComplete_ReleasesAndTransitions(t *testing.T) {
	f := newFixture(t)

	booking := pendingBooking("65f000000000000000000001")
	booking.Status = model.StatusApproved
	booking.ResourcesHeld = true
	f.repo.findByIDFunc = func(ctx context.Context, id string) (*model.Booking, error) {
		return booking, nil
	}
	f.repo.updateStatusFunc = func(ctx context.Context, id, fromStatus, toStatus string, set bson.M) (*model.Booking, error) {
		updated := *booking
		updated.Status = toStatus
		return &updated, nil
	}

	updated, err := f.service.Complete(context.Background(), booking.ID, "authority-1", "patient discharged")
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if updated.Status != model.StatusCompleted {
		t.Errorf("expected status completed, got %s", updated.Status)
	}
	if len(f.allocator.releases) != 1 || f.allocator.releases[0] != model.ChangeCompleted {
		t.Errorf("expected a completed-type release, got %v", f.allocator.releases)
	}
}

func TestComplete_PendingIsConflict(t *testing.T) {
	f := newFixture(t)

	booking := pendingBooking("65f000000000000000000001")
	f.repo.findByIDFunc = func(ctx context.Context, id string) (*model.Booking, error) {
		return booking, nil
	}

	_, err := f.service.Complete(context.Background(), booking.ID, "authority-1", "")
	if !apperrors.HasCode(err, apperrors.CodeConflict) {
		t.Fatalf("expected CONFLICT, got %v", err)
	}
	if len(f.allocator.releases) != 0 {
		t.Error("no release may happen for an invalid transition")
	}
}

func TestTransition_LockContentionIsConflict(t *testing.T) {
	f := newFixture(t)

	booking := pendingBooking("65f000000000000000000001")
	f.repo.findByIDFunc = func(ctx context.Context, id string) (*model.Booking, error) {
		return booking, nil
	}
	f.lockRepo.held["transition_"+booking.ID] = true

	_, err := f.service.Approve(context.Background(), booking.ID, "authority-1", ApproveOptions{AutoAllocate: true})
	if !apperrors.HasCode(err, apperrors.CodeConflict) {
		t.Fatalf("expected CONFLICT while lock held, got %v", err)
	}
	if f.allocator.allocations != 0 {
		t.Error("no allocation may happen while another transition holds the lock")
	}
}

func TestExpireOverdue_CompletesPastExpiryAndSkipsLocked(t *testing.T) {
	f := newFixture(t)

	past := time.Now().Add(-time.Hour)
	first := pendingBooking("65f000000000000000000001")
	first.Status = model.StatusApproved
	first.ResourcesHeld = true
	first.ExpiresAt = &past
	second := pendingBooking("65f000000000000000000002")
	second.Status = model.StatusApproved
	second.ResourcesHeld = true
	second.ExpiresAt = &past

	f.repo.findExpiredFunc = func(ctx context.Context, now time.Time, limit int) ([]*model.Booking, error) {
		return []*model.Booking{first, second}, nil
	}
	f.repo.findByIDFunc = func(ctx context.Context, id string) (*model.Booking, error) {
		if id == second.ID {
			return second, nil
		}
		return first, nil
	}
	f.repo.updateStatusFunc = func(ctx context.Context, id, fromStatus, toStatus string, set bson.M) (*model.Booking, error) {
		updated := *first
		updated.ID = id
		updated.Status = toStatus
		return &updated, nil
	}
	f.lockRepo.held["transition_"+second.ID] = true

	completed, err := f.service.ExpireOverdue(context.Background())
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if completed != 1 {
		t.Errorf("expected 1 booking expired, got %d", completed)
	}
	if len(f.allocator.releases) != 1 || f.allocator.releases[0] != model.ChangeCompleted {
		t.Errorf("expected one completed-type release, got %v", f.allocator.releases)
	}
	if f.publisher.bookingEvents[len(f.publisher.bookingEvents)-1] != notifications.EventBookingExpired {
		t.Errorf("expected booking.expired event, got %v", f.publisher.bookingEvents)
	}
}

func TestExpireOverdue_SkipsBookingCancelledAfterSweepQuery(t *testing.T) {
	f := newFixture(t)

	past := time.Now().Add(-time.Hour)
	stale := pendingBooking("65f000000000000000000001")
	stale.Status = model.StatusApproved
	stale.ResourcesHeld = true
	stale.ExpiresAt = &past

	f.repo.findExpiredFunc = func(ctx context.Context, now time.Time, limit int) ([]*model.Booking, error) {
		return []*model.Booking{stale}, nil
	}
	// A cancel wins the window between the sweep query and the lock.
	f.repo.findByIDFunc = func(ctx context.Context, id string) (*model.Booking, error) {
		current := *stale
		current.Status = model.StatusCancelled
		current.ResourcesHeld = false
		return &current, nil
	}
	updateCalled := false
	f.repo.updateStatusFunc = func(ctx context.Context, id, fromStatus, toStatus string, set bson.M) (*model.Booking, error) {
		updateCalled = true
		return nil, bookingserrors.ErrStalePrecondition
	}

	completed, err := f.service.ExpireOverdue(context.Background())
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if completed != 0 {
		t.Errorf("expected nothing expired, got %d", completed)
	}
	if len(f.allocator.releases) != 0 {
		t.Errorf("stale snapshot must not trigger a release, got %v", f.allocator.releases)
	}
	if f.allocator.allocations != 0 {
		t.Errorf("no compensating re-allocation expected, got %d", f.allocator.allocations)
	}
	if updateCalled {
		t.Error("no status update may be attempted for a booking no longer approved")
	}
	if len(f.publisher.bookingEvents) != 0 {
		t.Errorf("no event may be published, got %v", f.publisher.bookingEvents)
	}
}
