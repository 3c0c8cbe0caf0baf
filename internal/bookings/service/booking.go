package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	bookingserrors "medbook/internal/bookings/errors"
	"medbook/internal/bookings/repository"
	"medbook/internal/bookings/validator"
	"medbook/internal/notifications"
	resourceservice "medbook/internal/resources/service"
	"medbook/pkg/config"
	apperrors "medbook/pkg/errors"
	"medbook/pkg/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// ResourceAllocator is the slice of the resources service the booking
// lifecycle depends on. Allocate and Release commit in their own
// transactions; the booking status write never runs inside them.
type ResourceAllocator interface {
	CheckAvailability(ctx context.Context, hospitalID, resourceType string, quantity int) (*resourceservice.Availability, error)
	Allocate(ctx context.Context, hospitalID, resourceType string, quantity int, bookingID, actor string) error
	Release(ctx context.Context, hospitalID, resourceType string, quantity int, bookingID, actor, changeType string) error
}

// ActorDirectory resolves the acting user for authorization checks.
type ActorDirectory interface {
	GetUser(ctx context.Context, id string) (*model.User, error)
}

// ApproveOptions carries the approver's optional overrides.
type ApproveOptions struct {
	ResourcesAllocated int
	Notes              string
	AutoAllocate       bool
}

type BookingService interface {
	Create(ctx context.Context, booking *model.Booking) (*model.Booking, error)
	GetByID(ctx context.Context, id string) (*model.Booking, error)
	GetAll(ctx context.Context, filter repository.BookingFilter, limit int, offset int64) ([]*model.Booking, int64, error)
	GetHistory(ctx context.Context, id string) ([]*model.BookingStatusHistory, error)
	Approve(ctx context.Context, id, approver string, opts ApproveOptions) (*model.Booking, error)
	Decline(ctx context.Context, id, decliner, reason, notes string, alternatives []string) (*model.Booking, error)
	Cancel(ctx context.Context, id, canceller, reason, notes string) (*model.Booking, error)
	Complete(ctx context.Context, id, completer, notes string) (*model.Booking, error)
	ExpireOverdue(ctx context.Context) (int, error)
}

type bookingService struct {
	repo        repository.BookingRepository
	historyRepo repository.HistoryRepository
	lockRepo    repository.TransitionLockRepository
	allocator   ResourceAllocator
	directory   ActorDirectory
	validator   *validator.BookingValidator
	publisher   notifications.Publisher
	cfg         *config.Config
}

func NewBookingService(
	repo repository.BookingRepository,
	historyRepo repository.HistoryRepository,
	lockRepo repository.TransitionLockRepository,
	allocator ResourceAllocator,
	directory ActorDirectory,
	bookingValidator *validator.BookingValidator,
	publisher notifications.Publisher,
	cfg *config.Config,
) BookingService {
	return &bookingService{
		repo:        repo,
		historyRepo: historyRepo,
		lockRepo:    lockRepo,
		allocator:   allocator,
		directory:   directory,
		validator:   bookingValidator,
		publisher:   publisher,
		cfg:         cfg,
	}
}

const expiredSweepBatchSize = 100

func (s *bookingService) Create(ctx context.Context, booking *model.Booking) (*model.Booking, error) {
	booking.Status = model.StatusPending
	booking.PaymentStatus = model.PaymentUnpaid
	booking.ResourcesHeld = false
	if booking.ResourcesAllocated == 0 {
		booking.ResourcesAllocated = 1
	}
	if booking.Urgency == "" {
		booking.Urgency = model.UrgencyMedium
	}

	if err := s.validator.Validate(booking); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return nil, apperrors.Validation("Booking validation failed", map[string]any{"errors": verrs})
		}
		return nil, apperrors.Internal("Booking validation failed", err)
	}

	// Fail before create, never allocate-then-rollback. The probe is
	// non-binding; Approve re-checks under the pool's own guard.
	availability, err := s.allocator.CheckAvailability(ctx, booking.HospitalID, booking.ResourceType, booking.ResourcesAllocated)
	if err != nil {
		return nil, err
	}
	if !availability.Available {
		return nil, apperrors.InsufficientResources(
			"Not enough resources available for the requested booking",
			map[string]any{
				"requested": booking.ResourcesAllocated,
				"available": availability.Pool.Counters.Available,
			},
		)
	}

	day := booking.ScheduledDate.UTC().Truncate(24 * time.Hour)
	slotKey := fmt.Sprintf("create_%s_%s_%s_%s", booking.UserID, booking.HospitalID, booking.ResourceType, day.Format("2006-01-02"))

	release, err := s.acquireLock(ctx, slotKey)
	if err != nil {
		return nil, err
	}
	defer release()

	err = s.repo.ExecuteTransaction(ctx, func(sessCtx mongo.SessionContext) error {
		active, err := s.repo.CountActiveForSlot(sessCtx, booking.UserID, booking.HospitalID, booking.ResourceType, day, day.Add(24*time.Hour))
		if err != nil {
			return apperrors.Internal("Failed to check for duplicate bookings", err)
		}
		if active > 0 {
			return apperrors.Conflict("An active booking for this resource type and date already exists")
		}

		if err := s.repo.Create(sessCtx, booking); err != nil {
			return apperrors.Internal("Failed to create booking", err)
		}

		return s.insertHistory(sessCtx, booking.ID, "", model.StatusPending, booking.UserID, "", "")
	})
	if err != nil {
		if apperrors.IsAppError(err) {
			return nil, err
		}
		return nil, apperrors.Internal("Failed to create booking", err)
	}

	s.cfg.Log.Info("Booking created",
		"booking_id", booking.ID,
		"hospital_id", booking.HospitalID,
		"user_id", booking.UserID,
		"resource_type", booking.ResourceType,
		"scheduled_date", booking.ScheduledDate,
	)

	s.publisher.PublishBookingEvent(ctx, notifications.EventBookingCreated, notifications.NewBookingEvent(booking, booking.UserID, ""))

	return booking, nil
}

func (s *bookingService) GetByID(ctx context.Context, id string) (*model.Booking, error) {
	booking, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, s.mapRepoError(err, id)
	}
	return booking, nil
}

func (s *bookingService) GetAll(ctx context.Context, filter repository.BookingFilter, limit int, offset int64) ([]*model.Booking, int64, error) {
	bookings, err := s.repo.FindAll(ctx, filter, limit, offset)
	if err != nil {
		return nil, 0, apperrors.Internal("Failed to retrieve bookings", err)
	}

	total, err := s.repo.Count(ctx, filter)
	if err != nil {
		return nil, 0, apperrors.Internal("Failed to count bookings", err)
	}

	return bookings, total, nil
}

func (s *bookingService) GetHistory(ctx context.Context, id string) ([]*model.BookingStatusHistory, error) {
	if _, err := s.repo.FindByID(ctx, id); err != nil {
		return nil, s.mapRepoError(err, id)
	}

	entries, err := s.historyRepo.FindByBooking(ctx, id)
	if err != nil {
		return nil, apperrors.Internal("Failed to retrieve booking history", err)
	}
	return entries, nil
}

func (s *bookingService) Approve(ctx context.Context, id, approver string, opts ApproveOptions) (*model.Booking, error) {
	release, err := s.acquireLock(ctx, "transition_"+id)
	if err != nil {
		return nil, err
	}
	defer release()

	booking, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, s.mapRepoError(err, id)
	}
	if !model.CanTransition(booking.Status, model.StatusApproved) {
		return nil, apperrors.Conflict("Cannot approve a booking in status " + booking.Status)
	}

	quantity := booking.ResourcesAllocated
	if opts.ResourcesAllocated > 0 {
		if opts.ResourcesAllocated > s.cfg.MaxBookingQuantity {
			return nil, apperrors.InvalidInput(fmt.Sprintf("resources_allocated must be at most %d", s.cfg.MaxBookingQuantity))
		}
		quantity = opts.ResourcesAllocated
	}

	// Allocation commits in its own transaction. On failure the booking
	// stays pending and the error surfaces unchanged.
	if opts.AutoAllocate {
		if err := s.allocator.Allocate(ctx, booking.HospitalID, booking.ResourceType, quantity, id, approver); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	expiresAt := now.Add(time.Duration(booking.EstimatedDurationHours) * time.Hour)
	set := bson.M{
		"approved_by":         approver,
		"approved_at":         now,
		"expires_at":          expiresAt,
		"resources_allocated": quantity,
		"resources_held":      opts.AutoAllocate,
	}
	if opts.Notes != "" {
		set["notes"] = opts.Notes
	}

	updated, err := s.transition(ctx, id, model.StatusPending, model.StatusApproved, set, approver, "", opts.Notes)
	if err != nil {
		if opts.AutoAllocate && apperrors.HasCode(err, apperrors.CodeStaleState) {
			s.compensateRelease(ctx, booking, quantity, approver)
		}
		return nil, err
	}

	s.cfg.Log.Info("Booking approved",
		"booking_id", id,
		"approved_by", approver,
		"quantity", quantity,
		"expires_at", expiresAt,
	)

	s.publisher.PublishBookingEvent(ctx, notifications.EventBookingApproved, notifications.NewBookingEvent(updated, approver, ""))

	return updated, nil
}

func (s *bookingService) Decline(ctx context.Context, id, decliner, reason, notes string, alternatives []string) (*model.Booking, error) {
	if err := s.validator.ValidateDeclineReason(reason); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return nil, apperrors.Validation("Decline reason is required", map[string]any{"errors": verrs})
		}
		return nil, apperrors.InvalidInput(err.Error())
	}

	release, err := s.acquireLock(ctx, "transition_"+id)
	if err != nil {
		return nil, err
	}
	defer release()

	booking, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, s.mapRepoError(err, id)
	}
	if !model.CanTransition(booking.Status, model.StatusDeclined) {
		return nil, apperrors.Conflict("Cannot decline a booking in status " + booking.Status)
	}

	historyNotes := notes
	if len(alternatives) > 0 {
		if historyNotes != "" {
			historyNotes += " "
		}
		historyNotes += "Alternatives: " + strings.Join(alternatives, ", ")
	}

	updated, err := s.transition(ctx, id, model.StatusPending, model.StatusDeclined, nil, decliner, reason, historyNotes)
	if err != nil {
		return nil, err
	}

	s.cfg.Log.Info("Booking declined",
		"booking_id", id,
		"declined_by", decliner,
		"reason", reason,
	)

	s.publisher.PublishBookingEvent(ctx, notifications.EventBookingDeclined, notifications.NewBookingEvent(updated, decliner, reason))

	return updated, nil
}

func (s *bookingService) Cancel(ctx context.Context, id, canceller, reason, notes string) (*model.Booking, error) {
	release, err := s.acquireLock(ctx, "transition_"+id)
	if err != nil {
		return nil, err
	}
	defer release()

	booking, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, s.mapRepoError(err, id)
	}

	if err := s.authorizeCancel(ctx, booking, canceller); err != nil {
		return nil, err
	}

	if !model.CanTransition(booking.Status, model.StatusCancelled) {
		return nil, apperrors.Conflict("Cannot cancel a booking in status " + booking.Status)
	}

	wasHeld := booking.Status == model.StatusApproved && booking.ResourcesHeld
	if wasHeld {
		if err := s.allocator.Release(ctx, booking.HospitalID, booking.ResourceType, booking.ResourcesAllocated, id, canceller, model.ChangeCancelled); err != nil {
			return nil, err
		}
	}

	updated, err := s.transition(ctx, id, booking.Status, model.StatusCancelled, bson.M{"resources_held": false}, canceller, reason, notes)
	if err != nil {
		if wasHeld && apperrors.HasCode(err, apperrors.CodeStaleState) {
			s.compensateReallocate(ctx, booking, canceller)
		}
		return nil, err
	}

	s.cfg.Log.Info("Booking cancelled",
		"booking_id", id,
		"cancelled_by", canceller,
		"reason", reason,
		"resources_released", wasHeld,
	)

	s.publisher.PublishBookingEvent(ctx, notifications.EventBookingCancelled, notifications.NewBookingEvent(updated, canceller, reason))

	return updated, nil
}

func (s *bookingService) Complete(ctx context.Context, id, completer, notes string) (*model.Booking, error) {
	release, err := s.acquireLock(ctx, "transition_"+id)
	if err != nil {
		return nil, err
	}
	defer release()

	booking, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, s.mapRepoError(err, id)
	}
	if !model.CanTransition(booking.Status, model.StatusCompleted) {
		return nil, apperrors.Conflict("Cannot complete a booking in status " + booking.Status)
	}

	wasHeld := booking.ResourcesHeld
	if wasHeld {
		if err := s.allocator.Release(ctx, booking.HospitalID, booking.ResourceType, booking.ResourcesAllocated, id, completer, model.ChangeCompleted); err != nil {
			return nil, err
		}
	}

	updated, err := s.transition(ctx, id, model.StatusApproved, model.StatusCompleted, bson.M{"resources_held": false}, completer, "", notes)
	if err != nil {
		if wasHeld && apperrors.HasCode(err, apperrors.CodeStaleState) {
			s.compensateReallocate(ctx, booking, completer)
		}
		return nil, err
	}

	s.cfg.Log.Info("Booking completed",
		"booking_id", id,
		"completed_by", completer,
		"resources_released", wasHeld,
	)

	s.publisher.PublishBookingEvent(ctx, notifications.EventBookingCompleted, notifications.NewBookingEvent(updated, completer, ""))

	return updated, nil
}

// ExpireOverdue completes approved bookings whose expiry has passed,
// returning the pool units to availability. Bookings locked by an
// in-flight transition are skipped and picked up on the next sweep.
func (s *bookingService) ExpireOverdue(ctx context.Context) (int, error) {
	now := time.Now().UTC()

	expired, err := s.repo.FindExpiredApproved(ctx, now, expiredSweepBatchSize)
	if err != nil {
		return 0, apperrors.Internal("Failed to find expired bookings", err)
	}

	completed := 0
	for _, booking := range expired {
		done, err := s.expireOne(ctx, booking.ID)
		if err != nil {
			s.cfg.Log.Warn("Failed to expire booking",
				"booking_id", booking.ID,
				"error", err,
			)
			continue
		}
		if done {
			completed++
		}
	}

	if completed > 0 {
		s.cfg.Log.Info("Expiry sweep finished",
			"expired", completed,
			"candidates", len(expired),
		)
	}

	return completed, nil
}

func (s *bookingService) expireOne(ctx context.Context, id string) (bool, error) {
	release, err := s.acquireLock(ctx, "transition_"+id)
	if err != nil {
		return false, err
	}
	defer release()

	// Re-read under the lock: a cancel or complete may have won the
	// window since the sweep query ran.
	booking, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return false, s.mapRepoError(err, id)
	}
	if booking.Status != model.StatusApproved {
		return false, nil
	}

	wasHeld := booking.ResourcesHeld
	if wasHeld {
		if err := s.allocator.Release(ctx, booking.HospitalID, booking.ResourceType, booking.ResourcesAllocated, id, "system", model.ChangeCompleted); err != nil {
			return false, err
		}
	}

	updated, err := s.transition(ctx, id, model.StatusApproved, model.StatusCompleted, bson.M{"resources_held": false}, "system", "expired", "")
	if err != nil {
		if wasHeld && apperrors.HasCode(err, apperrors.CodeStaleState) {
			s.compensateReallocate(ctx, booking, "system")
		}
		return false, err
	}

	s.publisher.PublishBookingEvent(ctx, notifications.EventBookingExpired, notifications.NewBookingEvent(updated, "system", "expired"))

	return true, nil
}

// transition performs the guarded status flip and the history append as
// one atomic unit.
func (s *bookingService) transition(ctx context.Context, id, fromStatus, toStatus string, set bson.M, actor, reason, notes string) (*model.Booking, error) {
	var updated *model.Booking

	err := s.repo.ExecuteTransaction(ctx, func(sessCtx mongo.SessionContext) error {
		booking, err := s.repo.UpdateStatusWithPrecondition(sessCtx, id, fromStatus, toStatus, set)
		if err != nil {
			if errors.Is(err, bookingserrors.ErrStalePrecondition) {
				return apperrors.StaleState("Booking moved out of status " + fromStatus + " during the transition")
			}
			return apperrors.Internal("Failed to update booking status", err)
		}

		if err := s.insertHistory(sessCtx, id, fromStatus, toStatus, actor, reason, notes); err != nil {
			return err
		}

		updated = booking
		return nil
	})
	if err != nil {
		if apperrors.IsAppError(err) {
			return nil, err
		}
		return nil, apperrors.Internal("Failed to transition booking", err)
	}

	return updated, nil
}

func (s *bookingService) insertHistory(ctx context.Context, bookingID, oldStatus, newStatus, changedBy, reason, notes string) error {
	entry := &model.BookingStatusHistory{
		BookingID: bookingID,
		OldStatus: oldStatus,
		NewStatus: newStatus,
		ChangedBy: changedBy,
		Reason:    reason,
		Notes:     notes,
	}
	if err := s.historyRepo.Insert(ctx, entry); err != nil {
		return apperrors.Internal("Failed to record status history", err)
	}
	return nil
}

func (s *bookingService) authorizeCancel(ctx context.Context, booking *model.Booking, canceller string) error {
	if canceller == booking.UserID {
		return nil
	}

	actor, err := s.directory.GetUser(ctx, canceller)
	if err != nil {
		if apperrors.IsAppError(err) {
			return apperrors.Forbidden("Canceller is not authorized for this booking")
		}
		return apperrors.Internal("Failed to resolve cancelling user", err)
	}

	switch actor.Role {
	case model.RoleAdmin:
		return nil
	case model.RoleHospitalAuthority:
		if actor.HospitalID == booking.HospitalID {
			return nil
		}
	}

	return apperrors.Forbidden("Canceller is not authorized for this booking")
}

// acquireLock inserts the advisory lock document. A duplicate key means
// another request holds the lock.
func (s *bookingService) acquireLock(ctx context.Context, key string) (func(), error) {
	lock := &model.TransitionLock{
		ID:        key,
		ExpiresAt: time.Now().UTC().Add(s.cfg.TransitionLockTTL),
	}

	if _, err := s.lockRepo.Create(ctx, lock); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, apperrors.Conflict("Another operation on this booking is already in progress")
		}
		return nil, apperrors.Internal("Failed to acquire booking lock", err)
	}

	release := func() {
		if err := s.lockRepo.Delete(context.WithoutCancel(ctx), key); err != nil {
			s.cfg.Log.Warn("Failed to release booking lock",
				"lock_id", key,
				"error", err,
			)
		}
	}
	return release, nil
}

// compensateRelease undoes an allocation whose status write lost the
// race. Failure leaves the pool over-committed, which the next
// reconciliation of the audit log surfaces.
func (s *bookingService) compensateRelease(ctx context.Context, booking *model.Booking, quantity int, actor string) {
	if err := s.allocator.Release(ctx, booking.HospitalID, booking.ResourceType, quantity, booking.ID, actor, model.ChangeCancelled); err != nil {
		s.cfg.Log.Error("Failed to release allocation after stale approval",
			"booking_id", booking.ID,
			"hospital_id", booking.HospitalID,
			"resource_type", booking.ResourceType,
			"quantity", quantity,
			"error", err,
		)
	}
}

// compensateReallocate undoes a release whose status write lost the race.
func (s *bookingService) compensateReallocate(ctx context.Context, booking *model.Booking, actor string) {
	if err := s.allocator.Allocate(ctx, booking.HospitalID, booking.ResourceType, booking.ResourcesAllocated, booking.ID, actor); err != nil {
		s.cfg.Log.Error("Failed to re-allocate after stale release",
			"booking_id", booking.ID,
			"hospital_id", booking.HospitalID,
			"resource_type", booking.ResourceType,
			"quantity", booking.ResourcesAllocated,
			"error", err,
		)
	}
}

func (s *bookingService) mapRepoError(err error, id string) error {
	switch {
	case errors.Is(err, bookingserrors.ErrNotFound):
		return apperrors.NotFoundWithID("Booking", id)
	case errors.Is(err, bookingserrors.ErrInvalidID):
		return apperrors.InvalidInput("Invalid booking ID: " + id)
	default:
		return apperrors.Internal("Failed to retrieve booking", err)
	}
}
