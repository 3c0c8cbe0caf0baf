package service

import (
	"context"
	"errors"
	"time"

	directoryservice "medbook/internal/directory/service"
	"medbook/internal/notifications"
	paymentserrors "medbook/internal/payments/errors"
	"medbook/internal/payments/repository"
	"medbook/pkg/client"
	"medbook/pkg/config"
	apperrors "medbook/pkg/errors"
	"medbook/pkg/model"
	"medbook/pkg/money"

	"go.mongodb.org/mongo-driver/bson"
)

// BookingStore is the slice of the bookings repository the payment ledger
// needs: resolving the booking behind a payment and flagging its payment
// state.
type BookingStore interface {
	FindByID(ctx context.Context, id string) (*model.Booking, error)
	SetPaymentStatus(ctx context.Context, id, paymentStatus string, amount float64) error
}

type PaymentService interface {
	RecordPaymentAttempt(ctx context.Context, bookingID, method string, amount float64) (*model.Transaction, error)
	Charge(ctx context.Context, bookingID, method, instrument string, amount float64) (*model.Transaction, error)
	Capture(ctx context.Context, transactionID string, result *model.GatewayResult) (*model.Transaction, error)
	Refund(ctx context.Context, transactionID string, refundAmount float64, reason string) (*model.Transaction, error)
	GetByID(ctx context.Context, id string) (*model.Transaction, error)
	GetAll(ctx context.Context, filter repository.TransactionFilter, limit int, offset int64) ([]*model.Transaction, int64, error)
}

type paymentService struct {
	txRepo      repository.TransactionRepository
	bookings    BookingStore
	directory   directoryservice.DirectoryService
	distributor RevenueDistributor
	gateway     *client.GatewayClient
	publisher   notifications.Publisher
	cfg         *config.Config
}

func NewPaymentService(
	txRepo repository.TransactionRepository,
	bookings BookingStore,
	directory directoryservice.DirectoryService,
	distributor RevenueDistributor,
	gateway *client.GatewayClient,
	publisher notifications.Publisher,
	cfg *config.Config,
) PaymentService {
	return &paymentService{
		txRepo:      txRepo,
		bookings:    bookings,
		directory:   directory,
		distributor: distributor,
		gateway:     gateway,
		publisher:   publisher,
		cfg:         cfg,
	}
}

// RecordPaymentAttempt opens a pending transaction for a booking. The
// amount defaults to the booking's payment amount.
func (s *paymentService) RecordPaymentAttempt(ctx context.Context, bookingID, method string, amount float64) (*model.Transaction, error) {
	booking, err := s.bookings.FindByID(ctx, bookingID)
	if err != nil {
		return nil, apperrors.NotFoundWithID("Booking", bookingID)
	}

	if amount == 0 {
		amount = booking.PaymentAmount
	}
	if amount <= 0 {
		return nil, apperrors.InvalidInput("Payment amount must be positive")
	}
	if !isValidMethod(method) {
		return nil, apperrors.InvalidInput("Unknown payment method: " + method)
	}

	tx := &model.Transaction{
		BookingID:     bookingID,
		UserID:        booking.UserID,
		HospitalID:    booking.HospitalID,
		Amount:        money.Round2(amount),
		PaymentMethod: method,
		Status:        model.TxPending,
	}
	if err := s.txRepo.Create(ctx, tx); err != nil {
		return nil, apperrors.Internal("Failed to record payment attempt", err)
	}

	if err := s.bookings.SetPaymentStatus(ctx, bookingID, model.PaymentPending, tx.Amount); err != nil {
		s.cfg.Log.Warn("Failed to flag booking payment as pending",
			"booking_id", bookingID,
			"transaction_id", tx.ID,
			"error", err,
		)
	}

	s.cfg.Log.Info("Payment attempt recorded",
		"transaction_id", tx.ID,
		"booking_id", bookingID,
		"amount", tx.Amount,
		"method", method,
	)
	return tx, nil
}

// Charge runs the full happy path: record the attempt, call the gateway
// once, then capture the outcome. The gateway call happens outside any
// lock or transaction.
func (s *paymentService) Charge(ctx context.Context, bookingID, method, instrument string, amount float64) (*model.Transaction, error) {
	tx, err := s.RecordPaymentAttempt(ctx, bookingID, method, amount)
	if err != nil {
		return nil, err
	}

	result, err := s.gateway.Charge(ctx, client.ChargeRequest{
		TransactionID: tx.ID,
		Amount:        tx.Amount,
		Method:        method,
		Instrument:    instrument,
	})
	if err != nil {
		return nil, apperrors.Unavailable("payment gateway")
	}

	return s.Capture(ctx, tx.ID, result)
}

// Capture settles a pending transaction with the gateway outcome. Safe to
// replay: a transaction already out of pending with the same gateway
// reference returns as-is.
func (s *paymentService) Capture(ctx context.Context, transactionID string, result *model.GatewayResult) (*model.Transaction, error) {
	tx, err := s.txRepo.FindByID(ctx, transactionID)
	if err != nil {
		return nil, mapTransactionError(err, transactionID)
	}

	if tx.Status != model.TxPending {
		if tx.GatewayReference != "" && tx.GatewayReference == result.Reference {
			return tx, nil
		}
		return nil, apperrors.Conflict("Transaction is no longer pending, status is " + tx.Status)
	}

	if !result.Success {
		return s.captureFailure(ctx, tx, result)
	}
	return s.captureSuccess(ctx, tx, result)
}

func (s *paymentService) captureSuccess(ctx context.Context, tx *model.Transaction, result *model.GatewayResult) (*model.Transaction, error) {
	rate, err := s.directory.ServiceChargeRate(ctx, tx.HospitalID)
	if err != nil {
		return nil, err
	}

	hospitalAmount, serviceCharge := money.Split(tx.Amount, rate)
	if !money.SumsTo(hospitalAmount, serviceCharge, tx.Amount) {
		return nil, apperrors.IntegrityViolation("Split does not sum to the charged amount", map[string]any{
			"transaction_id":  tx.ID,
			"amount":          tx.Amount,
			"hospital_amount": hospitalAmount,
			"service_charge":  serviceCharge,
		})
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	updated, err := s.txRepo.UpdateWithStatusPrecondition(ctx, tx.ID, model.TxPending, bson.M{
		"status":            model.TxCompleted,
		"service_charge":    serviceCharge,
		"hospital_amount":   hospitalAmount,
		"gateway_reference": result.Reference,
		"completed_at":      now,
	})
	if err != nil {
		if errors.Is(err, paymentserrors.ErrStaleTransaction) {
			return nil, apperrors.StaleState("Transaction was settled by a concurrent capture")
		}
		return nil, apperrors.Internal("Failed to complete transaction", err)
	}

	if err := s.bookings.SetPaymentStatus(ctx, tx.BookingID, model.PaymentPaid, tx.Amount); err != nil {
		s.cfg.Log.Warn("Failed to flag booking as paid",
			"booking_id", tx.BookingID,
			"transaction_id", tx.ID,
			"error", err,
		)
	}

	s.cfg.Log.Info("Payment captured",
		"transaction_id", tx.ID,
		"booking_id", tx.BookingID,
		"amount", tx.Amount,
		"service_charge", serviceCharge,
	)

	// Distribution failures are retryable through the distribute
	// endpoint; the capture itself stands.
	if _, err := s.distributor.Distribute(ctx, updated.ID); err != nil && !apperrors.HasCode(err, apperrors.CodeAlreadyDistributed) {
		s.cfg.Log.Error("Revenue distribution failed after capture",
			"transaction_id", updated.ID,
			"error", err,
		)
	}

	s.publisher.PublishPaymentEvent(ctx, notifications.EventPaymentCompleted, notifications.NewPaymentEvent(updated, ""))

	return updated, nil
}

func (s *paymentService) captureFailure(ctx context.Context, tx *model.Transaction, result *model.GatewayResult) (*model.Transaction, error) {
	reason := result.Message
	if reason == "" {
		reason = result.Code
	}

	updated, err := s.txRepo.UpdateWithStatusPrecondition(ctx, tx.ID, model.TxPending, bson.M{
		"status":         model.TxFailed,
		"failure_reason": reason,
	})
	if err != nil {
		if errors.Is(err, paymentserrors.ErrStaleTransaction) {
			return nil, apperrors.StaleState("Transaction was settled by a concurrent capture")
		}
		return nil, apperrors.Internal("Failed to mark transaction failed", err)
	}

	if err := s.bookings.SetPaymentStatus(ctx, tx.BookingID, model.PaymentUnpaid, 0); err != nil {
		s.cfg.Log.Warn("Failed to reset booking payment status",
			"booking_id", tx.BookingID,
			"transaction_id", tx.ID,
			"error", err,
		)
	}

	s.cfg.Log.Info("Payment declined by gateway",
		"transaction_id", tx.ID,
		"booking_id", tx.BookingID,
		"code", result.Code,
		"reason", reason,
	)

	s.publisher.PublishPaymentEvent(ctx, notifications.EventPaymentFailed, notifications.NewPaymentEvent(updated, reason))

	return updated, nil
}

// Refund reverses a completed transaction, fully or partially. The
// distribution is reversed by the original ratio before the status flips.
func (s *paymentService) Refund(ctx context.Context, transactionID string, refundAmount float64, reason string) (*model.Transaction, error) {
	tx, err := s.txRepo.FindByID(ctx, transactionID)
	if err != nil {
		return nil, mapTransactionError(err, transactionID)
	}
	if tx.Status != model.TxCompleted {
		return nil, apperrors.Conflict("Only completed transactions can be refunded, status is " + tx.Status)
	}

	if refundAmount == 0 {
		refundAmount = tx.Amount
	}
	if refundAmount <= 0 || refundAmount > tx.Amount {
		return nil, apperrors.InvalidInput("Refund amount must be positive and at most the original amount")
	}

	hospitalRefund, serviceRefund := money.RefundSplit(refundAmount, tx.Amount, tx.ServiceCharge)
	if !money.SumsTo(hospitalRefund, serviceRefund, refundAmount) {
		return nil, apperrors.IntegrityViolation("Refund split does not sum to the refund amount", map[string]any{
			"transaction_id":  tx.ID,
			"refund_amount":   refundAmount,
			"hospital_refund": hospitalRefund,
			"service_refund":  serviceRefund,
		})
	}

	if _, err := s.gateway.Refund(ctx, client.RefundRequest{
		TransactionID:    tx.ID,
		GatewayReference: tx.GatewayReference,
		Amount:           refundAmount,
	}); err != nil {
		return nil, apperrors.Unavailable("payment gateway")
	}

	if err := s.distributor.Reverse(ctx, tx, hospitalRefund, serviceRefund, reason); err != nil && !apperrors.HasCode(err, apperrors.CodeAlreadyDistributed) {
		return nil, err
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	updated, err := s.txRepo.UpdateWithStatusPrecondition(ctx, tx.ID, model.TxCompleted, bson.M{
		"status":        model.TxRefunded,
		"refund_amount": money.Round2(refundAmount),
		"refund_reason": reason,
		"refunded_at":   now,
	})
	if err != nil {
		if errors.Is(err, paymentserrors.ErrStaleTransaction) {
			return nil, apperrors.StaleState("Transaction was refunded by a concurrent request")
		}
		return nil, apperrors.Internal("Failed to mark transaction refunded", err)
	}

	if err := s.bookings.SetPaymentStatus(ctx, tx.BookingID, model.PaymentRefunded, updated.RefundAmount); err != nil {
		s.cfg.Log.Warn("Failed to flag booking as refunded",
			"booking_id", tx.BookingID,
			"transaction_id", tx.ID,
			"error", err,
		)
	}

	s.cfg.Log.Info("Payment refunded",
		"transaction_id", tx.ID,
		"refund_amount", refundAmount,
		"reason", reason,
	)

	s.publisher.PublishPaymentEvent(ctx, notifications.EventPaymentRefunded, notifications.NewPaymentEvent(updated, reason))

	return updated, nil
}

func (s *paymentService) GetByID(ctx context.Context, id string) (*model.Transaction, error) {
	tx, err := s.txRepo.FindByID(ctx, id)
	if err != nil {
		return nil, mapTransactionError(err, id)
	}
	return tx, nil
}

func (s *paymentService) GetAll(ctx context.Context, filter repository.TransactionFilter, limit int, offset int64) ([]*model.Transaction, int64, error) {
	txs, err := s.txRepo.FindAll(ctx, filter, limit, offset)
	if err != nil {
		return nil, 0, apperrors.Internal("Failed to retrieve transactions", err)
	}

	total, err := s.txRepo.Count(ctx, filter)
	if err != nil {
		return nil, 0, apperrors.Internal("Failed to count transactions", err)
	}

	return txs, total, nil
}

func isValidMethod(method string) bool {
	switch method {
	case model.MethodCard, model.MethodUPI, model.MethodNetbanking, model.MethodInsurance:
		return true
	}
	return false
}
