package notifications

import (
	"time"

	"medbook/pkg/model"
)

// Topics carrying platform events. One topic per aggregate keeps
// per-entity ordering via the partition key.
const (
	TopicBookingEvents        = "medbook.booking.events"
	TopicPaymentEvents        = "medbook.payment.events"
	TopicReconciliationEvents = "medbook.reconciliation.events"

	TopicBookingEventsDLQ = "medbook.booking.events.dlq"
	TopicPaymentEventsDLQ = "medbook.payment.events.dlq"
)

// Event types.
const (
	EventBookingCreated   = "booking.created"
	EventBookingApproved  = "booking.approved"
	EventBookingDeclined  = "booking.declined"
	EventBookingCancelled = "booking.cancelled"
	EventBookingCompleted = "booking.completed"
	EventBookingExpired   = "booking.expired"

	EventPaymentCompleted = "payment.completed"
	EventPaymentFailed    = "payment.failed"
	EventPaymentRefunded  = "payment.refunded"

	EventDistributionCompleted = "distribution.completed"
	EventDiscrepancyFound      = "reconciliation.discrepancy_found"
)

// BookingEvent is the notification payload for every booking lifecycle
// change.
type BookingEvent struct {
	BookingID    string    `json:"booking_id"`
	HospitalID   string    `json:"hospital_id"`
	UserID       string    `json:"user_id"`
	ResourceType string    `json:"resource_type"`
	Status       string    `json:"status"`
	Urgency      string    `json:"urgency"`
	Actor        string    `json:"actor,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

func NewBookingEvent(b *model.Booking, actor, reason string) BookingEvent {
	return BookingEvent{
		BookingID:    b.ID,
		HospitalID:   b.HospitalID,
		UserID:       b.UserID,
		ResourceType: b.ResourceType,
		Status:       b.Status,
		Urgency:      b.Urgency,
		Actor:        actor,
		Reason:       reason,
		OccurredAt:   time.Now().UTC(),
	}
}

// PaymentEvent is the notification payload for transaction outcomes and
// distributions.
type PaymentEvent struct {
	TransactionID string    `json:"transaction_id"`
	BookingID     string    `json:"booking_id"`
	UserID        string    `json:"user_id"`
	HospitalID    string    `json:"hospital_id"`
	Amount        float64   `json:"amount"`
	Status        string    `json:"status"`
	Reason        string    `json:"reason,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

func NewPaymentEvent(tx *model.Transaction, reason string) PaymentEvent {
	return PaymentEvent{
		TransactionID: tx.ID,
		BookingID:     tx.BookingID,
		UserID:        tx.UserID,
		HospitalID:    tx.HospitalID,
		Amount:        tx.Amount,
		Status:        tx.Status,
		Reason:        reason,
		OccurredAt:    time.Now().UTC(),
	}
}

// DiscrepancyEvent alerts operators about a reconciliation finding.
type DiscrepancyEvent struct {
	AlertID         string    `json:"alert_id"`
	BalanceID       string    `json:"balance_id"`
	ExpectedBalance float64   `json:"expected_balance"`
	ActualBalance   float64   `json:"actual_balance"`
	Difference      float64   `json:"difference"`
	Severity        string    `json:"severity"`
	OccurredAt      time.Time `json:"occurred_at"`
}
