package model

import (
	"time"
)

// Booking lifecycle statuses. Declined, cancelled and completed are
// terminal: no further transition is permitted out of them.
const (
	StatusPending   = "pending"
	StatusApproved  = "approved"
	StatusDeclined  = "declined"
	StatusCancelled = "cancelled"
	StatusCompleted = "completed"
)

const (
	UrgencyLow      = "low"
	UrgencyMedium   = "medium"
	UrgencyHigh     = "high"
	UrgencyCritical = "critical"
)

// Payment state carried on the booking itself; the authoritative payment
// record is the Transaction.
const (
	PaymentUnpaid   = "unpaid"
	PaymentPending  = "pending"
	PaymentPaid     = "paid"
	PaymentRefunded = "refunded"
)

const (
	GenderMale   = "male"
	GenderFemale = "female"
	GenderOther  = "other"
)

// transitions is the booking state machine. A status missing from the map
// is terminal.
var transitions = map[string][]string{
	StatusPending:  {StatusApproved, StatusDeclined, StatusCancelled},
	StatusApproved: {StatusCompleted, StatusCancelled},
}

// CanTransition reports whether the state machine permits moving a booking
// from one status to another.
func CanTransition(from, to string) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminalStatus reports whether no transition out of the status exists.
func IsTerminalStatus(status string) bool {
	return len(transitions[status]) == 0
}

type Booking struct {
	ID                     string     `json:"id,omitempty" bson:"_id,omitempty" validate:"omitempty,mongodb"`
	HospitalID             string     `json:"hospital_id" bson:"hospital_id" validate:"required"`
	UserID                 string     `json:"user_id" bson:"user_id" validate:"required"`
	ResourceType           string     `json:"resource_type" bson:"resource_type" validate:"required,oneof=beds icu operationTheatres"`
	Status                 string     `json:"status" bson:"status" validate:"required,oneof=pending approved declined cancelled completed"`
	Urgency                string     `json:"urgency" bson:"urgency" validate:"required,oneof=low medium high critical"`
	PatientName            string     `json:"patient_name" bson:"patient_name" validate:"required,min=2,max=100"`
	PatientGender          string     `json:"patient_gender" bson:"patient_gender" validate:"required,oneof=male female other"`
	ScheduledDate          time.Time  `json:"scheduled_date" bson:"scheduled_date" validate:"required"`
	EstimatedDurationHours int        `json:"estimated_duration_hours" bson:"estimated_duration_hours" validate:"required,min=1,max=168"`
	PaymentAmount          float64    `json:"payment_amount" bson:"payment_amount" validate:"min=0"`
	PaymentStatus          string     `json:"payment_status" bson:"payment_status" validate:"required,oneof=unpaid pending paid refunded"`
	ResourcesAllocated     int        `json:"resources_allocated" bson:"resources_allocated" validate:"min=1,max=50"`
	ResourcesHeld          bool       `json:"resources_held,omitempty" bson:"resources_held,omitempty"`
	Notes                  string     `json:"notes,omitempty" bson:"notes,omitempty" validate:"omitempty,max=1000"`
	ApprovedBy             string     `json:"approved_by,omitempty" bson:"approved_by,omitempty"`
	ApprovedAt             *time.Time `json:"approved_at,omitempty" bson:"approved_at,omitempty"`
	ExpiresAt              *time.Time `json:"expires_at,omitempty" bson:"expires_at,omitempty"`
	CreatedAt              time.Time  `json:"created_at" bson:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at" bson:"updated_at"`
}

// IsTerminal reports whether the booking has reached a terminal status.
func (b *Booking) IsTerminal() bool {
	return IsTerminalStatus(b.Status)
}

// BookingStatusHistory is the append-only transition audit trail. The last
// entry's NewStatus must always equal the booking's current status.
type BookingStatusHistory struct {
	ID        string    `json:"id,omitempty" bson:"_id,omitempty"`
	BookingID string    `json:"booking_id" bson:"booking_id"`
	OldStatus string    `json:"old_status,omitempty" bson:"old_status,omitempty"`
	NewStatus string    `json:"new_status" bson:"new_status"`
	ChangedBy string    `json:"changed_by" bson:"changed_by"`
	Reason    string    `json:"reason,omitempty" bson:"reason,omitempty"`
	Notes     string    `json:"notes,omitempty" bson:"notes,omitempty"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
}
