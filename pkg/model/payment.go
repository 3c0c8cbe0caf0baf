package model

import (
	"time"
)

// Transaction statuses. A transaction is immutable once completed, except
// for the completed -> refunded transition.
const (
	TxPending   = "pending"
	TxCompleted = "completed"
	TxFailed    = "failed"
	TxRefunded  = "refunded"
)

const (
	MethodCard       = "card"
	MethodUPI        = "upi"
	MethodNetbanking = "netbanking"
	MethodInsurance  = "insurance"
)

// Transaction records one payment attempt for a booking. Invariant once
// completed: ServiceCharge + HospitalAmount == Amount within money.Tolerance.
type Transaction struct {
	ID               string     `json:"id,omitempty" bson:"_id,omitempty" validate:"omitempty,mongodb"`
	BookingID        string     `json:"booking_id" bson:"booking_id" validate:"required,mongodb"`
	UserID           string     `json:"user_id" bson:"user_id" validate:"required"`
	HospitalID       string     `json:"hospital_id" bson:"hospital_id" validate:"required"`
	Amount           float64    `json:"amount" bson:"amount" validate:"required,gt=0"`
	ServiceCharge    float64    `json:"service_charge" bson:"service_charge" validate:"min=0"`
	HospitalAmount   float64    `json:"hospital_amount" bson:"hospital_amount" validate:"min=0"`
	PaymentMethod    string     `json:"payment_method" bson:"payment_method" validate:"required,oneof=card upi netbanking insurance"`
	GatewayReference string     `json:"gateway_reference,omitempty" bson:"gateway_reference,omitempty"`
	Status           string     `json:"status" bson:"status" validate:"required,oneof=pending completed failed refunded"`
	FailureReason    string     `json:"failure_reason,omitempty" bson:"failure_reason,omitempty"`
	RefundAmount     float64    `json:"refund_amount,omitempty" bson:"refund_amount,omitempty"`
	RefundReason     string     `json:"refund_reason,omitempty" bson:"refund_reason,omitempty"`
	CreatedAt        time.Time  `json:"created_at" bson:"created_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty" bson:"completed_at,omitempty"`
	RefundedAt       *time.Time `json:"refunded_at,omitempty" bson:"refunded_at,omitempty"`
}

// GatewayResult is the opaque outcome of a gateway capture call. The core
// never retries gateway calls itself; retry is the caller's responsibility.
type GatewayResult struct {
	Success   bool   `json:"success"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Reference string `json:"reference"`
}
