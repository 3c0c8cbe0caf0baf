package model

import (
	"time"
)

// BalanceTransaction types. Every UserBalance mutation outside an audited
// correction is driven by exactly one of these.
const (
	BalanceTxPaymentReceived = "payment_received"
	BalanceTxServiceCharge   = "service_charge"
	BalanceTxRefundProcessed = "refund_processed"
	BalanceTxWithdrawal      = "withdrawal"
	BalanceTxAdjustment      = "adjustment"
)

// PlatformAccountID owns the single platform-wide balance that collects
// service charges.
const PlatformAccountID = "platform"

// UserBalance is one account: one per (hospital-authority user, hospital)
// and a single platform-wide account for the admin actor (HospitalID
// empty). Never written directly; mutated only via BalanceTransaction
// application or an audited correction.
type UserBalance struct {
	ID               string    `json:"id,omitempty" bson:"_id,omitempty"`
	UserID           string    `json:"user_id" bson:"user_id" validate:"required"`
	HospitalID       string    `json:"hospital_id,omitempty" bson:"hospital_id,omitempty"`
	CurrentBalance   float64   `json:"current_balance" bson:"current_balance"`
	TotalEarnings    float64   `json:"total_earnings" bson:"total_earnings"`
	TotalWithdrawals float64   `json:"total_withdrawals" bson:"total_withdrawals"`
	PendingAmount    float64   `json:"pending_amount" bson:"pending_amount"`
	Version          int64     `json:"version" bson:"version"`
	CreatedAt        time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt        time.Time `json:"updated_at" bson:"updated_at"`
}

// BalanceTransaction is the append-only balance ledger. Write-time
// invariant: BalanceAfter == BalanceBefore + Amount. The unique index on
// (reference_transaction_id, transaction_type, balance_id) makes
// distribution idempotent per side-effect.
type BalanceTransaction struct {
	ID                     string    `json:"id,omitempty" bson:"_id,omitempty"`
	BalanceID              string    `json:"balance_id" bson:"balance_id"`
	Amount                 float64   `json:"amount" bson:"amount"`
	TransactionType        string    `json:"transaction_type" bson:"transaction_type"`
	ReferenceTransactionID string    `json:"reference_transaction_id,omitempty" bson:"reference_transaction_id,omitempty"`
	BalanceBefore          float64   `json:"balance_before" bson:"balance_before"`
	BalanceAfter           float64   `json:"balance_after" bson:"balance_after"`
	Status                 string    `json:"status" bson:"status"`
	Notes                  string    `json:"notes,omitempty" bson:"notes,omitempty"`
	CreatedAt              time.Time `json:"created_at" bson:"created_at"`
}
