package model

import (
	"time"
)

const (
	ReconciliationClean       = "RECONCILED"
	ReconciliationDiscrepancy = "DISCREPANCY_FOUND"
)

const (
	SeverityMedium = "MEDIUM"
	SeverityHigh   = "HIGH"
)

const (
	AlertOpen     = "open"
	AlertResolved = "resolved"
)

// ReconciliationRecord snapshots one reconciliation pass over a calendar
// day of completed transactions.
type ReconciliationRecord struct {
	ID                  string    `json:"id,omitempty" bson:"_id,omitempty"`
	PeriodStart         time.Time `json:"period_start" bson:"period_start"`
	PeriodEnd           time.Time `json:"period_end" bson:"period_end"`
	Status              string    `json:"status" bson:"status"`
	TransactionsChecked int       `json:"transactions_checked" bson:"transactions_checked"`
	AccountsChecked     int       `json:"accounts_checked" bson:"accounts_checked"`
	AlertsRaised        int       `json:"alerts_raised" bson:"alerts_raised"`
	RunBy               string    `json:"run_by" bson:"run_by"`
	CreatedAt           time.Time `json:"created_at" bson:"created_at"`
}

// DiscrepancyAlert flags one account whose actual balance drifted from the
// ledger-derived expectation beyond tolerance. Alerts are resolved by an
// operator, never deleted.
type DiscrepancyAlert struct {
	ID               string     `json:"id,omitempty" bson:"_id,omitempty"`
	ReconciliationID string     `json:"reconciliation_id" bson:"reconciliation_id"`
	BalanceID        string     `json:"balance_id" bson:"balance_id"`
	ExpectedBalance  float64    `json:"expected_balance" bson:"expected_balance"`
	ActualBalance    float64    `json:"actual_balance" bson:"actual_balance"`
	Difference       float64    `json:"difference" bson:"difference"`
	Severity         string     `json:"severity" bson:"severity"`
	Status           string     `json:"status" bson:"status"`
	ResolvedBy       string     `json:"resolved_by,omitempty" bson:"resolved_by,omitempty"`
	ResolvedAt       *time.Time `json:"resolved_at,omitempty" bson:"resolved_at,omitempty"`
	ResolutionNotes  string     `json:"resolution_notes,omitempty" bson:"resolution_notes,omitempty"`
	CreatedAt        time.Time  `json:"created_at" bson:"created_at"`
}

// BalanceCorrection audits the one path allowed to bypass
// transaction-driven balance mutation.
type BalanceCorrection struct {
	ID               string    `json:"id,omitempty" bson:"_id,omitempty"`
	BalanceID        string    `json:"balance_id" bson:"balance_id"`
	PreviousBalance  float64   `json:"previous_balance" bson:"previous_balance"`
	CorrectedBalance float64   `json:"corrected_balance" bson:"corrected_balance"`
	Reason           string    `json:"reason" bson:"reason"`
	Operator         string    `json:"operator" bson:"operator"`
	CreatedAt        time.Time `json:"created_at" bson:"created_at"`
}
