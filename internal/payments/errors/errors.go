package errors

import "errors"

var (
	ErrTransactionNotFound = errors.New("transaction not found")

	ErrInvalidID = errors.New("invalid transaction ID format")

	// ErrStaleTransaction means the status-guarded update matched nothing:
	// the transaction is no longer in the required status.
	ErrStaleTransaction = errors.New("transaction status precondition failed")

	ErrBalanceNotFound = errors.New("balance account not found")

	// ErrStaleBalance means the version CAS on a balance row missed.
	ErrStaleBalance = errors.New("balance version mismatch")

	// ErrDuplicateLedgerEntry maps the unique index on
	// (reference_transaction_id, transaction_type, balance_id): this side
	// of the distribution was already applied.
	ErrDuplicateLedgerEntry = errors.New("ledger entry already exists for this reference")
)
