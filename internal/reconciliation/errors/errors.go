package errors

import "errors"

var (
	ErrAlertNotFound = errors.New("discrepancy alert not found")

	ErrInvalidID = errors.New("invalid alert ID format")

	// ErrAlertNotOpen means the guarded resolve matched nothing: the alert
	// was already resolved.
	ErrAlertNotOpen = errors.New("alert is not open")
)
