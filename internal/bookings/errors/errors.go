package errors

import "errors"

var (
	ErrNotFound = errors.New("booking not found")

	ErrInvalidID = errors.New("invalid booking ID format")

	// ErrStalePrecondition means the status-guarded update matched nothing:
	// the booking moved to another status between read and write.
	ErrStalePrecondition = errors.New("booking status precondition failed")
)
