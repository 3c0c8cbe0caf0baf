package errors

import "errors"

var (
	ErrPoolNotFound = errors.New("resource pool not found")

	ErrInvalidID = errors.New("invalid resource pool ID format")

	// ErrNoCountersMoved means the conditional update matched nothing:
	// either the pool is missing or the source counter was too small.
	ErrNoCountersMoved = errors.New("no counters moved")

	ErrVersionMismatch = errors.New("pool version mismatch")
)
