package errors

import "errors"

var (
	ErrHospitalNotFound = errors.New("hospital not found")

	ErrUserNotFound = errors.New("user not found")
)
