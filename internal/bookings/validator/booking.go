package validator

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"medbook/pkg/logger"
	"medbook/pkg/model"

	"github.com/go-playground/validator/v10"
)

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (v ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", v.Field, v.Message)
}

type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return ""
	}
	var messages []string
	for _, err := range v {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %d error(s): [%s]", len(v), strings.Join(messages, "; "))
}

type BookingValidator struct {
	validate    *validator.Validate
	logger      *logger.Logger
	maxQuantity int
}

func NewBookingValidator(log *logger.Logger, maxQuantity int) *BookingValidator {
	v := validator.New()

	log.Info("Booking validator initialized successfully")

	return &BookingValidator{
		validate:    v,
		logger:      log,
		maxQuantity: maxQuantity,
	}
}

func (v *BookingValidator) Validate(booking *model.Booking) error {
	if err := v.validate.Struct(booking); err != nil {
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) {
			return v.translateValidationErrors(validationErrs)
		}
		return err
	}

	if booking.ScheduledDate.Before(time.Now()) {
		return ValidationErrors{
			ValidationError{
				Field:   "ScheduledDate",
				Message: "scheduled_date cannot be in the past",
			},
		}
	}

	if booking.ResourcesAllocated > v.maxQuantity {
		return ValidationErrors{
			ValidationError{
				Field:   "ResourcesAllocated",
				Message: fmt.Sprintf("resources_allocated must be at most %d", v.maxQuantity),
			},
		}
	}

	return nil
}

// ValidateDeclineReason enforces the mandatory reason on declines.
func (v *BookingValidator) ValidateDeclineReason(reason string) error {
	trimmed := strings.TrimSpace(reason)
	if trimmed == "" {
		return ValidationErrors{
			ValidationError{
				Field:   "Reason",
				Message: "a reason is required when declining a booking",
			},
		}
	}
	if len(trimmed) > 500 {
		return ValidationErrors{
			ValidationError{
				Field:   "Reason",
				Message: "reason must be at most 500 characters",
			},
		}
	}
	return nil
}

func (v *BookingValidator) translateValidationErrors(errs validator.ValidationErrors) ValidationErrors {
	var validationErrors ValidationErrors

	for _, err := range errs {
		message := err.Error()

		switch err.Tag() {
		case "required":
			message = fmt.Sprintf("%s is required", err.Field())
		case "min":
			message = fmt.Sprintf("%s must be at least %s", err.Field(), err.Param())
		case "max":
			message = fmt.Sprintf("%s must be at most %s", err.Field(), err.Param())
		case "mongodb":
			message = fmt.Sprintf("%s must be a valid MongoDB ObjectID", err.Field())
		case "oneof":
			message = fmt.Sprintf("%s must be one of: %s", err.Field(), err.Param())
		case "gt":
			message = fmt.Sprintf("%s must be greater than %s", err.Field(), err.Param())
		}

		validationErrors = append(validationErrors, ValidationError{
			Field:   err.Field(),
			Message: message,
		})
	}

	return validationErrors
}
