package scheduling

import (
	"context"
	"errors"
)

var (
	ErrServiceNotFound     = errors.New("service not found")
	ErrReservationNotFound = errors.New("reservation not found")
)

// Validation errors: caller-correctable.
var (
	ErrServiceInactive        = errors.New("service is not active")
	ErrPastDate               = errors.New("slot is in the past")
	ErrClosedDay              = errors.New("clinic is closed on this date")
	ErrInvalidSlotGranularity = errors.New("start time is not a valid slot boundary")
	ErrInvalidDuration        = errors.New("duration is out of bounds")
	ErrInvalidPatient         = errors.New("patient name and phone are required")
)

// Admission contention errors: expected under load, caller re-queries and retries.
var (
	ErrSlotOverlap      = errors.New("slot overlaps an existing reservation")
	ErrCapacityExceeded = errors.New("daily capacity exceeded")
	ErrAdmissionBusy    = errors.New("admission for this service and date is busy, please retry")
)

// State errors: business-rule violations.
var (
	ErrTerminalState        = errors.New("reservation is in a terminal state")
	ErrImmutableField       = errors.New("field cannot be changed in the current state")
	ErrInvalidTransition    = errors.New("invalid status transition")
	ErrCancelReasonRequired = errors.New("cancel reason is required")
	ErrForbidden            = errors.New("operation requires manage capability")
)

type Category string

const (
	CategoryValidation Category = "validation"
	CategoryContention Category = "contention"
	CategoryState      Category = "state"
	CategoryNotFound   Category = "not_found"
	CategoryForbidden  Category = "forbidden"
	CategoryFault      Category = "fault"
)

type reason struct {
	err      error
	code     string
	category Category
}

var reasons = []reason{
	{ErrServiceNotFound, "SERVICE_NOT_FOUND", CategoryNotFound},
	{ErrReservationNotFound, "RESERVATION_NOT_FOUND", CategoryNotFound},
	{ErrServiceInactive, "SERVICE_INACTIVE", CategoryValidation},
	{ErrPastDate, "PAST_DATE", CategoryValidation},
	{ErrClosedDay, "CLOSED_DAY", CategoryValidation},
	{ErrInvalidSlotGranularity, "INVALID_SLOT_GRANULARITY", CategoryValidation},
	{ErrInvalidDuration, "INVALID_DURATION", CategoryValidation},
	{ErrInvalidPatient, "INVALID_PATIENT", CategoryValidation},
	{ErrSlotOverlap, "SLOT_OVERLAP", CategoryContention},
	{ErrCapacityExceeded, "CAPACITY_EXCEEDED", CategoryContention},
	{ErrAdmissionBusy, "ADMISSION_BUSY", CategoryContention},
	{ErrTerminalState, "TERMINAL_STATE", CategoryState},
	{ErrImmutableField, "IMMUTABLE_FIELD", CategoryState},
	{ErrInvalidTransition, "INVALID_TRANSITION", CategoryState},
	{ErrCancelReasonRequired, "CANCEL_REASON_REQUIRED", CategoryValidation},
	{ErrForbidden, "FORBIDDEN", CategoryForbidden},
}

// ReasonCode returns the machine-readable code for err, or "INTERNAL" for
// anything outside the domain taxonomy.
func ReasonCode(err error) string {
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.code
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "TIMEOUT"
	}
	return "INTERNAL"
}

func CategoryOf(err error) Category {
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.category
		}
	}
	return CategoryFault
}

// isDomainError reports whether err is a business outcome rather than a
// store or transport fault.
func isDomainError(err error) bool {
	return CategoryOf(err) != CategoryFault
}
