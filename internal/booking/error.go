package booking

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrIdempotencyKey          = errors.New("idempotency key not found")
	ErrNextID                  = errors.New("get next id from generator")
	ErrLogic                   = errors.New("logic error")
	ErrRecordNotFound          = errors.New("record not found")
	ErrHoldNotFound            = errors.New("hold not found")
	ErrBookingNotFound         = errors.New("booking not found")
	ErrBackendUnavailable      = errors.New("backend unavailable")
	ErrCarnivalMinNightsNotMet = errors.New("carnival minimum stay not met")
)

// ValidationError reports bad input. Never retried.
type ValidationError struct {
	fields map[string][]string
	cause  error
}

func NewValidationError() *ValidationError {
	return &ValidationError{
		fields: make(map[string][]string),
		cause:  nil,
	}
}

func IsValidationError(err error) *ValidationError {
	if err == nil {
		return nil
	}

	var validationError *ValidationError

	if errors.As(err, &validationError) {
		return validationError
	}

	return nil
}

func (ve *ValidationError) Len() int {
	return len(ve.fields)
}

func (ve *ValidationError) Add(field, msg string) {
	ve.fields[field] = append(ve.fields[field], msg)
}

// Wrap attaches a sentinel so callers can match the reason with errors.Is.
func (ve *ValidationError) Wrap(cause error) {
	ve.cause = cause
}

func (ve *ValidationError) Unwrap() error {
	return ve.cause
}

// OrNil returns nil when nothing was added.
func (ve *ValidationError) OrNil() error {
	if ve.Len() == 0 {
		return nil
	}

	return ve
}

func (ve *ValidationError) Error() string {
	return fmt.Sprintf("validation: %+v", ve.fields)
}

func (ve *ValidationError) Fields() map[string][]string {
	return ve.fields
}

// NoAvailabilityError means the catalog cannot hold the group for the dates.
type NoAvailabilityError struct {
	conflict    string
	suggestions []string
}

func NewNoAvailabilityError(conflict string, suggestions []string) *NoAvailabilityError {
	return &NoAvailabilityError{
		conflict:    conflict,
		suggestions: suggestions,
	}
}

func IsNoAvailabilityError(err error) *NoAvailabilityError {
	if err == nil {
		return nil
	}

	var availabilityError *NoAvailabilityError

	if errors.As(err, &availabilityError) {
		return availabilityError
	}

	return nil
}

func (e *NoAvailabilityError) Error() string {
	if len(e.suggestions) == 0 {
		return e.conflict
	}

	return fmt.Sprintf("%s (suggestions: %s)", e.conflict, strings.Join(e.suggestions, "; "))
}

func (e *NoAvailabilityError) Conflict() string {
	return e.conflict
}

func (e *NoAvailabilityError) Suggestions() []string {
	return e.suggestions
}

// ConflictError is returned when a claim loses a race. The only error callers should retry,
// and only by re-running the pipeline from availability onward.
type ConflictError struct {
	RoomID    string
	Requested int
	Available int
}

func IsConflictError(err error) *ConflictError {
	if err == nil {
		return nil
	}

	var conflictError *ConflictError

	if errors.As(err, &conflictError) {
		return conflictError
	}

	return nil
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf(
		"allocation conflict: room '%v' has %d free beds, %d requested",
		e.RoomID,
		e.Available,
		e.Requested,
	)
}
