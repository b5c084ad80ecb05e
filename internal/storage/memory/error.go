package memory

import "errors"

var (
	ErrEmptyPlan       = errors.New("allocation plan has no rooms")
	ErrUnknownStatus   = errors.New("unknown reservation status")
	ErrMissingDateSpan = errors.New("reservation date range is empty")
)
