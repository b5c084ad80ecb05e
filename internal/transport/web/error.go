package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/avstrong/hostel/internal/booking"
)

var ErrPanic = errors.New("panic in handler")

type errorBody struct {
	Error       string              `json:"error"`
	Fields      map[string][]string `json:"fields,omitempty"`
	Conflict    string              `json:"conflict,omitempty"`
	Suggestions []string            `json:"suggestions,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.l.LogErrorf("Could not encode response: %v", err.Error())
	}
}

func requestFields(errs validator.ValidationErrors) map[string][]string {
	fields := make(map[string][]string, len(errs))

	for _, fe := range errs {
		fields[fe.Field()] = append(fields[fe.Field()], "failed on "+fe.Tag())
	}

	return fields
}

//nolint:cyclop
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var fieldErrs validator.ValidationErrors

	if errors.As(err, &fieldErrs) {
		s.writeJSON(w, http.StatusBadRequest, errorBody{
			Error:  "invalid request",
			Fields: requestFields(fieldErrs),
		}) //nolint:exhaustruct

		return
	}

	if validationErr := booking.IsValidationError(err); validationErr != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{
			Error:  "invalid request",
			Fields: validationErr.Fields(),
		}) //nolint:exhaustruct

		return
	}

	if availabilityErr := booking.IsNoAvailabilityError(err); availabilityErr != nil {
		s.writeJSON(w, http.StatusPreconditionFailed, errorBody{
			Error:       "no availability",
			Conflict:    availabilityErr.Conflict(),
			Suggestions: availabilityErr.Suggestions(),
		}) //nolint:exhaustruct

		return
	}

	if conflictErr := booking.IsConflictError(err); conflictErr != nil {
		s.writeJSON(w, http.StatusConflict, errorBody{Error: conflictErr.Error()}) //nolint:exhaustruct

		return
	}

	switch {
	case errors.Is(err, booking.ErrHoldNotFound), errors.Is(err, booking.ErrBookingNotFound):
		s.writeJSON(w, http.StatusNotFound, errorBody{Error: http.StatusText(http.StatusNotFound)}) //nolint:exhaustruct
	case errors.Is(err, booking.ErrBackendUnavailable):
		s.l.LogErrorf("Backend unavailable: %v", err.Error())
		s.writeJSON(w, http.StatusServiceUnavailable, errorBody{ //nolint:exhaustruct
			Error: http.StatusText(http.StatusServiceUnavailable),
		})
	default:
		s.l.LogErrorf("Request failed: %v", err.Error())
		s.writeJSON(w, http.StatusInternalServerError, errorBody{ //nolint:exhaustruct
			Error: http.StatusText(http.StatusInternalServerError),
		})
	}
}
