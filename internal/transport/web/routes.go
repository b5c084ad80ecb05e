package web

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/avstrong/hostel/internal/booking"
	"github.com/avstrong/hostel/internal/pricing"
)

type stayRequest struct {
	CheckIn  string `json:"check_in"  validate:"required,datetime=2006-01-02"`
	CheckOut string `json:"check_out" validate:"required,datetime=2006-01-02"`
	Beds     int    `json:"beds"      validate:"required,min=1"`
}

func (r stayRequest) dateRange() booking.DateRange {
	// Formats were checked by the validator.
	dr, _ := booking.ParseDateRange(r.CheckIn, r.CheckOut)

	return dr
}

type availabilityRequest struct {
	stayRequest
	ExcludeReservationID string `json:"exclude_reservation_id"`
}

type preferencesRequest struct {
	PreferSingleRoom   bool   `json:"prefer_single_room"`
	RoomTypePreference string `json:"room_type_preference" validate:"omitempty,oneof=mixed female"`
	AllowSplit         *bool  `json:"allow_split"`
	MaxRoomsInSplit    int    `json:"max_rooms_in_split"   validate:"gte=0,lte=4"`
}

func (p preferencesRequest) toDomain() booking.AllocationPreferences {
	return booking.AllocationPreferences{
		PreferSingleRoom:   p.PreferSingleRoom,
		RoomTypePreference: booking.RoomType(p.RoomTypePreference),
		AllowSplit:         p.AllowSplit,
		MaxRoomsInSplit:    p.MaxRoomsInSplit,
	}
}

type allocationRequest struct {
	stayRequest
	Preferences preferencesRequest `json:"preferences"`
}

type reservationRequest struct {
	stayRequest
	Preferences          preferencesRequest `json:"preferences"`
	ExcludeReservationID string             `json:"exclude_reservation_id"`
}

type priceRequest struct {
	stayRequest
	BasePricePerBed *int64 `json:"base_price_per_bed" validate:"omitempty,gte=0"`
}

type priceResponse struct {
	*booking.PricingResult
	FormattedTotal string `json:"formatted_total"`
	MinimumStayMet bool   `json:"minimum_stay_met"`
}

type guestRequest struct {
	Name  string `json:"name"  validate:"required"`
	Email string `json:"email" validate:"required,email"`
	Phone string `json:"phone"`
}

type confirmReservationRequest struct {
	Outcome string       `json:"outcome"`
	Guest   guestRequest `json:"guest"`
}

type confirmHoldRequest struct {
	Outcome string `json:"outcome" validate:"required"`
}

func (s *Server) decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		inputErr := booking.NewValidationError()
		inputErr.Add("body", "malformed JSON")

		return inputErr
	}

	if err := s.validate.Struct(dst); err != nil {
		return fmt.Errorf("validate request: %w", err)
	}

	return nil
}

func (s *Server) availabilityHandler(w http.ResponseWriter, r *http.Request) {
	var req availabilityRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)

		return
	}

	result, err := s.availability.CheckAvailability(r.Context(), booking.AvailabilityQuery{
		DateRange:            req.dateRange(),
		RequestedBeds:        req.Beds,
		ExcludeReservationID: req.ExcludeReservationID,
	})
	if err != nil {
		s.writeError(w, err)

		return
	}

	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) allocationHandler(w http.ResponseWriter, r *http.Request) {
	var req allocationRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)

		return
	}

	quote, err := s.bookings.Quote(r.Context(), booking.QuoteInput{
		DateRange:            req.dateRange(),
		Beds:                 req.Beds,
		Preferences:          req.Preferences.toDomain(),
		ExcludeReservationID: "",
	})
	if err != nil {
		s.writeError(w, err)

		return
	}

	s.writeJSON(w, http.StatusOK, quote.Allocation)
}

func (s *Server) priceHandler(w http.ResponseWriter, r *http.Request) {
	var req priceRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)

		return
	}

	base := s.conf.BasePricePerBed
	if req.BasePricePerBed != nil {
		base = *req.BasePricePerBed
	}

	dr := req.dateRange()

	result, err := s.pricing.Price(dr, req.Beds, base)
	if err != nil {
		s.writeError(w, err)

		return
	}

	s.writeJSON(w, http.StatusOK, priceResponse{
		PricingResult:  result,
		FormattedTotal: pricing.FormatBRL(result.TotalPrice),
		MinimumStayMet: s.pricing.CheckMinimumStay(dr) == nil,
	})
}

func (s *Server) createReservationHandler(w http.ResponseWriter, r *http.Request) {
	idempotencyKey := r.Header.Get("Idempotency-Key")
	if idempotencyKey == "" {
		http.Error(w, "Idempotency-Key header is missing", http.StatusBadRequest)

		return
	}

	var req reservationRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)

		return
	}

	ctx := booking.NewContextWithIdempotencyKey(r.Context(), idempotencyKey)

	out, err := s.bookings.Reserve(ctx, booking.QuoteInput{
		DateRange:            req.dateRange(),
		Beds:                 req.Beds,
		Preferences:          req.Preferences.toDomain(),
		ExcludeReservationID: req.ExcludeReservationID,
	})
	if err != nil {
		s.writeError(w, err)

		return
	}

	s.writeJSON(w, http.StatusCreated, out)
}

func (s *Server) getReservationHandler(w http.ResponseWriter, r *http.Request) {
	out, err := s.bookings.GetBooking(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)

		return
	}

	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) confirmReservationHandler(w http.ResponseWriter, r *http.Request) {
	var req confirmReservationRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)

		return
	}

	out, err := s.bookings.Confirm(r.Context(), r.PathValue("id"), booking.ConfirmInput{
		Outcome: req.Outcome,
		Guest: booking.GuestRef{
			Name:  req.Guest.Name,
			Email: req.Guest.Email,
			Phone: req.Guest.Phone,
		},
	})
	if err != nil {
		s.writeError(w, err)

		return
	}

	status := http.StatusOK
	if !out.Confirmed {
		status = http.StatusConflict
	}

	s.writeJSON(w, status, out)
}

func (s *Server) cancelReservationHandler(w http.ResponseWriter, r *http.Request) {
	ok, err := s.bookings.Cancel(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)

		return
	}

	s.writeJSON(w, http.StatusOK, map[string]bool{"released": ok})
}

func (s *Server) getHoldHandler(w http.ResponseWriter, r *http.Request) {
	out, err := s.holds.GetHold(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)

		return
	}

	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) confirmHoldHandler(w http.ResponseWriter, r *http.Request) {
	var req confirmHoldRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)

		return
	}

	ok, err := s.holds.ConfirmHold(r.Context(), r.PathValue("id"), req.Outcome)
	if err != nil {
		s.writeError(w, err)

		return
	}

	s.writeJSON(w, http.StatusOK, map[string]bool{"confirmed": ok})
}

func (s *Server) releaseHoldHandler(w http.ResponseWriter, r *http.Request) {
	ok, err := s.holds.ReleaseHold(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)

		return
	}

	s.writeJSON(w, http.StatusOK, map[string]bool{"released": ok})
}

func (s *Server) sweepHandler(w http.ResponseWriter, r *http.Request) {
	n, err := s.holds.SweepExpired(r.Context())
	if err != nil {
		s.writeError(w, err)

		return
	}

	s.writeJSON(w, http.StatusOK, map[string]int{"expired": n})
}

func (s *Server) livenessHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) addRoutes(r *http.ServeMux) {
	routes := map[string]http.HandlerFunc{
		"POST /api/availability/v1":              s.availabilityHandler,
		"POST /api/allocations/v1":               s.allocationHandler,
		"POST /api/prices/v1":                    s.priceHandler,
		"POST /api/reservations/v1":              s.createReservationHandler,
		"GET /api/reservations/v1/{id}":          s.getReservationHandler,
		"POST /api/reservations/v1/{id}/confirm": s.confirmReservationHandler,
		"DELETE /api/reservations/v1/{id}":       s.cancelReservationHandler,
		"GET /api/holds/v1/{id}":                 s.getHoldHandler,
		"POST /api/holds/v1/{id}/confirm":        s.confirmHoldHandler,
		"DELETE /api/holds/v1/{id}":              s.releaseHoldHandler,
		"POST /api/holds/v1/sweep":               s.sweepHandler,
	}

	routes[fmt.Sprintf("GET %s", s.conf.LivenessEndpoint)] = s.livenessHandler

	for pattern, handler := range routes {
		r.Handle(
			pattern,
			s.applyMiddlewares(handler, s.loggerMiddleware(), s.traceMiddleware(), s.recoverMiddleware()),
		)
	}
}
