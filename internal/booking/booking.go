package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/avstrong/hostel/internal/clock"
	"github.com/avstrong/hostel/internal/logger"
)

const (
	DefaultMaxAttempts = 3
	defaultOutcome     = "paid"

	bookingPrefix      = "booking:"
	confirmationPrefix = "confirmation:"
	confirmingPrefix   = "confirming:"
	idempotencyPrefix  = "idem:"
)

var validate = newValidator()

// newValidator reports fields by their JSON names, e.g. guest.email.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}

		return name
	})

	return v
}

type availabilityChecker interface {
	CheckAvailability(ctx context.Context, q AvailabilityQuery) (*AvailabilityResult, error)
}

type allocator interface {
	Allocate(rooms []RoomOccupancy, requested int, prefs AllocationPreferences) (*AllocationResult, error)
}

type pricer interface {
	Price(dr DateRange, beds int, basePricePerBed int64) (*PricingResult, error)
	CheckMinimumStay(dr DateRange) error
}

type holder interface {
	CreateHold(ctx context.Context, allocations []RoomAllocation, dr DateRange, ttl time.Duration) (*HoldSet, error)
	GetHoldSet(ctx context.Context, setID string) (*HoldSet, error)
	ConfirmHoldSet(ctx context.Context, setID, outcome string) (bool, error)
	ReleaseHoldSet(ctx context.Context, setID string) (bool, error)
}

type reservationStore interface {
	RecordReservation(ctx context.Context, in *NewReservation) (string, error)
	UpdateStatus(ctx context.Context, id string, status ReservationStatus) error
}

type kv interface {
	SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

type Config struct {
	L               *logger.Logger
	Availability    availabilityChecker
	Allocator       allocator
	Pricing         pricer
	Holds           holder
	Reservations    reservationStore
	KV              kv
	Clock           clock.Clock
	HoldTTL         time.Duration
	BasePricePerBed int64
	// MaxAttempts caps how often Reserve re-runs the pipeline after losing a claim race.
	MaxAttempts int
	// Retention keeps bookings and confirmations readable after their holds end.
	Retention time.Duration
}

// Manager runs availability, allocation, pricing and the hold claim as one pipeline.
type Manager struct {
	l               *logger.Logger
	availability    availabilityChecker
	allocator       allocator
	pricing         pricer
	holds           holder
	reservations    reservationStore
	kv              kv
	clock           clock.Clock
	holdTTL         time.Duration
	basePricePerBed int64
	maxAttempts     int
	retention       time.Duration
}

func New(conf Config) *Manager {
	if conf.MaxAttempts < 1 {
		conf.MaxAttempts = DefaultMaxAttempts
	}

	return &Manager{
		l:               conf.L,
		availability:    conf.Availability,
		allocator:       conf.Allocator,
		pricing:         conf.Pricing,
		holds:           conf.Holds,
		reservations:    conf.Reservations,
		kv:              conf.KV,
		clock:           conf.Clock,
		holdTTL:         conf.HoldTTL,
		basePricePerBed: conf.BasePricePerBed,
		maxAttempts:     conf.MaxAttempts,
		retention:       conf.Retention,
	}
}

// Quote answers what a stay would look like right now without claiming anything.
func (m *Manager) Quote(ctx context.Context, in QuoteInput) (*Quote, error) {
	result, err := m.availability.CheckAvailability(ctx, AvailabilityQuery{
		DateRange:            in.DateRange,
		RequestedBeds:        in.Beds,
		ExcludeReservationID: in.ExcludeReservationID,
	})
	if err != nil {
		return nil, fmt.Errorf("check availability: %w", err)
	}

	if err := m.pricing.CheckMinimumStay(in.DateRange); err != nil {
		return nil, err //nolint:wrapcheck
	}

	if !result.IsAvailable {
		return nil, NewNoAvailabilityError(result.Conflict, result.Suggestions)
	}

	allocation, err := m.allocator.Allocate(result.Rooms, in.Beds, in.Preferences)
	if err != nil {
		return nil, fmt.Errorf("allocate %d beds: %w", in.Beds, err)
	}

	pricing, err := m.pricing.Price(in.DateRange, in.Beds, m.basePricePerBed)
	if err != nil {
		return nil, fmt.Errorf("price stay: %w", err)
	}

	return &Quote{
		DateRange:    in.DateRange,
		Beds:         in.Beds,
		Availability: result,
		Allocation:   allocation,
		Pricing:      pricing,
	}, nil
}

// Reserve quotes and claims the best plan. A lost claim race re-runs the whole pipeline
// from availability onward. With an idempotency key in ctx a repeated call returns the
// booking created by the first one.
//
//nolint:cyclop
func (m *Manager) Reserve(ctx context.Context, in QuoteInput) (*Booking, error) {
	key, hasKey := IdempotencyKeyFromContext(ctx)
	if hasKey {
		b, err := m.bookingByIdempotencyKey(ctx, key)
		if err != nil && !errors.Is(err, ErrRecordNotFound) {
			return nil, fmt.Errorf("get booking by idempotency key: %w", err)
		}

		if err == nil {
			return b, nil
		}
	}

	var lastConflict error

	for attempt := 1; attempt <= m.maxAttempts; attempt++ {
		quote, err := m.Quote(ctx, in)
		if err != nil {
			return nil, err
		}

		set, err := m.holds.CreateHold(ctx, quote.Allocation.Best.Allocations, in.DateRange, m.holdTTL)
		if conflict := IsConflictError(err); conflict != nil {
			m.l.LogInfo("Reserve attempt %d/%d lost a claim race: %v", attempt, m.maxAttempts, conflict.Error())
			lastConflict = err

			continue
		}

		if err != nil {
			return nil, fmt.Errorf("create hold: %w", err)
		}

		b := &Booking{
			ID:        set.ID,
			Quote:     quote,
			Holds:     set,
			CreatedAt: m.clock.Now(),
		}

		if err := m.saveBooking(ctx, b); err != nil {
			m.releaseQuietly(ctx, set.ID)

			return nil, err
		}

		if !hasKey {
			return b, nil
		}

		return m.bindIdempotencyKey(ctx, key, b)
	}

	return nil, fmt.Errorf("reserve after %d attempts: %w", m.maxAttempts, lastConflict)
}

// bindIdempotencyKey stores key -> booking. When a concurrent request with the same key won,
// this booking's holds are released and the winner's booking is returned.
func (m *Manager) bindIdempotencyKey(ctx context.Context, key string, b *Booking) (*Booking, error) {
	ok, err := m.kv.SetIfAbsent(ctx, idempotencyPrefix+key, []byte(b.ID), m.recordTTL())
	if err != nil {
		m.releaseQuietly(ctx, b.ID)

		return nil, fmt.Errorf("%w: save idempotency key: %w", ErrBackendUnavailable, err)
	}

	if ok {
		return b, nil
	}

	m.releaseQuietly(ctx, b.ID)

	winner, err := m.bookingByIdempotencyKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("get booking by idempotency key: %w", err)
	}

	return winner, nil
}

func (m *Manager) GetBooking(ctx context.Context, id string) (*Booking, error) {
	raw, err := m.kv.Get(ctx, bookingPrefix+id)
	if errors.Is(err, ErrRecordNotFound) {
		return nil, fmt.Errorf("booking %v: %w", id, ErrBookingNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("%w: read booking %v: %w", ErrBackendUnavailable, id, err)
	}

	var b Booking
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("decode booking %v: %w", id, err)
	}

	set, err := m.holds.GetHoldSet(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get holds of booking %v: %w", id, err)
	}

	b.Holds = set

	return &b, nil
}

var guestMessages = map[string]string{
	"required": "is required",
	"email":    "must be a valid email",
}

func (in *ConfirmInput) validate() error {
	in.Guest.Name = strings.TrimSpace(in.Guest.Name)

	err := validate.Struct(in)

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err //nolint:wrapcheck
	}

	inputErr := NewValidationError()

	for _, fe := range fieldErrs {
		// Namespace is ConfirmInput.guest.email, the type name is dropped.
		_, field, _ := strings.Cut(fe.Namespace(), ".")

		msg, ok := guestMessages[fe.Tag()]
		if !ok {
			msg = "failed on " + fe.Tag()
		}

		inputErr.Add(field, msg)
	}

	return inputErr.OrNil()
}

// Confirm records the reservation for a paid booking and confirms its holds. Holds that
// expired or were released make it return Confirmed=false. Repeating a successful call
// returns the same confirmation. Concurrent calls for one booking are serialized by a
// claim in the KV; a call that loses the claim records nothing.
//
//nolint:cyclop
func (m *Manager) Confirm(ctx context.Context, bookingID string, in ConfirmInput) (*Confirmation, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	if in.Outcome == "" {
		in.Outcome = defaultOutcome
	}

	if c, err := m.confirmation(ctx, bookingID); err == nil || !errors.Is(err, ErrRecordNotFound) {
		return c, err
	}

	b, err := m.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	rejected := &Confirmation{BookingID: bookingID, ReservationID: "", Confirmed: false}

	claimed, err := m.kv.SetIfAbsent(ctx, confirmingPrefix+bookingID, []byte(in.Outcome), m.recordTTL())
	if err != nil {
		return nil, fmt.Errorf("%w: claim confirmation of booking %v: %w", ErrBackendUnavailable, bookingID, err)
	}

	if !claimed {
		if c, err := m.confirmation(ctx, bookingID); err == nil || !errors.Is(err, ErrRecordNotFound) {
			return c, err
		}

		m.l.LogInfo("Booking %v is being confirmed by another call", bookingID)

		return rejected, nil
	}

	c, err := m.confirmClaimed(ctx, b, in)
	if err != nil || !c.Confirmed {
		// Let a later call try again.
		if delErr := m.kv.Delete(context.WithoutCancel(ctx), confirmingPrefix+bookingID); delErr != nil {
			m.l.LogErrorf("Could not drop confirmation claim of booking %v: %v", bookingID, delErr.Error())
		}
	}

	return c, err
}

func (m *Manager) confirmClaimed(ctx context.Context, b *Booking, in ConfirmInput) (*Confirmation, error) {
	now := m.clock.Now()
	rejected := &Confirmation{BookingID: b.ID, ReservationID: "", Confirmed: false}

	for _, h := range b.Holds.Holds {
		if !h.Occupies(now) {
			m.l.LogInfo("Booking %v cannot be confirmed, hold %v is %v", b.ID, h.ID, h.Status)

			return rejected, nil
		}
	}

	reservationID, err := m.reservations.RecordReservation(ctx, &NewReservation{
		BookingID: b.ID,
		Plan:      b.Quote.Allocation.Best,
		Pricing:   b.Quote.Pricing,
		DateRange: b.Quote.DateRange,
		Guest:     in.Guest,
	})
	if err != nil {
		return nil, fmt.Errorf("record reservation for booking %v: %w", b.ID, err)
	}

	ok, err := m.holds.ConfirmHoldSet(ctx, b.ID, in.Outcome)
	if err != nil || !ok {
		if cancelErr := m.reservations.UpdateStatus(ctx, reservationID, ReservationCancelled); cancelErr != nil {
			m.l.LogErrorf("Could not cancel reservation %v of unconfirmed booking %v: %v",
				reservationID, b.ID, cancelErr.Error())
		}

		if err != nil {
			return nil, fmt.Errorf("confirm holds of booking %v: %w", b.ID, err)
		}

		return rejected, nil
	}

	c := &Confirmation{BookingID: b.ID, ReservationID: reservationID, Confirmed: true}

	if err := m.saveConfirmation(ctx, c); err != nil {
		m.l.LogErrorf("Could not save confirmation of booking %v: %v", b.ID, err.Error())
	}

	m.l.LogInfo("Booking %v confirmed as reservation %v", b.ID, reservationID)

	return c, nil
}

// Cancel releases the booking's holds. Unknown or already finished bookings return false.
func (m *Manager) Cancel(ctx context.Context, bookingID string) (bool, error) {
	ok, err := m.holds.ReleaseHoldSet(ctx, bookingID)
	if err != nil {
		return false, fmt.Errorf("release holds of booking %v: %w", bookingID, err)
	}

	return ok, nil
}

func (m *Manager) recordTTL() time.Duration {
	return m.holdTTL + m.retention
}

func (m *Manager) saveBooking(ctx context.Context, b *Booking) error {
	raw, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("encode booking %v: %w", b.ID, err)
	}

	ok, err := m.kv.SetIfAbsent(ctx, bookingPrefix+b.ID, raw, m.recordTTL())
	if err != nil {
		return fmt.Errorf("%w: save booking %v: %w", ErrBackendUnavailable, b.ID, err)
	}

	if !ok {
		return fmt.Errorf("booking %v already exists: %w", b.ID, ErrLogic)
	}

	return nil
}

func (m *Manager) bookingByIdempotencyKey(ctx context.Context, key string) (*Booking, error) {
	id, err := m.kv.Get(ctx, idempotencyPrefix+key)
	if err != nil {
		return nil, err //nolint:wrapcheck
	}

	return m.GetBooking(ctx, string(id))
}

func (m *Manager) saveConfirmation(ctx context.Context, c *Confirmation) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode confirmation: %w", err)
	}

	if _, err := m.kv.SetIfAbsent(ctx, confirmationPrefix+c.BookingID, raw, m.recordTTL()); err != nil {
		return fmt.Errorf("%w: save confirmation: %w", ErrBackendUnavailable, err)
	}

	return nil
}

func (m *Manager) confirmation(ctx context.Context, bookingID string) (*Confirmation, error) {
	raw, err := m.kv.Get(ctx, confirmationPrefix+bookingID)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil, err //nolint:wrapcheck
		}

		return nil, fmt.Errorf("%w: read confirmation: %w", ErrBackendUnavailable, err)
	}

	var c Confirmation
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("decode confirmation: %w", err)
	}

	return &c, nil
}

func (m *Manager) releaseQuietly(ctx context.Context, setID string) {
	if _, err := m.holds.ReleaseHoldSet(context.WithoutCancel(ctx), setID); err != nil {
		m.l.LogErrorf("Could not release hold set %v: %v", setID, err.Error())
	}
}
