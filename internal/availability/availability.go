package availability

import (
	"context"
	"fmt"
	"time"

	"github.com/avstrong/hostel/internal/booking"
	"github.com/avstrong/hostel/internal/clock"
	"github.com/avstrong/hostel/internal/logger"
)

type catalog interface {
	Rooms() []booking.Room
	TotalCapacity() int
}

type reservationFetcher interface {
	FetchConfirmedReservations(
		ctx context.Context,
		dr booking.DateRange,
		excludeID string,
	) ([]booking.ConfirmedReservation, error)
}

type holdLister interface {
	OverlappingHolds(ctx context.Context, dr booking.DateRange) ([]*booking.Hold, error)
}

type Config struct {
	L            *logger.Logger
	Catalog      catalog
	Reservations reservationFetcher
	Holds        holdLister
	Cache        *Cache
	Clock        clock.Clock
	Timeout      time.Duration
}

// Calculator answers "how many beds are free per room" for a date range. Occupancy is always
// recomputed from reservations plus live holds; only the raw counts are cached.
type Calculator struct {
	l            *logger.Logger
	catalog      catalog
	reservations reservationFetcher
	holds        holdLister
	cache        *Cache
	clock        clock.Clock
	timeout      time.Duration
}

func New(conf Config) *Calculator {
	return &Calculator{
		l:            conf.L,
		catalog:      conf.Catalog,
		reservations: conf.Reservations,
		holds:        conf.Holds,
		cache:        conf.Cache,
		clock:        conf.Clock,
		timeout:      conf.Timeout,
	}
}

func (c *Calculator) validate(q booking.AvailabilityQuery, now time.Time) error {
	inputErr := booking.NewValidationError()

	if q.DateRange.CheckIn.Before(booking.Date(now)) {
		inputErr.Add("check_in", "check_in must not be in the past")
	}

	if !q.DateRange.CheckIn.Before(q.DateRange.CheckOut) {
		inputErr.Add("check_out", "check_in must be before check_out")
	}

	if q.RequestedBeds < 1 || q.RequestedBeds > c.catalog.TotalCapacity() {
		inputErr.Add("beds", fmt.Sprintf("beds must be between 1 and %d", c.catalog.TotalCapacity()))
	}

	return inputErr.OrNil()
}

func (c *Calculator) CheckAvailability(ctx context.Context, q booking.AvailabilityQuery) (*booking.AvailabilityResult, error) {
	now := c.clock.Now()

	if err := c.validate(q, now); err != nil {
		return nil, err
	}

	occupied, err := c.occupancy(ctx, q.DateRange, q.ExcludeReservationID)
	if err != nil {
		return nil, err
	}

	rooms := Snapshot(c.catalog.Rooms(), occupied, q.DateRange.CheckIn, now)

	result := &booking.AvailabilityResult{
		DateRange:     q.DateRange,
		RequestedBeds: q.RequestedBeds,
		Rooms:         rooms,
		IsAvailable:   true,
	} //nolint:exhaustruct

	for _, room := range rooms {
		result.TotalAvailable += room.Available
	}

	if result.TotalAvailable < q.RequestedBeds {
		result.IsAvailable = false
		result.Conflict = fmt.Sprintf(
			"only %d beds available for %v, %d requested",
			result.TotalAvailable,
			q.DateRange,
			q.RequestedBeds,
		)
		result.Suggestions = Suggest(rooms, q.RequestedBeds)
	}

	return result, nil
}

func (c *Calculator) occupancy(ctx context.Context, dr booking.DateRange, excludeID string) (map[string]int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cached, epoch, err := c.cache.Get(ctx, dr, excludeID)
	if err != nil {
		c.l.LogWarnf("Availability cache read failed for %v: %v", dr, err.Error())
	}

	if cached != nil {
		return cached, nil
	}

	reservations, err := c.reservations.FetchConfirmedReservations(ctx, dr, excludeID)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch confirmed reservations: %w", booking.ErrBackendUnavailable, err)
	}

	holds, err := c.holds.OverlappingHolds(ctx, dr)
	if err != nil {
		return nil, fmt.Errorf("%w: list holds: %w", booking.ErrBackendUnavailable, err)
	}

	occupied := CountOccupied(dr, reservations, holds, c.clock.Now())

	if epoch != "" {
		if err := c.cache.Put(ctx, dr, excludeID, epoch, occupied); err != nil {
			c.l.LogWarnf("Availability cache write failed for %v: %v", dr, err.Error())
		}
	}

	return occupied, nil
}
