package availability_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/avstrong/hostel/internal/availability"
	"github.com/avstrong/hostel/internal/booking"
	"github.com/avstrong/hostel/internal/catalog"
	"github.com/avstrong/hostel/internal/clock"
	"github.com/avstrong/hostel/internal/logger"
	"github.com/avstrong/hostel/internal/storage/memory"
)

var now = time.Date(2026, 10, 20, 0, 0, 0, 0, time.UTC)

type fetchFunc func(ctx context.Context, dr booking.DateRange, excludeID string) ([]booking.ConfirmedReservation, error)

type reservations struct {
	fetch fetchFunc
	calls atomic.Int32
}

func (r *reservations) FetchConfirmedReservations(
	ctx context.Context,
	dr booking.DateRange,
	excludeID string,
) ([]booking.ConfirmedReservation, error) {
	r.calls.Add(1)

	return r.fetch(ctx, dr, excludeID)
}

type holdsFunc func(ctx context.Context, dr booking.DateRange) ([]*booking.Hold, error)

func (f holdsFunc) OverlappingHolds(ctx context.Context, dr booking.DateRange) ([]*booking.Hold, error) {
	return f(ctx, dr)
}

func noHolds(context.Context, booking.DateRange) ([]*booking.Hold, error) { return nil, nil }

type fixture struct {
	clock        *clock.Fake
	cache        *availability.Cache
	reservations *reservations
	calculator   *availability.Calculator
}

func newFixture(rows []booking.ConfirmedReservation, holds holdsFunc) *fixture {
	c := clock.NewFake(now)
	cache := availability.NewCache(memory.NewKV(c), time.Minute)
	res := &reservations{fetch: func(_ context.Context, dr booking.DateRange, excludeID string) ([]booking.ConfirmedReservation, error) {
		var out []booking.ConfirmedReservation

		for _, r := range rows {
			if r.ID != excludeID && r.DateRange.Overlaps(dr) {
				out = append(out, r)
			}
		}

		return out, nil
	}}

	return &fixture{
		clock:        c,
		cache:        cache,
		reservations: res,
		calculator: availability.New(availability.Config{
			L:            logger.Discard(),
			Catalog:      catalog.Default(),
			Reservations: res,
			Holds:        holds,
			Cache:        cache,
			Clock:        c,
			Timeout:      time.Second,
		}),
	}
}

func days(from, to int) booking.DateRange {
	return booking.NewDateRange(now.AddDate(0, 0, from), now.AddDate(0, 0, to))
}

func roomByID(t *testing.T, result *booking.AvailabilityResult, id string) booking.RoomOccupancy {
	t.Helper()

	for _, room := range result.Rooms {
		if room.RoomID == id {
			return room
		}
	}

	t.Fatalf("room %v missing", id)

	return booking.RoomOccupancy{} //nolint:exhaustruct
}

func TestOccupancyMergesReservationsAndLiveHolds(t *testing.T) {
	stay := days(3, 6)

	f := newFixture([]booking.ConfirmedReservation{
		{ID: "r1", RoomID: "M12A", BedsCount: 5, DateRange: days(1, 4), Status: booking.ReservationConfirmed},
		{ID: "r2", RoomID: "M12A", BedsCount: 4, DateRange: days(4, 8), Status: booking.ReservationPendingPayment},
		{ID: "r3", RoomID: "M12B", BedsCount: 6, DateRange: days(3, 6), Status: booking.ReservationCancelled},
		{ID: "r4", RoomID: "M7", BedsCount: 3, DateRange: days(6, 9), Status: booking.ReservationConfirmed},
	}, func(context.Context, booking.DateRange) ([]*booking.Hold, error) {
		return []*booking.Hold{
			{ID: "h1", RoomID: "M7", BedsCount: 2, DateRange: stay, ExpiresAt: now.Add(time.Minute), Status: booking.HoldActive},
			{ID: "h2", RoomID: "M7", BedsCount: 5, DateRange: stay, ExpiresAt: now.Add(-time.Second), Status: booking.HoldActive},
			{ID: "h3", RoomID: "M12B", BedsCount: 5, DateRange: stay, ExpiresAt: now.Add(time.Minute), Status: booking.HoldReleased},
			{ID: "h4", RoomID: "M12A", BedsCount: 9, DateRange: stay, ExpiresAt: now.Add(time.Minute), Status: booking.HoldActive},
		}, nil
	})

	result, err := f.calculator.CheckAvailability(context.Background(), booking.AvailabilityQuery{
		DateRange:     stay,
		RequestedBeds: 10,
	})
	require.NoError(t, err)

	a := roomByID(t, result, "M12A")
	require.Equal(t, 18, a.Occupied)
	require.Zero(t, a.Available)

	require.Equal(t, 0, roomByID(t, result, "M12B").Occupied)
	require.Equal(t, 2, roomByID(t, result, "M7").Occupied)
	require.Equal(t, 0+12+5+7, result.TotalAvailable)
	require.True(t, result.IsAvailable)
}

func TestExcludedReservationIsIgnored(t *testing.T) {
	stay := days(3, 6)

	f := newFixture([]booking.ConfirmedReservation{
		{ID: "r1", RoomID: "M7", BedsCount: 7, DateRange: stay, Status: booking.ReservationConfirmed},
	}, noHolds)

	result, err := f.calculator.CheckAvailability(context.Background(), booking.AvailabilityQuery{
		DateRange:            stay,
		RequestedBeds:        1,
		ExcludeReservationID: "r1",
	})
	require.NoError(t, err)
	require.Equal(t, 7, roomByID(t, result, "M7").Available)
}

func TestFlexibleRoomConversion(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name      string
		checkIn   time.Duration
		occupied  bool
		effective booking.RoomType
	}{
		{name: "far away stays female", checkIn: 72 * time.Hour, occupied: false, effective: booking.RoomTypeFemale},
		{name: "at threshold converts", checkIn: 48 * time.Hour, occupied: false, effective: booking.RoomTypeMixed},
		{name: "inside threshold converts", checkIn: 24 * time.Hour, occupied: false, effective: booking.RoomTypeMixed},
		{name: "occupied stays female", checkIn: 24 * time.Hour, occupied: true, effective: booking.RoomTypeFemale},
		{name: "far and occupied stays female", checkIn: 96 * time.Hour, occupied: true, effective: booking.RoomTypeFemale},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checkIn := now.Add(tt.checkIn)
			stay := booking.NewDateRange(checkIn, checkIn.AddDate(0, 0, 2))

			var rows []booking.ConfirmedReservation
			if tt.occupied {
				rows = append(rows, booking.ConfirmedReservation{
					ID: "r1", RoomID: "F7", BedsCount: 1, DateRange: stay, Status: booking.ReservationConfirmed,
				})
			}

			result, err := newFixture(rows, noHolds).calculator.CheckAvailability(ctx, booking.AvailabilityQuery{
				DateRange:     stay,
				RequestedBeds: 1,
			})
			require.NoError(t, err)
			require.Equal(t, tt.effective, roomByID(t, result, "F7").EffectiveType)
			require.Equal(t, booking.RoomTypeMixed, roomByID(t, result, "M7").EffectiveType)
		})
	}
}

func TestConversionDependsOnQueryTime(t *testing.T) {
	room := booking.Room{
		ID: "F7", DisplayName: "F7", Capacity: 7, BaseType: booking.RoomTypeFemale,
		IsFlexible: true, AutoConvertThresholdHours: 48,
	}
	checkIn := now.Add(72 * time.Hour)

	require.Equal(t, booking.RoomTypeFemale, availability.EffectiveType(room, 0, checkIn, now))
	require.Equal(t, booking.RoomTypeMixed, availability.EffectiveType(room, 0, checkIn, now.Add(25*time.Hour)))
	require.Equal(t, booking.RoomTypeFemale, room.BaseType)
}

func TestShortageReportsConflictAndSuggestions(t *testing.T) {
	stay := days(3, 6)

	f := newFixture([]booking.ConfirmedReservation{
		{ID: "r1", RoomID: "M12A", BedsCount: 12, DateRange: stay, Status: booking.ReservationConfirmed},
		{ID: "r1", RoomID: "M12B", BedsCount: 10, DateRange: stay, Status: booking.ReservationConfirmed},
	}, noHolds)

	result, err := f.calculator.CheckAvailability(context.Background(), booking.AvailabilityQuery{
		DateRange:     stay,
		RequestedBeds: 20,
	})
	require.NoError(t, err)
	require.False(t, result.IsAvailable)
	require.Equal(t, 16, result.TotalAvailable)
	require.NotEmpty(t, result.Conflict)
	require.Len(t, result.Suggestions, 3)
	require.Contains(t, result.Suggestions[0], "M7")
	require.Contains(t, result.Suggestions[1], "reduce the group to 7 beds")
}

func TestCheckAvailabilityValidation(t *testing.T) {
	f := newFixture(nil, noHolds)
	ctx := context.Background()

	for name, q := range map[string]booking.AvailabilityQuery{
		"past check-in": {DateRange: days(-1, 2), RequestedBeds: 1},
		"inverted":      {DateRange: days(5, 3), RequestedBeds: 1},
		"empty":         {DateRange: days(3, 3), RequestedBeds: 1},
		"no beds":       {DateRange: days(3, 5), RequestedBeds: 0},
		"too many beds": {DateRange: days(3, 5), RequestedBeds: 39},
	} {
		_, err := f.calculator.CheckAvailability(ctx, q)
		require.NotNil(t, booking.IsValidationError(err), name)
	}
}

func TestResultsAreCachedUntilInvalidated(t *testing.T) {
	f := newFixture(nil, noHolds)
	ctx := context.Background()
	q := booking.AvailabilityQuery{DateRange: days(3, 6), RequestedBeds: 2}

	_, err := f.calculator.CheckAvailability(ctx, q)
	require.NoError(t, err)

	_, err = f.calculator.CheckAvailability(ctx, q)
	require.NoError(t, err)
	require.Equal(t, int32(1), f.reservations.calls.Load())

	require.NoError(t, f.cache.InvalidateRange(ctx, days(10, 12)))

	_, err = f.calculator.CheckAvailability(ctx, q)
	require.NoError(t, err)
	require.Equal(t, int32(2), f.reservations.calls.Load(), "epoch rotation drops every entry")

	_, err = f.calculator.CheckAvailability(ctx, q)
	require.NoError(t, err)
	require.Equal(t, int32(2), f.reservations.calls.Load())

	f.clock.Advance(2 * time.Minute)

	_, err = f.calculator.CheckAvailability(ctx, q)
	require.NoError(t, err)
	require.Equal(t, int32(3), f.reservations.calls.Load())
}

var errStoreDown = errors.New("connection refused")

func TestBackendFailureIsReported(t *testing.T) {
	f := newFixture(nil, noHolds)
	f.reservations.fetch = func(context.Context, booking.DateRange, string) ([]booking.ConfirmedReservation, error) {
		return nil, errStoreDown
	}

	_, err := f.calculator.CheckAvailability(context.Background(), booking.AvailabilityQuery{
		DateRange:     days(3, 6),
		RequestedBeds: 1,
	})
	require.ErrorIs(t, err, booking.ErrBackendUnavailable)
	require.ErrorIs(t, err, errStoreDown)
}
