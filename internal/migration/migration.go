package migration

import (
	"context"
	"fmt"
	"time"

	"github.com/avstrong/hostel/internal/booking"
	"github.com/avstrong/hostel/internal/logger"
)

type storage interface {
	SaveReservations(ctx context.Context, rows []booking.ConfirmedReservation) error
}

func stay(from time.Time, inDays, nights int) booking.DateRange {
	checkIn := booking.Date(from).AddDate(0, 0, inDays)

	return booking.NewDateRange(checkIn, checkIn.AddDate(0, 0, nights))
}

// DemoReservations are placed relative to today so the demo always has something to show.
func DemoReservations(today time.Time) []booking.ConfirmedReservation {
	return []booking.ConfirmedReservation{
		{
			ID:        "demo-1",
			RoomID:    "M12A",
			BedsCount: 8,
			DateRange: stay(today, 1, 3),
			Status:    booking.ReservationConfirmed,
		},
		{
			ID:        "demo-1",
			RoomID:    "M7",
			BedsCount: 4,
			DateRange: stay(today, 1, 3),
			Status:    booking.ReservationConfirmed,
		},
		{
			ID:        "demo-2",
			RoomID:    "F7",
			BedsCount: 2,
			DateRange: stay(today, 5, 2),
			Status:    booking.ReservationPendingPayment,
		},
		{
			ID:        "demo-3",
			RoomID:    "M12B",
			BedsCount: 12,
			DateRange: stay(today, 10, 5),
			Status:    booking.ReservationCancelled,
		},
	}
}

func Up(ctx context.Context, l *logger.Logger, storage storage, today time.Time) error {
	rows := DemoReservations(today)

	if err := storage.SaveReservations(ctx, rows); err != nil {
		return fmt.Errorf("save demo reservations to storage: %w", err)
	}

	l.LogInfo("Seeded %d demo reservation rows", len(rows))

	return nil
}
