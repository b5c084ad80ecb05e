package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/avstrong/hostel/internal/booking"
	"github.com/avstrong/hostel/internal/logger"
)

type idGenerator interface {
	GetID(ctx context.Context) (string, error)
}

type Config struct {
	L           *logger.Logger
	IDGenerator idGenerator
}

type reservation struct {
	rows  []booking.ConfirmedReservation
	guest booking.GuestRef
	total int64
}

// DB is the in-memory reservation store used in development and tests.
type DB struct {
	mu           sync.Mutex
	l            *logger.Logger
	idGenerator  idGenerator
	reservations map[string]*reservation
}

func New(conf Config) *DB {
	return &DB{
		mu:           sync.Mutex{},
		l:            conf.L,
		idGenerator:  conf.IDGenerator,
		reservations: make(map[string]*reservation),
	}
}

func (db *DB) FetchConfirmedReservations(
	_ context.Context,
	dr booking.DateRange,
	excludeID string,
) ([]booking.ConfirmedReservation, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	var result []booking.ConfirmedReservation

	for id, r := range db.reservations {
		if excludeID != "" && id == excludeID {
			continue
		}

		for _, row := range r.rows {
			if row.Status.Occupying() && row.DateRange.Overlaps(dr) {
				result = append(result, row)
			}
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].ID != result[j].ID {
			return result[i].ID < result[j].ID
		}

		return result[i].RoomID < result[j].RoomID
	})

	return result, nil
}

func (db *DB) RecordReservation(ctx context.Context, in *booking.NewReservation) (string, error) {
	if in.Plan == nil || len(in.Plan.Allocations) == 0 {
		return "", ErrEmptyPlan
	}

	if in.DateRange.Nights() < 1 {
		return "", ErrMissingDateSpan
	}

	id, err := db.idGenerator.GetID(ctx)
	if err != nil {
		return "", booking.ErrNextID
	}

	r := &reservation{
		rows:  make([]booking.ConfirmedReservation, 0, len(in.Plan.Allocations)),
		guest: in.Guest,
		total: 0,
	}

	if in.Pricing != nil {
		r.total = in.Pricing.TotalPrice
	}

	for _, alloc := range in.Plan.Allocations {
		r.rows = append(r.rows, booking.ConfirmedReservation{
			ID:        id,
			RoomID:    alloc.RoomID,
			BedsCount: alloc.BedsAssigned,
			DateRange: in.DateRange,
			Status:    booking.ReservationConfirmed,
		})
	}

	db.mu.Lock()
	db.reservations[id] = r
	db.mu.Unlock()

	db.l.LogInfo("Reservation %v recorded for %v beds on %v", id, in.Plan.TotalBeds, in.DateRange)

	return id, nil
}

// SaveReservations inserts raw rows, grouped by ID. Used by the seed migration.
func (db *DB) SaveReservations(_ context.Context, rows []booking.ConfirmedReservation) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, row := range rows {
		if !row.Status.Occupying() && row.Status != booking.ReservationCancelled && row.Status != booking.ReservationExpired {
			return fmt.Errorf("reservation %v status %q: %w", row.ID, row.Status, ErrUnknownStatus)
		}

		r, ok := db.reservations[row.ID]
		if !ok {
			//nolint:exhaustruct
			r = &reservation{}
			db.reservations[row.ID] = r
		}

		r.rows = append(r.rows, row)
	}

	return nil
}

func (db *DB) UpdateStatus(_ context.Context, id string, status booking.ReservationStatus) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	r, ok := db.reservations[id]
	if !ok {
		return fmt.Errorf("reservation %v: %w", id, booking.ErrRecordNotFound)
	}

	for i := range r.rows {
		r.rows[i].Status = status
	}

	return nil
}
