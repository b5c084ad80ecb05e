package postgres

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/avstrong/hostel/internal/booking"
)

type idGenerator interface {
	GetID(ctx context.Context) (string, error)
}

// reservationRow is one room's share of a booking.
type reservationRow struct {
	ID            uint      `gorm:"primaryKey"`
	ReservationID string    `gorm:"size:64;not null;index"`
	RoomID        string    `gorm:"size:16;not null;index"`
	BedsCount     int       `gorm:"not null"`
	CheckIn       time.Time `gorm:"type:date;not null;index"`
	CheckOut      time.Time `gorm:"type:date;not null;index"`
	Status        string    `gorm:"size:32;not null;index"`
	GuestName     string
	GuestEmail    string
	GuestPhone    string
	BookingID     string `gorm:"size:64;index"`
	TotalPrice    int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (reservationRow) TableName() string {
	return "hostel_reservations"
}

func (r *reservationRow) toDomain() booking.ConfirmedReservation {
	return booking.ConfirmedReservation{
		ID:        r.ReservationID,
		RoomID:    r.RoomID,
		BedsCount: r.BedsCount,
		DateRange: booking.NewDateRange(r.CheckIn, r.CheckOut),
		Status:    booking.ReservationStatus(r.Status),
	}
}

func rowsFor(id string, in *booking.NewReservation) []reservationRow {
	rows := make([]reservationRow, 0, len(in.Plan.Allocations))

	var total int64
	if in.Pricing != nil {
		total = in.Pricing.TotalPrice
	}

	for _, alloc := range in.Plan.Allocations {
		//nolint:exhaustruct
		rows = append(rows, reservationRow{
			ReservationID: id,
			RoomID:        alloc.RoomID,
			BedsCount:     alloc.BedsAssigned,
			CheckIn:       in.DateRange.CheckIn,
			CheckOut:      in.DateRange.CheckOut,
			Status:        string(booking.ReservationConfirmed),
			GuestName:     in.Guest.Name,
			GuestEmail:    in.Guest.Email,
			GuestPhone:    in.Guest.Phone,
			BookingID:     in.BookingID,
			TotalPrice:    total,
		})
	}

	return rows
}

var occupyingStatuses = []string{
	string(booking.ReservationPendingPayment),
	string(booking.ReservationConfirmed),
	string(booking.ReservationCheckedIn),
}

type Store struct {
	db          *gorm.DB
	idGenerator idGenerator
}

func Open(dsn string) (*gorm.DB, error) {
	//nolint:exhaustruct
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: open postgres: %w", booking.ErrBackendUnavailable, err)
	}

	return db, nil
}

func New(db *gorm.DB, idGenerator idGenerator) *Store {
	return &Store{db: db, idGenerator: idGenerator}
}

func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&reservationRow{}); err != nil { //nolint:exhaustruct
		return fmt.Errorf("auto migrate reservations: %w", err)
	}

	return nil
}

func (s *Store) FetchConfirmedReservations(
	ctx context.Context,
	dr booking.DateRange,
	excludeID string,
) ([]booking.ConfirmedReservation, error) {
	var rows []reservationRow

	q := s.db.WithContext(ctx).
		Where("check_in < ? AND ? < check_out", dr.CheckOut, dr.CheckIn).
		Where("status IN ?", occupyingStatuses)

	if excludeID != "" {
		q = q.Where("reservation_id <> ?", excludeID)
	}

	if err := q.Order("reservation_id, room_id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("%w: fetch reservations for %v: %w", booking.ErrBackendUnavailable, dr, err)
	}

	out := make([]booking.ConfirmedReservation, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}

	return out, nil
}

func (s *Store) RecordReservation(ctx context.Context, in *booking.NewReservation) (string, error) {
	if in.Plan == nil || len(in.Plan.Allocations) == 0 {
		return "", fmt.Errorf("record reservation without rooms: %w", booking.ErrLogic)
	}

	id, err := s.idGenerator.GetID(ctx)
	if err != nil {
		return "", booking.ErrNextID
	}

	rows := rowsFor(id, in)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&rows).Error
	})
	if err != nil {
		return "", fmt.Errorf("%w: insert reservation %v: %w", booking.ErrBackendUnavailable, id, err)
	}

	return id, nil
}

func (s *Store) UpdateStatus(ctx context.Context, id string, status booking.ReservationStatus) error {
	res := s.db.WithContext(ctx).
		Model(&reservationRow{}). //nolint:exhaustruct
		Where("reservation_id = ?", id).
		Update("status", string(status))
	if res.Error != nil {
		return fmt.Errorf("%w: update reservation %v: %w", booking.ErrBackendUnavailable, id, res.Error)
	}

	if res.RowsAffected == 0 {
		return fmt.Errorf("reservation %v: %w", id, booking.ErrRecordNotFound)
	}

	return nil
}
