package memory_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/avstrong/hostel/internal/booking"
	"github.com/avstrong/hostel/internal/clock"
	"github.com/avstrong/hostel/internal/idgen/simple"
	"github.com/avstrong/hostel/internal/logger"
	"github.com/avstrong/hostel/internal/storage/memory"
)

var start = time.Date(2026, 10, 20, 0, 0, 0, 0, time.UTC)

func TestKVSetIfAbsentIsAtomic(t *testing.T) {
	ctx := context.Background()
	kv := memory.NewKV(clock.NewFake(start))

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		won int
	)

	for i := 0; i < 64; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			ok, err := kv.SetIfAbsent(ctx, "lock:room:M7", []byte("x"), time.Second)
			require.NoError(t, err)

			if ok {
				mu.Lock()
				won++
				mu.Unlock()
			}
		}()
	}

	wg.Wait()
	require.Equal(t, 1, won)
}

func TestKVTTL(t *testing.T) {
	ctx := context.Background()
	c := clock.NewFake(start)
	kv := memory.NewKV(c)

	ok, err := kv.SetIfAbsent(ctx, "a", []byte("1"), time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = kv.SetIfAbsent(ctx, "a", []byte("2"), time.Second)
	require.NoError(t, err)
	require.False(t, ok)

	c.Advance(time.Second)

	_, err = kv.Get(ctx, "a")
	require.ErrorIs(t, err, booking.ErrRecordNotFound)

	ok, err = kv.SetIfAbsent(ctx, "a", []byte("3"), 0)
	require.NoError(t, err)
	require.True(t, ok)

	c.Advance(24 * time.Hour)

	v, err := kv.Get(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, []byte("3"), v)
}

func TestKVKeysMatchingAndDelete(t *testing.T) {
	ctx := context.Background()
	kv := memory.NewKV(clock.NewFake(start))

	for _, k := range []string{"hold:M7:2", "hold:M7:1", "avail:x", "hold:F7:1"} {
		_, err := kv.SetIfAbsent(ctx, k, []byte(k), 0)
		require.NoError(t, err)
	}

	keys, err := kv.KeysMatching(ctx, "hold:")
	require.NoError(t, err)
	require.Equal(t, []string{"hold:F7:1", "hold:M7:1", "hold:M7:2"}, keys)

	require.NoError(t, kv.Delete(ctx, "hold:M7:1"))
	require.NoError(t, kv.Delete(ctx, "missing"))

	keys, err = kv.KeysMatching(ctx, "hold:M7:")
	require.NoError(t, err)
	require.Equal(t, []string{"hold:M7:2"}, keys)
}

func TestKVDeleteIfValue(t *testing.T) {
	ctx := context.Background()
	c := clock.NewFake(start)
	kv := memory.NewKV(c)

	ok, err := kv.SetIfAbsent(ctx, "lock:room:F7", []byte("token-a"), time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	// The lease lapses and another owner takes the lock.
	c.Advance(2 * time.Second)

	ok, err = kv.SetIfAbsent(ctx, "lock:room:F7", []byte("token-b"), time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = kv.DeleteIfValue(ctx, "lock:room:F7", []byte("token-a"))
	require.NoError(t, err)
	require.False(t, ok)

	got, err := kv.Get(ctx, "lock:room:F7")
	require.NoError(t, err)
	require.Equal(t, []byte("token-b"), got)

	ok, err = kv.DeleteIfValue(ctx, "lock:room:F7", []byte("token-b"))
	require.NoError(t, err)
	require.True(t, ok)

	_, err = kv.Get(ctx, "lock:room:F7")
	require.ErrorIs(t, err, booking.ErrRecordNotFound)
}

func TestDBRecordAndFetch(t *testing.T) {
	ctx := context.Background()
	db := memory.New(memory.Config{L: logger.Discard(), IDGenerator: simple.New("res")})

	dr := booking.NewDateRange(start.AddDate(0, 0, 3), start.AddDate(0, 0, 6))

	id, err := db.RecordReservation(ctx, &booking.NewReservation{
		Plan: &booking.AllocationPlan{
			Allocations: []booking.RoomAllocation{{RoomID: "M12A", BedsAssigned: 12}, {RoomID: "M12B", BedsAssigned: 8}},
			TotalBeds:   20,
		},
		DateRange: dr,
		Guest:     booking.GuestRef{Name: "Ana", Email: "ana@example.com"},
	})
	require.NoError(t, err)
	require.Equal(t, "res-1", id)

	rows, err := db.FetchConfirmedReservations(ctx, dr, "")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "M12A", rows[0].RoomID)

	rows, err = db.FetchConfirmedReservations(ctx, dr, id)
	require.NoError(t, err)
	require.Empty(t, rows)

	// Adjacent range: checkout day is free.
	rows, err = db.FetchConfirmedReservations(ctx, booking.NewDateRange(dr.CheckOut, dr.CheckOut.AddDate(0, 0, 2)), "")
	require.NoError(t, err)
	require.Empty(t, rows)

	require.NoError(t, db.UpdateStatus(ctx, id, booking.ReservationCancelled))

	rows, err = db.FetchConfirmedReservations(ctx, dr, "")
	require.NoError(t, err)
	require.Empty(t, rows)

	require.ErrorIs(t, db.UpdateStatus(ctx, "nope", booking.ReservationCancelled), booking.ErrRecordNotFound)
}

func TestDBRejectsEmptyPlan(t *testing.T) {
	db := memory.New(memory.Config{L: logger.Discard(), IDGenerator: simple.New("res")})

	_, err := db.RecordReservation(context.Background(), &booking.NewReservation{Plan: &booking.AllocationPlan{}})
	require.ErrorIs(t, err, memory.ErrEmptyPlan)
}
