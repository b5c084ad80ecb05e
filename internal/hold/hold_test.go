package hold_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/avstrong/hostel/internal/availability"
	"github.com/avstrong/hostel/internal/booking"
	"github.com/avstrong/hostel/internal/catalog"
	"github.com/avstrong/hostel/internal/clock"
	"github.com/avstrong/hostel/internal/events"
	"github.com/avstrong/hostel/internal/hold"
	"github.com/avstrong/hostel/internal/idgen/simple"
	"github.com/avstrong/hostel/internal/logger"
	"github.com/avstrong/hostel/internal/storage/memory"
)

var (
	start = time.Date(2026, 10, 20, 0, 0, 0, 0, time.UTC)
	stay  = booking.NewDateRange(start.AddDate(0, 0, 3), start.AddDate(0, 0, 6))
)

type recorder struct {
	mu     sync.Mutex
	events []events.HoldEvent
}

func (r *recorder) Publish(_ context.Context, e events.HoldEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, e)

	return nil
}

func (r *recorder) types() []events.HoldEventType {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]events.HoldEventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}

	return out
}

// failingKV refuses writes to keys with the given prefix.
type failingKV struct {
	*memory.KV
	prefix string
}

var errWriteRefused = errors.New("write refused")

func (f *failingKV) SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if strings.HasPrefix(key, f.prefix) {
		return false, errWriteRefused
	}

	return f.KV.SetIfAbsent(ctx, key, value, ttl)
}

// takeoverKV hands the room lock to another owner right before the hold is written,
// as if the lease had lapsed mid-claim.
type takeoverKV struct {
	*memory.KV
}

func (k *takeoverKV) SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if rest, ok := strings.CutPrefix(key, "hold:"); ok {
		lock := "lock:room:" + strings.SplitN(rest, ":", 2)[0]

		if err := k.KV.Delete(ctx, lock); err != nil {
			return false, err
		}

		if _, err := k.KV.SetIfAbsent(ctx, lock, []byte("other-owner"), time.Minute); err != nil {
			return false, err
		}
	}

	return k.KV.SetIfAbsent(ctx, key, value, ttl)
}

type store interface {
	SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	DeleteIfValue(ctx context.Context, key string, value []byte) (bool, error)
	KeysMatching(ctx context.Context, prefix string) ([]string, error)
}

type fixture struct {
	clock     *clock.Fake
	kv        *memory.KV
	db        *memory.DB
	cache     *availability.Cache
	published *recorder
	holds     *hold.Manager
}

func newFixture(t *testing.T, wrap func(*memory.KV) store) *fixture {
	t.Helper()

	c := clock.NewFake(start)
	base := memory.NewKV(c)
	db := memory.New(memory.Config{L: logger.Discard(), IDGenerator: simple.New("res")})
	cache := availability.NewCache(base, time.Minute)
	rec := &recorder{}

	conf := hold.Config{
		L:            logger.Discard(),
		Catalog:      catalog.Default(),
		KV:           base,
		Reservations: db,
		Cache:        cache,
		IDGenerator:  simple.New("hold"),
		Clock:        c,
		Publisher:    rec,
		Timeout:      5 * time.Second,
		LockTTL:      10 * time.Second,
		Retention:    time.Hour,
	}

	if wrap != nil {
		conf.KV = wrap(base)
	}

	return &fixture{
		clock:     c,
		kv:        base,
		db:        db,
		cache:     cache,
		published: rec,
		holds:     hold.New(conf),
	}
}

func (f *fixture) occupied(t *testing.T, dr booking.DateRange) map[string]int {
	t.Helper()

	holds, err := f.holds.OverlappingHolds(context.Background(), dr)
	require.NoError(t, err)

	return availability.CountOccupied(dr, nil, holds, f.clock.Now())
}

func TestCreateHoldClaimsAllRooms(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	set, err := f.holds.CreateHold(ctx, []booking.RoomAllocation{
		{RoomID: "M12A", BedsAssigned: 12},
		{RoomID: "M12B", BedsAssigned: 8},
	}, stay, 15*time.Minute)
	require.NoError(t, err)
	require.Len(t, set.Holds, 2)
	require.Equal(t, 20, set.TotalBeds())
	require.Equal(t, start.Add(15*time.Minute), set.ExpiresAt)

	for _, h := range set.Holds {
		require.Equal(t, booking.HoldActive, h.Status)
		require.Equal(t, set.ID, h.SetID)
	}

	require.Equal(t, map[string]int{"M12A": 12, "M12B": 8}, f.occupied(t, stay))

	got, err := f.holds.GetHoldSet(ctx, set.ID)
	require.NoError(t, err)
	require.Equal(t, set.TotalBeds(), got.TotalBeds())

	require.Equal(t, []events.HoldEventType{events.HoldCreated, events.HoldCreated}, f.published.types())
}

func TestCreateHoldValidation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.holds.CreateHold(ctx, []booking.RoomAllocation{{RoomID: "X1", BedsAssigned: 1}}, stay, time.Minute)
	require.NotNil(t, booking.IsValidationError(err))

	_, err = f.holds.CreateHold(ctx, []booking.RoomAllocation{{RoomID: "M7", BedsAssigned: 8}}, stay, time.Minute)
	require.NotNil(t, booking.IsValidationError(err))

	_, err = f.holds.CreateHold(ctx, []booking.RoomAllocation{{RoomID: "M7", BedsAssigned: 1}}, stay, 0)
	require.NotNil(t, booking.IsValidationError(err))

	_, err = f.holds.CreateHold(ctx, nil, stay, time.Minute)
	require.NotNil(t, booking.IsValidationError(err))
}

func TestCreateHoldNeverOverbooks(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	const attempts = 20

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		won       int
		conflicts int
	)

	for i := 0; i < attempts; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := f.holds.CreateHold(ctx, []booking.RoomAllocation{{RoomID: "M12A", BedsAssigned: 5}}, stay, time.Minute)

			mu.Lock()
			defer mu.Unlock()

			switch {
			case err == nil:
				won++
			case booking.IsConflictError(err) != nil:
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}

	wg.Wait()

	require.Equal(t, 2, won)
	require.Equal(t, attempts-2, conflicts)
	require.Equal(t, 10, f.occupied(t, stay)["M12A"])
}

func TestCreateHoldConflictReportsRoom(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, f.db.SaveReservations(ctx, []booking.ConfirmedReservation{
		{ID: "r1", RoomID: "M7", BedsCount: 6, DateRange: stay, Status: booking.ReservationConfirmed},
	}))

	_, err := f.holds.CreateHold(ctx, []booking.RoomAllocation{
		{RoomID: "M12A", BedsAssigned: 5},
		{RoomID: "M7", BedsAssigned: 2},
	}, stay, time.Minute)

	conflict := booking.IsConflictError(err)
	require.NotNil(t, conflict)
	require.Equal(t, "M7", conflict.RoomID)
	require.Equal(t, 1, conflict.Available)
	require.Equal(t, 2, conflict.Requested)
	require.Empty(t, f.occupied(t, stay))
}

func TestCreateHoldRollsBackPartialWrites(t *testing.T) {
	f := newFixture(t, func(kv *memory.KV) store {
		return &failingKV{KV: kv, prefix: "hold:M7:"}
	})
	ctx := context.Background()

	_, err := f.holds.CreateHold(ctx, []booking.RoomAllocation{
		{RoomID: "M12A", BedsAssigned: 5},
		{RoomID: "M7", BedsAssigned: 2},
	}, stay, time.Minute)
	require.ErrorIs(t, err, booking.ErrBackendUnavailable)
	require.ErrorIs(t, err, errWriteRefused)

	keys, err := f.kv.KeysMatching(ctx, "hold")
	require.NoError(t, err)
	require.Empty(t, keys)

	locks, err := f.kv.KeysMatching(ctx, "lock:")
	require.NoError(t, err)
	require.Empty(t, locks)

	require.Empty(t, f.published.types())
}

func TestReleaseKeepsLockTakenOverByAnotherOwner(t *testing.T) {
	f := newFixture(t, func(kv *memory.KV) store {
		return &takeoverKV{KV: kv}
	})
	ctx := context.Background()

	_, err := f.holds.CreateHold(ctx, []booking.RoomAllocation{{RoomID: "M7", BedsAssigned: 2}}, stay, time.Minute)
	require.NoError(t, err)

	owner, err := f.kv.Get(ctx, "lock:room:M7")
	require.NoError(t, err)
	require.Equal(t, []byte("other-owner"), owner)
}

func TestConfirmHoldIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	set, err := f.holds.CreateHold(ctx, []booking.RoomAllocation{{RoomID: "M7", BedsAssigned: 3}}, stay, time.Minute)
	require.NoError(t, err)

	id := set.Holds[0].ID

	ok, err := f.holds.ConfirmHold(ctx, id, "paid")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = f.holds.ConfirmHold(ctx, id, "paid")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = f.holds.ConfirmHold(ctx, id, "other")
	require.NoError(t, err)
	require.False(t, ok)

	h, err := f.holds.GetHold(ctx, id)
	require.NoError(t, err)
	require.Equal(t, booking.HoldConfirmed, h.Status)
	require.Equal(t, "paid", h.Outcome)

	ok, err = f.holds.ReleaseHold(ctx, id)
	require.NoError(t, err)
	require.False(t, ok)

	require.Equal(t, []events.HoldEventType{events.HoldCreated, events.HoldConfirmed}, f.published.types())
}

func TestReleaseHold(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	set, err := f.holds.CreateHold(ctx, []booking.RoomAllocation{{RoomID: "M7", BedsAssigned: 7}}, stay, time.Minute)
	require.NoError(t, err)

	ok, err := f.holds.ReleaseHold(ctx, set.Holds[0].ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Empty(t, f.occupied(t, stay))

	ok, err = f.holds.ReleaseHold(ctx, set.Holds[0].ID)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = f.holds.ReleaseHold(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)

	_, err = f.holds.GetHold(ctx, "missing")
	require.ErrorIs(t, err, booking.ErrHoldNotFound)
}

func TestHoldSetTransitionsAreAllOrNothing(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	set, err := f.holds.CreateHold(ctx, []booking.RoomAllocation{
		{RoomID: "M12A", BedsAssigned: 4},
		{RoomID: "M12B", BedsAssigned: 4},
	}, stay, time.Minute)
	require.NoError(t, err)

	ok, err := f.holds.ReleaseHold(ctx, set.Holds[1].ID)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = f.holds.ConfirmHoldSet(ctx, set.ID, "paid")
	require.NoError(t, err)
	require.False(t, ok)

	first, err := f.holds.GetHold(ctx, set.Holds[0].ID)
	require.NoError(t, err)
	require.Equal(t, booking.HoldActive, first.Status)

	ok, err = f.holds.ReleaseHoldSet(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestExpiredHoldCannotBeConfirmed(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	set, err := f.holds.CreateHold(ctx, []booking.RoomAllocation{{RoomID: "M7", BedsAssigned: 2}}, stay, time.Second)
	require.NoError(t, err)

	f.clock.Advance(2 * time.Second)

	require.Empty(t, f.occupied(t, stay))

	ok, err := f.holds.ConfirmHold(ctx, set.Holds[0].ID, "paid")
	require.NoError(t, err)
	require.False(t, ok)

	h, err := f.holds.GetHold(ctx, set.Holds[0].ID)
	require.NoError(t, err)
	require.Equal(t, booking.HoldExpired, h.Status)
}

func TestSweepExpired(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	short, err := f.holds.CreateHold(ctx, []booking.RoomAllocation{{RoomID: "M7", BedsAssigned: 2}}, stay, time.Second)
	require.NoError(t, err)

	long, err := f.holds.CreateHold(ctx, []booking.RoomAllocation{{RoomID: "M12A", BedsAssigned: 2}}, stay, time.Hour)
	require.NoError(t, err)

	f.clock.Advance(2 * time.Second)

	n, err := f.holds.SweepExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	h, err := f.holds.GetHold(ctx, short.Holds[0].ID)
	require.NoError(t, err)
	require.Equal(t, booking.HoldExpired, h.Status)

	h, err = f.holds.GetHold(ctx, long.Holds[0].ID)
	require.NoError(t, err)
	require.Equal(t, booking.HoldActive, h.Status)

	n, err = f.holds.SweepExpired(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	require.Contains(t, f.published.types(), events.HoldExpired)
}

func TestHoldChangesInvalidateCachedAvailability(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, epoch, err := f.cache.Get(ctx, stay, "")
	require.NoError(t, err)
	require.NoError(t, f.cache.Put(ctx, stay, "", epoch, map[string]int{}))

	cached, _, err := f.cache.Get(ctx, stay, "")
	require.NoError(t, err)
	require.NotNil(t, cached)

	_, err = f.holds.CreateHold(ctx, []booking.RoomAllocation{{RoomID: "M7", BedsAssigned: 2}}, stay, time.Minute)
	require.NoError(t, err)

	cached, _, err = f.cache.Get(ctx, stay, "")
	require.NoError(t, err)
	require.Nil(t, cached)
}
