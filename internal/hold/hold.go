package hold

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/avstrong/hostel/internal/availability"
	"github.com/avstrong/hostel/internal/booking"
	"github.com/avstrong/hostel/internal/clock"
	"github.com/avstrong/hostel/internal/events"
	"github.com/avstrong/hostel/internal/logger"
)

const (
	holdPrefix     = "hold:"
	indexPrefix    = "holdidx:"
	setPrefix      = "holdset:"
	lockPrefix     = "lock:room:"
	lockRetryDelay = 5 * time.Millisecond
	minRecordTTL   = time.Minute
)

type kv interface {
	SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	// DeleteIfValue removes key only while it still holds value, as one atomic step.
	DeleteIfValue(ctx context.Context, key string, value []byte) (bool, error)
	KeysMatching(ctx context.Context, prefix string) ([]string, error)
}

type catalog interface {
	Get(id string) (booking.Room, error)
}

type reservationFetcher interface {
	FetchConfirmedReservations(
		ctx context.Context,
		dr booking.DateRange,
		excludeID string,
	) ([]booking.ConfirmedReservation, error)
}

type cacheInvalidator interface {
	InvalidateRange(ctx context.Context, dr booking.DateRange) error
}

type idGenerator interface {
	GetID(ctx context.Context) (string, error)
}

type publisher interface {
	Publish(ctx context.Context, e events.HoldEvent) error
}

type Config struct {
	L            *logger.Logger
	Catalog      catalog
	KV           kv
	Reservations reservationFetcher
	Cache        cacheInvalidator
	IDGenerator  idGenerator
	Clock        clock.Clock
	Publisher    publisher
	Tracer       trace.Tracer
	// Timeout bounds every backend round trip of a single operation.
	Timeout time.Duration
	// LockTTL is the lease of a room lock; it must exceed Timeout.
	LockTTL time.Duration
	// Retention keeps terminal holds readable after they expire.
	Retention time.Duration
}

// Manager owns the time-boxed claims on beds. Claims on a room are serialized by a lease
// lock taken with SetIfAbsent; inside the lock occupancy is recomputed from reservations
// and live holds before anything is written.
type Manager struct {
	l            *logger.Logger
	catalog      catalog
	kv           kv
	reservations reservationFetcher
	cache        cacheInvalidator
	idGenerator  idGenerator
	clock        clock.Clock
	publisher    publisher
	tracer       trace.Tracer
	timeout      time.Duration
	lockTTL      time.Duration
	retention    time.Duration
}

func New(conf Config) *Manager {
	if conf.Tracer == nil {
		conf.Tracer = noop.NewTracerProvider().Tracer("hold")
	}

	return &Manager{
		l:            conf.L,
		catalog:      conf.Catalog,
		kv:           conf.KV,
		reservations: conf.Reservations,
		cache:        conf.Cache,
		idGenerator:  conf.IDGenerator,
		clock:        conf.Clock,
		publisher:    conf.Publisher,
		tracer:       conf.Tracer,
		timeout:      conf.Timeout,
		lockTTL:      conf.LockTTL,
		retention:    conf.Retention,
	}
}

type setRecord struct {
	Holds     []holdRef         `json:"holds"`
	DateRange booking.DateRange `json:"date_range"`
	ExpiresAt time.Time         `json:"expires_at"`
}

type holdRef struct {
	RoomID string `json:"room_id"`
	HoldID string `json:"hold_id"`
}

func holdKey(roomID, holdID string) string { return holdPrefix + roomID + ":" + holdID }

func indexKey(holdID string) string { return indexPrefix + holdID }

func setKey(setID string) string { return setPrefix + setID }

func lockKey(roomID string) string { return lockPrefix + roomID }

func validateCreate(c catalog, allocations []booking.RoomAllocation, dr booking.DateRange, ttl time.Duration) error {
	inputErr := booking.NewValidationError()

	if len(allocations) == 0 {
		inputErr.Add("allocations", "provide at least one room allocation")
	}

	seen := make(map[string]struct{}, len(allocations))

	for _, alloc := range allocations {
		room, err := c.Get(alloc.RoomID)
		if err != nil {
			inputErr.Add("allocations.room_id", fmt.Sprintf("unknown room %q", alloc.RoomID))

			continue
		}

		if _, dup := seen[alloc.RoomID]; dup {
			inputErr.Add("allocations.room_id", fmt.Sprintf("room %q listed twice", alloc.RoomID))
		}

		seen[alloc.RoomID] = struct{}{}

		if alloc.BedsAssigned < 1 || alloc.BedsAssigned > room.Capacity {
			inputErr.Add("allocations.beds_assigned", fmt.Sprintf("room %q takes 1 to %d beds", room.ID, room.Capacity))
		}
	}

	if !dr.CheckIn.Before(dr.CheckOut) {
		inputErr.Add("check_out", "check_in must be before check_out")
	}

	if ttl <= 0 {
		inputErr.Add("ttl", "ttl must be positive")
	}

	return inputErr.OrNil()
}

// CreateHold claims every allocation or none. On any failure the holds written so far
// are removed before the error is returned.
//
//nolint:funlen,cyclop
func (m *Manager) CreateHold(
	ctx context.Context,
	allocations []booking.RoomAllocation,
	dr booking.DateRange,
	ttl time.Duration,
) (_ *booking.HoldSet, err error) {
	ctx, span := m.tracer.Start(ctx, "hold.create", trace.WithAttributes(
		attribute.String("hold.date_range", dr.String()),
		attribute.Int("hold.rooms", len(allocations)),
	))
	defer func() { endSpan(span, err) }()

	if err := validateCreate(m.catalog, allocations, dr, ttl); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	roomIDs := make([]string, 0, len(allocations))
	for _, alloc := range allocations {
		roomIDs = append(roomIDs, alloc.RoomID)
	}

	setID, err := m.idGenerator.GetID(ctx)
	if err != nil {
		return nil, booking.ErrNextID
	}

	var set *booking.HoldSet

	err = m.withRoomLocks(ctx, roomIDs, func(ctx context.Context) error {
		now := m.clock.Now()

		occupied, err := m.occupancy(ctx, dr, roomIDs)
		if err != nil {
			return err
		}

		for _, alloc := range allocations {
			room, _ := m.catalog.Get(alloc.RoomID)

			if free := max(0, room.Capacity-occupied[alloc.RoomID]); free < alloc.BedsAssigned {
				return &booking.ConflictError{RoomID: room.ID, Requested: alloc.BedsAssigned, Available: free}
			}
		}

		set = &booking.HoldSet{
			ID:        setID,
			Holds:     make([]*booking.Hold, 0, len(allocations)),
			DateRange: dr,
			ExpiresAt: now.Add(ttl),
		}

		for _, alloc := range allocations {
			holdID, err := m.idGenerator.GetID(ctx)
			if err != nil {
				m.rollback(ctx, set.Holds)

				return booking.ErrNextID
			}

			h := &booking.Hold{
				ID:         holdID,
				SetID:      setID,
				RoomID:     alloc.RoomID,
				BedNumbers: []int{},
				BedsCount:  alloc.BedsAssigned,
				DateRange:  dr,
				CreatedAt:  now,
				ExpiresAt:  set.ExpiresAt,
				Status:     booking.HoldActive,
				Outcome:    "",
			}

			if err := m.insertHold(ctx, h, now); err != nil {
				m.rollback(ctx, set.Holds)

				return err
			}

			set.Holds = append(set.Holds, h)
		}

		if err := m.writeSet(ctx, set, now); err != nil {
			m.rollback(ctx, set.Holds)

			return err
		}

		return nil
	})
	if err != nil {
		if conflict := booking.IsConflictError(err); conflict != nil {
			m.l.LogInfo("Hold claim lost for %v on %v: %v", roomIDs, dr, conflict.Error())
		}

		return nil, err
	}

	m.invalidate(ctx, dr)

	for _, h := range set.Holds {
		m.publish(ctx, events.HoldCreated, h)
	}

	span.SetAttributes(attribute.String("hold.set_id", set.ID))

	return set, nil
}

// ConfirmHold moves an active hold to confirmed. Confirming again with the same outcome is a no-op.
func (m *Manager) ConfirmHold(ctx context.Context, holdID, outcome string) (_ bool, err error) {
	ctx, span := m.tracer.Start(ctx, "hold.confirm", trace.WithAttributes(attribute.String("hold.id", holdID)))
	defer func() { endSpan(span, err) }()

	ref, ok, err := m.lookup(ctx, holdID)
	if err != nil || !ok {
		return false, err
	}

	return m.transition(ctx, []holdRef{ref}, booking.HoldConfirmed, outcome)
}

// ReleaseHold cancels an active hold. Unknown ids return false.
func (m *Manager) ReleaseHold(ctx context.Context, holdID string) (_ bool, err error) {
	ctx, span := m.tracer.Start(ctx, "hold.release", trace.WithAttributes(attribute.String("hold.id", holdID)))
	defer func() { endSpan(span, err) }()

	ref, ok, err := m.lookup(ctx, holdID)
	if err != nil || !ok {
		return false, err
	}

	return m.transition(ctx, []holdRef{ref}, booking.HoldReleased, "")
}

// ConfirmHoldSet confirms every hold of the set, or none of them.
func (m *Manager) ConfirmHoldSet(ctx context.Context, setID, outcome string) (_ bool, err error) {
	ctx, span := m.tracer.Start(ctx, "hold.confirm_set", trace.WithAttributes(attribute.String("hold.set_id", setID)))
	defer func() { endSpan(span, err) }()

	rec, ok, err := m.readSet(ctx, setID)
	if err != nil || !ok {
		return false, err
	}

	return m.transition(ctx, rec.Holds, booking.HoldConfirmed, outcome)
}

func (m *Manager) ReleaseHoldSet(ctx context.Context, setID string) (_ bool, err error) {
	ctx, span := m.tracer.Start(ctx, "hold.release_set", trace.WithAttributes(attribute.String("hold.set_id", setID)))
	defer func() { endSpan(span, err) }()

	rec, ok, err := m.readSet(ctx, setID)
	if err != nil || !ok {
		return false, err
	}

	return m.transition(ctx, rec.Holds, booking.HoldReleased, "")
}

func (m *Manager) GetHold(ctx context.Context, holdID string) (*booking.Hold, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	ref, ok, err := m.lookup(ctx, holdID)
	if err != nil {
		return nil, err
	}

	if !ok {
		return nil, fmt.Errorf("hold %v: %w", holdID, booking.ErrHoldNotFound)
	}

	h, err := m.readHold(ctx, ref)
	if errors.Is(err, booking.ErrRecordNotFound) {
		return nil, fmt.Errorf("hold %v: %w", holdID, booking.ErrHoldNotFound)
	}

	return h, err
}

func (m *Manager) GetHoldSet(ctx context.Context, setID string) (*booking.HoldSet, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	rec, ok, err := m.readSet(ctx, setID)
	if err != nil {
		return nil, err
	}

	if !ok {
		return nil, fmt.Errorf("hold set %v: %w", setID, booking.ErrHoldNotFound)
	}

	set := &booking.HoldSet{
		ID:        setID,
		Holds:     make([]*booking.Hold, 0, len(rec.Holds)),
		DateRange: rec.DateRange,
		ExpiresAt: rec.ExpiresAt,
	}

	for _, ref := range rec.Holds {
		h, err := m.readHold(ctx, ref)
		if err != nil {
			return nil, err
		}

		set.Holds = append(set.Holds, h)
	}

	return set, nil
}

// OverlappingHolds lists holds of any status whose range overlaps dr.
func (m *Manager) OverlappingHolds(ctx context.Context, dr booking.DateRange) ([]*booking.Hold, error) {
	holds, err := m.listHolds(ctx, holdPrefix)
	if err != nil {
		return nil, err
	}

	out := holds[:0]

	for _, h := range holds {
		if h.DateRange.Overlaps(dr) {
			out = append(out, h)
		}
	}

	return out, nil
}

// SweepExpired marks every active hold past its expiry as expired and returns how many changed.
func (m *Manager) SweepExpired(ctx context.Context) (_ int, err error) {
	ctx, span := m.tracer.Start(ctx, "hold.sweep")
	defer func() { endSpan(span, err) }()

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	holds, err := m.listHolds(ctx, holdPrefix)
	if err != nil {
		return 0, err
	}

	now := m.clock.Now()
	byRoom := make(map[string][]holdRef)

	for _, h := range holds {
		if h.Status == booking.HoldActive && now.After(h.ExpiresAt) {
			byRoom[h.RoomID] = append(byRoom[h.RoomID], holdRef{RoomID: h.RoomID, HoldID: h.ID})
		}
	}

	rooms := make([]string, 0, len(byRoom))
	for room := range byRoom {
		rooms = append(rooms, room)
	}

	sort.Strings(rooms)

	swept := 0

	for _, room := range rooms {
		err := m.withRoomLocks(ctx, []string{room}, func(ctx context.Context) error {
			now := m.clock.Now()

			for _, ref := range byRoom[room] {
				h, err := m.readHold(ctx, ref)
				if errors.Is(err, booking.ErrRecordNotFound) {
					continue
				}

				if err != nil {
					return err
				}

				if h.Status != booking.HoldActive || !now.After(h.ExpiresAt) {
					continue
				}

				h.Status = booking.HoldExpired
				if err := m.replaceHold(ctx, h, now); err != nil {
					return err
				}

				swept++

				m.invalidate(ctx, h.DateRange)
				m.publish(ctx, events.HoldExpired, h)
			}

			return nil
		})
		if err != nil {
			return swept, fmt.Errorf("sweep room %v: %w", room, err)
		}
	}

	span.SetAttributes(attribute.Int("hold.swept", swept))

	return swept, nil
}

// StartSweeper runs SweepExpired every interval until ctx is done. Failures are logged and
// the next tick tries again.
func (m *Manager) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := m.SweepExpired(ctx)
				if err != nil {
					m.l.LogErrorf("Hold sweep failed: %v", err.Error())

					continue
				}

				if n > 0 {
					m.l.LogInfo("Hold sweep expired %d holds", n)
				}
			}
		}
	}()
}

// transition applies target to all referenced holds atomically with respect to other claims.
// Every hold must be eligible, otherwise nothing changes and false is returned.
//
//nolint:cyclop
func (m *Manager) transition(ctx context.Context, refs []holdRef, target booking.HoldStatus, outcome string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	roomIDs := make([]string, 0, len(refs))
	for _, ref := range refs {
		roomIDs = append(roomIDs, ref.RoomID)
	}

	var (
		changed []*booking.Hold
		expired []*booking.Hold
		ok      = true
	)

	err := m.withRoomLocks(ctx, roomIDs, func(ctx context.Context) error {
		now := m.clock.Now()
		holds := make([]*booking.Hold, 0, len(refs))

		for _, ref := range refs {
			h, err := m.readHold(ctx, ref)
			if errors.Is(err, booking.ErrRecordNotFound) {
				ok = false

				return nil
			}

			if err != nil {
				return err
			}

			holds = append(holds, h)
		}

		pending := make([]*booking.Hold, 0, len(holds))

		for _, h := range holds {
			switch {
			case target == booking.HoldConfirmed && h.Status == booking.HoldConfirmed:
				if h.Outcome != outcome {
					ok = false
				}
			case h.Status == booking.HoldActive && now.After(h.ExpiresAt):
				h.Status = booking.HoldExpired
				expired = append(expired, h)
				ok = false
			case h.Status == booking.HoldActive:
				pending = append(pending, h)
			default:
				ok = false
			}
		}

		for _, h := range expired {
			if err := m.replaceHold(ctx, h, now); err != nil {
				return err
			}
		}

		if !ok {
			return nil
		}

		for _, h := range pending {
			h.Status = target
			h.Outcome = outcome

			if err := m.replaceHold(ctx, h, now); err != nil {
				return err
			}

			changed = append(changed, h)
		}

		return nil
	})
	if err != nil {
		return false, err
	}

	eventType := events.HoldConfirmed
	if target == booking.HoldReleased {
		eventType = events.HoldReleased
	}

	for _, h := range expired {
		m.invalidate(ctx, h.DateRange)
		m.publish(ctx, events.HoldExpired, h)
	}

	for _, h := range changed {
		m.invalidate(ctx, h.DateRange)
		m.publish(ctx, eventType, h)
	}

	return ok, nil
}

// occupancy counts beds per room from reservations and live holds, bypassing the cache.
func (m *Manager) occupancy(ctx context.Context, dr booking.DateRange, roomIDs []string) (map[string]int, error) {
	reservations, err := m.reservations.FetchConfirmedReservations(ctx, dr, "")
	if err != nil {
		return nil, fmt.Errorf("%w: fetch confirmed reservations: %w", booking.ErrBackendUnavailable, err)
	}

	var holds []*booking.Hold

	for _, room := range roomIDs {
		roomHolds, err := m.listHolds(ctx, holdPrefix+room+":")
		if err != nil {
			return nil, err
		}

		holds = append(holds, roomHolds...)
	}

	return availability.CountOccupied(dr, reservations, holds, m.clock.Now()), nil
}

func (m *Manager) withRoomLocks(ctx context.Context, roomIDs []string, fn func(ctx context.Context) error) error {
	sorted := make([]string, len(roomIDs))
	copy(sorted, roomIDs)
	sort.Strings(sorted)

	token := uuid.NewString()
	locked := make([]string, 0, len(sorted))

	defer func() {
		for _, room := range locked {
			m.unlockRoom(room, token)
		}
	}()

	for i, room := range sorted {
		if i > 0 && sorted[i-1] == room {
			continue
		}

		if err := m.lockRoom(ctx, room, token); err != nil {
			return err
		}

		locked = append(locked, room)
	}

	return fn(ctx)
}

func (m *Manager) lockRoom(ctx context.Context, roomID, token string) error {
	for {
		ok, err := m.kv.SetIfAbsent(ctx, lockKey(roomID), []byte(token), m.lockTTL)
		if err != nil {
			return fmt.Errorf("%w: lock room %v: %w", booking.ErrBackendUnavailable, roomID, err)
		}

		if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: lock room %v: %w", booking.ErrBackendUnavailable, roomID, ctx.Err())
		case <-time.After(lockRetryDelay):
		}
	}
}

// unlockRoom uses its own context so locks are released even when the caller's expired.
// The token comparison and the delete are one step, so a lease that lapsed and was taken
// over by another claim is left alone.
func (m *Manager) unlockRoom(roomID, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	released, err := m.kv.DeleteIfValue(ctx, lockKey(roomID), []byte(token))
	if err != nil {
		m.l.LogErrorf("Could not release lock of room %v: %v", roomID, err.Error())

		return
	}

	if !released {
		m.l.LogWarnf("Lock of room %v lapsed before release", roomID)
	}
}

func (m *Manager) recordTTL(h *booking.Hold, now time.Time) time.Duration {
	return max(minRecordTTL, h.ExpiresAt.Add(m.retention).Sub(now))
}

func (m *Manager) insertHold(ctx context.Context, h *booking.Hold, now time.Time) error {
	raw, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("encode hold %v: %w", h.ID, err)
	}

	ttl := m.recordTTL(h, now)

	ok, err := m.kv.SetIfAbsent(ctx, holdKey(h.RoomID, h.ID), raw, ttl)
	if err != nil {
		return fmt.Errorf("%w: write hold %v: %w", booking.ErrBackendUnavailable, h.ID, err)
	}

	if !ok {
		return fmt.Errorf("hold %v already exists: %w", h.ID, booking.ErrLogic)
	}

	if _, err := m.kv.SetIfAbsent(ctx, indexKey(h.ID), []byte(h.RoomID), ttl); err != nil {
		return fmt.Errorf("%w: index hold %v: %w", booking.ErrBackendUnavailable, h.ID, err)
	}

	return nil
}

// replaceHold rewrites a hold record. Callers must hold the room lock.
func (m *Manager) replaceHold(ctx context.Context, h *booking.Hold, now time.Time) error {
	if err := m.kv.Delete(ctx, holdKey(h.RoomID, h.ID)); err != nil {
		return fmt.Errorf("%w: drop hold %v: %w", booking.ErrBackendUnavailable, h.ID, err)
	}

	raw, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("encode hold %v: %w", h.ID, err)
	}

	if _, err := m.kv.SetIfAbsent(ctx, holdKey(h.RoomID, h.ID), raw, m.recordTTL(h, now)); err != nil {
		return fmt.Errorf("%w: write hold %v: %w", booking.ErrBackendUnavailable, h.ID, err)
	}

	return nil
}

func (m *Manager) rollback(ctx context.Context, holds []*booking.Hold) {
	for _, h := range holds {
		if err := m.kv.Delete(ctx, holdKey(h.RoomID, h.ID)); err != nil {
			m.l.LogErrorf("Could not roll back hold %v in room %v: %v", h.ID, h.RoomID, err.Error())
		}

		if err := m.kv.Delete(ctx, indexKey(h.ID)); err != nil {
			m.l.LogErrorf("Could not roll back hold index %v: %v", h.ID, err.Error())
		}
	}

	if len(holds) > 0 {
		m.l.LogInfo("Rolled back %d partial holds of set %v", len(holds), holds[0].SetID)
	}
}

func (m *Manager) writeSet(ctx context.Context, set *booking.HoldSet, now time.Time) error {
	rec := setRecord{
		Holds:     make([]holdRef, 0, len(set.Holds)),
		DateRange: set.DateRange,
		ExpiresAt: set.ExpiresAt,
	}

	for _, h := range set.Holds {
		rec.Holds = append(rec.Holds, holdRef{RoomID: h.RoomID, HoldID: h.ID})
	}

	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode hold set %v: %w", set.ID, err)
	}

	ttl := max(minRecordTTL, set.ExpiresAt.Add(m.retention).Sub(now))

	if _, err := m.kv.SetIfAbsent(ctx, setKey(set.ID), raw, ttl); err != nil {
		return fmt.Errorf("%w: write hold set %v: %w", booking.ErrBackendUnavailable, set.ID, err)
	}

	return nil
}

func (m *Manager) readSet(ctx context.Context, setID string) (setRecord, bool, error) {
	var rec setRecord

	raw, err := m.kv.Get(ctx, setKey(setID))
	if errors.Is(err, booking.ErrRecordNotFound) {
		return rec, false, nil
	}

	if err != nil {
		return rec, false, fmt.Errorf("%w: read hold set %v: %w", booking.ErrBackendUnavailable, setID, err)
	}

	if err := json.Unmarshal(raw, &rec); err != nil {
		return rec, false, fmt.Errorf("decode hold set %v: %w", setID, err)
	}

	return rec, true, nil
}

func (m *Manager) lookup(ctx context.Context, holdID string) (holdRef, bool, error) {
	room, err := m.kv.Get(ctx, indexKey(holdID))
	if errors.Is(err, booking.ErrRecordNotFound) {
		return holdRef{}, false, nil
	}

	if err != nil {
		return holdRef{}, false, fmt.Errorf("%w: look up hold %v: %w", booking.ErrBackendUnavailable, holdID, err)
	}

	return holdRef{RoomID: string(room), HoldID: holdID}, true, nil
}

func (m *Manager) readHold(ctx context.Context, ref holdRef) (*booking.Hold, error) {
	raw, err := m.kv.Get(ctx, holdKey(ref.RoomID, ref.HoldID))
	if errors.Is(err, booking.ErrRecordNotFound) {
		return nil, err //nolint:wrapcheck
	}

	if err != nil {
		return nil, fmt.Errorf("%w: read hold %v: %w", booking.ErrBackendUnavailable, ref.HoldID, err)
	}

	var h booking.Hold
	if err := json.Unmarshal(raw, &h); err != nil {
		return nil, fmt.Errorf("decode hold %v: %w", ref.HoldID, err)
	}

	return &h, nil
}

func (m *Manager) listHolds(ctx context.Context, prefix string) ([]*booking.Hold, error) {
	keys, err := m.kv.KeysMatching(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("%w: list holds: %w", booking.ErrBackendUnavailable, err)
	}

	holds := make([]*booking.Hold, 0, len(keys))

	for _, key := range keys {
		raw, err := m.kv.Get(ctx, key)
		if errors.Is(err, booking.ErrRecordNotFound) {
			// Deleted or expired between list and read, or mid-rewrite under a lock.
			continue
		}

		if err != nil {
			return nil, fmt.Errorf("%w: read %v: %w", booking.ErrBackendUnavailable, key, err)
		}

		var h booking.Hold
		if err := json.Unmarshal(raw, &h); err != nil {
			m.l.LogWarnf("Skipping undecodable hold record %v: %v", key, err.Error())

			continue
		}

		holds = append(holds, &h)
	}

	return holds, nil
}

func (m *Manager) invalidate(ctx context.Context, dr booking.DateRange) {
	// The caller's deadline may already be spent on a slow claim; invalidation must still run.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
	defer cancel()

	if err := m.cache.InvalidateRange(ctx, dr); err != nil {
		m.l.LogErrorf("Could not invalidate availability cache for %v: %v", dr, err.Error())
	}
}

func (m *Manager) publish(ctx context.Context, t events.HoldEventType, h *booking.Hold) {
	if m.publisher == nil {
		return
	}

	if err := m.publisher.Publish(context.WithoutCancel(ctx), events.NewHoldEvent(t, h, m.clock.Now())); err != nil {
		m.l.LogErrorf("Could not publish %v for hold %v: %v", t, h.ID, err.Error())
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.End()
}
