package availability

import (
	"fmt"
	"sort"
	"time"

	"github.com/avstrong/hostel/internal/booking"
)

// CountOccupied sums beds per room over occupying reservations and live holds overlapping dr.
func CountOccupied(
	dr booking.DateRange,
	reservations []booking.ConfirmedReservation,
	holds []*booking.Hold,
	now time.Time,
) map[string]int {
	occupied := make(map[string]int)

	for _, r := range reservations {
		if r.Status.Occupying() && r.DateRange.Overlaps(dr) {
			occupied[r.RoomID] += r.BedsCount
		}
	}

	for _, h := range holds {
		if h.Occupies(now) && h.DateRange.Overlaps(dr) {
			occupied[h.RoomID] += h.BedsCount
		}
	}

	return occupied
}

// EffectiveType applies the flexible-room rule for a query at now. It never mutates the room.
func EffectiveType(room booking.Room, occupied int, checkIn, now time.Time) booking.RoomType {
	if !room.IsFlexible {
		return room.BaseType
	}

	hoursUntil := checkIn.Sub(now).Hours()
	if occupied == 0 && hoursUntil <= float64(room.AutoConvertThresholdHours) {
		return booking.RoomTypeMixed
	}

	return room.BaseType
}

// Snapshot builds per-room occupancy in catalog order.
func Snapshot(rooms []booking.Room, occupied map[string]int, checkIn, now time.Time) []booking.RoomOccupancy {
	out := make([]booking.RoomOccupancy, 0, len(rooms))

	for _, room := range rooms {
		taken := occupied[room.ID]

		out = append(out, booking.RoomOccupancy{
			RoomID:        room.ID,
			DisplayName:   room.DisplayName,
			Capacity:      room.Capacity,
			Occupied:      taken,
			Available:     max(0, room.Capacity-taken),
			EffectiveType: EffectiveType(room, taken, checkIn, now),
		})
	}

	return out
}

const maxSuggestions = 3

// Suggest proposes at most three ways forward when the group does not fit.
func Suggest(rooms []booking.RoomOccupancy, requested int) []string {
	sorted := make([]booking.RoomOccupancy, len(rooms))
	copy(sorted, rooms)

	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Available > sorted[j].Available
	})

	var suggestions []string

	if len(sorted) >= 2 && sorted[1].Available > 0 { //nolint:gomnd
		suggestions = append(suggestions, fmt.Sprintf(
			"split the group between %v (%d beds) and %v (%d beds)",
			sorted[0].RoomID, sorted[0].Available, sorted[1].RoomID, sorted[1].Available,
		))
	}

	if len(sorted) > 0 && sorted[0].Available > 0 && sorted[0].Available < requested {
		suggestions = append(suggestions, fmt.Sprintf(
			"reduce the group to %d beds to stay together in %v",
			sorted[0].Available, sorted[0].RoomID,
		))
	}

	suggestions = append(suggestions, "try different dates")

	if len(suggestions) > maxSuggestions {
		suggestions = suggestions[:maxSuggestions]
	}

	return suggestions
}
