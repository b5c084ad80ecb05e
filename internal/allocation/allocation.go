package allocation

import (
	"fmt"
	"sort"

	"github.com/avstrong/hostel/internal/availability"
	"github.com/avstrong/hostel/internal/booking"
	"github.com/avstrong/hostel/internal/logger"
)

const (
	DefaultMaxRoomsInSplit = 4
	maxAlternatives        = 5
	largeRoomCapacity      = 12

	singleBaseScore  = 100
	singleWasteCost  = 5
	largeRoomBonus   = 10
	multiBaseScore   = 80
	multiWasteCost   = 3
	multiPerRoomCost = 5
)

type Config struct {
	L *logger.Logger
}

// Allocator turns a free-bed snapshot into scored room assignments. It performs no I/O
// and takes no locks; claiming the result is the hold manager's job.
type Allocator struct {
	l *logger.Logger
}

func New(conf Config) *Allocator {
	return &Allocator{l: conf.L}
}

type search struct {
	singleOnly bool
	allowSplit bool
	maxRooms   int
	roomType   booking.RoomType
}

func defaultSearch() search {
	return search{
		singleOnly: false,
		allowSplit: true,
		maxRooms:   DefaultMaxRoomsInSplit,
		roomType:   "",
	}
}

func validate(requested int, prefs booking.AllocationPreferences) error {
	inputErr := booking.NewValidationError()

	if requested < 1 {
		inputErr.Add("beds", "beds must be at least 1")
	}

	switch prefs.RoomTypePreference {
	case "", booking.RoomTypeMixed, booking.RoomTypeFemale:
	default:
		inputErr.Add("room_type_preference", fmt.Sprintf("unknown room type %q", prefs.RoomTypePreference))
	}

	if prefs.MaxRoomsInSplit < 0 {
		inputErr.Add("max_rooms_in_split", "max_rooms_in_split must not be negative")
	}

	return inputErr.OrNil()
}

func narrowed(prefs booking.AllocationPreferences) search {
	s := defaultSearch()
	s.singleOnly = prefs.PreferSingleRoom
	s.roomType = prefs.RoomTypePreference

	if prefs.AllowSplit != nil {
		s.allowSplit = *prefs.AllowSplit
	}

	if prefs.MaxRoomsInSplit > 0 {
		s.maxRooms = min(prefs.MaxRoomsInSplit, DefaultMaxRoomsInSplit)
	}

	return s
}

// Allocate picks the best plan for requested beds plus ranked alternatives. Preferences only
// narrow the search: when the narrowed search finds nothing, it is repeated without them.
func (a *Allocator) Allocate(
	rooms []booking.RoomOccupancy,
	requested int,
	prefs booking.AllocationPreferences,
) (*booking.AllocationResult, error) {
	if err := validate(requested, prefs); err != nil {
		return nil, err
	}

	if result := run(rooms, requested, narrowed(prefs)); result != nil {
		return result, nil
	}

	if prefs != (booking.AllocationPreferences{}) { //nolint:exhaustruct
		a.l.LogDebugf("No allocation of %d beds honours preferences %+v, retrying without them", requested, prefs)

		if result := run(rooms, requested, defaultSearch()); result != nil {
			return result, nil
		}
	}

	total := 0
	for _, room := range rooms {
		total += room.Available
	}

	return nil, booking.NewNoAvailabilityError(
		fmt.Sprintf("cannot place %d beds, %d available", requested, total),
		availability.Suggest(rooms, requested),
	)
}

func run(rooms []booking.RoomOccupancy, requested int, s search) *booking.AllocationResult {
	eligible := make([]booking.RoomOccupancy, 0, len(rooms))

	for _, room := range rooms {
		if room.Available > 0 && (s.roomType == "" || room.EffectiveType == s.roomType) {
			eligible = append(eligible, room)
		}
	}

	singles := singlePlans(eligible, requested)

	var multis []booking.AllocationPlan
	if s.allowSplit && !(s.singleOnly && len(singles) > 0) {
		multis = multiPlans(eligible, requested, s.maxRooms)
	}

	var finalists []booking.AllocationPlan
	if len(singles) > 0 {
		finalists = append(finalists, singles[0])
	}

	if len(multis) > 0 {
		finalists = append(finalists, multis[0])
	}

	if len(finalists) == 0 {
		return nil
	}

	sort.SliceStable(finalists, func(i, j int) bool { return better(finalists[i], finalists[j]) })

	best := finalists[0]

	var rest []booking.AllocationPlan
	if len(finalists) > 1 {
		rest = append(rest, finalists[1])
	}

	rest = append(rest, singles[min(1, len(singles)):]...)
	rest = append(rest, multis[min(1, len(multis)):]...)

	sort.SliceStable(rest, func(i, j int) bool { return better(rest[i], rest[j]) })

	if len(rest) > maxAlternatives {
		rest = rest[:maxAlternatives]
	}

	return &booking.AllocationResult{
		Best:         &best,
		Alternatives: rest,
	}
}

// better ranks plans: higher score, then fewer rooms, then larger total capacity.
func better(a, b booking.AllocationPlan) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}

	if len(a.Allocations) != len(b.Allocations) {
		return len(a.Allocations) < len(b.Allocations)
	}

	return a.TotalCapacity > b.TotalCapacity
}

// singlePlans returns one plan per room that fits the whole group, least waste first,
// large rooms first among equal waste, catalog order last.
func singlePlans(rooms []booking.RoomOccupancy, requested int) []booking.AllocationPlan {
	var fits []booking.RoomOccupancy

	for _, room := range rooms {
		if room.Available >= requested {
			fits = append(fits, room)
		}
	}

	sort.SliceStable(fits, func(i, j int) bool {
		wi, wj := fits[i].Capacity-requested, fits[j].Capacity-requested
		if wi != wj {
			return wi < wj
		}

		return fits[i].Capacity >= largeRoomCapacity && fits[j].Capacity < largeRoomCapacity
	})

	plans := make([]booking.AllocationPlan, 0, len(fits))

	for _, room := range fits {
		waste := room.Capacity - requested

		score := singleBaseScore - singleWasteCost*waste
		if room.Capacity >= largeRoomCapacity {
			score += largeRoomBonus
		}

		plans = append(plans, booking.AllocationPlan{
			Allocations:   []booking.RoomAllocation{{RoomID: room.RoomID, BedsAssigned: requested}},
			TotalBeds:     requested,
			Strategy:      booking.StrategySingle,
			Score:         score,
			Waste:         waste,
			TotalCapacity: room.Capacity,
		})
	}

	return plans
}

// multiPlans enumerates subsets of two to maxRooms rooms covering the request by backtracking
// over rooms sorted by free beds. Subsets in which some room would receive no bed are skipped.
// Plans come back ordered by combined waste, then subset size.
func multiPlans(rooms []booking.RoomOccupancy, requested, maxRooms int) []booking.AllocationPlan {
	sorted := make([]booking.RoomOccupancy, len(rooms))
	copy(sorted, rooms)

	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Available > sorted[j].Available })

	var (
		plans []booking.AllocationPlan
		pick  []booking.RoomOccupancy
		walk  func(from, free int)
	)

	walk = func(from, free int) {
		if len(pick) >= 2 && free >= requested {
			// Rooms are visited in descending order, so the last one picked is the smallest.
			if free-pick[len(pick)-1].Available < requested {
				plans = append(plans, fill(pick, requested))
			}

			return
		}

		if len(pick) == maxRooms {
			return
		}

		for i := from; i < len(sorted); i++ {
			pick = append(pick, sorted[i])
			walk(i+1, free+sorted[i].Available)
			pick = pick[:len(pick)-1]
		}
	}

	walk(0, 0)

	sort.SliceStable(plans, func(i, j int) bool {
		if plans[i].Waste != plans[j].Waste {
			return plans[i].Waste < plans[j].Waste
		}

		return len(plans[i].Allocations) < len(plans[j].Allocations)
	})

	return plans
}

// fill assigns beds greedily, largest free room first.
func fill(rooms []booking.RoomOccupancy, requested int) booking.AllocationPlan {
	plan := booking.AllocationPlan{
		Allocations:   make([]booking.RoomAllocation, 0, len(rooms)),
		TotalBeds:     requested,
		Strategy:      booking.StrategyMulti,
		Score:         0,
		Waste:         0,
		TotalCapacity: 0,
	}

	remaining, free := requested, 0

	for _, room := range rooms {
		beds := min(room.Available, remaining)
		remaining -= beds
		free += room.Available

		plan.Allocations = append(plan.Allocations, booking.RoomAllocation{RoomID: room.RoomID, BedsAssigned: beds})
		plan.TotalCapacity += room.Capacity
	}

	plan.Waste = free - requested
	plan.Score = multiBaseScore - multiWasteCost*plan.Waste - multiPerRoomCost*len(rooms)

	return plan
}
