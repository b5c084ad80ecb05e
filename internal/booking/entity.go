package booking

import (
	"time"
)

const dateLayout = "2006-01-02"

type RoomType string

const (
	RoomTypeMixed  RoomType = "mixed"
	RoomTypeFemale RoomType = "female"
)

type Room struct {
	ID                        string   `json:"id"`
	DisplayName               string   `json:"display_name"`
	Capacity                  int      `json:"capacity"`
	BaseType                  RoomType `json:"base_type"`
	IsFlexible                bool     `json:"is_flexible"`
	AutoConvertThresholdHours int      `json:"auto_convert_threshold_hours,omitempty"`
}

// DateRange is the half-open interval of nights [CheckIn, CheckOut).
type DateRange struct {
	CheckIn  time.Time `json:"check_in"`
	CheckOut time.Time `json:"check_out"`
}

// Date truncates t to midnight UTC of its calendar day.
func Date(t time.Time) time.Time {
	y, m, d := t.Date()

	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func NewDateRange(checkIn, checkOut time.Time) DateRange {
	return DateRange{CheckIn: Date(checkIn), CheckOut: Date(checkOut)}
}

func ParseDateRange(checkIn, checkOut string) (DateRange, error) {
	in, err := time.Parse(dateLayout, checkIn)
	if err != nil {
		return DateRange{}, err //nolint:wrapcheck
	}

	out, err := time.Parse(dateLayout, checkOut)
	if err != nil {
		return DateRange{}, err //nolint:wrapcheck
	}

	return NewDateRange(in, out), nil
}

func (r DateRange) Nights() int {
	return int(r.CheckOut.Sub(r.CheckIn).Hours() / 24) //nolint:gomnd
}

func (r DateRange) Overlaps(o DateRange) bool {
	return r.CheckIn.Before(o.CheckOut) && o.CheckIn.Before(r.CheckOut)
}

// EachNight calls fn with the date of every night in the range.
func (r DateRange) EachNight(fn func(night time.Time)) {
	for d := r.CheckIn; d.Before(r.CheckOut); d = d.AddDate(0, 0, 1) {
		fn(d)
	}
}

func (r DateRange) Key() string {
	return r.CheckIn.Format(dateLayout) + "_" + r.CheckOut.Format(dateLayout)
}

func (r DateRange) String() string {
	return "[" + r.CheckIn.Format(dateLayout) + ", " + r.CheckOut.Format(dateLayout) + ")"
}

type ReservationStatus string

const (
	ReservationPendingPayment ReservationStatus = "pending_payment"
	ReservationConfirmed      ReservationStatus = "confirmed"
	ReservationCheckedIn      ReservationStatus = "checked_in"
	ReservationCancelled      ReservationStatus = "cancelled"
	ReservationExpired        ReservationStatus = "expired"
)

func (s ReservationStatus) Occupying() bool {
	switch s {
	case ReservationPendingPayment, ReservationConfirmed, ReservationCheckedIn:
		return true
	case ReservationCancelled, ReservationExpired:
		return false
	}

	return false
}

// ConfirmedReservation is the read-only projection of a stored booking row.
// One booking spread over several rooms yields one projection per room, all sharing ID.
type ConfirmedReservation struct {
	ID        string            `json:"id"`
	RoomID    string            `json:"room_id"`
	BedsCount int               `json:"beds_count"`
	DateRange DateRange         `json:"date_range"`
	Status    ReservationStatus `json:"status"`
}

type GuestRef struct {
	Name  string `json:"name"            validate:"required"`
	Email string `json:"email"           validate:"required,email"`
	Phone string `json:"phone,omitempty"`
}

type HoldStatus string

const (
	HoldActive    HoldStatus = "active"
	HoldConfirmed HoldStatus = "confirmed"
	HoldReleased  HoldStatus = "released"
	HoldExpired   HoldStatus = "expired"
)

type Hold struct {
	ID         string     `json:"id"`
	SetID      string     `json:"set_id"`
	RoomID     string     `json:"room_id"`
	BedNumbers []int      `json:"bed_numbers"`
	BedsCount  int        `json:"beds_count"`
	DateRange  DateRange  `json:"date_range"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	Status     HoldStatus `json:"status"`
	Outcome    string     `json:"outcome,omitempty"`
}

// Occupies reports whether the hold still blocks its beds at now.
func (h *Hold) Occupies(now time.Time) bool {
	return h.Status == HoldActive && !now.After(h.ExpiresAt)
}

type HoldSet struct {
	ID        string    `json:"id"`
	Holds     []*Hold   `json:"holds"`
	DateRange DateRange `json:"date_range"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s *HoldSet) TotalBeds() int {
	total := 0
	for _, h := range s.Holds {
		total += h.BedsCount
	}

	return total
}

type RoomOccupancy struct {
	RoomID        string   `json:"room_id"`
	DisplayName   string   `json:"display_name"`
	Capacity      int      `json:"capacity"`
	Occupied      int      `json:"occupied"`
	Available     int      `json:"available"`
	EffectiveType RoomType `json:"effective_type"`
}

type AvailabilityQuery struct {
	DateRange            DateRange
	RequestedBeds        int
	ExcludeReservationID string
}

type AvailabilityResult struct {
	DateRange      DateRange       `json:"date_range"`
	RequestedBeds  int             `json:"requested_beds"`
	Rooms          []RoomOccupancy `json:"rooms"`
	TotalAvailable int             `json:"total_available"`
	IsAvailable    bool            `json:"is_available"`
	Conflict       string          `json:"conflict,omitempty"`
	Suggestions    []string        `json:"suggestions,omitempty"`
}

type AllocationStrategy string

const (
	StrategySingle AllocationStrategy = "single"
	StrategyMulti  AllocationStrategy = "multi"
)

type RoomAllocation struct {
	RoomID       string `json:"room_id"`
	BedsAssigned int    `json:"beds_assigned"`
}

type AllocationPlan struct {
	Allocations   []RoomAllocation   `json:"allocations"`
	TotalBeds     int                `json:"total_beds"`
	Strategy      AllocationStrategy `json:"strategy"`
	Score         int                `json:"score"`
	Waste         int                `json:"waste"`
	TotalCapacity int                `json:"total_capacity"`
}

type AllocationPreferences struct {
	PreferSingleRoom   bool     `json:"prefer_single_room"`
	RoomTypePreference RoomType `json:"room_type_preference,omitempty"`
	AllowSplit         *bool    `json:"allow_split,omitempty"`
	MaxRoomsInSplit    int      `json:"max_rooms_in_split,omitempty"`
}

type AllocationResult struct {
	Best         *AllocationPlan  `json:"best"`
	Alternatives []AllocationPlan `json:"alternatives"`
}

type Season string

const (
	SeasonHigh     Season = "high"
	SeasonMedium   Season = "medium"
	SeasonLow      Season = "low"
	SeasonCarnival Season = "carnival"
)

type NightPrice struct {
	Date             time.Time `json:"date"`
	Season           Season    `json:"season"`
	SeasonMultiplier float64   `json:"season_multiplier"`
	Amount           int64     `json:"amount"`
}

// PricingResult amounts are integer minor currency units (centavos).
type PricingResult struct {
	BasePricePerBed   int64        `json:"base_price_per_bed"`
	Season            Season       `json:"season"`
	SeasonMultiplier  float64      `json:"season_multiplier"`
	Nights            int          `json:"nights"`
	BedsCount         int          `json:"beds_count"`
	Subtotal          int64        `json:"subtotal"`
	GroupDiscountRate float64      `json:"group_discount_rate"`
	DiscountAmount    int64        `json:"discount_amount"`
	TotalPrice        int64        `json:"total_price"`
	Breakdown         []NightPrice `json:"breakdown"`
}

type QuoteInput struct {
	DateRange            DateRange
	Beds                 int
	Preferences          AllocationPreferences
	ExcludeReservationID string
}

type Quote struct {
	DateRange    DateRange           `json:"date_range"`
	Beds         int                 `json:"beds"`
	Availability *AvailabilityResult `json:"availability"`
	Allocation   *AllocationResult   `json:"allocation"`
	Pricing      *PricingResult      `json:"pricing"`
}

// Booking is a quote whose beds are currently held.
type Booking struct {
	ID        string    `json:"id"`
	Quote     *Quote    `json:"quote"`
	Holds     *HoldSet  `json:"holds"`
	CreatedAt time.Time `json:"created_at"`
}

type ConfirmInput struct {
	Outcome string   `json:"outcome"`
	Guest   GuestRef `json:"guest"`
}

type Confirmation struct {
	BookingID     string `json:"booking_id"`
	ReservationID string `json:"reservation_id"`
	Confirmed     bool   `json:"confirmed"`
}

// NewReservation is what the reservation store receives once a hold set is paid.
type NewReservation struct {
	BookingID string          `json:"booking_id"`
	Plan      *AllocationPlan `json:"plan"`
	Pricing   *PricingResult  `json:"pricing"`
	DateRange DateRange       `json:"date_range"`
	Guest     GuestRef        `json:"guest"`
}
