package pricing

import (
	"sync"
	"time"

	"github.com/avstrong/hostel/internal/booking"
)

const CarnivalMinNights = 5

// CarnivalCalendar answers which nights belong to carnival. Explicit overrides win,
// otherwise the interval is derived from Easter: Friday before through Shrove Tuesday night.
type CarnivalCalendar struct {
	mu        sync.Mutex
	overrides map[int]booking.DateRange
	computed  map[int]booking.DateRange
}

func NewCarnivalCalendar(overrides []booking.DateRange) *CarnivalCalendar {
	c := &CarnivalCalendar{
		mu:        sync.Mutex{},
		overrides: make(map[int]booking.DateRange, len(overrides)),
		computed:  make(map[int]booking.DateRange),
	}

	for _, r := range overrides {
		c.overrides[r.CheckIn.Year()] = r
	}

	return c
}

func (c *CarnivalCalendar) ForYear(year int) booking.DateRange {
	c.mu.Lock()
	defer c.mu.Unlock()

	if r, ok := c.overrides[year]; ok {
		return r
	}

	if r, ok := c.computed[year]; ok {
		return r
	}

	easter := EasterSunday(year)
	r := booking.DateRange{
		CheckIn:  easter.AddDate(0, 0, -51), //nolint:gomnd
		CheckOut: easter.AddDate(0, 0, -46), //nolint:gomnd
	}
	c.computed[year] = r

	return r
}

func (c *CarnivalCalendar) Contains(night time.Time) bool {
	r := c.ForYear(night.Year())

	return !night.Before(r.CheckIn) && night.Before(r.CheckOut)
}

// Intersecting returns the carnival interval the range touches, if any.
func (c *CarnivalCalendar) Intersecting(dr booking.DateRange) (booking.DateRange, bool) {
	for year := dr.CheckIn.Year(); year <= dr.CheckOut.Year(); year++ {
		if r := c.ForYear(year); r.Overlaps(dr) {
			return r, true
		}
	}

	return booking.DateRange{}, false
}

// EasterSunday uses the anonymous Gregorian algorithm.
//
//nolint:gomnd
func EasterSunday(year int) time.Time {
	a := year % 19
	b := year / 100
	c := year % 100
	d := b / 4
	e := b % 4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - d - g + 15) % 30
	i := c / 4
	k := c % 4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451
	month := (h + l - 7*m + 114) / 31
	day := (h+l-7*m+114)%31 + 1

	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
}
