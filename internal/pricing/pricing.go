package pricing

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/avstrong/hostel/internal/booking"
)

// Engine prices stays night by night. It is pure and safe for concurrent use.
type Engine struct {
	calendar *CarnivalCalendar
}

func New(calendar *CarnivalCalendar) *Engine {
	return &Engine{calendar: calendar}
}

func (e *Engine) SeasonForNight(night time.Time) booking.Season {
	if e.calendar.Contains(night) {
		return booking.SeasonCarnival
	}

	return SeasonForMonth(night.Month())
}

// Price computes base x multiplier(night) x beds summed over nights, then applies the group
// discount once to the whole subtotal. Short carnival stays are priced, not rejected.
func (e *Engine) Price(dr booking.DateRange, beds int, basePricePerBed int64) (*booking.PricingResult, error) {
	inputErr := booking.NewValidationError()

	if !dr.CheckIn.Before(dr.CheckOut) {
		inputErr.Add("check_in", "check_in must be before check_out")
	}

	if beds < 1 {
		inputErr.Add("beds", "provide at least one bed")
	}

	if basePricePerBed < 0 {
		inputErr.Add("base_price_per_bed", "base price must not be negative")
	}

	if err := inputErr.OrNil(); err != nil {
		return nil, err
	}

	result := &booking.PricingResult{
		BasePricePerBed: basePricePerBed,
		Nights:          dr.Nights(),
		BedsCount:       beds,
		Breakdown:       make([]booking.NightPrice, 0, dr.Nights()),
	} //nolint:exhaustruct

	var scaled int64

	carnival := false

	dr.EachNight(func(night time.Time) {
		season := e.SeasonForNight(night)
		if season == booking.SeasonCarnival {
			carnival = true
		}

		nightly := basePricePerBed * seasonMultiplierPct[season] * int64(beds)
		scaled += nightly

		result.Breakdown = append(result.Breakdown, booking.NightPrice{
			Date:             night,
			Season:           season,
			SeasonMultiplier: Multiplier(season),
			Amount:           divRound(nightly, 100), //nolint:gomnd
		})
	})

	result.Season = e.SeasonForNight(dr.CheckIn)
	if carnival {
		result.Season = booking.SeasonCarnival
	}

	discountPct := groupDiscountPct(beds)

	result.SeasonMultiplier = Multiplier(result.Season)
	result.Subtotal = divRound(scaled, 100)                              //nolint:gomnd
	result.TotalPrice = divRound(result.Subtotal*(100-discountPct), 100) //nolint:gomnd
	result.DiscountAmount = result.Subtotal - result.TotalPrice
	result.GroupDiscountRate = GroupDiscountRate(beds)

	return result, nil
}

// CheckMinimumStay rejects stays touching carnival that are shorter than CarnivalMinNights.
func (e *Engine) CheckMinimumStay(dr booking.DateRange) error {
	carnival, ok := e.calendar.Intersecting(dr)
	if !ok || dr.Nights() >= CarnivalMinNights {
		return nil
	}

	inputErr := booking.NewValidationError()
	inputErr.Add("check_out", fmt.Sprintf(
		"stays touching carnival %v require at least %d nights, got %d",
		carnival,
		CarnivalMinNights,
		dr.Nights(),
	))
	inputErr.Wrap(booking.ErrCarnivalMinNightsNotMet)

	return inputErr
}

func divRound(a, b int64) int64 {
	return (a + b/2) / b //nolint:gomnd
}

// FormatBRL renders minor units as R$1,234.56.
func FormatBRL(minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}

	whole := strconv.FormatInt(minor/100, 10) //nolint:gomnd

	var b strings.Builder

	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}

		b.WriteRune(r)
	}

	return fmt.Sprintf("%sR$%s.%02d", sign, b.String(), minor%100) //nolint:gomnd
}
