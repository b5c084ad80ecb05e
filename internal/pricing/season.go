package pricing

import (
	"time"

	"github.com/avstrong/hostel/internal/booking"
)

// Multipliers in percent so nightly arithmetic stays integral.
var seasonMultiplierPct = map[booking.Season]int64{
	booking.SeasonHigh:     150, //nolint:gomnd
	booking.SeasonMedium:   100, //nolint:gomnd
	booking.SeasonLow:      80,  //nolint:gomnd
	booking.SeasonCarnival: 200, //nolint:gomnd
}

var monthSeason = map[time.Month]booking.Season{
	time.January:   booking.SeasonHigh,
	time.February:  booking.SeasonHigh,
	time.March:     booking.SeasonMedium,
	time.April:     booking.SeasonLow,
	time.May:       booking.SeasonLow,
	time.June:      booking.SeasonLow,
	time.July:      booking.SeasonHigh,
	time.August:    booking.SeasonLow,
	time.September: booking.SeasonLow,
	time.October:   booking.SeasonMedium,
	time.November:  booking.SeasonMedium,
	time.December:  booking.SeasonHigh,
}

// SeasonForMonth ignores carnival.
func SeasonForMonth(m time.Month) booking.Season {
	return monthSeason[m]
}

func Multiplier(s booking.Season) float64 {
	return float64(seasonMultiplierPct[s]) / 100 //nolint:gomnd
}

type discountTier struct {
	min, max int
	pct      int64
}

var groupDiscountTiers = []discountTier{
	{min: 7, max: 15, pct: 10},  //nolint:gomnd
	{min: 16, max: 25, pct: 15}, //nolint:gomnd
	{min: 26, max: 45, pct: 20}, //nolint:gomnd
}

func groupDiscountPct(beds int) int64 {
	for _, tier := range groupDiscountTiers {
		if beds >= tier.min && beds <= tier.max {
			return tier.pct
		}
	}

	return 0
}

// GroupDiscountRate is the fraction taken off the subtotal for a group of beds.
func GroupDiscountRate(beds int) float64 {
	return float64(groupDiscountPct(beds)) / 100 //nolint:gomnd
}
