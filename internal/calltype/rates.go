package calltype

import "math"

// Rates drives the bonus formula. Values are tunable at runtime through the
// config holder; zero-value lookups fall back to no bonus, which is how the
// fifth through tenth calls behave out of the box.
type Rates struct {
	Base                   map[Type]float64 `mapstructure:"base"`
	HourlyRate             float64          `mapstructure:"hourlyRate"`
	HourlyThresholdSeconds int64            `mapstructure:"hourlyThresholdSeconds"`
	MinDurationSeconds     int64            `mapstructure:"minDurationSeconds"`
}

// DefaultRates mirrors the production payout table.
func DefaultRates() Rates {
	return Rates{
		Base: map[Type]float64{
			Deposit:    10.0,
			FirstCall:  7.5,
			SecondCall: 7.5,
			ThirdCall:  5.0,
			FourthCall: 10.0,
		},
		HourlyRate:             10.0,
		HourlyThresholdSeconds: 3600,
		MinDurationSeconds:     900,
	}
}

// Bonus is a computed payout, split the way it is stored on a declaration.
type Bonus struct {
	Base   float64
	Hourly float64
	Total  float64
}

// Compute returns the payout for one qualifying call. Filler calls never pay,
// whatever the duration. The hourly component adds HourlyRate for each
// complete hour beyond the first.
func (r Rates) Compute(t Type, category Category, durationSeconds int64) Bonus {
	if category == CategoryFiller {
		return Bonus{}
	}

	base := r.Base[t]

	var hourly float64
	if durationSeconds > r.HourlyThresholdSeconds {
		additionalHours := math.Floor(float64(durationSeconds-r.HourlyThresholdSeconds) / 3600)
		hourly = additionalHours * r.HourlyRate
	}

	return Bonus{Base: base, Hourly: hourly, Total: base + hourly}
}

// Qualifies reports whether a call is long enough to declare.
func (r Rates) Qualifies(durationSeconds int64) bool {
	return durationSeconds >= r.MinDurationSeconds
}

// Hours converts a call duration to the fractional hours posted on the
// talking-time ledger row. The row value itself is rounded after the
// adjustment, not the delta.
func Hours(durationSeconds int64) float64 {
	return float64(durationSeconds) / 3600
}

// RoundCents rounds to two decimal places.
func RoundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
