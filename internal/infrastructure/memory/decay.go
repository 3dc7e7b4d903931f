package memory

import (
	"math"
	"time"
)

// DecayPolicy ages a utility value by the time elapsed since it was last
// refreshed.
type DecayPolicy interface {
	Decay(value float64, since, now time.Time) float64
}

// HalfLifeDecay halves utility every HalfLifeWeeks. A non-positive half-life
// disables decay entirely.
type HalfLifeDecay struct {
	HalfLifeWeeks float64
}

func (d HalfLifeDecay) Decay(value float64, since, now time.Time) float64 {
	if d.HalfLifeWeeks <= 0 || value <= 0 {
		return value
	}
	weeks := now.Sub(since).Hours() / (24 * 7)
	if weeks <= 0 {
		return value
	}
	return value * math.Pow(0.5, weeks/d.HalfLifeWeeks)
}
