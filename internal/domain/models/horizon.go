package models

import (
	"fmt"
	"time"
)

// Horizon is a fixed forward-looking window.
type Horizon string

const (
	H30   Horizon = "H30"
	H2H   Horizon = "H2H"
	HDAY  Horizon = "HDAY"
	HWEEK Horizon = "HWEEK"
)

// Horizons lists every horizon from shortest to longest.
var Horizons = []Horizon{H30, H2H, HDAY, HWEEK}

// HorizonSpec describes the scan, target and evaluation parameters of a horizon.
type HorizonSpec struct {
	Horizon  Horizon
	Duration time.Duration
	// Lookback is the candle window the scanner reads.
	Lookback time.Duration
	Swing    bool
	// TargetATR and StopATR are the ATR multiples attached to opportunities.
	TargetATR float64
	StopATR   float64
	// EvalMinutes is the forward window, in trading minutes, walked by the
	// truth test.
	EvalMinutes int
}

var horizonSpecs = map[Horizon]HorizonSpec{
	H30:   {Horizon: H30, Duration: 30 * time.Minute, Lookback: 60 * time.Minute, TargetATR: 1.5, StopATR: 0.75, EvalMinutes: 30},
	H2H:   {Horizon: H2H, Duration: 2 * time.Hour, Lookback: 240 * time.Minute, TargetATR: 2.0, StopATR: 1.0, EvalMinutes: 120},
	HDAY:  {Horizon: HDAY, Duration: 24 * time.Hour, Lookback: 1440 * time.Minute, Swing: true, TargetATR: 3.0, StopATR: 1.5, EvalMinutes: 390},
	HWEEK: {Horizon: HWEEK, Duration: 7 * 24 * time.Hour, Lookback: 10080 * time.Minute, Swing: true, TargetATR: 5.0, StopATR: 2.5, EvalMinutes: 1950},
}

// Spec returns the horizon parameters.
func (h Horizon) Spec() (HorizonSpec, error) {
	s, ok := horizonSpecs[h]
	if !ok {
		return HorizonSpec{}, fmt.Errorf("unknown horizon %q", h)
	}
	return s, nil
}

// Valid reports whether h is a known horizon.
func (h Horizon) Valid() bool {
	_, ok := horizonSpecs[h]
	return ok
}

// ATRMultiples returns (target, stop) ATR multiples, defaulting to H2H's for
// unknown horizons.
func (h Horizon) ATRMultiples() (float64, float64) {
	if s, ok := horizonSpecs[h]; ok {
		return s.TargetATR, s.StopATR
	}
	return 2.0, 1.0
}

// AllowedHorizons returns the horizons the attention bucket permits. CHAOTIC
// keeps only the shortest horizon, UNSTABLE gates only the longest.
func AllowedHorizons(b Bucket) []Horizon {
	switch b {
	case Chaotic:
		return []Horizon{H30}
	case Unstable:
		return []Horizon{H30, H2H, HDAY}
	default:
		return append([]Horizon(nil), Horizons...)
	}
}

// HorizonAllowed reports whether h passes the attention gate for b.
func HorizonAllowed(b Bucket, h Horizon) bool {
	for _, a := range AllowedHorizons(b) {
		if a == h {
			return true
		}
	}
	return false
}
