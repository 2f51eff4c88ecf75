package ranking

import (
	"math"
	"strings"

	"SignalPipe/internal/domain/models"
	"SignalPipe/internal/services/features"
)

// Urgency signal codes.
const (
	SignalVWAPReclaim    = "VWAP_RECLAIM"
	SignalAboveVWAP      = "ABOVE_VWAP"
	SignalStrongMomentum = "STRONG_MOMENTUM"
	SignalAccelerating   = "ACCELERATING"
	SignalNearMean       = "NEAR_MEAN"
	SignalOversoldBounce = "OVERSOLD_BOUNCE"
	SignalVolumeSurge    = "VOLUME_SURGE"
	SignalElevatedVolume = "ELEVATED_VOLUME"
	SignalBreakoutHigh   = "BREAKOUT_HIGH"
	SignalBreakdownLow   = "BREAKDOWN_LOW"
	SignalNearBreakout   = "NEAR_BREAKOUT"

	WarnVWAPRejection  = "VWAP_REJECTION"
	WarnBelowVWAP      = "BELOW_VWAP"
	WarnMomentumFading = "MOMENTUM_FADING"
	WarnWeakMomentum   = "WEAK_MOMENTUM"
	WarnOverextended   = "OVEREXTENDED"
	WarnExtended       = "EXTENDED"
	WarnLowVolume      = "LOW_VOLUME"
)

var explanations = map[string]string{
	SignalVWAPReclaim:    "Price reclaimed VWAP",
	SignalAboveVWAP:      "Trading above VWAP",
	SignalStrongMomentum: "Strong momentum confirmed",
	SignalAccelerating:   "Momentum accelerating",
	SignalNearMean:       "Price near mean - good entry zone",
	SignalOversoldBounce: "Oversold bounce setup",
	SignalVolumeSurge:    "Volume surge confirms move",
	SignalElevatedVolume: "Elevated volume",
	SignalBreakoutHigh:   "Breakout above recent high",
	SignalBreakdownLow:   "Breakdown below recent low",
	SignalNearBreakout:   "Near breakout level",

	WarnVWAPRejection:  "VWAP rejection - wait for reclaim",
	WarnBelowVWAP:      "Below VWAP - caution",
	WarnMomentumFading: "Momentum fading",
	WarnWeakMomentum:   "Weak momentum",
	WarnOverextended:   "Price overextended - wait for pullback",
	WarnExtended:       "Price extended from mean",
	WarnLowVolume:      "Low volume - lack of conviction",
}

var (
	strongTriggers = []string{SignalBreakoutHigh, SignalVWAPReclaim, SignalVolumeSurge}
	strongWarnings = []string{WarnOverextended, WarnMomentumFading}
)

// signal is one analyzer result; at most one of trigger and warning is set.
type signal struct {
	trigger string
	warning string
	delta   float64
}

type urgencyState struct {
	score    float64
	triggers []string
	warnings []string
}

func (u *urgencyState) add(s signal) {
	if s.trigger != "" {
		u.triggers = append(u.triggers, s.trigger)
	}
	if s.warning != "" {
		u.warnings = append(u.warnings, s.warning)
	}
	u.score += s.delta
}

// Urgency reads the timing of a setup from VWAP interaction, momentum,
// extension from the mean, volume and breakout structure.
func Urgency(c1m, c5m []models.Candle) models.Urgency {
	if len(c1m) == 0 && len(c5m) == 0 {
		return models.Urgency{
			Level:    models.UrgencyWatch,
			Score:    50,
			Triggers: []string{},
			Warnings: []string{"Insufficient data"},
			WhyNow:   "Insufficient data for urgency analysis",
		}
	}

	u := &urgencyState{score: 50}
	u.add(vwapSignal(c1m))
	u.add(momentumSignal(c1m, c5m))
	u.add(extensionSignal(c5m))
	u.add(volumeSignal(c1m))
	u.add(breakoutSignal(c5m))

	score := features.Clamp(u.score, 0, 100)
	level := urgencyLevel(score, u.triggers, u.warnings)
	return models.Urgency{
		Level:    level,
		Score:    features.Round2(score),
		Triggers: nonNil(u.triggers),
		Warnings: nonNil(u.warnings),
		WhyNow:   whyNow(level, u.triggers, u.warnings),
	}
}

func vwapSignal(c1m []models.Candle) signal {
	if len(c1m) < 20 {
		return signal{}
	}
	vwap, ok1 := features.VWAP(c1m)
	prevVWAP, ok2 := features.VWAP(c1m[:len(c1m)-1])
	if !ok1 || !ok2 {
		return signal{}
	}
	price := c1m[len(c1m)-1].Close
	prev := c1m[len(c1m)-2].Close
	switch {
	case prev < prevVWAP && price > vwap:
		return signal{trigger: SignalVWAPReclaim, delta: 15}
	case prev > prevVWAP && price < vwap:
		return signal{warning: WarnVWAPRejection, delta: -10}
	case price > vwap*1.002:
		return signal{trigger: SignalAboveVWAP, delta: 5}
	case price < vwap*0.998:
		return signal{warning: WarnBelowVWAP, delta: -5}
	}
	return signal{}
}

func momentumSignal(c1m, c5m []models.Candle) signal {
	if len(c5m) < 10 {
		return signal{}
	}
	closes5m := models.Closes(c5m)
	short := (closes5m[len(closes5m)-1]/closes5m[len(closes5m)-5] - 1) * 100
	micro := 0.0
	if len(c1m) >= 5 {
		closes1m := models.Closes(c1m)
		micro = (closes1m[len(closes1m)-1]/closes1m[len(closes1m)-5] - 1) * 100
	}

	switch {
	case short > 0.5 && micro > 0.1:
		return signal{trigger: SignalStrongMomentum, delta: 10}
	case micro > short/5 && micro > 0:
		return signal{trigger: SignalAccelerating, delta: 8}
	case short > 0 && micro < 0:
		return signal{warning: WarnMomentumFading, delta: -8}
	case math.Abs(short) < 0.1:
		return signal{warning: WarnWeakMomentum, delta: -3}
	}
	return signal{}
}

func extensionSignal(c5m []models.Candle) signal {
	if len(c5m) < 20 {
		return signal{}
	}
	sma, ok := features.LastSMA(models.Closes(c5m), 20)
	atr, ok2 := features.MeanRange(c5m, features.ATRPeriod)
	if !ok || !ok2 || atr <= 0 {
		return signal{}
	}
	ext := (c5m[len(c5m)-1].Close - sma) / atr
	switch {
	case ext > 2:
		return signal{warning: WarnOverextended, delta: -15}
	case ext > 1.5:
		return signal{warning: WarnExtended, delta: -8}
	case math.Abs(ext) < 0.5:
		return signal{trigger: SignalNearMean, delta: 5}
	case ext < -1.5:
		return signal{trigger: SignalOversoldBounce, delta: 10}
	}
	return signal{}
}

func volumeSignal(c1m []models.Candle) signal {
	if len(c1m) < 20 {
		return signal{}
	}
	rvol, ok := features.RelVolume(models.Volumes(c1m), 3, 20)
	if !ok {
		return signal{}
	}
	switch {
	case rvol > 2:
		return signal{trigger: SignalVolumeSurge, delta: 12}
	case rvol > 1.5:
		return signal{trigger: SignalElevatedVolume, delta: 6}
	case rvol < 0.5:
		return signal{warning: WarnLowVolume, delta: -8}
	}
	return signal{}
}

func breakoutSignal(c5m []models.Candle) signal {
	if len(c5m) < 20 {
		return signal{}
	}
	prior := c5m[len(c5m)-20 : len(c5m)-1]
	high, low := prior[0].High, prior[0].Low
	for _, c := range prior[1:] {
		high = math.Max(high, c.High)
		low = math.Min(low, c.Low)
	}
	price := c5m[len(c5m)-1].Close
	switch {
	case price > high:
		return signal{trigger: SignalBreakoutHigh, delta: 15}
	case price < low:
		return signal{trigger: SignalBreakdownLow, delta: -5}
	case price > high*0.995:
		return signal{trigger: SignalNearBreakout, delta: 8}
	}
	return signal{}
}

func urgencyLevel(score float64, triggers, warnings []string) string {
	if containsAny(triggers, strongTriggers) && score >= 60 {
		return models.UrgencyNow
	}
	if containsAny(warnings, strongWarnings) {
		if score < 40 {
			return models.UrgencyWait
		}
		return models.UrgencyWatch
	}
	switch {
	case score >= 75:
		return models.UrgencyNow
	case score >= 60:
		return models.UrgencySoon
	case score >= 45:
		return models.UrgencyWatch
	case score >= 30:
		return models.UrgencyWait
	default:
		return models.UrgencyAvoid
	}
}

func whyNow(level string, triggers, warnings []string) string {
	var parts []string
	for _, t := range triggers[:min(2, len(triggers))] {
		parts = append(parts, explain(t))
	}
	for _, w := range warnings[:min(2, len(warnings))] {
		parts = append(parts, explain(w))
	}
	if len(parts) == 0 {
		return level + ": No strong signals"
	}
	return level + ": " + strings.Join(parts, " | ")
}

func explain(code string) string {
	if e, ok := explanations[code]; ok {
		return e
	}
	return code
}

func containsAny(have, want []string) bool {
	for _, h := range have {
		for _, w := range want {
			if h == w {
				return true
			}
		}
	}
	return false
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
