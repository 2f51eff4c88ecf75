package ranking

import (
	"context"
	"fmt"
	"math"
	"strings"

	"SignalPipe/internal/domain/models"
)

// Brief summarizes current market, attention and calibration state into a
// session posture. It reads state only.
func (e *Engine) Brief(ctx context.Context) (models.Brief, error) {
	snap, err := e.readSnapshot(ctx)
	if err != nil {
		return models.Brief{}, err
	}
	shrink := snap.globalShrink()
	b := models.Brief{
		DayType:         dayType(snap.market.State, snap.attention.Bucket),
		CautionLevel:    cautionLevel(snap.market.State),
		Warnings:        briefWarnings(snap, shrink),
		Volatility:      volatilityRegime(snap.market.VolatilityLevel),
		ViableHorizons:  models.AllowedHorizons(snap.attention.Bucket),
		ModelConfidence: modelConfidence(snap.calibration, shrink),
		Guidance:        guidance(snap.market.State, snap.attention.Bucket, shrink),
		Narrative:       narrative(snap, shrink),
		MarketState:     snap.market.State,
		AttentionBucket: snap.attention.Bucket,
		GeneratedAt:     e.now().UTC(),
	}
	return b, nil
}

func dayType(state models.Light, bucket models.Bucket) string {
	switch {
	case state == models.Red:
		return "NO_TRADE"
	case state == models.Yellow || bucket == models.Chaotic:
		return "CAUTION"
	case bucket == models.Unstable:
		return "SELECTIVE"
	case bucket == models.Stable && state == models.Green:
		return "NORMAL"
	}
	return "UNCERTAIN"
}

func cautionLevel(state models.Light) string {
	switch state {
	case models.Red:
		return "EXTREME"
	case models.Yellow:
		return "ELEVATED"
	}
	return "NORMAL"
}

func briefWarnings(snap snapshot, shrink float64) []string {
	out := []string{}
	switch snap.market.State {
	case models.Red:
		out = append(out, "MARKET HALTED: "+reasonOrUnknown(snap.market.Reason))
	case models.Yellow:
		out = append(out, "ELEVATED CAUTION: "+reasonOrUnknown(snap.market.Reason))
	}
	if snap.attention.Bucket == models.Chaotic {
		out = append(out, "CHAOTIC ATTENTION: Only H30 horizons allowed")
	}
	if shrink < degradedShrink {
		out = append(out, fmt.Sprintf("MODEL DEGRADED: Confidence reduced to %.0f%%", shrink*100))
	}
	if snap.calibration != nil && len(snap.calibration.DegradedHorizons) > 0 {
		hs := make([]string, len(snap.calibration.DegradedHorizons))
		for i, h := range snap.calibration.DegradedHorizons {
			hs[i] = string(h)
		}
		out = append(out, "DEGRADED HORIZONS: "+strings.Join(hs, ", "))
	}
	return out
}

func reasonOrUnknown(r string) string {
	if r == "" {
		return "Unknown reason"
	}
	return r
}

func volatilityRegime(level *float64) models.VolatilityRegime {
	r := models.VolatilityRegime{Level: level}
	switch {
	case level == nil:
		r.Regime, r.Description = "UNKNOWN", "Volatility data unavailable"
	case *level >= 25:
		r.Regime, r.Description = "EXTREME", "Extreme volatility - trading halted"
	case *level >= 20:
		r.Regime, r.Description = "ELEVATED", "Elevated volatility - reduced position sizes"
	case *level >= 15:
		r.Regime, r.Description = "NORMAL", "Normal volatility conditions"
	default:
		r.Regime, r.Description = "LOW", "Low volatility - watch for breakouts"
	}
	return r
}

func modelConfidence(cal *models.CalibrationState, shrink float64) models.ModelConfidence {
	mc := models.ModelConfidence{ShrinkFactor: shrink, ConfidencePct: math.Round(shrink*1000) / 10}
	if cal != nil {
		mc.TotalEvaluations = cal.GlobalStats.TotalEvaluations
	}
	switch {
	case shrink >= reducedShrink:
		mc.Level = "NORMAL"
	case shrink >= degradedShrink:
		mc.Level = "REDUCED"
	default:
		mc.Level = "DEGRADED"
	}
	return mc
}

func guidance(state models.Light, bucket models.Bucket, shrink float64) models.ActionGuidance {
	switch {
	case state == models.Red:
		return models.ActionGuidance{Action: "DO NOT TRADE", Sizing: "0%", Guidance: "Market state is RED. Wait for conditions to improve."}
	case bucket == models.Chaotic:
		return models.ActionGuidance{Action: "SCALPS ONLY", Sizing: "25-50%", Guidance: "Chaotic attention. H30 setups with tight stops."}
	case state == models.Yellow || shrink < degradedShrink:
		return models.ActionGuidance{Action: "SELECTIVE", Sizing: "50-75%", Guidance: "Elevated caution or degraded model. High-conviction setups only."}
	case bucket == models.Unstable:
		return models.ActionGuidance{Action: "NORMAL WITH CAUTION", Sizing: "75-100%", Guidance: "Unstable attention. H30, H2H and HDAY setups."}
	}
	return models.ActionGuidance{Action: "NORMAL", Sizing: "100%", Guidance: "Favorable conditions. All horizons viable."}
}

func narrative(snap snapshot, shrink float64) string {
	var parts []string
	switch {
	case snap.market.State == models.Red:
		parts = append(parts, "Today is a NO-TRADE day.")
	case snap.market.State == models.Yellow:
		parts = append(parts, "Today requires elevated caution.")
	case snap.attention.Bucket == models.Stable:
		parts = append(parts, "Conditions are favorable for trading.")
	default:
		parts = append(parts, "Today is a selective trading day.")
	}
	if v := snap.market.VolatilityLevel; v != nil {
		src := snap.market.VolatilitySource
		if src == "" {
			src = "Volatility"
		}
		parts = append(parts, fmt.Sprintf("%s is at %.2f.", src, *v))
	}
	parts = append(parts, fmt.Sprintf("Market attention is %s (score: %.0f).", snap.attention.Bucket, snap.attention.StabilityScore))
	switch snap.attention.RiskState {
	case models.RiskOn:
		parts = append(parts, "Risk appetite is elevated.")
	case models.RiskOff:
		parts = append(parts, "Risk appetite is defensive.")
	}
	if shrink < reducedShrink {
		parts = append(parts, fmt.Sprintf("Model confidence is reduced to %.0f%%.", shrink*100))
	}
	switch snap.attention.Bucket {
	case models.Chaotic:
		parts = append(parts, "Only H30 (30-min) horizons are viable.")
	case models.Unstable:
		parts = append(parts, "HWEEK horizons are gated.")
	}
	return strings.Join(parts, " ")
}
