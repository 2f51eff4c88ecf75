package ranking

import (
	"fmt"
	"math"
	"strings"

	"SignalPipe/internal/domain/models"
	"SignalPipe/internal/services/features"
)

// Component weights of the opportunity score.
const (
	weightMomentum   = 0.40
	weightVolatility = 0.25
	weightLiquidity  = 0.20
	weightStability  = 0.15

	yellowPenalty = 10.0
	maxConfidence = 0.95
)

// band maps v onto scores by descending inclusive thresholds.
func band(v float64, thresholds []float64, scores []float64) float64 {
	for i, t := range thresholds {
		if v >= t {
			return scores[i]
		}
	}
	return 0
}

var bandScores = []float64{100, 75, 50, 25}

func momentumScore(f Features) float64 {
	score := 0.0
	if f.Aligned1m {
		score += 40
		if f.Separation1m > 1 {
			score += math.Min(10, f.Separation1m*2)
		}
	}
	if f.Slope1m > 0 {
		score += math.Min(10, f.Slope1m*0.5)
	}
	if f.Aligned5m {
		score += 30
		if f.Separation5m > 1 {
			score += math.Min(10, f.Separation5m*2)
		}
	}
	if f.Slope5m > 0 {
		score += math.Min(10, f.Slope5m*0.5)
	}
	return math.Min(100, score)
}

func volatilityScore(f Features) float64 {
	if f.Price <= 0 || f.ATR <= 0 {
		return 0
	}
	score := band(f.ATRPct(), []float64{3, 2, 1.5, 1}, bandScores)
	if f.ATRExpansion > 10 {
		score = math.Min(100, score+15)
	}
	return score
}

func liquidityScore(f Features) float64 {
	avg := (f.RelVolume1m + f.RelVolume5m) / 2
	return band(avg, []float64{2, 1.5, 1.2, 1}, bandScores)
}

func stabilityScore(f Features) float64 {
	d := f.Divergence
	switch {
	case d < 0.5:
		return 100
	case d < 1:
		return 75
	case d < 2:
		return 50
	case d < 5:
		return 25
	default:
		return 0
	}
}

// Score computes the weighted opportunity score after the market-state
// adjustment, with its breakdown and explanation lines.
func Score(f Features, state models.Light) (float64, models.ScoreBreakdown, []string) {
	b := models.ScoreBreakdown{
		Momentum:   momentumScore(f),
		Volatility: volatilityScore(f),
		Liquidity:  liquidityScore(f),
		Stability:  stabilityScore(f),
	}
	b.Base = b.Momentum*weightMomentum +
		b.Volatility*weightVolatility +
		b.Liquidity*weightLiquidity +
		b.Stability*weightStability

	score := b.Base
	switch state {
	case models.Red:
		score, b.Adjustment = 0, "RED state veto"
	case models.Yellow:
		score, b.Adjustment = math.Max(0, b.Base-yellowPenalty), "YELLOW state penalty (-10)"
	default:
		b.Adjustment = "GREEN state (no penalty)"
	}

	var why []string
	if b.Momentum > 0 {
		why = append(why, fmt.Sprintf("Momentum: %.1f (EMA alignment)", b.Momentum))
	}
	if b.Volatility > 0 {
		why = append(why, fmt.Sprintf("Volatility: %.1f (ATR expansion)", b.Volatility))
	}
	if b.Liquidity > 0 {
		why = append(why, fmt.Sprintf("Liquidity: %.1f (relative volume)", b.Liquidity))
	}
	if b.Stability > 0 {
		why = append(why, fmt.Sprintf("Stability: %.1f (low divergence)", b.Stability))
	}
	why = append(why, "MarketState: "+b.Adjustment)

	b.Momentum = features.Round2(b.Momentum)
	b.Volatility = features.Round2(b.Volatility)
	b.Liquidity = features.Round2(b.Liquidity)
	b.Stability = features.Round2(b.Stability)
	b.Base = features.Round2(b.Base)
	return features.Round2(score), b, why
}

// DirectionVote is the directional bias with its confidence (0-95) and the
// signals behind it.
type DirectionVote struct {
	Direction  models.Direction
	Confidence float64
	Reason     string
}

// Direction votes over EMA slopes and alignment, price against VWAP, the
// recent 5m return and volume confirmation.
func Direction(f Features) DirectionVote {
	var bull, bear int
	var reasons []string

	switch {
	case f.Slope1m > 0 && f.Slope5m > 0:
		bull += 2
		reasons = append(reasons, "EMAs sloping up")
	case f.Slope1m < 0 && f.Slope5m < 0:
		bear += 2
		reasons = append(reasons, "EMAs sloping down")
	}

	if f.Aligned1m && f.Aligned5m {
		switch {
		case f.Slope1m > 0:
			bull += 2
			reasons = append(reasons, "EMA alignment bullish")
		case f.Slope1m < 0:
			bear += 2
			reasons = append(reasons, "EMA alignment bearish")
		}
	}

	if f.Price > 0 && f.VWAP > 0 {
		switch {
		case f.Price > f.VWAP*1.002:
			bull++
			reasons = append(reasons, "Above VWAP")
		case f.Price < f.VWAP*0.998:
			bear++
			reasons = append(reasons, "Below VWAP")
		}
	}

	switch {
	case f.Return5m > 0.3:
		bull++
		reasons = append(reasons, "Recent price up")
	case f.Return5m < -0.3:
		bear++
		reasons = append(reasons, "Recent price down")
	}

	if f.RelVolume1m > 1.5 {
		switch {
		case bull > bear:
			bull++
			reasons = append(reasons, "Volume confirms up")
		case bear > bull:
			bear++
			reasons = append(reasons, "Volume confirms down")
		}
	}

	total := bull + bear
	if total == 0 {
		return DirectionVote{Direction: models.NoDirection, Reason: "No clear signals"}
	}
	reason := strings.Join(reasons, " | ")
	switch {
	case bull > bear:
		return DirectionVote{models.Long, voteConfidence(bull, total), reason}
	case bear > bull:
		return DirectionVote{models.Short, voteConfidence(bear, total), reason}
	default:
		return DirectionVote{Direction: models.NoDirection, Confidence: 30, Reason: "Mixed signals"}
	}
}

func voteConfidence(leader, total int) float64 {
	c := float64(leader) / float64(total+2) * 100
	return math.Round(math.Min(95, c)*10) / 10
}

// RawConfidence maps an opportunity score onto the heuristic confidence
// curve: linear to 0.50 at score 50, then 0.50 + 0.45*x^1.5, capped at 0.95.
func RawConfidence(score float64) float64 {
	s := math.Max(0, math.Min(100, score))
	var c float64
	if s <= 50 {
		c = s / 100
	} else {
		c = 0.5 + 0.45*math.Pow((s-50)/50, 1.5)
	}
	c = math.Min(maxConfidence, c)
	return math.Round(c*10000) / 10000
}

