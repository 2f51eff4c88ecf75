package attention

import (
	"math"
	"sort"

	"SignalPipe/internal/domain/models"
	"SignalPipe/internal/services/features"
)

// Proxy baskets.
var (
	IndexSymbols  = []string{"SPY", "QQQ", "IWM"}
	SectorSymbols = []string{"XLF", "XLK", "XLE", "XLV", "XLY", "XLP", "XLI", "XLU", "XLB", "XLC"}
	VolSymbol     = "VIXY"
)

const (
	returnBars    = 12
	volReturnBars = 6
	minCorrPoints = 5
)

// Component weights of the stability score.
const (
	weightChurn       = 0.25
	weightDispersion  = 0.30
	weightVolatility  = 0.25
	weightCorrelation = 0.20
)

// Snapshot is one cycle of fetched proxy candles keyed by symbol.
type Snapshot map[string][]models.Candle

func (s Snapshot) ret(symbol string, bars int) (float64, bool) {
	candles, ok := s[symbol]
	if !ok {
		return 0, false
	}
	return features.PctReturn(models.Closes(candles), bars)
}

// topSectors returns up to n sectors ordered by absolute return.
func topSectors(s Snapshot, n int) []string {
	type sr struct {
		sym string
		abs float64
	}
	var rs []sr
	for _, sym := range SectorSymbols {
		if r, ok := s.ret(sym, returnBars); ok {
			rs = append(rs, sr{sym, math.Abs(r)})
		}
	}
	sort.SliceStable(rs, func(i, j int) bool { return rs[i].abs > rs[j].abs })
	out := make([]string, 0, n)
	for i := 0; i < len(rs) && i < n; i++ {
		out = append(out, rs[i].sym)
	}
	return out
}

// dispersionScore is high when the index proxies move together.
func dispersionScore(indexReturns []float64) float64 {
	if len(indexReturns) < 2 {
		return 50
	}
	std := features.PopStd(indexReturns)
	return (1 - math.Min(std/0.02, 1)) * 100
}

// volatilityPressure starts at 70 and is pushed down by the market light and
// a rising volatility ETF.
func volatilityPressure(state *models.MarketState, volRet *float64) float64 {
	score := 70.0
	if state != nil {
		switch state.State {
		case models.Red:
			score -= 40
		case models.Yellow:
			score -= 20
		}
	}
	if volRet != nil {
		switch r := *volRet; {
		case r > 0.02:
			score -= 30
		case r > 0.01:
			score -= 15
		case r < -0.01:
			score += 10
		}
	}
	return features.Clamp(score, 0, 100)
}

// correlation scores the mean pairwise correlation of per-bar index returns.
func correlation(s Snapshot) (float64, string) {
	var series [][]float64
	for _, sym := range IndexSymbols {
		candles, ok := s[sym]
		if !ok {
			continue
		}
		rets := features.BarReturns(models.Closes(candles))
		if len(rets) >= minCorrPoints {
			series = append(series, rets)
		}
	}
	if len(series) < 2 {
		return 50, "Insufficient Data"
	}

	var sum float64
	var n int
	for i := 0; i < len(series); i++ {
		for j := i + 1; j < len(series); j++ {
			if c, ok := features.Pearson(series[i], series[j]); ok {
				sum += c
				n++
			}
		}
	}
	if n == 0 {
		return 50, "Insufficient Data"
	}
	mean := sum / float64(n)
	switch {
	case mean > 0.9:
		return 40, "High Correlation / Risk-Off"
	case mean > 0.7:
		return 60, "Elevated Correlation"
	case mean > 0.4:
		return 80, "Normal Correlation"
	case mean > 0.1:
		return 60, "Fragmented Leadership"
	default:
		return 50, "Decorrelated / Rotation"
	}
}

// riskState compares small caps against large caps.
func riskState(s Snapshot, corrScore float64, volRet *float64) models.RiskState {
	iwm, ok1 := s.ret("IWM", returnBars)
	spy, ok2 := s.ret("SPY", returnBars)
	if !ok1 || !ok2 {
		return models.Neutral
	}
	rel := iwm - spy
	switch {
	case rel < -0.005 && corrScore < 50 && volRet != nil && *volRet > 0.01:
		return models.RiskOff
	case rel > 0.003 && (volRet == nil || *volRet < 0):
		return models.RiskOn
	default:
		return models.Neutral
	}
}
