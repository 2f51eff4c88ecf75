package models

import "time"

// Trend is the moving-average structure of a candidate.
type Trend string

const (
	TrendUp   Trend = "UP"
	TrendDown Trend = "DOWN"
)

// Candidate is a ticker that passed every scanner filter.
type Candidate struct {
	Ticker    string  `json:"ticker"`
	Price     float64 `json:"price"`
	ATR       float64 `json:"atr"`
	ATRPct    float64 `json:"atr_pct"`
	AvgVolume float64 `json:"avg_volume"`
	RelVolume float64 `json:"rel_volume"`
	Trend     Trend   `json:"trend"`
}

// CandidateList is the scanner output for one horizon.
type CandidateList struct {
	Horizon      Horizon     `json:"horizon"`
	Candidates   []Candidate `json:"candidates"`
	ScanTime     time.Time   `json:"scan_time"`
	UniverseSize int         `json:"universe_size"`
	MarketState  Light       `json:"market_state"`
}

// Tickers returns the candidate symbols in order.
func (l CandidateList) Tickers() []string {
	out := make([]string, len(l.Candidates))
	for i, c := range l.Candidates {
		out[i] = c.Ticker
	}
	return out
}
