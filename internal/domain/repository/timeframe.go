package repository

import "time"

// Timeframe is a candle resolution. Each one is backed by its own rollup
// table.
type Timeframe string

const (
	TF1m Timeframe = "1m"
	TF5m Timeframe = "5m"
	TF1d Timeframe = "1d"
)

// Duration is the bucket width, or zero for an unknown timeframe.
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case TF1m:
		return time.Minute
	case TF5m:
		return 5 * time.Minute
	case TF1d:
		return 24 * time.Hour
	}
	return 0
}

// Table names the candle table for tf, e.g. candles_5m.
func (tf Timeframe) Table() string {
	if tf.Duration() == 0 {
		return ""
	}
	return "candles_" + string(tf)
}
