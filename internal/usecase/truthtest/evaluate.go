package truthtest

import (
	"math"
	"time"

	"SignalPipe/internal/domain/models"
	"SignalPipe/internal/services/features"
)

// ATRPeriod is the true-range window used for the ATR as of issue time.
const ATRPeriod = 14

// Inputs is the candle data gathered for one opportunity. ATR is zero when it
// could not be computed.
type Inputs struct {
	Entry   *models.Candle
	ATR     float64
	Forward []models.Candle
}

// Evaluate grades one opportunity long-only. The forward path is walked bar
// by bar until the target or the stop is first touched; a bar that touches
// both counts as a pass. MFE and MAE cover the path up to and including the
// resolving bar, or the whole window when neither level is reached.
func Evaluate(rec models.OpportunityRecord, in Inputs, evaluatedAt time.Time) models.PerformanceResult {
	res := models.PerformanceResult{
		OpportunityID:  rec.ID,
		Ticker:         rec.Ticker,
		Horizon:        rec.Horizon,
		ATR:            in.ATR,
		EvaluationTime: evaluatedAt.UTC(),
	}

	if in.Entry == nil {
		res.Outcome = models.OutcomeNoData
		res.Reason = "No entry candle within tolerance of issue time"
		return res
	}
	entry := in.Entry.Close
	res.EntryPrice = entry

	if in.ATR <= 0 || math.IsNaN(in.ATR) {
		res.Outcome = models.OutcomeNoData
		res.Reason = "ATR unavailable at issue time"
		return res
	}
	if len(in.Forward) == 0 {
		res.Outcome = models.OutcomeNoData
		res.Reason = "No candles in horizon window"
		return res
	}

	targetMult, stopMult := rec.TargetATR, rec.StopATR
	if targetMult <= 0 || stopMult <= 0 {
		targetMult, stopMult = rec.Horizon.ATRMultiples()
	}
	target := entry + targetMult*in.ATR
	stop := entry - stopMult*in.ATR
	res.TargetPrice = features.Round2(target)
	res.StopPrice = features.Round2(stop)

	var mfe, mae float64
	res.Outcome = models.OutcomeExpired
	resolvedAt := in.Forward[len(in.Forward)-1].Bucket
	exit := in.Forward[len(in.Forward)-1].Close

	for _, c := range in.Forward {
		mfe = math.Max(mfe, c.High-entry)
		mae = math.Max(mae, entry-c.Low)

		if c.High >= target {
			res.Outcome = models.OutcomePass
			resolvedAt, exit = c.Bucket, target
			break
		}
		if c.Low <= stop {
			res.Outcome = models.OutcomeFail
			resolvedAt, exit = c.Bucket, stop
			break
		}
	}

	res.RealizedMFE = round4(mfe)
	res.RealizedMAE = round4(mae)
	res.MFEATR = round4(mfe / in.ATR)
	res.MAEATR = round4(mae / in.ATR)
	if entry > 0 {
		res.FinalReturn = round4((exit - entry) / entry * 100)
	}
	if d := resolvedAt.Sub(rec.IssuedAt); d > 0 {
		res.TimeToResolution = d
	}
	return res
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
