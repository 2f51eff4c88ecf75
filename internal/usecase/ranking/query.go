package ranking

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"SignalPipe/internal/domain/models"
	"SignalPipe/internal/services/features"
	applogger "SignalPipe/pkg/logger"
)

// Query thresholds.
const (
	lowConfidencePct  = 25.0
	highConfidencePct = 60.0
	lowProbability    = 0.30
	degradedShrink    = 0.7
	reducedShrink     = 0.9
	recentDataWindow  = 24 * time.Hour
)

var standDownText = map[models.ReasonCode]string{
	models.ReasonMarketRed:           "Market is in RED state - all trading halted",
	models.ReasonMarketYellow:        "Market is in YELLOW state - reduced confidence",
	models.ReasonAttentionChaotic:    "Market attention is CHAOTIC - only shortest horizons allowed",
	models.ReasonAttentionUnstable:   "Market attention is UNSTABLE - longer horizons gated",
	models.ReasonCalibrationDegraded: "Model calibration is degraded - probabilities reduced",
	models.ReasonLowConfidence:       "Confidence score is below threshold",
	models.ReasonLowProbability:      "Probability of success is too low",
	models.ReasonScoringFailed:       "Unable to compute opportunity score",
	models.ReasonScoringError:        "Error during opportunity computation",
}

// snapshot is the shared state a query or brief reads once.
type snapshot struct {
	market      models.MarketState
	attention   models.AttentionState
	calibration *models.CalibrationState
}

func (s snapshot) globalShrink() float64 {
	if s.calibration == nil || s.calibration.GlobalShrink <= 0 {
		return 1.0
	}
	return models.ClampShrink(s.calibration.GlobalShrink)
}

// readSnapshot loads market, attention and calibration state. A missing
// market state reads as RED.
func (e *Engine) readSnapshot(ctx context.Context) (snapshot, error) {
	market, err := e.store.GetMarketState(ctx)
	if err != nil {
		return snapshot{}, fmt.Errorf("read market state: %w", err)
	}
	cal, _ := e.storedCalibration(ctx)
	s := snapshot{attention: e.attention(ctx), calibration: cal}
	if market == nil {
		s.market = models.MarketState{State: models.Red, Reason: "Market state unavailable"}
	} else {
		s.market = *market
	}
	return s, nil
}

// Query answers whether ticker can be traded now. It replays the veto chain
// against current state, scores every horizon the attention bucket allows
// and never writes anything.
func (e *Engine) Query(ctx context.Context, ticker string) (models.QueryResult, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if ticker == "" {
		return models.QueryResult{}, errors.New("ticker is required")
	}
	snap, err := e.readSnapshot(ctx)
	if err != nil {
		return models.QueryResult{}, err
	}
	now := e.now().UTC()

	res := models.QueryResult{
		Ticker:    ticker,
		Reasons:   []models.ReasonCode{},
		Timestamp: now,
		Market: models.MarketContext{
			State:       snap.market.State,
			Reason:      snap.market.Reason,
			Volatility:  snap.market.VolatilityLevel,
			MarketHours: snap.market.MarketHours,
		},
		Attention: models.AttentionContext{
			Score:    snap.attention.StabilityScore,
			Bucket:   snap.attention.Bucket,
			Risk:     snap.attention.RiskState,
			Degraded: snap.attention.Degraded,
		},
		Calibration: models.CalibrationContext{
			GlobalShrink:     snap.globalShrink(),
			DegradedHorizons: []models.Horizon{},
			DegradedStates:   []models.Light{},
		},
	}
	if cal := snap.calibration; cal != nil {
		res.Calibration.DegradedHorizons = append(res.Calibration.DegradedHorizons, cal.DegradedHorizons...)
		res.Calibration.DegradedStates = append(res.Calibration.DegradedStates, cal.DegradedStates...)
		res.Calibration.TotalEvaluations = cal.GlobalStats.TotalEvaluations
	}

	hardVeto := false
	eligible := true
	switch snap.market.State {
	case models.Red:
		eligible, hardVeto = false, true
		res.Reasons = append(res.Reasons, models.ReasonMarketRed)
	case models.Yellow:
		res.Reasons = append(res.Reasons, models.ReasonMarketYellow)
	}
	switch snap.attention.Bucket {
	case models.Chaotic:
		res.Reasons = append(res.Reasons, models.ReasonAttentionChaotic)
	case models.Unstable:
		res.Reasons = append(res.Reasons, models.ReasonAttentionUnstable)
	}
	if res.Calibration.GlobalShrink < degradedShrink {
		res.Reasons = append(res.Reasons, models.ReasonCalibrationDegraded)
	}

	set, fetchErr := e.fetchSet(ctx, ticker, true)
	if fetchErr == nil && !hasRecentData(set.M5, now) {
		eligible, hardVeto = false, true
		res.Reasons = append(res.Reasons, models.ReasonNoData)
	}

	var primary *models.Opportunity
	if eligible {
		switch {
		case fetchErr != nil:
			e.log.Warn("query fetch failed", applogger.String("ticker", ticker), applogger.Error(fetchErr))
			res.Reasons = append(res.Reasons, models.ReasonScoringError)
		default:
			primary = e.scoreHorizons(&res, ticker, set, snap, now)
		}
	}
	if primary != nil {
		if primary.ConfidencePct < lowConfidencePct {
			res.Reasons = append(res.Reasons, models.ReasonLowConfidence)
		}
		if primary.Probability < lowProbability {
			res.Reasons = append(res.Reasons, models.ReasonLowProbability)
		}
	}

	res.StandDown = standDown(ticker, res.Reasons, hardVeto)

	if eligible && primary != nil {
		if primary.ConfidencePct >= highConfidencePct {
			res.Reasons = append(res.Reasons, models.ReasonHighConfidence)
		}
		if snap.market.State == models.Green {
			res.Reasons = append(res.Reasons, models.ReasonMarketGreen)
		}
		if snap.attention.Bucket == models.Stable {
			res.Reasons = append(res.Reasons, models.ReasonAttentionStable)
		}
		u := Urgency(set.M1, set.M5)
		res.Urgency = &u
		res.Opportunity = primary
		res.Eligible = true
	}
	return res, nil
}

// scoreHorizons fills the per-horizon breakdown and returns the horizon with
// the best probability, or nil when none could be scored.
func (e *Engine) scoreHorizons(res *models.QueryResult, ticker string, set CandleSet, snap snapshot, now time.Time) *models.Opportunity {
	var primary *models.Opportunity
	failed, errored := false, false
	for _, h := range models.AllowedHorizons(snap.attention.Bucket) {
		opp, err := Build(ticker, h, set, snap.market.State, snap.attention, snap.calibration, now)
		if err != nil {
			if errors.Is(err, features.ErrInsufficientCandles) {
				failed = true
			} else {
				errored = true
			}
			continue
		}
		res.Horizons = append(res.Horizons, models.HorizonBreakdown{
			Horizon:     h,
			Score:       opp.OpportunityScore,
			Breakdown:   opp.Breakdown,
			Raw:         opp.RawConfidence,
			Shrink:      opp.ShrinkFactor,
			Probability: opp.Probability,
			TargetATR:   opp.TargetATR,
			StopATR:     opp.StopATR,
		})
		if primary == nil || opp.Probability > primary.Probability {
			o := opp
			primary = &o
		}
	}
	if primary == nil {
		switch {
		case failed:
			res.Reasons = append(res.Reasons, models.ReasonScoringFailed)
		case errored:
			res.Reasons = append(res.Reasons, models.ReasonScoringError)
		}
	}
	return primary
}

func hasRecentData(c5m []models.Candle, now time.Time) bool {
	last, ok := models.Last(c5m)
	return ok && now.Sub(last.Bucket) <= recentDataWindow
}

// standDown picks the action: any hard veto means DO NOT TRADE, low
// confidence or probability means WAIT, anything else MONITOR.
func standDown(ticker string, reasons []models.ReasonCode, hardVeto bool) models.StandDown {
	sd := models.StandDown{Explanations: []string{}}
	for _, r := range reasons {
		if r == models.ReasonNoData {
			sd.Explanations = append(sd.Explanations, fmt.Sprintf("No recent price data available for %s", ticker))
			continue
		}
		if text, ok := standDownText[r]; ok {
			sd.Explanations = append(sd.Explanations, text)
		}
	}

	switch {
	case hardVeto:
		sd.Action, sd.Severity = models.ActionDoNotTrade, models.SeverityHard
	case slices.Contains(reasons, models.ReasonLowConfidence) || slices.Contains(reasons, models.ReasonLowProbability):
		sd.Action, sd.Severity = models.ActionWait, models.SeveritySoft
	default:
		sd.Action, sd.Severity = models.ActionMonitor, models.SeverityInfo
	}

	if len(sd.Explanations) == 0 {
		sd.Summary = fmt.Sprintf("%s: %s", ticker, sd.Action)
	} else {
		sd.Summary = fmt.Sprintf("%s: %s - %s", ticker, sd.Action, strings.Join(sd.Explanations[:min(2, len(sd.Explanations))], ", "))
	}
	return sd
}
