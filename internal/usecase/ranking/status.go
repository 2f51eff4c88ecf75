package ranking

import (
	"context"
	"fmt"

	"SignalPipe/internal/domain/models"
	applogger "SignalPipe/pkg/logger"
)

// Status reads the shared state every stage publishes. Only a market state
// read failure is an error; the other reads degrade to empty fields.
func (e *Engine) Status(ctx context.Context) (models.Status, error) {
	market, err := e.store.GetMarketState(ctx)
	if err != nil {
		return models.Status{}, fmt.Errorf("read market state: %w", err)
	}
	st := models.Status{MarketState: market, Timestamp: e.now().UTC()}

	if a, err := e.store.GetAttentionState(ctx); err != nil {
		e.log.Warn("status: attention state", applogger.Error(err))
	} else {
		st.AttentionState = a
	}
	if cal, _ := e.storedCalibration(ctx); cal != nil {
		st.Calibration = &models.CalibrationContext{
			GlobalShrink:     models.ClampShrink(cal.GlobalShrink),
			DegradedHorizons: cal.DegradedHorizons,
			DegradedStates:   cal.DegradedStates,
			TotalEvaluations: cal.GlobalStats.TotalEvaluations,
		}
	}
	if r, err := e.store.GetOpportunityRank(ctx); err != nil {
		e.log.Warn("status: opportunity rank", applogger.Error(err))
	} else {
		st.LastRank = r
	}
	if t, err := e.store.GetLastScanTime(ctx); err != nil {
		e.log.Warn("status: last scan time", applogger.Error(err))
	} else {
		st.LastScanTime = t
	}
	if on, err := e.store.ExecutionEnabled(ctx); err != nil {
		e.log.Warn("status: kill switch", applogger.Error(err))
	} else {
		st.ExecutionEnabled = on
	}
	return st, nil
}
