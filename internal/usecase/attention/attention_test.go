package attention

import (
	"context"
	"errors"
	"testing"
	"time"

	"SignalPipe/internal/domain/models"
	domrepo "SignalPipe/internal/domain/repository"
	"SignalPipe/internal/usecase/usecasetest"
	applogger "SignalPipe/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 15, 17, 0, 0, 0, time.UTC)

// wiggle is a rising series with alternating bar sizes so bar returns vary.
func wiggle(drift float64) func(int) float64 {
	return func(i int) float64 {
		extra := 0.0
		if i%2 == 1 {
			extra = 0.2
		}
		return 100 + drift*float64(i) + extra
	}
}

func series(sym string, n int, close func(int) float64) []models.Candle {
	return usecasetest.Series(sym, t0, 5*time.Minute, n, 1e6, close)
}

func newEngine(t *testing.T, candles domrepo.CandleStore) (*Engine, *usecasetest.Publisher, *usecasetest.LogStore, domrepo.StateStore) {
	store, _ := usecasetest.NewStateStore(t)
	pub := &usecasetest.Publisher{}
	logs := &usecasetest.LogStore{}
	e := NewEngine(Config{}, candles, store, pub, logs, domrepo.NopMetrics{}, applogger.Nop())
	return e, pub, logs, store
}

func TestChurnTracker(t *testing.T) {
	var c ChurnTracker
	assert.Equal(t, 80.0, c.Observe([]string{"XLK", "XLF", "XLE"}))
	assert.Equal(t, 100.0, c.Observe([]string{"XLE", "XLK", "XLF"}))
	// one leader kept: history is [3, 1]
	assert.InDelta(t, 66.67, c.Observe([]string{"XLE", "XLV", "XLU"}), 0.01)

	var last float64
	for i := 0; i < churnDepth; i++ {
		last = c.Observe([]string{"XLB", "XLC", "XLP"})
	}
	// window is [0, 3 x 11]; the older overlaps fell out
	assert.InDelta(t, 91.67, last, 0.01)
	assert.Equal(t, 100.0, c.Observe([]string{"XLB", "XLC", "XLP"}))

	c.Reset()
	assert.Equal(t, 80.0, c.Observe([]string{"XLK"}))
}

func TestComputeWeightedScore(t *testing.T) {
	e, _, _, _ := newEngine(t, usecasetest.NewCandles())
	snap := Snapshot{
		"SPY": series("SPY", 18, wiggle(0.1)),
		"QQQ": series("QQQ", 18, wiggle(0.1)),
		"IWM": series("IWM", 18, wiggle(0.1)),
	}
	st := e.Compute(snap, &models.MarketState{State: models.Green}, t0)

	// churn 50 (no sectors), dispersion 100, volatility 70, correlation 40
	assert.Equal(t, 68.0, st.StabilityScore)
	assert.Equal(t, models.Unstable, st.Bucket)
	assert.Equal(t, "High Correlation / Risk-Off", st.CorrelationRegime)
	assert.Equal(t, 100.0, st.Components.IndexDispersion)
	assert.Equal(t, 70.0, st.Components.VolatilityPressure)
	assert.False(t, st.Degraded)
}

func TestComputeDegradedWithoutIndexProxies(t *testing.T) {
	e, _, _, _ := newEngine(t, usecasetest.NewCandles())
	st := e.Compute(Snapshot{"SPY": series("SPY", 18, wiggle(0.1))}, nil, t0)

	assert.True(t, st.Degraded)
	assert.Equal(t, 50.0, st.StabilityScore)
	assert.Equal(t, models.Unstable, st.Bucket)
	assert.Equal(t, models.Neutral, st.RiskState)
	assert.Equal(t, "Unknown", st.CorrelationRegime)
	assert.NotEmpty(t, st.DegradedReason)
}

func TestVolatilityPressure(t *testing.T) {
	up := 0.025
	down := -0.02
	assert.Equal(t, 0.0, volatilityPressure(&models.MarketState{State: models.Red}, &up))
	assert.Equal(t, 50.0, volatilityPressure(&models.MarketState{State: models.Yellow}, nil))
	assert.Equal(t, 80.0, volatilityPressure(nil, &down))
}

func TestRiskState(t *testing.T) {
	snap := Snapshot{
		"SPY": series("SPY", 18, wiggle(0.0)),
		"IWM": series("IWM", 18, wiggle(0.5)),
	}
	assert.Equal(t, models.RiskOn, riskState(snap, 80, nil))

	rising := 0.02
	assert.Equal(t, models.Neutral, riskState(snap, 80, &rising))

	snap["IWM"] = series("IWM", 18, wiggle(-0.5))
	assert.Equal(t, models.RiskOff, riskState(snap, 40, &rising))
	assert.Equal(t, models.Neutral, riskState(snap, 60, &rising))
}

func TestTopSectorsByAbsoluteReturn(t *testing.T) {
	snap := Snapshot{
		"XLF": series("XLF", 18, wiggle(0.05)),
		"XLK": series("XLK", 18, wiggle(0.8)),
		"XLE": series("XLE", 18, wiggle(-0.6)),
		"XLV": series("XLV", 18, wiggle(0.2)),
	}
	assert.Equal(t, []string{"XLK", "XLE", "XLV"}, topSectors(snap, 3))
}

func TestRunCycleAlwaysRepublishes(t *testing.T) {
	ctx := context.Background()
	candles := usecasetest.NewCandles()
	for _, sym := range IndexSymbols {
		candles.Put(sym, domrepo.TF5m, series(sym, 30, wiggle(0.1)))
	}
	candles.Put("XLK", domrepo.TF5m, series("XLK", 30, wiggle(0.3)))
	candles.Fail("XLF", errors.New("timeout"))

	e, pub, logs, store := newEngine(t, candles)
	for i := 0; i < 2; i++ {
		_, err := e.RunCycle(ctx)
		require.NoError(t, err)
	}

	assert.Len(t, pub.Snapshot().Attention, 2)
	assert.Len(t, logs.Attention, 2)
	got, err := store.GetAttentionState(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []string{"XLK"}, got.DominantSectors)
	// second cycle: XLK stayed on top, one overlap of three
	assert.InDelta(t, 33.33, got.Components.LeadershipChurn, 0.01)
}

func TestRunCycleStoreOutageStillPublishesAndLogs(t *testing.T) {
	candles := usecasetest.NewCandles()
	for _, sym := range IndexSymbols {
		candles.Put(sym, domrepo.TF5m, series(sym, 30, wiggle(0.1)))
	}
	store, mr := usecasetest.NewStateStore(t)
	pub := &usecasetest.Publisher{}
	logs := &usecasetest.LogStore{}
	e := NewEngine(Config{}, candles, store, pub, logs, domrepo.NopMetrics{}, applogger.Nop())

	mr.Close()
	summary, err := e.RunCycle(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, summary)
	require.Len(t, pub.Snapshot().Attention, 1)
	assert.Len(t, logs.Attention, 1)
	assert.False(t, pub.Snapshot().Attention[0].Degraded)
}
