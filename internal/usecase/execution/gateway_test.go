package execution

import (
	"context"
	"errors"
	"testing"
	"time"

	"SignalPipe/internal/domain/models"
	domrepo "SignalPipe/internal/domain/repository"
	"SignalPipe/internal/usecase/usecasetest"
	applogger "SignalPipe/pkg/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var rankTime = time.Date(2024, 3, 15, 18, 0, 0, 0, time.UTC)

type harness struct {
	gw     *Gateway
	store  domrepo.StateStore
	broker *usecasetest.Broker
	pub    *usecasetest.Publisher
	logs   *usecasetest.LogStore
	mr     *miniredis.Miniredis
}

func newHarness(t *testing.T, mr *miniredis.Miniredis) *harness {
	t.Helper()
	h := &harness{
		store:  usecasetest.StateStoreOn(t, mr),
		broker: &usecasetest.Broker{Open: map[string]bool{}},
		pub:    &usecasetest.Publisher{},
		logs:   &usecasetest.LogStore{},
		mr:     mr,
	}
	gw, err := NewGateway(Config{}, h.store, h.broker, h.pub, h.logs, domrepo.NopMetrics{}, applogger.Nop())
	require.NoError(t, err)
	gw.now = func() time.Time { return rankTime.Add(time.Second) }
	h.gw = gw
	return h
}

func armed(t *testing.T) *harness {
	t.Helper()
	_, mr := usecasetest.NewStateStore(t)
	h := newHarness(t, mr)
	h.arm(t, models.Green)
	return h
}

func (h *harness) arm(t *testing.T, light models.Light) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.store.SetExecutionEnabled(ctx, true))
	require.NoError(t, h.store.SetMarketState(ctx, models.MarketState{State: light, Reason: "Prime Window"}))
}

func rank(ticker string, p float64, at time.Time) models.OpportunityRank {
	return models.OpportunityRank{
		Horizon:  models.H30,
		RankTime: at,
		Opportunities: []models.Opportunity{{
			Ticker:      ticker,
			Horizon:     models.H30,
			Probability: p,
			Why:         []string{"Momentum: 70.0 (EMA alignment)"},
		}},
	}
}

func TestNewGatewayRefusesLiveMode(t *testing.T) {
	store, _ := usecasetest.NewStateStore(t)
	_, err := NewGateway(Config{Mode: "live"}, store, &usecasetest.Broker{}, &usecasetest.Publisher{}, &usecasetest.LogStore{}, nil, nil)
	assert.ErrorIs(t, err, ErrLiveMode)
}

func TestSubmitsOncePerExecutionIDAcrossRestart(t *testing.T) {
	ctx := context.Background()
	_, mr := usecasetest.NewStateStore(t)

	first := newHarness(t, mr)
	first.arm(t, models.Green)
	ev, err := first.gw.Process(ctx, rank("AAPL", 0.93, rankTime))
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, models.StatusSubmitted, ev.Status)
	require.NotNil(t, ev.OrderID)
	assert.Equal(t, "paper-1", *ev.OrderID)
	assert.Equal(t, "AAPL:H30:2024-03-15T18:00:00", ev.ExecutionID)
	assert.Equal(t, []string{"Order submitted successfully", "Momentum: 70.0 (EMA alignment)"}, ev.Why)
	assert.Equal(t, models.Green, ev.MarketState)
	assert.True(t, mr.Exists("test:last_trade:AAPL"))

	// a new process on the same store sees the claimed id
	second := newHarness(t, mr)
	ev, err = second.gw.Process(ctx, rank("AAPL", 0.93, rankTime))
	require.NoError(t, err)
	assert.Equal(t, models.StatusSkipped, ev.Status)
	assert.Equal(t, "Duplicate execution_id (already processed)", ev.Why[0])
	assert.Nil(t, ev.OrderID)

	assert.Equal(t, 1, first.broker.Submitted())
	assert.Zero(t, second.broker.Submitted())
}

func TestGlobalGatesBlockBeforeBroker(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(t *testing.T, h *harness)
		reason string
		light  models.Light
	}{
		{
			name:   "kill switch missing",
			setup:  func(*testing.T, *harness) {},
			reason: "Execution disabled (kill switch)",
		},
		{
			name: "kill switch off",
			setup: func(t *testing.T, h *harness) {
				h.arm(t, models.Green)
				require.NoError(t, h.store.SetExecutionEnabled(context.Background(), false))
			},
			reason: "Execution disabled (kill switch)",
		},
		{
			name: "market state missing",
			setup: func(t *testing.T, h *harness) {
				require.NoError(t, h.store.SetExecutionEnabled(context.Background(), true))
			},
			reason: "Market state not available",
		},
		{
			name: "market red",
			setup: func(t *testing.T, h *harness) {
				h.arm(t, models.Red)
			},
			reason: "Market state is RED: Prime Window",
			light:  models.Red,
		},
		{
			name: "market yellow",
			setup: func(t *testing.T, h *harness) {
				h.arm(t, models.Yellow)
			},
			reason: "Market state is YELLOW: Prime Window",
			light:  models.Yellow,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, mr := usecasetest.NewStateStore(t)
			h := newHarness(t, mr)
			tc.setup(t, h)

			require.NoError(t, h.gw.OnOpportunities(context.Background(), rank("AAPL", 0.99, rankTime)))

			events := h.pub.Snapshot().Executions
			require.Len(t, events, 1)
			assert.Equal(t, models.StatusBlocked, events[0].Status)
			assert.Equal(t, tc.reason, events[0].Why[0])
			assert.Equal(t, tc.light, events[0].MarketState)
			assert.Zero(t, h.broker.Submitted())
			assert.False(t, mr.Exists("test:execution_seen:AAPL:H30:2024-03-15T18:00:00"))
			require.Len(t, h.logs.Executions, 1)
		})
	}
}

func TestBlockedEmptyBatchStillEmits(t *testing.T) {
	_, mr := usecasetest.NewStateStore(t)
	h := newHarness(t, mr)

	ev, err := h.gw.Process(context.Background(), models.OpportunityRank{Horizon: models.H2H, RankTime: rankTime})
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, "UNKNOWN", ev.Ticker)
	assert.Equal(t, models.StatusBlocked, ev.Status)
}

func TestEmptyBatchPassingGatesIsSilent(t *testing.T) {
	h := armed(t)

	require.NoError(t, h.gw.OnOpportunities(context.Background(), models.OpportunityRank{Horizon: models.H2H, RankTime: rankTime}))

	assert.Empty(t, h.pub.Snapshot().Executions)
	assert.Empty(t, h.logs.Executions)
	assert.Equal(t, "empty batch", h.gw.Health().LastSummary)
}

func TestProbabilityBelowThresholdBlocks(t *testing.T) {
	h := armed(t)

	ev, err := h.gw.Process(context.Background(), rank("AAPL", 0.7304, rankTime))
	require.NoError(t, err)
	assert.Equal(t, models.StatusBlocked, ev.Status)
	assert.Equal(t, "Probability 0.7304 below threshold 0.90", ev.Why[0])
	assert.Zero(t, h.broker.Submitted())
	assert.False(t, h.mr.Exists("test:execution_seen:AAPL:H30:2024-03-15T18:00:00"))
}

func TestCooldownSkipsSecondTradeInTicker(t *testing.T) {
	h := armed(t)
	ctx := context.Background()

	ev, err := h.gw.Process(ctx, rank("AAPL", 0.95, rankTime))
	require.NoError(t, err)
	require.Equal(t, models.StatusSubmitted, ev.Status)

	ev, err = h.gw.Process(ctx, rank("AAPL", 0.95, rankTime.Add(time.Minute)))
	require.NoError(t, err)
	assert.Equal(t, models.StatusSkipped, ev.Status)
	assert.Equal(t, "Cooldown active", ev.Why[0])

	h.mr.FastForward(61 * time.Minute)
	// position flattened out of band
	h.mr.Del("test:position:AAPL")
	ev, err = h.gw.Process(ctx, rank("AAPL", 0.95, rankTime.Add(62*time.Minute)))
	require.NoError(t, err)
	assert.Equal(t, models.StatusSubmitted, ev.Status)
	assert.Equal(t, 2, h.broker.Submitted())
}

func TestOpenPositionSkipsAndReleasesCooldown(t *testing.T) {
	h := armed(t)
	h.broker.Open["AAPL"] = true

	ev, err := h.gw.Process(context.Background(), rank("AAPL", 0.95, rankTime))
	require.NoError(t, err)
	assert.Equal(t, models.StatusSkipped, ev.Status)
	assert.Equal(t, "Already have open position", ev.Why[0])
	assert.Zero(t, h.broker.Submitted())
	assert.False(t, h.mr.Exists("test:execution_cooldown:AAPL"))
}

func TestOpenPositionSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	_, mr := usecasetest.NewStateStore(t)

	first := newHarness(t, mr)
	first.arm(t, models.Green)
	ev, err := first.gw.Process(ctx, rank("AAPL", 0.95, rankTime))
	require.NoError(t, err)
	require.Equal(t, models.StatusSubmitted, ev.Status)
	assert.True(t, mr.Exists("test:position:AAPL"))

	pos, err := first.store.GetPosition(ctx, "AAPL")
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.Equal(t, int64(1), pos.Quantity)

	mr.FastForward(61 * time.Minute)

	// fresh process with an empty broker book
	second := newHarness(t, mr)
	ev, err = second.gw.Process(ctx, rank("AAPL", 0.95, rankTime.Add(62*time.Minute)))
	require.NoError(t, err)
	assert.Equal(t, models.StatusSkipped, ev.Status)
	assert.Equal(t, "Already have open position", ev.Why[0])
	assert.Zero(t, second.broker.Submitted())
	assert.False(t, mr.Exists("test:execution_cooldown:AAPL"))
}

func TestPositionCheckErrorSkips(t *testing.T) {
	h := armed(t)
	h.broker.PosErr = errors.New("broker unreachable")

	ev, err := h.gw.Process(context.Background(), rank("AAPL", 0.95, rankTime))
	require.NoError(t, err)
	assert.Equal(t, models.StatusSkipped, ev.Status)
	assert.Zero(t, h.broker.Submitted())
}

func TestBrokerRejectReleasesCooldown(t *testing.T) {
	h := armed(t)
	h.broker.Err = errors.New("insufficient buying power")

	require.NoError(t, h.gw.OnOpportunities(context.Background(), rank("AAPL", 0.95, rankTime)))

	events := h.pub.Snapshot().Executions
	require.Len(t, events, 1)
	assert.Equal(t, models.StatusRejected, events[0].Status)
	assert.Equal(t, "insufficient buying power", events[0].Why[0])
	assert.Nil(t, events[0].OrderID)
	assert.False(t, h.mr.Exists("test:execution_cooldown:AAPL"))
	assert.False(t, h.mr.Exists("test:last_trade:AAPL"))
	assert.Contains(t, h.gw.Health().LastSummary, "AAPL REJECTED")
}

func TestStoreFailureNeverSubmits(t *testing.T) {
	h := armed(t)
	h.mr.SetError("READONLY")

	ev, err := h.gw.Process(context.Background(), rank("AAPL", 0.95, rankTime))
	require.NoError(t, err)
	assert.Equal(t, models.StatusBlocked, ev.Status)
	assert.Zero(t, h.broker.Submitted())
}
