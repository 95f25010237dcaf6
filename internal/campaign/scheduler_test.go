package campaign

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aristath/cryptocore/internal/events"
	"github.com/aristath/cryptocore/internal/execution"
	"github.com/aristath/cryptocore/internal/indicators"
	"github.com/aristath/cryptocore/internal/mds"
	"github.com/aristath/cryptocore/internal/risk"
	"github.com/aristath/cryptocore/internal/signals"
	"github.com/aristath/cryptocore/internal/staleness"
	"github.com/aristath/cryptocore/internal/store"
	"github.com/aristath/cryptocore/pkg/types"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func testScheduler(t *testing.T) (*Scheduler, *mds.Store, *store.Store) {
	t.Helper()
	logger := zap.NewNop()

	mdsStore := mds.New(logger)
	st, err := store.Open(":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	adapter := execution.NewPaperAdapter(mdsStore, d("0.001"), d("0.0005"), logger)
	breakers := risk.New(types.BreakerThresholds{
		AssetConsecutiveLosses: 2,
		AssetCumulativeLossR:   d("2"),
		ClusterLossPct:         d("5"),
		GlobalDailyLossPct:     d("3"),
		GlobalMaxDrawdownPct:   d("10"),
		AssetAutoReset:         time.Hour,
		ClusterAutoReset:       time.Hour,
		GlobalAutoReset:        time.Hour,
	}, nil, logger)
	guard := staleness.New(mdsStore, nil, types.StalenessThresholds{
		WarnAfter: time.Minute, HardAfter: time.Minute, KillAfter: time.Minute, QuarantineAfter: time.Hour,
	}, nil, nil, logger)

	cfg := types.CampaignConfig{
		ID: "c1", TickInterval: time.Second, RebalanceInterval: time.Hour, AuditInterval: time.Hour,
		StartingEquity: d("100000"), MaxOpenPositions: 5, MinNotionalUSD: d("1"),
		MaxLossPerPairR: d("2"), CooldownAfterCB: time.Hour,
		Breakers: types.BreakerThresholds{GlobalDailyLossPct: d("3"), GlobalMaxDrawdownPct: d("10")},
		SignalTemplate: types.SignalConfig{
			Enabled: true, RiskPerTradeBps: d("20"), MaxPositionPctEq: d("50"), FeeRate: d("0.001"), SlippageRate: d("0.0005"),
		},
	}
	deps := Dependencies{
		MDS: mdsStore, Indicators: indicators.New(logger), Staleness: guard,
		Signals: signals.New(logger), Breakers: breakers,
		Executor: execution.New(adapter, logger), Adapter: adapter,
		Store: st, Bus: events.New(16, logger),
		Bars: func(string) []types.Bar { return nil },
	}
	sched := New(cfg, deps, logger)
	sched.state = types.CampaignRiskState{
		CampaignID: cfg.ID, CurrentEquity: cfg.StartingEquity, HWMEquity: cfg.StartingEquity,
		LossInRByPair: map[string]decimal.Decimal{}, CBPairTriggered: map[string]bool{},
	}
	sched.clusterOf = map[string]string{}
	sched.clusterPnL = map[string]decimal.Decimal{}
	sched.consecutiveLosses = map[string]int{}
	sched.runCtx = context.Background()
	return sched, mdsStore, st
}

func putQuote(m *mds.Store, symbol string, bid, ask string) {
	m.PutL1(types.L1Quote{Symbol: symbol, Bid: d(bid), Ask: d(ask), ExchangeTS: time.Now(), IngestTS: time.Now()})
}

func TestOpenPositionThenTakeProfitFillClosesIt(t *testing.T) {
	ctx := context.Background()
	sched, mdsStore, st := testScheduler(t)

	putQuote(mdsStore, "BTC/USD", "29990", "30010")
	sig := types.Signal{
		ID: uuid.NewString(), PortfolioID: "c1", Symbol: "BTC/USD", Type: types.SignalLong,
		PriceAtSignal: d("30000"), SL: d("29700"), TP1: d("30300"), TP2: d("30600"), Qty: d("1"),
	}

	require.NoError(t, sched.openPosition(ctx, sig))

	open, err := st.OpenPositions(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, open, 1)

	// Move the market through the take-profit trigger and let position
	// management observe and settle the fill.
	putQuote(mdsStore, "BTC/USD", "30290", "30310")
	sched.managePositions(ctx)

	open, err = st.OpenPositions(ctx, "c1")
	require.NoError(t, err)
	require.Empty(t, open, "take-profit fill must close the position")
	require.True(t, sched.state.CurrentEquity.GreaterThan(d("100000")), "a profitable exit must grow equity")
}

func TestOpenPositionThenStopLossFillClosesItAtALoss(t *testing.T) {
	ctx := context.Background()
	sched, mdsStore, st := testScheduler(t)

	putQuote(mdsStore, "ETH/USD", "1999", "2001")
	sig := types.Signal{
		ID: uuid.NewString(), PortfolioID: "c1", Symbol: "ETH/USD", Type: types.SignalLong,
		PriceAtSignal: d("2000"), SL: d("1950"), TP1: d("2100"), TP2: d("2200"), Qty: d("1"),
	}
	require.NoError(t, sched.openPosition(ctx, sig))

	putQuote(mdsStore, "ETH/USD", "1940", "1960")
	sched.managePositions(ctx)

	open, err := st.OpenPositions(ctx, "c1")
	require.NoError(t, err)
	require.Empty(t, open)
	require.True(t, sched.state.CurrentEquity.LessThan(d("100000")), "a stop-out must shrink equity")
	require.True(t, sched.state.LossInRByPair["ETH/USD"].IsPositive(), "a loss must accumulate R-loss for the pair")
}

func TestManagePositionsForceClosesSymbolsDroppedFromTradableSet(t *testing.T) {
	ctx := context.Background()
	sched, mdsStore, st := testScheduler(t)

	putQuote(mdsStore, "BTC/USD", "29990", "30010")
	sig := types.Signal{
		ID: uuid.NewString(), PortfolioID: "c1", Symbol: "BTC/USD", Type: types.SignalLong,
		PriceAtSignal: d("30000"), SL: d("29700"), TP1: d("30300"), TP2: d("30600"), Qty: d("1"),
	}
	require.NoError(t, sched.openPosition(ctx, sig))

	// The position's symbol was on the tradable set at entry but the most
	// recent rebalance dropped it - the quote has not moved far enough to
	// hit either OCO leg, so only the delisting should force the exit.
	sched.state.CurrentTradableSet = []string{"ETH/USD"}
	putQuote(mdsStore, "BTC/USD", "29995", "30005")
	sched.managePositions(ctx)

	open, err := st.OpenPositions(ctx, "c1")
	require.NoError(t, err)
	require.Empty(t, open, "a symbol dropped from the tradable set must be force-closed")
}

func TestRepeatedAssetLossesTripAssetBreaker(t *testing.T) {
	ctx := context.Background()
	sched, _, _ := testScheduler(t)

	pos := types.Position{
		ID: uuid.NewString(), PortfolioID: "c1", Symbol: "SOL/USD", Side: types.PositionLong,
		Quantity: d("10"), EntryPrice: d("100"), SL: d("95"), OpenedAt: time.Now(),
	}
	sched.accountForClose(ctx, pos, d("-60")) // 1.2 R loss (risk = (100-95)*10 = 50)
	sched.accountForClose(ctx, pos, d("-60"))

	require.GreaterOrEqual(t, sched.consecutiveLosses["SOL/USD"], 2)
	check := sched.deps.Breakers.Check(true, "c1", "SOL/USD", "")
	require.True(t, check.Blocked)
	require.Equal(t, types.BreakerAsset, check.Level)
}

func TestMaxLossPerPairBlocksFurtherPairTrading(t *testing.T) {
	ctx := context.Background()
	sched, _, _ := testScheduler(t)

	pos := types.Position{
		ID: uuid.NewString(), PortfolioID: "c1", Symbol: "DOGE/USD", Side: types.PositionLong,
		Quantity: d("1000"), EntryPrice: d("1"), SL: d("0.9"), OpenedAt: time.Now(),
	}
	// risk = (1 - 0.9) * 1000 = 100; two 100-loss trades = 2R, at the
	// configured MaxLossPerPairR of 2.
	sched.accountForClose(ctx, pos, d("-100"))
	sched.accountForClose(ctx, pos, d("-100"))

	require.True(t, sched.state.CBPairTriggered["DOGE/USD"])
}
