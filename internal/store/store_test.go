package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

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

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(":memory:", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenPositionInsertsPositionAndOCOOrders(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	ocoGroup := uuid.NewString()
	pos := types.Position{
		ID: uuid.NewString(), PortfolioID: "p1", Symbol: "BTC/USD", Side: types.PositionLong,
		Quantity: d("0.1"), EntryPrice: d("30000"), CurrentPrice: d("30000"),
		SL: d("29900"), TP: d("30200"), OCOGroupID: ocoGroup, OpenedAt: time.Now(),
	}
	orders := []types.Order{
		{ID: uuid.NewString(), PortfolioID: "p1", Symbol: "BTC/USD", Side: types.SideSell, Type: types.OrderTypeStopLoss,
			Quantity: d("0.1"), Price: d("29900"), StopPrice: d("29900"), Status: types.OrderStatusOpen, OCOGroupID: ocoGroup,
			FilledQty: d("0"), AvgFillPrice: d("0"), CreatedAt: time.Now(), UpdatedAt: time.Now()},
		{ID: uuid.NewString(), PortfolioID: "p1", Symbol: "BTC/USD", Side: types.SideSell, Type: types.OrderTypeTakeProfit,
			Quantity: d("0.1"), Price: d("30200"), StopPrice: d("0"), Status: types.OrderStatusOpen, OCOGroupID: ocoGroup,
			FilledQty: d("0"), AvgFillPrice: d("0"), CreatedAt: time.Now(), UpdatedAt: time.Now()},
	}

	require.NoError(t, s.OpenPosition(ctx, pos, orders))

	open, err := s.OpenPositions(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, open, 1)
	require.True(t, open[0].EntryPrice.Equal(d("30000")))
}

func TestOpenPositionRejectsSecondOpenPositionForSamePair(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	ocoGroup := uuid.NewString()
	base := types.Position{
		PortfolioID: "p1", Symbol: "BTC/USD", Side: types.PositionLong,
		Quantity: d("0.1"), EntryPrice: d("30000"), CurrentPrice: d("30000"),
		SL: d("29900"), TP: d("30200"), OCOGroupID: ocoGroup, OpenedAt: time.Now(),
	}

	first := base
	first.ID = uuid.NewString()
	require.NoError(t, s.OpenPosition(ctx, first, nil))

	second := base
	second.ID = uuid.NewString()
	second.OCOGroupID = uuid.NewString()
	err := s.OpenPosition(ctx, second, nil)
	require.Error(t, err)

	open, err := s.OpenPositions(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, open, 1, "rejected second open must not leave a partial row")
}

func TestClosePositionCancelsOCOOrdersAndRecordsTrade(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	ocoGroup := uuid.NewString()
	posID := uuid.NewString()
	pos := types.Position{
		ID: posID, PortfolioID: "p1", Symbol: "BTC/USD", Side: types.PositionLong,
		Quantity: d("0.1"), EntryPrice: d("30000"), CurrentPrice: d("30000"),
		SL: d("29900"), TP: d("30200"), OCOGroupID: ocoGroup, OpenedAt: time.Now(),
	}
	slOrder := types.Order{ID: uuid.NewString(), PortfolioID: "p1", Symbol: "BTC/USD", Side: types.SideSell, Type: types.OrderTypeStopLoss,
		Quantity: d("0.1"), Price: d("29900"), StopPrice: d("29900"), Status: types.OrderStatusOpen, OCOGroupID: ocoGroup,
		FilledQty: d("0"), AvgFillPrice: d("0"), CreatedAt: time.Now(), UpdatedAt: time.Now()}
	tpOrder := slOrder
	tpOrder.ID = uuid.NewString()
	tpOrder.Type = types.OrderTypeTakeProfit

	require.NoError(t, s.OpenPosition(ctx, pos, []types.Order{slOrder, tpOrder}))

	trade := types.Trade{
		ID: uuid.NewString(), PortfolioID: "p1", Symbol: "BTC/USD", Side: types.PositionLong,
		Entry: d("30000"), Exit: d("30200"), Quantity: d("0.1"), RealizedPnL: d("20"), Fees: d("0.5"),
		OpenedAt: pos.OpenedAt, ClosedAt: time.Now(),
	}
	require.NoError(t, s.ClosePosition(ctx, posID, trade))

	open, err := s.OpenPositions(ctx, "p1")
	require.NoError(t, err)
	require.Empty(t, open, "closed position must no longer be open")

	// A second close must surface a state conflict rather than silently succeed.
	err = s.ClosePosition(ctx, posID, trade)
	require.Error(t, err)
}

func TestCampaignRiskStateRoundTrips(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, found, err := s.LoadCampaignRiskState(ctx, "c1")
	require.NoError(t, err)
	require.False(t, found)

	st := types.CampaignRiskState{
		CampaignID: "c1", CurrentEquity: d("100000"), HWMEquity: d("100000"),
		DailyPnL: d("-150"), DailyLossPct: d("0.15"), CurrentDDPct: d("1"), MaxDDPct: d("5"),
		LossInRByPair:   map[string]decimal.Decimal{"BTC/USD": d("-1.2")},
		CBPairTriggered: map[string]bool{"ETH/USD": true},
		TradesToday:     3, PositionsOpen: 2,
		CurrentTradableSet: []string{"BTC/USD", "ETH/USD"},
		LastDailyResetTS:   time.Now().Truncate(time.Second),
	}
	require.NoError(t, s.SaveCampaignRiskState(ctx, st))

	loaded, found, err := s.LoadCampaignRiskState(ctx, "c1")
	require.NoError(t, err)
	require.True(t, found)
	require.True(t, loaded.CurrentEquity.Equal(d("100000")))
	require.Equal(t, 3, loaded.TradesToday)
	require.True(t, loaded.LossInRByPair["BTC/USD"].Equal(d("-1.2")))
	require.True(t, loaded.CBPairTriggered["ETH/USD"])
	require.ElementsMatch(t, []string{"BTC/USD", "ETH/USD"}, loaded.CurrentTradableSet)
}

func TestTradesSinceOrdersByClosedAt(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	base := time.Now().Add(-2 * time.Hour)
	for i, pnl := range []string{"10", "-5", "20"} {
		ocoGroup := uuid.NewString()
		posID := uuid.NewString()
		pos := types.Position{
			ID: posID, PortfolioID: "p1", Symbol: "BTC/USD", Side: types.PositionLong,
			Quantity: d("0.1"), EntryPrice: d("30000"), CurrentPrice: d("30000"),
			SL: d("29900"), TP: d("30200"), OCOGroupID: ocoGroup, OpenedAt: base,
		}
		require.NoError(t, s.OpenPosition(ctx, pos, nil))
		trade := types.Trade{
			ID: uuid.NewString(), PortfolioID: "p1", Symbol: "BTC/USD", Side: types.PositionLong,
			Entry: d("30000"), Exit: d("30100"), Quantity: d("0.1"), RealizedPnL: d(pnl), Fees: d("0.1"),
			OpenedAt: base, ClosedAt: base.Add(time.Duration(i+1) * time.Minute),
		}
		require.NoError(t, s.ClosePosition(ctx, posID, trade))
	}

	trades, err := s.TradesSince(ctx, "p1", base)
	require.NoError(t, err)
	require.Len(t, trades, 3)
	require.True(t, trades[0].ClosedAt.Before(trades[1].ClosedAt))
	require.True(t, trades[1].ClosedAt.Before(trades[2].ClosedAt))
}
