package indicators

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func TestComputeSyntheticIsDeterministicPerSymbolAndMinute(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	mid := decimal.NewFromInt(30_000)
	a := computeSynthetic("BTC/USD", mid, now)
	b := computeSynthetic("BTC/USD", mid, now)
	if !a.EMA12.Equal(b.EMA12) || !a.ATR14.Equal(b.ATR14) {
		t.Fatalf("expected identical synthetic snapshots for the same (symbol, minute), got %+v vs %+v", a, b)
	}
	if !a.Synthetic {
		t.Fatal("expected Synthetic flag set")
	}
}

func TestComputeSyntheticVariesAcrossMinutes(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	later := now.Add(10 * time.Minute)
	mid := decimal.NewFromInt(30_000)
	a := computeSynthetic("BTC/USD", mid, now)
	b := computeSynthetic("BTC/USD", mid, later)
	if a.EMA12.Equal(b.EMA12) && a.ATR14.Equal(b.ATR14) {
		t.Fatal("expected synthetic snapshot to vary across minute buckets")
	}
}

func TestComputeSyntheticAnchorsToMidPriceAndBaseAssetATRTable(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	btc := computeSynthetic("BTC/USD", decimal.NewFromInt(30_000), now)
	sol := computeSynthetic("SOL/USD", decimal.NewFromInt(30_000), now)

	if !btc.EMA36.Equal(decimal.NewFromInt(30_000)) {
		t.Fatalf("expected EMA36 anchored to the real mid price, got %s", btc.EMA36)
	}

	wantBTCATR := decimal.NewFromInt(30_000).Mul(decimal.NewFromFloat(1.5)).Div(decimal.NewFromInt(100))
	if !btc.ATR14.Equal(wantBTCATR) {
		t.Fatalf("expected BTC synthetic ATR to use the 1.5%% table entry, got %s want %s", btc.ATR14, wantBTCATR)
	}

	wantSOLATR := decimal.NewFromInt(30_000).Mul(decimal.NewFromFloat(2.5)).Div(decimal.NewFromInt(100))
	if !sol.ATR14.Equal(wantSOLATR) {
		t.Fatalf("expected SOL synthetic ATR to use the 2.5%% table entry, got %s want %s", sol.ATR14, wantSOLATR)
	}

	unknown := computeSynthetic("DOGE/USD", decimal.NewFromInt(1), now)
	wantDefaultATR := decimal.NewFromInt(1).Mul(decimal.NewFromFloat(defaultATRPct)).Div(decimal.NewFromInt(100))
	if !unknown.ATR14.Equal(wantDefaultATR) {
		t.Fatalf("expected unlisted base asset to use the default ATR%%, got %s want %s", unknown.ATR14, wantDefaultATR)
	}
}

func TestComputeFallsBackBelowMinBars(t *testing.T) {
	svc := New(zap.NewNop())
	snap := svc.Compute("ETH/USD", nil, decimal.NewFromInt(2_000))
	if !snap.Synthetic {
		t.Fatal("expected synthetic fallback with zero bars")
	}
}
