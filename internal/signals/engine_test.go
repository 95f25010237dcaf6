package signals

import (
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/aristath/cryptocore/internal/indicators"
	"github.com/aristath/cryptocore/pkg/types"
)

func testConfig() types.SignalConfig {
	return types.SignalConfig{
		PortfolioID:      "p1",
		Symbol:           "BTC/USD",
		Enabled:          true,
		LongATRMult:      decimal.NewFromInt(1),
		ShortATRMult:     decimal.NewFromInt(1),
		TP1ATRMult:       decimal.NewFromFloat(1.5),
		TP2ATRMult:       decimal.NewFromInt(3),
		SLATRMult:        decimal.NewFromInt(1),
		RiskPerTradeBps:  decimal.NewFromInt(50),
		MaxPositionPctEq: decimal.NewFromInt(10),
	}
}

func TestEvaluateProducesLongSignalOnBullishSeparation(t *testing.T) {
	e := New(zap.NewNop())
	// ema12=100 > ema36=95 (separation 5 > 0.001*95 whipsaw floor), price=105
	// is both above ema12 and more than Nlong(1)*atr(2)=2 away from it.
	snap := indicators.Snapshot{EMA12: decimal.NewFromInt(100), EMA36: decimal.NewFromInt(95), ATR14: decimal.NewFromInt(2)}

	sig, ok := e.Evaluate(testConfig(), snap, decimal.NewFromInt(105), "fresh")
	if !ok {
		t.Fatal("expected a signal")
	}
	if sig.Type != types.SignalLong {
		t.Fatalf("expected long signal, got %s", sig.Type)
	}
	if !sig.SL.Equal(decimal.NewFromInt(103)) {
		t.Fatalf("expected SL at entry-ATR, got %s", sig.SL)
	}
}

func TestEvaluateSuppressesWhenPriceBelowEMA12DespiteUptrend(t *testing.T) {
	e := New(zap.NewNop())
	// ema12 above ema36 (uptrend) and far enough from it, but price sits
	// below ema12 - the price>ema12 guard must block a long signal here.
	snap := indicators.Snapshot{EMA12: decimal.NewFromInt(100), EMA36: decimal.NewFromInt(95), ATR14: decimal.NewFromInt(2)}

	_, ok := e.Evaluate(testConfig(), snap, decimal.NewFromInt(90), "fresh")
	if ok {
		t.Fatal("expected no signal when price is below ema12")
	}
}

func TestEvaluateSuppressesWhipsaw(t *testing.T) {
	e := New(zap.NewNop())
	snap := indicators.Snapshot{EMA12: decimal.NewFromFloat(100.01), EMA36: decimal.NewFromInt(100), ATR14: decimal.NewFromInt(2)}

	_, ok := e.Evaluate(testConfig(), snap, decimal.NewFromInt(100), "fresh")
	if ok {
		t.Fatal("expected tiny EMA separation to be suppressed as noise")
	}
}

func TestEvaluateDisabledConfigProducesNoSignal(t *testing.T) {
	e := New(zap.NewNop())
	cfg := testConfig()
	cfg.Enabled = false
	snap := indicators.Snapshot{EMA12: decimal.NewFromInt(200), EMA36: decimal.NewFromInt(100), ATR14: decimal.NewFromInt(2)}

	_, ok := e.Evaluate(cfg, snap, decimal.NewFromInt(200), "fresh")
	if ok {
		t.Fatal("expected disabled config to suppress signal")
	}
}

func TestSizePositionCapsAtMaxPositionPct(t *testing.T) {
	cfg := testConfig()
	equity := decimal.NewFromInt(10_000)
	entry := decimal.NewFromInt(100)
	sl := decimal.NewFromInt(99) // tight stop, risk sizing alone would want a huge qty

	qty := SizePosition(cfg, equity, entry, sl)
	capQty := equity.Mul(cfg.MaxPositionPctEq).Div(decimal.NewFromInt(100)).Div(entry)
	if !qty.Equal(capQty) {
		t.Fatalf("expected cap to bind, got qty=%s cap=%s", qty, capQty)
	}
}

func TestSizePositionShrinksForFeeAndSlippage(t *testing.T) {
	cfg := testConfig()
	cfg.FeeRate = decimal.NewFromFloat(0.002)
	cfg.SlippageRate = decimal.NewFromFloat(0.0005)
	equity := decimal.NewFromInt(10_000)
	entry := decimal.NewFromInt(100)
	sl := decimal.NewFromInt(50) // wide stop, risk budget (not the cap) binds

	qty := SizePosition(cfg, equity, entry, sl)

	riskAmount := equity.Mul(cfg.RiskPerTradeBps).Div(decimal.NewFromInt(10_000))
	slDistancePct := entry.Sub(sl).Abs().Div(entry)
	costPct := slDistancePct.Add(cfg.FeeRate).Add(cfg.SlippageRate)
	expected := riskAmount.Div(entry.Mul(costPct))

	if !qty.Equal(expected) {
		t.Fatalf("expected fee/slippage-adjusted sizing, got qty=%s expected=%s", qty, expected)
	}

	noCostCfg := testConfig()
	noCostQty := SizePosition(noCostCfg, equity, entry, sl)
	if !qty.LessThan(noCostQty) {
		t.Fatalf("expected fee/slippage to shrink qty below the no-cost case: with=%s without=%s", qty, noCostQty)
	}
}

func TestSizePositionUsesRiskBudgetWhenBelowCap(t *testing.T) {
	cfg := testConfig()
	equity := decimal.NewFromInt(10_000)
	entry := decimal.NewFromInt(100)
	sl := decimal.NewFromInt(50) // wide stop, risk budget binds instead

	qty := SizePosition(cfg, equity, entry, sl)
	riskAmount := equity.Mul(cfg.RiskPerTradeBps).Div(decimal.NewFromInt(10_000))
	expected := riskAmount.Div(entry.Sub(sl))
	if !qty.Equal(expected) {
		t.Fatalf("expected risk-budget sizing, got qty=%s expected=%s", qty, expected)
	}
}
