// Package signals implements the fixed EMA12/EMA36/ATR rule-based signal
// engine and its attached risk-per-trade position sizing.
package signals

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/aristath/cryptocore/internal/indicators"
	"github.com/aristath/cryptocore/pkg/types"
)

// whipsawEpsilon is the minimum EMA12/EMA36 separation, expressed as a
// fraction of ema36, required before a crossover counts as a trend rather
// than noise.
const whipsawEpsilon = 0.001

// Engine turns an indicator snapshot into a (possibly absent) trading
// signal for one (portfolio, symbol) pair.
type Engine struct {
	logger *zap.Logger
}

// New builds a signal Engine.
func New(logger *zap.Logger) *Engine {
	return &Engine{logger: logger.Named("signals")}
}

// Evaluate applies the long/short rules to snapshot at price, returning
// false if neither side clears its whipsaw threshold.
func (e *Engine) Evaluate(cfg types.SignalConfig, snapshot indicators.Snapshot, price decimal.Decimal, breakerState string) (types.Signal, bool) {
	if !cfg.Enabled {
		return types.Signal{}, false
	}

	ema12, ema36, atr := snapshot.EMA12, snapshot.EMA36, snapshot.ATR14
	if ema36.IsZero() || atr.IsZero() {
		return types.Signal{}, false
	}

	trendThreshold := ema36.Mul(decimal.NewFromFloat(whipsawEpsilon))
	separation := ema12.Sub(ema36)

	isUptrend := separation.GreaterThan(trendThreshold)
	isDowntrend := separation.Neg().GreaterThan(trendThreshold)

	longDistance := price.Sub(ema12)
	shortDistance := ema12.Sub(price)

	var signalType types.SignalType
	switch {
	case price.GreaterThan(ema12) && isUptrend && longDistance.GreaterThan(atr.Mul(cfg.LongATRMult)):
		signalType = types.SignalLong
	case price.LessThan(ema12) && isDowntrend && shortDistance.GreaterThan(atr.Mul(cfg.ShortATRMult)):
		signalType = types.SignalShort
	default:
		return types.Signal{}, false
	}

	sig := types.Signal{
		ID:             uuid.NewString(),
		PortfolioID:    cfg.PortfolioID,
		Symbol:         cfg.Symbol,
		Type:           signalType,
		PriceAtSignal:  price,
		EMA12:          ema12,
		EMA36:          ema36,
		ATR:            atr,
		ConfigSnapshot: cfg,
		BreakerState:   breakerState,
		Status:         types.SignalStatusPending,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}

	if signalType == types.SignalLong {
		sig.TP1 = price.Add(atr.Mul(cfg.TP1ATRMult))
		sig.TP2 = price.Add(atr.Mul(cfg.TP2ATRMult))
		sig.SL = price.Sub(atr.Mul(cfg.SLATRMult))
	} else {
		sig.TP1 = price.Sub(atr.Mul(cfg.TP1ATRMult))
		sig.TP2 = price.Sub(atr.Mul(cfg.TP2ATRMult))
		sig.SL = price.Add(atr.Mul(cfg.SLATRMult))
	}

	return sig, true
}
