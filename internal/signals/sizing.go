package signals

import (
	"github.com/shopspring/decimal"

	"github.com/aristath/cryptocore/pkg/types"
)

// bps is the denominator for basis-point fields.
var bps = decimal.NewFromInt(10_000)

// SizePosition computes the quantity for a signal so that a full stop-out,
// plus one FeeRate and one SlippageRate allowance on the entry notional,
// loses no more than
// risk_bps of equity, capped so the notional never exceeds
// max_position_pct_capital_per_pair of equity.
//
// risk_amount    = equity * risk_bps / 10_000
// sl_distance_pct = |entry - SL| / entry
// qty_by_risk    = risk_amount / (entry * (sl_distance_pct + fee + slippage))
// qty_by_cap     = equity * max_position_pct_capital_per_pair / entry
func SizePosition(cfg types.SignalConfig, equity, entry, sl decimal.Decimal) decimal.Decimal {
	if equity.LessThanOrEqual(decimal.Zero) || entry.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}

	stopDistance := entry.Sub(sl).Abs()
	if stopDistance.IsZero() {
		return decimal.Zero
	}

	slDistancePct := stopDistance.Div(entry)
	costPct := slDistancePct.Add(cfg.FeeRate).Add(cfg.SlippageRate)
	if costPct.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}

	riskAmount := equity.Mul(cfg.RiskPerTradeBps).Div(bps)
	qtyByRisk := riskAmount.Div(entry.Mul(costPct))

	if cfg.MaxPositionPctEq.IsZero() {
		return qtyByRisk
	}
	qtyByCap := equity.Mul(cfg.MaxPositionPctEq).Div(decimal.NewFromInt(100)).Div(entry)

	if qtyByRisk.GreaterThan(qtyByCap) {
		return qtyByCap
	}
	return qtyByRisk
}
