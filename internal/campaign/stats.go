package campaign

import (
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/aristath/cryptocore/pkg/types"
)

// minSamplesForRiskMetric is the sample floor below which VaR95/ES95 are
// undefined: an invalid metric is carried as RiskMetric{Valid:false},
// never a bare -1 or a raw SQL NULL the caller has to remember to check for.
const minSamplesForRiskMetric = 5

// dailyStats is the daily audit computation: hit rate, payoff, expectancy
// and historical VaR95/ES95 over a campaign's closed trades, grounded on
// aristath-sentinel's CalculateCVaR historical-tail pattern but using
// linear-interpolated percentiles instead of a nearest-rank cut.
func dailyStats(trades []types.Trade) types.DailyReport {
	report := types.DailyReport{Trades: len(trades)}
	if len(trades) == 0 {
		return report
	}

	wins, losses := 0, 0
	sumWin, sumLoss := decimal.Zero, decimal.Zero
	returns := make([]float64, 0, len(trades))

	for _, t := range trades {
		if t.RealizedPnL.IsPositive() {
			wins++
			sumWin = sumWin.Add(t.RealizedPnL)
		} else if t.RealizedPnL.IsNegative() {
			losses++
			sumLoss = sumLoss.Add(t.RealizedPnL.Abs())
		}

		notional := t.Entry.Mul(t.Quantity)
		if notional.IsPositive() {
			ret, _ := t.RealizedPnL.Div(notional).Float64()
			returns = append(returns, ret)
		}
	}

	n := decimal.NewFromInt(int64(len(trades)))
	report.HitRate = decimal.NewFromInt(int64(wins)).Div(n)

	if wins > 0 && losses > 0 {
		avgWin := sumWin.Div(decimal.NewFromInt(int64(wins)))
		avgLoss := sumLoss.Div(decimal.NewFromInt(int64(losses)))
		report.Payoff = avgWin.Div(avgLoss)
		report.Expectancy = report.HitRate.Mul(avgWin).Sub(decimal.NewFromInt(1).Sub(report.HitRate).Mul(avgLoss))
	} else if wins > 0 {
		report.Payoff = decimal.NewFromInt(1) // no losses observed: payoff undefined upward, treat as break-even ceiling
		report.Expectancy = sumWin.Div(n)
	} else if losses > 0 {
		report.Expectancy = sumLoss.Div(n).Neg()
	}

	report.VaR95 = historicalPercentile(returns, 0.05)
	report.ES95 = tailConditionalMean(returns, 0.05)
	return report
}

// historicalPercentile returns the p-th percentile of values using linear
// interpolation between the two bracketing order statistics (numpy's
// default "linear" method), or an invalid RiskMetric below the sample floor.
func historicalPercentile(values []float64, p float64) types.RiskMetric {
	if len(values) < minSamplesForRiskMetric {
		return types.RiskMetric{Valid: false}
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	idx := p * float64(len(sorted)-1)
	lo := int(math.Floor(idx))
	hi := int(math.Ceil(idx))
	if lo == hi {
		return types.RiskMetric{Value: decimal.NewFromFloat(sorted[lo]), Valid: true}
	}
	frac := idx - float64(lo)
	v := sorted[lo] + frac*(sorted[hi]-sorted[lo])
	return types.RiskMetric{Value: decimal.NewFromFloat(v), Valid: true}
}

// tailConditionalMean returns the mean of the worst p-fraction of values
// (the "expected shortfall"/ES95 conditional on breaching VaR95), or an
// invalid RiskMetric below the sample floor.
func tailConditionalMean(values []float64, p float64) types.RiskMetric {
	if len(values) < minSamplesForRiskMetric {
		return types.RiskMetric{Valid: false}
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	tailCount := int(math.Ceil(p * float64(len(sorted))))
	if tailCount < 1 {
		tailCount = 1
	}
	sum := 0.0
	for _, v := range sorted[:tailCount] {
		sum += v
	}
	return types.RiskMetric{Value: decimal.NewFromFloat(sum / float64(tailCount)), Valid: true}
}
