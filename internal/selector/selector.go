// Package selector filters the tradable universe, ranks it by a
// composite z-score, and clusters it so the circuit breakers can trip at
// the cluster level as well as per-asset.
package selector

import (
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/aristath/cryptocore/pkg/types"
)

// Filter keeps only symbols meeting the minimum liquidity bar.
func Filter(symbols []types.Symbol, cfg types.SelectorConfig) []types.Symbol {
	out := make([]types.Symbol, 0, len(symbols))
	for _, s := range symbols {
		if !s.IsActive {
			continue
		}
		if s.Volume24hUSD.LessThan(cfg.MinVolume24hUSD) {
			continue
		}
		if s.SpreadMidPct.GreaterThan(cfg.MaxSpreadMidPct) {
			continue
		}
		if s.DepthTop10USD.LessThan(cfg.MinDepthTop10USD) {
			continue
		}
		out = append(out, s)
	}
	return out
}

// Rank z-scores four features (volume, inverse spread, depth, ATR%) and
// ranks symbols by their summed z-score, highest first.
func Rank(runID string, symbols []types.Symbol) []types.Ranking {
	n := len(symbols)
	if n == 0 {
		return nil
	}

	volume := make([]float64, n)
	invSpread := make([]float64, n)
	depth := make([]float64, n)
	atr := make([]float64, n)
	for i, s := range symbols {
		volume[i], _ = s.Volume24hUSD.Float64()
		spread, _ := s.SpreadMidPct.Float64()
		if spread <= 0 {
			spread = 0.0001
		}
		invSpread[i] = 1 / spread
		depth[i], _ = s.DepthTop10USD.Float64()
		atr[i], _ = s.ATRDailyPct.Float64()
	}

	zVolume := zScores(volume)
	zSpread := zScores(invSpread)
	zDepth := zScores(depth)
	zATR := zScores(atr)

	type scored struct {
		symbol types.Symbol
		score  float64
	}
	rows := make([]scored, n)
	for i, s := range symbols {
		rows[i] = scored{symbol: s, score: zVolume[i] + zSpread[i] + zDepth[i] + zATR[i]}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].score > rows[j].score })

	rankings := make([]types.Ranking, n)
	for i, r := range rows {
		rankings[i] = types.Ranking{
			RunID:    runID,
			SymbolID: r.symbol.ID,
			Rank:     i + 1,
			Score:    r.score,
		}
	}
	return rankings
}

// zScores returns (x-mean)/stddev for each value; an all-equal series
// (stddev 0) reads as all zeros rather than dividing by zero.
func zScores(values []float64) []float64 {
	mean, std := stat.MeanStdDev(values, nil)
	out := make([]float64, len(values))
	if std == 0 {
		return out
	}
	for i, v := range values {
		out[i] = (v - mean) / std
	}
	return out
}
