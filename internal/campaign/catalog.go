package campaign

import (
	"github.com/shopspring/decimal"

	"github.com/aristath/cryptocore/internal/indicators"
	"github.com/aristath/cryptocore/internal/mds"
	"github.com/aristath/cryptocore/pkg/types"
)

// BarsLookup returns a symbol's recent ascending 1m bars, used to derive
// indicator-backed catalog fields (ATR% of price).
type BarsLookup func(symbol string) []types.Bar

// BuildCatalog assembles the current tradable-universe catalog the
// selector filters and ranks, derived straight from the live Market Data
// Store rather than a separate symbol-metadata service: volume and
// spread come off L1, depth off the persisted top-10 L2 levels, and
// daily ATR% off the indicator service (falling back to its synthetic
// read when a symbol is still warming up).
func BuildCatalog(store *mds.Store, indicatorSvc *indicators.Service, bars BarsLookup) []types.Symbol {
	symbols := store.Symbols()
	out := make([]types.Symbol, 0, len(symbols))

	for _, sym := range symbols {
		l1, ok := store.L1(sym)
		if !ok || l1.Bid.IsZero() || l1.Ask.IsZero() {
			continue
		}
		mid := l1.MidPrice()
		if mid.IsZero() {
			continue
		}

		depth := depthTop10USD(store, sym, mid)
		snapshot := indicatorSvc.Compute(sym, bars(sym), mid)
		atrPct := decimal.Zero
		if !mid.IsZero() && !snapshot.ATR14.IsZero() {
			atrPct = snapshot.ATR14.Div(mid).Mul(decimal.NewFromInt(100))
		}

		out = append(out, types.Symbol{
			ID:             sym,
			ExchangeSymbol: sym,
			DisplaySymbol:  sym,
			Volume24hUSD:   l1.Volume24h.Mul(mid),
			SpreadMidPct:   l1.SpreadBps.Div(decimal.NewFromInt(100)),
			DepthTop10USD:  depth,
			ATRDailyPct:    atrPct,
			IsActive:       true,
		})
	}
	return out
}

func depthTop10USD(store *mds.Store, symbol string, mid decimal.Decimal) decimal.Decimal {
	book, ok := store.L2(symbol)
	if !ok {
		return decimal.Zero
	}
	const topLevels = 10
	bids, asks := book.Bids, book.Asks
	if len(bids) > topLevels {
		bids = bids[:topLevels]
	}
	if len(asks) > topLevels {
		asks = asks[:topLevels]
	}
	total := decimal.Zero
	for _, lvl := range bids {
		total = total.Add(lvl.Price.Mul(lvl.Quantity))
	}
	for _, lvl := range asks {
		total = total.Add(lvl.Price.Mul(lvl.Quantity))
	}
	return total
}
