// Package indicators computes EMA12, EMA36 and ATR14 per symbol from
// completed 1m bars, with a deterministic synthetic fallback when a
// symbol doesn't yet have enough history.
package indicators

import (
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/markcheno/go-talib"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/aristath/cryptocore/pkg/types"
)

// minBarsForReal is the bar count needed for a real ATR14+EMA36 read:
// 36 for EMA36's warm-up plus one bar to produce a value.
const minBarsForReal = 37

const cacheTTL = 5 * time.Minute

// Snapshot is one symbol's indicator read, flagged as synthetic when
// computed from the deterministic fallback instead of real history.
type Snapshot struct {
	Symbol    string
	EMA12     decimal.Decimal
	EMA36     decimal.Decimal
	ATR14     decimal.Decimal
	Synthetic bool
	At        time.Time
}

type cacheEntry struct {
	snapshot Snapshot
	at       time.Time
}

// Service computes and caches indicator snapshots.
type Service struct {
	mu     sync.Mutex
	cache  map[string]cacheEntry
	logger *zap.Logger
}

// New builds an indicator Service.
func New(logger *zap.Logger) *Service {
	return &Service{
		cache:  make(map[string]cacheEntry),
		logger: logger.Named("indicators"),
	}
}

// Compute returns symbol's indicator snapshot for 1m bars (ascending by
// BarTS), serving from cache within cacheTTL. mid is the current L1 mid
// price, used to anchor the synthetic fallback when bars are insufficient;
// it is ignored once real history is available.
func (s *Service) Compute(symbol string, bars []types.Bar, mid decimal.Decimal) Snapshot {
	s.mu.Lock()
	if entry, ok := s.cache[symbol]; ok && time.Since(entry.at) < cacheTTL {
		s.mu.Unlock()
		return entry.snapshot
	}
	s.mu.Unlock()

	var snapshot Snapshot
	if len(bars) >= minBarsForReal {
		snapshot = computeReal(symbol, bars)
	} else {
		snapshot = computeSynthetic(symbol, mid, time.Now())
	}

	s.mu.Lock()
	s.cache[symbol] = cacheEntry{snapshot: snapshot, at: time.Now()}
	s.mu.Unlock()
	return snapshot
}

func computeReal(symbol string, bars []types.Bar) Snapshot {
	n := len(bars)
	closes := make([]float64, n)
	highs := make([]float64, n)
	lows := make([]float64, n)
	for i, b := range bars {
		closes[i], _ = b.Close.Float64()
		highs[i], _ = b.High.Float64()
		lows[i], _ = b.Low.Float64()
	}

	ema12 := talib.Ema(closes, 12)
	ema36 := talib.Ema(closes, 36)
	atr14 := talib.Atr(highs, lows, closes, 14)

	return Snapshot{
		Symbol: symbol,
		EMA12:  decimal.NewFromFloat(ema12[n-1]),
		EMA36:  decimal.NewFromFloat(ema36[n-1]),
		ATR14:  decimal.NewFromFloat(atr14[n-1]),
		At:     time.Now(),
	}
}

// baseATRPct is the per-base-asset typical daily ATR%, used to scale the
// synthetic ATR14 off the real L1 mid price when a symbol has too little
// bar history for a real read.
var baseATRPct = map[string]float64{
	"BTC": 1.5,
	"ETH": 1.8,
	"SOL": 2.5,
}

const defaultATRPct = 2.5

// computeSynthetic derives a plausible EMA/ATR triple from the real L1
// mid price plus a per-base-asset ATR% table, with a deterministic
// pseudo-trend seeded from fnv32(symbol) XOR the current minute bucket so
// the fallback is exactly reproducible per (symbol, minute) and never
// uses math/rand or wall-clock jitter beyond the minute bucket itself.
func computeSynthetic(symbol string, mid decimal.Decimal, now time.Time) Snapshot {
	minuteBucket := uint32(now.Unix() / 60)
	seed := fnv32(symbol) ^ minuteBucket

	trendBps := float64(int32(seed%200)-100) / 10.0 // -10.0 .. +9.9 bps drift

	midF, _ := mid.Float64()
	atrPct, ok := baseATRPct[baseAsset(symbol)]
	if !ok {
		atrPct = defaultATRPct
	}

	ema36 := midF
	ema12 := midF * (1 + trendBps/10000)
	atr := midF * atrPct / 100

	return Snapshot{
		Symbol:    symbol,
		EMA12:     decimal.NewFromFloat(ema12),
		EMA36:     decimal.NewFromFloat(ema36),
		ATR14:     decimal.NewFromFloat(atr),
		Synthetic: true,
		At:        now,
	}
}

// baseAsset returns the base-asset code out of a "BASE/QUOTE" display
// symbol, or the symbol unchanged if it carries no separator.
func baseAsset(symbol string) string {
	if i := strings.IndexByte(symbol, '/'); i >= 0 {
		return symbol[:i]
	}
	return symbol
}

func fnv32(s string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return h.Sum32()
}
