// Package bars aggregates ticks into boundary-aligned OHLCV candles at
// 1s, 5s and 1m resolution, and rolls 1m bars up into 1h bars.
package bars

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/aristath/cryptocore/pkg/types"
)

// tickFrames are the resolutions built directly from ticks; 1h is rolled up
// separately from completed 1m bars.
var tickFrames = []types.Frame{types.Frame1s, types.Frame5s, types.Frame1m}

const (
	hourlyRollupRetries = 3
	minutesPerHour      = 60
)

// hourlyRetryDelay is a var (not a const) so tests can shrink it instead
// of sleeping twice through the real 2s spacing between the 3 attempts.
var hourlyRetryDelay = 2 * time.Second

type accumulator struct {
	bucket      int64
	open        decimal.Decimal
	high        decimal.Decimal
	low         decimal.Decimal
	close       decimal.Decimal
	volume      decimal.Decimal
	trades      int
	vwapNumer   decimal.Decimal
	lastTickSeq int64
}

func (a *accumulator) apply(t types.Tick, bucket int64) {
	if a.bucket != bucket || a.trades == 0 {
		*a = accumulator{
			bucket: bucket,
			open:   t.Price,
			high:   t.Price,
			low:    t.Price,
			close:  t.Price,
		}
	}
	if t.Price.GreaterThan(a.high) {
		a.high = t.Price
	}
	if t.Price.LessThan(a.low) {
		a.low = t.Price
	}
	a.close = t.Price
	a.volume = a.volume.Add(t.Quantity)
	a.vwapNumer = a.vwapNumer.Add(t.Price.Mul(t.Quantity))
	a.trades++
	a.lastTickSeq = t.SeqID
}

func (a *accumulator) bar(exchange, symbol string, frame types.Frame) types.Bar {
	vwap := decimal.Zero
	if !a.volume.IsZero() {
		vwap = a.vwapNumer.Div(a.volume)
	}
	return types.Bar{
		Exchange:    exchange,
		Symbol:      symbol,
		Frame:       frame,
		BarTS:       a.bucket,
		Open:        a.open,
		High:        a.high,
		Low:         a.low,
		Close:       a.close,
		Volume:      a.volume,
		TradesCount: a.trades,
		VWAP:        vwap,
	}
}

// OnBar is called once per completed bar, in frame-ascending order within
// a symbol (1s/5s/1m complete before the 1h bar that rolls them up).
type OnBar func(types.Bar)

// Aggregator turns a chronologically-ordered tick stream into bars.
type Aggregator struct {
	mu          sync.Mutex
	accum       map[string]map[types.Frame]*accumulator
	lastSeq     map[string]int64
	minuteBars  map[string][]types.Bar // rolling buffer of completed 1m bars, most recent last
	onBar       OnBar
	logger      *zap.Logger
}

// New builds an Aggregator invoking onBar for every completed bar.
func New(onBar OnBar, logger *zap.Logger) *Aggregator {
	return &Aggregator{
		accum:      make(map[string]map[types.Frame]*accumulator),
		lastSeq:    make(map[string]int64),
		minuteBars: make(map[string][]types.Bar),
		onBar:      onBar,
		logger:     logger.Named("bars"),
	}
}

// Ingest feeds a single tick into every resolution's accumulator. Ticks
// must arrive in non-decreasing SeqID order per symbol; an out-of-order
// tick is dropped and logged rather than corrupting an in-progress bar.
func (agg *Aggregator) Ingest(t types.Tick) {
	agg.mu.Lock()
	defer agg.mu.Unlock()

	if last, ok := agg.lastSeq[t.Symbol]; ok && t.SeqID < last {
		agg.logger.Warn("dropping out-of-order tick", zap.String("symbol", t.Symbol), zap.Int64("seq", t.SeqID), zap.Int64("last_seq", last))
		return
	}
	agg.lastSeq[t.Symbol] = t.SeqID

	if agg.accum[t.Symbol] == nil {
		agg.accum[t.Symbol] = make(map[types.Frame]*accumulator)
	}

	for _, frame := range tickFrames {
		bucket := alignBucket(t.ExchangeTS, frame)
		a, ok := agg.accum[t.Symbol][frame]
		if !ok {
			a = &accumulator{}
			agg.accum[t.Symbol][frame] = a
		}
		if a.trades > 0 && a.bucket != bucket {
			completed := a.bar(t.Exchange, t.Symbol, frame)
			agg.emit(completed)
		}
		a.apply(t, bucket)
	}
}

func (agg *Aggregator) emit(bar types.Bar) {
	if bar.Frame == types.Frame1m {
		buf := append(agg.minuteBars[bar.Symbol], bar)
		if len(buf) > minutesPerHour {
			buf = buf[len(buf)-minutesPerHour:]
		}
		agg.minuteBars[bar.Symbol] = buf
	}
	if agg.onBar != nil {
		agg.onBar(bar)
	}
}

// alignBucket floors t to the frame's boundary, in unix seconds.
func alignBucket(t time.Time, frame types.Frame) int64 {
	secs := frame.Seconds()
	if secs <= 0 {
		return t.Unix()
	}
	return (t.Unix() / secs) * secs
}

// RunHourlyRollup runs until ctx is cancelled, building a 1h bar from
// exactly the 60 most recent 1m bars at each hour boundary. If fewer than
// 60 minute bars are available (a symbol just joined the universe, or a
// gap in the feed), it retries a few times and otherwise skips the bar
// entirely rather than rolling up a partial hour.
func (agg *Aggregator) RunHourlyRollup(ctx context.Context, symbols func() []string) {
	for {
		next := nextHourBoundary(time.Now())
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Until(next)):
		}
		agg.rollupHourForSymbols(ctx, symbols())
	}
}

func (agg *Aggregator) rollupHourForSymbols(ctx context.Context, symbols []string) {
	for _, symbol := range symbols {
		bar, ok := agg.tryRollupHour(ctx, symbol)
		if ok {
			agg.emit(bar)
		}
	}
}

func (agg *Aggregator) tryRollupHour(ctx context.Context, symbol string) (types.Bar, bool) {
	for attempt := 0; attempt < hourlyRollupRetries; attempt++ {
		agg.mu.Lock()
		buf := append([]types.Bar(nil), agg.minuteBars[symbol]...)
		agg.mu.Unlock()

		if len(buf) >= minutesPerHour {
			return rollupMinuteBars(symbol, buf[len(buf)-minutesPerHour:]), true
		}

		if attempt == hourlyRollupRetries-1 {
			agg.logger.Warn("skipping hourly bar: fewer than 60 minute bars after retries",
				zap.String("symbol", symbol), zap.Int("minutes_available", len(buf)))
			return types.Bar{}, false
		}

		select {
		case <-ctx.Done():
			return types.Bar{}, false
		case <-time.After(hourlyRetryDelay):
		}
	}
	return types.Bar{}, false
}

func rollupMinuteBars(symbol string, bars []types.Bar) types.Bar {
	if len(bars) == 0 {
		return types.Bar{}
	}
	out := types.Bar{
		Exchange: bars[0].Exchange,
		Symbol:   symbol,
		Frame:    types.Frame1h,
		BarTS:    alignBucket(time.Unix(bars[0].BarTS, 0), types.Frame1h),
		Open:     bars[0].Open,
		High:     bars[0].High,
		Low:      bars[0].Low,
		Close:    bars[len(bars)-1].Close,
		Volume:   decimal.Zero,
	}
	vwapNumer := decimal.Zero
	for _, b := range bars {
		if b.High.GreaterThan(out.High) {
			out.High = b.High
		}
		if b.Low.LessThan(out.Low) {
			out.Low = b.Low
		}
		out.Volume = out.Volume.Add(b.Volume)
		out.TradesCount += b.TradesCount
		vwapNumer = vwapNumer.Add(b.VWAP.Mul(b.Volume))
	}
	if !out.Volume.IsZero() {
		out.VWAP = vwapNumer.Div(out.Volume)
	}
	return out
}

func nextHourBoundary(t time.Time) time.Time {
	return t.Truncate(time.Hour).Add(time.Hour)
}
