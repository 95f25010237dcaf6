package bars

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/aristath/cryptocore/pkg/types"
)

func mustDecimal(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestIngestEmitsBarOnBoundaryCross(t *testing.T) {
	var emitted []types.Bar
	agg := New(func(b types.Bar) { emitted = append(emitted, b) }, zap.NewNop())

	base := time.Unix(1_700_000_000, 0).Truncate(time.Second)
	agg.Ingest(types.Tick{Symbol: "BTC/USD", Price: mustDecimal("100"), Quantity: mustDecimal("1"), ExchangeTS: base, SeqID: 1})
	agg.Ingest(types.Tick{Symbol: "BTC/USD", Price: mustDecimal("101"), Quantity: mustDecimal("1"), ExchangeTS: base.Add(500 * time.Millisecond), SeqID: 2})

	for _, b := range emitted {
		if b.Frame == types.Frame1s {
			t.Fatalf("did not expect a 1s bar emitted before crossing a boundary, got %+v", b)
		}
	}

	agg.Ingest(types.Tick{Symbol: "BTC/USD", Price: mustDecimal("102"), Quantity: mustDecimal("1"), ExchangeTS: base.Add(2 * time.Second), SeqID: 3})

	found := false
	for _, b := range emitted {
		if b.Frame == types.Frame1s {
			found = true
			if !b.Open.Equal(mustDecimal("100")) || !b.Close.Equal(mustDecimal("101")) {
				t.Fatalf("unexpected OHLC on completed 1s bar: %+v", b)
			}
		}
	}
	if !found {
		t.Fatal("expected a completed 1s bar once a later tick crossed the boundary")
	}
}

func TestIngestDropsOutOfOrderTicks(t *testing.T) {
	var emitted []types.Bar
	agg := New(func(b types.Bar) { emitted = append(emitted, b) }, zap.NewNop())

	base := time.Unix(1_700_000_000, 0)
	agg.Ingest(types.Tick{Symbol: "BTC/USD", Price: mustDecimal("100"), Quantity: mustDecimal("1"), ExchangeTS: base, SeqID: 5})
	agg.Ingest(types.Tick{Symbol: "BTC/USD", Price: mustDecimal("999"), Quantity: mustDecimal("1"), ExchangeTS: base, SeqID: 3})

	agg.mu.Lock()
	a := agg.accum["BTC/USD"][types.Frame1s]
	agg.mu.Unlock()
	if !a.close.Equal(mustDecimal("100")) {
		t.Fatalf("expected out-of-order tick to be dropped, close is %s", a.close)
	}
}

func TestTryRollupHourSkipsWithFewerThanSixtyMinuteBars(t *testing.T) {
	old := hourlyRetryDelay
	hourlyRetryDelay = time.Millisecond
	defer func() { hourlyRetryDelay = old }()

	agg := New(func(types.Bar) {}, zap.NewNop())
	agg.mu.Lock()
	bars := make([]types.Bar, 0, minutesPerHour-1)
	for i := 0; i < minutesPerHour-1; i++ {
		bars = append(bars, types.Bar{Symbol: "BTC/USD", BarTS: int64(i * 60), Close: mustDecimal("100")})
	}
	agg.minuteBars["BTC/USD"] = bars
	agg.mu.Unlock()

	_, ok := agg.tryRollupHour(context.Background(), "BTC/USD")
	if ok {
		t.Fatal("expected hourly rollup to be skipped with only 59 minute bars after retries")
	}
}

func TestTryRollupHourRequiresExactlySixty(t *testing.T) {
	agg := New(func(types.Bar) {}, zap.NewNop())
	agg.mu.Lock()
	bars := make([]types.Bar, 0, minutesPerHour+5)
	for i := 0; i < minutesPerHour+5; i++ {
		bars = append(bars, types.Bar{Symbol: "BTC/USD", BarTS: int64(i * 60), Open: mustDecimal("100"), Close: mustDecimal("100")})
	}
	agg.minuteBars["BTC/USD"] = bars
	agg.mu.Unlock()

	bar, ok := agg.tryRollupHour(context.Background(), "BTC/USD")
	if !ok {
		t.Fatal("expected hourly rollup to succeed with 65 minute bars available")
	}
	if bar.BarTS != alignBucket(time.Unix(bars[5].BarTS, 0), types.Frame1h) {
		t.Fatalf("expected rollup to use only the most recent 60 bars, got BarTS=%d", bar.BarTS)
	}
}

func TestRollupMinuteBarsAggregatesOHLCV(t *testing.T) {
	bars := []types.Bar{
		{Symbol: "BTC/USD", BarTS: 0, Open: mustDecimal("100"), High: mustDecimal("110"), Low: mustDecimal("95"), Close: mustDecimal("105"), Volume: mustDecimal("2"), VWAP: mustDecimal("102")},
		{Symbol: "BTC/USD", BarTS: 60, Open: mustDecimal("105"), High: mustDecimal("120"), Low: mustDecimal("100"), Close: mustDecimal("115"), Volume: mustDecimal("3"), VWAP: mustDecimal("110")},
	}
	hourly := rollupMinuteBars("BTC/USD", bars)

	if !hourly.Open.Equal(mustDecimal("100")) {
		t.Fatalf("expected open from first bar, got %s", hourly.Open)
	}
	if !hourly.Close.Equal(mustDecimal("115")) {
		t.Fatalf("expected close from last bar, got %s", hourly.Close)
	}
	if !hourly.High.Equal(mustDecimal("120")) {
		t.Fatalf("expected high of 120, got %s", hourly.High)
	}
	if !hourly.Low.Equal(mustDecimal("95")) {
		t.Fatalf("expected low of 95, got %s", hourly.Low)
	}
	if !hourly.Volume.Equal(mustDecimal("5")) {
		t.Fatalf("expected volume of 5, got %s", hourly.Volume)
	}
}
