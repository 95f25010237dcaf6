package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/aristath/cryptocore/pkg/types"
)

func testThresholds() types.BreakerThresholds {
	return types.BreakerThresholds{
		AssetConsecutiveLosses: 3,
		AssetCumulativeLossR:   decimal.NewFromInt(4),
		ClusterLossPct:         decimal.NewFromInt(5),
		GlobalDailyLossPct:     decimal.NewFromInt(3),
		GlobalMaxDrawdownPct:   decimal.NewFromInt(10),
		AssetAutoReset:         50 * time.Millisecond,
		ClusterAutoReset:       time.Hour,
		GlobalAutoReset:        time.Hour,
	}
}

func TestEvaluateAssetRequiresBothConditionsAND(t *testing.T) {
	var events []types.BreakerEvent
	b := New(testThresholds(), func(e types.BreakerEvent) { events = append(events, e) }, zap.NewNop())

	b.EvaluateAsset("p1", "BTC/USD", 3, decimal.NewFromInt(2)) // count ok, loss not enough
	if len(events) != 0 {
		t.Fatalf("expected no trip with only one condition met, got %+v", events)
	}

	b.EvaluateAsset("p1", "BTC/USD", 3, decimal.NewFromInt(4)) // both conditions met
	if len(events) != 1 || events[0].EventType != types.BreakerEventTriggered {
		t.Fatalf("expected a trigger event, got %+v", events)
	}
}

func TestTriggerOnAlreadyTriggeredOnlyUpdatesReason(t *testing.T) {
	var events []types.BreakerEvent
	b := New(testThresholds(), func(e types.BreakerEvent) { events = append(events, e) }, zap.NewNop())

	b.EvaluateAsset("p1", "BTC/USD", 3, decimal.NewFromInt(4))
	if len(events) != 1 {
		t.Fatalf("expected one trigger event, got %+v", events)
	}
	firstTriggeredAt := b.states[types.BreakerAsset][scopeKey("p1", "BTC/USD")].TriggeredAt

	// A larger loss on the same already-tripped breaker must update the
	// reason but not re-trigger (no new TriggeredAt) - event count grows
	// by exactly one because the reason text changed.
	b.EvaluateAsset("p1", "BTC/USD", 5, decimal.NewFromInt(10))
	if len(events) != 2 {
		t.Fatalf("expected the updated reason to emit exactly one more event, got %+v", events)
	}

	br := b.states[types.BreakerAsset][scopeKey("p1", "BTC/USD")]
	if !br.TriggeredAt.Equal(firstTriggeredAt) {
		t.Fatalf("expected TriggeredAt to stay unchanged on an idempotent re-trigger")
	}
	if br.TriggerReason == events[0].Reason {
		t.Fatalf("expected the trigger reason to have been updated to reflect the new condition")
	}

	// Re-evaluating with the exact same condition must not emit again.
	b.EvaluateAsset("p1", "BTC/USD", 5, decimal.NewFromInt(10))
	if len(events) != 2 {
		t.Fatalf("expected an identical repeat trigger to emit no further events, got %+v", events)
	}
}

func TestCheckBlocksOnStalenessFirst(t *testing.T) {
	b := New(testThresholds(), nil, zap.NewNop())
	b.EvaluateGlobal("p1", decimal.NewFromInt(10), decimal.Zero) // also trips global

	result := b.Check(false, "p1", "BTC/USD", "cluster-0")
	if !result.Blocked || result.Level != types.BreakerStaleness {
		t.Fatalf("expected staleness to win precedence, got %+v", result)
	}
}

func TestCheckFallsThroughToGlobalWhenNothingElseTriggered(t *testing.T) {
	b := New(testThresholds(), nil, zap.NewNop())
	b.EvaluateGlobal("p1", decimal.NewFromInt(10), decimal.Zero)

	result := b.Check(true, "p1", "BTC/USD", "cluster-0")
	if !result.Blocked || result.Level != types.BreakerGlobal {
		t.Fatalf("expected global breaker to block, got %+v", result)
	}
}

func TestSweepAutoResetClearsExpiredBreaker(t *testing.T) {
	var events []types.BreakerEvent
	b := New(testThresholds(), func(e types.BreakerEvent) { events = append(events, e) }, zap.NewNop())
	b.EvaluateAsset("p1", "BTC/USD", 3, decimal.NewFromInt(4))

	time.Sleep(60 * time.Millisecond)
	b.SweepAutoReset("p1")

	result := b.Check(true, "p1", "BTC/USD", "cluster-0")
	if result.Blocked {
		t.Fatalf("expected breaker auto-reset to have cleared the block, got %+v", result)
	}

	foundAutoReset := false
	for _, e := range events {
		if e.EventType == types.BreakerEventAutoReset {
			foundAutoReset = true
		}
	}
	if !foundAutoReset {
		t.Fatal("expected an auto_reset event to have been emitted")
	}
}
