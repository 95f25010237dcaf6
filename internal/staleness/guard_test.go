package staleness

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/aristath/cryptocore/pkg/types"
)

func testThresholds() types.StalenessThresholds {
	return types.StalenessThresholds{
		WarnAfter:       5 * time.Second,
		HardAfter:       15 * time.Second,
		KillAfter:       60 * time.Second,
		QuarantineAfter: 5 * time.Minute,
	}
}

func TestNextStateEscalatesWithAge(t *testing.T) {
	g := &Guard{thresholds: testThresholds()}
	rec := &record{state: StateFresh}
	now := time.Now()

	cases := []struct {
		age  time.Duration
		want State
	}{
		{2 * time.Second, StateFresh},
		{6 * time.Second, StateWarn},
		{16 * time.Second, StateHard},
		{61 * time.Second, StateKillSwitch},
	}
	for _, c := range cases {
		got := g.nextState(rec, c.age, now)
		if got != c.want {
			t.Fatalf("age %v: expected %s, got %s", c.age, c.want, got)
		}
		rec.state = got
	}
}

func TestQuarantineAfterSustainedStaleness(t *testing.T) {
	g := &Guard{thresholds: testThresholds()}
	// staleSince marks the onset of staleness, not the later kill_switch
	// entry - quarantine is measured off the full stale duration.
	rec := &record{state: StateKillSwitch, staleSince: time.Now().Add(-10 * time.Minute)}
	now := time.Now()

	got := g.nextState(rec, 70*time.Second, now)
	if got != StateQuarantined {
		t.Fatalf("expected quarantine after sustained staleness, got %s", got)
	}
}

func TestKillSwitchDoesNotQuarantineBeforeStaleDurationElapses(t *testing.T) {
	g := &Guard{thresholds: testThresholds()}
	rec := &record{state: StateKillSwitch, staleSince: time.Now().Add(-61 * time.Second)}
	now := time.Now()

	got := g.nextState(rec, 70*time.Second, now)
	if got != StateKillSwitch {
		t.Fatalf("expected to remain in kill_switch before QuarantineAfter elapses, got %s", got)
	}
}

func TestApplyTransitionResetsCountersOnQuarantineRecovery(t *testing.T) {
	g := &Guard{thresholds: testThresholds()}
	rec := &record{
		state:                 StateQuarantined,
		staleSince:            time.Now().Add(-time.Hour),
		consecutiveExcursions: 5,
	}
	now := time.Now()
	g.applyTransition(rec, StateQuarantined, StateFresh, now)

	if rec.consecutiveExcursions != 0 {
		t.Fatalf("expected excursion counter reset to 0, got %d", rec.consecutiveExcursions)
	}
	if !rec.staleSince.IsZero() {
		t.Fatal("expected staleSince reset to zero value")
	}
	if rec.state != StateFresh {
		t.Fatalf("expected state fresh, got %s", rec.state)
	}
}

type fakeRefresher struct {
	calls []string
}

func (f *fakeRefresher) RefreshViaREST(ctx context.Context, symbol string) error {
	f.calls = append(f.calls, symbol)
	return nil
}

func TestEvaluateDispatchesRefreshWhenHard(t *testing.T) {
	refresher := &fakeRefresher{}
	g := New(nil, refresher, testThresholds(), nil, nil, zap.NewNop())
	rec := &record{state: StateFresh}
	g.records["BTC/USD"] = rec

	next := g.nextState(rec, 20*time.Second, time.Now())
	if next != StateHard {
		t.Fatalf("expected hard state, got %s", next)
	}
	g.dispatchRefresh(context.Background(), "BTC/USD")
	if len(refresher.calls) != 1 || refresher.calls[0] != "BTC/USD" {
		t.Fatalf("expected one refresh call for BTC/USD, got %+v", refresher.calls)
	}
}
