// Package staleness implements the Staleness Guard: a per-symbol
// freshness finite-state machine (fresh -> warn -> hard -> kill_switch
// -> quarantined) swept on a fixed cadence.
package staleness

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aristath/cryptocore/internal/mds"
	"github.com/aristath/cryptocore/internal/workers"
	"github.com/aristath/cryptocore/pkg/types"
)

// State is one point in the freshness FSM.
type State string

const (
	StateFresh      State = "fresh"
	StateWarn       State = "warn"
	StateHard       State = "hard"
	StateKillSwitch State = "kill_switch"
	StateQuarantined State = "quarantined"
)

const (
	sweepInterval  = 2 * time.Second
	sweepChunkSize = 20
)

// Refresher performs an out-of-band REST refresh for a symbol, satisfied
// by *ingest.Ingestor.
type Refresher interface {
	RefreshViaREST(ctx context.Context, symbol string) error
}

type record struct {
	state                 State
	staleSince            time.Time
	consecutiveExcursions int
}

// Transition is emitted whenever a symbol's state changes.
type Transition struct {
	Symbol string
	From   State
	To     State
	At     time.Time
}

// Guard sweeps the Market Data Store on a fixed cadence and tracks each
// symbol's freshness state.
type Guard struct {
	store      *mds.Store
	refresher  Refresher
	thresholds types.StalenessThresholds
	pool       *workers.Pool
	onTransition func(Transition)

	mu      sync.Mutex
	records map[string]*record

	logger *zap.Logger
}

// New builds a Guard. pool is used to parallelize the chunked sweep.
func New(store *mds.Store, refresher Refresher, thresholds types.StalenessThresholds, pool *workers.Pool, onTransition func(Transition), logger *zap.Logger) *Guard {
	return &Guard{
		store:        store,
		refresher:    refresher,
		thresholds:   thresholds,
		pool:         pool,
		onTransition: onTransition,
		records:      make(map[string]*record),
		logger:       logger.Named("staleness-guard"),
	}
}

// Run sweeps every sweepInterval until ctx is cancelled.
func (g *Guard) Run(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.Sweep(ctx)
		}
	}
}

// Sweep evaluates every known symbol's freshness once, in chunks of
// sweepChunkSize run concurrently through the worker pool.
func (g *Guard) Sweep(ctx context.Context) {
	symbols := g.store.Symbols()
	workers.RunChunked(g.pool, symbols, sweepChunkSize, func(ctx context.Context, chunk []string) {
		for _, symbol := range chunk {
			g.evaluate(ctx, symbol)
		}
	})
}

func (g *Guard) evaluate(ctx context.Context, symbol string) {
	now := time.Now()
	age, ok := g.store.L1Age(symbol, now)
	if !ok {
		age = g.thresholds.KillAfter + time.Second // no data at all reads as worse than kill
	}

	g.mu.Lock()
	rec, exists := g.records[symbol]
	if !exists {
		rec = &record{state: StateFresh}
		g.records[symbol] = rec
	}
	prev := rec.state
	next := g.nextState(rec, age, now)
	changed := next != prev
	if changed {
		g.applyTransition(rec, prev, next, now)
	}
	g.mu.Unlock()

	if changed {
		g.logger.Info("freshness transition", zap.String("symbol", symbol), zap.String("from", string(prev)), zap.String("to", string(next)))
		if g.onTransition != nil {
			g.onTransition(Transition{Symbol: symbol, From: prev, To: next, At: now})
		}
	}

	if next == StateHard || next == StateKillSwitch {
		g.dispatchRefresh(ctx, symbol)
	}
}

// nextState computes the symbol's state for this sweep. Quarantine is
// measured from staleSince - the moment the symbol first left Fresh -
// not from when it entered kill_switch, so QuarantineAfter is the total
// time spent stale (warn+hard+kill_switch combined), per the thresholds'
// documented semantics.
func (g *Guard) nextState(rec *record, age time.Duration, now time.Time) State {
	t := g.thresholds

	if rec.state == StateQuarantined {
		if age < t.WarnAfter {
			return StateFresh
		}
		return StateQuarantined
	}

	switch {
	case age >= t.KillAfter:
		since := rec.staleSince
		if since.IsZero() {
			since = now
		}
		if now.Sub(since) >= t.QuarantineAfter {
			return StateQuarantined
		}
		return StateKillSwitch
	case age >= t.HardAfter:
		return StateHard
	case age >= t.WarnAfter:
		return StateWarn
	default:
		return StateFresh
	}
}

// applyTransition mutates rec's bookkeeping fields to match SPEC_FULL.md
// resolution #3: recovering from quarantine resets staleSince and the
// excursion counter to zero rather than inheriting them.
func (g *Guard) applyTransition(rec *record, prev, next State, now time.Time) {
	if prev == StateQuarantined && next == StateFresh {
		rec.staleSince = time.Time{}
		rec.consecutiveExcursions = 0
		rec.state = next
		return
	}
	if prev == StateFresh && next != StateFresh {
		rec.staleSince = now
		rec.consecutiveExcursions++
	}
	if next == StateFresh {
		rec.staleSince = time.Time{}
	}
	rec.state = next
}

func (g *Guard) dispatchRefresh(ctx context.Context, symbol string) {
	if g.refresher == nil {
		return
	}
	if err := g.refresher.RefreshViaREST(ctx, symbol); err != nil {
		g.logger.Warn("REST refresh failed", zap.String("symbol", symbol), zap.Error(err))
	}
}

// StateOf returns symbol's current freshness state.
func (g *Guard) StateOf(symbol string) State {
	g.mu.Lock()
	defer g.mu.Unlock()
	if rec, ok := g.records[symbol]; ok {
		return rec.state
	}
	return StateFresh
}
