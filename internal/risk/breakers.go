// Package risk implements the four-level circuit breaker hierarchy:
// staleness, asset, cluster and global, checked in that order so the
// first active breaker wins and blocks a signal or order.
package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/aristath/cryptocore/pkg/types"
)

// OnBreakerEvent is invoked on every trigger and reset, for audit.
type OnBreakerEvent func(types.BreakerEvent)

// Breakers tracks every active circuit breaker for a portfolio.
type Breakers struct {
	mu         sync.Mutex
	states     map[types.BreakerLevel]map[string]*types.Breaker
	thresholds types.BreakerThresholds
	onEvent    OnBreakerEvent
	logger     *zap.Logger
}

// New builds an empty Breakers tracker.
func New(thresholds types.BreakerThresholds, onEvent OnBreakerEvent, logger *zap.Logger) *Breakers {
	return &Breakers{
		states: map[types.BreakerLevel]map[string]*types.Breaker{
			types.BreakerAsset:   make(map[string]*types.Breaker),
			types.BreakerCluster: make(map[string]*types.Breaker),
			types.BreakerGlobal:  make(map[string]*types.Breaker),
		},
		thresholds: thresholds,
		onEvent:    onEvent,
		logger:     logger.Named("risk-breakers"),
	}
}

// CheckResult is the outcome of evaluating every breaker level in order.
type CheckResult struct {
	Blocked bool
	Level   types.BreakerLevel
	Reason  string
}

// Check evaluates staleness first (caller supplies whether the symbol is
// currently fresh), then asset, cluster and global breakers, stopping at
// the first active one.
func (b *Breakers) Check(symbolFresh bool, portfolioID, symbol, clusterKey string) CheckResult {
	if !symbolFresh {
		return CheckResult{Blocked: true, Level: types.BreakerStaleness, Reason: "symbol not fresh"}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if br, ok := b.states[types.BreakerAsset][scopeKey(portfolioID, symbol)]; ok && br.IsTriggered {
		return CheckResult{Blocked: true, Level: types.BreakerAsset, Reason: br.TriggerReason}
	}
	if br, ok := b.states[types.BreakerCluster][scopeKey(portfolioID, clusterKey)]; ok && br.IsTriggered {
		return CheckResult{Blocked: true, Level: types.BreakerCluster, Reason: br.TriggerReason}
	}
	if br, ok := b.states[types.BreakerGlobal][portfolioID]; ok && br.IsTriggered {
		return CheckResult{Blocked: true, Level: types.BreakerGlobal, Reason: br.TriggerReason}
	}
	return CheckResult{}
}

// EvaluateAsset trips the asset breaker when BOTH the consecutive-loss
// count and the cumulative loss (in R multiples) reach or exceed their
// thresholds, a conservative AND rather than either alone.
func (b *Breakers) EvaluateAsset(portfolioID, symbol string, consecutiveLosses int, cumulativeLossR decimal.Decimal) {
	trip := consecutiveLosses >= b.thresholds.AssetConsecutiveLosses &&
		cumulativeLossR.GreaterThanOrEqual(b.thresholds.AssetCumulativeLossR)
	if !trip {
		return
	}
	reason := fmt.Sprintf("consecutive losses %d >= %d AND cumulative loss %s >= %sR",
		consecutiveLosses, b.thresholds.AssetConsecutiveLosses, cumulativeLossR, b.thresholds.AssetCumulativeLossR)
	b.trigger(types.BreakerAsset, scopeKey(portfolioID, symbol), portfolioID, reason, b.thresholds.AssetAutoReset)
}

// EvaluateCluster trips the cluster breaker when the cluster's
// cumulative loss percentage reaches or exceeds its threshold.
func (b *Breakers) EvaluateCluster(portfolioID, clusterKey string, lossPct decimal.Decimal) {
	if lossPct.LessThan(b.thresholds.ClusterLossPct) {
		return
	}
	reason := fmt.Sprintf("cluster loss %s%% >= %s%%", lossPct, b.thresholds.ClusterLossPct)
	b.trigger(types.BreakerCluster, scopeKey(portfolioID, clusterKey), portfolioID, reason, b.thresholds.ClusterAutoReset)
}

// EvaluateGlobal trips the global breaker on daily loss or max drawdown,
// whichever crosses its threshold first.
func (b *Breakers) EvaluateGlobal(portfolioID string, dailyLossPct, drawdownPct decimal.Decimal) {
	switch {
	case dailyLossPct.GreaterThanOrEqual(b.thresholds.GlobalDailyLossPct):
		b.trigger(types.BreakerGlobal, portfolioID, portfolioID,
			fmt.Sprintf("daily loss %s%% >= %s%%", dailyLossPct, b.thresholds.GlobalDailyLossPct), b.thresholds.GlobalAutoReset)
	case drawdownPct.GreaterThanOrEqual(b.thresholds.GlobalMaxDrawdownPct):
		b.trigger(types.BreakerGlobal, portfolioID, portfolioID,
			fmt.Sprintf("drawdown %s%% >= %s%%", drawdownPct, b.thresholds.GlobalMaxDrawdownPct), b.thresholds.GlobalAutoReset)
	}
}

// trigger trips a breaker, or, if it is already triggered, only updates
// its recorded reason (idempotent per spec.md §3 invariant 4) — the
// trigger/auto-reset timestamps of an already-tripped breaker are left
// alone. An event is still emitted when the reason text actually changes
// so the audit trail reflects the new condition, but repeated identical
// trips emit nothing further.
func (b *Breakers) trigger(level types.BreakerLevel, scope, portfolioID, reason string, autoResetAfter time.Duration) {
	b.mu.Lock()
	now := time.Now()
	existing, already := b.states[level][scope]
	if already && existing.IsTriggered {
		if existing.TriggerReason == reason {
			b.mu.Unlock()
			return
		}
		existing.TriggerReason = reason
		b.mu.Unlock()

		b.emit(types.BreakerEvent{
			PortfolioID: portfolioID,
			Level:       level,
			BreakerID:   scope,
			EventType:   types.BreakerEventTriggered,
			Reason:      reason,
			Timestamp:   now,
		})
		return
	}
	br := &types.Breaker{
		Level:         level,
		ScopeKey:      scope,
		IsTriggered:   true,
		TriggerReason: reason,
		TriggeredAt:   now,
		AutoResetAt:   now.Add(autoResetAfter),
	}
	b.states[level][scope] = br
	b.mu.Unlock()

	b.emit(types.BreakerEvent{
		PortfolioID: portfolioID,
		Level:       level,
		BreakerID:   scope,
		EventType:   types.BreakerEventTriggered,
		Reason:      reason,
		Timestamp:   now,
	})
}

// Reset manually clears a breaker, used by operator intervention.
func (b *Breakers) Reset(level types.BreakerLevel, scope, portfolioID string) {
	b.mu.Lock()
	br, ok := b.states[level][scope]
	if !ok || !br.IsTriggered {
		b.mu.Unlock()
		return
	}
	br.IsTriggered = false
	b.mu.Unlock()

	b.emit(types.BreakerEvent{
		PortfolioID: portfolioID,
		Level:       level,
		BreakerID:   scope,
		EventType:   types.BreakerEventReset,
		Timestamp:   time.Now(),
	})
}

// SweepAutoReset clears every breaker whose AutoResetAt has passed,
// meant to be driven by a 5-minute cron job.
func (b *Breakers) SweepAutoReset(portfolioID string) {
	now := time.Now()
	var toReset []struct {
		level types.BreakerLevel
		scope string
	}

	b.mu.Lock()
	for level, scopes := range b.states {
		for scope, br := range scopes {
			if br.IsTriggered && now.After(br.AutoResetAt) {
				br.IsTriggered = false
				toReset = append(toReset, struct {
					level types.BreakerLevel
					scope string
				}{level, scope})
			}
		}
	}
	b.mu.Unlock()

	for _, r := range toReset {
		b.emit(types.BreakerEvent{
			PortfolioID: portfolioID,
			Level:       r.level,
			BreakerID:   r.scope,
			EventType:   types.BreakerEventAutoReset,
			Timestamp:   now,
		})
	}
}

func (b *Breakers) emit(event types.BreakerEvent) {
	if b.onEvent != nil {
		b.onEvent(event)
	}
}

func scopeKey(portfolioID, suffix string) string {
	return portfolioID + ":" + suffix
}
