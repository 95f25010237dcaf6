// Package campaign is the Campaign Scheduler: the single control loop
// that ticks a campaign through rebalancing its tradable universe,
// auditing its trading day, generating and executing signals, and
// managing every open position's exits and breaker-triggered closes.
package campaign

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/aristath/cryptocore/internal/events"
	"github.com/aristath/cryptocore/internal/execution"
	"github.com/aristath/cryptocore/internal/indicators"
	"github.com/aristath/cryptocore/internal/mds"
	"github.com/aristath/cryptocore/internal/risk"
	"github.com/aristath/cryptocore/internal/selector"
	"github.com/aristath/cryptocore/internal/signals"
	"github.com/aristath/cryptocore/internal/staleness"
	"github.com/aristath/cryptocore/internal/store"
	"github.com/aristath/cryptocore/pkg/types"
)

// Dependencies bundles the collaborators a Scheduler drives. All of them
// are long-lived and shared across campaigns in the same process.
type Dependencies struct {
	MDS        *mds.Store
	Indicators *indicators.Service
	Staleness  *staleness.Guard
	Signals    *signals.Engine
	Breakers   *risk.Breakers
	Executor   *execution.Executor
	Adapter    execution.Adapter // used directly for resting OCO orders, which the Executor's poll-to-terminal contract doesn't fit
	Store      *store.Store
	Bus        *events.Bus
	Bars       BarsLookup
}

// Scheduler drives one campaign's tick loop end to end, mirroring the
// start/stop lifecycle of a long-running orchestrator: a mutex-guarded
// running flag, a background goroutine for the fixed-interval loop, and
// a cron for cadences that don't fit the main tick.
type Scheduler struct {
	cfg    types.CampaignConfig
	deps   Dependencies
	logger *zap.Logger
	cron   *cron.Cron

	mu                sync.Mutex
	state             types.CampaignRiskState
	clusterOf         map[string]string
	consecutiveLosses map[string]int
	clusterPnL        map[string]decimal.Decimal // realized PnL per cluster within the current daily window

	runCtx context.Context
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a Scheduler for cfg. Call Start to begin ticking.
func New(cfg types.CampaignConfig, deps Dependencies, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		cfg:    cfg,
		deps:   deps,
		logger: logger.Named("campaign").With(zap.String("campaign_id", cfg.ID)),
		stopCh: make(chan struct{}),
	}
}

// Start loads the campaign's persisted risk state (or initializes it on
// first run), wires the breaker-sweep and daily-reset cron jobs, and
// starts the main tick loop. It returns once the initial load succeeds;
// the loop itself runs in the background until Stop or ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	loaded, found, err := s.deps.Store.LoadCampaignRiskState(ctx, s.cfg.ID)
	if err != nil {
		return fmt.Errorf("loading campaign risk state: %w", err)
	}
	if !found {
		loaded = types.CampaignRiskState{
			CampaignID:       s.cfg.ID,
			CurrentEquity:    s.cfg.StartingEquity,
			HWMEquity:        s.cfg.StartingEquity,
			LastDailyResetTS: time.Now().UTC(),
		}
	}
	if loaded.LossInRByPair == nil {
		loaded.LossInRByPair = map[string]decimal.Decimal{}
	}
	if loaded.CBPairTriggered == nil {
		loaded.CBPairTriggered = map[string]bool{}
	}

	s.mu.Lock()
	s.state = loaded
	s.clusterOf = map[string]string{}
	s.consecutiveLosses = map[string]int{}
	s.clusterPnL = map[string]decimal.Decimal{}
	s.runCtx = ctx
	s.mu.Unlock()

	s.cron = cron.New(cron.WithLocation(time.UTC))
	if _, err := s.cron.AddFunc("@every 5m", func() { s.sweepBreakers() }); err != nil {
		return fmt.Errorf("scheduling breaker sweep: %w", err)
	}
	if _, err := s.cron.AddFunc("0 0 * * *", func() { s.dailyReset() }); err != nil {
		return fmt.Errorf("scheduling daily reset: %w", err)
	}
	s.cron.Start()

	s.wg.Add(1)
	go s.loop(ctx)
	return nil
}

// Stop halts the tick loop and the cron, and blocks until the loop
// goroutine has returned.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs one full iteration: rebalance and audit when their cadence
// is due, a trading cycle over the current tradable set, then position
// management over every open position. A tripped campaign-level breaker
// skips straight to position management so existing exposure is still
// managed during a cooldown.
func (s *Scheduler) tick(ctx context.Context) {
	s.mu.Lock()
	cooling := s.state.CBCampaignTriggered && time.Now().Before(s.state.CBCooldownUntil)
	s.mu.Unlock()

	if !cooling {
		s.maybeRebalance(ctx)
		s.maybeAudit(ctx)
		s.tradingCycle(ctx)
	}
	s.managePositions(ctx)
}

func (s *Scheduler) sweepBreakers() {
	s.deps.Breakers.SweepAutoReset(s.cfg.ID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.CBCampaignTriggered && !time.Now().Before(s.state.CBCooldownUntil) {
		s.state.CBCampaignTriggered = false
	}
	s.persistStateLocked(s.runCtx)
}

func (s *Scheduler) dailyReset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.DailyPnL = decimal.Zero
	s.state.DailyLossPct = decimal.Zero
	s.state.TradesToday = 0
	s.state.CBDailyTriggered = false
	s.state.CBPairTriggered = map[string]bool{}
	s.state.LastDailyResetTS = time.Now().UTC()
	s.consecutiveLosses = map[string]int{}
	s.clusterPnL = map[string]decimal.Decimal{}
	s.persistStateLocked(s.runCtx)
	s.deps.Breakers.Reset(types.BreakerGlobal, s.cfg.ID, s.cfg.ID)
}

// maybeRebalance rebuilds the catalog, filters and ranks it, clusters
// the survivors, and stores the resulting tradable set and cluster
// membership, if RebalanceInterval has elapsed since the last run.
func (s *Scheduler) maybeRebalance(ctx context.Context) {
	s.mu.Lock()
	due := s.state.LastRebalanceTS.IsZero() || time.Since(s.state.LastRebalanceTS) >= s.cfg.RebalanceInterval
	s.mu.Unlock()
	if !due {
		return
	}

	catalog := BuildCatalog(s.deps.MDS, s.deps.Indicators, s.deps.Bars)
	filtered := selector.Filter(catalog, s.cfg.Selector)

	runID := uuid.NewString()
	ranked := selector.Rank(runID, filtered)

	size := s.cfg.Selector.UniverseSize[s.cfg.Profile]
	if size <= 0 || size > len(ranked) {
		size = len(ranked)
	}
	top := ranked[:size]

	bySymbol := make(map[string]types.Symbol, len(filtered))
	for _, sym := range filtered {
		bySymbol[sym.ID] = sym
	}
	topSymbols := make([]types.Symbol, 0, len(top))
	tradable := make([]string, 0, len(top))
	for _, r := range top {
		if sym, ok := bySymbol[r.SymbolID]; ok {
			topSymbols = append(topSymbols, sym)
			tradable = append(tradable, r.SymbolID)
		}
	}
	clusters := selector.Cluster(topSymbols, s.cfg.Selector.ClusterK, s.cfg.Selector.ClusterMaxMembers)

	if err := s.deps.Store.SaveRankings(ctx, top); err != nil {
		s.logger.Warn("saving rankings failed", zap.Error(err))
	}

	clusterOf := make(map[string]string, len(clusters))
	for symbolID, clusterNum := range clusters {
		clusterOf[symbolID] = fmt.Sprintf("cluster-%d", clusterNum)
	}

	s.mu.Lock()
	s.state.CurrentTradableSet = tradable
	s.state.LastRebalanceTS = time.Now()
	s.clusterOf = clusterOf
	s.persistStateLocked(ctx)
	s.mu.Unlock()

	s.logger.Info("rebalanced", zap.Int("universe_size", len(tradable)), zap.Int("clusters", len(clusters)))
}

// maybeAudit computes the daily statistics over trades closed since the
// last audit and persists a DailyReport, if AuditInterval has elapsed.
func (s *Scheduler) maybeAudit(ctx context.Context) {
	s.mu.Lock()
	due := s.state.LastAuditTS.IsZero() || time.Since(s.state.LastAuditTS) >= s.cfg.AuditInterval
	since := s.state.LastAuditTS
	s.mu.Unlock()
	if !due {
		return
	}

	trades, err := s.deps.Store.TradesSince(ctx, s.cfg.ID, since)
	if err != nil {
		s.logger.Warn("loading trades for audit failed", zap.Error(err))
		return
	}

	report := dailyStats(trades)
	report.CampaignID = s.cfg.ID
	report.Date = time.Now().UTC()
	report.AvgSlippageBps = decimal.Zero // no fills observed this audit window carry a stored slippage sample yet

	if err := s.deps.Store.SaveDailyReport(ctx, report); err != nil {
		s.logger.Warn("saving daily report failed", zap.Error(err))
	}

	s.mu.Lock()
	s.state.LastAuditTS = time.Now()
	s.persistStateLocked(ctx)
	s.mu.Unlock()

	s.deps.Bus.Publish(events.Event{Type: events.TypeCampaign, Payload: report})
}

// tradingCycle evaluates every symbol in the current tradable set for a
// fresh signal, sizes and opens a position for the first side that
// clears staleness, breaker and notional checks.
func (s *Scheduler) tradingCycle(ctx context.Context) {
	s.mu.Lock()
	tradable := append([]string(nil), s.state.CurrentTradableSet...)
	equity := s.state.CurrentEquity
	pairBlocked := make(map[string]bool, len(s.state.CBPairTriggered))
	for k, v := range s.state.CBPairTriggered {
		pairBlocked[k] = v
	}
	s.mu.Unlock()

	open, err := s.deps.Store.OpenPositions(ctx, s.cfg.ID)
	if err != nil {
		s.logger.Warn("loading open positions failed", zap.Error(err))
		return
	}
	openBySymbol := make(map[string]bool, len(open))
	for _, p := range open {
		openBySymbol[p.Symbol] = true
	}
	if len(open) >= s.cfg.MaxOpenPositions {
		return
	}

	for _, symbol := range tradable {
		if openBySymbol[symbol] || pairBlocked[symbol] {
			continue
		}

		fresh := s.deps.Staleness.StateOf(symbol) == staleness.StateFresh
		s.mu.Lock()
		clusterKey := s.clusterOf[symbol]
		s.mu.Unlock()

		check := s.deps.Breakers.Check(fresh, s.cfg.ID, symbol, clusterKey)
		if check.Blocked {
			continue
		}

		quote, ok := s.deps.MDS.L1(symbol)
		if !ok {
			continue
		}
		price := quote.MidPrice()
		snapshot := s.deps.Indicators.Compute(symbol, s.deps.Bars(symbol), price)

		cfg := s.cfg.SignalTemplate
		cfg.PortfolioID = s.cfg.ID
		cfg.Symbol = symbol

		sig, ok := s.deps.Signals.Evaluate(cfg, snapshot, price, string(check.Level))
		if !ok {
			continue
		}
		sig.Qty = signals.SizePosition(cfg, equity, sig.PriceAtSignal, sig.SL)
		if sig.Qty.IsZero() {
			continue
		}
		if sig.Qty.Mul(sig.PriceAtSignal).LessThan(s.cfg.MinNotionalUSD) {
			continue
		}

		if err := s.deps.Store.SaveSignal(ctx, sig); err != nil {
			s.logger.Warn("saving signal failed", zap.Error(err), zap.String("symbol", symbol))
		}
		s.deps.Bus.Publish(events.Event{Type: events.TypeSignal, Payload: sig})
		if err := s.openPosition(ctx, sig); err != nil {
			s.logger.Warn("opening position failed", zap.Error(err), zap.String("symbol", symbol))
			continue
		}

		open = append(open, types.Position{Symbol: symbol})
		if len(open) >= s.cfg.MaxOpenPositions {
			break
		}
	}
}

// openPosition places the entry as a market order, then rests the SL
// and TP1 exits as an OCO pair and persists the position transactionally.
func (s *Scheduler) openPosition(ctx context.Context, sig types.Signal) error {
	entrySide := types.SideBuy
	exitSide := types.SideSell
	posSide := types.PositionLong
	if sig.Type == types.SignalShort {
		entrySide, exitSide, posSide = types.SideSell, types.SideBuy, types.PositionShort
	}

	entryOrder := types.Order{
		PortfolioID: s.cfg.ID, Symbol: sig.Symbol, Side: entrySide, Type: types.OrderTypeMarket,
		Quantity: sig.Qty, Status: types.OrderStatusPending, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	filled, err := s.deps.Executor.PlaceAndPoll(ctx, entryOrder)
	if err != nil {
		return fmt.Errorf("placing entry order: %w", err)
	}
	if filled.Status != types.OrderStatusFilled || filled.FilledQty.IsZero() {
		return fmt.Errorf("entry order did not fill, status=%s", filled.Status)
	}

	ocoGroup := uuid.NewString()
	now := time.Now()
	slOrder := types.Order{
		PortfolioID: s.cfg.ID, Symbol: sig.Symbol, Side: exitSide, Type: types.OrderTypeStopLoss,
		Quantity: filled.FilledQty, StopPrice: sig.SL, Status: types.OrderStatusPending, OCOGroupID: ocoGroup,
		CreatedAt: now, UpdatedAt: now,
	}
	tpOrder := types.Order{
		PortfolioID: s.cfg.ID, Symbol: sig.Symbol, Side: exitSide, Type: types.OrderTypeTakeProfit,
		Quantity: filled.FilledQty, Price: sig.TP1, Status: types.OrderStatusPending, OCOGroupID: ocoGroup,
		CreatedAt: now, UpdatedAt: now,
	}
	for i, o := range []*types.Order{&slOrder, &tpOrder} {
		exchangeID, err := s.deps.Adapter.PlaceOrder(ctx, *o)
		if err != nil {
			return fmt.Errorf("placing OCO leg %d: %w", i, err)
		}
		o.ExchangeOrderID = exchangeID
		o.Status = types.OrderStatusOpen
	}

	pos := types.Position{
		ID: uuid.NewString(), PortfolioID: s.cfg.ID, Symbol: sig.Symbol, Side: posSide,
		Quantity: filled.FilledQty, EntryPrice: filled.AvgFillPrice, CurrentPrice: filled.AvgFillPrice,
		SL: sig.SL, TP: sig.TP1, OCOGroupID: ocoGroup, OpenedAt: now,
	}
	if err := s.deps.Store.OpenPosition(ctx, pos, []types.Order{slOrder, tpOrder}); err != nil {
		return fmt.Errorf("persisting position: %w", err)
	}

	s.mu.Lock()
	s.state.TradesToday++
	s.state.PositionsOpen++
	s.persistStateLocked(ctx)
	s.mu.Unlock()

	s.deps.Bus.Publish(events.Event{Type: events.TypePosition, Payload: pos})
	return nil
}

// managePositions marks every open position to market, closes any whose
// OCO leg has filled on the exchange, force-closes any whose symbol,
// cluster or the campaign itself has since tripped a breaker, and
// force-closes any whose symbol dropped out of the tradable set on the
// last rebalance.
func (s *Scheduler) managePositions(ctx context.Context) {
	positions, err := s.deps.Store.OpenPositions(ctx, s.cfg.ID)
	if err != nil {
		s.logger.Warn("loading open positions failed", zap.Error(err))
		return
	}

	s.mu.Lock()
	tradable := make(map[string]bool, len(s.state.CurrentTradableSet))
	for _, sym := range s.state.CurrentTradableSet {
		tradable[sym] = true
	}
	s.mu.Unlock()

	for _, pos := range positions {
		quote, ok := s.deps.MDS.L1(pos.Symbol)
		if ok {
			unrealized := unrealizedPnL(pos, quote.MidPrice())
			if err := s.deps.Store.UpdatePositionMark(ctx, pos.ID, quote.MidPrice(), unrealized); err != nil {
				s.logger.Warn("marking position failed", zap.Error(err), zap.String("position_id", pos.ID))
			}
		}

		exitOrder, filled := s.pollOCOFill(ctx, pos)
		s.mu.Lock()
		clusterKey := s.clusterOf[pos.Symbol]
		s.mu.Unlock()
		fresh := s.deps.Staleness.StateOf(pos.Symbol) == staleness.StateFresh
		check := s.deps.Breakers.Check(fresh, s.cfg.ID, pos.Symbol, clusterKey)
		delisted := len(tradable) > 0 && !tradable[pos.Symbol]

		switch {
		case filled:
			s.closePosition(ctx, pos, exitOrder.AvgFillPrice, exitOrder.ExchangeOrderID)
		case (check.Blocked || delisted) && !ok:
			// no current price to force-close against; leave the resting OCO to manage the exit.
		case check.Blocked:
			s.forceClose(ctx, pos, quote.MidPrice(), "breaker_forced")
		case delisted:
			s.forceClose(ctx, pos, quote.MidPrice(), "symbol_delisted")
		}
	}
}

// pollOCOFill queries both legs of a position's OCO pair and reports
// whichever one (if any) has reached a filled terminal state.
func (s *Scheduler) pollOCOFill(ctx context.Context, pos types.Position) (types.Order, bool) {
	legs, err := s.deps.Store.OrdersByOCOGroup(ctx, pos.OCOGroupID)
	if err != nil {
		s.logger.Warn("loading OCO legs failed", zap.Error(err), zap.String("position_id", pos.ID))
		return types.Order{}, false
	}
	for _, leg := range legs {
		if leg.Status != types.OrderStatusOpen && leg.Status != types.OrderStatusPending {
			continue
		}
		current, err := s.deps.Adapter.QueryOrder(ctx, leg.ExchangeOrderID)
		if err != nil {
			continue
		}
		if current.Status == types.OrderStatusFilled {
			return current, true
		}
	}
	return types.Order{}, false
}

func (s *Scheduler) closePosition(ctx context.Context, pos types.Position, exitPrice decimal.Decimal, filledExchangeID string) {
	legs, err := s.deps.Store.OrdersByOCOGroup(ctx, pos.OCOGroupID)
	if err == nil {
		for _, leg := range legs {
			if leg.ExchangeOrderID == filledExchangeID {
				continue
			}
			if cancelErr := s.deps.Adapter.CancelOrder(ctx, leg.ExchangeOrderID); cancelErr != nil {
				s.logger.Debug("cancel of sibling OCO leg after fill", zap.Error(cancelErr))
			}
		}
	}
	s.settleClose(ctx, pos, exitPrice, "oco_fill")
}

func (s *Scheduler) forceClose(ctx context.Context, pos types.Position, markPrice decimal.Decimal, reason string) {
	if legs, err := s.deps.Store.OrdersByOCOGroup(ctx, pos.OCOGroupID); err == nil {
		for _, leg := range legs {
			if leg.ExchangeOrderID == "" {
				continue
			}
			if cancelErr := s.deps.Adapter.CancelOrder(ctx, leg.ExchangeOrderID); cancelErr != nil {
				s.logger.Debug("cancel of resting OCO leg before forced close", zap.Error(cancelErr))
			}
		}
	}

	exitSide := types.SideSell
	if pos.Side == types.PositionShort {
		exitSide = types.SideBuy
	}
	closeOrder := types.Order{
		PortfolioID: s.cfg.ID, Symbol: pos.Symbol, Side: exitSide, Type: types.OrderTypeMarket,
		Quantity: pos.Quantity, Status: types.OrderStatusPending, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	filled, err := s.deps.Executor.PlaceAndPoll(ctx, closeOrder)
	exitPrice := markPrice
	if err == nil && filled.Status == types.OrderStatusFilled {
		exitPrice = filled.AvgFillPrice
	} else if err != nil {
		s.logger.Warn("force-close order failed, settling at mark", zap.Error(err), zap.String("position_id", pos.ID))
	}
	s.settleClose(ctx, pos, exitPrice, reason)
}

func (s *Scheduler) settleClose(ctx context.Context, pos types.Position, exitPrice decimal.Decimal, reason string) {
	gross := unrealizedPnL(pos, exitPrice)
	fees := pos.EntryPrice.Mul(pos.Quantity).Add(exitPrice.Mul(pos.Quantity)).Mul(s.cfg.SignalTemplate.FeeRate)
	realized := gross.Sub(fees)
	trade := types.Trade{
		ID: uuid.NewString(), PortfolioID: s.cfg.ID, Symbol: pos.Symbol, Side: pos.Side,
		Entry: pos.EntryPrice, Exit: exitPrice, Quantity: pos.Quantity, RealizedPnL: realized, Fees: fees,
		OpenedAt: pos.OpenedAt, ClosedAt: time.Now(),
	}
	if err := s.deps.Store.ClosePosition(ctx, pos.ID, trade); err != nil {
		s.logger.Warn("closing position failed", zap.Error(err), zap.String("position_id", pos.ID))
		return
	}

	s.accountForClose(ctx, pos, realized)
	s.logger.Info("position closed", zap.String("symbol", pos.Symbol), zap.String("reason", reason), zap.String("pnl", realized.String()))
	s.deps.Bus.Publish(events.Event{Type: events.TypePosition, Payload: trade})
}

// accountForClose updates equity, drawdown, consecutive-loss tracking
// and per-pair R-loss, then feeds the result into every breaker level.
func (s *Scheduler) accountForClose(ctx context.Context, pos types.Position, realized decimal.Decimal) {
	riskAmount := pos.EntryPrice.Sub(pos.SL).Abs().Mul(pos.Quantity)

	s.mu.Lock()
	s.state.CurrentEquity = s.state.CurrentEquity.Add(realized)
	s.state.DailyPnL = s.state.DailyPnL.Add(realized)
	s.state.PositionsOpen--
	if s.state.PositionsOpen < 0 {
		s.state.PositionsOpen = 0
	}
	if s.state.CurrentEquity.GreaterThan(s.state.HWMEquity) {
		s.state.HWMEquity = s.state.CurrentEquity
	}
	if !s.state.HWMEquity.IsZero() {
		s.state.CurrentDDPct = s.state.HWMEquity.Sub(s.state.CurrentEquity).Div(s.state.HWMEquity).Mul(decimal.NewFromInt(100))
		if s.state.CurrentDDPct.GreaterThan(s.state.MaxDDPct) {
			s.state.MaxDDPct = s.state.CurrentDDPct
		}
	}
	if !s.cfg.StartingEquity.IsZero() {
		s.state.DailyLossPct = s.state.DailyPnL.Neg().Div(s.cfg.StartingEquity).Mul(decimal.NewFromInt(100))
	}

	var rLoss decimal.Decimal
	if realized.IsNegative() && !riskAmount.IsZero() {
		rLoss = realized.Neg().Div(riskAmount)
		s.state.LossInRByPair[pos.Symbol] = s.state.LossInRByPair[pos.Symbol].Add(rLoss)
		s.consecutiveLosses[pos.Symbol]++
	} else if realized.IsPositive() {
		s.consecutiveLosses[pos.Symbol] = 0
		s.state.LossInRByPair[pos.Symbol] = decimal.Zero
	}
	consecutive := s.consecutiveLosses[pos.Symbol]
	cumulativeLossR := s.state.LossInRByPair[pos.Symbol]

	if s.state.LossInRByPair[pos.Symbol].GreaterThanOrEqual(s.cfg.MaxLossPerPairR) {
		s.state.CBPairTriggered[pos.Symbol] = true
	}
	if s.state.DailyLossPct.GreaterThanOrEqual(s.cfg.Breakers.GlobalDailyLossPct) ||
		s.state.CurrentDDPct.GreaterThanOrEqual(s.cfg.Breakers.GlobalMaxDrawdownPct) {
		s.state.CBCampaignTriggered = true
		s.state.CBDailyTriggered = true
		s.state.CBCooldownUntil = time.Now().Add(s.cfg.CooldownAfterCB)
	}
	clusterKey := s.clusterOf[pos.Symbol]
	var clusterLossPct decimal.Decimal
	if clusterKey != "" {
		s.clusterPnL[clusterKey] = s.clusterPnL[clusterKey].Add(realized)
		if !s.cfg.StartingEquity.IsZero() {
			clusterLossPct = s.clusterPnL[clusterKey].Neg().Div(s.cfg.StartingEquity).Mul(decimal.NewFromInt(100))
		}
	}
	s.persistStateLocked(ctx)
	s.mu.Unlock()

	s.deps.Breakers.EvaluateAsset(s.cfg.ID, pos.Symbol, consecutive, cumulativeLossR)
	s.deps.Breakers.EvaluateGlobal(s.cfg.ID, s.state.DailyLossPct, s.state.MaxDDPct)
	if clusterKey != "" {
		// clusterLossPct is the cluster's own aggregate realized PnL for the
		// current daily window (sum of its members' trades), not the
		// portfolio-wide daily loss - each cluster trips independently of
		// the other clusters' performance.
		s.deps.Breakers.EvaluateCluster(s.cfg.ID, clusterKey, clusterLossPct)
	}
}

// persistStateLocked saves the current state; callers must hold s.mu.
func (s *Scheduler) persistStateLocked(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.deps.Store.SaveCampaignRiskState(ctx, s.state); err != nil {
		s.logger.Warn("persisting campaign risk state failed", zap.Error(err))
	}
}

func unrealizedPnL(pos types.Position, price decimal.Decimal) decimal.Decimal {
	if pos.Side == types.PositionShort {
		return pos.EntryPrice.Sub(price).Mul(pos.Quantity)
	}
	return price.Sub(pos.EntryPrice).Mul(pos.Quantity)
}
