// Package store is the durable SQL store behind the control plane: 1m/1h
// bars, rankings, signals, orders, positions, trades, breaker events,
// per-campaign risk state and daily reports. It is a real embedded SQL
// engine rather than a JSON-file store, because opening and closing a
// position needs transactional atomicity across {position, OCO orders,
// pair counters} that a flat file cannot give.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	_ "modernc.org/sqlite"

	"github.com/aristath/cryptocore/internal/errs"
	"github.com/aristath/cryptocore/pkg/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS bars (
	exchange TEXT NOT NULL,
	symbol TEXT NOT NULL,
	frame TEXT NOT NULL,
	bar_ts INTEGER NOT NULL,
	open TEXT NOT NULL,
	high TEXT NOT NULL,
	low TEXT NOT NULL,
	close TEXT NOT NULL,
	volume TEXT NOT NULL,
	trades_count INTEGER NOT NULL,
	vwap TEXT NOT NULL,
	PRIMARY KEY (exchange, symbol, frame, bar_ts)
);
CREATE INDEX IF NOT EXISTS idx_bars_symbol_frame_ts ON bars(symbol, frame, bar_ts);

CREATE TABLE IF NOT EXISTS rankings (
	run_id TEXT NOT NULL,
	symbol_id TEXT NOT NULL,
	rank INTEGER NOT NULL,
	score REAL NOT NULL,
	cluster_number INTEGER,
	PRIMARY KEY (run_id, symbol_id)
);

CREATE TABLE IF NOT EXISTS signals (
	id TEXT PRIMARY KEY,
	portfolio_id TEXT NOT NULL,
	symbol TEXT NOT NULL,
	type TEXT NOT NULL,
	price_at_signal TEXT NOT NULL,
	ema12 TEXT NOT NULL,
	ema36 TEXT NOT NULL,
	atr TEXT NOT NULL,
	tp1 TEXT NOT NULL,
	tp2 TEXT NOT NULL,
	sl TEXT NOT NULL,
	qty TEXT NOT NULL,
	breaker_state TEXT,
	status TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_signals_portfolio ON signals(portfolio_id, symbol);

CREATE TABLE IF NOT EXISTS orders (
	id TEXT PRIMARY KEY,
	portfolio_id TEXT NOT NULL,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	type TEXT NOT NULL,
	quantity TEXT NOT NULL,
	price TEXT NOT NULL,
	stop_price TEXT NOT NULL,
	status TEXT NOT NULL,
	exchange_order_id TEXT,
	oco_group_id TEXT,
	filled_qty TEXT NOT NULL,
	average_fill_price TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_orders_oco ON orders(oco_group_id);

CREATE TABLE IF NOT EXISTS positions (
	id TEXT PRIMARY KEY,
	portfolio_id TEXT NOT NULL,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	quantity TEXT NOT NULL,
	entry_price TEXT NOT NULL,
	current_price TEXT NOT NULL,
	sl TEXT NOT NULL,
	tp TEXT NOT NULL,
	oco_group_id TEXT NOT NULL,
	unrealized_pnl TEXT NOT NULL,
	opened_at DATETIME NOT NULL,
	closed_at DATETIME
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_positions_open_pair ON positions(portfolio_id, symbol) WHERE closed_at IS NULL;

CREATE TABLE IF NOT EXISTS trades (
	id TEXT PRIMARY KEY,
	portfolio_id TEXT NOT NULL,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	entry TEXT NOT NULL,
	exit TEXT NOT NULL,
	quantity TEXT NOT NULL,
	realized_pnl TEXT NOT NULL,
	fees TEXT NOT NULL,
	opened_at DATETIME NOT NULL,
	closed_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_portfolio_closed ON trades(portfolio_id, closed_at);

CREATE TABLE IF NOT EXISTS breaker_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	portfolio_id TEXT NOT NULL,
	level TEXT NOT NULL,
	breaker_id TEXT NOT NULL,
	event_type TEXT NOT NULL,
	reason TEXT,
	ts DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS campaign_risk_states (
	campaign_id TEXT PRIMARY KEY,
	current_equity TEXT NOT NULL,
	hwm_equity TEXT NOT NULL,
	daily_pnl TEXT NOT NULL,
	daily_loss_pct TEXT NOT NULL,
	current_dd_pct TEXT NOT NULL,
	max_dd_pct TEXT NOT NULL,
	loss_in_r_by_pair TEXT NOT NULL,
	trades_today INTEGER NOT NULL,
	positions_open INTEGER NOT NULL,
	cb_pair_triggered TEXT NOT NULL,
	cb_daily_triggered INTEGER NOT NULL,
	cb_campaign_triggered INTEGER NOT NULL,
	cb_cooldown_until DATETIME,
	last_daily_reset_ts DATETIME,
	last_rebalance_ts DATETIME,
	last_audit_ts DATETIME,
	current_tradable_set TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS daily_reports (
	campaign_id TEXT NOT NULL,
	report_date TEXT NOT NULL,
	trades INTEGER NOT NULL,
	hit_rate TEXT NOT NULL,
	payoff TEXT NOT NULL,
	expectancy TEXT NOT NULL,
	var95 TEXT NOT NULL,
	var95_valid INTEGER NOT NULL,
	es95 TEXT NOT NULL,
	es95_valid INTEGER NOT NULL,
	avg_slippage_bps TEXT NOT NULL,
	PRIMARY KEY (campaign_id, report_date)
);
`

// Store wraps a single-writer SQLite connection with the control plane's
// durable tables. modernc.org/sqlite is pure Go, so the binary stays
// cgo-free.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open creates (or reuses) the database at path and applies the schema.
func Open(path string, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	return &Store{db: db, logger: logger.Named("store")}, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveBar upserts a single long-horizon bar (1m or 1h).
func (s *Store) SaveBar(ctx context.Context, b types.Bar) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bars (exchange, symbol, frame, bar_ts, open, high, low, close, volume, trades_count, vwap)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(exchange, symbol, frame, bar_ts) DO UPDATE SET
			open=excluded.open, high=excluded.high, low=excluded.low, close=excluded.close,
			volume=excluded.volume, trades_count=excluded.trades_count, vwap=excluded.vwap`,
		b.Exchange, b.Symbol, string(b.Frame), b.BarTS,
		b.Open.String(), b.High.String(), b.Low.String(), b.Close.String(),
		b.Volume.String(), b.TradesCount, b.VWAP.String())
	if err != nil {
		return fmt.Errorf("store: save bar: %w", err)
	}
	return nil
}

// RecentBars returns up to limit bars for (symbol, frame), ascending by bar_ts.
func (s *Store) RecentBars(ctx context.Context, symbol string, frame types.Frame, limit int) ([]types.Bar, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT exchange, symbol, frame, bar_ts, open, high, low, close, volume, trades_count, vwap
		FROM bars WHERE symbol = ? AND frame = ? ORDER BY bar_ts DESC LIMIT ?`, symbol, string(frame), limit)
	if err != nil {
		return nil, fmt.Errorf("store: recent bars: %w", err)
	}
	defer rows.Close()

	var out []types.Bar
	for rows.Next() {
		var b types.Bar
		var frameStr, o, h, l, c, v, vwap string
		if err := rows.Scan(&b.Exchange, &b.Symbol, &frameStr, &b.BarTS, &o, &h, &l, &c, &v, &b.TradesCount, &vwap); err != nil {
			return nil, fmt.Errorf("store: scan bar: %w", err)
		}
		b.Frame = types.Frame(frameStr)
		b.Open, b.High, b.Low, b.Close, b.Volume, b.VWAP = mustDec(o), mustDec(h), mustDec(l), mustDec(c), mustDec(v), mustDec(vwap)
		out = append(out, b)
	}
	// reverse to ascending
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}

// SaveRankings persists one selection run's rankings, replacing any prior
// rows for the same run_id.
func (s *Store) SaveRankings(ctx context.Context, rankings []types.Ranking) error {
	if len(rankings) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin rankings tx: %w", err)
	}
	defer tx.Rollback()

	for _, r := range rankings {
		var cluster any
		if r.ClusterNumber != nil {
			cluster = *r.ClusterNumber
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO rankings (run_id, symbol_id, rank, score, cluster_number) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(run_id, symbol_id) DO UPDATE SET rank=excluded.rank, score=excluded.score, cluster_number=excluded.cluster_number`,
			r.RunID, r.SymbolID, r.Rank, r.Score, cluster); err != nil {
			return fmt.Errorf("store: save ranking: %w", err)
		}
	}
	return tx.Commit()
}

// SaveSignal persists a produced signal for audit.
func (s *Store) SaveSignal(ctx context.Context, sig types.Signal) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO signals (id, portfolio_id, symbol, type, price_at_signal, ema12, ema36, atr, tp1, tp2, sl, qty, breaker_state, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET status=excluded.status, updated_at=excluded.updated_at`,
		sig.ID, sig.PortfolioID, sig.Symbol, string(sig.Type), sig.PriceAtSignal.String(),
		sig.EMA12.String(), sig.EMA36.String(), sig.ATR.String(), sig.TP1.String(), sig.TP2.String(), sig.SL.String(), sig.Qty.String(),
		sig.BreakerState, string(sig.Status), sig.CreatedAt, sig.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: save signal: %w", err)
	}
	return nil
}

// OpenPosition atomically inserts a position and its two OCO orders
// (stop-loss, take-profit) sharing pos.OCOGroupID, so a position never
// exists without its OCO pair or vice versa. ErrStateConflict is
// returned (and the transaction rolled back) if the (portfolio, symbol)
// pair already has an open position.
func (s *Store) OpenPosition(ctx context.Context, pos types.Position, orders []types.Order) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin open-position tx: %w", err)
	}
	defer tx.Rollback()

	var existing int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM positions WHERE portfolio_id = ? AND symbol = ? AND closed_at IS NULL`,
		pos.PortfolioID, pos.Symbol).Scan(&existing); err != nil {
		return fmt.Errorf("store: check existing position: %w", err)
	}
	if existing > 0 {
		return fmt.Errorf("%w: position already open for %s/%s", errs.ErrStateConflict, pos.PortfolioID, pos.Symbol)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO positions (id, portfolio_id, symbol, side, quantity, entry_price, current_price, sl, tp, oco_group_id, unrealized_pnl, opened_at, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)`,
		pos.ID, pos.PortfolioID, pos.Symbol, string(pos.Side), pos.Quantity.String(), pos.EntryPrice.String(), pos.CurrentPrice.String(),
		pos.SL.String(), pos.TP.String(), pos.OCOGroupID, pos.UnrealizedPnL.String(), pos.OpenedAt); err != nil {
		return fmt.Errorf("store: insert position: %w", err)
	}

	for _, o := range orders {
		if err := insertOrder(ctx, tx, o); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func insertOrder(ctx context.Context, tx *sql.Tx, o types.Order) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO orders (id, portfolio_id, symbol, side, type, quantity, price, stop_price, status, exchange_order_id, oco_group_id, filled_qty, average_fill_price, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET status=excluded.status, filled_qty=excluded.filled_qty, average_fill_price=excluded.average_fill_price, updated_at=excluded.updated_at`,
		o.ID, o.PortfolioID, o.Symbol, string(o.Side), string(o.Type), o.Quantity.String(), o.Price.String(), o.StopPrice.String(),
		string(o.Status), o.ExchangeOrderID, o.OCOGroupID, o.FilledQty.String(), o.AvgFillPrice.String(), o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: insert order: %w", err)
	}
	return nil
}

// ClosePosition atomically marks positionID closed, cancels every
// still-open order in its OCO group (the fill of one leg removes the
// other) and records the resulting trade.
func (s *Store) ClosePosition(ctx context.Context, positionID string, trade types.Trade) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin close-position tx: %w", err)
	}
	defer tx.Rollback()

	var ocoGroup string
	var closedAt sql.NullTime
	if err := tx.QueryRowContext(ctx, `SELECT oco_group_id, closed_at FROM positions WHERE id = ?`, positionID).Scan(&ocoGroup, &closedAt); err != nil {
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: position %s", errs.ErrNotFound, positionID)
		}
		return fmt.Errorf("store: load position: %w", err)
	}
	if closedAt.Valid {
		return fmt.Errorf("%w: position %s already closed", errs.ErrStateConflict, positionID)
	}

	now := time.Now()
	if _, err := tx.ExecContext(ctx, `UPDATE positions SET closed_at = ? WHERE id = ?`, now, positionID); err != nil {
		return fmt.Errorf("store: mark position closed: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE orders SET status = ?, updated_at = ? WHERE oco_group_id = ? AND status IN (?, ?)`,
		string(types.OrderStatusCancelled), now, ocoGroup, string(types.OrderStatusOpen), string(types.OrderStatusPending)); err != nil {
		return fmt.Errorf("store: cancel OCO orders: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO trades (id, portfolio_id, symbol, side, entry, exit, quantity, realized_pnl, fees, opened_at, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		trade.ID, trade.PortfolioID, trade.Symbol, string(trade.Side), trade.Entry.String(), trade.Exit.String(),
		trade.Quantity.String(), trade.RealizedPnL.String(), trade.Fees.String(), trade.OpenedAt, trade.ClosedAt); err != nil {
		return fmt.Errorf("store: insert trade: %w", err)
	}
	return tx.Commit()
}

// OpenPositions returns every currently-open position for portfolioID.
func (s *Store) OpenPositions(ctx context.Context, portfolioID string) ([]types.Position, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, portfolio_id, symbol, side, quantity, entry_price, current_price, sl, tp, oco_group_id, unrealized_pnl, opened_at
		FROM positions WHERE portfolio_id = ? AND closed_at IS NULL`, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("store: open positions: %w", err)
	}
	defer rows.Close()

	var out []types.Position
	for rows.Next() {
		var p types.Position
		var side, qty, entry, cur, sl, tp, pnl string
		if err := rows.Scan(&p.ID, &p.PortfolioID, &p.Symbol, &side, &qty, &entry, &cur, &sl, &tp, &p.OCOGroupID, &pnl, &p.OpenedAt); err != nil {
			return nil, fmt.Errorf("store: scan position: %w", err)
		}
		p.Side = types.PositionSide(side)
		p.Quantity, p.EntryPrice, p.CurrentPrice, p.SL, p.TP, p.UnrealizedPnL = mustDec(qty), mustDec(entry), mustDec(cur), mustDec(sl), mustDec(tp), mustDec(pnl)
		out = append(out, p)
	}
	return out, rows.Err()
}

// OrdersByOCOGroup returns every order sharing ocoGroup, used to recover
// the real exchange order ids for a position's resting SL/TP legs.
func (s *Store) OrdersByOCOGroup(ctx context.Context, ocoGroup string) ([]types.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, portfolio_id, symbol, side, type, quantity, price, stop_price, status, exchange_order_id, oco_group_id, filled_qty, average_fill_price, created_at, updated_at
		FROM orders WHERE oco_group_id = ?`, ocoGroup)
	if err != nil {
		return nil, fmt.Errorf("store: orders by oco group: %w", err)
	}
	defer rows.Close()

	var out []types.Order
	for rows.Next() {
		var o types.Order
		var side, typ, qty, price, stopPrice, status, filled, avgFill string
		var exchangeID sql.NullString
		if err := rows.Scan(&o.ID, &o.PortfolioID, &o.Symbol, &side, &typ, &qty, &price, &stopPrice, &status,
			&exchangeID, &o.OCOGroupID, &filled, &avgFill, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("store: scan order: %w", err)
		}
		o.Side, o.Type, o.Status = types.Side(side), types.OrderType(typ), types.OrderStatus(status)
		o.Quantity, o.Price, o.StopPrice, o.FilledQty, o.AvgFillPrice = mustDec(qty), mustDec(price), mustDec(stopPrice), mustDec(filled), mustDec(avgFill)
		o.ExchangeOrderID = exchangeID.String
		out = append(out, o)
	}
	return out, rows.Err()
}

// UpdatePositionMark writes a new mark-to-market price and unrealized PnL.
func (s *Store) UpdatePositionMark(ctx context.Context, positionID string, currentPrice, unrealizedPnL decimal.Decimal) error {
	_, err := s.db.ExecContext(ctx, `UPDATE positions SET current_price = ?, unrealized_pnl = ? WHERE id = ?`,
		currentPrice.String(), unrealizedPnL.String(), positionID)
	if err != nil {
		return fmt.Errorf("store: update mark: %w", err)
	}
	return nil
}

// SaveBreakerEvent appends one audit row for a breaker trigger or reset.
func (s *Store) SaveBreakerEvent(ctx context.Context, ev types.BreakerEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO breaker_events (portfolio_id, level, breaker_id, event_type, reason, ts) VALUES (?, ?, ?, ?, ?, ?)`,
		ev.PortfolioID, string(ev.Level), ev.BreakerID, string(ev.EventType), ev.Reason, ev.Timestamp)
	if err != nil {
		return fmt.Errorf("store: save breaker event: %w", err)
	}
	return nil
}

// LoadCampaignRiskState returns campaignID's risk ledger, or a fresh
// zero-value state (with equity left for the caller to seed) if none has
// been persisted yet.
func (s *Store) LoadCampaignRiskState(ctx context.Context, campaignID string) (types.CampaignRiskState, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT current_equity, hwm_equity, daily_pnl, daily_loss_pct, current_dd_pct, max_dd_pct, loss_in_r_by_pair,
		       trades_today, positions_open, cb_pair_triggered, cb_daily_triggered, cb_campaign_triggered,
		       cb_cooldown_until, last_daily_reset_ts, last_rebalance_ts, last_audit_ts, current_tradable_set
		FROM campaign_risk_states WHERE campaign_id = ?`, campaignID)

	var st types.CampaignRiskState
	st.CampaignID = campaignID
	var equity, hwm, dailyPnL, dailyLossPct, ddPct, maxDD, lossByPairJSON, pairTriggeredJSON, tradableJSON string
	var cbDaily, cbCampaign int
	var cooldown, lastDaily, lastRebalance, lastAudit sql.NullTime

	err := row.Scan(&equity, &hwm, &dailyPnL, &dailyLossPct, &ddPct, &maxDD, &lossByPairJSON,
		&st.TradesToday, &st.PositionsOpen, &pairTriggeredJSON, &cbDaily, &cbCampaign,
		&cooldown, &lastDaily, &lastRebalance, &lastAudit, &tradableJSON)
	if err == sql.ErrNoRows {
		return types.CampaignRiskState{
			CampaignID:      campaignID,
			LossInRByPair:   map[string]decimal.Decimal{},
			CBPairTriggered: map[string]bool{},
		}, false, nil
	}
	if err != nil {
		return types.CampaignRiskState{}, false, fmt.Errorf("store: load campaign risk state: %w", err)
	}

	st.CurrentEquity, st.HWMEquity, st.DailyPnL = mustDec(equity), mustDec(hwm), mustDec(dailyPnL)
	st.DailyLossPct, st.CurrentDDPct, st.MaxDDPct = mustDec(dailyLossPct), mustDec(ddPct), mustDec(maxDD)
	st.CBDailyTriggered, st.CBCampaignTriggered = cbDaily != 0, cbCampaign != 0
	if cooldown.Valid {
		st.CBCooldownUntil = cooldown.Time
	}
	if lastDaily.Valid {
		st.LastDailyResetTS = lastDaily.Time
	}
	if lastRebalance.Valid {
		st.LastRebalanceTS = lastRebalance.Time
	}
	if lastAudit.Valid {
		st.LastAuditTS = lastAudit.Time
	}
	st.LossInRByPair = map[string]decimal.Decimal{}
	_ = json.Unmarshal([]byte(lossByPairJSON), &st.LossInRByPair)
	st.CBPairTriggered = map[string]bool{}
	_ = json.Unmarshal([]byte(pairTriggeredJSON), &st.CBPairTriggered)
	_ = json.Unmarshal([]byte(tradableJSON), &st.CurrentTradableSet)
	return st, true, nil
}

// SaveCampaignRiskState upserts the full risk ledger row.
func (s *Store) SaveCampaignRiskState(ctx context.Context, st types.CampaignRiskState) error {
	lossByPair, _ := json.Marshal(st.LossInRByPair)
	pairTriggered, _ := json.Marshal(st.CBPairTriggered)
	tradable, _ := json.Marshal(st.CurrentTradableSet)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO campaign_risk_states (
			campaign_id, current_equity, hwm_equity, daily_pnl, daily_loss_pct, current_dd_pct, max_dd_pct,
			loss_in_r_by_pair, trades_today, positions_open, cb_pair_triggered, cb_daily_triggered, cb_campaign_triggered,
			cb_cooldown_until, last_daily_reset_ts, last_rebalance_ts, last_audit_ts, current_tradable_set)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(campaign_id) DO UPDATE SET
			current_equity=excluded.current_equity, hwm_equity=excluded.hwm_equity, daily_pnl=excluded.daily_pnl,
			daily_loss_pct=excluded.daily_loss_pct, current_dd_pct=excluded.current_dd_pct, max_dd_pct=excluded.max_dd_pct,
			loss_in_r_by_pair=excluded.loss_in_r_by_pair, trades_today=excluded.trades_today, positions_open=excluded.positions_open,
			cb_pair_triggered=excluded.cb_pair_triggered, cb_daily_triggered=excluded.cb_daily_triggered,
			cb_campaign_triggered=excluded.cb_campaign_triggered, cb_cooldown_until=excluded.cb_cooldown_until,
			last_daily_reset_ts=excluded.last_daily_reset_ts, last_rebalance_ts=excluded.last_rebalance_ts,
			last_audit_ts=excluded.last_audit_ts, current_tradable_set=excluded.current_tradable_set`,
		st.CampaignID, st.CurrentEquity.String(), st.HWMEquity.String(), st.DailyPnL.String(), st.DailyLossPct.String(),
		st.CurrentDDPct.String(), st.MaxDDPct.String(), string(lossByPair), st.TradesToday, st.PositionsOpen,
		string(pairTriggered), boolInt(st.CBDailyTriggered), boolInt(st.CBCampaignTriggered),
		nullTime(st.CBCooldownUntil), nullTime(st.LastDailyResetTS), nullTime(st.LastRebalanceTS), nullTime(st.LastAuditTS),
		string(tradable))
	if err != nil {
		return fmt.Errorf("store: save campaign risk state: %w", err)
	}
	return nil
}

// TradesSince returns every trade closed at or after since, oldest first,
// the raw material for daily-report statistics.
func (s *Store) TradesSince(ctx context.Context, portfolioID string, since time.Time) ([]types.Trade, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, portfolio_id, symbol, side, entry, exit, quantity, realized_pnl, fees, opened_at, closed_at
		FROM trades WHERE portfolio_id = ? AND closed_at >= ? ORDER BY closed_at ASC`, portfolioID, since)
	if err != nil {
		return nil, fmt.Errorf("store: trades since: %w", err)
	}
	defer rows.Close()

	var out []types.Trade
	for rows.Next() {
		var t types.Trade
		var side, entry, exit, qty, pnl, fees string
		if err := rows.Scan(&t.ID, &t.PortfolioID, &t.Symbol, &side, &entry, &exit, &qty, &pnl, &fees, &t.OpenedAt, &t.ClosedAt); err != nil {
			return nil, fmt.Errorf("store: scan trade: %w", err)
		}
		t.Side = types.PositionSide(side)
		t.Entry, t.Exit, t.Quantity, t.RealizedPnL, t.Fees = mustDec(entry), mustDec(exit), mustDec(qty), mustDec(pnl), mustDec(fees)
		out = append(out, t)
	}
	return out, rows.Err()
}

// SaveDailyReport upserts one campaign-day's audit summary.
func (s *Store) SaveDailyReport(ctx context.Context, r types.DailyReport) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO daily_reports (campaign_id, report_date, trades, hit_rate, payoff, expectancy, var95, var95_valid, es95, es95_valid, avg_slippage_bps)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(campaign_id, report_date) DO UPDATE SET
			trades=excluded.trades, hit_rate=excluded.hit_rate, payoff=excluded.payoff, expectancy=excluded.expectancy,
			var95=excluded.var95, var95_valid=excluded.var95_valid, es95=excluded.es95, es95_valid=excluded.es95_valid,
			avg_slippage_bps=excluded.avg_slippage_bps`,
		r.CampaignID, r.Date.Format("2006-01-02"), r.Trades, r.HitRate.String(), r.Payoff.String(), r.Expectancy.String(),
		r.VaR95.Value.String(), boolInt(r.VaR95.Valid), r.ES95.Value.String(), boolInt(r.ES95.Valid), r.AvgSlippageBps.String())
	if err != nil {
		return fmt.Errorf("store: save daily report: %w", err)
	}
	return nil
}

func mustDec(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
