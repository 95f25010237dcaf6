// Package types provides shared type definitions for the trading control plane.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the aggressor side of a tick or the direction of an order/position.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Frame is a bar aggregation timeframe.
type Frame string

const (
	Frame1s Frame = "1s"
	Frame5s Frame = "5s"
	Frame1m Frame = "1m"
	Frame1h Frame = "1h"
)

// Seconds returns the frame's duration in seconds.
func (f Frame) Seconds() int64 {
	switch f {
	case Frame1s:
		return 1
	case Frame5s:
		return 5
	case Frame1m:
		return 60
	case Frame1h:
		return 3600
	default:
		return 0
	}
}

// Tick is a single trade print.
type Tick struct {
	Exchange   string
	Symbol     string
	Price      decimal.Decimal
	Quantity   decimal.Decimal
	Side       Side
	ExchangeTS time.Time
	IngestTS   time.Time
	SeqID      int64
}

// L1Quote is the latest top-of-book snapshot.
type L1Quote struct {
	Exchange   string
	Symbol     string
	Bid        decimal.Decimal
	BidQty     decimal.Decimal
	Ask        decimal.Decimal
	AskQty     decimal.Decimal
	SpreadBps  decimal.Decimal
	Volume24h  decimal.Decimal // base-asset volume over the trailing 24h
	ExchangeTS time.Time
	IngestTS   time.Time
}

// MidPrice returns (bid+ask)/2.
func (q *L1Quote) MidPrice() decimal.Decimal {
	return q.Bid.Add(q.Ask).Div(decimal.NewFromInt(2))
}

// L2Level is a single price/quantity level in an order book side.
type L2Level struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// L2Book is a capped-depth snapshot of both book sides.
type L2Book struct {
	Exchange   string
	Symbol     string
	Bids       []L2Level // descending by price
	Asks       []L2Level // ascending by price
	ExchangeTS time.Time
	IngestTS   time.Time
}

// Bar is an OHLCV candle aligned to a frame boundary.
type Bar struct {
	Exchange    string
	Symbol      string
	Frame       Frame
	BarTS       int64 // unix seconds, bar_ts % frame.Seconds() == 0
	Open        decimal.Decimal
	High        decimal.Decimal
	Low         decimal.Decimal
	Close       decimal.Decimal
	Volume      decimal.Decimal
	TradesCount int
	VWAP        decimal.Decimal
}

// Symbol is a catalog entry describing a tradable instrument.
type Symbol struct {
	ID              string
	ExchangeSymbol  string
	DisplaySymbol   string
	Volume24hUSD    decimal.Decimal
	SpreadMidPct    decimal.Decimal
	DepthTop10USD   decimal.Decimal
	ATRDailyPct     decimal.Decimal
	RealVolumeRatio *decimal.Decimal // optional
	IsActive        bool
}

// Ranking is one symbol's position within a selection run.
type Ranking struct {
	RunID         string
	SymbolID      string
	Rank          int
	Score         float64
	ClusterNumber *int
}

// SignalConfig holds per (portfolio, symbol) signal thresholds.
type SignalConfig struct {
	PortfolioID      string
	Symbol           string
	Enabled          bool
	LongATRMult      decimal.Decimal // Nlong
	ShortATRMult     decimal.Decimal // Nshort
	TP1ATRMult       decimal.Decimal // M1
	TP2ATRMult       decimal.Decimal // M2
	SLATRMult        decimal.Decimal // Msl
	RiskPerTradeBps  decimal.Decimal
	MaxPositionPctEq decimal.Decimal // max_position_pct_capital_per_pair
	FeeRate          decimal.Decimal
	SlippageRate     decimal.Decimal
}

// SignalType is the direction of a generated trading signal.
type SignalType string

const (
	SignalLong  SignalType = "long"
	SignalShort SignalType = "short"
)

// SignalStatus is the lifecycle state of a Signal.
type SignalStatus string

const (
	SignalStatusPending   SignalStatus = "pending"
	SignalStatusExecuted  SignalStatus = "executed"
	SignalStatusExpired   SignalStatus = "expired"
	SignalStatusCancelled SignalStatus = "cancelled"
)

// Signal is a produced trading opportunity, audited with the config and
// breaker state that were in effect when it fired.
type Signal struct {
	ID             string
	PortfolioID    string
	Symbol         string
	Type           SignalType
	PriceAtSignal  decimal.Decimal
	EMA12          decimal.Decimal
	EMA36          decimal.Decimal
	ATR            decimal.Decimal
	TP1            decimal.Decimal
	TP2            decimal.Decimal
	SL             decimal.Decimal
	Qty            decimal.Decimal
	ConfigSnapshot SignalConfig
	BreakerState   string
	Status         SignalStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// PositionSide mirrors SignalType for an open position.
type PositionSide string

const (
	PositionLong  PositionSide = "long"
	PositionShort PositionSide = "short"
)

// Position is an open exposure in a single (portfolio, symbol).
type Position struct {
	ID            string
	PortfolioID   string
	Symbol        string
	Side          PositionSide
	Quantity      decimal.Decimal
	EntryPrice    decimal.Decimal
	CurrentPrice  decimal.Decimal
	SL            decimal.Decimal
	TP            decimal.Decimal
	OCOGroupID    string
	UnrealizedPnL decimal.Decimal
	OpenedAt      time.Time
}

// Trade is a closed position's record.
type Trade struct {
	ID          string
	PortfolioID string
	Symbol      string
	Side        PositionSide
	Entry       decimal.Decimal
	Exit        decimal.Decimal
	Quantity    decimal.Decimal
	RealizedPnL decimal.Decimal
	Fees        decimal.Decimal
	OpenedAt    time.Time
	ClosedAt    time.Time
}

// BreakerLevel identifies which circuit breaker layer a check belongs to.
type BreakerLevel string

const (
	BreakerStaleness BreakerLevel = "staleness"
	BreakerAsset     BreakerLevel = "asset"
	BreakerCluster   BreakerLevel = "cluster"
	BreakerGlobal    BreakerLevel = "global"
)

// Breaker is the persisted state of one circuit breaker instance.
type Breaker struct {
	Level         BreakerLevel
	ScopeKey      string // e.g. "portfolio:symbol", "portfolio:cluster", "portfolio"
	IsTriggered   bool
	TriggerReason string
	TriggeredAt   time.Time
	AutoResetAt   time.Time
}

// BreakerEventType enumerates the lifecycle events of a breaker.
type BreakerEventType string

const (
	BreakerEventTriggered BreakerEventType = "triggered"
	BreakerEventReset     BreakerEventType = "reset"
	BreakerEventAutoReset BreakerEventType = "auto_reset"
)

// BreakerEvent is an audit record emitted on every trigger/reset.
type BreakerEvent struct {
	PortfolioID string
	Level       BreakerLevel
	BreakerID   string
	EventType   BreakerEventType
	Reason      string
	Metadata    map[string]string
	Timestamp   time.Time
}

// OrderType enumerates the order instruction kinds the executor accepts.
type OrderType string

const (
	OrderTypeMarket     OrderType = "market"
	OrderTypeLimit      OrderType = "limit"
	OrderTypeStopLoss   OrderType = "stop_loss"
	OrderTypeTakeProfit OrderType = "take_profit"
)

// OrderStatus mirrors the exchange-observable lifecycle of an order.
type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "pending"
	OrderStatusOpen            OrderStatus = "open"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusRejected        OrderStatus = "rejected"
)

// Order is a single exchange-facing instruction.
type Order struct {
	ID              string
	PortfolioID     string
	Symbol          string
	Side            Side
	Type            OrderType
	Quantity        decimal.Decimal
	Price           decimal.Decimal
	StopPrice       decimal.Decimal
	Status          OrderStatus
	ExchangeOrderID string
	OCOGroupID      string
	FilledQty       decimal.Decimal
	AvgFillPrice    decimal.Decimal
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// CampaignRiskState is the per-campaign mutable risk and scheduling ledger.
type CampaignRiskState struct {
	CampaignID          string
	CurrentEquity       decimal.Decimal
	HWMEquity           decimal.Decimal
	DailyPnL            decimal.Decimal
	DailyLossPct        decimal.Decimal
	CurrentDDPct        decimal.Decimal
	MaxDDPct            decimal.Decimal
	LossInRByPair       map[string]decimal.Decimal
	TradesToday         int
	PositionsOpen       int
	CBPairTriggered     map[string]bool
	CBDailyTriggered    bool
	CBCampaignTriggered bool
	CBCooldownUntil     time.Time
	LastDailyResetTS    time.Time
	LastRebalanceTS     time.Time
	LastAuditTS         time.Time
	CurrentTradableSet  []string
}

// InvestorProfile scales the automatic universe size on rebalance.
type InvestorProfile string

const (
	ProfileConservative InvestorProfile = "C"
	ProfileModerate     InvestorProfile = "M"
	ProfileAggressive   InvestorProfile = "A"
)

// RiskMetric carries a possibly-undefined statistical risk figure.
//
// Valid is false when the sample floor (5 observations) was not met;
// Value is always the zero decimal in that case so it can never
// silently leak into an accumulator.
type RiskMetric struct {
	Value decimal.Decimal
	Valid bool
}

// DailyReport summarizes one campaign's trading day for audit.
type DailyReport struct {
	CampaignID     string
	Date           time.Time
	Trades         int
	HitRate        decimal.Decimal
	Payoff         decimal.Decimal
	Expectancy     decimal.Decimal
	VaR95          RiskMetric
	ES95           RiskMetric
	AvgSlippageBps decimal.Decimal
}
