package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// StalenessThresholds configures the freshness FSM per data class.
type StalenessThresholds struct {
	WarnAfter  time.Duration
	HardAfter  time.Duration
	KillAfter  time.Duration
	QuarantineAfter time.Duration
}

// SelectorConfig tunes the asset selector and clusterer.
type SelectorConfig struct {
	MinVolume24hUSD   decimal.Decimal
	MaxSpreadMidPct   decimal.Decimal
	MinDepthTop10USD  decimal.Decimal
	ClusterK          int
	ClusterMaxMembers int
	UniverseSize      map[InvestorProfile]int
}

// BreakerThresholds configures the four circuit breaker levels.
type BreakerThresholds struct {
	AssetConsecutiveLosses int
	AssetCumulativeLossR   decimal.Decimal
	ClusterLossPct         decimal.Decimal
	GlobalDailyLossPct     decimal.Decimal
	GlobalMaxDrawdownPct   decimal.Decimal
	AssetAutoReset         time.Duration
	ClusterAutoReset       time.Duration
	GlobalAutoReset        time.Duration
}

// ExchangeConfig holds exchange connectivity settings, sourced from env vars
// (EXCHANGE_API_KEY, EXCHANGE_API_SECRET) and never logged.
type ExchangeConfig struct {
	Name          string
	WSBaseURL     string
	RESTBaseURL   string
	APIKey        string
	APISecret     string
	RESTRateLimit float64 // requests/sec
}

// CampaignConfig bundles everything a campaign scheduler tick needs.
type CampaignConfig struct {
	ID                string
	Profile           InvestorProfile
	TickInterval      time.Duration
	RebalanceInterval time.Duration
	AuditInterval     time.Duration
	Staleness         StalenessThresholds
	Selector          SelectorConfig
	Breakers          BreakerThresholds

	StartingEquity   decimal.Decimal
	MaxOpenPositions int
	MinNotionalUSD   decimal.Decimal
	MaxLossPerPairR  decimal.Decimal // campaign-level per-pair R-unit block, independent of the asset breaker
	CooldownAfterCB  time.Duration
	SignalTemplate   SignalConfig
}
