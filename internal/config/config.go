// Package config loads the control plane's configuration from flags,
// environment variables and defaults, layered the way cmd/controlplane's
// predecessor did it: flags win, then env, then the defaults set here.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/aristath/cryptocore/internal/errs"
	"github.com/aristath/cryptocore/pkg/types"
)

// Config is the fully resolved, process-wide configuration.
type Config struct {
	LogLevel    string
	Paper       bool
	DatabaseURL string
	RedisURL    string
	HealthAddr  string

	Exchange types.ExchangeConfig
	Campaign types.CampaignConfig
}

// Flags mirrors the command-line surface; parsed separately from viper so
// tests can construct a Config without touching os.Args.
type Flags struct {
	ConfigFile string
	Paper      bool
	LogLevel   string
}

// ParseFlags parses the standard flag set for cmd/controlplane.
func ParseFlags(args []string) (Flags, error) {
	fs := flag.NewFlagSet("controlplane", flag.ContinueOnError)
	configFile := fs.String("config", "", "path to a config file (yaml/json/env)")
	paper := fs.Bool("paper", true, "run the executor in paper-trading mode")
	logLevel := fs.String("log-level", "info", "log level: debug, info, warn, error")
	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}
	return Flags{ConfigFile: *configFile, Paper: *paper, LogLevel: *logLevel}, nil
}

// Load builds a Config from environment variables, an optional config
// file, and the defaults below. Flags override both.
func Load(flags Flags) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("")
	v.AutomaticEnv()

	v.SetDefault("database_url", "cryptocore.db")
	v.SetDefault("redis_url", "")
	v.SetDefault("health_addr", ":9090")
	v.SetDefault("exchange_name", "kraken")
	v.SetDefault("exchange_ws_base_url", "wss://ws.kraken.com/v2")
	v.SetDefault("exchange_rest_base_url", "https://api.kraken.com")
	v.SetDefault("exchange_rest_rate_limit", 18.0)

	if flags.ConfigFile != "" {
		v.SetConfigFile(flags.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%w: reading config file %s: %v", errs.ErrFatalConfig, flags.ConfigFile, err)
		}
	}

	apiKey := v.GetString("exchange_api_key")
	apiSecret := v.GetString("exchange_api_secret")
	if !flags.Paper && (apiKey == "" || apiSecret == "") {
		return nil, fmt.Errorf("%w: EXCHANGE_API_KEY/EXCHANGE_API_SECRET required outside paper mode", errs.ErrFatalConfig)
	}

	cfg := &Config{
		LogLevel:    flags.LogLevel,
		Paper:       flags.Paper,
		DatabaseURL: v.GetString("database_url"),
		RedisURL:    v.GetString("redis_url"),
		HealthAddr:  v.GetString("health_addr"),
		Exchange: types.ExchangeConfig{
			Name:          v.GetString("exchange_name"),
			WSBaseURL:     v.GetString("exchange_ws_base_url"),
			RESTBaseURL:   v.GetString("exchange_rest_base_url"),
			APIKey:        apiKey,
			APISecret:     apiSecret,
			RESTRateLimit: v.GetFloat64("exchange_rest_rate_limit"),
		},
		Campaign: defaultCampaignConfig(),
	}
	return cfg, nil
}

func defaultCampaignConfig() types.CampaignConfig {
	return types.CampaignConfig{
		ID:                "default",
		Profile:           types.ProfileModerate,
		TickInterval:      5 * time.Second,
		RebalanceInterval: 8 * time.Hour,
		AuditInterval:     24 * time.Hour,
		Staleness: types.StalenessThresholds{
			WarnAfter:       4 * time.Second,
			HardAfter:       12 * time.Second,
			KillAfter:       60 * time.Second,
			QuarantineAfter: 5 * time.Minute,
		},
		Selector: types.SelectorConfig{
			MinVolume24hUSD:   decimal.NewFromInt(1_000_000),
			MaxSpreadMidPct:   decimal.NewFromFloat(0.5),
			MinDepthTop10USD:  decimal.NewFromInt(50_000),
			ClusterK:          10,
			ClusterMaxMembers: 10,
			UniverseSize: map[types.InvestorProfile]int{
				types.ProfileConservative: 10,
				types.ProfileModerate:     20,
				types.ProfileAggressive:   40,
			},
		},
		Breakers: types.BreakerThresholds{
			AssetConsecutiveLosses: 3,
			AssetCumulativeLossR:   decimal.NewFromInt(4),
			ClusterLossPct:         decimal.NewFromFloat(5),
			GlobalDailyLossPct:     decimal.NewFromFloat(3),
			GlobalMaxDrawdownPct:   decimal.NewFromFloat(10),
			AssetAutoReset:         24 * time.Hour,
			ClusterAutoReset:       12 * time.Hour,
			GlobalAutoReset:        24 * time.Hour,
		},
		StartingEquity:   decimal.NewFromInt(100_000),
		MaxOpenPositions: 10,
		MinNotionalUSD:   decimal.NewFromInt(10),
		MaxLossPerPairR:  decimal.NewFromInt(3),
		CooldownAfterCB:  60 * time.Minute,
		SignalTemplate: types.SignalConfig{
			Enabled:          true,
			LongATRMult:      decimal.NewFromInt(2),
			ShortATRMult:     decimal.NewFromInt(2),
			TP1ATRMult:       decimal.NewFromFloat(1.2),
			TP2ATRMult:       decimal.NewFromFloat(2.5),
			SLATRMult:        decimal.NewFromInt(1),
			RiskPerTradeBps:  decimal.NewFromInt(20),
			MaxPositionPctEq: decimal.NewFromInt(10),
			FeeRate:          decimal.NewFromFloat(0.002),
			SlippageRate:     decimal.NewFromFloat(0.0005),
		},
	}
}
