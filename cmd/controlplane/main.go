// Package main wires up and runs the crypto trading control plane: the
// long-running process that ingests market data, runs the campaign
// scheduler, and exposes an ops surface for health and metrics.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/aristath/cryptocore/internal/bars"
	"github.com/aristath/cryptocore/internal/campaign"
	"github.com/aristath/cryptocore/internal/config"
	"github.com/aristath/cryptocore/internal/events"
	"github.com/aristath/cryptocore/internal/execution"
	"github.com/aristath/cryptocore/internal/indicators"
	"github.com/aristath/cryptocore/internal/ingest"
	"github.com/aristath/cryptocore/internal/mds"
	"github.com/aristath/cryptocore/internal/ops"
	"github.com/aristath/cryptocore/internal/risk"
	"github.com/aristath/cryptocore/internal/signals"
	"github.com/aristath/cryptocore/internal/staleness"
	"github.com/aristath/cryptocore/internal/store"
	"github.com/aristath/cryptocore/internal/workers"
	"github.com/aristath/cryptocore/pkg/logger"
	"github.com/aristath/cryptocore/pkg/types"
)

// initialUniverse seeds the Ingestor's subscription list before the
// first rebalance has a ranked catalog of its own to subscribe to.
var initialUniverse = []string{
	"BTC/USD", "ETH/USD", "SOL/USD", "XRP/USD", "ADA/USD",
	"DOGE/USD", "AVAX/USD", "DOT/USD", "LINK/USD", "MATIC/USD",
}

const shutdownTimeout = 30 * time.Second

func main() {
	flags, err := config.ParseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "parsing flags:", err)
		os.Exit(1)
	}

	cfg, err := config.Load(flags)
	if err != nil {
		fmt.Fprintln(os.Stderr, "loading config:", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{Level: cfg.LogLevel})
	if err != nil {
		fmt.Fprintln(os.Stderr, "building logger:", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("starting cryptocore control plane",
		zap.Bool("paper", cfg.Paper),
		zap.String("exchange", cfg.Exchange.Name),
		zap.String("campaign_id", cfg.Campaign.ID),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mdsStore := mds.New(log)

	durableStore, err := store.Open(cfg.DatabaseURL, log)
	if err != nil {
		log.Fatal("opening durable store", zap.Error(err))
	}
	defer durableStore.Close()

	ingestor := ingest.New(cfg.Exchange, mdsStore, log)
	ingestor.SetSymbols(initialUniverse)

	aggregator := bars.New(func(b types.Bar) {
		mdsStore.PutBar(b)
		if b.Frame != types.Frame1m && b.Frame != types.Frame1h {
			return
		}
		if err := durableStore.SaveBar(ctx, b); err != nil {
			log.Warn("saving bar", zap.Error(err), zap.String("symbol", b.Symbol))
		}
	}, log)
	ingestor.OnTick(aggregator.Ingest)

	stalenessPool := workers.New(ctx, 4, 64)
	defer stalenessPool.Stop()

	bus := events.New(64, log)

	breakers := risk.New(cfg.Campaign.Breakers, func(ev types.BreakerEvent) {
		if err := durableStore.SaveBreakerEvent(ctx, ev); err != nil {
			log.Warn("saving breaker event", zap.Error(err))
		}
		bus.Publish(events.Event{Type: events.TypeBreaker, Payload: ev})
	}, log)

	guard := staleness.New(mdsStore, ingestor, cfg.Campaign.Staleness, stalenessPool, func(t staleness.Transition) {
		log.Info("staleness transition", zap.String("symbol", t.Symbol), zap.String("from", string(t.From)), zap.String("to", string(t.To)))
	}, log)

	indicatorSvc := indicators.New(log)
	signalEngine := signals.New(log)

	barsLookup := campaign.BarsLookup(func(symbol string) []types.Bar {
		recent, err := durableStore.RecentBars(ctx, symbol, types.Frame1m, 120)
		if err != nil {
			log.Warn("loading recent bars", zap.Error(err), zap.String("symbol", symbol))
			return nil
		}
		return recent
	})

	adapter := buildAdapter(cfg, mdsStore, log)
	executor := execution.New(adapter, log)

	metrics := ops.NewMetrics()
	metrics.Subscribe(bus)

	opsServer := ops.NewServer(cfg.HealthAddr, mdsStore, metrics, log)

	sched := campaign.New(cfg.Campaign, campaign.Dependencies{
		MDS:        mdsStore,
		Indicators: indicatorSvc,
		Staleness:  guard,
		Signals:    signalEngine,
		Breakers:   breakers,
		Executor:   executor,
		Adapter:    adapter,
		Store:      durableStore,
		Bus:        bus,
		Bars:       barsLookup,
	}, log)

	var wg sync.WaitGroup
	runInBackground := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	runInBackground(func() {
		if err := ingestor.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("ingestor stopped", zap.Error(err))
		}
	})
	runInBackground(func() {
		aggregator.RunHourlyRollup(ctx, mdsStore.Symbols)
	})
	runInBackground(func() {
		guard.Run(ctx)
	})
	runInBackground(func() {
		if err := opsServer.Start(); err != nil {
			log.Error("ops server stopped", zap.Error(err))
		}
	})

	if err := sched.Start(ctx); err != nil {
		log.Fatal("starting campaign scheduler", zap.Error(err))
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutdown signal received")

	cancel()
	sched.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := opsServer.Stop(shutdownCtx); err != nil {
		log.Error("stopping ops server", zap.Error(err))
	}

	wg.Wait()
	log.Info("control plane stopped")
}

// buildAdapter picks the paper-trading simulator unless the process was
// started with -paper=false, in which case it builds the live exchange
// adapter; config.Load already enforces the API credentials a live
// adapter needs before this point is reached.
func buildAdapter(cfg *config.Config, mdsStore *mds.Store, log *zap.Logger) execution.Adapter {
	if !cfg.Paper {
		live, err := execution.NewLiveAdapter(cfg.Exchange, log)
		if err != nil {
			log.Fatal("building live exchange adapter", zap.Error(err))
		}
		return live
	}
	return execution.NewPaperAdapter(mdsStore, cfg.Campaign.SignalTemplate.FeeRate, cfg.Campaign.SignalTemplate.SlippageRate, log)
}
