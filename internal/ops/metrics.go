package ops

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/aristath/cryptocore/internal/events"
	"github.com/aristath/cryptocore/pkg/types"
)

// Metrics holds every gauge/counter the control plane exposes, each
// updated by subscribing to the event bus rather than being poked
// directly by business logic.
type Metrics struct {
	registry *prometheus.Registry

	BreakerTrips  *prometheus.CounterVec
	PositionsOpen *prometheus.GaugeVec
	CampaignPnL   *prometheus.GaugeVec
	SignalsTotal  *prometheus.CounterVec
}

// NewMetrics builds and registers the control plane's Prometheus collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		BreakerTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cryptocore_breaker_trips_total",
			Help: "Circuit breaker trigger and reset events by level and type.",
		}, []string{"level", "event_type"}),
		PositionsOpen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cryptocore_positions_open",
			Help: "Currently open positions per campaign.",
		}, []string{"campaign_id"}),
		CampaignPnL: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cryptocore_campaign_realized_pnl",
			Help: "Realized PnL of the most recent closed trade per campaign.",
		}, []string{"campaign_id"}),
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cryptocore_signals_total",
			Help: "Signals produced by type.",
		}, []string{"type"}),
	}
	registry.MustRegister(m.BreakerTrips, m.PositionsOpen, m.CampaignPnL, m.SignalsTotal)
	return m
}

// Subscribe wires every tracked event type on bus to its metric.
func (m *Metrics) Subscribe(bus *events.Bus) {
	bus.Subscribe(events.TypeBreaker, func(e events.Event) {
		ev, ok := e.Payload.(types.BreakerEvent)
		if !ok {
			return
		}
		m.BreakerTrips.WithLabelValues(string(ev.Level), string(ev.EventType)).Inc()
	})
	bus.Subscribe(events.TypePosition, func(e events.Event) {
		switch payload := e.Payload.(type) {
		case types.Trade:
			pnl, _ := payload.RealizedPnL.Float64()
			m.CampaignPnL.WithLabelValues(payload.PortfolioID).Set(pnl)
			m.PositionsOpen.WithLabelValues(payload.PortfolioID).Dec()
		case types.Position:
			m.PositionsOpen.WithLabelValues(payload.PortfolioID).Inc()
		}
	})
	bus.Subscribe(events.TypeSignal, func(e events.Event) {
		sig, ok := e.Payload.(types.Signal)
		if !ok {
			return
		}
		m.SignalsTotal.WithLabelValues(string(sig.Type)).Inc()
	})
}
