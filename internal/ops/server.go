// Package ops is the control plane's operational HTTP surface: a
// liveness/readiness pair for orchestrators and a Prometheus /metrics
// endpoint. No trading or portfolio endpoints live here, only what a
// process needs to be monitored by.
package ops

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/aristath/cryptocore/internal/mds"
)

// Server exposes /healthz, /readyz and /metrics.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	logger     *zap.Logger
	mds        *mds.Store
	metrics    *Metrics
}

// NewServer builds an ops Server bound to addr. mdsStore backs the
// readiness check: the process isn't ready to trade until it has seen
// at least one live quote.
func NewServer(addr string, mdsStore *mds.Store, metrics *Metrics, logger *zap.Logger) *Server {
	s := &Server{
		router:  mux.NewRouter(),
		logger:  logger.Named("ops"),
		mds:     mdsStore,
		metrics: metrics,
	}
	s.router.HandleFunc("/healthz", s.handleHealthz).Methods("GET")
	s.router.HandleFunc("/readyz", s.handleReadyz).Methods("GET")
	s.router.Handle("/metrics", promhttp.HandlerFor(metrics.registry, promhttp.HandlerOpts{})).Methods("GET")

	handler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET"},
	}).Handler(s.router)

	s.httpServer = &http.Server{Addr: addr, Handler: handler}
	return s
}

// Start blocks serving until the server is shut down.
func (s *Server) Start() error {
	s.logger.Info("ops server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("ops server: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if len(s.mds.Symbols()) == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("no live quotes yet"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
