package ops

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aristath/cryptocore/internal/mds"
	"github.com/aristath/cryptocore/pkg/types"
)

func TestReadyzReflectsMarketDataPresence(t *testing.T) {
	store := mds.New(zap.NewNop())
	srv := NewServer("127.0.0.1:0", store, NewMetrics(), zap.NewNop())

	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	one := decimal.NewFromInt(1)
	store.PutL1(types.L1Quote{Symbol: "BTC/USD", Bid: one, Ask: one, ExchangeTS: time.Now(), IngestTS: time.Now()})

	rec = httptest.NewRecorder()
	srv.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthzAlwaysOK(t *testing.T) {
	store := mds.New(zap.NewNop())
	srv := NewServer("127.0.0.1:0", store, NewMetrics(), zap.NewNop())

	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}
