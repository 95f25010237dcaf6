package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/aristath/cryptocore/internal/errs"
	"github.com/aristath/cryptocore/pkg/types"
)

// restRefreshTimeout bounds a single individual-symbol REST refresh,
// grounded on polybot's client.go per-call timeout convention.
const restRefreshTimeout = 10 * time.Second

// RESTClient is the REST-fallback path for when the streaming connection
// is stale for a symbol: it carries its own process-wide rate budget so
// fallback traffic never starves (or gets starved by) the WS client.
type RESTClient struct {
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter
	logger     *zap.Logger

	inflightMu sync.Mutex
	inflight   map[string]chan struct{}

	quoteMu    sync.RWMutex
	lastQuotes map[string]types.L1Quote
}

// NewRESTClient builds a client rate-limited to cfg.RESTRateLimit requests/sec,
// grounded on AlejandroRuiz99-polybot's polymarket client.go budget
// constants.
func NewRESTClient(cfg types.ExchangeConfig, logger *zap.Logger) *RESTClient {
	return &RESTClient{
		httpClient: &http.Client{Timeout: restRefreshTimeout},
		baseURL:    cfg.RESTBaseURL,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RESTRateLimit), int(cfg.RESTRateLimit)),
		logger:     logger.Named("ingest-rest"),
		inflight:   make(map[string]chan struct{}),
		lastQuotes: make(map[string]types.L1Quote),
	}
}

// FetchQuote performs a deduplicated, rate-limited REST refresh of a
// single symbol's top-of-book quote. Concurrent callers for the same
// symbol share one in-flight request.
func (c *RESTClient) FetchQuote(ctx context.Context, displaySymbol string) (types.L1Quote, error) {
	done, isLeader := c.joinInflight(displaySymbol)
	if !isLeader {
		<-done
		return c.lastQuote(displaySymbol)
	}
	defer c.leaveInflight(displaySymbol, done)

	ctx, cancel := context.WithTimeout(ctx, restRefreshTimeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return types.L1Quote{}, fmt.Errorf("%w: %v", errs.ErrRateLimited, err)
	}

	exchangeSymbol := ToExchangeSymbol(displaySymbol)
	u := fmt.Sprintf("%s/0/public/Ticker?pair=%s", c.baseURL, url.QueryEscape(exchangeSymbol))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return types.L1Quote{}, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return types.L1Quote{}, fmt.Errorf("ticker request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return types.L1Quote{}, errs.ErrRateLimited
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return types.L1Quote{}, fmt.Errorf("reading ticker body: %w", err)
	}

	quote, err := parseTickerResponse(displaySymbol, exchangeSymbol, body)
	if err != nil {
		return types.L1Quote{}, err
	}
	c.rememberQuote(quote)
	return quote, nil
}

func (c *RESTClient) joinInflight(symbol string) (chan struct{}, bool) {
	c.inflightMu.Lock()
	defer c.inflightMu.Unlock()
	if ch, ok := c.inflight[symbol]; ok {
		return ch, false
	}
	ch := make(chan struct{})
	c.inflight[symbol] = ch
	return ch, true
}

func (c *RESTClient) leaveInflight(symbol string, done chan struct{}) {
	c.inflightMu.Lock()
	delete(c.inflight, symbol)
	c.inflightMu.Unlock()
	close(done)
}

func (c *RESTClient) rememberQuote(q types.L1Quote) {
	c.quoteMu.Lock()
	c.lastQuotes[q.Symbol] = q
	c.quoteMu.Unlock()
}

func (c *RESTClient) lastQuote(symbol string) (types.L1Quote, error) {
	c.quoteMu.RLock()
	defer c.quoteMu.RUnlock()
	q, ok := c.lastQuotes[symbol]
	if !ok {
		return types.L1Quote{}, fmt.Errorf("%w: no quote observed yet for %s", errs.ErrUnsupportedSymbol, symbol)
	}
	return q, nil
}

type krakenTickerResponse struct {
	Error  []string                        `json:"error"`
	Result map[string]krakenTickerEntry    `json:"result"`
}

type krakenTickerEntry struct {
	Ask []string `json:"a"`
	Bid []string `json:"b"`
}

func parseTickerResponse(displaySymbol, exchangeSymbol string, body []byte) (types.L1Quote, error) {
	var parsed krakenTickerResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return types.L1Quote{}, fmt.Errorf("decoding ticker response: %w", err)
	}
	if len(parsed.Error) > 0 {
		return types.L1Quote{}, fmt.Errorf("%w: exchange error %v", errs.ErrUnsupportedSymbol, parsed.Error)
	}
	entry, ok := firstResult(parsed.Result)
	if !ok {
		return types.L1Quote{}, fmt.Errorf("%w: %s", errs.ErrUnsupportedSymbol, exchangeSymbol)
	}
	if len(entry.Ask) == 0 || len(entry.Bid) == 0 {
		return types.L1Quote{}, fmt.Errorf("%w: incomplete ticker for %s", errs.ErrUnsupportedSymbol, exchangeSymbol)
	}
	ask, err := decimal.NewFromString(entry.Ask[0])
	if err != nil {
		return types.L1Quote{}, fmt.Errorf("parsing ask: %w", err)
	}
	bid, err := decimal.NewFromString(entry.Bid[0])
	if err != nil {
		return types.L1Quote{}, fmt.Errorf("parsing bid: %w", err)
	}
	now := time.Now()
	q := types.L1Quote{
		Exchange:   "kraken",
		Symbol:     displaySymbol,
		Bid:        bid,
		Ask:        ask,
		ExchangeTS: now,
		IngestTS:   now,
	}
	if err := ValidateL1(q); err != nil {
		return types.L1Quote{}, err
	}
	mid := q.MidPrice()
	if !mid.IsZero() {
		q.SpreadBps = ask.Sub(bid).Div(mid).Mul(decimal.NewFromInt(10000))
	}
	return q, nil
}

func firstResult(m map[string]krakenTickerEntry) (krakenTickerEntry, bool) {
	for _, v := range m {
		return v, true
	}
	return krakenTickerEntry{}, false
}
