package execution

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/aristath/cryptocore/internal/errs"
	"github.com/aristath/cryptocore/internal/ingest"
	"github.com/aristath/cryptocore/pkg/types"
)

// LiveAdapter submits orders to the exchange's private REST API. It
// signs every request the way the exchange's own documentation (and
// AlejandroRuiz99-polybot's client.go HMAC helper) requires: the path
// concatenated with SHA256(nonce+body), HMAC-SHA512'd with the
// base64-decoded API secret, base64-encoded again for the API-Sign
// header. The nonce is a strictly increasing millisecond counter, bumped
// atomically so concurrent calls never reuse or reorder one.
type LiveAdapter struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	apiSecret  []byte
	limiter    *rate.Limiter
	logger     *zap.Logger

	lastNonce int64
}

// NewLiveAdapter builds a LiveAdapter. It returns errs.ErrCredentialsMissing
// immediately if either credential is blank, since a live adapter with no
// way to sign requests must never be allowed to start.
func NewLiveAdapter(cfg types.ExchangeConfig, logger *zap.Logger) (*LiveAdapter, error) {
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, fmt.Errorf("%w: EXCHANGE_API_KEY/EXCHANGE_API_SECRET required for live trading", errs.ErrCredentialsMissing)
	}
	secret, err := base64.StdEncoding.DecodeString(cfg.APISecret)
	if err != nil {
		return nil, fmt.Errorf("%w: API secret is not valid base64: %v", errs.ErrFatalConfig, err)
	}
	limit := cfg.RESTRateLimit
	if limit <= 0 {
		limit = 1
	}
	return &LiveAdapter{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    cfg.RESTBaseURL,
		apiKey:     cfg.APIKey,
		apiSecret:  secret,
		limiter:    rate.NewLimiter(rate.Limit(limit), int(limit)),
		logger:     logger.Named("live-adapter"),
	}, nil
}

// PlaceOrder submits a market, limit or stop order via the private
// AddOrder endpoint.
func (l *LiveAdapter) PlaceOrder(ctx context.Context, order types.Order) (string, error) {
	form := url.Values{}
	form.Set("pair", ingest.ToExchangeSymbol(order.Symbol))
	form.Set("type", string(order.Side))
	form.Set("ordertype", krakenOrderType(order.Type))
	form.Set("volume", order.Quantity.String())
	if order.Type == types.OrderTypeLimit {
		form.Set("price", order.Price.String())
	}
	if order.Type == types.OrderTypeStopLoss {
		form.Set("price", order.StopPrice.String())
	}
	if order.Type == types.OrderTypeTakeProfit {
		form.Set("price", order.Price.String())
	}

	var resp krakenAddOrderResponse
	if err := l.privatePost(ctx, "/0/private/AddOrder", form, &resp); err != nil {
		return "", err
	}
	if len(resp.Result.TxID) == 0 {
		return "", fmt.Errorf("%w: AddOrder returned no transaction id", errs.ErrExchangeError)
	}
	return resp.Result.TxID[0], nil
}

// CancelOrder cancels a resting order via the private CancelOrder endpoint.
func (l *LiveAdapter) CancelOrder(ctx context.Context, exchangeOrderID string) error {
	form := url.Values{}
	form.Set("txid", exchangeOrderID)

	var resp krakenCancelResponse
	if err := l.privatePost(ctx, "/0/private/CancelOrder", form, &resp); err != nil {
		return err
	}
	if resp.Result.Count == 0 {
		return fmt.Errorf("%w: order %s not found for cancel", errs.ErrNotFound, exchangeOrderID)
	}
	return nil
}

// QueryOrder mirrors exchange state via the private QueryOrders endpoint.
func (l *LiveAdapter) QueryOrder(ctx context.Context, exchangeOrderID string) (types.Order, error) {
	form := url.Values{}
	form.Set("txid", exchangeOrderID)

	var resp krakenQueryOrdersResponse
	if err := l.privatePost(ctx, "/0/private/QueryOrders", form, &resp); err != nil {
		return types.Order{}, err
	}
	info, ok := resp.Result[exchangeOrderID]
	if !ok {
		return types.Order{}, fmt.Errorf("%w: order %s", errs.ErrNotFound, exchangeOrderID)
	}

	filledQty, _ := decimal.NewFromString(info.VolExec)
	avgPrice, _ := decimal.NewFromString(info.Price)
	return types.Order{
		ExchangeOrderID: exchangeOrderID,
		Status:          krakenOrderStatus(info.Status),
		FilledQty:       filledQty,
		AvgFillPrice:    avgPrice,
		UpdatedAt:       time.Now(),
	}, nil
}

// privatePost signs and submits a private API POST, decoding the JSON
// envelope's non-empty "error" array into errs.ErrRateLimited or
// errs.ErrExchangeError depending on its content.
func (l *LiveAdapter) privatePost(ctx context.Context, path string, form url.Values, out krakenEnvelope) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrRateLimited, err)
	}

	nonce := l.nextNonce()
	form.Set("nonce", nonce)
	body := form.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+path, strings.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("API-Key", l.apiKey)
	req.Header.Set("API-Sign", l.sign(path, nonce, body))

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrExchangeError, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return errs.ErrRateLimited
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	if errList := out.errors(); len(errList) > 0 {
		joined := strings.Join(errList, "; ")
		if strings.Contains(joined, "Rate limit") {
			return fmt.Errorf("%w: %s", errs.ErrRateLimited, joined)
		}
		return fmt.Errorf("%w: %s", errs.ErrExchangeError, joined)
	}
	return nil
}

// sign implements HMAC(path + SHA256(nonce + body), base64_decode(secret)),
// base64-encoded, exactly as the exchange's private API requires.
func (l *LiveAdapter) sign(path, nonce, body string) string {
	shaSum := sha256.Sum256([]byte(nonce + body))
	mac := hmac.New(sha512.New, l.apiSecret)
	mac.Write([]byte(path))
	mac.Write(shaSum[:])
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// nextNonce returns a strictly increasing millisecond nonce; if the clock
// hasn't advanced since the last call it's bumped by 1 instead, preserving
// monotonicity under back-to-back calls within the same millisecond.
func (l *LiveAdapter) nextNonce() string {
	for {
		now := time.Now().UnixMilli()
		prev := atomic.LoadInt64(&l.lastNonce)
		next := now
		if next <= prev {
			next = prev + 1
		}
		if atomic.CompareAndSwapInt64(&l.lastNonce, prev, next) {
			return strconv.FormatInt(next, 10)
		}
	}
}

func krakenOrderType(t types.OrderType) string {
	switch t {
	case types.OrderTypeLimit:
		return "limit"
	case types.OrderTypeStopLoss:
		return "stop-loss"
	case types.OrderTypeTakeProfit:
		return "take-profit"
	default:
		return "market"
	}
}

func krakenOrderStatus(status string) types.OrderStatus {
	switch status {
	case "open", "pending":
		return types.OrderStatusOpen
	case "closed":
		return types.OrderStatusFilled
	case "canceled", "expired":
		return types.OrderStatusCancelled
	default:
		return types.OrderStatusRejected
	}
}

// krakenEnvelope lets privatePost read the shared "error" array off any
// of the differently-shaped response payloads below.
type krakenEnvelope interface {
	errors() []string
}

type krakenErrorEnvelope struct {
	Error []string `json:"error"`
}

func (e krakenErrorEnvelope) errors() []string { return e.Error }

type krakenAddOrderResponse struct {
	krakenErrorEnvelope
	Result struct {
		TxID []string `json:"txid"`
	} `json:"result"`
}

type krakenCancelResponse struct {
	krakenErrorEnvelope
	Result struct {
		Count int `json:"count"`
	} `json:"result"`
}

type krakenQueryOrdersResponse struct {
	krakenErrorEnvelope
	Result map[string]krakenOrderInfo `json:"result"`
}

type krakenOrderInfo struct {
	Status  string `json:"status"`
	VolExec string `json:"vol_exec"`
	Price   string `json:"price"`
}

var _ Adapter = (*LiveAdapter)(nil)
