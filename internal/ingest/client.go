package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/aristath/cryptocore/internal/mds"
	"github.com/aristath/cryptocore/pkg/types"
)

const (
	subscribeBatchSize     = 20
	subscribeBatchInterval = 1 * time.Second
	pingInterval           = 15 * time.Second
	reconnectBaseDelay     = 1 * time.Second
	reconnectMaxDelay      = 30 * time.Second
)

// Ingestor streams ticks, L1 quotes and L2 books from the exchange's
// WebSocket feed into the Market Data Store, falling back to REST for
// any symbol the Staleness Guard flags.
type Ingestor struct {
	cfg    types.ExchangeConfig
	store  *mds.Store
	l2w    *mds.CoalescingL2Writer
	rest   *RESTClient
	logger *zap.Logger

	mu      sync.RWMutex
	symbols []string
	seq     int64
	onTick  func(types.Tick)
}

// New builds an Ingestor writing into store via a coalesced L2 writer.
func New(cfg types.ExchangeConfig, store *mds.Store, logger *zap.Logger) *Ingestor {
	named := logger.Named("ingest")
	return &Ingestor{
		cfg:    cfg,
		store:  store,
		l2w:    mds.NewCoalescingL2Writer(store, named, 50*time.Millisecond),
		rest:   NewRESTClient(cfg, named),
		logger: named,
	}
}

// OnTick registers a callback invoked for every validated trade tick,
// in addition to it being written into the Market Data Store. Used to
// feed the bar aggregator without coupling it to the ingest package.
func (ing *Ingestor) OnTick(fn func(types.Tick)) {
	ing.mu.Lock()
	defer ing.mu.Unlock()
	ing.onTick = fn
}

// SetSymbols replaces the subscription universe. Run applies it on the
// next (re)connect.
func (ing *Ingestor) SetSymbols(symbols []string) {
	ing.mu.Lock()
	defer ing.mu.Unlock()
	ing.symbols = append([]string(nil), symbols...)
}

func (ing *Ingestor) currentSymbols() []string {
	ing.mu.RLock()
	defer ing.mu.RUnlock()
	return append([]string(nil), ing.symbols...)
}

// Run connects and reconnects with exponential backoff until ctx is
// cancelled.
func (ing *Ingestor) Run(ctx context.Context) error {
	delay := reconnectBaseDelay
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := ing.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			ing.logger.Warn("stream disconnected, reconnecting", zap.Error(err), zap.Duration("delay", delay))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > reconnectMaxDelay {
			delay = reconnectMaxDelay
		}
	}
}

func (ing *Ingestor) runOnce(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, ing.cfg.WSBaseURL, nil)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", ing.cfg.WSBaseURL, err)
	}
	defer conn.Close()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go ing.subscribeInBatches(runCtx, conn)
	go ing.pingLoop(runCtx, conn)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("reading message: %w", err)
		}
		ing.handleMessage(raw)
	}
}

func (ing *Ingestor) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			msg := map[string]string{"method": "ping"}
			b, _ := json.Marshal(msg)
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				ing.logger.Warn("ping failed", zap.Error(err))
				return
			}
		}
	}
}

// subscribeInBatches subscribes to at most subscribeBatchSize pairs per
// message, pacing batches by subscribeBatchInterval so a large universe
// never bursts the exchange's subscribe rate limit.
func (ing *Ingestor) subscribeInBatches(ctx context.Context, conn *websocket.Conn) {
	symbols := ing.currentSymbols()
	for i := 0; i < len(symbols); i += subscribeBatchSize {
		end := i + subscribeBatchSize
		if end > len(symbols) {
			end = len(symbols)
		}
		batch := symbols[i:end]
		exchangeBatch := make([]string, len(batch))
		for j, s := range batch {
			exchangeBatch[j] = ToExchangeSymbol(s)
		}

		for _, channel := range []string{"ticker", "book", "trade"} {
			msg := map[string]any{
				"method": "subscribe",
				"params": map[string]any{
					"channel": channel,
					"symbol":  exchangeBatch,
				},
			}
			b, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				ing.logger.Warn("subscribe failed", zap.Error(err), zap.Strings("symbols", batch))
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(subscribeBatchInterval):
		}
	}
}

type wireEnvelope struct {
	Channel string          `json:"channel"`
	Type    string          `json:"type"`
	Method  string          `json:"method"`
	Data    json.RawMessage `json:"data"`
}

func (ing *Ingestor) handleMessage(raw []byte) {
	var env wireEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return
	}

	switch env.Channel {
	case "heartbeat", "status":
		return
	case "ticker":
		ing.handleTicker(env.Data)
	case "book":
		ing.handleBook(env.Type, env.Data)
	case "trade":
		ing.handleTrades(env.Data)
	}
}

type wireTicker struct {
	Symbol string `json:"symbol"`
	Bid    string `json:"bid"`
	BidQty string `json:"bid_qty"`
	Ask    string `json:"ask"`
	AskQty string `json:"ask_qty"`
	Volume string `json:"volume"` // base-asset 24h volume, Kraken v2 ticker field
}

func (ing *Ingestor) handleTicker(data json.RawMessage) {
	var entries []wireTicker
	if err := json.Unmarshal(data, &entries); err != nil {
		return
	}
	now := time.Now()
	for _, e := range entries {
		bid, errBid := decimal.NewFromString(e.Bid)
		ask, errAsk := decimal.NewFromString(e.Ask)
		if errBid != nil || errAsk != nil {
			continue
		}
		q := types.L1Quote{
			Exchange:   ing.cfg.Name,
			Symbol:     ToDisplaySymbol(e.Symbol),
			Bid:        bid,
			Ask:        ask,
			ExchangeTS: now,
			IngestTS:   now,
		}
		if bidQty, err := decimal.NewFromString(e.BidQty); err == nil {
			q.BidQty = bidQty
		}
		if askQty, err := decimal.NewFromString(e.AskQty); err == nil {
			q.AskQty = askQty
		}
		if volume, err := decimal.NewFromString(e.Volume); err == nil {
			q.Volume24h = volume
		}
		if err := ValidateL1(q); err != nil {
			ing.logger.Debug("dropping invalid ticker", zap.Error(err))
			continue
		}
		if mid := q.MidPrice(); !mid.IsZero() {
			q.SpreadBps = ask.Sub(bid).Div(mid).Mul(decimal.NewFromInt(10000))
		}
		ing.store.PutL1(q)
	}
}

type wireLevel struct {
	Price string `json:"price"`
	Qty   string `json:"qty"`
}

type wireBook struct {
	Symbol string      `json:"symbol"`
	Bids   []wireLevel `json:"bids"`
	Asks   []wireLevel `json:"asks"`
}

func (ing *Ingestor) handleBook(msgType string, data json.RawMessage) {
	var entries []wireBook
	if err := json.Unmarshal(data, &entries); err != nil {
		return
	}
	now := time.Now()
	for _, e := range entries {
		symbol := ToDisplaySymbol(e.Symbol)
		book := types.L2Book{
			Exchange:   ing.cfg.Name,
			Symbol:     symbol,
			Bids:       FilterValidLevels(parseLevels(e.Bids)),
			Asks:       FilterValidLevels(parseLevels(e.Asks)),
			ExchangeTS: now,
			IngestTS:   now,
		}

		if msgType == "update" {
			if existing, ok := ing.store.L2(symbol); ok {
				book.Bids = mergeLevels(existing.Bids, book.Bids, true)
				book.Asks = mergeLevels(existing.Asks, book.Asks, false)
			}
		}

		ing.l2w.Submit(book)
	}
}

func parseLevels(in []wireLevel) []types.L2Level {
	out := make([]types.L2Level, 0, len(in))
	for _, l := range in {
		price, err := decimal.NewFromString(l.Price)
		if err != nil {
			continue
		}
		qty, err := decimal.NewFromString(l.Qty)
		if err != nil {
			continue
		}
		out = append(out, types.L2Level{Price: price, Quantity: qty})
	}
	return out
}

// mergeLevels applies a delta of updated levels onto a base snapshot: a
// zero-quantity level removes the price, otherwise it replaces it. desc
// controls sort order (bids descending, asks ascending).
func mergeLevels(base, delta []types.L2Level, desc bool) []types.L2Level {
	byPrice := make(map[string]types.L2Level, len(base))
	for _, l := range base {
		byPrice[l.Price.String()] = l
	}
	for _, l := range delta {
		if l.Quantity.IsZero() {
			delete(byPrice, l.Price.String())
			continue
		}
		byPrice[l.Price.String()] = l
	}
	merged := make([]types.L2Level, 0, len(byPrice))
	for _, l := range byPrice {
		merged = append(merged, l)
	}
	sortLevels(merged, desc)
	return merged
}

// sortLevels insertion-sorts levels by price, descending for bids,
// ascending for asks. Book depths are small (capped at maxL2Depth by the
// store), so O(n^2) is fine.
func sortLevels(levels []types.L2Level, desc bool) {
	for i := 1; i < len(levels); i++ {
		for j := i; j > 0; j-- {
			var outOfOrder bool
			if desc {
				outOfOrder = levels[j-1].Price.LessThan(levels[j].Price)
			} else {
				outOfOrder = levels[j-1].Price.GreaterThan(levels[j].Price)
			}
			if !outOfOrder {
				break
			}
			levels[j-1], levels[j] = levels[j], levels[j-1]
		}
	}
}

type wireTrade struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
	Qty    string `json:"qty"`
	Side   string `json:"side"`
}

func (ing *Ingestor) handleTrades(data json.RawMessage) {
	var entries []wireTrade
	if err := json.Unmarshal(data, &entries); err != nil {
		return
	}
	now := time.Now()
	for _, e := range entries {
		price, errP := decimal.NewFromString(e.Price)
		qty, errQ := decimal.NewFromString(e.Qty)
		if errP != nil || errQ != nil {
			continue
		}
		side := types.SideBuy
		if e.Side == "sell" {
			side = types.SideSell
		}
		ing.mu.Lock()
		ing.seq++
		seq := ing.seq
		ing.mu.Unlock()

		t := types.Tick{
			Exchange:   ing.cfg.Name,
			Symbol:     ToDisplaySymbol(e.Symbol),
			Price:      price,
			Quantity:   qty,
			Side:       side,
			ExchangeTS: now,
			IngestTS:   now,
			SeqID:      seq,
		}
		if err := ValidateTick(t); err != nil {
			continue
		}
		ing.store.PutTick(t)

		ing.mu.RLock()
		onTick := ing.onTick
		ing.mu.RUnlock()
		if onTick != nil {
			onTick(t)
		}
	}
}

// RefreshViaREST performs a one-off REST refresh for symbol and writes
// the result straight into the store, used by the Staleness Guard when a
// symbol's stream data has gone stale.
func (ing *Ingestor) RefreshViaREST(ctx context.Context, symbol string) error {
	q, err := ing.rest.FetchQuote(ctx, symbol)
	if err != nil {
		return err
	}
	ing.store.PutL1(q)
	return nil
}
