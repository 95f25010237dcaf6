package execution

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/aristath/cryptocore/internal/errs"
	"github.com/aristath/cryptocore/internal/mds"
	"github.com/aristath/cryptocore/pkg/types"
)

// Quoter is the live-price source a PaperAdapter fills against, satisfied
// by *mds.Store.
type Quoter interface {
	L1(symbol string) (types.L1Quote, bool)
}

// PaperAdapter simulates fills against the live Market Data Store
// instead of a real exchange: market orders fill immediately at the mid
// price plus a fixed slippage allowance, and stop-loss/take-profit
// orders rest until a later QueryOrder observes the mid price crossing
// their trigger. This is a deliberately simplified cousin of the
// teacher's ExecutionModel (slippage only: no commission, market impact
// or MEV simulation). Fills carry no fee; the campaign scheduler charges
// FeeRate on entry and exit notional when it settles a closed position.
type PaperAdapter struct {
	quotes       Quoter
	feeRate      decimal.Decimal
	slippageRate decimal.Decimal
	logger       *zap.Logger

	seq    uint64
	mu     sync.Mutex
	orders map[string]*types.Order
}

// NewPaperAdapter builds a PaperAdapter pricing fills off quotes.
func NewPaperAdapter(quotes Quoter, feeRate, slippageRate decimal.Decimal, logger *zap.Logger) *PaperAdapter {
	return &PaperAdapter{
		quotes:       quotes,
		feeRate:      feeRate,
		slippageRate: slippageRate,
		logger:       logger.Named("paper-adapter"),
		orders:       make(map[string]*types.Order),
	}
}

// PlaceOrder fills market orders immediately and rests everything else.
func (p *PaperAdapter) PlaceOrder(ctx context.Context, order types.Order) (string, error) {
	id := fmt.Sprintf("paper-%d", atomic.AddUint64(&p.seq, 1))
	o := order
	o.ExchangeOrderID = id

	if order.Type == types.OrderTypeMarket {
		quote, ok := p.quotes.L1(order.Symbol)
		if !ok {
			return "", fmt.Errorf("%w: no quote for %s", errs.ErrStale, order.Symbol)
		}
		o.AvgFillPrice = p.slippedPrice(quote.MidPrice(), order.Side)
		o.FilledQty = order.Quantity
		o.Status = types.OrderStatusFilled
	} else {
		o.Status = types.OrderStatusOpen
	}

	p.mu.Lock()
	p.orders[id] = &o
	p.mu.Unlock()
	return id, nil
}

// QueryOrder returns an order's current state, triggering a resting
// stop-loss/take-profit fill if the latest mid price has crossed it.
func (p *PaperAdapter) QueryOrder(ctx context.Context, exchangeOrderID string) (types.Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	o, ok := p.orders[exchangeOrderID]
	if !ok {
		return types.Order{}, fmt.Errorf("%w: order %s", errs.ErrNotFound, exchangeOrderID)
	}
	if o.Status != types.OrderStatusOpen && o.Status != types.OrderStatusPending {
		return *o, nil
	}

	quote, ok := p.quotes.L1(o.Symbol)
	if !ok {
		return *o, nil
	}
	mid := quote.MidPrice()
	if p.triggered(o, mid) {
		o.AvgFillPrice = p.slippedPrice(mid, o.Side)
		o.FilledQty = o.Quantity
		o.Status = types.OrderStatusFilled
	}
	return *o, nil
}

// CancelOrder cancels a still-resting order; cancelling an already
// filled order is a state conflict, matching a real exchange's rejection
// of a cancel racing a fill.
func (p *PaperAdapter) CancelOrder(ctx context.Context, exchangeOrderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	o, ok := p.orders[exchangeOrderID]
	if !ok {
		return fmt.Errorf("%w: order %s", errs.ErrNotFound, exchangeOrderID)
	}
	if o.Status == types.OrderStatusFilled {
		return fmt.Errorf("%w: order %s already filled", errs.ErrStateConflict, exchangeOrderID)
	}
	o.Status = types.OrderStatusCancelled
	return nil
}

func (p *PaperAdapter) triggered(o *types.Order, mid decimal.Decimal) bool {
	switch o.Type {
	case types.OrderTypeStopLoss:
		if o.Side == types.SideSell {
			return mid.LessThanOrEqual(o.StopPrice)
		}
		return mid.GreaterThanOrEqual(o.StopPrice)
	case types.OrderTypeTakeProfit:
		if o.Side == types.SideSell {
			return mid.GreaterThanOrEqual(o.Price)
		}
		return mid.LessThanOrEqual(o.Price)
	case types.OrderTypeLimit:
		if o.Side == types.SideBuy {
			return mid.LessThanOrEqual(o.Price)
		}
		return mid.GreaterThanOrEqual(o.Price)
	default:
		return false
	}
}

func (p *PaperAdapter) slippedPrice(mid decimal.Decimal, side types.Side) decimal.Decimal {
	slip := mid.Mul(p.slippageRate)
	if side == types.SideBuy {
		return mid.Add(slip)
	}
	return mid.Sub(slip)
}

var _ Adapter = (*PaperAdapter)(nil)
var _ Quoter = (*mds.Store)(nil)
