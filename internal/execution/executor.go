// Package execution places, polls and cancels orders against either a
// paper-trading simulator or the live exchange. It handles single orders;
// the OCO (stop-loss/take-profit) pairing of a filled entry is kept by the
// campaign scheduler.
package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aristath/cryptocore/internal/errs"
	"github.com/aristath/cryptocore/pkg/types"
)

const (
	pollInterval = 500 * time.Millisecond
	pollAttempts = 10
)

// Adapter is the contract any exchange connection (paper or live) must
// satisfy: place, cancel and query a single order.
type Adapter interface {
	PlaceOrder(ctx context.Context, order types.Order) (exchangeOrderID string, err error)
	CancelOrder(ctx context.Context, exchangeOrderID string) error
	QueryOrder(ctx context.Context, exchangeOrderID string) (types.Order, error)
}

// Executor drives an Adapter, placing, polling and cancelling single orders.
type Executor struct {
	adapter Adapter
	logger  *zap.Logger
}

// New builds an Executor around adapter.
func New(adapter Adapter, logger *zap.Logger) *Executor {
	return &Executor{adapter: adapter, logger: logger.Named("executor")}
}

// PlaceAndPoll submits order, then polls for a terminal state up to
// pollAttempts times at pollInterval. If the order hasn't reached a
// terminal state by the deadline, it is cancelled; if the cancel itself
// can't be confirmed (the order may have filled in the race), the error
// wraps errs.ErrReconciliationRequired so a human or reconciliation job
// resolves it rather than the caller silently assuming either outcome.
func (e *Executor) PlaceAndPoll(ctx context.Context, order types.Order) (types.Order, error) {
	order.ID = uuid.NewString()
	exchangeID, err := e.adapter.PlaceOrder(ctx, order)
	if err != nil {
		order.Status = types.OrderStatusRejected
		return order, fmt.Errorf("placing order: %w", err)
	}
	order.ExchangeOrderID = exchangeID
	order.Status = types.OrderStatusOpen

	for attempt := 0; attempt < pollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return order, ctx.Err()
		case <-time.After(pollInterval):
		}

		current, err := e.adapter.QueryOrder(ctx, exchangeID)
		if err != nil {
			e.logger.Warn("query order failed", zap.String("order_id", order.ID), zap.Error(err))
			continue
		}
		order = current
		if isTerminal(order.Status) {
			return order, nil
		}
	}

	return e.timeoutCancelReconcile(ctx, order)
}

func (e *Executor) timeoutCancelReconcile(ctx context.Context, order types.Order) (types.Order, error) {
	if err := e.adapter.CancelOrder(ctx, order.ExchangeOrderID); err != nil {
		current, queryErr := e.adapter.QueryOrder(ctx, order.ExchangeOrderID)
		if queryErr == nil && isTerminal(current.Status) {
			return current, nil
		}
		return order, fmt.Errorf("%w: cancel failed after poll timeout: %v", errs.ErrReconciliationRequired, err)
	}

	final, err := e.adapter.QueryOrder(ctx, order.ExchangeOrderID)
	if err != nil {
		return order, fmt.Errorf("%w: order state unknown after cancel: %v", errs.ErrReconciliationRequired, err)
	}
	return final, nil
}

func isTerminal(status types.OrderStatus) bool {
	switch status {
	case types.OrderStatusFilled, types.OrderStatusCancelled, types.OrderStatusRejected:
		return true
	default:
		return false
	}
}
