// Package executor places approved orders with the broker and applies
// confirmed fills to position and automation state. Ambiguous placements are
// parked as pending orders and reconciled at the start of the next cycle;
// positions are never created from unconfirmed fills.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"wheelhouse/internal/logger"
	"wheelhouse/internal/market"
	"wheelhouse/internal/store"
	"wheelhouse/internal/types"
)

// maxReconcileAttempts bounds how many cycles an ambiguous order is re-checked
// before it is dropped with a critical alert.
const maxReconcileAttempts = 5

// AlertFunc receives alerts raised during execution. Fire-and-forget; a nil
// func drops them.
type AlertFunc func(types.Alert)

type Executor struct {
	broker  market.Broker
	store   store.Store
	alertFn AlertFunc
	nowFn   func() time.Time
}

func NewExecutor(broker market.Broker, st store.Store, alertFn AlertFunc) *Executor {
	return &Executor{broker: broker, store: st, alertFn: alertFn, nowFn: time.Now}
}

// SetNowFunc is used by tests.
func (e *Executor) SetNowFunc(fn func() time.Time) { e.nowFn = fn }

// Result summarizes one order's execution for diagnostics.
type Result struct {
	Filled  bool
	Pending bool
	Reason  string
}

// Execute places one approved order. Fills are applied synchronously;
// ambiguous outcomes become pending orders for the next cycle's
// reconciliation.
func (e *Executor) Execute(ctx context.Context, order *types.TradeOrder) (Result, error) {
	req := market.OrderRequest{
		ID:         order.ID,
		Action:     order.Action,
		Symbol:     order.Symbol,
		Contract:   order.Contract,
		Quantity:   order.Quantity,
		LimitPrice: order.LimitPrice,
	}
	callCtx, cancel := context.WithTimeout(ctx, market.CallTimeout)
	defer cancel()

	res, err := e.broker.PlaceOrder(callCtx, req)
	if err != nil {
		if errors.Is(err, market.ErrOrderUnknown) {
			if perr := e.parkPending(ctx, order, res.BrokerOrderID); perr != nil {
				return Result{}, perr
			}
			return Result{Pending: true, Reason: "order status unknown, held for verification"}, nil
		}
		return Result{}, fmt.Errorf("place order %s: %w", order.ID, err)
	}

	switch res.Status {
	case market.OrderFilled:
		if err := e.applyFill(ctx, order, res); err != nil {
			return Result{}, err
		}
		return Result{Filled: true, Reason: fmt.Sprintf("filled %d at %.2f", res.FilledQty, res.FillPrice)}, nil
	case market.OrderPending:
		if err := e.parkPending(ctx, order, res.BrokerOrderID); err != nil {
			return Result{}, err
		}
		return Result{Pending: true, Reason: "broker reports pending"}, nil
	default:
		logger.Warnf("executor: order %s rejected by broker: %s", order.ID, res.Reason)
		return Result{Reason: fmt.Sprintf("broker rejected: %s", res.Reason)}, nil
	}
}

// Reconcile re-checks every pending order for the user. Runs at cycle start,
// before the monitor, so confirmed fills are visible to the same cycle.
func (e *Executor) Reconcile(ctx context.Context, userID string) error {
	pending, err := e.store.ListPendingOrders(ctx, userID)
	if err != nil {
		return fmt.Errorf("list pending orders: %w", err)
	}
	for i := range pending {
		p := &pending[i]
		if err := e.reconcileOne(ctx, p); err != nil {
			logger.Warnf("executor: reconcile order %s: %v", p.Order.ID, err)
		}
	}
	return nil
}

func (e *Executor) reconcileOne(ctx context.Context, p *types.PendingOrder) error {
	callCtx, cancel := context.WithTimeout(ctx, market.CallTimeout)
	res, err := e.broker.OrderStatus(callCtx, p.BrokerOrderID)
	cancel()
	if err != nil {
		// Transport failure: leave the order for the next cycle.
		p.Attempts++
		if p.Attempts >= maxReconcileAttempts {
			return e.abandonPending(ctx, p, fmt.Sprintf("status unreachable after %d attempts", p.Attempts))
		}
		return e.store.SavePendingOrder(ctx, p)
	}

	switch res.Status {
	case market.OrderFilled:
		if err := e.applyFill(ctx, &p.Order, res); err != nil {
			return err
		}
		logger.Infof("executor: pending order %s confirmed filled at %.2f", p.Order.ID, res.FillPrice)
		return e.store.DeletePendingOrder(ctx, p.UserID, p.ID)
	case market.OrderRejected:
		logger.Infof("executor: pending order %s confirmed rejected: %s", p.Order.ID, res.Reason)
		return e.store.DeletePendingOrder(ctx, p.UserID, p.ID)
	default:
		p.Attempts++
		if p.Attempts >= maxReconcileAttempts {
			return e.abandonPending(ctx, p, fmt.Sprintf("still unconfirmed after %d attempts", p.Attempts))
		}
		return e.store.SavePendingOrder(ctx, p)
	}
}

func (e *Executor) abandonPending(ctx context.Context, p *types.PendingOrder, why string) error {
	e.alert(types.Alert{
		UserID:   p.UserID,
		Type:     "order_abandoned",
		Priority: types.AlertCritical,
		Symbol:   p.Order.Symbol,
		Message:  fmt.Sprintf("order %s abandoned: %s; verify with the broker manually", p.Order.ID, why),
		Payload:  map[string]any{"broker_order_id": p.BrokerOrderID},
	})
	return e.store.DeletePendingOrder(ctx, p.UserID, p.ID)
}

func (e *Executor) parkPending(ctx context.Context, order *types.TradeOrder, brokerOrderID string) error {
	p := &types.PendingOrder{
		UserID:        order.UserID,
		Order:         *order,
		BrokerOrderID: brokerOrderID,
		CreatedAt:     e.nowFn(),
	}
	if err := e.store.SavePendingOrder(ctx, p); err != nil {
		return fmt.Errorf("park pending order %s: %w", order.ID, err)
	}
	logger.Warnf("executor: order %s parked pending verification (broker id %q)", order.ID, brokerOrderID)
	return nil
}

func (e *Executor) applyFill(ctx context.Context, order *types.TradeOrder, res market.OrderResult) error {
	if order.Intent == types.IntentClose {
		return e.applyCloseFill(ctx, order, res)
	}
	return e.applyOpenFill(ctx, order, res)
}

func (e *Executor) applyOpenFill(ctx context.Context, order *types.TradeOrder, res market.OrderResult) error {
	now := e.nowFn()
	pos := &types.Position{
		UserID:       order.UserID,
		AutomationID: order.AutomationID,
		Symbol:       order.Symbol,
		Contract:     order.Contract,
		Quantity:     res.FilledQty,
		EntryPrice:   res.FillPrice,
		EntryTime:    now,
		Status:       types.PositionCooldown,
		CurrentPrice: res.FillPrice,
		HighWater:    res.FillPrice,
		Greeks:       order.Contract.Greeks,
	}
	if err := e.store.SavePosition(ctx, pos); err != nil {
		return fmt.Errorf("save position for order %s: %w", order.ID, err)
	}
	logger.Infof("executor: opened position %d %s x%d at %.2f", pos.ID, order.Symbol, pos.Quantity, res.FillPrice)

	if order.AutomationID != nil {
		if err := e.bumpAutomation(ctx, order.UserID, *order.AutomationID, now); err != nil {
			logger.Warnf("executor: bump automation %d: %v", *order.AutomationID, err)
		}
	}
	return nil
}

func (e *Executor) applyCloseFill(ctx context.Context, order *types.TradeOrder, res market.OrderResult) error {
	if order.PositionID == nil {
		return fmt.Errorf("close order %s has no position id", order.ID)
	}
	pos, err := e.store.GetPosition(ctx, order.UserID, *order.PositionID)
	if err != nil {
		return fmt.Errorf("load position %d: %w", *order.PositionID, err)
	}

	qty := res.FilledQty
	if qty > pos.Quantity {
		qty = pos.Quantity
	}
	now := e.nowFn()
	pos.AddRealized(e.realized(ctx, &pos, res.FillPrice, qty), now)
	pos.Quantity -= qty
	pos.CurrentPrice = res.FillPrice

	if pos.Quantity <= 0 {
		pos.Status = types.PositionClosed
		pos.ClosedAt = &now
		pos.CloseReason = order.Reason
		pos.UnrealizedPL = 0
		logger.Infof("executor: closed position %d (%s) at %.2f, realized %.2f", pos.ID, order.Reason, res.FillPrice, pos.RealizedPL)
	} else {
		logger.Infof("executor: partially closed position %d, %d contracts remain", pos.ID, pos.Quantity)
	}
	if err := e.store.SavePosition(ctx, &pos); err != nil {
		return fmt.Errorf("save position %d: %w", pos.ID, err)
	}
	return nil
}

// realized computes the closing P/L in dollars. Premium-selling positions
// profit when the option price falls, so the sign flips.
func (e *Executor) realized(ctx context.Context, pos *types.Position, fillPrice float64, qty int) float64 {
	perShare := decimal.NewFromFloat(fillPrice).Sub(decimal.NewFromFloat(pos.EntryPrice))
	if e.premiumSelling(ctx, pos) {
		perShare = perShare.Neg()
	}
	pl, _ := perShare.
		Mul(decimal.NewFromInt(int64(qty))).
		Mul(decimal.NewFromInt(100)).
		Float64()
	return pl
}

func (e *Executor) premiumSelling(ctx context.Context, pos *types.Position) bool {
	if pos.AutomationID == nil {
		return false
	}
	auto, err := e.store.GetAutomation(ctx, pos.UserID, *pos.AutomationID)
	if err != nil {
		return false
	}
	return auto.Strategy.PremiumSelling()
}

func (e *Executor) bumpAutomation(ctx context.Context, userID string, automationID int64, now time.Time) error {
	auto, err := e.store.GetAutomation(ctx, userID, automationID)
	if err != nil {
		return err
	}
	auto.ExecutionCount++
	auto.LastExecuted = &now
	return e.store.SaveAutomation(ctx, &auto)
}

func (e *Executor) alert(a types.Alert) {
	if e.alertFn == nil {
		return
	}
	a.CreatedAt = e.nowFn()
	e.alertFn(a)
}
