// Package monitor drives the per-position exit state machine. Each cycle it
// refreshes prices, walks the exit checks in priority order, and emits at
// most one closing order per position.
package monitor

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"wheelhouse/internal/logger"
	"wheelhouse/internal/market"
	"wheelhouse/internal/store"
	"wheelhouse/internal/types"
)

// Exit reasons, recorded on the closing order and the position.
const (
	ReasonStopLoss         = "stop_loss"
	ReasonProfitTarget1    = "profit_target_1"
	ReasonProfitTarget2    = "profit_target_2"
	ReasonTrailingStop     = "trailing_stop"
	ReasonMaxHoldDays      = "max_hold_days"
	ReasonMinDTEExit       = "min_dte_exit"
	ReasonExpiredWorthless = "expired_worthless"
)

type Monitor struct {
	broker market.Broker
	store  store.Store
	nowFn  func() time.Time
}

func NewMonitor(broker market.Broker, st store.Store) *Monitor {
	return &Monitor{broker: broker, store: st, nowFn: time.Now}
}

// SetNowFunc is used by tests.
func (m *Monitor) SetNowFunc(fn func() time.Time) { m.nowFn = fn }

// Run evaluates every open position for the user and returns the exit orders
// to validate and execute. Positions inside the cooldown window are left
// untouched, price refresh included.
func (m *Monitor) Run(ctx context.Context, userID string, autos map[int64]types.Automation) ([]*types.TradeOrder, error) {
	positions, err := m.store.ListOpenPositions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list open positions: %w", err)
	}

	chains := make(map[string][]market.OptionContract)
	var orders []*types.TradeOrder
	for i := range positions {
		pos := &positions[i]
		order, err := m.evaluate(ctx, pos, autos, chains)
		if err != nil {
			logger.Warnf("monitor: position %d: %v", pos.ID, err)
			continue
		}
		if order != nil {
			orders = append(orders, order)
		}
	}
	return orders, nil
}

func (m *Monitor) evaluate(ctx context.Context, pos *types.Position, autos map[int64]types.Automation, chains map[string][]market.OptionContract) (*types.TradeOrder, error) {
	now := m.nowFn()
	if !pos.Open() || pos.InCooldown(now) {
		return nil, nil
	}
	if pos.Status == types.PositionCooldown {
		pos.Status = types.PositionMonitoring
		if err := m.store.SavePosition(ctx, pos); err != nil {
			return nil, err
		}
	}

	var auto *types.Automation
	var selling bool
	if pos.AutomationID != nil {
		if a, ok := autos[*pos.AutomationID]; ok {
			auto = &a
			selling = a.Strategy.PremiumSelling()
		}
	}

	// Expired contracts have no market left; close at zero without an order.
	if pos.Contract.Expired(now) {
		return nil, m.forceCloseExpired(ctx, pos, selling, now)
	}

	if err := m.refresh(ctx, pos, selling, chains); err != nil {
		// Stale price this cycle; exits wait for fresh data.
		return nil, err
	}

	if auto == nil {
		return nil, nil
	}
	if reason, qty := m.exitCheck(pos, auto, selling, now); reason != "" {
		return m.buildExit(pos, selling, reason, qty, now), nil
	}
	return nil, nil
}

// refresh updates the position's mark from the current chain and persists it.
func (m *Monitor) refresh(ctx context.Context, pos *types.Position, selling bool, chains map[string][]market.OptionContract) error {
	chain, ok := chains[pos.Symbol]
	if !ok {
		callCtx, cancel := context.WithTimeout(ctx, market.CallTimeout)
		var err error
		chain, err = m.broker.GetOptionChain(callCtx, pos.Symbol)
		cancel()
		if err != nil {
			return fmt.Errorf("refresh chain: %w", err)
		}
		chains[pos.Symbol] = chain
	}

	for i := range chain {
		c := &chain[i]
		if c.OCCSymbol != pos.Contract.OCCSymbol {
			continue
		}
		mid := c.Mid()
		if mid <= 0 {
			return nil
		}
		pos.CurrentPrice = mid
		pos.Greeks = c.Greeks
		pos.Contract.Bid, pos.Contract.Ask = c.Bid, c.Ask
		if mid > pos.HighWater {
			pos.HighWater = mid
		}
		pos.UnrealizedPL = unrealized(pos, selling)
		return m.store.SavePosition(ctx, pos)
	}
	return fmt.Errorf("contract %s missing from chain", pos.Contract.OCCSymbol)
}

// exitCheck walks the exit conditions in priority order and returns the first
// match with the quantity to close.
func (m *Monitor) exitCheck(pos *types.Position, auto *types.Automation, selling bool, now time.Time) (string, int) {
	gain := gainPct(pos, selling)

	if auto.StopLossPct > 0 && gain <= -auto.StopLossPct {
		return ReasonStopLoss, pos.Quantity
	}
	if auto.ProfitTarget2Pct > 0 && gain >= auto.ProfitTarget2Pct {
		qty := pos.Quantity
		if auto.Target2CloseRatio > 0 && auto.Target2CloseRatio < 1 {
			qty = int(math.Ceil(float64(pos.Quantity) * auto.Target2CloseRatio))
		}
		return ReasonProfitTarget2, qty
	}
	if auto.ProfitTargetPct > 0 && gain >= auto.ProfitTargetPct {
		return ReasonProfitTarget1, pos.Quantity
	}
	if auto.TrailingTriggerPct > 0 && trailingTriggered(pos, auto, selling) {
		return ReasonTrailingStop, pos.Quantity
	}
	if auto.MaxHoldDays > 0 && pos.HoldDays(now) >= auto.MaxHoldDays {
		return ReasonMaxHoldDays, pos.Quantity
	}
	if auto.MinDTEExit > 0 && pos.Contract.DTE(now) < auto.MinDTEExit {
		return ReasonMinDTEExit, pos.Quantity
	}
	return "", 0
}

// trailingTriggered arms once the high-water gain reaches the trigger and
// fires when price gives back the stop percentage from the high-water mark.
func trailingTriggered(pos *types.Position, auto *types.Automation, selling bool) bool {
	if pos.EntryPrice <= 0 || pos.HighWater <= 0 {
		return false
	}
	highGain := (pos.HighWater - pos.EntryPrice) / pos.EntryPrice * 100
	if selling {
		// Short premium: the favorable move is price decay, tracked via gainPct.
		highGain = gainPct(pos, true)
	}
	if highGain < auto.TrailingTriggerPct {
		return false
	}
	drop := (pos.HighWater - pos.CurrentPrice) / pos.HighWater * 100
	if selling {
		drop = (pos.CurrentPrice - pos.EntryPrice) / pos.EntryPrice * 100
	}
	return drop >= auto.TrailingStopPct
}

func (m *Monitor) buildExit(pos *types.Position, selling bool, reason string, qty int, now time.Time) *types.TradeOrder {
	action := market.ActionSell
	if selling {
		action = market.ActionBuy // buy to close a sold option
	}
	posID := pos.ID
	logger.Infof("monitor: position %d exit %s (gain %.1f%%, qty %d/%d)",
		pos.ID, reason, gainPct(pos, selling), qty, pos.Quantity)
	return &types.TradeOrder{
		ID:           uuid.NewString(),
		UserID:       pos.UserID,
		Intent:       types.IntentClose,
		Action:       action,
		Symbol:       pos.Symbol,
		Contract:     pos.Contract,
		Quantity:     qty,
		LimitPrice:   pos.CurrentPrice,
		AutomationID: pos.AutomationID,
		PositionID:   &posID,
		Reason:       reason,
		CreatedAt:    now,
	}
}

func (m *Monitor) forceCloseExpired(ctx context.Context, pos *types.Position, selling bool, now time.Time) error {
	pos.CurrentPrice = 0
	pos.UnrealizedPL = 0
	if selling {
		// Sold premium kept in full.
		pos.AddRealized(pos.EntryPrice*float64(pos.Quantity)*100, now)
	} else {
		pos.AddRealized(-pos.CostBasis(), now)
	}
	pos.Quantity = 0
	pos.Status = types.PositionClosed
	pos.ClosedAt = &now
	pos.CloseReason = ReasonExpiredWorthless
	logger.Warnf("monitor: position %d expired worthless, realized %.2f", pos.ID, pos.RealizedPL)
	return m.store.SavePosition(ctx, pos)
}

// gainPct is the percentage move in the position's favor. Long positions gain
// as price rises, sold premium gains as price decays.
func gainPct(pos *types.Position, selling bool) float64 {
	if pos.EntryPrice <= 0 {
		return 0
	}
	g := (pos.CurrentPrice - pos.EntryPrice) / pos.EntryPrice * 100
	if selling {
		return -g
	}
	return g
}

func unrealized(pos *types.Position, selling bool) float64 {
	pl := (pos.CurrentPrice - pos.EntryPrice) * float64(pos.Quantity) * 100
	if selling {
		return -pl
	}
	return pl
}
