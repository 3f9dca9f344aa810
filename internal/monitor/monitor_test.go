package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wheelhouse/internal/market"
	"wheelhouse/internal/store/memory"
	"wheelhouse/internal/types"
)

var monNow = time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)

func exitAutomation() types.Automation {
	return types.Automation{
		ID:              7,
		UserID:          "u1",
		Name:            "spy calls",
		Symbol:          "SPY",
		Strategy:        types.StrategyLongCall,
		Quantity:        1,
		ProfitTargetPct: 25,
		StopLossPct:     50,
		MaxHoldDays:     30,
		MinDTEExit:      7,
		Active:          true,
	}
}

func monContract(dteDays int) market.OptionContract {
	return market.OptionContract{
		Underlying: "SPY",
		OCCSymbol:  "SPY-C-500",
		Right:      market.Call,
		Strike:     500,
		Expiration: monNow.Add(time.Duration(dteDays) * 24 * time.Hour),
	}
}

func monPosition(auto *types.Automation, entry float64, qty int, entryAge time.Duration) *types.Position {
	id := auto.ID
	return &types.Position{
		UserID:       "u1",
		AutomationID: &id,
		Symbol:       "SPY",
		Contract:     monContract(40),
		Quantity:     qty,
		EntryPrice:   entry,
		EntryTime:    monNow.Add(-entryAge),
		Status:       types.PositionMonitoring,
		CurrentPrice: entry,
		HighWater:    entry,
	}
}

// setMark puts the position's contract in the chain at the given bid/ask.
func setMark(broker *market.PaperBroker, c market.OptionContract, bid, ask float64) {
	c.Bid, c.Ask = bid, ask
	broker.SetChain("SPY", []market.OptionContract{c})
}

func newMonitor(broker market.Broker, st *memory.Store) *Monitor {
	m := NewMonitor(broker, st)
	m.SetNowFunc(func() time.Time { return monNow })
	return m
}

func autosOf(a types.Automation) map[int64]types.Automation {
	return map[int64]types.Automation{a.ID: a}
}

func TestCooldownExcludesPositionFromExits(t *testing.T) {
	broker := market.NewPaperBroker()
	st := memory.New()
	auto := exitAutomation()
	auto.StopLossPct = 10

	pos := monPosition(&auto, 2.00, 1, 0)
	pos.Status = types.PositionCooldown
	setMark(broker, pos.Contract, 0.50, 0.60) // deep stop-loss territory

	m := newMonitor(broker, st)

	// Inside the window: untouched regardless of price.
	for _, age := range []time.Duration{0, time.Minute, types.CooldownWindow - time.Second} {
		pos.EntryTime = monNow.Add(-age)
		require.NoError(t, st.SavePosition(context.Background(), pos))
		orders, err := m.Run(context.Background(), "u1", autosOf(auto))
		require.NoError(t, err)
		assert.Empty(t, orders, "age %s", age)
	}

	// At exactly the window boundary evaluation resumes.
	pos.EntryTime = monNow.Add(-types.CooldownWindow)
	require.NoError(t, st.SavePosition(context.Background(), pos))
	orders, err := m.Run(context.Background(), "u1", autosOf(auto))
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, ReasonStopLoss, orders[0].Reason)

	got, _ := st.GetPosition(context.Background(), "u1", pos.ID)
	assert.Equal(t, types.PositionMonitoring, got.Status)
}

func TestProfitTargetOneEmitsCloseOrder(t *testing.T) {
	broker := market.NewPaperBroker()
	st := memory.New()
	auto := exitAutomation() // profit target 25%

	pos := monPosition(&auto, 2.00, 1, time.Hour)
	require.NoError(t, st.SavePosition(context.Background(), pos))
	setMark(broker, pos.Contract, 2.50, 2.60) // mid 2.55, +27.5%

	m := newMonitor(broker, st)
	orders, err := m.Run(context.Background(), "u1", autosOf(auto))
	require.NoError(t, err)
	require.Len(t, orders, 1)

	order := orders[0]
	assert.Equal(t, ReasonProfitTarget1, order.Reason)
	assert.Equal(t, types.IntentClose, order.Intent)
	assert.Equal(t, market.ActionSell, order.Action)
	assert.Equal(t, 1, order.Quantity)
	require.NotNil(t, order.PositionID)
	assert.Equal(t, pos.ID, *order.PositionID)
	assert.InDelta(t, 2.55, order.LimitPrice, 0.001)
}

func TestStopLossTakesPriorityOverEverything(t *testing.T) {
	broker := market.NewPaperBroker()
	st := memory.New()
	auto := exitAutomation()
	auto.StopLossPct = 10
	auto.MaxHoldDays = 1 // also exceeded

	pos := monPosition(&auto, 2.00, 1, 72*time.Hour)
	pos.Contract = monContract(2) // min DTE also breached
	require.NoError(t, st.SavePosition(context.Background(), pos))
	setMark(broker, pos.Contract, 1.00, 1.10)

	m := newMonitor(broker, st)
	orders, err := m.Run(context.Background(), "u1", autosOf(auto))
	require.NoError(t, err)
	require.Len(t, orders, 1, "one exit order even with several conditions true")
	assert.Equal(t, ReasonStopLoss, orders[0].Reason)
}

func TestProfitTarget2PartialClose(t *testing.T) {
	broker := market.NewPaperBroker()
	st := memory.New()
	auto := exitAutomation()
	auto.ProfitTarget2Pct = 50
	auto.Target2CloseRatio = 0.5

	pos := monPosition(&auto, 2.00, 4, time.Hour)
	require.NoError(t, st.SavePosition(context.Background(), pos))
	setMark(broker, pos.Contract, 3.00, 3.10) // +52.5%

	m := newMonitor(broker, st)
	orders, err := m.Run(context.Background(), "u1", autosOf(auto))
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, ReasonProfitTarget2, orders[0].Reason)
	assert.Equal(t, 2, orders[0].Quantity)
}

func TestTrailingStopArmsThenFires(t *testing.T) {
	broker := market.NewPaperBroker()
	st := memory.New()
	auto := exitAutomation()
	auto.ProfitTargetPct = 0 // isolate trailing
	auto.TrailingTriggerPct = 30
	auto.TrailingStopPct = 10

	pos := monPosition(&auto, 2.00, 1, time.Hour)
	require.NoError(t, st.SavePosition(context.Background(), pos))

	m := newMonitor(broker, st)

	// Run 1: price up 40%, trailing arms, no exit yet.
	setMark(broker, pos.Contract, 2.75, 2.85) // mid 2.80
	orders, err := m.Run(context.Background(), "u1", autosOf(auto))
	require.NoError(t, err)
	assert.Empty(t, orders)
	got, _ := st.GetPosition(context.Background(), "u1", pos.ID)
	assert.InDelta(t, 2.80, got.HighWater, 0.001)

	// Run 2: price gives back >10% from the high water mark.
	setMark(broker, pos.Contract, 2.45, 2.55) // mid 2.50, -10.7% from 2.80
	orders, err = m.Run(context.Background(), "u1", autosOf(auto))
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, ReasonTrailingStop, orders[0].Reason)
}

func TestMaxHoldDaysAndMinDTE(t *testing.T) {
	t.Run("max hold days", func(t *testing.T) {
		broker := market.NewPaperBroker()
		st := memory.New()
		auto := exitAutomation()
		auto.MaxHoldDays = 10

		pos := monPosition(&auto, 2.00, 1, 11*24*time.Hour)
		require.NoError(t, st.SavePosition(context.Background(), pos))
		setMark(broker, pos.Contract, 2.00, 2.10) // flat, no other exit

		m := newMonitor(broker, st)
		orders, err := m.Run(context.Background(), "u1", autosOf(auto))
		require.NoError(t, err)
		require.Len(t, orders, 1)
		assert.Equal(t, ReasonMaxHoldDays, orders[0].Reason)
	})

	t.Run("min dte exit", func(t *testing.T) {
		broker := market.NewPaperBroker()
		st := memory.New()
		auto := exitAutomation() // MinDTEExit 7

		pos := monPosition(&auto, 2.00, 1, time.Hour)
		pos.Contract = monContract(5)
		require.NoError(t, st.SavePosition(context.Background(), pos))
		setMark(broker, pos.Contract, 2.00, 2.10)

		m := newMonitor(broker, st)
		orders, err := m.Run(context.Background(), "u1", autosOf(auto))
		require.NoError(t, err)
		require.Len(t, orders, 1)
		assert.Equal(t, ReasonMinDTEExit, orders[0].Reason)
	})
}

func TestExpiredWorthlessForceClosesAtZero(t *testing.T) {
	broker := market.NewPaperBroker()
	st := memory.New()
	auto := exitAutomation()

	pos := monPosition(&auto, 2.00, 2, 45*24*time.Hour)
	pos.Contract = monContract(-1) // expired yesterday
	require.NoError(t, st.SavePosition(context.Background(), pos))

	m := newMonitor(broker, st)
	orders, err := m.Run(context.Background(), "u1", autosOf(auto))
	require.NoError(t, err)
	assert.Empty(t, orders, "no broker order for a dead contract")

	got, _ := st.GetPosition(context.Background(), "u1", pos.ID)
	assert.Equal(t, types.PositionClosed, got.Status)
	assert.Equal(t, ReasonExpiredWorthless, got.CloseReason)
	assert.InDelta(t, -400.0, got.RealizedPL, 0.001) // full cost basis lost
}

func TestPremiumSellingGainDirectionInverted(t *testing.T) {
	broker := market.NewPaperBroker()
	st := memory.New()
	auto := exitAutomation()
	auto.Strategy = types.StrategyCoveredCall
	auto.ProfitTargetPct = 50

	// Sold at 2.00; option decayed to 0.90, 55% of premium captured.
	pos := monPosition(&auto, 2.00, 1, time.Hour)
	require.NoError(t, st.SavePosition(context.Background(), pos))
	setMark(broker, pos.Contract, 0.85, 0.95)

	m := newMonitor(broker, st)
	orders, err := m.Run(context.Background(), "u1", autosOf(auto))
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, ReasonProfitTarget1, orders[0].Reason)
	assert.Equal(t, market.ActionBuy, orders[0].Action, "buy to close sold premium")
}

func TestChainFailureSkipsExitsThisCycle(t *testing.T) {
	st := memory.New()
	auto := exitAutomation()
	auto.StopLossPct = 10

	pos := monPosition(&auto, 2.00, 1, time.Hour)
	pos.CurrentPrice = 0.50 // would stop out on stale data
	require.NoError(t, st.SavePosition(context.Background(), pos))

	m := newMonitor(&failingBroker{}, st)
	orders, err := m.Run(context.Background(), "u1", autosOf(auto))
	require.NoError(t, err)
	assert.Empty(t, orders, "no exit without a fresh mark")
}

type failingBroker struct{}

func (failingBroker) GetQuote(context.Context, string) (market.Quote, error) {
	return market.Quote{}, market.ErrBrokerTimeout
}
func (failingBroker) GetPriceHistory(context.Context, string, int) ([]market.Bar, error) {
	return nil, market.ErrBrokerTimeout
}
func (failingBroker) GetOptionChain(context.Context, string) ([]market.OptionContract, error) {
	return nil, market.ErrBrokerTimeout
}
func (failingBroker) PlaceOrder(context.Context, market.OrderRequest) (market.OrderResult, error) {
	return market.OrderResult{}, market.ErrBrokerTimeout
}
func (failingBroker) OrderStatus(context.Context, string) (market.OrderResult, error) {
	return market.OrderResult{}, market.ErrBrokerTimeout
}
