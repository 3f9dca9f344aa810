package executor

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

var execNow = time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)

// scriptBroker returns canned results so ambiguous and pending paths can be
// driven deterministically.
type scriptBroker struct {
	placeResult  market.OrderResult
	placeErr     error
	statusResult market.OrderResult
	statusErr    error
	placed       []market.OrderRequest
	statusCalls  int
}

func (b *scriptBroker) GetQuote(context.Context, string) (market.Quote, error) {
	return market.Quote{}, nil
}
func (b *scriptBroker) GetPriceHistory(context.Context, string, int) ([]market.Bar, error) {
	return nil, nil
}
func (b *scriptBroker) GetOptionChain(context.Context, string) ([]market.OptionContract, error) {
	return nil, nil
}
func (b *scriptBroker) PlaceOrder(_ context.Context, req market.OrderRequest) (market.OrderResult, error) {
	b.placed = append(b.placed, req)
	return b.placeResult, b.placeErr
}
func (b *scriptBroker) OrderStatus(context.Context, string) (market.OrderResult, error) {
	b.statusCalls++
	return b.statusResult, b.statusErr
}

func openOrder(autoID int64) *types.TradeOrder {
	return &types.TradeOrder{
		ID:     "ord-1",
		UserID: "u1",
		Intent: types.IntentOpen,
		Action: market.ActionBuy,
		Symbol: "SPY",
		Contract: market.OptionContract{
			Underlying: "SPY",
			Right:      market.Call,
			Strike:     500,
			Expiration: execNow.Add(40 * 24 * time.Hour),
			Bid:        2.00,
			Ask:        2.10,
			Greeks:     market.Greeks{Delta: 0.40},
		},
		Quantity:     2,
		LimitPrice:   2.05,
		AutomationID: &autoID,
		CreatedAt:    execNow,
	}
}

func newExecutor(broker market.Broker, st *memory.Store, alerts *[]types.Alert) *Executor {
	fn := AlertFunc(nil)
	if alerts != nil {
		fn = func(a types.Alert) { *alerts = append(*alerts, a) }
	}
	e := NewExecutor(broker, st, fn)
	e.SetNowFunc(func() time.Time { return execNow })
	return e
}

func TestExecuteFillCreatesPositionAndBumpsAutomation(t *testing.T) {
	st := memory.New()
	auto := &types.Automation{UserID: "u1", Name: "a", Symbol: "SPY", Strategy: types.StrategyLongCall, Quantity: 2, Active: true}
	require.NoError(t, st.SaveAutomation(context.Background(), auto))

	broker := &scriptBroker{placeResult: market.OrderResult{
		BrokerOrderID: "b-1", Status: market.OrderFilled, FillPrice: 2.03, FilledQty: 2,
	}}
	e := newExecutor(broker, st, nil)

	res, err := e.Execute(context.Background(), openOrder(auto.ID))
	require.NoError(t, err)
	assert.True(t, res.Filled)

	open, err := st.ListOpenPositions(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, open, 1)
	pos := open[0]
	assert.Equal(t, types.PositionCooldown, pos.Status)
	assert.Equal(t, 2.03, pos.EntryPrice)
	assert.Equal(t, 2.03, pos.HighWater)
	assert.Equal(t, execNow, pos.EntryTime)

	got, err := st.GetAutomation(context.Background(), "u1", auto.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.ExecutionCount)
	require.NotNil(t, got.LastExecuted)
	assert.Equal(t, execNow, *got.LastExecuted)
}

func TestExecuteAmbiguousParksPendingOrder(t *testing.T) {
	st := memory.New()
	broker := &scriptBroker{placeErr: market.ErrOrderUnknown}
	e := newExecutor(broker, st, nil)

	res, err := e.Execute(context.Background(), openOrder(1))
	require.NoError(t, err)
	assert.True(t, res.Pending)
	assert.False(t, res.Filled)

	open, _ := st.ListOpenPositions(context.Background(), "u1")
	assert.Empty(t, open, "no position from an unconfirmed fill")

	pending, err := st.ListPendingOrders(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "ord-1", pending[0].Order.ID)
}

func TestExecuteBrokerPendingParksOrder(t *testing.T) {
	st := memory.New()
	broker := &scriptBroker{placeResult: market.OrderResult{BrokerOrderID: "b-2", Status: market.OrderPending}}
	e := newExecutor(broker, st, nil)

	res, err := e.Execute(context.Background(), openOrder(1))
	require.NoError(t, err)
	assert.True(t, res.Pending)

	pending, _ := st.ListPendingOrders(context.Background(), "u1")
	require.Len(t, pending, 1)
	assert.Equal(t, "b-2", pending[0].BrokerOrderID)
}

func TestExecuteRejectedReportsReason(t *testing.T) {
	st := memory.New()
	broker := &scriptBroker{placeResult: market.OrderResult{Status: market.OrderRejected, Reason: "insufficient funds"}}
	e := newExecutor(broker, st, nil)

	res, err := e.Execute(context.Background(), openOrder(1))
	require.NoError(t, err)
	assert.False(t, res.Filled)
	assert.False(t, res.Pending)
	assert.Contains(t, res.Reason, "insufficient funds")
}

func TestReconcileConvertsPendingToPositionExactlyOnce(t *testing.T) {
	st := memory.New()
	broker := &scriptBroker{placeErr: market.ErrOrderUnknown}
	e := newExecutor(broker, st, nil)

	_, err := e.Execute(context.Background(), openOrder(1))
	require.NoError(t, err)

	broker.statusResult = market.OrderResult{Status: market.OrderFilled, FillPrice: 2.05, FilledQty: 2}
	require.NoError(t, e.Reconcile(context.Background(), "u1"))

	open, _ := st.ListOpenPositions(context.Background(), "u1")
	require.Len(t, open, 1)
	pending, _ := st.ListPendingOrders(context.Background(), "u1")
	assert.Empty(t, pending)

	// A second reconcile must not create a second position.
	require.NoError(t, e.Reconcile(context.Background(), "u1"))
	open, _ = st.ListOpenPositions(context.Background(), "u1")
	assert.Len(t, open, 1)
}

func TestReconcileDropsConfirmedRejection(t *testing.T) {
	st := memory.New()
	broker := &scriptBroker{placeErr: market.ErrOrderUnknown}
	e := newExecutor(broker, st, nil)
	_, err := e.Execute(context.Background(), openOrder(1))
	require.NoError(t, err)

	broker.statusResult = market.OrderResult{Status: market.OrderRejected, Reason: "expired"}
	require.NoError(t, e.Reconcile(context.Background(), "u1"))

	pending, _ := st.ListPendingOrders(context.Background(), "u1")
	assert.Empty(t, pending)
	open, _ := st.ListOpenPositions(context.Background(), "u1")
	assert.Empty(t, open)
}

func TestReconcileAbandonsAfterMaxAttempts(t *testing.T) {
	st := memory.New()
	var alerts []types.Alert
	broker := &scriptBroker{placeErr: market.ErrOrderUnknown}
	e := newExecutor(broker, st, &alerts)
	_, err := e.Execute(context.Background(), openOrder(1))
	require.NoError(t, err)

	broker.statusResult = market.OrderResult{Status: market.OrderPending}
	for i := 0; i < maxReconcileAttempts; i++ {
		require.NoError(t, e.Reconcile(context.Background(), "u1"))
	}

	pending, _ := st.ListPendingOrders(context.Background(), "u1")
	assert.Empty(t, pending, "abandoned after repeated unconfirmed checks")
	require.Len(t, alerts, 1)
	assert.Equal(t, types.AlertCritical, alerts[0].Priority)
	assert.Equal(t, "order_abandoned", alerts[0].Type)
}

func TestCloseFillRealizesProfitAndClosesPosition(t *testing.T) {
	st := memory.New()
	pos := &types.Position{
		UserID:     "u1",
		Symbol:     "SPY",
		Quantity:   2,
		EntryPrice: 2.00,
		EntryTime:  execNow.Add(-48 * time.Hour),
		Status:     types.PositionMonitoring,
	}
	require.NoError(t, st.SavePosition(context.Background(), pos))

	broker := &scriptBroker{placeResult: market.OrderResult{Status: market.OrderFilled, FillPrice: 2.55, FilledQty: 2}}
	e := newExecutor(broker, st, nil)

	order := openOrder(0)
	order.Intent = types.IntentClose
	order.Action = market.ActionSell
	order.AutomationID = nil
	order.PositionID = &pos.ID
	order.Reason = "profit_target_1"

	res, err := e.Execute(context.Background(), order)
	require.NoError(t, err)
	assert.True(t, res.Filled)

	got, err := st.GetPosition(context.Background(), "u1", pos.ID)
	require.NoError(t, err)
	assert.Equal(t, types.PositionClosed, got.Status)
	assert.Equal(t, "profit_target_1", got.CloseReason)
	assert.InDelta(t, 110.0, got.RealizedPL, 0.001) // (2.55-2.00)*2*100
	require.NotNil(t, got.ClosedAt)
}

func TestPartialCloseLeavesRemainder(t *testing.T) {
	st := memory.New()
	pos := &types.Position{
		UserID:     "u1",
		Symbol:     "SPY",
		Quantity:   4,
		EntryPrice: 1.00,
		EntryTime:  execNow.Add(-48 * time.Hour),
		Status:     types.PositionMonitoring,
	}
	require.NoError(t, st.SavePosition(context.Background(), pos))

	broker := &scriptBroker{placeResult: market.OrderResult{Status: market.OrderFilled, FillPrice: 1.50, FilledQty: 2}}
	e := newExecutor(broker, st, nil)

	order := openOrder(0)
	order.Intent = types.IntentClose
	order.Action = market.ActionSell
	order.AutomationID = nil
	order.PositionID = &pos.ID
	order.Quantity = 2
	order.Reason = "profit_target_2"

	_, err := e.Execute(context.Background(), order)
	require.NoError(t, err)

	got, err := st.GetPosition(context.Background(), "u1", pos.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Quantity)
	assert.NotEqual(t, types.PositionClosed, got.Status)
	assert.InDelta(t, 100.0, got.RealizedPL, 0.001)
}

func TestDayRealizedBucketResetsAcrossDays(t *testing.T) {
	st := memory.New()
	pos := &types.Position{
		UserID:     "u1",
		Symbol:     "SPY",
		Quantity:   2,
		EntryPrice: 2.00,
		EntryTime:  execNow.Add(-48 * time.Hour),
		Status:     types.PositionMonitoring,
	}
	require.NoError(t, st.SavePosition(context.Background(), pos))

	broker := &scriptBroker{placeResult: market.OrderResult{Status: market.OrderFilled, FillPrice: 3.00, FilledQty: 1}}
	e := NewExecutor(broker, st, nil)
	now := execNow
	e.SetNowFunc(func() time.Time { return now })

	closeOrder := func() *types.TradeOrder {
		o := openOrder(0)
		o.Intent = types.IntentClose
		o.Action = market.ActionSell
		o.AutomationID = nil
		o.PositionID = &pos.ID
		o.Quantity = 1
		o.Reason = "profit_target_2"
		return o
	}

	_, err := e.Execute(context.Background(), closeOrder())
	require.NoError(t, err)
	got, _ := st.GetPosition(context.Background(), "u1", pos.ID)
	assert.InDelta(t, 100.0, got.DayRealizedPL, 0.001)

	// Next day: the bucket starts over while the lifetime total accrues.
	now = execNow.Add(24 * time.Hour)
	broker.placeResult = market.OrderResult{Status: market.OrderFilled, FillPrice: 2.50, FilledQty: 1}
	_, err = e.Execute(context.Background(), closeOrder())
	require.NoError(t, err)

	got, _ = st.GetPosition(context.Background(), "u1", pos.ID)
	assert.InDelta(t, 150.0, got.RealizedPL, 0.001)
	assert.InDelta(t, 50.0, got.DayRealizedPL, 0.001)
}

func TestCloseFillPremiumSellingFlipsSign(t *testing.T) {
	st := memory.New()
	auto := &types.Automation{UserID: "u1", Name: "cc", Symbol: "SPY", Strategy: types.StrategyCoveredCall, Quantity: 1, Active: true}
	require.NoError(t, st.SaveAutomation(context.Background(), auto))
	pos := &types.Position{
		UserID:       "u1",
		AutomationID: &auto.ID,
		Symbol:       "SPY",
		Quantity:     1,
		EntryPrice:   2.00, // credit received
		EntryTime:    execNow.Add(-48 * time.Hour),
		Status:       types.PositionMonitoring,
	}
	require.NoError(t, st.SavePosition(context.Background(), pos))

	broker := &scriptBroker{placeResult: market.OrderResult{Status: market.OrderFilled, FillPrice: 0.50, FilledQty: 1}}
	e := newExecutor(broker, st, nil)

	order := openOrder(auto.ID)
	order.Intent = types.IntentClose
	order.Action = market.ActionBuy
	order.PositionID = &pos.ID
	order.Quantity = 1
	order.Reason = "profit_target_1"

	_, err := e.Execute(context.Background(), order)
	require.NoError(t, err)

	got, _ := st.GetPosition(context.Background(), "u1", pos.ID)
	assert.InDelta(t, 150.0, got.RealizedPL, 0.001) // sold at 2.00, bought back at 0.50
}
