package scanner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wheelhouse/internal/analysis"
	"wheelhouse/internal/market"
	"wheelhouse/internal/signal"
	"wheelhouse/internal/types"
	"wheelhouse/internal/volatility"
)

var scanNow = time.Date(2026, 3, 10, 11, 0, 0, 0, time.UTC)

func newTestScanner(broker market.Broker) *Scanner {
	s := NewScanner(broker,
		analysis.NewAnalyzer(analysis.DefaultWeights()),
		volatility.NewRanker(0),
		signal.NewGenerator(signal.DefaultIVBands()),
		DefaultScoreWeights())
	s.SetNowFunc(func() time.Time { return scanNow })
	return s
}

// decliningBars triggers only the RSI oversold signal (weight 0.25): the
// series is too short for crosses or MACD and strictly monotonic, so no
// support/resistance levels exist.
func decliningBars(n int) []market.Bar {
	bars := make([]market.Bar, n)
	price := 100.0
	for i := range bars {
		bars[i] = market.Bar{
			Time:   scanNow.Add(time.Duration(i-n) * 24 * time.Hour).Unix(),
			Open:   price,
			High:   price + 0.2,
			Low:    price - 1.2,
			Close:  price - 1,
			Volume: 1000,
		}
		price -= 1
	}
	return bars
}

func callContract(strike float64, dteDays int, delta float64, volume, oi int64, bid, ask float64) market.OptionContract {
	return market.OptionContract{
		Underlying:   "SPY",
		OCCSymbol:    "SPY-TEST",
		Right:        market.Call,
		Strike:       strike,
		Expiration:   scanNow.Add(time.Duration(dteDays) * 24 * time.Hour),
		Bid:          bid,
		Ask:          ask,
		Volume:       volume,
		OpenInterest: oi,
		IV:           0.25,
		Greeks:       market.Greeks{Delta: delta},
	}
}

func testAutomation() *types.Automation {
	return &types.Automation{
		ID:            1,
		UserID:        "u1",
		Name:          "spy calls",
		Symbol:        "SPY",
		Strategy:      types.StrategyLongCall,
		MinConfidence: 0.20,
		Quantity:      1,
		DTEMin:        20,
		DTEMax:        60,
		DeltaMin:      0.25,
		DeltaMax:      0.60,
		MaxSpreadPct:  0.10,
		Active:        true,
	}
}

func TestScanBlocksOnLowConfidence(t *testing.T) {
	broker := market.NewPaperBroker()
	broker.SetHistory("SPY", decliningBars(20))
	broker.SetChain("SPY", []market.OptionContract{callContract(80, 40, 0.40, 500, 2000, 2.00, 2.10)})

	auto := testAutomation()
	auto.MinConfidence = 0.30 // RSI oversold alone scores 0.25

	s := newTestScanner(broker)
	order, diag := s.Scan(context.Background(), auto, &types.PortfolioSnapshot{UserID: "u1"}, "t1")
	require.Nil(t, order)
	assert.Equal(t, types.OutcomeBlocked, diag.Outcome)
	assert.Equal(t, types.ReasonConfidenceTooLow, diag.Reason)
	assert.InDelta(t, 0.25, diag.Confidence, 0.001)
}

func TestScanProposesCandidate(t *testing.T) {
	broker := market.NewPaperBroker()
	broker.SetHistory("SPY", decliningBars(20))
	broker.SetChain("SPY", []market.OptionContract{
		callContract(80, 40, 0.40, 500, 2000, 2.00, 2.10),
		callContract(85, 5, 0.55, 900, 9000, 1.00, 1.05), // outside DTE range
	})

	s := newTestScanner(broker)
	order, diag := s.Scan(context.Background(), testAutomation(), &types.PortfolioSnapshot{UserID: "u1"}, "t1")
	require.NotNil(t, order)
	assert.Equal(t, types.OutcomeProposed, diag.Outcome)
	assert.Equal(t, types.IntentOpen, order.Intent)
	assert.Equal(t, market.ActionBuy, order.Action)
	assert.Equal(t, 1, order.Quantity)
	assert.InDelta(t, 2.05, order.LimitPrice, 0.001)
	require.NotNil(t, diag.Candidate)
	assert.Equal(t, 80.0, diag.Candidate.Strike)
}

func TestScanSkipsWhenPositionAlreadyOpen(t *testing.T) {
	broker := market.NewPaperBroker()
	s := newTestScanner(broker)
	auto := testAutomation()
	autoID := auto.ID
	snap := &types.PortfolioSnapshot{
		UserID: "u1",
		Open: []types.Position{{
			UserID: "u1", AutomationID: &autoID, Status: types.PositionMonitoring, Quantity: 1,
		}},
	}

	order, diag := s.Scan(context.Background(), auto, snap, "t1")
	assert.Nil(t, order)
	assert.Equal(t, types.OutcomeSkipped, diag.Outcome)
	assert.Equal(t, types.ReasonPositionAlreadyOpen, diag.Reason)
}

func TestScanAllowsMultiplePositionsWhenConfigured(t *testing.T) {
	broker := market.NewPaperBroker()
	broker.SetHistory("SPY", decliningBars(20))
	broker.SetChain("SPY", []market.OptionContract{callContract(80, 40, 0.40, 500, 2000, 2.00, 2.10)})

	auto := testAutomation()
	auto.AllowMultiplePositions = true
	autoID := auto.ID
	snap := &types.PortfolioSnapshot{
		UserID: "u1",
		Open: []types.Position{{
			UserID: "u1", AutomationID: &autoID, Status: types.PositionMonitoring, Quantity: 1,
		}},
	}

	s := newTestScanner(broker)
	order, diag := s.Scan(context.Background(), auto, snap, "t1")
	assert.NotNil(t, order)
	assert.Equal(t, types.OutcomeProposed, diag.Outcome)
}

func TestScanBlocksWhenNoContractsPassFilters(t *testing.T) {
	broker := market.NewPaperBroker()
	broker.SetHistory("SPY", decliningBars(20))
	broker.SetChain("SPY", []market.OptionContract{
		callContract(80, 5, 0.40, 500, 2000, 2.00, 2.10),   // DTE too short
		callContract(80, 40, 0.10, 500, 2000, 2.00, 2.10),  // delta too low
		callContract(80, 40, 0.40, 500, 2000, 2.00, 2.60),  // spread too wide
	})

	s := newTestScanner(broker)
	order, diag := s.Scan(context.Background(), testAutomation(), &types.PortfolioSnapshot{UserID: "u1"}, "t1")
	assert.Nil(t, order)
	assert.Equal(t, types.OutcomeBlocked, diag.Outcome)
	assert.Equal(t, types.ReasonNoContracts, diag.Reason)
}

func TestScanRecordsBreakerOpen(t *testing.T) {
	broker := market.NewGuardedBroker(&timeoutBroker{}, 1, time.Hour)
	// Trip the breaker.
	_, err := broker.GetQuote(context.Background(), "SPY")
	require.Error(t, err)

	s := newTestScanner(broker)
	order, diag := s.Scan(context.Background(), testAutomation(), &types.PortfolioSnapshot{UserID: "u1"}, "t1")
	assert.Nil(t, order)
	assert.Equal(t, types.OutcomeError, diag.Outcome)
	assert.Equal(t, types.ReasonBreakerOpen, diag.Reason)
}

// timeoutBroker fails every call with a transport timeout.
type timeoutBroker struct{}

func (timeoutBroker) GetQuote(context.Context, string) (market.Quote, error) {
	return market.Quote{}, market.ErrBrokerTimeout
}
func (timeoutBroker) GetPriceHistory(context.Context, string, int) ([]market.Bar, error) {
	return nil, market.ErrBrokerTimeout
}
func (timeoutBroker) GetOptionChain(context.Context, string) ([]market.OptionContract, error) {
	return nil, market.ErrBrokerTimeout
}
func (timeoutBroker) PlaceOrder(context.Context, market.OrderRequest) (market.OrderResult, error) {
	return market.OrderResult{}, market.ErrBrokerTimeout
}
func (timeoutBroker) OrderStatus(context.Context, string) (market.OrderResult, error) {
	return market.OrderResult{}, market.ErrBrokerTimeout
}

func TestSelectBestBreaksTiesBySpreadThenOpenInterest(t *testing.T) {
	s := newTestScanner(market.NewPaperBroker())
	auto := testAutomation()

	// Identical score inputs except spread.
	tight := callContract(80, 40, 0.425, 500, 2000, 2.00, 2.04)
	wide := callContract(81, 40, 0.425, 500, 2000, 2.00, 2.10)
	best, _ := s.selectBest([]market.OptionContract{wide, tight}, auto, scanNow)
	assert.Equal(t, 80.0, best.Strike)

	// Identical spreads, higher open interest wins.
	lowOI := callContract(80, 40, 0.425, 500, 2000, 2.00, 2.04)
	highOI := callContract(81, 40, 0.425, 500, 2000, 2.00, 2.04)
	highOI.OpenInterest = 4000
	best, _ = s.selectBest([]market.OptionContract{lowOI, highOI}, auto, scanNow)
	assert.Equal(t, 81.0, best.Strike)
}

func TestScoreFavorsRangeMidpoints(t *testing.T) {
	s := newTestScanner(market.NewPaperBroker())
	auto := testAutomation() // DTE [20,60] mid 40, delta [0.25,0.60] mid 0.425

	centered := s.score(callContract(80, 40, 0.425, 500, 2000, 2.00, 2.04), auto, scanNow)
	edge := s.score(callContract(80, 21, 0.26, 500, 2000, 2.00, 2.04), auto, scanNow)
	assert.Greater(t, centered, edge)
}

func TestDirectionStrategyFit(t *testing.T) {
	cases := []struct {
		dir      types.SignalDirection
		strategy types.Strategy
		fits     bool
	}{
		{types.SignalBuyCall, types.StrategyLongCall, true},
		{types.SignalBuyCall, types.StrategyCashSecuredPut, true},
		{types.SignalBuyCall, types.StrategyLongPut, false},
		{types.SignalBuyPut, types.StrategyLongPut, true},
		{types.SignalBuyPut, types.StrategyCoveredCall, true},
		{types.SignalBuyPut, types.StrategyLongCall, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.fits, directionFits(tc.dir, tc.strategy), "%s/%s", tc.dir, tc.strategy)
	}
}

func TestSeedIVHistoryEnablesRanking(t *testing.T) {
	s := newTestScanner(market.NewPaperBroker())
	samples := make([]float64, 30)
	for i := range samples {
		samples[i] = 0.10 + float64(i)*0.01
	}
	s.SeedIVHistory("SPY", samples)

	chain := []market.OptionContract{callContract(80, 40, 0.40, 500, 2000, 2.00, 2.10)}
	rank := s.rankIV("SPY", decliningBars(20), chain)
	assert.True(t, rank.OK)
	assert.Equal(t, 30, rank.Samples)
}
