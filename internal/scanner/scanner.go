// Package scanner evaluates each runnable automation against current market
// data and proposes at most one entry order per automation per cycle. Every
// evaluation produces a Diagnostic, traded or not.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"wheelhouse/internal/analysis"
	"wheelhouse/internal/logger"
	"wheelhouse/internal/market"
	"wheelhouse/internal/signal"
	"wheelhouse/internal/types"
	"wheelhouse/internal/volatility"
)

// ivWindow caps the trailing IV history kept per symbol, roughly one year of
// daily samples.
const ivWindow = 252

// ScoreWeights tune the multi-factor contract score. Exposed as configuration
// pending calibration.
type ScoreWeights struct {
	Liquidity float64 `mapstructure:"liquidity"`
	Spread    float64 `mapstructure:"spread"`
	DTEFit    float64 `mapstructure:"dte_fit"`
	DeltaFit  float64 `mapstructure:"delta_fit"`
}

func DefaultScoreWeights() ScoreWeights {
	return ScoreWeights{Liquidity: 0.30, Spread: 0.30, DTEFit: 0.20, DeltaFit: 0.20}
}

// Volume and open-interest counts above these norms score full liquidity
// marks.
const (
	volumeNorm       = 1000
	openInterestNorm = 5000
)

type Scanner struct {
	broker   market.Broker
	analyzer *analysis.Analyzer
	ranker   *volatility.Ranker
	gen      *signal.Generator
	weights  ScoreWeights
	nowFn    func() time.Time

	mu        sync.Mutex
	ivHistory map[string][]float64
}

func NewScanner(broker market.Broker, analyzer *analysis.Analyzer, ranker *volatility.Ranker, gen *signal.Generator, weights ScoreWeights) *Scanner {
	if weights == (ScoreWeights{}) {
		weights = DefaultScoreWeights()
	}
	return &Scanner{
		broker:    broker,
		analyzer:  analyzer,
		ranker:    ranker,
		gen:       gen,
		weights:   weights,
		nowFn:     time.Now,
		ivHistory: make(map[string][]float64),
	}
}

// SetNowFunc is used by tests.
func (s *Scanner) SetNowFunc(fn func() time.Time) { s.nowFn = fn }

// SeedIVHistory preloads a symbol's trailing IV samples, e.g. from a prior
// run or a bulk download.
func (s *Scanner) SeedIVHistory(symbol string, samples []float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(samples) > ivWindow {
		samples = samples[len(samples)-ivWindow:]
	}
	s.ivHistory[symbol] = append([]float64(nil), samples...)
}

// Scan evaluates one automation. The returned order is nil unless the
// automation proposed an entry; the diagnostic is always populated.
func (s *Scanner) Scan(ctx context.Context, auto *types.Automation, snap *types.PortfolioSnapshot, traceID string) (*types.TradeOrder, types.Diagnostic) {
	diag := types.Diagnostic{
		TraceID:      traceID,
		UserID:       auto.UserID,
		AutomationID: auto.ID,
		Symbol:       auto.Symbol,
		CreatedAt:    s.nowFn(),
	}

	if !auto.Runnable() {
		diag.Outcome = types.OutcomeSkipped
		diag.Reason = "automation inactive or paused"
		return nil, diag
	}
	if !auto.AllowMultiplePositions && snap.OpenCount(&auto.ID) > 0 {
		diag.Outcome = types.OutcomeSkipped
		diag.Reason = types.ReasonPositionAlreadyOpen
		return nil, diag
	}

	bars, err := s.broker.GetPriceHistory(ctx, auto.Symbol, market.HistoryLookback)
	if err != nil {
		return nil, s.transient(diag, err)
	}
	technicals := s.analyzer.Analyze(bars)

	chain, err := s.broker.GetOptionChain(ctx, auto.Symbol)
	if err != nil {
		return nil, s.transient(diag, err)
	}

	ivRank := s.rankIV(auto.Symbol, bars, chain)
	sig := s.gen.Generate(auto.Symbol, technicals, ivRank, auto.Strategy)
	diag.Confidence = sig.Confidence
	diag.Direction = sig.Direction

	if sig.Direction == types.SignalHold {
		diag.Outcome = types.OutcomeBlocked
		diag.Reason = types.ReasonSignalHold
		return nil, diag
	}
	if sig.Confidence < auto.MinConfidence {
		diag.Outcome = types.OutcomeBlocked
		diag.Reason = types.ReasonConfidenceTooLow
		return nil, diag
	}
	if !directionFits(sig.Direction, auto.Strategy) {
		diag.Outcome = types.OutcomeBlocked
		diag.Reason = types.ReasonDirectionMismatch
		return nil, diag
	}

	now := s.nowFn()
	candidates := s.filterChain(chain, auto, now)
	if len(candidates) == 0 {
		diag.Outcome = types.OutcomeBlocked
		diag.Reason = types.ReasonNoContracts
		return nil, diag
	}

	best, score := s.selectBest(candidates, auto, now)
	order := s.buildOrder(auto, best, now)

	diag.Outcome = types.OutcomeProposed
	diag.Reason = fmt.Sprintf("%s candidate %s at %.2f", sig.Direction, best.OCCSymbol, order.LimitPrice)
	diag.Candidate = &best
	diag.Score = score
	logger.Infof("scanner: automation %d (%s) proposes %s x%d score=%.3f confidence=%.2f",
		auto.ID, auto.Symbol, best.OCCSymbol, order.Quantity, score, sig.Confidence)
	return order, diag
}

func (s *Scanner) transient(diag types.Diagnostic, err error) types.Diagnostic {
	diag.Outcome = types.OutcomeError
	switch {
	case errors.Is(err, market.ErrBreakerOpen):
		diag.Reason = types.ReasonBreakerOpen
	case errors.Is(err, market.ErrBrokerTimeout):
		diag.Reason = types.ReasonBrokerTimeout
	default:
		diag.Reason = err.Error()
	}
	logger.Warnf("scanner: automation %d (%s) skipped: %v", diag.AutomationID, diag.Symbol, err)
	return diag
}

// rankIV takes the chain's at-the-money IV as the symbol's current implied
// volatility, appends it to the trailing window, and ranks it. Below the
// sample floor the rank comes back OK=false and the generator stays neutral.
func (s *Scanner) rankIV(symbol string, bars []market.Bar, chain []market.OptionContract) volatility.Rank {
	spot := 0.0
	if len(bars) > 0 {
		spot = bars[len(bars)-1].Close
	}
	current := atmIV(chain, spot)

	s.mu.Lock()
	defer s.mu.Unlock()
	history := s.ivHistory[symbol]
	rank := s.ranker.Compute(current, history)
	if current > 0 {
		history = append(history, current)
		if len(history) > ivWindow {
			history = history[len(history)-ivWindow:]
		}
		s.ivHistory[symbol] = history
	}
	return rank
}

// atmIV returns the implied volatility of the contract whose strike is
// closest to spot, preferring the nearest expiration on strike ties.
func atmIV(chain []market.OptionContract, spot float64) float64 {
	if spot <= 0 {
		return 0
	}
	best := -1
	bestDist := 0.0
	for i := range chain {
		if chain[i].IV <= 0 {
			continue
		}
		dist := abs(chain[i].Strike - spot)
		if best < 0 || dist < bestDist ||
			(dist == bestDist && chain[i].Expiration.Before(chain[best].Expiration)) {
			best = i
			bestDist = dist
		}
	}
	if best < 0 {
		return 0
	}
	return chain[best].IV
}

func directionFits(dir types.SignalDirection, strategy types.Strategy) bool {
	switch strategy {
	case types.StrategyLongCall, types.StrategyCashSecuredPut:
		return dir == types.SignalBuyCall // bullish
	case types.StrategyLongPut, types.StrategyCoveredCall:
		return dir == types.SignalBuyPut // bearish
	default:
		return false
	}
}

// strategyRight maps the strategy to the contract right it trades.
func strategyRight(strategy types.Strategy) market.Right {
	switch strategy {
	case types.StrategyLongCall, types.StrategyCoveredCall:
		return market.Call
	default:
		return market.Put
	}
}

func (s *Scanner) filterChain(chain []market.OptionContract, auto *types.Automation, now time.Time) []market.OptionContract {
	right := strategyRight(auto.Strategy)
	var out []market.OptionContract
	for _, c := range chain {
		if c.Right != right || c.Expired(now) {
			continue
		}
		dte := c.DTE(now)
		if dte < auto.DTEMin || dte > auto.DTEMax {
			continue
		}
		delta := c.Greeks.Delta
		if delta < auto.DeltaMin || delta > auto.DeltaMax {
			continue
		}
		if c.Volume < auto.MinVolume || c.OpenInterest < auto.MinOpenInterest {
			continue
		}
		if auto.MaxSpreadPct > 0 && c.SpreadPct() > auto.MaxSpreadPct {
			continue
		}
		if c.Mid() <= 0 {
			continue
		}
		out = append(out, c)
	}
	return out
}

// selectBest scores the filtered contracts and returns the winner. Ties break
// by lower spread then higher open interest.
func (s *Scanner) selectBest(candidates []market.OptionContract, auto *types.Automation, now time.Time) (market.OptionContract, float64) {
	type scored struct {
		c     market.OptionContract
		score float64
	}
	list := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		list = append(list, scored{c: c, score: s.score(c, auto, now)})
	}
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].score != list[j].score {
			return list[i].score > list[j].score
		}
		si, sj := list[i].c.SpreadPct(), list[j].c.SpreadPct()
		if si != sj {
			return si < sj
		}
		return list[i].c.OpenInterest > list[j].c.OpenInterest
	})
	return list[0].c, list[0].score
}

// score is the weighted sum of four normalized factors in [0,1].
func (s *Scanner) score(c market.OptionContract, auto *types.Automation, now time.Time) float64 {
	liq := (clamp01(float64(c.Volume)/volumeNorm) + clamp01(float64(c.OpenInterest)/openInterestNorm)) / 2

	spreadCeiling := auto.MaxSpreadPct
	if spreadCeiling <= 0 {
		spreadCeiling = 0.10
	}
	spread := clamp01(1 - c.SpreadPct()/spreadCeiling)

	dteFit := rangeFit(float64(c.DTE(now)), float64(auto.DTEMin), float64(auto.DTEMax))
	deltaFit := rangeFit(c.Greeks.Delta, auto.DeltaMin, auto.DeltaMax)

	return s.weights.Liquidity*liq + s.weights.Spread*spread +
		s.weights.DTEFit*dteFit + s.weights.DeltaFit*deltaFit
}

// rangeFit scores 1.0 at the midpoint of [lo,hi] and decays linearly to 0 at
// the edges.
func rangeFit(v, lo, hi float64) float64 {
	if hi <= lo {
		return 1
	}
	mid := (lo + hi) / 2
	half := (hi - lo) / 2
	return clamp01(1 - abs(v-mid)/half)
}

func (s *Scanner) buildOrder(auto *types.Automation, c market.OptionContract, now time.Time) *types.TradeOrder {
	action := market.ActionBuy
	if auto.Strategy.PremiumSelling() {
		action = market.ActionSell
	}
	autoID := auto.ID
	return &types.TradeOrder{
		ID:           uuid.NewString(),
		UserID:       auto.UserID,
		Intent:       types.IntentOpen,
		Action:       action,
		Symbol:       auto.Symbol,
		Contract:     c,
		Quantity:     auto.Quantity,
		LimitPrice:   c.Mid(),
		AutomationID: &autoID,
		Reason:       fmt.Sprintf("%s entry", auto.Strategy),
		CreatedAt:    now,
	}
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
