// Package analysis computes technical indicator signals from a price history
// series. Short series degrade to fewer signals, never an error.
package analysis

import (
	"fmt"
	"math"

	"github.com/markcheno/go-talib"

	"wheelhouse/internal/market"
	"wheelhouse/internal/types"
)

// Minimum periods per indicator. A signal is only evaluated when its
// indicator has full coverage.
const (
	smaFastPeriod   = 20
	smaMidPeriod    = 50
	smaSlowPeriod   = 200
	rsiPeriod       = 14
	volumeAvgPeriod = 20
	macdSlowPeriod  = 26
	macdSignalSpan  = 35 // 26 + 9
	extremaLookback = 60
	extremaWing     = 2
)

const (
	rsiOversold      = 30.0
	rsiOverbought    = 70.0
	breakoutVolRatio = 1.5
	proximityPct     = 0.01 // within 1% counts as "near" a level
)

// Weights are the base confidence weights per pattern. Tunable pending
// calibration; defaults below.
type Weights struct {
	Cross       float64 `mapstructure:"cross"`
	RSI         float64 `mapstructure:"rsi"`
	MACD        float64 `mapstructure:"macd"`
	Breakout    float64 `mapstructure:"breakout"`
	Level       float64 `mapstructure:"level"`
	LongTrend   float64 `mapstructure:"long_trend"`
}

// DefaultWeights returns the calibration defaults.
func DefaultWeights() Weights {
	return Weights{
		Cross:     0.30,
		RSI:       0.25,
		MACD:      0.25,
		Breakout:  0.35,
		Level:     0.15,
		LongTrend: 0.10,
	}
}

// Analyzer turns bar series into weighted technical signal events.
type Analyzer struct {
	weights Weights
}

func NewAnalyzer(w Weights) *Analyzer {
	if w == (Weights{}) {
		w = DefaultWeights()
	}
	return &Analyzer{weights: w}
}

// Analyze evaluates every pattern with enough data and returns the triggered
// signals. An empty slice for quiet or short series; never an error.
func (a *Analyzer) Analyze(bars []market.Bar) []types.TechSignal {
	n := len(bars)
	if n < 2 {
		return nil
	}
	closes := make([]float64, n)
	highs := make([]float64, n)
	lows := make([]float64, n)
	volumes := make([]float64, n)
	for i, b := range bars {
		closes[i] = b.Close
		highs[i] = b.High
		lows[i] = b.Low
		volumes[i] = b.Volume
	}
	lastClose := closes[n-1]

	var out []types.TechSignal
	out = append(out, a.crossSignals(closes)...)
	out = append(out, a.rsiSignals(closes)...)
	out = append(out, a.macdSignals(closes)...)

	// Levels come from bars before the latest one so the current close can
	// register as a break of a prior level.
	volRatio := volumeRatio(volumes)
	support, resistance := NearestLevels(highs[:n-1], lows[:n-1], closes[n-2])
	out = append(out, a.levelSignals(lastClose, support, resistance, volRatio)...)
	out = append(out, a.trendSignals(closes)...)
	return out
}

func (a *Analyzer) crossSignals(closes []float64) []types.TechSignal {
	if len(closes) < smaMidPeriod+1 {
		return nil
	}
	fast := talib.Sma(closes, smaFastPeriod)
	mid := talib.Sma(closes, smaMidPeriod)
	i := len(closes) - 1
	prevDiff := fast[i-1] - mid[i-1]
	currDiff := fast[i] - mid[i]
	switch {
	case prevDiff <= 0 && currDiff > 0:
		return []types.TechSignal{{
			Name:        "golden_cross",
			Direction:   +1,
			Weight:      a.weights.Cross,
			Description: fmt.Sprintf("SMA%d crossed above SMA%d", smaFastPeriod, smaMidPeriod),
			Value:       currDiff,
		}}
	case prevDiff >= 0 && currDiff < 0:
		return []types.TechSignal{{
			Name:        "death_cross",
			Direction:   -1,
			Weight:      a.weights.Cross,
			Description: fmt.Sprintf("SMA%d crossed below SMA%d", smaFastPeriod, smaMidPeriod),
			Value:       currDiff,
		}}
	}
	return nil
}

func (a *Analyzer) rsiSignals(closes []float64) []types.TechSignal {
	if len(closes) < rsiPeriod+1 {
		return nil
	}
	series := talib.Rsi(closes, rsiPeriod)
	val := series[len(series)-1]
	switch {
	case val <= rsiOversold:
		return []types.TechSignal{{
			Name:        "rsi_oversold",
			Direction:   +1,
			Weight:      a.weights.RSI,
			Description: fmt.Sprintf("RSI(%d)=%.1f below %.0f", rsiPeriod, val, rsiOversold),
			Value:       val,
		}}
	case val >= rsiOverbought:
		return []types.TechSignal{{
			Name:        "rsi_overbought",
			Direction:   -1,
			Weight:      a.weights.RSI,
			Description: fmt.Sprintf("RSI(%d)=%.1f above %.0f", rsiPeriod, val, rsiOverbought),
			Value:       val,
		}}
	}
	return nil
}

func (a *Analyzer) macdSignals(closes []float64) []types.TechSignal {
	if len(closes) < macdSignalSpan+1 {
		return nil
	}
	macd, signal, _ := talib.Macd(closes, 12, macdSlowPeriod, 9)
	i := len(closes) - 1
	prev := macd[i-1] - signal[i-1]
	curr := macd[i] - signal[i]
	switch {
	case prev <= 0 && curr > 0:
		return []types.TechSignal{{
			Name:        "macd_bullish_cross",
			Direction:   +1,
			Weight:      a.weights.MACD,
			Description: "MACD crossed above signal line",
			Value:       curr,
		}}
	case prev >= 0 && curr < 0:
		return []types.TechSignal{{
			Name:        "macd_bearish_cross",
			Direction:   -1,
			Weight:      a.weights.MACD,
			Description: "MACD crossed below signal line",
			Value:       curr,
		}}
	}
	return nil
}

func (a *Analyzer) levelSignals(lastClose, support, resistance, volRatio float64) []types.TechSignal {
	var out []types.TechSignal
	if resistance > 0 && lastClose > resistance && volRatio >= breakoutVolRatio {
		out = append(out, types.TechSignal{
			Name:        "high_volume_breakout",
			Direction:   +1,
			Weight:      a.weights.Breakout,
			Description: fmt.Sprintf("close %.2f broke resistance %.2f on %.1fx volume", lastClose, resistance, volRatio),
			Value:       volRatio,
		})
	}
	if support > 0 && lastClose < support && volRatio >= breakoutVolRatio {
		out = append(out, types.TechSignal{
			Name:        "high_volume_breakdown",
			Direction:   -1,
			Weight:      a.weights.Breakout,
			Description: fmt.Sprintf("close %.2f broke support %.2f on %.1fx volume", lastClose, support, volRatio),
			Value:       volRatio,
		})
	}
	if support > 0 && lastClose >= support && (lastClose-support)/support <= proximityPct {
		out = append(out, types.TechSignal{
			Name:        "near_support",
			Direction:   +1,
			Weight:      a.weights.Level,
			Description: fmt.Sprintf("close %.2f holding support %.2f", lastClose, support),
			Value:       support,
		})
	}
	if resistance > 0 && lastClose <= resistance && (resistance-lastClose)/resistance <= proximityPct {
		out = append(out, types.TechSignal{
			Name:        "near_resistance",
			Direction:   -1,
			Weight:      a.weights.Level,
			Description: fmt.Sprintf("close %.2f pressing resistance %.2f", lastClose, resistance),
			Value:       resistance,
		})
	}
	return out
}

func (a *Analyzer) trendSignals(closes []float64) []types.TechSignal {
	if len(closes) < smaSlowPeriod {
		return nil
	}
	slow := talib.Sma(closes, smaSlowPeriod)
	val := slow[len(slow)-1]
	last := closes[len(closes)-1]
	if val <= 0 {
		return nil
	}
	if last > val {
		return []types.TechSignal{{
			Name:        "above_sma200",
			Direction:   +1,
			Weight:      a.weights.LongTrend,
			Description: fmt.Sprintf("price %.2f above SMA%d %.2f", last, smaSlowPeriod, val),
			Value:       val,
		}}
	}
	return []types.TechSignal{{
		Name:        "below_sma200",
		Direction:   -1,
		Weight:      a.weights.LongTrend,
		Description: fmt.Sprintf("price %.2f below SMA%d %.2f", last, smaSlowPeriod, val),
		Value:       val,
	}}
}

// volumeRatio compares the latest volume to the trailing 20-period average
// (excluding the latest bar). Returns 0 when coverage is short.
func volumeRatio(volumes []float64) float64 {
	n := len(volumes)
	if n < volumeAvgPeriod+1 {
		return 0
	}
	var sum float64
	for _, v := range volumes[n-1-volumeAvgPeriod : n-1] {
		sum += v
	}
	avg := sum / volumeAvgPeriod
	if avg <= 0 {
		return 0
	}
	return volumes[n-1] / avg
}

// NearestLevels finds the closest support below and resistance above the
// last close from local extrema in the recent window. Either may be 0 when
// no qualifying extremum exists.
func NearestLevels(highs, lows []float64, lastClose float64) (support, resistance float64) {
	n := len(highs)
	start := n - extremaLookback
	if start < extremaWing {
		start = extremaWing
	}
	resistance = math.Inf(1)
	support = math.Inf(-1)
	for i := start; i < n-extremaWing; i++ {
		if localMax(highs, i) && highs[i] > lastClose && highs[i] < resistance {
			resistance = highs[i]
		}
		if localMin(lows, i) && lows[i] < lastClose && lows[i] > support {
			support = lows[i]
		}
	}
	if math.IsInf(resistance, 1) {
		resistance = 0
	}
	if math.IsInf(support, -1) {
		support = 0
	}
	return support, resistance
}

func localMax(series []float64, i int) bool {
	for w := 1; w <= extremaWing; w++ {
		if series[i] < series[i-w] || series[i] < series[i+w] {
			return false
		}
	}
	return true
}

func localMin(series []float64, i int) bool {
	for w := 1; w <= extremaWing; w++ {
		if series[i] > series[i-w] || series[i] > series[i+w] {
			return false
		}
	}
	return true
}
