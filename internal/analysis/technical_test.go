package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"wheelhouse/internal/market"
)

func flatBars(n int, close, volume float64) []market.Bar {
	bars := make([]market.Bar, n)
	for i := range bars {
		bars[i] = market.Bar{
			Time:   int64(i) * 86400,
			Open:   close,
			High:   close + 0.5,
			Low:    close - 0.5,
			Close:  close,
			Volume: volume,
		}
	}
	return bars
}

func names(t *testing.T, a *Analyzer, bars []market.Bar) []string {
	t.Helper()
	var out []string
	for _, s := range a.Analyze(bars) {
		out = append(out, s.Name)
	}
	return out
}

func TestAnalyzeShortSeriesNeverErrors(t *testing.T) {
	a := NewAnalyzer(DefaultWeights())
	for _, n := range []int{0, 1, 5, 19, 49} {
		assert.NotPanics(t, func() { a.Analyze(flatBars(n, 100, 1000)) }, "n=%d", n)
	}
}

func TestLongTrendRequiresFullCoverage(t *testing.T) {
	a := NewAnalyzer(DefaultWeights())

	rising := func(n int) []market.Bar {
		bars := flatBars(n, 100, 1000)
		for i := range bars {
			c := 100 + float64(i)*0.1
			bars[i].Close = c
			bars[i].High = c + 0.5
			bars[i].Low = c - 0.5
		}
		return bars
	}

	assert.NotContains(t, names(t, a, rising(150)), "above_sma200")
	assert.NotContains(t, names(t, a, rising(150)), "below_sma200")
	assert.Contains(t, names(t, a, rising(250)), "above_sma200")
}

func TestRSIOversoldOnDecline(t *testing.T) {
	a := NewAnalyzer(DefaultWeights())
	bars := flatBars(40, 100, 1000)
	for i := range bars {
		c := 100 - float64(i)*1.5
		bars[i].Close = c
		bars[i].High = c + 0.2
		bars[i].Low = c - 0.2
	}
	found := false
	for _, s := range a.Analyze(bars) {
		if s.Name == "rsi_oversold" {
			found = true
			assert.Equal(t, +1, s.Direction)
			assert.InDelta(t, DefaultWeights().RSI, s.Weight, 1e-9)
		}
	}
	assert.True(t, found, "declining series should trigger rsi_oversold")
}

func TestHighVolumeBreakout(t *testing.T) {
	a := NewAnalyzer(DefaultWeights())
	bars := flatBars(60, 100, 1000)
	// A clear prior peak, then the final bar breaks it on double volume.
	bars[50].High = 110
	last := len(bars) - 1
	bars[last].Close = 111
	bars[last].High = 111.5
	bars[last].Volume = 2000

	got := names(t, a, bars)
	assert.Contains(t, got, "high_volume_breakout")
}

func TestNearestLevels(t *testing.T) {
	highs := []float64{100, 100, 110, 100, 100, 100, 100, 105, 100, 100}
	lows := []float64{95, 95, 95, 95, 90, 95, 95, 95, 95, 95}

	support, resistance := NearestLevels(highs, lows, 100)
	assert.Equal(t, 90.0, support)
	assert.Equal(t, 105.0, resistance)

	// No extremum above the reference: resistance reported as 0.
	support, resistance = NearestLevels(lows, lows, 200)
	assert.Equal(t, 0.0, resistance)
	assert.Equal(t, 95.0, support)
}
