// Package signal combines technical signals and IV rank into one directional
// verdict per symbol.
package signal

import (
	"time"

	"wheelhouse/internal/types"
	"wheelhouse/internal/volatility"
)

// HoldFloor is the hard confidence floor: anything below it is hold,
// regardless of direction, to avoid trading noise.
const HoldFloor = 0.1

// IVBands define when IV rank adjusts confidence. Favorability depends on
// the strategy family: premium sellers want high IV, premium buyers low IV.
type IVBands struct {
	Low        float64 `mapstructure:"low"`        // rank below this is "low IV"
	High       float64 `mapstructure:"high"`       // rank above this is "high IV"
	Adjustment float64 `mapstructure:"adjustment"` // confidence delta applied
}

func DefaultIVBands() IVBands {
	return IVBands{Low: 0.3, High: 0.7, Adjustment: 0.1}
}

// Generator produces deterministic Signals: identical inputs always yield
// the identical (direction, confidence) pair.
type Generator struct {
	bands IVBands
	nowFn func() time.Time
}

func NewGenerator(bands IVBands) *Generator {
	if bands == (IVBands{}) {
		bands = DefaultIVBands()
	}
	return &Generator{bands: bands, nowFn: time.Now}
}

// Generate combines weighted technical votes with the IV-rank adjustment for
// the given strategy and returns the verdict.
func (g *Generator) Generate(symbol string, technicals []types.TechSignal, iv volatility.Rank, strategy types.Strategy) types.Signal {
	var net float64
	for _, s := range technicals {
		net += float64(s.Direction) * s.Weight
	}

	confidence := net
	if confidence < 0 {
		confidence = -confidence
	}

	if iv.OK {
		if favorableIV(iv.Rank, strategy, g.bands) {
			confidence += g.bands.Adjustment
		} else if unfavorableIV(iv.Rank, strategy, g.bands) {
			confidence -= g.bands.Adjustment
		}
	}
	confidence = clamp01(confidence)

	direction := types.SignalHold
	if confidence >= HoldFloor {
		switch {
		case net > 0:
			direction = types.SignalBuyCall
		case net < 0:
			direction = types.SignalBuyPut
		}
	}

	return types.Signal{
		Symbol:     symbol,
		Direction:  direction,
		Confidence: confidence,
		IVRank:     iv.Rank,
		IVRankOK:   iv.OK,
		Technicals: technicals,
		Generated:  g.nowFn(),
	}
}

func favorableIV(rank float64, strategy types.Strategy, b IVBands) bool {
	if strategy.PremiumSelling() {
		return rank >= b.High
	}
	return rank <= b.Low
}

func unfavorableIV(rank float64, strategy types.Strategy, b IVBands) bool {
	if strategy.PremiumSelling() {
		return rank <= b.Low
	}
	return rank >= b.High
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
