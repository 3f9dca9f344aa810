// Package volatility ranks current implied volatility within its trailing
// history.
package volatility

// DefaultMinSamples is the floor below which ranking reports insufficient
// data. Callers must treat that as neutral, not as a signal.
const DefaultMinSamples = 20

// Rank is the normalized position of current IV in its history. OK is false
// when the history is too short to rank; Rank and Percentile are then 0.
type Rank struct {
	Rank       float64 `json:"rank"`       // (current-min)/(max-min), [0,1]
	Percentile float64 `json:"percentile"` // fraction of samples below current, [0,1]
	Samples    int     `json:"samples"`
	OK         bool    `json:"ok"`
}

// Ranker computes IV rank/percentile over a rolling window.
type Ranker struct {
	minSamples int
}

func NewRanker(minSamples int) *Ranker {
	if minSamples <= 0 {
		minSamples = DefaultMinSamples
	}
	return &Ranker{minSamples: minSamples}
}

// Compute ranks current against history. Non-positive samples are ignored.
func (r *Ranker) Compute(current float64, history []float64) Rank {
	if current <= 0 {
		return Rank{}
	}
	clean := make([]float64, 0, len(history))
	for _, v := range history {
		if v > 0 {
			clean = append(clean, v)
		}
	}
	if len(clean) < r.minSamples {
		return Rank{Samples: len(clean)}
	}
	min, max := clean[0], clean[0]
	below := 0
	for _, v := range clean {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
		if v < current {
			below++
		}
	}
	out := Rank{Samples: len(clean), OK: true}
	if max > min {
		out.Rank = clamp01((current - min) / (max - min))
	} else if current >= max {
		out.Rank = 1
	}
	out.Percentile = float64(below) / float64(len(clean))
	return out
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
