package market

import (
	"math"
	"time"
)

// Bar is one period of an OHLCV price history series.
type Bar struct {
	Time   int64   `json:"time"` // unix seconds, period open
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// Quote is a point-in-time price for an underlying symbol.
type Quote struct {
	Symbol string  `json:"symbol"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
	Last   float64 `json:"last"`
	Time   int64   `json:"time"`
}

// Greeks holds the option sensitivity snapshot returned by the broker.
type Greeks struct {
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
	Theta float64 `json:"theta"`
	Vega  float64 `json:"vega"`
}

type Right string

const (
	Call Right = "call"
	Put  Right = "put"
)

// OptionContract is one tradable contract from an option chain.
type OptionContract struct {
	Underlying   string    `json:"underlying"`
	OCCSymbol    string    `json:"occ_symbol"`
	Right        Right     `json:"right"`
	Strike       float64   `json:"strike"`
	Expiration   time.Time `json:"expiration"`
	Bid          float64   `json:"bid"`
	Ask          float64   `json:"ask"`
	Last         float64   `json:"last"`
	Volume       int64     `json:"volume"`
	OpenInterest int64     `json:"open_interest"`
	IV           float64   `json:"iv"`
	Greeks       Greeks    `json:"greeks"`
}

// Mid returns the bid/ask midpoint, falling back to whichever side exists.
func (c OptionContract) Mid() float64 {
	switch {
	case c.Bid > 0 && c.Ask > 0:
		return (c.Bid + c.Ask) / 2
	case c.Ask > 0:
		return c.Ask
	default:
		return c.Bid
	}
}

// SpreadPct returns the bid/ask spread as a fraction of the midpoint.
// Contracts with no two-sided market report 1.0 (untradeable).
func (c OptionContract) SpreadPct() float64 {
	mid := c.Mid()
	if mid <= 0 || c.Bid <= 0 || c.Ask <= 0 {
		return 1.0
	}
	return (c.Ask - c.Bid) / mid
}

// DTE returns whole days to expiration, never negative.
func (c OptionContract) DTE(now time.Time) int {
	d := int(math.Ceil(c.Expiration.Sub(now).Hours() / 24))
	if d < 0 {
		return 0
	}
	return d
}

// Expired reports whether the contract is past its expiration.
func (c OptionContract) Expired(now time.Time) bool {
	return now.After(c.Expiration)
}
