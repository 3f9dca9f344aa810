package types

import (
	"time"

	"wheelhouse/internal/market"
)

// TradeIntent distinguishes opening entries from closing exits. Exits reduce
// exposure and take a fast path through risk validation.
type TradeIntent string

const (
	IntentOpen  TradeIntent = "open"
	IntentClose TradeIntent = "close"
)

// TradeOrder is the transient request passed from scanner/monitor to the
// executor. Consumed and discarded once the broker returns a fill or failure.
type TradeOrder struct {
	ID           string                `json:"id"`
	UserID       string                `json:"user_id"`
	Intent       TradeIntent           `json:"intent"`
	Action       market.OrderAction    `json:"action"`
	Symbol       string                `json:"symbol"`
	Contract     market.OptionContract `json:"contract"`
	Quantity     int                   `json:"quantity"`
	LimitPrice   float64               `json:"limit_price"`
	AutomationID *int64                `json:"automation_id,omitempty"`
	PositionID   *int64                `json:"position_id,omitempty"`
	Reason       string                `json:"reason"`
	CreatedAt    time.Time             `json:"created_at"`
}

// RiskLimits are the per-user ceilings applied to every proposed trade.
// Read-only input to validation; only an explicit settings action changes it.
type RiskLimits struct {
	UserID                  string  `json:"user_id"`
	MaxPortfolioDelta       float64 `json:"max_portfolio_delta"`
	MaxPortfolioTheta       float64 `json:"max_portfolio_theta"` // absolute ceiling on negative theta
	MaxPortfolioVega        float64 `json:"max_portfolio_vega"`
	MaxPositionSizePct      float64 `json:"max_position_size_pct"`      // % of equity per position
	MaxPortfolioExposurePct float64 `json:"max_portfolio_exposure_pct"` // % of equity at risk in aggregate
	MaxOpenPositions        int     `json:"max_open_positions"`
	MaxDailyLossPct         float64 `json:"max_daily_loss_pct"`
}

// PortfolioSnapshot is read once at cycle start and treated as immutable for
// the duration of that cycle.
type PortfolioSnapshot struct {
	UserID        string        `json:"user_id"`
	Equity        float64       `json:"equity"`
	BuyingPower   float64       `json:"buying_power"`
	Open          []Position    `json:"open"`
	Greeks        market.Greeks `json:"greeks"`
	RealizedToday float64       `json:"realized_today"`
	TakenAt       time.Time     `json:"taken_at"`
}

// CapitalAtRisk sums the cost basis of all open positions.
func (s *PortfolioSnapshot) CapitalAtRisk() float64 {
	var total float64
	for i := range s.Open {
		if s.Open[i].Open() {
			total += s.Open[i].CostBasis()
		}
	}
	return total
}

// OpenCount returns the number of open positions, optionally scoped to one
// automation.
func (s *PortfolioSnapshot) OpenCount(automationID *int64) int {
	n := 0
	for i := range s.Open {
		p := &s.Open[i]
		if !p.Open() {
			continue
		}
		if automationID == nil {
			n++
			continue
		}
		if p.AutomationID != nil && *p.AutomationID == *automationID {
			n++
		}
	}
	return n
}
