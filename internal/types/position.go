package types

import (
	"time"

	"wheelhouse/internal/market"
)

// PositionStatus is the lifecycle state of a holding.
type PositionStatus int

const (
	PositionCooldown   PositionStatus = 0
	PositionMonitoring PositionStatus = 1
	PositionClosed     PositionStatus = 2
)

func (s PositionStatus) String() string {
	switch s {
	case PositionCooldown:
		return "cooldown"
	case PositionMonitoring:
		return "monitoring"
	case PositionClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// CooldownWindow is the fixed delay after position creation during which
// price refresh and exit evaluation are suspended. Guards against false
// exits on stale first-tick data.
const CooldownWindow = 5 * time.Minute

// Position is one open or closed option holding.
type Position struct {
	ID           int64  `json:"id"`
	UserID       string `json:"user_id"`
	AutomationID *int64 `json:"automation_id,omitempty"` // nil for manual trades

	Symbol   string                `json:"symbol"`
	Contract market.OptionContract `json:"contract"`
	Quantity int                   `json:"quantity"`

	EntryPrice float64   `json:"entry_price"`
	EntryTime  time.Time `json:"entry_time"`

	Status       PositionStatus `json:"status"`
	CurrentPrice float64        `json:"current_price"`
	HighWater    float64        `json:"high_water"` // best price seen, trailing-stop anchor
	Greeks       market.Greeks  `json:"greeks"`

	RealizedPL    float64    `json:"realized_pl"`
	DayRealizedPL float64    `json:"day_realized_pl"`
	DayRealizedAt *time.Time `json:"day_realized_at,omitempty"`
	UnrealizedPL  float64    `json:"unrealized_pl"`
	ClosedAt      *time.Time `json:"closed_at,omitempty"`
	CloseReason   string     `json:"close_reason,omitempty"`
}

// AddRealized books closing P/L. The day bucket feeds the daily-loss ceiling;
// it resets on the first realization of a new calendar day so partial closes
// from prior days never count against today.
func (p *Position) AddRealized(pl float64, now time.Time) {
	p.RealizedPL += pl
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if p.DayRealizedAt == nil || p.DayRealizedAt.Before(midnight) {
		p.DayRealizedPL = 0
	}
	p.DayRealizedPL += pl
	t := now
	p.DayRealizedAt = &t
}

// InCooldown reports whether exit evaluation is still suspended at now.
func (p *Position) InCooldown(now time.Time) bool {
	return now.Before(p.EntryTime.Add(CooldownWindow))
}

// Open reports whether the position still holds contracts.
func (p *Position) Open() bool {
	return p.Status != PositionClosed
}

// CostBasis is the capital committed to the position (premium * 100/contract).
func (p *Position) CostBasis() float64 {
	return p.EntryPrice * float64(p.Quantity) * 100
}

// GainPct is the unrealized gain as a percentage of entry price.
func (p *Position) GainPct() float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	return (p.CurrentPrice - p.EntryPrice) / p.EntryPrice * 100
}

// HoldDays is the whole number of days the position has been open.
func (p *Position) HoldDays(now time.Time) int {
	return int(now.Sub(p.EntryTime).Hours() / 24)
}
