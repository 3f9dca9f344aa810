package types

import (
	"fmt"
	"strings"
	"time"
)

// Strategy is the option strategy an automation trades.
type Strategy string

const (
	StrategyLongCall       Strategy = "long_call"
	StrategyLongPut        Strategy = "long_put"
	StrategyCoveredCall    Strategy = "covered_call"
	StrategyCashSecuredPut Strategy = "cash_secured_put"
)

// PremiumSelling reports whether the strategy collects premium, which flips
// the favorable IV-rank band in signal generation.
func (s Strategy) PremiumSelling() bool {
	return s == StrategyCoveredCall || s == StrategyCashSecuredPut
}

// Automation is a user-owned strategy configuration. The engine mutates only
// ExecutionCount/LastExecuted (and Paused on fatal configuration); everything
// else is user input validated at load time.
type Automation struct {
	ID     int64  `json:"id"`
	UserID string `json:"user_id"`
	Name   string `json:"name"`

	Symbol        string   `json:"symbol"`
	Strategy      Strategy `json:"strategy"`
	MinConfidence float64  `json:"min_confidence"`
	Quantity      int      `json:"quantity"`

	// Entry filters.
	DTEMin          int     `json:"dte_min"`
	DTEMax          int     `json:"dte_max"`
	DeltaMin        float64 `json:"delta_min"`
	DeltaMax        float64 `json:"delta_max"`
	MinVolume       int64   `json:"min_volume"`
	MinOpenInterest int64   `json:"min_open_interest"`
	MaxSpreadPct    float64 `json:"max_spread_pct"`

	// Exit parameters.
	ProfitTargetPct    float64 `json:"profit_target_pct"`
	ProfitTarget2Pct   float64 `json:"profit_target_2_pct"`
	Target2CloseRatio  float64 `json:"target_2_close_ratio"` // fraction closed at target 2, 1 = full
	StopLossPct        float64 `json:"stop_loss_pct"`
	MaxHoldDays        int     `json:"max_hold_days"`
	MinDTEExit         int     `json:"min_dte_exit"`
	TrailingTriggerPct float64 `json:"trailing_trigger_pct"` // 0 disables trailing
	TrailingStopPct    float64 `json:"trailing_stop_pct"`

	AllowMultiplePositions bool `json:"allow_multiple_positions"`

	Active bool `json:"active"`
	Paused bool `json:"paused"`

	ExecutionCount int        `json:"execution_count"`
	LastExecuted   *time.Time `json:"last_executed,omitempty"`
}

// Runnable reports whether the scanner should evaluate this automation.
func (a *Automation) Runnable() bool {
	return a != nil && a.Active && !a.Paused
}

// Validate enforces the closed-configuration contract: malformed parameters
// are the fatal-configuration error class and must never reach the scanner.
func (a *Automation) Validate() error {
	if strings.TrimSpace(a.Symbol) == "" {
		return fmt.Errorf("automation %q: symbol is required", a.Name)
	}
	switch a.Strategy {
	case StrategyLongCall, StrategyLongPut, StrategyCoveredCall, StrategyCashSecuredPut:
	default:
		return fmt.Errorf("automation %q: unknown strategy %q", a.Name, a.Strategy)
	}
	if a.MinConfidence < 0 || a.MinConfidence > 1 {
		return fmt.Errorf("automation %q: min_confidence must be in [0,1], got %v", a.Name, a.MinConfidence)
	}
	if a.Quantity <= 0 {
		return fmt.Errorf("automation %q: quantity must be positive, got %d", a.Name, a.Quantity)
	}
	if a.DTEMin < 0 || a.DTEMax < a.DTEMin {
		return fmt.Errorf("automation %q: invalid DTE range [%d,%d]", a.Name, a.DTEMin, a.DTEMax)
	}
	if a.DeltaMin < -1 || a.DeltaMax > 1 || a.DeltaMax < a.DeltaMin {
		return fmt.Errorf("automation %q: invalid delta range [%v,%v]", a.Name, a.DeltaMin, a.DeltaMax)
	}
	if a.MaxSpreadPct < 0 || a.MaxSpreadPct > 1 {
		return fmt.Errorf("automation %q: max_spread_pct must be in [0,1], got %v", a.Name, a.MaxSpreadPct)
	}
	if a.ProfitTargetPct < 0 || a.StopLossPct < 0 {
		return fmt.Errorf("automation %q: profit/stop percentages cannot be negative", a.Name)
	}
	if a.ProfitTarget2Pct > 0 && a.ProfitTarget2Pct < a.ProfitTargetPct {
		return fmt.Errorf("automation %q: profit_target_2_pct must be >= profit_target_pct", a.Name)
	}
	if a.Target2CloseRatio < 0 || a.Target2CloseRatio > 1 {
		return fmt.Errorf("automation %q: target_2_close_ratio must be in [0,1], got %v", a.Name, a.Target2CloseRatio)
	}
	if a.MaxHoldDays < 0 {
		return fmt.Errorf("automation %q: max_hold_days cannot be negative", a.Name)
	}
	if a.TrailingTriggerPct > 0 && a.TrailingStopPct <= 0 {
		return fmt.Errorf("automation %q: trailing_stop_pct required when trailing_trigger_pct is set", a.Name)
	}
	if a.TrailingStopPct >= a.TrailingTriggerPct && a.TrailingTriggerPct > 0 {
		return fmt.Errorf("automation %q: trailing_stop_pct must be below trailing_trigger_pct", a.Name)
	}
	return nil
}
