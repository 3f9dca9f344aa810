package types

import (
	"time"

	"wheelhouse/internal/market"
)

// DiagnosticOutcome classifies what a scan cycle did for one automation.
type DiagnosticOutcome string

const (
	OutcomeProposed DiagnosticOutcome = "proposed"
	OutcomeBlocked  DiagnosticOutcome = "blocked"
	OutcomeSkipped  DiagnosticOutcome = "skipped"
	OutcomeError    DiagnosticOutcome = "error"
)

// Canonical block/skip reasons. These are the user-facing explanation of why
// an automation did or did not trade; keep the strings stable.
const (
	ReasonConfidenceTooLow    = "confidence too low"
	ReasonPositionAlreadyOpen = "position already open"
	ReasonNoContracts         = "no contracts passed filters"
	ReasonSignalHold          = "signal is hold"
	ReasonDirectionMismatch   = "signal direction does not fit strategy"
	ReasonBrokerTimeout       = "broker timeout"
	ReasonMarketClosed        = "market closed"
	ReasonBreakerOpen         = "broker circuit open"
)

// Diagnostic explains one automation's scan result for one cycle. A
// first-class output of the scanner, persisted so users can audit decisions.
type Diagnostic struct {
	ID           int64                  `json:"id"`
	TraceID      string                 `json:"trace_id"` // cycle trace, uuid
	UserID       string                 `json:"user_id"`
	AutomationID int64                  `json:"automation_id"`
	Symbol       string                 `json:"symbol"`
	Outcome      DiagnosticOutcome      `json:"outcome"`
	Reason       string                 `json:"reason"`
	Confidence   float64                `json:"confidence"`
	Direction    SignalDirection        `json:"direction,omitempty"`
	Candidate    *market.OptionContract `json:"candidate,omitempty"`
	Score        float64                `json:"score,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
}
