package types

import "time"

// SignalDirection is the verdict of the signal generator for a symbol.
type SignalDirection string

const (
	SignalBuyCall SignalDirection = "buy_call"
	SignalBuyPut  SignalDirection = "buy_put"
	SignalHold    SignalDirection = "hold"
)

// TechSignal is one triggered technical pattern with its base weight.
// Direction is +1 bullish, -1 bearish.
type TechSignal struct {
	Name        string  `json:"name"`
	Direction   int     `json:"direction"`
	Weight      float64 `json:"weight"`
	Description string  `json:"description"`
	Value       float64 `json:"value,omitempty"`
}

// Signal is the combined directional verdict for a symbol. Ephemeral: it
// lives for the cycle that produced it unless elevated to an Alert.
type Signal struct {
	Symbol     string          `json:"symbol"`
	Direction  SignalDirection `json:"direction"`
	Confidence float64         `json:"confidence"`
	IVRank     float64         `json:"iv_rank"`
	IVRankOK   bool            `json:"iv_rank_ok"`
	Technicals []TechSignal    `json:"technicals"`
	Generated  time.Time       `json:"generated"`
}

// AlertPriority orders alerts for display and delivery.
type AlertPriority int

const (
	AlertInfo     AlertPriority = 0
	AlertWarning  AlertPriority = 1
	AlertCritical AlertPriority = 2
)

// AlertStatus is the acknowledge/dismiss lifecycle state.
type AlertStatus int

const (
	AlertActive       AlertStatus = 0
	AlertAcknowledged AlertStatus = 1
	AlertDismissed    AlertStatus = 2
)

func (s AlertStatus) String() string {
	switch s {
	case AlertActive:
		return "active"
	case AlertAcknowledged:
		return "acknowledged"
	case AlertDismissed:
		return "dismissed"
	default:
		return "unknown"
	}
}

// Alert is a persisted, user-facing event raised by the engine.
type Alert struct {
	ID        int64          `json:"id"`
	UserID    string         `json:"user_id"`
	Type      string         `json:"type"`
	Priority  AlertPriority  `json:"priority"`
	Symbol    string         `json:"symbol,omitempty"`
	Message   string         `json:"message"`
	Payload   map[string]any `json:"payload,omitempty"`
	Status    AlertStatus    `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
	ExpiresAt *time.Time     `json:"expires_at,omitempty"`
}
