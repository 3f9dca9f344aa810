package model

import (
	"gorm.io/datatypes"
)

type AutomationModel struct {
	ID     int64  `gorm:"column:id;primaryKey"`
	UserID string `gorm:"column:user_id;index"`
	Name   string `gorm:"column:name"`

	Symbol        string  `gorm:"column:symbol"`
	Strategy      string  `gorm:"column:strategy"`
	MinConfidence float64 `gorm:"column:min_confidence"`
	Quantity      int     `gorm:"column:quantity"`

	DTEMin          int     `gorm:"column:dte_min"`
	DTEMax          int     `gorm:"column:dte_max"`
	DeltaMin        float64 `gorm:"column:delta_min"`
	DeltaMax        float64 `gorm:"column:delta_max"`
	MinVolume       int64   `gorm:"column:min_volume"`
	MinOpenInterest int64   `gorm:"column:min_open_interest"`
	MaxSpreadPct    float64 `gorm:"column:max_spread_pct"`

	ProfitTargetPct    float64 `gorm:"column:profit_target_pct"`
	ProfitTarget2Pct   float64 `gorm:"column:profit_target_2_pct"`
	Target2CloseRatio  float64 `gorm:"column:target_2_close_ratio"`
	StopLossPct        float64 `gorm:"column:stop_loss_pct"`
	MaxHoldDays        int     `gorm:"column:max_hold_days"`
	MinDTEExit         int     `gorm:"column:min_dte_exit"`
	TrailingTriggerPct float64 `gorm:"column:trailing_trigger_pct"`
	TrailingStopPct    float64 `gorm:"column:trailing_stop_pct"`

	AllowMultiplePositions bool `gorm:"column:allow_multiple_positions"`
	Active                 bool `gorm:"column:active"`
	Paused                 bool `gorm:"column:paused"`

	ExecutionCount int    `gorm:"column:execution_count"`
	LastExecuted   *int64 `gorm:"column:last_executed"`

	CreatedAtUnix int64 `gorm:"column:created_at"`
	UpdatedAtUnix int64 `gorm:"column:updated_at"`
}

func (AutomationModel) TableName() string { return "automations" }

type PositionModel struct {
	ID           int64  `gorm:"column:id;primaryKey"`
	UserID       string `gorm:"column:user_id;index"`
	AutomationID *int64 `gorm:"column:automation_id;index"`

	Symbol     string  `gorm:"column:symbol"`
	Right      string  `gorm:"column:right"`
	Strike     float64 `gorm:"column:strike"`
	Expiration int64   `gorm:"column:expiration"` // unix seconds
	OCCSymbol  string  `gorm:"column:occ_symbol"`
	Quantity   int     `gorm:"column:quantity"`

	EntryPrice float64 `gorm:"column:entry_price"`
	EntryUnix  int64   `gorm:"column:entry_time"`

	Status       int            `gorm:"column:status;index"`
	CurrentPrice float64        `gorm:"column:current_price"`
	HighWater    float64        `gorm:"column:high_water"`
	GreeksJSON   datatypes.JSON `gorm:"column:greeks_json;type:TEXT"`

	RealizedPL      float64 `gorm:"column:realized_pl"`
	DayRealizedPL   float64 `gorm:"column:day_realized_pl"`
	DayRealizedUnix *int64  `gorm:"column:day_realized_at"`
	UnrealizedPL    float64 `gorm:"column:unrealized_pl"`
	ClosedAtUnix    *int64  `gorm:"column:closed_at"`
	CloseReason     string  `gorm:"column:close_reason"`

	CreatedAtUnix int64 `gorm:"column:created_at"`
	UpdatedAtUnix int64 `gorm:"column:updated_at"`
}

func (PositionModel) TableName() string { return "positions" }

type PendingOrderModel struct {
	ID            int64          `gorm:"column:id;primaryKey"`
	UserID        string         `gorm:"column:user_id;index"`
	OrderJSON     datatypes.JSON `gorm:"column:order_json;type:TEXT"`
	BrokerOrderID string         `gorm:"column:broker_order_id"`
	Attempts      int            `gorm:"column:attempts"`
	CreatedAtUnix int64          `gorm:"column:created_at"`
}

func (PendingOrderModel) TableName() string { return "pending_orders" }

type RiskLimitsModel struct {
	UserID                  string  `gorm:"column:user_id;primaryKey"`
	MaxPortfolioDelta       float64 `gorm:"column:max_portfolio_delta"`
	MaxPortfolioTheta       float64 `gorm:"column:max_portfolio_theta"`
	MaxPortfolioVega        float64 `gorm:"column:max_portfolio_vega"`
	MaxPositionSizePct      float64 `gorm:"column:max_position_size_pct"`
	MaxPortfolioExposurePct float64 `gorm:"column:max_portfolio_exposure_pct"`
	MaxOpenPositions        int     `gorm:"column:max_open_positions"`
	MaxDailyLossPct         float64 `gorm:"column:max_daily_loss_pct"`
	UpdatedAtUnix           int64   `gorm:"column:updated_at"`
}

func (RiskLimitsModel) TableName() string { return "risk_limits" }

type AlertModel struct {
	ID            int64          `gorm:"column:id;primaryKey"`
	UserID        string         `gorm:"column:user_id;index"`
	Type          string         `gorm:"column:type"`
	Priority      int            `gorm:"column:priority"`
	Symbol        string         `gorm:"column:symbol"`
	Message       string         `gorm:"column:message"`
	PayloadJSON   datatypes.JSON `gorm:"column:payload_json;type:TEXT"`
	Status        int            `gorm:"column:status;index"`
	CreatedAtUnix int64          `gorm:"column:created_at"`
	ExpiresAtUnix *int64         `gorm:"column:expires_at"`
}

func (AlertModel) TableName() string { return "alerts" }
