package market

import (
	"context"
	"errors"
	"time"
)

// OrderAction is the direction of a brokerage order.
type OrderAction string

const (
	ActionBuy  OrderAction = "buy"
	ActionSell OrderAction = "sell"
)

// OrderStatus is the broker-reported state of a placed order.
type OrderStatus string

const (
	OrderFilled   OrderStatus = "filled"
	OrderPending  OrderStatus = "pending"
	OrderRejected OrderStatus = "rejected"
)

// OrderRequest is what the engine hands to the brokerage capability.
type OrderRequest struct {
	ID         string         `json:"id"` // client order id, uuid
	Action     OrderAction    `json:"action"`
	Symbol     string         `json:"symbol"`
	Contract   OptionContract `json:"contract"`
	Quantity   int            `json:"quantity"`
	LimitPrice float64        `json:"limit_price"` // 0 means market
}

// OrderResult is the broker's answer to PlaceOrder/OrderStatus.
type OrderResult struct {
	BrokerOrderID string      `json:"broker_order_id"`
	Status        OrderStatus `json:"status"`
	FillPrice     float64     `json:"fill_price"`
	FilledQty     int         `json:"filled_qty"`
	Reason        string      `json:"reason,omitempty"`
}

// ErrBrokerTimeout marks a transport failure against the brokerage. Callers
// treat it as transient: skip the affected automation this cycle, retry next.
var ErrBrokerTimeout = errors.New("broker request timed out")

// ErrOrderUnknown marks an ambiguous placement outcome. The order must be
// held as pending verification, never assumed filled or failed.
var ErrOrderUnknown = errors.New("order status unknown")

// Broker is the external brokerage capability consumed by the engine.
// All calls are synchronous with a bounded timeout taken from ctx.
type Broker interface {
	GetQuote(ctx context.Context, symbol string) (Quote, error)
	GetPriceHistory(ctx context.Context, symbol string, lookback int) ([]Bar, error)
	GetOptionChain(ctx context.Context, symbol string) ([]OptionContract, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	OrderStatus(ctx context.Context, brokerOrderID string) (OrderResult, error)
}

// HistoryLookback is the default number of daily bars requested for
// indicator coverage; SMA200 needs at least 200.
const HistoryLookback = 250

// CallTimeout bounds a single brokerage call.
const CallTimeout = 10 * time.Second
