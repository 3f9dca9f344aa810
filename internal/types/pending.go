package types

import "time"

// PendingOrder is the cross-cycle carry-over for execution-ambiguous orders:
// the broker response was a timeout/partial/unknown status, so the order is
// held for reconciliation instead of being assumed filled or failed.
type PendingOrder struct {
	ID            int64      `json:"id"`
	UserID        string     `json:"user_id"`
	Order         TradeOrder `json:"order"`
	BrokerOrderID string     `json:"broker_order_id,omitempty"`
	Attempts      int        `json:"attempts"`
	CreatedAt     time.Time  `json:"created_at"`
}
