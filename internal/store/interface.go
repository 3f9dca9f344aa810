// Package store persists engine entities. Each call is a transactional
// read-modify-write on one entity, keyed by user id and primary id.
package store

import (
	"context"
	"time"

	"wheelhouse/internal/types"
)

type Store interface {
	// Automations.
	ListAutomations(ctx context.Context, userID string) ([]types.Automation, error)
	GetAutomation(ctx context.Context, userID string, id int64) (types.Automation, error)
	SaveAutomation(ctx context.Context, a *types.Automation) error

	// Positions.
	ListOpenPositions(ctx context.Context, userID string) ([]types.Position, error)
	ListPositionsClosedSince(ctx context.Context, userID string, since time.Time) ([]types.Position, error)
	GetPosition(ctx context.Context, userID string, id int64) (types.Position, error)
	SavePosition(ctx context.Context, p *types.Position) error

	// Pending (execution-ambiguous) orders.
	ListPendingOrders(ctx context.Context, userID string) ([]types.PendingOrder, error)
	SavePendingOrder(ctx context.Context, p *types.PendingOrder) error
	DeletePendingOrder(ctx context.Context, userID string, id int64) error

	// Risk limits.
	GetRiskLimits(ctx context.Context, userID string) (types.RiskLimits, error)
	SaveRiskLimits(ctx context.Context, l *types.RiskLimits) error

	// Alerts.
	InsertAlert(ctx context.Context, a *types.Alert) error
	ListAlerts(ctx context.Context, userID string, activeOnly bool, limit int) ([]types.Alert, error)
	SetAlertStatus(ctx context.Context, userID string, id int64, status types.AlertStatus) error

	Close() error
}
