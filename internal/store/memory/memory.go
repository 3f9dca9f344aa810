// Package memory implements store.Store with in-process maps. Used by tests
// and by dev mode alongside the paper broker.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"gorm.io/gorm"

	"wheelhouse/internal/store"
	"wheelhouse/internal/types"
)

type Store struct {
	mu sync.Mutex

	automations map[int64]types.Automation
	positions   map[int64]types.Position
	pending     map[int64]types.PendingOrder
	limits      map[string]types.RiskLimits
	alerts      map[int64]types.Alert

	nextID int64
}

func New() *Store {
	return &Store{
		automations: make(map[int64]types.Automation),
		positions:   make(map[int64]types.Position),
		pending:     make(map[int64]types.PendingOrder),
		limits:      make(map[string]types.RiskLimits),
		alerts:      make(map[int64]types.Alert),
	}
}

var _ store.Store = (*Store)(nil)

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *Store) ListAutomations(_ context.Context, userID string) ([]types.Automation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.Automation
	for _, a := range s.automations {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetAutomation(_ context.Context, userID string, id int64) (types.Automation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.automations[id]
	if !ok || a.UserID != userID {
		return types.Automation{}, gorm.ErrRecordNotFound
	}
	return a, nil
}

func (s *Store) SaveAutomation(_ context.Context, a *types.Automation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == 0 {
		a.ID = s.id()
	} else if a.ID > s.nextID {
		s.nextID = a.ID
	}
	s.automations[a.ID] = *a
	return nil
}

func (s *Store) ListOpenPositions(_ context.Context, userID string) ([]types.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.Position
	for _, p := range s.positions {
		if p.UserID == userID && p.Status != types.PositionClosed {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ListPositionsClosedSince(_ context.Context, userID string, since time.Time) ([]types.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.Position
	for _, p := range s.positions {
		if p.UserID != userID || p.Status != types.PositionClosed {
			continue
		}
		if p.ClosedAt != nil && !p.ClosedAt.Before(since) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetPosition(_ context.Context, userID string, id int64) (types.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[id]
	if !ok || p.UserID != userID {
		return types.Position{}, gorm.ErrRecordNotFound
	}
	return p, nil
}

func (s *Store) SavePosition(_ context.Context, p *types.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == 0 {
		p.ID = s.id()
	} else if p.ID > s.nextID {
		s.nextID = p.ID
	}
	s.positions[p.ID] = *p
	return nil
}

func (s *Store) ListPendingOrders(_ context.Context, userID string) ([]types.PendingOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.PendingOrder
	for _, p := range s.pending {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) SavePendingOrder(_ context.Context, p *types.PendingOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == 0 {
		p.ID = s.id()
	} else if p.ID > s.nextID {
		s.nextID = p.ID
	}
	s.pending[p.ID] = *p
	return nil
}

func (s *Store) DeletePendingOrder(_ context.Context, userID string, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[id]
	if !ok || p.UserID != userID {
		return gorm.ErrRecordNotFound
	}
	delete(s.pending, id)
	return nil
}

func (s *Store) GetRiskLimits(_ context.Context, userID string) (types.RiskLimits, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limits[userID]
	if !ok {
		return types.RiskLimits{UserID: userID}, nil
	}
	return l, nil
}

func (s *Store) SaveRiskLimits(_ context.Context, l *types.RiskLimits) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limits[l.UserID] = *l
	return nil
}

func (s *Store) InsertAlert(_ context.Context, a *types.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == 0 {
		a.ID = s.id()
	}
	s.alerts[a.ID] = *a
	return nil
}

func (s *Store) ListAlerts(_ context.Context, userID string, activeOnly bool, limit int) ([]types.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.Alert
	for _, a := range s.alerts {
		if a.UserID != userID {
			continue
		}
		if activeOnly && a.Status != types.AlertActive {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) SetAlertStatus(_ context.Context, userID string, id int64, status types.AlertStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[id]
	if !ok || a.UserID != userID {
		return gorm.ErrRecordNotFound
	}
	a.Status = status
	s.alerts[id] = a
	return nil
}

func (s *Store) Close() error { return nil }
