package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"wheelhouse/internal/market"
	"wheelhouse/internal/store/model"
	"wheelhouse/internal/types"
)

// --- automations ---

func (s *SqliteStore) ListAutomations(ctx context.Context, userID string) ([]types.Automation, error) {
	var rows []model.AutomationModel
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]types.Automation, 0, len(rows))
	for i := range rows {
		out = append(out, automationFromModel(&rows[i]))
	}
	return out, nil
}

func (s *SqliteStore) GetAutomation(ctx context.Context, userID string, id int64) (types.Automation, error) {
	var row model.AutomationModel
	err := s.db.WithContext(ctx).Where("user_id = ? AND id = ?", userID, id).First(&row).Error
	if err != nil {
		return types.Automation{}, err
	}
	return automationFromModel(&row), nil
}

func (s *SqliteStore) SaveAutomation(ctx context.Context, a *types.Automation) error {
	row := automationToModel(a)
	row.UpdatedAtUnix = time.Now().Unix()
	if row.CreatedAtUnix == 0 {
		row.CreatedAtUnix = row.UpdatedAtUnix
	}
	if err := s.db.WithContext(ctx).Save(row).Error; err != nil {
		return err
	}
	a.ID = row.ID
	return nil
}

func automationFromModel(m *model.AutomationModel) types.Automation {
	a := types.Automation{
		ID:                     m.ID,
		UserID:                 m.UserID,
		Name:                   m.Name,
		Symbol:                 m.Symbol,
		Strategy:               types.Strategy(m.Strategy),
		MinConfidence:          m.MinConfidence,
		Quantity:               m.Quantity,
		DTEMin:                 m.DTEMin,
		DTEMax:                 m.DTEMax,
		DeltaMin:               m.DeltaMin,
		DeltaMax:               m.DeltaMax,
		MinVolume:              m.MinVolume,
		MinOpenInterest:        m.MinOpenInterest,
		MaxSpreadPct:           m.MaxSpreadPct,
		ProfitTargetPct:        m.ProfitTargetPct,
		ProfitTarget2Pct:       m.ProfitTarget2Pct,
		Target2CloseRatio:      m.Target2CloseRatio,
		StopLossPct:            m.StopLossPct,
		MaxHoldDays:            m.MaxHoldDays,
		MinDTEExit:             m.MinDTEExit,
		TrailingTriggerPct:     m.TrailingTriggerPct,
		TrailingStopPct:        m.TrailingStopPct,
		AllowMultiplePositions: m.AllowMultiplePositions,
		Active:                 m.Active,
		Paused:                 m.Paused,
		ExecutionCount:         m.ExecutionCount,
	}
	if m.LastExecuted != nil {
		t := time.Unix(*m.LastExecuted, 0)
		a.LastExecuted = &t
	}
	return a
}

func automationToModel(a *types.Automation) *model.AutomationModel {
	m := &model.AutomationModel{
		ID:                     a.ID,
		UserID:                 a.UserID,
		Name:                   a.Name,
		Symbol:                 a.Symbol,
		Strategy:               string(a.Strategy),
		MinConfidence:          a.MinConfidence,
		Quantity:               a.Quantity,
		DTEMin:                 a.DTEMin,
		DTEMax:                 a.DTEMax,
		DeltaMin:               a.DeltaMin,
		DeltaMax:               a.DeltaMax,
		MinVolume:              a.MinVolume,
		MinOpenInterest:        a.MinOpenInterest,
		MaxSpreadPct:           a.MaxSpreadPct,
		ProfitTargetPct:        a.ProfitTargetPct,
		ProfitTarget2Pct:       a.ProfitTarget2Pct,
		Target2CloseRatio:      a.Target2CloseRatio,
		StopLossPct:            a.StopLossPct,
		MaxHoldDays:            a.MaxHoldDays,
		MinDTEExit:             a.MinDTEExit,
		TrailingTriggerPct:     a.TrailingTriggerPct,
		TrailingStopPct:        a.TrailingStopPct,
		AllowMultiplePositions: a.AllowMultiplePositions,
		Active:                 a.Active,
		Paused:                 a.Paused,
		ExecutionCount:         a.ExecutionCount,
	}
	if a.LastExecuted != nil {
		u := a.LastExecuted.Unix()
		m.LastExecuted = &u
	}
	return m
}

// --- positions ---

func (s *SqliteStore) ListOpenPositions(ctx context.Context, userID string) ([]types.Position, error) {
	var rows []model.PositionModel
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND status <> ?", userID, int(types.PositionClosed)).
		Order("id").Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]types.Position, 0, len(rows))
	for i := range rows {
		p, err := positionFromModel(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *SqliteStore) ListPositionsClosedSince(ctx context.Context, userID string, since time.Time) ([]types.Position, error) {
	var rows []model.PositionModel
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND status = ? AND closed_at >= ?", userID, int(types.PositionClosed), since.Unix()).
		Order("id").Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]types.Position, 0, len(rows))
	for i := range rows {
		p, err := positionFromModel(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *SqliteStore) GetPosition(ctx context.Context, userID string, id int64) (types.Position, error) {
	var row model.PositionModel
	err := s.db.WithContext(ctx).Where("user_id = ? AND id = ?", userID, id).First(&row).Error
	if err != nil {
		return types.Position{}, err
	}
	return positionFromModel(&row)
}

func (s *SqliteStore) SavePosition(ctx context.Context, p *types.Position) error {
	row, err := positionToModel(p)
	if err != nil {
		return err
	}
	row.UpdatedAtUnix = time.Now().Unix()
	if row.CreatedAtUnix == 0 {
		row.CreatedAtUnix = row.UpdatedAtUnix
	}
	if err := s.db.WithContext(ctx).Save(row).Error; err != nil {
		return err
	}
	p.ID = row.ID
	return nil
}

func positionFromModel(m *model.PositionModel) (types.Position, error) {
	var greeks market.Greeks
	if len(m.GreeksJSON) > 0 {
		if err := json.Unmarshal(m.GreeksJSON, &greeks); err != nil {
			return types.Position{}, fmt.Errorf("position %d: bad greeks json: %w", m.ID, err)
		}
	}
	p := types.Position{
		ID:           m.ID,
		UserID:       m.UserID,
		AutomationID: m.AutomationID,
		Symbol:       m.Symbol,
		Contract: market.OptionContract{
			Underlying: m.Symbol,
			OCCSymbol:  m.OCCSymbol,
			Right:      market.Right(m.Right),
			Strike:     m.Strike,
			Expiration: time.Unix(m.Expiration, 0).UTC(),
			Greeks:     greeks,
		},
		Quantity:      m.Quantity,
		EntryPrice:    m.EntryPrice,
		EntryTime:     time.Unix(m.EntryUnix, 0).UTC(),
		Status:        types.PositionStatus(m.Status),
		CurrentPrice:  m.CurrentPrice,
		HighWater:     m.HighWater,
		Greeks:        greeks,
		RealizedPL:    m.RealizedPL,
		DayRealizedPL: m.DayRealizedPL,
		UnrealizedPL:  m.UnrealizedPL,
		CloseReason:   m.CloseReason,
	}
	if m.DayRealizedUnix != nil {
		t := time.Unix(*m.DayRealizedUnix, 0).UTC()
		p.DayRealizedAt = &t
	}
	if m.ClosedAtUnix != nil {
		t := time.Unix(*m.ClosedAtUnix, 0).UTC()
		p.ClosedAt = &t
	}
	return p, nil
}

func positionToModel(p *types.Position) (*model.PositionModel, error) {
	greeksJSON, err := json.Marshal(p.Greeks)
	if err != nil {
		return nil, err
	}
	m := &model.PositionModel{
		ID:           p.ID,
		UserID:       p.UserID,
		AutomationID: p.AutomationID,
		Symbol:       p.Symbol,
		Right:        string(p.Contract.Right),
		Strike:       p.Contract.Strike,
		Expiration:   p.Contract.Expiration.Unix(),
		OCCSymbol:    p.Contract.OCCSymbol,
		Quantity:      p.Quantity,
		EntryPrice:    p.EntryPrice,
		EntryUnix:     p.EntryTime.Unix(),
		Status:        int(p.Status),
		CurrentPrice:  p.CurrentPrice,
		HighWater:     p.HighWater,
		GreeksJSON:    datatypes.JSON(greeksJSON),
		RealizedPL:    p.RealizedPL,
		DayRealizedPL: p.DayRealizedPL,
		UnrealizedPL:  p.UnrealizedPL,
		CloseReason:   p.CloseReason,
	}
	if p.DayRealizedAt != nil {
		u := p.DayRealizedAt.Unix()
		m.DayRealizedUnix = &u
	}
	if p.ClosedAt != nil {
		u := p.ClosedAt.Unix()
		m.ClosedAtUnix = &u
	}
	return m, nil
}

// --- pending orders ---

func (s *SqliteStore) ListPendingOrders(ctx context.Context, userID string) ([]types.PendingOrder, error) {
	var rows []model.PendingOrderModel
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]types.PendingOrder, 0, len(rows))
	for i := range rows {
		var order types.TradeOrder
		if err := json.Unmarshal(rows[i].OrderJSON, &order); err != nil {
			return nil, fmt.Errorf("pending order %d: bad order json: %w", rows[i].ID, err)
		}
		out = append(out, types.PendingOrder{
			ID:            rows[i].ID,
			UserID:        rows[i].UserID,
			Order:         order,
			BrokerOrderID: rows[i].BrokerOrderID,
			Attempts:      rows[i].Attempts,
			CreatedAt:     time.Unix(rows[i].CreatedAtUnix, 0).UTC(),
		})
	}
	return out, nil
}

func (s *SqliteStore) SavePendingOrder(ctx context.Context, p *types.PendingOrder) error {
	orderJSON, err := json.Marshal(p.Order)
	if err != nil {
		return err
	}
	row := &model.PendingOrderModel{
		ID:            p.ID,
		UserID:        p.UserID,
		OrderJSON:     datatypes.JSON(orderJSON),
		BrokerOrderID: p.BrokerOrderID,
		Attempts:      p.Attempts,
		CreatedAtUnix: p.CreatedAt.Unix(),
	}
	if row.CreatedAtUnix <= 0 {
		row.CreatedAtUnix = time.Now().Unix()
	}
	if err := s.db.WithContext(ctx).Save(row).Error; err != nil {
		return err
	}
	p.ID = row.ID
	return nil
}

func (s *SqliteStore) DeletePendingOrder(ctx context.Context, userID string, id int64) error {
	return s.db.WithContext(ctx).
		Where("user_id = ? AND id = ?", userID, id).
		Delete(&model.PendingOrderModel{}).Error
}

// --- risk limits ---

func (s *SqliteStore) GetRiskLimits(ctx context.Context, userID string) (types.RiskLimits, error) {
	var row model.RiskLimitsModel
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return types.RiskLimits{}, fmt.Errorf("no risk limits for user %s: %w", userID, err)
	}
	if err != nil {
		return types.RiskLimits{}, err
	}
	return types.RiskLimits{
		UserID:                  row.UserID,
		MaxPortfolioDelta:       row.MaxPortfolioDelta,
		MaxPortfolioTheta:       row.MaxPortfolioTheta,
		MaxPortfolioVega:        row.MaxPortfolioVega,
		MaxPositionSizePct:      row.MaxPositionSizePct,
		MaxPortfolioExposurePct: row.MaxPortfolioExposurePct,
		MaxOpenPositions:        row.MaxOpenPositions,
		MaxDailyLossPct:         row.MaxDailyLossPct,
	}, nil
}

func (s *SqliteStore) SaveRiskLimits(ctx context.Context, l *types.RiskLimits) error {
	row := &model.RiskLimitsModel{
		UserID:                  l.UserID,
		MaxPortfolioDelta:       l.MaxPortfolioDelta,
		MaxPortfolioTheta:       l.MaxPortfolioTheta,
		MaxPortfolioVega:        l.MaxPortfolioVega,
		MaxPositionSizePct:      l.MaxPositionSizePct,
		MaxPortfolioExposurePct: l.MaxPortfolioExposurePct,
		MaxOpenPositions:        l.MaxOpenPositions,
		MaxDailyLossPct:         l.MaxDailyLossPct,
		UpdatedAtUnix:           time.Now().Unix(),
	}
	return s.db.WithContext(ctx).Save(row).Error
}

// --- alerts ---

func (s *SqliteStore) InsertAlert(ctx context.Context, a *types.Alert) error {
	payloadJSON, err := json.Marshal(a.Payload)
	if err != nil {
		return err
	}
	row := &model.AlertModel{
		UserID:        a.UserID,
		Type:          a.Type,
		Priority:      int(a.Priority),
		Symbol:        a.Symbol,
		Message:       a.Message,
		PayloadJSON:   datatypes.JSON(payloadJSON),
		Status:        int(a.Status),
		CreatedAtUnix: a.CreatedAt.Unix(),
	}
	if row.CreatedAtUnix <= 0 {
		row.CreatedAtUnix = time.Now().Unix()
	}
	if a.ExpiresAt != nil {
		u := a.ExpiresAt.Unix()
		row.ExpiresAtUnix = &u
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return err
	}
	a.ID = row.ID
	return nil
}

func (s *SqliteStore) ListAlerts(ctx context.Context, userID string, activeOnly bool, limit int) ([]types.Alert, error) {
	q := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if activeOnly {
		q = q.Where("status = ?", int(types.AlertActive))
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []model.AlertModel
	if err := q.Order("id DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]types.Alert, 0, len(rows))
	for i := range rows {
		a := types.Alert{
			ID:        rows[i].ID,
			UserID:    rows[i].UserID,
			Type:      rows[i].Type,
			Priority:  types.AlertPriority(rows[i].Priority),
			Symbol:    rows[i].Symbol,
			Message:   rows[i].Message,
			Status:    types.AlertStatus(rows[i].Status),
			CreatedAt: time.Unix(rows[i].CreatedAtUnix, 0).UTC(),
		}
		if len(rows[i].PayloadJSON) > 0 {
			_ = json.Unmarshal(rows[i].PayloadJSON, &a.Payload)
		}
		if rows[i].ExpiresAtUnix != nil {
			t := time.Unix(*rows[i].ExpiresAtUnix, 0).UTC()
			a.ExpiresAt = &t
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *SqliteStore) SetAlertStatus(ctx context.Context, userID string, id int64, status types.AlertStatus) error {
	res := s.db.WithContext(ctx).Model(&model.AlertModel{}).
		Where("user_id = ? AND id = ?", userID, id).
		Update("status", int(status))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
