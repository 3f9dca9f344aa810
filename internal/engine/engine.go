// Package engine is the master controller: it schedules evaluation cycles by
// market session, holds the per-user mutual-exclusion token, and runs each
// cycle as reconcile -> monitor -> scan -> validate -> execute.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"wheelhouse/internal/clock"
	"wheelhouse/internal/executor"
	"wheelhouse/internal/logger"
	"wheelhouse/internal/monitor"
	"wheelhouse/internal/risk"
	"wheelhouse/internal/scanner"
	"wheelhouse/internal/store"
	"wheelhouse/internal/store/diaglog"
	"wheelhouse/internal/types"
)

// ErrCycleInProgress is returned by RunCycleNow while a cycle already holds
// the user's token.
var ErrCycleInProgress = errors.New("cycle already in progress for user")

// Cadence maps session state to cycle interval. Zero values fall back to the
// defaults below.
type Cadence struct {
	Regular       time.Duration `mapstructure:"regular"`
	Extended      time.Duration `mapstructure:"extended"`
	Closed        time.Duration `mapstructure:"closed"`
	SuspendClosed bool          `mapstructure:"suspend_closed"`
}

func DefaultCadence() Cadence {
	return Cadence{
		Regular:  15 * time.Minute,
		Extended: 30 * time.Minute,
		Closed:   time.Hour,
	}
}

func (c Cadence) normalized() Cadence {
	d := DefaultCadence()
	if c.Regular <= 0 {
		c.Regular = d.Regular
	}
	if c.Extended <= 0 {
		c.Extended = d.Extended
	}
	if c.Closed <= 0 {
		c.Closed = d.Closed
	}
	return c
}

// Account supplies the user's cash figures for the cycle snapshot.
type Account interface {
	Balance(ctx context.Context, userID string) (equity, buyingPower float64, err error)
}

// StaticAccount is a fixed-balance account used in paper mode.
type StaticAccount struct {
	Equity      float64
	BuyingPower float64
}

func (a StaticAccount) Balance(context.Context, string) (float64, float64, error) {
	return a.Equity, a.BuyingPower, nil
}

// AlertFunc delivers engine alerts; fire-and-forget.
type AlertFunc func(types.Alert)

type Engine struct {
	store     store.Store
	diag      *diaglog.Store
	sessions  *clock.SessionClock
	scanner   *scanner.Scanner
	monitor   *monitor.Monitor
	validator *risk.Validator
	executor  *executor.Executor
	account   Account
	alertFn   AlertFunc

	users   []string
	cadence Cadence
	nowFn   func() time.Time

	mu        sync.Mutex
	tokens    map[string]*semaphore.Weighted
	running   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	lastCycle map[string]time.Time
}

type Deps struct {
	Store     store.Store
	Diag      *diaglog.Store
	Sessions  *clock.SessionClock
	Scanner   *scanner.Scanner
	Monitor   *monitor.Monitor
	Validator *risk.Validator
	Executor  *executor.Executor
	Account   Account
	AlertFn   AlertFunc
	Users     []string
	Cadence   Cadence
}

func New(d Deps) *Engine {
	return &Engine{
		store:     d.Store,
		diag:      d.Diag,
		sessions:  d.Sessions,
		scanner:   d.Scanner,
		monitor:   d.Monitor,
		validator: d.Validator,
		executor:  d.Executor,
		account:   d.Account,
		alertFn:   d.AlertFn,
		users:     d.Users,
		cadence:   d.Cadence.normalized(),
		nowFn:     time.Now,
		tokens:    make(map[string]*semaphore.Weighted),
		lastCycle: make(map[string]time.Time),
	}
}

// SetNowFunc is used by tests.
func (e *Engine) SetNowFunc(fn func() time.Time) { e.nowFn = fn }

func (e *Engine) token(userID string) *semaphore.Weighted {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.tokens[userID]
	if !ok {
		t = semaphore.NewWeighted(1)
		e.tokens[userID] = t
	}
	return t
}

// Start launches the scheduler loop. Idempotent.
func (e *Engine) Start() {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.running = true
	e.mu.Unlock()

	e.wg.Add(1)
	go e.loop(ctx)
	logger.Infof("engine: scheduler started for %d user(s)", len(e.users))
}

// Stop cancels the scheduler and waits for the in-flight cycle to finish.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	cancel := e.cancel
	e.mu.Unlock()

	cancel()
	e.wg.Wait()
	logger.Infof("engine: scheduler stopped")
}

// Status is the scheduler snapshot for the control API.
type Status struct {
	Running   bool                 `json:"running"`
	Session   clock.SessionState   `json:"session"`
	NextCycle time.Duration        `json:"next_cycle_in"`
	LastCycle map[string]time.Time `json:"last_cycle"`
}

func (e *Engine) Status() Status {
	now := e.nowFn()
	state, _ := e.sessions.Session(now)
	delay, _ := e.nextDelay(now)

	e.mu.Lock()
	defer e.mu.Unlock()
	last := make(map[string]time.Time, len(e.lastCycle))
	for k, v := range e.lastCycle {
		last[k] = v
	}
	return Status{
		Running:   e.running,
		Session:   state,
		NextCycle: delay,
		LastCycle: last,
	}
}

// nextDelay picks the cycle interval from the current session state.
func (e *Engine) nextDelay(now time.Time) (time.Duration, clock.SessionState) {
	state, until := e.sessions.Session(now)
	switch state {
	case clock.SessionRegular:
		return e.cadence.Regular, state
	case clock.SessionPreMarket, clock.SessionAfterHours:
		return e.cadence.Extended, state
	default:
		if e.cadence.SuspendClosed {
			// Sleep until shortly after the next session transition.
			return until + time.Minute, state
		}
		return e.cadence.Closed, state
	}
}

func (e *Engine) loop(ctx context.Context) {
	defer e.wg.Done()
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		for _, userID := range e.users {
			if ctx.Err() != nil {
				return
			}
			if err := e.runCycle(ctx, userID, "scheduled"); err != nil && !errors.Is(err, ErrCycleInProgress) {
				logger.Errorf("engine: cycle for %s: %v", userID, err)
			}
		}

		delay, state := e.nextDelay(e.nowFn())
		logger.Debugf("engine: next cycle in %s (session %s)", delay, state)
		timer.Reset(delay)
	}
}

// RunCycleNow triggers one out-of-band cycle for the user. Returns
// ErrCycleInProgress instead of queueing when a cycle already runs.
func (e *Engine) RunCycleNow(ctx context.Context, userID string) error {
	return e.runCycle(ctx, userID, "manual")
}

// Diagnostics returns the most recent scan records for one automation.
func (e *Engine) Diagnostics(ctx context.Context, automationID int64, limit int) ([]types.Diagnostic, error) {
	return e.diag.LatestForAutomation(ctx, automationID, limit)
}

func (e *Engine) runCycle(ctx context.Context, userID, trigger string) error {
	if !e.token(userID).TryAcquire(1) {
		return ErrCycleInProgress
	}
	defer e.token(userID).Release(1)

	start := e.nowFn()
	traceID := uuid.NewString()
	state, _ := e.sessions.Session(start)
	logger.Infof("engine: cycle %s for %s (%s, session %s)", traceID, userID, trigger, state)

	// 1. Reconcile orders left ambiguous by the previous cycle, so confirmed
	// fills are visible to this cycle's monitor and scanner.
	if err := e.executor.Reconcile(ctx, userID); err != nil {
		logger.Warnf("engine: reconcile for %s: %v", userID, err)
	}

	// 2. Snapshot and limits, read once and immutable for the cycle.
	autos, err := e.store.ListAutomations(ctx, userID)
	if err != nil {
		return fmt.Errorf("list automations: %w", err)
	}
	limits, err := e.store.GetRiskLimits(ctx, userID)
	if err != nil {
		return fmt.Errorf("load risk limits: %w", err)
	}

	autoIndex := make(map[int64]types.Automation, len(autos))
	for _, a := range autos {
		autoIndex[a.ID] = a
	}

	// 3. Monitor before scanner: exits freed here influence entry decisions.
	exitOrders, err := e.monitor.Run(ctx, userID, autoIndex)
	if err != nil {
		logger.Warnf("engine: monitor for %s: %v", userID, err)
	}

	snap, err := e.snapshot(ctx, userID)
	if err != nil {
		return fmt.Errorf("portfolio snapshot: %w", err)
	}

	for _, order := range exitOrders {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		e.dispatch(ctx, order, snap, limits)
	}

	// Exits change the open set; rebuild the snapshot once before entries.
	if len(exitOrders) > 0 {
		if snap2, err := e.snapshot(ctx, userID); err == nil {
			snap = snap2
		}
	}

	// 4. Scan entries, one automation at a time, isolated from each other.
	for i := range autos {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		e.scanOne(ctx, &autos[i], snap, limits, state, traceID)
	}

	e.mu.Lock()
	e.lastCycle[userID] = start
	e.mu.Unlock()
	logger.Infof("engine: cycle %s done in %s", traceID, e.nowFn().Sub(start))
	return nil
}

// scanOne runs one automation's entry evaluation with panic isolation: a
// fault in one automation must not abort the rest of the cycle.
func (e *Engine) scanOne(ctx context.Context, auto *types.Automation, snap *types.PortfolioSnapshot, limits types.RiskLimits, state clock.SessionState, traceID string) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("engine: automation %d panicked: %v", auto.ID, r)
			e.record(ctx, types.Diagnostic{
				TraceID:      traceID,
				UserID:       auto.UserID,
				AutomationID: auto.ID,
				Symbol:       auto.Symbol,
				Outcome:      types.OutcomeError,
				Reason:       fmt.Sprintf("internal fault: %v", r),
				CreatedAt:    e.nowFn(),
			})
		}
	}()

	if state == clock.SessionClosed {
		e.record(ctx, types.Diagnostic{
			TraceID:      traceID,
			UserID:       auto.UserID,
			AutomationID: auto.ID,
			Symbol:       auto.Symbol,
			Outcome:      types.OutcomeSkipped,
			Reason:       types.ReasonMarketClosed,
			CreatedAt:    e.nowFn(),
		})
		return
	}

	order, diag := e.scanner.Scan(ctx, auto, snap, traceID)
	if order == nil {
		e.record(ctx, diag)
		return
	}

	decision := e.validator.Validate(order, snap, limits)
	if !decision.Approved {
		diag.Outcome = types.OutcomeBlocked
		diag.Reason = decision.Check
		e.record(ctx, diag)
		logger.Infof("engine: order %s rejected by risk gate: %s (%s)", order.ID, decision.Check, decision.Reason)
		return
	}

	res, err := e.executor.Execute(ctx, order)
	switch {
	case err != nil:
		diag.Outcome = types.OutcomeError
		diag.Reason = executionReason(err)
	case res.Pending:
		diag.Reason = res.Reason
	case !res.Filled:
		diag.Outcome = types.OutcomeBlocked
		diag.Reason = res.Reason
	}
	e.record(ctx, diag)
}

// dispatch validates and executes one exit order. Close orders take the risk
// gate's fast path but still pass through it.
func (e *Engine) dispatch(ctx context.Context, order *types.TradeOrder, snap *types.PortfolioSnapshot, limits types.RiskLimits) {
	decision := e.validator.Validate(order, snap, limits)
	if !decision.Approved {
		logger.Warnf("engine: exit order %s rejected: %s", order.ID, decision.Reason)
		return
	}
	res, err := e.executor.Execute(ctx, order)
	switch {
	case err != nil:
		logger.Errorf("engine: exit order %s (%s): %v", order.ID, order.Reason, err)
		e.alert(types.Alert{
			UserID:   order.UserID,
			Type:     "exit_failed",
			Priority: types.AlertWarning,
			Symbol:   order.Symbol,
			Message:  fmt.Sprintf("exit order for position failed: %v", err),
		})
	case !res.Filled && !res.Pending:
		// Broker turned the exit down; the position stays open, so someone
		// has to hear about it.
		logger.Warnf("engine: exit order %s (%s) not filled: %s", order.ID, order.Reason, res.Reason)
		e.alert(types.Alert{
			UserID:   order.UserID,
			Type:     "exit_failed",
			Priority: types.AlertWarning,
			Symbol:   order.Symbol,
			Message:  fmt.Sprintf("exit order for position rejected: %s", res.Reason),
		})
	}
}

// snapshot assembles the cycle's immutable portfolio view.
func (e *Engine) snapshot(ctx context.Context, userID string) (*types.PortfolioSnapshot, error) {
	equity, buyingPower, err := e.account.Balance(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("account balance: %w", err)
	}
	open, err := e.store.ListOpenPositions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("open positions: %w", err)
	}

	snap := &types.PortfolioSnapshot{
		UserID:      userID,
		Equity:      equity,
		BuyingPower: buyingPower,
		Open:        open,
		TakenAt:     e.nowFn(),
	}
	for i := range open {
		p := &open[i]
		qty := float64(p.Quantity)
		snap.Greeks.Delta += p.Greeks.Delta * qty * 100
		snap.Greeks.Gamma += p.Greeks.Gamma * qty * 100
		snap.Greeks.Theta += p.Greeks.Theta * qty * 100
		snap.Greeks.Vega += p.Greeks.Vega * qty * 100
	}
	snap.RealizedToday = e.realizedToday(ctx, userID)
	return snap, nil
}

// realizedToday sums the day-bucketed P/L of positions that realized anything
// since local midnight, closed or still open. Prior-day partial closes live
// only in the lifetime total and stay out of the daily-loss ceiling.
func (e *Engine) realizedToday(ctx context.Context, userID string) float64 {
	now := e.nowFn()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	var total float64
	add := func(positions []types.Position) {
		for i := range positions {
			p := &positions[i]
			if p.DayRealizedAt != nil && !p.DayRealizedAt.Before(midnight) {
				total += p.DayRealizedPL
			}
		}
	}
	if closed, err := e.store.ListPositionsClosedSince(ctx, userID, midnight); err == nil {
		add(closed)
	}
	if open, err := e.store.ListOpenPositions(ctx, userID); err == nil {
		add(open)
	}
	return total
}

func (e *Engine) record(ctx context.Context, d types.Diagnostic) {
	if e.diag == nil {
		return
	}
	if err := e.diag.Insert(ctx, &d); err != nil {
		logger.Warnf("engine: persist diagnostic: %v", err)
	}
}

func (e *Engine) alert(a types.Alert) {
	if e.alertFn == nil {
		return
	}
	a.CreatedAt = e.nowFn()
	e.alertFn(a)
}

func executionReason(err error) string {
	return fmt.Sprintf("execution failed: %v", err)
}
