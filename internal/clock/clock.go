// Package clock determines market session state from wall-clock time and the
// exchange holiday calendar. Pure and deterministic; no side effects.
package clock

import (
	"time"
)

// SessionState is where the exchange is in its daily cycle.
type SessionState string

const (
	SessionClosed     SessionState = "closed"
	SessionPreMarket  SessionState = "pre_market"
	SessionRegular    SessionState = "regular"
	SessionAfterHours SessionState = "after_hours"
)

// Session boundaries in exchange-local minutes from midnight.
const (
	preMarketOpenMin = 4 * 60    // 04:00
	regularOpenMin   = 9*60 + 30 // 09:30
	regularCloseMin  = 16 * 60   // 16:00
	halfDayCloseMin  = 13 * 60   // 13:00 early close
	afterHoursEndMin = 20 * 60   // 20:00
)

// SessionClock answers "is the market open" for one exchange.
type SessionClock struct {
	loc *time.Location
	cal *Calendar
}

// New builds a SessionClock for the standard US options exchange session
// (America/New_York) with the embedded holiday table.
func New() (*SessionClock, error) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return nil, err
	}
	cal, err := DefaultCalendar()
	if err != nil {
		return nil, err
	}
	return &SessionClock{loc: loc, cal: cal}, nil
}

// NewWith builds a SessionClock with an explicit location and calendar.
// Used by tests to pin the zone.
func NewWith(loc *time.Location, cal *Calendar) *SessionClock {
	return &SessionClock{loc: loc, cal: cal}
}

// Session returns the state at t plus the duration until the next
// state transition.
func (c *SessionClock) Session(t time.Time) (SessionState, time.Duration) {
	local := t.In(c.loc)
	if !c.tradingDay(local) {
		return SessionClosed, c.nextOpen(local).Sub(local)
	}
	closeMin := regularCloseMin
	if c.cal.IsHalfDay(local) {
		closeMin = halfDayCloseMin
	}
	minute := local.Hour()*60 + local.Minute()

	switch {
	case minute < preMarketOpenMin:
		return SessionClosed, c.at(local, preMarketOpenMin).Sub(local)
	case minute < regularOpenMin:
		return SessionPreMarket, c.at(local, regularOpenMin).Sub(local)
	case minute < closeMin:
		return SessionRegular, c.at(local, closeMin).Sub(local)
	case minute < afterHoursEndMin && closeMin == regularCloseMin:
		return SessionAfterHours, c.at(local, afterHoursEndMin).Sub(local)
	default:
		// Early-close days skip the extended session.
		return SessionClosed, c.nextOpen(local).Sub(local)
	}
}

func (c *SessionClock) tradingDay(local time.Time) bool {
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return !c.cal.IsHoliday(local)
}

// at returns the same date as local with the clock set to min minutes.
func (c *SessionClock) at(local time.Time, min int) time.Time {
	return time.Date(local.Year(), local.Month(), local.Day(), min/60, min%60, 0, 0, c.loc)
}

// nextOpen finds the next pre-market open at or after local.
func (c *SessionClock) nextOpen(local time.Time) time.Time {
	day := local
	if local.Hour()*60+local.Minute() >= preMarketOpenMin || !c.tradingDay(day) {
		day = day.AddDate(0, 0, 1)
	}
	for !c.tradingDay(day) {
		day = day.AddDate(0, 0, 1)
	}
	return c.at(day, preMarketOpenMin)
}
