// Package calendar decides whether a market is trading at a given instant.
//
// Every function is a pure function of the market configuration and the
// supplied time. Boundaries are compared as local "HH:MM" strings in the
// market's own timezone.
package calendar

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/stockleague/engine/internal/model"
)

// searchDays bounds the forward search for the next open.
const searchDays = 7

// Snapshot is the full calendar view of a market at one instant.
type Snapshot struct {
	Status    model.MarketStatus `json:"status"`
	LocalTime string             `json:"local_time"`
	Degraded  bool               `json:"degraded,omitempty"` // timezone unparseable, local time used
	OpensIn   *int64             `json:"opens_in,omitempty"` // seconds
	ClosesIn  *int64             `json:"closes_in,omitempty"`
}

// Describe returns the status and both countdowns for m at now.
func Describe(m *model.Market, now time.Time) Snapshot {
	loc, ok := location(m)
	snap := Snapshot{
		Status:    evaluate(m, now, loc),
		LocalTime: now.In(loc).Format("15:04"),
		Degraded:  !ok,
	}
	if secs, ok := untilOpen(m, now, loc); ok {
		snap.OpensIn = &secs
	}
	if secs, ok := untilClose(m, now, loc); ok {
		snap.ClosesIn = &secs
	}
	return snap
}

// Status reports the trading-hours state of m at now.
func Status(m *model.Market, now time.Time) model.MarketStatus {
	loc, _ := location(m)
	return evaluate(m, now, loc)
}

// IsOpen reports whether regular trading is in session. Extended hours do
// not count.
func IsOpen(m *model.Market, now time.Time) bool {
	return Status(m, now) == model.StatusOpen
}

// IsExtendedHours reports whether m is in pre-market or after-hours.
func IsExtendedHours(m *model.Market, now time.Time) bool {
	s := Status(m, now)
	return s == model.StatusPreMarket || s == model.StatusAfterHours
}

func evaluate(m *model.Market, now time.Time, loc *time.Location) model.MarketStatus {
	if !m.Active {
		return model.StatusClosed
	}
	local := now.In(loc)
	if !tradesOn(m, local.Weekday()) {
		return model.StatusClosed
	}

	hm := local.Format("15:04")
	opens, closes := clock(m.OpenTime), clock(m.CloseTime)
	switch {
	case m.PreMarketOpen != "" && hm >= clock(m.PreMarketOpen) && hm < opens:
		return model.StatusPreMarket
	case hm >= opens && hm < closes:
		return model.StatusOpen
	case m.AfterHoursClose != "" && hm >= closes && hm < clock(m.AfterHoursClose):
		return model.StatusAfterHours
	}
	return model.StatusClosed
}

// TimeUntilOpen returns seconds until the next regular open. ok is false
// when the market is already open, inactive, or does not open within
// seven days.
func TimeUntilOpen(m *model.Market, now time.Time) (int64, bool) {
	loc, _ := location(m)
	return untilOpen(m, now, loc)
}

func untilOpen(m *model.Market, now time.Time, loc *time.Location) (int64, bool) {
	if !m.Active || evaluate(m, now, loc) == model.StatusOpen {
		return 0, false
	}
	local := now.In(loc)
	hour, minute, err := parseClock(m.OpenTime)
	if err != nil {
		return 0, false
	}

	for i := 0; i <= searchDays; i++ {
		day := local.AddDate(0, 0, i)
		if !tradesOn(m, day.Weekday()) {
			continue
		}
		opens := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, loc)
		if opens.After(now) {
			return int64(opens.Sub(now) / time.Second), true
		}
	}
	return 0, false
}

// TimeUntilClose returns seconds until today's regular close. ok is false
// unless the market is open.
func TimeUntilClose(m *model.Market, now time.Time) (int64, bool) {
	loc, _ := location(m)
	return untilClose(m, now, loc)
}

func untilClose(m *model.Market, now time.Time, loc *time.Location) (int64, bool) {
	if evaluate(m, now, loc) != model.StatusOpen {
		return 0, false
	}
	local := now.In(loc)
	hour, minute, err := parseClock(m.CloseTime)
	if err != nil {
		return 0, false
	}
	closes := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	return int64(closes.Sub(now) / time.Second), true
}

// FormatDuration renders seconds as "2h 5m", or "45m" under an hour.
func FormatDuration(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	h := seconds / 3600
	m := (seconds % 3600) / 60
	if h > 0 {
		return fmt.Sprintf("%dh %dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}

// location loads the market timezone. An unparseable zone falls back to
// time.Local and ok is false.
func location(m *model.Market) (*time.Location, bool) {
	if m.Timezone == "" {
		return time.UTC, true
	}
	loc, err := time.LoadLocation(m.Timezone)
	if err != nil {
		slog.Warn("invalid market timezone, using local time",
			"market", m.Code, "timezone", m.Timezone, "err", err)
		return time.Local, false
	}
	return loc, true
}

// tradesOn maps Go weekdays (Sunday=0) onto ISO days (Monday=1 … Sunday=7).
func tradesOn(m *model.Market, wd time.Weekday) bool {
	iso := int(wd)
	if iso == 0 {
		iso = 7
	}
	for _, d := range m.TradingDays {
		if d == iso {
			return true
		}
	}
	return false
}

// clock normalizes "HH:MM[:SS]" to "HH:MM" for lexical comparison.
func clock(s string) string {
	if len(s) > 5 {
		return s[:5]
	}
	return s
}

func parseClock(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", clock(s))
	if err != nil {
		return 0, 0, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t.Hour(), t.Minute(), nil
}
