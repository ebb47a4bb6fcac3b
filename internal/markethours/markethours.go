// Package markethours answers exchange calendar questions: whether the market
// is open, which session a timestamp belongs to, and when the next open is.
package markethours

import (
	"fmt"
	"time"
	_ "time/tzdata"

	"equity-alerts/internal/model"
)

// Default NYSE regular session.
var (
	DefaultOpen  = model.TimeOfDay{Hour: 9, Minute: 30}
	DefaultClose = model.TimeOfDay{Hour: 16, Minute: 0}
)

// DefaultTimezone is the NYSE zone.
const DefaultTimezone = "America/New_York"

// Calendar describes one exchange's regular session and closures.
type Calendar struct {
	loc      *time.Location
	open     model.TimeOfDay
	close    model.TimeOfDay
	holidays map[string]bool
}

// NewCalendar builds a calendar. holidays are YYYY-MM-DD dates in the
// exchange zone.
func NewCalendar(timezone string, open, close model.TimeOfDay, holidays []string) (*Calendar, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", timezone, err)
	}
	if close.Minutes() <= open.Minutes() {
		return nil, fmt.Errorf("close %s not after open %s", close, open)
	}
	set := make(map[string]bool, len(holidays))
	for _, h := range holidays {
		d, err := time.Parse("2006-01-02", h)
		if err != nil {
			return nil, fmt.Errorf("holiday %q: %w", h, err)
		}
		set[d.Format("2006-01-02")] = true
	}
	return &Calendar{loc: loc, open: open, close: close, holidays: set}, nil
}

// NYSE returns the default US equities calendar with the 2026 closures.
func NYSE() *Calendar {
	c, err := NewCalendar(DefaultTimezone, DefaultOpen, DefaultClose, NYSEHolidays2026())
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Calendar) Location() *time.Location { return c.loc }
func (c *Calendar) Open() model.TimeOfDay    { return c.open }
func (c *Calendar) Close() model.TimeOfDay   { return c.close }

// SessionDate returns the exchange-local calendar date of t.
func (c *Calendar) SessionDate(t time.Time) model.SessionDate {
	return model.SessionOf(t, c.loc)
}

// IsMarketOpen returns true if t falls within [open, close) on a trading day.
func (c *Calendar) IsMarketOpen(t time.Time) bool {
	local := t.In(c.loc)
	if !c.IsTradingDay(local) {
		return false
	}
	hm := local.Hour()*60 + local.Minute()
	return hm >= c.open.Minutes() && hm < c.close.Minutes()
}

// IsWeekday returns true if t is Mon–Fri in exchange time.
func (c *Calendar) IsWeekday(t time.Time) bool {
	wd := t.In(c.loc).Weekday()
	return wd >= time.Monday && wd <= time.Friday
}

// IsTradingDay returns true if t is a weekday and not a holiday.
func (c *Calendar) IsTradingDay(t time.Time) bool {
	return c.IsWeekday(t) && !c.IsHoliday(t)
}

// NextOpen returns the next session open at or after t. If t is before
// today's open on a trading day, returns today's open.
func (c *Calendar) NextOpen(t time.Time) time.Time {
	local := t.In(c.loc)

	todayOpen := c.open.On(local)
	if local.Before(todayOpen) && c.IsTradingDay(local) {
		return todayOpen
	}

	d := local.AddDate(0, 0, 1)
	for i := 0; i < 10; i++ { // max 10 days ahead (holidays + weekends)
		if c.IsTradingDay(d) {
			return c.open.On(d)
		}
		d = d.AddDate(0, 0, 1)
	}
	return c.open.On(local.AddDate(0, 0, 1))
}

// TodayClose returns the close time on t's exchange-local date.
func (c *Calendar) TodayClose(t time.Time) time.Time {
	return c.close.On(t.In(c.loc))
}

// TimeUntilClose returns the duration until today's close, or 0 once closed.
func (c *Calendar) TimeUntilClose(t time.Time) time.Duration {
	d := c.TodayClose(t).Sub(t)
	if d < 0 {
		return 0
	}
	return d
}

// TimeUntilOpen returns the duration until the next open.
func (c *Calendar) TimeUntilOpen(t time.Time) time.Duration {
	return c.NextOpen(t).Sub(t)
}

// StatusString returns a human-readable market status.
func (c *Calendar) StatusString(t time.Time) string {
	if c.IsMarketOpen(t) {
		return fmt.Sprintf("Market Open, closes in %s", fmtDur(c.TimeUntilClose(t)))
	}
	next := c.NextOpen(t)
	return fmt.Sprintf("Market Closed, opens %s %s (%s)",
		next.Weekday().String()[:3], next.Format("15:04"), fmtDur(next.Sub(t)))
}

func fmtDur(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
