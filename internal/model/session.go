package model

import (
	"fmt"
	"time"
)

// SessionDate identifies a trading session by its exchange-local calendar date.
type SessionDate string

const sessionLayout = "2006-01-02"

// SessionOf returns the session date of t in loc.
func SessionOf(t time.Time, loc *time.Location) SessionDate {
	return SessionDate(t.In(loc).Format(sessionLayout))
}

// ParseSessionDate validates s as YYYY-MM-DD.
func ParseSessionDate(s string) (SessionDate, error) {
	if _, err := time.Parse(sessionLayout, s); err != nil {
		return "", fmt.Errorf("invalid session date %q: %w", s, err)
	}
	return SessionDate(s), nil
}

func (d SessionDate) String() string { return string(d) }

// Time returns midnight of the session date in loc.
func (d SessionDate) Time(loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(sessionLayout, string(d), loc)
}
