// Package datasource fetches OHLCV bars for an instrument from a market data
// provider and normalises them into a series.Series in exchange time.
package datasource

import (
	"context"
	"errors"
	"fmt"
	"time"

	"equity-alerts/internal/series"
)

// ErrNoData means the provider had nothing for the symbol and window. The
// scanner skips the instrument silently.
var ErrNoData = errors.New("datasource: no data")

// Source fetches bars for one symbol.
type Source interface {
	Name() string
	FetchBars(ctx context.Context, symbol string, interval Interval, rng Range) (*series.Series, error)
}

// Interval is a bar width.
type Interval string

const (
	OneMinute     Interval = "1m"
	FiveMinutes   Interval = "5m"
	FifteenMinute Interval = "15m"
	OneHour       Interval = "1h"
	OneDay        Interval = "1d"
)

// ParseInterval validates s.
func ParseInterval(s string) (Interval, error) {
	switch i := Interval(s); i {
	case OneMinute, FiveMinutes, FifteenMinute, OneHour, OneDay:
		return i, nil
	}
	return "", fmt.Errorf("unknown interval %q", s)
}

// Duration returns the bar width.
func (i Interval) Duration() time.Duration {
	switch i {
	case OneMinute:
		return time.Minute
	case FiveMinutes:
		return 5 * time.Minute
	case FifteenMinute:
		return 15 * time.Minute
	case OneHour:
		return time.Hour
	case OneDay:
		return 24 * time.Hour
	}
	return 0
}

// Range is a lookback window ending now.
type Range string

const (
	OneDayRange Range = "1d"
	FiveDays    Range = "5d"
	SevenDays   Range = "7d"
	OneMonth    Range = "1mo"
	ThreeMonths Range = "3mo"
	SixMonths   Range = "6mo"
)

// ParseRange validates s.
func ParseRange(s string) (Range, error) {
	switch r := Range(s); r {
	case OneDayRange, FiveDays, SevenDays, OneMonth, ThreeMonths, SixMonths:
		return r, nil
	}
	return "", fmt.Errorf("unknown range %q", s)
}

// Lookback returns how far before now the range starts, in calendar days.
func (r Range) Lookback() time.Duration {
	const day = 24 * time.Hour
	switch r {
	case OneDayRange:
		return day
	case FiveDays:
		return 5 * day
	case SevenDays:
		return 7 * day
	case OneMonth:
		return 31 * day
	case ThreeMonths:
		return 92 * day
	case SixMonths:
		return 183 * day
	}
	return 0
}
