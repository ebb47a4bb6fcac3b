package datasource

import (
	"context"
	"sync"
	"time"

	"equity-alerts/internal/series"
)

// Static serves preloaded series. With a cursor set by AsOf it only
// returns bars at or before the cursor, which lets stored history be walked
// forward one bar at a time.
type Static struct {
	mu     sync.RWMutex
	series map[string]*series.Series
	asOf   time.Time
}

// NewStatic creates a Static source over the given series, keyed by symbol.
func NewStatic(all ...*series.Series) *Static {
	s := &Static{series: make(map[string]*series.Series, len(all))}
	for _, ser := range all {
		s.series[ser.Symbol()] = ser
	}
	return s
}

func (s *Static) Name() string { return "static" }

// Set replaces the series for its symbol.
func (s *Static) Set(ser *series.Series) {
	s.mu.Lock()
	s.series[ser.Symbol()] = ser
	s.mu.Unlock()
}

// AsOf limits later fetches to bars at or before t. A zero t removes the limit.
func (s *Static) AsOf(t time.Time) {
	s.mu.Lock()
	s.asOf = t
	s.mu.Unlock()
}

// FetchBars ignores interval and range: the stored series is the answer.
func (s *Static) FetchBars(ctx context.Context, symbol string, _ Interval, _ Range) (*series.Series, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	ser, ok := s.series[symbol]
	asOf := s.asOf
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNoData
	}
	if !asOf.IsZero() {
		n := 0
		for n < ser.Len() && !ser.At(n).TS.After(asOf) {
			n++
		}
		ser = ser.Head(n)
	}
	if ser.Empty() {
		return nil, ErrNoData
	}
	return ser, nil
}
