// Package series holds an immutable, time-ordered run of bars for one
// instrument and computes the derived views rules evaluate: rolling windows,
// exponential averages and time-of-day slices.
package series

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"equity-alerts/internal/indicator"
	"equity-alerts/internal/model"
)

// ErrEmptySeries is returned when a point accessor is called on a series with no bars.
var ErrEmptySeries = errors.New("series: empty")

// Field selects one bar column.
type Field int

const (
	Open Field = iota
	High
	Low
	Close
	Volume
)

func (f Field) String() string {
	switch f {
	case Open:
		return "open"
	case High:
		return "high"
	case Low:
		return "low"
	case Close:
		return "close"
	case Volume:
		return "volume"
	}
	return fmt.Sprintf("field(%d)", int(f))
}

// ParseField maps a column name to a Field.
func ParseField(s string) (Field, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "open":
		return Open, nil
	case "high":
		return High, nil
	case "low":
		return Low, nil
	case "close", "":
		return Close, nil
	case "volume":
		return Volume, nil
	}
	return 0, fmt.Errorf("unknown field %q", s)
}

// NullFloat is a value that may be absent, e.g. a rolling mean before its
// window has filled.
type NullFloat struct {
	Float64 float64
	Valid   bool
}

// Floats flattens ns, mapping absent entries to NaN so comparisons against
// them are false.
func Floats(ns []NullFloat) []float64 {
	out := make([]float64, len(ns))
	for i, n := range ns {
		if n.Valid {
			out[i] = n.Float64
		} else {
			out[i] = math.NaN()
		}
	}
	return out
}

// Series is an ordered, duplicate-free run of bars. It is never mutated
// after construction; every derived view is computed on demand.
type Series struct {
	symbol string
	loc    *time.Location
	bars   []model.Bar
}

// New normalises bars into a Series: timestamps are converted to loc, sorted
// ascending, and duplicate timestamps are collapsed keeping the last
// occurrence. The input slice is not modified. A nil loc means UTC.
func New(symbol string, bars []model.Bar, loc *time.Location) *Series {
	if loc == nil {
		loc = time.UTC
	}
	cp := make([]model.Bar, len(bars))
	copy(cp, bars)
	for i := range cp {
		cp[i].TS = cp[i].TS.In(loc)
	}
	sort.SliceStable(cp, func(i, j int) bool { return cp[i].TS.Before(cp[j].TS) })

	out := cp[:0]
	for _, b := range cp {
		if n := len(out); n > 0 && out[n-1].TS.Equal(b.TS) {
			out[n-1] = b
			continue
		}
		out = append(out, b)
	}
	return &Series{symbol: symbol, loc: loc, bars: out}
}

// sub builds a view over an already normalised slice.
func (s *Series) sub(bars []model.Bar) *Series {
	return &Series{symbol: s.symbol, loc: s.loc, bars: bars}
}

func (s *Series) Symbol() string           { return s.symbol }
func (s *Series) Location() *time.Location { return s.loc }
func (s *Series) Len() int                 { return len(s.bars) }
func (s *Series) Empty() bool              { return len(s.bars) == 0 }

// At returns the i-th bar. It panics when i is out of range, like slice indexing.
func (s *Series) At(i int) model.Bar { return s.bars[i] }

// Bars returns a copy of the underlying bars.
func (s *Series) Bars() []model.Bar {
	out := make([]model.Bar, len(s.bars))
	copy(out, s.bars)
	return out
}

// Last returns the most recent bar.
func (s *Series) Last() (model.Bar, error) {
	if len(s.bars) == 0 {
		return model.Bar{}, ErrEmptySeries
	}
	return s.bars[len(s.bars)-1], nil
}

// Prev returns the bar n positions before the last one (Prev(0) == Last).
func (s *Series) Prev(n int) (model.Bar, error) {
	if len(s.bars) == 0 {
		return model.Bar{}, ErrEmptySeries
	}
	i := len(s.bars) - 1 - n
	if n < 0 || i < 0 {
		return model.Bar{}, fmt.Errorf("prev %d of %d bars: %w", n, len(s.bars), ErrEmptySeries)
	}
	return s.bars[i], nil
}

// Head returns the first n bars (all of them when n >= Len).
func (s *Series) Head(n int) *Series {
	if n < 0 {
		n = 0
	}
	if n > len(s.bars) {
		n = len(s.bars)
	}
	return s.sub(s.bars[:n])
}

// Since returns the bars at or after t.
func (s *Series) Since(t time.Time) *Series {
	i := sort.Search(len(s.bars), func(i int) bool { return !s.bars[i].TS.Before(t) })
	return s.sub(s.bars[i:])
}

// Between returns the bars whose exchange-local time of day falls in
// [start, end], both ends inclusive. The result may be empty.
func (s *Series) Between(start, end model.TimeOfDay) *Series {
	lo, hi := start.Minutes(), end.Minutes()
	var out []model.Bar
	for _, b := range s.bars {
		m := model.Of(b.TS).Minutes()
		if m >= lo && m <= hi {
			out = append(out, b)
		}
	}
	return s.sub(out)
}

// LastSession returns the bars that share the last bar's exchange-local
// calendar date. Empty when the series is empty.
func (s *Series) LastSession() *Series {
	if len(s.bars) == 0 {
		return s
	}
	day := model.SessionOf(s.bars[len(s.bars)-1].TS, s.loc)
	i := len(s.bars) - 1
	for i > 0 && model.SessionOf(s.bars[i-1].TS, s.loc) == day {
		i--
	}
	return s.sub(s.bars[i:])
}

// Values returns one column as float64.
func (s *Series) Values(f Field) []float64 {
	out := make([]float64, len(s.bars))
	for i, b := range s.bars {
		switch f {
		case Open:
			out[i] = b.Open
		case High:
			out[i] = b.High
		case Low:
			out[i] = b.Low
		case Close:
			out[i] = b.Close
		case Volume:
			out[i] = float64(b.Volume)
		}
	}
	return out
}

// EMA returns the exponential moving average of f with α = 2/(span+1),
// seeded with the first value; it is defined at every position.
func (s *Series) EMA(f Field, span int) []float64 {
	out, _ := indicator.Apply(indicator.NewEMA(span), s.Values(f))
	return out
}

type windowStat func(w *indicator.SMA) float64

func (s *Series) rolling(f Field, window int, stat windowStat) []NullFloat {
	out := make([]NullFloat, len(s.bars))
	if window < 1 {
		return out
	}
	w := indicator.NewSMA(window)
	for i, v := range s.Values(f) {
		w.Update(v)
		if w.Ready() {
			out[i] = NullFloat{Float64: stat(w), Valid: true}
		}
	}
	return out
}

// RollingMean returns the mean of f over [i-window+1, i]; absent for the
// first window-1 positions.
func (s *Series) RollingMean(f Field, window int) []NullFloat {
	return s.rolling(f, window, (*indicator.SMA).Value)
}

// RollingSum is RollingMean's sum counterpart.
func (s *Series) RollingSum(f Field, window int) []NullFloat {
	return s.rolling(f, window, (*indicator.SMA).Sum)
}

// RollingMax is RollingMean's maximum counterpart.
func (s *Series) RollingMax(f Field, window int) []NullFloat {
	return s.rolling(f, window, (*indicator.SMA).Max)
}

// RollingMin is RollingMean's minimum counterpart.
func (s *Series) RollingMin(f Field, window int) []NullFloat {
	return s.rolling(f, window, (*indicator.SMA).Min)
}

// SMA is RollingMean.
func (s *Series) SMA(f Field, period int) []NullFloat {
	return s.RollingMean(f, period)
}

// Max returns the largest value of f over the whole series.
func (s *Series) Max(f Field) (float64, error) {
	if len(s.bars) == 0 {
		return 0, ErrEmptySeries
	}
	m := math.Inf(-1)
	for _, v := range s.Values(f) {
		m = math.Max(m, v)
	}
	return m, nil
}

// Min returns the smallest value of f over the whole series.
func (s *Series) Min(f Field) (float64, error) {
	if len(s.bars) == 0 {
		return 0, ErrEmptySeries
	}
	m := math.Inf(1)
	for _, v := range s.Values(f) {
		m = math.Min(m, v)
	}
	return m, nil
}

// Sum returns the total of f over the whole series (0 when empty).
func (s *Series) Sum(f Field) float64 {
	var total float64
	for _, v := range s.Values(f) {
		total += v
	}
	return total
}
