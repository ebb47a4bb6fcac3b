package indicator

import (
	"math"
	"strconv"
)

// SMA calculates a Simple Moving Average over a rolling window that includes
// the latest sample. The same window also answers Sum, Max and Min.
// Uses a preallocated circular buffer.
type SMA struct {
	period int
	buf    []float64 // preallocated circular buffer
	idx    int       // current write position
	count  int       // total values received
	sum    float64
}

// NewSMA creates a new SMA indicator with the given period.
func NewSMA(period int) *SMA {
	if period < 1 {
		period = 1
	}
	return &SMA{
		period: period,
		buf:    make([]float64, period),
	}
}

func (s *SMA) Name() string { return "SMA_" + strconv.Itoa(s.period) }

func (s *SMA) Update(v float64) {
	if s.count >= s.period {
		// Subtract the oldest value being overwritten
		s.sum -= s.buf[s.idx]
	}
	s.buf[s.idx] = v
	s.sum += v
	s.idx = (s.idx + 1) % s.period
	s.count++
}

// Value returns the window mean, or 0 until the window is full.
func (s *SMA) Value() float64 {
	if !s.Ready() {
		return 0
	}
	return s.sum / float64(s.period)
}

func (s *SMA) Ready() bool { return s.count >= s.period }

// Sum returns the sum of the full window, or 0 until ready.
func (s *SMA) Sum() float64 {
	if !s.Ready() {
		return 0
	}
	return s.sum
}

// Max returns the largest value in the full window, or 0 until ready.
func (s *SMA) Max() float64 {
	if !s.Ready() {
		return 0
	}
	m := math.Inf(-1)
	for _, v := range s.buf {
		m = math.Max(m, v)
	}
	return m
}

// Min returns the smallest value in the full window, or 0 until ready.
func (s *SMA) Min() float64 {
	if !s.Ready() {
		return 0
	}
	m := math.Inf(1)
	for _, v := range s.buf {
		m = math.Min(m, v)
	}
	return m
}
