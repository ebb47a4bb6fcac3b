package rule

import (
	"fmt"

	"equity-alerts/internal/model"
	"equity-alerts/internal/series"
)

// Average selects how crossover lines are smoothed.
type Average int

const (
	AvgEMA Average = iota
	AvgSMA
)

func (a Average) String() string {
	if a == AvgSMA {
		return "SMA"
	}
	return "EMA"
}

// Crossover fires when a fast moving average of close crosses a slow one on
// the last bar.
//
// Up: fast <= slow on the previous bar and fast > slow now.
// Down: fast >= slow on the previous bar and fast < slow now.
//
// With AvgSMA a fast period of 1 is the close itself, so "close crosses
// above SMA20" is Crossover{fast: 1, slow: 20}.
type Crossover struct {
	name string
	avg  Average
	fast int
	slow int
	dir  Direction
}

// NewCrossover creates a crossover rule.
func NewCrossover(name string, avg Average, fast, slow int, dir Direction) *Crossover {
	return &Crossover{name: name, avg: avg, fast: fast, slow: slow, dir: dir}
}

func (c *Crossover) Name() string { return c.name }

// MinBars is 2 for EMA lines (defined from the first bar) and slow+1 for SMA
// lines (the previous bar's slow average must exist).
func (c *Crossover) MinBars() int {
	if c.avg == AvgSMA {
		return max(c.slow, c.fast) + 1
	}
	return 2
}

func (c *Crossover) lines(s *series.Series) (fast, slow []float64) {
	if c.avg == AvgSMA {
		return series.Floats(s.SMA(series.Close, c.fast)), series.Floats(s.SMA(series.Close, c.slow))
	}
	return s.EMA(series.Close, c.fast), s.EMA(series.Close, c.slow)
}

func (c *Crossover) Evaluate(s *series.Series, _ model.Params) Outcome {
	if s.Len() < c.MinBars() {
		return NotFired()
	}
	fast, slow := c.lines(s)
	i := s.Len() - 1

	crossed := CrossedAbove(fast, slow, i)
	verb := "above"
	if c.dir == Down {
		crossed = CrossedBelow(fast, slow, i)
		verb = "below"
	}
	if !crossed {
		return NotFired()
	}

	last := s.At(i)
	return Fire(last.Close, last.TS, fmt.Sprintf("%s%d %.4f crossed %s %s%d %.4f",
		c.avg, c.fast, fast[i], verb, c.avg, c.slow, slow[i]))
}
