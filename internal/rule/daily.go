package rule

import (
	"fmt"

	"equity-alerts/internal/model"
	"equity-alerts/internal/series"
)

// CloseVsSMA fires while the last close sits on one side of an SMA of close.
// When volumePeriod > 0 the last volume must also exceed the rolling mean
// volume over that many bars.
type CloseVsSMA struct {
	name         string
	dir          Direction
	period       int
	volumePeriod int
}

// NewCloseVsSMA creates a close-versus-average rule.
func NewCloseVsSMA(name string, dir Direction, period, volumePeriod int) *CloseVsSMA {
	return &CloseVsSMA{name: name, dir: dir, period: period, volumePeriod: volumePeriod}
}

func (c *CloseVsSMA) Name() string { return c.name }
func (c *CloseVsSMA) MinBars() int { return max(c.period, c.volumePeriod, 1) }

func (c *CloseVsSMA) Evaluate(s *series.Series, _ model.Params) Outcome {
	if s.Len() < c.MinBars() {
		return NotFired()
	}
	i := s.Len() - 1
	last := s.At(i)
	sma := s.SMA(series.Close, c.period)[i]
	if !sma.Valid {
		return NotFired()
	}

	holds := last.Close > sma.Float64
	verb := "above"
	if c.dir == Down {
		holds = last.Close < sma.Float64
		verb = "below"
	}
	if !holds {
		return NotFired()
	}

	why := fmt.Sprintf("close %.2f %s SMA%d %.2f", last.Close, verb, c.period, sma.Float64)
	if c.volumePeriod > 0 {
		vol := s.RollingMean(series.Volume, c.volumePeriod)[i]
		if !vol.Valid || float64(last.Volume) <= vol.Float64 {
			return NotFired()
		}
		why += fmt.Sprintf(" with volume %d over avg %.0f", last.Volume, vol.Float64)
	}
	return Fire(last.Close, last.TS, why)
}

// InsideBar fires when the last bar's range is strictly inside the previous
// bar's range: high < previous high and low > previous low.
type InsideBar struct {
	name string
}

// NewInsideBar creates an inside-bar rule.
func NewInsideBar(name string) *InsideBar { return &InsideBar{name: name} }

func (b *InsideBar) Name() string { return b.name }
func (b *InsideBar) MinBars() int { return 2 }

func (b *InsideBar) Evaluate(s *series.Series, _ model.Params) Outcome {
	if s.Len() < 2 {
		return NotFired()
	}
	last, _ := s.Prev(0)
	prev, _ := s.Prev(1)
	if last.High < prev.High && last.Low > prev.Low {
		return Fire(last.Close, last.TS, fmt.Sprintf("range %.2f-%.2f inside previous %.2f-%.2f",
			last.Low, last.High, prev.Low, prev.High))
	}
	return NotFired()
}
