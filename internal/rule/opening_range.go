package rule

import (
	"fmt"
	"time"

	"equity-alerts/internal/model"
	"equity-alerts/internal/series"
)

// OpeningRange fires when the last close breaks out of the opening window of
// the last session on above-average volume.
//
// The window is [start, start+window] in exchange time, both inclusive.
// Up: close > window high. Down: close < window low. In both directions the
// last bar's volume must exceed the rolling mean volume over volumePeriod
// bars, the mean including the last bar itself.
type OpeningRange struct {
	name         string
	dir          Direction
	start        model.TimeOfDay
	window       time.Duration
	volumePeriod int
}

// NewOpeningRange creates an opening-range rule anchored at the session open.
func NewOpeningRange(name string, dir Direction, start model.TimeOfDay, window time.Duration, volumePeriod int) *OpeningRange {
	return &OpeningRange{name: name, dir: dir, start: start, window: window, volumePeriod: volumePeriod}
}

func (o *OpeningRange) Name() string { return o.name }
func (o *OpeningRange) MinBars() int { return max(o.volumePeriod, 1) }

func (o *OpeningRange) Evaluate(s *series.Series, _ model.Params) Outcome {
	if s.Len() < o.MinBars() {
		return NotFired()
	}
	last, err := s.Last()
	if err != nil {
		return NotFired()
	}

	window := s.LastSession().Between(o.start, o.start.Add(o.window))
	if window.Empty() {
		return NotFired()
	}

	vol := s.RollingMean(series.Volume, o.volumePeriod)[s.Len()-1]
	if !vol.Valid || float64(last.Volume) <= vol.Float64 {
		return NotFired()
	}

	if o.dir == Down {
		low, _ := window.Min(series.Low)
		if last.Close >= low {
			return NotFired()
		}
		return Fire(last.Close, last.TS, fmt.Sprintf("close %.2f below opening-range low %.2f on volume %d vs avg %.0f",
			last.Close, low, last.Volume, vol.Float64))
	}

	high, _ := window.Max(series.High)
	if last.Close <= high {
		return NotFired()
	}
	return Fire(last.Close, last.TS, fmt.Sprintf("close %.2f above opening-range high %.2f on volume %d vs avg %.0f",
		last.Close, high, last.Volume, vol.Float64))
}
