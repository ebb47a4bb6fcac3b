package rule

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"equity-alerts/internal/model"
	"equity-alerts/internal/series"
)

const confirmTail = 5 * time.Minute

// FirstRedOpen fires when the session opens weak and stays weak:
//   - the opening candle, aggregated over [start, start+first) with 1m bars,
//     closes below its open;
//   - the bar stamped at confirm also closes below its open;
//   - volume from start through confirm+5m reaches the instrument's MinVolume.
//
// Bars after confirm+5m are ignored, so a setup that misses the volume floor
// in the morning stays unfired for the rest of the day. Spot is the last
// close in that window. The rationale carries a suggested put strike of
// round(spot - StrikeDistance) and the option premium range when configured.
type FirstRedOpen struct {
	name    string
	start   model.TimeOfDay
	first   time.Duration
	confirm model.TimeOfDay
}

// NewFirstRedOpen creates a first-red-candle rule.
func NewFirstRedOpen(name string, start model.TimeOfDay, first time.Duration, confirm model.TimeOfDay) *FirstRedOpen {
	if first < time.Minute {
		first = time.Minute
	}
	return &FirstRedOpen{name: name, start: start, first: first, confirm: confirm}
}

func (f *FirstRedOpen) Name() string { return f.name }
func (f *FirstRedOpen) MinBars() int { return 2 }

func (f *FirstRedOpen) Evaluate(s *series.Series, p model.Params) Outcome {
	sess := s.LastSession().Between(f.start, f.confirm.Add(confirmTail))
	if sess.Len() < f.MinBars() {
		return NotFired()
	}

	opening := sess.Between(f.start, f.start.Add(f.first-time.Minute))
	if opening.Empty() {
		return NotFired()
	}
	first := opening.At(0)
	closing, _ := opening.Last()
	if closing.Close >= first.Open {
		return NotFired()
	}

	confirm := sess.Between(f.confirm, f.confirm)
	if confirm.Empty() || !confirm.At(0).Red() {
		return NotFired()
	}

	volume := int64(sess.Sum(series.Volume))
	if volume < p.MinVolume {
		return NotFired()
	}

	last, _ := sess.Last()
	spot := decimal.NewFromFloat(last.Close)
	why := fmt.Sprintf("opening candle %s and %s candle red, volume %d through %s",
		f.start, f.confirm, volume, f.confirm.Add(confirmTail))
	if p.StrikeDistance > 0 {
		strike := spot.Sub(decimal.NewFromFloat(p.StrikeDistance)).Round(0)
		why += fmt.Sprintf("; put strike %s (spot %s, distance %s)",
			strike.String(), spot.StringFixed(2), decimal.NewFromFloat(p.StrikeDistance).String())
	}
	if p.OptionPriceMax > 0 {
		why += fmt.Sprintf("; premium %s-%s",
			decimal.NewFromFloat(p.OptionPriceMin).StringFixed(2),
			decimal.NewFromFloat(p.OptionPriceMax).StringFixed(2))
	}
	return Fire(last.Close, last.TS, why)
}
