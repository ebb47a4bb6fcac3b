// Package chart renders a PNG price chart of the series an alert fired on.
package chart

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	gochart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"equity-alerts/internal/model"
	"equity-alerts/internal/series"
)

// ErrNotEnoughData is returned for series with fewer than two bars.
var ErrNotEnoughData = errors.New("chart: need at least two bars")

// Renderer draws close plus fast/slow EMA lines with the alert marked.
type Renderer struct {
	Width    int
	Height   int
	FastSpan int
	SlowSpan int
	MaxBars  int
}

// NewRenderer returns a renderer with 9/20 EMA overlays and 1024x512 output.
func NewRenderer() *Renderer {
	return &Renderer{Width: 1024, Height: 512, FastSpan: 9, SlowSpan: 20, MaxBars: 120}
}

// Render draws s with a at its evidence point (or the last bar) annotated.
func (r *Renderer) Render(s *series.Series, a model.Alert) ([]byte, error) {
	if s.Len() < 2 {
		return nil, ErrNotEnoughData
	}

	closes := s.Values(series.Close)
	fast := s.EMA(series.Close, r.FastSpan)
	slow := s.EMA(series.Close, r.SlowSpan)
	times := make([]time.Time, s.Len())
	for i := range times {
		times[i] = s.At(i).TS
	}

	start := 0
	if r.MaxBars > 1 && s.Len() > r.MaxBars {
		start = s.Len() - r.MaxBars
	}
	times, closes, fast, slow = times[start:], closes[start:], fast[start:], slow[start:]

	markAt, markPrice := times[len(times)-1], closes[len(closes)-1]
	if a.Evidence != nil {
		markAt, markPrice = a.Evidence.At, a.Evidence.Price
	}

	formatter := gochart.TimeMinuteValueFormatter
	if len(times) > 1 && times[len(times)-1].Sub(times[0]) > 72*time.Hour {
		formatter = gochart.TimeDateValueFormatter
	}

	graph := gochart.Chart{
		Title:  fmt.Sprintf("%s %s (%s)", a.Instrument, a.Rule, a.Session),
		Width:  r.Width,
		Height: r.Height,
		Background: gochart.Style{
			Padding: gochart.Box{Top: 40, Left: 10, Right: 10, Bottom: 10},
		},
		XAxis: gochart.XAxis{ValueFormatter: formatter},
		YAxis: gochart.YAxis{Name: "Price"},
		Series: []gochart.Series{
			gochart.TimeSeries{
				Name:    "Close",
				XValues: times,
				YValues: closes,
				Style:   gochart.Style{StrokeColor: drawing.ColorBlack, StrokeWidth: 1.5},
			},
			gochart.TimeSeries{
				Name:    fmt.Sprintf("EMA%d", r.FastSpan),
				XValues: times,
				YValues: fast,
				Style:   gochart.Style{StrokeColor: drawing.ColorBlue, StrokeWidth: 1},
			},
			gochart.TimeSeries{
				Name:    fmt.Sprintf("EMA%d", r.SlowSpan),
				XValues: times,
				YValues: slow,
				Style:   gochart.Style{StrokeColor: drawing.ColorRed, StrokeWidth: 1},
			},
			gochart.AnnotationSeries{
				Annotations: []gochart.Value2{{
					XValue: gochart.TimeToFloat64(markAt),
					YValue: markPrice,
					Label:  a.Rule,
				}},
			},
		},
	}
	graph.Elements = []gochart.Renderable{gochart.Legend(&graph)}

	var buf bytes.Buffer
	if err := graph.Render(gochart.PNG, &buf); err != nil {
		return nil, fmt.Errorf("render chart: %w", err)
	}
	return buf.Bytes(), nil
}
