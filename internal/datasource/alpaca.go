package datasource

import (
	"context"
	"fmt"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"equity-alerts/internal/model"
	"equity-alerts/internal/series"
)

// barGetter is the part of *marketdata.Client the source uses.
type barGetter interface {
	GetBars(symbol string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error)
}

// Alpaca reads bars from the Alpaca market data v2 API.
type Alpaca struct {
	client barGetter
	feed   marketdata.Feed
	loc    *time.Location
	now    func() time.Time
}

// AlpacaConfig configures the Alpaca source.
type AlpacaConfig struct {
	APIKey    string
	APISecret string
	Feed      string // "iex" (free) or "sip"
}

// NewAlpaca creates an Alpaca source.
func NewAlpaca(cfg AlpacaConfig, loc *time.Location) *Alpaca {
	client := marketdata.NewClient(marketdata.ClientOpts{
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
	})
	return newAlpaca(client, cfg.Feed, loc)
}

func newAlpaca(client barGetter, feed string, loc *time.Location) *Alpaca {
	if feed == "" {
		feed = marketdata.IEX
	}
	return &Alpaca{client: client, feed: feed, loc: loc, now: time.Now}
}

func (a *Alpaca) Name() string { return "alpaca" }

func alpacaTimeFrame(i Interval) (marketdata.TimeFrame, error) {
	switch i {
	case OneMinute:
		return marketdata.OneMin, nil
	case FiveMinutes:
		return marketdata.NewTimeFrame(5, marketdata.Min), nil
	case FifteenMinute:
		return marketdata.NewTimeFrame(15, marketdata.Min), nil
	case OneHour:
		return marketdata.OneHour, nil
	case OneDay:
		return marketdata.OneDay, nil
	}
	return marketdata.TimeFrame{}, fmt.Errorf("alpaca: unsupported interval %q", i)
}

// FetchBars runs the SDK call on its own goroutine so ctx can abandon it;
// the SDK call itself takes no context.
func (a *Alpaca) FetchBars(ctx context.Context, symbol string, interval Interval, rng Range) (*series.Series, error) {
	tf, err := alpacaTimeFrame(interval)
	if err != nil {
		return nil, err
	}
	end := a.now()
	req := marketdata.GetBarsRequest{
		TimeFrame:  tf,
		Start:      end.Add(-rng.Lookback()),
		End:        end,
		Feed:       a.feed,
		Adjustment: marketdata.Raw,
	}

	type result struct {
		bars []marketdata.Bar
		err  error
	}
	done := make(chan result, 1)
	go func() {
		bars, err := a.client.GetBars(symbol, req)
		done <- result{bars: bars, err: err}
	}()

	var res result
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("fetch %s: %w", symbol, ctx.Err())
	case res = <-done:
	}
	if res.err != nil {
		return nil, fmt.Errorf("fetch %s: %w", symbol, res.err)
	}
	if len(res.bars) == 0 {
		return nil, fmt.Errorf("fetch %s: %w", symbol, ErrNoData)
	}

	bars := make([]model.Bar, len(res.bars))
	for i, b := range res.bars {
		bars[i] = model.Bar{
			TS:     b.Timestamp,
			Open:   b.Open,
			High:   b.High,
			Low:    b.Low,
			Close:  b.Close,
			Volume: int64(b.Volume),
		}
	}
	return series.New(symbol, bars, a.loc), nil
}
