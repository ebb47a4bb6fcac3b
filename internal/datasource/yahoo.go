package datasource

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"equity-alerts/internal/model"
	"equity-alerts/internal/series"
)

const yahooBaseURL = "https://query1.finance.yahoo.com"

// Yahoo reads bars from the public Yahoo Finance chart endpoint.
type Yahoo struct {
	baseURL string
	client  *http.Client
	loc     *time.Location
	retry   RetryConfig
	now     func() time.Time
}

// NewYahoo creates a Yahoo source. loc is the exchange zone bars are
// reported in. An empty baseURL uses the public endpoint.
func NewYahoo(baseURL string, loc *time.Location, timeout time.Duration) *Yahoo {
	if baseURL == "" {
		baseURL = yahooBaseURL
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Yahoo{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		loc:     loc,
		retry:   DefaultRetryConfig(),
		now:     time.Now,
	}
}

func (y *Yahoo) Name() string { return "yahoo" }

type yahooChart struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*int64   `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func yahooInterval(i Interval) string {
	if i == OneHour {
		return "60m"
	}
	return string(i)
}

func (y *Yahoo) FetchBars(ctx context.Context, symbol string, interval Interval, rng Range) (*series.Series, error) {
	end := y.now()
	q := url.Values{}
	q.Set("interval", yahooInterval(interval))
	q.Set("period1", strconv.FormatInt(end.Add(-rng.Lookback()).Unix(), 10))
	q.Set("period2", strconv.FormatInt(end.Unix(), 10))
	q.Set("includePrePost", "false")
	endpoint := fmt.Sprintf("%s/v8/finance/chart/%s?%s", y.baseURL, url.PathEscape(symbol), q.Encode())

	var chart yahooChart
	err := retryWithBackoff(ctx, y.retry, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return Permanent(err)
		}
		req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; equity-alerts)")

		resp, err := y.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			return Permanent(ErrNoData)
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return fmt.Errorf("yahoo: status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return Permanent(fmt.Errorf("yahoo: status %d: %s", resp.StatusCode, body))
		}
		chart = yahooChart{}
		if err := json.NewDecoder(resp.Body).Decode(&chart); err != nil {
			return Permanent(fmt.Errorf("yahoo: decode: %w", err))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", symbol, err)
	}

	if chart.Chart.Error != nil {
		return nil, fmt.Errorf("fetch %s: %s: %w", symbol, chart.Chart.Error.Description, ErrNoData)
	}
	if len(chart.Chart.Result) == 0 || len(chart.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, fmt.Errorf("fetch %s: %w", symbol, ErrNoData)
	}

	res := chart.Chart.Result[0]
	quote := res.Indicators.Quote[0]
	bars := make([]model.Bar, 0, len(res.Timestamp))
	for i, ts := range res.Timestamp {
		o, ok1 := pick(quote.Open, i)
		h, ok2 := pick(quote.High, i)
		l, ok3 := pick(quote.Low, i)
		c, ok4 := pick(quote.Close, i)
		if !ok1 || !ok2 || !ok3 || !ok4 {
			continue // provider gap
		}
		var vol int64
		if i < len(quote.Volume) && quote.Volume[i] != nil {
			vol = *quote.Volume[i]
		}
		bars = append(bars, model.Bar{TS: time.Unix(ts, 0), Open: o, High: h, Low: l, Close: c, Volume: vol})
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("fetch %s: %w", symbol, ErrNoData)
	}
	return series.New(symbol, bars, y.loc), nil
}

func pick(xs []*float64, i int) (float64, bool) {
	if i >= len(xs) || xs[i] == nil {
		return 0, false
	}
	return *xs[i], true
}
