package datasource

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	_ "time/tzdata"
)

const chartJSON = `{"chart":{"result":[{
  "timestamp":[1780320600,1780320660,1780320720],
  "indicators":{"quote":[{
    "open":[100.0,100.5,null],
    "high":[101.0,101.5,null],
    "low":[99.5,100.0,null],
    "close":[100.5,101.0,null],
    "volume":[1200,900,null]
  }]}
}],"error":null}}`

func newTestYahoo(t *testing.T, h http.HandlerFunc) *Yahoo {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	ny, _ := time.LoadLocation("America/New_York")
	y := NewYahoo(srv.URL, ny, 5*time.Second)
	y.retry = RetryConfig{Attempts: 3, BaseDelay: time.Millisecond}
	y.now = func() time.Time { return time.Unix(1780321000, 0) }
	return y
}

func TestYahoo_FetchBars(t *testing.T) {
	y := newTestYahoo(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v8/finance/chart/SPY" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("interval") != "60m" {
			t.Errorf("expected interval 60m, got %s", r.URL.Query().Get("interval"))
		}
		if r.URL.Query().Get("period2") != "1780321000" {
			t.Errorf("unexpected period2 %s", r.URL.Query().Get("period2"))
		}
		w.Write([]byte(chartJSON))
	})

	s, err := y.FetchBars(context.Background(), "SPY", OneHour, OneDayRange)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Len() != 2 {
		t.Fatalf("expected 2 bars (null row dropped), got %d", s.Len())
	}
	last, _ := s.Last()
	if last.Close != 101.0 || last.Volume != 900 {
		t.Errorf("unexpected last bar %+v", last)
	}
	if last.TS.Location().String() != "America/New_York" {
		t.Errorf("expected exchange location, got %s", last.TS.Location())
	}
}

func TestYahoo_NotFoundIsNoData(t *testing.T) {
	y := newTestYahoo(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found"}}}`))
	})
	if _, err := y.FetchBars(context.Background(), "XYZ", OneMinute, OneDayRange); !errors.Is(err, ErrNoData) {
		t.Errorf("expected ErrNoData, got %v", err)
	}
}

func TestYahoo_EmptyResultIsNoData(t *testing.T) {
	y := newTestYahoo(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"chart":{"result":[{"timestamp":[],"indicators":{"quote":[{}]}}],"error":null}}`))
	})
	if _, err := y.FetchBars(context.Background(), "XYZ", OneMinute, OneDayRange); !errors.Is(err, ErrNoData) {
		t.Errorf("expected ErrNoData, got %v", err)
	}
}

func TestYahoo_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	y := newTestYahoo(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(chartJSON))
	})
	if _, err := y.FetchBars(context.Background(), "SPY", OneMinute, OneDayRange); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 calls, got %d", calls.Load())
	}
}

func TestYahoo_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	y := newTestYahoo(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte("denied"))
	})
	_, err := y.FetchBars(context.Background(), "SPY", OneMinute, OneDayRange)
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Errorf("expected 401 error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 call, got %d", calls.Load())
	}
}
