package model

import (
	"encoding/json"
	"time"
)

// Bar is one OHLCV sample for an instrument at a fixed interval.
// Prices are in the instrument's quote currency (USD for US equities).
type Bar struct {
	TS     time.Time `json:"ts"` // bucket start, exchange-local location
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// Red reports whether the bar closed below its open.
func (b Bar) Red() bool { return b.Close < b.Open }

// JSON returns the JSON-encoded bar (ignoring errors).
func (b *Bar) JSON() []byte {
	data, _ := json.Marshal(b)
	return data
}
