package model

import (
	"encoding/json"
	"time"
)

// Evidence is what a rule saw when it fired.
type Evidence struct {
	Price     float64   `json:"price"`
	At        time.Time `json:"at"`
	Rationale string    `json:"rationale"`
}

// Alert is a fired rule, after session dedup, ready for delivery.
type Alert struct {
	ID         string      `json:"id"`
	Instrument string      `json:"instrument"`
	Rule       string      `json:"rule"`
	Profile    string      `json:"profile,omitempty"`
	Session    SessionDate `json:"session"`
	FiredAt    time.Time   `json:"fired_at"`
	Evidence   *Evidence   `json:"evidence,omitempty"`
}

// Key returns the ledger key for this alert: "instrument|rule".
func (a *Alert) Key() string {
	return LedgerKey(a.Instrument, a.Rule)
}

// JSON returns the JSON-encoded alert (ignoring errors).
func (a *Alert) JSON() []byte {
	b, _ := json.Marshal(a)
	return b
}

// LedgerKey joins an instrument and rule name into a dedup key.
func LedgerKey(instrument, rule string) string {
	return instrument + "|" + rule
}
