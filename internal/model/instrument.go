package model

// Params carries the per-instrument tunables some rules read.
// Zero values mean "not configured".
type Params struct {
	MinVolume      int64   `yaml:"min_volume" json:"min_volume,omitempty"`
	StrikeDistance float64 `yaml:"strike_distance" json:"strike_distance,omitempty"`
	OptionPriceMin float64 `yaml:"option_price_min" json:"option_price_min,omitempty"`
	OptionPriceMax float64 `yaml:"option_price_max" json:"option_price_max,omitempty"`
}

// Instrument is one entry of the scanned universe.
type Instrument struct {
	Symbol string `yaml:"symbol" json:"symbol"`
	Name   string `yaml:"name" json:"name,omitempty"`
	Params `yaml:",inline"`
}

// Key returns the instrument's ledger identity.
func (i *Instrument) Key() string {
	return i.Symbol
}
