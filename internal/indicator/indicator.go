// Package indicator provides streaming technical indicators over float64 samples.
//
// Each indicator is fed one value at a time and exposes its current reading.
// The series package drives them across a whole bar column to build the
// per-bar views the rules read.
package indicator

// Indicator is the interface for all streaming indicators.
type Indicator interface {
	// Name returns the indicator name (e.g., "SMA_20", "EMA_9").
	Name() string

	// Update feeds the next sample and recalculates.
	Update(v float64)

	// Value returns the current calculated value. Returns 0 if not enough data.
	Value() float64

	// Ready returns true when enough data has been accumulated.
	Ready() bool
}

// Apply feeds values through ind and returns the reading after each sample
// together with whether the indicator was ready at that point.
func Apply(ind Indicator, values []float64) ([]float64, []bool) {
	out := make([]float64, len(values))
	ready := make([]bool, len(values))
	for i, v := range values {
		ind.Update(v)
		out[i] = ind.Value()
		ready[i] = ind.Ready()
	}
	return out, ready
}
