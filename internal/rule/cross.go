package rule

// CrossedAbove reports whether fast moved from at-or-below slow at i-1 to
// strictly above slow at i. NaN on either side never crosses.
func CrossedAbove(fast, slow []float64, i int) bool {
	if i < 1 || i >= len(fast) || i >= len(slow) {
		return false
	}
	return fast[i-1] <= slow[i-1] && fast[i] > slow[i]
}

// CrossedBelow reports whether fast moved from at-or-above slow at i-1 to
// strictly below slow at i.
func CrossedBelow(fast, slow []float64, i int) bool {
	if i < 1 || i >= len(fast) || i >= len(slow) {
		return false
	}
	return fast[i-1] >= slow[i-1] && fast[i] < slow[i]
}
