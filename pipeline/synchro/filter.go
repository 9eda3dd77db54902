package synchro

import (
	"math"
	"sort"
)

// rollingMAD screens one channel for outliers against a rolling window of
// recently accepted samples, using median absolute deviation. MAD is robust
// to the outliers it is trying to catch, unlike a mean/stddev filter.
type rollingMAD struct {
	window    int
	threshold float64 // multiples of MAD
	values    []float64
	pos       int
	filled    bool
}

func newRollingMAD(window int, threshold float64) *rollingMAD {
	if window < 3 {
		window = 3
	}
	return &rollingMAD{
		window:    window,
		threshold: threshold,
		values:    make([]float64, 0, window),
	}
}

// Check reports whether v is an outlier against the current window.
// Accepted values are added to the window; rejected values are not, so a
// burst of bad samples cannot drag the baseline toward itself.
func (r *rollingMAD) Check(v float64) (outlier bool) {
	// Not enough history to judge; accept and learn
	if len(r.values) < r.window {
		r.values = append(r.values, v)
		return false
	}

	med := median(r.values)
	deviations := make([]float64, len(r.values))
	for i, x := range r.values {
		deviations[i] = math.Abs(x - med)
	}
	mad := median(deviations)

	// A flat window (MAD ~ 0) cannot discriminate; accept the sample
	const epsilon = 1e-9
	if mad > epsilon && math.Abs(v-med) > r.threshold*mad {
		return true
	}

	r.values[r.pos] = v
	r.pos = (r.pos + 1) % r.window
	r.filled = true
	return false
}

func median(values []float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
