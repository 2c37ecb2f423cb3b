// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package scoring

import "math"

// Tracker accumulates mean and variance online via Welford's algorithm.
// It is used offline (by the training pipeline that produces model
// artifacts, outside this module's scope) and as a test helper here; the
// shipped model artifact carries its Stat values already baked in, never
// refit at scoring time.
type Tracker struct {
	Count int64
	Mean  float64
	M2    float64
}

// Update folds a new observation into the running mean/variance.
func (t *Tracker) Update(value float64) {
	t.Count++
	delta := value - t.Mean
	t.Mean += delta / float64(t.Count)
	delta2 := value - t.Mean
	t.M2 += delta * delta2
}

// Variance returns the population variance of all observations seen so
// far, or 0 if fewer than 2 have been recorded.
func (t *Tracker) Variance() float64 {
	if t.Count < 2 {
		return 0
	}
	return t.M2 / float64(t.Count)
}

// StdDev returns the population standard deviation.
func (t *Tracker) StdDev() float64 {
	v := t.Variance()
	if v <= 0 {
		return 0
	}
	return math.Sqrt(v)
}

// Stat is a baked-in normalization statistic: mean and standard deviation
// computed once, offline, over the full training population — never
// refit at scoring time. This is the fix for the reference's documented
// defect of fitting a scaler on the first single sample seen at runtime.
type Stat struct {
	Mean   float64
	StdDev float64
}

// Standardize converts a raw value to a z-score using baked-in population
// statistics. A StdDev of 0 (a constant training feature) standardizes to
// 0 rather than dividing by zero.
func (s Stat) Standardize(value float64) float64 {
	if s.StdDev == 0 {
		return 0
	}
	return (value - s.Mean) / s.StdDev
}
