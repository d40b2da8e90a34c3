package detector

import "math"

// Welford accumulates mean and variance in a single pass.
type Welford struct {
	Count int
	Mean  float64
	M2    float64
}

// Add folds x into the running statistics. NaN values are ignored.
func (w *Welford) Add(x float64) {
	if math.IsNaN(x) {
		return
	}
	w.Count++
	delta := x - w.Mean
	w.Mean += delta / float64(w.Count)
	delta2 := x - w.Mean
	w.M2 += delta * delta2
}

// Std returns the sample standard deviation, or 0 with fewer than two values.
func (w *Welford) Std() float64 {
	if w.Count < 2 {
		return 0
	}
	return math.Sqrt(w.M2 / float64(w.Count-1))
}

// StdDev returns the sample standard deviation of xs.
func StdDev(xs []float64) float64 {
	var w Welford
	for _, x := range xs {
		w.Add(x)
	}
	return w.Std()
}
