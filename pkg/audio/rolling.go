package audio

import (
	"math"
	"sync"
)

// VU meter range
const (
	VuMinDb = -40.0
	VuMaxDb = 0.0

	// Ratios below this are reported as silence
	vuFloorRatio = 0.30
)

// RollingAverage keeps the mean and maximum of the last n samples
type RollingAverage struct {
	mu     sync.Mutex
	values []float64
	next   int
	filled bool
}

// NewRollingAverage creates a window of n samples
func NewRollingAverage(n int) *RollingAverage {
	if n < 1 {
		n = 1
	}
	return &RollingAverage{values: make([]float64, n)}
}

// Add records a sample, evicting the oldest once the window is full
func (r *RollingAverage) Add(v float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values[r.next] = v
	r.next++
	if r.next == len(r.values) {
		r.next = 0
		r.filled = true
	}
}

func (r *RollingAverage) window() []float64 {
	if r.filled {
		return r.values
	}
	return r.values[:r.next]
}

// Average returns the mean of the window, or 0 when empty
func (r *RollingAverage) Average() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	w := r.window()
	if len(w) == 0 {
		return 0
	}
	var sum float64
	for _, v := range w {
		sum += v
	}
	return sum / float64(len(w))
}

// Max returns the largest value in the window, or 0 when empty
func (r *RollingAverage) Max() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	w := r.window()
	if len(w) == 0 {
		return 0
	}
	m := math.Inf(-1)
	for _, v := range w {
		m = math.Max(m, v)
	}
	return m
}

// Reset empties the window
func (r *RollingAverage) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next = 0
	r.filled = false
}

// VuRatio maps a peak amplitude onto the meter's [0, 1] scale
func VuRatio(peak float32) float64 {
	db := LinearToDb(float64(peak))
	db = math.Max(VuMinDb, math.Min(VuMaxDb, db))
	ratio := (db - VuMinDb) / (VuMaxDb - VuMinDb)
	if ratio < vuFloorRatio {
		return 0
	}
	return math.Min(ratio, 1)
}
