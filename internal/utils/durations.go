package utils

import (
	"math"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
)

// DurationTracker keeps a bounded window of run durations for quick summaries.
type DurationTracker struct {
	mu      sync.RWMutex
	samples []float64
	maxSize int
}

// NewDurationTracker creates a tracker storing up to maxSize samples.
func NewDurationTracker(maxSize int) *DurationTracker {
	if maxSize <= 0 {
		maxSize = 256
	}
	return &DurationTracker{maxSize: maxSize}
}

// Observe records a new duration.
func (d *DurationTracker) Observe(duration time.Duration) {
	if duration < 0 {
		duration = 0
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	d.samples = append(d.samples, duration.Seconds())
	if over := len(d.samples) - d.maxSize; over > 0 {
		d.samples = append(d.samples[:0], d.samples[over:]...)
	}
}

// Percentile returns the empirical percentile (0-100). Returns zero if no samples.
func (d *DurationTracker) Percentile(p float64) time.Duration {
	d.mu.RLock()
	sorted := append([]float64(nil), d.samples...)
	d.mu.RUnlock()

	if len(sorted) == 0 {
		return 0
	}
	sort.Float64s(sorted)
	switch {
	case p <= 0:
		return seconds(sorted[0])
	case p >= 100:
		return seconds(sorted[len(sorted)-1])
	}
	return seconds(stat.Quantile(p/100, stat.Empirical, sorted, nil))
}

// Mean returns the average observed duration.
func (d *DurationTracker) Mean() time.Duration {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if len(d.samples) == 0 {
		return 0
	}
	return seconds(stat.Mean(d.samples, nil))
}

// Count returns number of samples recorded.
func (d *DurationTracker) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.samples)
}

func seconds(s float64) time.Duration {
	return time.Duration(math.Round(s * float64(time.Second)))
}
