package utils

import (
	"testing"
	"time"
)

func TestDurationTrackerPercentile(t *testing.T) {
	tracker := NewDurationTracker(10)
	durations := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 30 * time.Millisecond, 40 * time.Millisecond, 50 * time.Millisecond}
	for _, d := range durations {
		tracker.Observe(d)
	}

	if tracker.Count() != len(durations) {
		t.Fatalf("expected count %d, got %d", len(durations), tracker.Count())
	}

	p95 := tracker.Percentile(95)
	if p95 < 40*time.Millisecond {
		t.Fatalf("expected percentile >= 40ms, got %v", p95)
	}
	if max := tracker.Percentile(100); max != 50*time.Millisecond {
		t.Fatalf("expected max 50ms, got %v", max)
	}
	mean := tracker.Mean()
	if mean < 29*time.Millisecond || mean > 31*time.Millisecond {
		t.Fatalf("expected mean around 30ms, got %v", mean)
	}
}

func TestDurationTrackerBoundedSize(t *testing.T) {
	tracker := NewDurationTracker(3)
	for i := 0; i < 10; i++ {
		tracker.Observe(time.Duration(i) * time.Millisecond)
	}
	if tracker.Count() != 3 {
		t.Fatalf("expected tracker size 3, got %d", tracker.Count())
	}
	if min := tracker.Percentile(0); min != 7*time.Millisecond {
		t.Fatalf("expected oldest samples dropped, min %v", min)
	}
}

func TestDurationTrackerEmpty(t *testing.T) {
	tracker := NewDurationTracker(0)
	if tracker.Percentile(50) != 0 || tracker.Mean() != 0 {
		t.Fatalf("expected zero durations for empty tracker")
	}
}
