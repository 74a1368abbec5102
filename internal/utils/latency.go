package utils

import (
	"sort"
	"sync"
	"time"
)

// LatencyTracker keeps a bounded window of recent durations per key and
// computes percentiles over it.
type LatencyTracker struct {
	mu      sync.RWMutex
	samples map[string][]time.Duration
	maxSize int
}

// NewLatencyTracker creates a tracker storing up to maxSize samples per key.
func NewLatencyTracker(maxSize int) *LatencyTracker {
	if maxSize <= 0 {
		maxSize = 512
	}
	return &LatencyTracker{maxSize: maxSize, samples: make(map[string][]time.Duration)}
}

// Observe records a new duration under key, evicting the oldest sample when full.
func (l *LatencyTracker) Observe(key string, d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	window := append(l.samples[key], d)
	if len(window) > l.maxSize {
		window = window[len(window)-l.maxSize:]
	}
	l.samples[key] = window
}

// Percentile returns the percentile (0-100) duration for key. Zero when no samples exist.
func (l *LatencyTracker) Percentile(key string, p float64) time.Duration {
	l.mu.RLock()
	window := append([]time.Duration(nil), l.samples[key]...)
	l.mu.RUnlock()

	if len(window) == 0 {
		return 0
	}
	sort.Slice(window, func(i, j int) bool { return window[i] < window[j] })
	switch {
	case p <= 0:
		return window[0]
	case p >= 100:
		return window[len(window)-1]
	}
	index := int((p / 100.0) * float64(len(window)-1))
	return window[index]
}

// Count returns the number of samples recorded under key.
func (l *LatencyTracker) Count(key string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.samples[key])
}
