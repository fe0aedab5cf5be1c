// Package adaptive tunes the number of in-flight moderation calls from
// observed success rate and latency. A fixed worker count either underuses
// a healthy dependency or floods a struggling one; this feedback loop lets
// throughput track real dependency health.
package adaptive

import (
	"sync"
	"time"
)

// Manager holds the shared concurrency state, bounded to [min, max] at all
// times. It is updated after every processed chunk and read to size the next.
type Manager struct {
	mu sync.Mutex

	min     int
	max     int
	current int

	targetLatency time.Duration
	successRate   float64
	avgResponseMs float64
	samples       int
}

// Metrics is a read-only snapshot of the manager state.
type Metrics struct {
	Concurrency   int
	SuccessRate   float64
	AvgResponseMs float64
}

// NewManager creates a manager starting at optimal, clamped to [min, max].
func NewManager(min, optimal, max int, targetLatency time.Duration) *Manager {
	if min < 1 {
		min = 1
	}
	if max < min {
		max = min
	}
	if optimal < min {
		optimal = min
	}
	if optimal > max {
		optimal = max
	}
	if targetLatency <= 0 {
		targetLatency = 2 * time.Second
	}
	return &Manager{
		min:           min,
		max:           max,
		current:       optimal,
		targetLatency: targetLatency,
		successRate:   1,
	}
}

// Concurrency returns the current level for sizing the next chunk.
func (m *Manager) Concurrency() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Snapshot returns the current tuning metrics.
func (m *Manager) Snapshot() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Metrics{
		Concurrency:   m.current,
		SuccessRate:   m.successRate,
		AvgResponseMs: m.avgResponseMs,
	}
}

// UpdateMetrics folds a chunk outcome into the rolling state and retunes the
// level. Rules, in priority order: a low success rate backs off
// multiplicatively; a high success rate with latency under target grows by
// one; latency well past target shrinks by one; otherwise hold.
func (m *Manager) UpdateMetrics(successCount, totalCount int, avgResponseMs float64) {
	if totalCount <= 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.successRate = float64(successCount) / float64(totalCount)
	m.avgResponseMs = avgResponseMs
	m.samples++

	target := float64(m.targetLatency.Milliseconds())

	switch {
	case m.successRate < 0.9:
		m.current = clamp(int(float64(m.current)*0.8), m.min, m.max)
	case m.successRate > 0.95 && m.avgResponseMs < target:
		m.current = clamp(m.current+1, m.min, m.max)
	case m.avgResponseMs > 1.5*target:
		m.current = clamp(m.current-1, m.min, m.max)
	}
}

func clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
