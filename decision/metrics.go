package decision

import (
	"sync"
	"time"

	"github.com/hupe1980/agentrelay/core"
)

// InMemoryMetrics is the default core.MetricsStore: rolling per-target
// aggregates held in a mutex-guarded map.
type InMemoryMetrics struct {
	mu      sync.RWMutex
	metrics map[string]core.PerformanceMetrics
}

// Compile-time interface assertion.
var _ core.MetricsStore = (*InMemoryMetrics)(nil)

// NewInMemoryMetrics creates an empty metrics store.
func NewInMemoryMetrics() *InMemoryMetrics {
	return &InMemoryMetrics{metrics: make(map[string]core.PerformanceMetrics)}
}

// Get returns the metrics for a target, false when no history exists.
func (s *InMemoryMetrics) Get(target string) (core.PerformanceMetrics, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.metrics[target]
	return m, ok
}

// Record merges one execution sample into the target's rolling metrics.
// Averages are maintained incrementally so no sample history is kept.
func (s *InMemoryMetrics) Record(target string, sample core.PerformanceSample) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.metrics[target]
	m.TotalUsage++
	n := float64(m.TotalUsage)

	outcome := 0.0
	if sample.Success {
		outcome = 1.0
	}
	m.SuccessRate += (outcome - m.SuccessRate) / n
	m.ErrorRate = 1 - m.SuccessRate
	m.AverageResponseTime += (sample.ResponseTime - m.AverageResponseTime) / time.Duration(m.TotalUsage)
	m.LastUsed = time.Now()

	s.metrics[target] = m
}

// Snapshot returns a copy of all per-target metrics.
func (s *InMemoryMetrics) Snapshot() map[string]core.PerformanceMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]core.PerformanceMetrics, len(s.metrics))
	for k, v := range s.metrics {
		out[k] = v
	}
	return out
}
