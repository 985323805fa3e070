package decision

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentrelay/core"
)

func TestCacheHitMissExpiry(t *testing.T) {
	c := NewCache(50 * time.Millisecond)

	_, ok := c.Get("k")
	assert.False(t, ok)

	c.Put("k", &core.DecisionResult{TargetName: "files", TargetType: core.TargetMCP})

	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "files", got.TargetName)

	time.Sleep(60 * time.Millisecond)
	_, ok = c.Get("k")
	assert.False(t, ok)

	stats := c.Stats()
	assert.EqualValues(t, 1, stats.Hits)
	assert.EqualValues(t, 2, stats.Misses)
	assert.EqualValues(t, 1, stats.Evictions)
}

func TestCacheReturnsCopy(t *testing.T) {
	c := NewCache(time.Minute)
	c.Put("k", &core.DecisionResult{TargetName: "files"})

	got, _ := c.Get("k")
	got.TargetName = "mutated"

	again, _ := c.Get("k")
	assert.Equal(t, "files", again.TargetName)
}

func TestCacheZeroTTLDisablesCaching(t *testing.T) {
	c := NewCache(0)
	c.Put("k", &core.DecisionResult{TargetName: "files"})

	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestCacheInvalidateAndClear(t *testing.T) {
	c := NewCache(time.Minute)
	c.Put("a", &core.DecisionResult{TargetName: "x"})
	c.Put("b", &core.DecisionResult{TargetName: "y"})

	c.Invalidate("a")
	_, ok := c.Get("a")
	assert.False(t, ok)

	c.Clear()
	assert.Equal(t, 0, c.Stats().Entries)
}

func TestCacheCleanupSweep(t *testing.T) {
	c := NewCache(20 * time.Millisecond)
	c.Put("k", &core.DecisionResult{TargetName: "files"})

	c.StartCleanup(10 * time.Millisecond)
	defer c.StopCleanup()

	require.Eventually(t, func() bool {
		return c.Stats().Entries == 0
	}, time.Second, 5*time.Millisecond)
}

func TestMetricsRollingAggregates(t *testing.T) {
	m := NewInMemoryMetrics()

	_, ok := m.Get("t")
	assert.False(t, ok)

	m.Record("t", core.PerformanceSample{ResponseTime: 100 * time.Millisecond, Success: true})
	m.Record("t", core.PerformanceSample{ResponseTime: 300 * time.Millisecond, Success: false})

	got, ok := m.Get("t")
	require.True(t, ok)
	assert.EqualValues(t, 2, got.TotalUsage)
	assert.InDelta(t, 0.5, got.SuccessRate, 1e-9)
	assert.InDelta(t, 0.5, got.ErrorRate, 1e-9)
	assert.Equal(t, 200*time.Millisecond, got.AverageResponseTime)
	assert.False(t, got.LastUsed.IsZero())

	snap := m.Snapshot()
	assert.Len(t, snap, 1)
}
