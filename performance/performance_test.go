package performance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewMonitorDefaultsToMaxBatchUntilSampled(t *testing.T) {
	m := NewMonitor()
	assert.Equal(t, 100_000, m.BatchSize())
}

func TestBatchBoundsClampRecomputedSize(t *testing.T) {
	m := NewMonitor(WithBatchBounds(10, 50), WithTargetMemory(1), WithAverageItemSize(1))
	m.totalBytes.Store(1024 * 1024 * 1024)
	m.availBytes.Store(1024 * 1024 * 1024)
	m.recomputeBatchSize()

	assert.LessOrEqual(t, m.BatchSize(), 50)
	assert.GreaterOrEqual(t, m.BatchSize(), 10)
}

func TestRecomputeBatchSizeShrinksUnderMemoryPressure(t *testing.T) {
	m := NewMonitor(WithBatchBounds(1, 1_000_000), WithTargetMemory(1024), WithAverageItemSize(4096))

	m.totalBytes.Store(16 * 1024 * 1024 * 1024)
	m.availBytes.Store(8 * 1024 * 1024 * 1024)
	m.recomputeBatchSize()
	roomy := m.BatchSize()

	m.availBytes.Store(64 * 1024 * 1024)
	m.recomputeBatchSize()
	tight := m.BatchSize()

	assert.Less(t, tight, roomy, "batch size should shrink as available memory shrinks")
}

func TestGetStatsComputesUsageRatio(t *testing.T) {
	m := NewMonitor()
	m.totalBytes.Store(1000)
	m.availBytes.Store(250)

	stats := m.GetStats()
	assert.Equal(t, uint64(1000), stats.TotalBytes)
	assert.Equal(t, uint64(250), stats.AvailableBytes)
	assert.InDelta(t, 0.75, stats.UsageRatio, 0.0001)
	assert.True(t, stats.HasPressure(0.5))
	assert.False(t, stats.HasPressure(0.9))
}

func TestStatsMBConversions(t *testing.T) {
	stats := Stats{TotalBytes: 4 * 1024 * 1024, AvailableBytes: 1024 * 1024}
	assert.EqualValues(t, 4, stats.TotalMB())
	assert.EqualValues(t, 1, stats.AvailableMB())
}

func TestStartStopSamplesInBackground(t *testing.T) {
	m := NewMonitor()
	m.Start(10 * time.Millisecond)
	defer m.Stop()

	assert.Eventually(t, func() bool {
		return m.GetStats().TotalBytes > 0
	}, time.Second, 5*time.Millisecond)
}

func TestStartIsIdempotent(t *testing.T) {
	m := NewMonitor()
	m.Start(50 * time.Millisecond)
	m.Start(50 * time.Millisecond)
	m.Stop()
	m.Stop()
}

func TestEstimateBatchMemory(t *testing.T) {
	assert.EqualValues(t, 2048, EstimateBatchMemory(1, 1024))
	assert.EqualValues(t, 20480, EstimateBatchMemory(10, 1024))
}

func TestZeroAverageItemSizeFallsBackToMaxBatch(t *testing.T) {
	m := NewMonitor(WithBatchBounds(1, 42), WithAverageItemSize(0))
	m.totalBytes.Store(1024 * 1024 * 1024)
	m.availBytes.Store(1024 * 1024 * 1024)
	m.recomputeBatchSize()
	assert.Equal(t, 42, m.BatchSize())
}
