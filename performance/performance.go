// Package performance implements the adaptive memory monitor from spec
// §5's "batch sizes are adaptive based on available memory" requirement,
// recovered from original_source/talaria-herald/src/performance/
// memory_monitor.rs's MemoryMonitor and the batch-sizing arithmetic in
// its calculate_optimal_batch_size. Counters are plain atomics rather
// than mutex-guarded fields, matching spec §5's explicit ban on
// mutex-based counters on the ingest hot path
// (original_source/talaria-sequoia/src/performance/lock_free_monitor.rs
// makes the same choice for its throughput counters).
package performance

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/talariadb/casg/metrics"
)

// Stats is a snapshot of system memory as last sampled by a Monitor.
type Stats struct {
	TotalBytes     uint64
	AvailableBytes uint64
	UsageRatio     float64
}

// HasPressure reports whether usage exceeds threshold (0.0-1.0).
func (s Stats) HasPressure(threshold float64) bool { return s.UsageRatio > threshold }

// AvailableMB returns available memory in mebibytes.
func (s Stats) AvailableMB() uint64 { return s.AvailableBytes / (1024 * 1024) }

// TotalMB returns total memory in mebibytes.
func (s Stats) TotalMB() uint64 { return s.TotalBytes / (1024 * 1024) }

// Option configures a Monitor.
type Option func(*Monitor)

// WithBatchBounds sets the clamping range SuggestedBatchSize will never
// leave.
func WithBatchBounds(min, max int) Option {
	return func(m *Monitor) { m.minBatch, m.maxBatch = min, max }
}

// WithTargetMemory sets the memory budget, in MB, the monitor tries to
// keep a single batch within. The monitor additionally never proposes
// using more than half of currently available memory.
func WithTargetMemory(targetMB uint64) Option {
	return func(m *Monitor) { m.targetMemoryMB = targetMB }
}

// WithAverageItemSize sets the assumed average size, in bytes, of one
// item in the batch being sized (e.g. one sequence record).
func WithAverageItemSize(avgBytes int) Option {
	return func(m *Monitor) { m.avgItemBytes = avgBytes }
}

// Monitor periodically samples system memory and derives a suggested
// batch size from it. It implements sequence.BatchSizer and, via the
// same SuggestedBatchSize value, is suitable for chunk.Chunker's
// threading decisions as well.
type Monitor struct {
	totalBytes atomic.Uint64
	availBytes atomic.Uint64
	batchSize  atomic.Int64
	active     atomic.Bool

	stopCh chan struct{}
	wg     sync.WaitGroup

	minBatch       int
	maxBatch       int
	targetMemoryMB uint64
	avgItemBytes   int
}

// NewMonitor constructs a Monitor with sane defaults (512MB target
// budget, 2KB average item size, batch size clamped to [1, 100000]),
// overridable via opts. It samples nothing until Start is called.
func NewMonitor(opts ...Option) *Monitor {
	m := &Monitor{
		minBatch:       1,
		maxBatch:       100_000,
		targetMemoryMB: 512,
		avgItemBytes:   2048,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.batchSize.Store(int64(m.maxBatch))
	return m
}

// Start begins sampling system memory every interval on a background
// goroutine. Calling Start on an already-active Monitor is a no-op.
func (m *Monitor) Start(interval time.Duration) {
	if !m.active.CompareAndSwap(false, true) {
		return
	}
	m.stopCh = make(chan struct{})
	m.sample()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.sample()
			case <-m.stopCh:
				return
			}
		}
	}()
}

// Stop halts background sampling and waits for the goroutine to exit.
// Calling Stop on an inactive Monitor is a no-op.
func (m *Monitor) Stop() {
	if !m.active.CompareAndSwap(true, false) {
		return
	}
	close(m.stopCh)
	m.wg.Wait()
}

func (m *Monitor) sample() {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return
	}
	m.totalBytes.Store(vm.Total)
	m.availBytes.Store(vm.Available)
	m.recomputeBatchSize()
	metrics.MemoryAvailableBytes.Set(float64(vm.Available))
}

// GetStats returns the most recently sampled memory statistics.
func (m *Monitor) GetStats() Stats {
	total := m.totalBytes.Load()
	avail := m.availBytes.Load()
	var ratio float64
	if total > 0 {
		ratio = 1.0 - float64(avail)/float64(total)
	}
	return Stats{TotalBytes: total, AvailableBytes: avail, UsageRatio: ratio}
}

// HasMemoryPressure reports whether the last sample exceeded threshold.
func (m *Monitor) HasMemoryPressure(threshold float64) bool {
	return m.GetStats().HasPressure(threshold)
}

// recomputeBatchSize mirrors calculate_optimal_batch_size: use at most
// targetMemoryMB or half of available memory, divide by the estimated
// bytes-per-item (average item size times a 2x processing-overhead
// factor), then clamp to [minBatch, maxBatch].
func (m *Monitor) recomputeBatchSize() {
	availableMB := m.GetStats().AvailableMB()
	usableMB := m.targetMemoryMB
	if half := availableMB / 2; half < usableMB {
		usableMB = half
	}
	usableBytes := usableMB * 1024 * 1024

	const overheadFactor = 2
	bytesPerItem := uint64(m.avgItemBytes * overheadFactor)

	optimal := m.maxBatch
	if bytesPerItem > 0 {
		optimal = int(usableBytes / bytesPerItem)
	}
	if optimal < m.minBatch {
		optimal = m.minBatch
	}
	if optimal > m.maxBatch {
		optimal = m.maxBatch
	}
	m.batchSize.Store(int64(optimal))
	metrics.BatchSize.Set(float64(optimal))
}

// BatchSize implements sequence.BatchSizer.
func (m *Monitor) BatchSize() int {
	return int(m.batchSize.Load())
}

// EstimateBatchMemory estimates the bytes a batch of batchSize items of
// avgItemSize each would consume, including processing overhead.
func EstimateBatchMemory(batchSize, avgItemSize int) uint64 {
	const overheadFactor = 2
	return uint64(batchSize) * uint64(avgItemSize) * overheadFactor
}
