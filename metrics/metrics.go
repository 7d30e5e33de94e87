// Package metrics exposes the lock-free Prometheus counters and gauges
// that every other component records against, satisfying spec §5's
// "metrics must be lock-free" requirement: prometheus counters and
// gauges are implemented internally with atomics, so registering
// package-level collectors here and calling Inc/Add/Set from any
// goroutine never takes a lock on the hot path.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// ChunksStored counts successful blob.Store.StoreChunk calls.
	ChunksStored = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "casg",
		Subsystem: "blob",
		Name:      "chunks_stored_total",
		Help:      "Total number of chunks written to the blob store.",
	})

	// ChunksCorrupted counts hash-mismatch detections on chunk read.
	ChunksCorrupted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "casg",
		Subsystem: "blob",
		Name:      "chunks_corrupted_total",
		Help:      "Total number of chunks that failed hash re-verification on read.",
	})

	// SequencesStored counts new canonical sequences accepted.
	SequencesStored = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "casg",
		Subsystem: "sequence",
		Name:      "sequences_stored_total",
		Help:      "Total number of new canonical sequences stored.",
	})

	// SequencesDeduped counts writes that matched an existing canonical
	// sequence and only added a representation.
	SequencesDeduped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "casg",
		Subsystem: "sequence",
		Name:      "sequences_deduped_total",
		Help:      "Total number of sequence writes that deduplicated against an existing canonical payload.",
	})

	// BatchSize reports the adaptive batch size performance.Monitor last
	// computed.
	BatchSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "casg",
		Subsystem: "performance",
		Name:      "batch_size",
		Help:      "Current adaptive batch size suggested by the memory monitor.",
	})

	// MemoryAvailableBytes reports the memory monitor's last sampled
	// available system memory.
	MemoryAvailableBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "casg",
		Subsystem: "performance",
		Name:      "memory_available_bytes",
		Help:      "Available system memory as last sampled by the memory monitor.",
	})

	// VerifyRuns counts completed verify.Verifier.Run invocations, labeled
	// by whether the resulting report was clean. A run stopped by context
	// cancellation is not counted.
	VerifyRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "casg",
		Subsystem: "verify",
		Name:      "runs_total",
		Help:      "Total verification runs, partitioned by outcome.",
	}, []string{"outcome"})

	// GCChunksDeleted counts chunks removed by orphan GC passes.
	GCChunksDeleted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "casg",
		Subsystem: "gc",
		Name:      "chunks_deleted_total",
		Help:      "Total number of chunk blobs deleted by orphan garbage collection.",
	})

	// GCBytesReclaimed counts bytes freed by orphan GC passes.
	GCBytesReclaimed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "casg",
		Subsystem: "gc",
		Name:      "bytes_reclaimed_total",
		Help:      "Total bytes reclaimed by orphan garbage collection.",
	})
)

// Registry is the collector registry every casg metric above is
// registered against. Nothing in this module serves it; a caller that
// exposes a /metrics endpoint (e.g. a long-running host process embedding
// repository) registers this with its own HTTP mux via
// promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}).
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		ChunksStored,
		ChunksCorrupted,
		SequencesStored,
		SequencesDeduped,
		BatchSize,
		MemoryAvailableBytes,
		VerifyRuns,
		GCChunksDeleted,
		GCBytesReclaimed,
	)
}

// VerifyOutcome returns the outcome label used by VerifyRuns for a
// report's OK() result.
func VerifyOutcome(ok bool) string {
	if ok {
		return "clean"
	}
	return "problems"
}
