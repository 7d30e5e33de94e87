// Package config models the configuration surface from spec §6: the
// storage.rocksdb, storage.bloom_filter, performance, and migration
// namespaces, their documented defaults, and the preset/workload tuning
// helpers recovered from the original rocksdb_config_presets.rs.
package config

import "path/filepath"

// Compression identifies a KV-level compression codec.
type Compression string

const (
	CompressionNone   Compression = "none"
	CompressionSnappy Compression = "snappy"
	CompressionLZ4    Compression = "lz4"
	CompressionZstd   Compression = "zstd"
)

// RocksDBConfig models storage.rocksdb.* (spec §4.2, §6). Dolt's own engine
// is RocksDB-free (it runs on boltdb here, see DESIGN.md); every field is
// parsed and kept, but kv.Open applies none of them to bolt and only logs
// the tuning knobs as advisory. Compression and CompressionLevel are used by
// repository.Open to select and configure the blob store's codec.
type RocksDBConfig struct {
	Path                  string
	WriteBufferSizeMB     int
	MaxWriteBufferNumber  int
	BlockCacheSizeMB      int
	BloomFilterBitsPerKey float64
	Compression           Compression
	CompressionLevel      int
	MaxBackgroundJobs     int
	TargetSSTFileSizeMB   int
	EnableStatistics      bool
	OptimizeFor           string
}

// DefaultRocksDBConfig returns the documented defaults from spec §4.2.
func DefaultRocksDBConfig() RocksDBConfig {
	return RocksDBConfig{
		WriteBufferSizeMB:     128,
		MaxWriteBufferNumber:  4,
		BlockCacheSizeMB:      2048,
		BloomFilterBitsPerKey: 10,
		Compression:           CompressionZstd,
		CompressionLevel:      3,
		MaxBackgroundJobs:     8,
		TargetSSTFileSizeMB:   128,
		EnableStatistics:      false,
		OptimizeFor:           "balanced",
	}
}

// WithPath returns a copy of cfg rooted at the given store directory.
func (cfg RocksDBConfig) WithPath(root string) RocksDBConfig {
	cfg.Path = filepath.Clean(root)
	return cfg
}

// HighPerformance is tuned for batch processing of UniRef50-scale
// ingestion (50k+ sequences per run).
func HighPerformance() RocksDBConfig {
	return RocksDBConfig{
		WriteBufferSizeMB:     256,
		MaxWriteBufferNumber:  6,
		BlockCacheSizeMB:      4096,
		BloomFilterBitsPerKey: 10,
		Compression:           CompressionZstd,
		CompressionLevel:      3,
		MaxBackgroundJobs:     16,
		TargetSSTFileSizeMB:   256,
		EnableStatistics:      false,
		OptimizeFor:           "batch",
	}
}

// MemoryOptimized trades throughput for a small working set.
func MemoryOptimized() RocksDBConfig {
	return RocksDBConfig{
		WriteBufferSizeMB:     64,
		MaxWriteBufferNumber:  2,
		BlockCacheSizeMB:      512,
		BloomFilterBitsPerKey: 10,
		Compression:           CompressionZstd,
		CompressionLevel:      6,
		MaxBackgroundJobs:     4,
		TargetSSTFileSizeMB:   64,
		EnableStatistics:      false,
		OptimizeFor:           "memory",
	}
}

// Balanced is the general-purpose default, matching DefaultRocksDBConfig
// except for EnableStatistics, which this preset turns on for monitoring.
func Balanced() RocksDBConfig {
	cfg := DefaultRocksDBConfig()
	cfg.EnableStatistics = true
	cfg.OptimizeFor = "balanced"
	return cfg
}

// SSDOptimized favors fast, low-ratio compression and large files.
func SSDOptimized() RocksDBConfig {
	return RocksDBConfig{
		WriteBufferSizeMB:     128,
		MaxWriteBufferNumber:  4,
		BlockCacheSizeMB:      1024,
		BloomFilterBitsPerKey: 10,
		Compression:           CompressionLZ4,
		CompressionLevel:      1,
		MaxBackgroundJobs:     16,
		TargetSSTFileSizeMB:   512,
		EnableStatistics:      false,
		OptimizeFor:           "ssd",
	}
}

// Development favors fast iteration and visibility over throughput.
func Development() RocksDBConfig {
	return RocksDBConfig{
		WriteBufferSizeMB:     64,
		MaxWriteBufferNumber:  2,
		BlockCacheSizeMB:      256,
		BloomFilterBitsPerKey: 10,
		Compression:           CompressionSnappy,
		CompressionLevel:      1,
		MaxBackgroundJobs:     2,
		TargetSSTFileSizeMB:   64,
		EnableStatistics:      true,
		OptimizeFor:           "dev",
	}
}

// WorkloadPattern identifies an access-pattern tuning hint (spec §4.2).
type WorkloadPattern int

const (
	BulkLoad WorkloadPattern = iota
	PointLookups
	RangeScans
	MixedReadWrite
)

// OptimizeForWorkload mutates cfg in place per the access-pattern hints in
// spec §4.2: bulk-load increases write buffers and parallelism, point-lookup
// raises bloom bits, range-scan raises file size and compression level.
func (cfg *RocksDBConfig) OptimizeForWorkload(pattern WorkloadPattern) {
	switch pattern {
	case BulkLoad:
		cfg.MaxWriteBufferNumber = 8
		cfg.WriteBufferSizeMB = 512
		cfg.CompressionLevel = 1
		cfg.MaxBackgroundJobs = 32
	case PointLookups:
		cfg.BloomFilterBitsPerKey = 15
		cfg.BlockCacheSizeMB *= 2
	case RangeScans:
		cfg.TargetSSTFileSizeMB = 512
		cfg.CompressionLevel = 6
	case MixedReadWrite:
		cfg.MaxWriteBufferNumber = 4
		cfg.WriteBufferSizeMB = 128
	}
}
