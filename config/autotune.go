package config

import (
	"runtime"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/sirupsen/logrus"
)

var autotuneLog = logrus.WithField("component", "config")

// AutoTune adjusts cfg based on detected hardware, mirroring
// rocksdb_config_presets.rs::auto_tune: background jobs scale with CPU
// count, block cache and write buffers scale with total system memory.
func (cfg *RocksDBConfig) AutoTune() {
	cpus := runtime.NumCPU()
	cfg.MaxBackgroundJobs = clamp(cpus/2, 2, 32)

	totalMB := 0
	if vm, err := mem.VirtualMemory(); err == nil {
		totalMB = int(vm.Total / 1024 / 1024)
	} else {
		autotuneLog.WithError(err).Warn("could not read system memory, leaving block cache unchanged")
		return
	}

	suggestedCache := totalMB / 4
	if suggestedCache > 8192 {
		suggestedCache = 8192
	}
	cfg.BlockCacheSizeMB = suggestedCache

	switch {
	case totalMB > 16384:
		cfg.WriteBufferSizeMB = 256
		cfg.MaxWriteBufferNumber = 6
	case totalMB > 8192:
		cfg.WriteBufferSizeMB = 128
		cfg.MaxWriteBufferNumber = 4
	default:
		cfg.WriteBufferSizeMB = 64
		cfg.MaxWriteBufferNumber = 2
	}

	autotuneLog.WithFields(logrus.Fields{
		"cpus":                cpus,
		"total_memory_mb":     totalMB,
		"block_cache_size_mb": cfg.BlockCacheSizeMB,
		"max_background_jobs": cfg.MaxBackgroundJobs,
	}).Info("auto-tuned rocksdb configuration")
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
