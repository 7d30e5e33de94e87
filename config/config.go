package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// BloomFilterConfig models storage.bloom_filter.* (spec §4.3).
type BloomFilterConfig struct {
	ExpectedSequences      uint64
	FalsePositiveRate      float64
	PersistIntervalSeconds int
	EnableStatistics       bool
}

func DefaultBloomFilterConfig() BloomFilterConfig {
	return BloomFilterConfig{
		ExpectedSequences:      100_000_000,
		FalsePositiveRate:      0.001,
		PersistIntervalSeconds: 300,
		EnableStatistics:       false,
	}
}

// PerformanceConfig models performance.* (spec §6).
type PerformanceConfig struct {
	Threads   int
	BatchSize int
	Verbose   bool
}

func DefaultPerformanceConfig() PerformanceConfig {
	return PerformanceConfig{
		Threads:   4,
		BatchSize: 500,
		Verbose:   false,
	}
}

// MigrationConfig models migration.* (spec §6).
type MigrationConfig struct {
	AutoMigrate     bool
	VerifySampleSize int
	PreserveOldData bool
}

func DefaultMigrationConfig() MigrationConfig {
	return MigrationConfig{
		AutoMigrate:      false,
		VerifySampleSize: 1000,
		PreserveOldData:  true,
	}
}

// Config is the full recognized configuration surface from spec §6.
type Config struct {
	RocksDB     RocksDBConfig
	BloomFilter BloomFilterConfig
	Performance PerformanceConfig
	Migration   MigrationConfig
}

// Default returns a Config populated with every documented default.
func Default() *Config {
	return &Config{
		RocksDB:     DefaultRocksDBConfig(),
		BloomFilter: DefaultBloomFilterConfig(),
		Performance: DefaultPerformanceConfig(),
		Migration:   DefaultMigrationConfig(),
	}
}

// Load layers compiled-in defaults, an optional key=value file, and
// environment overrides in the CASG_<NAMESPACE>_<KEY> form. Unrecognized
// keys are ignored, per spec §6. path may be empty, in which case only
// defaults and environment overrides apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := applyFile(cfg, path); err != nil {
			return nil, err
		}
	}
	applyEnv(cfg)
	return cfg, nil
}

// applyFile reads a flat "namespace.key = value" file. A hand-rolled reader
// is used deliberately — see DESIGN.md's config entry for why no config
// library from the pack was pulled in for a surface this small.
func applyFile(cfg *Config, path string) error {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("config: opening %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])
		setByKey(cfg, key, val)
	}
	return scanner.Err()
}

func applyEnv(cfg *Config) {
	for _, kv := range os.Environ() {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 || !strings.HasPrefix(parts[0], "CASG_") {
			continue
		}
		key := strings.ToLower(strings.TrimPrefix(parts[0], "CASG_"))
		for _, ns := range []string{"storage.rocksdb.", "storage.bloom_filter.", "performance.", "migration."} {
			envPrefix := strings.ReplaceAll(ns, ".", "_")
			if strings.HasPrefix(key, envPrefix) {
				setByKey(cfg, ns+strings.TrimPrefix(key, envPrefix), parts[1])
				break
			}
		}
	}
}

// setByKey applies a single "namespace.key" = value pair. Keys outside the
// four recognized namespaces, or unrecognized keys within them, are
// silently ignored per spec §6.
func setByKey(cfg *Config, key, val string) {
	switch {
	case strings.HasPrefix(key, "storage.rocksdb."):
		setRocksDBKey(&cfg.RocksDB, strings.TrimPrefix(key, "storage.rocksdb."), val)
	case strings.HasPrefix(key, "storage.bloom_filter."):
		setBloomKey(&cfg.BloomFilter, strings.TrimPrefix(key, "storage.bloom_filter."), val)
	case strings.HasPrefix(key, "performance."):
		setPerformanceKey(&cfg.Performance, strings.TrimPrefix(key, "performance."), val)
	case strings.HasPrefix(key, "migration."):
		setMigrationKey(&cfg.Migration, strings.TrimPrefix(key, "migration."), val)
	}
}

func setRocksDBKey(c *RocksDBConfig, key, val string) {
	switch key {
	case "write_buffer_size_mb":
		c.WriteBufferSizeMB = atoiOr(val, c.WriteBufferSizeMB)
	case "max_write_buffer_number":
		c.MaxWriteBufferNumber = atoiOr(val, c.MaxWriteBufferNumber)
	case "block_cache_size_mb":
		c.BlockCacheSizeMB = atoiOr(val, c.BlockCacheSizeMB)
	case "bloom_filter_bits":
		c.BloomFilterBitsPerKey = atofOr(val, c.BloomFilterBitsPerKey)
	case "compression":
		c.Compression = Compression(val)
	case "compression_level":
		c.CompressionLevel = atoiOr(val, c.CompressionLevel)
	case "max_background_jobs":
		c.MaxBackgroundJobs = atoiOr(val, c.MaxBackgroundJobs)
	case "target_file_size_mb":
		c.TargetSSTFileSizeMB = atoiOr(val, c.TargetSSTFileSizeMB)
	case "enable_statistics":
		c.EnableStatistics = atobOr(val, c.EnableStatistics)
	case "optimize_for":
		c.OptimizeFor = val
	}
}

func setBloomKey(c *BloomFilterConfig, key, val string) {
	switch key {
	case "expected_sequences":
		if n, err := strconv.ParseUint(val, 10, 64); err == nil {
			c.ExpectedSequences = n
		}
	case "false_positive_rate":
		c.FalsePositiveRate = atofOr(val, c.FalsePositiveRate)
	case "persist_interval_seconds":
		c.PersistIntervalSeconds = atoiOr(val, c.PersistIntervalSeconds)
	case "enable_statistics":
		c.EnableStatistics = atobOr(val, c.EnableStatistics)
	}
}

func setPerformanceKey(c *PerformanceConfig, key, val string) {
	switch key {
	case "threads":
		c.Threads = atoiOr(val, c.Threads)
	case "batch_size":
		c.BatchSize = atoiOr(val, c.BatchSize)
	case "verbose":
		c.Verbose = atobOr(val, c.Verbose)
	}
}

func setMigrationKey(c *MigrationConfig, key, val string) {
	switch key {
	case "auto_migrate":
		c.AutoMigrate = atobOr(val, c.AutoMigrate)
	case "verify_sample_size":
		c.VerifySampleSize = atoiOr(val, c.VerifySampleSize)
	case "preserve_old_data":
		c.PreserveOldData = atobOr(val, c.PreserveOldData)
	}
}

func atoiOr(s string, fallback int) int {
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return fallback
}

func atofOr(s string, fallback float64) float64 {
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return n
	}
	return fallback
}

func atobOr(s string, fallback bool) bool {
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return fallback
}
