// Package kv implements the column-family key-value backend from spec
// §4.2, backed by github.com/boltdb/bolt (dolt's own embedded KV engine).
// Column families are modeled as top-level buckets; batch writes are bolt
// Update transactions, giving atomicity across all operations in the batch
// for free. See DESIGN.md for why bolt stands in for the spec's RocksDB
// contract.
package kv

import (
	"os"
	"path/filepath"
	"time"

	"github.com/boltdb/bolt"
	"github.com/sirupsen/logrus"
	"github.com/talariadb/casg/casgerr"
	"github.com/talariadb/casg/config"
)

// ColumnFamilies is the fixed set of column families spec §4.2 requires.
var ColumnFamilies = []string{
	"canonical_sequences",
	"sequence_representations",
	"accession_index",
	"taxon_index",
	"database_index",
	"chunks",
	"chunk_manifests",
	"manifest_versions",
	"bitemporal_index",
	"processing_states",
	"bloom_filter_snapshots",
}

var log = logrus.WithField("component", "kv")

// Store is an open column-family KV backend.
type Store struct {
	db   *bolt.DB
	path string
	cfg  config.RocksDBConfig
}

// Open opens or creates a store at path with the given configuration,
// creating every column family bucket listed in ColumnFamilies.
func Open(path string, cfg config.RocksDBConfig) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, casgerr.IoError(err, "creating store directory")
	}

	opts := &bolt.Options{Timeout: 1 * time.Second}
	db, err := bolt.Open(path, 0o644, opts)
	if err != nil {
		if err == bolt.ErrTimeout {
			return nil, casgerr.LockContention("store at %s is locked by another process", path)
		}
		return nil, casgerr.IoError(err, "opening store at %s", path)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, cf := range ColumnFamilies {
			if _, err := tx.CreateBucketIfNotExists([]byte(cf)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, casgerr.IoError(err, "initializing column families")
	}

	logAdvisoryLimits(cfg)

	return &Store{db: db, path: path, cfg: cfg}, nil
}

// logAdvisoryLimits records RocksDB-shaped tuning knobs bolt's block
// storage has no analogue for (write buffers, background job pools), so
// operators know they are not silently applied (spec §9 precedent:
// advisory metadata is recorded, never enforced as contract). Compression
// itself is not advisory: repository.Open threads it into blob.Store's
// codec selection via compress.TagForConfig, it is only the KV layer
// itself that stores values uncompressed.
func logAdvisoryLimits(cfg config.RocksDBConfig) {
	log.WithFields(logrus.Fields{
		"write_buffer_size_mb":    cfg.WriteBufferSizeMB,
		"max_write_buffer_number": cfg.MaxWriteBufferNumber,
		"compression":             cfg.Compression,
		"compression_level":       cfg.CompressionLevel,
		"max_background_jobs":     cfg.MaxBackgroundJobs,
	}).Debug("rocksdb-shaped tuning knobs recorded advisory-only on bolt backend")
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return casgerr.IoError(err, "closing store")
	}
	return nil
}

// Path returns the store's on-disk path.
func (s *Store) Path() string {
	return s.path
}

func bucket(tx *bolt.Tx, cf string) (*bolt.Bucket, error) {
	b := tx.Bucket([]byte(cf))
	if b == nil {
		return nil, casgerr.InvalidInput("unknown column family %q", cf)
	}
	return b, nil
}

// Get reads a single key. A missing key returns casgerr.KindNotFound, not a
// generic error, per spec §4.2.
func (s *Store) Get(cf string, key []byte) ([]byte, error) {
	var val []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b, err := bucket(tx, cf)
		if err != nil {
			return err
		}
		v := b.Get(key)
		if v == nil {
			return casgerr.NotFound("key %x not found in %s", key, cf)
		}
		val = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return val, nil
}

// Put writes a single key/value pair.
func (s *Store) Put(cf string, key, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := bucket(tx, cf)
		if err != nil {
			return err
		}
		return b.Put(key, value)
	})
}

// Delete removes a key. Deleting an absent key is a no-op.
func (s *Store) Delete(cf string, key []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := bucket(tx, cf)
		if err != nil {
			return err
		}
		return b.Delete(key)
	})
}

// Exists reports whether key is present in cf.
func (s *Store) Exists(cf string, key []byte) (bool, error) {
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		b, err := bucket(tx, cf)
		if err != nil {
			return err
		}
		found = b.Get(key) != nil
		return nil
	})
	return found, err
}

// MultiGet reads several keys from one column family in a single read
// transaction. Missing keys are omitted from the result map rather than
// causing the whole call to fail.
func (s *Store) MultiGet(cf string, keys [][]byte) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	err := s.db.View(func(tx *bolt.Tx) error {
		b, err := bucket(tx, cf)
		if err != nil {
			return err
		}
		for _, key := range keys {
			if v := b.Get(key); v != nil {
				out[string(key)] = append([]byte(nil), v...)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// PrefixIter calls fn for every key in cf with the given prefix, in bolt's
// ascending key order, stopping early if fn returns false.
func (s *Store) PrefixIter(cf string, prefix []byte, fn func(key, value []byte) bool) error {
	return s.db.View(func(tx *bolt.Tx) error {
		b, err := bucket(tx, cf)
		if err != nil {
			return err
		}
		c := b.Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			if !fn(k, v) {
				break
			}
		}
		return nil
	})
}

func hasPrefix(key, prefix []byte) bool {
	if len(key) < len(prefix) {
		return false
	}
	for i := range prefix {
		if key[i] != prefix[i] {
			return false
		}
	}
	return true
}
