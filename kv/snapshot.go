package kv

import (
	"github.com/boltdb/bolt"
	"github.com/talariadb/casg/casgerr"
)

// Snapshot is a consistent read-only view of the store, pinned to the
// moment Snapshot() was called until Close is invoked (spec §5: "readers
// using a snapshot() see a fixed state").
type Snapshot struct {
	tx *bolt.Tx
}

// Snapshot opens a read-only transaction as a consistent view.
func (s *Store) Snapshot() (*Snapshot, error) {
	tx, err := s.db.Begin(false)
	if err != nil {
		return nil, casgerr.IoError(err, "opening snapshot")
	}
	return &Snapshot{tx: tx}, nil
}

// Get reads a key as of the snapshot's moment.
func (snap *Snapshot) Get(cf string, key []byte) ([]byte, error) {
	b := snap.tx.Bucket([]byte(cf))
	if b == nil {
		return nil, casgerr.InvalidInput("unknown column family %q", cf)
	}
	v := b.Get(key)
	if v == nil {
		return nil, casgerr.NotFound("key %x not found in %s", key, cf)
	}
	return append([]byte(nil), v...), nil
}

// PrefixIter iterates keys with the given prefix as of the snapshot.
func (snap *Snapshot) PrefixIter(cf string, prefix []byte, fn func(key, value []byte) bool) error {
	b := snap.tx.Bucket([]byte(cf))
	if b == nil {
		return casgerr.InvalidInput("unknown column family %q", cf)
	}
	c := b.Cursor()
	for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
		if !fn(k, v) {
			break
		}
	}
	return nil
}

// Close releases the underlying read transaction.
func (snap *Snapshot) Close() error {
	return snap.tx.Rollback()
}
