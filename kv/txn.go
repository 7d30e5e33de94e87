package kv

import (
	"github.com/boltdb/bolt"
	"github.com/talariadb/casg/casgerr"
)

// Txn is a single read-write transaction passed to Store.Update. It lets a
// caller interleave reads and writes across column families atomically,
// closing check-then-act races that a separate Exists/BatchWrite pair
// cannot (spec §5: "the backend atomically resolves the is_new race").
type Txn struct {
	tx *bolt.Tx
}

// Get reads a single key within the transaction. A missing key returns
// casgerr.KindNotFound, matching Store.Get.
func (t *Txn) Get(cf string, key []byte) ([]byte, error) {
	b, err := bucket(t.tx, cf)
	if err != nil {
		return nil, err
	}
	v := b.Get(key)
	if v == nil {
		return nil, casgerr.NotFound("key %x not found in %s", key, cf)
	}
	return append([]byte(nil), v...), nil
}

// Exists reports whether key is present in cf within the transaction.
func (t *Txn) Exists(cf string, key []byte) (bool, error) {
	b, err := bucket(t.tx, cf)
	if err != nil {
		return false, err
	}
	return b.Get(key) != nil, nil
}

// Put writes a single key/value pair within the transaction.
func (t *Txn) Put(cf string, key, value []byte) error {
	b, err := bucket(t.tx, cf)
	if err != nil {
		return err
	}
	return b.Put(key, value)
}

// Delete removes a key within the transaction. Deleting an absent key is a
// no-op.
func (t *Txn) Delete(cf string, key []byte) error {
	b, err := bucket(t.tx, cf)
	if err != nil {
		return err
	}
	return b.Delete(key)
}

// PrefixIter iterates keys with the given prefix within the transaction.
func (t *Txn) PrefixIter(cf string, prefix []byte, fn func(key, value []byte) bool) error {
	b, err := bucket(t.tx, cf)
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
}

// Update runs fn inside a single bolt read-write transaction. Bolt
// serializes writers, so two concurrent Update calls never interleave:
// the second observes every effect the first committed before it starts.
// fn's returned error aborts and rolls back the whole transaction.
func (s *Store) Update(fn func(*Txn) error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return fn(&Txn{tx: tx})
	})
}
