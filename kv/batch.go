package kv

import (
	"github.com/boltdb/bolt"
	"github.com/talariadb/casg/casgerr"
)

// OpKind identifies a single operation within a batch.
type OpKind int

const (
	OpPut OpKind = iota
	OpDelete
)

// WriteOp is one put or delete within a BatchWrite.
type WriteOp struct {
	Kind  OpKind
	CF    string
	Key   []byte
	Value []byte
}

// Put builds a put WriteOp.
func Put(cf string, key, value []byte) WriteOp {
	return WriteOp{Kind: OpPut, CF: cf, Key: key, Value: value}
}

// Del builds a delete WriteOp.
func Del(cf string, key []byte) WriteOp {
	return WriteOp{Kind: OpDelete, CF: cf, Key: key}
}

// BatchWrite applies every op in a single bolt transaction: all effects are
// atomic and totally ordered, and if any op fails the entire batch is
// rolled back (spec §5, §7 "partial batch write failure aborts the whole
// batch atomically").
func (s *Store) BatchWrite(ops []WriteOp) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, op := range ops {
			b, err := bucket(tx, op.CF)
			if err != nil {
				return err
			}
			switch op.Kind {
			case OpPut:
				if err := b.Put(op.Key, op.Value); err != nil {
					return err
				}
			case OpDelete:
				if err := b.Delete(op.Key); err != nil {
					return err
				}
			default:
				return casgerr.Internal("unknown write op kind %d", op.Kind)
			}
		}
		return nil
	})
}
