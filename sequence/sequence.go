// Package sequence implements the canonical sequence store from spec
// §4.5: every unique sequence payload is stored exactly once across all
// databases, indexed by accession, taxon, and database source.
package sequence

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/talariadb/casg/bloom"
	"github.com/talariadb/casg/casgerr"
	"github.com/talariadb/casg/dbref"
	"github.com/talariadb/casg/hash"
	"github.com/talariadb/casg/kv"
	"github.com/talariadb/casg/metrics"
)

const (
	canonicalCF  = "canonical_sequences"
	representCF  = "sequence_representations"
	accessionCF  = "accession_index"
	taxonCF      = "taxon_index"
	databaseCF   = "database_index"
)

// Representation is one (accession, header, database, taxon) pointer onto
// a canonical sequence payload.
type Representation struct {
	Accession string
	Header    string
	Database  dbref.Source
	TaxonID   *uint32
}

// BatchSizer supplies an adaptive batch size, implemented by
// performance.Monitor so StoreSequencesBatch can shrink its group
// size under memory pressure. A nil BatchSizer falls back to the
// configured fixed batch size.
type BatchSizer interface {
	BatchSize() int
}

// Store is the canonical sequence store.
type Store struct {
	kv         *kv.Store
	filter     *bloom.Filter
	batchSize  int
	batchSizer BatchSizer
}

// Option configures a Store.
type Option func(*Store)

// WithBloomFilter wires a bloom filter accelerating canonical_exists checks.
func WithBloomFilter(f *bloom.Filter) Option {
	return func(s *Store) { s.filter = f }
}

// WithBatchSize sets the fixed group size used by StoreSequencesBatch when
// no BatchSizer is configured.
func WithBatchSize(n int) Option {
	return func(s *Store) { s.batchSize = n }
}

// WithBatchSizer wires an adaptive batch sizer (typically
// performance.Monitor).
func WithBatchSizer(bs BatchSizer) Option {
	return func(s *Store) { s.batchSizer = bs }
}

// New wraps store as a canonical sequence store.
func New(store *kv.Store, opts ...Option) *Store {
	s := &Store{kv: store, batchSize: 500}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) effectiveBatchSize() int {
	if s.batchSizer != nil {
		if n := s.batchSizer.BatchSize(); n > 0 {
			return n
		}
	}
	return s.batchSize
}

func gobEncode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, casgerr.Wrap(err, casgerr.KindInternal, "encoding sequence index record")
	}
	return buf.Bytes(), nil
}

func gobDecode(data []byte, v any) error {
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(v); err != nil {
		return casgerr.Corrupted("malformed index record: %v", err)
	}
	return nil
}

func taxonKey(taxonID uint32) []byte {
	return []byte(fmt.Sprintf("taxon:%d", taxonID))
}

func databaseKey(db dbref.Source) []byte {
	return []byte("db:" + db.CanonicalString())
}

func (s *Store) readHashSet(cf string, key []byte) (hash.HashSet, error) {
	data, err := s.kv.Get(cf, key)
	if casgerr.Is(err, casgerr.KindNotFound) {
		return hash.NewHashSet(), nil
	}
	if err != nil {
		return nil, err
	}
	var slice hash.HashSlice
	if err := gobDecode(data, &slice); err != nil {
		return nil, err
	}
	return slice.Set(), nil
}

// readRepresentations reads the representations stored for h, outside any
// write transaction. Used for introspection only — the write path reads
// and writes representations atomically via readRepresentationsTxn inside
// a single kv.Store.Update call.
func (s *Store) readRepresentations(h hash.Hash) ([]Representation, error) {
	data, err := s.kv.Get(representCF, h[:])
	if casgerr.Is(err, casgerr.KindNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var reps []Representation
	if err := gobDecode(data, &reps); err != nil {
		return nil, err
	}
	return reps, nil
}

func readRepresentationsTxn(txn *kv.Txn, h hash.Hash) ([]Representation, error) {
	data, err := txn.Get(representCF, h[:])
	if casgerr.Is(err, casgerr.KindNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var reps []Representation
	if err := gobDecode(data, &reps); err != nil {
		return nil, err
	}
	return reps, nil
}

func readHashSetTxn(txn *kv.Txn, cf string, key []byte) (hash.HashSet, error) {
	data, err := txn.Get(cf, key)
	if casgerr.Is(err, casgerr.KindNotFound) {
		return hash.NewHashSet(), nil
	}
	if err != nil {
		return nil, err
	}
	var slice hash.HashSlice
	if err := gobDecode(data, &slice); err != nil {
		return nil, err
	}
	return slice.Set(), nil
}

func containsRepresentation(reps []Representation, r Representation) bool {
	for _, existing := range reps {
		if existing.Accession == r.Accession && existing.Database == r.Database {
			return true
		}
	}
	return false
}

// StoreSequence stores payload under H(payload) if not already present,
// or appends a new representation to an existing canonical sequence.
// Returns the content hash and whether this call created a new canonical
// entry.
//
// The existence check and the write both happen inside one kv.Store.Update
// transaction, so two concurrent callers storing the same new payload never
// both observe "absent" and both take the "new" branch — bolt serializes
// writers, so the second caller's transaction starts only after the
// first's has committed and sees its representation (spec §5: "the backend
// atomically resolves the is_new race").
func (s *Store) StoreSequence(payload []byte, accession, header string, db dbref.Source, taxonID *uint32) (hash.Hash, bool, error) {
	h := hash.Of(payload)
	rep := Representation{Accession: accession, Header: header, Database: db, TaxonID: taxonID}

	var isNew bool
	err := s.kv.Update(func(txn *kv.Txn) error {
		exists, err := txn.Exists(canonicalCF, h[:])
		if err != nil {
			return err
		}
		if exists {
			reps, err := readRepresentationsTxn(txn, h)
			if err != nil {
				return err
			}
			if containsRepresentation(reps, rep) {
				return nil
			}
			reps = append(reps, rep)
			encoded, err := gobEncode(reps)
			if err != nil {
				return err
			}
			if err := txn.Put(representCF, h[:], encoded); err != nil {
				return err
			}
			return indexOpsTxn(txn, h, rep)
		}

		encodedReps, err := gobEncode([]Representation{rep})
		if err != nil {
			return err
		}
		if err := txn.Put(canonicalCF, h[:], payload); err != nil {
			return err
		}
		if err := txn.Put(representCF, h[:], encodedReps); err != nil {
			return err
		}
		isNew = true
		return indexOpsTxn(txn, h, rep)
	})
	if err != nil {
		return hash.Empty, false, err
	}

	if isNew {
		if s.filter != nil {
			s.filter.Insert(h)
		}
		metrics.SequencesStored.Inc()
		return h, true, nil
	}
	metrics.SequencesDeduped.Inc()
	return h, false, nil
}

// indexOpsTxn writes the accession/taxon/database index entries for a new
// representation within the same transaction as the representation write,
// so index updates never race against each other either.
func indexOpsTxn(txn *kv.Txn, h hash.Hash, rep Representation) error {
	if err := txn.Put(accessionCF, []byte(rep.Accession), h[:]); err != nil {
		return err
	}

	if rep.TaxonID != nil {
		set, err := readHashSetTxn(txn, taxonCF, taxonKey(*rep.TaxonID))
		if err != nil {
			return err
		}
		set.Insert(h)
		encoded, err := gobEncode(set.Sorted())
		if err != nil {
			return err
		}
		if err := txn.Put(taxonCF, taxonKey(*rep.TaxonID), encoded); err != nil {
			return err
		}
	}

	dbSet, err := readHashSetTxn(txn, databaseCF, databaseKey(rep.Database))
	if err != nil {
		return err
	}
	dbSet.Insert(h)
	encoded, err := gobEncode(dbSet.Sorted())
	if err != nil {
		return err
	}
	return txn.Put(databaseCF, databaseKey(rep.Database), encoded)
}

// BatchItem is one sequence passed to StoreSequencesBatch.
type BatchItem struct {
	Payload   []byte
	Accession string
	Header    string
	Database  dbref.Source
	TaxonID   *uint32
}

// Result pairs a batch item's outcome with its hash and is-new flag.
type Result struct {
	Hash  hash.Hash
	IsNew bool
}

// StoreSequencesBatch stores a slice of sequences, splitting the work into
// fixed-size (or adaptively-sized, see BatchSizer) groups; each item is
// stored by its own StoreSequence call, one kv.Store.Update transaction per
// item.
func (s *Store) StoreSequencesBatch(items []BatchItem) ([]Result, error) {
	results := make([]Result, 0, len(items))
	groupSize := s.effectiveBatchSize()
	if groupSize <= 0 {
		groupSize = 500
	}

	for start := 0; start < len(items); start += groupSize {
		end := start + groupSize
		if end > len(items) {
			end = len(items)
		}
		for _, item := range items[start:end] {
			h, isNew, err := s.StoreSequence(item.Payload, item.Accession, item.Header, item.Database, item.TaxonID)
			if err != nil {
				return results, err
			}
			results = append(results, Result{Hash: h, IsNew: isNew})
		}
	}
	return results, nil
}

// GetPayload returns the canonical payload bytes stored under h.
func (s *Store) GetPayload(h hash.Hash) ([]byte, error) {
	return s.kv.Get(canonicalCF, h[:])
}

// CanonicalExists reports whether a canonical sequence with hash h exists.
func (s *Store) CanonicalExists(h hash.Hash) (bool, error) {
	if s.filter != nil && !s.filter.MayContain(h) {
		return false, nil
	}
	return s.kv.Exists(canonicalCF, h[:])
}

// GetByAccession resolves an accession to its canonical hash.
func (s *Store) GetByAccession(accession string) (hash.Hash, bool, error) {
	data, err := s.kv.Get(accessionCF, []byte(accession))
	if casgerr.Is(err, casgerr.KindNotFound) {
		return hash.Empty, false, nil
	}
	if err != nil {
		return hash.Empty, false, err
	}
	return hash.New(data), true, nil
}

// GetByTaxon returns every canonical hash associated with taxonID.
func (s *Store) GetByTaxon(taxonID uint32) (hash.HashSet, error) {
	return s.readHashSet(taxonCF, taxonKey(taxonID))
}

// GetByDatabase returns every canonical hash contributed by db.
func (s *Store) GetByDatabase(db dbref.Source) (hash.HashSet, error) {
	return s.readHashSet(databaseCF, databaseKey(db))
}

// ListAllHashes iterates every canonical sequence hash.
func (s *Store) ListAllHashes() func(yield func(hash.Hash) bool) {
	return func(yield func(hash.Hash) bool) {
		_ = s.kv.PrefixIter(canonicalCF, nil, func(k, _ []byte) bool {
			return yield(hash.New(k))
		})
	}
}

// RebuildIndex re-derives the accession, taxon, and database indices from
// sequence_representations, used by the migration surface and by recovery
// after verify detects a corrupted index.
func (s *Store) RebuildIndex() error {
	var ops []kv.WriteOp
	taxonSets := map[uint32]hash.HashSet{}
	dbSets := map[dbref.Source]hash.HashSet{}

	err := s.kv.PrefixIter(representCF, nil, func(k, v []byte) bool {
		h := hash.New(k)
		var reps []Representation
		if err := gobDecode(v, &reps); err != nil {
			return true
		}
		for _, rep := range reps {
			ops = append(ops, kv.Put(accessionCF, []byte(rep.Accession), h[:]))
			if rep.TaxonID != nil {
				set, ok := taxonSets[*rep.TaxonID]
				if !ok {
					set = hash.NewHashSet()
				}
				set.Insert(h)
				taxonSets[*rep.TaxonID] = set
			}
			set, ok := dbSets[rep.Database]
			if !ok {
				set = hash.NewHashSet()
			}
			set.Insert(h)
			dbSets[rep.Database] = set
		}
		return true
	})
	if err != nil {
		return err
	}

	for taxonID, set := range taxonSets {
		encoded, err := gobEncode(set.Sorted())
		if err != nil {
			return err
		}
		ops = append(ops, kv.Put(taxonCF, taxonKey(taxonID), encoded))
	}
	for db, set := range dbSets {
		encoded, err := gobEncode(set.Sorted())
		if err != nil {
			return err
		}
		ops = append(ops, kv.Put(databaseCF, databaseKey(db), encoded))
	}

	return s.kv.BatchWrite(ops)
}

// SaveIndices forces a flush of the underlying store, persisting indices
// built in memory-mapped pages to disk.
func (s *Store) SaveIndices() error {
	return s.kv.Flush()
}

// Flush forces a flush of the underlying store.
func (s *Store) Flush() error {
	return s.kv.Flush()
}
