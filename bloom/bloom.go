// Package bloom implements the bloom filter index accelerator from spec
// §4.3. No ecosystem bloom filter library appears anywhere in the
// retrieved pack, so the filter's hash family is built directly on
// hash/fnv with a random per-filter seed (see DESIGN.md).
package bloom

import (
	"encoding/binary"
	"hash/fnv"
	"math"
	"math/rand"
	"sync"

	"github.com/talariadb/casg/casgerr"
	"github.com/talariadb/casg/hash"
	"github.com/talariadb/casg/kv"
)

// Filter is a fixed-size double-hashing bloom filter. Insert and
// MayContain are safe for concurrent use.
type Filter struct {
	mu   sync.RWMutex
	bits []uint64
	m    uint64 // number of bits
	k    uint64 // number of hash functions
	seed uint64
	n    uint64 // inserted count, advisory only
}

// New sizes a filter for expectedItems at the given falsePositiveRate
// using the standard m = -(n ln p) / (ln 2)^2, k = (m/n) ln 2 formulas
// from spec §4.3.
func New(expectedItems uint64, falsePositiveRate float64) *Filter {
	if expectedItems == 0 {
		expectedItems = 1
	}
	if falsePositiveRate <= 0 || falsePositiveRate >= 1 {
		falsePositiveRate = 0.001
	}

	n := float64(expectedItems)
	ln2 := math.Ln2
	m := math.Ceil(-n * math.Log(falsePositiveRate) / (ln2 * ln2))
	k := math.Max(1, math.Round((m/n)*ln2))

	numBits := uint64(m)
	if numBits == 0 {
		numBits = 64
	}
	words := (numBits + 63) / 64

	return &Filter{
		bits: make([]uint64, words),
		m:    words * 64,
		k:    uint64(k),
		seed: rand.Uint64(),
	}
}

// locations derives k independent bit positions from h using Kirsch-Mitzenmacher
// double hashing: position_i = (h1 + i*h2) mod m, avoiding k separate hash
// computations per insert/lookup. Both h1 and h2 are seeded FNV-1a passes
// over the content hash, so the filter's state (seed + bits) is fully
// reproducible across process restarts via PersistSnapshot/LoadSnapshot.
func (f *Filter) locations(h hash.Hash) []uint64 {
	var seedBuf [8]byte
	binary.LittleEndian.PutUint64(seedBuf[:], f.seed)

	h1hash := fnv.New64a()
	h1hash.Write(seedBuf[:])
	h1hash.Write(h[:])
	h1 := h1hash.Sum64()

	h2hash := fnv.New64a()
	h2hash.Write(h[:])
	h2hash.Write(seedBuf[:])
	h2hash.Write([]byte("casg-bloom-h2"))
	h2 := h2hash.Sum64()
	if h2 == 0 {
		h2 = 1
	}

	locs := make([]uint64, f.k)
	for i := uint64(0); i < f.k; i++ {
		locs[i] = (h1 + i*h2) % f.m
	}
	return locs
}

// Insert adds h to the filter.
func (f *Filter) Insert(h hash.Hash) {
	locs := f.locations(h)
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, pos := range locs {
		f.bits[pos/64] |= 1 << (pos % 64)
	}
	f.n++
}

// MayContain reports whether h might be present. False positives are
// possible; false negatives never occur.
func (f *Filter) MayContain(h hash.Hash) bool {
	locs := f.locations(h)
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, pos := range locs {
		if f.bits[pos/64]&(1<<(pos%64)) == 0 {
			return false
		}
	}
	return true
}

// Count returns the number of items inserted. Advisory only: it does not
// account for the filter's actual saturation.
func (f *Filter) Count() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.n
}

const snapshotCF = "bloom_filter_snapshots"

// snapshotHeader lists, in order, the fixed header fields of the on-disk
// encoding PersistSnapshot writes to the bloom_filter_snapshots column
// family; the bit array follows them.
type snapshotHeader struct {
	M    uint64
	K    uint64
	Seed uint64
	N    uint64
}

// PersistSnapshot serializes the filter's bit array and parameters under
// key in the bloom_filter_snapshots column family.
func (f *Filter) PersistSnapshot(store *kv.Store, key string) error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	buf := make([]byte, 32+len(f.bits)*8)
	binary.LittleEndian.PutUint64(buf[0:8], f.m)
	binary.LittleEndian.PutUint64(buf[8:16], f.k)
	binary.LittleEndian.PutUint64(buf[16:24], f.seed)
	binary.LittleEndian.PutUint64(buf[24:32], f.n)
	for i, w := range f.bits {
		binary.LittleEndian.PutUint64(buf[32+i*8:40+i*8], w)
	}

	return store.Put(snapshotCF, []byte(key), buf)
}

// LoadSnapshot reconstructs a filter previously written by PersistSnapshot.
func LoadSnapshot(store *kv.Store, key string) (*Filter, error) {
	data, err := store.Get(snapshotCF, []byte(key))
	if err != nil {
		return nil, err
	}
	if len(data) < 32 || (len(data)-32)%8 != 0 {
		return nil, casgerr.Corrupted("malformed bloom filter snapshot %q", key)
	}

	m := binary.LittleEndian.Uint64(data[0:8])
	k := binary.LittleEndian.Uint64(data[8:16])
	seed := binary.LittleEndian.Uint64(data[16:24])
	n := binary.LittleEndian.Uint64(data[24:32])

	words := (len(data) - 32) / 8
	bits := make([]uint64, words)
	for i := range bits {
		bits[i] = binary.LittleEndian.Uint64(data[32+i*8 : 40+i*8])
	}

	return &Filter{
		bits: bits,
		m:    m,
		k:    k,
		seed: seed,
		n:    n,
	}, nil
}
