// Package bitemporal implements the bi-temporal index from spec §4.8: a
// map from (sequence_time, taxonomy_time) coordinates to the dual Merkle
// roots observed at that coordinate, supporting snapshotting, listing,
// verification, and manifest-level diffing between two coordinates.
package bitemporal

import (
	"bytes"
	"encoding/gob"
	"time"

	"github.com/talariadb/casg/casgerr"
	"github.com/talariadb/casg/hash"
	"github.com/talariadb/casg/kv"
	"github.com/talariadb/casg/manifest"
	"github.com/talariadb/casg/merkle"
)

const indexCF = "bitemporal_index"

// Coordinate identifies a point in the two independent time dimensions a
// database version can advance along.
type Coordinate struct {
	SequenceTime time.Time
	TaxonomyTime time.Time
}

// keyLayout is RFC 3339 with a fixed nine-digit fraction; unlike
// time.RFC3339Nano it never drops trailing zeros, so every key component
// has the same width.
const keyLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Key renders the coordinate as its deterministic KV key, keyLayout in UTC
// on both components so lexical and chronological order coincide.
func (c Coordinate) Key() string {
	return c.SequenceTime.UTC().Format(keyLayout) + "|" + c.TaxonomyTime.UTC().Format(keyLayout)
}

// Snapshot records the dual Merkle roots observed at a coordinate, plus
// the manifest key a Diff should resolve it to.
type Snapshot struct {
	Coordinate         Coordinate
	SequenceRoot       hash.Hash
	TaxonomyRoot       hash.Hash
	CrossReferenceRoot hash.Hash
	ManifestKey        string
}

// ManifestResolver loads a manifest by its storage key, typically
// manifest.Store.Load.
type ManifestResolver func(key string) (*manifest.Manifest, error)

// Index is the bi-temporal coordinate-to-snapshot map.
type Index struct {
	kv       *kv.Store
	resolver ManifestResolver
}

// New wraps store as a bi-temporal index. resolver is used by Diff to
// load the manifest behind each coordinate's snapshot.
func New(store *kv.Store, resolver ManifestResolver) *Index {
	return &Index{kv: store, resolver: resolver}
}

func encodeSnapshot(s Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(s); err != nil {
		return nil, casgerr.Wrap(err, casgerr.KindInternal, "encoding bi-temporal snapshot")
	}
	return buf.Bytes(), nil
}

func decodeSnapshot(data []byte) (Snapshot, error) {
	var s Snapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return Snapshot{}, casgerr.Corrupted("malformed bi-temporal snapshot: %v", err)
	}
	return s, nil
}

// SnapshotAt records dag's current roots under coord, along with the
// manifest key this version was (or will be) stored under.
func (idx *Index) SnapshotAt(coord Coordinate, dag merkle.DualDAG, manifestKey string) (Snapshot, error) {
	snap := Snapshot{
		Coordinate:         coord,
		SequenceRoot:       dag.SequenceRoot,
		TaxonomyRoot:       dag.TaxonomyRoot,
		CrossReferenceRoot: dag.CrossReferenceRoot,
		ManifestKey:        manifestKey,
	}
	data, err := encodeSnapshot(snap)
	if err != nil {
		return Snapshot{}, err
	}
	if err := idx.kv.Put(indexCF, []byte(coord.Key()), data); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// GetSnapshot returns the snapshot recorded at coord, if any.
func (idx *Index) GetSnapshot(coord Coordinate) (Snapshot, bool, error) {
	data, err := idx.kv.Get(indexCF, []byte(coord.Key()))
	if casgerr.Is(err, casgerr.KindNotFound) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, err
	}
	snap, err := decodeSnapshot(data)
	if err != nil {
		return Snapshot{}, false, err
	}
	return snap, true, nil
}

// ListSnapshots returns every recorded snapshot.
func (idx *Index) ListSnapshots() ([]Snapshot, error) {
	var out []Snapshot
	err := idx.kv.PrefixIter(indexCF, nil, func(_, v []byte) bool {
		snap, err := decodeSnapshot(v)
		if err != nil {
			return true
		}
		out = append(out, snap)
		return true
	})
	return out, err
}

// VerifySnapshot compares dag's three roots (sequence, taxonomy,
// cross-reference) against what snap recorded; all three must match.
func VerifySnapshot(snap Snapshot, dag merkle.DualDAG) bool {
	return snap.SequenceRoot == dag.SequenceRoot &&
		snap.TaxonomyRoot == dag.TaxonomyRoot &&
		snap.CrossReferenceRoot == dag.CrossReferenceRoot
}

// Diff resolves the manifests behind coordinates a and b and returns
// their chunk-level delta.
func (idx *Index) Diff(a, b Coordinate) (manifest.Diff, error) {
	snapA, found, err := idx.GetSnapshot(a)
	if err != nil {
		return manifest.Diff{}, err
	}
	if !found {
		return manifest.Diff{}, casgerr.NotFound("no snapshot recorded at coordinate %s", a.Key())
	}
	snapB, found, err := idx.GetSnapshot(b)
	if err != nil {
		return manifest.Diff{}, err
	}
	if !found {
		return manifest.Diff{}, casgerr.NotFound("no snapshot recorded at coordinate %s", b.Key())
	}

	manifestA, err := idx.resolver(snapA.ManifestKey)
	if err != nil {
		return manifest.Diff{}, err
	}
	manifestB, err := idx.resolver(snapB.ManifestKey)
	if err != nil {
		return manifest.Diff{}, err
	}

	return manifest.DiffManifests(manifestA, manifestB), nil
}
