// Package manifest implements the database version manifest from spec
// §4.7: a chunk index plus the Merkle roots that anchor it, persisted to
// the manifest_versions column family and readable across three
// historical wire formats.
package manifest

import (
	"encoding/binary"
	"sort"
	"time"

	"github.com/talariadb/casg/dbref"
	"github.com/talariadb/casg/hash"
	"github.com/talariadb/casg/merkle"
)

// DiscrepancyType classifies a detected taxonomy disagreement.
type DiscrepancyType int

const (
	// Conflict means the header-asserted taxon and the mapped/inferred
	// taxon disagree outright.
	Conflict DiscrepancyType = iota
	// Ambiguous means no taxon could be resolved with sufficient confidence.
	Ambiguous
	// Corrected means a prior mapping was found wrong and fixed.
	Corrected
)

func (d DiscrepancyType) String() string {
	switch d {
	case Conflict:
		return "conflict"
	case Ambiguous:
		return "ambiguous"
	case Corrected:
		return "corrected"
	default:
		return "unknown"
	}
}

// TaxonomicDiscrepancy records a disagreement between a sequence's
// header-asserted taxon and the taxon this database resolved it to.
type TaxonomicDiscrepancy struct {
	SequenceID      string
	HeaderTaxon     *uint32
	MappedTaxon     *uint32
	InferredTaxon   *uint32
	Confidence      float64
	DetectionDate   time.Time
	DiscrepancyType DiscrepancyType
}

// Metadata is one chunk's entry in a manifest's chunk index.
// CompressedSize is a pointer precisely because spec §9 marks it
// advisory-only: it is recorded for observability but must never be used
// as a lookup or index key.
type Metadata struct {
	Hash           hash.Hash
	Size           uint64
	SequenceCount  uint32
	TaxonIDs       []uint32
	CompressedSize *uint64
	SequenceHashes []hash.Hash
	SubChunks      []hash.Hash
}

// Manifest is one database version: the chunk index plus the dual Merkle
// roots anchoring it, the source it was built from, and a link to its
// predecessor.
type Manifest struct {
	VersionID            string
	CreatedAt            time.Time
	SequenceVersion      string
	TaxonomyVersion      string
	TaxonomyRoot         hash.Hash
	SequenceRoot         hash.Hash
	CrossReferenceRoot   hash.Hash
	TaxonomyManifestHash hash.Hash
	SourceDatabase       dbref.Source
	ChunkIndex           []Metadata
	Discrepancies        []TaxonomicDiscrepancy
	PreviousVersion      *hash.Hash
}

// New constructs an empty manifest for source, stamped with the given
// sequence/taxonomy version strings. VersionID is the core-generated
// YYYYMMDD_HHMMSS UTC timestamp form spec §6 mandates for version
// identifiers, via dbref.NewVersion.
func New(source dbref.Source, sequenceVersion, taxonomyVersion string) *Manifest {
	now := time.Now().UTC()
	return &Manifest{
		VersionID:       dbref.NewVersion(now),
		CreatedAt:       now,
		SequenceVersion: sequenceVersion,
		TaxonomyVersion: taxonomyVersion,
		SourceDatabase:  source,
	}
}

// AddChunk appends one chunk's metadata to the manifest's chunk index.
func (m *Manifest) AddChunk(meta Metadata) {
	m.ChunkIndex = append(m.ChunkIndex, meta)
}

// ChunkHashes returns the content hash of every chunk in the index, in
// index order.
func (m *Manifest) ChunkHashes() []hash.Hash {
	out := make([]hash.Hash, len(m.ChunkIndex))
	for i, c := range m.ChunkIndex {
		out[i] = c.Hash
	}
	return out
}

// TaxonomyLeaf derives the deterministic taxonomy-DAG leaf for one
// chunk's taxon set: the hash of its sorted taxon IDs, big-endian
// encoded. Sorting makes the leaf independent of chunk-build order.
func TaxonomyLeaf(taxonIDs []uint32) hash.Hash {
	sorted := make([]uint32, len(taxonIDs))
	copy(sorted, taxonIDs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	buf := make([]byte, 0, len(sorted)*4)
	for _, id := range sorted {
		buf = binary.BigEndian.AppendUint32(buf, id)
	}
	return hash.Of(buf)
}

// RebuildDualDAG reconstructs the dual Merkle DAG this manifest claims,
// purely from its chunk index: chunk hashes as sequence leaves, each
// chunk's TaxonomyLeaf as the corresponding taxonomy leaf.
func (m *Manifest) RebuildDualDAG() merkle.DualDAG {
	taxLeaves := make([]hash.Hash, len(m.ChunkIndex))
	for i, c := range m.ChunkIndex {
		taxLeaves[i] = TaxonomyLeaf(c.TaxonIDs)
	}
	return merkle.NewDualDAG(m.ChunkHashes(), taxLeaves)
}

// StorageKey is the manifest_versions column-family key this manifest is
// (or will be) stored under: manifest:{source}:{dataset}:{timestamp}
// (spec §6), four literal colon-joined segments — not
// SourceDatabase.CanonicalString()'s slash-joined "source/dataset" form.
func (m *Manifest) StorageKey() string {
	return "manifest:" + m.SourceDatabase.Kind.String() + ":" + m.SourceDatabase.Dataset + ":" + m.VersionID
}

// RootHash builds the Merkle root over the manifest's chunk hashes.
func (m *Manifest) RootHash() hash.Hash {
	return merkle.BuildRoot(m.ChunkHashes())
}

// GenerateProof builds an inclusion proof for the chunk at index idx.
func (m *Manifest) GenerateProof(idx int) merkle.Proof {
	return merkle.GenerateProof(m.ChunkHashes(), idx)
}

// VerifyProof checks that leaf is included in this manifest's chunk set
// under the given proof, against the manifest's current root.
func (m *Manifest) VerifyProof(leaf hash.Hash, proof merkle.Proof) bool {
	return merkle.VerifyProof(leaf, proof, m.RootHash())
}

// Diff describes the chunk-level delta between two manifests.
type Diff struct {
	Added     []hash.Hash
	Removed   []hash.Hash
	Unchanged []hash.Hash
}

// DiffManifests computes the set difference between a and b's chunk
// indices: chunks in b but not a are Added, chunks in a but not b are
// Removed, chunks in both are Unchanged.
func DiffManifests(a, b *Manifest) Diff {
	inA := make(map[hash.Hash]bool, len(a.ChunkIndex))
	for _, c := range a.ChunkIndex {
		inA[c.Hash] = true
	}
	inB := make(map[hash.Hash]bool, len(b.ChunkIndex))
	for _, c := range b.ChunkIndex {
		inB[c.Hash] = true
	}

	var d Diff
	for h := range inB {
		if inA[h] {
			d.Unchanged = append(d.Unchanged, h)
		} else {
			d.Added = append(d.Added, h)
		}
	}
	for h := range inA {
		if !inB[h] {
			d.Removed = append(d.Removed, h)
		}
	}
	return d
}
