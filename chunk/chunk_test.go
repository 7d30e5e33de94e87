package chunk

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/talariadb/casg/blob"
	"github.com/talariadb/casg/config"
	"github.com/talariadb/casg/dbref"
	"github.com/talariadb/casg/kv"
	"github.com/talariadb/casg/sequence"
)

func newTestStores(t *testing.T) (*sequence.Store, *blob.Store) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "store.db")
	kvStore, err := kv.Open(path, config.DefaultRocksDBConfig())
	require.NoError(t, err)
	t.Cleanup(func() { kvStore.Close() })
	return sequence.New(kvStore), blob.New(kvStore)
}

func taxonPtr(id uint32) *uint32 { return &id }

func seedSequencesOfSize(t *testing.T, seqStore *sequence.Store, n, payloadSize int, taxonID uint32) []SequenceRef {
	t.Helper()
	refs := make([]SequenceRef, 0, n)
	for i := 0; i < n; i++ {
		payload := make([]byte, payloadSize)
		for j := range payload {
			payload[j] = byte(i + j)
		}
		h, _, err := seqStore.StoreSequence(payload, "ACC", "header", dbref.UniProt("swissprot"), taxonPtr(taxonID))
		require.NoError(t, err)
		refs = append(refs, SequenceRef{Hash: h, Accession: "ACC", Header: "header", TaxonID: taxonPtr(taxonID)})
	}
	return refs
}

func seedSequences(t *testing.T, seqStore *sequence.Store, n int, taxonID uint32) []SequenceRef {
	t.Helper()
	refs := make([]SequenceRef, 0, n)
	for i := 0; i < n; i++ {
		payload := []byte{byte(i), byte(i >> 8), byte(taxonID)}
		h, _, err := seqStore.StoreSequence(payload, "ACC", "header", dbref.UniProt("swissprot"), taxonPtr(taxonID))
		require.NoError(t, err)
		refs = append(refs, SequenceRef{Hash: h, Accession: "ACC", Header: "header", TaxonID: taxonPtr(taxonID)})
	}
	return refs
}

func TestRunCanonicalSingleBinSingleChunk(t *testing.T) {
	seqStore, blobStore := newTestStores(t)
	refs := seedSequences(t, seqStore, 5, 9606)

	cfg := DefaultConfig()
	cfg.MaxSequencesPerChunk = 100
	c := New(seqStore, blobStore, cfg)

	entries, err := c.Run(context.Background(), refs)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 5, entries[0].SequenceCount)
	assert.Equal(t, []uint32{9606}, entries[0].TaxonIDs)
}

func TestRunCanonicalSplitsOnMaxSequenceCount(t *testing.T) {
	seqStore, blobStore := newTestStores(t)
	refs := seedSequences(t, seqStore, 10, 9606)

	cfg := DefaultConfig()
	cfg.MaxSequencesPerChunk = 4
	cfg.TargetChunkBytes = 0
	c := New(seqStore, blobStore, cfg)

	entries, err := c.Run(context.Background(), refs)
	require.NoError(t, err)
	require.Len(t, entries, 3) // 4 + 4 + 2

	total := 0
	for _, e := range entries {
		total += e.SequenceCount
		assert.LessOrEqual(t, e.SequenceCount, 4)
	}
	assert.Equal(t, 10, total)
}

// TestRunCanonicalSplitsOnTargetChunkBytesWithRealisticPayloads exercises
// the size bound against real sequence-store payloads rather than a fixed
// per-sequence estimate: ten ~10KB sequences under a 25KB target split
// into four chunks (three groups of three plus a one-sequence remainder),
// which only happens if sequenceSize reports each sequence's actual
// stored length.
func TestRunCanonicalSplitsOnTargetChunkBytesWithRealisticPayloads(t *testing.T) {
	seqStore, blobStore := newTestStores(t)
	const payloadSize = 10_000
	refs := seedSequencesOfSize(t, seqStore, 10, payloadSize, 9606)

	cfg := DefaultConfig()
	cfg.TargetChunkBytes = 25_000
	cfg.MaxChunkBytes = 0
	cfg.MaxSequencesPerChunk = 0
	c := New(seqStore, blobStore, cfg)

	entries, err := c.Run(context.Background(), refs)
	require.NoError(t, err)
	require.Len(t, entries, 4)

	counts := make([]int, len(entries))
	total := 0
	for i, e := range entries {
		counts[i] = e.SequenceCount
		total += e.SequenceCount
		assert.Greater(t, e.SizeBytes, int64(payloadSize), "chunk size must reflect real payload bytes, not a fixed estimate")
	}
	assert.Equal(t, 10, total)
	assert.Equal(t, []int{3, 3, 3, 1}, counts)
}

func TestRunCanonicalSeparatesIsolationTaxa(t *testing.T) {
	seqStore, blobStore := newTestStores(t)
	refs := seedSequences(t, seqStore, 3, 1)

	cfg := DefaultConfig()
	cfg.IsolationTaxa = map[uint32]bool{1: true}
	c := New(seqStore, blobStore, cfg)

	entries, err := c.Run(context.Background(), refs)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, []uint32{1}, entries[0].TaxonIDs)
}

func TestRunCanonicalBinsUnknownTaxonToZero(t *testing.T) {
	seqStore, blobStore := newTestStores(t)
	h, _, err := seqStore.StoreSequence([]byte("payload"), "ACC", "header", dbref.UniProt("swissprot"), nil)
	require.NoError(t, err)
	refs := []SequenceRef{{Hash: h, Accession: "ACC", Header: "header", TaxonID: nil}}

	c := New(seqStore, blobStore, DefaultConfig())
	entries, err := c.Run(context.Background(), refs)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, []uint32{0}, entries[0].TaxonIDs)
}

func TestRunIsDeterministicAcrossRepeatedCalls(t *testing.T) {
	seqStore, blobStore := newTestStores(t)
	refs := seedSequences(t, seqStore, 6, 9606)
	refs = append(refs, seedSequences(t, seqStore, 4, 10090)...)

	cfg := DefaultConfig()
	cfg.MaxSequencesPerChunk = 3
	c := New(seqStore, blobStore, cfg)

	entries1, err := c.Run(context.Background(), refs)
	require.NoError(t, err)
	entries2, err := c.Run(context.Background(), refs)
	require.NoError(t, err)

	require.Equal(t, len(entries1), len(entries2))
	for i := range entries1 {
		assert.Equal(t, entries1[i].Hash, entries2[i].Hash)
		assert.Equal(t, entries1[i].SequenceHashes, entries2[i].SequenceHashes)
	}
}

func TestRunHierarchicalBuildsSubChunkReferences(t *testing.T) {
	seqStore, blobStore := newTestStores(t)
	childRefs1 := seedSequences(t, seqStore, 5, 1)
	childRefs2 := seedSequences(t, seqStore, 5, 2)

	root := &TaxonNode{
		TaxonID: 100,
		Rank:    "family",
		Children: []*TaxonNode{
			{TaxonID: 1, Rank: "genus", Refs: childRefs1},
			{TaxonID: 2, Rank: "genus", Refs: childRefs2},
		},
	}

	cfg := DefaultConfig()
	cfg.MinSequencesPerChunk = 1
	c := New(seqStore, blobStore, cfg)

	entries, err := c.RunHierarchical(context.Background(), root)
	require.NoError(t, err)
	require.Len(t, entries, 3) // two child chunks + one parent chunk

	var parent *Entry
	for i := range entries {
		if len(entries[i].SubChunks) > 0 {
			parent = &entries[i]
		}
	}
	require.NotNil(t, parent, "parent chunk must reference its children as sub-chunks")
	assert.Len(t, parent.SubChunks, 2)
}

func TestRunHierarchicalMergesUndersizedChildIntoParent(t *testing.T) {
	seqStore, blobStore := newTestStores(t)
	tinyChild := seedSequences(t, seqStore, 1, 1)

	root := &TaxonNode{
		TaxonID: 100,
		Rank:    "family",
		Children: []*TaxonNode{
			{TaxonID: 1, Rank: "genus", Refs: tinyChild},
		},
	}

	cfg := DefaultConfig()
	cfg.MinSequencesPerChunk = 5 // child of size 1 must be merged upward
	c := New(seqStore, blobStore, cfg)

	entries, err := c.RunHierarchical(context.Background(), root)
	require.NoError(t, err)
	require.Len(t, entries, 1, "undersized child chunk must merge into its parent rather than stand alone")
	assert.Equal(t, 1, entries[0].SequenceCount)
}
