package manifest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/talariadb/casg/dbref"
	"github.com/talariadb/casg/hash"
)

func sampleManifest() *Manifest {
	m := New(dbref.UniProt("swissprot"), "2024.01", "2024.01")
	m.AddChunk(Metadata{Hash: hash.Of([]byte("chunk1")), Size: 100, SequenceCount: 5})
	m.AddChunk(Metadata{Hash: hash.Of([]byte("chunk2")), Size: 200, SequenceCount: 7})
	return m
}

func TestAddChunkAndChunkHashes(t *testing.T) {
	m := sampleManifest()
	hashes := m.ChunkHashes()
	require.Len(t, hashes, 2)
	assert.Equal(t, hash.Of([]byte("chunk1")), hashes[0])
	assert.Equal(t, hash.Of([]byte("chunk2")), hashes[1])
}

func TestRootHashIsDeterministic(t *testing.T) {
	m1 := sampleManifest()
	m2 := sampleManifest()
	assert.Equal(t, m1.RootHash(), m2.RootHash())
}

func TestGenerateAndVerifyProof(t *testing.T) {
	m := sampleManifest()
	proof := m.GenerateProof(1)
	leaf := m.ChunkIndex[1].Hash
	assert.True(t, m.VerifyProof(leaf, proof))

	wrongLeaf := hash.Of([]byte("not a chunk"))
	assert.False(t, m.VerifyProof(wrongLeaf, proof))
}

func TestStorageKeyIncludesSourceAndVersion(t *testing.T) {
	m := sampleManifest()
	key := m.StorageKey()
	assert.Equal(t, "manifest:uniprot:swissprot:"+m.VersionID, key)
}

func TestVersionIDIsUTCTimestampForm(t *testing.T) {
	m := sampleManifest()
	_, err := time.Parse("20060102_150405", m.VersionID)
	assert.NoError(t, err, "VersionID %q must be a YYYYMMDD_HHMMSS UTC timestamp", m.VersionID)
}

func TestDiffManifestsAddedRemovedUnchanged(t *testing.T) {
	a := New(dbref.UniProt("swissprot"), "v1", "t1")
	a.AddChunk(Metadata{Hash: hash.Of([]byte("keep"))})
	a.AddChunk(Metadata{Hash: hash.Of([]byte("drop"))})

	b := New(dbref.UniProt("swissprot"), "v2", "t1")
	b.AddChunk(Metadata{Hash: hash.Of([]byte("keep"))})
	b.AddChunk(Metadata{Hash: hash.Of([]byte("new"))})

	diff := DiffManifests(a, b)
	assert.ElementsMatch(t, []hash.Hash{hash.Of([]byte("new"))}, diff.Added)
	assert.ElementsMatch(t, []hash.Hash{hash.Of([]byte("drop"))}, diff.Removed)
	assert.ElementsMatch(t, []hash.Hash{hash.Of([]byte("keep"))}, diff.Unchanged)
}

func TestCompressedSizeIsOptionalPointer(t *testing.T) {
	m := sampleManifest()
	for _, c := range m.ChunkIndex {
		assert.Nil(t, c.CompressedSize, "compressed size must be absent unless explicitly set")
	}

	size := uint64(42)
	m.AddChunk(Metadata{Hash: hash.Of([]byte("chunk3")), CompressedSize: &size})
	assert.Equal(t, uint64(42), *m.ChunkIndex[2].CompressedSize)
}
