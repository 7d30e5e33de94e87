package blob

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/talariadb/casg/bloom"
	"github.com/talariadb/casg/casgerr"
	"github.com/talariadb/casg/compress"
	"github.com/talariadb/casg/config"
	"github.com/talariadb/casg/hash"
	"github.com/talariadb/casg/kv"
)

func openTestKV(t *testing.T) *kv.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "store.db")
	s, err := kv.Open(path, config.DefaultRocksDBConfig())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreAndGetChunkUncompressed(t *testing.T) {
	store := New(openTestKV(t))
	data := []byte("MKVLAAGIVPLGKT")

	h, err := store.StoreChunk(data, false)
	require.NoError(t, err)
	assert.Equal(t, hash.Of(data), h)

	got, err := store.GetChunk(h)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestStoreAndGetChunkCompressed(t *testing.T) {
	store := New(openTestKV(t))
	data := []byte(strings.Repeat("ACGTACGTACGT", 2000))

	h, err := store.StoreChunk(data, true)
	require.NoError(t, err)
	assert.Equal(t, hash.Of(data), h, "hash must be computed on pre-compression bytes")

	got, err := store.GetChunk(h)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestStoreChunkIsIdempotent(t *testing.T) {
	store := New(openTestKV(t))
	data := []byte("repeated chunk content")

	h1, err := store.StoreChunk(data, false)
	require.NoError(t, err)
	h2, err := store.StoreChunk(data, false)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	stats, err := store.GetStats()
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.ChunkCount, "storing identical content twice must not duplicate the blob")
}

func TestGetChunkMissingIsNotFound(t *testing.T) {
	store := New(openTestKV(t))
	_, err := store.GetChunk(hash.Of([]byte("never stored")))
	assert.True(t, casgerr.Is(err, casgerr.KindNotFound))
}

func TestGetChunkCorruptedPayloadFailsVerification(t *testing.T) {
	kvStore := openTestKV(t)
	store := New(kvStore)
	data := []byte("original content")

	h, err := store.StoreChunk(data, false)
	require.NoError(t, err)

	require.NoError(t, kvStore.Put(chunksCF, h[:], []byte("tampered content!!")))

	_, err = store.GetChunk(h)
	assert.True(t, casgerr.Is(err, casgerr.KindCorrupted))
}

func TestExistsUsesBloomFilterToShortCircuit(t *testing.T) {
	filter := bloom.New(1000, 0.01)
	store := New(openTestKV(t), WithBloomFilter(filter))

	absent := hash.Of([]byte("not stored"))
	exists, err := store.Exists(absent)
	require.NoError(t, err)
	assert.False(t, exists)

	h, err := store.StoreChunk([]byte("stored data"), false)
	require.NoError(t, err)

	exists, err = store.Exists(h)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestEnumerateChunksSkipsMetaSidecars(t *testing.T) {
	store := New(openTestKV(t))
	h1, err := store.StoreChunk([]byte("chunk one"), false)
	require.NoError(t, err)
	h2, err := store.StoreChunk([]byte("chunk two"), true)
	require.NoError(t, err)

	var found []hash.Hash
	for h := range store.EnumerateChunks() {
		found = append(found, h)
	}
	assert.ElementsMatch(t, []hash.Hash{h1, h2}, found)
}

func TestDeleteChunk(t *testing.T) {
	store := New(openTestKV(t))
	h, err := store.StoreChunk([]byte("to be deleted"), false)
	require.NoError(t, err)

	require.NoError(t, store.DeleteChunk(h))

	_, err = store.GetChunk(h)
	assert.True(t, casgerr.Is(err, casgerr.KindNotFound))
}

func TestStoreChunkUsesConfiguredFormatTag(t *testing.T) {
	for _, tag := range []compress.FormatTag{compress.Snappy, compress.LZ4, compress.Binary} {
		store := New(openTestKV(t), WithFormatTag(tag))
		data := []byte(strings.Repeat("MKVLAAGIVPLGKTQSLALLAQQ", 500))

		h, err := store.StoreChunk(data, true)
		require.NoError(t, err)

		got, err := store.GetChunk(h)
		require.NoError(t, err, "tag %s must round-trip", tag)
		assert.Equal(t, data, got)
	}
}

func TestGetStatsComputesDedupRatio(t *testing.T) {
	store := New(openTestKV(t))
	data := []byte(strings.Repeat("MKVLAAGIVPLGKTQSLALLAQQ", 500))

	_, err := store.StoreChunk(data, true)
	require.NoError(t, err)

	stats, err := store.GetStats()
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.ChunkCount)
	assert.EqualValues(t, len(data), stats.TotalBytes)
	assert.Less(t, stats.CompressedBytes, stats.TotalBytes)
	assert.Greater(t, stats.DedupRatio, 0.0)
}
