package manifest

import (
	"bytes"
	"encoding/gob"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/talariadb/casg/config"
	"github.com/talariadb/casg/dbref"
	"github.com/talariadb/casg/hash"
	"github.com/talariadb/casg/kv"
)

// fakeEncode/fakeDecode stand in for manifest/codec's Encode/Decode (that
// package imports manifest, so it can't be imported back here) while
// still exercising Store's wiring to a real KV backend.
func fakeEncode(m *Manifest) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func fakeDecode(data []byte) (*Manifest, error) {
	var m Manifest
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&m); err != nil {
		return nil, err
	}
	return &m, nil
}

func openTestKV(t *testing.T) *kv.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "store.db")
	s, err := kv.Open(path, config.DefaultRocksDBConfig())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreSaveAndLoad(t *testing.T) {
	store := NewStore(openTestKV(t), fakeEncode, fakeDecode)
	m := New(dbref.UniProt("swissprot"), "v1", "t1")
	m.AddChunk(Metadata{Hash: hash.Of([]byte("a"))})

	require.NoError(t, store.Save(m))

	loaded, err := store.Load(m.StorageKey())
	require.NoError(t, err)
	assert.Equal(t, m.VersionID, loaded.VersionID)
	require.Len(t, loaded.ChunkIndex, 1)
	assert.Equal(t, m.ChunkIndex[0].Hash, loaded.ChunkIndex[0].Hash)
}

func TestStoreListKeysByPrefix(t *testing.T) {
	store := NewStore(openTestKV(t), fakeEncode, fakeDecode)
	m1 := New(dbref.UniProt("swissprot"), "v1", "t1")
	m2 := New(dbref.NCBI("nr"), "v1", "t1")
	require.NoError(t, store.Save(m1))
	require.NoError(t, store.Save(m2))

	keys, err := store.ListKeys("manifest:uniprot:swissprot:")
	require.NoError(t, err)
	assert.Equal(t, []string{m1.StorageKey()}, keys)
}
