package bitemporal

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/talariadb/casg/config"
	"github.com/talariadb/casg/dbref"
	"github.com/talariadb/casg/hash"
	"github.com/talariadb/casg/kv"
	"github.com/talariadb/casg/manifest"
	"github.com/talariadb/casg/merkle"
)

func openTestKV(t *testing.T) *kv.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "store.db")
	s, err := kv.Open(path, config.DefaultRocksDBConfig())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSnapshotAtAndGetSnapshot(t *testing.T) {
	idx := New(openTestKV(t), nil)
	coord := Coordinate{SequenceTime: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), TaxonomyTime: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	dag := merkle.NewDualDAG([]hash.Hash{hash.Of([]byte("s1"))}, []hash.Hash{hash.Of([]byte("t1"))})

	snap, err := idx.SnapshotAt(coord, dag, "manifest:uniprot/swissprot:v1")
	require.NoError(t, err)
	assert.Equal(t, dag.SequenceRoot, snap.SequenceRoot)

	loaded, found, err := idx.GetSnapshot(coord)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, snap, loaded)
}

func TestGetSnapshotMissingReturnsNotFoundFalse(t *testing.T) {
	idx := New(openTestKV(t), nil)
	_, found, err := idx.GetSnapshot(Coordinate{})
	require.NoError(t, err)
	assert.False(t, found)
}

func TestListSnapshots(t *testing.T) {
	idx := New(openTestKV(t), nil)
	dag := merkle.NewDualDAG([]hash.Hash{hash.Of([]byte("a"))}, []hash.Hash{hash.Of([]byte("b"))})

	c1 := Coordinate{SequenceTime: time.Unix(1, 0).UTC(), TaxonomyTime: time.Unix(1, 0).UTC()}
	c2 := Coordinate{SequenceTime: time.Unix(2, 0).UTC(), TaxonomyTime: time.Unix(2, 0).UTC()}
	_, err := idx.SnapshotAt(c1, dag, "m1")
	require.NoError(t, err)
	_, err = idx.SnapshotAt(c2, dag, "m2")
	require.NoError(t, err)

	snaps, err := idx.ListSnapshots()
	require.NoError(t, err)
	assert.Len(t, snaps, 2)
}

func TestVerifySnapshotDetectsRootDrift(t *testing.T) {
	dag1 := merkle.NewDualDAG([]hash.Hash{hash.Of([]byte("a"))}, []hash.Hash{hash.Of([]byte("b"))})
	dag2 := merkle.NewDualDAG([]hash.Hash{hash.Of([]byte("a2"))}, []hash.Hash{hash.Of([]byte("b"))})

	idx := New(openTestKV(t), nil)
	coord := Coordinate{SequenceTime: time.Unix(1, 0).UTC(), TaxonomyTime: time.Unix(1, 0).UTC()}
	snap, err := idx.SnapshotAt(coord, dag1, "m1")
	require.NoError(t, err)

	assert.True(t, VerifySnapshot(snap, dag1))
	assert.False(t, VerifySnapshot(snap, dag2))
}

func TestDiffResolvesBothManifestsAndDelegates(t *testing.T) {
	m1 := manifest.New(dbref.UniProt("swissprot"), "v1", "t1")
	m1.AddChunk(manifest.Metadata{Hash: hash.Of([]byte("keep"))})
	m1.AddChunk(manifest.Metadata{Hash: hash.Of([]byte("drop"))})

	m2 := manifest.New(dbref.UniProt("swissprot"), "v2", "t1")
	m2.AddChunk(manifest.Metadata{Hash: hash.Of([]byte("keep"))})
	m2.AddChunk(manifest.Metadata{Hash: hash.Of([]byte("new"))})

	resolver := func(key string) (*manifest.Manifest, error) {
		if key == "m1" {
			return m1, nil
		}
		return m2, nil
	}

	idx := New(openTestKV(t), resolver)
	dag := merkle.NewDualDAG([]hash.Hash{hash.Of([]byte("x"))}, []hash.Hash{hash.Of([]byte("y"))})

	c1 := Coordinate{SequenceTime: time.Unix(1, 0).UTC(), TaxonomyTime: time.Unix(1, 0).UTC()}
	c2 := Coordinate{SequenceTime: time.Unix(2, 0).UTC(), TaxonomyTime: time.Unix(2, 0).UTC()}
	_, err := idx.SnapshotAt(c1, dag, "m1")
	require.NoError(t, err)
	_, err = idx.SnapshotAt(c2, dag, "m2")
	require.NoError(t, err)

	diff, err := idx.Diff(c1, c2)
	require.NoError(t, err)
	assert.ElementsMatch(t, []hash.Hash{hash.Of([]byte("new"))}, diff.Added)
	assert.ElementsMatch(t, []hash.Hash{hash.Of([]byte("drop"))}, diff.Removed)
}

func TestDiffMissingCoordinateIsNotFound(t *testing.T) {
	idx := New(openTestKV(t), nil)
	_, err := idx.Diff(Coordinate{}, Coordinate{SequenceTime: time.Unix(9, 0)})
	assert.Error(t, err)
}
