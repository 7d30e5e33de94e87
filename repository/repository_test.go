package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talariadb/casg/bitemporal"
	"github.com/talariadb/casg/chunk"
	"github.com/talariadb/casg/config"
	"github.com/talariadb/casg/dbref"
)

func openTestRepo(t *testing.T) *Repository {
	t.Helper()
	root := t.TempDir()
	repo, err := Open(root, config.Default())
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestOpenCreatesLayoutAndWiresComponents(t *testing.T) {
	root := t.TempDir()
	repo, err := Open(root, nil)
	require.NoError(t, err)
	defer repo.Close()

	assert.DirExists(t, filepath.Join(root, dataDir))
	assert.DirExists(t, filepath.Join(root, downloadsDir))
	assert.DirExists(t, filepath.Join(root, backupsDir))
	assert.NotNil(t, repo.Blobs)
	assert.NotNil(t, repo.Sequences)
	assert.NotNil(t, repo.Chunker)
	assert.NotNil(t, repo.Manifests)
	assert.NotNil(t, repo.BiTemporal)
	assert.NotNil(t, repo.Verifier)
	assert.NotNil(t, repo.Processing)
}

func TestBuildManifestChunksAndAnchorsRoots(t *testing.T) {
	repo := openTestRepo(t)
	source := dbref.UniProt("swissprot")

	var refs []chunk.SequenceRef
	for i := 0; i < 5; i++ {
		taxon := uint32(100)
		h, _, err := repo.Sequences.StoreSequence([]byte("MKT"), "ACC1", ">h", source, &taxon)
		require.NoError(t, err)
		refs = append(refs, chunk.SequenceRef{Hash: h, Accession: "ACC1", Header: ">h", TaxonID: &taxon})
	}

	m, err := repo.BuildManifest(context.Background(), source, "v1", "tax1", refs, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, m.ChunkIndex)
	assert.NotEqual(t, m.SequenceRoot, m.TaxonomyRoot)
	assert.Equal(t, m.CrossReferenceRoot, m.RebuildDualDAG().CrossReferenceRoot)
}

func TestSaveManifestThenVerifyReportsOK(t *testing.T) {
	repo := openTestRepo(t)
	source := dbref.UniProt("swissprot")
	taxon := uint32(7)

	h, _, err := repo.Sequences.StoreSequence([]byte("MKTAYIAKQRQISFVK"), "P1", ">p1", source, &taxon)
	require.NoError(t, err)
	refs := []chunk.SequenceRef{{Hash: h, Accession: "P1", Header: ">p1", TaxonID: &taxon}}

	m, err := repo.BuildManifest(context.Background(), source, "v1", "tax1", refs, nil)
	require.NoError(t, err)
	require.NoError(t, repo.SaveManifest(m))

	coord := bitemporal.Coordinate{SequenceTime: time.Now().UTC(), TaxonomyTime: time.Now().UTC()}
	_, err = repo.BiTemporal.SnapshotAt(coord, m.RebuildDualDAG(), m.StorageKey())
	require.NoError(t, err)

	report := repo.Verify(context.Background(), m)
	assert.True(t, report.OK())
}

func TestGCDeletesChunksUnreferencedByAnyLiveManifest(t *testing.T) {
	repo := openTestRepo(t)
	source := dbref.UniProt("swissprot")

	orphanHash, err := repo.Blobs.StoreChunk([]byte("orphan bytes"), false)
	require.NoError(t, err)

	taxon := uint32(1)
	h, _, err := repo.Sequences.StoreSequence([]byte("MKT"), "P1", ">p1", source, &taxon)
	require.NoError(t, err)
	refs := []chunk.SequenceRef{{Hash: h, Accession: "P1", Header: ">p1", TaxonID: &taxon}}
	m, err := repo.BuildManifest(context.Background(), source, "v1", "tax1", refs, nil)
	require.NoError(t, err)
	require.NoError(t, repo.SaveManifest(m))

	coord := bitemporal.Coordinate{SequenceTime: time.Now().UTC(), TaxonomyTime: time.Now().UTC()}
	_, err = repo.BiTemporal.SnapshotAt(coord, m.RebuildDualDAG(), m.StorageKey())
	require.NoError(t, err)

	for _, c := range m.ChunkIndex {
		exists, err := repo.Blobs.Exists(c.Hash)
		require.NoError(t, err)
		require.True(t, exists)
	}

	report, err := repo.GC()
	require.NoError(t, err)
	assert.Equal(t, 1, report.ChunksDeleted)

	stillThere, err := repo.Blobs.Exists(m.ChunkIndex[0].Hash)
	require.NoError(t, err)
	assert.True(t, stillThere)

	gone, err := repo.Blobs.Exists(orphanHash)
	require.NoError(t, err)
	assert.False(t, gone)
}

func TestAcquireWorkspaceCreatesUnderRepositoryRoot(t *testing.T) {
	repo := openTestRepo(t)
	ws, err := repo.AcquireWorkspace(dbref.UniProt("swissprot"), nil)
	require.NoError(t, err)
	defer ws.Release()

	assert.Contains(t, ws.Dir, repo.WorkspaceRoot())
}
