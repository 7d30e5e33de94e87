package kv

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/talariadb/casg/casgerr"
	"github.com/talariadb/casg/config"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "store.db")
	s, err := Open(path, config.DefaultRocksDBConfig())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGetDelete(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Put("chunks", []byte("k1"), []byte("v1")))

	v, err := s.Get("chunks", []byte("k1"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), v)

	exists, err := s.Exists("chunks", []byte("k1"))
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, s.Delete("chunks", []byte("k1")))
	_, err = s.Get("chunks", []byte("k1"))
	assert.True(t, casgerr.Is(err, casgerr.KindNotFound))
}

func TestMissingKeyIsNotFoundNotGenericError(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Get("chunks", []byte("absent"))
	require.Error(t, err)
	assert.True(t, casgerr.Is(err, casgerr.KindNotFound))
}

func TestBatchWriteIsAtomic(t *testing.T) {
	s := openTestStore(t)
	ops := []WriteOp{
		Put("chunks", []byte("a"), []byte("1")),
		Put("canonical_sequences", []byte("b"), []byte("2")),
	}
	require.NoError(t, s.BatchWrite(ops))

	va, err := s.Get("chunks", []byte("a"))
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), va)

	vb, err := s.Get("canonical_sequences", []byte("b"))
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), vb)
}

func TestBatchWriteRollsBackOnUnknownCF(t *testing.T) {
	s := openTestStore(t)
	ops := []WriteOp{
		Put("chunks", []byte("a"), []byte("1")),
		Put("not_a_real_cf", []byte("b"), []byte("2")),
	}
	err := s.BatchWrite(ops)
	assert.Error(t, err)

	_, err = s.Get("chunks", []byte("a"))
	assert.True(t, casgerr.Is(err, casgerr.KindNotFound), "partial batch must not have been committed")
}

func TestMultiGet(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Put("chunks", []byte("a"), []byte("1")))
	require.NoError(t, s.Put("chunks", []byte("b"), []byte("2")))

	got, err := s.MultiGet("chunks", [][]byte{[]byte("a"), []byte("b"), []byte("missing")})
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{"a": []byte("1"), "b": []byte("2")}, got)
}

func TestPrefixIter(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Put("chunks", []byte("taxon:1:a"), []byte("1")))
	require.NoError(t, s.Put("chunks", []byte("taxon:1:b"), []byte("2")))
	require.NoError(t, s.Put("chunks", []byte("taxon:2:a"), []byte("3")))

	var keys []string
	require.NoError(t, s.PrefixIter("chunks", []byte("taxon:1:"), func(k, v []byte) bool {
		keys = append(keys, string(k))
		return true
	}))
	assert.ElementsMatch(t, []string{"taxon:1:a", "taxon:1:b"}, keys)
}

func TestSnapshotIsConsistentAfterSubsequentWrites(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Put("chunks", []byte("a"), []byte("1")))

	snap, err := s.Snapshot()
	require.NoError(t, err)
	defer snap.Close()

	require.NoError(t, s.Put("chunks", []byte("a"), []byte("2")))

	v, err := snap.Get("chunks", []byte("a"))
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), v, "snapshot must not observe writes after it was taken")
}

func TestBackupCreateListVerifyRestorePurge(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Put("chunks", []byte("a"), []byte("1")))

	backupDir := filepath.Join(t.TempDir(), "backups")

	id1, err := s.CreateBackup(backupDir, true)
	require.NoError(t, err)

	require.NoError(t, s.Put("chunks", []byte("b"), []byte("2")))
	id2, err := s.CreateBackup(backupDir, true)
	require.NoError(t, err)

	backups, err := ListBackups(backupDir)
	require.NoError(t, err)
	require.Len(t, backups, 2)
	assert.Equal(t, id2, backups[0].ID, "newest first")

	require.NoError(t, VerifyBackup(backupDir, id1))
	require.NoError(t, VerifyBackup(backupDir, id2))

	restoreTarget := filepath.Join(t.TempDir(), "restored.db")
	require.NoError(t, RestoreLatest(backupDir, restoreTarget))

	restored, err := Open(restoreTarget, config.DefaultRocksDBConfig())
	require.NoError(t, err)
	defer restored.Close()
	v, err := restored.Get("chunks", []byte("b"))
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), v)

	require.NoError(t, PurgeBackups(backupDir, 1))
	backups, err = ListBackups(backupDir)
	require.NoError(t, err)
	assert.Len(t, backups, 1)
	assert.Equal(t, id2, backups[0].ID)
}
