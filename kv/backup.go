package kv

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/boltdb/bolt"
	"github.com/google/uuid"
	"github.com/talariadb/casg/casgerr"
)

// BackupDescriptor is the metadata record stored alongside each backup
// file, matching the on-disk layout in spec §6
// (backups/metadata/{id,name,description,created_at,size_bytes}).
type BackupDescriptor struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	SizeBytes   int64     `json:"size_bytes"`
}

func backupFile(dir, id string) string {
	return filepath.Join(dir, "rocksdb", id+".bak")
}

func descriptorFile(dir, id string) string {
	return filepath.Join(dir, "metadata", id+".json")
}

// CreateBackup writes a full copy of the store to dir/rocksdb/{id}.bak via
// bolt's Tx.WriteTo, optionally flushing first, and records a descriptor
// under dir/metadata.
func (s *Store) CreateBackup(dir string, flush bool) (string, error) {
	if flush {
		if err := s.Flush(); err != nil {
			return "", err
		}
	}

	if err := os.MkdirAll(filepath.Join(dir, "rocksdb"), 0o755); err != nil {
		return "", casgerr.IoError(err, "creating backup directory")
	}
	if err := os.MkdirAll(filepath.Join(dir, "metadata"), 0o755); err != nil {
		return "", casgerr.IoError(err, "creating backup metadata directory")
	}

	id := uuid.NewString()
	dst := backupFile(dir, id)

	var size int64
	err := s.db.View(func(tx *bolt.Tx) error {
		f, err := os.Create(dst)
		if err != nil {
			return err
		}
		defer f.Close()
		n, err := tx.WriteTo(f)
		size = n
		return err
	})
	if err != nil {
		return "", casgerr.IoError(err, "writing backup")
	}

	desc := BackupDescriptor{
		ID:        id,
		Name:      id,
		CreatedAt: time.Now().UTC(),
		SizeBytes: size,
	}
	if err := writeDescriptor(dir, desc); err != nil {
		return "", err
	}
	return id, nil
}

func writeDescriptor(dir string, desc BackupDescriptor) error {
	data, err := json.MarshalIndent(desc, "", "  ")
	if err != nil {
		return casgerr.Wrap(err, casgerr.KindInternal, "encoding backup descriptor")
	}
	if err := os.WriteFile(descriptorFile(dir, desc.ID), data, 0o644); err != nil {
		return casgerr.IoError(err, "writing backup descriptor")
	}
	return nil
}

// ListBackups returns every backup descriptor under dir, newest first.
func ListBackups(dir string) ([]BackupDescriptor, error) {
	entries, err := os.ReadDir(filepath.Join(dir, "metadata"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, casgerr.IoError(err, "listing backups")
	}

	out := make([]BackupDescriptor, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, "metadata", e.Name()))
		if err != nil {
			return nil, casgerr.IoError(err, "reading backup descriptor %s", e.Name())
		}
		var desc BackupDescriptor
		if err := json.Unmarshal(data, &desc); err != nil {
			return nil, casgerr.Corrupted("malformed backup descriptor %s", e.Name())
		}
		out = append(out, desc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// VerifyBackup re-opens the backup file as a bolt database and checks every
// column family bucket is present.
func VerifyBackup(dir, id string) error {
	path := backupFile(dir, id)
	db, err := bolt.Open(path, 0o444, &bolt.Options{ReadOnly: true, Timeout: time.Second})
	if err != nil {
		return casgerr.Corrupted("backup %s unreadable: %v", id, err)
	}
	defer db.Close()

	return db.View(func(tx *bolt.Tx) error {
		for _, cf := range ColumnFamilies {
			if tx.Bucket([]byte(cf)) == nil {
				return casgerr.Corrupted("backup %s missing column family %s", id, cf)
			}
		}
		return nil
	})
}

// RestoreLatest copies the most recent backup under dir onto target,
// replacing any existing file there.
func RestoreLatest(dir, target string) error {
	backups, err := ListBackups(dir)
	if err != nil {
		return err
	}
	if len(backups) == 0 {
		return casgerr.NotFound("no backups found under %s", dir)
	}
	latest := backups[0]
	src := backupFile(dir, latest.ID)

	data, err := os.ReadFile(src)
	if err != nil {
		return casgerr.IoError(err, "reading backup %s", latest.ID)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return casgerr.IoError(err, "creating restore target directory")
	}
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return casgerr.IoError(err, "writing restored store")
	}
	return nil
}

// PurgeBackups deletes all but the keep most recent backups under dir.
func PurgeBackups(dir string, keep int) error {
	backups, err := ListBackups(dir)
	if err != nil {
		return err
	}
	if keep < 0 {
		keep = 0
	}
	if len(backups) <= keep {
		return nil
	}
	for _, b := range backups[keep:] {
		if err := os.Remove(backupFile(dir, b.ID)); err != nil && !os.IsNotExist(err) {
			return casgerr.IoError(err, "removing backup file %s", b.ID)
		}
		if err := os.Remove(descriptorFile(dir, b.ID)); err != nil && !os.IsNotExist(err) {
			return casgerr.IoError(err, "removing backup descriptor %s", b.ID)
		}
	}
	return nil
}

// Flush forces bolt to sync its memory-mapped file to disk.
func (s *Store) Flush() error {
	return s.db.Sync()
}
