package repository

import (
	"github.com/sirupsen/logrus"

	"github.com/talariadb/casg/hash"
	"github.com/talariadb/casg/metrics"
)

// GCReport summarizes one orphan-garbage-collection pass.
type GCReport struct {
	ChunksScanned  int
	ChunksDeleted  int
	BytesReclaimed uint64
}

// GC enumerates every chunk blob, computes the union of chunk hashes
// referenced by any manifest version reachable from the bi-temporal
// index, and deletes every blob outside that union. Per spec §3,
// orphan GC is the only legal chunk-deletion path — a chunk is removable
// only once no live manifest references it.
func (r *Repository) GC() (GCReport, error) {
	live, err := r.liveChunkHashes()
	if err != nil {
		return GCReport{}, err
	}

	var report GCReport
	var toDelete []hash.Hash
	for h := range r.Blobs.EnumerateChunks() {
		report.ChunksScanned++
		if _, ok := live[h]; !ok {
			toDelete = append(toDelete, h)
		}
	}

	for _, h := range toDelete {
		data, err := r.Blobs.GetChunk(h)
		if err != nil {
			log.WithError(err).WithField("chunk_hash", h).Warn("skipping unreadable chunk during gc")
			continue
		}
		if err := r.Blobs.DeleteChunk(h); err != nil {
			return report, err
		}
		report.ChunksDeleted++
		report.BytesReclaimed += uint64(len(data))
	}

	log.WithFields(logrus.Fields{
		"scanned": report.ChunksScanned,
		"deleted": report.ChunksDeleted,
		"bytes":   report.BytesReclaimed,
	}).Info("orphan gc complete")
	return report, nil
}

// liveChunkHashes is the union of ChunkIndex hashes across every
// manifest version the bi-temporal index currently points at.
func (r *Repository) liveChunkHashes() (hash.HashSet, error) {
	live := make(hash.HashSet)

	snapshots, err := r.BiTemporal.ListSnapshots()
	if err != nil {
		return nil, err
	}
	for _, snap := range snapshots {
		m, err := r.Manifests.Load(snap.ManifestKey)
		if err != nil {
			log.WithError(err).WithField("manifest_key", snap.ManifestKey).
				Warn("skipping unreadable manifest during gc reachability scan")
			continue
		}
		for _, c := range m.ChunkIndex {
			live[c.Hash] = struct{}{}
			for _, sub := range c.SubChunks {
				live[sub] = struct{}{}
			}
		}
	}
	return live, nil
}
