// Package verify implements the full-repository verification pass from
// spec §4.9: per-chunk integrity, sequence-reference resolution, dual
// Merkle root reconstruction, cross-reference recomputation, and
// bi-temporal snapshot consistency, all folded into one structured
// report rather than aborting on the first failure.
package verify

import (
	"context"

	"github.com/talariadb/casg/bitemporal"
	"github.com/talariadb/casg/blob"
	"github.com/talariadb/casg/casgerr"
	"github.com/talariadb/casg/hash"
	"github.com/talariadb/casg/manifest"
	"github.com/talariadb/casg/metrics"
	"github.com/talariadb/casg/sequence"
)

// Report is the structured outcome of a Run. A corrupted or missing
// chunk never aborts the walk: both are recorded and the remaining
// chunks are still checked, per spec §7's "corruption of a single
// chunk does not poison the store" propagation policy.
type Report struct {
	TotalVerified      int
	Corrupted          []hash.Hash
	Missing            []hash.Hash
	Orphaned           []hash.Hash
	InconsistentRoots  bool
	BiTemporalFailures []bitemporal.Coordinate
}

// OK reports whether the verification run found nothing wrong.
func (r Report) OK() bool {
	return len(r.Corrupted) == 0 && len(r.Missing) == 0 && len(r.Orphaned) == 0 &&
		!r.InconsistentRoots && len(r.BiTemporalFailures) == 0
}

// Verifier runs the five-step verification procedure over the stores it
// is constructed with.
type Verifier struct {
	blobs     *blob.Store
	sequences *sequence.Store
	bitemp    *bitemporal.Index
}

// New constructs a Verifier over the given component stores. bitemp may
// be nil if bi-temporal snapshots are out of scope for this run (e.g.
// a single-chunk re-verify triggered by a read-path hash mismatch).
func New(blobs *blob.Store, sequences *sequence.Store, bitemp *bitemporal.Index) *Verifier {
	return &Verifier{blobs: blobs, sequences: sequences, bitemp: bitemp}
}

// Run executes the full procedure against m and returns the report.
// It stops early only on ctx cancellation.
func (v *Verifier) Run(ctx context.Context, m *manifest.Manifest) Report {
	var report Report

	referenced := make(hash.HashSet)
	for _, chunkMeta := range m.ChunkIndex {
		if err := ctx.Err(); err != nil {
			return report
		}

		// Step 1: fetch the blob and let GetChunk's internal
		// rehash-and-compare stand in for "assert H(blob) = chunk_hash".
		_, err := v.blobs.GetChunk(chunkMeta.Hash)
		switch {
		case casgerr.Is(err, casgerr.KindNotFound):
			report.Missing = append(report.Missing, chunkMeta.Hash)
			continue
		case casgerr.Is(err, casgerr.KindCorrupted):
			report.Corrupted = append(report.Corrupted, chunkMeta.Hash)
			continue
		case err != nil:
			report.Corrupted = append(report.Corrupted, chunkMeta.Hash)
			continue
		}

		// Step 2: every sequence_ref the chunk claims must resolve in
		// the canonical sequence store.
		allResolved := true
		for _, seqHash := range chunkMeta.SequenceHashes {
			referenced[seqHash] = struct{}{}
			exists, err := v.sequences.CanonicalExists(seqHash)
			if err != nil || !exists {
				allResolved = false
			}
		}
		if !allResolved {
			report.Corrupted = append(report.Corrupted, chunkMeta.Hash)
			continue
		}

		report.TotalVerified++
	}

	// Orphan detection: canonical sequences nothing in the manifest
	// references. Only meaningful when the sequence store is scoped to
	// this manifest's database; callers verifying a shared store across
	// multiple manifests should treat Orphaned as advisory.
	if v.sequences != nil {
		for h := range v.sequences.ListAllHashes() {
			if _, ok := referenced[h]; !ok {
				report.Orphaned = append(report.Orphaned, h)
			}
		}
	}

	// Steps 3-4: rebuild the dual Merkle DAG purely from manifest
	// metadata and compare every root, including cross-reference.
	rebuilt := m.RebuildDualDAG()
	if rebuilt.SequenceRoot != m.SequenceRoot ||
		rebuilt.TaxonomyRoot != m.TaxonomyRoot ||
		rebuilt.CrossReferenceRoot != m.CrossReferenceRoot {
		report.InconsistentRoots = true
	}

	// Step 5: every recorded bi-temporal snapshot must still verify
	// against the rebuilt DAG.
	if v.bitemp != nil {
		snapshots, err := v.bitemp.ListSnapshots()
		if err == nil {
			for _, snap := range snapshots {
				if snap.ManifestKey != m.StorageKey() {
					continue
				}
				if !bitemporal.VerifySnapshot(snap, rebuilt) {
					report.BiTemporalFailures = append(report.BiTemporalFailures, snap.Coordinate)
				}
			}
		}
	}

	metrics.VerifyRuns.WithLabelValues(metrics.VerifyOutcome(report.OK())).Inc()
	return report
}
