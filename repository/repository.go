// Package repository assembles every storage component behind one
// facade, constructed once per process per spec §9's "explicit
// runtime-scoped objects" design note — no package-level singletons or
// global mutable state, following dolt's own `go/libraries/doltcore/env`
// Environment-as-the-one-object-threaded-everywhere pattern.
package repository

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/talariadb/casg/bitemporal"
	"github.com/talariadb/casg/blob"
	"github.com/talariadb/casg/bloom"
	"github.com/talariadb/casg/chunk"
	"github.com/talariadb/casg/compress"
	"github.com/talariadb/casg/config"
	"github.com/talariadb/casg/dbref"
	"github.com/talariadb/casg/hash"
	"github.com/talariadb/casg/kv"
	"github.com/talariadb/casg/manifest"
	"github.com/talariadb/casg/manifest/codec"
	"github.com/talariadb/casg/performance"
	"github.com/talariadb/casg/processing"
	"github.com/talariadb/casg/sequence"
	"github.com/talariadb/casg/verify"
	"github.com/talariadb/casg/workspace"
)

var log = logrus.WithField("component", "repository")

// layout is the on-disk tree created under a repository root, per spec §6.
const (
	dataDir       = "data"
	downloadsDir  = "downloads"
	backupsDir    = "backups"
	bloomSnapshot = "sequences"
)

// Repository is the top-level facade over one on-disk database: the KV
// backend plus every component built on top of it, wired together once
// at Open and threaded explicitly from there on.
type Repository struct {
	Root string
	Cfg  *config.Config

	KV         *kv.Store
	Blobs      *blob.Store
	Sequences  *sequence.Store
	Chunker    *chunk.Chunker
	Manifests  *manifest.Store
	BiTemporal *bitemporal.Index
	Verifier   *verify.Verifier
	Processing *processing.Manager
	Monitor    *performance.Monitor

	bloomFilter *bloom.Filter
}

// Open creates the on-disk layout under root if absent, opens the KV
// backend, and wires every component against it. The returned
// Repository owns the KV store and must be closed with Close.
func Open(root string, cfg *config.Config) (*Repository, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	for _, dir := range []string{dataDir, downloadsDir, backupsDir} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			return nil, err
		}
	}

	store, err := kv.Open(filepath.Join(root, dataDir, "casg.db"), cfg.RocksDB)
	if err != nil {
		return nil, err
	}

	filter, err := bloom.LoadSnapshot(store, bloomSnapshot)
	if err != nil {
		filter = bloom.New(cfg.BloomFilter.ExpectedSequences, cfg.BloomFilter.FalsePositiveRate)
	}

	monitor := performance.NewMonitor(
		performance.WithBatchBounds(1, cfg.Performance.BatchSize*4),
	)
	monitor.Start(30 * time.Second)

	seqStore := sequence.New(store,
		sequence.WithBloomFilter(filter),
		sequence.WithBatchSizer(monitor),
		sequence.WithBatchSize(cfg.Performance.BatchSize),
	)
	blobStore := blob.New(store,
		blob.WithBloomFilter(filter),
		blob.WithCompressionLevel(cfg.RocksDB.CompressionLevel),
		blob.WithFormatTag(compress.TagForConfig(cfg.RocksDB.Compression)),
	)
	chunkCfg := chunk.DefaultConfig()
	chunkCfg.Threads = cfg.Performance.Threads
	chunker := chunk.New(seqStore, blobStore, chunkCfg)
	manifestStore := manifest.NewStore(store, codec.Encode, codec.Decode)

	repo := &Repository{
		Root:        root,
		Cfg:         cfg,
		KV:          store,
		Blobs:       blobStore,
		Sequences:   seqStore,
		Chunker:     chunker,
		Manifests:   manifestStore,
		Processing:  processing.NewManager(store),
		Monitor:     monitor,
		bloomFilter: filter,
	}

	repo.BiTemporal = bitemporal.New(store, repo.resolveManifest)
	repo.Verifier = verify.New(blobStore, seqStore, repo.BiTemporal)

	log.WithField("root", root).Info("repository opened")
	return repo, nil
}

// resolveManifest implements bitemporal.ManifestResolver against this
// repository's manifest store.
func (r *Repository) resolveManifest(key string) (*manifest.Manifest, error) {
	return r.Manifests.Load(key)
}

// WorkspaceRoot returns the download-workspace root directory under this
// repository.
func (r *Repository) WorkspaceRoot() string {
	return filepath.Join(r.Root, downloadsDir)
}

// AcquireWorkspace scans for a resumable download for source, or starts
// a fresh one; see workspace.Acquire.
func (r *Repository) AcquireWorkspace(source dbref.Source, validator workspace.ResumeValidator) (*workspace.Workspace, error) {
	return workspace.Acquire(r.WorkspaceRoot(), source, validator)
}

// SaveManifest persists m and flushes the repository's bloom-filter
// snapshot, since a new manifest implies newly canonicalized sequences.
func (r *Repository) SaveManifest(m *manifest.Manifest) error {
	if err := r.Manifests.Save(m); err != nil {
		return err
	}
	return r.bloomFilter.PersistSnapshot(r.KV, bloomSnapshot)
}

// EntriesToMetadata converts chunker output into a manifest's chunk
// index representation. The two types intentionally stay decoupled
// (chunk never imports manifest) so this conversion is the one seam
// where a finished chunking run becomes a stored manifest.
func EntriesToMetadata(entries []chunk.Entry) []manifest.Metadata {
	out := make([]manifest.Metadata, len(entries))
	for i, e := range entries {
		out[i] = manifest.Metadata{
			Hash:           e.Hash,
			Size:           uint64(e.SizeBytes),
			SequenceCount:  uint32(e.SequenceCount),
			TaxonIDs:       e.TaxonIDs,
			CompressedSize: e.CompressedSize,
			SequenceHashes: e.SequenceHashes,
			SubChunks:      e.SubChunks,
		}
	}
	return out
}

// BuildManifest chunks refs via the repository's Chunker and assembles a
// Manifest anchored by their dual Merkle roots, ready to be saved.
func (r *Repository) BuildManifest(ctx context.Context, source dbref.Source, sequenceVersion, taxonomyVersion string, refs []chunk.SequenceRef, previous *hash.Hash) (*manifest.Manifest, error) {
	entries, err := r.Chunker.Run(ctx, refs)
	if err != nil {
		return nil, err
	}
	m := manifest.New(source, sequenceVersion, taxonomyVersion)
	for _, md := range EntriesToMetadata(entries) {
		m.AddChunk(md)
	}
	m.PreviousVersion = previous
	dag := m.RebuildDualDAG()
	m.SequenceRoot = dag.SequenceRoot
	m.TaxonomyRoot = dag.TaxonomyRoot
	m.CrossReferenceRoot = dag.CrossReferenceRoot
	return m, nil
}

// Verify runs the full verification procedure against m.
func (r *Repository) Verify(ctx context.Context, m *manifest.Manifest) verify.Report {
	return r.Verifier.Run(ctx, m)
}

// Close flushes every component and closes the KV backend. Further use
// of the Repository after Close is undefined.
func (r *Repository) Close() error {
	r.Monitor.Stop()
	if err := r.bloomFilter.PersistSnapshot(r.KV, bloomSnapshot); err != nil {
		log.WithError(err).Warn("failed to persist bloom filter snapshot on close")
	}
	if err := r.Sequences.Flush(); err != nil {
		log.WithError(err).Warn("failed to flush sequence store on close")
	}
	if err := r.Blobs.Flush(); err != nil {
		log.WithError(err).Warn("failed to flush blob store on close")
	}
	return r.KV.Close()
}
