// Package chunk implements the chunker from spec §4.6: it partitions a
// stream of sequences into size- and taxon-bounded chunks, storing each
// chunk's serialized payload via blob.Store and returning the chunk
// entries a manifest will reference.
package chunk

import (
	"context"
	"sort"

	"github.com/sirupsen/logrus"
	"github.com/talariadb/casg/blob"
	"github.com/talariadb/casg/hash"
	"github.com/talariadb/casg/sequence"
	"golang.org/x/sync/errgroup"
)

var log = logrus.WithField("component", "chunk")

// Strategy selects how sequences are grouped into chunks.
type Strategy int

const (
	// Canonical groups by taxon in a flat pass.
	Canonical Strategy = iota
	// Hierarchical nests chunks by phylogenetic rank.
	Hierarchical
)

// Config holds every chunking knob enumerated in spec §4.6.
type Config struct {
	TargetChunkBytes     int64
	MaxChunkBytes        int64
	MinSequencesPerChunk int
	MaxSequencesPerChunk int
	Strategy             Strategy
	IsolationTaxa        map[uint32]bool
	SeparationRank       string
	AggregationRank      string
	Compress             bool
	Threads              int
}

// DefaultConfig matches the canonical defaults cited in spec §4.6.
func DefaultConfig() Config {
	return Config{
		TargetChunkBytes:     50 * 1024 * 1024,
		MaxChunkBytes:        100 * 1024 * 1024,
		MinSequencesPerChunk: 1,
		MaxSequencesPerChunk: 100_000,
		Strategy:             Canonical,
		IsolationTaxa:        map[uint32]bool{},
		SeparationRank:       "genus",
		AggregationRank:      "family",
		Compress:             true,
		Threads:              4,
	}
}

// SequenceRef is one sequence accepted into the chunking stream.
type SequenceRef struct {
	Hash      hash.Hash
	Accession string
	Header    string
	TaxonID   *uint32
}

func taxonBin(ref SequenceRef) uint32 {
	if ref.TaxonID == nil {
		return 0
	}
	return *ref.TaxonID
}

// Entry is one emitted chunk: its content hash, the canonical sequence
// hashes it references (not their serialized bytes), and bookkeeping
// fields a manifest aggregates.
type Entry struct {
	Hash            hash.Hash
	TaxonIDs        []uint32
	SequenceHashes  []hash.Hash
	SequenceCount   int
	SizeBytes       int64
	CompressedSize  *uint64
	SubChunks       []hash.Hash // populated only by the hierarchical strategy
}

// Chunker partitions a sequence stream into chunks per Config.
type Chunker struct {
	seqStore  *sequence.Store
	blobStore *blob.Store
	cfg       Config
}

// New constructs a Chunker against the canonical sequence store and blob
// store it will read payloads from and write chunk blobs to.
func New(seqStore *sequence.Store, blobStore *blob.Store, cfg Config) *Chunker {
	return &Chunker{seqStore: seqStore, blobStore: blobStore, cfg: cfg}
}

// pendingChunk accumulates sequence refs for one in-progress chunk before
// it is serialized and hashed.
type pendingChunk struct {
	taxa  map[uint32]bool
	refs  []SequenceRef
	bytes int64
}

func newPending() *pendingChunk {
	return &pendingChunk{taxa: map[uint32]bool{}}
}

// Run implements the four-step canonical algorithm from spec §4.6:
// binning by taxon, accumulating chunks under the configured size/count
// bounds with isolation-taxa separation, then serializing, hashing, and
// storing each chunk's blob. Binning and boundary decisions run
// single-threaded; per-chunk hashing and blob compression fan out across
// a bounded errgroup pool sized by Config.Threads, matching the split the
// teacher's nbs persister uses between sequential planning and parallel
// I/O.
func (c *Chunker) Run(ctx context.Context, refs []SequenceRef) ([]Entry, error) {
	switch c.cfg.Strategy {
	case Hierarchical:
		return nil, errNotImplemented("hierarchical strategy requires a taxon rank tree; use RunHierarchical")
	default:
		return c.runCanonical(ctx, refs)
	}
}

type notImplementedError string

func (e notImplementedError) Error() string { return string(e) }

func errNotImplemented(msg string) error { return notImplementedError(msg) }

func (c *Chunker) runCanonical(ctx context.Context, refs []SequenceRef) ([]Entry, error) {
	bins := map[uint32][]SequenceRef{}
	for _, ref := range refs {
		bin := taxonBin(ref)
		bins[bin] = append(bins[bin], ref)
	}

	binIDs := make([]uint32, 0, len(bins))
	for id := range bins {
		binIDs = append(binIDs, id)
	}
	sort.Slice(binIDs, func(i, j int) bool { return binIDs[i] < binIDs[j] })

	var pendings []*pendingChunk
	for _, binID := range binIDs {
		binned, err := c.accumulateBin(bins[binID])
		if err != nil {
			return nil, err
		}
		pendings = append(pendings, binned...)
	}

	return c.materialize(ctx, pendings)
}

// accumulateBin walks one taxon bin's sequences in order, splitting into
// chunks on size bound, sequence-count bound, isolation-taxa boundary, or
// bin exhaustion. Chunking is single-threaded per ingestion (spec §5), so
// the per-sequence payload lookup sequenceSize needs for real size bounds
// costs no extra synchronization here.
func (c *Chunker) accumulateBin(refs []SequenceRef) ([]*pendingChunk, error) {
	var out []*pendingChunk
	cur := newPending()

	flush := func() {
		if len(cur.refs) > 0 {
			out = append(out, cur)
		}
		cur = newPending()
	}

	for _, ref := range refs {
		bin := taxonBin(ref)
		size, err := c.sequenceSize(ref)
		if err != nil {
			return nil, err
		}

		isolated := c.cfg.IsolationTaxa[bin]
		mixesIsolation := isolated && len(cur.taxa) > 0 && !cur.taxa[bin]
		exceedsCount := c.cfg.MaxSequencesPerChunk > 0 && len(cur.refs) >= c.cfg.MaxSequencesPerChunk
		exceedsBytes := c.cfg.MaxChunkBytes > 0 && cur.bytes+size > c.cfg.MaxChunkBytes
		reachedTarget := c.cfg.TargetChunkBytes > 0 && cur.bytes >= c.cfg.TargetChunkBytes &&
			len(cur.refs) >= c.cfg.MinSequencesPerChunk

		if len(cur.refs) > 0 && (mixesIsolation || exceedsCount || exceedsBytes || reachedTarget) {
			flush()
		}

		cur.refs = append(cur.refs, ref)
		cur.taxa[bin] = true
		cur.bytes += size
	}
	flush()
	return out, nil
}

// sequenceSize returns a ref's actual contribution to chunk size: its
// header length plus its canonical payload length, fetched from the
// sequence store. Size-bound chunking (spec §4.6 TargetChunkBytes /
// MaxChunkBytes) is meaningless against an estimate — real sequences
// range from tens to hundreds of thousands of bytes, so a fixed guess
// would never trigger the size bound against real data. A hash that
// cannot be resolved is fatal (spec §4.6), matching materializeOne's own
// GetPayload failure handling.
func (c *Chunker) sequenceSize(ref SequenceRef) (int64, error) {
	payload, err := c.seqStore.GetPayload(ref.Hash)
	if err != nil {
		return 0, err
	}
	return int64(len(ref.Header) + len(payload)), nil
}

func (c *Chunker) materialize(ctx context.Context, pendings []*pendingChunk) ([]Entry, error) {
	entries := make([]Entry, len(pendings))

	threads := c.cfg.Threads
	if threads <= 0 {
		threads = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(threads)

	for i, p := range pendings {
		i, p := i, p
		g.Go(func() error {
			entry, err := c.materializeOne(gctx, p)
			if err != nil {
				return err
			}
			entries[i] = entry
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (c *Chunker) materializeOne(ctx context.Context, p *pendingChunk) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}

	var serialized []byte
	seqHashes := make([]hash.Hash, 0, len(p.refs))
	for _, ref := range p.refs {
		payload, err := c.seqStore.GetPayload(ref.Hash)
		if err != nil {
			return Entry{}, err
		}
		serialized = append(serialized, []byte(ref.Header)...)
		serialized = append(serialized, payload...)
		seqHashes = append(seqHashes, ref.Hash)
	}

	chunkHash, err := c.blobStore.StoreChunk(serialized, c.cfg.Compress)
	if err != nil {
		return Entry{}, err
	}

	taxa := make([]uint32, 0, len(p.taxa))
	for t := range p.taxa {
		taxa = append(taxa, t)
	}
	sort.Slice(taxa, func(i, j int) bool { return taxa[i] < taxa[j] })

	log.WithFields(logrus.Fields{
		"chunk_hash":     chunkHash,
		"sequence_count": len(p.refs),
		"size_bytes":     len(serialized),
	}).Debug("chunk materialized")

	return Entry{
		Hash:           chunkHash,
		TaxonIDs:       taxa,
		SequenceHashes: seqHashes,
		SequenceCount:  len(p.refs),
		SizeBytes:      int64(len(serialized)),
	}, nil
}
