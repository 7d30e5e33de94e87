package chunk

import (
	"context"
	"sort"

	"github.com/talariadb/casg/hash"
)

// TaxonNode is one node of a phylogenetic rank tree used by the
// hierarchical chunking strategy. Leaves carry sequence refs directly;
// interior nodes aggregate their children's chunks into a parent chunk
// whose sub_chunks list references the children's chunk hashes.
type TaxonNode struct {
	TaxonID  uint32
	Rank     string
	Children []*TaxonNode
	Refs     []SequenceRef
}

// RunHierarchical implements the hierarchical strategy from spec §4.6: a
// post-order walk of root's rank tree, merging child chunks smaller than
// MinSequencesPerChunk upward into their parent and splitting any single
// node whose own refs exceed MaxSequencesPerChunk/MaxChunkBytes using the
// same accumulateBin boundary logic as the canonical strategy. Node ranks
// are not consulted: SeparationRank and AggregationRank are not used, and
// every node whose chunk is not merged upward emits its own chunk.
func (c *Chunker) RunHierarchical(ctx context.Context, root *TaxonNode) ([]Entry, error) {
	if root == nil {
		return nil, nil
	}

	var allPending []*pendingChunk
	parentOf := map[*pendingChunk]*pendingChunk{}

	var walk func(node *TaxonNode) (*pendingChunk, error)
	walk = func(node *TaxonNode) (*pendingChunk, error) {
		var childChunks []*pendingChunk
		for _, child := range node.Children {
			childChunk, err := walk(child)
			if err != nil {
				return nil, err
			}
			childChunks = append(childChunks, childChunk)
		}

		groups, err := c.accumulateBin(node.Refs)
		if err != nil {
			return nil, err
		}
		if len(groups) == 0 {
			groups = []*pendingChunk{newPending()}
		}

		nodeChunk := groups[0]
		for _, extra := range groups[1:] {
			allPending = append(allPending, extra)
		}

		for _, childChunk := range childChunks {
			if childChunk == nil {
				continue
			}
			if len(childChunk.refs) > 0 && len(childChunk.refs) < c.cfg.MinSequencesPerChunk {
				nodeChunk.refs = append(nodeChunk.refs, childChunk.refs...)
				for t := range childChunk.taxa {
					nodeChunk.taxa[t] = true
				}
				nodeChunk.bytes += childChunk.bytes
				continue
			}
			allPending = append(allPending, childChunk)
			parentOf[childChunk] = nodeChunk
		}

		nodeChunk.taxa[node.TaxonID] = true
		return nodeChunk, nil
	}

	top, err := walk(root)
	if err != nil {
		return nil, err
	}
	allPending = append(allPending, top)

	entries, err := c.materialize(ctx, allPending)
	if err != nil {
		return nil, err
	}

	hashByChunk := map[*pendingChunk]hash.Hash{}
	for i, p := range allPending {
		hashByChunk[p] = entries[i].Hash
	}

	subChunksByParent := map[*pendingChunk][]hash.Hash{}
	for child, parent := range parentOf {
		subChunksByParent[parent] = append(subChunksByParent[parent], hashByChunk[child])
	}
	for i, p := range allPending {
		if subs, ok := subChunksByParent[p]; ok {
			sort.Slice(subs, func(a, b int) bool { return subs[a].Less(subs[b]) })
			entries[i].SubChunks = subs
		}
	}

	return entries, nil
}
