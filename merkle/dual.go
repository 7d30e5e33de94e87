package merkle

import "github.com/talariadb/casg/hash"

// DualDAG is the bi-temporal Merkle commitment: one root over
// sequence-chunk hashes, one over taxonomy-chunk hashes, and a
// cross-reference root binding them together.
type DualDAG struct {
	SequenceLeaves     []hash.Hash
	TaxonomyLeaves     []hash.Hash
	SequenceRoot       hash.Hash
	TaxonomyRoot       hash.Hash
	CrossReferenceRoot hash.Hash
}

// NewDualDAG builds both trees and the cross-reference root from their
// leaf lists.
func NewDualDAG(sequenceLeaves, taxonomyLeaves []hash.Hash) DualDAG {
	seqRoot := BuildRoot(sequenceLeaves)
	taxRoot := BuildRoot(taxonomyLeaves)
	return DualDAG{
		SequenceLeaves:     sequenceLeaves,
		TaxonomyLeaves:     taxonomyLeaves,
		SequenceRoot:       seqRoot,
		TaxonomyRoot:       taxRoot,
		CrossReferenceRoot: CrossReference(seqRoot, taxRoot),
	}
}

// CrossReference computes H(seqRoot || taxRoot), the single commitment to
// a bi-temporal state (spec §3 Glossary).
func CrossReference(seqRoot, taxRoot hash.Hash) hash.Hash {
	return hash.Of(hash.Concat(seqRoot, taxRoot))
}

// Side identifies which half of a DualDAG a DualProof's leaf belongs to.
type Side int

const (
	SideSequence Side = iota
	SideTaxonomy
)

// DualProof bundles a proof on one side of the dual DAG, that side's claimed
// root, the other side's claimed root, and the cross-reference root they
// jointly commit to.
type DualProof struct {
	Side           Side
	Proof          Proof
	SequenceRoot   hash.Hash
	TaxonomyRoot   hash.Hash
	CrossReference hash.Hash
}

// VerifyConsistency checks that recomputing the cross-reference root from
// the proof's two claimed sub-roots matches the claimed cross-reference
// root, independent of whether either sub-proof itself verifies.
func (p DualProof) VerifyConsistency() bool {
	return CrossReference(p.SequenceRoot, p.TaxonomyRoot) == p.CrossReference
}

// GenerateDualProof builds a DualProof for a leaf appearing in either the
// sequence or taxonomy leaf list of dag. The leaf must be present in
// exactly one list; sequence is tried first.
func (dag DualDAG) GenerateDualProof(leaf hash.Hash) (DualProof, bool) {
	if idx := indexOf(dag.SequenceLeaves, leaf); idx >= 0 {
		return DualProof{
			Side:           SideSequence,
			Proof:          GenerateProof(dag.SequenceLeaves, idx),
			SequenceRoot:   dag.SequenceRoot,
			TaxonomyRoot:   dag.TaxonomyRoot,
			CrossReference: dag.CrossReferenceRoot,
		}, true
	}
	if idx := indexOf(dag.TaxonomyLeaves, leaf); idx >= 0 {
		return DualProof{
			Side:           SideTaxonomy,
			Proof:          GenerateProof(dag.TaxonomyLeaves, idx),
			SequenceRoot:   dag.SequenceRoot,
			TaxonomyRoot:   dag.TaxonomyRoot,
			CrossReference: dag.CrossReferenceRoot,
		}, true
	}
	return DualProof{}, false
}

// VerifyDualProof verifies a DualProof against leaf: the proof's side must
// verify against its claimed sub-root, and the cross-reference must be
// internally consistent.
func VerifyDualProof(leaf hash.Hash, p DualProof) bool {
	if !p.VerifyConsistency() {
		return false
	}
	switch p.Side {
	case SideSequence:
		return VerifyProof(leaf, p.Proof, p.SequenceRoot)
	case SideTaxonomy:
		return VerifyProof(leaf, p.Proof, p.TaxonomyRoot)
	default:
		return false
	}
}

func indexOf(hashes []hash.Hash, target hash.Hash) int {
	for i, h := range hashes {
		if h == target {
			return i
		}
	}
	return -1
}
