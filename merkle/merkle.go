// Package merkle implements the single and dual Merkle DAGs from spec §4.7:
// chunk-hash trees with membership proofs, and the bi-temporal dual DAG
// whose cross-reference root commits to both a sequence and a taxonomy
// root. Translated from original_source/src/casg/dual_merkle.rs, field
// names rendered in Go idiom.
package merkle

import "github.com/talariadb/casg/hash"

// ProofStep is one edge on a leaf's root path: the sibling hash and
// whether that sibling sits to the left of the running hash.
type ProofStep struct {
	Sibling hash.Hash
	IsLeft  bool
}

// Proof is the ordered list of sibling steps from a leaf to the root.
type Proof []ProofStep

// BuildRoot computes the Merkle root over an ordered list of leaf hashes.
// An empty list yields the zero hash. A level with an odd number of nodes
// duplicates its last node for that level only.
func BuildRoot(leaves []hash.Hash) hash.Hash {
	if len(leaves) == 0 {
		return hash.Empty
	}
	level := append([]hash.Hash(nil), leaves...)
	for len(level) > 1 {
		level = reduceLevel(level)
	}
	return level[0]
}

func reduceLevel(level []hash.Hash) []hash.Hash {
	next := make([]hash.Hash, 0, (len(level)+1)/2)
	for i := 0; i < len(level); i += 2 {
		left := level[i]
		right := left
		if i+1 < len(level) {
			right = level[i+1]
		}
		next = append(next, hash.Of(hash.Concat(left, right)))
	}
	return next
}

// GenerateProof returns the membership proof for the leaf at idx within
// leaves. Panics if idx is out of range — callers always index against a
// list they just built or loaded.
func GenerateProof(leaves []hash.Hash, idx int) Proof {
	if idx < 0 || idx >= len(leaves) {
		panic("merkle: GenerateProof index out of range")
	}
	var proof Proof
	level := append([]hash.Hash(nil), leaves...)
	pos := idx
	for len(level) > 1 {
		var sibling hash.Hash
		var isLeft bool
		if pos%2 == 0 {
			// pos is a left node; its sibling is to the right, duplicated
			// if pos is the last node at an odd-length level.
			if pos+1 < len(level) {
				sibling = level[pos+1]
			} else {
				sibling = level[pos]
			}
			isLeft = false
		} else {
			sibling = level[pos-1]
			isLeft = true
		}
		proof = append(proof, ProofStep{Sibling: sibling, IsLeft: isLeft})
		level = reduceLevel(level)
		pos /= 2
	}
	return proof
}

// VerifyProof recomputes the root from leaf and proof and compares it to
// root. A single-bit flip in any sibling hash changes the recomputed root
// and fails verification.
func VerifyProof(leaf hash.Hash, proof Proof, root hash.Hash) bool {
	current := leaf
	for _, step := range proof {
		if step.IsLeft {
			current = hash.Of(hash.Concat(step.Sibling, current))
		} else {
			current = hash.Of(hash.Concat(current, step.Sibling))
		}
	}
	return current == root
}
