package hash

import "sort"

// HashSet is an unordered set of hashes.
type HashSet map[Hash]struct{}

// NewHashSet builds a HashSet from the given hashes.
func NewHashSet(hashes ...Hash) HashSet {
	s := make(HashSet, len(hashes))
	for _, h := range hashes {
		s[h] = struct{}{}
	}
	return s
}

// Insert adds h to the set.
func (s HashSet) Insert(h Hash) {
	s[h] = struct{}{}
}

// Has reports whether h is in the set.
func (s HashSet) Has(h Hash) bool {
	_, ok := s[h]
	return ok
}

// Slice returns the set's members as a HashSlice in unspecified order.
func (s HashSet) Slice() HashSlice {
	out := make(HashSlice, 0, len(s))
	for h := range s {
		out = append(out, h)
	}
	return out
}

// Sorted returns the set's members sorted by byte-lexical order.
func (s HashSet) Sorted() HashSlice {
	out := s.Slice()
	out.Sort()
	return out
}

// HashSlice is an ordered list of hashes, used wherever leaf order matters
// (Merkle trees, chunk serialization order).
type HashSlice []Hash

// Sort orders the slice by byte-lexical order in place.
func (s HashSlice) Sort() {
	sort.Slice(s, func(i, j int) bool { return s[i].Less(s[j]) })
}

// Set converts the slice into a HashSet.
func (s HashSlice) Set() HashSet {
	return NewHashSet(s...)
}
