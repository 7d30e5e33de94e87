package compress

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/talariadb/casg/casgerr"
)

// TrainDictionary builds a raw-content zstd dictionary from samples,
// capped at maxSize bytes, for the BinaryDict codec used by
// taxonomy-grouped chunks that share substantial structure.
//
// klauspost/compress does not expose zstd's ZDICT_trainFromBuffer entropy
// trainer (only gozstd's cgo binding does, dropped per DESIGN.md), so this
// builds a raw content dictionary instead: zstd treats any prior byte
// sequence as a valid dictionary, just without the entropy tables a
// trained dictionary would add. Samples are taken from the tail of the
// concatenation, since zstd weighs dictionary bytes nearest the end of
// the window most heavily.
func TrainDictionary(samples [][]byte, maxSize int) (dict []byte, id string, err error) {
	if len(samples) == 0 {
		return nil, "", casgerr.InvalidInput("cannot train a dictionary from zero samples")
	}
	if maxSize <= 0 {
		return nil, "", casgerr.InvalidInput("maxSize must be positive, got %d", maxSize)
	}

	var total int
	for _, s := range samples {
		total += len(s)
	}

	buf := make([]byte, 0, total)
	for _, s := range samples {
		buf = append(buf, s...)
	}
	if len(buf) > maxSize {
		buf = buf[len(buf)-maxSize:]
	}

	sum := sha256.Sum256(buf)
	return buf, hex.EncodeToString(sum[:8]), nil
}
