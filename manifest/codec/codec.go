// Package codec implements manifest wire serialization per spec §6's
// magic-byte format table: legacy gzip+JSON, zstd-binary, and the
// internal ".tal" binary framing that every writer now emits. Readers
// dispatch on magic bytes and accept all three.
package codec

import (
	"bytes"
	"encoding/gob"
	"encoding/json"

	"github.com/talariadb/casg/casgerr"
	"github.com/talariadb/casg/compress"
	"github.com/talariadb/casg/dbref"
	"github.com/talariadb/casg/manifest"
)

// talMagic identifies the internal binary framing: a length-prefix-free,
// gob-encoded manifest body. Chosen over hand-rolling a binary format
// because the pack offers no internal serialization library besides
// gob/flatbuffers, and flatbuffers' schema-compiler step has no home in
// this spec's component list (see DESIGN.md).
var talMagic = []byte{'T', 'A', 'L', '1'}

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// jsonManifest is the legacy JSON wire shape, kept only for reading
// manifests written before the binary migration.
type jsonManifest struct {
	VersionID       string               `json:"version_id"`
	SequenceVersion string               `json:"sequence_version"`
	TaxonomyVersion string               `json:"taxonomy_version"`
	SourceKind      int                  `json:"source_kind"`
	SourceDataset   string               `json:"source_dataset"`
	ChunkIndex      []manifest.Metadata  `json:"chunk_index"`
}

// Encode always writes the current .tal binary format: a magic prefix
// followed by a gob encoding of the manifest.
func Encode(m *manifest.Manifest) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(talMagic)
	if err := gob.NewEncoder(&buf).Encode(m); err != nil {
		return nil, casgerr.Wrap(err, casgerr.KindInternal, "encoding manifest")
	}
	return buf.Bytes(), nil
}

// Decode dispatches on magic bytes to read any of the three recognized
// manifest wire formats.
func Decode(data []byte) (*manifest.Manifest, error) {
	switch {
	case bytes.HasPrefix(data, talMagic):
		return decodeTal(data[len(talMagic):])
	case bytes.HasPrefix(data, zstdMagic):
		return decodeZstd(data)
	case bytes.HasPrefix(data, gzipMagic):
		return decodeLegacyJSONGzip(data)
	default:
		return nil, casgerr.Corrupted("unrecognized manifest format (unknown magic bytes)")
	}
}

func decodeTal(body []byte) (*manifest.Manifest, error) {
	var m manifest.Manifest
	if err := gob.NewDecoder(bytes.NewReader(body)).Decode(&m); err != nil {
		return nil, casgerr.Corrupted("malformed .tal manifest: %v", err)
	}
	return &m, nil
}

func decodeZstd(data []byte) (*manifest.Manifest, error) {
	codecImpl := compress.NewCodec(compress.Binary, 0, nil)
	raw, err := codecImpl.Decompress(data)
	if err != nil {
		return nil, err
	}
	return decodeTal(raw)
}

func decodeLegacyJSONGzip(data []byte) (*manifest.Manifest, error) {
	codecImpl := compress.NewCodec(compress.JsonGzip, 0, nil)
	raw, err := codecImpl.Decompress(data)
	if err != nil {
		return nil, err
	}

	var jm jsonManifest
	if err := json.Unmarshal(raw, &jm); err != nil {
		return nil, casgerr.Corrupted("malformed legacy JSON manifest: %v", err)
	}

	return &manifest.Manifest{
		VersionID:       jm.VersionID,
		SequenceVersion: jm.SequenceVersion,
		TaxonomyVersion: jm.TaxonomyVersion,
		SourceDatabase:  dbref.Source{Kind: dbref.SourceKind(jm.SourceKind), Dataset: jm.SourceDataset},
		ChunkIndex:      jm.ChunkIndex,
	}, nil
}
