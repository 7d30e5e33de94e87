package codec

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/talariadb/casg/dbref"
	"github.com/talariadb/casg/hash"
	"github.com/talariadb/casg/manifest"
)

func sampleManifest() *manifest.Manifest {
	m := manifest.New(dbref.UniProt("swissprot"), "2024.01", "2024.01")
	m.AddChunk(manifest.Metadata{Hash: hash.Of([]byte("chunk1")), Size: 100, SequenceCount: 5})
	return m
}

func TestEncodeAlwaysEmitsTalMagic(t *testing.T) {
	data, err := Encode(sampleManifest())
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, talMagic))
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	original := sampleManifest()
	data, err := Encode(original)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, original.VersionID, decoded.VersionID)
	assert.Equal(t, original.SourceDatabase, decoded.SourceDatabase)
	require.Len(t, decoded.ChunkIndex, 1)
	assert.Equal(t, original.ChunkIndex[0].Hash, decoded.ChunkIndex[0].Hash)
}

func TestDecodeRejectsUnknownMagic(t *testing.T) {
	_, err := Decode([]byte{0x00, 0x01, 0x02, 0x03})
	assert.Error(t, err)
}

func TestDecodeLegacyJSONGzip(t *testing.T) {
	jm := jsonManifest{
		VersionID:       "legacy-v1",
		SequenceVersion: "2020.01",
		TaxonomyVersion: "2020.01",
		SourceKind:      int(dbref.UniProtKind),
		SourceDataset:   "swissprot",
	}
	raw, err := json.Marshal(jm)
	require.NoError(t, err)

	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, err = w.Write(raw)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	decoded, err := Decode(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "legacy-v1", decoded.VersionID)
	assert.Equal(t, dbref.UniProt("swissprot"), decoded.SourceDatabase)
}
