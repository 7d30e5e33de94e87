package dbref

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/talariadb/casg/casgerr"
)

func TestParseRefFullForm(t *testing.T) {
	ref, err := ParseRef("uniprot/swissprot:20240115_120000#blast-30")
	require.NoError(t, err)
	assert.Equal(t, UniProtKind, ref.Source.Kind)
	assert.Equal(t, "swissprot", ref.Source.Dataset)
	assert.Equal(t, "20240115_120000", ref.Version)
	assert.Equal(t, "blast-30", ref.Profile)
}

func TestParseRefDefaultsVersionToCurrent(t *testing.T) {
	ref, err := ParseRef("ncbi/nr")
	require.NoError(t, err)
	assert.Equal(t, "current", ref.Version)
	assert.Empty(t, ref.Profile)
}

func TestLatestNormalizesToCurrent(t *testing.T) {
	ref, err := ParseRef("ncbi/nr:latest")
	require.NoError(t, err)
	assert.Equal(t, "current", ref.Version)
}

func TestParseRefRejectsUnknownSource(t *testing.T) {
	_, err := ParseRef("genbank/nr")
	assert.Error(t, err)
	assert.True(t, casgerr.Is(err, casgerr.KindInvalidInput))
}

func TestParseRefRejectsUnknownDataset(t *testing.T) {
	_, err := ParseRef("uniprot/not-a-real-dataset")
	assert.Error(t, err)
	assert.True(t, casgerr.Is(err, casgerr.KindInvalidInput))
}

func TestParseRefAcceptsOpaqueUpstreamVersion(t *testing.T) {
	ref, err := ParseRef("custom/my-db:v3.2.1")
	require.NoError(t, err)
	assert.Equal(t, "v3.2.1", ref.Version)
}

func TestParseRefRejectsMalformedInput(t *testing.T) {
	cases := []string{"", "noslash", "/missingsource", "uniprot/"}
	for _, c := range cases {
		_, err := ParseRef(c)
		assert.Error(t, err, "expected error for %q", c)
		assert.True(t, casgerr.Is(err, casgerr.KindInvalidInput), "expected KindInvalidInput for %q", c)
	}
}

func TestCanonicalString(t *testing.T) {
	assert.Equal(t, "uniprot/swissprot", UniProt("swissprot").CanonicalString())
	assert.Equal(t, "ncbi/nr", NCBI("nr").CanonicalString())
	assert.Equal(t, "custom/my-db", Custom("my-db").CanonicalString())
}
