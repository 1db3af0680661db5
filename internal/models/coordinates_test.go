package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMavenCoordinates_Path(t *testing.T) {
	c := MavenCoordinates{GroupID: "org.carlspring", ArtifactID: "vault", Version: "1.0", Extension: "pom"}
	assert.Equal(t, "org/carlspring/vault/1.0/vault-1.0.pom", c.Path())
	assert.Equal(t, "org.carlspring:vault:1.0:pom", c.String())

	c = MavenCoordinates{GroupID: "a.b", ArtifactID: "lib", Version: "2.1", Classifier: "sources"}
	assert.Equal(t, "a/b/lib/2.1/lib-2.1-sources.jar", c.Path())
}

func TestParseCoordinates_MavenRoundTrip(t *testing.T) {
	in := MavenCoordinates{GroupID: "org.example", ArtifactID: "app", Version: "3.0.1", Classifier: "tests", Extension: "jar"}

	got, err := ParseCoordinates(LayoutMaven2, in.Path())
	require.NoError(t, err)
	assert.Equal(t, in, got)
}

func TestParseCoordinates_MavenInvalid(t *testing.T) {
	_, err := ParseCoordinates(LayoutMaven2, "too/short")
	assert.ErrorIs(t, err, ErrConfiguration)

	_, err = ParseCoordinates(LayoutMaven2, "org/app/1.0/other-1.0.jar")
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestParseCoordinates_RawCleansPath(t *testing.T) {
	got, err := ParseCoordinates(LayoutRaw, "a/./b/../c.txt")
	require.NoError(t, err)
	assert.Equal(t, "a/c.txt", got.Path())

	got, err = ParseCoordinates("unknown", "../../etc/passwd")
	require.NoError(t, err)
	assert.Equal(t, "etc/passwd", got.Path())
}
