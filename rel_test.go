package gomiramon

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleRel = `; MiraMon raster documentation
[VERSIO]
Vers=4
SubVers=3

[ATTRIBUTE_DATA]
IndexsNomsCamps=1
NomCamp_1=band1
TipusCompressio=byte

[attribute_data:band1]
NomFitxer = "sample.img"
descriptor=Altitud
Free text without an equals sign

[ATTRIBUTE_DATA:band1]
unitats=m
`

func TestParseRel(t *testing.T) {
	rel, err := ParseRel(strings.NewReader(sampleRel))
	require.NoError(t, err)

	v, ok := rel.Value("VERSIO", "vers")
	require.True(t, ok)
	assert.Equal(t, "4", v)

	// sections and keys are case-insensitive; repeated sections merge
	v, _ = rel.Value("ATTRIBUTE_DATA:BAND1", "nomfitxer")
	assert.Equal(t, "sample.img", v)
	v, _ = rel.Value("ATTRIBUTE_DATA:band1", "unitats")
	assert.Equal(t, "m", v)
	assert.Equal(t, []string{"NomFitxer", "descriptor", "unitats"}, rel.Keys("ATTRIBUTE_DATA:band1"))

	_, ok = rel.Value("ATTRIBUTE_DATA", "missing")
	assert.False(t, ok)
	assert.True(t, rel.HasSection("versio"))
	assert.False(t, rel.HasSection("COLOR_TEXT"))
}

func TestRelLookup(t *testing.T) {
	rel, err := ParseRel(strings.NewReader(sampleRel))
	require.NoError(t, err)

	// band section first, then the main section
	v, ok := rel.Lookup("ATTRIBUTE_DATA", "band1", "descriptor")
	require.True(t, ok)
	assert.Equal(t, "Altitud", v)

	v, ok = rel.Lookup("ATTRIBUTE_DATA", "band1", "TipusCompressio")
	require.True(t, ok)
	assert.Equal(t, "byte", v)

	_, ok = rel.Lookup("ATTRIBUTE_DATA", "", "descriptor")
	assert.False(t, ok)
}

func TestParseRelMalformedSection(t *testing.T) {
	_, err := ParseRel(strings.NewReader("[VERSIO\nVers=4\n"))
	assert.Error(t, err)
}

func TestRelWriteRoundTrip(t *testing.T) {
	rel := NewRel()
	rel.Set("VERSIO", "Vers", "4")
	rel.Set("IDENTIFICATION", "DatasetTitle", "Català")
	rel.Set("VERSIO", "SubVers", "3")
	rel.Set("versio", "vers", "5")

	data := rel.Bytes()
	// Latin-1 on disk
	assert.True(t, bytes.Contains(data, []byte{'C', 'a', 't', 'a', 'l', 0xE0}))

	back, err := ParseRel(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, []string{"VERSIO", "IDENTIFICATION"}, back.Sections())
	assert.Equal(t, []string{"Vers", "SubVers"}, back.Keys("VERSIO"))
	v, _ := back.Value("VERSIO", "Vers")
	assert.Equal(t, "5", v)
	v, _ = back.Value("IDENTIFICATION", "DatasetTitle")
	assert.Equal(t, "Català", v)
}
