package gomiramon

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func paletteTable(t *testing.T, records [][]string) []byte {
	t.Helper()
	table := &dbfTable{
		Fields: []dbfField{
			{Name: "CLAUSIMBOL", Type: 'N', Length: 1},
			{Name: "R_COLOR", Type: 'N', Length: 3},
			{Name: "G_COLOR", Type: 'N', Length: 3},
			{Name: "B_COLOR", Type: 'N', Length: 3},
		},
		Records: records,
	}
	data, err := table.bytes(testNow)
	require.NoError(t, err)
	return data
}

var (
	red   = [4]int16{255, 0, 0, 255}
	green = [4]int16{0, 255, 0, 255}
	blue  = [4]int16{0, 0, 255, 255}
)

func TestParseDBFPaletteCategorical(t *testing.T) {
	data := paletteTable(t, [][]string{
		{"0", "255", "0", "0"},
		{"2", "0", "255", "0"},
		{"", "0", "0", "255"},
		{"4", "-1", "-1", "-1"},
	})
	p, err := parseDBFPalette(data, true)
	require.NoError(t, err)

	// the nodata color goes after the highest CLAUSIMBOL
	require.Len(t, p.colors, 6)
	assert.True(t, p.hasNoData)
	assert.Equal(t, 5, p.noDataIndex)
	assert.Equal(t, [][4]int16{red, defaultPaletteColor, green, defaultPaletteColor, noDataPaletteColor, blue}, p.colors)

	ct := p.categoricalColorTable(possibleValues(DTByte))
	require.Equal(t, 256, ct.Len())
	assert.Equal(t, green, ct.Entry(2))
	assert.Equal(t, defaultPaletteColor, ct.Entry(200))
}

func TestParseDBFPaletteErrors(t *testing.T) {
	table := &dbfTable{
		Fields:  []dbfField{{Name: "CLAUSIMBOL", Type: 'N', Length: 1}},
		Records: [][]string{{"1"}},
	}
	data, err := table.bytes(testNow)
	require.NoError(t, err)
	_, err = parseDBFPalette(data, true)
	assert.Error(t, err)

	_, err = parseDBFPalette(paletteTable(t, [][]string{{"-3", "1", "2", "3"}}), true)
	assert.Error(t, err)
}

func TestContinuousColorTableByte(t *testing.T) {
	p := &palette{colors: [][4]int16{red, green, blue}}
	b := &BandDescriptor{DataType: DTByte, VisuMin: 10, VisuMax: 12, HasVisuMinMax: true}
	ct := p.continuousColorTable(b)
	require.Equal(t, 256, ct.Len())

	assert.Equal(t, red, ct.Entry(0))
	assert.Equal(t, red, ct.Entry(10))
	assert.Equal(t, green, ct.Entry(11))
	assert.Equal(t, blue, ct.Entry(12))
	assert.Equal(t, blue, ct.Entry(255))
}

func TestContinuousColorTableNeedsRange(t *testing.T) {
	p := &palette{colors: [][4]int16{red, green}}
	assert.Nil(t, p.continuousColorTable(&BandDescriptor{DataType: DTByte}))
	assert.Nil(t, p.continuousColorTable(&BandDescriptor{DataType: DTFloat32, HasVisuMinMax: true, VisuMax: 1}))
}

func TestParseTextPalette(t *testing.T) {
	p, err := parseTextPalette([]byte("0 255 0 0\n\n3 0 0 255\n"), 64)
	require.NoError(t, err)
	require.Len(t, p.colors, 64)
	assert.Equal(t, red, p.colors[0])
	assert.Equal(t, defaultPaletteColor, p.colors[1])
	assert.Equal(t, blue, p.colors[3])

	_, err = parseTextPalette([]byte("0 255 0\n"), 64)
	assert.Error(t, err)
}

func TestParseColorSmb(t *testing.T) {
	c, err := parseColorSmb("(10, 20,300)")
	require.NoError(t, err)
	assert.Equal(t, [4]int16{10, 20, 255, 255}, c)

	for _, bad := range []string{"", "10,20,30", "(1,2)", "(a,b,c)"} {
		_, err := parseColorSmb(bad)
		assert.Error(t, err, bad)
	}
}

func TestUniformColorTable(t *testing.T) {
	b := &BandDescriptor{DataType: DTByte, NoData: 0, HasNoData: true}
	ct := uniformColorTable(b, red)
	require.Equal(t, 256, ct.Len())
	assert.Equal(t, noDataPaletteColor, ct.Entry(0))
	assert.Equal(t, red, ct.Entry(1))
	assert.Equal(t, red, ct.Entry(255))

	assert.Nil(t, uniformColorTable(&BandDescriptor{DataType: DTFloat32}, red))
}

func TestPaletteDBFRoundTrip(t *testing.T) {
	ct := &ColorTable{Entries: [][4]int16{red, noDataPaletteColor, blue}}
	data, err := paletteDBF(ct, testNow)
	require.NoError(t, err)

	p, err := parseDBFPalette(data, true)
	require.NoError(t, err)
	assert.Equal(t, ct.Entries, p.colors)
	assert.False(t, p.hasNoData)

	// partial alpha needs A_COLOR
	ct = &ColorTable{Entries: [][4]int16{red, {1, 2, 3, 127}}}
	data, err = paletteDBF(ct, testNow)
	require.NoError(t, err)
	p, err = parseDBFPalette(data, true)
	require.NoError(t, err)
	assert.Equal(t, ct.Entries, p.colors)
}
