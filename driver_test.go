package gomiramon

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryIdentify(t *testing.T) {
	reg := DefaultRegistry()
	assert.Equal(t, []string{"MEM", "MIRAMONRASTER"}, reg.Drivers())

	d, err := reg.Identify("dir/aI.rel")
	require.NoError(t, err)
	assert.Equal(t, "MiraMonRaster", d.Name())

	// .img is only a maybe, but nothing else claims it
	d, err = reg.Identify("dir/a.img")
	require.NoError(t, err)
	assert.Equal(t, "MiraMonRaster", d.Name())

	d, err = reg.Identify("MEM:scratch")
	require.NoError(t, err)
	assert.Equal(t, "MEM", d.Name())

	_, err = reg.Identify("dir/a.tif")
	assert.ErrorIs(t, err, ErrNotRecognized)
}

func TestRegistryOpen(t *testing.T) {
	dir := t.TempDir()
	path := testRaster{width: 2, height: 1, bands: []testBand{
		{name: "v", file: "v.img", dt: DTByte, values: []float64{5, 6}},
	}}.write(t, dir, "reg")

	reg := NewRegistry()
	reg.Register(&MiraMonDriver{})
	r, err := reg.Open(path)
	require.NoError(t, err)
	defer r.(*Dataset).Close()
	assert.Equal(t, 1, r.BandCount())

	_, ok := reg.Lookup("MEM")
	assert.False(t, ok)
	_, err = reg.Open("MEM:x")
	assert.ErrorIs(t, err, ErrNotRecognized)
}

func TestMemDriver(t *testing.T) {
	dir := t.TempDir()
	path := testRaster{width: 2, height: 2, bands: []testBand{
		{name: "v", file: "v.img", dt: DTUInt16, values: []float64{1, 2, 3, 4}},
	}}.write(t, dir, "mem")
	src := openTest(t, path, false)

	mem := NewMemDriver()
	copied, err := mem.CreateCopy("MEM:copy", src, nil)
	require.NoError(t, err)

	// the in-memory copy is independent of the file
	patch := NewRasterData(1, 1, 1)
	patch.Data[0] = 99
	require.NoError(t, copied.Band(0).WriteBlock(0, 0, patch))

	again, err := mem.Open("mem:COPY")
	require.NoError(t, err)
	block, err := again.Band(0).ReadBlock(0, 0, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, []float64{99, 2, 3, 4}, block.Data)

	block, err = src.Band(0).ReadBlock(0, 0, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3, 4}, block.Data)

	_, err = mem.Open("MEM:missing")
	assert.ErrorIs(t, err, ErrIO)
	_, err = mem.CreateCopy(filepath.Join(dir, "x.img"), src, nil)
	assert.ErrorIs(t, err, ErrNotRecognized)

	// and back to disk through the MiraMon driver
	mm := &MiraMonDriver{}
	out, err := mm.CreateCopy(filepath.Join(dir, "fromMem"), again, nil)
	require.NoError(t, err)
	defer out.(*Dataset).Close()
	block, err = out.Band(0).ReadBlock(0, 0, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, []float64{99, 2, 3, 4}, block.Data)
}
