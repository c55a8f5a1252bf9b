package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tingold/gomiramon"
)

var _ gomiramon.MetricsCollector = (*Collector)(nil)

func TestCollector(t *testing.T) {
	c := NewCollector("")
	c.IncRowsDecoded("byte-RLE")
	c.IncRowsDecoded("byte-RLE")
	c.IncRowCache(true)
	c.IncRowCache(false)
	c.IncRowCache(false)
	c.AddBytesRead("mmap", 512)
	c.ObserveCopyDuration(20*time.Millisecond, true)
	c.ObserveWarpDuration("bilinear", time.Second, false)
	c.AddWarpPixels(9, 9)
	c.AddWarpPixels(1, 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.rowsDecoded.WithLabelValues("byte-RLE")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.rowCache.WithLabelValues("hit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.rowCache.WithLabelValues("miss")))
	assert.Equal(t, 512.0, testutil.ToFloat64(c.bytesRead.WithLabelValues("mmap")))
	assert.Equal(t, 10.0, testutil.ToFloat64(c.warpPixels.WithLabelValues("written")))
	assert.Equal(t, 9.0, testutil.ToFloat64(c.warpPixels.WithLabelValues("skipped")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.warpDuration))

	families, err := c.Registry().Gather()
	require.NoError(t, err)
	for _, f := range families {
		assert.True(t, strings.HasPrefix(f.GetName(), "gomiramon_"), f.GetName())
	}
}

func TestWriteTextfile(t *testing.T) {
	c := NewCollector("test")
	c.AddWarpPixels(3, 1)
	path := filepath.Join(t.TempDir(), "gomiramon.prom")
	require.NoError(t, c.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `test_warp_pixels_total{result="written"} 3`)

	assert.Error(t, c.WriteTextfile(filepath.Join(t.TempDir(), "missing", "x.prom")))
}

func TestCollectorInDataset(t *testing.T) {
	c := NewCollector("gomiramon")
	src := gomiramon.NewMemRaster(2, 2, gomiramon.DTByte)
	require.NoError(t, src.MemBand(0).SetValues([]float64{1, 2, 3, 4}))

	dir := t.TempDir()
	ds, err := gomiramon.CreateCopy(filepath.Join(dir, "m"), src, &gomiramon.CopyOptions{Compress: true, Metrics: c})
	require.NoError(t, err)
	defer ds.Close()

	_, err = ds.Band(0).ReadBlock(0, 0, 2, 2)
	require.NoError(t, err)
	_, err = ds.Band(0).ReadBlock(0, 0, 2, 2)
	require.NoError(t, err)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.rowsDecoded.WithLabelValues("RLE")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.rowCache.WithLabelValues("hit")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.copyDuration))
}
