package gomiramon_test

import (
	"bytes"
	"encoding/json"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tingold/gomiramon"
)

// comparisonRaster writes a small two-band MiraMon raster for gdalinfo to read
func comparisonRaster(tb testing.TB, compress string) string {
	tb.Helper()
	src := gomiramon.NewMemRaster(64, 48, gomiramon.DTByte, gomiramon.DTInt16)
	src.SetGeoTransform(gomiramon.GeoTransform{400000, 30, 0, 4650000, 0, -30})
	src.SetCRS("EPSG:25831")
	for i := 0; i < src.BandCount(); i++ {
		values := make([]float64, 64*48)
		for p := range values {
			values[p] = float64((p / 7) % 200)
		}
		require.NoError(tb, src.MemBand(i).SetValues(values))
	}
	dir := tb.TempDir()
	ds, err := gomiramon.CreateCopy(filepath.Join(dir, "compare"), src, &gomiramon.CopyOptions{
		Options: map[string]string{"COMPRESS": compress},
	})
	require.NoError(tb, err)
	require.NoError(tb, ds.Close())
	return filepath.Join(dir, "compareI.rel")
}

type gdalInfo struct {
	Size  []int `json:"size"`
	Bands []struct {
		Band int    `json:"band"`
		Type string `json:"type"`
	} `json:"bands"`
}

// TestCompareGDALvsGoMiraMon opens the same raster with gomiramon and
// gdalinfo, checks they agree on the layout and logs both timings.
func TestCompareGDALvsGoMiraMon(t *testing.T) {
	if _, err := exec.LookPath("gdalinfo"); err != nil {
		t.Skipf("gdalinfo not found in PATH, skipping comparison test")
	}

	for _, compress := range []string{"NO", "YES"} {
		t.Run("COMPRESS="+compress, func(t *testing.T) {
			path := comparisonRaster(t, compress)

			start := time.Now()
			ds, err := gomiramon.Open(path, nil)
			goDuration := time.Since(start)
			require.NoError(t, err)
			defer ds.Close()

			start = time.Now()
			cmd := exec.Command("gdalinfo", "-json", path)
			var stdout, stderr bytes.Buffer
			cmd.Stdout = &stdout
			cmd.Stderr = &stderr
			gdalErr := cmd.Run()
			gdalDuration := time.Since(start)
			if gdalErr != nil {
				// older GDAL builds ship without the MiraMon raster driver
				t.Skipf("gdalinfo could not read %s: %v\n%s", path, gdalErr, stderr.String())
			}

			var info gdalInfo
			require.NoError(t, json.Unmarshal(stdout.Bytes(), &info))
			assert.Equal(t, []int{ds.Width(), ds.Height()}, info.Size)
			require.Len(t, info.Bands, ds.BandCount())
			assert.Equal(t, "Byte", info.Bands[0].Type)
			assert.Equal(t, "Int16", info.Bands[1].Type)

			t.Logf("gomiramon: %v", goDuration)
			t.Logf("gdalinfo:  %v", gdalDuration)
			if goDuration > 0 {
				speedup := float64(gdalDuration) / float64(goDuration)
				if speedup > 1 {
					t.Logf("gomiramon is %.2fx FASTER than gdalinfo", speedup)
				} else {
					t.Logf("gdalinfo is %.2fx faster than gomiramon", 1/speedup)
				}
			}
		})
	}
}

// BenchmarkGoMiraMon_OpenInfo benchmarks opening a raster and reading its info
func BenchmarkGoMiraMon_OpenInfo(b *testing.B) {
	path := comparisonRaster(b, "YES")
	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		ds, err := gomiramon.Open(path, nil)
		if err != nil {
			b.Fatalf("Failed to open raster: %v", err)
		}
		_ = ds.Bounds()
		_ = ds.CRS()
		for _, band := range ds.Bands() {
			_ = band.DataType()
			_, _ = band.NoData()
		}
		ds.Close()
	}
}

// BenchmarkGDALInfo benchmarks running gdalinfo on the same raster
func BenchmarkGDALInfo(b *testing.B) {
	if _, err := exec.LookPath("gdalinfo"); err != nil {
		b.Skip("gdalinfo not found in PATH, skipping benchmark")
	}
	path := comparisonRaster(b, "YES")
	if err := exec.Command("gdalinfo", path).Run(); err != nil {
		b.Skipf("gdalinfo could not read %s: %v", path, err)
	}
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		cmd := exec.Command("gdalinfo", path)
		var stdout bytes.Buffer
		cmd.Stdout = &stdout
		if err := cmd.Run(); err != nil {
			b.Fatalf("gdalinfo failed: %v", err)
		}
	}
}
