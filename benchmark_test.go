package gomiramon

import (
	"bytes"
	"fmt"
	"math/rand"
	"path/filepath"
	"testing"
)

// Benchmark data generation helpers

// generateRow creates a row with short runs, the shape RLE bands usually have
func generateRow(width int, dt DataType) []float64 {
	row := make([]float64, width)
	v := 0.0
	for i := range row {
		if rand.Intn(4) == 0 {
			v = float64(rand.Intn(200))
		}
		row[i] = dt.Clamp(v)
	}
	return row
}

var benchmarkTypes = []DataType{DTBit, DTByte, DTInt16, DTFloat32, DTFloat64}

// =============================================================================
// Row codecs
// =============================================================================

func BenchmarkDecodeRow(b *testing.B) {
	for _, dt := range benchmarkTypes {
		b.Run(dt.String(), func(b *testing.B) {
			row := generateRow(4096, dt)
			raw := make([]byte, dt.rowBytes(len(row)))
			encodeRow(raw, row, dt)
			dst := make([]float64, len(row))
			b.SetBytes(int64(len(raw)))
			b.ResetTimer()
			b.ReportAllocs()

			for i := 0; i < b.N; i++ {
				if err := decodeRow(raw, dst, dt); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkEncodeRLERow(b *testing.B) {
	for _, dt := range benchmarkTypes[1:] {
		b.Run(dt.String(), func(b *testing.B) {
			row := generateRow(4096, dt)
			buf := make([]byte, 0, len(row)*(dt.Size()+1))
			b.ResetTimer()
			b.ReportAllocs()

			for i := 0; i < b.N; i++ {
				buf = encodeRLERow(buf[:0], row, dt)
			}
		})
	}
}

func BenchmarkDecodeRLERow(b *testing.B) {
	for _, dt := range benchmarkTypes[1:] {
		b.Run(dt.String(), func(b *testing.B) {
			row := generateRow(4096, dt)
			enc := encodeRLERow(nil, row, dt)
			dst := make([]float64, len(row))
			b.SetBytes(int64(len(enc)))
			b.ResetTimer()
			b.ReportAllocs()

			for i := 0; i < b.N; i++ {
				if _, err := decodeRLERow(enc, dst, dt); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkScanRowOffsets(b *testing.B) {
	const width, height = 512, 256
	var buf bytes.Buffer
	err := encodeBand(&buf, width, height, DTInt16, CompressionRLE, func(r int) ([]float64, error) {
		return generateRow(width, DTInt16), nil
	})
	if err != nil {
		b.Fatal(err)
	}
	data := buf.Bytes()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if _, err := scanRowOffsets(data, width, height, DTInt16); err != nil {
			b.Fatal(err)
		}
	}
}

// =============================================================================
// Band reads
// =============================================================================

func benchmarkReadBlock(b *testing.B, comp Compression, cacheRows int) {
	const width, height = 512, 512
	values := make([]float64, 0, width*height)
	for r := 0; r < height; r++ {
		values = append(values, generateRow(width, DTInt16)...)
	}
	path := testRaster{width: width, height: height, bands: []testBand{
		{name: "v", file: "v.img", dt: DTInt16, comp: comp, values: values},
	}}.write(b, b.TempDir(), "bench")

	ds, err := Open(path, &OpenOptions{CacheRows: int64(cacheRows)})
	if err != nil {
		b.Fatal(err)
	}
	defer ds.Close()
	band := ds.Bands()[0]
	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		y := (i * 64) % height
		if _, err := band.ReadBlock(0, y, width, 64); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkReadBlock_Raw(b *testing.B) { benchmarkReadBlock(b, CompressionNone, DefaultCacheRows) }
func BenchmarkReadBlock_RLE(b *testing.B) { benchmarkReadBlock(b, CompressionRLE, DefaultCacheRows) }
func BenchmarkReadBlock_RLE_SmallCache(b *testing.B) { benchmarkReadBlock(b, CompressionRLE, 16) }

func BenchmarkReadBlock_Parallel(b *testing.B) {
	const width, height = 256, 256
	values := make([]float64, width*height)
	path := testRaster{width: width, height: height, bands: []testBand{
		{name: "v", file: "v.img", dt: DTByte, comp: CompressionRLE, values: values},
	}}.write(b, b.TempDir(), "parallel")
	ds, err := Open(path, nil)
	if err != nil {
		b.Fatal(err)
	}
	defer ds.Close()
	band := ds.Bands()[0]
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		y := 0
		for pb.Next() {
			if _, err := band.ReadBlock(0, y, width, 16); err != nil {
				b.Error(err)
				return
			}
			y = (y + 16) % height
		}
	})
}

// =============================================================================
// CreateCopy
// =============================================================================

func BenchmarkCreateCopy(b *testing.B) {
	src := NewMemRaster(512, 512, DTByte, DTFloat32)
	for i := 0; i < src.BandCount(); i++ {
		values := make([]float64, 0, 512*512)
		for r := 0; r < 512; r++ {
			values = append(values, generateRow(512, src.MemBand(i).DataType())...)
		}
		if err := src.MemBand(i).SetValues(values); err != nil {
			b.Fatal(err)
		}
	}

	for _, compress := range []string{"NO", "YES"} {
		b.Run("COMPRESS="+compress, func(b *testing.B) {
			dir := b.TempDir()
			opts := &CopyOptions{Options: map[string]string{"COMPRESS": compress}}
			b.ResetTimer()

			for i := 0; i < b.N; i++ {
				ds, err := CreateCopy(filepath.Join(dir, fmt.Sprintf("copy%d", i)), src, opts)
				if err != nil {
					b.Fatal(err)
				}
				ds.Close()
			}
		})
	}
}

// =============================================================================
// Byte buffer pools
// =============================================================================

func BenchmarkByteBufferAlloc(b *testing.B) {
	size := 4096 * 8 // a float64 row

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		buf := make([]byte, size)
		_ = buf
	}
}

func BenchmarkByteBufferPooled(b *testing.B) {
	size := 4096 * 8

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		buf := GetBuffer(size)
		_ = buf
		PutBuffer(buf)
	}
}

func BenchmarkBytesBufferAlloc(b *testing.B) {
	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		buf := new(bytes.Buffer)
		buf.Grow(16 * 1024)
		_ = buf
	}
}

func BenchmarkBytesBufferPooled(b *testing.B) {
	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		buf := GetBytesBuffer()
		buf.Grow(16 * 1024)
		PutBytesBuffer(buf)
	}
}

func BenchmarkRelWriteTo(b *testing.B) {
	rel := NewRel()
	for i := 0; i < 50; i++ {
		section := fmt.Sprintf("ATTRIBUTE_DATA:band%d", i)
		rel.Set(section, "NomFitxer", fmt.Sprintf("band%d.img", i))
		rel.Set(section, "TipusCompressio", "integer")
		rel.Set(section, "descriptor", "Cobertes del sòl")
	}
	var out bytes.Buffer
	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		out.Reset()
		if _, err := rel.WriteTo(&out); err != nil {
			b.Fatal(err)
		}
	}
}
