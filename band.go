package gomiramon

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// rowCacheTTL bounds how long a decoded row stays cached
const rowCacheTTL = 10 * time.Minute

// Band is one band of an open MiraMon dataset. The band file is opened on
// the first pixel access. Decoded rows are cached by the dataset.
type Band struct {
	ds    *Dataset
	desc  BandDescriptor
	index int

	mu      sync.Mutex
	src     bandSource
	offsets []int64 // RLE row offsets, height+1 entries
	dirty   map[int][]float64

	stats struct {
		done     bool
		min, max float64
		ok       bool
	}
}

var _ RasterBand = (*Band)(nil)

func (b *Band) Width() int { return b.desc.Width }
func (b *Band) Height() int { return b.desc.Height }
func (b *Band) DataType() DataType { return b.desc.DataType }
func (b *Band) Compression() Compression { return b.desc.Compression }
func (b *Band) Description() string { return b.desc.Description }
func (b *Band) Unit() string { return b.desc.Unit }
func (b *Band) ColorInterp() ColorInterp { return b.desc.ColorInterp }

// Name returns the band section name
func (b *Band) Name() string { return b.desc.Name }

// Path returns the band file location
func (b *Band) Path() string { return b.desc.Path }

// NoData returns the nodata value and whether the band has one
func (b *Band) NoData() (float64, bool) {
	return b.desc.NoData, b.desc.HasNoData
}

// ColorTable returns the stored palette, or the table derived from the
// attribute table
func (b *Band) ColorTable() *ColorTable {
	return b.desc.ColorTable
}

// AttributeTable returns the raster attribute table, or nil
func (b *Band) AttributeTable() *AttributeTable {
	return b.desc.AttributeTable
}

// Descriptor returns a copy of the band metadata
func (b *Band) Descriptor() BandDescriptor {
	return b.desc
}

// MinMax returns the documented minimum and maximum
func (b *Band) MinMax() (min, max float64, ok bool) {
	return b.desc.Min, b.desc.Max, b.desc.HasMinMax
}

// ComputeMinMax scans the band and returns the range of the values that
// are neither nodata nor NaN. ok is false when no such value exists.
func (b *Band) ComputeMinMax() (min, max float64, ok bool, err error) {
	b.mu.Lock()
	if b.stats.done {
		defer b.mu.Unlock()
		return b.stats.min, b.stats.max, b.stats.ok, nil
	}
	b.mu.Unlock()

	acc := newMinMax(b.desc.NoData, b.desc.HasNoData)
	for r := 0; r < b.desc.Height; r++ {
		row, err := b.row(r)
		if err != nil {
			return 0, 0, false, err
		}
		acc.add(row)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.stats.done = true
	b.stats.min, b.stats.max, b.stats.ok = acc.min, acc.max, acc.ok
	return acc.min, acc.max, acc.ok, nil
}

// minMax accumulates the range of valid samples
type minMax struct {
	noData    float64
	hasNoData bool
	min, max  float64
	ok        bool
}

func newMinMax(noData float64, hasNoData bool) *minMax {
	return &minMax{noData: noData, hasNoData: hasNoData}
}

func (m *minMax) add(values []float64) {
	for _, v := range values {
		if math.IsNaN(v) || (m.hasNoData && v == m.noData) {
			continue
		}
		if !m.ok {
			m.min, m.max, m.ok = v, v, true
			continue
		}
		if v < m.min {
			m.min = v
		}
		if v > m.max {
			m.max = v
		}
	}
}

// ReadBlock reads a width x height window starting at x, y
func (b *Band) ReadBlock(x, y, width, height int) (*RasterData, error) {
	if err := checkWindow(b.desc.Path, b.desc.Width, b.desc.Height, x, y, width, height); err != nil {
		return nil, err
	}
	out := NewRasterData(width, height, 1)
	for r := 0; r < height; r++ {
		row, err := b.row(y + r)
		if err != nil {
			return nil, err
		}
		copy(out.Data[r*width:(r+1)*width], row[x:x+width])
	}
	if b.desc.HasGeoTransform {
		gt := b.desc.GeoTransform
		gt[0], gt[3] = gt.PixelToGeo(float64(x), float64(y))
		out.Bounds = gt.Bounds(width, height)
	}
	return out, nil
}

// WriteBlock writes the first band of data at x, y. Values are rounded and
// clamped to the band type. Raw bands are written in place; RLE bands are
// rewritten on Flush or Close.
func (b *Band) WriteBlock(x, y int, data *RasterData) error {
	if !b.ds.update {
		return fmt.Errorf("%s: %w", b.desc.Path, ErrReadOnly)
	}
	if data == nil || data.Bands < 1 {
		return fmt.Errorf("no data to write: %w", ErrUnsupported)
	}
	if err := checkWindow(b.desc.Path, b.desc.Width, b.desc.Height, x, y, data.Width, data.Height); err != nil {
		return err
	}

	dt := b.desc.DataType
	for r := 0; r < data.Height; r++ {
		current, err := b.row(y + r)
		if err != nil {
			return err
		}
		row := make([]float64, len(current))
		copy(row, current)
		for c := 0; c < data.Width; c++ {
			row[x+c] = dt.Clamp(data.At(0, c, r))
		}
		if err := b.storeRow(y+r, row); err != nil {
			return err
		}
	}

	b.mu.Lock()
	b.stats.done = false
	b.mu.Unlock()
	return nil
}

func (b *Band) cacheKey(r int) string {
	return strconv.Itoa(b.index) + ":" + strconv.Itoa(r)
}

// row returns decoded row r. The slice is shared and must not be modified.
func (b *Band) row(r int) ([]float64, error) {
	if b.ds.isClosed() {
		return nil, &IOError{Op: "read", Path: b.desc.Path, Err: os.ErrClosed}
	}
	b.mu.Lock()
	if row, ok := b.dirty[r]; ok {
		b.mu.Unlock()
		return row, nil
	}
	b.mu.Unlock()

	key := b.cacheKey(r)
	if item := b.ds.cache.Get(key); item != nil && !item.Expired() {
		b.ds.metrics.IncRowCache(true)
		return item.Value(), nil
	}
	b.ds.metrics.IncRowCache(false)

	v, err, _ := b.ds.inflight.Do(key, func() (interface{}, error) {
		row, err := b.decodeRow(r)
		if err != nil {
			return nil, err
		}
		b.ds.cache.Set(key, row, rowCacheTTL)
		return row, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]float64), nil
}

// open opens the band file and locates RLE rows. Callers hold b.mu.
func (b *Band) open() error {
	if b.src != nil {
		return nil
	}
	var src bandSource
	var err error
	if b.ds.update {
		src, err = openFileSource(b.desc.Path)
	} else {
		src, err = b.ds.fs.Open(b.desc.Path)
	}
	if err != nil {
		return &IOError{
			Op:   "open",
			Path: b.desc.Path,
			Err:  fmt.Errorf("Failed to open MiraMon band file %s with access 'rb': %w", b.desc.Path, err),
		}
	}
	b.ds.logger.Debug("opened band file", "path", b.desc.Path, "source", src.kind(), "size", src.Size())

	if b.desc.Compression != CompressionRLE {
		want := int64(b.desc.DataType.rowBytes(b.desc.Width)) * int64(b.desc.Height)
		if size := src.Size(); size < want {
			src.Close()
			return &IOError{
				Op:     "read",
				Path:   b.desc.Path,
				Offset: size,
				Err:    fmt.Errorf("band file holds %d bytes, %d expected", size, want),
			}
		}
		b.src = src
		return nil
	}

	offsets, ok, err := readRowIndex(src, src.Size(), b.desc.Height)
	if err != nil {
		src.Close()
		return &IOError{Op: "read", Path: b.desc.Path, Err: err}
	}
	if !ok {
		b.ds.logger.Debug("RLE row index missing, scanning rows", "path", b.desc.Path)
		data := make([]byte, src.Size())
		if _, err := src.ReadAt(data, 0); err != nil && !errors.Is(err, io.EOF) {
			src.Close()
			return &IOError{Op: "read", Path: b.desc.Path, Err: err}
		}
		b.ds.metrics.AddBytesRead(src.kind(), len(data))
		offsets, err = scanRowOffsets(data, b.desc.Width, b.desc.Height, b.desc.DataType)
		if err != nil {
			src.Close()
			return &IOError{Op: "decode", Path: b.desc.Path, Err: err}
		}
	}
	b.src, b.offsets = src, offsets
	return nil
}

func (b *Band) decodeRow(r int) ([]float64, error) {
	b.mu.Lock()
	if err := b.open(); err != nil {
		b.mu.Unlock()
		return nil, err
	}
	src, offsets := b.src, b.offsets
	b.mu.Unlock()

	dt := b.desc.DataType
	row := make([]float64, b.desc.Width)

	var start int64
	var size int
	if b.desc.Compression == CompressionRLE {
		start, size = offsets[r], int(offsets[r+1]-offsets[r])
	} else {
		size = dt.rowBytes(b.desc.Width)
		start = int64(r) * int64(size)
	}

	buf := GetBuffer(size)
	defer PutBuffer(buf)
	n, err := src.ReadAt(buf, start)
	if err != nil && !(errors.Is(err, io.EOF) && n == size) {
		return nil, &IOError{Op: "read", Path: b.desc.Path, Offset: start, Err: err}
	}
	b.ds.metrics.AddBytesRead(src.kind(), n)

	if b.desc.Compression == CompressionRLE {
		if _, err := decodeRLERow(buf[:n], row, dt); err != nil {
			return nil, &IOError{Op: "decode", Path: b.desc.Path, Offset: start, Err: fmt.Errorf("row %d: %w", r, err)}
		}
	} else if err := decodeRow(buf[:n], row, dt); err != nil {
		return nil, &IOError{Op: "decode", Path: b.desc.Path, Offset: start, Err: fmt.Errorf("row %d: %w", r, err)}
	}
	b.ds.metrics.IncRowsDecoded(b.desc.Compression.String())
	return row, nil
}

// storeRow replaces row r
func (b *Band) storeRow(r int, row []float64) error {
	if b.ds.isClosed() {
		return &IOError{Op: "write", Path: b.desc.Path, Err: os.ErrClosed}
	}
	key := b.cacheKey(r)
	if b.desc.Compression == CompressionRLE {
		b.mu.Lock()
		if b.dirty == nil {
			b.dirty = make(map[int][]float64)
		}
		b.dirty[r] = row
		b.mu.Unlock()
		b.ds.cache.Delete(key)
		return nil
	}

	b.mu.Lock()
	if err := b.open(); err != nil {
		b.mu.Unlock()
		return err
	}
	src := b.src
	b.mu.Unlock()

	w, ok := src.(io.WriterAt)
	if !ok {
		return fmt.Errorf("%s: %w", b.desc.Path, ErrReadOnly)
	}
	size := b.desc.DataType.rowBytes(b.desc.Width)
	buf := GetBuffer(size)
	defer PutBuffer(buf)
	encodeRow(buf, row, b.desc.DataType)
	off := int64(r) * int64(size)
	if _, err := w.WriteAt(buf, off); err != nil {
		return &IOError{Op: "write", Path: b.desc.Path, Offset: off, Err: err}
	}
	b.ds.cache.Set(key, row, rowCacheTTL)
	return nil
}

// flush rewrites an RLE band holding edited rows. The new file replaces the
// old one atomically.
func (b *Band) flush() error {
	b.mu.Lock()
	pending := len(b.dirty)
	b.mu.Unlock()
	if pending == 0 {
		return nil
	}

	dir := filepath.Dir(b.desc.Path)
	tmp := filepath.Join(dir, "."+filepath.Base(b.desc.Path)+"."+uuid.NewString()+".tmp")
	f, err := os.Create(tmp)
	if err != nil {
		return &IOError{Op: "create", Path: tmp, Err: err}
	}
	err = encodeBand(f, b.desc.Width, b.desc.Height, b.desc.DataType, b.desc.Compression, b.row)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return &IOError{Op: "write", Path: tmp, Err: err}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.src != nil {
		b.src.Close()
		b.src, b.offsets = nil, nil
	}
	if err := os.Rename(tmp, b.desc.Path); err != nil {
		os.Remove(tmp)
		return &IOError{Op: "rename", Path: b.desc.Path, Err: err}
	}
	for r, row := range b.dirty {
		b.ds.cache.Set(b.cacheKey(r), row, rowCacheTTL)
	}
	b.dirty = nil
	b.ds.logger.Debug("rewrote RLE band", "path", b.desc.Path, "rows", pending)
	return nil
}

func (b *Band) close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.src == nil {
		return nil
	}
	err := b.src.Close()
	b.src, b.offsets = nil, nil
	return err
}
