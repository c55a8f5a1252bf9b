package gomiramon

import (
	"fmt"
	"sync"
)

// MemRaster is an in-memory raster. It serves as a warp destination, as a
// create-copy source and for tests.
type MemRaster struct {
	width, height int
	gt            GeoTransform
	hasGT         bool
	crs           string
	bands         []*MemBand
}

var _ Raster = (*MemRaster)(nil)

// NewMemRaster creates a zero-filled raster with one band per type
func NewMemRaster(width, height int, types ...DataType) *MemRaster {
	m := &MemRaster{width: width, height: height, gt: IdentityGeoTransform}
	for _, dt := range types {
		m.AddBand(dt)
	}
	return m
}

// AddBand appends a zero-filled band
func (m *MemRaster) AddBand(dt DataType) *MemBand {
	b := &MemBand{
		width:  m.width,
		height: m.height,
		dt:     dt,
		data:   make([]float64, m.width*m.height),
	}
	m.bands = append(m.bands, b)
	return b
}

func (m *MemRaster) Width() int { return m.width }
func (m *MemRaster) Height() int { return m.height }
func (m *MemRaster) BandCount() int { return len(m.bands) }
func (m *MemRaster) CRS() string { return m.crs }

// Band returns the zero-based band i, or nil
func (m *MemRaster) Band(i int) RasterBand {
	if i < 0 || i >= len(m.bands) {
		return nil
	}
	return m.bands[i]
}

// MemBand returns the zero-based band i with its setters, or nil
func (m *MemRaster) MemBand(i int) *MemBand {
	if i < 0 || i >= len(m.bands) {
		return nil
	}
	return m.bands[i]
}

func (m *MemRaster) GeoTransform() (GeoTransform, bool) {
	return m.gt, m.hasGT
}

// SetGeoTransform georeferences the raster
func (m *MemRaster) SetGeoTransform(gt GeoTransform) {
	m.gt, m.hasGT = gt, true
}

// SetCRS sets the CRS identifier
func (m *MemRaster) SetCRS(crs string) {
	m.crs = crs
}

// Clone returns a deep copy
func (m *MemRaster) Clone() *MemRaster {
	out := &MemRaster{width: m.width, height: m.height, gt: m.gt, hasGT: m.hasGT, crs: m.crs}
	for _, b := range m.bands {
		out.bands = append(out.bands, b.clone())
	}
	return out
}

// MemBand is a band of a MemRaster. Values are kept clamped to the band type.
type MemBand struct {
	width, height int
	dt            DataType

	mu   sync.RWMutex
	data []float64

	noData      float64
	hasNoData   bool
	ct          *ColorTable
	rat         *AttributeTable
	ci          ColorInterp
	description string
	unit        string
}

var _ RasterBand = (*MemBand)(nil)

func (b *MemBand) Width() int { return b.width }
func (b *MemBand) Height() int { return b.height }
func (b *MemBand) DataType() DataType { return b.dt }
func (b *MemBand) Description() string { return b.description }
func (b *MemBand) Unit() string { return b.unit }

func (b *MemBand) NoData() (float64, bool) {
	return b.noData, b.hasNoData
}

// SetNoData sets the nodata value
func (b *MemBand) SetNoData(v float64) {
	b.noData, b.hasNoData = v, true
}

// SetColorTable stores a palette and marks the band as palette indexed
func (b *MemBand) SetColorTable(ct *ColorTable) {
	b.ct = ct
	if ct != nil {
		b.ci = ColorInterpPalette
	}
}

// ColorTable returns the stored palette, or one derived from the
// attribute table
func (b *MemBand) ColorTable() *ColorTable {
	if b.ct != nil {
		return b.ct
	}
	ct, err := DeriveColorTable(b.rat)
	if err != nil {
		return nil
	}
	return ct
}

// SetAttributeTable stores a raster attribute table
func (b *MemBand) SetAttributeTable(rat *AttributeTable) {
	b.rat = rat
}

func (b *MemBand) AttributeTable() *AttributeTable {
	return b.rat
}

// SetColorInterp sets the color interpretation
func (b *MemBand) SetColorInterp(ci ColorInterp) {
	b.ci = ci
}

func (b *MemBand) ColorInterp() ColorInterp {
	if b.ci == ColorInterpUndefined && b.ColorTable() != nil {
		return ColorInterpPalette
	}
	return b.ci
}

// SetDescription sets the band description
func (b *MemBand) SetDescription(s string) {
	b.description = s
}

// SetUnit sets the unit of the band values
func (b *MemBand) SetUnit(s string) {
	b.unit = s
}

// Fill sets every pixel to v
func (b *MemBand) Fill(v float64) {
	v = b.dt.Clamp(v)
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.data {
		b.data[i] = v
	}
}

// SetValues replaces the pixel values, row-major
func (b *MemBand) SetValues(values []float64) error {
	if len(values) != len(b.data) {
		return fmt.Errorf("got %d values for a %dx%d band", len(values), b.width, b.height)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, v := range values {
		b.data[i] = b.dt.Clamp(v)
	}
	return nil
}

// Values returns a copy of the pixel values, row-major
func (b *MemBand) Values() []float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]float64(nil), b.data...)
}

func (b *MemBand) ReadBlock(x, y, width, height int) (*RasterData, error) {
	if err := checkWindow("MEM", b.width, b.height, x, y, width, height); err != nil {
		return nil, err
	}
	out := NewRasterData(width, height, 1)
	b.mu.RLock()
	defer b.mu.RUnlock()
	for r := 0; r < height; r++ {
		copy(out.Data[r*width:(r+1)*width], b.data[(y+r)*b.width+x:])
	}
	return out, nil
}

func (b *MemBand) WriteBlock(x, y int, data *RasterData) error {
	if data == nil || data.Bands < 1 {
		return fmt.Errorf("no data to write: %w", ErrUnsupported)
	}
	if err := checkWindow("MEM", b.width, b.height, x, y, data.Width, data.Height); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for r := 0; r < data.Height; r++ {
		for c := 0; c < data.Width; c++ {
			b.data[(y+r)*b.width+x+c] = b.dt.Clamp(data.At(0, c, r))
		}
	}
	return nil
}

func (b *MemBand) clone() *MemBand {
	out := &MemBand{
		width:       b.width,
		height:      b.height,
		dt:          b.dt,
		data:        b.Values(),
		noData:      b.noData,
		hasNoData:   b.hasNoData,
		ct:          b.ct,
		rat:         b.rat.Clone(),
		ci:          b.ci,
		description: b.description,
		unit:        b.unit,
	}
	if b.ct != nil {
		out.ct = &ColorTable{Entries: append([][4]int16(nil), b.ct.Entries...)}
	}
	return out
}

// CopyToMem reads every band of r into a new MemRaster
func CopyToMem(r Raster) (*MemRaster, error) {
	m := &MemRaster{width: r.Width(), height: r.Height(), crs: r.CRS()}
	m.gt, m.hasGT = r.GeoTransform()
	for i := 0; i < r.BandCount(); i++ {
		src := r.Band(i)
		block, err := src.ReadBlock(0, 0, r.Width(), r.Height())
		if err != nil {
			return nil, fmt.Errorf("failed to read band %d: %w", i+1, err)
		}
		b := m.AddBand(src.DataType())
		copy(b.data, block.Data)
		b.noData, b.hasNoData = src.NoData()
		b.ct = src.ColorTable()
		b.rat = src.AttributeTable().Clone()
		b.ci = src.ColorInterp()
		b.description = src.Description()
		b.unit = src.Unit()
	}
	return m, nil
}
