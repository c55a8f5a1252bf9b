package gomiramon

import (
	"fmt"

	"github.com/paulmach/orb"
)

// Raster is a georeferenced grid of bands. It is implemented by MiraMon
// datasets and by in-memory rasters.
type Raster interface {
	Width() int
	Height() int
	BandCount() int
	// Band returns the band at the zero-based index i, or nil
	Band(i int) RasterBand
	// GeoTransform returns the affine transform; ok is false when the
	// raster carries no georeferencing
	GeoTransform() (gt GeoTransform, ok bool)
	CRS() string
}

// RasterBand is a single band of a Raster
type RasterBand interface {
	Width() int
	Height() int
	DataType() DataType
	NoData() (float64, bool)
	ReadBlock(x, y, width, height int) (*RasterData, error)
	WriteBlock(x, y int, data *RasterData) error
	ColorInterp() ColorInterp
	ColorTable() *ColorTable
	AttributeTable() *AttributeTable
	Description() string
	Unit() string
}

// ColorInterp describes how the values of a band are displayed
type ColorInterp uint8

const (
	ColorInterpUndefined ColorInterp = iota
	ColorInterpGray
	ColorInterpPalette
	ColorInterpRed
	ColorInterpGreen
	ColorInterpBlue
	ColorInterpAlpha
)

func (ci ColorInterp) String() string {
	switch ci {
	case ColorInterpGray:
		return "Gray"
	case ColorInterpPalette:
		return "Palette"
	case ColorInterpRed:
		return "Red"
	case ColorInterpGreen:
		return "Green"
	case ColorInterpBlue:
		return "Blue"
	case ColorInterpAlpha:
		return "Alpha"
	default:
		return "Undefined"
	}
}

// Rectangle represents a rectangle in pixel space
type Rectangle struct {
	X      int // X coordinate of top-left corner
	Y      int // Y coordinate of top-left corner
	Width  int // Width in pixels
	Height int // Height in pixels
}

// RasterData holds pixel values read from one or more bands.
// Data is stored as a flat array in band-interleaved-by-pixel (BIP) format:
// index = y * Width * Bands + x * Bands + band
// Values of every sample type are held exactly by float64.
type RasterData struct {
	Data   []float64
	Width  int
	Height int
	Bands  int
	Bounds orb.Bound
}

// NewRasterData allocates a zeroed width x height x bands buffer
func NewRasterData(width, height, bands int) *RasterData {
	return &RasterData{
		Data:   make([]float64, width*height*bands),
		Width:  width,
		Height: height,
		Bands:  bands,
	}
}

// At returns the value at the specified band, x, y coordinates.
func (r *RasterData) At(band, x, y int) float64 {
	if band < 0 || band >= r.Bands || x < 0 || x >= r.Width || y < 0 || y >= r.Height {
		return 0
	}
	return r.Data[y*r.Width*r.Bands+x*r.Bands+band]
}

// Set sets the value at the specified band, x, y coordinates.
func (r *RasterData) Set(band, x, y int, value float64) {
	if band < 0 || band >= r.Bands || x < 0 || x >= r.Width || y < 0 || y >= r.Height {
		return
	}
	r.Data[y*r.Width*r.Bands+x*r.Bands+band] = value
}

// Index returns the flat array index for the given band, x, y coordinates.
func (r *RasterData) Index(band, x, y int) int {
	return y*r.Width*r.Bands + x*r.Bands + band
}

// GetBand returns a newly allocated slice with the values of one band
// in row-major order.
func (r *RasterData) GetBand(band int) []float64 {
	if band < 0 || band >= r.Bands {
		return nil
	}
	if r.Bands == 1 {
		out := make([]float64, len(r.Data))
		copy(out, r.Data)
		return out
	}
	result := make([]float64, r.Width*r.Height)
	for y := 0; y < r.Height; y++ {
		for x := 0; x < r.Width; x++ {
			result[y*r.Width+x] = r.Data[r.Index(band, x, y)]
		}
	}
	return result
}

// GetPixel returns all band values for a single pixel.
func (r *RasterData) GetPixel(x, y int) []float64 {
	if x < 0 || x >= r.Width || y < 0 || y >= r.Height {
		return nil
	}
	result := make([]float64, r.Bands)
	baseIdx := y*r.Width*r.Bands + x*r.Bands
	copy(result, r.Data[baseIdx:baseIdx+r.Bands])
	return result
}

// checkWindow validates a block request against a band of width x height
func checkWindow(path string, bandWidth, bandHeight, x, y, width, height int) error {
	if x < 0 || y < 0 || width <= 0 || height <= 0 || x+width > bandWidth || y+height > bandHeight {
		return &IOError{
			Op:   "access",
			Path: path,
			Err: fmt.Errorf("window %dx%d at (%d,%d) outside %dx%d band",
				width, height, x, y, bandWidth, bandHeight),
		}
	}
	return nil
}

// ReadRaster reads a window of every band of r into one BIP buffer
func ReadRaster(r Raster, rect Rectangle) (*RasterData, error) {
	bands := r.BandCount()
	if bands == 0 {
		return nil, fmt.Errorf("raster has no bands: %w", ErrUnsupported)
	}
	out := NewRasterData(rect.Width, rect.Height, bands)
	for b := 0; b < bands; b++ {
		block, err := r.Band(b).ReadBlock(rect.X, rect.Y, rect.Width, rect.Height)
		if err != nil {
			return nil, fmt.Errorf("failed to read band %d: %w", b+1, err)
		}
		for i, v := range block.Data {
			out.Data[i*bands+b] = v
		}
	}
	if gt, ok := r.GeoTransform(); ok {
		shifted := gt
		shifted[0], shifted[3] = gt.PixelToGeo(float64(rect.X), float64(rect.Y))
		out.Bounds = shifted.Bounds(rect.Width, rect.Height)
	}
	return out, nil
}
