package warp

import (
	"fmt"
	"math"
	"strings"

	"github.com/tingold/gomiramon"
)

// Resampling selects the interpolation kernel
type Resampling uint8

const (
	Nearest Resampling = iota
	Bilinear
)

func (r Resampling) String() string {
	switch r {
	case Bilinear:
		return "bilinear"
	default:
		return "near"
	}
}

// ParseResampling accepts the usual kernel names
func ParseResampling(s string) (Resampling, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "near", "nearest", "nearestneighbour", "nearestneighbor":
		return Nearest, nil
	case "bilinear":
		return Bilinear, nil
	}
	return Nearest, fmt.Errorf("resampling %q: %w", s, gomiramon.ErrUnsupported)
}

// minWeight is the smallest total weight of valid bilinear supports that
// still produces a value
const minWeight = 1e-5

// window is a block of one source band in source pixel space
type window struct {
	x0, y0        int
	width, height int
	data          []float64
	noData        float64
	hasNoData     bool
}

func (w *window) value(x, y int) (float64, bool) {
	x -= w.x0
	y -= w.y0
	if x < 0 || y < 0 || x >= w.width || y >= w.height {
		return 0, false
	}
	v := w.data[y*w.width+x]
	if math.IsNaN(v) || (w.hasNoData && v == w.noData) {
		return 0, false
	}
	return v, true
}

// sample resamples the source at pixel coordinates px, py. ok is false
// when the destination pixel must be left as initialized.
func (r Resampling) sample(w *window, px, py float64) (float64, bool) {
	// the pixel under the point must hold data for either kernel
	center, ok := w.value(int(math.Floor(px)), int(math.Floor(py)))
	if !ok {
		return 0, false
	}
	if r == Nearest {
		return center, true
	}
	return bilinear(w, px, py)
}

// bilinear weighs the four pixels around px, py, dropping those outside
// the source or at nodata and renormalizing the rest
func bilinear(w *window, px, py float64) (float64, bool) {
	fx, fy := px-0.5, py-0.5
	x0, y0 := math.Floor(fx), math.Floor(fy)
	dx, dy := fx-x0, fy-y0
	ix, iy := int(x0), int(y0)

	supports := [4]struct {
		x, y   int
		weight float64
	}{
		{ix, iy, (1 - dx) * (1 - dy)},
		{ix + 1, iy, dx * (1 - dy)},
		{ix, iy + 1, (1 - dx) * dy},
		{ix + 1, iy + 1, dx * dy},
	}

	var sum, weights float64
	for _, s := range supports {
		if s.weight == 0 {
			continue
		}
		v, ok := w.value(s.x, s.y)
		if !ok {
			continue
		}
		sum += v * s.weight
		weights += s.weight
	}
	if weights < minWeight {
		return 0, false
	}
	return sum / weights, true
}
