package gomiramon

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

// GeoTransform is an affine pixel to georeferenced transform:
//
//	X = gt[0] + px*gt[1] + py*gt[2]
//	Y = gt[3] + px*gt[4] + py*gt[5]
type GeoTransform [6]float64

// IdentityGeoTransform maps pixel space onto itself with y pointing down
var IdentityGeoTransform = GeoTransform{0, 1, 0, 0, 0, 1}

// GeoTransformFromBounds returns the north-up transform covering bound
// with a width x height grid
func GeoTransformFromBounds(bound orb.Bound, width, height int) GeoTransform {
	return GeoTransform{
		bound.Min[0],
		(bound.Max[0] - bound.Min[0]) / float64(width),
		0,
		bound.Max[1],
		0,
		(bound.Min[1] - bound.Max[1]) / float64(height),
	}
}

// PixelToGeo converts pixel/line coordinates to georeferenced coordinates
func (gt GeoTransform) PixelToGeo(px, py float64) (float64, float64) {
	return gt[0] + px*gt[1] + py*gt[2], gt[3] + px*gt[4] + py*gt[5]
}

// Invert returns the inverse transform. ok is false for degenerate transforms.
func (gt GeoTransform) Invert() (GeoTransform, bool) {
	det := gt[1]*gt[5] - gt[2]*gt[4]
	if det == 0 || math.IsNaN(det) || math.IsInf(det, 0) {
		return GeoTransform{}, false
	}
	inv := 1 / det
	return GeoTransform{
		(gt[2]*gt[3] - gt[0]*gt[5]) * inv,
		gt[5] * inv,
		-gt[2] * inv,
		(-gt[1]*gt[3] + gt[0]*gt[4]) * inv,
		-gt[4] * inv,
		gt[1] * inv,
	}, true
}

// GeoToPixel converts georeferenced coordinates to pixel/line coordinates
func (gt GeoTransform) GeoToPixel(x, y float64) (float64, float64, error) {
	inv, ok := gt.Invert()
	if !ok {
		return 0, 0, fmt.Errorf("geotransform %v is not invertible: %w", gt, ErrTransform)
	}
	px, py := inv.PixelToGeo(x, y)
	return px, py, nil
}

// PointFromPixel converts pixel coordinates to a georeferenced point
func (gt GeoTransform) PointFromPixel(px, py float64) orb.Point {
	x, y := gt.PixelToGeo(px, py)
	return orb.Point{x, y}
}

// Bounds returns the georeferenced bounding box of a width x height grid
func (gt GeoTransform) Bounds(width, height int) orb.Bound {
	if width == 0 || height == 0 {
		return orb.Bound{}
	}

	w, h := float64(width), float64(height)
	topLeftX, topLeftY := gt.PixelToGeo(0, 0)
	topRightX, topRightY := gt.PixelToGeo(w, 0)
	bottomLeftX, bottomLeftY := gt.PixelToGeo(0, h)
	bottomRightX, bottomRightY := gt.PixelToGeo(w, h)

	minX := math.Min(math.Min(topLeftX, topRightX), math.Min(bottomLeftX, bottomRightX))
	maxX := math.Max(math.Max(topLeftX, topRightX), math.Max(bottomLeftX, bottomRightX))
	minY := math.Min(math.Min(topLeftY, topRightY), math.Min(bottomLeftY, bottomRightY))
	maxY := math.Max(math.Max(topLeftY, topRightY), math.Max(bottomLeftY, bottomRightY))

	return orb.Bound{
		Min: orb.Point{minX, minY},
		Max: orb.Point{maxX, maxY},
	}
}

// IsNorthUp reports whether the transform has no rotation terms
func (gt GeoTransform) IsNorthUp() bool {
	return gt[2] == 0 && gt[4] == 0
}

// PolygonFromBounds creates a polygon from a bounding box
func PolygonFromBounds(bound orb.Bound) orb.Polygon {
	if bound.IsEmpty() {
		return orb.Polygon{}
	}

	ring := orb.Ring{
		{bound.Min[0], bound.Min[1]}, // Bottom-left
		{bound.Max[0], bound.Min[1]}, // Bottom-right
		{bound.Max[0], bound.Max[1]}, // Top-right
		{bound.Min[0], bound.Max[1]}, // Top-left
		{bound.Min[0], bound.Min[1]}, // Close ring
	}

	return orb.Polygon{ring}
}

// ParseEPSGCode extracts the numeric code from an "EPSG:xxxx" identifier
func ParseEPSGCode(crs string) (int, error) {
	crs = strings.TrimSpace(crs)
	if len(crs) > 5 && strings.EqualFold(crs[:5], "EPSG:") {
		code, err := strconv.Atoi(crs[5:])
		if err != nil {
			return 0, err
		}
		return code, nil
	}
	return 0, fmt.Errorf("invalid CRS format: %s", crs)
}

// SameCRS reports whether two CRS identifiers name the same system.
// An empty identifier matches anything.
func SameCRS(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == "" || b == "" {
		return true
	}
	if ca, err := ParseEPSGCode(a); err == nil {
		if cb, err := ParseEPSGCode(b); err == nil {
			return ca == cb
		}
	}
	return strings.EqualFold(a, b)
}
