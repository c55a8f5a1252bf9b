package warp

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"

	"github.com/tingold/gomiramon"
)

// CoordinateTransform maps destination CRS coordinates to source CRS
// coordinates. A point that cannot be mapped returns an error and its
// destination pixel is left untouched.
type CoordinateTransform interface {
	Transform(x, y float64) (float64, float64, error)
}

// TransformFunc adapts a function to CoordinateTransform
type TransformFunc func(x, y float64) (float64, float64, error)

func (f TransformFunc) Transform(x, y float64) (float64, float64, error) {
	return f(x, y)
}

const (
	epsgWGS84        = 4326
	epsgWebMercator  = 3857
	epsgGoogleLegacy = 900913
)

// maxMercatorLat bounds the latitudes spherical mercator can represent
const maxMercatorLat = 85.0511287798066

// NewTransform returns a built-in transform from dstCRS to srcCRS. Same
// systems map through unchanged; EPSG:4326 and EPSG:3857 convert through
// spherical mercator. Anything else needs a caller supplied transform.
func NewTransform(dstCRS, srcCRS string) (CoordinateTransform, error) {
	if gomiramon.SameCRS(dstCRS, srcCRS) {
		return TransformFunc(func(x, y float64) (float64, float64, error) {
			return x, y, nil
		}), nil
	}
	from, ferr := epsg(dstCRS)
	to, terr := epsg(srcCRS)
	if ferr != nil || terr != nil {
		return nil, fmt.Errorf("no built-in transform from %q to %q: %w", dstCRS, srcCRS, gomiramon.ErrTransform)
	}
	switch {
	case from == epsgWGS84 && to == epsgWebMercator:
		return projection(project.WGS84.ToMercator, true), nil
	case from == epsgWebMercator && to == epsgWGS84:
		return projection(project.Mercator.ToWGS84, false), nil
	}
	return nil, fmt.Errorf("no built-in transform from EPSG:%d to EPSG:%d: %w", from, to, gomiramon.ErrTransform)
}

func epsg(crs string) (int, error) {
	code, err := gomiramon.ParseEPSGCode(crs)
	if err != nil {
		return 0, err
	}
	if code == epsgGoogleLegacy {
		code = epsgWebMercator
	}
	return code, nil
}

func projection(p orb.Projection, geographic bool) TransformFunc {
	return func(x, y float64) (float64, float64, error) {
		if geographic && (math.Abs(y) > maxMercatorLat || math.Abs(x) > 180) {
			return 0, 0, fmt.Errorf("point (%g, %g) outside mercator: %w", x, y, gomiramon.ErrTransform)
		}
		out := p(orb.Point{x, y})
		if math.IsNaN(out[0]) || math.IsNaN(out[1]) || math.IsInf(out[0], 0) || math.IsInf(out[1], 0) {
			return 0, 0, fmt.Errorf("point (%g, %g) does not map: %w", x, y, gomiramon.ErrTransform)
		}
		return out[0], out[1], nil
	}
}
