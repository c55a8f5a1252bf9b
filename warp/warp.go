// Package warp resamples a georeferenced raster onto the grid of another.
package warp

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/paulmach/orb"
	"golang.org/x/sync/errgroup"

	"github.com/tingold/gomiramon"
)

// DefaultBlockRows is the number of destination rows warped per task
const DefaultBlockRows = 64

// Options configures ReprojectImage
type Options struct {
	Resampling Resampling
	// SrcCRS and DstCRS override the CRS of the rasters
	SrcCRS string
	DstCRS string
	// Transform maps destination CRS coordinates to source CRS
	// coordinates. Nil picks a built-in transform.
	Transform CoordinateTransform
	// WarpOptions holds INIT_DEST, SRC_NODATA and DST_NODATA
	WarpOptions map[string]string
	// Workers bounds the blocks warped concurrently; 0 uses GOMAXPROCS
	Workers   int
	BlockRows int
	Logger    *slog.Logger
	Metrics   gomiramon.MetricsCollector
}

// initPolicy says what destination pixels hold before the warp writes
type initPolicy struct {
	set    bool
	noData bool
	value  float64
}

// parseInitDest reads INIT_DEST. Absent, empty or NONE keeps the current
// destination values; NO_DATA fills with the band nodata (0 without one);
// a number fills with that number.
func parseInitDest(opts map[string]string) (initPolicy, error) {
	v, ok := lookupOption(opts, "INIT_DEST")
	if !ok {
		return initPolicy{}, nil
	}
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case "", "NONE":
		return initPolicy{}, nil
	case "NO_DATA":
		return initPolicy{set: true, noData: true}, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return initPolicy{}, fmt.Errorf("INIT_DEST=%q: %w", v, gomiramon.ErrUnsupported)
	}
	return initPolicy{set: true, value: f}, nil
}

func (p initPolicy) fill(noData float64, hasNoData bool) float64 {
	if p.noData {
		if hasNoData {
			return noData
		}
		return 0
	}
	return p.value
}

func lookupOption(opts map[string]string, key string) (string, bool) {
	for k, v := range opts {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return "", false
}

func floatOption(opts map[string]string, key string) (float64, bool, error) {
	v, ok := lookupOption(opts, key)
	if !ok || strings.TrimSpace(v) == "" {
		return 0, false, nil
	}
	if strings.EqualFold(strings.TrimSpace(v), "nan") {
		return math.NaN(), true, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, false, fmt.Errorf("%s=%q: %w", key, v, gomiramon.ErrUnsupported)
	}
	return f, true, nil
}

// warper holds the state of one ReprojectImage call
type warper struct {
	src, dst       gomiramon.Raster
	srcInv, dstGT  gomiramon.GeoTransform
	transform      CoordinateTransform
	kernel         Resampling
	init           initPolicy
	bands          int
	srcNoData      []noData
	dstNoData      []noData
	written        atomic.Int64
	skipped        atomic.Int64
	transformFails atomic.Int64
}

type noData struct {
	value float64
	ok    bool
}

// ReprojectImage resamples src onto the grid of dst and writes the result
// into dst. Destination pixels without valid source data keep the value
// they had after INIT_DEST was applied.
func ReprojectImage(ctx context.Context, src, dst gomiramon.Raster, opts *Options) (err error) {
	var o Options
	if opts != nil {
		o = *opts
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Metrics == nil {
		o.Metrics = &gomiramon.NoOpMetrics{}
	}
	if o.BlockRows <= 0 {
		o.BlockRows = DefaultBlockRows
	}
	if o.Workers <= 0 {
		o.Workers = runtime.GOMAXPROCS(0)
	}

	start := time.Now()
	w, err := newWarper(src, dst, &o)
	if err != nil {
		o.Metrics.ObserveWarpDuration(o.Resampling.String(), time.Since(start), false)
		return err
	}
	defer func() {
		o.Metrics.ObserveWarpDuration(o.Resampling.String(), time.Since(start), err == nil)
		o.Metrics.AddWarpPixels(w.written.Load(), w.skipped.Load())
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.Workers)
	for y := 0; y < dst.Height(); y += o.BlockRows {
		rows := min(o.BlockRows, dst.Height()-y)
		g.Go(func() error {
			return w.block(gctx, y, rows)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if n := w.transformFails.Load(); n > 0 {
		o.Logger.Debug("points failed to transform", "count", n)
	}
	o.Logger.Info("reprojected raster",
		"kernel", o.Resampling.String(),
		"width", dst.Width(),
		"height", dst.Height(),
		"written", w.written.Load(),
		"skipped", w.skipped.Load(),
		"duration", time.Since(start),
	)
	return nil
}

func newWarper(src, dst gomiramon.Raster, o *Options) (*warper, error) {
	if src == nil || dst == nil {
		return nil, fmt.Errorf("nil raster: %w", gomiramon.ErrUnsupported)
	}
	if src.BandCount() == 0 || src.BandCount() != dst.BandCount() {
		return nil, fmt.Errorf("source has %d bands, destination %d: %w",
			src.BandCount(), dst.BandCount(), gomiramon.ErrUnsupported)
	}

	srcGT, ok := src.GeoTransform()
	if !ok {
		return nil, fmt.Errorf("source is not georeferenced: %w", gomiramon.ErrTransform)
	}
	srcInv, ok := srcGT.Invert()
	if !ok {
		return nil, fmt.Errorf("source geotransform %v is not invertible: %w", srcGT, gomiramon.ErrTransform)
	}
	dstGT, ok := dst.GeoTransform()
	if !ok {
		return nil, fmt.Errorf("destination is not georeferenced: %w", gomiramon.ErrTransform)
	}

	w := &warper{
		src:       src,
		dst:       dst,
		srcInv:    srcInv,
		dstGT:     dstGT,
		transform: o.Transform,
		kernel:    o.Resampling,
		bands:     src.BandCount(),
	}

	srcCRS, dstCRS := o.SrcCRS, o.DstCRS
	if srcCRS == "" {
		srcCRS = src.CRS()
	}
	if dstCRS == "" {
		dstCRS = dst.CRS()
	}
	if w.transform == nil && !gomiramon.SameCRS(srcCRS, dstCRS) {
		t, err := NewTransform(dstCRS, srcCRS)
		if err != nil {
			return nil, err
		}
		w.transform = t
	}

	var err error
	if w.init, err = parseInitDest(o.WarpOptions); err != nil {
		return nil, err
	}
	srcOverride, hasSrc, err := floatOption(o.WarpOptions, "SRC_NODATA")
	if err != nil {
		return nil, err
	}
	dstOverride, hasDst, err := floatOption(o.WarpOptions, "DST_NODATA")
	if err != nil {
		return nil, err
	}
	for i := 0; i < w.bands; i++ {
		s := noData{value: srcOverride, ok: hasSrc}
		if !hasSrc {
			s.value, s.ok = src.Band(i).NoData()
		}
		d := noData{value: dstOverride, ok: hasDst}
		if !hasDst {
			d.value, d.ok = dst.Band(i).NoData()
		}
		w.srcNoData = append(w.srcNoData, s)
		w.dstNoData = append(w.dstNoData, d)
	}
	return w, nil
}

// block warps destination rows y .. y+rows-1
func (w *warper) block(ctx context.Context, y, rows int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	width := w.dst.Width()
	n := width * rows

	// source pixel coordinates of every destination pixel center
	coords := make([]float64, 2*n)
	mapped := make([]bool, n)
	var extent orb.Bound
	first := true
	for r := 0; r < rows; r++ {
		for c := 0; c < width; c++ {
			i := r*width + c
			gx, gy := w.dstGT.PixelToGeo(float64(c)+0.5, float64(y+r)+0.5)
			if w.transform != nil {
				var err error
				if gx, gy, err = w.transform.Transform(gx, gy); err != nil {
					w.transformFails.Add(1)
					continue
				}
			}
			px, py := w.srcInv.PixelToGeo(gx, gy)
			if math.IsNaN(px) || math.IsNaN(py) || math.IsInf(px, 0) || math.IsInf(py, 0) {
				w.transformFails.Add(1)
				continue
			}
			coords[2*i], coords[2*i+1] = px, py
			mapped[i] = true
			p := orb.Point{px, py}
			if first {
				extent, first = p.Bound(), false
			} else {
				extent = extent.Extend(p)
			}
		}
	}

	srcGrid := orb.Bound{Max: orb.Point{float64(w.src.Width()), float64(w.src.Height())}}
	covered := !first && extent.Intersects(srcGrid)
	if !covered && !w.init.set {
		w.skipped.Add(int64(n) * int64(w.bands))
		return nil
	}

	var x0, y0, x1, y1 int
	if covered {
		x0 = max(0, int(math.Floor(extent.Min[0]))-1)
		y0 = max(0, int(math.Floor(extent.Min[1]))-1)
		x1 = min(w.src.Width(), int(math.Floor(extent.Max[0]))+2)
		y1 = min(w.src.Height(), int(math.Floor(extent.Max[1]))+2)
		covered = x1 > x0 && y1 > y0
	}

	for b := 0; b < w.bands; b++ {
		dstBand := w.dst.Band(b)
		var out *gomiramon.RasterData
		if w.init.set {
			out = gomiramon.NewRasterData(width, rows, 1)
			v := dstBand.DataType().Clamp(w.init.fill(w.dstNoData[b].value, w.dstNoData[b].ok))
			for i := range out.Data {
				out.Data[i] = v
			}
		} else {
			var err error
			if out, err = dstBand.ReadBlock(0, y, width, rows); err != nil {
				return fmt.Errorf("failed to read destination band %d: %w", b+1, err)
			}
		}

		written := 0
		if covered {
			data, err := w.src.Band(b).ReadBlock(x0, y0, x1-x0, y1-y0)
			if err != nil {
				return fmt.Errorf("failed to read source band %d: %w", b+1, err)
			}
			win := &window{
				x0:        x0,
				y0:        y0,
				width:     x1 - x0,
				height:    y1 - y0,
				data:      data.Data,
				noData:    w.srcNoData[b].value,
				hasNoData: w.srcNoData[b].ok,
			}
			dt := dstBand.DataType()
			for i := 0; i < n; i++ {
				if !mapped[i] {
					continue
				}
				v, ok := w.kernel.sample(win, coords[2*i], coords[2*i+1])
				if !ok {
					continue
				}
				out.Data[i] = dt.Clamp(v)
				written++
			}
		}

		if err := dstBand.WriteBlock(0, y, out); err != nil {
			return fmt.Errorf("failed to write destination band %d: %w", b+1, err)
		}
		w.written.Add(int64(written))
		w.skipped.Add(int64(n - written))
	}
	return nil
}
