package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tingold/gomiramon"
	"github.com/tingold/gomiramon/warp"
)

func newInfoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info <raster>",
		Short: "Describe a raster",
		Args:  cobra.ExactArgs(1),
		RunE:  runInfo,
	}
	cmd.Flags().StringP("format", "f", "text", "output format (text, json, yaml)")
	cmd.Flags().Bool("stats", false, "compute band minimum and maximum")
	return cmd
}

func newSubdatasetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "subdatasets <rel>",
		Short: "List the subdatasets of a multi-grid raster",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			subs, err := gomiramon.ListSubdatasets(args[0], openOptions(false))
			if err != nil {
				return err
			}
			for _, s := range subs {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\n  %s\n", s.Name, s.Description)
			}
			return nil
		},
	}
}

func newTranslateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "translate <src> <dst>",
		Short: "Copy a raster to a new MiraMon raster",
		Args:  cobra.ExactArgs(2),
		RunE:  runTranslate,
	}
	cmd.Flags().Bool("compress", false, "write RLE compressed bands (default from config)")
	cmd.Flags().String("pattern", "", "base name of the band files")
	cmd.Flags().StringToString("co", nil, "creation options, e.g. COMPRESS=YES")
	return cmd
}

func newWarpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "warp <src> <dst>",
		Short: "Reproject a raster onto a new MiraMon raster",
		Args:  cobra.ExactArgs(2),
		RunE:  runWarp,
	}
	cmd.Flags().Float64Slice("te", nil, "target extent: xmin,ymin,xmax,ymax")
	cmd.Flags().IntSlice("ts", nil, "target size: width,height")
	cmd.Flags().String("t-srs", "", "target CRS, e.g. EPSG:3857")
	cmd.Flags().StringP("resampling", "r", "", "resampling (near, bilinear)")
	cmd.Flags().String("init-dest", "NO_DATA", "destination init (NO_DATA, NONE or a value)")
	cmd.Flags().String("dst-nodata", "", "destination nodata value")
	cmd.Flags().StringToString("wo", nil, "warp options, e.g. SRC_NODATA=0")
	cmd.Flags().Bool("compress", false, "write RLE compressed bands (default from config)")
	return cmd
}

type bandInfo struct {
	Name        string   `json:"name" yaml:"name"`
	File        string   `json:"file" yaml:"file"`
	DataType    string   `json:"data_type" yaml:"data_type"`
	Compression string   `json:"compression" yaml:"compression"`
	NoData      *float64 `json:"nodata,omitempty" yaml:"nodata,omitempty"`
	Min         *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max         *float64 `json:"max,omitempty" yaml:"max,omitempty"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Unit        string   `json:"unit,omitempty" yaml:"unit,omitempty"`
	ColorInterp string   `json:"color_interp" yaml:"color_interp"`
	ColorTable  int      `json:"color_table_entries,omitempty" yaml:"color_table_entries,omitempty"`
	RATRows     int      `json:"rat_rows,omitempty" yaml:"rat_rows,omitempty"`
}

type subdatasetInfo struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
}

type rasterInfo struct {
	Path         string            `json:"path" yaml:"path"`
	Width        int               `json:"width" yaml:"width"`
	Height       int               `json:"height" yaml:"height"`
	CRS          string            `json:"crs,omitempty" yaml:"crs,omitempty"`
	GeoTransform []float64         `json:"geotransform,omitempty" yaml:"geotransform,omitempty"`
	Bounds       []float64         `json:"bounds,omitempty" yaml:"bounds,omitempty"`
	Center       []float64         `json:"center,omitempty" yaml:"center,omitempty"`
	Footprint    *geojson.Geometry `json:"footprint,omitempty" yaml:"-"`
	Bands        []bandInfo        `json:"bands" yaml:"bands"`
	Subdatasets  []subdatasetInfo  `json:"subdatasets,omitempty" yaml:"subdatasets,omitempty"`
	Files        []string          `json:"files" yaml:"files"`
}

func describe(ds *gomiramon.Dataset, stats bool) (*rasterInfo, error) {
	info := &rasterInfo{
		Path:   ds.Descriptor().Path,
		Width:  ds.Width(),
		Height: ds.Height(),
		CRS:    ds.CRS(),
		Files:  ds.FileList(),
	}
	if gt, ok := ds.GeoTransform(); ok {
		info.GeoTransform = gt[:]
		b := ds.Bounds()
		info.Bounds = []float64{b.Min[0], b.Min[1], b.Max[0], b.Max[1]}
		c := gt.PointFromPixel(float64(ds.Width())/2, float64(ds.Height())/2)
		info.Center = []float64{c[0], c[1]}
		info.Footprint = geojson.NewGeometry(gomiramon.PolygonFromBounds(b))
	}
	for _, s := range ds.Subdatasets() {
		info.Subdatasets = append(info.Subdatasets, subdatasetInfo{Name: s.Name, Description: s.Description})
	}
	for _, b := range ds.Bands() {
		bi := bandInfo{
			Name:        b.Name(),
			File:        b.Path(),
			DataType:    b.DataType().String(),
			Compression: b.Compression().String(),
			Description: b.Description(),
			Unit:        b.Unit(),
			ColorInterp: b.ColorInterp().String(),
			ColorTable:  b.ColorTable().Len(),
		}
		if v, ok := b.NoData(); ok {
			bi.NoData = &v
		}
		if rat := b.AttributeTable(); rat != nil {
			bi.RATRows = rat.RowCount()
		}
		lo, hi, ok := b.MinMax()
		if stats {
			var err error
			if lo, hi, ok, err = b.ComputeMinMax(); err != nil {
				return nil, fmt.Errorf("band %s: %w", b.Name(), err)
			}
		}
		if ok {
			bi.Min, bi.Max = &lo, &hi
		}
		info.Bands = append(info.Bands, bi)
	}
	return info, nil
}

func runInfo(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	stats, _ := cmd.Flags().GetBool("stats")

	ds, err := gomiramon.Open(args[0], openOptions(false))
	if err != nil {
		return err
	}
	defer ds.Close()

	info, err := describe(ds, stats)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(info); err != nil {
			return err
		}
		return enc.Close()
	case "text":
		printInfo(out, info)
		return nil
	}
	return fmt.Errorf("unknown format: %s", format)
}

func printInfo(w io.Writer, info *rasterInfo) {
	fmt.Fprintf(w, "Raster: %s\n", info.Path)
	fmt.Fprintf(w, "Size: %d x %d\n", info.Width, info.Height)
	if info.CRS != "" {
		fmt.Fprintf(w, "CRS: %s\n", info.CRS)
	}
	if info.Bounds != nil {
		fmt.Fprintf(w, "Bounds: %g, %g, %g, %g\n", info.Bounds[0], info.Bounds[1], info.Bounds[2], info.Bounds[3])
		fmt.Fprintf(w, "Center: %g, %g\n", info.Center[0], info.Center[1])
	}
	for i, s := range info.Subdatasets {
		fmt.Fprintf(w, "Subdataset %d: %s\n  %s\n", i+1, s.Name, s.Description)
	}
	for i, b := range info.Bands {
		fmt.Fprintf(w, "Band %d %s: %s %s, %s\n", i+1, b.Name, b.DataType, b.Compression, b.ColorInterp)
		if b.NoData != nil {
			fmt.Fprintf(w, "  NoData: %g\n", *b.NoData)
		}
		if b.Min != nil {
			fmt.Fprintf(w, "  Min/Max: %g / %g\n", *b.Min, *b.Max)
		}
		if b.ColorTable > 0 {
			fmt.Fprintf(w, "  Color table: %d entries\n", b.ColorTable)
		}
		if b.RATRows > 0 {
			fmt.Fprintf(w, "  Attribute table: %d rows\n", b.RATRows)
		}
	}
}

func copyOptions(cmd *cobra.Command) *gomiramon.CopyOptions {
	opts := &gomiramon.CopyOptions{
		Compress: cfg.Copy.Compress,
		Pattern:  cfg.Copy.Pattern,
		Logger:   logger,
		Metrics:  metricsCollector(),
	}
	if cmd.Flags().Changed("compress") {
		opts.Compress, _ = cmd.Flags().GetBool("compress")
	}
	if p, _ := cmd.Flags().GetString("pattern"); p != "" {
		opts.Pattern = p
	}
	if co, _ := cmd.Flags().GetStringToString("co"); len(co) > 0 {
		opts.Options = co
	}
	return opts
}

func runTranslate(cmd *cobra.Command, args []string) error {
	src, err := gomiramon.Open(args[0], openOptions(false))
	if err != nil {
		return err
	}
	defer src.Close()

	out, err := gomiramon.CreateCopy(args[1], src, copyOptions(cmd))
	if err != nil {
		return err
	}
	defer out.Close()
	fmt.Fprintln(cmd.OutOrStdout(), out.Descriptor().Path)
	return nil
}

func runWarp(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	src, err := gomiramon.Open(args[0], openOptions(false))
	if err != nil {
		return err
	}
	defer src.Close()

	kernelName, _ := cmd.Flags().GetString("resampling")
	if kernelName == "" {
		kernelName = cfg.Warp.Resampling
	}
	kernel, err := warp.ParseResampling(kernelName)
	if err != nil {
		return err
	}

	dstCRS, _ := cmd.Flags().GetString("t-srs")
	if dstCRS == "" {
		dstCRS = src.CRS()
	}
	extent, err := targetExtent(cmd, src, dstCRS)
	if err != nil {
		return err
	}
	width, height, err := targetSize(cmd, src)
	if err != nil {
		return err
	}

	var fill *float64
	if s, _ := cmd.Flags().GetString("dst-nodata"); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("invalid --dst-nodata: %w", err)
		}
		fill = &v
	} else if v, ok := src.Band(0).NoData(); ok {
		fill = &v
	}

	types := make([]gomiramon.DataType, src.BandCount())
	for i := range types {
		types[i] = src.Band(i).DataType()
	}
	gt := gomiramon.GeoTransformFromBounds(extent, width, height)
	dst, err := gomiramon.Create(args[1], width, height, types, gt, dstCRS, fill, copyOptions(cmd))
	if err != nil {
		return err
	}

	wo, _ := cmd.Flags().GetStringToString("wo")
	warpOptions := map[string]string{}
	for k, v := range wo {
		warpOptions[k] = v
	}
	if initDest, _ := cmd.Flags().GetString("init-dest"); initDest != "" {
		warpOptions["INIT_DEST"] = initDest
	}

	err = warp.ReprojectImage(ctx, src, dst, &warp.Options{
		Resampling:  kernel,
		DstCRS:      dstCRS,
		WarpOptions: warpOptions,
		Workers:     cfg.Warp.Workers,
		BlockRows:   cfg.Warp.BlockRows,
		Logger:      logger,
		Metrics:     metricsCollector(),
	})
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), dst.Descriptor().Path)
	return nil
}

// targetExtent returns --te or the source extent when it shares the target CRS
func targetExtent(cmd *cobra.Command, src *gomiramon.Dataset, dstCRS string) (orb.Bound, error) {
	te, _ := cmd.Flags().GetFloat64Slice("te")
	switch {
	case len(te) == 4:
		return orb.Bound{Min: orb.Point{te[0], te[1]}, Max: orb.Point{te[2], te[3]}}, nil
	case len(te) != 0:
		return orb.Bound{}, fmt.Errorf("--te needs 4 values, got %d", len(te))
	case !gomiramon.SameCRS(src.CRS(), dstCRS):
		return orb.Bound{}, fmt.Errorf("--te is required when reprojecting to %s", dstCRS)
	}
	return src.Bounds(), nil
}

func targetSize(cmd *cobra.Command, src *gomiramon.Dataset) (int, int, error) {
	ts, _ := cmd.Flags().GetIntSlice("ts")
	switch len(ts) {
	case 0:
		return src.Width(), src.Height(), nil
	case 2:
		if ts[0] <= 0 || ts[1] <= 0 {
			return 0, 0, fmt.Errorf("--ts must be positive, got %d,%d", ts[0], ts[1])
		}
		return ts[0], ts[1], nil
	}
	return 0, 0, fmt.Errorf("--ts needs 2 values, got %d", len(ts))
}
