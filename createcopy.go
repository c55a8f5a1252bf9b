package gomiramon

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CopyOptions configures CreateCopy and Create
type CopyOptions struct {
	// Compress writes RLE band files
	Compress bool
	// Pattern replaces the base name of the band files
	Pattern string
	// Title is written as the dataset title
	Title string
	// Options holds string options; COMPRESS (or COMPRESSED) and PATTERN
	// override the typed fields
	Options map[string]string

	Logger  *slog.Logger
	Metrics MetricsCollector

	// now stamps written files; tests pin it
	now func() time.Time
}

func (o *CopyOptions) resolve() (CopyOptions, error) {
	var out CopyOptions
	if o != nil {
		out = *o
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	if out.Metrics == nil {
		out.Metrics = &NoOpMetrics{}
	}
	if out.now == nil {
		out.now = time.Now
	}
	for k, v := range out.Options {
		switch strings.ToUpper(k) {
		case "COMPRESS", "COMPRESSED":
			b, err := parseBoolOption(v)
			if err != nil {
				return out, fmt.Errorf("option %s: %w", k, err)
			}
			out.Compress = b
		case "PATTERN":
			out.Pattern = v
		}
	}
	return out, nil
}

func parseBoolOption(v string) (bool, error) {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case "YES", "TRUE", "ON", "1":
		return true, nil
	case "NO", "FALSE", "OFF", "0":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean %q", v)
}

// relTarget returns the REL path for a create-copy target given as
// <base>I.rel, <base>.rel, <base>.img or a bare base
func relTarget(path string) (relPath, base string) {
	if IsRelName(path) {
		return path, relBaseName(path)
	}
	base = path
	if ext := pathExt(path); strings.EqualFold(ext, ".rel") || strings.EqualFold(ext, ".img") {
		base = strings.TrimSuffix(path, ext)
	}
	return base + relSuffix, base
}

// bandFileNames names the band files: <pattern>.img for one band,
// <pattern>_R/_G/_B.img for an RGB triplet and <pattern>_<n>.img otherwise
func bandFileNames(pattern string, src Raster) (names []string, rgb bool) {
	n := src.BandCount()
	if n == 1 {
		return []string{pattern + ".img"}, false
	}
	if isRGB(src) {
		return []string{pattern + "_R.img", pattern + "_G.img", pattern + "_B.img"}, true
	}
	names = make([]string, n)
	for i := range names {
		names[i] = pattern + "_" + strconv.Itoa(i+1) + ".img"
	}
	return names, false
}

func isRGB(src Raster) bool {
	if src.BandCount() != 3 {
		return false
	}
	for i, ci := range []ColorInterp{ColorInterpRed, ColorInterpGreen, ColorInterpBlue} {
		b := src.Band(i)
		if b.ColorInterp() != ci || b.ColorTable() != nil {
			return false
		}
	}
	return true
}

// pendingFile is written under a temporary name and renamed on commit
type pendingFile struct {
	tmp, final string
}

type fileSet struct {
	dir     string
	pending []pendingFile
}

func (s *fileSet) write(name string, fill func(f *os.File) error) error {
	final := filepath.Join(s.dir, name)
	tmp := filepath.Join(s.dir, "."+name+"."+uuid.NewString()+".tmp")
	f, err := os.OpenFile(tmp, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return &IOError{Op: "create", Path: tmp, Err: err}
	}
	s.pending = append(s.pending, pendingFile{tmp: tmp, final: final})
	err = fill(f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return &IOError{Op: "write", Path: final, Err: err}
	}
	return nil
}

func (s *fileSet) writeBytes(name string, data []byte) error {
	return s.write(name, func(f *os.File) error {
		_, err := f.Write(data)
		return err
	})
}

// commit renames every file into place, the REL last
func (s *fileSet) commit() error {
	for i, p := range s.pending {
		if err := os.Rename(p.tmp, p.final); err != nil {
			for _, q := range s.pending[i:] {
				os.Remove(q.tmp)
			}
			return &IOError{Op: "rename", Path: p.final, Err: err}
		}
	}
	s.pending = nil
	return nil
}

func (s *fileSet) abort() {
	for _, p := range s.pending {
		os.Remove(p.tmp)
	}
	s.pending = nil
}

// CreateCopy writes src as a MiraMon raster at path and returns it opened.
// Files only become visible once all of them are written.
func CreateCopy(path string, src Raster, opts *CopyOptions) (ds *Dataset, err error) {
	o, err := opts.resolve()
	if err != nil {
		return nil, err
	}
	start := time.Now()
	defer func() {
		o.Metrics.ObserveCopyDuration(time.Since(start), err == nil)
	}()

	if isURL(path) {
		return nil, fmt.Errorf("%s: %w", path, ErrReadOnly)
	}
	if src == nil || src.BandCount() == 0 {
		return nil, fmt.Errorf("source has no bands: %w", ErrUnsupported)
	}
	if src.Width() <= 0 || src.Height() <= 0 {
		return nil, fmt.Errorf("source has an empty %dx%d grid: %w", src.Width(), src.Height(), ErrUnsupported)
	}

	relPath, base := relTarget(path)
	pattern := filepath.Base(base)
	if o.Pattern != "" {
		pattern = filepath.Base(o.Pattern)
	}
	files, rgb := bandFileNames(pattern, src)
	now := o.now()

	desc := &RelationDescriptor{
		Path:   relPath,
		Title:  o.Title,
		Width:  src.Width(),
		Height: src.Height(),
		CRS:    src.CRS(),
	}
	if desc.Title == "" {
		desc.Title = filepath.Base(base)
	}
	desc.GeoTransform, desc.HasGeoTransform = src.GeoTransform()
	if desc.HasGeoTransform && !desc.GeoTransform.IsNorthUp() {
		return nil, fmt.Errorf("rotated geotransform %v cannot be written as an extent: %w", desc.GeoTransform, ErrUnsupported)
	}

	set := &fileSet{dir: filepath.Dir(relPath)}
	defer func() {
		if err != nil {
			set.abort()
		}
	}()

	type tables struct {
		palette    string
		rat        *AttributeTable
		ratFile    string
		fieldNames []string
	}
	extras := make([]tables, src.BandCount())

	for i := 0; i < src.BandCount(); i++ {
		band := src.Band(i)
		bd, err := copyBand(set, band, files[i], desc, o.Compress)
		if err != nil {
			return nil, fmt.Errorf("failed to copy band %d: %w", i+1, err)
		}
		stem := strings.TrimSuffix(files[i], ".img")

		if ct := band.ColorTable(); ct.Len() > 0 && !rgb {
			data, err := paletteDBF(ct, now)
			if err != nil {
				return nil, fmt.Errorf("failed to encode palette of band %d: %w", i+1, err)
			}
			extras[i].palette = stem + "_pal.dbf"
			if err := set.writeBytes(extras[i].palette, data); err != nil {
				return nil, err
			}
			bd.ColorInterp = ColorInterpPalette
		}
		if rat := band.AttributeTable(); rat != nil && rat.RowCount() > 0 {
			if err := checkAttributeTable(rat); err != nil {
				return nil, fmt.Errorf("band %d: %w", i+1, err)
			}
			data, names, err := attributeTableDBF(rat, now)
			if err != nil {
				return nil, fmt.Errorf("failed to encode attribute table of band %d: %w", i+1, err)
			}
			extras[i].rat, extras[i].fieldNames = rat, names
			extras[i].ratFile = stem + "_RAT.dbf"
			if err := set.writeBytes(extras[i].ratFile, data); err != nil {
				return nil, err
			}
		}
		desc.Bands = append(desc.Bands, *bd)
	}

	rel := desc.Rel(now)
	for i, b := range desc.Bands {
		if extras[i].palette != "" {
			setPaletteSections(rel, b.Name, extras[i].palette)
		}
		if extras[i].rat != nil {
			setAttributeTableSections(rel, b.Name, b.Name+"_RAT", extras[i].ratFile, extras[i].rat, extras[i].fieldNames)
		}
	}
	if rgb {
		if err := set.writeBytes(filepath.Base(base)+".mmm", rgbMap(desc, filepath.Base(relPath)).Bytes()); err != nil {
			return nil, err
		}
	}
	if err := set.writeBytes(filepath.Base(relPath), rel.Bytes()); err != nil {
		return nil, err
	}
	if err := set.commit(); err != nil {
		return nil, err
	}

	o.Logger.Info("created MiraMon raster",
		"rel", relPath,
		"bands", len(desc.Bands),
		"compress", o.Compress,
		"duration", time.Since(start),
	)
	return Open(relPath, &OpenOptions{Logger: o.Logger, Metrics: o.Metrics})
}

// copyBand writes the pixel file of one band and returns its descriptor
func copyBand(set *fileSet, band RasterBand, file string, desc *RelationDescriptor, compress bool) (*BandDescriptor, error) {
	dt := band.DataType()
	if dt == DTUnknown {
		return nil, fmt.Errorf("data type unhandled: %w", ErrUnsupported)
	}
	if band.Width() != desc.Width || band.Height() != desc.Height {
		return nil, fmt.Errorf("band is %dx%d in a %dx%d raster: %w",
			band.Width(), band.Height(), desc.Width, desc.Height, ErrUnsupported)
	}

	bd := &BandDescriptor{
		Name:            strings.TrimSuffix(file, ".img"),
		FileName:        file,
		Path:            filepath.Join(set.dir, file),
		Width:           desc.Width,
		Height:          desc.Height,
		DataType:        dt,
		Description:     band.Description(),
		Unit:            band.Unit(),
		GeoTransform:    desc.GeoTransform,
		HasGeoTransform: desc.HasGeoTransform,
		ColorInterp:     band.ColorInterp(),
	}
	if compress && dt != DTBit {
		bd.Compression = CompressionRLE
	}
	bd.NoData, bd.HasNoData = band.NoData()

	acc := newMinMax(bd.NoData, bd.HasNoData)
	rows := func(r int) ([]float64, error) {
		block, err := band.ReadBlock(0, r, desc.Width, 1)
		if err != nil {
			return nil, err
		}
		for i, v := range block.Data {
			block.Data[i] = dt.Clamp(v)
		}
		acc.add(block.Data)
		return block.Data, nil
	}
	err := set.write(file, func(f *os.File) error {
		return encodeBand(f, desc.Width, desc.Height, dt, bd.Compression, rows)
	})
	if err != nil {
		return nil, err
	}
	bd.Min, bd.Max, bd.HasMinMax = acc.min, acc.max, acc.ok
	return bd, nil
}

// rgbMap describes the RGB composition of a three band copy
func rgbMap(desc *RelationDescriptor, relFile string) *Rel {
	m := NewRel()
	m.Set(sectionVersion, "Vers", "4")
	m.Set(sectionVersion, "SubVers", "6")
	m.Set("DOCUMENT", "Titol", desc.Title)
	m.Set("DOCUMENT", "CoordMax_x", formatFloat(desc.GeoTransform.Bounds(desc.Width, desc.Height).Max[0]))
	m.Set("DOCUMENT", "CoordMin_y", formatFloat(desc.GeoTransform.Bounds(desc.Width, desc.Height).Min[1]))
	m.Set("DOCUMENT", "NCapes", "1")
	m.Set("CAPA_1", "Fitxer", relFile)
	m.Set("CAPA_1", "VisualitzacioRGB", "1")
	for i, c := range []string{"R", "G", "B"} {
		m.Set("CAPA_1", "Color"+c, desc.Bands[i].Name)
	}
	return m
}

// Create writes a new raster with the given band types, every pixel set
// to fill, and opens it for update. It is the usual warp destination.
func Create(path string, width, height int, types []DataType, gt GeoTransform, crs string, fill *float64, opts *CopyOptions) (*Dataset, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("(nWidth <= 0 || nHeight <= 0): %w", ErrUnsupported)
	}
	mem := NewMemRaster(width, height, types...)
	mem.SetGeoTransform(gt)
	mem.SetCRS(crs)
	if fill != nil {
		for i := range types {
			b := mem.MemBand(i)
			b.SetNoData(*fill)
			b.Fill(*fill)
		}
	}
	ds, err := CreateCopy(path, mem, opts)
	if err != nil {
		return nil, err
	}
	relPath := ds.desc.Path
	if err := ds.Close(); err != nil {
		return nil, err
	}
	o, _ := opts.resolve()
	return Open(relPath, &OpenOptions{Logger: o.Logger, Metrics: o.Metrics, Update: true})
}
