package gomiramon

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
)

// REL section names
const (
	sectionVersion        = "VERSIO"
	sectionIdentification = "IDENTIFICATION"
	sectionOverview       = "OVERVIEW"
	sectionTechnical      = "OVERVIEW:ASPECTES_TECNICS"
	sectionExtent         = "EXTENT"
	sectionHorizontalSRS  = "SPATIAL_REFERENCE_SYSTEM:HORIZONTAL"
	sectionAttributeData  = "ATTRIBUTE_DATA"
	sectionColorText      = "COLOR_TEXT"
)

const (
	// minRelVersion is the oldest REL layout the driver reads
	minRelVersion = 4

	// SubdatasetPrefix starts every subdataset identifier
	SubdatasetPrefix = "MiraMonRaster:"

	// relSuffix ends the file name of every MiraMon raster REL
	relSuffix = "I.rel"
)

// RelationDescriptor is the parsed content of a raster REL file
type RelationDescriptor struct {
	Path            string
	Version         string
	Title           string
	Width           int
	Height          int
	GeoTransform    GeoTransform
	HasGeoTransform bool
	CRS             string
	Bands           []BandDescriptor
	Subdatasets     []SubdatasetInfo
}

// BandDescriptor describes one band of a REL file and its pixel file
type BandDescriptor struct {
	// Name is the band section name (NomCamp_i)
	Name string
	// FileName is NomFitxer as documented, relative to the REL
	FileName string
	// Path is the resolved band file location
	Path string

	Width       int
	Height      int
	DataType    DataType
	Compression Compression

	NoData    float64
	HasNoData bool

	Description string
	Unit        string

	Min       float64
	Max       float64
	HasMinMax bool

	VisuMin       float64
	VisuMax       float64
	HasVisuMinMax bool

	Extent          orb.Bound
	GeoTransform    GeoTransform
	HasGeoTransform bool

	ColorTable     *ColorTable
	AttributeTable *AttributeTable
	ColorInterp    ColorInterp
	Categorical    bool

	// Subdataset is the zero-based group the band belongs to
	Subdataset int
}

// SubdatasetInfo names one independently openable group of bands
type SubdatasetInfo struct {
	Name        string
	Description string
}

// IsRelName reports whether name is a raster REL file name
func IsRelName(name string) bool {
	return len(name) >= len(relSuffix) && strings.EqualFold(name[len(name)-len(relSuffix):], relSuffix)
}

// relBaseName strips the I.rel suffix from a REL path
func relBaseName(relPath string) string {
	if IsRelName(relPath) {
		return relPath[:len(relPath)-len(relSuffix)]
	}
	return relPath
}

// ParseRelation parses a REL document and resolves the files it refers to.
// Band files must exist. Palettes and attribute tables are loaded eagerly.
func ParseRelation(data []byte, relPath string, fsys fileSystem) (*RelationDescriptor, error) {
	rel, err := ParseRel(bytes.NewReader(data))
	if err != nil {
		return nil, schemaErrorf(relPath, "%v", err)
	}
	return parseRelation(rel, relPath, fsys)
}

func parseRelation(rel *Rel, relPath string, fsys fileSystem) (*RelationDescriptor, error) {
	vers, _ := rel.Value(sectionVersion, "Vers")
	if v, err := strconv.Atoi(strings.TrimSpace(vers)); err != nil || v < minRelVersion {
		return nil, &VersionError{Path: relPath, Found: vers, Minimum: minRelVersion}
	}

	desc := &RelationDescriptor{Path: relPath, Version: vers}
	if sub, ok := rel.Value(sectionVersion, "SubVers"); ok {
		desc.Version = vers + "." + sub
	}
	desc.Title, _ = rel.Value(sectionIdentification, "DatasetTitle")
	desc.CRS, _ = rel.Value(sectionHorizontalSRS, "HorizontalSystemIdentifier")

	indexes, ok := rel.Value(sectionAttributeData, "IndexsNomsCamps")
	if !ok {
		return nil, schemaErrorf(relPath, "IndexsNomsCamps section-key should exist")
	}

	for _, idx := range splitList(indexes) {
		name, ok := rel.Value(sectionAttributeData, "NomCamp_"+idx)
		if !ok || name == "" {
			continue
		}
		band, err := parseBand(rel, relPath, name, fsys)
		if err != nil {
			return nil, err
		}
		desc.Bands = append(desc.Bands, *band)
	}
	if len(desc.Bands) == 0 {
		return nil, schemaErrorf(relPath, "%s has zero usable bands", fsys.Base(relPath))
	}

	desc.assignSubdatasets(fsys)
	desc.adoptGeometry()
	return desc, nil
}

func parseBand(rel *Rel, relPath, name string, fsys fileSystem) (*BandDescriptor, error) {
	section := sectionAttributeData + ":" + name
	b := &BandDescriptor{Name: name}

	width, err := dimension(rel, name, "columns")
	if err != nil {
		return nil, schemaErrorf(relPath, "No number of columns documented for band %s", name)
	}
	height, err := dimension(rel, name, "rows")
	if err != nil {
		return nil, schemaErrorf(relPath, "No number of rows documented for band %s", name)
	}
	if width <= 0 || height <= 0 {
		return nil, schemaErrorf(relPath, "(nWidth <= 0 || nHeight <= 0) for band %s", name)
	}
	b.Width, b.Height = width, height

	tc, ok := rel.Lookup(sectionAttributeData, name, "TipusCompressio")
	if !ok || tc == "" {
		return nil, schemaErrorf(relPath, "no nDataType documented for band %s", name)
	}
	b.DataType, b.Compression, err = ParseTipusCompressio(tc)
	if err != nil {
		return nil, schemaErrorf(relPath, "data type unhandled for band %s: %s", name, tc)
	}

	b.FileName, _ = rel.Value(section, "NomFitxer")
	if b.FileName == "" {
		b.FileName = fsys.Base(relBaseName(relPath)) + ".img"
	}
	b.Path = fsys.Join(fsys.Dir(relPath), b.FileName)
	if !fsys.Exists(b.Path) {
		// an unreadable band file is both a schema and an i/o failure
		return nil, &IOError{
			Op:   "open",
			Path: b.Path,
			Err:  schemaErrorf("", "Failed to open MiraMon band file %s with access 'rb'", b.Path),
		}
	}

	if v, ok := rel.Lookup(sectionAttributeData, name, "NODATA"); ok && v != "" {
		nd, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, schemaErrorf(relPath, "invalid NODATA %q for band %s", v, name)
		}
		b.NoData, b.HasNoData = nd, true
	}

	b.Description, _ = rel.Lookup(sectionAttributeData, name, "descriptor")
	b.Unit, _ = rel.Lookup(sectionAttributeData, name, "unitats")

	minV, okMin := parseFloatValue(rel, section, "min")
	maxV, okMax := parseFloatValue(rel, section, "max")
	if okMin && okMax && minV <= maxV {
		b.Min, b.Max, b.HasMinMax = minV, maxV, true
	}
	colorSection := sectionColorText + ":" + name
	visuMin, okVMin := parseFloatValue(rel, colorSection, "Color_ValorColor_0")
	visuMax, okVMax := parseFloatValue(rel, colorSection, "Color_ValorColor_n_1")
	if !okVMin && b.HasMinMax {
		visuMin, okVMin = b.Min, true
	}
	if !okVMax && b.HasMinMax {
		visuMax, okVMax = b.Max, true
	}
	b.VisuMin, b.VisuMax, b.HasVisuMinMax = visuMin, visuMax, okVMin && okVMax

	b.Extent, b.HasGeoTransform = bandExtent(rel, name, width, height)
	b.GeoTransform = GeoTransformFromBounds(b.Extent, width, height)

	if err := loadBandColors(rel, relPath, b, fsys); err != nil {
		return nil, err
	}
	rat, err := loadAttributeTable(rel, relPath, name, fsys)
	if err != nil {
		return nil, err
	}
	b.AttributeTable = rat
	if b.ColorTable == nil && rat != nil {
		ct, err := DeriveColorTable(rat)
		if err != nil {
			return nil, schemaErrorf(relPath, "attribute table of band %s: %v", name, err)
		}
		b.ColorTable = ct
	}
	if b.ColorTable != nil {
		b.ColorInterp = ColorInterpPalette
	}
	return b, nil
}

// dimension reads columns or rows of a band, falling back to the overview
func dimension(rel *Rel, band, key string) (int, error) {
	v, ok := rel.Lookup(sectionAttributeData, band, key)
	if !ok || v == "" {
		v, ok = rel.Value(sectionTechnical, key)
	}
	if !ok || v == "" {
		return 0, fmt.Errorf("%s not documented", key)
	}
	return strconv.Atoi(strings.TrimSpace(v))
}

// bandExtent reads the band extent from [ATTRIBUTE_DATA:band:EXTENT] and
// then [EXTENT]. Undocumented extents default to pixel space.
func bandExtent(rel *Rel, band string, width, height int) (orb.Bound, bool) {
	section := sectionAttributeData + ":" + band + ":" + sectionExtent
	get := func(key string, def float64) (float64, bool) {
		if v, ok := parseFloatValue(rel, section, key); ok {
			return v, true
		}
		if v, ok := parseFloatValue(rel, sectionExtent, key); ok {
			return v, true
		}
		return def, false
	}
	minX, okMinX := get("MinX", 0)
	maxX, okMaxX := get("MaxX", float64(width))
	minY, okMinY := get("MinY", 0)
	maxY, okMaxY := get("MaxY", float64(height))
	return orb.Bound{Min: orb.Point{minX, minY}, Max: orb.Point{maxX, maxY}},
		okMinX || okMaxX || okMinY || okMaxY
}

func parseFloatValue(rel *Rel, section, key string) (float64, bool) {
	v, ok := rel.Value(section, key)
	if !ok || v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func splitList(s string) []string {
	var out []string
	for _, tok := range strings.Split(s, ",") {
		if tok = strings.TrimSpace(tok); tok != "" {
			out = append(out, tok)
		}
	}
	return out
}

// sameGroup reports whether b can share a subdataset with prev
func sameGroup(prev, b *BandDescriptor) bool {
	if prev.Width != b.Width || prev.Height != b.Height {
		return false
	}
	if prev.GeoTransform[1] != b.GeoTransform[1] || prev.GeoTransform[5] != b.GeoTransform[5] {
		return false
	}
	if prev.Extent != b.Extent {
		return false
	}
	if prev.HasNoData != b.HasNoData {
		return false
	}
	return !prev.HasNoData || prev.NoData == b.NoData || (math.IsNaN(prev.NoData) && math.IsNaN(b.NoData))
}

// assignSubdatasets groups consecutive compatible bands. A single group
// yields no subdatasets.
func (d *RelationDescriptor) assignSubdatasets(fsys fileSystem) {
	group := 0
	for i := 1; i < len(d.Bands); i++ {
		if !sameGroup(&d.Bands[i-1], &d.Bands[i]) {
			group++
		}
		d.Bands[i].Subdataset = group
	}
	d.Subdatasets = nil
	if group == 0 {
		return
	}

	for g := 0; g <= group; g++ {
		var files, names []string
		for _, b := range d.Bands {
			if b.Subdataset != g {
				continue
			}
			files = append(files, strconv.Quote(b.FileName))
			names = append(names, strconv.Quote(fsys.Base(b.FileName)))
		}
		d.Subdatasets = append(d.Subdatasets, SubdatasetInfo{
			Name:        fmt.Sprintf("%s%q,%s", SubdatasetPrefix, d.Path, strings.Join(files, ",")),
			Description: fmt.Sprintf("Subdataset %d: %s", g+1, strings.Join(names, ",")),
		})
	}
}

// adoptGeometry takes the dataset size and georeferencing from the first band
func (d *RelationDescriptor) adoptGeometry() {
	first := d.Bands[0]
	d.Width, d.Height = first.Width, first.Height
	d.GeoTransform, d.HasGeoTransform = first.GeoTransform, first.HasGeoTransform
	if !d.HasGeoTransform {
		d.GeoTransform = IdentityGeoTransform
	}
	assignRGBInterp(d.Bands)
}

// assignRGBInterp marks a palette-less _R/_G/_B band triplet as an RGB composite
func assignRGBInterp(bands []BandDescriptor) {
	if len(bands) != 3 {
		return
	}
	want := []struct {
		suffix string
		ci     ColorInterp
	}{{"_R", ColorInterpRed}, {"_G", ColorInterpGreen}, {"_B", ColorInterpBlue}}
	for i, w := range want {
		base := strings.TrimSuffix(bands[i].FileName, ".img")
		if bands[i].ColorTable != nil || !strings.HasSuffix(strings.ToUpper(base), w.suffix) {
			return
		}
	}
	for i, w := range want {
		bands[i].ColorInterp = w.ci
	}
}

// Restrict returns a view holding only the bands stored in files. Band
// files match NomFitxer case-insensitively.
func (d *RelationDescriptor) Restrict(files []string) (*RelationDescriptor, error) {
	out := *d
	out.Bands = nil
	out.Subdatasets = nil
	for _, f := range files {
		found := false
		for _, b := range d.Bands {
			if strings.EqualFold(b.FileName, f) {
				out.Bands = append(out.Bands, b)
				found = true
				break
			}
		}
		if !found {
			return nil, schemaErrorf(d.Path, "band file %s is not documented", f)
		}
	}
	if len(out.Bands) == 0 {
		return nil, schemaErrorf(d.Path, "subdataset has zero usable bands")
	}
	for i := range out.Bands {
		out.Bands[i].Subdataset = 0
	}
	out.adoptGeometry()
	return &out, nil
}

// ParseSubdatasetName splits a subdataset identifier into the REL path and
// the band file names
func ParseSubdatasetName(name string) (relPath string, files []string, err error) {
	if !strings.HasPrefix(strings.ToUpper(name), strings.ToUpper(SubdatasetPrefix)) {
		return "", nil, &FormatError{Path: name}
	}
	var tokens []string
	for _, tok := range strings.Split(name[len(SubdatasetPrefix):], ",") {
		tok = strings.Trim(strings.TrimSpace(tok), `"`)
		if tok != "" {
			tokens = append(tokens, tok)
		}
	}
	if len(tokens) < 2 || !IsRelName(tokens[0]) {
		return "", nil, &FormatError{Path: name}
	}
	for _, f := range tokens[1:] {
		if !strings.EqualFold(pathExt(f), ".img") {
			return "", nil, &FormatError{Path: name}
		}
	}
	return tokens[0], tokens[1:], nil
}

func pathExt(name string) string {
	i := strings.LastIndexByte(name, '.')
	if i < 0 || strings.ContainsAny(name[i:], `/\`) {
		return ""
	}
	return name[i:]
}

// Rel serializes the descriptor. Band file names, palettes and attribute
// tables must already be set on the bands; the caller writes those files.
func (d *RelationDescriptor) Rel(now time.Time) *Rel {
	rel := NewRel()
	rel.Set(sectionVersion, "Vers", "4")
	rel.Set(sectionVersion, "SubVers", "3")
	rel.Set(sectionVersion, "VersMetaDades", "5")
	rel.Set(sectionVersion, "SubVersMetaDades", "0")
	rel.Set(sectionVersion, "Norma", "ISO 19115")

	if d.Title != "" {
		rel.Set(sectionIdentification, "DatasetTitle", d.Title)
	}
	rel.Set(sectionOverview, "CreationDate", now.UTC().Format("20060102 15040500"))
	rel.Set(sectionTechnical, "columns", strconv.Itoa(d.Width))
	rel.Set(sectionTechnical, "rows", strconv.Itoa(d.Height))

	if d.HasGeoTransform {
		ext := d.GeoTransform.Bounds(d.Width, d.Height)
		setExtent(rel, sectionExtent, ext)
	}
	if d.CRS != "" {
		rel.Set(sectionHorizontalSRS, "HorizontalSystemIdentifier", d.CRS)
	}

	rel.Set(sectionAttributeData, "IndexsNomsCamps", formatIndexList(len(d.Bands)))
	for i, b := range d.Bands {
		rel.Set(sectionAttributeData, "NomCamp_"+strconv.Itoa(i+1), b.Name)
	}

	for _, b := range d.Bands {
		section := sectionAttributeData + ":" + b.Name
		rel.Set(section, "NomFitxer", b.FileName)
		rel.Set(section, "TipusCompressio", TipusCompressio(b.DataType, b.Compression))
		if b.HasNoData {
			rel.Set(section, "NODATA", formatFloat(b.NoData))
			rel.Set(section, "NODATADef", "NODATA")
		}
		if b.Description != "" {
			rel.Set(section, "descriptor", b.Description)
		}
		if b.Unit != "" {
			rel.Set(section, "unitats", b.Unit)
		}
		if b.HasMinMax {
			rel.Set(section, "min", formatFloat(b.Min))
			rel.Set(section, "max", formatFloat(b.Max))
		}
		if b.Width != d.Width || b.Height != d.Height {
			rel.Set(section, "columns", strconv.Itoa(b.Width))
			rel.Set(section, "rows", strconv.Itoa(b.Height))
		}
		if b.HasGeoTransform && (!d.HasGeoTransform || b.GeoTransform != d.GeoTransform) {
			setExtent(rel, section+":"+sectionExtent, b.GeoTransform.Bounds(b.Width, b.Height))
		}
	}
	return rel
}

func setExtent(rel *Rel, section string, b orb.Bound) {
	rel.Set(section, "MinX", formatFloat(b.Min[0]))
	rel.Set(section, "MaxX", formatFloat(b.Max[0]))
	rel.Set(section, "MinY", formatFloat(b.Min[1]))
	rel.Set(section, "MaxY", formatFloat(b.Max[1]))
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
