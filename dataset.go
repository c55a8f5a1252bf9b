package gomiramon

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/karlseguin/ccache/v3"
	"github.com/paulmach/orb"
	"github.com/valyala/fasthttp"
	"golang.org/x/sync/singleflight"
)

// DefaultCacheRows is the decoded row cache size of a dataset
const DefaultCacheRows = 4096

// OpenOptions configures Open
type OpenOptions struct {
	// Client serves http(s) paths; nil uses a client with 30s timeouts
	Client *fasthttp.Client
	// ReadAhead is the HTTP range read-ahead window in bytes
	ReadAhead int
	Logger    *slog.Logger
	Metrics   MetricsCollector
	// CacheRows bounds the number of decoded rows kept in memory
	CacheRows int64
	// Update opens local band files for writing
	Update bool
}

func (o *OpenOptions) withDefaults() OpenOptions {
	var out OpenOptions
	if o != nil {
		out = *o
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	if out.Metrics == nil {
		out.Metrics = &NoOpMetrics{}
	}
	if out.CacheRows <= 0 {
		out.CacheRows = DefaultCacheRows
	}
	return out
}

// Dataset is an open MiraMon raster. A REL holding several subdatasets
// opens with no bands; its Subdatasets name the openable groups.
type Dataset struct {
	desc    *RelationDescriptor
	fs      fileSystem
	bands   []*Band
	logger  *slog.Logger
	metrics MetricsCollector
	update  bool

	cache    *ccache.Cache[[]float64]
	inflight singleflight.Group

	closed bool
	mu     sync.Mutex
}

var _ Raster = (*Dataset)(nil)

// IdentifyResult is the outcome of a cheap format sniff
type IdentifyResult int

const (
	IdentifyFalse IdentifyResult = iota
	IdentifyTrue
	// IdentifyUnknown means the name is shared with other formats
	IdentifyUnknown
)

func (r IdentifyResult) String() string {
	switch r {
	case IdentifyTrue:
		return "true"
	case IdentifyUnknown:
		return "unknown"
	default:
		return "false"
	}
}

// Identify reports whether path names a MiraMon raster, using the name
// only
func Identify(path string) IdentifyResult {
	if strings.HasPrefix(strings.ToUpper(path), strings.ToUpper(SubdatasetPrefix)) {
		if _, _, err := ParseSubdatasetName(path); err != nil {
			return IdentifyFalse
		}
		return IdentifyTrue
	}
	if IsRelName(path) {
		return IdentifyTrue
	}
	if strings.EqualFold(pathExt(path), ".img") {
		return IdentifyUnknown
	}
	return IdentifyFalse
}

// Open opens a MiraMon raster from a REL path, a band .img path or a
// subdataset identifier. Paths may be http(s) URLs.
func Open(path string, opts *OpenOptions) (*Dataset, error) {
	o := opts.withDefaults()

	relPath, files := path, []string(nil)
	if strings.HasPrefix(strings.ToUpper(path), strings.ToUpper(SubdatasetPrefix)) {
		var err error
		if relPath, files, err = ParseSubdatasetName(path); err != nil {
			return nil, err
		}
	}

	fsys := newFileSystem(relPath, o.Client, o.ReadAhead)
	if o.Update && isURL(relPath) {
		return nil, fmt.Errorf("%s: %w", relPath, ErrReadOnly)
	}

	var imgName string
	switch {
	case IsRelName(relPath):
	case strings.EqualFold(pathExt(relPath), ".img"):
		imgName = fsys.Base(relPath)
		resolved, err := findRelForBand(fsys, relPath)
		if err != nil {
			return nil, err
		}
		relPath = resolved
	default:
		return nil, &FormatError{Path: path}
	}

	data, err := fsys.ReadFile(relPath)
	if err != nil {
		return nil, &IOError{Op: "read", Path: relPath, Err: err}
	}
	desc, err := ParseRelation(data, relPath, fsys)
	if err != nil {
		return nil, err
	}

	switch {
	case files != nil:
		if desc, err = desc.Restrict(files); err != nil {
			return nil, err
		}
	case imgName != "" && len(desc.Subdatasets) > 0:
		if desc, err = desc.Restrict(groupFiles(desc, imgName)); err != nil {
			return nil, err
		}
	}

	ds := &Dataset{
		desc:    desc,
		fs:      fsys,
		logger:  o.Logger.With("rel", relPath),
		metrics: o.Metrics,
		update:  o.Update,
		cache:   ccache.New(ccache.Configure[[]float64]().MaxSize(o.CacheRows)),
	}
	if len(desc.Subdatasets) == 0 {
		for i := range desc.Bands {
			ds.bands = append(ds.bands, &Band{ds: ds, desc: desc.Bands[i], index: i})
		}
	}
	ds.logger.Debug("opened MiraMon raster",
		"version", desc.Version,
		"bands", len(ds.bands),
		"subdatasets", len(desc.Subdatasets),
		"width", desc.Width,
		"height", desc.Height,
	)
	return ds, nil
}

// findRelForBand locates the REL documenting a band file: <base>I.rel
// first, then any raster REL in the same directory naming it in NomFitxer
func findRelForBand(fsys fileSystem, imgPath string) (string, error) {
	dir := fsys.Dir(imgPath)
	base := fsys.Base(imgPath)
	candidate := fsys.Join(dir, strings.TrimSuffix(base, pathExt(base))+relSuffix)
	if fsys.Exists(candidate) {
		return candidate, nil
	}

	names, err := fsys.ReadDir(dir)
	if err != nil {
		if errors.Is(err, ErrUnsupported) {
			return "", &FormatError{Path: imgPath}
		}
		return "", &IOError{Op: "list", Path: dir, Err: err}
	}
	for _, name := range names {
		if !IsRelName(name) {
			continue
		}
		relPath := fsys.Join(dir, name)
		data, err := fsys.ReadFile(relPath)
		if err != nil {
			continue
		}
		rel, err := ParseRel(bytes.NewReader(data))
		if err != nil {
			continue
		}
		if relNamesFile(rel, base) {
			return relPath, nil
		}
	}
	return "", &FormatError{Path: imgPath}
}

func relNamesFile(rel *Rel, file string) bool {
	indexes, _ := rel.Value(sectionAttributeData, "IndexsNomsCamps")
	for _, idx := range splitList(indexes) {
		name, _ := rel.Value(sectionAttributeData, "NomCamp_"+idx)
		if f, ok := rel.Value(sectionAttributeData+":"+name, "NomFitxer"); ok && strings.EqualFold(f, file) {
			return true
		}
	}
	return false
}

// groupFiles lists the band files of the subdataset holding file
func groupFiles(desc *RelationDescriptor, file string) []string {
	group := -1
	for _, b := range desc.Bands {
		if strings.EqualFold(b.FileName, file) {
			group = b.Subdataset
			break
		}
	}
	var files []string
	for _, b := range desc.Bands {
		if b.Subdataset == group {
			files = append(files, b.FileName)
		}
	}
	return files
}

// ListSubdatasets returns the subdatasets of the REL at path, in band order
func ListSubdatasets(path string, opts *OpenOptions) ([]SubdatasetInfo, error) {
	ds, err := Open(path, opts)
	if err != nil {
		return nil, err
	}
	defer ds.Close()
	return ds.Subdatasets(), nil
}

func (d *Dataset) Width() int { return d.desc.Width }
func (d *Dataset) Height() int { return d.desc.Height }
func (d *Dataset) BandCount() int { return len(d.bands) }
func (d *Dataset) CRS() string { return d.desc.CRS }

// Band returns the zero-based band i, or nil
func (d *Dataset) Band(i int) RasterBand {
	if i < 0 || i >= len(d.bands) {
		return nil
	}
	return d.bands[i]
}

// Bands returns the bands of the dataset
func (d *Dataset) Bands() []*Band {
	return append([]*Band(nil), d.bands...)
}

func (d *Dataset) GeoTransform() (GeoTransform, bool) {
	return d.desc.GeoTransform, d.desc.HasGeoTransform
}

// Bounds returns the georeferenced extent
func (d *Dataset) Bounds() orb.Bound {
	return d.desc.GeoTransform.Bounds(d.desc.Width, d.desc.Height)
}

// Subdatasets returns the band groups of a multi-grid REL
func (d *Dataset) Subdatasets() []SubdatasetInfo {
	return append([]SubdatasetInfo(nil), d.desc.Subdatasets...)
}

// Descriptor returns the parsed REL metadata
func (d *Dataset) Descriptor() *RelationDescriptor {
	return d.desc
}

// FileList returns the REL path followed by the band files
func (d *Dataset) FileList() []string {
	files := []string{d.desc.Path}
	for _, b := range d.desc.Bands {
		files = append(files, b.Path)
	}
	return files
}

func (d *Dataset) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Flush writes pending RLE rows
func (d *Dataset) Flush() error {
	var errs []error
	for _, b := range d.bands {
		if err := b.flush(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close flushes pending rows and releases the band files
func (d *Dataset) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()

	err := d.Flush()
	var errs []error
	if err != nil {
		errs = append(errs, err)
	}
	for _, b := range d.bands {
		if err := b.close(); err != nil {
			errs = append(errs, err)
		}
	}

	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.cache.Stop()
	return errors.Join(errs...)
}
