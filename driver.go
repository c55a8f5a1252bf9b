package gomiramon

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Driver opens and writes one raster format
type Driver interface {
	Name() string
	Identify(path string) IdentifyResult
	Open(path string) (Raster, error)
	CreateCopy(path string, src Raster, opts *CopyOptions) (Raster, error)
}

// Registry dispatches paths to the registered drivers
type Registry struct {
	mu      sync.RWMutex
	drivers map[string]Driver
	order   []string
}

// NewRegistry returns an empty registry
func NewRegistry() *Registry {
	return &Registry{drivers: make(map[string]Driver)}
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// DefaultRegistry holds the MiraMon and MEM drivers
func DefaultRegistry() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewRegistry()
		defaultRegistry.Register(&MiraMonDriver{})
		defaultRegistry.Register(NewMemDriver())
	})
	return defaultRegistry
}

// Register adds d, replacing a driver of the same name
func (r *Registry) Register(d Driver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := strings.ToUpper(d.Name())
	if _, ok := r.drivers[name]; !ok {
		r.order = append(r.order, name)
	}
	r.drivers[name] = d
}

// Lookup returns the driver called name
func (r *Registry) Lookup(name string) (Driver, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.drivers[strings.ToUpper(name)]
	return d, ok
}

// Drivers lists the registered driver names, sorted
func (r *Registry) Drivers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := append([]string(nil), r.order...)
	sort.Strings(names)
	return names
}

// Identify returns the driver claiming path. A definite match beats a
// driver that only might read it.
func (r *Registry) Identify(path string) (Driver, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var maybe Driver
	for _, name := range r.order {
		d := r.drivers[name]
		switch d.Identify(path) {
		case IdentifyTrue:
			return d, nil
		case IdentifyUnknown:
			if maybe == nil {
				maybe = d
			}
		}
	}
	if maybe != nil {
		return maybe, nil
	}
	return nil, &FormatError{Path: path}
}

// Open opens path with the driver that identifies it
func (r *Registry) Open(path string) (Raster, error) {
	d, err := r.Identify(path)
	if err != nil {
		return nil, err
	}
	return d.Open(path)
}

// MiraMonDriver reads and writes MiraMon rasters
type MiraMonDriver struct {
	Options OpenOptions
}

func (*MiraMonDriver) Name() string { return "MiraMonRaster" }

func (*MiraMonDriver) Identify(path string) IdentifyResult {
	return Identify(path)
}

func (d *MiraMonDriver) Open(path string) (Raster, error) {
	opts := d.Options
	return Open(path, &opts)
}

func (d *MiraMonDriver) CreateCopy(path string, src Raster, opts *CopyOptions) (Raster, error) {
	return CreateCopy(path, src, opts)
}

// MemDriverPrefix starts the paths of in-memory rasters
const MemDriverPrefix = "MEM:"

// MemDriver keeps rasters in memory under MEM:<name> paths
type MemDriver struct {
	mu      sync.RWMutex
	rasters map[string]*MemRaster
}

// NewMemDriver returns an empty MEM driver
func NewMemDriver() *MemDriver {
	return &MemDriver{rasters: make(map[string]*MemRaster)}
}

func (*MemDriver) Name() string { return "MEM" }

func (d *MemDriver) Identify(path string) IdentifyResult {
	if strings.HasPrefix(strings.ToUpper(path), MemDriverPrefix) {
		return IdentifyTrue
	}
	return IdentifyFalse
}

// Put stores m under path
func (d *MemDriver) Put(path string, m *MemRaster) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rasters[strings.ToUpper(path)] = m
}

func (d *MemDriver) Open(path string) (Raster, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	m, ok := d.rasters[strings.ToUpper(path)]
	if !ok {
		return nil, &IOError{Op: "open", Path: path, Err: fmt.Errorf("no in-memory raster")}
	}
	return m, nil
}

func (d *MemDriver) CreateCopy(path string, src Raster, _ *CopyOptions) (Raster, error) {
	if d.Identify(path) != IdentifyTrue {
		return nil, &FormatError{Path: path}
	}
	m, err := CopyToMem(src)
	if err != nil {
		return nil, err
	}
	d.Put(path, m)
	return m, nil
}
