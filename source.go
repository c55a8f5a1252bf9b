package gomiramon

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"golang.org/x/exp/mmap"
)

// bandSource is random access to the bytes of a band file
type bandSource interface {
	io.ReaderAt
	Size() int64
	Close() error
	// kind names the backing store for metrics
	kind() string
}

// fileSystem resolves the files a REL document refers to. Local paths and
// http(s) URLs are supported; only local files can be written.
type fileSystem interface {
	ReadFile(name string) ([]byte, error)
	Exists(name string) bool
	Open(name string) (bandSource, error)
	Join(dir, name string) string
	Dir(name string) string
	Base(name string) string
	// ReadDir lists the file names in dir
	ReadDir(dir string) ([]string, error)
}

func isURL(name string) bool {
	return strings.HasPrefix(name, "http://") || strings.HasPrefix(name, "https://")
}

// newFileSystem picks the file system serving name
func newFileSystem(name string, client *fasthttp.Client, readAhead int) fileSystem {
	if isURL(name) {
		if client == nil {
			client = &fasthttp.Client{
				ReadTimeout:  30 * time.Second,
				WriteTimeout: 30 * time.Second,
			}
		}
		return &httpFS{client: client, readAhead: readAhead}
	}
	return localFS{}
}

// localFS serves files from disk; band files are memory mapped
type localFS struct{}

func (localFS) ReadFile(name string) ([]byte, error) {
	return os.ReadFile(name)
}

func (localFS) Exists(name string) bool {
	st, err := os.Stat(name)
	return err == nil && !st.IsDir()
}

func (localFS) Open(name string) (bandSource, error) {
	r, err := mmap.Open(name)
	if err != nil {
		return nil, err
	}
	return mmapSource{r}, nil
}

func (localFS) Join(dir, name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(dir, name)
}

func (localFS) Dir(name string) string {
	return filepath.Dir(name)
}

func (localFS) Base(name string) string {
	return filepath.Base(name)
}

func (localFS) ReadDir(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

type mmapSource struct {
	*mmap.ReaderAt
}

func (s mmapSource) Size() int64 {
	return int64(s.Len())
}

func (mmapSource) kind() string { return "mmap" }

// fileSource is a band file opened for update
type fileSource struct {
	*os.File
	size int64
}

func openFileSource(name string) (*fileSource, error) {
	f, err := os.OpenFile(name, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &fileSource{File: f, size: st.Size()}, nil
}

func (s *fileSource) Size() int64 {
	return s.size
}

func (*fileSource) kind() string { return "file" }

// httpFS serves files over HTTP range requests
type httpFS struct {
	client    *fasthttp.Client
	readAhead int
}

func (h *httpFS) ReadFile(name string) ([]byte, error) {
	return fetchURL(h.client, name)
}

func (h *httpFS) Exists(name string) bool {
	_, err := NewHTTPRangeReader(name, h.client)
	return err == nil
}

func (h *httpFS) Open(name string) (bandSource, error) {
	rr, err := NewHTTPRangeReaderWithReadAhead(name, h.client, h.readAhead)
	if err != nil {
		return nil, err
	}
	return httpSource{rr}, nil
}

func (h *httpFS) Join(dir, name string) string {
	if isURL(name) {
		return name
	}
	return strings.TrimSuffix(dir, "/") + "/" + strings.ReplaceAll(name, "\\", "/")
}

func (h *httpFS) Dir(name string) string {
	if i := strings.LastIndex(name, "/"); i >= 0 {
		return name[:i]
	}
	return name
}

func (h *httpFS) Base(name string) string {
	return path.Base(name)
}

func (h *httpFS) ReadDir(dir string) ([]string, error) {
	return nil, fmt.Errorf("listing %s: %w", dir, ErrUnsupported)
}

type httpSource struct {
	*HTTPRangeReader
}

func (httpSource) kind() string { return "http" }
