package gomiramon

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

func testClient() *fasthttp.Client {
	return &fasthttp.Client{
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
}

// rangeServer serves content with range support and counts GET requests
func rangeServer(t *testing.T, content []byte) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var gets atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			gets.Add(1)
		}
		http.ServeContent(w, r, "band.img", time.Time{}, bytes.NewReader(content))
	}))
	t.Cleanup(srv.Close)
	return srv, &gets
}

func TestHTTPRangeReader(t *testing.T) {
	content := []byte("0123456789abcdefghijklmnopqrstuvwxyz")
	srv, gets := rangeServer(t, content)

	rr, err := NewHTTPRangeReaderWithReadAhead(srv.URL+"/band.img", testClient(), 8)
	require.NoError(t, err)
	defer rr.Close()
	assert.Equal(t, int64(len(content)), rr.Size())

	buf := make([]byte, 4)
	n, err := rr.ReadAt(buf, 2)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, "2345", string(buf))

	// served from the read-ahead window
	n, err = rr.ReadAt(buf[:2], 7)
	require.NoError(t, err)
	assert.Equal(t, "78", string(buf[:n]))
	assert.Equal(t, int64(1), gets.Load())

	big := make([]byte, 20)
	n, err = rr.ReadAt(big, 10)
	require.NoError(t, err)
	assert.Equal(t, string(content[10:30]), string(big[:n]))

	n, err = rr.ReadAt(big, 30)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, "uvwxyz", string(big[:n]))

	_, err = rr.ReadAt(buf, int64(len(content)))
	assert.ErrorIs(t, err, io.EOF)
	_, err = rr.ReadAt(buf, -1)
	assert.Error(t, err)
}

func TestHTTPRangeReaderIgnoredRange(t *testing.T) {
	content := []byte("abcdefghij")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "10")
		if r.Method == http.MethodGet {
			w.Write(content)
		}
	}))
	defer srv.Close()

	rr, err := NewHTTPRangeReader(srv.URL, testClient())
	require.NoError(t, err)
	buf := make([]byte, 3)
	n, err := rr.ReadAt(buf, 4)
	require.NoError(t, err)
	assert.Equal(t, "efg", string(buf[:n]))
}

func TestHTTPRangeReaderMissing(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := NewHTTPRangeReader(srv.URL+"/missing.img", testClient())
	assert.Error(t, err)
}

func TestOpenOverHTTP(t *testing.T) {
	dir := t.TempDir()
	values := seq(20, 0)
	testRaster{width: 5, height: 4, extent: &[4]float64{0, 5, 0, 4}, bands: []testBand{
		{name: "raw", file: "raw.img", dt: DTInt16, values: values},
		{name: "rle", file: "rle.img", dt: DTInt16, comp: CompressionRLE, values: values},
	}}.write(t, dir, "remote")
	srv := httptest.NewServer(http.FileServer(http.Dir(dir)))
	defer srv.Close()

	url := srv.URL + "/remoteI.rel"
	ds, err := Open(url, &OpenOptions{Client: testClient(), ReadAhead: 16})
	require.NoError(t, err)
	defer ds.Close()

	assert.Equal(t, srv.URL+"/raw.img", ds.Bands()[0].Path())
	for _, b := range ds.Bands() {
		block, err := b.ReadBlock(1, 2, 3, 2)
		require.NoError(t, err, b.Name())
		assert.Equal(t, []float64{11, 12, 13, 16, 17, 18}, block.Data, b.Name())
	}

	_, err = Open(url, &OpenOptions{Client: testClient(), Update: true})
	assert.ErrorIs(t, err, ErrReadOnly)

	// band files cannot be resolved by listing a remote directory
	_, err = Open(srv.URL+"/rle.img", &OpenOptions{Client: testClient()})
	assert.ErrorIs(t, err, ErrNotRecognized)
}
