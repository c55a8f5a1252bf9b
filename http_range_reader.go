package gomiramon

import (
	"fmt"
	"io"
	"sync"

	"github.com/valyala/fasthttp"
)

// Default read-ahead buffer size (64KB) for row-by-row access
const defaultReadAheadSize = 64 * 1024

// HTTPRangeReader implements io.ReaderAt over HTTP range requests so band
// files can be read in place from a web server. Reads are served from a
// read-ahead window, which suits the sequential row access of most callers.
type HTTPRangeReader struct {
	url    string
	client *fasthttp.Client
	size   int64
	mu     sync.Mutex

	// Read-ahead window
	buffer        []byte
	bufferStart   int64 // Start position of buffer in file
	readAheadSize int   // Size of read-ahead window
}

// NewHTTPRangeReader creates a range reader and resolves the resource size
// with a HEAD request
func NewHTTPRangeReader(url string, client *fasthttp.Client) (*HTTPRangeReader, error) {
	return NewHTTPRangeReaderWithReadAhead(url, client, defaultReadAheadSize)
}

// NewHTTPRangeReaderWithReadAhead creates a range reader with a custom
// read-ahead window size
func NewHTTPRangeReaderWithReadAhead(url string, client *fasthttp.Client, readAheadSize int) (*HTTPRangeReader, error) {
	if readAheadSize <= 0 {
		readAheadSize = defaultReadAheadSize
	}
	rr := &HTTPRangeReader{
		url:           url,
		client:        client,
		readAheadSize: readAheadSize,
		bufferStart:   -1,
	}

	size, err := rr.head()
	if err != nil {
		return nil, err
	}
	rr.size = size
	return rr, nil
}

// head returns the content length of the resource
func (rr *HTTPRangeReader) head() (int64, error) {
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(rr.url)
	req.Header.SetMethod(fasthttp.MethodHead)

	if err := rr.client.Do(req, resp); err != nil {
		return -1, fmt.Errorf("failed to stat %s: %w", rr.url, err)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return -1, fmt.Errorf("failed to stat %s: unexpected status code: %d", rr.url, resp.StatusCode())
	}
	contentLength := resp.Header.ContentLength()
	if contentLength < 0 {
		return -1, fmt.Errorf("failed to stat %s: unknown content length", rr.url)
	}
	return int64(contentLength), nil
}

// ReadAt reads len(p) bytes at off. Ranges inside the read-ahead window are
// served without a request.
func (rr *HTTPRangeReader) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("negative offset: %d", off)
	}
	if off >= rr.size {
		return 0, io.EOF
	}

	want := len(p)
	var err error
	if off+int64(want) > rr.size {
		want = int(rr.size - off)
		err = io.EOF
	}

	rr.mu.Lock()
	defer rr.mu.Unlock()

	// Check if data is already in the window
	if rr.bufferStart >= 0 && off >= rr.bufferStart && off+int64(want) <= rr.bufferStart+int64(len(rr.buffer)) {
		start := int(off - rr.bufferStart)
		n := copy(p[:want], rr.buffer[start:start+want])
		return n, err
	}

	// Fetch with read-ahead
	readSize := rr.readAheadSize
	if readSize < want {
		readSize = want
	}
	if off+int64(readSize) > rr.size {
		readSize = int(rr.size - off)
	}

	data, ferr := rr.fetchRange(off, off+int64(readSize)-1)
	if ferr != nil {
		return 0, ferr
	}
	if len(data) < want {
		n := copy(p, data)
		return n, io.ErrUnexpectedEOF
	}

	if cap(rr.buffer) >= len(data) {
		rr.buffer = rr.buffer[:len(data)]
	} else {
		rr.buffer = make([]byte, len(data))
	}
	copy(rr.buffer, data)
	rr.bufferStart = off

	n := copy(p[:want], data[:want])
	return n, err
}

// fetchRange fetches a byte range from the server
func (rr *HTTPRangeReader) fetchRange(start, end int64) ([]byte, error) {
	if rr.size > 0 && end >= rr.size {
		end = rr.size - 1
	}

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(rr.url)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))

	if err := rr.client.Do(req, resp); err != nil {
		return nil, err
	}

	statusCode := resp.StatusCode()
	switch statusCode {
	case fasthttp.StatusPartialContent:
	case fasthttp.StatusOK:
		// Server ignored the range; cut the window out of the full body
		body := resp.Body()
		if start >= int64(len(body)) {
			return nil, nil
		}
		if end >= int64(len(body)) {
			end = int64(len(body)) - 1
		}
		result := make([]byte, end-start+1)
		copy(result, body[start:end+1])
		return result, nil
	default:
		return nil, fmt.Errorf("unexpected status code: %d", statusCode)
	}

	// Copy body since response will be released
	body := resp.Body()
	result := make([]byte, len(body))
	copy(result, body)
	return result, nil
}

// ClearBuffer drops the read-ahead window to free memory
func (rr *HTTPRangeReader) ClearBuffer() {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	rr.buffer = nil
	rr.bufferStart = -1
}

// Size returns the resource size in bytes
func (rr *HTTPRangeReader) Size() int64 {
	return rr.size
}

// Close releases the read-ahead window
func (rr *HTTPRangeReader) Close() error {
	rr.ClearBuffer()
	return nil
}

// fetchURL downloads a whole resource
func fetchURL(client *fasthttp.Client, url string) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodGet)

	if err := client.Do(req, resp); err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return nil, fmt.Errorf("failed to fetch %s: unexpected status code: %d", url, resp.StatusCode())
	}
	body := resp.Body()
	result := make([]byte, len(body))
	copy(result, body)
	return result, nil
}
