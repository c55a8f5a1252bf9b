package gomiramon

import (
	"bytes"
	"sync"
)

// Buffer pools for the row read and write paths

// byteSlicePool pools byte slices of various sizes
type byteSlicePool struct {
	// Small buffers (up to 4KB) - bit rows and narrow bands
	small sync.Pool
	// Medium buffers (up to 64KB) - typical rows and compressed runs
	medium sync.Pool
	// Large buffers (up to 1MB) - wide float64 rows
	large sync.Pool
}

const (
	smallBufferSize  = 4 * 1024    // 4KB
	mediumBufferSize = 64 * 1024   // 64KB
	largeBufferSize  = 1024 * 1024 // 1MB
)

var bufferPool = &byteSlicePool{
	small: sync.Pool{
		New: func() interface{} {
			buf := make([]byte, smallBufferSize)
			return &buf
		},
	},
	medium: sync.Pool{
		New: func() interface{} {
			buf := make([]byte, mediumBufferSize)
			return &buf
		},
	},
	large: sync.Pool{
		New: func() interface{} {
			buf := make([]byte, largeBufferSize)
			return &buf
		},
	},
}

// GetBuffer returns a byte slice of exactly size bytes, backed by a pooled
// array when one fits. Call PutBuffer when done to return it to the pool.
func GetBuffer(size int) []byte {
	switch {
	case size <= smallBufferSize:
		return (*bufferPool.small.Get().(*[]byte))[:size]
	case size <= mediumBufferSize:
		return (*bufferPool.medium.Get().(*[]byte))[:size]
	case size <= largeBufferSize:
		return (*bufferPool.large.Get().(*[]byte))[:size]
	}
	return make([]byte, size)
}

// PutBuffer returns a buffer to the pool.
// The buffer should not be used after calling this function.
func PutBuffer(buf []byte) {
	switch cap(buf) {
	case smallBufferSize:
		buf = buf[:smallBufferSize]
		bufferPool.small.Put(&buf)
	case mediumBufferSize:
		buf = buf[:mediumBufferSize]
		bufferPool.medium.Put(&buf)
	case largeBufferSize:
		buf = buf[:largeBufferSize]
		bufferPool.large.Put(&buf)
	}
	// Non-standard sizes are left to the GC
}

// bytesBufferPool pools bytes.Buffer instances used to assemble files
var bytesBufferPool = sync.Pool{
	New: func() interface{} {
		return new(bytes.Buffer)
	},
}

// GetBytesBuffer returns an empty bytes.Buffer from the pool
func GetBytesBuffer() *bytes.Buffer {
	buf := bytesBufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// PutBytesBuffer returns a bytes.Buffer to the pool
func PutBytesBuffer(buf *bytes.Buffer) {
	if buf == nil {
		return
	}
	// Don't keep very large buffers alive
	if buf.Cap() > 4*largeBufferSize {
		return
	}
	bytesBufferPool.Put(buf)
}
