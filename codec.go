package gomiramon

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Row codecs for MiraMon band files. Every band is stored row by row,
// little-endian, one row per block.

// decodeRow decodes one uncompressed (raw or bit) row into dst
func decodeRow(src []byte, dst []float64, dt DataType) error {
	width := len(dst)
	if len(src) < dt.rowBytes(width) {
		return fmt.Errorf("row needs %d bytes, have %d", dt.rowBytes(width), len(src))
	}
	if dt == DTBit {
		for i := range dst {
			dst[i] = float64((src[i>>3] >> (uint(i) & 7)) & 1)
		}
		return nil
	}
	size := dt.Size()
	for i := range dst {
		dst[i] = dt.decodeSample(src[i*size:])
	}
	return nil
}

// encodeRow encodes one uncompressed row. dst must hold rowBytes(len(src)).
func encodeRow(dst []byte, src []float64, dt DataType) {
	if dt == DTBit {
		n := dt.rowBytes(len(src))
		for i := 0; i < n; i++ {
			dst[i] = 0
		}
		for i, v := range src {
			if dt.Clamp(v) != 0 {
				dst[i>>3] |= 1 << (uint(i) & 7)
			}
		}
		return
	}
	size := dt.Size()
	for i, v := range src {
		dt.encodeSample(dst[i*size:], v)
	}
}

// decodeRLERow decodes one run-length encoded row into dst and returns the
// number of bytes consumed. Each unit is a count byte c: c > 0 repeats the
// following sample c times, c == 0 is followed by a byte n and n literal
// samples.
func decodeRLERow(src []byte, dst []float64, dt DataType) (int, error) {
	size := dt.Size()
	width := len(dst)
	pos, filled := 0, 0
	for filled < width {
		if pos >= len(src) {
			return pos, fmt.Errorf("RLE row truncated after %d of %d samples", filled, width)
		}
		count := int(src[pos])
		pos++
		if count == 0 {
			if pos >= len(src) {
				return pos, fmt.Errorf("RLE row truncated in literal header")
			}
			n := int(src[pos])
			pos++
			if filled+n > width {
				return pos, fmt.Errorf("RLE literal of %d samples overflows row of %d at %d", n, width, filled)
			}
			if pos+n*size > len(src) {
				return pos, fmt.Errorf("RLE row truncated in literal samples")
			}
			for i := 0; i < n; i++ {
				dst[filled] = dt.decodeSample(src[pos:])
				pos += size
				filled++
			}
			continue
		}
		if filled+count > width {
			return pos, fmt.Errorf("RLE run of %d samples overflows row of %d at %d", count, width, filled)
		}
		if pos+size > len(src) {
			return pos, fmt.Errorf("RLE row truncated in run sample")
		}
		v := dt.decodeSample(src[pos:])
		pos += size
		for i := 0; i < count; i++ {
			dst[filled] = v
			filled++
		}
	}
	return pos, nil
}

// encodeRLERow appends the run-length encoding of src to buf. Runs of two
// or more identical samples become repeat units, everything else literal
// units. Units hold at most 255 samples.
func encodeRLERow(buf []byte, src []float64, dt DataType) []byte {
	size := dt.Size()
	raw := make([]byte, len(src)*size)
	encodeRow(raw, src, dt)
	sample := func(i int) []byte { return raw[i*size : (i+1)*size] }
	same := func(a, b int) bool { return bytes.Equal(sample(a), sample(b)) }

	n := len(src)
	for i := 0; i < n; {
		j := i + 1
		for j < n && j-i < 255 && same(i, j) {
			j++
		}
		if j-i >= 2 {
			buf = append(buf, byte(j-i))
			buf = append(buf, sample(i)...)
			i = j
			continue
		}

		k := i + 1
		for k < n && k-i < 255 && !(k+1 < n && same(k, k+1)) {
			k++
		}
		if k-i == 1 {
			buf = append(buf, 1)
			buf = append(buf, sample(i)...)
		} else {
			buf = append(buf, 0, byte(k-i))
			buf = append(buf, raw[i*size:k*size]...)
		}
		i = k
	}
	return buf
}

// scanRowOffsets rebuilds the row offsets of an RLE band without an index
// by decoding every row. The returned slice has height+1 entries, the last
// one being the end of the row data.
func scanRowOffsets(data []byte, width, height int, dt DataType) ([]int64, error) {
	offsets := make([]int64, height+1)
	row := make([]float64, width)
	pos := 0
	for r := 0; r < height; r++ {
		offsets[r] = int64(pos)
		n, err := decodeRLERow(data[pos:], row, dt)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", r, err)
		}
		pos += n
	}
	offsets[height] = int64(pos)
	return offsets, nil
}

// Row offset index appended to RLE band files:
//
//	section header (32 bytes): "IMG 1.0\x00", int32 section type (2 = row
//	offsets), int32 offset size (1, 2, 4 or 8), 8 reserved bytes, uint64
//	offset of the next section header (0 = none)
//	offsets: height little-endian integers of the offset size
//	trailer (32 bytes): 16 zero bytes, "IMG 1.0\x00", uint64 offset of
//	the first section header
const (
	rowIndexSignature   = "IMG 1.0\x00"
	rowIndexSectionType = 2
	rowIndexHeaderSize  = 32
	rowIndexTrailerSize = 32
)

// encodeRowIndex returns the index section and trailer for rows starting
// at offsets, with the row data ending at dataEnd
func encodeRowIndex(offsets []int64, dataEnd int64) []byte {
	offsetSize := 4
	if dataEnd > 0xFFFFFFFF {
		offsetSize = 8
	}

	out := make([]byte, 0, rowIndexHeaderSize+len(offsets)*offsetSize+rowIndexTrailerSize)
	out = append(out, rowIndexSignature...)
	out = binary.LittleEndian.AppendUint32(out, rowIndexSectionType)
	out = binary.LittleEndian.AppendUint32(out, uint32(offsetSize))
	out = append(out, make([]byte, 8)...)
	out = binary.LittleEndian.AppendUint64(out, 0)
	for _, off := range offsets {
		if offsetSize == 8 {
			out = binary.LittleEndian.AppendUint64(out, uint64(off))
		} else {
			out = binary.LittleEndian.AppendUint32(out, uint32(off))
		}
	}
	out = append(out, make([]byte, 16)...)
	out = append(out, rowIndexSignature...)
	out = binary.LittleEndian.AppendUint64(out, uint64(dataEnd))
	return out
}

// validSignature accepts "IMG 1.x" section signatures
func validSignature(b []byte) bool {
	return len(b) >= 8 && string(b[:4]) == "IMG " && b[4] == '1' && b[5] == '.' && b[6] >= '0' && b[6] <= '9'
}

// readRowIndex looks for a row offset index at the end of an RLE band of
// size bytes. ok is false when the file carries no usable index; offsets
// then have to be rebuilt with scanRowOffsets.
func readRowIndex(r io.ReaderAt, size int64, height int) (offsets []int64, ok bool, err error) {
	if size < int64(rowIndexTrailerSize+height+rowIndexHeaderSize) {
		return nil, false, nil
	}

	trailer := make([]byte, rowIndexTrailerSize)
	if _, err := r.ReadAt(trailer, size-rowIndexTrailerSize); err != nil {
		return nil, false, err
	}
	for _, b := range trailer[:16] {
		if b != 0 {
			return nil, false, nil
		}
	}
	if !validSignature(trailer[16:24]) {
		return nil, false, nil
	}
	headerOffset := int64(binary.LittleEndian.Uint64(trailer[24:32]))

	header := make([]byte, rowIndexHeaderSize)
	for visited := 0; ; visited++ {
		if headerOffset <= 0 || headerOffset+rowIndexHeaderSize > size || visited > 64 {
			return nil, false, nil
		}
		if _, err := r.ReadAt(header, headerOffset); err != nil {
			return nil, false, err
		}
		if !validSignature(header[:8]) {
			return nil, false, nil
		}
		if binary.LittleEndian.Uint32(header[8:12]) == rowIndexSectionType {
			break
		}
		headerOffset = int64(binary.LittleEndian.Uint64(header[24:32]))
	}

	if headerOffset < int64(height)*2 {
		return nil, false, nil
	}
	offsetSize := int(binary.LittleEndian.Uint32(header[12:16]))
	switch offsetSize {
	case 1, 2, 4, 8:
	default:
		return nil, false, nil
	}
	if size-headerOffset < int64(rowIndexHeaderSize+offsetSize*height+rowIndexTrailerSize) {
		return nil, false, nil
	}

	raw := make([]byte, offsetSize*height)
	if _, err := r.ReadAt(raw, headerOffset+rowIndexHeaderSize); err != nil {
		return nil, false, err
	}
	offsets = make([]int64, height+1)
	for i := 0; i < height; i++ {
		b := raw[i*offsetSize:]
		switch offsetSize {
		case 1:
			offsets[i] = int64(b[0])
		case 2:
			offsets[i] = int64(binary.LittleEndian.Uint16(b))
		case 4:
			offsets[i] = int64(binary.LittleEndian.Uint32(b))
		case 8:
			offsets[i] = int64(binary.LittleEndian.Uint64(b))
		}
		if i > 0 && offsets[i] <= offsets[i-1] {
			return nil, false, nil
		}
	}
	if height > 0 && offsets[height-1] >= headerOffset {
		return nil, false, nil
	}
	offsets[height] = headerOffset
	return offsets, true, nil
}

// encodeBand encodes a whole band. rows yields each row in order.
func encodeBand(w io.Writer, width, height int, dt DataType, comp Compression, rows func(r int) ([]float64, error)) error {
	if comp == CompressionRLE && dt != DTBit {
		offsets := make([]int64, height)
		var pos int64
		buf := make([]byte, 0, width*(dt.Size()+1))
		for r := 0; r < height; r++ {
			row, err := rows(r)
			if err != nil {
				return err
			}
			offsets[r] = pos
			buf = encodeRLERow(buf[:0], row, dt)
			n, err := w.Write(buf)
			if err != nil {
				return err
			}
			pos += int64(n)
		}
		_, err := w.Write(encodeRowIndex(offsets, pos))
		return err
	}

	buf := GetBuffer(dt.rowBytes(width))
	defer PutBuffer(buf)
	for r := 0; r < height; r++ {
		row, err := rows(r)
		if err != nil {
			return err
		}
		encodeRow(buf, row, dt)
		if _, err := w.Write(buf); err != nil {
			return err
		}
	}
	return nil
}
