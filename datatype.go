package gomiramon

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// DataType represents the sample type of a band
type DataType uint8

const (
	DTUnknown DataType = iota
	DTBit              // 1-bit, 8 pixels per byte
	DTByte             // 8-bit unsigned integer
	DTInt16            // 16-bit signed integer
	DTUInt16           // 16-bit unsigned integer
	DTInt32            // 32-bit signed integer
	DTFloat32          // 32-bit IEEE floating point
	DTFloat64          // 64-bit IEEE floating point
)

// Compression represents the physical encoding of a band file
type Compression uint8

const (
	CompressionNone Compression = iota
	CompressionRLE
)

func (c Compression) String() string {
	if c == CompressionRLE {
		return "RLE"
	}
	return "none"
}

func (dt DataType) String() string {
	switch dt {
	case DTBit:
		return "Bit"
	case DTByte:
		return "Byte"
	case DTInt16:
		return "Int16"
	case DTUInt16:
		return "UInt16"
	case DTInt32:
		return "Int32"
	case DTFloat32:
		return "Float32"
	case DTFloat64:
		return "Float64"
	default:
		return "Unknown"
	}
}

// Size returns the number of bytes of one sample. Bit samples report 0,
// callers use rowBytes for packed rows.
func (dt DataType) Size() int {
	switch dt {
	case DTByte:
		return 1
	case DTInt16, DTUInt16:
		return 2
	case DTInt32, DTFloat32:
		return 4
	case DTFloat64:
		return 8
	default:
		return 0
	}
}

// IsInteger reports whether samples of this type hold integral values
func (dt DataType) IsInteger() bool {
	switch dt {
	case DTBit, DTByte, DTInt16, DTUInt16, DTInt32:
		return true
	}
	return false
}

// Range returns the representable range of the type
func (dt DataType) Range() (float64, float64) {
	switch dt {
	case DTBit:
		return 0, 1
	case DTByte:
		return 0, math.MaxUint8
	case DTInt16:
		return math.MinInt16, math.MaxInt16
	case DTUInt16:
		return 0, math.MaxUint16
	case DTInt32:
		return math.MinInt32, math.MaxInt32
	case DTFloat32:
		return -math.MaxFloat32, math.MaxFloat32
	default:
		return math.Inf(-1), math.Inf(1)
	}
}

// Clamp converts v to the nearest value representable by the type.
// Integer types round half away from zero and saturate; NaN becomes 0.
func (dt DataType) Clamp(v float64) float64 {
	switch dt {
	case DTFloat64:
		return v
	case DTFloat32:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return v
		}
		return float64(float32(v))
	}
	if math.IsNaN(v) {
		return 0
	}
	lo, hi := dt.Range()
	v = math.Round(v)
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// rowBytes returns the size of one uncompressed row of width pixels
func (dt DataType) rowBytes(width int) int {
	if dt == DTBit {
		return (width + 7) / 8
	}
	return width * dt.Size()
}

// decodeSample reads one little-endian sample
func (dt DataType) decodeSample(b []byte) float64 {
	switch dt {
	case DTByte:
		return float64(b[0])
	case DTInt16:
		return float64(int16(binary.LittleEndian.Uint16(b)))
	case DTUInt16:
		return float64(binary.LittleEndian.Uint16(b))
	case DTInt32:
		return float64(int32(binary.LittleEndian.Uint32(b)))
	case DTFloat32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	case DTFloat64:
		return math.Float64frombits(binary.LittleEndian.Uint64(b))
	}
	return 0
}

// encodeSample writes one little-endian sample, clamping to the type
func (dt DataType) encodeSample(b []byte, v float64) {
	v = dt.Clamp(v)
	switch dt {
	case DTByte:
		b[0] = uint8(v)
	case DTInt16:
		binary.LittleEndian.PutUint16(b, uint16(int16(v)))
	case DTUInt16:
		binary.LittleEndian.PutUint16(b, uint16(v))
	case DTInt32:
		binary.LittleEndian.PutUint32(b, uint32(int32(v)))
	case DTFloat32:
		binary.LittleEndian.PutUint32(b, math.Float32bits(float32(v)))
	case DTFloat64:
		binary.LittleEndian.PutUint64(b, math.Float64bits(v))
	}
}

// tipusCompressio values as written in the REL file
var tipusCompressioNames = map[string]struct {
	dt   DataType
	comp Compression
}{
	"bit":          {DTBit, CompressionNone},
	"byte":         {DTByte, CompressionNone},
	"byte-rle":     {DTByte, CompressionRLE},
	"integer":      {DTInt16, CompressionNone},
	"integer-rle":  {DTInt16, CompressionRLE},
	"uinteger":     {DTUInt16, CompressionNone},
	"uinteger-rle": {DTUInt16, CompressionRLE},
	"long":         {DTInt32, CompressionNone},
	"long-rle":     {DTInt32, CompressionRLE},
	"real":         {DTFloat32, CompressionNone},
	"real-rle":     {DTFloat32, CompressionRLE},
	"double":       {DTFloat64, CompressionNone},
	"double-rle":   {DTFloat64, CompressionRLE},
}

// ParseTipusCompressio parses a TipusCompressio REL value
func ParseTipusCompressio(s string) (DataType, Compression, error) {
	v, ok := tipusCompressioNames[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return DTUnknown, CompressionNone, fmt.Errorf("unknown TipusCompressio %q", s)
	}
	return v.dt, v.comp, nil
}

// TipusCompressio returns the REL name of a type and compression pair.
// Bit bands are never compressed.
func TipusCompressio(dt DataType, comp Compression) string {
	var name string
	switch dt {
	case DTBit:
		return "bit"
	case DTByte:
		name = "byte"
	case DTInt16:
		name = "integer"
	case DTUInt16:
		name = "uinteger"
	case DTInt32:
		name = "long"
	case DTFloat32:
		name = "real"
	case DTFloat64:
		name = "double"
	default:
		return ""
	}
	if comp == CompressionRLE {
		name += "-RLE"
	}
	return name
}
