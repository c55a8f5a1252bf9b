package gomiramon

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

// dBase III tables, the format MiraMon uses for palettes and attribute tables

const (
	dbfHeaderSize     = 32
	dbfFieldSize      = 32
	dbfTerminator     = 0x0D
	dbfEOF            = 0x1A
	dbfMaxFieldName   = 10
	dbfMaxFieldLength = 254
)

type dbfField struct {
	Name     string
	Type     byte // 'C', 'N', 'F', 'L' or 'D'
	Length   int
	Decimals int
}

// fieldType maps a dBase field to an attribute table type
func (f dbfField) fieldType() FieldType {
	switch f.Type {
	case 'N':
		if f.Decimals == 0 {
			return FieldInteger
		}
		return FieldReal
	case 'F':
		return FieldReal
	default:
		return FieldString
	}
}

type dbfTable struct {
	Fields  []dbfField
	Records [][]string
}

func (t *dbfTable) fieldIndex(name string) int {
	for i, f := range t.Fields {
		if strings.EqualFold(f.Name, name) {
			return i
		}
	}
	return -1
}

// readDBF parses a dBase III table. Values are returned trimmed and
// converted to UTF-8. Deleted records are skipped.
func readDBF(data []byte) (*dbfTable, error) {
	if len(data) < dbfHeaderSize+1 {
		return nil, fmt.Errorf("dbf too short: %d bytes", len(data))
	}
	numRecords := int(binary.LittleEndian.Uint32(data[4:8]))
	headerSize := int(binary.LittleEndian.Uint16(data[8:10]))
	recordSize := int(binary.LittleEndian.Uint16(data[10:12]))
	if headerSize > len(data) || recordSize < 1 {
		return nil, fmt.Errorf("invalid dbf header (header %d, record %d)", headerSize, recordSize)
	}

	dec := charmap.ISO8859_1.NewDecoder()
	t := &dbfTable{}
	width := 1
	for off := dbfHeaderSize; off+dbfFieldSize <= headerSize && data[off] != dbfTerminator; off += dbfFieldSize {
		desc := data[off : off+dbfFieldSize]
		name := string(bytes.TrimRight(desc[:11], "\x00 "))
		f := dbfField{
			Name:     name,
			Type:     desc[11],
			Length:   int(desc[16]),
			Decimals: int(desc[17]),
		}
		t.Fields = append(t.Fields, f)
		width += f.Length
	}
	if len(t.Fields) == 0 {
		return nil, fmt.Errorf("dbf has no fields")
	}
	if width > recordSize {
		return nil, fmt.Errorf("dbf fields (%d bytes) exceed record size %d", width, recordSize)
	}

	for r := 0; r < numRecords; r++ {
		start := headerSize + r*recordSize
		if start+recordSize > len(data) {
			return nil, fmt.Errorf("dbf truncated at record %d", r)
		}
		rec := data[start : start+recordSize]
		if rec[0] == '*' {
			continue
		}
		values := make([]string, len(t.Fields))
		pos := 1
		for i, f := range t.Fields {
			raw := bytes.TrimSpace(bytes.TrimRight(rec[pos:pos+f.Length], "\x00"))
			s, err := dec.Bytes(raw)
			if err != nil {
				return nil, fmt.Errorf("failed to decode field %s: %w", f.Name, err)
			}
			values[i] = string(s)
			pos += f.Length
		}
		t.Records = append(t.Records, values)
	}
	return t, nil
}

// bytes encodes the table. Field lengths grow to fit the data.
func (t *dbfTable) bytes(now time.Time) ([]byte, error) {
	enc := encoding.ReplaceUnsupported(charmap.ISO8859_1.NewEncoder())

	encoded := make([][][]byte, len(t.Records))
	fields := append([]dbfField(nil), t.Fields...)
	for r, rec := range t.Records {
		encoded[r] = make([][]byte, len(fields))
		for i := range fields {
			var v string
			if i < len(rec) {
				v = rec[i]
			}
			b, err := enc.Bytes([]byte(v))
			if err != nil {
				return nil, fmt.Errorf("failed to encode field %s: %w", fields[i].Name, err)
			}
			if len(b) > dbfMaxFieldLength {
				b = b[:dbfMaxFieldLength]
			}
			encoded[r][i] = b
			if len(b) > fields[i].Length {
				fields[i].Length = len(b)
			}
		}
	}

	recordSize := 1
	for i := range fields {
		if fields[i].Length < 1 {
			fields[i].Length = 1
		}
		recordSize += fields[i].Length
	}
	headerSize := dbfHeaderSize + dbfFieldSize*len(fields) + 1

	var buf bytes.Buffer
	buf.Grow(headerSize + recordSize*len(t.Records) + 1)

	header := make([]byte, dbfHeaderSize)
	header[0] = 0x03
	header[1] = byte(now.Year() - 1900)
	header[2] = byte(now.Month())
	header[3] = byte(now.Day())
	binary.LittleEndian.PutUint32(header[4:8], uint32(len(t.Records)))
	binary.LittleEndian.PutUint16(header[8:10], uint16(headerSize))
	binary.LittleEndian.PutUint16(header[10:12], uint16(recordSize))
	buf.Write(header)

	for _, f := range fields {
		desc := make([]byte, dbfFieldSize)
		copy(desc[:dbfMaxFieldName], f.Name)
		desc[11] = f.Type
		desc[16] = byte(f.Length)
		desc[17] = byte(f.Decimals)
		buf.Write(desc)
	}
	buf.WriteByte(dbfTerminator)

	for r := range t.Records {
		buf.WriteByte(' ')
		for i, f := range fields {
			v := encoded[r][i]
			if len(v) > f.Length {
				return nil, fmt.Errorf("value %q does not fit field %s (%d bytes)", v, f.Name, f.Length)
			}
			pad := bytes.Repeat([]byte{' '}, f.Length-len(v))
			if f.Type == 'C' || f.Type == 'L' || f.Type == 'D' {
				buf.Write(v)
				buf.Write(pad)
			} else {
				buf.Write(pad)
				buf.Write(v)
			}
		}
	}
	buf.WriteByte(dbfEOF)
	return buf.Bytes(), nil
}

// dbfFieldNames returns unique dBase field names (at most 10 characters,
// upper case) for the given column names
func dbfFieldNames(names []string) []string {
	out := make([]string, len(names))
	used := make(map[string]bool)
	for i, name := range names {
		base := strings.ToUpper(sanitizeFieldName(name))
		if base == "" {
			base = "FIELD"
		}
		if len(base) > dbfMaxFieldName {
			base = base[:dbfMaxFieldName]
		}
		candidate := base
		for n := 1; used[candidate]; n++ {
			suffix := strconv.Itoa(n)
			trimmed := base
			if len(trimmed)+len(suffix) > dbfMaxFieldName {
				trimmed = trimmed[:dbfMaxFieldName-len(suffix)]
			}
			candidate = trimmed + suffix
		}
		used[candidate] = true
		out[i] = candidate
	}
	return out
}

func sanitizeFieldName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		case r == ' ' || r == '-':
			b.WriteByte('_')
		}
	}
	return b.String()
}
