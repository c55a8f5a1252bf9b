package gomiramon

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ColorTable is a palette associated with a band. Entry i holds the
// R, G, B, A components (0-255) of pixel value i.
type ColorTable struct {
	Entries [][4]int16
}

// Len returns the number of entries
func (ct *ColorTable) Len() int {
	if ct == nil {
		return 0
	}
	return len(ct.Entries)
}

// Entry returns entry i, or a transparent black entry when i is out of range
func (ct *ColorTable) Entry(i int) [4]int16 {
	if ct == nil || i < 0 || i >= len(ct.Entries) {
		return [4]int16{}
	}
	return ct.Entries[i]
}

// FieldType is the value type of an attribute table column
type FieldType uint8

const (
	FieldInteger FieldType = iota
	FieldReal
	FieldString
)

func (t FieldType) String() string {
	switch t {
	case FieldInteger:
		return "Integer"
	case FieldReal:
		return "Real"
	default:
		return "String"
	}
}

// FieldUsage is the role of an attribute table column
type FieldUsage uint8

const (
	UsageGeneric FieldUsage = iota
	UsagePixelCount
	UsageName
	UsageMin
	UsageMax
	UsageMinMax
	UsageRed
	UsageGreen
	UsageBlue
	UsageAlpha
)

var usageNames = []string{"Generic", "PixelCount", "Name", "Min", "Max", "MinMax", "Red", "Green", "Blue", "Alpha"}

func (u FieldUsage) String() string {
	if int(u) < len(usageNames) {
		return usageNames[u]
	}
	return "Generic"
}

// ParseFieldUsage parses a usage name case-insensitively; unknown names are Generic
func ParseFieldUsage(s string) FieldUsage {
	for i, name := range usageNames {
		if strings.EqualFold(name, s) {
			return FieldUsage(i)
		}
	}
	return UsageGeneric
}

// Column describes one attribute table column
type Column struct {
	Name  string
	Type  FieldType
	Usage FieldUsage
}

// AttributeTable is a raster attribute table: typed columns with a role
// each, and rows of values. Cells hold int64, float64 or string.
type AttributeTable struct {
	Columns  []Column
	Thematic bool
	rows     [][]any
}

// NewAttributeTable creates an empty table with the given columns
func NewAttributeTable(columns ...Column) *AttributeTable {
	return &AttributeTable{Columns: append([]Column(nil), columns...)}
}

// AddColumn appends a column; existing rows get a zero value
func (t *AttributeTable) AddColumn(name string, typ FieldType, usage FieldUsage) {
	t.Columns = append(t.Columns, Column{Name: name, Type: typ, Usage: usage})
	for i := range t.rows {
		t.rows[i] = append(t.rows[i], zeroCell(typ))
	}
}

// RowCount returns the number of rows
func (t *AttributeTable) RowCount() int {
	if t == nil {
		return 0
	}
	return len(t.rows)
}

// SetRowCount grows or shrinks the table to n rows
func (t *AttributeTable) SetRowCount(n int) {
	for len(t.rows) < n {
		row := make([]any, len(t.Columns))
		for i, c := range t.Columns {
			row[i] = zeroCell(c.Type)
		}
		t.rows = append(t.rows, row)
	}
	t.rows = t.rows[:n]
}

// ColumnIndex returns the index of the column named name, or -1
func (t *AttributeTable) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if strings.EqualFold(c.Name, name) {
			return i
		}
	}
	return -1
}

// SetValue stores v at row, col converting it to the column type.
// Rows are added as needed.
func (t *AttributeTable) SetValue(row, col int, v any) error {
	if col < 0 || col >= len(t.Columns) {
		return fmt.Errorf("column %d out of range", col)
	}
	if row < 0 {
		return fmt.Errorf("row %d out of range", row)
	}
	if row >= len(t.rows) {
		t.SetRowCount(row + 1)
	}
	cell, err := convertCell(v, t.Columns[col].Type)
	if err != nil {
		return fmt.Errorf("column %q: %w", t.Columns[col].Name, err)
	}
	t.rows[row][col] = cell
	return nil
}

// Int returns the value at row, col as an integer
func (t *AttributeTable) Int(row, col int) int64 {
	switch v := t.cell(row, col).(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	case string:
		n, _ := strconv.ParseFloat(v, 64)
		return int64(n)
	}
	return 0
}

// Float returns the value at row, col as a float
func (t *AttributeTable) Float(row, col int) float64 {
	switch v := t.cell(row, col).(type) {
	case int64:
		return float64(v)
	case float64:
		return v
	case string:
		n, _ := strconv.ParseFloat(v, 64)
		return n
	}
	return 0
}

// Text returns the value at row, col formatted as text
func (t *AttributeTable) Text(row, col int) string {
	switch v := t.cell(row, col).(type) {
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case string:
		return v
	}
	return ""
}

func (t *AttributeTable) cell(row, col int) any {
	if t == nil || row < 0 || row >= len(t.rows) || col < 0 || col >= len(t.Columns) {
		return nil
	}
	return t.rows[row][col]
}

// Clone returns a deep copy
func (t *AttributeTable) Clone() *AttributeTable {
	if t == nil {
		return nil
	}
	out := &AttributeTable{
		Columns:  append([]Column(nil), t.Columns...),
		Thematic: t.Thematic,
		rows:     make([][]any, len(t.rows)),
	}
	for i, r := range t.rows {
		out.rows[i] = append([]any(nil), r...)
	}
	return out
}

func zeroCell(typ FieldType) any {
	switch typ {
	case FieldInteger:
		return int64(0)
	case FieldReal:
		return float64(0)
	default:
		return ""
	}
}

func convertCell(v any, typ FieldType) (any, error) {
	var f float64
	var s string
	isString := false
	switch x := v.(type) {
	case int:
		f = float64(x)
	case int32:
		f = float64(x)
	case int64:
		if typ == FieldInteger {
			return x, nil
		}
		f = float64(x)
	case float32:
		f = float64(x)
	case float64:
		f = x
	case string:
		s, isString = x, true
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}

	switch typ {
	case FieldString:
		if isString {
			return s, nil
		}
		return strconv.FormatFloat(f, 'g', -1, 64), nil
	case FieldInteger:
		if isString {
			n, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, err
			}
			f = n
		}
		return int64(f), nil
	default:
		if isString {
			n, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, err
			}
			f = n
		}
		return f, nil
	}
}

// ErrAmbiguousRole is returned when several columns claim the same role
var ErrAmbiguousRole = errors.New("ambiguous attribute table role")

// columnWithUsage returns the single column with usage u, -1 when there is
// none, or ErrAmbiguousRole
func (t *AttributeTable) columnWithUsage(u FieldUsage) (int, error) {
	found := -1
	for i, c := range t.Columns {
		if c.Usage != u {
			continue
		}
		if found >= 0 {
			return -1, fmt.Errorf("columns %q and %q are both %s: %w",
				t.Columns[found].Name, c.Name, u, ErrAmbiguousRole)
		}
		found = i
	}
	return found, nil
}

// DeriveColorTable builds a color table from an attribute table carrying
// Red, Green and Blue columns plus either a MinMax column or a Min and Max
// pair. Min/Max ranges are half-open [min, max); a range with max <= min
// colors min only. Entries not covered by any row are transparent black.
// A table without the needed roles yields nil and no error.
func DeriveColorTable(rat *AttributeTable) (*ColorTable, error) {
	if rat == nil || rat.RowCount() == 0 {
		return nil, nil
	}

	cols := make(map[FieldUsage]int)
	for _, u := range []FieldUsage{UsageRed, UsageGreen, UsageBlue, UsageAlpha, UsageMinMax, UsageMin, UsageMax} {
		i, err := rat.columnWithUsage(u)
		if err != nil {
			return nil, err
		}
		cols[u] = i
	}
	if cols[UsageRed] < 0 || cols[UsageGreen] < 0 || cols[UsageBlue] < 0 {
		return nil, nil
	}
	hasRange := cols[UsageMin] >= 0 && cols[UsageMax] >= 0
	if cols[UsageMinMax] >= 0 && (cols[UsageMin] >= 0 || cols[UsageMax] >= 0) {
		return nil, fmt.Errorf("both a value column and a min/max range: %w", ErrAmbiguousRole)
	}
	if cols[UsageMinMax] < 0 && !hasRange {
		return nil, nil
	}

	const maxEntries = 65536
	entries := make(map[int][4]int16)
	maxIndex := -1
	assign := func(idx int, c [4]int16) error {
		if idx < 0 || idx >= maxEntries {
			return fmt.Errorf("color table index %d out of range", idx)
		}
		if prev, ok := entries[idx]; ok && prev != c {
			return fmt.Errorf("conflicting colors for index %d", idx)
		}
		entries[idx] = c
		if idx > maxIndex {
			maxIndex = idx
		}
		return nil
	}

	for row := 0; row < rat.RowCount(); row++ {
		c := [4]int16{
			clampComponent(rat.Float(row, cols[UsageRed])),
			clampComponent(rat.Float(row, cols[UsageGreen])),
			clampComponent(rat.Float(row, cols[UsageBlue])),
			255,
		}
		if cols[UsageAlpha] >= 0 {
			c[3] = clampComponent(rat.Float(row, cols[UsageAlpha]))
		}

		if cols[UsageMinMax] >= 0 {
			if err := assign(int(math.Floor(rat.Float(row, cols[UsageMinMax]))), c); err != nil {
				return nil, err
			}
			continue
		}

		lo := int(math.Floor(rat.Float(row, cols[UsageMin])))
		hi := int(math.Floor(rat.Float(row, cols[UsageMax])))
		if hi <= lo {
			hi = lo + 1
		}
		if hi-lo > maxEntries {
			return nil, fmt.Errorf("range [%d,%d) too large for a color table", lo, hi)
		}
		for idx := lo; idx < hi; idx++ {
			if err := assign(idx, c); err != nil {
				return nil, err
			}
		}
	}

	ct := &ColorTable{Entries: make([][4]int16, maxIndex+1)}
	for idx, c := range entries {
		ct.Entries[idx] = c
	}
	return ct, nil
}

// AttributeTableFromColorTable describes a color table as an attribute table
// with a value column and one column per component
func AttributeTableFromColorTable(ct *ColorTable) *AttributeTable {
	if ct.Len() == 0 {
		return nil
	}
	rat := NewAttributeTable(
		Column{Name: "Value", Type: FieldInteger, Usage: UsageMinMax},
		Column{Name: "Red", Type: FieldInteger, Usage: UsageRed},
		Column{Name: "Green", Type: FieldInteger, Usage: UsageGreen},
		Column{Name: "Blue", Type: FieldInteger, Usage: UsageBlue},
		Column{Name: "Alpha", Type: FieldInteger, Usage: UsageAlpha},
	)
	rat.Thematic = true
	rat.SetRowCount(ct.Len())
	for i, e := range ct.Entries {
		rat.rows[i] = []any{int64(i), int64(e[0]), int64(e[1]), int64(e[2]), int64(e[3])}
	}
	return rat
}

func clampComponent(v float64) int16 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return int16(math.Round(v))
}
