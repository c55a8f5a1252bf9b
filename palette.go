package gomiramon

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Palette colors used when a palette does not cover an entry
var (
	defaultPaletteColor = [4]int16{0, 0, 0, 127}
	noDataPaletteColor  = [4]int16{0, 0, 0, 0}
)

// palette is a color list read from a DBF, PAL, P25 or P65 file
type palette struct {
	colors      [][4]int16
	hasNoData   bool
	noDataIndex int
}

// loadBandColors builds the color table of a band from its COLOR_TEXT keys
func loadBandColors(rel *Rel, relPath string, b *BandDescriptor, fsys fileSystem) error {
	treatment, _ := rel.Lookup(sectionColorText, b.Name, "Color_TractamentVariable")
	b.Categorical = strings.EqualFold(treatment, "Categoric")

	if c, _ := rel.Lookup(sectionColorText, b.Name, "Color_Const"); c == "1" {
		smb, _ := rel.Lookup(sectionColorText, b.Name, "Color_Smb")
		color, err := parseColorSmb(smb)
		if err != nil {
			return schemaErrorf(relPath, "Invalid constant color for band %s: %v", b.Name, err)
		}
		b.ColorTable = uniformColorTable(b, color)
		return nil
	}

	name, _ := rel.Lookup(sectionColorText, b.Name, "Color_Paleta")
	if name == "" || name == "<Automatic>" {
		return nil
	}
	pal, err := readPalette(fsys, fsys.Join(fsys.Dir(relPath), name), b.Categorical)
	if err != nil {
		return schemaErrorf(relPath, "Invalid color table %s: %v", name, err)
	}
	if pal == nil || len(pal.colors) == 0 {
		return nil
	}
	if b.Categorical {
		b.ColorTable = pal.categoricalColorTable(possibleValues(b.DataType))
	} else {
		b.ColorTable = pal.continuousColorTable(b)
	}
	return nil
}

// possibleValues is the number of distinct values a palette can index,
// 0 when the type is not indexable
func possibleValues(dt DataType) int {
	switch dt {
	case DTBit:
		return 2
	case DTByte:
		return 256
	case DTInt16, DTUInt16:
		return 65536
	}
	return 0
}

func readPalette(fsys fileSystem, path string, categorical bool) (*palette, error) {
	var n int
	switch strings.ToLower(pathExt(path)) {
	case ".dbf":
		data, err := fsys.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return parseDBFPalette(data, categorical)
	case ".pal":
		n = 64
	case ".p25":
		n = 256
	case ".p65":
		n = 65536
	default:
		return nil, nil
	}
	data, err := fsys.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parseTextPalette(data, n)
}

// parseDBFPalette reads CLAUSIMBOL, R_COLOR, G_COLOR and B_COLOR (and the
// optional A_COLOR) fields. -1,-1,-1 marks a transparent color. In
// categorical mode CLAUSIMBOL is the pixel value and an empty CLAUSIMBOL is
// the nodata color; otherwise records are taken in order.
func parseDBFPalette(data []byte, categorical bool) (*palette, error) {
	t, err := readDBF(data)
	if err != nil {
		return nil, err
	}
	key := t.fieldIndex("CLAUSIMBOL")
	r, g, b := t.fieldIndex("R_COLOR"), t.fieldIndex("G_COLOR"), t.fieldIndex("B_COLOR")
	a := t.fieldIndex("A_COLOR")
	if key < 0 || r < 0 || g < 0 || b < 0 {
		return nil, fmt.Errorf("missing CLAUSIMBOL or color fields")
	}
	for _, i := range []int{key, r, g, b} {
		if t.Fields[i].Type != 'N' {
			return nil, fmt.Errorf("field %s is not numeric", t.Fields[i].Name)
		}
	}

	color := func(rec []string) [4]int16 {
		rv, _ := strconv.ParseFloat(rec[r], 64)
		gv, _ := strconv.ParseFloat(rec[g], 64)
		bv, _ := strconv.ParseFloat(rec[b], 64)
		if rv == -1 && gv == -1 && bv == -1 {
			return noDataPaletteColor
		}
		c := [4]int16{clampComponent(rv), clampComponent(gv), clampComponent(bv), 255}
		if a >= 0 && rec[a] != "" {
			av, _ := strconv.ParseFloat(rec[a], 64)
			c[3] = clampComponent(av)
		}
		return c
	}

	p := &palette{}
	if !categorical {
		p.colors = make([][4]int16, len(t.Records))
		for i, rec := range t.Records {
			if rec[key] == "" {
				p.hasNoData, p.noDataIndex = true, i
			}
			p.colors[i] = color(rec)
		}
		return p, nil
	}

	size := 0
	for _, rec := range t.Records {
		if rec[key] == "" {
			p.hasNoData = true
			continue
		}
		idx, err := strconv.Atoi(rec[key])
		if err != nil || idx < 0 {
			return nil, fmt.Errorf("invalid CLAUSIMBOL %q", rec[key])
		}
		if idx+1 > size {
			size = idx + 1
		}
	}
	if p.hasNoData {
		p.noDataIndex = size
		size++
	}
	if size > 65536 {
		return nil, fmt.Errorf("invalid number of colors: %d", size)
	}
	p.colors = make([][4]int16, size)
	for i := range p.colors {
		p.colors[i] = defaultPaletteColor
	}
	for _, rec := range t.Records {
		idx := p.noDataIndex
		if rec[key] != "" {
			idx, _ = strconv.Atoi(rec[key])
		}
		p.colors[idx] = color(rec)
	}
	return p, nil
}

// parseTextPalette reads "index R G B" lines. Entries not listed keep the
// default color.
func parseTextPalette(data []byte, n int) (*palette, error) {
	p := &palette{colors: make([][4]int16, n)}
	for i := range p.colors {
		p.colors[i] = defaultPaletteColor
	}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	line := 0
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 4 {
			return nil, fmt.Errorf("line %d: expected 4 values, got %d", line+1, len(fields))
		}
		var v [4]int
		for i, f := range fields {
			x, err := strconv.Atoi(f)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line+1, err)
			}
			v[i] = x
		}
		if v[0] >= 0 && v[0] < n {
			p.colors[v[0]] = [4]int16{clampComponent(float64(v[1])), clampComponent(float64(v[2])), clampComponent(float64(v[3])), 255}
		}
		line++
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return p, nil
}

// categoricalColorTable maps pixel value i to palette color i, padded with
// the default color up to the number of possible values
func (p *palette) categoricalColorTable(possible int) *ColorTable {
	n := len(p.colors)
	if possible > 0 && n > possible {
		n = possible
	}
	size := n
	if possible > size {
		size = possible
	}
	ct := &ColorTable{Entries: make([][4]int16, size)}
	copy(ct.Entries, p.colors[:n])
	for i := n; i < size; i++ {
		ct.Entries[i] = defaultPaletteColor
	}
	return ct
}

// continuousColorTable spreads the palette over the visualization range.
// Only byte and 16-bit bands with a documented range get a table.
func (p *palette) continuousColorTable(b *BandDescriptor) *ColorTable {
	possible := possibleValues(b.DataType)
	if possible == 0 || b.DataType == DTBit || !b.HasVisuMinMax {
		return nil
	}
	colors := len(p.colors)
	noDataIndex := p.noDataIndex
	if p.hasNoData {
		colors--
	} else {
		noDataIndex = colors
	}
	if colors <= 0 {
		return nil
	}

	first := 0
	if p.hasNoData && p.noDataIndex == 0 {
		first = 1
	}
	slope, intercept := 1.0, 0.0
	if b.DataType != DTByte {
		slope = float64(colors) / (b.VisuMax + 1 - b.VisuMin)
		if p.hasNoData && p.noDataIndex != 0 {
			intercept = -slope * b.VisuMin
		} else {
			intercept = -slope*b.VisuMin + 1
		}
	}

	at := func(i int) [4]int16 {
		if i < 0 || i >= len(p.colors) {
			return defaultPaletteColor
		}
		return p.colors[i]
	}
	ct := &ColorTable{Entries: make([][4]int16, possible)}
	for i := 0; i < possible; i++ {
		switch {
		case b.HasNoData && i == noDataIndex:
			if p.hasNoData {
				ct.Entries[i] = at(p.noDataIndex)
			} else {
				ct.Entries[i] = [4]int16{255, 255, 255, 255}
			}
		case i < int(b.VisuMin):
			ct.Entries[i] = at(0)
		case i <= int(b.VisuMax):
			if b.DataType == DTByte {
				ct.Entries[i] = at(first)
				first++
			} else {
				ct.Entries[i] = at(int(uint16(slope*float64(i) + intercept)))
			}
		default:
			ct.Entries[i] = at(colors - 1)
		}
	}
	return ct
}

// parseColorSmb parses a "(r,g,b)" constant color
func parseColorSmb(s string) ([4]int16, error) {
	s = strings.ReplaceAll(s, " ", "")
	if len(s) < 7 || s[0] != '(' || s[len(s)-1] != ')' {
		return [4]int16{}, fmt.Errorf("malformed color %q", s)
	}
	parts := strings.Split(s[1:len(s)-1], ",")
	if len(parts) != 3 {
		return [4]int16{}, fmt.Errorf("malformed color %q", s)
	}
	var c [4]int16
	for i, part := range parts {
		v, err := strconv.Atoi(part)
		if err != nil {
			return [4]int16{}, fmt.Errorf("malformed color %q: %w", s, err)
		}
		c[i] = clampComponent(float64(v))
	}
	c[3] = 255
	return c, nil
}

// uniformColorTable paints every value with color; the nodata value is
// transparent. Only byte and 16-bit signed bands get a table.
func uniformColorTable(b *BandDescriptor, color [4]int16) *ColorTable {
	if b.DataType != DTByte && b.DataType != DTInt16 {
		return nil
	}
	possible := possibleValues(b.DataType)
	ct := &ColorTable{Entries: make([][4]int16, possible)}
	for i := range ct.Entries {
		if b.HasNoData && float64(i) == b.NoData {
			ct.Entries[i] = noDataPaletteColor
			continue
		}
		ct.Entries[i] = color
	}
	return ct
}

// paletteDBF encodes a color table as a categorical DBF palette.
// Transparent black entries are written as -1,-1,-1; other partial
// alphas go to an A_COLOR field.
func paletteDBF(ct *ColorTable, now time.Time) ([]byte, error) {
	needAlpha := false
	for _, e := range ct.Entries {
		if e[3] != 0 && e[3] != 255 {
			needAlpha = true
			break
		}
	}
	t := &dbfTable{Fields: []dbfField{
		{Name: "CLAUSIMBOL", Type: 'N', Length: 1},
		{Name: "R_COLOR", Type: 'N', Length: 3},
		{Name: "G_COLOR", Type: 'N', Length: 3},
		{Name: "B_COLOR", Type: 'N', Length: 3},
	}}
	if needAlpha {
		t.Fields = append(t.Fields, dbfField{Name: "A_COLOR", Type: 'N', Length: 3})
	}
	for i, e := range ct.Entries {
		rec := []string{strconv.Itoa(i), "", "", ""}
		if e[3] == 0 && !needAlpha {
			rec[1], rec[2], rec[3] = "-1", "-1", "-1"
		} else {
			rec[1] = strconv.Itoa(int(e[0]))
			rec[2] = strconv.Itoa(int(e[1]))
			rec[3] = strconv.Itoa(int(e[2]))
		}
		if needAlpha {
			rec = append(rec, strconv.Itoa(int(e[3])))
		}
		t.Records = append(t.Records, rec)
	}
	return t.bytes(now)
}
