package gomiramon

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Attribute tables are DBF files joined to a band through
//
//	[ATTRIBUTE_DATA:band] IndexsJoinTaula=<id>, JoinTaula_<id>=<table>
//	[TAULA_<table>] NomFitxer=<file.dbf or file.rel>, AssociatRel=<field>
//	[TAULA_<table>:<field>] descriptor=<column name>, Rol=<usage>
//
// A REL in NomFitxer describes the DBF in its own [TAULA_PRINCIPAL] section.

// loadAttributeTable reads the first attribute table joined to band.
// Bands without a join return nil.
func loadAttributeTable(rel *Rel, relPath, band string, fsys fileSystem) (*AttributeTable, error) {
	joins, _ := rel.Lookup(sectionAttributeData, band, "IndexsJoinTaula")
	ids := splitList(joins)
	if len(ids) == 0 {
		return nil, nil
	}
	table, _ := rel.Lookup(sectionAttributeData, band, "JoinTaula_"+ids[0])
	if table == "" {
		return nil, nil
	}

	meta := rel
	section := "TAULA_" + table
	dir := fsys.Dir(relPath)
	file, _ := rel.Value(section, "NomFitxer")
	switch strings.ToLower(pathExt(file)) {
	case ".rel":
		tableRel := fsys.Join(dir, file)
		data, err := fsys.ReadFile(tableRel)
		if err != nil {
			return nil, &IOError{Op: "read", Path: tableRel, Err: err}
		}
		meta, err = ParseRel(bytes.NewReader(data))
		if err != nil {
			return nil, schemaErrorf(tableRel, "%v", err)
		}
		section = "TAULA_PRINCIPAL"
		dir = fsys.Dir(tableRel)
		file, _ = meta.Value(section, "NomFitxer")
		if file == "" {
			return nil, nil
		}
	case ".dbf":
	default:
		return nil, nil
	}

	assoc, _ := meta.Value(section, "AssociatRel")
	if assoc == "" {
		return nil, nil
	}
	dbfPath := fsys.Join(dir, file)
	data, err := fsys.ReadFile(dbfPath)
	if err != nil {
		return nil, &IOError{Op: "read", Path: dbfPath, Err: err}
	}
	t, err := readDBF(data)
	if err != nil {
		return nil, schemaErrorf(relPath, "Invalid attribute table %s: %v", file, err)
	}
	return attributeTableFromDBF(t, meta, section, assoc, relPath)
}

func attributeTableFromDBF(t *dbfTable, meta *Rel, section, assoc, relPath string) (*AttributeTable, error) {
	key := t.fieldIndex(assoc)
	if key < 0 {
		return nil, schemaErrorf(relPath, "Invalid attribute table: no field %s", assoc)
	}

	rat := &AttributeTable{}
	treatment, _ := meta.Value(section+":"+t.Fields[key].Name, "TractamentVariable")
	rat.Thematic = strings.EqualFold(treatment, "Categoric")

	for i, f := range t.Fields {
		fieldSection := section + ":" + f.Name
		name, _ := meta.Value(fieldSection, "descriptor")
		if name == "" {
			name = f.Name
		}
		usage := UsageGeneric
		if role, ok := meta.Value(fieldSection, "Rol"); ok {
			usage = ParseFieldUsage(role)
		} else {
			switch i {
			case key:
				usage = UsageMinMax
			case key + 1:
				usage = UsageName
			}
		}
		typ := f.fieldType()
		if i == key && typ == FieldString {
			return nil, schemaErrorf(relPath, "Invalid attribute table: field %s is not numeric", f.Name)
		}
		rat.Columns = append(rat.Columns, Column{Name: name, Type: typ, Usage: usage})
	}

	rat.SetRowCount(len(t.Records))
	for r, rec := range t.Records {
		for c, v := range rec {
			if v == "" {
				continue
			}
			if err := rat.SetValue(r, c, v); err != nil {
				return nil, schemaErrorf(relPath, "attribute table row %d: %v", r, err)
			}
		}
	}
	return rat, nil
}

// attributeTableDBF encodes rat as a DBF. It returns the DBF field names
// used for each column.
func attributeTableDBF(rat *AttributeTable, now time.Time) ([]byte, []string, error) {
	names := make([]string, len(rat.Columns))
	for i, c := range rat.Columns {
		names[i] = c.Name
	}
	fieldNames := dbfFieldNames(names)

	t := &dbfTable{Fields: make([]dbfField, len(rat.Columns))}
	for i, c := range rat.Columns {
		f := dbfField{Name: fieldNames[i], Length: 1}
		switch c.Type {
		case FieldInteger:
			f.Type = 'N'
		case FieldReal:
			f.Type, f.Decimals = 'N', 1
		default:
			f.Type = 'C'
		}
		t.Fields[i] = f
	}
	for r := 0; r < rat.RowCount(); r++ {
		rec := make([]string, len(rat.Columns))
		for c, col := range rat.Columns {
			if col.Type == FieldReal {
				rec[c] = formatFloat(rat.Float(r, c))
				if d := decimals(rec[c]); d > t.Fields[c].Decimals {
					t.Fields[c].Decimals = d
				}
				continue
			}
			rec[c] = rat.Text(r, c)
		}
		t.Records = append(t.Records, rec)
	}
	data, err := t.bytes(now)
	if err != nil {
		return nil, nil, err
	}
	return data, fieldNames, nil
}

func decimals(s string) int {
	dot := strings.IndexByte(s, '.')
	if dot < 0 {
		return 0
	}
	end := strings.IndexAny(s, "eE")
	if end < 0 {
		end = len(s)
	}
	if d := end - dot - 1; d < 15 {
		return d
	}
	return 15
}

// associatedColumn picks the column written as AssociatRel
func associatedColumn(rat *AttributeTable) int {
	for _, u := range []FieldUsage{UsageMinMax, UsageMin} {
		for i, c := range rat.Columns {
			if c.Usage == u {
				return i
			}
		}
	}
	for i, c := range rat.Columns {
		if c.Type != FieldString {
			return i
		}
	}
	return 0
}

// setAttributeTableSections documents an attribute table stored in dbfFile
// for band
func setAttributeTableSections(rel *Rel, band, table, dbfFile string, rat *AttributeTable, fieldNames []string) {
	bandSection := sectionAttributeData + ":" + band
	rel.Set(bandSection, "IndexsJoinTaula", "1")
	rel.Set(bandSection, "JoinTaula_1", table)

	section := "TAULA_" + table
	assoc := fieldNames[associatedColumn(rat)]
	rel.Set(section, "NomFitxer", dbfFile)
	rel.Set(section, "AssociatRel", assoc)
	if rat.Thematic {
		rel.Set(section+":"+assoc, "TractamentVariable", "Categoric")
	}
	for i, c := range rat.Columns {
		fieldSection := section + ":" + fieldNames[i]
		rel.Set(fieldSection, "descriptor", c.Name)
		rel.Set(fieldSection, "Rol", c.Usage.String())
	}
}

// setPaletteSections documents a DBF palette for band
func setPaletteSections(rel *Rel, band, paletteFile string) {
	section := sectionColorText + ":" + band
	rel.Set(section, "Color_Paleta", paletteFile)
	rel.Set(section, "Color_TractamentVariable", "Categoric")
	rel.Set(section, "Color_Const", "0")
}

// formatIndexList joins 1-based indexes for IndexsNomsCamps style keys
func formatIndexList(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = strconv.Itoa(i + 1)
	}
	return strings.Join(parts, ",")
}

// checkAttributeTable verifies that every cell can be stored
func checkAttributeTable(rat *AttributeTable) error {
	if len(rat.Columns) == 0 {
		return fmt.Errorf("attribute table has no columns")
	}
	return nil
}
