package gomiramon

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func colorRAT(t *testing.T, value Column, rows [][]any) *AttributeTable {
	t.Helper()
	cols := []Column{value}
	if value.Usage == UsageMin {
		cols = append(cols, Column{Name: "Max", Type: FieldInteger, Usage: UsageMax})
	}
	cols = append(cols,
		Column{Name: "R", Type: FieldInteger, Usage: UsageRed},
		Column{Name: "G", Type: FieldInteger, Usage: UsageGreen},
		Column{Name: "B", Type: FieldInteger, Usage: UsageBlue},
	)
	rat := NewAttributeTable(cols...)
	for r, row := range rows {
		for c, v := range row {
			require.NoError(t, rat.SetValue(r, c, v))
		}
	}
	return rat
}

func TestDeriveColorTableMinMax(t *testing.T) {
	rat := colorRAT(t, Column{Name: "Value", Type: FieldInteger, Usage: UsageMinMax}, [][]any{
		{1, 255, 0, 0},
		{3, 0, 0, 255},
	})
	ct, err := DeriveColorTable(rat)
	require.NoError(t, err)
	want := [][4]int16{{}, red, {}, blue}
	if diff := cmp.Diff(want, ct.Entries); diff != "" {
		t.Errorf("color table mismatch (-want +got):\n%s", diff)
	}
}

func TestDeriveColorTableRanges(t *testing.T) {
	rat := colorRAT(t, Column{Name: "Min", Type: FieldInteger, Usage: UsageMin}, [][]any{
		{0, 2, 255, 0, 0},
		{2, 4, 0, 255, 0},
		{5, 5, 0, 0, 255},
	})
	ct, err := DeriveColorTable(rat)
	require.NoError(t, err)
	assert.Equal(t, [][4]int16{red, red, green, green, {}, blue}, ct.Entries)
}

func TestDeriveColorTableRoles(t *testing.T) {
	// no color columns: nothing to derive
	rat := NewAttributeTable(
		Column{Name: "Value", Type: FieldInteger, Usage: UsageMinMax},
		Column{Name: "Name", Type: FieldString, Usage: UsageName},
	)
	rat.SetRowCount(2)
	ct, err := DeriveColorTable(rat)
	require.NoError(t, err)
	assert.Nil(t, ct)

	// two red columns
	rat = colorRAT(t, Column{Name: "Value", Type: FieldInteger, Usage: UsageMinMax}, [][]any{{1, 2, 3, 4}})
	rat.AddColumn("R2", FieldInteger, UsageRed)
	_, err = DeriveColorTable(rat)
	assert.ErrorIs(t, err, ErrAmbiguousRole)

	// a value column next to a range
	rat = colorRAT(t, Column{Name: "Min", Type: FieldInteger, Usage: UsageMin}, [][]any{{0, 1, 2, 3, 4}})
	rat.AddColumn("Value", FieldInteger, UsageMinMax)
	_, err = DeriveColorTable(rat)
	assert.ErrorIs(t, err, ErrAmbiguousRole)

	ct, err = DeriveColorTable(nil)
	require.NoError(t, err)
	assert.Nil(t, ct)
}

func TestDeriveColorTableConflict(t *testing.T) {
	rat := colorRAT(t, Column{Name: "Value", Type: FieldInteger, Usage: UsageMinMax}, [][]any{
		{1, 255, 0, 0},
		{1, 0, 0, 255},
	})
	_, err := DeriveColorTable(rat)
	assert.Error(t, err)
}

func TestAttributeTableFromColorTable(t *testing.T) {
	ct := &ColorTable{Entries: [][4]int16{red, green, {1, 2, 3, 4}}}
	rat := AttributeTableFromColorTable(ct)
	require.Equal(t, 3, rat.RowCount())
	assert.True(t, rat.Thematic)
	assert.Equal(t, int64(2), rat.Int(2, 0))

	back, err := DeriveColorTable(rat)
	require.NoError(t, err)
	assert.Equal(t, ct.Entries, back.Entries)

	assert.Nil(t, AttributeTableFromColorTable(nil))
}

func TestAttributeTableValues(t *testing.T) {
	rat := NewAttributeTable(
		Column{Name: "Value", Type: FieldInteger, Usage: UsageMinMax},
		Column{Name: "Area", Type: FieldReal},
		Column{Name: "Name", Type: FieldString, Usage: UsageName},
	)
	require.NoError(t, rat.SetValue(1, 0, "7"))
	require.NoError(t, rat.SetValue(1, 1, 2.5))
	require.NoError(t, rat.SetValue(1, 2, "Bosc"))
	assert.Equal(t, 2, rat.RowCount())

	assert.Equal(t, int64(7), rat.Int(1, 0))
	assert.Equal(t, 2.5, rat.Float(1, 1))
	assert.Equal(t, "Bosc", rat.Text(1, 2))
	assert.Equal(t, "0", rat.Text(0, 0))
	assert.Equal(t, 2, rat.ColumnIndex("name"))

	assert.Error(t, rat.SetValue(0, 5, 1))
	assert.Error(t, rat.SetValue(0, 0, "abc"))
	assert.Error(t, rat.SetValue(0, 0, struct{}{}))

	clone := rat.Clone()
	require.NoError(t, clone.SetValue(1, 2, "Prat"))
	assert.Equal(t, "Bosc", rat.Text(1, 2))

	assert.Equal(t, UsageRed, ParseFieldUsage("red"))
	assert.Equal(t, UsageGeneric, ParseFieldUsage("whatever"))
}
