package gomiramon

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDBFRoundTrip(t *testing.T) {
	table := &dbfTable{
		Fields: []dbfField{
			{Name: "ID", Type: 'N', Length: 1},
			{Name: "NOM", Type: 'C', Length: 1},
			{Name: "AREA", Type: 'N', Length: 1, Decimals: 2},
		},
		Records: [][]string{
			{"1", "Bosc", "12.50"},
			{"22", "Prat alpí", "0.25"},
			{"333", "", "100.00"},
		},
	}
	data, err := table.bytes(testNow)
	require.NoError(t, err)

	// dBase III, last update 2024-03-01
	assert.Equal(t, []byte{0x03, 124, 3, 1}, data[:4])

	back, err := readDBF(data)
	require.NoError(t, err)
	require.Len(t, back.Fields, 3)
	assert.Equal(t, "NOM", back.Fields[1].Name)
	assert.Equal(t, 3, back.Fields[0].Length)
	assert.Equal(t, 9, back.Fields[1].Length)
	assert.Equal(t, table.Records, back.Records)

	assert.Equal(t, FieldInteger, back.Fields[0].fieldType())
	assert.Equal(t, FieldString, back.Fields[1].fieldType())
	assert.Equal(t, FieldReal, back.Fields[2].fieldType())
	assert.Equal(t, 2, back.fieldIndex("area"))
	assert.Equal(t, -1, back.fieldIndex("missing"))
}

func TestReadDBFDeletedRecord(t *testing.T) {
	table := &dbfTable{
		Fields:  []dbfField{{Name: "V", Type: 'N', Length: 2}},
		Records: [][]string{{"1"}, {"2"}, {"3"}},
	}
	data, err := table.bytes(testNow)
	require.NoError(t, err)

	// header, one descriptor, terminator; records are 3 bytes
	headerSize := dbfHeaderSize + dbfFieldSize + 1
	data[headerSize+3] = '*'

	back, err := readDBF(data)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"1"}, {"3"}}, back.Records)
}

func TestReadDBFErrors(t *testing.T) {
	_, err := readDBF([]byte{0x03, 0, 0})
	assert.Error(t, err)

	table := &dbfTable{
		Fields:  []dbfField{{Name: "V", Type: 'N', Length: 2}},
		Records: [][]string{{"1"}, {"2"}},
	}
	data, err := table.bytes(testNow)
	require.NoError(t, err)
	_, err = readDBF(data[:len(data)-4])
	assert.Error(t, err)
}

func TestDBFFieldNames(t *testing.T) {
	got := dbfFieldNames([]string{"Value", "value", "A very long name", "", "Vermell-R"})
	assert.Equal(t, []string{"VALUE", "VALUE1", "A_VERY_LON", "FIELD", "VERMELL_R"}, got)
}
