package gomiramon

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// testNow pins the dates written into DBF headers and REL files
var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// writeBandFile encodes values as a band file in dir
func writeBandFile(t testing.TB, dir, name string, width, height int, dt DataType, comp Compression, values []float64) string {
	t.Helper()
	require.Len(t, values, width*height)
	var buf bytes.Buffer
	err := encodeBand(&buf, width, height, dt, comp, func(r int) ([]float64, error) {
		return values[r*width : (r+1)*width], nil
	})
	require.NoError(t, err)
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

// testBand describes one band of a fixture REL
type testBand struct {
	name   string
	file   string
	dt     DataType
	comp   Compression
	values []float64
	extra  map[string]string // additional [ATTRIBUTE_DATA:band] keys
}

// testRaster writes a REL and its band files. Every band shares the
// dataset size unless extra overrides columns or rows.
type testRaster struct {
	width, height int
	bands         []testBand
	extent        *[4]float64 // MinX, MaxX, MinY, MaxY
	crs           string
	sections      map[string]map[string]string // extra sections
}

func (tr testRaster) write(t testing.TB, dir, base string) string {
	t.Helper()
	rel := NewRel()
	rel.Set(sectionVersion, "Vers", "4")
	rel.Set(sectionVersion, "SubVers", "3")
	rel.Set(sectionIdentification, "DatasetTitle", base)
	rel.Set(sectionTechnical, "columns", fmt.Sprint(tr.width))
	rel.Set(sectionTechnical, "rows", fmt.Sprint(tr.height))
	if tr.extent != nil {
		rel.Set(sectionExtent, "MinX", formatFloat(tr.extent[0]))
		rel.Set(sectionExtent, "MaxX", formatFloat(tr.extent[1]))
		rel.Set(sectionExtent, "MinY", formatFloat(tr.extent[2]))
		rel.Set(sectionExtent, "MaxY", formatFloat(tr.extent[3]))
	}
	if tr.crs != "" {
		rel.Set(sectionHorizontalSRS, "HorizontalSystemIdentifier", tr.crs)
	}

	indexes := make([]string, len(tr.bands))
	for i, b := range tr.bands {
		indexes[i] = fmt.Sprint(i + 1)
		rel.Set(sectionAttributeData, "NomCamp_"+indexes[i], b.name)
	}
	rel.Set(sectionAttributeData, "IndexsNomsCamps", strings.Join(indexes, ","))

	for _, b := range tr.bands {
		section := sectionAttributeData + ":" + b.name
		rel.Set(section, "NomFitxer", b.file)
		rel.Set(section, "TipusCompressio", TipusCompressio(b.dt, b.comp))
		w, h := tr.width, tr.height
		for k, v := range b.extra {
			rel.Set(section, k, v)
			switch k {
			case "columns":
				fmt.Sscan(v, &w)
			case "rows":
				fmt.Sscan(v, &h)
			}
		}
		if b.values != nil {
			writeBandFile(t, dir, b.file, w, h, b.dt, b.comp, b.values)
		}
	}
	for section, keys := range tr.sections {
		for k, v := range keys {
			rel.Set(section, k, v)
		}
	}

	path := filepath.Join(dir, base+relSuffix)
	require.NoError(t, os.WriteFile(path, rel.Bytes(), 0o644))
	return path
}

// seq returns n values start, start+1, ...
func seq(n int, start float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)
	}
	return out
}

func openTest(t testing.TB, path string, update bool) *Dataset {
	t.Helper()
	ds, err := Open(path, &OpenOptions{Update: update})
	require.NoError(t, err)
	t.Cleanup(func() { ds.Close() })
	return ds
}
