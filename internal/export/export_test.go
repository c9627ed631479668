package export_test

import (
	"bytes"
	"testing"

	"github.com/sentimentjester/jester/internal/export"
	"github.com/sentimentjester/jester/internal/model"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v3"
)

func score(v float64) *float64 { return &v }

var series = []model.DataPoint{
	{Timestamp: 1714500000, Reddit: score(70), Twitter: score(12.5)},
	{Timestamp: 1714586400, YouTube: score(-3)},
}

func TestWriteCSV(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	require.NoError(t, export.Write(&buf, export.CSV, series))
	require.Equal(t, "timestamp,date,reddit,twitter,youtube\n"+
		"1714500000,2024-04-30,70,12.5,\n"+
		"1714586400,2024-05-01,,,-3\n", buf.String())
}

func TestWriteXLSX(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	require.NoError(t, export.Write(&buf, export.XLSX, series))

	f, err := xlsx.OpenBinary(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, f.Sheets, 1)
	sheet := f.Sheets[0]
	require.Equal(t, "Sentiment", sheet.Name)
	require.Equal(t, 3, sheet.MaxRow)

	cell, err := sheet.Cell(0, 2)
	require.NoError(t, err)
	require.Equal(t, "reddit", cell.Value)

	cell, err = sheet.Cell(1, 0)
	require.NoError(t, err)
	ts, err := cell.Int64()
	require.NoError(t, err)
	require.Equal(t, int64(1714500000), ts)

	cell, err = sheet.Cell(1, 3)
	require.NoError(t, err)
	v, err := cell.Float()
	require.NoError(t, err)
	require.Equal(t, 12.5, v)

	cell, err = sheet.Cell(2, 2)
	require.NoError(t, err)
	require.Empty(t, cell.Value)
}

func TestParseFormat(t *testing.T) {
	t.Parallel()
	cases := []struct {
		given string
		then  export.Format
		err   bool
	}{
		{"", export.CSV, false},
		{"CSV", export.CSV, false},
		{"excel", export.XLSX, false},
		{"xlsx", export.XLSX, false},
		{"pdf", "", true},
	}
	for _, tc := range cases {
		f, err := export.ParseFormat(tc.given)
		if tc.err {
			require.ErrorIs(t, err, model.ErrInvalidRequest, tc.given)
			continue
		}
		require.NoError(t, err, tc.given)
		require.Equal(t, tc.then, f)
	}
	require.Equal(t, "text/csv", export.CSV.ContentType())
}

func TestFileName(t *testing.T) {
	t.Parallel()
	r := model.Report{SubjectName: "Shiba Inu", TimeRange: model.TimeRange{Start: 1, End: 2}}
	require.Equal(t, "Shiba_Inu_1_2.xlsx", export.FileName(r, export.XLSX))
}
