// Package export renders the merged result of a report as CSV or as an
// Excel workbook.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/tealeg/xlsx/v3"

	"github.com/sentimentjester/jester/internal/model"
	"github.com/sentimentjester/jester/internal/report"
)

type Format string

const (
	CSV  Format = "csv"
	XLSX Format = "xlsx"
)

const dateLayout = "2006-01-02"

// ParseFormat accepts csv, xlsx and excel. Empty means csv.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "csv":
		return CSV, nil
	case "xlsx", "excel":
		return XLSX, nil
	}
	return "", fmt.Errorf("%w: unsupported export format %q", model.ErrInvalidRequest, s)
}

func (f Format) ContentType() string {
	if f == XLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv"
}

// FileName is the attachment name of the export of r.
func FileName(r model.Report, f Format) string {
	return strings.TrimSuffix(report.ResultFileName(r.SubjectName, r.TimeRange), ".json") + "." + string(f)
}

func header() []string {
	h := []string{"timestamp", "date"}
	for _, p := range model.Platforms {
		h = append(h, p.String())
	}
	return h
}

// Write renders series in format f.
func Write(w io.Writer, f Format, series []model.DataPoint) error {
	switch f {
	case CSV:
		return WriteCSV(w, series)
	case XLSX:
		return WriteXLSX(w, series)
	}
	return fmt.Errorf("%w: unsupported export format %q", model.ErrInvalidRequest, f)
}

// WriteCSV writes one row per day, missing scores are empty.
func WriteCSV(w io.Writer, series []model.DataPoint) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header()); err != nil {
		return fmt.Errorf("writing csv header: %w", err)
	}
	for _, d := range series {
		rec := []string{
			strconv.FormatInt(d.Timestamp, 10),
			time.Unix(d.Timestamp, 0).UTC().Format(dateLayout),
		}
		for _, p := range model.Platforms {
			v := ""
			if s := d.Score(p); s != nil {
				v = strconv.FormatFloat(*s, 'f', -1, 64)
			}
			rec = append(rec, v)
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("writing csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteXLSX writes a workbook with a single Sentiment sheet laid out like
// the csv export.
func WriteXLSX(w io.Writer, series []model.DataPoint) error {
	file := xlsx.NewFile()
	sheet, err := file.AddSheet("Sentiment")
	if err != nil {
		return fmt.Errorf("adding sheet: %w", err)
	}

	row := sheet.AddRow()
	for _, h := range header() {
		row.AddCell().SetString(h)
	}
	for _, d := range series {
		row := sheet.AddRow()
		row.AddCell().SetInt64(d.Timestamp)
		row.AddCell().SetString(time.Unix(d.Timestamp, 0).UTC().Format(dateLayout))
		for _, p := range model.Platforms {
			cell := row.AddCell()
			if s := d.Score(p); s != nil {
				cell.SetFloat(*s)
			}
		}
	}
	if err := file.Write(w); err != nil {
		return fmt.Errorf("writing xlsx: %w", err)
	}
	return nil
}
