// Package report renders attendance exports as CSV or XLSX.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/xiello/qrchek/internal/attendance"
	"github.com/xiello/qrchek/internal/model"
	"github.com/xiello/qrchek/internal/payroll"
)

// Format is an export file format.
type Format string

const (
	CSV  Format = "csv"
	XLSX Format = "xlsx"
)

// ParseFormat validates a format name; empty means CSV.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case "", CSV:
		return CSV, nil
	case XLSX:
		return XLSX, nil
	}
	return "", fmt.Errorf("unknown export format %q", s)
}

// ContentType returns the MIME type for f.
func (f Format) ContentType() string {
	if f == XLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv"
}

// Placeholder fills cells of an open shift.
const Placeholder = "-"

// Table is a header plus rows of string, float64 or int cells.
type Table struct {
	Sheet  string
	Header []string
	Rows   [][]any
}

// Summary builds one row per employee with today/week/month totals.
func Summary(employees []attendance.EmployeeSummary) Table {
	t := Table{
		Sheet: "Summary",
		Header: []string{
			"Employee", "Email", "Hourly Rate (EUR)",
			"Hours Today", "Payment Today (EUR)",
			"Hours Week", "Payment Week (EUR)",
			"Hours Month", "Payment Month (EUR)",
		},
	}
	for _, e := range employees {
		t.Rows = append(t.Rows, []any{
			e.Name, e.Email, e.Rate(),
			e.Today.Hours, e.Today.Payment,
			e.Week.Hours, e.Week.Payment,
			e.Month.Hours, e.Month.Payment,
		})
	}
	return t
}

// Detailed builds one row per shift. rates maps employee id to hourly rate;
// times are rendered in loc.
func Detailed(records []model.Record, rates map[string]float64, loc *time.Location) Table {
	if loc == nil {
		loc = time.UTC
	}
	t := Table{
		Sheet:  "Attendance",
		Header: []string{"Employee", "Date", "Arrival", "Departure", "Duration (hours)", "Payment (EUR)"},
	}

	buckets := payroll.GroupByEmployee(records)
	ids := make([]string, 0, len(buckets))
	for id := range buckets {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return buckets[ids[i]][0].EmployeeName < buckets[ids[j]][0].EmployeeName
	})

	for _, id := range ids {
		rate, ok := rates[id]
		if !ok {
			rate = model.DefaultHourlyRate
		}
		for _, shift := range payroll.Pair(buckets[id]) {
			arr := shift.Arrival.Timestamp.In(loc)
			row := []any{shift.Arrival.EmployeeName, arr.Format("2006-01-02"), arr.Format("15:04:05")}
			if shift.Departure == nil {
				row = append(row, Placeholder, Placeholder, Placeholder)
			} else {
				hours := shift.Duration().Hours()
				row = append(row,
					shift.Departure.Timestamp.In(loc).Format("15:04:05"),
					payroll.Round2(hours),
					payroll.Round2(hours*rate),
				)
			}
			t.Rows = append(t.Rows, row)
		}
	}
	return t
}

func cellString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', 2, 64)
	case int:
		return strconv.Itoa(x)
	default:
		return fmt.Sprint(x)
	}
}

// WriteCSV writes t as CSV.
func WriteCSV(w io.Writer, t Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Header); err != nil {
		return err
	}
	for _, row := range t.Rows {
		rec := make([]string, len(row))
		for i, v := range row {
			rec[i] = cellString(v)
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteXLSX writes t as a single-sheet workbook.
func WriteXLSX(w io.Writer, t Table) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := t.Sheet
	if sheet == "" {
		sheet = "Sheet1"
	}
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return err
	}

	header := make([]any, len(t.Header))
	for i, h := range t.Header {
		header[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	if err := f.SetRowStyle(sheet, 1, 1, bold); err != nil {
		return err
	}

	for i, row := range t.Rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		r := row
		if err := f.SetSheetRow(sheet, cell, &r); err != nil {
			return err
		}
	}
	_, err = f.WriteTo(w)
	return err
}

// Write renders t in the requested format.
func Write(w io.Writer, format Format, t Table) error {
	if format == XLSX {
		return WriteXLSX(w, t)
	}
	return WriteCSV(w, t)
}
