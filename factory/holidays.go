package factory

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/warp/worktime-engine/generic"
	"github.com/xuri/excelize/v2"
)

// HolidayImport is the result of reading a holiday spreadsheet.
type HolidayImport struct {
	Holidays []generic.Holiday
	Skipped  []string // "Sheet!row: reason"
}

// ParseHolidaysXLSX reads holidays from every sheet of a workbook.
//
// The first row of a sheet may be a header naming the "date", "name" and
// optional "recurring" columns; without a header the first column is the
// date and the second the name. Dates may be ISO strings, common d/m/y
// layouts, or raw Excel serial numbers.
func ParseHolidaysXLSX(r io.Reader, companyID string) (*HolidayImport, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	out := &HolidayImport{}
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
		if err != nil {
			return nil, fmt.Errorf("read sheet %s: %w", sheet, err)
		}
		if len(rows) == 0 {
			continue
		}

		cols, hasHeader := holidayColumns(rows[0])
		for i, row := range rows {
			if i == 0 && hasHeader {
				continue
			}
			if isBlank(row) {
				continue
			}
			where := fmt.Sprintf("%s!%d", sheet, i+1)

			rawDate := cell(row, cols.date)
			date, err := parseSheetDate(rawDate)
			if err != nil {
				out.Skipped = append(out.Skipped, fmt.Sprintf("%s: %v", where, err))
				continue
			}
			name := strings.TrimSpace(cell(row, cols.name))
			if name == "" {
				out.Skipped = append(out.Skipped, where+": missing name")
				continue
			}

			out.Holidays = append(out.Holidays, generic.Holiday{
				ID:        uuid.NewString(),
				CompanyID: companyID,
				Date:      date,
				Name:      name,
				Recurring: cols.recurring >= 0 && truthy(cell(row, cols.recurring)),
			})
		}
	}
	return out, nil
}

type columns struct {
	date, name, recurring int
}

func holidayColumns(header []string) (columns, bool) {
	c := columns{date: -1, name: -1, recurring: -1}
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "date", "day":
			c.date = i
		case "name", "holiday", "description":
			c.name = i
		case "recurring", "annual", "yearly":
			c.recurring = i
		}
	}
	if c.date >= 0 && c.name >= 0 {
		return c, true
	}
	return columns{date: 0, name: 1, recurring: 2}, false
}

var sheetDateLayouts = []string{
	generic.DateLayout,
	"02/01/2006",
	"2/1/2006",
	"2006/01/02",
	"02-Jan-2006",
	"2006-01-02T15:04:05Z",
}

func parseSheetDate(raw string) (generic.Date, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return generic.Date{}, fmt.Errorf("missing date")
	}
	if serial, err := strconv.ParseFloat(raw, 64); err == nil {
		t, err := excelize.ExcelDateToTime(serial, false)
		if err != nil {
			return generic.Date{}, fmt.Errorf("bad serial date %q: %w", raw, err)
		}
		return generic.DateOf(t), nil
	}
	for _, layout := range sheetDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return generic.DateOf(t), nil
		}
	}
	return generic.Date{}, fmt.Errorf("unknown date format %q", raw)
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}

func isBlank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y", "x":
		return true
	}
	return false
}
