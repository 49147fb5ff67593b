package factory

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/worktime-engine/generic"
	"github.com/xuri/excelize/v2"
)

func TestParseHolidaysXLSX(t *testing.T) {
	// GIVEN: a workbook with a headed sheet and a bare sheet
	f := excelize.NewFile()
	defer f.Close()

	rows := [][]any{
		{"Name", "Date", "Recurring"},
		{"Christmas", "2024-12-25", "yes"},
		{"New Year", 45292},
		{"Bad", "not a date"},
		{"", "2024-05-01"},
	}
	for i, row := range rows {
		cellRef, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cellRef, &row))
	}

	_, err := f.NewSheet("Extra")
	require.NoError(t, err)
	require.NoError(t, f.SetSheetRow("Extra", "A1", &[]any{"01/05/2024", "Labour Day"}))

	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	// WHEN
	imp, err := ParseHolidaysXLSX(bytes.NewReader(buf.Bytes()), "acme")

	// THEN
	require.NoError(t, err)
	require.Len(t, imp.Holidays, 3)

	byName := make(map[string]generic.Holiday)
	for _, h := range imp.Holidays {
		assert.Equal(t, "acme", h.CompanyID)
		assert.NotEmpty(t, h.ID)
		byName[h.Name] = h
	}
	assert.Equal(t, generic.MustParseDate("2024-12-25"), byName["Christmas"].Date)
	assert.True(t, byName["Christmas"].Recurring)
	assert.Equal(t, generic.MustParseDate("2024-01-01"), byName["New Year"].Date)
	assert.False(t, byName["New Year"].Recurring)
	assert.Equal(t, generic.MustParseDate("2024-05-01"), byName["Labour Day"].Date)

	assert.Len(t, imp.Skipped, 2)
	assert.Contains(t, imp.Skipped[0], "Sheet1!4")
	assert.Contains(t, imp.Skipped[1], "Sheet1!5: missing name")
}

func TestParseHolidaysXLSX_NotAWorkbook(t *testing.T) {
	_, err := ParseHolidaysXLSX(bytes.NewReader([]byte("date,name\n")), "")

	assert.Error(t, err)
}

func TestHolidayColumns(t *testing.T) {
	c, ok := holidayColumns([]string{" Holiday ", "DAY", "annual"})
	assert.True(t, ok)
	assert.Equal(t, columns{date: 1, name: 0, recurring: 2}, c)

	c, ok = holidayColumns([]string{"2024-12-25", "Christmas"})
	assert.False(t, ok)
	assert.Equal(t, columns{date: 0, name: 1, recurring: 2}, c)
}

func TestParseSheetDate(t *testing.T) {
	tests := []struct {
		raw     string
		want    string
		wantErr bool
	}{
		{raw: "2024-12-25", want: "2024-12-25"},
		{raw: " 25/12/2024 ", want: "2024-12-25"},
		{raw: "5/1/2024", want: "2024-01-05"},
		{raw: "2024/12/25", want: "2024-12-25"},
		{raw: "25-Dec-2024", want: "2024-12-25"},
		{raw: "45651", want: "2024-12-25"},
		{raw: "", wantErr: true},
		{raw: "Christmas", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := parseSheetDate(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, generic.MustParseDate(tt.want), got)
		})
	}
}

func TestTruthy(t *testing.T) {
	for _, v := range []string{"1", "true", "YES", " y ", "x"} {
		assert.True(t, truthy(v), v)
	}
	for _, v := range []string{"", "0", "no", "false"} {
		assert.False(t, truthy(v), v)
	}
}
