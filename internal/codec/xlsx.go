package codec

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/unicode/norm"

	"gitlab.com/dirk.krummacker/calllist-service/internal/apperrors"
)

// SheetName is the name of the sheet written into exported workbooks.
const SheetName = "Customers"

// columnWidths are the widths of the Header columns in written workbooks.
var columnWidths = []float64{10, 20, 15, 12, 18, 30}

// ReadWorkbook reads the first sheet of an xlsx workbook. The header row must
// contain exactly the Header columns, in any order. Completely blank rows are
// dropped. Excel date serials in the last-call column are converted to DD/MM/YYYY.
func ReadWorkbook(r io.Reader) ([]Row, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, apperrors.NewValidation("unreadable workbook: %v", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, apperrors.NewValidation("workbook has no sheets")
	}
	cells, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, apperrors.NewValidation("unreadable sheet %q: %v", sheets[0], err)
	}
	if len(cells) == 0 {
		return nil, apperrors.NewValidation("missing header row")
	}

	columns, err := mapHeader(cells[0])
	if err != nil {
		return nil, err
	}

	rows := make([]Row, 0, len(cells)-1)
	for _, line := range cells[1:] {
		row := Row{}
		blank := true
		for name, idx := range columns {
			if idx >= len(line) {
				row[name] = ""
				continue
			}
			value := line[idx]
			if strings.TrimSpace(value) != "" {
				blank = false
			}
			row[name] = value
		}
		if blank {
			continue
		}
		row[ColumnLastCall] = serialToDate(row[ColumnLastCall])
		rows = append(rows, row)
	}
	return rows, nil
}

// mapHeader returns the cell index of every Header column.
func mapHeader(header []string) (map[string]int, error) {
	known := make(map[string]string, len(Header))
	for _, h := range Header {
		known[norm.NFC.String(h)] = h
	}

	columns := make(map[string]int, len(Header))
	var unknown []string
	for i, cell := range header {
		name := norm.NFC.String(strings.TrimSpace(cell))
		if name == "" {
			continue
		}
		column, ok := known[name]
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		columns[column] = i
	}

	var missing []string
	for _, h := range Header {
		if _, ok := columns[h]; !ok {
			missing = append(missing, h)
		}
	}
	if len(missing) > 0 {
		return nil, apperrors.NewValidation("missing columns: %s", strings.Join(missing, ", "))
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, apperrors.NewValidation("unexpected columns: %s", strings.Join(unknown, ", "))
	}
	return columns, nil
}

// serialToDate converts an Excel date serial into DD/MM/YYYY. Anything else is
// returned unchanged so that the row decoder can judge it.
func serialToDate(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" || strings.Contains(trimmed, "/") {
		return value
	}
	serial, err := strconv.ParseFloat(trimmed, 64)
	if err != nil || serial <= 0 {
		return value
	}
	t, err := excelize.ExcelDateToTime(serial, false)
	if err != nil {
		return value
	}
	return t.Format("02/01/2006")
}

// WriteWorkbook writes rows under the Header columns into a single-sheet workbook.
func WriteWorkbook(w io.Writer, rows []Row) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return err
	}
	if err := writeRow(f, 1, headerValues()); err != nil {
		return err
	}
	for i, row := range rows {
		values := make([]any, len(Header))
		for j, column := range Header {
			values[j] = row[column]
		}
		if err := writeRow(f, i+2, values); err != nil {
			return err
		}
	}
	for i, width := range columnWidths {
		name, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		if err := f.SetColWidth(SheetName, name, name, width); err != nil {
			return err
		}
	}
	if err := f.Write(w); err != nil {
		return fmt.Errorf("could not write workbook: %w", err)
	}
	return nil
}

func headerValues() []any {
	values := make([]any, len(Header))
	for i, h := range Header {
		values[i] = h
	}
	return values
}

func writeRow(f *excelize.File, rowNumber int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, rowNumber)
	if err != nil {
		return err
	}
	return f.SetSheetRow(SheetName, cell, &values)
}
