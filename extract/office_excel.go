package extract

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/xuri/excelize/v2"
)

// excelSheetCap and excelRowCap cap `.xlsx`-family files
// over 50 MiB: 3 sheets x 5,000 rows.
const (
	excelSheetCap = 3
	excelRowCap   = 5000
	excelLargeCap = 50 * 1024 * 1024
)

// extractExcel handles `.xlsx` and its variants: open as ZIP (excelize
// resolves xl/workbook.xml and shared strings internally), walk cells in
// workbook order, and emit numeric/date/boolean cells as their displayed
// string form.
func extractExcel(ctx context.Context, path string, info os.FileInfo) (Result, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return Result{}, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	capSheets := len(sheets)
	rowCap := -1
	if info.Size() > excelLargeCap {
		if capSheets > excelSheetCap {
			capSheets = excelSheetCap
		}
		rowCap = excelRowCap
	}

	var b strings.Builder
	for _, sheet := range sheets[:capSheets] {
		select {
		case <-ctx.Done():
			return Result{Text: b.String()}, nil
		default:
		}

		rows, err := f.GetRows(sheet)
		if err != nil {
			continue
		}
		b.WriteString(fmt.Sprintf("[%s]\n", sheet))

		limit := len(rows)
		if rowCap > 0 && limit > rowCap {
			limit = rowCap
		}
		for _, row := range rows[:limit] {
			b.WriteString(strings.Join(row, "\t"))
			b.WriteString("\n")
		}
	}
	return Result{Text: b.String()}, nil
}
