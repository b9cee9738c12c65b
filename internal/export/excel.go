package export

import (
	"context"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/iwsa-dev/iwsa/internal/types"
)

const (
	excelSheetName   = "Scraped Data"
	excelMaxColWidth = 50
)

// ExcelExporter writes rows to a formatted .xlsx workbook.
type ExcelExporter struct {
	dir    string
	now    func() time.Time
	logger *slog.Logger
}

func NewExcelExporter(dir string, logger *slog.Logger) *ExcelExporter {
	return &ExcelExporter{dir: dir, now: time.Now, logger: logger.With("component", "export.excel")}
}

func (e *ExcelExporter) Name() string { return "excel" }

func (e *ExcelExporter) Export(_ context.Context, rows []*types.Row, meta Metadata) *Result {
	start := time.Now()
	res := &Result{Exporter: e.Name()}
	if len(rows) == 0 {
		res.Error = "no rows to export"
		res.Elapsed = time.Since(start)
		return res
	}

	prepared := prepareRows(rows)
	cols := columnOrder(prepared)

	f := excelize.NewFile()
	defer f.Close()
	idx, err := f.NewSheet(excelSheetName)
	if err != nil {
		res.Error = err.Error()
		res.Elapsed = time.Since(start)
		return res
	}
	f.SetActiveSheet(idx)
	f.DeleteSheet("Sheet1")

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"CCCCCC"}},
	})
	if err != nil {
		res.Error = err.Error()
		res.Elapsed = time.Since(start)
		return res
	}

	widths := make([]int, len(cols))
	for i, col := range cols {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(excelSheetName, cell, col); err != nil {
			res.Error = err.Error()
			res.Elapsed = time.Since(start)
			return res
		}
		if err := f.SetCellStyle(excelSheetName, cell, cell, headerStyle); err != nil {
			res.Error = err.Error()
			res.Elapsed = time.Since(start)
			return res
		}
		widths[i] = len(col)
	}

	for r, row := range prepared {
		flat := row.ToFlatMap()
		for i, col := range cols {
			value := flat[col]
			cell, _ := excelize.CoordinatesToCellName(i+1, r+2)
			if err := f.SetCellValue(excelSheetName, cell, value); err != nil {
				res.Error = err.Error()
				res.Elapsed = time.Since(start)
				return res
			}
			if len(value) > widths[i] {
				widths[i] = len(value)
			}
		}
	}

	for i := range cols {
		width := widths[i] + 2
		if width > excelMaxColWidth {
			width = excelMaxColWidth
		}
		name, _ := excelize.ColumnNumberToName(i + 1)
		if err := f.SetColWidth(excelSheetName, name, name, float64(width)); err != nil {
			res.Error = err.Error()
			res.Elapsed = time.Since(start)
			return res
		}
	}

	path := exportFilename(e.dir, meta.SourceDomain, "xlsx", e.now())
	if err := f.SaveAs(path); err != nil {
		res.Error = err.Error()
		res.Elapsed = time.Since(start)
		return res
	}

	res.Success = true
	res.Destination = path
	res.Records = len(prepared)
	res.Elapsed = time.Since(start)
	e.logger.Info("excel export complete", "path", path, "records", res.Records)
	return res
}
