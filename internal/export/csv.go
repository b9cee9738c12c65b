package export

import (
	"context"
	"encoding/csv"
	"log/slog"
	"os"
	"time"

	"github.com/iwsa-dev/iwsa/internal/types"
)

// CSVExporter writes rows to a timestamped CSV file in the output directory.
type CSVExporter struct {
	dir    string
	now    func() time.Time
	logger *slog.Logger
}

func NewCSVExporter(dir string, logger *slog.Logger) *CSVExporter {
	return &CSVExporter{dir: dir, now: time.Now, logger: logger.With("component", "export.csv")}
}

func (e *CSVExporter) Name() string { return "csv" }

func (e *CSVExporter) Export(_ context.Context, rows []*types.Row, meta Metadata) *Result {
	start := time.Now()
	res := &Result{Exporter: e.Name()}
	if len(rows) == 0 {
		res.Error = "no rows to export"
		res.Elapsed = time.Since(start)
		return res
	}

	prepared := prepareRows(rows)
	cols := columnOrder(prepared)
	path := exportFilename(e.dir, meta.SourceDomain, "csv", e.now())

	f, err := os.Create(path)
	if err != nil {
		res.Error = err.Error()
		res.Elapsed = time.Since(start)
		return res
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(cols); err != nil {
		res.Error = err.Error()
		res.Elapsed = time.Since(start)
		return res
	}
	record := make([]string, len(cols))
	for _, row := range prepared {
		flat := row.ToFlatMap()
		for i, col := range cols {
			record[i] = flat[col]
		}
		if err := w.Write(record); err != nil {
			res.Error = err.Error()
			res.Elapsed = time.Since(start)
			return res
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		res.Error = err.Error()
		res.Elapsed = time.Since(start)
		return res
	}

	res.Success = true
	res.Destination = path
	res.Records = len(prepared)
	res.Elapsed = time.Since(start)
	e.logger.Info("csv export complete", "path", path, "records", res.Records)
	return res
}
