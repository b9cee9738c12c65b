package export

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"time"

	"github.com/iwsa-dev/iwsa/internal/types"
)

// JSONExporter writes rows to a timestamped JSON file wrapped in an
// export-metadata envelope.
type JSONExporter struct {
	dir    string
	now    func() time.Time
	logger *slog.Logger
}

func NewJSONExporter(dir string, logger *slog.Logger) *JSONExporter {
	return &JSONExporter{dir: dir, now: time.Now, logger: logger.With("component", "export.json")}
}

func (e *JSONExporter) Name() string { return "json" }

type jsonEnvelope struct {
	Metadata jsonExportMetadata `json:"metadata"`
	Data     []json.RawMessage  `json:"data"`
}

type jsonExportMetadata struct {
	ExportedAt   string `json:"exported_at"`
	TotalRecords int    `json:"total_records"`
	Source       string `json:"source"`
	ExportFormat string `json:"export_format"`
}

func (e *JSONExporter) Export(_ context.Context, rows []*types.Row, meta Metadata) *Result {
	start := time.Now()
	res := &Result{Exporter: e.Name()}
	if len(rows) == 0 {
		res.Error = "no rows to export"
		res.Elapsed = time.Since(start)
		return res
	}

	prepared := prepareRows(rows)
	data := make([]json.RawMessage, 0, len(prepared))
	for _, row := range prepared {
		obj := make(map[string]any, len(row.Fields))
		for k, v := range row.Fields {
			obj[k] = v
		}
		b, err := json.Marshal(obj)
		if err != nil {
			b, _ = json.Marshal(row.ToFlatMap())
		}
		data = append(data, b)
	}

	envelope := jsonEnvelope{
		Metadata: jsonExportMetadata{
			ExportedAt:   e.now().UTC().Format(time.RFC3339),
			TotalRecords: len(prepared),
			Source:       meta.SourceURL,
			ExportFormat: "json",
		},
		Data: data,
	}

	encoded, err := json.MarshalIndent(envelope, "", "  ")
	if err != nil {
		res.Error = err.Error()
		res.Elapsed = time.Since(start)
		return res
	}

	path := exportFilename(e.dir, meta.SourceDomain, "json", e.now())
	if err := os.WriteFile(path, encoded, 0o644); err != nil {
		res.Error = err.Error()
		res.Elapsed = time.Since(start)
		return res
	}

	res.Success = true
	res.Destination = path
	res.Records = len(prepared)
	res.Elapsed = time.Since(start)
	e.logger.Info("json export complete", "path", path, "records", res.Records)
	return res
}
