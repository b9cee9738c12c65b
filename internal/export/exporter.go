// Package export writes processed rows to their destinations: CSV, JSON,
// and Excel files, plus Google Sheets.
package export

import (
	"context"
	"time"

	"github.com/iwsa-dev/iwsa/internal/types"
)

// Metadata keys that survive into exported output. Everything else
// underscore-prefixed is internal bookkeeping.
var exportedMetadataKeys = map[string]bool{
	types.KeySourceURL:       true,
	types.KeyExtractedAt:     true,
	types.KeyValidationScore: true,
}

// Metadata describes the export context.
type Metadata struct {
	SourceURL       string
	SourceDomain    string
	SpreadsheetName string
}

// Result reports one exporter's outcome.
type Result struct {
	Exporter    string        `json:"exporter"`
	Success     bool          `json:"success"`
	Destination string        `json:"destination,omitempty"`
	Records     int           `json:"records"`
	Elapsed     time.Duration `json:"elapsed"`
	Error       string        `json:"error,omitempty"`
}

// Exporter writes rows to one destination.
type Exporter interface {
	Name() string
	Export(ctx context.Context, rows []*types.Row, meta Metadata) *Result
}

// prepareRows strips internal metadata down to the exported whitelist.
func prepareRows(rows []*types.Row) []*types.Row {
	out := make([]*types.Row, 0, len(rows))
	for _, row := range rows {
		clean := types.NewRow()
		for _, key := range row.Keys() {
			if types.IsMetadataKey(key) && !exportedMetadataKeys[key] {
				continue
			}
			if v, ok := row.Get(key); ok {
				clean.Set(key, v)
			}
		}
		out = append(out, clean)
	}
	return out
}

// columnOrder returns the union of row keys in first-seen order, so the
// header follows extraction order even when later rows add fields.
func columnOrder(rows []*types.Row) []string {
	seen := make(map[string]bool)
	var cols []string
	for _, row := range rows {
		for _, key := range row.Keys() {
			if !seen[key] {
				seen[key] = true
				cols = append(cols, key)
			}
		}
	}
	return cols
}
