// Package pipeline implements the post-extraction data pipeline:
// cleaning, validation, enrichment, and fan-out to exporters and the
// document store, with per-stage statistics.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/iwsa-dev/iwsa/internal/types"
)

const maxStageErrors = 10

// Stage transforms one row in place. Returning an error keeps the
// original row; the pipeline never loses data to a stage failure.
type Stage interface {
	// Name identifies the stage in stats and logs.
	Name() string

	// ProcessRow mutates the row and reports how many modifications it
	// made.
	ProcessRow(row *types.Row) (modifications int, err error)
}

// StageStats accumulates per-stage outcomes.
type StageStats struct {
	Total         int           `json:"total"`
	Processed     int           `json:"processed"`
	Failed        int           `json:"failed"`
	Modifications int           `json:"modifications"`
	Elapsed       time.Duration `json:"elapsed"`
	Errors        []string      `json:"errors,omitempty"`
}

func (s *StageStats) addError(msg string) {
	if len(s.Errors) < maxStageErrors {
		s.Errors = append(s.Errors, msg)
	}
}

// runStage applies a stage to every row. Rows whose transform fails are
// carried forward unmodified.
func runStage(ctx context.Context, stage Stage, rows []*types.Row, logger *slog.Logger) ([]*types.Row, *StageStats) {
	start := time.Now()
	stats := &StageStats{Total: len(rows)}

	out := make([]*types.Row, 0, len(rows))
	for i, row := range rows {
		if ctx.Err() != nil {
			// Remaining rows pass through untouched on cancellation.
			out = append(out, rows[i:]...)
			break
		}

		work := row.Clone()
		mods, err := stage.ProcessRow(work)
		if err != nil {
			stats.Failed++
			stats.addError(fmt.Sprintf("row %d: %v", i, err))
			out = append(out, row)
			continue
		}
		stats.Processed++
		stats.Modifications += mods
		out = append(out, work)
	}

	stats.Elapsed = time.Since(start)
	logger.Debug("stage complete",
		"stage", stage.Name(),
		"total", stats.Total,
		"processed", stats.Processed,
		"failed", stats.Failed,
		"modifications", stats.Modifications,
		"elapsed", stats.Elapsed,
	)
	return out, stats
}
