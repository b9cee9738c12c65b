package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/iwsa-dev/iwsa/internal/export"
	"github.com/iwsa-dev/iwsa/internal/types"
)

// Store persists processed rows. Implementations deduplicate by content
// hash and report how many rows were newly written.
type Store interface {
	Store(ctx context.Context, rows []*types.Row) (int, error)
}

// Options toggles individual stages. The zero value runs everything.
type Options struct {
	SkipCleaning   bool
	SkipValidation bool
	SkipEnrichment bool
}

// Result is the outcome of a full pipeline run.
type Result struct {
	Success    bool                   `json:"success"`
	Rows       []*types.Row           `json:"-"`
	StageOrder []string               `json:"stage_order"`
	Stages     map[string]*StageStats `json:"stages"`
	Exports    []*export.Result       `json:"exports,omitempty"`
	Stored     int                    `json:"stored"`
	Errors     []string               `json:"errors,omitempty"`
	Elapsed    time.Duration          `json:"elapsed"`
}

// Pipeline runs rows through cleaning, validation, and enrichment, then
// fans out to the configured exporters and the document store.
type Pipeline struct {
	opts      Options
	exporters []export.Exporter
	store     Store
	logger    *slog.Logger

	cleaner   *Cleaner
	validator *Validator
	enricher  *Enricher
}

// New builds a pipeline. store may be nil when persistence is disabled;
// exporters may be empty when only storage is wanted.
func New(opts Options, exporters []export.Exporter, store Store, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		opts:      opts,
		exporters: exporters,
		store:     store,
		logger:    logger.With("component", "pipeline"),
		cleaner:   NewCleaner(),
		validator: NewValidator(),
		enricher:  NewEnricher(),
	}
}

// stages returns the enabled stages in execution order.
func (p *Pipeline) stages() []Stage {
	var out []Stage
	if !p.opts.SkipCleaning {
		out = append(out, p.cleaner)
	}
	if !p.opts.SkipValidation {
		out = append(out, p.validator)
	}
	if !p.opts.SkipEnrichment {
		out = append(out, p.enricher)
	}
	return out
}

// Process runs the enabled stages over the rows. Individual row failures
// never abort the run; the failing rows pass through unmodified.
func (p *Pipeline) Process(ctx context.Context, rows []*types.Row) *Result {
	start := time.Now()
	res := &Result{
		Rows:   rows,
		Stages: make(map[string]*StageStats),
	}

	for _, stage := range p.stages() {
		if ctx.Err() != nil {
			res.Errors = append(res.Errors, "pipeline cancelled")
			break
		}
		res.Rows, res.Stages[stage.Name()] = runStage(ctx, stage, res.Rows, p.logger)
		res.StageOrder = append(res.StageOrder, stage.Name())
	}

	res.Success = len(res.Rows) > 0 && len(res.Errors) == 0
	res.Elapsed = time.Since(start)
	return res
}

// ProcessAndExport runs the stages, persists the rows, and fans the
// result out to all exporters concurrently. The run succeeds when rows
// survived processing, nothing failed at the pipeline level, and at
// least one exporter succeeded.
func (p *Pipeline) ProcessAndExport(ctx context.Context, rows []*types.Row, meta export.Metadata) *Result {
	start := time.Now()
	res := p.Process(ctx, rows)

	if len(res.Rows) == 0 {
		res.Errors = append(res.Errors, "no rows to export")
		res.Success = false
		res.Elapsed = time.Since(start)
		return res
	}

	if p.store != nil {
		stored, err := p.store.Store(ctx, res.Rows)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("storage: %v", err))
		}
		res.Stored = stored
	}

	res.Exports = p.runExporters(ctx, res.Rows, meta)
	exported := 0
	for _, er := range res.Exports {
		if er.Success {
			exported++
		} else {
			p.logger.Warn("exporter failed", "exporter", er.Exporter, "error", er.Error)
		}
	}

	res.Success = len(res.Rows) > 0 && len(res.Errors) == 0 && (len(p.exporters) == 0 || exported > 0)
	res.Elapsed = time.Since(start)
	p.logger.Info("pipeline run complete",
		"rows", len(res.Rows),
		"stored", res.Stored,
		"exporters_succeeded", exported,
		"exporters_total", len(p.exporters),
		"success", res.Success,
		"elapsed", res.Elapsed,
	)
	return res
}

// StoreOnly persists rows without running exporters.
func (p *Pipeline) StoreOnly(ctx context.Context, rows []*types.Row) (int, error) {
	if p.store == nil {
		return 0, fmt.Errorf("no document store configured")
	}
	return p.store.Store(ctx, rows)
}

// ExportExisting fans already-processed rows out to the exporters,
// skipping the transform stages.
func (p *Pipeline) ExportExisting(ctx context.Context, rows []*types.Row, meta export.Metadata) []*export.Result {
	return p.runExporters(ctx, rows, meta)
}

func (p *Pipeline) runExporters(ctx context.Context, rows []*types.Row, meta export.Metadata) []*export.Result {
	if len(p.exporters) == 0 {
		return nil
	}
	results := make([]*export.Result, len(p.exporters))
	var wg sync.WaitGroup
	for i, exp := range p.exporters {
		wg.Add(1)
		go func(i int, exp export.Exporter) {
			defer wg.Done()
			results[i] = exp.Export(ctx, rows, meta)
		}(i, exp)
	}
	wg.Wait()
	return results
}
