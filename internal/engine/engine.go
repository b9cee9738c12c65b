// Package engine orchestrates a scrape run end to end: reconnaissance,
// strategy generation, browser extraction, deduplication, and the data
// pipeline.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/iwsa-dev/iwsa/internal/antidetect"
	"github.com/iwsa-dev/iwsa/internal/config"
	"github.com/iwsa-dev/iwsa/internal/export"
	"github.com/iwsa-dev/iwsa/internal/fetcher"
	"github.com/iwsa-dev/iwsa/internal/llm"
	"github.com/iwsa-dev/iwsa/internal/pipeline"
	"github.com/iwsa-dev/iwsa/internal/types"
)

// StrategyGenerator produces extraction strategies from sampled HTML.
type StrategyGenerator interface {
	GenerateStrategy(ctx context.Context, html, url, intent string, fields []string) (*llm.Strategy, error)
}

// Scraper runs a strategy against the live site.
type Scraper interface {
	Scrape(ctx context.Context, targetURL string, strategy *llm.Strategy, fields []string, profile antidetect.Profile, maxPages int) (*types.ExtractionResult, error)
}

// Processor runs extracted rows through the data pipeline.
type Processor interface {
	ProcessAndExport(ctx context.Context, rows []*types.Row, meta export.Metadata) *pipeline.Result
}

// Snapshotter fetches a reconnaissance HTML snapshot.
type Snapshotter interface {
	Sample(ctx context.Context, rawURL string) (*fetcher.Snapshot, error)
}

// RobotsChecker gates targets by robots.txt.
type RobotsChecker interface {
	IsAllowed(rawURL string) bool
}

// RunRequest describes one scrape run.
type RunRequest struct {
	URL      string
	Intent   string
	Fields   []string
	Profile  string // empty picks the configured default
	MaxPages int
}

// RunResult is the outcome of one scrape run.
type RunResult struct {
	RunID      string                  `json:"run_id"`
	URL        string                  `json:"url"`
	Profile    string                  `json:"profile"`
	Strategy   *llm.Strategy           `json:"strategy,omitempty"`
	Site       *types.SiteMetadata     `json:"site,omitempty"`
	Extraction *types.ExtractionResult `json:"-"`
	Pipeline   *pipeline.Result        `json:"pipeline,omitempty"`
	Deduped    int                     `json:"deduped"`
	Success    bool                    `json:"success"`
	Cancelled  bool                    `json:"cancelled"`
	Errors     []string                `json:"errors,omitempty"`
	Elapsed    time.Duration           `json:"elapsed"`
}

// Engine wires the three cores into a run loop.
type Engine struct {
	cfg       *config.Config
	generator StrategyGenerator
	scraper   Scraper
	processor Processor
	sampler   Snapshotter
	robots    RobotsChecker
	dedup     *Deduplicator
	stats     *Stats
	logger    *slog.Logger
}

func New(cfg *config.Config, generator StrategyGenerator, scraper Scraper, processor Processor, sampler Snapshotter, robots RobotsChecker, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:       cfg,
		generator: generator,
		scraper:   scraper,
		processor: processor,
		sampler:   sampler,
		robots:    robots,
		dedup:     NewDeduplicator(1024),
		stats:     NewStats(),
		logger:    logger.With("component", "engine"),
	}
}

// Stats returns the engine's run counters.
func (e *Engine) Stats() *Stats { return e.stats }

// Run executes one scrape end to end. The returned RunResult is non-nil
// even on failure; the error reports what stopped the run.
func (e *Engine) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	start := time.Now()
	runID := types.NewID("run")
	logger := e.logger.With("request_id", runID, "url", req.URL)

	res := &RunResult{RunID: runID, URL: req.URL}
	fail := func(err error) (*RunResult, error) {
		res.Errors = append(res.Errors, err.Error())
		res.Elapsed = time.Since(start)
		e.stats.RunsFailed.Add(1)
		return res, err
	}

	e.stats.RunsStarted.Add(1)

	target := CanonicalizeURL(req.URL)
	parsed, err := url.Parse(target)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return fail(fmt.Errorf("%w: %q", types.ErrInvalidURL, req.URL))
	}
	res.URL = target
	domain := parsed.Hostname()

	// Robots gate fails the run before any browser work.
	if e.cfg.Scraping.RespectRobotsTxt && !e.robots.IsAllowed(target) {
		return fail(fmt.Errorf("%w: %s", types.ErrRobotsDisallowed, target))
	}

	snapshot, err := e.sampler.Sample(ctx, target)
	if err != nil {
		if ctx.Err() != nil {
			return e.cancelled(res, start)
		}
		return fail(fmt.Errorf("reconnaissance: %w", err))
	}
	logger.Info("snapshot sampled", "status", snapshot.StatusCode, "bytes", len(snapshot.HTML))

	profile := e.selectProfile(req.Profile, snapshot)
	res.Profile = profile.Name

	strategy, err := e.generator.GenerateStrategy(ctx, snapshot.HTML, target, req.Intent, req.Fields)
	if err != nil {
		if ctx.Err() != nil {
			return e.cancelled(res, start)
		}
		return fail(fmt.Errorf("strategy generation: %w", err))
	}
	res.Strategy = strategy
	res.Site = siteMetadata(target, profile.Name, strategy)
	logger.Info("strategy generated",
		"backend", strategy.Backend,
		"confidence", strategy.Confidence,
		"selectors", len(strategy.Selectors),
	)

	maxPages := req.MaxPages
	if maxPages <= 0 {
		maxPages = e.cfg.Scraping.MaxPagesPerSession
	}

	extraction, err := e.scraper.Scrape(ctx, target, strategy, req.Fields, profile, maxPages)
	if extraction != nil {
		res.Extraction = extraction
		res.Errors = append(res.Errors, extraction.Errors...)
		e.stats.PagesProcessed.Add(int64(extraction.PagesProcessed))
		e.stats.RowsExtracted.Add(int64(extraction.TotalRows()))
	}
	if err != nil {
		if ctx.Err() != nil || (extraction != nil && extraction.Cancelled) {
			return e.cancelled(res, start)
		}
		e.stats.recordDomain(domain, 0, true)
		return fail(fmt.Errorf("extraction: %w", err))
	}

	rows, dropped := e.dedup.Filter(extraction.Rows)
	res.Deduped = dropped
	e.stats.RowsDeduped.Add(int64(dropped))
	if dropped > 0 {
		logger.Info("duplicate rows dropped", "count", dropped)
	}
	if len(rows) == 0 {
		e.stats.recordDomain(domain, 0, true)
		return fail(fmt.Errorf("no new rows extracted from %s", target))
	}

	pipelineRes := e.processor.ProcessAndExport(ctx, rows, export.Metadata{
		SourceURL:    target,
		SourceDomain: domain,
	})
	res.Pipeline = pipelineRes
	res.Errors = append(res.Errors, pipelineRes.Errors...)
	e.stats.RowsStored.Add(int64(pipelineRes.Stored))

	res.Success = extraction.Success && pipelineRes.Success
	res.Elapsed = time.Since(start)
	e.stats.recordDomain(domain, len(rows), !res.Success)
	if res.Success {
		e.stats.RunsSucceeded.Add(1)
	} else {
		e.stats.RunsFailed.Add(1)
	}

	logger.Info("run complete",
		"success", res.Success,
		"rows", len(rows),
		"pages", extraction.PagesProcessed,
		"deduped", dropped,
		"elapsed", res.Elapsed,
	)
	return res, nil
}

func (e *Engine) cancelled(res *RunResult, start time.Time) (*RunResult, error) {
	res.Cancelled = true
	res.Errors = append(res.Errors, types.ErrCancelled.Error())
	res.Elapsed = time.Since(start)
	e.stats.RunsFailed.Add(1)
	return res, types.ErrCancelled
}

// siteMetadata summarizes what the run learned about the target site.
func siteMetadata(target, profile string, strategy *llm.Strategy) *types.SiteMetadata {
	meta := &types.SiteMetadata{
		URL:                target,
		PaginationKind:     strategy.Pagination.Type,
		RecommendedProfile: profile,
	}
	for _, f := range strategy.Filters {
		if f.Name != "" {
			meta.DiscoveredFilters = append(meta.DiscoveredFilters, f.Name)
		}
	}
	return meta
}

// selectProfile resolves the run profile: explicit request, then signals
// from the reconnaissance snapshot, then the configured default.
func (e *Engine) selectProfile(requested string, snapshot *fetcher.Snapshot) antidetect.Profile {
	if requested != "" {
		return antidetect.ProfileByName(requested)
	}
	challenge := antidetect.DetectChallenge(snapshot.HTML, snapshot.StatusCode)
	if challenge.Kind != antidetect.ChallengeNone {
		name := antidetect.RecommendProfile(
			challenge.Kind != antidetect.ChallengeRateLimit,
			challenge.Kind == antidetect.ChallengeRateLimit,
		)
		e.logger.Info("challenge seen during reconnaissance, adjusting profile",
			"challenge", challenge.Kind, "profile", name)
		return antidetect.ProfileByName(name)
	}
	return antidetect.ProfileByName(e.cfg.Scraping.DefaultProfile)
}
