// Package iwsa provides a public SDK for embedding the scraping agent as
// a library.
//
// Example usage:
//
//	agent, err := iwsa.New(
//	    iwsa.WithFormats("json", "csv"),
//	    iwsa.WithProfile("stealth"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer agent.Close()
//
//	result, err := agent.Scrape(ctx, "https://example.com/products",
//	    "extract product names and prices",
//	    iwsa.ScrapeOptions{Fields: []string{"name", "price"}},
//	)
package iwsa

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"sort"
	"strings"

	"github.com/iwsa-dev/iwsa/internal/antidetect"
	"github.com/iwsa-dev/iwsa/internal/browser"
	"github.com/iwsa-dev/iwsa/internal/config"
	"github.com/iwsa-dev/iwsa/internal/engine"
	"github.com/iwsa-dev/iwsa/internal/export"
	"github.com/iwsa-dev/iwsa/internal/fetcher"
	"github.com/iwsa-dev/iwsa/internal/llm"
	"github.com/iwsa-dev/iwsa/internal/pipeline"
	"github.com/iwsa-dev/iwsa/internal/ratelimit"
	"github.com/iwsa-dev/iwsa/internal/scraper"
	"github.com/iwsa-dev/iwsa/internal/session"
	"github.com/iwsa-dev/iwsa/internal/storage"
	"github.com/iwsa-dev/iwsa/internal/types"
)

// Agent is the high-level API for running scrape jobs.
type Agent struct {
	cfg          *config.Config
	logger       *slog.Logger
	orchestrator *llm.Orchestrator
	pool         *browser.Pool
	sampler      *fetcher.Sampler
	store        *storage.Mongo
	pipe         *pipeline.Pipeline
	engine       *engine.Engine
	formats      []string
}

// Option configures an Agent.
type Option func(*settings)

type settings struct {
	cfg     *config.Config
	logger  *slog.Logger
	formats []string
}

// WithConfig supplies a full configuration instead of the defaults.
func WithConfig(cfg *config.Config) Option {
	return func(s *settings) { s.cfg = cfg }
}

// WithLogger supplies a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) { s.logger = logger }
}

// WithFormats selects the export formats (csv, json, excel, sheets).
func WithFormats(formats ...string) Option {
	return func(s *settings) { s.formats = formats }
}

// WithProfile sets the default anti-detection profile.
func WithProfile(name string) Option {
	return func(s *settings) { s.cfg.Scraping.DefaultProfile = name }
}

// WithOutputDir sets the directory for file exports.
func WithOutputDir(dir string) Option {
	return func(s *settings) { s.cfg.Storage.OutputDir = dir }
}

// WithDocumentStore points the agent at a MongoDB instance.
func WithDocumentStore(uri string) Option {
	return func(s *settings) { s.cfg.Storage.DocumentStoreURI = uri }
}

// WithRobotsRespect enables or disables robots.txt compliance.
func WithRobotsRespect(respect bool) Option {
	return func(s *settings) { s.cfg.Scraping.RespectRobotsTxt = respect }
}

// WithVerbose enables debug-level logging.
func WithVerbose() Option {
	return func(s *settings) { s.cfg.Logging.Level = "debug" }
}

// ScrapeOptions tunes one scrape call.
type ScrapeOptions struct {
	Fields   []string
	Profile  string
	MaxPages int
}

// Health is the aggregate component health report.
type Health struct {
	Overall string            `json:"overall"`
	LLM     *llm.HealthReport `json:"llm"`
	Storage string            `json:"storage"`
	Pool    browser.PoolStats `json:"pool"`
}

// New builds a fully wired Agent.
func New(opts ...Option) (*Agent, error) {
	s := &settings{
		cfg:     config.DefaultConfig(),
		formats: []string{"json"},
	}
	for _, opt := range opts {
		opt(s)
	}
	cfg := s.cfg
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	logger := s.logger
	if logger == nil {
		level := slog.LevelInfo
		if cfg.Logging.Level == "debug" {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	}

	orchestrator := llm.NewOrchestrator(&cfg.LLM, logger)
	rotator := browser.NewProxyRotator(cfg.Scraping.ProxyURLs, logger)
	pool := browser.NewPool(&cfg.Scraping, rotator, logger)
	sessions := session.NewManager(logger)
	limits := ratelimit.NewRegistry(1, logger)
	timing := antidetect.NewTimingMonitor()
	executor := scraper.NewExecutor(pool, sessions, limits, timing, orchestrator, logger)
	sampler := fetcher.NewSampler(&cfg.Scraping, logger)
	robots := fetcher.NewRobots(cfg.Scraping.RespectRobotsTxt)

	var store *storage.Mongo
	if cfg.Storage.DocumentStoreURI != "" {
		var err error
		store, err = storage.Connect(context.Background(),
			cfg.Storage.DocumentStoreURI, cfg.Storage.DatabaseName, cfg.Storage.CollectionName, logger)
		if err != nil {
			return nil, fmt.Errorf("document store: %w", err)
		}
	}

	exporters, err := buildExporters(s.formats, cfg, logger)
	if err != nil {
		return nil, err
	}
	var pipelineStore pipeline.Store
	if store != nil {
		pipelineStore = store
	}
	pipe := pipeline.New(pipeline.Options{}, exporters, pipelineStore, logger)

	eng := engine.New(cfg, orchestrator, executor, pipe, sampler, robots, logger)

	return &Agent{
		cfg:          cfg,
		logger:       logger,
		orchestrator: orchestrator,
		pool:         pool,
		sampler:      sampler,
		store:        store,
		pipe:         pipe,
		engine:       eng,
		formats:      s.formats,
	}, nil
}

func buildExporters(formats []string, cfg *config.Config, logger *slog.Logger) ([]export.Exporter, error) {
	var out []export.Exporter
	for _, format := range formats {
		switch format {
		case "csv":
			out = append(out, export.NewCSVExporter(cfg.Storage.OutputDir, logger))
		case "json":
			out = append(out, export.NewJSONExporter(cfg.Storage.OutputDir, logger))
		case "excel":
			out = append(out, export.NewExcelExporter(cfg.Storage.OutputDir, logger))
		case "sheets":
			out = append(out, export.NewSheetsExporter(
				cfg.Storage.SpreadsheetCredentialsB64, cfg.Storage.SpreadsheetShareWith, logger))
		default:
			return nil, fmt.Errorf("unknown export format %q", format)
		}
	}
	return out, nil
}

// Scrape runs one end-to-end scrape of the target URL guided by the
// natural-language intent.
func (a *Agent) Scrape(ctx context.Context, url, intent string, opts ScrapeOptions) (*engine.RunResult, error) {
	return a.engine.Run(ctx, engine.RunRequest{
		URL:      url,
		Intent:   intent,
		Fields:   opts.Fields,
		Profile:  opts.Profile,
		MaxPages: opts.MaxPages,
	})
}

// Health probes the LLM backends, the document store, and the browser
// pool.
func (a *Agent) Health(ctx context.Context) *Health {
	h := &Health{
		LLM:     a.orchestrator.HealthCheck(ctx),
		Storage: "disabled",
		Pool:    a.pool.Stats(),
	}
	if a.store != nil {
		if err := a.store.Ping(ctx); err != nil {
			h.Storage = "error: " + err.Error()
		} else {
			h.Storage = "ok"
		}
	}

	h.Overall = h.LLM.Overall
	if a.store != nil && h.Storage != "ok" && h.Overall == llm.HealthHealthy {
		h.Overall = llm.HealthDegraded
	}
	return h
}

// Stats returns run counters.
func (a *Agent) Stats() map[string]any {
	return a.engine.Stats().Snapshot()
}

// Status returns the per-backend orchestrator snapshot.
func (a *Agent) Status() []llm.BackendStatus {
	return a.orchestrator.Status()
}

// EstimateCost previews per-backend cost for the given page.
func (a *Agent) EstimateCost(html, url, intent string, fields []string) map[string]float64 {
	return a.orchestrator.EstimateCost(html, url, intent, fields)
}

// ExportStored re-exports rows already persisted in the document store,
// optionally filtered by source URL.
func (a *Agent) ExportStored(ctx context.Context, sourceURL string, limit int64) ([]*export.Result, error) {
	if a.store == nil {
		return nil, fmt.Errorf("no document store configured")
	}
	docs, err := a.store.Retrieve(ctx, sourceURL, limit)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("no stored rows matched")
	}

	rows := make([]*types.Row, 0, len(docs))
	domain := ""
	for _, doc := range docs {
		row := types.NewRow()
		keys := make([]string, 0, len(doc))
		for k := range doc {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			switch {
			case k == "_id" || strings.HasPrefix(k, "_meta_"):
				if k == "_meta_validation_score" {
					row.Set(types.KeyValidationScore, doc[k])
				}
			default:
				row.Set(k, doc[k])
			}
		}
		if domain == "" {
			if u, err := url.Parse(row.SourceURL()); err == nil {
				domain = u.Hostname()
			}
		}
		rows = append(rows, row)
	}

	return a.pipe.ExportExisting(ctx, rows, export.Metadata{
		SourceURL:    sourceURL,
		SourceDomain: domain,
	}), nil
}

// Close releases browsers, HTTP clients, and store connections.
func (a *Agent) Close() error {
	var firstErr error
	if err := a.pool.Close(); err != nil {
		firstErr = err
	}
	a.sampler.Close()
	if a.store != nil {
		if err := a.store.Close(context.Background()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
