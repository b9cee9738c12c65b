package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"testing"

	"github.com/iwsa-dev/iwsa/internal/antidetect"
	"github.com/iwsa-dev/iwsa/internal/config"
	"github.com/iwsa-dev/iwsa/internal/export"
	"github.com/iwsa-dev/iwsa/internal/fetcher"
	"github.com/iwsa-dev/iwsa/internal/llm"
	"github.com/iwsa-dev/iwsa/internal/pipeline"
	"github.com/iwsa-dev/iwsa/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

type fakeGenerator struct {
	strategy *llm.Strategy
	err      error
	calls    int
}

func (g *fakeGenerator) GenerateStrategy(_ context.Context, _, _, _ string, _ []string) (*llm.Strategy, error) {
	g.calls++
	return g.strategy, g.err
}

type fakeScraper struct {
	result  *types.ExtractionResult
	err     error
	profile antidetect.Profile
	calls   int
}

func (s *fakeScraper) Scrape(_ context.Context, _ string, _ *llm.Strategy, _ []string, profile antidetect.Profile, _ int) (*types.ExtractionResult, error) {
	s.calls++
	s.profile = profile
	return s.result, s.err
}

type fakeProcessor struct {
	result *pipeline.Result
	rows   []*types.Row
	calls  int
}

func (p *fakeProcessor) ProcessAndExport(_ context.Context, rows []*types.Row, _ export.Metadata) *pipeline.Result {
	p.calls++
	p.rows = rows
	if p.result != nil {
		return p.result
	}
	return &pipeline.Result{Success: true, Rows: rows}
}

type fakeSampler struct {
	snapshot *fetcher.Snapshot
	err      error
}

func (s *fakeSampler) Sample(_ context.Context, rawURL string) (*fetcher.Snapshot, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.snapshot != nil {
		return s.snapshot, nil
	}
	return &fetcher.Snapshot{URL: rawURL, StatusCode: 200, HTML: "<html><body>ok</body></html>"}, nil
}

type fakeRobots struct{ allowed bool }

func (r *fakeRobots) IsAllowed(string) bool { return r.allowed }

func extractionWith(n int) *types.ExtractionResult {
	res := &types.ExtractionResult{Success: n > 0, PagesProcessed: 1}
	for i := 0; i < n; i++ {
		row := types.NewRow()
		row.Set("title", fmt.Sprintf("Item %d", i))
		res.Rows = append(res.Rows, row)
	}
	return res
}

func testStrategy() *llm.Strategy {
	return &llm.Strategy{
		Success:    true,
		Selectors:  []string{".product", ".title"},
		Confidence: 0.9,
		Backend:    "local",
	}
}

func newTestEngine(gen *fakeGenerator, scr *fakeScraper, proc *fakeProcessor, smp *fakeSampler, robots *fakeRobots) *Engine {
	return New(config.DefaultConfig(), gen, scr, proc, smp, robots, testLogger)
}

func TestRunRecordsSiteMetadata(t *testing.T) {
	strategy := testStrategy()
	strategy.Pagination = llm.Pagination{Type: llm.PaginationNumbered, Selectors: []string{".next"}}
	strategy.Filters = []llm.Filter{
		{Name: "brand", Selector: "#brand", Type: "dropdown"},
		{Name: "", Selector: "#anon"},
	}

	gen := &fakeGenerator{strategy: strategy}
	scr := &fakeScraper{result: extractionWith(1)}
	e := newTestEngine(gen, scr, &fakeProcessor{}, &fakeSampler{}, &fakeRobots{allowed: true})

	res, err := e.Run(context.Background(), RunRequest{URL: "https://shop.test/products", Intent: "scrape products"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Site == nil {
		t.Fatal("run must record site metadata")
	}
	if res.Site.URL != res.URL {
		t.Errorf("site URL = %q, want %q", res.Site.URL, res.URL)
	}
	if res.Site.PaginationKind != llm.PaginationNumbered {
		t.Errorf("pagination kind = %q", res.Site.PaginationKind)
	}
	if len(res.Site.DiscoveredFilters) != 1 || res.Site.DiscoveredFilters[0] != "brand" {
		t.Errorf("discovered filters = %v", res.Site.DiscoveredFilters)
	}
	if res.Site.RecommendedProfile != res.Profile {
		t.Errorf("recommended profile = %q, run profile = %q", res.Site.RecommendedProfile, res.Profile)
	}
}

func TestRunHappyPath(t *testing.T) {
	gen := &fakeGenerator{strategy: testStrategy()}
	scr := &fakeScraper{result: extractionWith(3)}
	proc := &fakeProcessor{}
	e := newTestEngine(gen, scr, proc, &fakeSampler{}, &fakeRobots{allowed: true})

	res, err := e.Run(context.Background(), RunRequest{URL: "https://shop.test/products", Intent: "scrape products"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Success {
		t.Fatalf("run failed: %v", res.Errors)
	}
	if gen.calls != 1 || scr.calls != 1 || proc.calls != 1 {
		t.Fatalf("calls = %d/%d/%d", gen.calls, scr.calls, proc.calls)
	}
	if len(proc.rows) != 3 {
		t.Fatalf("pipeline received %d rows", len(proc.rows))
	}
	if e.Stats().RunsSucceeded.Load() != 1 {
		t.Fatal("success not counted")
	}
}

func TestRunInvalidURL(t *testing.T) {
	e := newTestEngine(&fakeGenerator{}, &fakeScraper{}, &fakeProcessor{}, &fakeSampler{}, &fakeRobots{allowed: true})
	_, err := e.Run(context.Background(), RunRequest{URL: "not a url"})
	if !errors.Is(err, types.ErrInvalidURL) {
		t.Fatalf("err = %v", err)
	}
}

func TestRunRobotsDisallowedFailsBeforeScrape(t *testing.T) {
	scr := &fakeScraper{result: extractionWith(1)}
	e := newTestEngine(&fakeGenerator{strategy: testStrategy()}, scr, &fakeProcessor{}, &fakeSampler{}, &fakeRobots{allowed: false})

	_, err := e.Run(context.Background(), RunRequest{URL: "https://shop.test/private"})
	if !errors.Is(err, types.ErrRobotsDisallowed) {
		t.Fatalf("err = %v", err)
	}
	if scr.calls != 0 {
		t.Fatal("scraper must not run for a disallowed target")
	}
}

func TestRunSnapshotFailure(t *testing.T) {
	e := newTestEngine(&fakeGenerator{}, &fakeScraper{}, &fakeProcessor{},
		&fakeSampler{err: errors.New("connection refused")}, &fakeRobots{allowed: true})

	res, err := e.Run(context.Background(), RunRequest{URL: "https://shop.test"})
	if err == nil {
		t.Fatal("expected error")
	}
	if len(res.Errors) == 0 {
		t.Fatal("error not recorded on result")
	}
}

func TestRunStrategyFailure(t *testing.T) {
	gen := &fakeGenerator{err: types.ErrNoBackends}
	scr := &fakeScraper{}
	e := newTestEngine(gen, scr, &fakeProcessor{}, &fakeSampler{}, &fakeRobots{allowed: true})

	_, err := e.Run(context.Background(), RunRequest{URL: "https://shop.test"})
	if !errors.Is(err, types.ErrNoBackends) {
		t.Fatalf("err = %v", err)
	}
	if scr.calls != 0 {
		t.Fatal("scraper must not run without a strategy")
	}
}

func TestRunCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	gen := &fakeGenerator{strategy: testStrategy()}
	scr := &fakeScraper{err: context.Canceled, result: &types.ExtractionResult{Cancelled: true}}
	e := newTestEngine(gen, scr, &fakeProcessor{}, &fakeSampler{}, &fakeRobots{allowed: true})

	cancelAfterSample := &fakeSampler{}
	e.sampler = cancelAfterSample
	cancel()

	res, err := e.Run(ctx, RunRequest{URL: "https://shop.test"})
	if !errors.Is(err, types.ErrCancelled) {
		t.Fatalf("err = %v", err)
	}
	if !res.Cancelled {
		t.Fatal("result should carry the cancelled flag")
	}
}

func TestRunDedupAcrossRuns(t *testing.T) {
	gen := &fakeGenerator{strategy: testStrategy()}
	proc := &fakeProcessor{}
	scr := &fakeScraper{result: extractionWith(2)}
	e := newTestEngine(gen, scr, proc, &fakeSampler{}, &fakeRobots{allowed: true})

	if _, err := e.Run(context.Background(), RunRequest{URL: "https://shop.test/products"}); err != nil {
		t.Fatalf("first run: %v", err)
	}

	// Same rows again: everything is a duplicate, the run fails.
	scr.result = extractionWith(2)
	res, err := e.Run(context.Background(), RunRequest{URL: "https://shop.test/products"})
	if err == nil {
		t.Fatal("all-duplicate run should fail")
	}
	if res.Deduped != 2 {
		t.Fatalf("deduped = %d, want 2", res.Deduped)
	}
	if proc.calls != 1 {
		t.Fatal("pipeline must not run on an empty batch")
	}
}

func TestRunProfileSelection(t *testing.T) {
	gen := &fakeGenerator{strategy: testStrategy()}
	scr := &fakeScraper{result: extractionWith(1)}
	e := newTestEngine(gen, scr, &fakeProcessor{}, &fakeSampler{}, &fakeRobots{allowed: true})

	// Explicit profile wins.
	if _, err := e.Run(context.Background(), RunRequest{URL: "https://a.test", Profile: "aggressive"}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if scr.profile.Name != "aggressive" {
		t.Fatalf("profile = %q", scr.profile.Name)
	}

	// CAPTCHA in the snapshot escalates to stealth.
	scr.result = extractionWith(1)
	e.sampler = &fakeSampler{snapshot: &fetcher.Snapshot{
		StatusCode: 200,
		HTML:       `<div class="g-recaptcha" data-sitekey="k"></div>`,
	}}
	if _, err := e.Run(context.Background(), RunRequest{URL: "https://b.test"}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if scr.profile.Name != "stealth" {
		t.Fatalf("profile = %q, want stealth", scr.profile.Name)
	}
}

func TestDeduplicatorFilter(t *testing.T) {
	d := NewDeduplicator(8)

	a := types.NewRow()
	a.Set("title", "Widget")
	b := types.NewRow()
	b.Set("title", "Widget")
	c := types.NewRow()
	c.Set("title", "Gadget")

	kept, dropped := d.Filter([]*types.Row{a, b, c})
	if len(kept) != 2 || dropped != 1 {
		t.Fatalf("kept %d dropped %d", len(kept), dropped)
	}

	// The same content on a later run is still a duplicate.
	d2 := types.NewRow()
	d2.Set("title", "Gadget")
	kept, dropped = d.Filter([]*types.Row{d2})
	if len(kept) != 0 || dropped != 1 {
		t.Fatalf("cross-run dedup failed: kept %d", len(kept))
	}

	d.Reset()
	kept, _ = d.Filter([]*types.Row{d2})
	if len(kept) != 1 {
		t.Fatal("reset should clear seen hashes")
	}
}

func TestCanonicalizeURL(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"HTTPS://Shop.Test:443/Products/", "https://shop.test/Products"},
		{"http://shop.test:80/", "http://shop.test/"},
		{"https://shop.test/list?b=2&a=1#frag", "https://shop.test/list?a=1&b=2"},
		{"https://shop.test", "https://shop.test/"},
	}
	for _, tc := range cases {
		if got := CanonicalizeURL(tc.in); got != tc.want {
			t.Errorf("CanonicalizeURL(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestStatsSnapshot(t *testing.T) {
	s := NewStats()
	s.RunsStarted.Add(2)
	s.RowsExtracted.Add(10)
	s.recordDomain("shop.test", 10, false)

	snap := s.Snapshot()
	if snap["runs_started"] != int64(2) || snap["rows_extracted"] != int64(10) {
		t.Fatalf("snapshot = %v", snap)
	}
	ds, ok := s.Domain("shop.test")
	if !ok || ds.Rows != 10 || ds.Runs != 1 {
		t.Fatalf("domain stats = %+v", ds)
	}
}
