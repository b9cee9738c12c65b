package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/iwsa-dev/iwsa/internal/antidetect"
	"github.com/iwsa-dev/iwsa/internal/llm"
	"github.com/iwsa-dev/iwsa/internal/ratelimit"
	"github.com/iwsa-dev/iwsa/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

// fakeDriver serves scripted page HTML: pagination actions advance to the
// next entry, mimicking a page that changed under the click or scroll.
type fakeDriver struct {
	pages     []string
	idx       int
	clickOK   bool
	selectErr error

	clicked   []string
	selected  map[string]string
	typed     map[string]string
	scrolls   int
	saves     int
	simulates int
}

func newFakeDriver(clickOK bool, pages ...string) *fakeDriver {
	return &fakeDriver{
		pages:    pages,
		clickOK:  clickOK,
		selected: map[string]string{},
		typed:    map[string]string{},
	}
}

func (d *fakeDriver) HTML() (string, error) {
	i := d.idx
	if i >= len(d.pages) {
		i = len(d.pages) - 1
	}
	return d.pages[i], nil
}

func (d *fakeDriver) URL() string { return "https://shop.test/products" }

func (d *fakeDriver) ClickFirst(_ context.Context, selectors []string) (bool, error) {
	d.clicked = append(d.clicked, selectors[0])
	if !d.clickOK {
		return false, nil
	}
	d.idx++
	return true, nil
}

func (d *fakeDriver) SelectOption(_ context.Context, selector, value string) error {
	if d.selectErr != nil {
		return d.selectErr
	}
	d.selected[selector] = value
	return nil
}

func (d *fakeDriver) TypeText(_ context.Context, selector, value string) error {
	d.typed[selector] = value
	return nil
}

func (d *fakeDriver) ScrollToBottom(context.Context) error {
	d.scrolls++
	d.idx++
	return nil
}

func (d *fakeDriver) Simulate(context.Context) { d.simulates++ }

func (d *fakeDriver) SaveSession(string) error { d.saves++; return nil }

type fakeAdvisor struct {
	strategy *llm.Strategy
	calls    int
}

func (a *fakeAdvisor) GenerateRecovery(context.Context, string, []string, string) (*llm.Strategy, error) {
	a.calls++
	return a.strategy, nil
}

func productPage(titles ...string) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	for _, t := range titles {
		fmt.Fprintf(&b, `<div class="product"><span class="title">%s</span></div>`, t)
	}
	b.WriteString("</body></html>")
	return b.String()
}

func strategyWith(pagination string) *llm.Strategy {
	return &llm.Strategy{
		Success:    true,
		Selectors:  []string{".product", ".title"},
		Pagination: llm.Pagination{Type: pagination, Selectors: []string{".load-more"}},
		Confidence: 0.9,
	}
}

func newTestExecutor(advisor RecoveryAdvisor) *Executor {
	e := NewExecutor(nil, nil, ratelimit.NewRegistry(1000, testLogger), antidetect.NewTimingMonitor(), advisor, testLogger)
	e.sleep = func(context.Context, time.Duration) {}
	return e
}

func runWith(t *testing.T, e *Executor, drv *fakeDriver, strategy *llm.Strategy, maxPages int) *types.ExtractionResult {
	t.Helper()
	result := &types.ExtractionResult{Metadata: map[string]any{}}
	behavior := antidetect.NewBehavior(antidetect.Profile{Name: "test"}, testLogger)
	e.runLoop(context.Background(), drv, behavior, "shop.test", strategy, []string{"title"}, maxPages, result)
	return result
}

func titles(rows []*types.Row) []string {
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.GetString("title"))
	}
	return out
}

func TestRunLoopInfiniteScrollStopsWhenNoNewRows(t *testing.T) {
	drv := newFakeDriver(false, productPage("A", "B"), productPage("A", "B"))
	res := runWith(t, newTestExecutor(nil), drv, strategyWith(llm.PaginationInfiniteScroll), 5)

	if res.TotalRows() != 2 {
		t.Fatalf("rows = %v", titles(res.Rows))
	}
	if res.PagesProcessed != 1 {
		t.Errorf("pages = %d, want 1 (barren growth step must not count)", res.PagesProcessed)
	}
	if drv.scrolls != 1 {
		t.Errorf("scrolls = %d, want 1", drv.scrolls)
	}
}

func TestRunLoopInfiniteScrollAppendsOnlyNewRows(t *testing.T) {
	// Each scroll re-renders the full list; only the delta may be kept.
	drv := newFakeDriver(false,
		productPage("A", "B"),
		productPage("A", "B", "C"),
		productPage("A", "B", "C"),
	)
	res := runWith(t, newTestExecutor(nil), drv, strategyWith(llm.PaginationInfiniteScroll), 10)

	got := titles(res.Rows)
	if len(got) != 3 || got[0] != "A" || got[1] != "B" || got[2] != "C" {
		t.Fatalf("rows = %v, want [A B C] exactly once each", got)
	}
	if res.PagesProcessed != 2 {
		t.Errorf("pages = %d, want 2", res.PagesProcessed)
	}
}

func TestRunLoopLoadMoreStopsWhenTriggerExhausted(t *testing.T) {
	drv := newFakeDriver(true, productPage("A"), productPage("A"))
	res := runWith(t, newTestExecutor(nil), drv, strategyWith(llm.PaginationLoadMore), 10)

	if res.TotalRows() != 1 {
		t.Fatalf("rows = %v", titles(res.Rows))
	}
	if len(drv.clicked) == 0 || drv.clicked[0] != ".load-more" {
		t.Errorf("clicked = %v", drv.clicked)
	}
}

func TestRunLoopNumberedHonorsMaxPages(t *testing.T) {
	drv := newFakeDriver(true, productPage("A"), productPage("B"), productPage("C"))
	res := runWith(t, newTestExecutor(nil), drv, strategyWith(llm.PaginationNumbered), 2)

	got := titles(res.Rows)
	if len(got) != 2 || got[0] != "A" || got[1] != "B" {
		t.Fatalf("rows = %v, want [A B]", got)
	}
	if res.PagesProcessed != 2 {
		t.Errorf("pages = %d, want 2", res.PagesProcessed)
	}
	if drv.saves != 2 {
		t.Errorf("session saves = %d, want one per page", drv.saves)
	}
}

func TestRunLoopAppliesFilters(t *testing.T) {
	strategy := strategyWith(llm.PaginationNone)
	strategy.Filters = []llm.Filter{
		{Name: "category", Selector: "#cat", Type: "dropdown", DefaultValue: "Books"},
		{Name: "min_price", Selector: "#min", Type: "input", DefaultValue: "10"},
		{Name: "in_stock", Selector: "#stock", Type: "checkbox"},
	}

	drv := newFakeDriver(true, productPage("A"))
	res := runWith(t, newTestExecutor(nil), drv, strategy, 1)

	if drv.selected["#cat"] != "Books" {
		t.Errorf("dropdown not applied: %v", drv.selected)
	}
	if drv.typed["#min"] != "10" {
		t.Errorf("input not applied: %v", drv.typed)
	}
	if len(drv.clicked) != 1 || drv.clicked[0] != "#stock" {
		t.Errorf("checkbox not clicked: %v", drv.clicked)
	}
	applied, _ := res.Metadata["applied_filters"].([]string)
	if len(applied) != 3 {
		t.Errorf("applied_filters = %v", applied)
	}
	if res.TotalRows() != 1 {
		t.Errorf("rows = %d", res.TotalRows())
	}
}

func TestRunLoopFilterFailureIsNonFatal(t *testing.T) {
	strategy := strategyWith(llm.PaginationNone)
	strategy.Filters = []llm.Filter{
		{Name: "category", Selector: "#cat", Type: "dropdown", DefaultValue: "Books"},
	}

	drv := newFakeDriver(true, productPage("A"))
	drv.selectErr = fmt.Errorf("element not found")
	res := runWith(t, newTestExecutor(nil), drv, strategy, 1)

	if res.TotalRows() != 1 {
		t.Fatalf("extraction must continue past a failed filter, rows = %d", res.TotalRows())
	}
	if _, ok := res.Metadata["applied_filters"]; ok {
		t.Error("failed filter must not be reported as applied")
	}
}

func TestRunLoopRecoveryRepairsStrategy(t *testing.T) {
	broken := strategyWith(llm.PaginationNone)
	broken.Selectors = []string{".missing", ".title"}

	advisor := &fakeAdvisor{strategy: strategyWith(llm.PaginationNone)}
	drv := newFakeDriver(false, productPage("A"))
	res := runWith(t, newTestExecutor(advisor), drv, broken, 1)

	if advisor.calls != 1 {
		t.Fatalf("advisor calls = %d, want 1", advisor.calls)
	}
	if res.TotalRows() != 1 {
		t.Fatalf("recovered strategy should extract, rows = %d errors = %v", res.TotalRows(), res.Errors)
	}
}

func TestRunLoopRecoveryUsedAtMostOnce(t *testing.T) {
	broken := strategyWith(llm.PaginationNone)
	broken.Selectors = []string{".missing", ".title"}

	stillBroken := strategyWith(llm.PaginationNone)
	stillBroken.Selectors = []string{".also-missing", ".title"}

	advisor := &fakeAdvisor{strategy: stillBroken}
	drv := newFakeDriver(false, productPage("A"))
	res := runWith(t, newTestExecutor(advisor), drv, broken, 5)

	if advisor.calls != 1 {
		t.Fatalf("advisor calls = %d, want exactly 1", advisor.calls)
	}
	if res.TotalRows() != 0 || len(res.Errors) == 0 {
		t.Fatalf("run should fail after the single recovery attempt: rows=%d errors=%v", res.TotalRows(), res.Errors)
	}
}

func TestRunLoopCancellationStopsPaging(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := newTestExecutor(nil)
	drv := newFakeDriver(true, productPage("A"))
	result := &types.ExtractionResult{Metadata: map[string]any{}}
	behavior := antidetect.NewBehavior(antidetect.Profile{Name: "test"}, testLogger)
	e.runLoop(ctx, drv, behavior, "shop.test", strategyWith(llm.PaginationNumbered), []string{"title"}, 5, result)

	if !result.Cancelled {
		t.Fatal("cancelled context must mark the result cancelled")
	}
	if result.TotalRows() != 0 {
		t.Errorf("rows = %d", result.TotalRows())
	}
}
