package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/iwsa-dev/iwsa/internal/antidetect"
	"github.com/iwsa-dev/iwsa/internal/browser"
	"github.com/iwsa-dev/iwsa/internal/llm"
	"github.com/iwsa-dev/iwsa/internal/ratelimit"
	"github.com/iwsa-dev/iwsa/internal/session"
	"github.com/iwsa-dev/iwsa/internal/types"
)

// Fallback pagination selectors tried after the strategy's own.
var nextPageFallbacks = []string{".next", "a[rel=next]"}

const (
	loadMoreSettle       = 3 * time.Second
	infiniteScrollSettle = 2 * time.Second
	filterSettle         = 2 * time.Second
	paginationFindWait   = 3 * time.Second
)

// RecoveryAdvisor produces a corrected strategy from extraction-failure
// context. The LLM orchestrator implements it.
type RecoveryAdvisor interface {
	GenerateRecovery(ctx context.Context, url string, failedSelectors []string, pageState string) (*llm.Strategy, error)
}

// pageDriver abstracts the live-page operations the scrape loop performs.
// rodDriver adapts a rod page; tests substitute a scripted fake.
type pageDriver interface {
	HTML() (string, error)
	URL() string
	ClickFirst(ctx context.Context, selectors []string) (bool, error)
	SelectOption(ctx context.Context, selector, value string) error
	TypeText(ctx context.Context, selector, value string) error
	ScrollToBottom(ctx context.Context) error
	Simulate(ctx context.Context)
	SaveSession(domain string) error
}

// Executor drives one scrape run: navigation, filter application, behavior
// simulation, extraction, pagination, and LLM-guided recovery.
type Executor struct {
	pool     *browser.Pool
	sessions *session.Manager
	limits   *ratelimit.Registry
	timing   *antidetect.TimingMonitor
	advisor  RecoveryAdvisor
	extract  Extractor
	logger   *slog.Logger

	// Injectable in tests; production uses sleepCtx.
	sleep func(context.Context, time.Duration)
}

func NewExecutor(pool *browser.Pool, sessions *session.Manager, limits *ratelimit.Registry, timing *antidetect.TimingMonitor, advisor RecoveryAdvisor, logger *slog.Logger) *Executor {
	return &Executor{
		pool:     pool,
		sessions: sessions,
		limits:   limits,
		timing:   timing,
		advisor:  advisor,
		logger:   logger.With("component", "executor"),
		sleep:    sleepCtx,
	}
}

// Scrape walks the target site under the given strategy and profile,
// collecting rows page by page until pagination ends, maxPages is hit,
// or the context is cancelled.
func (e *Executor) Scrape(ctx context.Context, targetURL string, strategy *llm.Strategy, fields []string, profile antidetect.Profile, maxPages int) (*types.ExtractionResult, error) {
	start := time.Now()
	result := &types.ExtractionResult{Metadata: map[string]any{
		"target_url": targetURL,
		"profile":    profile.Name,
	}}
	defer func() { result.Elapsed = time.Since(start) }()

	u, err := url.Parse(targetURL)
	if err != nil || u.Host == "" {
		return result, fmt.Errorf("%w: %q", types.ErrInvalidURL, targetURL)
	}
	domain := u.Host

	e.limits.SetRate(domain, profile.RequestsPerSecond)
	behavior := antidetect.NewBehavior(profile, e.logger)

	inst, err := e.pool.Acquire(ctx)
	if err != nil {
		return result, fmt.Errorf("acquire browser: %w", err)
	}
	// A browser that hit a persistent challenge is burned; retire it
	// instead of rotating it back into the pool.
	discard := false
	defer func() {
		if discard {
			e.pool.Discard(inst)
		} else {
			e.pool.Release(inst)
		}
	}()

	page, err := inst.NewPage()
	if err != nil {
		return result, fmt.Errorf("open page: %w", err)
	}
	defer page.Close()

	e.sessions.GetOrCreate(domain)
	if err := e.sessions.Restore(domain, page); err != nil {
		e.logger.Debug("session restore skipped", "domain", domain, "error", err)
	}

	if err := e.navigate(ctx, page, targetURL, profile.PageTimeout); err != nil {
		result.AddError(fmt.Sprintf("navigate %s: %v", targetURL, err))
		return result, err
	}

	// Web storage replay needs the page origin, so it runs post-navigation.
	if err := e.sessions.RestoreState(domain, page); err != nil {
		e.logger.Debug("session state restore skipped", "domain", domain, "error", err)
	}

	if err := e.clearChallenge(ctx, page, targetURL, profile, result); err != nil {
		discard = true
		return result, err
	}

	drv := &rodDriver{
		page:     page,
		behavior: behavior,
		sessions: e.sessions,
		fallback: targetURL,
		logger:   e.logger,
	}
	e.runLoop(ctx, drv, behavior, domain, strategy, fields, maxPages, result)

	result.Success = result.TotalRows() > 0
	return result, nil
}

// runLoop is the per-page extraction loop, separated from browser setup
// so it can be driven by a scripted page in tests.
func (e *Executor) runLoop(ctx context.Context, drv pageDriver, behavior *antidetect.Behavior, domain string, strategy *llm.Strategy, fields []string, maxPages int, result *types.ExtractionResult) {
	e.applyFilters(ctx, drv, strategy, result)

	// Cumulative pagination re-renders the whole list on each growth
	// step, so re-extracted rows from earlier steps must be dropped.
	cumulative := strategy.Pagination.Type == llm.PaginationLoadMore ||
		strategy.Pagination.Type == llm.PaginationInfiniteScroll
	seen := make(map[string]struct{})
	recoveryUsed := false

	for pageNum := 1; maxPages <= 0 || pageNum <= maxPages; pageNum++ {
		if ctx.Err() != nil {
			result.Cancelled = true
			break
		}

		if err := e.limits.Acquire(ctx, domain); err != nil {
			result.Cancelled = true
			break
		}
		e.timing.Record(domain)
		if e.timing.Suspicious(domain) {
			e.logger.Warn("request timing looks robotic, backing off", "domain", domain)
			e.sleep(ctx, behavior.Delay())
		}

		drv.Simulate(ctx)

		pageURL := drv.URL()
		html, err := drv.HTML()
		if err != nil {
			result.AddError(fmt.Sprintf("page %d: read HTML: %v", pageNum, err))
			break
		}

		rows, err := e.extract.Extract(html, pageURL, strategy, fields)
		if err != nil {
			if !recoveryUsed && e.advisor != nil {
				recoveryUsed = true
				if recovered := e.recover(ctx, pageURL, strategy, html); recovered != nil {
					strategy = recovered
					rows, err = e.extract.Extract(html, pageURL, strategy, fields)
				}
			}
			if err != nil {
				result.AddError(fmt.Sprintf("page %d: %v", pageNum, err))
				break
			}
		}

		fresh := rows
		if cumulative {
			fresh = freshRows(rows, seen)
			// A growth step that surfaced nothing new means the
			// pagination trigger is exhausted.
			if pageNum > 1 && len(fresh) == 0 {
				break
			}
		}

		result.Rows = append(result.Rows, fresh...)
		result.PagesProcessed++
		e.logger.Info("page extracted", "page", pageNum, "rows", len(fresh), "total", result.TotalRows())

		if err := drv.SaveSession(domain); err != nil {
			e.logger.Debug("session save failed", "domain", domain, "error", err)
		}

		more, err := e.advancePage(ctx, drv, strategy)
		if err != nil {
			result.AddError(fmt.Sprintf("pagination after page %d: %v", pageNum, err))
			break
		}
		if !more {
			break
		}

		e.sleep(ctx, behavior.Delay())
	}

	if ctx.Err() != nil {
		result.Cancelled = true
	}
}

// applyFilters drives the strategy's filter controls before extraction
// starts: dropdowns are selected, inputs typed, everything else clicked.
// A filter that fails is skipped; the run continues unfiltered for it.
func (e *Executor) applyFilters(ctx context.Context, drv pageDriver, strategy *llm.Strategy, result *types.ExtractionResult) {
	if len(strategy.Filters) == 0 {
		return
	}

	applied := make([]string, 0, len(strategy.Filters))
	for _, f := range strategy.Filters {
		if f.Selector == "" {
			continue
		}

		var err error
		switch f.Type {
		case "dropdown":
			err = drv.SelectOption(ctx, f.Selector, f.DefaultValue)
		case "input":
			err = drv.TypeText(ctx, f.Selector, f.DefaultValue)
		default: // checkbox, button, anything clickable
			var found bool
			found, err = drv.ClickFirst(ctx, []string{f.Selector})
			if err == nil && !found {
				err = fmt.Errorf("filter control %q not found", f.Selector)
			}
		}
		if err != nil {
			e.logger.Warn("filter skipped", "filter", f.Name, "selector", f.Selector, "error", err)
			continue
		}

		applied = append(applied, f.Name)
		e.sleep(ctx, filterSettle)
	}

	if len(applied) > 0 {
		result.Metadata["applied_filters"] = applied
		e.logger.Info("filters applied", "count", len(applied), "of", len(strategy.Filters))
	}
}

// freshRows filters out rows already collected in this run, keyed by
// their stable data encoding.
func freshRows(rows []*types.Row, seen map[string]struct{}) []*types.Row {
	out := make([]*types.Row, 0, len(rows))
	for _, r := range rows {
		key := string(r.StableDataJSON())
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, r)
	}
	return out
}

func (e *Executor) navigate(ctx context.Context, page *rod.Page, target string, timeout time.Duration) error {
	p := page.Context(ctx).Timeout(timeout)
	if err := p.Navigate(target); err != nil {
		return err
	}
	if err := p.WaitStable(300 * time.Millisecond); err != nil {
		e.logger.Debug("page stability timeout, continuing", "url", target, "error", err)
	}
	return nil
}

// clearChallenge detects an anti-bot interstitial, backs off per the
// active profile, and retries the page once. A challenge that survives
// the retry aborts the run.
func (e *Executor) clearChallenge(ctx context.Context, page *rod.Page, target string, profile antidetect.Profile, result *types.ExtractionResult) error {
	html, err := page.HTML()
	if err != nil {
		return err
	}
	ch := antidetect.DetectChallenge(html, 0)
	if !ch.Detected() {
		return nil
	}

	backoff := profile.ChallengeBackoff()
	e.logger.Warn("challenge detected, backing off", "kind", ch.Kind, "marker", ch.Marker, "backoff", backoff)
	e.sleep(ctx, backoff)
	if err := page.Reload(); err != nil {
		return err
	}
	_ = page.Timeout(30 * time.Second).WaitStable(300 * time.Millisecond)

	html, err = page.HTML()
	if err != nil {
		return err
	}
	if ch := antidetect.DetectChallenge(html, 0); ch.Detected() {
		result.AddError(fmt.Sprintf("challenge persisted (%s) at %s", ch.Kind, target))
		return fmt.Errorf("%w: %s", types.ErrChallengeDetected, ch.Kind)
	}
	return nil
}

// recover asks the advisor for a corrected strategy. Returns nil when no
// usable strategy comes back.
func (e *Executor) recover(ctx context.Context, pageURL string, failed *llm.Strategy, pageHTML string) *llm.Strategy {
	e.logger.Info("extraction failed, requesting recovery strategy", "url", pageURL)
	recovered, err := e.advisor.GenerateRecovery(ctx, pageURL, failed.Selectors, llm.TruncateHTML(pageHTML))
	if err != nil || recovered == nil || !recovered.Success {
		e.logger.Warn("recovery strategy unavailable", "error", err)
		return nil
	}
	return recovered
}

// advancePage moves to the next page per the strategy's pagination plan.
// Returns false when there is no further page to try; for cumulative
// modes the loop's fresh-row delta decides actual termination.
func (e *Executor) advancePage(ctx context.Context, drv pageDriver, strategy *llm.Strategy) (bool, error) {
	switch strategy.Pagination.Type {
	case llm.PaginationNumbered:
		return drv.ClickFirst(ctx, pagingSelectors(strategy))

	case llm.PaginationLoadMore:
		ok, err := drv.ClickFirst(ctx, pagingSelectors(strategy))
		if err != nil || !ok {
			return ok, err
		}
		e.sleep(ctx, loadMoreSettle)
		return true, nil

	case llm.PaginationInfiniteScroll:
		if err := drv.ScrollToBottom(ctx); err != nil {
			return false, err
		}
		e.sleep(ctx, infiniteScrollSettle)
		return true, nil

	default:
		return false, nil
	}
}

func pagingSelectors(strategy *llm.Strategy) []string {
	return append(append([]string{}, strategy.Pagination.Selectors...), nextPageFallbacks...)
}

// rodDriver adapts a live rod page to the pageDriver seam.
type rodDriver struct {
	page     *rod.Page
	behavior *antidetect.Behavior
	sessions *session.Manager
	fallback string
	logger   *slog.Logger
}

func (d *rodDriver) HTML() (string, error) { return d.page.HTML() }

func (d *rodDriver) URL() string {
	if info, err := d.page.Info(); err == nil && info != nil {
		return info.URL
	}
	return d.fallback
}

// ClickFirst clicks the first element found among the selectors.
func (d *rodDriver) ClickFirst(ctx context.Context, selectors []string) (bool, error) {
	for _, sel := range selectors {
		if sel == "" {
			continue
		}
		el, err := d.page.Context(ctx).Timeout(paginationFindWait).Element(sel)
		if err != nil || el == nil {
			continue
		}
		if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
			d.logger.Debug("click failed", "selector", sel, "error", err)
			continue
		}
		_ = d.page.Timeout(30 * time.Second).WaitStable(300 * time.Millisecond)
		return true, nil
	}
	return false, nil
}

func (d *rodDriver) SelectOption(ctx context.Context, selector, value string) error {
	el, err := d.page.Context(ctx).Timeout(paginationFindWait).Element(selector)
	if err != nil {
		return err
	}
	return el.Select([]string{value}, true, rod.SelectorTypeText)
}

func (d *rodDriver) TypeText(ctx context.Context, selector, value string) error {
	el, err := d.page.Context(ctx).Timeout(paginationFindWait).Element(selector)
	if err != nil {
		return err
	}
	return el.Input(value)
}

func (d *rodDriver) ScrollToBottom(ctx context.Context) error {
	_, err := d.page.Context(ctx).Eval(`() => window.scrollTo(0, document.body.scrollHeight)`)
	return err
}

func (d *rodDriver) Simulate(ctx context.Context) { d.behavior.Simulate(ctx, d.page) }

func (d *rodDriver) SaveSession(domain string) error { return d.sessions.Save(domain, d.page) }

// sleepCtx sleeps for d or until the context ends.
func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
