// Package browser manages a pool of headless Chromium instances via rod,
// with per-instance fingerprints, request budgets, and age limits.
package browser

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/iwsa-dev/iwsa/internal/antidetect"
)

// Instance is one launched browser. A single owner holds it between
// Acquire and Release; the pool enforces that.
type Instance struct {
	ID          string
	Fingerprint antidetect.Fingerprint

	browser *rod.Browser
	cleanup func()

	createdAt time.Time
	lastUsed  time.Time
	requests  int
	inUse     bool

	logger *slog.Logger
}

// LaunchOptions tune a browser launch.
type LaunchOptions struct {
	Headless bool
	ProxyURL string
}

// launch starts a Chromium process with anti-automation flags and
// connects to it.
func launch(id string, opts LaunchOptions, logger *slog.Logger) (*Instance, error) {
	fp := antidetect.NewFingerprint()

	l := launcher.New().
		Headless(opts.Headless).
		Set("disable-gpu").
		Set("disable-dev-shm-usage").
		Set("no-sandbox").
		Set("disable-setuid-sandbox").
		Set("disable-features", "IsolateOrigins,site-per-process").
		Set("disable-blink-features", "AutomationControlled").
		Set("window-size", fmt.Sprintf("%d,%d", fp.ViewportWidth, fp.ViewportHeight))

	if opts.ProxyURL != "" {
		l = l.Proxy(opts.ProxyURL)
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		l.Cleanup()
		return nil, fmt.Errorf("connect browser: %w", err)
	}

	now := time.Now()
	return &Instance{
		ID:          id,
		Fingerprint: fp,
		browser:     b,
		cleanup:     l.Cleanup,
		createdAt:   now,
		lastUsed:    now,
		logger:      logger.With("component", "browser_instance", "instance", id),
	}, nil
}

// NewPage opens a stealth-patched page carrying the instance fingerprint:
// init script, user agent, accept-language, and viewport.
func (in *Instance) NewPage() (*rod.Page, error) {
	page, err := stealth.Page(in.browser)
	if err != nil {
		return nil, fmt.Errorf("stealth page: %w", err)
	}

	if _, err := page.EvalOnNewDocument(in.Fingerprint.InitScript()); err != nil {
		in.logger.Warn("init script injection failed", "error", err)
	}

	err = page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
		UserAgent:      in.Fingerprint.UserAgent,
		AcceptLanguage: in.Fingerprint.AcceptLanguage,
		Platform:       in.Fingerprint.Platform,
	})
	if err != nil {
		in.logger.Warn("user agent override failed", "error", err)
	}

	err = page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:  in.Fingerprint.ViewportWidth,
		Height: in.Fingerprint.ViewportHeight,
	})
	if err != nil {
		in.logger.Warn("viewport override failed", "error", err)
	}

	return page, nil
}

// Requests returns the number of times the instance has been handed out.
func (in *Instance) Requests() int { return in.requests }

// Age returns time since launch.
func (in *Instance) Age() time.Duration { return time.Since(in.createdAt) }

// expired reports whether the instance hit its request budget or age limit.
func (in *Instance) expired(maxRequests int, maxAge time.Duration) bool {
	return in.requests >= maxRequests || time.Since(in.createdAt) >= maxAge
}

// Close shuts the browser down and reaps the launcher process.
func (in *Instance) Close() error {
	var err error
	if in.browser != nil {
		err = in.browser.Close()
	}
	if in.cleanup != nil {
		in.cleanup()
	}
	return err
}
