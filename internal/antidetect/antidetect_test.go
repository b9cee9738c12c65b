package antidetect

import (
	"strings"
	"testing"
	"time"
)

func TestProfileTable(t *testing.T) {
	tests := []struct {
		name     string
		delay    time.Duration
		retries  int
		timeout  time.Duration
		browsers int
		rate     float64
	}{
		{ProfileConservative, 5 * time.Second, 5, 60 * time.Second, 1, 0.2},
		{ProfileBalanced, 2 * time.Second, 3, 30 * time.Second, 2, 0.5},
		{ProfileAggressive, 1 * time.Second, 2, 15 * time.Second, 3, 1.0},
		{ProfileStealth, 8 * time.Second, 7, 90 * time.Second, 1, 0.125},
	}

	for _, tt := range tests {
		p := ProfileByName(tt.name)
		if p.RequestDelay != tt.delay || p.MaxRetries != tt.retries ||
			p.PageTimeout != tt.timeout || p.MaxBrowsers != tt.browsers ||
			p.RequestsPerSecond != tt.rate {
			t.Errorf("%s: got %+v", tt.name, p)
		}
	}
}

func TestUnknownProfileFallsBackToBalanced(t *testing.T) {
	if p := ProfileByName("turbo"); p.Name != ProfileBalanced {
		t.Errorf("fallback = %q, want balanced", p.Name)
	}
}

func TestAggressiveSkipsSimulation(t *testing.T) {
	p := ProfileByName(ProfileAggressive)
	if p.SimulateMouse || p.SimulateScroll || p.ReadingPauses || p.DwellMax != 0 {
		t.Errorf("aggressive profile must not simulate: %+v", p)
	}
}

func TestStealthDwellBounds(t *testing.T) {
	p := ProfileByName(ProfileStealth)
	if p.DwellMin != 10*time.Second || p.DwellMax != 30*time.Second {
		t.Errorf("stealth dwell = [%v, %v]", p.DwellMin, p.DwellMax)
	}
}

func TestChallengeBackoffScalesWithProfile(t *testing.T) {
	cases := []struct {
		profile string
		want    time.Duration
	}{
		{ProfileAggressive, 5 * time.Second}, // floor
		{ProfileBalanced, 5 * time.Second},   // floor
		{ProfileConservative, 10 * time.Second},
		{ProfileStealth, 16 * time.Second},
	}
	for _, tc := range cases {
		if got := ProfileByName(tc.profile).ChallengeBackoff(); got != tc.want {
			t.Errorf("%s backoff = %v, want %v", tc.profile, got, tc.want)
		}
	}
}

func TestDetectChallenge(t *testing.T) {
	tests := []struct {
		name   string
		html   string
		status int
		kind   ChallengeKind
	}{
		{"clean page", "<html><body><h1>Products</h1></body></html>", 200, ChallengeNone},
		{"recaptcha", `<div class="g-recaptcha" data-sitekey="abc123"></div>`, 200, ChallengeCAPTCHA},
		{"turnstile", `<div class="cf-turnstile" data-sitekey="xyz"></div>`, 200, ChallengeCAPTCHA},
		{"cloudflare js", "<title>Just a moment...</title>", 503, ChallengeJS},
		{"rate limited status", "<html></html>", 429, ChallengeRateLimit},
		{"rate limited body", "Too many requests, slow down", 200, ChallengeRateLimit},
		{"forbidden status", "<html></html>", 403, ChallengeBlocked},
		{"block page", "Access Denied: you have been blocked", 200, ChallengeBlocked},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DetectChallenge(tt.html, tt.status)
			if c.Kind != tt.kind {
				t.Errorf("kind = %q, want %q (marker %q)", c.Kind, tt.kind, c.Marker)
			}
		})
	}
}

func TestDetectChallengeExtractsSiteKey(t *testing.T) {
	c := DetectChallenge(`<div class="g-recaptcha" data-sitekey="abc123"></div>`, 200)
	if c.SiteKey != "abc123" {
		t.Errorf("site key = %q", c.SiteKey)
	}
}

func TestTimingSuspiciousFastMean(t *testing.T) {
	m := NewTimingMonitor()
	now := time.Now()
	clock := now
	m.now = func() time.Time { return clock }

	for i := 0; i < 5; i++ {
		m.recordAt("example.com", now.Add(time.Duration(i)*800*time.Millisecond))
	}
	clock = now.Add(5 * time.Second)
	if !m.Suspicious("example.com") {
		t.Error("sub-second mean interval must be suspicious")
	}
}

func TestTimingSuspiciousBurst(t *testing.T) {
	m := NewTimingMonitor()
	now := time.Now()
	m.now = func() time.Time { return now.Add(time.Minute) }

	m.recordAt("example.com", now)
	m.recordAt("example.com", now.Add(5*time.Second))
	m.recordAt("example.com", now.Add(5*time.Second+200*time.Millisecond))
	if !m.Suspicious("example.com") {
		t.Error("a 200ms burst must be suspicious")
	}
}

func TestTimingSuspiciousUniform(t *testing.T) {
	m := NewTimingMonitor()
	now := time.Now()
	m.now = func() time.Time { return now.Add(time.Hour / 2) }

	// Twenty requests exactly 2s apart: one distinct interval out of 19.
	for i := 0; i < 20; i++ {
		m.recordAt("example.com", now.Add(time.Duration(i)*2*time.Second))
	}
	if !m.Suspicious("example.com") {
		t.Error("perfectly uniform intervals must be suspicious")
	}
}

func TestTimingHumanPatternPasses(t *testing.T) {
	m := NewTimingMonitor()
	now := time.Now()
	m.now = func() time.Time { return now.Add(time.Minute) }

	offsets := []time.Duration{0, 3 * time.Second, 8 * time.Second, 14500 * time.Millisecond, 21 * time.Second}
	for _, off := range offsets {
		m.recordAt("example.com", now.Add(off))
	}
	if m.Suspicious("example.com") {
		t.Error("varied multi-second intervals must not be suspicious")
	}
}

func TestTimingWindowExpiry(t *testing.T) {
	m := NewTimingMonitor()
	now := time.Now()
	m.now = func() time.Time { return now.Add(2 * time.Hour) }

	// Robotic burst, but all of it older than the window.
	for i := 0; i < 10; i++ {
		m.recordAt("example.com", now.Add(time.Duration(i)*100*time.Millisecond))
	}
	if m.Suspicious("example.com") {
		t.Error("expired history must not be judged")
	}
}

func TestFingerprintConsistency(t *testing.T) {
	fp := NewFingerprint()
	if fp.UserAgent == "" || fp.AcceptLanguage == "" || fp.Platform == "" {
		t.Fatalf("incomplete fingerprint: %+v", fp)
	}
	if strings.Contains(fp.UserAgent, "Macintosh") && fp.Platform != "MacIntel" {
		t.Errorf("platform %q inconsistent with UA %q", fp.Platform, fp.UserAgent)
	}

	js := fp.InitScript()
	for _, want := range []string{"webdriver", "hardwareConcurrency", "getImageData", fp.Platform} {
		if !strings.Contains(js, want) {
			t.Errorf("init script missing %q", want)
		}
	}
}

func TestRecommendProfile(t *testing.T) {
	if got := RecommendProfile(true, false); got != ProfileStealth {
		t.Errorf("challenge → %q, want stealth", got)
	}
	if got := RecommendProfile(false, true); got != ProfileConservative {
		t.Errorf("rate limited → %q, want conservative", got)
	}
	if got := RecommendProfile(false, false); got != ProfileBalanced {
		t.Errorf("default → %q, want balanced", got)
	}
}
