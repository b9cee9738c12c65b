package fetcher

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/iwsa-dev/iwsa/internal/config"
	"github.com/iwsa-dev/iwsa/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

func newTestSampler(timeout time.Duration) *Sampler {
	cfg := &config.ScrapingConfig{DefaultTimeout: timeout}
	s := NewSampler(cfg, testLogger)
	s.retry.MaxAttempts = 2
	s.retry.MinWait = 10 * time.Millisecond
	return s
}

func TestSampleBasic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html><body>hello</body></html>")
	}))
	defer srv.Close()

	snap, err := newTestSampler(5*time.Second).Sample(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if snap.StatusCode != 200 || snap.HTML != "<html><body>hello</body></html>" {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestSampleDecompressesGzip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		fmt.Fprint(gz, "<html>compressed</html>")
		gz.Close()
	}))
	defer srv.Close()

	snap, err := newTestSampler(5*time.Second).Sample(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if snap.HTML != "<html>compressed</html>" {
		t.Errorf("HTML = %q", snap.HTML)
	}
}

func TestSampleDecompressesBrotli(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "br")
		var buf bytes.Buffer
		bw := brotli.NewWriter(&buf)
		fmt.Fprint(bw, "<html>brotli</html>")
		bw.Close()
		w.Write(buf.Bytes())
	}))
	defer srv.Close()

	snap, err := newTestSampler(5*time.Second).Sample(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if snap.HTML != "<html>brotli</html>" {
		t.Errorf("HTML = %q", snap.HTML)
	}
}

func TestSampleRetriesServerErrors(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			http.Error(w, "flaky", http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, "<html>ok</html>")
	}))
	defer srv.Close()

	snap, err := newTestSampler(5*time.Second).Sample(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if snap.HTML != "<html>ok</html>" || calls != 2 {
		t.Errorf("calls = %d, HTML = %q", calls, snap.HTML)
	}
}

func TestSampleClientErrorIsPermanent(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := newTestSampler(5*time.Second).Sample(context.Background(), srv.URL)
	var fe *types.FetchError
	if !errors.As(err, &fe) || fe.StatusCode != 404 {
		t.Fatalf("expected 404 FetchError, got %v", err)
	}
	if calls != 1 {
		t.Errorf("4xx must not be retried, got %d calls", calls)
	}
}

func TestSampleRotatesUserAgents(t *testing.T) {
	seen := map[string]bool{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen[r.Header.Get("User-Agent")] = true
		fmt.Fprint(w, "ok")
	}))
	defer srv.Close()

	s := newTestSampler(5 * time.Second)
	for i := 0; i < len(defaultUserAgents); i++ {
		if _, err := s.Sample(context.Background(), srv.URL); err != nil {
			t.Fatalf("Sample: %v", err)
		}
	}
	if len(seen) != len(defaultUserAgents) {
		t.Errorf("saw %d distinct user agents, want %d", len(seen), len(defaultUserAgents))
	}
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		header string
		want   time.Duration
	}{
		{"", 5 * time.Second},
		{"10", 10 * time.Second},
		{"600", 2 * time.Minute},
		{"garbage", 5 * time.Second},
	}
	for _, tt := range tests {
		if got := parseRetryAfter(tt.header); got != tt.want {
			t.Errorf("parseRetryAfter(%q) = %v, want %v", tt.header, got, tt.want)
		}
	}
}

func TestRobotsDisallow(t *testing.T) {
	robotsTxt := `
User-agent: *
Disallow: /private/
Allow: /private/public.html
Disallow: /*.pdf$
Crawl-delay: 2.5
Sitemap: https://example.com/sitemap.xml
`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			fmt.Fprint(w, robotsTxt)
			return
		}
		fmt.Fprint(w, "page")
	}))
	defer srv.Close()

	r := NewRobots(true)

	tests := []struct {
		path    string
		allowed bool
	}{
		{"/", true},
		{"/products", true},
		{"/private/data", false},
		{"/private/public.html", true},
		{"/docs/manual.pdf", false},
		{"/docs/manual.pdf.html", true},
	}
	for _, tt := range tests {
		if got := r.IsAllowed(srv.URL + tt.path); got != tt.allowed {
			t.Errorf("IsAllowed(%s) = %v, want %v", tt.path, got, tt.allowed)
		}
	}

	if d := r.CrawlDelay(srv.URL); d != 2500*time.Millisecond {
		t.Errorf("crawl delay = %v", d)
	}
	if sm := r.Sitemaps(srv.URL); len(sm) != 1 || sm[0] != "https://example.com/sitemap.xml" {
		t.Errorf("sitemaps = %v", sm)
	}
}

func TestRobotsDisabledAllowsEverything(t *testing.T) {
	r := NewRobots(false)
	if !r.IsAllowed("https://example.com/private/") {
		t.Error("disabled robots must allow everything")
	}
}

func TestRobotsUnreachableAllows(t *testing.T) {
	r := NewRobots(true)
	if !r.IsAllowed("http://127.0.0.1:1/anything") {
		t.Error("unreachable robots.txt must allow")
	}
}
