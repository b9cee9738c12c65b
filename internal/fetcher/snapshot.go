// Package fetcher provides the lightweight HTTP side of the runtime: the
// snapshot sampler that feeds page HTML to strategy generation, and
// robots.txt enforcement.
package fetcher

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/cookiejar"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/iwsa-dev/iwsa/internal/config"
	"github.com/iwsa-dev/iwsa/internal/resilience"
	"github.com/iwsa-dev/iwsa/internal/types"
)

const maxSnapshotBody = 4 << 20

var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
}

// Snapshot is a sampled page.
type Snapshot struct {
	URL        string
	FinalURL   string
	StatusCode int
	HTML       string
	Elapsed    time.Duration
}

// Sampler fetches raw page HTML over plain HTTP. It is the cheap first
// pass before a browser gets involved: strategy generation only needs a
// static snapshot.
type Sampler struct {
	client     *http.Client
	userAgents []string
	uaIndex    atomic.Int64
	retry      resilience.RetryConfig
	logger     *slog.Logger
}

func NewSampler(cfg *config.ScrapingConfig, logger *slog.Logger) *Sampler {
	jar, _ := cookiejar.New(nil)

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		DisableCompression:  true, // decompression handled below, including brotli
	}

	return &Sampler{
		client: &http.Client{
			Transport: transport,
			Jar:       jar,
			Timeout:   cfg.DefaultTimeout,
		},
		userAgents: defaultUserAgents,
		retry:      resilience.DefaultRetryConfig(),
		logger:     logger.With("component", "sampler"),
	}
}

// Sample fetches one page, retrying transient failures. 429 responses
// honor Retry-After.
func (s *Sampler) Sample(ctx context.Context, rawURL string) (*Snapshot, error) {
	return resilience.Retry(ctx, s.retry, func() (*Snapshot, error) {
		snap, err := s.fetchOnce(ctx, rawURL)
		if err == nil {
			return snap, nil
		}

		var fe *types.FetchError
		if errors.As(err, &fe) {
			if fe.RetryAfter > 0 {
				return nil, resilience.RetryAfter(fe.RetryAfter)
			}
			if !fe.Retryable {
				return nil, resilience.Permanent(err)
			}
		}
		return nil, err
	})
}

func (s *Sampler) fetchOnce(ctx context.Context, rawURL string) (*Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &types.FetchError{URL: rawURL, Err: err}
	}

	req.Header.Set("User-Agent", s.nextUserAgent())
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")
	req.Header.Set("Connection", "keep-alive")

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &types.FetchError{URL: rawURL, Err: err, Retryable: isRetryableError(err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		return nil, &types.FetchError{
			URL:        rawURL,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("rate limited, retry after %s", retryAfter),
			Retryable:  true,
			RetryAfter: retryAfter,
		}
	}
	if resp.StatusCode >= 500 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &types.FetchError{
			URL:        rawURL,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
			Retryable:  true,
		}
	}
	if resp.StatusCode >= 400 {
		return nil, &types.FetchError{
			URL:        rawURL,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("HTTP %d", resp.StatusCode),
		}
	}

	reader, err := decompressReader(resp, io.LimitReader(resp.Body, maxSnapshotBody))
	if err != nil {
		return nil, &types.FetchError{URL: rawURL, Err: err}
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, &types.FetchError{URL: rawURL, Err: err, Retryable: true}
	}

	finalURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	elapsed := time.Since(start)
	s.logger.Debug("snapshot fetched",
		"url", rawURL,
		"status", resp.StatusCode,
		"size", len(body),
		"elapsed", elapsed,
	)

	return &Snapshot{
		URL:        rawURL,
		FinalURL:   finalURL,
		StatusCode: resp.StatusCode,
		HTML:       string(body),
		Elapsed:    elapsed,
	}, nil
}

// Close releases idle connections.
func (s *Sampler) Close() {
	s.client.CloseIdleConnections()
}

func (s *Sampler) nextUserAgent() string {
	idx := s.uaIndex.Add(1) % int64(len(s.userAgents))
	return s.userAgents[idx]
}

// decompressReader wraps a reader with the decompressor matching the
// response's Content-Encoding. Handles gzip, deflate, and brotli.
func decompressReader(resp *http.Response, reader io.Reader) (io.Reader, error) {
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		return gzip.NewReader(reader)
	case "deflate":
		return flate.NewReader(reader), nil
	case "br":
		return brotli.NewReader(reader), nil
	default:
		return reader, nil
	}
}

// isRetryableError checks if a network error warrants a retry. Covers
// timeouts, connection resets, unexpected EOF, and connection refused.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if errors.Is(opErr.Err, syscall.ECONNRESET) ||
			errors.Is(opErr.Err, syscall.ECONNREFUSED) {
			return true
		}
	}
	return false
}

// parseRetryAfter parses the Retry-After header. Supports integer seconds
// and HTTP-date formats, capped at two minutes.
func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 5 * time.Second
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(header)); err == nil {
		if secs > 120 {
			secs = 120
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		d := time.Until(t)
		if d < 0 {
			return time.Second
		}
		if d > 2*time.Minute {
			return 2 * time.Minute
		}
		return d
	}
	return 5 * time.Second
}
