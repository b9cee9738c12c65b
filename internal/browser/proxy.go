package browser

import (
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
)

// ProxyRotator hands out proxy URLs round-robin for browser launches.
// Proxies reported as failing are skipped until marked healthy again.
type ProxyRotator struct {
	mu      sync.RWMutex
	proxies []*proxyEntry
	index   atomic.Int64
	logger  *slog.Logger
}

type proxyEntry struct {
	url     string
	healthy bool
}

// NewProxyRotator parses and keeps the valid proxy URLs. Returns nil when
// none are usable, which callers treat as direct connection.
func NewProxyRotator(rawURLs []string, logger *slog.Logger) *ProxyRotator {
	r := &ProxyRotator{logger: logger.With("component", "proxy_rotator")}
	for _, raw := range rawURLs {
		if _, err := url.Parse(raw); err != nil {
			r.logger.Warn("invalid proxy URL", "url", raw, "error", err)
			continue
		}
		r.proxies = append(r.proxies, &proxyEntry{url: raw, healthy: true})
	}
	if len(r.proxies) == 0 {
		return nil
	}
	r.logger.Info("proxy rotation enabled", "count", len(r.proxies))
	return r
}

// Next returns the next healthy proxy URL, or "" for direct connection.
func (r *ProxyRotator) Next() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	healthy := make([]*proxyEntry, 0, len(r.proxies))
	for _, p := range r.proxies {
		if p.healthy {
			healthy = append(healthy, p)
		}
	}
	if len(healthy) == 0 {
		return ""
	}
	idx := r.index.Add(1) % int64(len(healthy))
	return healthy[idx].url
}

// MarkFailed takes a proxy out of rotation.
func (r *ProxyRotator) MarkFailed(proxyURL string) {
	r.setHealth(proxyURL, false)
}

// MarkHealthy puts a proxy back into rotation.
func (r *ProxyRotator) MarkHealthy(proxyURL string) {
	r.setHealth(proxyURL, true)
}

func (r *ProxyRotator) setHealth(proxyURL string, healthy bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.proxies {
		if p.url == proxyURL {
			p.healthy = healthy
			if !healthy {
				r.logger.Warn("proxy marked unhealthy", "proxy", proxyURL)
			}
			return
		}
	}
}

// HealthyCount returns the number of proxies in rotation.
func (r *ProxyRotator) HealthyCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, p := range r.proxies {
		if p.healthy {
			n++
		}
	}
	return n
}
