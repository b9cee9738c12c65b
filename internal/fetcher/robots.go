package fetcher

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Robots fetches, caches, and enforces robots.txt rules per domain.
type Robots struct {
	enabled bool
	cache   map[string]*robotsData
	mu      sync.RWMutex
	client  *http.Client
}

type robotsData struct {
	disallowed []string
	allowed    []string
	crawlDelay time.Duration
	sitemaps   []string
	fetchedAt  time.Time
}

func NewRobots(enabled bool) *Robots {
	return &Robots{
		enabled: enabled,
		cache:   make(map[string]*robotsData),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// IsAllowed checks a URL against the domain's robots.txt. Unreachable or
// unparsable robots.txt allows everything.
func (r *Robots) IsAllowed(rawURL string) bool {
	if !r.enabled {
		return true
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return true
	}

	origin := u.Scheme + "://" + u.Host
	data := r.robotsFor(origin)
	if data == nil {
		return true
	}

	path := u.Path
	if path == "" {
		path = "/"
	}

	// Allow rules override disallow rules.
	for _, pattern := range data.allowed {
		if matchRobotsPattern(pattern, path) {
			return true
		}
	}
	for _, pattern := range data.disallowed {
		if matchRobotsPattern(pattern, path) {
			return false
		}
	}
	return true
}

// CrawlDelay returns the crawl-delay for an origin, zero when unset.
func (r *Robots) CrawlDelay(origin string) time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if data := r.cache[origin]; data != nil {
		return data.crawlDelay
	}
	return 0
}

// Sitemaps returns sitemap URLs listed by the origin's robots.txt.
func (r *Robots) Sitemaps(origin string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if data := r.cache[origin]; data != nil {
		return data.sitemaps
	}
	return nil
}

func (r *Robots) robotsFor(origin string) *robotsData {
	r.mu.RLock()
	data, ok := r.cache[origin]
	r.mu.RUnlock()
	if ok {
		return data
	}

	data = r.fetchRobotsTxt(origin)

	r.mu.Lock()
	r.cache[origin] = data
	r.mu.Unlock()
	return data
}

func (r *Robots) fetchRobotsTxt(origin string) *robotsData {
	resp, err := r.client.Get(origin + "/robots.txt")
	if err != nil {
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 512*1024))
	if err != nil {
		return nil
	}
	return parseRobotsTxt(string(body))
}

func parseRobotsTxt(content string) *robotsData {
	data := &robotsData{fetchedAt: time.Now()}

	inOurSection := false
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if idx := strings.Index(line, "#"); idx >= 0 {
			line = strings.TrimSpace(line[:idx])
		}
		if line == "" {
			continue
		}

		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(strings.ToLower(parts[0]))
		value := strings.TrimSpace(parts[1])

		switch key {
		case "user-agent":
			agent := strings.ToLower(value)
			inOurSection = agent == "*" || strings.Contains(agent, "iwsa")
		case "disallow":
			if inOurSection && value != "" {
				data.disallowed = append(data.disallowed, value)
			}
		case "allow":
			if inOurSection && value != "" {
				data.allowed = append(data.allowed, value)
			}
		case "crawl-delay":
			if inOurSection {
				var delay float64
				if _, err := fmt.Sscanf(value, "%f", &delay); err == nil {
					data.crawlDelay = time.Duration(delay * float64(time.Second))
				}
			}
		case "sitemap":
			data.sitemaps = append(data.sitemaps, value)
		}
	}
	return data
}

// matchRobotsPattern checks a URL path against a robots.txt pattern,
// supporting * (any sequence) and $ (end anchor).
func matchRobotsPattern(pattern, path string) bool {
	if pattern == "" {
		return false
	}

	endsWithDollar := strings.HasSuffix(pattern, "$")
	if endsWithDollar {
		pattern = pattern[:len(pattern)-1]
	}

	if strings.Contains(pattern, "*") {
		return matchWildcard(pattern, path, endsWithDollar)
	}

	if endsWithDollar {
		return path == pattern
	}
	return strings.HasPrefix(path, pattern)
}

func matchWildcard(pattern, path string, mustEnd bool) bool {
	parts := strings.Split(pattern, "*")
	pos := 0

	for i, part := range parts {
		if part == "" {
			continue
		}
		idx := strings.Index(path[pos:], part)
		if idx < 0 {
			return false
		}
		if i == 0 && idx != 0 {
			return false
		}
		pos += idx + len(part)
	}

	if mustEnd {
		return pos == len(path)
	}
	return true
}
