package engine

import (
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/iwsa-dev/iwsa/internal/pipeline"
	"github.com/iwsa-dev/iwsa/internal/types"
)

// Deduplicator drops rows whose content hash has already been seen.
// State survives across runs so repeated scrapes of the same site do not
// feed duplicates into the pipeline.
type Deduplicator struct {
	mu   sync.RWMutex
	seen map[string]struct{}
}

func NewDeduplicator(estimatedCapacity int) *Deduplicator {
	return &Deduplicator{seen: make(map[string]struct{}, estimatedCapacity)}
}

// Filter returns the rows not seen before and the number dropped. Rows
// without a content hash get one computed on the spot.
func (d *Deduplicator) Filter(rows []*types.Row) ([]*types.Row, int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	kept := make([]*types.Row, 0, len(rows))
	dropped := 0
	for _, row := range rows {
		hash := row.GetString(types.KeyContentHash)
		if hash == "" {
			hash = pipeline.ContentHash(row)
		}
		if _, ok := d.seen[hash]; ok {
			dropped++
			continue
		}
		d.seen[hash] = struct{}{}
		kept = append(kept, row)
	}
	return kept, dropped
}

// Count returns the number of distinct hashes seen.
func (d *Deduplicator) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.seen)
}

// Reset clears dedup state.
func (d *Deduplicator) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen = make(map[string]struct{})
}

// CanonicalizeURL normalizes a target URL: lowercased scheme and host,
// fragment removed, default ports stripped, query parameters sorted,
// trailing slash trimmed except at the root.
func CanonicalizeURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	host, port := u.Hostname(), u.Port()
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		u.Host = host
	}

	if u.RawQuery != "" {
		params := u.Query()
		keys := make([]string, 0, len(params))
		for k := range params {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var sorted []string
		for _, k := range keys {
			vals := params[k]
			sort.Strings(vals)
			for _, v := range vals {
				sorted = append(sorted, url.QueryEscape(k)+"="+url.QueryEscape(v))
			}
		}
		u.RawQuery = strings.Join(sorted, "&")
	}

	if u.Path != "/" && strings.HasSuffix(u.Path, "/") {
		u.Path = strings.TrimRight(u.Path, "/")
	}
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String()
}
