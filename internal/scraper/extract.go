package scraper

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/iwsa-dev/iwsa/internal/llm"
	"github.com/iwsa-dev/iwsa/internal/types"
)

// Extractor turns a rendered page into rows using a generated strategy.
// The first strategy selector locates row containers; the remaining ones
// pull fields out of each container, named after the requested fields in
// order.
type Extractor struct{}

// Extract parses the page and applies the strategy. It fails when the
// container selector matches nothing, which is the signal the recovery
// path keys on.
func (Extractor) Extract(pageHTML, pageURL string, strategy *llm.Strategy, fields []string) ([]*types.Row, error) {
	if len(strategy.Selectors) == 0 {
		return nil, &types.ExtractionError{URL: pageURL, Selector: "", Err: fmt.Errorf("strategy has no selectors")}
	}

	root, err := html.Parse(strings.NewReader(pageHTML))
	if err != nil {
		return nil, &types.ExtractionError{URL: pageURL, Err: fmt.Errorf("parse HTML: %w", err)}
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		base = nil
	}

	containerQuery := ParseQuery(strategy.Selectors[0])
	containers, err := containerQuery.MatchAll(root)
	if err != nil {
		return nil, &types.ExtractionError{URL: pageURL, Selector: strategy.Selectors[0], Err: err}
	}
	if len(containers) == 0 {
		return nil, &types.ExtractionError{
			URL:      pageURL,
			Selector: strategy.Selectors[0],
			Err:      fmt.Errorf("container selector matched nothing"),
		}
	}

	fieldQueries := make([]Query, 0, len(strategy.Selectors)-1)
	for _, s := range strategy.Selectors[1:] {
		fieldQueries = append(fieldQueries, ParseQuery(s))
	}

	now := time.Now().UTC().Format(time.RFC3339)
	rows := make([]*types.Row, 0, len(containers))
	for _, container := range containers {
		row := types.NewRow()
		for i, q := range fieldQueries {
			node, err := q.MatchFirst(container)
			if err != nil || node == nil {
				continue
			}
			if v := nodeValue(node, base); v != "" {
				row.Set(fieldName(fields, i), v)
			}
		}
		if len(row.DataKeys()) == 0 {
			// Container with no extractable fields: fall back to its text.
			if text := nodeText(container); text != "" {
				row.Set(fieldName(fields, 0), text)
			}
		}
		if len(row.DataKeys()) == 0 {
			continue
		}
		row.Set(types.KeySourceURL, pageURL)
		row.Set(types.KeyExtractedAt, now)
		rows = append(rows, row)
	}

	return rows, nil
}

// fieldName maps a field-selector position to its name: the requested
// field at that position, or a positional placeholder.
func fieldName(fields []string, i int) string {
	if i < len(fields) && strings.TrimSpace(fields[i]) != "" {
		return strings.TrimSpace(fields[i])
	}
	return fmt.Sprintf("field_%d", i)
}

// nodeValue extracts the most useful value from a node: a resolved href
// first, then src, then text content.
func nodeValue(n *html.Node, base *url.URL) string {
	if href, ok := nodeAttr(n, "href"); ok && href != "" {
		return resolveURL(base, href)
	}
	if src, ok := nodeAttr(n, "src"); ok && src != "" {
		return resolveURL(base, src)
	}
	return nodeText(n)
}

func resolveURL(base *url.URL, ref string) string {
	if base == nil {
		return ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(u).String()
}
