// Package scraper executes generated strategies against live pages:
// selector resolution, row extraction, pagination, and recovery.
package scraper

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

// Query is one compiled selector, CSS by default or XPath with an
// "xpath:" prefix. A "css:" prefix is accepted and stripped.
type Query struct {
	raw   string
	xpath bool
}

// ParseQuery classifies a selector string.
func ParseQuery(selector string) Query {
	s := strings.TrimSpace(selector)
	switch {
	case strings.HasPrefix(s, "xpath:"):
		return Query{raw: strings.TrimSpace(strings.TrimPrefix(s, "xpath:")), xpath: true}
	case strings.HasPrefix(s, "css:"):
		return Query{raw: strings.TrimSpace(strings.TrimPrefix(s, "css:")), xpath: false}
	case strings.HasPrefix(s, "//") || strings.HasPrefix(s, "./"):
		return Query{raw: s, xpath: true}
	default:
		return Query{raw: s, xpath: false}
	}
}

func (q Query) String() string { return q.raw }

// MatchAll returns every node under root matching the query.
func (q Query) MatchAll(root *html.Node) ([]*html.Node, error) {
	if q.raw == "" {
		return nil, fmt.Errorf("empty selector")
	}
	if q.xpath {
		nodes, err := htmlquery.QueryAll(root, q.raw)
		if err != nil {
			return nil, fmt.Errorf("xpath %q: %w", q.raw, err)
		}
		return nodes, nil
	}

	doc := goquery.NewDocumentFromNode(root)
	var nodes []*html.Node
	doc.Find(q.raw).Each(func(_ int, sel *goquery.Selection) {
		if n := sel.Get(0); n != nil {
			nodes = append(nodes, n)
		}
	})
	return nodes, nil
}

// MatchFirst returns the first match or nil.
func (q Query) MatchFirst(root *html.Node) (*html.Node, error) {
	nodes, err := q.MatchAll(root)
	if err != nil || len(nodes) == 0 {
		return nil, err
	}
	return nodes[0], nil
}

// nodeAttr returns an attribute value from a node.
func nodeAttr(n *html.Node, name string) (string, bool) {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, name) {
			return a.Val, true
		}
	}
	return "", false
}

// nodeText returns the trimmed, whitespace-collapsed text of a node tree.
func nodeText(n *html.Node) string {
	return strings.Join(strings.Fields(htmlquery.InnerText(n)), " ")
}
