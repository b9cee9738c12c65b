package scraper

import (
	"errors"
	"strings"
	"testing"

	"github.com/iwsa-dev/iwsa/internal/llm"
	"github.com/iwsa-dev/iwsa/internal/types"
)

const listingHTML = `<!DOCTYPE html>
<html>
<body>
	<div class="product">
		<h2 class="title">Red Widget</h2>
		<span class="price">$9.99</span>
		<a class="link" href="/products/red-widget">Details</a>
	</div>
	<div class="product">
		<h2 class="title">Blue Widget</h2>
		<span class="price">$14.50</span>
		<a class="link" href="/products/blue-widget">Details</a>
	</div>
	<div class="product">
		<h2 class="title">Green Widget</h2>
		<img class="thumb" src="/img/green.png">
	</div>
</body>
</html>`

func listingStrategy(selectors ...string) *llm.Strategy {
	return &llm.Strategy{Success: true, Selectors: selectors, Confidence: 0.9}
}

func TestExtractRows(t *testing.T) {
	rows, err := Extractor{}.Extract(listingHTML, "https://shop.test/list",
		listingStrategy(".product", ".title", ".price", ".link"),
		[]string{"title", "price", "url"})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(rows))
	}

	first := rows[0]
	if first.GetString("title") != "Red Widget" {
		t.Errorf("title = %q", first.GetString("title"))
	}
	if first.GetString("price") != "$9.99" {
		t.Errorf("price = %q", first.GetString("price"))
	}
	if first.GetString("url") != "https://shop.test/products/red-widget" {
		t.Errorf("relative href must be resolved, got %q", first.GetString("url"))
	}
}

func TestExtractAppendsMetadata(t *testing.T) {
	rows, err := Extractor{}.Extract(listingHTML, "https://shop.test/list",
		listingStrategy(".product", ".title"), []string{"title"})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	for _, row := range rows {
		if row.SourceURL() != "https://shop.test/list" {
			t.Errorf("source url = %q", row.SourceURL())
		}
		if row.GetString(types.KeyExtractedAt) == "" {
			t.Error("extraction timestamp missing")
		}
	}
}

func TestExtractMissingFieldOmitted(t *testing.T) {
	rows, err := Extractor{}.Extract(listingHTML, "https://shop.test/list",
		listingStrategy(".product", ".title", ".price"), []string{"title", "price"})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	last := rows[2]
	if last.GetString("title") != "Green Widget" {
		t.Errorf("title = %q", last.GetString("title"))
	}
	if last.Has("price") {
		t.Error("absent price must not produce a field")
	}
}

func TestExtractResolvesImageSrc(t *testing.T) {
	rows, err := Extractor{}.Extract(listingHTML, "https://shop.test/list",
		listingStrategy(".product", ".thumb"), []string{"image"})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	found := false
	for _, row := range rows {
		if row.GetString("image") == "https://shop.test/img/green.png" {
			found = true
		}
	}
	if !found {
		t.Error("no row carried the resolved image URL")
	}
}

func TestExtractUnnamedFieldsGetPositionalNames(t *testing.T) {
	rows, err := Extractor{}.Extract(listingHTML, "https://shop.test/list",
		listingStrategy(".product", ".title", ".price"), nil)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if rows[0].GetString("field_0") != "Red Widget" || rows[0].GetString("field_1") != "$9.99" {
		t.Errorf("positional fields = %v", rows[0].Fields)
	}
}

func TestExtractContainerMissMatchesNothing(t *testing.T) {
	_, err := Extractor{}.Extract(listingHTML, "https://shop.test/list",
		listingStrategy(".listing-row", ".title"), []string{"title"})
	var ee *types.ExtractionError
	if !errors.As(err, &ee) {
		t.Fatalf("expected ExtractionError, got %v", err)
	}
	if ee.Selector != ".listing-row" {
		t.Errorf("selector = %q", ee.Selector)
	}
}

func TestExtractXPathSelectors(t *testing.T) {
	rows, err := Extractor{}.Extract(listingHTML, "https://shop.test/list",
		listingStrategy(`xpath://div[@class="product"]`, `xpath:.//h2`), []string{"title"})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(rows) != 3 || rows[0].GetString("title") != "Red Widget" {
		t.Errorf("xpath extraction rows = %d, first = %v", len(rows), rows[0].Fields)
	}
}

func TestExtractFallsBackToContainerText(t *testing.T) {
	html := `<ul><li class="item">Plain entry one</li><li class="item">Plain entry two</li></ul>`
	rows, err := Extractor{}.Extract(html, "https://shop.test",
		listingStrategy(".item", ".missing"), []string{"text"})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(rows) != 2 || rows[0].GetString("text") != "Plain entry one" {
		t.Errorf("fallback rows = %v", rows)
	}
}

func TestParseQueryClassification(t *testing.T) {
	tests := []struct {
		in    string
		raw   string
		xpath bool
	}{
		{".product", ".product", false},
		{"css: .product", ".product", false},
		{"xpath://div", "//div", true},
		{"//div[@id='x']", "//div[@id='x']", true},
		{"./span", "./span", true},
	}
	for _, tt := range tests {
		q := ParseQuery(tt.in)
		if q.raw != tt.raw || q.xpath != tt.xpath {
			t.Errorf("ParseQuery(%q) = {%q %v}", tt.in, q.raw, q.xpath)
		}
	}
}

func TestNodeTextCollapsesWhitespace(t *testing.T) {
	html := `<div class="item">  spaced
	 out	text  </div>`
	rows, err := Extractor{}.Extract(html, "https://shop.test",
		listingStrategy(".item"), []string{"text"})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got := rows[0].GetString("text"); got != "spaced out text" {
		t.Errorf("text = %q", got)
	}
	if strings.Contains(rows[0].GetString("text"), "\n") {
		t.Error("text must not contain newlines")
	}
}
